package modbusdevices

import (
	"time"

	"github.com/goburrow/modbus"
)

type Client interface {
	modbus.Client
	Connect() error
	Close() error
	IsAlive() bool
	CreateTime() time.Time
	// SetSlaveID selects the unit addressed by the next request.
	SetSlaveID(id byte)
	// MarkBroken makes the pool drop the client on Put.
	MarkBroken()
}

type ConnPool interface {
	Get() (Client, error)
	Put(conn Client) error
	Close() error
}
