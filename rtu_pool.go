package modbusdevices

import (
	"sync"
	"time"

	"github.com/goburrow/modbus"
)

// ModbusRTUPool hands out the single client of a serial line.
type ModbusRTUPool struct {
	mu     sync.Mutex
	client Client
	closed bool
}

func NewModbusRTUPool(client Client) (ConnPool, error) {
	if client == nil {
		return nil, ErrFactoryNil
	}
	return &ModbusRTUPool{
		client: client,
	}, nil
}

func (p *ModbusRTUPool) Get() (Client, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, ErrPoolClosed
	}
	return p.client, nil
}

// Put closes a broken port, the handler reopens it on the next request.
func (p *ModbusRTUPool) Put(conn Client) error {
	if conn.IsAlive() {
		return nil
	}
	err := conn.Close()
	if c, ok := conn.(*ModbusRTUClient); ok {
		c.broken = false
		c.createTime = time.Now()
	}
	return err
}

func (p *ModbusRTUPool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrPoolClosed
	}
	p.closed = true
	return p.client.Close()
}

type ModbusRTUClient struct {
	modbus.Client
	Handler    *modbus.RTUClientHandler
	createTime time.Time
	broken     bool
}

func (c *ModbusRTUClient) Connect() error {
	return c.Handler.Connect()
}

func (c *ModbusRTUClient) Close() error {
	return c.Handler.Close()
}

func (c *ModbusRTUClient) IsAlive() bool {
	return !c.broken
}

func (c *ModbusRTUClient) CreateTime() time.Time {
	return c.createTime
}

func (c *ModbusRTUClient) SetSlaveID(id byte) {
	c.Handler.SlaveId = id
}

func (c *ModbusRTUClient) MarkBroken() {
	c.broken = true
}
