package modbusdevices

import (
	"sync"
	"time"

	"github.com/goburrow/modbus"
)

// ModbusTCPPool keeps up to MaxOpenConns idle connections to one endpoint.
// Connections are dialed on demand.
type ModbusTCPPool struct {
	mutex  sync.Mutex
	idle   []Client
	dial   func() (Client, error)
	closed bool
	config ModbusTCPPoolConfig
}

type ModbusTCPPoolConfig struct {
	MaxOpenConns    int
	ConnMaxLifetime time.Duration
}

type ModbusTCPClient struct {
	modbus.Client
	Handler    *modbus.TCPClientHandler
	createTime time.Time
	broken     bool
}

func (c *ModbusTCPClient) Connect() error        { return c.Handler.Connect() }
func (c *ModbusTCPClient) Close() error          { return c.Handler.Close() }
func (c *ModbusTCPClient) IsAlive() bool         { return !c.broken }
func (c *ModbusTCPClient) CreateTime() time.Time { return c.createTime }
func (c *ModbusTCPClient) SetSlaveID(id byte)    { c.Handler.SlaveId = id }
func (c *ModbusTCPClient) MarkBroken()           { c.broken = true }

func NewModbusTCPPool(config ModbusTCPPoolConfig, factory func() (Client, error)) (ConnPool, error) {
	if factory == nil {
		return nil, ErrFactoryNil
	}
	if config.MaxOpenConns <= 0 {
		config.MaxOpenConns = 1
	}
	return &ModbusTCPPool{
		dial:   factory,
		idle:   make([]Client, 0, config.MaxOpenConns),
		config: config,
	}, nil
}

// Get hands out the most recently returned connection, or dials a new one.
func (p *ModbusTCPPool) Get() (Client, error) {
	p.mutex.Lock()
	if p.closed {
		p.mutex.Unlock()
		return nil, ErrPoolClosed
	}
	if n := len(p.idle); n > 0 {
		conn := p.idle[n-1]
		p.idle = p.idle[:n-1]
		p.mutex.Unlock()
		return conn, nil
	}
	p.mutex.Unlock()
	return p.dial()
}

// Put returns conn to the pool. Broken, expired and surplus connections are
// closed instead.
func (p *ModbusTCPPool) Put(conn Client) error {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	switch {
	case p.closed, !conn.IsAlive(), len(p.idle) >= p.config.MaxOpenConns:
		return conn.Close()
	case p.expired(conn):
		return conn.Close()
	}
	p.idle = append(p.idle, conn)
	return nil
}

func (p *ModbusTCPPool) expired(conn Client) bool {
	return p.config.ConnMaxLifetime > 0 && time.Since(conn.CreateTime()) > p.config.ConnMaxLifetime
}

func (p *ModbusTCPPool) Close() error {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if p.closed {
		return ErrPoolClosed
	}
	p.closed = true
	for _, conn := range p.idle {
		conn.Close()
	}
	p.idle = nil
	return nil
}
