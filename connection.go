package modbusdevices

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	average "github.com/RobinUS2/golang-moving-average"
	"github.com/goburrow/modbus"
	"github.com/rs/zerolog"
)

// line is one physical connection, shared by every transport opened on the
// same endpoint or serial port.
type line struct {
	key        string
	connType   ConnType
	rtu        modbusRTU
	refs       int
	pool       ConnPool
	sem        chan struct{}
	generation atomic.Uint64

	statsMu      sync.Mutex
	latency      *average.MovingAverage
	transactions uint64
	failures     uint64
}

var (
	linesMu sync.Mutex
	lines   = map[string]*line{}
)

// ModbusTransport is a Transport over goburrow/modbus. Transports opened on
// the same TCP endpoint or serial port share one connection, and every
// transaction on it is serialized.
type ModbusTransport struct {
	connType ConnType
	opts     options
	key      string
	ln       atomic.Pointer[line]
	logger   zerolog.Logger
}

// NewModbusTCP new TCP transport configuration
func NewModbusTCP(host string, port int, opts ...Option) *ModbusTransport {
	t := newTransport(ConnTypeTCP, opts)
	t.opts.Host = host
	t.opts.Port = port
	t.key = fmt.Sprintf("tcp://%s:%d", host, port)
	t.logger = t.opts.logger.With().Str("transport", t.key).Logger()
	return t
}

// NewModbusRTU new RTU transport configuration
func NewModbusRTU(comAddr string, opts ...Option) *ModbusTransport {
	t := newTransport(ConnTypeRTU, opts)
	t.opts.ComAddr = comAddr
	t.key = "rtu://" + comAddr
	t.logger = t.opts.logger.With().Str("transport", t.key).Logger()
	return t
}

func newTransport(connType ConnType, opts []Option) *ModbusTransport {
	t := &ModbusTransport{connType: connType, opts: defaultOptions()}
	for _, opt := range opts {
		opt(&t.opts)
	}
	return t
}

// Conn attaches the transport to its shared line. Nothing is dialed until
// the first transaction.
func (t *ModbusTransport) Conn() error {
	linesMu.Lock()
	defer linesMu.Unlock()

	if t.ln.Load() != nil {
		return nil
	}
	if l, ok := lines[t.key]; ok {
		if t.connType == ConnTypeRTU && l.rtu != t.opts.modbusRTU {
			return configError("%s: the baud rate, data bits, parity or stop bits of the same com port must be the same", t.key)
		}
		l.refs++
		t.ln.Store(l)
		return nil
	}

	var pool ConnPool
	var err error
	if t.connType == ConnTypeTCP {
		pool, err = t.tcpPool()
	} else {
		pool, err = t.rtuPool()
	}
	if err != nil {
		return err
	}
	l := &line{
		key:      t.key,
		connType: t.connType,
		rtu:      t.opts.modbusRTU,
		refs:     1,
		pool:     pool,
		sem:      make(chan struct{}, 1),
		latency:  average.New(100),
	}
	lines[t.key] = l
	t.ln.Store(l)
	return nil
}

func (t *ModbusTransport) tcpPool() (ConnPool, error) {
	addr := fmt.Sprintf("%s:%d", t.opts.Host, t.opts.Port)
	factory := func() (Client, error) {
		handler := modbus.NewTCPClientHandler(addr)
		handler.Timeout = t.opts.timeout
		handler.IdleTimeout = 60 * time.Second
		if e := handler.Connect(); e != nil {
			return nil, e
		}
		t.logger.Debug().Msg("connected")
		return &ModbusTCPClient{Client: modbus.NewClient(handler), Handler: handler, createTime: time.Now()}, nil
	}
	pool, err := NewModbusTCPPool(ModbusTCPPoolConfig{
		MaxOpenConns:    t.opts.MaxOpenConns,
		ConnMaxLifetime: t.opts.ConnMaxLifetime,
	}, factory)
	if err != nil {
		return nil, fmt.Errorf("failed to create TCP pool: %w", err)
	}
	return pool, nil
}

func (t *ModbusTransport) rtuPool() (ConnPool, error) {
	handler := modbus.NewRTUClientHandler(t.opts.ComAddr)
	handler.BaudRate = t.opts.BaudRate
	handler.DataBits = t.opts.DataBits
	handler.Parity = t.opts.Parity
	handler.StopBits = t.opts.StopBits
	handler.Timeout = t.opts.timeout
	// the port is opened by the handler on the first request
	pool, err := NewModbusRTUPool(&ModbusRTUClient{Client: modbus.NewClient(handler), Handler: handler, createTime: time.Now()})
	if err != nil {
		return nil, fmt.Errorf("failed to create RTU pool: %w", err)
	}
	return pool, nil
}

// Close detaches the transport, the line is closed when nobody else uses it.
func (t *ModbusTransport) Close() error {
	linesMu.Lock()
	defer linesMu.Unlock()

	l := t.ln.Swap(nil)
	if l == nil {
		return nil
	}
	l.refs--
	if l.refs > 0 {
		// other devices still need this line
		return nil
	}
	delete(lines, l.key)
	return l.pool.Close()
}

// TransportStats is a point in time view of a line.
type TransportStats struct {
	Transactions uint64
	Failures     uint64
	AvgLatency   time.Duration
	Generation   uint64
}

func (t *ModbusTransport) Stats() TransportStats {
	l := t.ln.Load()
	if l == nil {
		return TransportStats{}
	}
	l.statsMu.Lock()
	defer l.statsMu.Unlock()
	return TransportStats{
		Transactions: l.transactions,
		Failures:     l.failures,
		AvgLatency:   time.Duration(l.latency.Avg() * float64(time.Second)),
		Generation:   l.generation.Load(),
	}
}

func (l *line) record(elapsed time.Duration, failed bool) {
	l.statsMu.Lock()
	defer l.statsMu.Unlock()
	l.transactions++
	if failed {
		l.failures++
		return
	}
	l.latency.Add(elapsed.Seconds())
}
