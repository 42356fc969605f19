package modbusdevices

import (
	"time"

	"github.com/rs/zerolog"
)

// modbusTCP Connection config of TCP
type modbusTCP struct {
	Host            string
	Port            int
	MaxOpenConns    int
	ConnMaxLifetime time.Duration
}

// modbusRTU Connection config of RTU
type modbusRTU struct {
	ComAddr  string
	BaudRate int
	DataBits int
	Parity   string // (N, E, O)
	StopBits int
}

// options is shared by transports and devices, each picks what it needs.
type options struct {
	modbusTCP
	modbusRTU
	slaveID       uint8
	timeout       time.Duration
	maxBlockSize  uint16
	maxGapInBlock uint16
	logger        zerolog.Logger
	metrics       *Metrics
}

func defaultOptions() options {
	return options{
		modbusTCP: modbusTCP{
			MaxOpenConns:    1,
			ConnMaxLifetime: 30 * time.Minute,
		},
		modbusRTU: modbusRTU{
			BaudRate: 9600,
			DataBits: 8,
			StopBits: 1,
			Parity:   "N",
		},
		slaveID:       1,
		timeout:       1 * time.Second,
		maxGapInBlock: 10,
		logger:        zerolog.Nop(),
	}
}

type Option func(*options)

// WithMaxOpenConns Set the max idle connections kept by the modbus TCP pool
func WithMaxOpenConns(maxOpenConns int) Option {
	return func(o *options) {
		o.MaxOpenConns = maxOpenConns
	}
}

// WithConnMaxLifetime Set the max connection lifetime of the modbus TCP
func WithConnMaxLifetime(connMaxLifetime time.Duration) Option {
	return func(o *options) {
		o.ConnMaxLifetime = connMaxLifetime
	}
}

// WithBaudRate Set the baud rate of the modbus RTU
func WithBaudRate(baudRate int) Option {
	return func(o *options) {
		o.BaudRate = baudRate
	}
}

// WithDataBits Set the data bits of the modbus RTU
func WithDataBits(dataBits int) Option {
	return func(o *options) {
		o.DataBits = dataBits
	}
}

// WithParity Set the parity of the modbus RTU
func WithParity(parity string) Option {
	return func(o *options) {
		o.Parity = parity
	}
}

// WithStopBits Set the stop bits of the modbus RTU
func WithStopBits(stopBits int) Option {
	return func(o *options) {
		o.StopBits = stopBits
	}
}

// WithTimeout Set the per transaction timeout
func WithTimeout(timeout time.Duration) Option {
	return func(o *options) {
		o.timeout = timeout
	}
}

// WithSlaveID Set the slave id a device answers on
func WithSlaveID(slaveID uint8) Option {
	return func(o *options) {
		o.slaveID = slaveID
	}
}

// WithMaxBlockSize Set the max span of one read request.
/*
	Zero, or a value above the protocol limit, means the protocol limit:
	125 registers or 2000 bits.
*/
func WithMaxBlockSize(maxBlockSize uint16) Option {
	return func(o *options) {
		o.maxBlockSize = maxBlockSize
	}
}

// WithMaxGapInBlock Set the max gap merged into one read request.
/*
	Registers in the gap are read and thrown away. Set it to 0 for devices
	that answer reads of unmapped addresses with an exception.
*/
func WithMaxGapInBlock(maxGapInBlock uint16) Option {
	return func(o *options) {
		o.maxGapInBlock = maxGapInBlock
	}
}

// WithLogger Set the logger
func WithLogger(logger zerolog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithMetrics Set the prometheus collectors
func WithMetrics(metrics *Metrics) Option {
	return func(o *options) {
		o.metrics = metrics
	}
}
