package modbusdevices

import (
	"context"
	"time"

	"github.com/pkg/errors"
)

// Transport is the wire side of the engine. Every call is one Modbus
// transaction and fails with an *Error of kind Timeout, ProtocolError or
// ConnectionLost.
type Transport interface {
	ReadCoils(ctx context.Context, slaveID byte, address, quantity uint16) ([]byte, error)
	ReadDiscreteInputs(ctx context.Context, slaveID byte, address, quantity uint16) ([]byte, error)
	ReadInputRegisters(ctx context.Context, slaveID byte, address, quantity uint16) ([]byte, error)
	ReadHoldingRegisters(ctx context.Context, slaveID byte, address, quantity uint16) ([]byte, error)
	WriteSingleRegister(ctx context.Context, slaveID byte, address, value uint16) error
	WriteSingleCoil(ctx context.Context, slaveID byte, address uint16, on bool) error
	// Generation increases every time the connection is lost.
	Generation() uint64
}

var _ Transport = (*ModbusTransport)(nil)

var errNotConnected = errors.New("transport not connected, call Conn first")

func (t *ModbusTransport) ReadCoils(ctx context.Context, slaveID byte, address, quantity uint16) ([]byte, error) {
	return t.do(ctx, slaveID, "read_coils", func(c Client) ([]byte, error) {
		return c.ReadCoils(address, quantity)
	})
}

func (t *ModbusTransport) ReadDiscreteInputs(ctx context.Context, slaveID byte, address, quantity uint16) ([]byte, error) {
	return t.do(ctx, slaveID, "read_discrete_inputs", func(c Client) ([]byte, error) {
		return c.ReadDiscreteInputs(address, quantity)
	})
}

func (t *ModbusTransport) ReadInputRegisters(ctx context.Context, slaveID byte, address, quantity uint16) ([]byte, error) {
	return t.do(ctx, slaveID, "read_input_registers", func(c Client) ([]byte, error) {
		return c.ReadInputRegisters(address, quantity)
	})
}

func (t *ModbusTransport) ReadHoldingRegisters(ctx context.Context, slaveID byte, address, quantity uint16) ([]byte, error) {
	return t.do(ctx, slaveID, "read_holding_registers", func(c Client) ([]byte, error) {
		return c.ReadHoldingRegisters(address, quantity)
	})
}

func (t *ModbusTransport) WriteSingleRegister(ctx context.Context, slaveID byte, address, value uint16) error {
	_, err := t.do(ctx, slaveID, "write_single_register", func(c Client) ([]byte, error) {
		return c.WriteSingleRegister(address, value)
	})
	return err
}

func (t *ModbusTransport) WriteSingleCoil(ctx context.Context, slaveID byte, address uint16, on bool) error {
	var value uint16
	if on {
		value = 0xFF00
	}
	_, err := t.do(ctx, slaveID, "write_single_coil", func(c Client) ([]byte, error) {
		return c.WriteSingleCoil(address, value)
	})
	return err
}

func (t *ModbusTransport) Generation() uint64 {
	l := t.ln.Load()
	if l == nil {
		return 0
	}
	return l.generation.Load()
}

// do runs one transaction with the line held.
func (t *ModbusTransport) do(ctx context.Context, slaveID byte, fn string, op func(Client) ([]byte, error)) ([]byte, error) {
	// a concurrent Close only detaches the transport, l stays usable until
	// its pool reports closed
	l := t.ln.Load()
	if l == nil {
		return nil, newError(KindConnectionLost, fn, errNotConnected)
	}

	select {
	case l.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, errors.Wrap(ctx.Err(), fn)
	}
	defer func() { <-l.sem }()
	if err := ctx.Err(); err != nil {
		return nil, errors.Wrap(err, fn)
	}

	conn, err := l.pool.Get()
	if err != nil {
		if errors.Is(err, ErrPoolClosed) {
			return nil, newError(KindConnectionLost, fn, err)
		}
		kerr := classify(fn, err)
		t.fail(l, fn, 0, kerr)
		return nil, kerr
	}
	conn.SetSlaveID(slaveID)

	start := time.Now()
	results, err := op(conn)
	elapsed := time.Since(start)
	if err != nil {
		kerr := classify(fn, err)
		if kerr.Kind == KindConnectionLost || kerr.Kind == KindTimeout {
			// a late answer would desync the next request, start over
			conn.MarkBroken()
		}
		t.put(l, conn)
		t.fail(l, fn, elapsed, kerr)
		return nil, kerr
	}
	t.put(l, conn)
	l.record(elapsed, false)
	t.opts.metrics.observeTransaction(fn, "ok", elapsed)
	return results, nil
}

func (t *ModbusTransport) put(l *line, conn Client) {
	if err := l.pool.Put(conn); err != nil {
		t.logger.Debug().Err(err).Msg("release connection")
	}
}

func (t *ModbusTransport) fail(l *line, fn string, elapsed time.Duration, err *Error) {
	l.record(elapsed, true)
	t.opts.metrics.observeTransaction(fn, err.Kind.String(), elapsed)
	if err.Kind == KindConnectionLost {
		gen := l.generation.Add(1)
		t.logger.Warn().Err(err).Uint64("generation", gen).Str("func", fn).Msg("connection lost")
		return
	}
	t.logger.Debug().Err(err).Str("func", fn).Msg("transaction failed")
}
