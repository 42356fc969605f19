package modbusdevices

import (
	"context"
	"fmt"
	"math"
	"strconv"

	"github.com/pkg/errors"
)

// stepTolerance absorbs float noise when checking step alignment.
const stepTolerance = 1e-6

// Write validates value against the datapoint presentation and writes it to
// its single holding register (or coil).
/*
	Number datapoints reject values outside [Min, Max] or off the Step grid
	with ErrOutOfRange. Select datapoints reject keys that are not options
	with ErrInvalidOption. Rejected writes never reach the wire.
*/
func (d *Device) Write(ctx context.Context, g *Group, name string, value float64) error {
	p, err := d.lookup(g, name)
	if err != nil {
		return err
	}
	if err := d.validateWrite(p, value); err != nil {
		d.opts.metrics.observeRejection(d.name, KindOf(err))
		d.logger.Info().Err(err).Str("group", g.Name).Str("point", name).Float64("value", value).Msg("write rejected")
		return err
	}
	return d.write(ctx, p, value)
}

// WriteOption writes a Select datapoint by option label. A label that is a
// number is taken as the option key.
func (d *Device) WriteOption(ctx context.Context, g *Group, name, label string) error {
	p, err := d.lookup(g, name)
	if err != nil {
		return err
	}
	sel, ok := p.Entity.(Select)
	if !ok {
		return newError(KindNotWritable, d.name, fmt.Errorf("%s is not a select", name))
	}
	key, ok := sel.Key(label)
	if !ok {
		n, convErr := strconv.Atoi(label)
		if convErr != nil {
			d.opts.metrics.observeRejection(d.name, KindInvalidOption)
			return newError(KindInvalidOption, d.name, fmt.Errorf("%s has no option %q", name, label))
		}
		key = n
	}
	return d.Write(ctx, g, name, float64(key))
}

func (p *Datapoint) writable() bool {
	if !p.wire() || p.length() != 1 {
		return false
	}
	switch p.group.RegisterType {
	case RegisterTypeHoldingRegister:
		dt := p.dataType()
		return dt == DataTypeU16 || dt == DataTypeS16
	case RegisterTypeCoil:
		return true
	}
	return false
}

func (d *Device) validateWrite(p *Datapoint, value float64) error {
	if !p.writable() {
		return newError(KindNotWritable, d.name, fmt.Errorf("%s is a %s %s datapoint", p.Name, p.group.RegisterType, p.dataType()))
	}
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return newError(KindOutOfRange, d.name, fmt.Errorf("%s: %v", p.Name, value))
	}
	switch e := p.Entity.(type) {
	case Number:
		if err := e.validate(value); err != nil {
			return newError(KindOutOfRange, d.name, errors.Wrap(err, p.Name))
		}
	case Select:
		key := math.Trunc(value)
		if _, ok := e.Options[int(key)]; !ok || key != value {
			return newError(KindInvalidOption, d.name, fmt.Errorf("%s: %v not in options %v", p.Name, value, e.Keys()))
		}
	}
	if p.group.RegisterType == RegisterTypeHoldingRegister {
		if _, err := encode(p, value); err != nil {
			return err
		}
	}
	return nil
}

func (n Number) validate(v float64) error {
	if v < n.Min || v > n.Max {
		return fmt.Errorf("%v outside [%v, %v]", v, n.Min, n.Max)
	}
	if n.Step > 0 {
		q := (v - n.Min) / n.Step
		if math.Abs(q-math.Round(q)) > stepTolerance {
			return fmt.Errorf("%v is not a multiple of step %v from %v", v, n.Step, n.Min)
		}
	}
	return nil
}

func (d *Device) write(ctx context.Context, p *Datapoint, value float64) error {
	var err error
	var stored Value
	switch p.group.RegisterType {
	case RegisterTypeCoil:
		on := value != 0
		err = d.transport.WriteSingleCoil(ctx, d.opts.slaveID, p.Address, on)
		stored = BoolValue(on)
	default:
		raw, encErr := encode(p, value)
		if encErr != nil {
			return encErr
		}
		err = d.transport.WriteSingleRegister(ctx, d.opts.slaveID, p.Address, raw)
		stored = NumberValue(cal(rawToFloat(raw, p.dataType()), p.scaling()))
	}
	if err != nil {
		return errors.Wrapf(err, "write %s", p.Name)
	}

	d.mu.Lock()
	p.SetValue(stored)
	d.mu.Unlock()
	d.logger.Debug().Str("group", p.group.Name).Str("point", p.Name).Str("value", stored.String()).Msg("written")
	return nil
}

func rawToFloat(raw uint16, dt DataType) float64 {
	if dt == DataTypeS16 {
		return float64(int16(raw))
	}
	return float64(raw)
}
