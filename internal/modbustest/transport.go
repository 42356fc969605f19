// Package modbustest provides an in-memory Transport for tests.
package modbustest

import (
	"context"
	"encoding/binary"
	"sync"

	modbusdevices "github.com/TwoMental/modbus-devices"
)

// Call is one recorded transaction.
type Call struct {
	Func     string
	Slave    byte
	Address  uint16
	Quantity uint16
	Value    uint16
}

// Transport serves reads from in-memory tables. Fail, when set, is consulted
// before every transaction and may return an error to inject.
type Transport struct {
	mu         sync.Mutex
	Coils      map[uint16]bool
	Discrete   map[uint16]bool
	Input      map[uint16]uint16
	Holding    map[uint16]uint16
	Fail       func(c Call) error
	Calls      []Call
	generation uint64
}

func New() *Transport {
	return &Transport{
		Coils:    make(map[uint16]bool),
		Discrete: make(map[uint16]bool),
		Input:    make(map[uint16]uint16),
		Holding:  make(map[uint16]uint16),
	}
}

// Drop simulates a lost connection seen by another user of the line.
func (t *Transport) Drop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.generation++
}

// SetString stores s in the input registers from address, two bytes per register.
func (t *Transport) SetString(address uint16, s string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	b := []byte(s)
	if len(b)%2 != 0 {
		b = append(b, 0)
	}
	for i := 0; i < len(b); i += 2 {
		t.Input[address+uint16(i/2)] = binary.BigEndian.Uint16(b[i:])
	}
}

// SetInput sets an input register.
func (t *Transport) SetInput(address, value uint16) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Input[address] = value
}

// SetDiscrete sets a discrete input.
func (t *Transport) SetDiscrete(address uint16, on bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Discrete[address] = on
}

// SetHolding sets a holding register.
func (t *Transport) SetHolding(address, value uint16) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Holding[address] = value
}

// CallCount counts the recorded transactions of fn, all of them when fn is empty.
func (t *Transport) CallCount(fn string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, c := range t.Calls {
		if fn == "" || c.Func == fn {
			n++
		}
	}
	return n
}

func (t *Transport) record(c Call) error {
	t.mu.Lock()
	t.Calls = append(t.Calls, c)
	fail := t.Fail
	t.mu.Unlock()
	if fail != nil {
		if err := fail(c); err != nil {
			if e, ok := err.(*modbusdevices.Error); ok && e.Kind == modbusdevices.KindConnectionLost {
				t.Drop()
			}
			return err
		}
	}
	return nil
}

func (t *Transport) ReadCoils(ctx context.Context, slave byte, address, quantity uint16) ([]byte, error) {
	if err := t.record(Call{Func: "read_coils", Slave: slave, Address: address, Quantity: quantity}); err != nil {
		return nil, err
	}
	return t.bits(t.Coils, address, quantity), nil
}

func (t *Transport) ReadDiscreteInputs(ctx context.Context, slave byte, address, quantity uint16) ([]byte, error) {
	if err := t.record(Call{Func: "read_discrete_inputs", Slave: slave, Address: address, Quantity: quantity}); err != nil {
		return nil, err
	}
	return t.bits(t.Discrete, address, quantity), nil
}

func (t *Transport) ReadInputRegisters(ctx context.Context, slave byte, address, quantity uint16) ([]byte, error) {
	if err := t.record(Call{Func: "read_input_registers", Slave: slave, Address: address, Quantity: quantity}); err != nil {
		return nil, err
	}
	return t.registers(t.Input, address, quantity), nil
}

func (t *Transport) ReadHoldingRegisters(ctx context.Context, slave byte, address, quantity uint16) ([]byte, error) {
	if err := t.record(Call{Func: "read_holding_registers", Slave: slave, Address: address, Quantity: quantity}); err != nil {
		return nil, err
	}
	return t.registers(t.Holding, address, quantity), nil
}

func (t *Transport) WriteSingleRegister(ctx context.Context, slave byte, address, value uint16) error {
	if err := t.record(Call{Func: "write_single_register", Slave: slave, Address: address, Quantity: 1, Value: value}); err != nil {
		return err
	}
	t.SetHolding(address, value)
	return nil
}

func (t *Transport) WriteSingleCoil(ctx context.Context, slave byte, address uint16, on bool) error {
	var v uint16
	if on {
		v = 0xFF00
	}
	if err := t.record(Call{Func: "write_single_coil", Slave: slave, Address: address, Quantity: 1, Value: v}); err != nil {
		return err
	}
	t.mu.Lock()
	t.Coils[address] = on
	t.mu.Unlock()
	return nil
}

func (t *Transport) Generation() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.generation
}

func (t *Transport) bits(src map[uint16]bool, address, quantity uint16) []byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]byte, (int(quantity)+7)/8)
	for i := uint16(0); i < quantity; i++ {
		if src[address+i] {
			out[i/8] |= 1 << (i % 8)
		}
	}
	return out
}

func (t *Transport) registers(src map[uint16]uint16, address, quantity uint16) []byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]byte, int(quantity)*2)
	for i := uint16(0); i < quantity; i++ {
		binary.BigEndian.PutUint16(out[i*2:], src[address+i])
	}
	return out
}
