package modbusdevices

import (
	"strconv"
	"time"
)

// Group is a set of datapoints sharing access mode and poll cadence.
// Groups are compared by identity, two groups may share both modes.
type Group struct {
	Name         string
	RegisterType RegisterType
	PollMode     PollMode
	// Every, like 3, makes a continuous group due on every third tick.
	// 0 and 1 both mean every tick.
	Every uint64
}

func NewGroup(name string, registerType RegisterType, pollMode PollMode) *Group {
	return &Group{Name: name, RegisterType: registerType, PollMode: pollMode}
}

// wire reports whether the group is ever read over the wire.
func (g *Group) wire() bool {
	return g.RegisterType != RegisterTypeNone && g.PollMode != PollOff
}

// GroupConfig is the default group for device configuration registers.
var GroupConfig = NewGroup("config", RegisterTypeHoldingRegister, PollOn)

// Datapoint one named register backed value
type Datapoint struct {
	Name string
	// address, like 27, represents the 27th register (or bit) of the group's register type
	Address uint16
	// length, like 16, represents 16 registers. 0 means 1, or 2 for 32 bit types
	Length uint16
	// scaling, like 0.1, represents the value should be multiplied by 0.1. 0 means 1
	Scaling float64
	// data type, 0 means Bit on bit groups and U16 on register groups
	DataType DataType
	// order type of 32 bit values
	OrderType OrderType
	// BitIndex selects the bit of a register for DataTypeBit on register groups
	BitIndex uint8
	// Computed datapoints are never read, hooks set their value
	Computed bool
	// Entity is the presentation, nil means a plain sensor
	Entity Entity

	group   *Group
	value   Value
	stale   bool
	updated time.Time
	attrs   *Attributes
}

func (p *Datapoint) length() uint16 {
	if p.Length == 0 {
		if p.DataType == DataTypeU32 || p.DataType == DataTypeS32 {
			return 2
		}
		return 1
	}
	return p.Length
}

func (p *Datapoint) scaling() float64 {
	if p.Scaling == 0 {
		return 1
	}
	return p.Scaling
}

func (p *Datapoint) dataType() DataType {
	if p.DataType != DataTypeDefault {
		return p.DataType
	}
	if p.group != nil && p.group.RegisterType.isBit() {
		return DataTypeBit
	}
	return DataTypeU16
}

// wire reports whether the datapoint is read over the wire.
func (p *Datapoint) wire() bool {
	return !p.Computed && p.group.wire()
}

// Group the datapoint belongs to.
func (p *Datapoint) Group() *Group { return p.group }

// Value is the last known value. Hooks may read it directly, other callers
// should go through Device.Value or Device.Snapshot.
func (p *Datapoint) Value() Value { return p.value }

// SetValue sets the value of a datapoint, used by hooks for computed datapoints.
func (p *Datapoint) SetValue(v Value) {
	p.value = v
	p.stale = false
	p.updated = time.Now()
}

// Stale reports whether the value survived a failed read.
func (p *Datapoint) Stale() bool { return p.stale }

// MarkStale flags a computed value as derived from stale inputs.
func (p *Datapoint) MarkStale() { p.stale = true }

// Updated is the time of the last successful update.
func (p *Datapoint) Updated() time.Time { return p.updated }

// Attributes is the structured detail attached by hooks, may be nil.
func (p *Datapoint) Attributes() *Attributes { return p.attrs }

func (p *Datapoint) SetAttributes(a *Attributes) { p.attrs = a }

type valueKind uint8

const (
	valueUnset valueKind = iota
	valueNumber
	valueBool
	valueText
)

// Value decoded datapoint value
type Value struct {
	kind valueKind
	num  float64
	text string
}

func NumberValue(f float64) Value { return Value{kind: valueNumber, num: f} }

func BoolValue(b bool) Value {
	v := Value{kind: valueBool}
	if b {
		v.num = 1
	}
	return v
}

func TextValue(s string) Value { return Value{kind: valueText, text: s} }

func (v Value) IsSet() bool    { return v.kind != valueUnset }
func (v Value) IsNumber() bool { return v.kind == valueNumber }
func (v Value) IsBool() bool   { return v.kind == valueBool }
func (v Value) IsText() bool   { return v.kind == valueText }

// Float is the numeric value, 0 for text and unset values.
func (v Value) Float() float64 { return v.num }

// Truthy is false for unset, zero, false and empty values.
func (v Value) Truthy() bool {
	if v.kind == valueText {
		return v.text != ""
	}
	return v.num != 0
}

func (v Value) String() string {
	switch v.kind {
	case valueNumber:
		return strconv.FormatFloat(v.num, 'f', -1, 64)
	case valueBool:
		return strconv.FormatBool(v.num != 0)
	case valueText:
		return v.text
	default:
		return ""
	}
}
