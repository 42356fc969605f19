package modbusdevices

import (
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// EntityKind presentation of a datapoint
type EntityKind uint8

const (
	EntitySensor EntityKind = iota
	EntityBinarySensor
	EntitySelect
	EntityNumber
)

func (k EntityKind) String() string {
	switch k {
	case EntityBinarySensor:
		return "binary_sensor"
	case EntitySelect:
		return "select"
	case EntityNumber:
		return "number"
	default:
		return "sensor"
	}
}

// Entity is implemented by Sensor, BinarySensor, Select and Number.
// Declare them by value.
type Entity interface {
	Kind() EntityKind
	Info() EntityInfo
}

// EntityInfo is the metadata every presentation shares.
type EntityInfo struct {
	DeviceClass       string
	StateClass        string
	Units             string
	Icon              string
	DisabledByDefault bool
}

type Sensor struct {
	EntityInfo
	// Enum maps raw values to labels
	Enum map[int]string
}

func (Sensor) Kind() EntityKind   { return EntitySensor }
func (s Sensor) Info() EntityInfo { return s.EntityInfo }

type BinarySensor struct {
	EntityInfo
}

func (BinarySensor) Kind() EntityKind   { return EntityBinarySensor }
func (b BinarySensor) Info() EntityInfo { return b.EntityInfo }

type Select struct {
	EntityInfo
	Options map[int]string
}

func (Select) Kind() EntityKind   { return EntitySelect }
func (s Select) Info() EntityInfo { return s.EntityInfo }

// Keys returns the option keys in ascending order.
func (s Select) Keys() []int {
	keys := maps.Keys(s.Options)
	slices.Sort(keys)
	return keys
}

// Key finds the key of an option label.
func (s Select) Key(label string) (int, bool) {
	for _, k := range s.Keys() {
		if s.Options[k] == label {
			return k, true
		}
	}
	return 0, false
}

type Number struct {
	EntityInfo
	Min  float64
	Max  float64
	Step float64
}

func (Number) Kind() EntityKind   { return EntityNumber }
func (n Number) Info() EntityInfo { return n.EntityInfo }

// writable reports whether the presentation accepts writes.
func writable(e Entity) bool {
	switch e.(type) {
	case Select, Number:
		return true
	}
	return false
}

func entityKind(e Entity) EntityKind {
	if e == nil {
		return EntitySensor
	}
	return e.Kind()
}
