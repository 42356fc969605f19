// Package devices maps model keys used in configuration to device models.
package devices

import (
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	mb "github.com/TwoMental/modbus-devices"
	"github.com/TwoMental/modbus-devices/devices/swegon"
)

var models = map[string]mb.Model{
	"swegon/conductor_w1": swegon.ConductorW1,
}

// Lookup returns the model registered under key.
func Lookup(key string) (mb.Model, bool) {
	m, ok := models[key]
	return m, ok
}

// Keys lists the registered model keys, sorted.
func Keys() []string {
	keys := maps.Keys(models)
	slices.Sort(keys)
	return keys
}
