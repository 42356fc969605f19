package devices

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLookup(t *testing.T) {
	m, ok := Lookup("swegon/conductor_w1")
	assert.True(t, ok)
	assert.Equal(t, "Swegon", m.Manufacturer)
	assert.NotNil(t, m.Datapoints)

	_, ok = Lookup("swegon/conductor_w2")
	assert.False(t, ok)

	assert.Equal(t, []string{"swegon/conductor_w1"}, Keys())
}
