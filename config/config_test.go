package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mb "github.com/TwoMental/modbus-devices"
)

const sample = `
log:
  level: debug
poll:
  interval: 5s
mqtt:
  server: tcp://localhost:1883
transports:
  - name: gateway
    type: TCP
    host: 192.168.1.20
  - name: bus
    type: rtu
    device: /dev/ttyUSB0
    baud_rate: 19200
    parity: e
devices:
  - name: office
    model: swegon/conductor_w1
    transport: gateway
    slave_id: 3
  - name: meeting room
    model: swegon/conductor_w1
    transport: bus
    interval: 30s
    max_gap: 0
`

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0o600))

	c, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", c.Log.Level)
	assert.Equal(t, "modbus", c.MQTT.Prefix)
	assert.Equal(t, "modbus-devices", c.MQTT.ClientID)

	require.Len(t, c.Transports, 2)
	assert.Equal(t, TransportTCP, c.Transports[0].Type)
	assert.Equal(t, 502, c.Transports[0].Port)
	assert.Len(t, c.Transports[1].Options(), 2)

	require.Len(t, c.Devices, 2)
	assert.Equal(t, uint8(3), c.Devices[0].SlaveID)
	assert.Equal(t, 5*time.Second, c.Devices[0].Interval)
	assert.Len(t, c.Devices[0].Options(), 1)

	assert.Equal(t, uint8(1), c.Devices[1].SlaveID)
	assert.Equal(t, 30*time.Second, c.Devices[1].Interval)
	require.NotNil(t, c.Devices[1].MaxGap)
	assert.Equal(t, uint16(0), *c.Devices[1].MaxGap)
	assert.Len(t, c.Devices[1].Options(), 2)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestParseInvalid(t *testing.T) {
	base := `
transports:
  - {name: gw, type: tcp, host: 10.0.0.1}
`
	cases := map[string]string{
		"bad yaml":          "transports: [",
		"log level":         "log: {level: loud}\n" + base,
		"transport type":    "transports:\n  - {name: gw, type: udp, host: x}\n",
		"tcp host":          "transports:\n  - {name: gw, type: tcp}\n",
		"rtu device":        "transports:\n  - {name: gw, type: rtu}\n",
		"rtu parity":        "transports:\n  - {name: gw, type: rtu, device: /dev/ttyS0, parity: x}\n",
		"duplicate bus":     base + "  - {name: gw, type: tcp, host: 10.0.0.2}\n",
		"unknown model":     base + "devices:\n  - {name: a, model: acme/x, transport: gw}\n",
		"unknown transport": base + "devices:\n  - {name: a, model: swegon/conductor_w1, transport: nope}\n",
		"slave id":          base + "devices:\n  - {name: a, model: swegon/conductor_w1, transport: gw, slave_id: 248}\n",
		"negative interval": base + "devices:\n  - {name: a, model: swegon/conductor_w1, transport: gw, interval: -1s}\n",
		"duplicate device": base + "devices:\n" +
			"  - {name: a, model: swegon/conductor_w1, transport: gw}\n" +
			"  - {name: a, model: swegon/conductor_w1, transport: gw, slave_id: 2}\n",
	}
	for name, data := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(data))
			require.Error(t, err)
			assert.True(t, errors.Is(err, mb.ErrConfig), err.Error())
		})
	}
}
