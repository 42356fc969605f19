// Package config loads the YAML configuration of the modbus-devices binary.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	mb "github.com/TwoMental/modbus-devices"
	"github.com/TwoMental/modbus-devices/devices"
)

const (
	TransportTCP = "tcp"
	TransportRTU = "rtu"
)

type Config struct {
	Log        LogConfig         `yaml:"log"`
	Poll       PollConfig        `yaml:"poll"`
	Metrics    MetricsConfig     `yaml:"metrics"`
	MQTT       MQTTConfig        `yaml:"mqtt"`
	Transports []TransportConfig `yaml:"transports"`
	Devices    []DeviceConfig    `yaml:"devices"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

type PollConfig struct {
	// Interval between cycles, per device overrides apply.
	Interval time.Duration `yaml:"interval"`
}

type MetricsConfig struct {
	// Listen address of the /metrics endpoint, empty disables it.
	Listen string `yaml:"listen"`
}

type MQTTConfig struct {
	// Server like tcp://localhost:1883, empty disables MQTT.
	Server   string `yaml:"server"`
	ClientID string `yaml:"client_id"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Prefix   string `yaml:"prefix"`
}

type TransportConfig struct {
	Name string `yaml:"name"`
	Type string `yaml:"type"`
	// tcp
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	// rtu
	Device   string `yaml:"device"`
	BaudRate int    `yaml:"baud_rate"`
	DataBits int    `yaml:"data_bits"`
	Parity   string `yaml:"parity"`
	StopBits int    `yaml:"stop_bits"`

	Timeout time.Duration `yaml:"timeout"`
}

type DeviceConfig struct {
	Name      string        `yaml:"name"`
	Model     string        `yaml:"model"`
	Transport string        `yaml:"transport"`
	SlaveID   uint8         `yaml:"slave_id"`
	Interval  time.Duration `yaml:"interval"`
	// MaxGap, when set, overrides the gap merged into one read.
	MaxGap       *uint16 `yaml:"max_gap"`
	MaxBlockSize uint16  `yaml:"max_block_size"`
}

// Load reads path, applies defaults and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read config")
	}
	return Parse(data)
}

func Parse(data []byte) (*Config, error) {
	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, invalid("parse: %v", err)
	}
	c.setDefaults()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) setDefaults() {
	if c.Log.Level == "" {
		c.Log.Level = zerolog.InfoLevel.String()
	}
	if c.Poll.Interval == 0 {
		c.Poll.Interval = 10 * time.Second
	}
	if c.MQTT.ClientID == "" {
		c.MQTT.ClientID = "modbus-devices"
	}
	if c.MQTT.Prefix == "" {
		c.MQTT.Prefix = "modbus"
	}
	for i := range c.Transports {
		t := &c.Transports[i]
		t.Type = strings.ToLower(t.Type)
		if t.Type == TransportTCP && t.Port == 0 {
			t.Port = 502
		}
	}
	for i := range c.Devices {
		d := &c.Devices[i]
		if d.Interval == 0 {
			d.Interval = c.Poll.Interval
		}
		if d.SlaveID == 0 {
			d.SlaveID = 1
		}
	}
}

// Validate checks what the engine cannot: references between sections,
// unique names and known models.
func (c *Config) Validate() error {
	if _, err := zerolog.ParseLevel(c.Log.Level); err != nil {
		return invalid("log level %q", c.Log.Level)
	}
	if c.Poll.Interval <= 0 {
		return invalid("poll interval must be positive")
	}

	transports := make(map[string]bool, len(c.Transports))
	for _, t := range c.Transports {
		if t.Name == "" {
			return invalid("transport without a name")
		}
		if transports[t.Name] {
			return invalid("duplicate transport %q", t.Name)
		}
		transports[t.Name] = true
		switch t.Type {
		case TransportTCP:
			if t.Host == "" {
				return invalid("transport %s: host is required", t.Name)
			}
		case TransportRTU:
			if t.Device == "" {
				return invalid("transport %s: device is required", t.Name)
			}
			switch strings.ToUpper(t.Parity) {
			case "", "N", "E", "O":
			default:
				return invalid("transport %s: parity %q", t.Name, t.Parity)
			}
		default:
			return invalid("transport %s: type %q, want tcp or rtu", t.Name, t.Type)
		}
	}

	names := make(map[string]bool, len(c.Devices))
	for _, d := range c.Devices {
		if d.Name == "" {
			return invalid("device without a name")
		}
		if names[d.Name] {
			return invalid("duplicate device %q", d.Name)
		}
		names[d.Name] = true
		if _, ok := devices.Lookup(d.Model); !ok {
			return invalid("device %s: unknown model %q, known: %s", d.Name, d.Model, strings.Join(devices.Keys(), ", "))
		}
		if !transports[d.Transport] {
			return invalid("device %s: unknown transport %q", d.Name, d.Transport)
		}
		if d.SlaveID < 1 || d.SlaveID > 247 {
			return invalid("device %s: slave id %d outside 1..247", d.Name, d.SlaveID)
		}
		if d.Interval <= 0 {
			return invalid("device %s: interval must be positive", d.Name)
		}
	}
	return nil
}

// Options turns a transport section into transport options.
func (t TransportConfig) Options() []mb.Option {
	var opts []mb.Option
	if t.Timeout > 0 {
		opts = append(opts, mb.WithTimeout(t.Timeout))
	}
	if t.MaxOpenConns > 0 {
		opts = append(opts, mb.WithMaxOpenConns(t.MaxOpenConns))
	}
	if t.ConnMaxLifetime > 0 {
		opts = append(opts, mb.WithConnMaxLifetime(t.ConnMaxLifetime))
	}
	if t.BaudRate > 0 {
		opts = append(opts, mb.WithBaudRate(t.BaudRate))
	}
	if t.DataBits > 0 {
		opts = append(opts, mb.WithDataBits(t.DataBits))
	}
	if t.Parity != "" {
		opts = append(opts, mb.WithParity(strings.ToUpper(t.Parity)))
	}
	if t.StopBits > 0 {
		opts = append(opts, mb.WithStopBits(t.StopBits))
	}
	return opts
}

// Options turns a device section into device options.
func (d DeviceConfig) Options() []mb.Option {
	opts := []mb.Option{mb.WithSlaveID(d.SlaveID)}
	if d.MaxGap != nil {
		opts = append(opts, mb.WithMaxGapInBlock(*d.MaxGap))
	}
	if d.MaxBlockSize > 0 {
		opts = append(opts, mb.WithMaxBlockSize(d.MaxBlockSize))
	}
	return opts
}

func invalid(format string, args ...interface{}) error {
	return &mb.Error{Kind: mb.KindConfig, Op: "config", Err: fmt.Errorf(format, args...)}
}
