package modbusdevices_test

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mb "github.com/TwoMental/modbus-devices"
	"github.com/TwoMental/modbus-devices/internal/modbustest"
)

var (
	info      = mb.NewGroup("info", mb.RegisterTypeInputRegister, mb.PollOnce)
	sensors   = mb.NewGroup("sensors", mb.RegisterTypeInputRegister, mb.PollOn)
	status    = mb.NewGroup("status", mb.RegisterTypeDiscreteInput, mb.PollOn)
	setpoints = mb.NewGroup("setpoints", mb.RegisterTypeHoldingRegister, mb.PollOn)
	relays    = mb.NewGroup("relays", mb.RegisterTypeCoil, mb.PollOn)
	ui        = mb.NewGroup("ui", mb.RegisterTypeNone, mb.PollOff)
)

type hookCounter struct {
	first int
	after int
}

func testModel(h *hookCounter) mb.Model {
	return mb.Model{
		Manufacturer: "Acme",
		Model:        "Room Controller",
		Datapoints: func(t *mb.Table) {
			t.Add(info,
				mb.Datapoint{Name: "name", Address: 0, Length: 4, DataType: mb.DataTypeString},
				mb.Datapoint{Name: "serial", Address: 4},
			)
			t.Add(sensors,
				mb.Datapoint{Name: "temp", Address: 27, Scaling: 0.1, DataType: mb.DataTypeS16},
				mb.Datapoint{Name: "humidity", Address: 28},
				mb.Datapoint{Name: "room", Address: 59},
			)
			t.Add(status,
				mb.Datapoint{Name: "door", Address: 0, Entity: mb.BinarySensor{}},
				mb.Datapoint{Name: "alarm", Address: 3, Entity: mb.BinarySensor{}},
			)
			t.Add(setpoints,
				mb.Datapoint{Name: "mode", Address: 1, Entity: mb.Select{Options: map[int]string{1: "Normal", 3: "Manual"}}},
				mb.Datapoint{Name: "cool", Address: 23, Entity: mb.Number{Min: 15, Max: 30, Step: 1}},
				mb.Datapoint{Name: "pid", Address: 47, Scaling: 0.01, Entity: mb.Number{Min: 0.1, Max: 100, Step: 0.01}},
			)
			t.Add(relays, mb.Datapoint{Name: "relay", Address: 0})
			t.Add(ui, mb.Datapoint{Name: "summary"})
		},
		AfterFirstRead: func(d *mb.Device) {
			h.first++
			if p := d.Datapoint(info, "serial"); p != nil && p.Value().Truthy() {
				d.SetSerialNumber(p.Value().String())
			}
		},
		AfterRead: func(d *mb.Device) {
			h.after++
			state := "closed"
			if d.Datapoint(status, "door").Value().Truthy() {
				state = "open"
			}
			d.Datapoint(ui, "summary").SetValue(mb.TextValue(state))
		},
	}
}

func seeded() *modbustest.Transport {
	tr := modbustest.New()
	tr.SetString(0, "RC-7")
	tr.SetInput(4, 4711)
	tr.SetInput(27, 0xFFEC) // -2.0
	tr.SetInput(28, 45)
	tr.SetInput(59, 21)
	tr.SetDiscrete(0, true)
	tr.SetHolding(1, 1)
	tr.SetHolding(23, 24)
	tr.SetHolding(47, 1000)
	return tr
}

func newTestDevice(t *testing.T, tr mb.Transport) (*mb.Device, *hookCounter) {
	t.Helper()
	h := &hookCounter{}
	d, err := mb.NewDevice("room-1", testModel(h), tr, mb.WithSlaveID(7))
	require.NoError(t, err)
	return d, h
}

func lost() error {
	return &mb.Error{Kind: mb.KindConnectionLost, Op: "read", Err: io.EOF}
}

func value(t *testing.T, d *mb.Device, g *mb.Group, name string) (mb.Value, bool) {
	t.Helper()
	v, stale, err := d.Value(g, name)
	require.NoError(t, err)
	return v, stale
}

func TestPoll(t *testing.T) {
	tr := seeded()
	d, h := newTestDevice(t, tr)

	res, err := d.Poll(context.Background())
	require.NoError(t, err)
	require.NoError(t, res.Err())
	assert.False(t, res.Aborted)
	assert.Equal(t, uint64(1), res.Tick)
	assert.Len(t, res.Groups, 5)

	v, stale := value(t, d, info, "name")
	assert.Equal(t, "RC-7", v.String())
	assert.False(t, stale)
	v, _ = value(t, d, sensors, "temp")
	assert.Equal(t, -2.0, v.Float())
	v, _ = value(t, d, sensors, "room")
	assert.Equal(t, 21.0, v.Float())
	v, _ = value(t, d, status, "door")
	assert.True(t, v.IsBool())
	assert.True(t, v.Truthy())
	v, _ = value(t, d, setpoints, "pid")
	assert.Equal(t, 10.0, v.Float())
	v, _ = value(t, d, ui, "summary")
	assert.Equal(t, "open", v.String())

	// info, two sensor blocks, status, three setpoint blocks and relays
	assert.Equal(t, 8, tr.CallCount(""))
	for _, c := range tr.Calls {
		assert.Equal(t, byte(7), c.Slave)
	}
	assert.Equal(t, []mb.Block{{Start: 27, Count: 2}, {Start: 59, Count: 1}}, d.Blocks(sensors))

	assert.Equal(t, 1, h.first)
	assert.Equal(t, 1, h.after)
	id := d.Identity()
	assert.Equal(t, "4711", id.SerialNumber)
	assert.Equal(t, "Acme", id.Manufacturer)
	assert.Equal(t, "Room Controller", id.Model)
}

func TestPollOnceGroupsAreReadOnce(t *testing.T) {
	tr := seeded()
	d, h := newTestDevice(t, tr)

	for i := 0; i < 3; i++ {
		_, err := d.Poll(context.Background())
		require.NoError(t, err)
	}
	reads := 0
	for _, c := range tr.Calls {
		if c.Func == "read_input_registers" && c.Address == 0 {
			reads++
		}
	}
	assert.Equal(t, 1, reads)
	assert.Equal(t, 1, h.first)
	assert.Equal(t, 3, h.after)
}

func TestFailedBlockKeepsStaleValue(t *testing.T) {
	tr := seeded()
	d, h := newTestDevice(t, tr)
	_, err := d.Poll(context.Background())
	require.NoError(t, err)

	tr.SetInput(27, 250)
	tr.SetInput(59, 23)
	tr.Fail = func(c modbustest.Call) error {
		if c.Address == 59 {
			return &mb.Error{Kind: mb.KindProtocol, Op: c.Func, Err: errors.New("illegal data address")}
		}
		return nil
	}

	res, err := d.Poll(context.Background())
	require.NoError(t, err)
	assert.False(t, res.Aborted)
	assert.True(t, errors.Is(res.Err(), mb.ErrProtocol))

	v, stale := value(t, d, sensors, "room")
	assert.True(t, stale)
	assert.Equal(t, 21.0, v.Float(), "last good value is kept")

	v, stale = value(t, d, sensors, "temp")
	assert.False(t, stale)
	assert.Equal(t, 25.0, v.Float())

	_, stale = value(t, d, setpoints, "cool")
	assert.False(t, stale, "later groups are still read")
	assert.Equal(t, 2, h.after)
}

func TestConnectionLostAbortsCycle(t *testing.T) {
	tr := seeded()
	d, h := newTestDevice(t, tr)
	_, err := d.Poll(context.Background())
	require.NoError(t, err)

	before := tr.CallCount("")
	tr.Fail = func(c modbustest.Call) error {
		if c.Address == 27 {
			return lost()
		}
		return nil
	}
	res, err := d.Poll(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Aborted)
	assert.True(t, errors.Is(res.Err(), mb.ErrConnectionLost))
	assert.Equal(t, 1, tr.CallCount("")-before, "nothing is read after the loss")

	for _, name := range []string{"temp", "humidity", "room"} {
		_, stale := value(t, d, sensors, name)
		assert.True(t, stale, name)
	}
	_, stale := value(t, d, setpoints, "cool")
	assert.True(t, stale)
	_, stale = value(t, d, info, "name")
	assert.False(t, stale, "groups not due keep their state")
	assert.Equal(t, 2, h.after, "hooks run on aborted cycles")

	tr.Fail = nil
	before = tr.CallCount("")
	res, err = d.Poll(context.Background())
	require.NoError(t, err)
	require.NoError(t, res.Err())
	assert.Equal(t, 8, tr.CallCount("")-before, "device info is read again")
	assert.Equal(t, 1, h.first, "first read hook fires once")

	_, stale = value(t, d, sensors, "temp")
	assert.False(t, stale)
}

func TestLineDropResetsOnceGroups(t *testing.T) {
	tr := seeded()
	d, _ := newTestDevice(t, tr)
	_, err := d.Poll(context.Background())
	require.NoError(t, err)

	// another device on the same line lost the connection
	tr.Drop()
	before := tr.CallCount("")
	_, err = d.Poll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 8, tr.CallCount("")-before)
}

func TestAfterFirstReadWaitsForOnceGroups(t *testing.T) {
	tr := seeded()
	d, h := newTestDevice(t, tr)

	tr.Fail = func(c modbustest.Call) error {
		if c.Func == "read_input_registers" && c.Address == 0 {
			return &mb.Error{Kind: mb.KindTimeout, Op: c.Func, Err: errors.New("response timeout")}
		}
		return nil
	}
	_, err := d.Poll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, h.first)
	assert.Equal(t, 1, h.after)
	assert.Empty(t, d.Identity().SerialNumber)

	tr.Fail = nil
	_, err = d.Poll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, h.first)
	assert.Equal(t, "4711", d.Identity().SerialNumber)
}

func TestAfterFirstReadWithoutOnceGroups(t *testing.T) {
	first := 0
	model := mb.Model{
		Datapoints: func(t *mb.Table) {
			t.Add(sensors, mb.Datapoint{Name: "temp", Address: 27})
		},
		AfterFirstRead: func(*mb.Device) { first++ },
	}
	tr := seeded()
	d, err := mb.NewDevice("plain", model, tr)
	require.NoError(t, err)

	tr.Fail = func(modbustest.Call) error { return &mb.Error{Kind: mb.KindProtocol, Err: errors.New("exception")} }
	_, err = d.Poll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, first)

	tr.Fail = nil
	_, err = d.Poll(context.Background())
	require.NoError(t, err)
	_, err = d.Poll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, first)
}

func TestPollCanceled(t *testing.T) {
	tr := seeded()
	d, h := newTestDevice(t, tr)

	ctx, cancel := context.WithCancel(context.Background())
	tr.Fail = func(modbustest.Call) error {
		cancel()
		return ctx.Err()
	}
	_, err := d.Poll(ctx)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, 0, h.after, "hooks are skipped")
	assert.Equal(t, 1, tr.CallCount(""))
}

func TestNewDeviceInvalid(t *testing.T) {
	_, err := mb.NewDevice("x", testModel(&hookCounter{}), nil)
	assert.True(t, errors.Is(err, mb.ErrConfig))

	bad := mb.Model{Datapoints: func(t *mb.Table) {
		t.Add(sensors, mb.Datapoint{Name: "a", Address: 0}, mb.Datapoint{Name: "a", Address: 1})
	}}
	_, err = mb.NewDevice("x", bad, modbustest.New())
	assert.True(t, errors.Is(err, mb.ErrConfig))
}

func TestValueNotFound(t *testing.T) {
	d, _ := newTestDevice(t, seeded())
	_, _, err := d.Value(sensors, "nope")
	assert.True(t, errors.Is(err, mb.ErrNotFound))
	_, _, err = d.Value(mb.GroupConfig, "temp")
	assert.True(t, errors.Is(err, mb.ErrNotFound))
}

func TestSnapshot(t *testing.T) {
	d, _ := newTestDevice(t, seeded())
	_, err := d.Poll(context.Background())
	require.NoError(t, err)

	snap := d.Snapshot()
	require.Len(t, snap, 12)
	assert.Equal(t, "name", snap[0].Name)
	assert.Equal(t, "summary", snap[11].Name)

	writable := map[string]bool{}
	for _, ps := range snap {
		writable[ps.Name] = ps.Writable
	}
	assert.True(t, writable["cool"])
	assert.True(t, writable["mode"])
	assert.True(t, writable["relay"])
	assert.False(t, writable["temp"])
	assert.False(t, writable["door"])
	assert.False(t, writable["summary"])
}

func TestRun(t *testing.T) {
	tr := seeded()
	d, _ := newTestDevice(t, tr)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	cycles := 0
	err := d.Run(ctx, 10*time.Millisecond, func(res mb.CycleResult) {
		cycles++
		assert.NoError(t, res.Err())
	})
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.GreaterOrEqual(t, cycles, 2)
}
