package mqtt

import (
	"context"
	"io"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mb "github.com/TwoMental/modbus-devices"
	"github.com/TwoMental/modbus-devices/internal/modbustest"
)

type message struct {
	topic   string
	payload string
}

type mockPublisher struct {
	mu        sync.Mutex
	published []message
	subs      map[string]func(string)
}

func newMockPublisher() *mockPublisher {
	return &mockPublisher{subs: make(map[string]func(string))}
}

func (m *mockPublisher) Publish(topic string, qos byte, retained bool, payload string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published = append(m.published, message{topic, payload})
	return nil
}

func (m *mockPublisher) Subscribe(topic string, callback func(string)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subs[topic] = callback
	return nil
}

func (m *mockPublisher) take() map[string]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]string, len(m.published))
	for _, msg := range m.published {
		out[msg.topic] = msg.payload
	}
	m.published = nil
	return out
}

var (
	sensors  = mb.NewGroup("Sensors", mb.RegisterTypeInputRegister, mb.PollOn)
	alarms   = mb.NewGroup("alarms", mb.RegisterTypeDiscreteInput, mb.PollOn)
	commands = mb.NewGroup("commands", mb.RegisterTypeHoldingRegister, mb.PollOn)
	relays   = mb.NewGroup("relays", mb.RegisterTypeCoil, mb.PollOn)
)

var model = mb.Model{
	Datapoints: func(t *mb.Table) {
		t.Add(sensors,
			mb.Datapoint{Name: "Room Temperature", Address: 59, Scaling: 0.1},
			mb.Datapoint{Name: "Application State", Address: 21, Entity: mb.Sensor{Enum: map[int]string{1: "Auto Normal"}}},
		)
		t.Add(alarms,
			mb.Datapoint{Name: "AC Overload", Address: 21, Entity: mb.BinarySensor{}},
			mb.Datapoint{Name: "Active Alarms", Address: 21, Computed: true, Entity: mb.BinarySensor{}},
		)
		t.Add(commands,
			mb.Datapoint{Name: "Operating Mode", Address: 1, Entity: mb.Select{Options: map[int]string{1: "Normal", 3: "Manual"}}},
			mb.Datapoint{Name: "TC1 Setpoint", Address: 23, Entity: mb.Number{Min: 15, Max: 30, Step: 1}},
			mb.Datapoint{Name: "Raw", Address: 30},
		)
		t.Add(relays, mb.Datapoint{Name: "Relay", Address: 0})
	},
	AfterRead: func(d *mb.Device) {
		p := d.Datapoint(alarms, "Active Alarms")
		on := d.Datapoint(alarms, "AC Overload").Value().Truthy()
		p.SetValue(mb.BoolValue(on))
		attrs := mb.NewAttributes()
		if on {
			attrs.Set("AC Overload", "ALARM")
		}
		p.SetAttributes(attrs)
	},
}

func setup(t *testing.T) (*modbustest.Transport, *mb.Device, *mockPublisher, *Bridge) {
	t.Helper()
	tr := modbustest.New()
	tr.SetInput(59, 215)
	tr.SetInput(21, 1)
	tr.SetHolding(1, 3)
	tr.SetHolding(23, 24)
	d, err := mb.NewDevice("Office 2.14", model, tr)
	require.NoError(t, err)
	pub := newMockPublisher()
	return tr, d, pub, NewBridge(d, pub, "modbus/", zerolog.Nop())
}

func TestBridgePublish(t *testing.T) {
	tr, d, pub, b := setup(t)

	res, err := d.Poll(context.Background())
	require.NoError(t, err)
	require.NoError(t, b.Publish(res))

	got := pub.take()
	assert.Equal(t, map[string]string{
		"modbus/office_2_14/availability":                    "online",
		"modbus/office_2_14/sensors/availability":            "online",
		"modbus/office_2_14/sensors/room_temperature/state":  "21.5",
		"modbus/office_2_14/sensors/application_state/state": "Auto Normal",
		"modbus/office_2_14/alarms/availability":             "online",
		"modbus/office_2_14/alarms/ac_overload/state":        "OFF",
		"modbus/office_2_14/alarms/active_alarms/state":      "OFF",
		"modbus/office_2_14/alarms/active_alarms/attributes": "{}",
		"modbus/office_2_14/commands/availability":           "online",
		"modbus/office_2_14/commands/operating_mode/state":   "Manual",
		"modbus/office_2_14/commands/tc1_setpoint/state":     "24",
		"modbus/office_2_14/commands/raw/state":              "0",
		"modbus/office_2_14/relays/availability":             "online",
		"modbus/office_2_14/relays/relay/state":              "OFF",
	}, got)

	// unchanged values are not published again
	res, err = d.Poll(context.Background())
	require.NoError(t, err)
	require.NoError(t, b.Publish(res))
	assert.Empty(t, pub.take())

	tr.SetDiscrete(21, true)
	res, err = d.Poll(context.Background())
	require.NoError(t, err)
	require.NoError(t, b.Publish(res))
	assert.Equal(t, map[string]string{
		"modbus/office_2_14/alarms/ac_overload/state":        "ON",
		"modbus/office_2_14/alarms/active_alarms/state":      "ON",
		"modbus/office_2_14/alarms/active_alarms/attributes": `{"AC Overload":"ALARM"}`,
	}, pub.take())

	// clearing the alarm empties the retained attributes
	tr.SetDiscrete(21, false)
	res, err = d.Poll(context.Background())
	require.NoError(t, err)
	require.NoError(t, b.Publish(res))
	assert.Equal(t, map[string]string{
		"modbus/office_2_14/alarms/ac_overload/state":        "OFF",
		"modbus/office_2_14/alarms/active_alarms/state":      "OFF",
		"modbus/office_2_14/alarms/active_alarms/attributes": "{}",
	}, pub.take())
}

func TestBridgeAvailability(t *testing.T) {
	tr, d, pub, b := setup(t)

	tr.Fail = func(modbustest.Call) error {
		return &mb.Error{Kind: mb.KindConnectionLost, Err: io.EOF}
	}
	res, err := d.Poll(context.Background())
	require.NoError(t, err)
	require.NoError(t, b.Publish(res))
	got := pub.take()
	assert.Equal(t, "offline", got[b.AvailabilityTopic()])
	assert.Equal(t, "offline", got[b.GroupAvailabilityTopic(sensors)])
	assert.Equal(t, "offline", got[b.GroupAvailabilityTopic(commands)])
	assert.NotContains(t, got, "modbus/office_2_14/sensors/room_temperature/state", "nothing read yet")

	tr.Fail = nil
	res, err = d.Poll(context.Background())
	require.NoError(t, err)
	require.NoError(t, b.Publish(res))
	got = pub.take()
	assert.Equal(t, "online", got[b.AvailabilityTopic()])
	assert.Equal(t, "online", got[b.GroupAvailabilityTopic(sensors)])

	// one failing group keeps the device online but not its stale values
	tr.Fail = func(c modbustest.Call) error {
		if c.Func == "read_input_registers" {
			return &mb.Error{Kind: mb.KindTimeout, Op: c.Func, Err: io.ErrNoProgress}
		}
		return nil
	}
	res, err = d.Poll(context.Background())
	require.NoError(t, err)
	require.NoError(t, b.Publish(res))
	assert.Equal(t, map[string]string{
		"modbus/office_2_14/sensors/availability": "offline",
	}, pub.take())
}

func TestBridgeSet(t *testing.T) {
	tr, d, pub, b := setup(t)
	require.NoError(t, b.Start(context.Background()))

	pub.mu.Lock()
	topics := make([]string, 0, len(pub.subs))
	for topic := range pub.subs {
		topics = append(topics, topic)
	}
	pub.mu.Unlock()
	assert.ElementsMatch(t, []string{
		"modbus/office_2_14/commands/operating_mode/set",
		"modbus/office_2_14/commands/tc1_setpoint/set",
		"modbus/office_2_14/relays/relay/set",
	}, topics)

	pub.subs["modbus/office_2_14/commands/operating_mode/set"]("Normal")
	assert.Equal(t, uint16(1), tr.Holding[1])
	pub.subs["modbus/office_2_14/commands/operating_mode/set"]("3")
	assert.Equal(t, uint16(3), tr.Holding[1])

	pub.subs["modbus/office_2_14/commands/tc1_setpoint/set"](" 26 ")
	assert.Equal(t, uint16(26), tr.Holding[23])
	// rejected, nothing is written
	pub.subs["modbus/office_2_14/commands/tc1_setpoint/set"]("31")
	pub.subs["modbus/office_2_14/commands/tc1_setpoint/set"]("warm")
	assert.Equal(t, uint16(26), tr.Holding[23])

	pub.subs["modbus/office_2_14/relays/relay/set"]("ON")
	assert.True(t, tr.Coils[0])

	v, _, err := d.Value(commands, "TC1 Setpoint")
	require.NoError(t, err)
	assert.Equal(t, 26.0, v.Float())
	assert.Equal(t, 4, tr.CallCount(""))
}

func TestState(t *testing.T) {
	sel := mb.Select{Options: map[int]string{0: "Close", 1: "Open"}}
	cases := []struct {
		ps   mb.PointState
		want string
	}{
		{mb.PointState{Value: mb.NumberValue(21.5)}, "21.5"},
		{mb.PointState{Value: mb.TextValue("W1")}, "W1"},
		{mb.PointState{Value: mb.TextValue("None"), Entity: mb.Sensor{}}, "None"},
		{mb.PointState{Value: mb.BoolValue(true)}, "ON"},
		{mb.PointState{Value: mb.NumberValue(1), Entity: mb.BinarySensor{}}, "ON"},
		{mb.PointState{Value: mb.NumberValue(0), Entity: sel}, "Close"},
		{mb.PointState{Value: mb.NumberValue(7), Entity: sel}, "7"},
		{mb.PointState{Value: mb.NumberValue(2), Entity: mb.Sensor{Enum: map[int]string{2: "Auto Economy"}}}, "Auto Economy"},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, State(c.ps))
	}
}

func TestSlug(t *testing.T) {
	assert.Equal(t, "tc1_normal_cooling_setpoint", Slug("TC1 Normal Cooling Setpoint"))
	assert.Equal(t, "supply_duct_100_open", Slug("Supply Duct 100% Open"))
	assert.Equal(t, "stand_by", Slug("--Stand-by--"))
	assert.Equal(t, "", Slug("%%"))
}
