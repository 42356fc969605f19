package modbusdevices

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

// Model describes a device type: its identity defaults, its datapoints and
// the hooks run after polling.
type Model struct {
	Manufacturer string
	Model        string
	// Datapoints declares the groups and datapoints of the model.
	Datapoints func(t *Table)
	// AfterFirstRead runs once, after every PollOnce group has been read.
	AfterFirstRead func(d *Device)
	// AfterRead runs after every poll cycle, partial ones included.
	AfterRead func(d *Device)
}

// Identity of a device, filled in by hooks.
type Identity struct {
	Manufacturer string
	Model        string
	SerialNumber string
	SWVersion    string
}

// Device is one Modbus unit polled through a Transport.
type Device struct {
	name      string
	model     Model
	transport Transport
	opts      options
	table     *Table
	sched     *Scheduler
	logger    zerolog.Logger

	// mu guards datapoint values and identity. Hooks run with it held.
	mu       sync.RWMutex
	identity Identity

	// cycle serializes Poll
	cycle         sync.Mutex
	tick          uint64
	generation    uint64
	firstReadDone bool
}

// NewDevice loads the datapoints of model. A malformed table is a
// configuration error and no device is returned.
func NewDevice(name string, model Model, transport Transport, opts ...Option) (*Device, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if transport == nil {
		return nil, configError("device %s: nil transport", name)
	}

	t := newTable()
	if model.Datapoints != nil {
		model.Datapoints(t)
	}
	if err := t.build(o.maxBlockSize, o.maxGapInBlock); err != nil {
		return nil, err
	}

	groups := make([]*Group, 0, len(t.groups))
	for _, gt := range t.groups {
		groups = append(groups, gt.group)
	}
	d := &Device{
		name:      name,
		model:     model,
		transport: transport,
		opts:      o,
		table:     t,
		sched:     NewScheduler(groups),
		logger:    o.logger.With().Str("device", name).Logger(),
		identity: Identity{
			Manufacturer: model.Manufacturer,
			Model:        model.Model,
		},
		generation: transport.Generation(),
	}
	return d, nil
}

func (d *Device) Name() string { return d.name }

func (d *Device) SlaveID() uint8 { return d.opts.slaveID }

// Identity returns the current identity fields.
func (d *Device) Identity() Identity {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.identity
}

// SetModel, SetSerialNumber and SetSWVersion are meant for hooks.
func (d *Device) SetModel(model string)         { d.identity.Model = model }
func (d *Device) SetSerialNumber(serial string) { d.identity.SerialNumber = serial }
func (d *Device) SetSWVersion(version string)   { d.identity.SWVersion = version }

// Groups in declaration order.
func (d *Device) Groups() []*Group {
	gs := make([]*Group, 0, len(d.table.groups))
	for _, gt := range d.table.groups {
		gs = append(gs, gt.group)
	}
	return gs
}

// Datapoint looks up a datapoint for hooks, nil when absent.
func (d *Device) Datapoint(g *Group, name string) *Datapoint {
	gt, ok := d.table.index[g]
	if !ok {
		return nil
	}
	return gt.byName[name]
}

// Datapoints of a group in declaration order, for hooks.
func (d *Device) Datapoints(g *Group) []*Datapoint {
	gt, ok := d.table.index[g]
	if !ok {
		return nil
	}
	return gt.points
}

// Blocks returns the planned read requests of a group.
func (d *Device) Blocks(g *Group) []Block {
	gt, ok := d.table.index[g]
	if !ok {
		return nil
	}
	return append([]Block(nil), gt.blocks...)
}

func (d *Device) lookup(g *Group, name string) (*Datapoint, error) {
	p := d.Datapoint(g, name)
	if p == nil {
		groupName := "<nil>"
		if g != nil {
			groupName = g.Name
		}
		return nil, newError(KindNotFound, d.name, fmt.Errorf("no datapoint %q in group %s", name, groupName))
	}
	return p, nil
}

// Value returns the value of a datapoint and whether it is stale.
func (d *Device) Value(g *Group, name string) (Value, bool, error) {
	p, err := d.lookup(g, name)
	if err != nil {
		return Value{}, false, err
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	return p.value, p.stale, nil
}

// PointState is a copy of a datapoint taken by Snapshot.
type PointState struct {
	Group      *Group
	Name       string
	Entity     Entity
	Value      Value
	Stale      bool
	Writable   bool
	Attributes *Attributes
}

// Snapshot copies every datapoint in declaration order.
func (d *Device) Snapshot() []PointState {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var out []PointState
	for _, gt := range d.table.groups {
		for _, p := range gt.points {
			out = append(out, PointState{
				Group:      gt.group,
				Name:       p.Name,
				Entity:     p.Entity,
				Value:      p.value,
				Stale:      p.stale,
				Writable:   p.writable(),
				Attributes: p.attrs.Clone(),
			})
		}
	}
	return out
}
