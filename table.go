package modbusdevices

import (
	"fmt"
	"math"
)

// Table is the immutable datapoint structure of a device, keyed by group
// and datapoint name, kept in declaration order.
type Table struct {
	groups []*groupTable
	index  map[*Group]*groupTable
	err    error
}

type groupTable struct {
	group  *Group
	points []*Datapoint
	byName map[string]*Datapoint
	blocks []Block
	// blockPoints[i] are the datapoints read by blocks[i]
	blockPoints [][]*Datapoint
}

func newTable() *Table {
	return &Table{index: make(map[*Group]*groupTable)}
}

// Add declares datapoints of a group. Groups keep the order of their first Add.
func (t *Table) Add(g *Group, points ...Datapoint) {
	if t.err != nil {
		return
	}
	if g == nil {
		t.err = configError("datapoints declared without a group")
		return
	}
	gt, ok := t.index[g]
	if !ok {
		gt = &groupTable{group: g, byName: make(map[string]*Datapoint)}
		t.index[g] = gt
		t.groups = append(t.groups, gt)
	}
	for i := range points {
		p := points[i]
		p.group = g
		if _, dup := gt.byName[p.Name]; dup {
			t.err = configError("group %s: duplicate datapoint %q", g.Name, p.Name)
			return
		}
		gt.byName[p.Name] = &p
		gt.points = append(gt.points, &p)
	}
}

// build validates the table and plans the reads of every group.
func (t *Table) build(maxBlockSize, maxGap uint16) error {
	if t.err != nil {
		return t.err
	}
	names := make(map[string]*Group)
	for _, gt := range t.groups {
		if other, ok := names[gt.group.Name]; ok && other != gt.group {
			return configError("two groups named %q", gt.group.Name)
		}
		names[gt.group.Name] = gt.group

		for _, p := range gt.points {
			if err := validatePoint(p); err != nil {
				return err
			}
		}
		if err := checkOverlap(gt); err != nil {
			return err
		}
		if err := gt.plan(maxBlockSize, maxGap); err != nil {
			return err
		}
	}
	return nil
}

func validatePoint(p *Datapoint) error {
	g := p.group
	where := fmt.Sprintf("group %s: %q", g.Name, p.Name)
	if p.Name == "" {
		return configError("group %s: datapoint at %d has no name", g.Name, p.Address)
	}
	if p.Scaling < 0 || math.IsNaN(p.Scaling) || math.IsInf(p.Scaling, 0) {
		return configError("%s: invalid scaling %v", where, p.Scaling)
	}
	switch p.Entity.(type) {
	case *Sensor, *BinarySensor, *Select, *Number:
		return configError("%s: entity must be declared by value", where)
	}
	if !p.wire() {
		return validateEntity(p, where)
	}

	dt := p.dataType()
	if g.RegisterType.isBit() {
		if dt != DataTypeBit {
			return configError("%s: %s on a bit group", where, dt)
		}
		if p.length() != 1 {
			return configError("%s: bit datapoints have length 1", where)
		}
	} else {
		switch dt {
		case DataTypeU16, DataTypeS16, DataTypeBit:
			if p.length() != 1 {
				return configError("%s: %s needs length 1, got %d", where, dt, p.length())
			}
			if dt == DataTypeBit && p.BitIndex > 15 {
				return configError("%s: bit index %d outside a register", where, p.BitIndex)
			}
		case DataTypeU32, DataTypeS32:
			if p.length() != 2 {
				return configError("%s: %s needs length 2, got %d", where, dt, p.length())
			}
		case DataTypeString:
		default:
			return configError("%s: unsupported data type %d", where, dt)
		}
	}
	if uint32(p.Address)+uint32(p.length()) > 1<<16 {
		return configError("%s: ends past the last address", where)
	}
	if p.length() > g.RegisterType.maxQuantity() {
		return configError("%s: length %d exceeds one request", where, p.length())
	}
	return validateEntity(p, where)
}

func validateEntity(p *Datapoint, where string) error {
	switch e := p.Entity.(type) {
	case Number:
		if e.Min > e.Max {
			return configError("%s: min %v above max %v", where, e.Min, e.Max)
		}
		if e.Step < 0 {
			return configError("%s: negative step", where)
		}
	case Select:
		if len(e.Options) == 0 {
			return configError("%s: select without options", where)
		}
	}
	if writable(p.Entity) && p.wire() && p.group.RegisterType != RegisterTypeHoldingRegister && p.group.RegisterType != RegisterTypeCoil {
		return configError("%s: %s needs a writable register type, not %s", where, entityKind(p.Entity), p.group.RegisterType)
	}
	return nil
}

// checkOverlap rejects wire datapoints sharing an address. Bits of the same
// register may share it as long as their bit index differs.
func checkOverlap(gt *groupTable) error {
	var wire []*Datapoint
	for _, p := range gt.points {
		if p.wire() {
			wire = append(wire, p)
		}
	}
	for i, a := range wire {
		for _, b := range wire[i+1:] {
			as, bs := Span{a.Address, a.length()}, Span{b.Address, b.length()}
			if !spansOverlap(as, bs) {
				continue
			}
			if registerBit(a) && registerBit(b) && a.BitIndex != b.BitIndex {
				continue
			}
			return configError("group %s: %q [%d,%d) overlaps %q [%d,%d)",
				gt.group.Name, a.Name, as.Address, as.end(), b.Name, bs.Address, bs.end())
		}
	}
	return nil
}

func spansOverlap(a, b Span) bool {
	return uint32(a.Address) < b.end() && uint32(b.Address) < a.end()
}

func registerBit(p *Datapoint) bool {
	return !p.group.RegisterType.isBit() && p.dataType() == DataTypeBit
}

func (gt *groupTable) plan(maxBlockSize, maxGap uint16) error {
	if !gt.group.wire() {
		return nil
	}
	limit := gt.group.RegisterType.maxQuantity()
	if maxBlockSize == 0 {
		maxBlockSize = limit
	}
	maxBlockSize = clamp(maxBlockSize, 1, limit)

	var spans []Span
	for _, p := range gt.points {
		if !p.wire() {
			continue
		}
		if p.length() > maxBlockSize {
			return configError("group %s: %q length %d exceeds block size %d", gt.group.Name, p.Name, p.length(), maxBlockSize)
		}
		spans = append(spans, Span{p.Address, p.length()})
	}
	gt.blocks = PlanBlocks(spans, maxBlockSize, maxGap)
	gt.blockPoints = make([][]*Datapoint, len(gt.blocks))
	for _, p := range gt.points {
		if !p.wire() {
			continue
		}
		for i, b := range gt.blocks {
			if b.contains(Span{p.Address, p.length()}) {
				gt.blockPoints[i] = append(gt.blockPoints[i], p)
				break
			}
		}
	}
	return nil
}
