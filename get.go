package modbusdevices

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
)

// GroupResult is the outcome of one group in a cycle.
type GroupResult struct {
	Group *Group
	Err   error
}

// CycleResult is the outcome of one poll cycle.
type CycleResult struct {
	Tick     uint64
	Groups   []GroupResult
	Aborted  bool // the connection was lost mid cycle
	Duration time.Duration
}

// Err returns the first group error.
func (r CycleResult) Err() error {
	for _, g := range r.Groups {
		if g.Err != nil {
			return g.Err
		}
	}
	return nil
}

// Poll runs one cycle: reads the due groups, decodes them and runs the hooks.
/*
	A failing block marks its datapoints stale and the cycle goes on. A lost
	connection ends the cycle early, every group not yet read is marked stale
	and PollOnce groups become due again. Hooks run in every case, only a
	cancelled ctx skips them.
*/
func (d *Device) Poll(ctx context.Context) (CycleResult, error) {
	d.cycle.Lock()
	defer d.cycle.Unlock()

	d.tick++
	res := CycleResult{Tick: d.tick}
	begin := time.Now()

	if gen := d.transport.Generation(); gen != d.generation {
		// the line was lost since our last cycle, possibly by another device
		d.generation = gen
		d.sched.Reset()
	}

	due := d.sched.Schedule(d.tick)
	for i, g := range due {
		err := d.readGroup(ctx, d.table.index[g])
		res.Groups = append(res.Groups, GroupResult{Group: g, Err: err})
		if err == nil {
			d.sched.MarkRead(g)
			continue
		}
		if ctx.Err() != nil {
			res.Duration = time.Since(begin)
			return res, ctx.Err()
		}
		d.logger.Warn().Err(err).Str("group", g.Name).Str("kind", KindOf(err).String()).Msg("group read failed")
		if errors.Is(err, ErrConnectionLost) {
			d.sched.Reset()
			d.generation = d.transport.Generation()
			res.Aborted = true
			for _, rest := range due[i+1:] {
				d.markStale(d.table.index[rest])
				res.Groups = append(res.Groups, GroupResult{Group: rest, Err: err})
			}
			break
		}
	}

	d.runHooks(res)
	res.Duration = time.Since(begin)

	result := "ok"
	if res.Aborted {
		result = "aborted"
	} else if res.Err() != nil {
		result = "partial"
	}
	d.opts.metrics.observeCycle(d.name, result)
	return res, nil
}

func (d *Device) runHooks(res CycleResult) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.firstReadDone && d.sched.OnceComplete() && (d.sched.hasOnce() || res.Err() == nil) {
		d.firstReadDone = true
		if d.model.AfterFirstRead != nil {
			d.logger.Debug().Msg("after first read")
			d.model.AfterFirstRead(d)
		}
	}
	if d.model.AfterRead != nil {
		d.model.AfterRead(d)
	}
}

// readGroup reads every block of a group. Blocks after a failed one are
// still read, unless the connection is gone.
func (d *Device) readGroup(ctx context.Context, gt *groupTable) error {
	var first error
	for i, b := range gt.blocks {
		data, err := d.readBlock(ctx, gt.group.RegisterType, b)
		if err == nil {
			err = d.apply(gt, i, data)
		} else {
			d.logger.Debug().Err(err).Str("group", gt.group.Name).Uint16("start", b.Start).Uint16("count", b.Count).Msg("block read failed")
			d.staleAll(gt.blockPoints[i])
		}
		if err == nil {
			continue
		}
		if first == nil {
			first = err
		}
		if errors.Is(err, ErrConnectionLost) || ctx.Err() != nil {
			for _, rest := range gt.blockPoints[i+1:] {
				d.staleAll(rest)
			}
			break
		}
	}
	d.opts.metrics.observeGroup(d.name, gt.group.Name, first, d.countStale(gt))
	return first
}

func (d *Device) readBlock(ctx context.Context, rt RegisterType, b Block) ([]byte, error) {
	slave := d.opts.slaveID
	var data []byte
	var err error
	switch rt {
	case RegisterTypeCoil:
		data, err = d.transport.ReadCoils(ctx, slave, b.Start, b.Count)
	case RegisterTypeDiscreteInput:
		data, err = d.transport.ReadDiscreteInputs(ctx, slave, b.Start, b.Count)
	case RegisterTypeInputRegister:
		data, err = d.transport.ReadInputRegisters(ctx, slave, b.Start, b.Count)
	case RegisterTypeHoldingRegister:
		data, err = d.transport.ReadHoldingRegisters(ctx, slave, b.Start, b.Count)
	default:
		return nil, newError(KindConfig, d.name, fmt.Errorf("unsupported register type: %v", rt))
	}
	if err != nil {
		return nil, errors.Wrapf(err, "read %s [%d,%d)", rt, b.Start, b.End())
	}

	want := int(b.Count) * 2
	if rt.isBit() {
		want = (int(b.Count) + 7) / 8
	}
	if len(data) < want {
		return nil, newError(KindProtocol, d.name, fmt.Errorf("read %s [%d,%d): want %d bytes, got %d", rt, b.Start, b.End(), want, len(data)))
	}
	return data, nil
}

// apply decodes the datapoints of block i. A datapoint that fails to decode
// turns stale, the others still update.
func (d *Device) apply(gt *groupTable, i int, data []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	var first error
	now := time.Now()
	for _, p := range gt.blockPoints[i] {
		v, err := decode(p, data, gt.blocks[i].Start)
		if err != nil {
			p.stale = true
			if first == nil {
				first = newError(KindProtocol, d.name, errors.Wrapf(err, "decode %s", p.Name))
			}
			continue
		}
		p.value = v
		p.stale = false
		p.updated = now
	}
	return first
}

func (d *Device) markStale(gt *groupTable) {
	for _, ps := range gt.blockPoints {
		d.staleAll(ps)
	}
	d.opts.metrics.observeGroup(d.name, gt.group.Name, ErrConnectionLost, d.countStale(gt))
}

func (d *Device) staleAll(ps []*Datapoint) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, p := range ps {
		p.stale = true
	}
}

func (d *Device) countStale(gt *groupTable) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	n := 0
	for _, p := range gt.points {
		if p.stale {
			n++
		}
	}
	return n
}
