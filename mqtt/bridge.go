package mqtt

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	mb "github.com/TwoMental/modbus-devices"
)

const (
	stateOn  = "ON"
	stateOff = "OFF"

	online  = "online"
	offline = "offline"
)

// Bridge publishes the datapoints of one device and forwards writes to it.
//
//	<prefix>/<device>/availability
//	<prefix>/<device>/<group>/availability
//	<prefix>/<device>/<group>/<point>/state
//	<prefix>/<device>/<group>/<point>/attributes
//	<prefix>/<device>/<group>/<point>/set
type Bridge struct {
	dev    *mb.Device
	pub    Publisher
	prefix string
	logger zerolog.Logger

	mu   sync.Mutex
	last map[string]string
}

func NewBridge(dev *mb.Device, pub Publisher, prefix string, logger zerolog.Logger) *Bridge {
	return &Bridge{
		dev:    dev,
		pub:    pub,
		prefix: strings.TrimSuffix(prefix, "/"),
		logger: logger.With().Str("device", dev.Name()).Logger(),
		last:   make(map[string]string),
	}
}

// AvailabilityTopic of the device, also fit for a last will.
func (b *Bridge) AvailabilityTopic() string {
	return b.prefix + "/" + Slug(b.dev.Name()) + "/availability"
}

func (b *Bridge) GroupAvailabilityTopic(g *mb.Group) string {
	return strings.Join([]string{b.prefix, Slug(b.dev.Name()), Slug(g.Name), "availability"}, "/")
}

func (b *Bridge) topic(g *mb.Group, name, leaf string) string {
	return strings.Join([]string{b.prefix, Slug(b.dev.Name()), Slug(g.Name), Slug(name), leaf}, "/")
}

// Start subscribes to the set topic of every writable datapoint and returns
// the first failure. Writes received afterwards run with ctx.
func (b *Bridge) Start(ctx context.Context) error {
	var first error
	for _, ps := range b.dev.Snapshot() {
		if !settable(ps) {
			continue
		}
		ps := ps
		topic := b.topic(ps.Group, ps.Name, "set")
		err := b.pub.Subscribe(topic, func(payload string) {
			if err := b.handleSet(ctx, ps, payload); err != nil {
				b.logger.Warn().Err(err).Str("topic", topic).Str("payload", payload).Msg("set failed")
			}
		})
		if err != nil && first == nil {
			first = err
		}
	}
	return first
}

func settable(ps mb.PointState) bool {
	if !ps.Writable {
		return false
	}
	switch ps.Entity.(type) {
	case mb.Number, mb.Select:
		return true
	}
	return ps.Group.RegisterType == mb.RegisterTypeCoil
}

func (b *Bridge) handleSet(ctx context.Context, ps mb.PointState, payload string) error {
	payload = strings.TrimSpace(payload)
	if _, ok := ps.Entity.(mb.Select); ok {
		return b.dev.WriteOption(ctx, ps.Group, ps.Name, payload)
	}
	if ps.Group.RegisterType == mb.RegisterTypeCoil {
		switch strings.ToUpper(payload) {
		case stateOn:
			payload = "1"
		case stateOff:
			payload = "0"
		}
	}
	v, err := strconv.ParseFloat(payload, 64)
	if err != nil {
		return errors.Wrap(err, "parse payload")
	}
	return b.dev.Write(ctx, ps.Group, ps.Name, v)
}

// Publish sends what changed since the last call. A cycle that lost the
// connection, or in which no group could be read, makes the device offline.
// A group is offline while any of its datapoints is stale.
func (b *Bridge) Publish(res mb.CycleResult) error {
	var first error
	keep := func(err error) {
		if err != nil && first == nil {
			first = err
		}
	}

	keep(b.send(b.AvailabilityTopic(), availability(res)))

	var groups []*mb.Group
	stale := make(map[*mb.Group]bool)
	for _, ps := range b.dev.Snapshot() {
		if ps.Value.IsSet() || ps.Stale {
			if _, seen := stale[ps.Group]; !seen {
				groups = append(groups, ps.Group)
			}
			stale[ps.Group] = stale[ps.Group] || ps.Stale
		}
		if !ps.Value.IsSet() {
			continue
		}
		keep(b.send(b.topic(ps.Group, ps.Name, "state"), State(ps)))
		// an emptied set is sent too, or the retained alarms would linger
		if ps.Attributes != nil {
			data, err := json.Marshal(ps.Attributes)
			if err != nil {
				keep(errors.Wrap(err, ps.Name))
				continue
			}
			keep(b.send(b.topic(ps.Group, ps.Name, "attributes"), string(data)))
		}
	}
	for _, g := range groups {
		state := online
		if stale[g] {
			state = offline
		}
		keep(b.send(b.GroupAvailabilityTopic(g), state))
	}
	return first
}

// send publishes payload retained unless it was the last payload sent on topic.
func (b *Bridge) send(topic, payload string) error {
	b.mu.Lock()
	prev, ok := b.last[topic]
	b.mu.Unlock()
	if ok && prev == payload {
		return nil
	}
	if err := b.pub.Publish(topic, 0, true, payload); err != nil {
		return err
	}
	b.mu.Lock()
	b.last[topic] = payload
	b.mu.Unlock()
	b.logger.Debug().Str("topic", topic).Str("payload", payload).Msg("published")
	return nil
}

func availability(res mb.CycleResult) string {
	if res.Aborted {
		return offline
	}
	if len(res.Groups) == 0 {
		return online
	}
	for _, g := range res.Groups {
		if g.Err == nil {
			return online
		}
	}
	return offline
}

// State renders a value as published: labels for selects and enums,
// ON/OFF for binary values.
func State(ps mb.PointState) string {
	v := ps.Value
	if v.IsText() {
		return v.String()
	}
	switch e := ps.Entity.(type) {
	case mb.BinarySensor:
		return onOff(v.Truthy())
	case mb.Select:
		if label, ok := e.Options[int(v.Float())]; ok {
			return label
		}
	case mb.Sensor:
		if label, ok := e.Enum[int(v.Float())]; ok {
			return label
		}
	}
	if v.IsBool() {
		return onOff(v.Truthy())
	}
	return v.String()
}

func onOff(b bool) string {
	if b {
		return stateOn
	}
	return stateOff
}

// Slug lowercases s and turns every run of other characters into one '_'.
func Slug(s string) string {
	var sb strings.Builder
	sep := false
	for _, r := range strings.ToLower(s) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			if sep && sb.Len() > 0 {
				sb.WriteByte('_')
			}
			sb.WriteRune(r)
			sep = false
			continue
		}
		sep = true
	}
	return sb.String()
}
