package swegon

import (
	"strings"

	"golang.org/x/exp/slices"

	mb "github.com/TwoMental/modbus-devices"
)

// conductorW1AfterFirstRead fills in identity from the device info group.
func conductorW1AfterFirstRead(d *mb.Device) {
	if p := d.Datapoint(GroupDeviceInfo, "Component Name"); p != nil && p.Value().Truthy() {
		d.SetModel("Conductor " + p.Value().String())
	}
	if p := d.Datapoint(GroupDeviceInfo, "HW Serial No"); p != nil && p.Value().Truthy() {
		d.SetSerialNumber(p.Value().String())
	}
	if p := d.Datapoint(GroupDeviceInfo, "SW Version"); p != nil && p.Value().Truthy() {
		d.SetSWVersion(p.Value().String())
	}
}

// conductorW1AfterRead derives Active Alarms and Current Alarms.
func conductorW1AfterRead(d *mb.Device) {
	attrs := activeAlarms(d.Datapoints(GroupAlarms))

	if active := d.Datapoint(GroupAlarms, ActiveAlarms); active != nil {
		active.SetAttributes(attrs)
		// true means alarms are present
		if none := d.Datapoint(GroupAlarms, NoActiveAlarms); none != nil {
			active.SetValue(mb.BoolValue(!none.Value().Truthy()))
			if none.Stale() {
				active.MarkStale()
			}
		}
	}
	if ui := d.Datapoint(GroupUI, CurrentAlarms); ui != nil {
		ui.SetValue(mb.TextValue(alarmSummary(attrs)))
	}
}

// activeAlarms collects the alarms that are set, skipping the two summary bits.
func activeAlarms(alarms []*mb.Datapoint) *mb.Attributes {
	attrs := mb.NewAttributes()
	for _, p := range alarms {
		if p.Name == NoActiveAlarms || p.Name == ActiveAlarms {
			continue
		}
		if p.Value().Truthy() {
			attrs.Set(p.Name, "ALARM")
		}
	}
	return attrs
}

func alarmSummary(attrs *mb.Attributes) string {
	names := attrs.Keys()
	if len(names) == 0 {
		return "None"
	}
	slices.Sort(names)
	return strings.Join(names, ", ")
}
