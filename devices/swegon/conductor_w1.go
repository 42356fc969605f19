// Package swegon holds register maps of Swegon devices.
package swegon

import (
	mb "github.com/TwoMental/modbus-devices"
)

// Conductor W1 register set (basic, no airflow control).
//
//	1x discrete inputs   status and alarms
//	3x input registers   device info and sensors
//	4x holding registers commands and configuration
//
// Addresses are 0-indexed, 1x0001 is address 0.
var (
	GroupStatus = mb.NewGroup("status", mb.RegisterTypeDiscreteInput, mb.PollOn)
	GroupAlarms = mb.NewGroup("alarms", mb.RegisterTypeDiscreteInput, mb.PollOn)

	GroupDeviceInfo = mb.NewGroup("device_info", mb.RegisterTypeInputRegister, mb.PollOnce)
	GroupSensors    = mb.NewGroup("sensors", mb.RegisterTypeInputRegister, mb.PollOn)
	GroupOutputs    = mb.NewGroup("outputs", mb.RegisterTypeInputRegister, mb.PollOn)

	GroupCommands  = mb.NewGroup("commands", mb.RegisterTypeHoldingRegister, mb.PollOn)
	GroupSetpoints = mb.NewGroup("setpoints", mb.RegisterTypeHoldingRegister, mb.PollOn)

	// GroupUI holds values computed by the hooks.
	GroupUI = mb.NewGroup("ui", mb.RegisterTypeNone, mb.PollOff)
)

const (
	NoActiveAlarms = "No Active Alarms"
	ActiveAlarms   = "Active Alarms"
	CurrentAlarms  = "Current Alarms"
)

// ConductorW1 is the Swegon Conductor W1 room controller.
var ConductorW1 = mb.Model{
	Manufacturer:   "Swegon",
	Model:          "Conductor W1",
	Datapoints:     conductorW1Datapoints,
	AfterFirstRead: conductorW1AfterFirstRead,
	AfterRead:      conductorW1AfterRead,
}

const (
	celsius     = "°C"
	percent     = "%"
	millivolt   = "mV"
	minutes     = "min"
	temperature = "temperature"
	measurement = "measurement"
)

func tempSensor(disabled bool) mb.Sensor {
	return mb.Sensor{EntityInfo: mb.EntityInfo{
		DeviceClass:       temperature,
		StateClass:        measurement,
		Units:             celsius,
		DisabledByDefault: disabled,
	}}
}

func tempNumber(lo, hi float64) mb.Number {
	return mb.Number{
		EntityInfo: mb.EntityInfo{DeviceClass: temperature, Units: celsius},
		Min:        lo,
		Max:        hi,
		Step:       1,
	}
}

func minutesNumber(hi float64, icon string) mb.Number {
	return mb.Number{EntityInfo: mb.EntityInfo{Units: minutes, Icon: icon}, Max: hi, Step: 1}
}

func analog(address uint16, name, units, icon string) mb.Datapoint {
	return mb.Datapoint{Name: name, Address: address, Entity: mb.Sensor{EntityInfo: mb.EntityInfo{
		Units:             units,
		Icon:              icon,
		DisabledByDefault: true,
	}}}
}

func pidTerm(address uint16, name string) mb.Datapoint {
	return mb.Datapoint{Name: name, Address: address, Scaling: 0.01, Entity: mb.Number{
		EntityInfo: mb.EntityInfo{Icon: "mdi:tune", DisabledByDefault: true},
		Min:        0.1,
		Max:        100,
		Step:       0.01,
	}}
}

func alarm(address uint16, name string) mb.Datapoint {
	return mb.Datapoint{Name: name, Address: address}
}

func conductorW1Datapoints(t *mb.Table) {
	t.Add(GroupStatus,
		mb.Datapoint{Name: "Condensation", Address: 0, Entity: mb.BinarySensor{EntityInfo: mb.EntityInfo{DeviceClass: "moisture"}}},
		mb.Datapoint{Name: "Relay State", Address: 1, Entity: mb.BinarySensor{}},
		mb.Datapoint{Name: "Occupancy Switch", Address: 2, Entity: mb.BinarySensor{EntityInfo: mb.EntityInfo{DeviceClass: "occupancy"}}},
		mb.Datapoint{Name: "Window Switch", Address: 3, Entity: mb.BinarySensor{EntityInfo: mb.EntityInfo{DeviceClass: "window"}}},
		mb.Datapoint{Name: "Motion", Address: 4, Entity: mb.BinarySensor{EntityInfo: mb.EntityInfo{DeviceClass: "motion"}}},
	)

	// 1x0006-1x0054, 1 on "No Active Alarms" means no alarms
	t.Add(GroupAlarms,
		alarm(5, NoActiveAlarms),
		alarm(6, "No Room Unit 1"),
		alarm(7, "No Room Unit 2"),
		alarm(8, "No Pressure Sensor"),
		alarm(9, "No Supply Flow Sensor"),
		alarm(10, "No Exhaust Flow Sensor"),
		alarm(11, "Room Unit 1 Temperature"),
		alarm(12, "Room Unit 2 Temperature"),
		alarm(13, "Regulator KTY Short Circuit"),
		alarm(14, "Regulator KTY Open Circuit"),
		alarm(15, "Room Unit Low Battery"),
		alarm(16, "PI Controller Overload"),
		alarm(17, "Setpoint Not Reached"),
		alarm(20, "No Device List"),
		alarm(21, "AC Overload"),
		alarm(22, "System Fault"),
		alarm(23, "No Serial Number"),
		// need a hardware reset
		alarm(25, "Short Circuit X11"),
		alarm(26, "Short Circuit X12"),
		alarm(27, "Short Circuit X13"),
		alarm(28, "Short Circuit X14"),
		alarm(29, "SPI Flash Broken"),
		alarm(30, "Radio Chip Broken"),
		alarm(31, "Parameter File Revision"),
		alarm(32, "Parameter File Format"),
		alarm(33, "No ModBus ID"),
		alarm(34, "No Application"),
		alarm(35, "No Parameters"),
		alarm(36, "Parameter Missing"),
		alarm(37, "Parameter Value Error"),
		alarm(38, "Parameter File Size"),
		alarm(39, "Wrong Parameter File"),
		alarm(40, "Check Duct Group SM"),
		alarm(41, "Check Duct Group DC"),
		alarm(42, "Previous Parameters Lost"),
		alarm(43, "Factory Parameters Take Up"),
		// auto reset
		alarm(46, "No Supply Pressure from AHU"),
		alarm(47, "No Exhaust Pressure from AHU"),
		alarm(48, "Supply Duct 100% Open"),
		alarm(49, "Exhaust Duct 100% Open"),
		alarm(50, "Low Voltage Detect"),
		alarm(52, "Duct Group Member Missing"),
		alarm(53, "Negative Pressure"),
		mb.Datapoint{Name: ActiveAlarms, Address: 5, Computed: true, Entity: mb.BinarySensor{EntityInfo: mb.EntityInfo{DeviceClass: "problem", Icon: "mdi:bell"}}},
	)

	t.Add(GroupDeviceInfo,
		mb.Datapoint{Name: "Component Name ID", Address: 0},
		mb.Datapoint{Name: "Component Name", Address: 1, Length: 16, DataType: mb.DataTypeString},
		mb.Datapoint{Name: "Application ID", Address: 17},
		mb.Datapoint{Name: "HW Serial No", Address: 18},
		mb.Datapoint{Name: "SW Version", Address: 19},
	)

	clock := func(address uint16, name, units string) mb.Datapoint {
		return mb.Datapoint{Name: name, Address: address, Entity: mb.Sensor{EntityInfo: mb.EntityInfo{
			Units: units, Icon: "mdi:clock-outline", DisabledByDefault: true,
		}}}
	}
	t.Add(GroupSensors,
		mb.Datapoint{Name: "Application State", Address: 21, Entity: mb.Sensor{
			EntityInfo: mb.EntityInfo{Icon: "mdi:state-machine"},
			Enum: map[int]string{
				0: "Init",
				1: "Auto Normal",
				2: "Auto Economy",
				3: "Manual",
				4: "Stand-by",
				5: "Emergency",
				6: "Night Cool",
			},
		}},
		clock(24, "Time Since Boot Years", "years"),
		clock(25, "Time Since Boot Hours", "hours"),
		clock(26, "Time Since Boot Minutes", minutes),
		mb.Datapoint{Name: "Regulator Temperature", Address: 27, Scaling: 0.1, Entity: tempSensor(false)},
		mb.Datapoint{Name: "Room Unit 1 Temperature", Address: 28, Scaling: 0.1, Entity: tempSensor(false)},
		mb.Datapoint{Name: "Room Unit 2 Temperature", Address: 29, Scaling: 0.1, Entity: tempSensor(true)},
		mb.Datapoint{Name: "Temperature Setpoint RU", Address: 30, Entity: mb.Sensor{EntityInfo: mb.EntityInfo{
			DeviceClass: temperature, StateClass: measurement, Units: celsius, Icon: "mdi:thermometer-auto",
		}}},
		mb.Datapoint{Name: "Battery Level RU", Address: 32, Scaling: 0.1, Entity: mb.Sensor{EntityInfo: mb.EntityInfo{
			DeviceClass: "voltage", StateClass: measurement, Units: "V",
		}}},
		mb.Datapoint{Name: "Room Temperature", Address: 59, Entity: tempSensor(false)},
		mb.Datapoint{Name: "Change Over Temperature", Address: 60, Entity: tempSensor(true)},
	)

	t.Add(GroupOutputs,
		analog(36, "Input Analog 1", millivolt, "mdi:sine-wave"),
		analog(37, "Input Analog 2", millivolt, "mdi:sine-wave"),
		analog(38, "Input Analog 3", millivolt, "mdi:sine-wave"),
		analog(39, "Input Analog 4", millivolt, "mdi:sine-wave"),
		analog(40, "Output PWM 1", percent, "mdi:pulse"),
		analog(41, "Output PWM 2", percent, "mdi:pulse"),
		analog(42, "Output PWM 3", percent, "mdi:pulse"),
		analog(43, "Output PWM 4", percent, "mdi:pulse"),
		analog(44, "Output Analog 1", millivolt, "mdi:sine-wave"),
		analog(45, "Output Analog 2", millivolt, "mdi:sine-wave"),
		analog(46, "Output Analog 3", millivolt, "mdi:sine-wave"),
		analog(47, "Output Analog 4", millivolt, "mdi:sine-wave"),
		mb.Datapoint{Name: "PID Water Output", Address: 48, Entity: mb.Sensor{EntityInfo: mb.EntityInfo{Units: percent, Icon: "mdi:water-percent"}}},
		analog(49, "PID ChangeOver Output", percent, "mdi:swap-horizontal"),
		mb.Datapoint{Name: "Cool Water", Address: 52, Entity: mb.Sensor{EntityInfo: mb.EntityInfo{Units: percent, Icon: "mdi:snowflake"}}},
		mb.Datapoint{Name: "Warm Water", Address: 53, Entity: mb.Sensor{EntityInfo: mb.EntityInfo{Units: percent, Icon: "mdi:fire"}}},
	)

	t.Add(GroupCommands,
		mb.Datapoint{Name: "Operating Mode", Address: 1, Entity: mb.Select{
			EntityInfo: mb.EntityInfo{Icon: "mdi:cog"},
			Options: map[int]string{
				1: "Normal",
				3: "Manual",
				4: "Stand-by",
				5: "Emergency",
				6: "Night Cool",
			},
		}},
		mb.Datapoint{Name: "Relay in Emergency", Address: 0, Entity: mb.Select{
			EntityInfo: mb.EntityInfo{Icon: "mdi:electric-switch"},
			Options:    map[int]string{0: "Close", 1: "Open", 2: "No Action"},
		}},
		mb.Datapoint{Name: "Room Number", Address: 2, Entity: mb.Number{
			EntityInfo: mb.EntityInfo{Icon: "mdi:door"},
			Max:        32000,
			Step:       1,
		}},
	)

	t.Add(GroupSetpoints,
		mb.Datapoint{Name: "TC1 Normal Cooling Setpoint", Address: 23, Entity: tempNumber(15, 30)},
		mb.Datapoint{Name: "TH1 Normal Heating Setpoint", Address: 24, Entity: tempNumber(15, 30)},
		mb.Datapoint{Name: "TC2 Economy Cooling Setpoint", Address: 25, Entity: tempNumber(10, 30)},
		mb.Datapoint{Name: "TH2 Economy Heating Setpoint", Address: 26, Entity: tempNumber(10, 30)},
		mb.Datapoint{Name: "Night Cool Temperature Setpoint", Address: 27, Entity: tempNumber(10, 20)},
		mb.Datapoint{Name: "Frost Guard Temperature", Address: 22, Entity: tempNumber(5, 15)},
		mb.Datapoint{Name: "Manual Temperature", Address: 62, Entity: tempNumber(0, 50)},
	)

	switchConfig := map[int]string{0: "Not Used", 1: "Normally Closed", 2: "Normally Open"}
	actuator := map[int]string{1: "NC", 2: "0-10V", 3: "NO"}
	t.Add(mb.GroupConfig,
		mb.Datapoint{Name: "Valve Exercise", Address: 3, Entity: mb.Number{
			EntityInfo: mb.EntityInfo{Units: "h", Icon: "mdi:valve"}, Max: 72, Step: 1,
		}},
		mb.Datapoint{Name: "Motion Timer", Address: 4, Entity: minutesNumber(20, "mdi:timer")},
		mb.Datapoint{Name: "General Warning Time", Address: 5, Entity: minutesNumber(60, "mdi:alarm")},
		mb.Datapoint{Name: "PI Overload Warning Time", Address: 6, Entity: minutesNumber(60, "mdi:alarm")},
		mb.Datapoint{Name: "Setpoint Warning Time", Address: 7, Entity: minutesNumber(60, "mdi:alarm")},
		mb.Datapoint{Name: "System Type", Address: 13, Entity: mb.Select{
			EntityInfo: mb.EntityInfo{Icon: "mdi:hvac"},
			Options:    map[int]string{1: "Heat", 2: "Cool", 3: "Change Over", 4: "Heat+Cool"},
		}},
		mb.Datapoint{Name: "Number of Room Units", Address: 14, Entity: mb.Select{
			EntityInfo: mb.EntityInfo{Icon: "mdi:remote"},
			Options:    map[int]string{1: "One", 2: "Two"},
		}},
		mb.Datapoint{Name: "Window Switch Config", Address: 15, Entity: mb.Select{
			EntityInfo: mb.EntityInfo{Icon: "mdi:window-closed-variant"}, Options: switchConfig,
		}},
		mb.Datapoint{Name: "Occupancy Switch Config", Address: 16, Entity: mb.Select{
			EntityInfo: mb.EntityInfo{Icon: "mdi:account-check"}, Options: switchConfig,
		}},
		mb.Datapoint{Name: "Actuator Type Cool", Address: 17, Entity: mb.Select{
			EntityInfo: mb.EntityInfo{Icon: "mdi:valve"}, Options: actuator,
		}},
		mb.Datapoint{Name: "Actuator Type Heat", Address: 18, Entity: mb.Select{
			EntityInfo: mb.EntityInfo{Icon: "mdi:valve"}, Options: actuator,
		}},
		mb.Datapoint{Name: "Room Unit Min Setpoint", Address: 28, Entity: tempNumber(0, 20)},
		mb.Datapoint{Name: "Room Unit Max Setpoint", Address: 29, Entity: tempNumber(25, 50)},
		mb.Datapoint{Name: "RU Back to Auto State", Address: 34, Entity: minutesNumber(1200, "mdi:timer-refresh")},
		// PID parameters, scale 1:100
		pidTerm(47, "P Term Heat"),
		pidTerm(48, "I Term Heat"),
		pidTerm(49, "P Term Cool"),
		pidTerm(50, "I Term Cool"),
		pidTerm(51, "P Term Change Over"),
		pidTerm(52, "I Term Change Over"),
	)

	t.Add(GroupUI,
		mb.Datapoint{Name: CurrentAlarms, Entity: mb.Sensor{EntityInfo: mb.EntityInfo{Icon: "mdi:bell"}}},
	)
}
