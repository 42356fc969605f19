package modbusdevices

// ConnType connection type
type ConnType uint8

const (
	ConnTypeTCP ConnType = 1
	ConnTypeRTU ConnType = 2
)

// DataType datapoint data type
type DataType uint8

const (
	DataTypeDefault DataType = iota // default = Bit on bit groups, U16 on register groups
	DataTypeU16
	DataTypeS16
	DataTypeU32
	DataTypeS32
	DataTypeString
	DataTypeBit
)

func (t DataType) String() string {
	switch t {
	case DataTypeU16:
		return "u16"
	case DataTypeS16:
		return "s16"
	case DataTypeU32:
		return "u32"
	case DataTypeS32:
		return "s32"
	case DataTypeString:
		return "string"
	case DataTypeBit:
		return "bit"
	default:
		return "default"
	}
}

// RegisterType register type, the access mode of a group
type RegisterType uint8

const (
	RegisterTypeNone            RegisterType = iota // virtual, values are computed locally
	RegisterTypeCoil                                // Coil (0x01-Read single or multiple, 0x05-Write single)
	RegisterTypeDiscreteInput                       // Discrete Input (0x02-Read single or multiple)
	RegisterTypeInputRegister                       // Input Register (0x04-Read single or multiple)
	RegisterTypeHoldingRegister                     // Holding Register (0x03-Read single or multiple, 0x06-Write single)
)

func (r RegisterType) String() string {
	switch r {
	case RegisterTypeCoil:
		return "coil"
	case RegisterTypeDiscreteInput:
		return "discrete_input"
	case RegisterTypeInputRegister:
		return "input_register"
	case RegisterTypeHoldingRegister:
		return "holding_register"
	default:
		return "none"
	}
}

// isBit reports whether the register type addresses single bits.
func (r RegisterType) isBit() bool {
	return r == RegisterTypeCoil || r == RegisterTypeDiscreteInput
}

// maxQuantity is the largest read the protocol allows for one request.
func (r RegisterType) maxQuantity() uint16 {
	if r.isBit() {
		return 2000
	}
	return 125
}

// PollMode poll cadence of a group
type PollMode uint8

const (
	PollOn   PollMode = iota // read every cycle
	PollOnce                 // read once per connection
	PollOff                  // never read over the wire
)

func (p PollMode) String() string {
	switch p {
	case PollOnce:
		return "once"
	case PollOff:
		return "off"
	default:
		return "on"
	}
}

// OrderType word order of 32 bit values
type OrderType uint8

const (
	OrderTypeDefault      OrderType = iota // default = BigEndian
	OrderTypeBigEndian                     // high word first
	OrderTypeLittleEndian                  // low word first
)
