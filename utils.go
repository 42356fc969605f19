package modbusdevices

import (
	"encoding/binary"
	"fmt"
	"math"
)

// parseDataToFloat64 transform data to float64
func parseDataToFloat64(data []byte, dataType DataType, order OrderType) (float64, error) {
	need := 2
	if dataType == DataTypeU32 || dataType == DataTypeS32 {
		need = 4
	}
	if len(data) < need {
		return 0, fmt.Errorf("need %d bytes for %s, got %d", need, dataType, len(data))
	}
	switch dataType {
	case DataTypeU16:
		return float64(binary.BigEndian.Uint16(data)), nil
	case DataTypeS16:
		return float64(int16(binary.BigEndian.Uint16(data))), nil
	case DataTypeU32:
		return float64(binaryUint32(data, order)), nil
	case DataTypeS32:
		return float64(int32(binaryUint32(data, order))), nil
	default:
		return 0, fmt.Errorf("unsupported data type: %s", dataType)
	}
}

// binaryUint32 honours the word order without touching data
func binaryUint32(data []byte, order OrderType) uint32 {
	hi, lo := binary.BigEndian.Uint16(data[0:2]), binary.BigEndian.Uint16(data[2:4])
	if order == OrderTypeLittleEndian {
		hi, lo = lo, hi
	}
	return uint32(hi)<<16 | uint32(lo)
}

// byte2String convert registers to string, stops at the first NUL
func byte2String(data []byte) string {
	for i, b := range data {
		if b == 0x00 {
			return string(data[:i])
		}
	}
	return string(data)
}

// bitAt reads bit n of packed coil/discrete input data, LSB first
func bitAt(data []byte, n uint16) (bool, error) {
	if int(n/8) >= len(data) {
		return false, fmt.Errorf("bit %d outside %d bytes", n, len(data))
	}
	return data[n/8]&(1<<(n%8)) != 0, nil
}

// decode the datapoint from the data of the block starting at start
func decode(p *Datapoint, data []byte, start uint16) (Value, error) {
	offset := p.Address - start
	if p.group.RegisterType.isBit() {
		on, err := bitAt(data, offset)
		if err != nil {
			return Value{}, err
		}
		return BoolValue(on), nil
	}

	from, to := int(offset)*2, int(offset+p.length())*2
	if to > len(data) {
		return Value{}, fmt.Errorf("%s needs bytes [%d,%d), block has %d", p.Name, from, to, len(data))
	}
	raw := data[from:to]

	switch dt := p.dataType(); dt {
	case DataTypeString:
		return TextValue(byte2String(raw)), nil
	case DataTypeBit:
		word := binary.BigEndian.Uint16(raw)
		return BoolValue(word>>p.BitIndex&1 == 1), nil
	default:
		before, err := parseDataToFloat64(raw, dt, p.OrderType)
		if err != nil {
			return Value{}, err
		}
		return NumberValue(cal(before, p.scaling())), nil
	}
}

// encode the presented value into the raw register value
func encode(p *Datapoint, v float64) (uint16, error) {
	raw := math.Round(v / p.scaling())
	switch p.dataType() {
	case DataTypeU16:
		if raw < 0 || raw > math.MaxUint16 {
			return 0, newError(KindOutOfRange, "encode "+p.Name, fmt.Errorf("%v does not fit u16", raw))
		}
		return uint16(raw), nil
	case DataTypeS16:
		if raw < math.MinInt16 || raw > math.MaxInt16 {
			return 0, newError(KindOutOfRange, "encode "+p.Name, fmt.Errorf("%v does not fit s16", raw))
		}
		return uint16(int16(raw)), nil
	default:
		return 0, newError(KindNotWritable, "encode "+p.Name, fmt.Errorf("%s is not a single register type", p.dataType()))
	}
}

// cal applies the scaling, rounded to the precision the scaling implies
func cal(before, c float64) float64 {
	point := 1 / c
	return math.Round(before*c*point) / point
}
