package zcl

import (
	"encoding/binary"
	"fmt"
	"math"
	"sort"
)

// ZCL data type IDs
const (
	TypeNoData     uint8 = 0x00
	TypeBool       uint8 = 0x10
	TypeBitmap8    uint8 = 0x18
	TypeBitmap16   uint8 = 0x19
	TypeBitmap24   uint8 = 0x1A
	TypeBitmap32   uint8 = 0x1B
	TypeUint8      uint8 = 0x20
	TypeUint16     uint8 = 0x21
	TypeUint24     uint8 = 0x22
	TypeUint32     uint8 = 0x23
	TypeUint40     uint8 = 0x24
	TypeUint48     uint8 = 0x25
	TypeInt8       uint8 = 0x28
	TypeInt16      uint8 = 0x29
	TypeInt24      uint8 = 0x2A
	TypeInt32      uint8 = 0x2B
	TypeEnum8      uint8 = 0x30
	TypeEnum16     uint8 = 0x31
	TypeOctetStr   uint8 = 0x41
	TypeCharStr    uint8 = 0x42
	TypeOctetStr16 uint8 = 0x43
	TypeCharStr16  uint8 = 0x44
)

// typeInfo describes the wire shape of a ZCL type.
// size is the fixed width in bytes; -1 marks a length-prefixed type whose
// prefix width is given by prefix.
type typeInfo struct {
	name   string
	size   int
	prefix int
	signed bool
	text   bool
	flag   bool
}

var typeTable = map[uint8]typeInfo{
	TypeNoData:     {name: "nodata", size: 0},
	TypeBool:       {name: "bool", size: 1, flag: true},
	TypeBitmap8:    {name: "map8", size: 1},
	TypeBitmap16:   {name: "map16", size: 2},
	TypeBitmap24:   {name: "map24", size: 3},
	TypeBitmap32:   {name: "map32", size: 4},
	TypeUint8:      {name: "uint8", size: 1},
	TypeUint16:     {name: "uint16", size: 2},
	TypeUint24:     {name: "uint24", size: 3},
	TypeUint32:     {name: "uint32", size: 4},
	TypeUint40:     {name: "uint40", size: 5},
	TypeUint48:     {name: "uint48", size: 6},
	TypeInt8:       {name: "int8", size: 1, signed: true},
	TypeInt16:      {name: "int16", size: 2, signed: true},
	TypeInt24:      {name: "int24", size: 3, signed: true},
	TypeInt32:      {name: "int32", size: 4, signed: true},
	TypeEnum8:      {name: "enum8", size: 1},
	TypeEnum16:     {name: "enum16", size: 2},
	TypeOctetStr:   {name: "octstr", size: -1, prefix: 1},
	TypeCharStr:    {name: "string", size: -1, prefix: 1, text: true},
	TypeOctetStr16: {name: "octstr16", size: -1, prefix: 2},
	TypeCharStr16:  {name: "string16", size: -1, prefix: 2, text: true},
}

// TypeSize returns the fixed size in bytes of a ZCL type, or -1 for
// length-prefixed and unknown types.
func TypeSize(typeID uint8) int {
	if ti, ok := typeTable[typeID]; ok {
		return ti.size
	}
	return -1
}

// TypeName returns a human-readable name for a ZCL type.
func TypeName(typeID uint8) string {
	if ti, ok := typeTable[typeID]; ok {
		return ti.name
	}
	return fmt.Sprintf("0x%02X", typeID)
}

// KnownType reports whether typeID is a type this package can encode.
func KnownType(typeID uint8) bool {
	_, ok := typeTable[typeID]
	return ok
}

// IsString reports whether typeID is a length-prefixed string type.
func IsString(typeID uint8) bool {
	ti, ok := typeTable[typeID]
	return ok && ti.size < 0
}

// TypeByName resolves a type name as returned by TypeName.
// "char_string" and "octet_string" are accepted as aliases.
func TypeByName(name string) (uint8, bool) {
	switch name {
	case "char_string":
		return TypeCharStr, true
	case "octet_string":
		return TypeOctetStr, true
	}
	for id, ti := range typeTable {
		if ti.name == name {
			return id, true
		}
	}
	return 0, false
}

// TypeNames returns the sorted list of supported type names.
func TypeNames() []string {
	names := make([]string, 0, len(typeTable))
	for _, ti := range typeTable {
		names = append(names, ti.name)
	}
	sort.Strings(names)
	return names
}

// ZeroValue returns the wire encoding of the zero value of a type:
// all-zero bytes for fixed types, an empty string for string types.
func ZeroValue(typeID uint8) []byte {
	ti, ok := typeTable[typeID]
	if !ok {
		return nil
	}
	if ti.size >= 0 {
		return make([]byte, ti.size)
	}
	return make([]byte, ti.prefix)
}

// DecodeValue decodes a ZCL typed value from raw bytes, returning the Go value and bytes consumed.
// Integers decode to uint64 or int64, strings to string or []byte.
func DecodeValue(typeID uint8, data []byte) (interface{}, int, error) {
	ti, ok := typeTable[typeID]
	if !ok {
		return nil, 0, fmt.Errorf("zcl: unsupported type 0x%02X", typeID)
	}
	if ti.size == 0 {
		return nil, 0, nil
	}
	if ti.size < 0 {
		return decodeString(ti, data)
	}
	if len(data) < ti.size {
		return nil, 0, fmt.Errorf("zcl: not enough data for type 0x%02X: need %d, have %d", typeID, ti.size, len(data))
	}

	var u uint64
	for i := ti.size - 1; i >= 0; i-- {
		u = u<<8 | uint64(data[i])
	}
	switch {
	case ti.flag:
		return u != 0, 1, nil
	case ti.signed:
		shift := uint(64 - 8*ti.size)
		return int64(u<<shift) >> shift, ti.size, nil
	}
	return u, ti.size, nil
}

func decodeString(ti typeInfo, data []byte) (interface{}, int, error) {
	if len(data) < ti.prefix {
		return nil, 0, fmt.Errorf("zcl: no length prefix for %s", ti.name)
	}
	var length, invalid int
	if ti.prefix == 1 {
		length, invalid = int(data[0]), 0xFF
	} else {
		length, invalid = int(binary.LittleEndian.Uint16(data[:2])), 0xFFFF
	}
	if length == invalid {
		return nil, ti.prefix, nil
	}
	end := ti.prefix + length
	if len(data) < end {
		return nil, 0, fmt.Errorf("zcl: %s truncated: need %d, have %d", ti.name, length, len(data)-ti.prefix)
	}
	if ti.text {
		return string(data[ti.prefix:end]), end, nil
	}
	b := make([]byte, length)
	copy(b, data[ti.prefix:end])
	return b, end, nil
}

// EncodeValue encodes a Go value into ZCL wire format.
// Character strings accept string, octet strings accept []byte.
func EncodeValue(typeID uint8, val interface{}) ([]byte, error) {
	ti, ok := typeTable[typeID]
	if !ok {
		return nil, fmt.Errorf("zcl: encode not implemented for type 0x%02X", typeID)
	}

	switch {
	case ti.size == 0:
		return nil, nil
	case ti.size < 0:
		return encodeString(ti, val)
	case ti.flag:
		v, ok := toBool(val)
		if !ok {
			return nil, fmt.Errorf("zcl: cannot convert %T to bool", val)
		}
		if v {
			return []byte{1}, nil
		}
		return []byte{0}, nil
	case ti.signed:
		v, ok := toInt64(val)
		if !ok {
			return nil, fmt.Errorf("zcl: cannot convert %T to %s", val, ti.name)
		}
		bits := uint(8 * ti.size)
		lo, hi := -int64(1)<<(bits-1), int64(1)<<(bits-1)-1
		if v < lo || v > hi {
			return nil, fmt.Errorf("zcl: value %d overflows %s (range %d..%d)", v, ti.name, lo, hi)
		}
		return putLE(uint64(v), ti.size), nil
	default:
		v, ok := toUint64(val)
		if !ok {
			return nil, fmt.Errorf("zcl: cannot convert %T to %s", val, ti.name)
		}
		if ti.size < 8 {
			if max := uint64(1)<<(8*uint(ti.size)) - 1; v > max {
				return nil, fmt.Errorf("zcl: value %d overflows %s (max %d)", v, ti.name, max)
			}
		}
		return putLE(v, ti.size), nil
	}
}

func encodeString(ti typeInfo, val interface{}) ([]byte, error) {
	var raw []byte
	if ti.text {
		s, ok := val.(string)
		if !ok {
			return nil, fmt.Errorf("zcl: cannot convert %T to string", val)
		}
		raw = []byte(s)
	} else {
		b, ok := val.([]byte)
		if !ok {
			return nil, fmt.Errorf("zcl: cannot convert %T to []byte", val)
		}
		raw = b
	}

	max := 254
	if ti.prefix == 2 {
		max = 65534
	}
	if len(raw) > max {
		return nil, fmt.Errorf("zcl: data too long for %s: %d (max %d)", ti.name, len(raw), max)
	}
	buf := make([]byte, ti.prefix+len(raw))
	if ti.prefix == 1 {
		buf[0] = uint8(len(raw))
	} else {
		binary.LittleEndian.PutUint16(buf[:2], uint16(len(raw)))
	}
	copy(buf[ti.prefix:], raw)
	return buf, nil
}

func putLE(v uint64, size int) []byte {
	buf := make([]byte, size)
	for i := 0; i < size; i++ {
		buf[i] = byte(v >> (8 * uint(i)))
	}
	return buf
}

func toBool(v interface{}) (bool, bool) {
	switch val := v.(type) {
	case bool:
		return val, true
	case float64:
		return val != 0, true
	case int:
		return val != 0, true
	}
	return false, false
}

func toUint64(v interface{}) (uint64, bool) {
	switch val := v.(type) {
	case uint8:
		return uint64(val), true
	case uint16:
		return uint64(val), true
	case uint32:
		return uint64(val), true
	case uint64:
		return val, true
	case uint:
		return uint64(val), true
	case int:
		if val < 0 {
			return 0, false
		}
		return uint64(val), true
	case int64:
		if val < 0 {
			return 0, false
		}
		return uint64(val), true
	case float64:
		if val < 0 || val != math.Trunc(val) {
			return 0, false
		}
		return uint64(val), true
	}
	return 0, false
}

func toInt64(v interface{}) (int64, bool) {
	switch val := v.(type) {
	case int8:
		return int64(val), true
	case int16:
		return int64(val), true
	case int32:
		return int64(val), true
	case int64:
		return val, true
	case int:
		return int64(val), true
	case uint8:
		return int64(val), true
	case uint16:
		return int64(val), true
	case uint32:
		return int64(val), true
	case uint64:
		if val > math.MaxInt64 {
			return 0, false
		}
		return int64(val), true
	case float64:
		if val > math.MaxInt64 || val < math.MinInt64 || val != math.Trunc(val) {
			return 0, false
		}
		return int64(val), true
	}
	return 0, false
}
