package zcl

import (
	"bytes"
	"testing"
)

func TestEncodeValueFixedWidths(t *testing.T) {
	tests := []struct {
		name   string
		typeID uint8
		val    interface{}
		want   []byte
	}{
		{"uint8", TypeUint8, 0x42, []byte{0x42}},
		{"uint16 little-endian", TypeUint16, 0x1234, []byte{0x34, 0x12}},
		{"uint24", TypeUint24, 0x123456, []byte{0x56, 0x34, 0x12}},
		{"uint32 from float64", TypeUint32, float64(0xDEADBEEF), []byte{0xEF, 0xBE, 0xAD, 0xDE}},
		{"int8 negative", TypeInt8, -1, []byte{0xFF}},
		{"int16 negative", TypeInt16, -100, []byte{0x9C, 0xFF}},
		{"int24 negative", TypeInt24, -2, []byte{0xFE, 0xFF, 0xFF}},
		{"enum8", TypeEnum8, uint8(0x01), []byte{0x01}},
		{"bitmap16", TypeBitmap16, 0x8001, []byte{0x01, 0x80}},
		{"bool true", TypeBool, true, []byte{0x01}},
		{"bool from int", TypeBool, 0, []byte{0x00}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := EncodeValue(tt.typeID, tt.val)
			if err != nil {
				t.Fatalf("EncodeValue: %v", err)
			}
			if !bytes.Equal(got, tt.want) {
				t.Errorf("EncodeValue(%s, %v) = %X, want %X", TypeName(tt.typeID), tt.val, got, tt.want)
			}
		})
	}
}

func TestEncodeValueOverflow(t *testing.T) {
	tests := []struct {
		name   string
		typeID uint8
		val    interface{}
	}{
		{"uint8 256", TypeUint8, 256},
		{"uint16 negative", TypeUint16, -1},
		{"uint24 too big", TypeUint24, 0x1000000},
		{"int8 128", TypeInt8, 128},
		{"int16 -32769", TypeInt16, -32769},
		{"uint8 fractional", TypeUint8, 1.5},
		{"string for uint", TypeUint16, "12"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := EncodeValue(tt.typeID, tt.val); err == nil {
				t.Errorf("EncodeValue(%s, %v) expected error", TypeName(tt.typeID), tt.val)
			}
		})
	}
}

func TestEncodeCharStr(t *testing.T) {
	got, err := EncodeValue(TypeCharStr, "hello world")
	if err != nil {
		t.Fatal(err)
	}
	want := append([]byte{0x0B}, "hello world"...)
	if !bytes.Equal(got, want) {
		t.Errorf("got %X, want %X", got, want)
	}

	if _, err := EncodeValue(TypeCharStr, []byte("x")); err == nil {
		t.Error("expected error for []byte char string")
	}
	if _, err := EncodeValue(TypeCharStr, string(make([]byte, 255))); err == nil {
		t.Error("expected error for 255-byte char string")
	}
}

func TestEncodeOctetStr16(t *testing.T) {
	got, err := EncodeValue(TypeOctetStr16, []byte{0xAA, 0xBB})
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, []byte{0x02, 0x00, 0xAA, 0xBB}) {
		t.Errorf("got %X", got)
	}
}

func TestDecodeValue(t *testing.T) {
	tests := []struct {
		name     string
		typeID   uint8
		data     []byte
		want     interface{}
		consumed int
	}{
		{"uint16", TypeUint16, []byte{0x34, 0x12}, uint64(0x1234), 2},
		{"int16 negative", TypeInt16, []byte{0x9C, 0xFF}, int64(-100), 2},
		{"int24 negative", TypeInt24, []byte{0xFE, 0xFF, 0xFF}, int64(-2), 3},
		{"int8 positive", TypeInt8, []byte{0x7F}, int64(127), 1},
		{"bool", TypeBool, []byte{0x01}, true, 1},
		{"enum8 with trailing data", TypeEnum8, []byte{0x01, 0xFF}, uint64(1), 1},
		{"char string", TypeCharStr, []byte{5, 'H', 'e', 'l', 'l', 'o'}, "Hello", 6},
		{"empty char string", TypeCharStr, []byte{0}, "", 1},
		{"char string16", TypeCharStr16, []byte{2, 0, 'o', 'k'}, "ok", 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, n, err := DecodeValue(tt.typeID, tt.data)
			if err != nil {
				t.Fatalf("DecodeValue: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %v (%T), want %v (%T)", got, got, tt.want, tt.want)
			}
			if n != tt.consumed {
				t.Errorf("consumed %d, want %d", n, tt.consumed)
			}
		})
	}
}

func TestDecodeOctetStr(t *testing.T) {
	got, n, err := DecodeValue(TypeOctetStr, []byte{0x02, 0xCA, 0xFE})
	if err != nil {
		t.Fatal(err)
	}
	b, ok := got.([]byte)
	if !ok || !bytes.Equal(b, []byte{0xCA, 0xFE}) || n != 3 {
		t.Errorf("got %v consumed %d", got, n)
	}
}

func TestDecodeInvalidString(t *testing.T) {
	got, n, err := DecodeValue(TypeCharStr, []byte{0xFF})
	if err != nil {
		t.Fatal(err)
	}
	if got != nil || n != 1 {
		t.Errorf("invalid string: got %v consumed %d, want nil consumed 1", got, n)
	}
}

func TestDecodeTruncated(t *testing.T) {
	if _, _, err := DecodeValue(TypeUint32, []byte{0x01, 0x02}); err == nil {
		t.Error("expected error for short uint32")
	}
	if _, _, err := DecodeValue(TypeCharStr, []byte{0x05, 'a'}); err == nil {
		t.Error("expected error for truncated string")
	}
	if _, _, err := DecodeValue(0xF0, []byte{0x00}); err == nil {
		t.Error("expected error for unsupported type")
	}
}

func TestTypeByName(t *testing.T) {
	for _, name := range TypeNames() {
		id, ok := TypeByName(name)
		if !ok {
			t.Errorf("TypeByName(%q) not found", name)
			continue
		}
		if TypeName(id) != name {
			t.Errorf("TypeName(TypeByName(%q)) = %q", name, TypeName(id))
		}
	}
	if id, ok := TypeByName("char_string"); !ok || id != TypeCharStr {
		t.Errorf("alias char_string = 0x%02X, %v", id, ok)
	}
	if _, ok := TypeByName("float128"); ok {
		t.Error("unexpected type float128")
	}
}

func TestZeroValue(t *testing.T) {
	if got := ZeroValue(TypeUint24); !bytes.Equal(got, []byte{0, 0, 0}) {
		t.Errorf("uint24 zero = %X", got)
	}
	if got := ZeroValue(TypeCharStr16); !bytes.Equal(got, []byte{0, 0}) {
		t.Errorf("string16 zero = %X", got)
	}
	if got := ZeroValue(0xF0); got != nil {
		t.Errorf("unknown type zero = %X, want nil", got)
	}
}

func TestParseAccess(t *testing.T) {
	tests := []struct {
		in      string
		want    uint8
		wantErr bool
	}{
		{"read_only", AccessRead, false},
		{"write_only+report", AccessWrite | AccessReport, false},
		{"read_write", AccessRead | AccessWrite, false},
		{" RW+report ", AccessRead | AccessWrite | AccessReport, false},
		{"report", 0, true},
		{"", 0, true},
	}

	for _, tt := range tests {
		got, err := ParseAccess(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseAccess(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseAccess(%q) = 0x%02X, want 0x%02X", tt.in, got, tt.want)
		}
		if !tt.wantErr && AccessString(got) == "none" {
			t.Errorf("AccessString(0x%02X) = none", got)
		}
	}
}

func TestValidAccess(t *testing.T) {
	if ValidAccess(AccessReport) {
		t.Error("report-only access should be invalid")
	}
	if ValidAccess(0x08 | AccessRead) {
		t.Error("unknown bit should be invalid")
	}
	if !ValidAccess(AccessWrite | AccessReport) {
		t.Error("write+report should be valid")
	}
}
