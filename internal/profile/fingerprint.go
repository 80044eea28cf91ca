package profile

import (
	"encoding/hex"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/zeebo/blake3"
)

// encMode uses Core Deterministic Encoding so the same descriptor always
// produces the same bytes.
var encMode cbor.EncMode

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("profile: CBOR encoder initialization failed: " + err.Error())
	}
}

// Fingerprint is the BLAKE3 hash of a descriptor's canonical CBOR encoding.
type Fingerprint [32]byte

// String returns the hex form.
func (f Fingerprint) String() string {
	return hex.EncodeToString(f[:])
}

// Short returns the first 8 bytes in hex, enough to tell profiles apart in
// logs.
func (f Fingerprint) Short() string {
	return hex.EncodeToString(f[:8])
}

// MarshalText implements encoding.TextMarshaler.
func (f Fingerprint) MarshalText() ([]byte, error) {
	return []byte(f.String()), nil
}

// Encode returns the canonical CBOR encoding of the descriptor.
func (d *DeviceDescriptor) Encode() ([]byte, error) {
	data, err := encMode.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("profile: encode descriptor: %w", err)
	}
	return data, nil
}

// Fingerprint hashes the canonical encoding. Names are part of the
// encoding, so renaming an attribute changes the fingerprint.
func (d *DeviceDescriptor) Fingerprint() (Fingerprint, error) {
	data, err := d.Encode()
	if err != nil {
		return Fingerprint{}, err
	}
	return blake3.Sum256(data), nil
}
