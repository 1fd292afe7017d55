package types

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// Address identifies an account on the marketplace ledger.
type Address [20]byte

// ZeroAddress is the empty address value used to detect unset fields.
var ZeroAddress = Address{}

// ParseAddress decodes a 0x-prefixed 40 character hex string.
func ParseAddress(s string) (Address, error) {
	var addr Address
	trimmed := strings.TrimSpace(s)
	trimmed = strings.TrimPrefix(trimmed, "0x")
	trimmed = strings.TrimPrefix(trimmed, "0X")
	if len(trimmed) != 2*len(addr) {
		return Address{}, fmt.Errorf("types: invalid address length %d", len(trimmed))
	}
	raw, err := hex.DecodeString(trimmed)
	if err != nil {
		return Address{}, fmt.Errorf("types: invalid address: %w", err)
	}
	copy(addr[:], raw)
	return addr, nil
}

// String renders the address as 0x-prefixed lowercase hex.
func (a Address) String() string {
	return "0x" + hex.EncodeToString(a[:])
}

// MarshalText renders the address as hex so JSON payloads and storage
// records stay readable.
func (a Address) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText parses the hex form produced by MarshalText.
func (a *Address) UnmarshalText(text []byte) error {
	parsed, err := ParseAddress(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// IsZero reports whether the address is entirely unset.
func (a Address) IsZero() bool { return a == ZeroAddress }

// Bytes returns a copy of the raw address bytes.
func (a Address) Bytes() []byte {
	out := make([]byte, len(a))
	copy(out, a[:])
	return out
}
