package bluetooth

import (
	"fmt"
	"strings"
)

// HardwareAddress is a 6-byte radio hardware address. The zero value is
// not a valid peer address and marks an empty slot.
type HardwareAddress [6]byte

// ParseAddress parses a canonical colon-separated address string.
// Exactly six two-digit hex octets are accepted, case-insensitive:
// "aa:bb:cc:dd:ee:ff" and "AA:BB:CC:DD:EE:FF" both parse, "AABBCC" and
// "aa-bb-cc-dd-ee-ff" do not.
func ParseAddress(s string) (HardwareAddress, error) {
	var addr HardwareAddress

	parts := strings.Split(s, ":")
	if len(parts) != 6 {
		return addr, fmt.Errorf("%w: address %q must have 6 colon-separated octets", ErrInvalidArgument, s)
	}

	for i, part := range parts {
		if len(part) != 2 {
			return addr, fmt.Errorf("%w: address %q octet %d is not two hex digits", ErrInvalidArgument, s, i+1)
		}
		hi, ok1 := hexNibble(part[0])
		lo, ok2 := hexNibble(part[1])
		if !ok1 || !ok2 {
			return addr, fmt.Errorf("%w: address %q octet %d is not two hex digits", ErrInvalidArgument, s, i+1)
		}
		addr[i] = hi<<4 | lo
	}

	return addr, nil
}

// MustParseAddress is ParseAddress for known-good literals; it panics on error.
func MustParseAddress(s string) HardwareAddress {
	addr, err := ParseAddress(s)
	if err != nil {
		panic(err)
	}
	return addr
}

func hexNibble(c byte) (byte, bool) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', true
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, true
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, true
	}
	return 0, false
}

// String renders the canonical uppercase form, "AA:BB:CC:DD:EE:FF".
func (a HardwareAddress) String() string {
	return fmt.Sprintf("%02X:%02X:%02X:%02X:%02X:%02X", a[0], a[1], a[2], a[3], a[4], a[5])
}

// IsZero reports whether the address is the all-zero empty slot marker.
func (a HardwareAddress) IsZero() bool {
	return a == HardwareAddress{}
}

// MarshalText implements encoding.TextMarshaler so addresses serialize as
// canonical strings in JSON records. The zero address renders empty rather
// than as an all-zero octet string.
func (a HardwareAddress) MarshalText() ([]byte, error) {
	if a.IsZero() {
		return nil, nil
	}
	return []byte(a.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler. Empty text decodes to
// the zero address, mirroring MarshalText.
func (a *HardwareAddress) UnmarshalText(text []byte) error {
	if len(text) == 0 {
		*a = HardwareAddress{}
		return nil
	}
	parsed, err := ParseAddress(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}
