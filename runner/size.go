package runner

import (
	"fmt"

	"github.com/docker/go-units"
)

// Size stores number of byte for the object. E.g. Memory.
// Maximum size is bounded by 64-bit limit
type Size uint64

// String stringer interface for print
func (s Size) String() string {
	return units.BytesSize(float64(s))
}

// Set parse the size value from string (e.g. 64MiB, 512k, 1g), units are binary
func (s *Size) Set(str string) error {
	t, err := units.RAMInBytes(str)
	if err != nil {
		return err
	}
	if t < 0 {
		return fmt.Errorf("size: negative size %q", str)
	}
	*s = Size(t)
	return nil
}

// Type is the flag type name for pflag
func (s *Size) Type() string {
	return "size"
}

// UnmarshalText implements encoding.TextUnmarshaler for config files
func (s *Size) UnmarshalText(b []byte) error {
	return s.Set(string(b))
}

// MarshalText implements encoding.TextMarshaler
func (s Size) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Byte return size in bytes
func (s Size) Byte() uint64 {
	return uint64(s)
}
