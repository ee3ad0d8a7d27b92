// Package calib holds per-channel sensor calibration: the raw reading of
// an untouched key and of a fully pressed one. The scanner normalizes
// against these bounds; everything else in the device only ever reads them.
package calib

import (
	"encoding/binary"
	"fmt"

	"github.com/tactum/keyscand/hwprofile"
	"github.com/tactum/keyscand/memorylog"
)

// Bounds is one channel's calibration window.
type Bounds struct {
	Min uint16
	Max uint16
}

// Set is the ordered calibration of every channel.
type Set []Bounds

// NewSet returns a set of n channels at the wide safe defaults, usable
// (if insensitive) on any sensor.
func NewSet(n int) Set {
	s := make(Set, n)
	for i := range s {
		s[i] = Bounds{Min: 0, Max: hwprofile.SensorMax}
	}
	return s
}

// Clone returns an independent copy.
func (s Set) Clone() Set {
	return append(Set(nil), s...)
}

// Sanitize auto-corrects corrupted bounds in place and returns how many
// channels were fixed. Inverted bounds are swapped, an impossible maximum
// is clamped to the sensor ceiling, and a degenerate window is reset to
// the full sensor range. Fixes are logged and never fatal: a corrupted
// calibration must not keep the device from scanning.
func (s Set) Sanitize(log *memorylog.Writer) int {
	fixed := 0
	for i := range s {
		b := s[i]
		orig := b
		if b.Min > b.Max {
			b.Min, b.Max = b.Max, b.Min
		}
		if b.Max > hwprofile.SensorMax {
			b.Max = hwprofile.SensorMax
			if b.Min > b.Max {
				b.Min = 0
			}
		}
		if b.Min == b.Max {
			b = Bounds{Min: 0, Max: hwprofile.SensorMax}
		}
		if b != orig {
			fixed++
			s[i] = b
			if log != nil {
				log.Println(fmt.Sprintf(
					"calib - channel %d bounds (%d,%d) auto-fixed to (%d,%d)",
					i, orig.Min, orig.Max, b.Min, b.Max))
			}
		}
	}
	return fixed
}

// Arrays splits the set into the two fixed-length arrays of the
// persistence contract.
func (s Set) Arrays() (min, max []uint16) {
	min = make([]uint16, len(s))
	max = make([]uint16, len(s))
	for i, b := range s {
		min[i] = b.Min
		max[i] = b.Max
	}
	return min, max
}

// FromArrays builds a set from the two persistence arrays.
func FromArrays(min, max []uint16) (Set, error) {
	if len(min) != len(max) {
		return nil, fmt.Errorf("calib: min has %d entries, max has %d", len(min), len(max))
	}
	s := make(Set, len(min))
	for i := range s {
		s[i] = Bounds{Min: min[i], Max: max[i]}
	}
	return s, nil
}

// MarshalBinary encodes the set as the min array followed by the max
// array, each entry little-endian uint16.
func (s Set) MarshalBinary() ([]byte, error) {
	buf := make([]byte, 4*len(s))
	for i, b := range s {
		binary.LittleEndian.PutUint16(buf[2*i:], b.Min)
		binary.LittleEndian.PutUint16(buf[2*(len(s)+i):], b.Max)
	}
	return buf, nil
}

// UnmarshalBinary decodes data written by MarshalBinary. The set must
// already have the channel count the caller expects; a length mismatch
// is an error, not something to guess around.
func (s Set) UnmarshalBinary(data []byte) error {
	if len(data) != 4*len(s) {
		return fmt.Errorf("calib: %d bytes for %d channels, want %d",
			len(data), len(s), 4*len(s))
	}
	for i := range s {
		s[i].Min = binary.LittleEndian.Uint16(data[2*i:])
		s[i].Max = binary.LittleEndian.Uint16(data[2*(len(s)+i):])
	}
	return nil
}
