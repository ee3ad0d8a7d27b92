// Package curve maps velocity, aftertouch and pressure values through a
// fixed response curve over the 7-bit MIDI domain.
package curve

import (
	"fmt"
	"math"
)

// Shape selects one of the built response curves.
type Shape int

const (
	Linear Shape = iota
	Exponential
	Logarithmic
	Quadratic
)

func (s Shape) String() string {
	switch s {
	case Linear:
		return "linear"
	case Exponential:
		return "exponential"
	case Logarithmic:
		return "logarithmic"
	case Quadratic:
		return "quadratic"
	}
	return fmt.Sprintf("shape(%d)", int(s))
}

func ParseShape(s string) (Shape, error) {
	switch s {
	case "linear":
		return Linear, nil
	case "exponential":
		return Exponential, nil
	case "logarithmic":
		return Logarithmic, nil
	case "quadratic":
		return Quadratic, nil
	}
	return 0, fmt.Errorf("unknown curve shape %q", s)
}

const tableSize = 128

// Curve is one immutable 128-entry lookup table.
type Curve struct {
	shape Shape
	table [tableSize]uint8
}

// New builds the table for a shape. Whatever the formula produces, the
// endpoints are pinned afterwards so the output range survives the
// mapping end to end.
func New(shape Shape) *Curve {
	c := &Curve{shape: shape}
	for i := 0; i < tableSize; i++ {
		var v int
		switch shape {
		case Exponential:
			v = (i * i) >> 7
		case Logarithmic:
			v = int(128 * math.Log2(1+float64(i)/127))
		case Quadratic:
			v = (i * i) >> 8
		default:
			v = i
		}
		if v > 127 {
			v = 127
		}
		c.table[i] = uint8(v)
	}
	c.table[0] = 0
	c.table[tableSize-1] = 127
	return c
}

// Shape reports which curve this is.
func (c *Curve) Shape() Shape { return c.shape }

// Lookup maps a 7-bit value through the table, clamping the index.
func (c *Curve) Lookup(i int) uint8 {
	if i < 0 {
		i = 0
	}
	if i > 127 {
		i = 127
	}
	return c.table[i]
}

// Apply quantizes a normalized value in [0,1] to 7 bits and maps it.
func (c *Curve) Apply(v float64) uint8 {
	return c.Lookup(int(math.Round(v * 127)))
}
