// Package hwprofile describes the sensor hardware a device is built from:
// how many multiplexer banks it has, how their address lines are wired,
// which physical channel feeds which musical key, and which pins play
// which role. The scanner owns none of this; profiles are read-only input.
package hwprofile

import (
	"fmt"

	"github.com/BurntSushi/toml"
)

const (
	// ChannelsPerBank is fixed by the multiplexer part: one bank is a
	// 16-channel analog mux covering a 4x4 block of keys.
	ChannelsPerBank = 16

	// SelectLines is the number of address lines per mux.
	SelectLines = 4

	// MaxBanks is the largest supported variant (64 keys).
	MaxBanks = 4

	// SensorMax is the highest raw sample the 12-bit converter can produce.
	SensorMax = 4095
)

// Topology says how the mux address lines are wired.
type Topology int

const (
	// IndependentSelect gives every bank its own four select lines.
	IndependentSelect Topology = iota
	// SharedSelect wires one set of select lines to all banks, with a
	// per-bank enable line. Used whenever bank count > 1 and the pin
	// budget is constrained.
	SharedSelect
)

func (t Topology) String() string {
	switch t {
	case IndependentSelect:
		return "independent-select"
	case SharedSelect:
		return "shared-select"
	}
	return fmt.Sprintf("topology(%d)", int(t))
}

func ParseTopology(s string) (Topology, error) {
	switch s {
	case "independent-select":
		return IndependentSelect, nil
	case "shared-select":
		return SharedSelect, nil
	}
	return 0, fmt.Errorf("unknown topology %q", s)
}

// BankPins are the pin roles of a single bank. Select is used only with
// IndependentSelect, Enable only with SharedSelect.
type BankPins struct {
	Select []int `toml:"select"`
	Enable int   `toml:"enable"`
	Analog int   `toml:"analog"`
}

// Pins carries every pin role the scanner needs to hand to the electrical
// backend. Select holds the shared select lines; with IndependentSelect it
// stays empty and each bank brings its own.
type Pins struct {
	Select []int      `toml:"select"`
	Banks  []BankPins `toml:"banks"`
}

// Profile is one hardware variant.
type Profile struct {
	Name     string   `toml:"name"`
	Keys     int      `toml:"keys"`
	Banks    int      `toml:"banks"`
	Topology Topology `toml:"-"`

	// KeyForChannel maps physical channel index (bank*ChannelsPerBank +
	// lane) to the logical key it senses. Must be a permutation of
	// 0..Keys-1.
	KeyForChannel []int `toml:"key_for_channel"`

	Pins Pins `toml:"pins"`
}

// Channels is the number of physical channels scanned per cycle.
func (p *Profile) Channels() int {
	return p.Banks * ChannelsPerBank
}

// Validate fails fast on a profile the scanner cannot drive. None of these
// conditions is recoverable at runtime.
func (p *Profile) Validate() error {
	if p.Banks < 1 || p.Banks > MaxBanks {
		return fmt.Errorf("profile %s: bank count %d outside 1..%d", p.Name, p.Banks, MaxBanks)
	}
	if p.Keys < 1 {
		return fmt.Errorf("profile %s: key count %d", p.Name, p.Keys)
	}
	if p.Keys%p.Banks != 0 {
		return fmt.Errorf("profile %s: bank count %d does not divide key count %d", p.Name, p.Banks, p.Keys)
	}
	if p.Keys > p.Channels() {
		return fmt.Errorf("profile %s: %d keys exceed %d channels", p.Name, p.Keys, p.Channels())
	}
	switch p.Topology {
	case IndependentSelect, SharedSelect:
	default:
		return fmt.Errorf("profile %s: unsupported topology %d", p.Name, int(p.Topology))
	}
	if len(p.KeyForChannel) != p.Keys {
		return fmt.Errorf("profile %s: permutation table has %d entries, want %d",
			p.Name, len(p.KeyForChannel), p.Keys)
	}
	seen := make([]bool, p.Keys)
	for ch, k := range p.KeyForChannel {
		if k < 0 || k >= p.Keys {
			return fmt.Errorf("profile %s: channel %d maps to key %d outside 0..%d",
				p.Name, ch, k, p.Keys-1)
		}
		if seen[k] {
			return fmt.Errorf("profile %s: key %d mapped twice", p.Name, k)
		}
		seen[k] = true
	}
	if len(p.Pins.Banks) != 0 && len(p.Pins.Banks) != p.Banks {
		return fmt.Errorf("profile %s: pin roles for %d banks, want %d",
			p.Name, len(p.Pins.Banks), p.Banks)
	}
	return nil
}

// t16Permutation is the factory wiring of the 16-key board: channel index
// to key index. The larger boards are wired straight through.
var t16Permutation = []int{13, 9, 5, 12, 8, 4, 0, 1, 11, 7, 15, 3, 14, 10, 6, 2}

func identity(n int) []int {
	m := make([]int, n)
	for i := range m {
		m[i] = i
	}
	return m
}

// T16 is the single-bank 16-key variant with its own select lines.
func T16() *Profile {
	return &Profile{
		Name:          "t16",
		Keys:          16,
		Banks:         1,
		Topology:      IndependentSelect,
		KeyForChannel: append([]int(nil), t16Permutation...),
	}
}

// T32 is the two-bank 32-key variant on shared select lines.
func T32() *Profile {
	return &Profile{
		Name:          "t32",
		Keys:          32,
		Banks:         2,
		Topology:      SharedSelect,
		KeyForChannel: identity(32),
	}
}

// T64 is the four-bank 64-key variant on shared select lines.
func T64() *Profile {
	return &Profile{
		Name:          "t64",
		Keys:          64,
		Banks:         4,
		Topology:      SharedSelect,
		KeyForChannel: identity(64),
	}
}

// ByName returns a built-in variant.
func ByName(name string) (*Profile, error) {
	switch name {
	case "t16":
		return T16(), nil
	case "t32":
		return T32(), nil
	case "t64":
		return T64(), nil
	}
	return nil, fmt.Errorf("unknown hardware variant %q", name)
}

// profileFile is the on-disk shape; topology is a string there.
type profileFile struct {
	Profile
	TopologyName string `toml:"topology"`
	Variant      string `toml:"variant"`
}

// Load reads a profile from a TOML file. A file may either name a built-in
// variant to start from or describe the hardware in full; either way the
// result is validated before it is returned.
func Load(path string) (*Profile, error) {
	var f profileFile
	if _, err := toml.DecodeFile(path, &f); err != nil {
		return nil, fmt.Errorf("profile %s: %w", path, err)
	}

	p := &f.Profile
	if f.Variant != "" {
		base, err := ByName(f.Variant)
		if err != nil {
			return nil, err
		}
		if p.Keys == 0 {
			p.Keys = base.Keys
		}
		if p.Banks == 0 {
			p.Banks = base.Banks
		}
		if f.TopologyName == "" {
			p.Topology = base.Topology
		}
		if len(p.KeyForChannel) == 0 {
			p.KeyForChannel = base.KeyForChannel
		}
		if p.Name == "" {
			p.Name = base.Name
		}
	}
	if f.TopologyName != "" {
		t, err := ParseTopology(f.TopologyName)
		if err != nil {
			return nil, err
		}
		p.Topology = t
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}
