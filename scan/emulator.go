package scan

import (
	"sync"

	"github.com/tactum/keyscand/hwprofile"
)

// ReadRecord is one analog conversion the emulator served, in the order
// the driver asked for them.
type ReadRecord struct {
	Bank  int
	Lane  int
	Value uint16
}

// Emulator is a synthetic electrical backend. It models the wiring the
// way the board does: per-lane levels behind each bank, select lines
// either shared or per bank, and floating outputs on a disabled bank.
// Tests and the daemon's hardware-less mode drive it instead of GPIO.
type Emulator struct {
	mu      sync.Mutex
	shared  bool
	levels  [][]uint16 // [bank][lane] electrical level
	sel     []uint8    // currently addressed lane per bank
	enabled []bool
	reads   []ReadRecord
}

// NewEmulator builds an emulator with the given bank count and wiring.
func NewEmulator(banks int, topology hwprofile.Topology) *Emulator {
	e := &Emulator{
		shared:  topology == hwprofile.SharedSelect,
		levels:  make([][]uint16, banks),
		sel:     make([]uint8, banks),
		enabled: make([]bool, banks),
	}
	for b := range e.levels {
		e.levels[b] = make([]uint16, hwprofile.ChannelsPerBank)
	}
	return e
}

// SetLevel sets the electrical level behind one (bank, lane) input.
func (e *Emulator) SetLevel(bank, lane int, v uint16) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.levels[bank][lane] = v
}

// SetChannel sets a level by flat channel index.
func (e *Emulator) SetChannel(ch int, v uint16) {
	e.SetLevel(ch/hwprofile.ChannelsPerBank, ch%hwprofile.ChannelsPerBank, v)
}

// SetAll programs every channel from a flat slice.
func (e *Emulator) SetAll(levels []uint16) {
	for ch, v := range levels {
		e.SetChannel(ch, v)
	}
}

// Select implements Port. Shared wiring routes the same address lines to
// every bank.
func (e *Emulator) Select(bank int, lane uint8) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.shared {
		for b := range e.sel {
			e.sel[b] = lane
		}
		return
	}
	e.sel[bank] = lane
}

// Enable implements Port.
func (e *Emulator) Enable(bank int, on bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.enabled[bank] = on
}

// Read implements Port. A disabled bank on shared wiring floats; the
// converter sees nothing useful, modeled as zero.
func (e *Emulator) Read(bank int) uint16 {
	e.mu.Lock()
	defer e.mu.Unlock()
	lane := int(e.sel[bank])
	var v uint16
	if !e.shared || e.enabled[bank] {
		v = e.levels[bank][lane]
	}
	e.reads = append(e.reads, ReadRecord{Bank: bank, Lane: lane, Value: v})
	return v
}

// Settle implements Port; the emulator settles instantly.
func (e *Emulator) Settle() {}

// Reads returns the conversion log and clears it.
func (e *Emulator) Reads() []ReadRecord {
	e.mu.Lock()
	defer e.mu.Unlock()
	r := e.reads
	e.reads = nil
	return r
}
