package scan

import (
	"math"
	"sort"
	"testing"

	"github.com/tactum/keyscand/calib"
	"github.com/tactum/keyscand/hwprofile"
)

func newTestDriver(t *testing.T, p *hwprofile.Profile, bounds calib.Set, window int) (*Driver, *Emulator) {
	t.Helper()
	em := NewEmulator(p.Banks, p.Topology)
	if bounds == nil {
		bounds = calib.NewSet(p.Channels())
	}
	d, err := New(p, em, bounds, window, nil)
	if err != nil {
		t.Fatal(err)
	}
	return d, em
}

func TestNewFailsFast(t *testing.T) {
	p := hwprofile.T16()
	em := NewEmulator(p.Banks, p.Topology)
	good := calib.NewSet(p.Channels())

	bad := hwprofile.T16()
	bad.Keys = 15 // 1 bank cannot be wrong, so break the permutation length instead
	if _, err := New(bad, em, good, 16, nil); err == nil {
		t.Error("invalid profile accepted")
	}
	if _, err := New(p, em, good, 0, nil); err == nil {
		t.Error("window 0 accepted")
	}
	if _, err := New(p, em, good, 17, nil); err == nil {
		t.Error("window 17 accepted")
	}
	if _, err := New(p, em, calib.NewSet(3), 16, nil); err == nil {
		t.Error("short calibration set accepted")
	}
}

// A raw ramp across the full converter range with bounds (200,3800) and
// window 1 must clamp to 0 below min, 1 above max, and be linear between.
func TestNormalizationRamp(t *testing.T) {
	p := hwprofile.T16()
	bounds := make(calib.Set, p.Channels())
	for i := range bounds {
		bounds[i] = calib.Bounds{Min: 200, Max: 3800}
	}
	d, em := newTestDriver(t, p, bounds, 1)

	for raw := 0; raw <= 4095; raw += 5 {
		em.SetChannel(0, uint16(raw))
		d.Cycle()
		got := d.Pressure(nil)[0]
		var want float64
		switch {
		case raw <= 200:
			want = 0
		case raw >= 3800:
			want = 1
		default:
			want = float64(raw-200) / 3600
		}
		if math.Abs(got-want) > 1e-9 {
			t.Fatalf("raw %d: pressure %g, want %g", raw, got, want)
		}
	}
}

func TestPressureAlwaysInRange(t *testing.T) {
	// hostile bounds straight from a corrupted store
	p := hwprofile.T16()
	bounds := make(calib.Set, p.Channels())
	for i := range bounds {
		bounds[i] = calib.Bounds{Min: 4000, Max: 100} // inverted
	}
	d, em := newTestDriver(t, p, bounds, 1)
	for _, raw := range []uint16{0, 99, 100, 2000, 4000, 4095, 65000} {
		for ch := 0; ch < p.Channels(); ch++ {
			em.SetChannel(ch, raw)
		}
		d.Cycle()
		for ch, pr := range d.Pressure(nil) {
			if pr < 0 || pr > 1 {
				t.Fatalf("raw %d channel %d: pressure %g outside [0,1]", raw, ch, pr)
			}
		}
	}
}

func TestRawClamped(t *testing.T) {
	d, em := newTestDriver(t, hwprofile.T16(), nil, 1)
	em.SetChannel(3, 65000)
	d.Cycle()
	if got := d.Raw(nil)[3]; got != hwprofile.SensorMax {
		t.Errorf("raw %d, want clamp to %d", got, hwprofile.SensorMax)
	}
}

func TestMovingAverage(t *testing.T) {
	d, em := newTestDriver(t, hwprofile.T16(), nil, 4)
	feed := []uint16{100, 200, 300, 400, 500}
	for _, v := range feed {
		em.SetChannel(0, v)
		d.Cycle()
	}
	// mean of the last four samples
	if got := d.Filtered(nil)[0]; got != 350 {
		t.Errorf("filtered %d, want 350", got)
	}
	// partial window averages only what it has seen
	d2, em2 := newTestDriver(t, hwprofile.T16(), nil, 16)
	em2.SetChannel(0, 1000)
	d2.Cycle()
	if got := d2.Filtered(nil)[0]; got != 1000 {
		t.Errorf("first sample filtered to %d, want 1000", got)
	}
}

func TestSetWindowClearsBuffers(t *testing.T) {
	d, em := newTestDriver(t, hwprofile.T16(), nil, 8)
	for i := 0; i < 8; i++ {
		em.SetChannel(0, 4000)
		d.Cycle()
	}
	if err := d.SetWindow(2); err != nil {
		t.Fatal(err)
	}
	em.SetChannel(0, 100)
	d.Cycle()
	// stale window-8 samples must not leak into the new window
	if got := d.Filtered(nil)[0]; got != 100 {
		t.Errorf("filtered %d after window change, want 100", got)
	}
	if err := d.SetWindow(0); err == nil {
		t.Error("window 0 accepted")
	}
}

// Both topologies, fed identical synthetic electrical levels, must end a
// cycle with identical per-channel raw values, and their read logs must
// agree content-wise however the iteration order differs.
func TestTopologyEquivalence(t *testing.T) {
	shared := hwprofile.T32()
	independent := hwprofile.T32()
	independent.Topology = hwprofile.IndependentSelect

	levels := make([]uint16, shared.Channels())
	for i := range levels {
		levels[i] = uint16(100 + 17*i)
	}

	run := func(p *hwprofile.Profile) ([]uint16, []ReadRecord) {
		d, em := newTestDriver(t, p, nil, 1)
		em.SetAll(levels)
		d.Cycle()
		return d.Raw(nil), em.Reads()
	}

	rawShared, readsShared := run(shared)
	rawIndep, readsIndep := run(independent)

	for ch := range rawShared {
		if rawShared[ch] != rawIndep[ch] {
			t.Errorf("channel %d: shared %d, independent %d", ch, rawShared[ch], rawIndep[ch])
		}
	}

	canon := func(r []ReadRecord) []ReadRecord {
		c := append([]ReadRecord(nil), r...)
		sort.Slice(c, func(i, j int) bool {
			if c[i].Bank != c[j].Bank {
				return c[i].Bank < c[j].Bank
			}
			return c[i].Lane < c[j].Lane
		})
		return c
	}
	cs, ci := canon(readsShared), canon(readsIndep)
	if len(cs) != len(ci) {
		t.Fatalf("read counts differ: shared %d, independent %d", len(cs), len(ci))
	}
	for i := range cs {
		if cs[i] != ci[i] {
			t.Errorf("read %d differs: shared %+v, independent %+v", i, cs[i], ci[i])
		}
	}
}

// The shared-select walk must change the select lines once per lane, not
// once per read.
func TestSharedSelectAmortizesSelects(t *testing.T) {
	p := hwprofile.T64()
	d, em := newTestDriver(t, p, nil, 1)
	em.SetAll(make([]uint16, p.Channels()))
	d.Cycle()
	reads := em.Reads()
	if want := p.Channels(); len(reads) != want {
		t.Fatalf("%d reads per cycle, want %d", len(reads), want)
	}
	// lane-major order: all banks of lane 0 first
	for b := 0; b < p.Banks; b++ {
		if reads[b].Lane != 0 || reads[b].Bank != b {
			t.Errorf("read %d is bank %d lane %d, want bank %d lane 0",
				b, reads[b].Bank, reads[b].Lane, b)
		}
	}
}
