package key

import (
	"math/rand"
	"testing"
	"time"
)

func TestThresholdsValidate(t *testing.T) {
	if err := DefaultThresholds().Validate(); err != nil {
		t.Fatal(err)
	}
	bad := []Thresholds{
		{Idle: 0.14, Release: 0.10, Press: 0.20, Aftertouch: 0.58},
		{Idle: 0.10, Release: 0.14, Press: 0.14, Aftertouch: 0.58},
		{Idle: 0.10, Release: 0.14, Press: 0.20, Aftertouch: 1.0},
		{Idle: -0.1, Release: 0.14, Press: 0.20, Aftertouch: 0.58},
	}
	for i, th := range bad {
		if err := th.Validate(); err == nil {
			t.Errorf("case %d: %+v accepted", i, th)
		}
	}
}

// feed runs a pressure trace through a key at a fixed sample interval and
// collects the edges.
func feed(k *Key, trace []float64, step time.Duration) []Edge {
	now := time.Unix(0, 0)
	var edges []Edge
	for _, p := range trace {
		now = now.Add(step)
		if e := k.Update(p, now); e != EdgeNone {
			edges = append(edges, e)
		}
	}
	return edges
}

func TestLifecycle(t *testing.T) {
	k := New(0, DefaultThresholds(), 0)
	trace := []float64{
		0.0, 0.05, // idle
		0.16,             // started
		0.3,              // pressed
		0.7, 0.8,         // aftertouch, twice
		0.3,              // back to pressed band
		0.12,             // released
		0.05,             // idle again
	}
	got := feed(k, trace, 10*time.Millisecond)
	want := []Edge{EdgeStarted, EdgePressed, EdgeAftertouch, EdgeAftertouch, EdgeReleased, EdgeIdle}
	if len(got) != len(want) {
		t.Fatalf("edges %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("edge %d is %d, want %d (all: %v)", i, got[i], want[i], got)
		}
	}
	if k.State() != Idle {
		t.Errorf("final state %v, want idle", k.State())
	}
}

func TestStartedAbortEmitsNoEvent(t *testing.T) {
	k := New(0, DefaultThresholds(), 0)
	got := feed(k, []float64{0.16, 0.17, 0.05}, 10*time.Millisecond)
	want := []Edge{EdgeStarted, EdgeIdle}
	if len(got) != 2 || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("edges %v, want %v", got, want)
	}
}

func TestDebounceSwallowsChatter(t *testing.T) {
	k := New(0, DefaultThresholds(), 5*time.Millisecond)
	now := time.Unix(0, 0)

	k.Update(0.16, now)
	now = now.Add(time.Millisecond)
	if e := k.Update(0.5, now); e != EdgePressed {
		t.Fatalf("press edge not fired: %d", e)
	}
	// a release 1ms after the press is chatter
	now = now.Add(time.Millisecond)
	if e := k.Update(0.05, now); e != EdgeNone {
		t.Fatalf("chattering release not swallowed: %d", e)
	}
	if k.State() != Pressed {
		t.Fatalf("state %v after swallowed release, want pressed", k.State())
	}
	// a real release later goes through
	now = now.Add(10 * time.Millisecond)
	if e := k.Update(0.05, now); e != EdgeReleased {
		t.Fatalf("release edge not fired: %d", e)
	}
}

// Released never without a preceding Pressed, and never two Pressed
// without an intervening Released, whatever the trace does.
func TestPressedReleasedAlternation(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	k := New(0, DefaultThresholds(), 0)
	now := time.Unix(0, 0)
	pressed := false
	p := 0.0
	for i := 0; i < 50000; i++ {
		p += (rng.Float64() - 0.5) * 0.3
		if p < 0 {
			p = 0
		}
		if p > 1 {
			p = 1
		}
		now = now.Add(500 * time.Microsecond)
		switch k.Update(p, now) {
		case EdgePressed:
			if pressed {
				t.Fatalf("sample %d: second press without release", i)
			}
			pressed = true
		case EdgeReleased:
			if !pressed {
				t.Fatalf("sample %d: release without press", i)
			}
			pressed = false
		}
	}
}

// A 4ms attack to 0.9, a 200ms hold, a 20ms fall. The press/release count
// must not depend on the scan rate, only on the threshold crossings.
func TestFastAttackScenario(t *testing.T) {
	traceAt := func(el time.Duration) float64 {
		const (
			rise = 4 * time.Millisecond
			hold = 200 * time.Millisecond
			fall = 20 * time.Millisecond
		)
		switch {
		case el < rise:
			return 0.9 * float64(el) / float64(rise)
		case el < rise+hold:
			return 0.9
		case el < rise+hold+fall:
			return 0.9 * (1 - float64(el-rise-hold)/float64(fall))
		}
		return 0
	}

	for _, step := range []time.Duration{250 * time.Microsecond, 500 * time.Microsecond, time.Millisecond} {
		k := New(0, DefaultThresholds(), 0)
		now := time.Unix(0, 0)
		var presses, releases, aftertouches int
		var order []Edge
		for el := time.Duration(0); el < 250*time.Millisecond; el += step {
			now = now.Add(step)
			switch k.Update(traceAt(el), now) {
			case EdgeStarted:
				order = append(order, EdgeStarted)
			case EdgePressed:
				presses++
				order = append(order, EdgePressed)
			case EdgeReleased:
				releases++
				order = append(order, EdgeReleased)
			case EdgeAftertouch:
				if aftertouches == 0 {
					order = append(order, EdgeAftertouch)
				}
				aftertouches++
			}
		}
		if presses != 1 || releases != 1 {
			t.Errorf("step %v: %d presses, %d releases, want 1 and 1", step, presses, releases)
		}
		if aftertouches == 0 {
			t.Errorf("step %v: no aftertouch during the hold", step)
		}
		want := []Edge{EdgeStarted, EdgePressed, EdgeAftertouch, EdgeReleased}
		if len(order) < len(want) {
			t.Fatalf("step %v: order %v, want prefix %v", step, order, want)
		}
		for i := range want {
			if order[i] != want[i] {
				t.Fatalf("step %v: order %v, want prefix %v", step, order, want)
			}
		}
		if at := k.LastAttack(); at.Peak < 0.2 || at.Dwell <= 0 {
			t.Errorf("step %v: attack record %+v not frozen", step, at)
		}
	}
}

func TestAttackRecord(t *testing.T) {
	k := New(0, DefaultThresholds(), 0)
	now := time.Unix(0, 0)
	step := time.Millisecond
	trace := []float64{0.16, 0.17, 0.18, 0.19, 0.5}
	for _, p := range trace {
		now = now.Add(step)
		k.Update(p, now)
	}
	at := k.LastAttack()
	if at.Dwell != 4*time.Millisecond {
		t.Errorf("dwell %v, want 4ms", at.Dwell)
	}
	if at.Peak != 0.5 {
		t.Errorf("peak %g, want 0.5", at.Peak)
	}
	if len(at.Samples) != len(trace) {
		t.Fatalf("%d samples recorded, want %d", len(at.Samples), len(trace))
	}
	for i := 1; i < len(at.Samples); i++ {
		if !at.Samples[i].At.After(at.Samples[i-1].At) {
			t.Fatalf("samples not chronological: %v", at.Samples)
		}
		if at.Samples[i].Pressure < at.Samples[i-1].Pressure {
			t.Fatalf("trace order lost: %v", at.Samples)
		}
	}
}

func TestAttackRingKeepsNewest(t *testing.T) {
	k := New(0, DefaultThresholds(), 0)
	now := time.Unix(0, 0)
	// 12 samples in Started; the ring holds the last 8
	k.Update(0.16, now)
	p := 0.16
	for i := 0; i < 11; i++ {
		now = now.Add(time.Millisecond)
		p += 0.002
		k.Update(p, now)
	}
	now = now.Add(time.Millisecond)
	k.Update(0.5, now)
	at := k.LastAttack()
	if len(at.Samples) != attackRing {
		t.Fatalf("%d samples, want %d", len(at.Samples), attackRing)
	}
	if last := at.Samples[attackRing-1].Pressure; last != 0.5 {
		t.Errorf("newest sample %g, want 0.5", last)
	}
}

func TestAftertouchAmount(t *testing.T) {
	th := DefaultThresholds()
	if a := th.AftertouchAmount(th.Aftertouch); a != 0 {
		t.Errorf("amount at threshold %g, want 0", a)
	}
	if a := th.AftertouchAmount(0.95); a != 1 {
		t.Errorf("amount at 0.95 is %g, want 1", a)
	}
	if a := th.AftertouchAmount(1.0); a != 1 {
		t.Errorf("amount at 1.0 is %g, want clamp to 1", a)
	}
	mid := th.Aftertouch + (0.95-th.Aftertouch)/2
	if a := th.AftertouchAmount(mid); a < 0.49 || a > 0.51 {
		t.Errorf("amount at midpoint is %g, want ~0.5", a)
	}
}
