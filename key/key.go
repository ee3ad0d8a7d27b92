// Package key turns a stream of normalized pressure samples into musical
// key transitions. One Key per logical key; the scan task is the only
// caller of Update.
package key

import (
	"fmt"
	"time"
)

// State of a single key.
type State int

const (
	// Idle: no touch.
	Idle State = iota
	// Started: pressure crossed the release threshold on the way up; the
	// attack is being recorded but no event has fired yet.
	Started
	// Pressed: the press event has fired.
	Pressed
	// Released: the release event has fired; waiting for pressure to
	// settle back under the idle threshold.
	Released
	// Aftertouch: held past the aftertouch threshold.
	Aftertouch
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Started:
		return "started"
	case Pressed:
		return "pressed"
	case Released:
		return "released"
	case Aftertouch:
		return "aftertouch"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Edge is what one Update call observed.
type Edge int

const (
	// EdgeNone: no transition this sample.
	EdgeNone Edge = iota
	// EdgeStarted: attack began; bookkeeping only, no event.
	EdgeStarted
	// EdgePressed: press event; the attack record is frozen and ready
	// for the velocity estimator.
	EdgePressed
	// EdgeReleased: release event.
	EdgeReleased
	// EdgeAftertouch: held past the aftertouch threshold; reported on
	// every sample while it lasts.
	EdgeAftertouch
	// EdgeIdle: settled back to rest; bookkeeping only, no event.
	EdgeIdle
)

// Thresholds shared by every key of a device, on the normalized
// pressure scale. Idle < Release < Press < Aftertouch.
type Thresholds struct {
	Idle       float64
	Release    float64
	Press      float64
	Aftertouch float64
}

// DefaultThresholds is the tuning the boards ship with.
func DefaultThresholds() Thresholds {
	return Thresholds{Idle: 0.10, Release: 0.14, Press: 0.20, Aftertouch: 0.58}
}

func (t Thresholds) Validate() error {
	if !(0 <= t.Idle && t.Idle < t.Release && t.Release < t.Press && t.Press < t.Aftertouch && t.Aftertouch < 1) {
		return fmt.Errorf("thresholds not ordered: idle %g < release %g < press %g < aftertouch %g",
			t.Idle, t.Release, t.Press, t.Aftertouch)
	}
	return nil
}

// AftertouchAmount maps a pressure above the aftertouch threshold into
// [0,1]. Full scale sits at 0.95, not 1.0; real fingers rarely reach the
// converter ceiling.
func (t Thresholds) AftertouchAmount(p float64) float64 {
	a := (p - t.Aftertouch) / (0.95 - t.Aftertouch)
	if a < 0 {
		return 0
	}
	if a > 1 {
		return 1
	}
	return a
}

// Sample is one (pressure, time) point of an attack.
type Sample struct {
	Pressure float64
	At       time.Time
}

// attackRing is how many samples of the attack are kept for the
// rate-of-change velocity term.
const attackRing = 8

// Attack is the frozen record of one Started→Pressed run, handed to the
// velocity estimator on the press edge.
type Attack struct {
	// Dwell is the time from the start of the attack to the press edge.
	Dwell time.Duration
	// Peak is the highest pressure seen during the attack.
	Peak float64
	// Samples are the last recorded attack points, oldest first.
	Samples []Sample
}

// DefaultDebounce is the minimum dwell between press/release events.
const DefaultDebounce = 5 * time.Millisecond

// Key is the state machine of one logical key. Not safe for concurrent
// use; the scan task owns it.
type Key struct {
	index    int
	th       Thresholds
	debounce time.Duration

	state    State
	pressure float64

	startedAt time.Time
	lastEvent time.Time
	peak      float64

	ring     [attackRing]Sample
	ringNext int
	ringLen  int

	attack Attack
}

// New builds a key. Thresholds are assumed validated by the caller;
// debounce <= 0 selects the default.
func New(index int, th Thresholds, debounce time.Duration) *Key {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &Key{index: index, th: th, debounce: debounce}
}

// Index is the logical key number.
func (k *Key) Index() int { return k.index }

// State is the current machine state.
func (k *Key) State() State { return k.state }

// Pressure is the latest normalized pressure seen by Update.
func (k *Key) Pressure() float64 { return k.pressure }

// LastAttack is the record frozen on the most recent press edge. Valid
// until the next press edge.
func (k *Key) LastAttack() Attack { return k.attack }

// Update advances the machine with one sample and reports the observed
// edge. Started and idle edges are bookkeeping; pressed and released
// edges carry events and are debounced against each other to reject
// sensor chatter.
func (k *Key) Update(p float64, now time.Time) Edge {
	k.pressure = p

	switch k.state {
	case Idle:
		if p > k.th.Release {
			k.state = Started
			k.startedAt = now
			k.peak = p
			k.ringLen, k.ringNext = 0, 0
			k.record(p, now)
			return EdgeStarted
		}

	case Started:
		k.record(p, now)
		if p > k.peak {
			k.peak = p
		}
		if p > k.th.Press {
			if now.Sub(k.lastEvent) < k.debounce {
				return EdgeNone
			}
			k.state = Pressed
			k.lastEvent = now
			k.attack = k.freeze(now)
			return EdgePressed
		}
		if p < k.th.Idle {
			k.state = Idle
			return EdgeIdle
		}

	case Pressed:
		if p < k.th.Release {
			return k.release(now)
		}
		if p > k.th.Aftertouch {
			k.state = Aftertouch
			return EdgeAftertouch
		}

	case Aftertouch:
		if p < k.th.Release {
			return k.release(now)
		}
		if p > k.th.Aftertouch {
			return EdgeAftertouch
		}
		// eased off below the aftertouch band but still held
		k.state = Pressed

	case Released:
		if p < k.th.Idle {
			k.state = Idle
			return EdgeIdle
		}
	}
	return EdgeNone
}

func (k *Key) release(now time.Time) Edge {
	if now.Sub(k.lastEvent) < k.debounce {
		return EdgeNone
	}
	k.state = Released
	k.lastEvent = now
	return EdgeReleased
}

func (k *Key) record(p float64, now time.Time) {
	k.ring[k.ringNext] = Sample{Pressure: p, At: now}
	k.ringNext = (k.ringNext + 1) % attackRing
	if k.ringLen < attackRing {
		k.ringLen++
	}
}

// freeze copies the attack ring out in chronological order.
func (k *Key) freeze(now time.Time) Attack {
	samples := make([]Sample, k.ringLen)
	start := k.ringNext - k.ringLen
	if start < 0 {
		start += attackRing
	}
	for i := 0; i < k.ringLen; i++ {
		samples[i] = k.ring[(start+i)%attackRing]
	}
	return Attack{
		Dwell:   now.Sub(k.startedAt),
		Peak:    k.peak,
		Samples: samples,
	}
}
