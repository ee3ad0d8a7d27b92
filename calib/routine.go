package calib

import (
	"context"
	"fmt"
	"time"

	"github.com/tactum/keyscand/hwprofile"
	"github.com/tactum/keyscand/memorylog"
)

// Sampler delivers one fresh filtered sample per channel. During the
// routine the sampler is the scan driver itself, driven synchronously so
// calibration is the only writer for its whole duration.
type Sampler interface {
	Sample() []uint16
}

// Phase of the learning routine.
type Phase int

const (
	// PhaseIdle records every key's untouched minimum.
	PhaseIdle Phase = iota
	// PhaseKeys walks the keys one by one learning their maximum.
	PhaseKeys
)

// Progress is reported to the caller so it can highlight the current key
// and show completion; the routine itself has no user interface.
type Progress struct {
	Phase  Phase
	Key    int // logical key currently being learned
	Cycles int // completed press/release cycles on that key
	Keys   int // total key count
	Done   int // keys committed so far
}

// RoutineConfig tunes the learning routine. Zero values select defaults.
type RoutineConfig struct {
	// Cycles is how many distinct press/release cycles a key needs
	// before its observed maximum is accepted.
	Cycles int
	// PressOffset, in raw counts above the idle level, is the hysteresis
	// gate: a press is detected above idle+PressOffset, a release below
	// idle+PressOffset/4.
	PressOffset uint16
	// IdleCycles is how many scan cycles phase 1 averages.
	IdleCycles int
	// Interval is the pause between samples.
	Interval time.Duration
	// OnProgress, if set, is called after every observable step.
	OnProgress func(Progress)
}

const (
	defaultCycles      = 4
	defaultPressOffset = 200
	defaultIdleCycles  = 16
	defaultInterval    = time.Millisecond
)

func (c RoutineConfig) withDefaults() RoutineConfig {
	if c.Cycles <= 0 {
		c.Cycles = defaultCycles
	}
	if c.PressOffset == 0 {
		c.PressOffset = defaultPressOffset
	}
	if c.IdleCycles <= 0 {
		c.IdleCycles = defaultIdleCycles
	}
	if c.Interval < 0 {
		c.Interval = defaultInterval
	}
	return c
}

// Learn runs the two-phase interactive calibration, committing bounds into
// set key by key as each key completes. A key is committed with its min
// and max together or not at all, so an abort (ctx timeout or cancel)
// leaves every key either fully updated or untouched. Returns the number
// of keys committed; the error is ctx.Err() on abort, nil on completion.
func Learn(ctx context.Context, sampler Sampler, set Set, keyForChannel []int, cfg RoutineConfig, log *memorylog.Writer) (int, error) {
	cfg = cfg.withDefaults()
	keys := len(keyForChannel)
	if keys == 0 || len(set) < keys {
		return 0, fmt.Errorf("calib: %d keys against %d channels", keys, len(set))
	}

	channelForKey := make([]int, keys)
	for ch, k := range keyForChannel {
		channelForKey[k] = ch
	}

	logln(log, "routine - phase 1, recording idle levels")
	report(cfg, Progress{Phase: PhaseIdle, Keys: keys})

	// Phase 1: average the untouched level of every channel.
	idleSum := make([]uint32, len(set))
	for i := 0; i < cfg.IdleCycles; i++ {
		if err := pause(ctx, cfg.Interval); err != nil {
			return 0, err
		}
		for ch, v := range sampler.Sample() {
			if ch < len(idleSum) {
				idleSum[ch] += uint32(v)
			}
		}
	}
	idle := make([]uint16, len(set))
	for ch := range idle {
		idle[ch] = uint16(idleSum[ch] / uint32(cfg.IdleCycles))
	}

	// Phase 2: walk the keys in logical order. The key under test is
	// reported so the caller can highlight it.
	done := 0
	for k := 0; k < keys; k++ {
		ch := channelForKey[k]
		pressTh := int(idle[ch]) + int(cfg.PressOffset)
		if pressTh > hwprofile.SensorMax {
			pressTh = hwprofile.SensorMax
		}
		releaseTh := int(idle[ch]) + int(cfg.PressOffset)/4

		logln(log, fmt.Sprintf("routine - phase 2, key %d (channel %d), idle %d", k, ch, idle[ch]))
		report(cfg, Progress{Phase: PhaseKeys, Key: k, Keys: keys, Done: done})

		var maxSeen uint16
		pressed := false
		cycles := 0
		for cycles < cfg.Cycles {
			if err := pause(ctx, cfg.Interval); err != nil {
				logln(log, fmt.Sprintf("routine - aborted at key %d, %d keys kept", k, done))
				return done, err
			}
			v := sampler.Sample()[ch]
			if !pressed {
				if int(v) >= pressTh {
					pressed = true
				}
				continue
			}
			if v > maxSeen {
				maxSeen = v
			}
			if int(v) < releaseTh {
				pressed = false
				cycles++
				report(cfg, Progress{Phase: PhaseKeys, Key: k, Cycles: cycles, Keys: keys, Done: done})
			}
		}

		// min and max land together; an abort above never leaves a
		// half-written key behind
		set[ch] = Bounds{Min: idle[ch], Max: maxSeen}
		done++
		logln(log, fmt.Sprintf("routine - key %d committed (%d,%d)", k, idle[ch], maxSeen))
	}

	report(cfg, Progress{Phase: PhaseKeys, Key: keys - 1, Cycles: cfg.Cycles, Keys: keys, Done: done})
	logln(log, "routine - complete")
	return done, nil
}

func pause(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
			return nil
		}
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func report(cfg RoutineConfig, p Progress) {
	if cfg.OnProgress != nil {
		cfg.OnProgress(p)
	}
}

func logln(log *memorylog.Writer, s string) {
	if log != nil {
		log.Println("calib - " + s)
	}
}
