// Package core wires the scan driver, the per-key state machines, the
// velocity estimator and the response curves into one engine. The
// engine's scan goroutine is the sole writer of channel and key state;
// consumers get events on a channel and read-only snapshots.
package core

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/tactum/keyscand/calib"
	"github.com/tactum/keyscand/curve"
	"github.com/tactum/keyscand/hwprofile"
	"github.com/tactum/keyscand/key"
	"github.com/tactum/keyscand/memorylog"
	"github.com/tactum/keyscand/scan"
	"github.com/tactum/keyscand/velocity"
)

// EventType discriminates engine events.
type EventType int

const (
	EventPressed EventType = iota
	EventReleased
	EventAftertouch
)

func (t EventType) String() string {
	switch t {
	case EventPressed:
		return "pressed"
	case EventReleased:
		return "released"
	case EventAftertouch:
		return "aftertouch"
	}
	return fmt.Sprintf("event(%d)", int(t))
}

// Event is one key event ready for the application layer. Value carries
// the curve-mapped velocity for presses and the curve-mapped pressure
// for aftertouch; it is zero for releases.
type Event struct {
	Type  EventType
	Key   int
	Value uint8
}

// Snapshot is the consumer-side view of one scan cycle, indexed by
// logical key. It is immutable once published; one cycle of staleness
// is acceptable by design.
type Snapshot struct {
	At       time.Time
	Pressure []float64
	States   []key.State
}

// Config tunes the engine. Zero values select the shipped defaults.
type Config struct {
	Thresholds      key.Thresholds
	Debounce        time.Duration
	Window          int
	ScanInterval    time.Duration
	VelocityCurve   curve.Shape
	AftertouchCurve curve.Shape

	// Hybrid switches velocity estimation from the time-based map to
	// the rate/peak estimator; Style additionally adapts it to the
	// observed playing style.
	Hybrid bool
	Style  bool

	MinVelocity float64
	MaxVelocity float64

	EventBuffer int
}

// DefaultConfig is the tuning the boards ship with.
func DefaultConfig() Config {
	return Config{
		Thresholds:      key.DefaultThresholds(),
		Debounce:        key.DefaultDebounce,
		Window:          16,
		ScanInterval:    500 * time.Microsecond,
		VelocityCurve:   curve.Linear,
		AftertouchCurve: curve.Linear,
		MinVelocity:     0.1,
		MaxVelocity:     1.0,
		EventBuffer:     64,
	}
}

func (c *Config) fillDefaults() {
	d := DefaultConfig()
	if c.Thresholds == (key.Thresholds{}) {
		c.Thresholds = d.Thresholds
	}
	if c.Debounce <= 0 {
		c.Debounce = d.Debounce
	}
	if c.Window == 0 {
		c.Window = d.Window
	}
	if c.ScanInterval <= 0 {
		c.ScanInterval = d.ScanInterval
	}
	if c.MinVelocity == 0 {
		c.MinVelocity = d.MinVelocity
	}
	if c.MaxVelocity == 0 {
		c.MaxVelocity = d.MaxVelocity
	}
	if c.EventBuffer <= 0 {
		c.EventBuffer = d.EventBuffer
	}
}

// Engine owns the whole pipeline. All mutable scan state belongs to the
// scan goroutine once Start has been called; every outside mutation
// goes through the control channel and runs between cycles.
type Engine struct {
	profile  *hwprofile.Profile
	driver   *scan.Driver
	store    calib.Store
	keys     []*key.Key
	est      velocity.Estimator
	velCurve *curve.Curve
	atCurve  *curve.Curve
	interval time.Duration

	events chan Event
	ctl    chan func()
	quit   chan struct{}
	done   chan struct{}

	snap    atomic.Pointer[Snapshot]
	dropped atomic.Uint64

	// lastAftertouch dedups the continuous aftertouch stream per key.
	lastAftertouch []int

	prBuf  []float64
	filBuf []uint16

	th  key.Thresholds
	now func() time.Time

	log *memorylog.Writer
}

// New builds an engine. The calibration set is loaded from the store; a
// missing store yields full-range defaults, a corrupted one is fixed
// and written back. Every configuration error is fatal here, never at
// scan time.
func New(p *hwprofile.Profile, port scan.Port, store calib.Store, cfg Config, log *memorylog.Writer) (*Engine, error) {
	cfg.fillDefaults()
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Thresholds.Validate(); err != nil {
		return nil, err
	}
	if cfg.MinVelocity < 0 || cfg.MaxVelocity > 1 || cfg.MinVelocity >= cfg.MaxVelocity {
		return nil, fmt.Errorf("velocity bounds %g..%g", cfg.MinVelocity, cfg.MaxVelocity)
	}

	set, err := store.Load(p.Channels())
	switch {
	case errors.Is(err, calib.ErrNotFound):
		set = calib.NewSet(p.Channels())
	case err != nil:
		// an unreadable store must not keep the device from scanning;
		// reset it like any other corruption and move on
		if log != nil {
			log.Println(fmt.Sprintf("engine - calibration store unreadable (%v), resetting to defaults", err))
		}
		set = calib.NewSet(p.Channels())
		if saveErr := store.Save(set); saveErr != nil {
			return nil, fmt.Errorf("rewriting calibration store: %w", saveErr)
		}
	default:
		if fixed := set.Sanitize(log); fixed > 0 {
			if err := store.Save(set); err != nil {
				return nil, fmt.Errorf("rewriting fixed calibration: %w", err)
			}
		}
	}

	driver, err := scan.New(p, port, set, cfg.Window, log)
	if err != nil {
		return nil, err
	}

	keys := make([]*key.Key, p.Keys)
	for i := range keys {
		keys[i] = key.New(i, cfg.Thresholds, cfg.Debounce)
	}

	var est velocity.Estimator
	if cfg.Hybrid {
		h := velocity.NewHybrid(cfg.MinVelocity, cfg.MaxVelocity)
		if cfg.Style {
			h.Style = velocity.NewStyleDetector()
		}
		est = h
	} else {
		est = velocity.NewTimeBased(cfg.MinVelocity)
	}

	e := &Engine{
		profile:        p,
		driver:         driver,
		store:          store,
		keys:           keys,
		est:            est,
		velCurve:       curve.New(cfg.VelocityCurve),
		atCurve:        curve.New(cfg.AftertouchCurve),
		interval:       cfg.ScanInterval,
		events:         make(chan Event, cfg.EventBuffer),
		ctl:            make(chan func()),
		quit:           make(chan struct{}),
		done:           make(chan struct{}),
		lastAftertouch: make([]int, p.Keys),
		th:             cfg.Thresholds,
		now:            time.Now,
		log:            log,
	}
	for i := range e.lastAftertouch {
		e.lastAftertouch[i] = -1
	}
	e.logf("engine - %s: %d keys, %v scan interval, %T velocity",
		p.Name, p.Keys, e.interval, est)
	return e, nil
}

// Events is the engine's output. When the consumer falls behind the
// buffer, events are dropped and counted rather than stalling the scan.
func (e *Engine) Events() <-chan Event { return e.events }

// Dropped is the number of events lost to a slow consumer.
func (e *Engine) Dropped() uint64 { return e.dropped.Load() }

// Snapshot returns the most recently published cycle view, or nil
// before the first cycle.
func (e *Engine) Snapshot() *Snapshot { return e.snap.Load() }

// Start launches the scan goroutine.
func (e *Engine) Start() {
	go e.run()
}

// Stop ends the scan goroutine and waits for it.
func (e *Engine) Stop() {
	close(e.quit)
	<-e.done
}

func (e *Engine) run() {
	defer close(e.done)
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()
	for {
		select {
		case <-e.quit:
			return
		case fn := <-e.ctl:
			fn()
		case <-ticker.C:
			e.cycle(e.now())
		}
	}
}

// cycle is one scan: read everything, advance every key, publish.
func (e *Engine) cycle(now time.Time) {
	e.driver.Cycle()
	e.prBuf = e.driver.Pressure(e.prBuf)

	for ch, p := range e.prBuf {
		if ch >= len(e.profile.KeyForChannel) {
			break // spare channels on a short-keyed variant
		}
		idx := e.profile.KeyForChannel[ch]
		k := e.keys[idx]
		switch k.Update(p, now) {
		case key.EdgePressed:
			v := e.est.Estimate(k.LastAttack())
			e.emit(Event{Type: EventPressed, Key: idx, Value: e.velCurve.Apply(v)})
		case key.EdgeReleased:
			e.lastAftertouch[idx] = -1
			e.emit(Event{Type: EventReleased, Key: idx})
		case key.EdgeAftertouch:
			val := e.atCurve.Apply(e.th.AftertouchAmount(p))
			if int(val) != e.lastAftertouch[idx] {
				e.lastAftertouch[idx] = int(val)
				e.emit(Event{Type: EventAftertouch, Key: idx, Value: val})
			}
		}
	}
	e.publish(now)
}

func (e *Engine) publish(now time.Time) {
	s := &Snapshot{
		At:       now,
		Pressure: make([]float64, len(e.keys)),
		States:   make([]key.State, len(e.keys)),
	}
	for i, k := range e.keys {
		s.Pressure[i] = k.Pressure()
		s.States[i] = k.State()
	}
	e.snap.Store(s)
}

func (e *Engine) emit(ev Event) {
	select {
	case e.events <- ev:
	default:
		if n := e.dropped.Add(1); n == 1 || n%1000 == 0 {
			e.logf("engine - consumer behind, %d events dropped", n)
		}
	}
}

// exec runs fn on the scan goroutine between cycles and waits for it.
func (e *Engine) exec(fn func()) {
	donec := make(chan struct{})
	select {
	case e.ctl <- func() { fn(); close(donec) }:
		<-donec
	case <-e.quit:
	}
}

// SetWindow changes the filter window; buffers restart empty.
func (e *Engine) SetWindow(w int) error {
	var err error
	e.exec(func() { err = e.driver.SetWindow(w) })
	return err
}

// Calibration returns a copy of the active calibration set.
func (e *Engine) Calibration() calib.Set {
	var set calib.Set
	e.exec(func() { set = e.driver.Calibration() })
	return set
}

// Calibrate runs the interactive calibration routine on the scan
// goroutine itself, so it never races a normal cycle. Normal scanning
// and event output pause for the duration. Completed keys are applied
// and persisted even when ctx ends the routine early; the rest keep
// their previous bounds. Returns how many keys completed.
func (e *Engine) Calibrate(ctx context.Context, cfg calib.RoutineConfig) (int, error) {
	var (
		done     int
		learnErr error
	)
	e.exec(func() {
		set := e.driver.Calibration()
		done, learnErr = calib.Learn(ctx, e.sampler(), set, e.profile.KeyForChannel, cfg, e.log)
		if applyErr := e.driver.SetCalibration(set); applyErr != nil && learnErr == nil {
			learnErr = applyErr
		}
		if saveErr := e.store.Save(e.driver.Calibration()); saveErr != nil && learnErr == nil {
			learnErr = saveErr
		}
		e.settleKeys()
	})
	return done, learnErr
}

// settleKeys drives every key toward idle after calibration owned the
// channels. A key that was held when the routine started still owes the
// consumer its release; anything less leaves a hanging note.
func (e *Engine) settleKeys() {
	now := e.now()
	for i, k := range e.keys {
		if k.Update(0, now) == key.EdgeReleased {
			e.lastAftertouch[i] = -1
			e.emit(Event{Type: EventReleased, Key: i})
		}
	}
}

// sampler adapts the driver to the calibration routine: one sample is
// one full scan cycle's filtered values.
func (e *Engine) sampler() calib.Sampler {
	return samplerFunc(func() []uint16 {
		e.driver.Cycle()
		e.filBuf = e.driver.Filtered(e.filBuf)
		return e.filBuf
	})
}

type samplerFunc func() []uint16

func (f samplerFunc) Sample() []uint16 { return f() }

func (e *Engine) logf(format string, args ...interface{}) {
	if e.log != nil {
		e.log.Println(fmt.Sprintf(format, args...))
	}
}
