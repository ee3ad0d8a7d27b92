// Package velocity turns the attack record of a key press into a strike
// velocity in [0,1]. Two interchangeable strategies; exactly one is
// active per device, both testable on their own.
package velocity

import (
	"time"

	"github.com/tactum/keyscand/key"
)

// Estimator maps a frozen attack to a velocity in [0,1].
type Estimator interface {
	Estimate(at key.Attack) float64
}

// TimeBased is the reference strategy: an inverse linear map of the
// attack dwell. A dwell of FastDwell or shorter is a full strike; a
// dwell of SlowDwell or longer is the floor.
type TimeBased struct {
	FastDwell time.Duration
	SlowDwell time.Duration
	Min       float64
}

// NewTimeBased returns the estimator with the shipped tuning: 4ms maps
// to 1.0, 55ms to the floor.
func NewTimeBased(min float64) *TimeBased {
	return &TimeBased{
		FastDwell: 4 * time.Millisecond,
		SlowDwell: 55 * time.Millisecond,
		Min:       min,
	}
}

func (t *TimeBased) Estimate(at key.Attack) float64 {
	if at.Dwell <= t.FastDwell {
		return 1
	}
	if at.Dwell >= t.SlowDwell {
		return t.Min
	}
	span := float64(t.SlowDwell - t.FastDwell)
	return 1 + float64(at.Dwell-t.FastDwell)/span*(t.Min-1)
}

// Hybrid weighs how fast the pressure rose against how hard it peaked.
// Temperature and drift compensation come from outside; the estimator
// never tunes them itself.
type Hybrid struct {
	// NoiseFloor is the smallest pressure delta that counts as movement.
	NoiseFloor float64
	// RateScale converts the steepest observed slope, in normalized
	// pressure per millisecond, into the [0,1] rate term.
	RateScale float64
	// PeakRef is the pressure treated as a full-strength strike.
	PeakRef float64

	RateWeight float64
	PeakWeight float64

	Min, Max float64

	TempComp  float64
	DriftComp float64

	// Style, when non-nil, adapts the result to the observed playing
	// style.
	Style *StyleDetector
}

// NewHybrid returns the estimator with the shipped tuning.
func NewHybrid(min, max float64) *Hybrid {
	return &Hybrid{
		NoiseFloor: 0.005,
		RateScale:  0.3,
		PeakRef:    0.8,
		RateWeight: 0.7,
		PeakWeight: 0.3,
		Min:        min,
		Max:        max,
		TempComp:   0.98,
		DriftComp:  0.995,
	}
}

func (h *Hybrid) Estimate(at key.Attack) float64 {
	rate := h.rateTerm(at.Samples)

	pk := at.Peak / h.PeakRef
	if pk < 0 {
		pk = 0
	}
	if pk > 1 {
		pk = 1
	}
	peak := pk * pk

	v := h.RateWeight*rate + h.PeakWeight*peak
	v *= h.TempComp * h.DriftComp

	if h.Style != nil {
		h.Style.Observe(v, rate)
		v *= h.Style.Factor()
	}

	// the bounds clamp comes last: compensation and style scaling must
	// never push the result outside [Min, Max]
	if v < h.Min {
		v = h.Min
	}
	if v > h.Max {
		v = h.Max
	}
	return v
}

// rateTerm is the steepest rise across the attack samples, ignoring
// deltas under the noise floor, scaled and clamped to [0,1].
func (h *Hybrid) rateTerm(samples []key.Sample) float64 {
	var max float64
	for i := 1; i < len(samples); i++ {
		dp := samples[i].Pressure - samples[i-1].Pressure
		if dp <= h.NoiseFloor {
			continue
		}
		dt := samples[i].At.Sub(samples[i-1].At)
		if dt <= 0 {
			continue
		}
		slope := dp / (float64(dt) / float64(time.Millisecond))
		if slope > max {
			max = slope
		}
	}
	r := max * h.RateScale
	if r > 1 {
		r = 1
	}
	return r
}
