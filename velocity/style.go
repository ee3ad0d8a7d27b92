package velocity

import "fmt"

// Style is the detected playing style.
type Style int

const (
	Gentle Style = iota
	Normal
	Aggressive
)

func (s Style) String() string {
	switch s {
	case Gentle:
		return "gentle"
	case Normal:
		return "normal"
	case Aggressive:
		return "aggressive"
	}
	return fmt.Sprintf("style(%d)", int(s))
}

// styleProfile is the reference point a style is scored against.
type styleProfile struct {
	velocity float64
	variance float64
	rate     float64
}

var styleProfiles = [...]styleProfile{
	Gentle:     {velocity: 0.3, variance: 0.05, rate: 0.2},
	Normal:     {velocity: 0.5, variance: 0.10, rate: 0.3},
	Aggressive: {velocity: 0.8, variance: 0.20, rate: 0.6},
}

var styleFactors = [...]float64{
	Gentle:     0.8,
	Normal:     1.0,
	Aggressive: 1.2,
}

const (
	styleHistoryMax = 20
	styleHistoryMin = 5
	// styleHysteresis is how many consecutive disagreeing
	// classifications it takes to commit a style change.
	styleHysteresis = 3
)

type styleObservation struct {
	velocity float64
	rate     float64
}

// StyleDetector classifies recent strikes into a playing style and
// scales velocity accordingly. It commits a style change only after the
// classification disagrees persistently, so a single outlier strike
// never flips the factor.
type StyleDetector struct {
	history []styleObservation
	current Style
	pending Style
	streak  int
}

// NewStyleDetector starts out Normal.
func NewStyleDetector() *StyleDetector {
	return &StyleDetector{current: Normal}
}

// Current is the committed style.
func (d *StyleDetector) Current() Style { return d.current }

// Factor is the velocity multiplier of the committed style.
func (d *StyleDetector) Factor() float64 { return styleFactors[d.current] }

// Observe records one strike and re-classifies.
func (d *StyleDetector) Observe(velocity, rate float64) {
	d.history = append(d.history, styleObservation{velocity: velocity, rate: rate})
	if len(d.history) > styleHistoryMax {
		d.history = d.history[1:]
	}
	if len(d.history) < styleHistoryMin {
		return
	}

	got := d.classify()
	if got == d.current {
		d.streak = 0
		return
	}
	if got == d.pending {
		d.streak++
	} else {
		d.pending = got
		d.streak = 1
	}
	if d.streak > styleHysteresis {
		d.current = got
		d.streak = 0
	}
}

// classify scores the rolling mean velocity, velocity variance, and mean
// rate against each profile and picks the nearest.
func (d *StyleDetector) classify() Style {
	var meanV, meanR float64
	for _, o := range d.history {
		meanV += o.velocity
		meanR += o.rate
	}
	n := float64(len(d.history))
	meanV /= n
	meanR /= n

	var variance float64
	for _, o := range d.history {
		dv := o.velocity - meanV
		variance += dv * dv
	}
	variance /= n

	best, bestScore := Normal, 0.0
	for s, p := range styleProfiles {
		diff := abs(meanV-p.velocity) + abs(variance-p.variance) + abs(meanR-p.rate)
		score := 1 / (1 + diff)
		if score > bestScore {
			best, bestScore = Style(s), score
		}
	}
	return best
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}
