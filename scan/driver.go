package scan

import (
	"fmt"

	"github.com/tactum/keyscand/calib"
	"github.com/tactum/keyscand/hwprofile"
	"github.com/tactum/keyscand/memorylog"
)

// channel is the full per-channel record. Only the driver writes it.
type channel struct {
	raw      uint16
	filtered uint16
	pressure float64
	avg      movingAverage
}

// Driver cycles the multiplexer address lines, reads every physical
// channel, filters and normalizes. One Driver per device; construction
// fails fast on a configuration the hardware cannot have.
type Driver struct {
	port     Port
	banks    int
	topology hwprofile.Topology
	window   int

	channels []channel
	bounds   calib.Set

	log *memorylog.Writer
}

// New builds a driver for the profile. The calibration set is sanitized
// before use; a corrupted set degrades sensitivity, never scanning.
func New(p *hwprofile.Profile, port Port, bounds calib.Set, window int, log *memorylog.Writer) (*Driver, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if err := checkWindow(window); err != nil {
		return nil, err
	}
	if len(bounds) != p.Channels() {
		return nil, fmt.Errorf("scan: calibration for %d channels, profile has %d",
			len(bounds), p.Channels())
	}
	d := &Driver{
		port:     port,
		banks:    p.Banks,
		topology: p.Topology,
		window:   window,
		channels: make([]channel, p.Channels()),
		bounds:   bounds.Clone(),
		log:      log,
	}
	if fixed := d.bounds.Sanitize(log); fixed > 0 {
		d.logf("driver - sanitized %d calibration channels at construction", fixed)
	}
	d.logf("driver - %d banks, %s, window %d", p.Banks, p.Topology, window)
	return d, nil
}

// Channels is the number of physical channels scanned per cycle.
func (d *Driver) Channels() int {
	return len(d.channels)
}

// Cycle runs one full scan: every (bank, lane) read once, filtered and
// normalized. The iteration order depends on the topology; the values
// per channel do not.
func (d *Driver) Cycle() {
	switch d.topology {
	case hwprofile.SharedSelect:
		d.cycleShared()
	default:
		d.cycleIndependent()
	}
}

// cycleIndependent walks bank-major: each bank owns its select lines, so
// the lines are set and settled per (bank, lane) pair.
func (d *Driver) cycleIndependent() {
	for bank := 0; bank < d.banks; bank++ {
		for lane := 0; lane < hwprofile.ChannelsPerBank; lane++ {
			d.port.Select(bank, uint8(lane))
			d.port.Settle()
			d.update(bank*hwprofile.ChannelsPerBank+lane, d.port.Read(bank))
		}
	}
}

// cycleShared walks lane-major: one select-line change and one settle per
// lane, amortized across the banks, which only need their enable lines
// toggled. This is what makes >1 bank fit a constrained pin budget.
func (d *Driver) cycleShared() {
	for lane := 0; lane < hwprofile.ChannelsPerBank; lane++ {
		d.port.Select(0, uint8(lane))
		d.port.Settle()
		for bank := 0; bank < d.banks; bank++ {
			d.port.Enable(bank, true)
			d.update(bank*hwprofile.ChannelsPerBank+lane, d.port.Read(bank))
			d.port.Enable(bank, false)
		}
	}
}

// update clamps, filters and normalizes one sample.
func (d *Driver) update(ch int, raw uint16) {
	if raw > hwprofile.SensorMax {
		raw = hwprofile.SensorMax
	}
	c := &d.channels[ch]
	c.raw = raw
	c.filtered = c.avg.push(raw, d.window)
	c.pressure = normalize(c.filtered, d.bounds[ch])
}

// normalize maps a filtered sample into [0,1] against the channel bounds.
// Any input lands inside the range, whatever the bounds look like.
func normalize(filtered uint16, b calib.Bounds) float64 {
	span := int(b.Max) - int(b.Min)
	if span < 1 {
		span = 1
	}
	p := float64(int(filtered)-int(b.Min)) / float64(span)
	if p < 0 {
		return 0
	}
	if p > 1 {
		return 1
	}
	return p
}

// SetWindow changes the filter window and clears every channel buffer:
// samples averaged under the old window must never mix with the new one.
func (d *Driver) SetWindow(w int) error {
	if err := checkWindow(w); err != nil {
		return err
	}
	d.window = w
	for i := range d.channels {
		d.channels[i].avg.reset()
	}
	d.logf("driver - filter window now %d, buffers cleared", w)
	return nil
}

// SetCalibration replaces the bounds, sanitizing first.
func (d *Driver) SetCalibration(bounds calib.Set) error {
	if len(bounds) != len(d.channels) {
		return fmt.Errorf("scan: calibration for %d channels, driver has %d",
			len(bounds), len(d.channels))
	}
	b := bounds.Clone()
	if fixed := b.Sanitize(d.log); fixed > 0 {
		d.logf("driver - sanitized %d calibration channels", fixed)
	}
	d.bounds = b
	return nil
}

// Calibration returns a copy of the active bounds.
func (d *Driver) Calibration() calib.Set {
	return d.bounds.Clone()
}

// Raw copies the latest raw samples into dst, allocating if nil.
func (d *Driver) Raw(dst []uint16) []uint16 {
	if dst == nil {
		dst = make([]uint16, len(d.channels))
	}
	for i := range d.channels {
		dst[i] = d.channels[i].raw
	}
	return dst
}

// Filtered copies the latest filtered samples into dst, allocating if nil.
func (d *Driver) Filtered(dst []uint16) []uint16 {
	if dst == nil {
		dst = make([]uint16, len(d.channels))
	}
	for i := range d.channels {
		dst[i] = d.channels[i].filtered
	}
	return dst
}

// Pressure copies the latest normalized pressure into dst, allocating if
// nil. Values are always in [0,1].
func (d *Driver) Pressure(dst []float64) []float64 {
	if dst == nil {
		dst = make([]float64, len(d.channels))
	}
	for i := range d.channels {
		dst[i] = d.channels[i].pressure
	}
	return dst
}

func (d *Driver) logf(format string, args ...interface{}) {
	if d.log != nil {
		d.log.Println("scan - " + fmt.Sprintf(format, args...))
	}
}
