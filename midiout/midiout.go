// Package midiout translates engine events into MIDI messages on an
// output port. Presses become note-on with the mapped velocity,
// releases note-off, aftertouch polyphonic key pressure; continuous
// pressure can additionally be sent as a control change.
package midiout

import (
	"context"
	"fmt"

	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/drivers"

	"github.com/tactum/keyscand/core"
	"github.com/tactum/keyscand/memorylog"
)

// Sink sends engine events to one MIDI output port.
type Sink struct {
	send     func(midi.Message) error
	channel  uint8
	baseNote uint8

	// PressureController, when in 0..127, is the CC number used by
	// SendPressure. -1 disables it.
	PressureController int

	log *memorylog.Writer
}

// New opens a sink on an output port. baseNote is the note of key 0;
// the 64-key board with baseNote 36 spans C2..D#7.
func New(out drivers.Out, channel, baseNote uint8, log *memorylog.Writer) (*Sink, error) {
	if channel > 15 {
		return nil, fmt.Errorf("midiout: channel %d outside 0..15", channel)
	}
	send, err := midi.SendTo(out)
	if err != nil {
		return nil, fmt.Errorf("midiout: %w", err)
	}
	s := newSink(send, channel, baseNote, log)
	s.logf("opened port %q, channel %d, base note %d", out.String(), channel, baseNote)
	return s, nil
}

func newSink(send func(midi.Message) error, channel, baseNote uint8, log *memorylog.Writer) *Sink {
	return &Sink{
		send:               send,
		channel:            channel,
		baseNote:           baseNote,
		PressureController: -1,
		log:                log,
	}
}

// Handle sends one event.
func (s *Sink) Handle(ev core.Event) error {
	n := int(s.baseNote) + ev.Key
	if n < 0 || n > 127 {
		return fmt.Errorf("midiout: key %d maps past note 127", ev.Key)
	}
	note := uint8(n)
	switch ev.Type {
	case core.EventPressed:
		return s.send(midi.NoteOn(s.channel, note, ev.Value))
	case core.EventReleased:
		return s.send(midi.NoteOff(s.channel, note))
	case core.EventAftertouch:
		return s.send(midi.PolyAfterTouch(s.channel, note, ev.Value))
	}
	return fmt.Errorf("midiout: unknown event type %v", ev.Type)
}

// SendPressure sends a curve-mapped pressure value on the configured
// controller. A sink without one drops the value silently.
func (s *Sink) SendPressure(value uint8) error {
	if s.PressureController < 0 {
		return nil
	}
	return s.send(midi.ControlChange(s.channel, uint8(s.PressureController), value))
}

// Run pumps events until the channel closes or ctx ends. Send errors
// are logged and skipped; a flaky cable must not kill the scan.
func (s *Sink) Run(ctx context.Context, events <-chan core.Event) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if err := s.Handle(ev); err != nil {
				s.logf("send failed: %v", err)
			}
		}
	}
}

func (s *Sink) logf(format string, args ...interface{}) {
	if s.log != nil {
		s.log.Println("midiout - " + fmt.Sprintf(format, args...))
	}
}
