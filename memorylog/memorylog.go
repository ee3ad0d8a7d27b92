// Package memorylog keeps a bounded in-memory log of scanner activity.
//
// The scan task runs at sub-millisecond cadence, so writing its trace to
// disk or stderr directly would dominate the cycle budget. Instead every
// component logs into a ring of recent lines, plus a fixed prefix of the
// earliest lines (boot, construction, calibration fixes) that is never
// rotated out. The whole buffer can be dumped on demand.
package memorylog

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"
)

// hardcoded so a runaway caller cannot blow up memory
const maxLineLength = 500

type Writer struct {
	mutex sync.Mutex

	ring  [][]byte // rotating tail, ring[head] is the oldest line
	head  int
	count int

	boot     [][]byte // first bootKeep lines, kept forever
	bootKeep int

	started   time.Time
	stampTime bool
	tee       io.Writer // optional pass-through (verbose mode)
}

// New returns a Writer holding up to size rotating lines and bootKeep
// non-rotating boot lines. When stampTime is set, each line is prefixed
// with elapsed and wall-clock time. tee may be nil.
func New(size, bootKeep int, stampTime bool, tee io.Writer) (*Writer, error) {
	if size < 1 {
		return nil, errors.New("memorylog: size cannot be <1")
	}
	if bootKeep < 1 {
		return nil, errors.New("memorylog: bootKeep cannot be <1")
	}
	return &Writer{
		ring:      make([][]byte, size),
		boot:      make([][]byte, 0, bootKeep),
		bootKeep:  bootKeep,
		started:   time.Now(),
		stampTime: stampTime,
		tee:       tee,
	}, nil
}

func (m *Writer) Println(s string) {
	_, err := m.Write([]byte(s + "\n"))
	if err != nil {
		// give up, just print on stdout
		fmt.Println(err)
	}
}

// Write remembers a single line in memory.
func (m *Writer) Write(p []byte) (int, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if len(p) > maxLineLength {
		p = p[:maxLineLength]
	}

	var line []byte
	if m.stampTime {
		now := time.Now()
		line = []byte(fmt.Sprintf("[%.6f : %s] %s",
			now.Sub(m.started).Seconds(), now.Format("15:04:05"), string(p)))
	} else {
		line = make([]byte, len(p))
		copy(line, p)
	}

	if len(m.boot) < m.bootKeep {
		m.boot = append(m.boot, line)
	} else if m.count < len(m.ring) {
		m.ring[(m.head+m.count)%len(m.ring)] = line
		m.count++
	} else {
		m.ring[m.head] = line
		m.head = (m.head + 1) % len(m.ring)
	}

	if m.tee != nil {
		if _, err := m.tee.Write(line); err != nil {
			fmt.Println(err)
		}
	}
	return len(p), nil
}

// Dump writes header, then the remembered lines newest-first, with the
// boot lines at the bottom.
func (m *Writer) Dump(header string, w io.Writer) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if _, err := w.Write([]byte(header)); err != nil {
		return err
	}
	for i := m.count - 1; i >= 0; i-- {
		if _, err := w.Write(m.ring[(m.head+i)%len(m.ring)]); err != nil {
			return err
		}
	}
	if _, err := w.Write([]byte("...\n")); err != nil {
		return err
	}
	for i := len(m.boot) - 1; i >= 0; i-- {
		if _, err := w.Write(m.boot[i]); err != nil {
			return err
		}
	}
	return nil
}

// String exports the whole buffer as a string.
func (m *Writer) String(header string) (string, error) {
	var b bytes.Buffer
	if err := m.Dump(header, &b); err != nil {
		return "", err
	}
	return b.String(), nil
}
