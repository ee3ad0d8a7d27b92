package scan

import "fmt"

const maxWindow = 16

// movingAverage is a per-channel window over the last raw samples. Until
// the window has filled, the mean covers only the samples seen so far;
// start-up zeros never drag the value down.
type movingAverage struct {
	buf   [maxWindow]uint16
	next  int
	count int
}

func (m *movingAverage) push(v uint16, window int) uint16 {
	m.buf[m.next] = v
	m.next = (m.next + 1) % window
	if m.count < window {
		m.count++
	}
	var sum uint32
	for i := 0; i < m.count; i++ {
		sum += uint32(m.buf[i])
	}
	return uint16(sum / uint32(m.count))
}

func (m *movingAverage) reset() {
	*m = movingAverage{}
}

func checkWindow(w int) error {
	if w < 1 || w > maxWindow {
		return fmt.Errorf("filter window %d outside 1..%d", w, maxWindow)
	}
	return nil
}
