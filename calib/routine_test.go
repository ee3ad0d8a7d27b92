package calib

import (
	"context"
	"testing"
)

// pulseSampler returns quiet levels during the idle phase, then pulses
// every channel together: pressed for three samples, released for two.
type pulseSampler struct {
	channels   int
	idleCycles int
	quiet      uint16
	peak       uint16
	calls      int
	onCall     func(call int)
}

func (p *pulseSampler) Sample() []uint16 {
	p.calls++
	if p.onCall != nil {
		p.onCall(p.calls)
	}
	out := make([]uint16, p.channels)
	level := p.quiet
	if p.calls > p.idleCycles && (p.calls-p.idleCycles-1)%5 < 3 {
		level = p.peak
	}
	for i := range out {
		out[i] = level
	}
	return out
}

func TestLearnCompletes(t *testing.T) {
	const channels = 4
	sampler := &pulseSampler{channels: channels, idleCycles: 4, quiet: 500, peak: 3000}
	set := NewSet(channels)
	keyForChannel := []int{0, 1, 2, 3}

	var progress []Progress
	cfg := RoutineConfig{
		Cycles:      2,
		PressOffset: 200,
		IdleCycles:  4,
		Interval:    0,
		OnProgress:  func(p Progress) { progress = append(progress, p) },
	}
	done, err := Learn(context.Background(), sampler, set, keyForChannel, cfg, nil)
	if err != nil {
		t.Fatal(err)
	}
	if done != channels {
		t.Fatalf("committed %d keys, want %d", done, channels)
	}
	for ch := range set {
		if set[ch].Min != 500 || set[ch].Max != 3000 {
			t.Errorf("channel %d: got (%d,%d), want (500,3000)", ch, set[ch].Min, set[ch].Max)
		}
	}
	if len(progress) == 0 {
		t.Fatal("no progress reported")
	}
	if progress[0].Phase != PhaseIdle {
		t.Errorf("first report phase %v, want PhaseIdle", progress[0].Phase)
	}
	last := progress[len(progress)-1]
	if last.Done != channels {
		t.Errorf("final report Done=%d, want %d", last.Done, channels)
	}
}

func TestLearnAbortKeepsCommittedKeys(t *testing.T) {
	const channels = 4
	ctx, cancel := context.WithCancel(context.Background())
	sampler := &pulseSampler{channels: channels, idleCycles: 4, quiet: 500, peak: 3000}
	// key 0 needs 2 cycles = 10 pulse samples; cancel midway through key 1
	sampler.onCall = func(call int) {
		if call == 4+10+3 {
			cancel()
		}
	}
	set := NewSet(channels)
	cfg := RoutineConfig{Cycles: 2, PressOffset: 200, IdleCycles: 4, Interval: 0}
	done, err := Learn(ctx, sampler, set, []int{0, 1, 2, 3}, cfg, nil)
	if err != context.Canceled {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if done != 1 {
		t.Fatalf("committed %d keys, want 1", done)
	}
	if set[0].Min != 500 || set[0].Max != 3000 {
		t.Errorf("key 0 not committed: %+v", set[0])
	}
	// aborted keys keep their previous bounds, never a half-written pair
	for ch := 1; ch < channels; ch++ {
		if set[ch] != (Bounds{0, 4095}) {
			t.Errorf("channel %d modified after abort: %+v", ch, set[ch])
		}
	}
}

func TestLearnUsesPermutation(t *testing.T) {
	// two keys cross-wired: key 0 on channel 1, key 1 on channel 0
	sampler := &pulseSampler{channels: 2, idleCycles: 2, quiet: 100, peak: 2000}
	set := NewSet(2)
	var order []int
	cfg := RoutineConfig{
		Cycles: 1, PressOffset: 200, IdleCycles: 2, Interval: 0,
		OnProgress: func(p Progress) {
			if p.Phase == PhaseKeys && p.Cycles == 0 {
				order = append(order, p.Key)
			}
		},
	}
	done, err := Learn(context.Background(), sampler, set, []int{1, 0}, cfg, nil)
	if err != nil || done != 2 {
		t.Fatalf("done=%d err=%v", done, err)
	}
	if len(order) < 2 || order[0] != 0 || order[1] != 1 {
		t.Errorf("keys visited in order %v, want logical order 0,1", order)
	}
	for ch := range set {
		if set[ch].Min != 100 || set[ch].Max != 2000 {
			t.Errorf("channel %d: %+v", ch, set[ch])
		}
	}
}
