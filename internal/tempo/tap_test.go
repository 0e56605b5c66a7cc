package tempo

import (
	"testing"
	"time"
)

func at(sec float64) time.Time {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	return base.Add(time.Duration(sec * float64(time.Second)))
}

func TestTapTempo(t *testing.T) {
	tp := NewTapper(0, 0, nil)
	if _, ok := tp.Tap(at(0)); ok {
		t.Fatal("single tap should not produce a tempo")
	}
	var bpm int
	var ok bool
	for _, s := range []float64{0.5, 1.0, 1.5} {
		bpm, ok = tp.Tap(at(s))
	}
	if !ok || bpm != 120 {
		t.Errorf("Tap = (%d, %v), want (120, true)", bpm, ok)
	}
	if tp.Count() != 4 {
		t.Errorf("Count = %d, want 4", tp.Count())
	}
}

func TestTapResetsAfterGap(t *testing.T) {
	tp := NewTapper(2*time.Second, 0, nil)
	tp.Tap(at(0))
	tp.Tap(at(1))
	if _, ok := tp.Tap(at(3.5)); ok {
		t.Fatal("tap after a 2.5s gap should start a new run")
	}
	if tp.Count() != 1 {
		t.Errorf("Count after reset = %d, want 1", tp.Count())
	}
	bpm, ok := tp.Tap(at(4.25))
	if !ok || bpm != 80 {
		t.Errorf("Tap = (%d, %v), want (80, true)", bpm, ok)
	}
}

func TestTapClamps(t *testing.T) {
	tp := NewTapper(0, 0, func(bpm int) int { return min(max(bpm, 26), 294) })
	tp.Tap(at(0))
	if bpm, _ := tp.Tap(at(0.1)); bpm != 294 {
		t.Errorf("fast taps = %d, want clamped 294", bpm)
	}
	tp.Reset()
	tp.Tap(at(10))
	if bpm, _ := tp.Tap(at(11.9)); bpm != 32 {
		t.Errorf("slow taps = %d, want 32", bpm)
	}
}

func TestTapSameInstant(t *testing.T) {
	tp := NewTapper(0, 0, nil)
	tp.Tap(at(1))
	if _, ok := tp.Tap(at(1)); ok {
		t.Error("zero interval should not produce a tempo")
	}
}

func TestTapAveragesRecentWindow(t *testing.T) {
	tp := NewTapper(0, 0, nil)
	// four slow taps, then five at 120 bpm: only the last five count
	for _, s := range []float64{0, 1, 2, 3, 3.5, 4, 4.5, 5} {
		tp.Tap(at(s))
	}
	bpm, ok := tp.Tap(at(5.5))
	if !ok || bpm != 120 {
		t.Errorf("Tap = (%d, %v), want (120, true)", bpm, ok)
	}
	if tp.Count() != DefaultTapWindow {
		t.Errorf("Count = %d, want %d", tp.Count(), DefaultTapWindow)
	}
}

func TestTapCustomWindow(t *testing.T) {
	tp := NewTapper(0, 2, nil)
	tp.Tap(at(0))
	tp.Tap(at(1))
	if bpm, _ := tp.Tap(at(1.5)); bpm != 120 {
		t.Errorf("two-tap window = %d, want 120 from the last interval", bpm)
	}
}
