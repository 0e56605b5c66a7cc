// Package tempo turns taps and recorded audio into tempo values for the
// beat scheduler.
package tempo

import (
	"math"
	"sync"
	"time"
)

const (
	// DefaultTapReset is the gap after which earlier taps are forgotten.
	DefaultTapReset = 2 * time.Second
	// DefaultTapWindow is how many recent taps the tempo is averaged over.
	DefaultTapWindow = 5
)

// Clamp bounds an estimated tempo before it reaches the scheduler.
type Clamp func(bpm int) int

// Tapper computes a tempo from the spacing of taps.
type Tapper struct {
	resetAfter time.Duration
	window     int
	clamp      Clamp

	mu   sync.Mutex
	taps []time.Time
}

// NewTapper creates a tapper that averages the last window taps. A zero
// resetAfter uses DefaultTapReset, a window below 2 uses DefaultTapWindow
// and a nil clamp leaves estimates unbounded.
func NewTapper(resetAfter time.Duration, window int, clamp Clamp) *Tapper {
	if resetAfter <= 0 {
		resetAfter = DefaultTapReset
	}
	if window < 2 {
		window = DefaultTapWindow
	}
	if clamp == nil {
		clamp = func(bpm int) int { return bpm }
	}
	return &Tapper{resetAfter: resetAfter, window: window, clamp: clamp}
}

// Tap records a tap at the given instant and returns the tempo implied by
// the mean interval of the taps so far. ok is false until there are two
// taps in the current run; the caller should keep its tempo in that case.
func (t *Tapper) Tap(at time.Time) (bpm int, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if n := len(t.taps); n > 0 && at.Sub(t.taps[n-1]) > t.resetAfter {
		t.taps = t.taps[:0]
	}
	t.taps = append(t.taps, at)
	if n := len(t.taps); n > t.window {
		t.taps = append(t.taps[:0], t.taps[n-t.window:]...)
	}
	if len(t.taps) < 2 {
		return 0, false
	}

	span := t.taps[len(t.taps)-1].Sub(t.taps[0])
	mean := span / time.Duration(len(t.taps)-1)
	if mean <= 0 {
		return 0, false
	}
	return t.clamp(int(math.Round(time.Minute.Seconds() / mean.Seconds()))), true
}

// Count returns the number of taps in the current run.
func (t *Tapper) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.taps)
}

// Reset forgets all taps.
func (t *Tapper) Reset() {
	t.mu.Lock()
	t.taps = t.taps[:0]
	t.mu.Unlock()
}
