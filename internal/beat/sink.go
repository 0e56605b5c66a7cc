package beat

import "time"

// Beat is one fired subdivision.
type Beat struct {
	Index        int
	Subdivisions int
	Role         Role
	Muted        bool      // silenced by the trainer
	Scheduled    time.Time // boundary the beat was due at
	Fired        time.Time // clock reading when it was observed
}

// Audible reports whether a sink should make a sound for the beat.
func (b Beat) Audible() bool {
	return !b.Muted && b.Role != RoleOff
}

// Late returns how far past its boundary the beat fired.
func (b Beat) Late() time.Duration {
	if b.Scheduled.IsZero() {
		return 0
	}
	return b.Fired.Sub(b.Scheduled)
}

// Sink receives fired beats and owns the actual audio. Play is called from
// the scheduler's worker and must not block for long.
type Sink interface {
	Play(b Beat)
	SetVolume(v float64)
}

// Sinks fans every call out to each sink in order.
type Sinks []Sink

func (s Sinks) Play(b Beat) {
	for _, sink := range s {
		sink.Play(b)
	}
}

func (s Sinks) SetVolume(v float64) {
	for _, sink := range s {
		sink.SetVolume(v)
	}
}

// Clock is the scheduler's time source. Now must be monotonic.
type Clock interface {
	Now() time.Time
	Sleep(d time.Duration)
}

type systemClock struct{}

func (systemClock) Now() time.Time        { return time.Now() }
func (systemClock) Sleep(d time.Duration) { time.Sleep(d) }

// SystemClock returns the process monotonic clock.
func SystemClock() Clock { return systemClock{} }
