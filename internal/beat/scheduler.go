package beat

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"time"

	"github.com/pion/logging"
)

var (
	// ErrAlreadyStarted is returned by Start on a running scheduler.
	ErrAlreadyStarted = errors.New("beat: scheduler already started")
	// ErrStopped is returned by Start after Stop.
	ErrStopped = errors.New("beat: scheduler stopped")
)

// State is the scheduler's lifecycle state.
type State int

const (
	StateStopped State = iota
	StatePaused
	StateRunning
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StatePaused:
		return "paused"
	case StateRunning:
		return "running"
	default:
		return "unknown"
	}
}

// Limits bounds the values accepted by the scheduler's setters.
type Limits struct {
	TempoMin        int
	TempoMax        int
	MaxSubdivisions int
	SwingMax        float64
}

// DefaultLimits returns the stock metronome bounds.
func DefaultLimits() Limits {
	return Limits{
		TempoMin:        26,
		TempoMax:        294,
		MaxSubdivisions: 9,
		SwingMax:        0.5,
	}
}

func (l Limits) tempo(v int) int { return min(max(v, l.TempoMin), l.TempoMax) }

func (l Limits) subdivisions(n int) int { return min(max(n, 1), max(1, l.MaxSubdivisions)) }

func (l Limits) swing(s float64) float64 { return min(max(s, 0), l.SwingMax) }

func clampVolume(v float64) float64 { return min(max(v, 0), 1) }

// ClampTempo clamps v into the tempo bounds.
func (l Limits) ClampTempo(v int) int { return l.tempo(v) }

// Config holds scheduler parameters. Zero Limits, Tempo, Subdivisions,
// Clock, Logger and quanta take defaults; a zero Volume is silence.
type Config struct {
	Limits       Limits
	Tempo        int     // beats per minute
	Subdivisions int     // pulses per beat
	Swing        float64 // 0..Limits.SwingMax
	Volume       float64 // 0..1, forwarded to the sink

	Clock        Clock
	Logger       logging.LeveledLogger
	PauseQuantum time.Duration // sleep while paused
	PollQuantum  time.Duration // sleep while waiting for a boundary

	Training Training

	// OnRolesReset is called after a subdivision change cleared the role
	// set. It runs on the caller's goroutine, outside the scheduler lock.
	OnRolesReset func(subdivisions int)
}

func (c Config) withDefaults() Config {
	if c.Limits == (Limits{}) {
		c.Limits = DefaultLimits()
	}
	// odd subdivisions are shortened by swing and must stay positive
	c.Limits.SwingMax = min(max(c.Limits.SwingMax, 0), 0.95)
	c.Limits.TempoMin = max(1, c.Limits.TempoMin)
	c.Limits.TempoMax = max(c.Limits.TempoMin, c.Limits.TempoMax)
	if c.Tempo == 0 {
		c.Tempo = 120
	}
	if c.Subdivisions == 0 {
		c.Subdivisions = 4
	}
	if c.Clock == nil {
		c.Clock = SystemClock()
	}
	if c.Logger == nil {
		c.Logger = logging.NewDefaultLoggerFactory().NewLogger("beat")
	}
	if c.PauseQuantum <= 0 {
		c.PauseQuantum = 10 * time.Millisecond
	}
	if c.PollQuantum <= 0 {
		c.PollQuantum = 500 * time.Microsecond
	}
	return c
}

// Status is a point-in-time view of the scheduler for display.
type Status struct {
	State        State
	Tempo        int
	Subdivisions int
	Swing        float64
	Volume       float64
	Current      int
	Paused       bool
	Fraction     float64
	Roles        RoleSet
	Training     TrainingStatus
}

// Scheduler turns tempo, subdivisions and swing into a stream of
// role-tagged beats delivered to a Sink from a dedicated worker.
//
// All configuration, the interval table, the role set and the run state
// live behind mu and change together, so the worker never pairs a new
// subdivision count with a stale table or role set.
type Scheduler struct {
	sink         Sink
	clock        Clock
	log          logging.LeveledLogger
	limits       Limits
	pauseQuantum time.Duration
	pollQuantum  time.Duration
	onRolesReset func(int)

	mu           sync.Mutex
	tempo        int
	subdivisions int
	swing        float64
	volume       float64
	table        []time.Duration
	roles        RoleSet
	current      int
	train        trainer
	paused       bool
	lastTick     time.Time
	nextTick     time.Time
	started      bool
	stopped      bool
	cancel       context.CancelFunc
	done         chan struct{}
}

// New creates a paused scheduler. Out-of-range config values are clamped.
func New(cfg Config, sink Sink) *Scheduler {
	cfg = cfg.withDefaults()
	s := &Scheduler{
		sink:         sink,
		clock:        cfg.Clock,
		log:          cfg.Logger,
		limits:       cfg.Limits,
		pauseQuantum: cfg.PauseQuantum,
		pollQuantum:  cfg.PollQuantum,
		onRolesReset: cfg.OnRolesReset,
		tempo:        cfg.Limits.tempo(cfg.Tempo),
		subdivisions: cfg.Limits.subdivisions(cfg.Subdivisions),
		swing:        cfg.Limits.swing(cfg.Swing),
		volume:       clampVolume(cfg.Volume),
		roles:        DefaultRoles(),
		train:        trainer{cfg: cfg.Training.normalized()},
		paused:       true,
	}
	s.rebuild()
	if sink != nil {
		sink.SetVolume(s.volume)
	}
	return s
}

// Limits returns the bounds the scheduler clamps to.
func (s *Scheduler) Limits() Limits { return s.limits }

// Start launches the tick loop. The scheduler stays paused until
// Pause(false). The worker exits when ctx is cancelled or Stop is called.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return ErrStopped
	}
	if s.started {
		return ErrAlreadyStarted
	}
	ctx, cancel := context.WithCancel(ctx)
	s.started = true
	s.cancel = cancel
	s.done = make(chan struct{})
	s.current = 0
	s.rebaseline(s.clock.Now())

	go s.run(ctx)
	s.log.Infof("scheduler started: %d bpm, %d subdivisions, swing %.2f", s.tempo, s.subdivisions, s.swing)
	return nil
}

// Stop cancels the worker and blocks until it has exited.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	already := s.stopped
	s.stopped = true
	cancel, done := s.cancel, s.done
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	if !already {
		s.log.Info("scheduler stopped")
	}
}

// State returns the lifecycle state.
func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state()
}

func (s *Scheduler) state() State {
	switch {
	case !s.started || s.stopped:
		return StateStopped
	case s.paused:
		return StatePaused
	default:
		return StateRunning
	}
}

// SetTempo clamps v to the tempo bounds, rebuilds the interval table and
// returns the applied tempo.
func (s *Scheduler) SetTempo(v int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.setTempo(v)
}

// setTempo must be called with mu held.
func (s *Scheduler) setTempo(v int) int {
	v = s.limits.tempo(v)
	if v != s.tempo {
		s.tempo = v
		s.rebuild()
		s.log.Debugf("tempo set to %d", v)
	}
	return v
}

// Accelerate raises the tempo by the speed trainer's step, capped at its
// TempoCap, and returns the applied tempo.
func (s *Scheduler) Accelerate() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.setTempo(s.train.cfg.Accelerated(s.tempo))
}

// SetTraining replaces the trainer settings and restarts its measure
// counts. It returns the settings as applied.
func (s *Scheduler) SetTraining(t Training) Training {
	t = t.normalized()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.train.cfg = t
	s.train.reset()
	s.log.Debugf("training: silence %s, speed-up %v", t.Silence, t.SpeedUp)
	return t
}

// Training returns the trainer settings.
func (s *Scheduler) Training() Training {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.train.cfg
}

// SetSubdivisions clamps n, rebuilds the table, moves back to subdivision 0
// and resets the role set to its defaults. It returns the applied count.
func (s *Scheduler) SetSubdivisions(n int) int {
	s.mu.Lock()
	n = s.limits.subdivisions(n)
	s.subdivisions = n
	s.current = 0
	s.roles = DefaultRoles()
	s.rebuild()
	notify := s.onRolesReset
	s.mu.Unlock()

	s.log.Debugf("subdivisions set to %d, roles reset", n)
	if notify != nil {
		notify(n)
	}
	return n
}

// SetSwing clamps v to [0, SwingMax], rebuilds the table and returns the
// applied swing.
func (s *Scheduler) SetSwing(v float64) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	v = s.limits.swing(v)
	if v != s.swing {
		s.swing = v
		s.rebuild()
	}
	return v
}

// SetVolume clamps v to [0,1] and forwards it to the sink.
func (s *Scheduler) SetVolume(v float64) float64 {
	v = clampVolume(v)
	s.mu.Lock()
	s.volume = v
	s.mu.Unlock()
	if s.sink != nil {
		s.sink.SetVolume(v)
	}
	return v
}

// Pause switches between paused and running. Position is kept; leaving
// pause re-baselines the timing so the next beat is a full interval away.
func (s *Scheduler) Pause(paused bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.paused && !paused {
		s.rebaseline(s.clock.Now())
	}
	s.paused = paused
}

// Paused reports whether the scheduler is paused.
func (s *Scheduler) Paused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paused
}

// ResetToFirst restarts the measure: subdivision 0 becomes current, the
// timing is re-baselined and the first beat is played immediately on the
// caller's goroutine.
func (s *Scheduler) ResetToFirst() {
	s.mu.Lock()
	now := s.clock.Now()
	s.current = 0
	s.rebaseline(now)
	b := Beat{
		Index:        0,
		Subdivisions: s.subdivisions,
		Role:         s.roles.Role(0),
		Muted:        s.train.muted(),
		Scheduled:    now,
		Fired:        now,
	}
	s.mu.Unlock()

	s.play(b)
}

// ToggleAccent flips the accent on subdivision i. First beats and indices
// outside the measure are ignored.
func (s *Scheduler) ToggleAccent(i int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	next, ok := s.roles.WithAccentToggled(s.subdivisions, i)
	s.roles = next
	return ok
}

// ToggleOff switches subdivision i off or back on. First beats and
// indices outside the measure are ignored.
func (s *Scheduler) ToggleOff(i int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	next, ok := s.roles.WithOffToggled(s.subdivisions, i)
	s.roles = next
	return ok
}

// ToggleFirst marks subdivision i as a first beat or clears the mark.
// Index 0 always stays first.
func (s *Scheduler) ToggleFirst(i int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	next, ok := s.roles.WithFirst(s.subdivisions, i, !s.roles.IsFirst(i))
	s.roles = next
	return ok
}

// SetRoles replaces the role set. Indices outside the measure are dropped.
func (s *Scheduler) SetRoles(first, accent []int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.roles = NewRoleSet(s.subdivisions, first, accent)
}

// Roles returns the current role set.
func (s *Scheduler) Roles() RoleSet {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.roles
}

// Intervals returns a copy of the current interval table.
func (s *Scheduler) Intervals() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.table...)
}

// Fraction returns how far the current subdivision has progressed towards
// the next one, in [0,1]. It is 0 while paused.
func (s *Scheduler) Fraction() float64 {
	now := s.clock.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fraction(now)
}

// Position returns the current subdivision plus its fraction, for smooth
// animation between ticks.
func (s *Scheduler) Position() float64 {
	now := s.clock.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	return float64(s.current) + s.fraction(now)
}

// Status returns a snapshot of configuration and run state.
func (s *Scheduler) Status() Status {
	now := s.clock.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{
		State:        s.state(),
		Tempo:        s.tempo,
		Subdivisions: s.subdivisions,
		Swing:        s.swing,
		Volume:       s.volume,
		Current:      s.current,
		Paused:       s.paused,
		Fraction:     s.fraction(now),
		Roles:        s.roles,
		Training:     s.train.TrainingStatus,
	}
}

func (s *Scheduler) fraction(now time.Time) float64 {
	if s.paused {
		return 0
	}
	interval := s.table[s.current]
	if interval <= 0 {
		return 0
	}
	f := float64(now.Sub(s.lastTick)) / float64(interval)
	return min(max(f, 0), 1)
}

// rebuild recomputes the interval table. Must be called with mu held.
func (s *Scheduler) rebuild() {
	s.table = Intervals(s.tempo, s.subdivisions, s.swing)
	if s.current >= len(s.table) {
		s.current = 0
	}
}

// rebaseline restarts timing from now. Must be called with mu held.
func (s *Scheduler) rebaseline(now time.Time) {
	s.lastTick = now
	s.nextTick = now.Add(s.table[s.current])
}

func (s *Scheduler) run(ctx context.Context) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	defer close(s.done)
	defer func() {
		s.mu.Lock()
		s.stopped = true
		s.mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if s.idle() {
			s.clock.Sleep(s.pauseQuantum)
			s.mu.Lock()
			if s.paused {
				s.rebaseline(s.clock.Now())
			}
			s.mu.Unlock()
			continue
		}

		b, ok := s.advance(s.clock.Now())
		if !ok {
			s.clock.Sleep(s.pollQuantum)
			continue
		}
		s.play(b)
	}
}

func (s *Scheduler) idle() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paused
}

// advance fires the next subdivision if now has reached its boundary. The
// following boundary is added to the previous scheduled one, never to now,
// so an overshoot on one tick does not shift the ones after it. Wrapping
// to subdivision 0 is a measure boundary: the trainer counts it and may
// raise the tempo, which applies from the new measure's first interval.
func (s *Scheduler) advance(now time.Time) (Beat, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.paused || now.Before(s.nextTick) {
		return Beat{}, false
	}

	scheduled := s.nextTick
	s.current = (s.current + 1) % len(s.table)
	if s.current == 0 {
		if next := s.train.measure(s.tempo); next != 0 {
			prev := s.tempo
			if v := s.setTempo(next); v != prev {
				s.log.Infof("speed trainer: %d -> %d bpm", prev, v)
			}
		}
	}
	b := Beat{
		Index:        s.current,
		Subdivisions: s.subdivisions,
		Role:         s.roles.Role(s.current),
		Muted:        s.train.muted(),
		Scheduled:    scheduled,
		Fired:        now,
	}
	s.lastTick = now
	s.nextTick = s.nextTick.Add(s.table[s.current])
	return b, true
}

func (s *Scheduler) play(b Beat) {
	if s.sink == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			s.log.Errorf("sink panicked on beat %d (%s): %v", b.Index, b.Role, r)
		}
	}()
	s.log.Tracef("beat %d/%d %s late %v", b.Index, b.Subdivisions, b.Role, b.Late())
	s.sink.Play(b)
}
