package beat

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// manualClock only moves when told to; Sleep advances it.
type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func newManualClock() *manualClock {
	return &manualClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Sleep(d time.Duration) { c.Advance(d) }

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type recordingSink struct {
	mu     sync.Mutex
	beats  []Beat
	volume float64
	ch     chan Beat
}

func (r *recordingSink) Play(b Beat) {
	r.mu.Lock()
	r.beats = append(r.beats, b)
	r.mu.Unlock()
	if r.ch != nil {
		select {
		case r.ch <- b:
		default:
		}
	}
}

func (r *recordingSink) SetVolume(v float64) {
	r.mu.Lock()
	r.volume = v
	r.mu.Unlock()
}

func (r *recordingSink) played() []Beat {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Beat(nil), r.beats...)
}

func newTestScheduler(t *testing.T, cfg Config) (*Scheduler, *manualClock, *recordingSink) {
	t.Helper()
	clk := newManualClock()
	sink := &recordingSink{}
	cfg.Clock = clk
	if cfg.Volume == 0 {
		cfg.Volume = 1
	}
	return New(cfg, sink), clk, sink
}

// --- Configuration ---

func TestNewClampsConfig(t *testing.T) {
	s, _, sink := newTestScheduler(t, Config{Tempo: 500, Subdivisions: 20, Swing: 0.9, Volume: 2})
	st := s.Status()
	if st.Tempo != 294 {
		t.Errorf("Tempo = %d, want 294", st.Tempo)
	}
	if st.Subdivisions != 9 {
		t.Errorf("Subdivisions = %d, want 9", st.Subdivisions)
	}
	if st.Swing != 0.5 {
		t.Errorf("Swing = %v, want 0.5", st.Swing)
	}
	if sink.volume != 1 {
		t.Errorf("sink volume = %v, want 1", sink.volume)
	}
	if !st.Paused {
		t.Error("new scheduler should be paused")
	}
	if st.State != StateStopped {
		t.Errorf("State before Start = %v, want stopped", st.State)
	}
}

func TestSettersClamp(t *testing.T) {
	s, _, sink := newTestScheduler(t, Config{})

	tests := []struct {
		name string
		got  float64
		want float64
	}{
		{"tempo low", float64(s.SetTempo(3)), 26},
		{"tempo high", float64(s.SetTempo(1000)), 294},
		{"tempo ok", float64(s.SetTempo(133)), 133},
		{"subdivisions low", float64(s.SetSubdivisions(0)), 1},
		{"subdivisions high", float64(s.SetSubdivisions(12)), 9},
		{"swing low", s.SetSwing(-1), 0},
		{"swing high", s.SetSwing(0.7), 0.5},
		{"volume low", s.SetVolume(-0.2), 0},
		{"volume high", s.SetVolume(1.5), 1},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s: got %v, want %v", tt.name, tt.got, tt.want)
		}
	}
	if sink.volume != 1 {
		t.Errorf("volume not forwarded to sink: got %v", sink.volume)
	}
}

func TestSetTempoRebuildsTable(t *testing.T) {
	s, _, _ := newTestScheduler(t, Config{Tempo: 120, Subdivisions: 4})
	s.SetTempo(60)
	for i, d := range s.Intervals() {
		if d != 250*time.Millisecond {
			t.Errorf("table[%d] = %v, want 250ms", i, d)
		}
	}
	s.SetSwing(0.2)
	got := s.Intervals()
	if got[0] != 300*time.Millisecond || got[1] != 200*time.Millisecond {
		t.Errorf("swung table = %v, want [300ms 200ms ...]", got)
	}
}

func TestSetSubdivisionsResetsRoles(t *testing.T) {
	var resetTo int
	s, clk, _ := newTestScheduler(t, Config{
		Tempo:        120,
		Subdivisions: 4,
		OnRolesReset: func(n int) { resetTo = n },
	})
	s.ToggleAccent(3)
	s.SetRoles([]int{2}, []int{3})
	s.Pause(false)
	clk.Advance(200 * time.Millisecond)
	s.advance(clk.Now())

	if got := s.SetSubdivisions(3); got != 3 {
		t.Fatalf("SetSubdivisions = %d, want 3", got)
	}
	if resetTo != 3 {
		t.Errorf("OnRolesReset got %d, want 3", resetTo)
	}
	st := s.Status()
	if st.Current != 0 {
		t.Errorf("Current = %d, want 0", st.Current)
	}
	if len(st.Roles.Accent()) != 0 || len(st.Roles.First()) != 1 || !st.Roles.IsFirst(0) {
		t.Errorf("roles not reset: first=%v accent=%v", st.Roles.First(), st.Roles.Accent())
	}
	if n := len(s.Intervals()); n != 3 {
		t.Errorf("table length = %d, want 3", n)
	}
}

func TestToggleAccent(t *testing.T) {
	s, _, _ := newTestScheduler(t, Config{Subdivisions: 4})
	if !s.ToggleAccent(2) {
		t.Fatal("ToggleAccent(2) = false")
	}
	if s.Roles().Role(2) != RoleAccent {
		t.Errorf("Role(2) = %v, want accent", s.Roles().Role(2))
	}
	if s.ToggleAccent(0) {
		t.Error("ToggleAccent(0) should be refused for a first beat")
	}
	if s.ToggleAccent(4) {
		t.Error("ToggleAccent(4) should be refused out of range")
	}
}

func TestToggleOffAndFirst(t *testing.T) {
	s, clk, _ := newTestScheduler(t, Config{Tempo: 120, Subdivisions: 4})
	if !s.ToggleOff(1) || !s.ToggleFirst(2) {
		t.Fatal("toggles refused")
	}
	if s.ToggleOff(0) || s.ToggleFirst(0) {
		t.Error("index 0 must stay an audible first beat")
	}
	s.Pause(false)

	want := []Role{RoleOff, RoleFirst, RoleNormal, RoleFirst}
	for i, w := range want {
		clk.Advance(125 * time.Millisecond)
		b, ok := s.advance(clk.Now())
		if !ok {
			t.Fatalf("tick %d did not fire", i)
		}
		if b.Role != w {
			t.Errorf("tick %d (index %d) role = %v, want %v", i, b.Index, b.Role, w)
		}
		if b.Audible() == (w == RoleOff) {
			t.Errorf("tick %d audible = %v", i, b.Audible())
		}
	}

	if !s.ToggleFirst(2) || s.Roles().IsFirst(2) {
		t.Error("second ToggleFirst(2) should clear the mark")
	}
}

// --- Tick loop ---

func TestAdvanceFiresOnBoundary(t *testing.T) {
	s, clk, _ := newTestScheduler(t, Config{Tempo: 120, Subdivisions: 4})
	s.ToggleAccent(2)
	s.Pause(false)
	start := clk.Now()

	if _, ok := s.advance(start.Add(124 * time.Millisecond)); ok {
		t.Fatal("fired before the boundary")
	}

	want := []struct {
		index int
		role  Role
	}{{1, RoleNormal}, {2, RoleAccent}, {3, RoleNormal}, {0, RoleFirst}}
	for i, w := range want {
		at := start.Add(time.Duration(i+1) * 125 * time.Millisecond)
		b, ok := s.advance(at)
		if !ok {
			t.Fatalf("tick %d did not fire at %v", i, at.Sub(start))
		}
		if b.Index != w.index || b.Role != w.role {
			t.Errorf("tick %d = (%d, %v), want (%d, %v)", i, b.Index, b.Role, w.index, w.role)
		}
		if !b.Scheduled.Equal(at) {
			t.Errorf("tick %d scheduled at %v, want %v", i, b.Scheduled.Sub(start), at.Sub(start))
		}
	}
}

func TestAdvanceDoesNotFireWhilePaused(t *testing.T) {
	s, clk, _ := newTestScheduler(t, Config{})
	clk.Advance(time.Hour)
	if _, ok := s.advance(clk.Now()); ok {
		t.Error("paused scheduler fired")
	}
}

func TestDriftDoesNotAccumulate(t *testing.T) {
	s, clk, _ := newTestScheduler(t, Config{Tempo: 120, Subdivisions: 4, Swing: 0.2})
	s.Pause(false)
	start := clk.Now()
	table := s.Intervals()

	expected := start.Add(table[0])
	var observed time.Time
	for i := 0; i < 200; i++ {
		// overshoot each boundary by a bounded, varying jitter
		jitter := time.Duration(i%7) * 700 * time.Microsecond
		observed = s.nextTick.Add(jitter)
		b, ok := s.advance(observed)
		if !ok {
			t.Fatalf("tick %d did not fire", i)
		}
		if b.Late() != jitter {
			t.Errorf("tick %d late = %v, want %v", i, b.Late(), jitter)
		}
		expected = expected.Add(table[b.Index])
	}

	if !s.nextTick.Equal(expected) {
		t.Errorf("next boundary = %v, want %v (drift %v)", s.nextTick.Sub(start), expected.Sub(start), s.nextTick.Sub(expected))
	}
	// 200 ticks at 4 per 500ms is 50 measures after the first boundary
	if got := expected.Sub(start); got != table[0]+50*500*time.Millisecond {
		t.Errorf("accumulated = %v, want %v", got, table[0]+25*time.Second)
	}
	if s.lastTick != observed {
		t.Errorf("last tick = %v, want the observed time", s.lastTick)
	}
}

func TestPauseResumeNoBurst(t *testing.T) {
	s, clk, sink := newTestScheduler(t, Config{Tempo: 120, Subdivisions: 4})
	s.Pause(false)
	clk.Advance(125 * time.Millisecond)
	if _, ok := s.advance(clk.Now()); !ok {
		t.Fatal("first tick did not fire")
	}

	s.Pause(true)
	clk.Advance(10 * time.Second)
	s.Pause(false)
	resumed := clk.Now()
	interval := s.Intervals()[s.Status().Current]

	if _, ok := s.advance(resumed); ok {
		t.Fatal("tick fired immediately after resume")
	}
	if _, ok := s.advance(resumed.Add(interval - time.Nanosecond)); ok {
		t.Fatal("tick fired before a full interval elapsed")
	}
	if _, ok := s.advance(resumed.Add(interval)); !ok {
		t.Fatal("tick did not fire one interval after resume")
	}
	if _, ok := s.advance(resumed.Add(interval)); ok {
		t.Fatal("queued ticks fired in a burst")
	}
	if len(sink.played()) != 0 {
		t.Errorf("advance should not call the sink, got %d beats", len(sink.played()))
	}
}

func TestWorkerRebaselinesWhilePaused(t *testing.T) {
	clk := newManualClock()
	s := New(Config{Tempo: 120, Subdivisions: 4, Clock: clk, Volume: 1}, &recordingSink{})
	start := clk.Now()
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()

	// the paused worker sleeps one pause quantum per pass, moving the clock
	deadline := time.After(2 * time.Second)
	for clk.Now().Sub(start) < 20*s.pauseQuantum {
		select {
		case <-deadline:
			t.Fatalf("worker moved the clock only %v", clk.Now().Sub(start))
		case <-time.After(time.Millisecond):
		}
	}

	s.mu.Lock()
	last, next, current := s.lastTick, s.nextTick, s.current
	interval := s.table[s.current]
	now := clk.Now()
	s.mu.Unlock()

	if last.Sub(start) < 10*s.pauseQuantum {
		t.Errorf("last tick stayed at %v, want it to follow the clock", last.Sub(start))
	}
	// the worker may have slept once more without re-baselining yet
	if lag := now.Sub(last); lag < 0 || lag > s.pauseQuantum {
		t.Errorf("last tick lags the clock by %v, want at most %v", lag, s.pauseQuantum)
	}
	if !next.Equal(last.Add(interval)) {
		t.Errorf("next boundary = last + %v, want + %v", next.Sub(last), interval)
	}
	if current != 0 {
		t.Errorf("Current = %d, want 0 while paused", current)
	}
}

func TestResetToFirst(t *testing.T) {
	s, clk, sink := newTestScheduler(t, Config{Tempo: 120, Subdivisions: 4})
	s.Pause(false)
	clk.Advance(250 * time.Millisecond)
	s.advance(clk.Now())
	s.Pause(true)
	clk.Advance(time.Minute)

	s.Pause(false)
	s.ResetToFirst()

	beats := sink.played()
	if len(beats) != 1 {
		t.Fatalf("ResetToFirst played %d beats, want 1", len(beats))
	}
	if beats[0].Index != 0 || beats[0].Role != RoleFirst {
		t.Errorf("played (%d, %v), want (0, first)", beats[0].Index, beats[0].Role)
	}
	if s.Status().Current != 0 {
		t.Errorf("Current = %d, want 0", s.Status().Current)
	}
	if want := clk.Now().Add(125 * time.Millisecond); !s.nextTick.Equal(want) {
		t.Errorf("next boundary not re-baselined: off by %v", s.nextTick.Sub(want))
	}
}

func TestFractionAndPosition(t *testing.T) {
	s, clk, _ := newTestScheduler(t, Config{Tempo: 120, Subdivisions: 4})
	if f := s.Fraction(); f != 0 {
		t.Errorf("paused Fraction = %v, want 0", f)
	}

	s.Pause(false)
	clk.Advance(125 * time.Millisecond)
	s.advance(clk.Now())
	clk.Advance(62500 * time.Microsecond)
	if f := s.Fraction(); f != 0.5 {
		t.Errorf("Fraction = %v, want 0.5", f)
	}
	if p := s.Position(); p != 1.5 {
		t.Errorf("Position = %v, want 1.5", p)
	}

	clk.Advance(time.Second)
	if f := s.Fraction(); f != 1 {
		t.Errorf("Fraction past boundary = %v, want clamped to 1", f)
	}
	if s.Status().Current != 1 {
		t.Error("Fraction must not advance the scheduler")
	}
}

func TestSinks(t *testing.T) {
	a, b := &recordingSink{}, &recordingSink{}
	sinks := Sinks{a, b}
	sinks.Play(Beat{Index: 2, Role: RoleAccent})
	sinks.SetVolume(0.3)
	for i, r := range []*recordingSink{a, b} {
		if len(r.played()) != 1 || r.volume != 0.3 {
			t.Errorf("sink %d: beats=%d volume=%v", i, len(r.played()), r.volume)
		}
	}
}

// --- Worker lifecycle ---

func TestRunDeliversBeats(t *testing.T) {
	sink := &recordingSink{ch: make(chan Beat, 64)}
	s := New(Config{Tempo: 294, Subdivisions: 4, Volume: 1}, sink)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()

	if s.State() != StatePaused {
		t.Errorf("State after Start = %v, want paused", s.State())
	}
	s.Pause(false)
	if s.State() != StateRunning {
		t.Errorf("State after Pause(false) = %v, want running", s.State())
	}

	want := []int{1, 2, 3, 0}
	for i, idx := range want {
		select {
		case b := <-sink.ch:
			if b.Index != idx {
				t.Errorf("beat %d index = %d, want %d", i, b.Index, idx)
			}
			if idx == 0 && b.Role != RoleFirst {
				t.Errorf("beat %d role = %v, want first", i, b.Role)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timeout waiting for beat %d", i)
		}
	}
}

func TestStartTwice(t *testing.T) {
	s := New(Config{}, nil)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := s.Start(context.Background()); !errors.Is(err, ErrAlreadyStarted) {
		t.Errorf("second Start = %v, want ErrAlreadyStarted", err)
	}
	s.Stop()
	if err := s.Start(context.Background()); !errors.Is(err, ErrStopped) {
		t.Errorf("Start after Stop = %v, want ErrStopped", err)
	}
	if s.State() != StateStopped {
		t.Errorf("State = %v, want stopped", s.State())
	}
	s.Stop() // idempotent
}

func TestStopJoinsWorker(t *testing.T) {
	s := New(Config{}, nil)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	s.Pause(false)
	s.Stop()
	select {
	case <-s.done:
	default:
		t.Fatal("Stop returned before the worker exited")
	}
}

func TestWorkerStopsOnContextCancel(t *testing.T) {
	s := New(Config{}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	cancel()

	select {
	case <-s.done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop after context cancel")
	}
	if s.State() != StateStopped {
		t.Errorf("State = %v, want stopped", s.State())
	}
}

type panickySink struct{ plays atomic.Int32 }

func (p *panickySink) Play(Beat) {
	p.plays.Add(1)
	panic("device gone")
}

func (p *panickySink) SetVolume(float64) {}

func TestSinkPanicDoesNotStopLoop(t *testing.T) {
	sink := &panickySink{}
	s := New(Config{Tempo: 294, Subdivisions: 8, Volume: 1}, sink)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()
	s.Pause(false)

	deadline := time.After(2 * time.Second)
	for sink.plays.Load() < 3 {
		select {
		case <-deadline:
			t.Fatalf("only %d beats after sink panics", sink.plays.Load())
		case <-time.After(5 * time.Millisecond):
		}
	}
}
