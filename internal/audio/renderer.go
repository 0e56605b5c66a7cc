package audio

import (
	"context"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/logging"

	"github.com/satindergrewal/clicktrack/internal/beat"
)

type voice struct {
	sound Sound
	pos   int
}

// Renderer is a beat sink that mixes clicks into 20ms PCM frames and
// outputs them at real-time rate.
type Renderer struct {
	kit     Kit
	log     logging.LeveledLogger
	trigCh  chan Sound
	frameCh chan []int16
	volume  atomic.Uint64 // math.Float64bits

	mu       sync.Mutex
	voices   []*voice
	rendered int64
}

// NewRenderer creates a renderer for the given kit at full volume.
func NewRenderer(kit Kit, logger logging.LeveledLogger) *Renderer {
	r := &Renderer{
		kit:     kit,
		log:     logger,
		trigCh:  make(chan Sound, 16),
		frameCh: make(chan []int16, 100),
	}
	r.SetVolume(1)
	return r
}

// Frames returns the channel of outgoing PCM frames (20ms each).
func (r *Renderer) Frames() <-chan []int16 {
	return r.frameCh
}

// Play queues the click for b. It never blocks the scheduler: when the
// trigger queue is full the click is dropped.
func (r *Renderer) Play(b beat.Beat) {
	s := r.kit.For(b)
	if len(s) == 0 {
		return
	}
	select {
	case r.trigCh <- s:
	default:
		r.log.Warnf("renderer busy, dropped %s click", b.Role)
	}
}

// SetVolume sets the gain applied to clicks mixed from now on.
func (r *Renderer) SetVolume(v float64) {
	r.volume.Store(math.Float64bits(min(max(v, 0), 1)))
}

// Volume returns the current gain.
func (r *Renderer) Volume() float64 {
	return math.Float64frombits(r.volume.Load())
}

// Rendered returns how many frames have been produced.
func (r *Renderer) Rendered() (frames int64, elapsed time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rendered, time.Duration(r.rendered) * FrameDuration
}

// Run produces one frame per FrameDuration until ctx is cancelled.
func (r *Renderer) Run(ctx context.Context) {
	defer close(r.frameCh)

	ticker := time.NewTicker(FrameDuration)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		select {
		case r.frameCh <- r.nextFrame():
		case <-ctx.Done():
			return
		}
	}
}

// nextFrame starts queued clicks and mixes every active voice into a
// single frame, dropping voices that have finished.
func (r *Renderer) nextFrame() []int16 {
	frame := make([]int16, FrameSamples)
	gain := r.Volume()

	r.mu.Lock()
	defer r.mu.Unlock()

drain:
	for {
		select {
		case s := <-r.trigCh:
			r.voices = append(r.voices, &voice{sound: s})
		default:
			break drain
		}
	}

	active := r.voices[:0]
	for _, v := range r.voices {
		v.pos += MixInto(frame, v.sound[v.pos:], gain)
		if v.pos < len(v.sound) {
			active = append(active, v)
		}
	}
	clear(r.voices[len(active):])
	r.voices = active
	r.rendered++
	return frame
}
