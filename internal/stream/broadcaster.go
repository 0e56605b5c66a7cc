// Package stream carries the rendered click track to remote listeners.
package stream

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/pion/logging"
)

// listenerBuffer is ~3 seconds of 20ms frames.
const listenerBuffer = 150

// Broadcaster fans out click-track frames from the renderer to N listeners.
type Broadcaster struct {
	log       logging.LeveledLogger
	mu        sync.RWMutex
	listeners map[*Listener]struct{}
}

// Listener receives PCM frames from the broadcaster.
type Listener struct {
	ID   string
	Kind string       // transport name, for logs
	C    chan []int16 // buffered channel of 20ms PCM frames
	done chan struct{}

	dropped atomic.Int64
}

// Dropped returns how many frames were skipped because the listener lagged.
func (l *Listener) Dropped() int64 { return l.dropped.Load() }

// Done is closed when the listener is unsubscribed.
func (l *Listener) Done() <-chan struct{} { return l.done }

// NewBroadcaster creates a new broadcaster.
func NewBroadcaster(logger logging.LeveledLogger) *Broadcaster {
	return &Broadcaster{
		log:       logger,
		listeners: make(map[*Listener]struct{}),
	}
}

// Subscribe registers a new listener of the given transport kind.
func (b *Broadcaster) Subscribe(kind string) *Listener {
	l := &Listener{
		ID:   uuid.NewString(),
		Kind: kind,
		C:    make(chan []int16, listenerBuffer),
		done: make(chan struct{}),
	}
	b.mu.Lock()
	b.listeners[l] = struct{}{}
	b.mu.Unlock()
	b.log.Debugf("%s listener %s subscribed", kind, l.ID)
	return l
}

// Unsubscribe removes a listener and signals it to stop. Calling it twice
// is a no-op.
func (b *Broadcaster) Unsubscribe(l *Listener) {
	b.mu.Lock()
	_, ok := b.listeners[l]
	delete(b.listeners, l)
	b.mu.Unlock()
	if !ok {
		return
	}
	close(l.done)
	if n := l.Dropped(); n > 0 {
		b.log.Infof("%s listener %s left after dropping %d frames", l.Kind, l.ID, n)
	}
}

// ListenerCount returns the number of active listeners.
func (b *Broadcaster) ListenerCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.listeners)
}

// Run reads frames from source and fans out to all listeners.
// Slow listeners get frames dropped rather than delaying the click track.
func (b *Broadcaster) Run(ctx context.Context, source <-chan []int16) {
	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-source:
			if !ok {
				return
			}
			b.mu.RLock()
			for l := range b.listeners {
				select {
				case l.C <- frame:
				default:
					l.dropped.Add(1)
				}
			}
			b.mu.RUnlock()
		}
	}
}
