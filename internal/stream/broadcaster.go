package stream

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// ListenerBuffer is the per-listener queue depth (~3 seconds at 20ms/frame).
const ListenerBuffer = 150

// Broadcaster fans out master-mix PCM frames from the mixer to N listeners.
type Broadcaster struct {
	logger zerolog.Logger

	mu        sync.RWMutex
	listeners map[*Listener]struct{}

	delivered atomic.Uint64
	dropped   atomic.Uint64
}

// Listener receives PCM frames from the broadcaster.
type Listener struct {
	Kind string       // transport that owns the listener: "http", "webrtc"
	C    chan []int16 // buffered channel of 20ms PCM frames
	done chan struct{}
}

// Done is closed when the listener is unsubscribed.
func (l *Listener) Done() <-chan struct{} {
	return l.done
}

// NewBroadcaster creates a new broadcaster.
func NewBroadcaster(logger zerolog.Logger) *Broadcaster {
	return &Broadcaster{
		logger:    logger.With().Str("component", "broadcaster").Logger(),
		listeners: make(map[*Listener]struct{}),
	}
}

// Subscribe registers a new listener of the given transport kind.
func (b *Broadcaster) Subscribe(kind string) *Listener {
	l := &Listener{
		Kind: kind,
		C:    make(chan []int16, ListenerBuffer),
		done: make(chan struct{}),
	}
	b.mu.Lock()
	b.listeners[l] = struct{}{}
	b.mu.Unlock()
	return l
}

// Unsubscribe removes a listener and signals it to stop. Safe to call twice.
func (b *Broadcaster) Unsubscribe(l *Listener) {
	b.mu.Lock()
	_, ok := b.listeners[l]
	delete(b.listeners, l)
	b.mu.Unlock()
	if ok {
		close(l.done)
	}
}

// ListenerCount returns the number of active listeners.
func (b *Broadcaster) ListenerCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.listeners)
}

// CountByKind returns the number of active listeners of one transport kind.
func (b *Broadcaster) CountByKind(kind string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	n := 0
	for l := range b.listeners {
		if l.Kind == kind {
			n++
		}
	}
	return n
}

// Stats returns the number of frames delivered and dropped across all listeners.
func (b *Broadcaster) Stats() (delivered, dropped uint64) {
	return b.delivered.Load(), b.dropped.Load()
}

// Run reads frames from source and fans out to all listeners.
// Slow listeners get frames dropped rather than blocking the broadcast.
func (b *Broadcaster) Run(ctx context.Context, source <-chan []int16) {
	defer b.logger.Debug().Msg("broadcaster stopped")

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
					b.delivered.Add(1)
				default:
					b.dropped.Add(1)
				}
			}
			b.mu.RUnlock()
		}
	}
}
