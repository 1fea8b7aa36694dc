// Package stream fans played PCM frames out to network listeners.
package stream

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"
	"go.uber.org/atomic"
)

const listenerBuffer = 150 // ~3 seconds at 20ms/frame

// Broadcaster fans out PCM frames from one line to N listeners.
type Broadcaster struct {
	mu        sync.RWMutex
	listeners map[*Listener]struct{}

	frames  atomic.Int64
	dropped atomic.Int64
}

// Listener receives PCM frames from the broadcaster.
type Listener struct {
	C    chan []int16
	done chan struct{}
	once sync.Once

	dropped atomic.Int64
}

// Done is closed when the listener is unsubscribed or the source ends.
func (l *Listener) Done() <-chan struct{} {
	return l.done
}

// Dropped counts frames skipped because the listener fell behind.
func (l *Listener) Dropped() int64 {
	return l.dropped.Load()
}

func (l *Listener) stop() {
	l.once.Do(func() { close(l.done) })
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		listeners: make(map[*Listener]struct{}),
	}
}

func (b *Broadcaster) Subscribe() *Listener {
	l := &Listener{
		C:    make(chan []int16, listenerBuffer),
		done: make(chan struct{}),
	}
	b.mu.Lock()
	b.listeners[l] = struct{}{}
	b.mu.Unlock()
	return l
}

// Unsubscribe removes a listener and signals it to stop.
func (b *Broadcaster) Unsubscribe(l *Listener) {
	b.mu.Lock()
	delete(b.listeners, l)
	b.mu.Unlock()
	l.stop()
}

func (b *Broadcaster) ListenerCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.listeners)
}

// Frames is the number of frames received from the source.
func (b *Broadcaster) Frames() int64 {
	return b.frames.Load()
}

// Dropped is the total of frames dropped across all listeners.
func (b *Broadcaster) Dropped() int64 {
	return b.dropped.Load()
}

// Run reads frames from source and fans out to all listeners until ctx is
// done or source is closed. Slow listeners lose frames rather than stalling
// the line. When source closes every listener is stopped.
func (b *Broadcaster) Run(ctx context.Context, source <-chan []int16) {
	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-source:
			if !ok {
				b.stopAll()
				return
			}
			b.frames.Inc()
			b.fanOut(frame)
		}
	}
}

func (b *Broadcaster) fanOut(frame []int16) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for l := range b.listeners {
		select {
		case l.C <- frame:
		default:
			if l.dropped.Inc() == 1 {
				log.Debug().Msg("listener falling behind, dropping frames")
			}
			b.dropped.Inc()
		}
	}
}

func (b *Broadcaster) stopAll() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for l := range b.listeners {
		l.stop()
	}
	log.Debug().Int("listeners", len(b.listeners)).Msg("broadcast source ended")
}
