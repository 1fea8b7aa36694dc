// Package device holds output lines the playout loop writes PCM to.
package device

import (
	"errors"
	"sync"

	"github.com/satindergrewal/playout/internal/audio"
)

// ErrClosed is returned by writes to a closed line.
var ErrClosed = errors.New("device: line closed")

// Line is an output device accepting signed little-endian PCM.
type Line interface {
	// Open prepares the line for format with a buffer of roughly
	// bufferFrames frames and returns the buffer size actually granted.
	Open(format audio.Format, bufferFrames int) (int, error)
	Start() error
	// Write blocks while the line buffer is full and returns the number of
	// bytes accepted, which is short only when the line is closed.
	Write(p []byte) (int, error)
	// FramePosition is the number of frames played since Start.
	FramePosition() int64

	GainSupported() bool
	GainRange() (min, max float64)
	Gain() float64
	SetGain(db float64)

	Close() error
}

// ring is a fixed-size byte FIFO whose writers block while it is full.
type ring struct {
	mu       sync.Mutex
	notFull  *sync.Cond
	buf      []byte
	r, n     int
	closed   bool
	consumed int64
}

func newRing(size int) *ring {
	rb := &ring{buf: make([]byte, size)}
	rb.notFull = sync.NewCond(&rb.mu)
	return rb
}

// Write copies all of p into the ring, waiting for readers to make room.
func (rb *ring) Write(p []byte) (int, error) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	written := 0
	for written < len(p) {
		if rb.closed {
			return written, ErrClosed
		}
		free := len(rb.buf) - rb.n
		if free == 0 {
			rb.notFull.Wait()
			continue
		}
		w := (rb.r + rb.n) % len(rb.buf)
		chunk := min(free, len(p)-written, len(rb.buf)-w)
		copy(rb.buf[w:w+chunk], p[written:written+chunk])
		rb.n += chunk
		written += chunk
	}
	return written, nil
}

// Read copies up to len(p) buffered bytes without blocking.
func (rb *ring) Read(p []byte) int {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	read := 0
	for read < len(p) && rb.n > 0 {
		chunk := min(rb.n, len(p)-read, len(rb.buf)-rb.r)
		copy(p[read:read+chunk], rb.buf[rb.r:rb.r+chunk])
		rb.r = (rb.r + chunk) % len(rb.buf)
		rb.n -= chunk
		read += chunk
	}
	rb.consumed += int64(read)
	if read > 0 {
		rb.notFull.Broadcast()
	}
	return read
}

// Consumed is the total number of bytes read out of the ring.
func (rb *ring) Consumed() int64 {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return rb.consumed
}

func (rb *ring) Buffered() int {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return rb.n
}

func (rb *ring) Close() {
	rb.mu.Lock()
	rb.closed = true
	rb.notFull.Broadcast()
	rb.mu.Unlock()
}

// nextPow2 rounds n up to a power of two.
func nextPow2(n int) int {
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}

// BufferFrames returns the line buffer size in frames for the given seconds
// of audio in f, with the byte size rounded up to a power of two.
func BufferFrames(f audio.Format, seconds float64) int {
	bytes := nextPow2(int(seconds * float64(f.SampleRate) * float64(f.BytesPerFrame())))
	return bytes / f.BytesPerFrame()
}
