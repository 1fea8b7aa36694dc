package device

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"go.uber.org/atomic"

	"github.com/satindergrewal/playout/internal/audio"
)

const (
	broadcastMinGain = -80.0
	broadcastMaxGain = 6.0
)

// Broadcast is a virtual line that plays at real-time rate into a channel of
// 16-bit PCM frames, one per audio.FrameDuration, for fan-out to listeners.
// Gain is applied in software.
type Broadcast struct {
	format audio.Format
	ring   *ring
	frames chan []int16
	done   chan struct{}
	wg     sync.WaitGroup

	played    atomic.Int64
	underruns atomic.Int64
	gain      atomic.Float64

	startOnce sync.Once
	closeOnce sync.Once
}

// NewBroadcast creates an unopened broadcast line.
func NewBroadcast() *Broadcast {
	return &Broadcast{
		frames: make(chan []int16, 16),
		done:   make(chan struct{}),
	}
}

// Frames returns the channel of played PCM frames. It is closed by Close.
func (b *Broadcast) Frames() <-chan []int16 {
	return b.frames
}

// Format returns the format the line was opened with.
func (b *Broadcast) Format() audio.Format {
	return b.format
}

func (b *Broadcast) Open(format audio.Format, bufferFrames int) (int, error) {
	if format.Encoding != audio.EncodingSigned || format.BigEndian {
		return 0, fmt.Errorf("%w: broadcast line needs signed little-endian PCM, got %v", audio.ErrUnsupportedEncoding, format)
	}
	if err := format.Validate(); err != nil {
		return 0, err
	}
	b.format = format
	b.ring = newRing(bufferFrames * format.BytesPerFrame())
	return bufferFrames, nil
}

func (b *Broadcast) Start() error {
	if b.ring == nil {
		return fmt.Errorf("device: broadcast line not open")
	}
	b.startOnce.Do(func() {
		b.wg.Add(1)
		go b.run()
	})
	return nil
}

func (b *Broadcast) run() {
	defer b.wg.Done()
	defer close(b.frames)

	ticker := time.NewTicker(audio.FrameDuration)
	defer ticker.Stop()

	bpf := b.format.BytesPerFrame()
	chunk := make([]byte, b.format.FramesIn(audio.FrameDuration)*bpf)
	applied := audio.DBToLinear(b.gain.Load())

	for {
		select {
		case <-b.done:
			return
		case <-ticker.C:
		}

		clear(chunk)
		n := b.ring.Read(chunk)
		b.played.Add(int64(n / bpf))
		if n < len(chunk) {
			b.underruns.Inc()
			log.Trace().Int("bytes", n).Msg("broadcast line underrun")
		}

		frame := b.toSamples(chunk)
		target := audio.DBToLinear(b.gain.Load())
		audio.RampFrame(frame, applied, target)
		applied = target

		select {
		case b.frames <- frame:
		case <-b.done:
			return
		}
	}
}

func (b *Broadcast) toSamples(chunk []byte) []int16 {
	if b.format.BitsPerSample == 8 {
		samples := make([]int16, len(chunk))
		for i, v := range chunk {
			samples[i] = int16(int8(v)) << 8
		}
		return samples
	}
	return audio.BytesToSamples(chunk)
}

func (b *Broadcast) Write(p []byte) (int, error) {
	if b.ring == nil {
		return 0, ErrClosed
	}
	return b.ring.Write(p)
}

func (b *Broadcast) FramePosition() int64 {
	return b.played.Load()
}

// Underruns counts ticks that found less than a full frame buffered.
func (b *Broadcast) Underruns() int64 {
	return b.underruns.Load()
}

func (b *Broadcast) GainSupported() bool { return true }

func (b *Broadcast) GainRange() (float64, float64) {
	return broadcastMinGain, broadcastMaxGain
}

func (b *Broadcast) Gain() float64 {
	return b.gain.Load()
}

func (b *Broadcast) SetGain(db float64) {
	b.gain.Store(audio.ClampGain(db, broadcastMinGain, broadcastMaxGain))
}

func (b *Broadcast) Close() error {
	b.closeOnce.Do(func() {
		close(b.done)
		if b.ring != nil {
			b.ring.Close()
		}
		// never started: nothing else will close frames
		b.startOnce.Do(func() { close(b.frames) })
		b.wg.Wait()
		log.Debug().Int64("frames_played", b.played.Load()).Msg("broadcast line closed")
	})
	return nil
}
