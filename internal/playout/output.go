// Package playout reorders timestamped PCM packets and plays them on a line.
package playout

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"go.uber.org/atomic"

	"github.com/satindergrewal/playout/internal/audio"
	"github.com/satindergrewal/playout/internal/clock"
	"github.com/satindergrewal/playout/internal/device"
	"github.com/satindergrewal/playout/internal/queue"
)

// ErrClosed is returned by Enqueue after Close.
var ErrClosed = errors.New("playout: output closed")

const (
	DefaultBufferPackets = 300
	DefaultStaleAfter    = 20 * time.Second
	DefaultLineBuffer    = 50 * time.Millisecond
)

// Options tunes the render loop. Zero values take the defaults.
type Options struct {
	// BufferPackets is how many enqueues must happen before playback
	// starts, and again after every underrun.
	BufferPackets int
	// StaleAfter is how far ahead of the line an entry may be before the
	// whole buffer is dropped.
	StaleAfter time.Duration
	// LineBuffer is the requested device buffer length.
	LineBuffer  time.Duration
	InitialGain float64
}

func (o Options) withDefaults() Options {
	if o.BufferPackets <= 0 {
		o.BufferPackets = DefaultBufferPackets
	}
	if o.StaleAfter <= 0 {
		o.StaleAfter = DefaultStaleAfter
	}
	if o.LineBuffer <= 0 {
		o.LineBuffer = DefaultLineBuffer
	}
	return o
}

// Stats is a point-in-time view of the render loop.
type Stats struct {
	Enqueued         int64  `json:"enqueued"`
	Buffered         int    `json:"buffered"`
	FramesWritten    int64  `json:"frames_written"`
	ShortWrites      int64  `json:"short_writes"`
	Resyncs          int64  `json:"resyncs"`
	GateCycles       int64  `json:"gate_cycles"`
	Buffering        bool   `json:"buffering"`
	LatestSeenFrame  int64  `json:"latest_seen_frame_time"`
	NowFrameTime     int64  `json:"now_frame_time"`
	NextFrameTime    int64  `json:"next_frame_time"`
	FrameOffset      int64  `json:"frame_offset"`
	ClockAdjustments int64  `json:"clock_adjustments"`
	Format           string `json:"format"`
}

// Output is the single consumer draining buffered packets to a line in frame
// time order. Enqueue, SetGain, Flush and Close may be called from any
// goroutine.
type Output struct {
	line          device.Line
	format        audio.Format
	convert       bool
	swap          bool
	bytesPerFrame int
	opts          Options
	clock         *clock.Clock
	gainSupported bool
	gainMin       float64
	gainMax       float64

	mu            sync.Mutex
	gate          *sync.Cond
	pending       int
	buffering     bool
	frames        *queue.Sorted[int64, []byte]
	requestedGain float64

	lastMu    sync.Mutex
	lastFrame []byte

	closing atomic.Bool
	done    chan struct{}

	enqueued    atomic.Int64
	shortWrites atomic.Int64
	resyncs     atomic.Int64
	gateCycles  atomic.Int64
}

// New opens and starts line for the stream described by info and launches
// the render loop. Errors from format negotiation or the line are returned
// and no loop is started.
func New(line device.Line, info audio.StreamInfo, opts Options) (*Output, error) {
	opts = opts.withDefaults()
	f := info.Format()
	lineFormat, convert, err := f.LineFormat()
	if err != nil {
		return nil, err
	}

	requested := device.BufferFrames(lineFormat, opts.LineBuffer.Seconds())
	granted, err := line.Open(lineFormat, requested)
	if err != nil {
		return nil, fmt.Errorf("open line: %w", err)
	}
	log.Info().
		Stringer("format", lineFormat).
		Int("requested_frames", requested).
		Int("granted_frames", granted).
		Msg("audio output line opened")

	o := &Output{
		line:          line,
		format:        f,
		convert:       convert,
		swap:          f.BigEndian && f.BitsPerSample == 16,
		bytesPerFrame: f.BytesPerFrame(),
		opts:          opts,
		buffering:     true,
		frames:        queue.New[int64, []byte](),
		requestedGain: opts.InitialGain,
		lastFrame:     make([]byte, f.BytesPerFrame()),
		done:          make(chan struct{}),
	}
	o.gate = sync.NewCond(&o.mu)

	o.gainSupported = line.GainSupported()
	if o.gainSupported {
		o.gainMin, o.gainMax = line.GainRange()
	} else {
		log.Warn().Msg("audio output line does not support gain control")
	}

	if err := line.Start(); err != nil {
		line.Close()
		return nil, fmt.Errorf("start line: %w", err)
	}
	o.clock = clock.New(f.SampleRate, clock.NTPSeconds(time.Now()), line.FramePosition)

	if fpp := info.FramesPerPacket(); fpp > 0 {
		log.Debug().
			Int("packets", opts.BufferPackets).
			Dur("latency", f.Duration(int64(opts.BufferPackets*fpp))).
			Msg("buffering gate configured")
	}

	go o.run()
	return o, nil
}

// Enqueue buffers payload for playback at frameTime and takes ownership of
// it. A packet with a frame time already buffered replaces the old one.
func (o *Output) Enqueue(frameTime int64, payload []byte) (bool, error) {
	if o.closing.Load() {
		return false, ErrClosed
	}
	o.mu.Lock()
	o.frames.Put(frameTime, payload, true)
	o.pending++
	if o.pending >= o.opts.BufferPackets {
		o.gate.Signal()
	}
	o.mu.Unlock()

	o.clock.SeenFrameTime(frameTime)
	o.enqueued.Inc()
	return true, nil
}

// SetGain records the desired gain in dB. The render loop applies it to the
// line before the next write.
func (o *Output) SetGain(db float64) {
	o.mu.Lock()
	o.requestedGain = db
	o.mu.Unlock()
}

func (o *Output) Gain() float64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.requestedGain
}

// Flush drops every buffered entry and restarts the buffering gate.
func (o *Output) Flush() {
	o.mu.Lock()
	dropped := o.frames.Len()
	o.frames.Clear()
	o.pending = 0
	o.mu.Unlock()
	log.Debug().Int("dropped", dropped).Msg("output flushed")
}

// Close stops the render loop without draining and closes the line. It does
// not wait; use Done for that.
func (o *Output) Close() error {
	if !o.closing.CompareAndSwap(false, true) {
		return nil
	}
	o.mu.Lock()
	o.gate.Broadcast()
	o.mu.Unlock()
	return o.line.Close()
}

// Done is closed once the render loop has exited.
func (o *Output) Done() <-chan struct{} {
	return o.done
}

// Clock returns the clock relating frame time to the line.
func (o *Output) Clock() *clock.Clock {
	return o.clock
}

// SetFrameTime correlates a frame time with NTP seconds.
func (o *Output) SetFrameTime(frameTime int64, secondsTime float64) {
	o.clock.SetFrameTime(frameTime, secondsTime)
}

// LastFrame returns a copy of the last frame handed to the line.
func (o *Output) LastFrame() []byte {
	o.lastMu.Lock()
	defer o.lastMu.Unlock()
	return append([]byte(nil), o.lastFrame...)
}

func (o *Output) Format() audio.Format {
	return o.format
}

func (o *Output) Stats() Stats {
	o.mu.Lock()
	buffered := o.frames.Len()
	buffering := o.buffering
	o.mu.Unlock()

	adjustments, _ := o.clock.Adjustments()
	return Stats{
		Enqueued:         o.enqueued.Load(),
		Buffered:         buffered,
		FramesWritten:    o.clock.NextLineTime(),
		ShortWrites:      o.shortWrites.Load(),
		Resyncs:          o.resyncs.Load(),
		GateCycles:       o.gateCycles.Load(),
		Buffering:        buffering,
		LatestSeenFrame:  o.clock.LatestSeenFrameTime(),
		NowFrameTime:     o.clock.NowFrameTime(),
		NextFrameTime:    o.clock.NextFrameTime(),
		FrameOffset:      o.clock.FrameOffset(),
		ClockAdjustments: adjustments,
		Format:           o.format.String(),
	}
}

func (o *Output) run() {
	defer close(o.done)
	log.Debug().Msg("render loop started")
	defer log.Debug().Msg("render loop stopped")

	for {
		if !o.waitGate() {
			return
		}
		for !o.closing.Load() {
			entry, gain, ok := o.next()
			if !ok {
				break
			}
			o.applyGain(gain)
			if o.render(entry.Key, entry.Value) {
				break
			}
		}
		if o.closing.Load() {
			return
		}
	}
}

// waitGate blocks until BufferPackets enqueues have happened since the last
// reset. It returns false once the output is closing.
func (o *Output) waitGate() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	for o.pending < o.opts.BufferPackets && !o.closing.Load() {
		o.gate.Wait()
	}
	o.buffering = false
	o.gateCycles.Inc()
	return !o.closing.Load()
}

// next removes the oldest entry. An empty buffer resets the gate.
func (o *Output) next() (queue.Entry[int64, []byte], float64, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	entry, ok := o.frames.FirstEntryRemove()
	if !ok {
		o.resetGate()
	}
	return entry, o.requestedGain, ok
}

// resetGate must be called with mu held.
func (o *Output) resetGate() {
	o.pending = 0
	o.buffering = true
}

func (o *Output) applyGain(requested float64) {
	if !o.gainSupported {
		return
	}
	target := audio.ClampGain(requested, o.gainMin, o.gainMax)
	if o.line.Gain() != target {
		o.line.SetGain(target)
		log.Debug().Float64("gain_db", target).Msg("line gain applied")
	}
}

// render writes one entry and reports whether the buffer was dropped as stale.
func (o *Output) render(frameTime int64, data []byte) bool {
	lineTime := o.clock.FrameToLineTime(frameTime)
	if o.convert {
		audio.ConvertUnsignedToSigned(data, o.format)
	}
	if o.swap {
		audio.SwapEndian16(data)
	}
	gapFrames := lineTime - o.clock.NextLineTime()

	n, err := o.line.Write(data)
	if n != len(data) && !o.closing.Load() {
		o.shortWrites.Inc()
		log.Warn().Err(err).
			Int("accepted", n).
			Int("bytes", len(data)).
			Msg("audio output line accepted short write")
	}
	written := o.clock.AddFramesWritten(int64(n / o.bytesPerFrame))

	if len(data) >= o.bytesPerFrame {
		o.lastMu.Lock()
		copy(o.lastFrame, data[len(data)-o.bytesPerFrame:])
		o.lastMu.Unlock()
	}
	log.Trace().
		Int64("frame_time", frameTime).
		Int64("gap_frames", gapFrames).
		Int64("line_end", written).
		Msg("entry written")

	timingError := float64(gapFrames) / float64(o.format.SampleRate)
	if timingError <= o.opts.StaleAfter.Seconds() {
		return false
	}

	o.mu.Lock()
	dropped := o.frames.Len()
	o.frames.Clear()
	o.resetGate()
	o.mu.Unlock()
	o.resyncs.Inc()
	log.Warn().
		Int64("frame_time", frameTime).
		Float64("timing_error_seconds", timingError).
		Int("dropped", dropped).
		Msg("stream stale, buffer dropped")
	return true
}
