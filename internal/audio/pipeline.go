package audio

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Sink accepts timestamped packets, typically a playout.Output.
type Sink interface {
	Enqueue(frameTime int64, payload []byte) (bool, error)
}

// PipelineConfig controls how decoded tracks are cut into packets and how
// much network disorder is simulated on the way to the sink.
type PipelineConfig struct {
	Format          Format
	FramesPerPacket int
	Reorder         int     // packets held back and released in random order
	Duplicate       float64 // probability of sending a packet twice
	StartFrameTime  int64
	Seed            uint64
}

type decodedTrack struct {
	info TrackInfo
	pcm  []byte
}

// Pipeline decodes tracks and feeds them to a Sink as packets at real-time
// rate, shuffled inside a small window to imitate network jitter.
type Pipeline struct {
	cfg     PipelineConfig
	sink    Sink
	decode  func(path string, f Format) ([]byte, error)
	trackCh chan TrackInfo
	skipCh  chan struct{}
	rng     *rand.Rand

	mu            sync.RWMutex
	currentTrack  TrackInfo
	trackPosition time.Duration
	trackDuration time.Duration
	packetsSent   int64
}

// NewPipeline creates a packet pipeline writing to sink.
func NewPipeline(sink Sink, cfg PipelineConfig) *Pipeline {
	if cfg.FramesPerPacket <= 0 {
		cfg.FramesPerPacket = 352
	}
	return &Pipeline{
		cfg:     cfg,
		sink:    sink,
		decode:  DecodeFile,
		trackCh: make(chan TrackInfo, 8),
		skipCh:  make(chan struct{}, 1),
		rng:     rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15)),
	}
}

// Enqueue adds a track to the pipeline's queue.
func (p *Pipeline) Enqueue(t TrackInfo) {
	p.trackCh <- t
}

// QueueSize returns the number of tracks waiting in the queue.
func (p *Pipeline) QueueSize() int {
	return len(p.trackCh)
}

// Skip interrupts the current track.
func (p *Pipeline) Skip() {
	select {
	case p.skipCh <- struct{}{}:
	default:
	}
}

// Status returns current feed progress.
func (p *Pipeline) Status() (track TrackInfo, position, duration time.Duration) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.currentTrack, p.trackPosition, p.trackDuration
}

// PacketsSent returns the number of packets handed to the sink.
func (p *Pipeline) PacketsSent() int64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.packetsSent
}

// PacketDuration is the playing time of one packet.
func (p *Pipeline) PacketDuration() time.Duration {
	return p.cfg.Format.Duration(int64(p.cfg.FramesPerPacket))
}

// Run feeds queued tracks until ctx is cancelled or the track queue is closed
// with CloseInput.
func (p *Pipeline) Run(ctx context.Context) {
	ticker := time.NewTicker(p.PacketDuration())
	defer ticker.Stop()

	// Background decoder: converts file paths to PCM
	decodedCh := make(chan *decodedTrack, 2)
	go func() {
		defer close(decodedCh)
		for {
			select {
			case <-ctx.Done():
				return
			case t, ok := <-p.trackCh:
				if !ok {
					return
				}
				pcm, err := p.decode(t.Path, p.cfg.Format)
				if err != nil {
					log.Error().Err(err).Str("path", t.Path).Msg("decode failed")
					continue
				}
				select {
				case decodedCh <- &decodedTrack{info: t, pcm: pcm}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	frameTime := p.cfg.StartFrameTime
	for {
		select {
		case <-ctx.Done():
			return
		case dt, ok := <-decodedCh:
			if !ok {
				return
			}
			var cont bool
			frameTime, cont = p.playTrack(ctx, ticker, dt, frameTime)
			if !cont {
				return
			}
		}
	}
}

// CloseInput stops accepting tracks; Run returns after the queue drains.
func (p *Pipeline) CloseInput() {
	close(p.trackCh)
}

type pendingPacket struct {
	frameTime int64
	payload   []byte
}

// playTrack cuts dt into packets and sends them paced by ticker. It returns
// the frame time following the track and false if ctx was cancelled.
func (p *Pipeline) playTrack(ctx context.Context, ticker *time.Ticker, dt *decodedTrack, frameTime int64) (int64, bool) {
	bpf := p.cfg.Format.BytesPerFrame()
	packetBytes := p.cfg.FramesPerPacket * bpf
	total := (len(dt.pcm) + packetBytes - 1) / packetBytes

	p.setTrack(dt.info, int64(len(dt.pcm)/bpf))
	log.Info().Str("track", dt.info.ID).Int("packets", total).Msg("feeding track")

	trackStart := frameTime
	window := make([]pendingPacket, 0, p.cfg.Reorder+1)
	for i := 0; i < total; i++ {
		select {
		case <-ctx.Done():
			return frameTime, false
		case <-p.skipCh:
			log.Info().Str("track", dt.info.ID).Msg("track skipped")
			p.flushWindow(window)
			return frameTime, true
		case <-ticker.C:
		}

		end := min((i+1)*packetBytes, len(dt.pcm))
		chunk := dt.pcm[i*packetBytes : end]
		window = append(window, pendingPacket{frameTime: frameTime, payload: append([]byte(nil), chunk...)})
		frameTime += int64(len(chunk) / bpf)

		if len(window) > p.cfg.Reorder {
			j := p.rng.IntN(len(window))
			p.send(window[j])
			window = append(window[:j], window[j+1:]...)
		}
		p.updatePosition(frameTime - trackStart)
	}
	p.flushWindow(window)
	return frameTime, true
}

func (p *Pipeline) flushWindow(window []pendingPacket) {
	p.rng.Shuffle(len(window), func(i, j int) { window[i], window[j] = window[j], window[i] })
	for _, pkt := range window {
		p.send(pkt)
	}
}

func (p *Pipeline) send(pkt pendingPacket) {
	if _, err := p.sink.Enqueue(pkt.frameTime, pkt.payload); err != nil {
		log.Debug().Err(err).Int64("frame_time", pkt.frameTime).Msg("sink rejected packet")
		return
	}
	n := int64(1)
	if p.cfg.Duplicate > 0 && p.rng.Float64() < p.cfg.Duplicate {
		if _, err := p.sink.Enqueue(pkt.frameTime, append([]byte(nil), pkt.payload...)); err == nil {
			n++
		}
	}
	p.mu.Lock()
	p.packetsSent += n
	p.mu.Unlock()
}

func (p *Pipeline) setTrack(info TrackInfo, frames int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.currentTrack = info
	p.trackPosition = 0
	p.trackDuration = p.cfg.Format.Duration(frames)
}

func (p *Pipeline) updatePosition(frames int64) {
	p.mu.Lock()
	p.trackPosition = p.cfg.Format.Duration(frames)
	p.mu.Unlock()
}
