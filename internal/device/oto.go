package device

import (
	"fmt"
	"sync"

	"github.com/ebitengine/oto/v3"
	"github.com/rs/zerolog/log"
	"go.uber.org/atomic"

	"github.com/satindergrewal/playout/internal/audio"
)

const otoMinGain = -80.0

// otoPlayer is the part of *oto.Player the line drives.
type otoPlayer interface {
	Play()
	SetVolume(volume float64)
	BufferedSize() int
	Close() error
}

// Oto is a line backed by the system sound card. Only one may be open per
// process.
type Oto struct {
	format audio.Format
	ring   *ring
	ctx    *oto.Context
	player otoPlayer

	// fed counts every byte handed to the player, padding included.
	fed       atomic.Int64
	position  atomic.Int64
	gain      atomic.Float64
	underruns atomic.Int64
	closeOnce sync.Once
}

func NewOto() *Oto {
	return &Oto{}
}

func (o *Oto) Open(format audio.Format, bufferFrames int) (int, error) {
	if format.BitsPerSample != 16 || format.Encoding != audio.EncodingSigned || format.BigEndian {
		return 0, fmt.Errorf("%w: oto line needs 16 bit signed little-endian PCM, got %v", audio.ErrUnsupportedEncoding, format)
	}
	bpf := format.BytesPerFrame()
	ctx, ready, err := oto.NewContext(&oto.NewContextOptions{
		SampleRate:   format.SampleRate,
		ChannelCount: format.Channels,
		Format:       oto.FormatSignedInt16LE,
		BufferSize:   format.Duration(int64(bufferFrames)),
	})
	if err != nil {
		return 0, fmt.Errorf("open sound device: %w", err)
	}
	<-ready

	o.format = format
	o.ctx = ctx
	o.ring = newRing(bufferFrames * bpf)
	player := ctx.NewPlayer(o)
	player.SetBufferSize(bufferFrames * bpf)
	o.player = player
	return bufferFrames, nil
}

// Read feeds the oto player with whatever the ring holds. Only a completely
// empty ring is padded with silence, so the device keeps running through
// underruns without burying queued audio behind zeros.
func (o *Oto) Read(p []byte) (int, error) {
	n := o.ring.Read(p)
	if n == 0 && len(p) > 0 {
		clear(p)
		n = len(p)
		o.underruns.Inc()
	}
	o.fed.Add(int64(n))
	return n, nil
}

func (o *Oto) Start() error {
	if o.player == nil {
		return fmt.Errorf("device: oto line not open")
	}
	o.applyGain()
	o.player.Play()
	return nil
}

func (o *Oto) Write(p []byte) (int, error) {
	if o.ring == nil {
		return 0, ErrClosed
	}
	return o.ring.Write(p)
}

// FramePosition counts frames handed to the player, silence included, minus
// what the player still holds unplayed. It never moves backwards.
func (o *Oto) FramePosition() int64 {
	if o.ring == nil || o.player == nil {
		return 0
	}
	played := (o.fed.Load() - int64(o.player.BufferedSize())) / int64(o.format.BytesPerFrame())
	for {
		last := o.position.Load()
		if played <= last {
			return last
		}
		if o.position.CompareAndSwap(last, played) {
			return played
		}
	}
}

func (o *Oto) Underruns() int64 {
	return o.underruns.Load()
}

func (o *Oto) GainSupported() bool { return true }

func (o *Oto) GainRange() (float64, float64) {
	return otoMinGain, 0
}

func (o *Oto) Gain() float64 {
	return o.gain.Load()
}

func (o *Oto) SetGain(db float64) {
	o.gain.Store(audio.ClampGain(db, otoMinGain, 0))
	o.applyGain()
}

func (o *Oto) applyGain() {
	if o.player == nil {
		return
	}
	db := o.gain.Load()
	vol := audio.DBToLinear(db)
	if db <= otoMinGain {
		vol = 0
	}
	o.player.SetVolume(vol)
}

func (o *Oto) Close() error {
	var err error
	o.closeOnce.Do(func() {
		if o.ring != nil {
			o.ring.Close()
		}
		if o.player != nil {
			err = o.player.Close()
		}
		log.Debug().Int64("underruns", o.underruns.Load()).Msg("oto line closed")
	})
	return err
}
