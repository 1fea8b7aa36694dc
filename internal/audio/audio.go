package audio

import (
	"errors"
	"fmt"
	"time"
)

// FrameDuration is the chunk size virtual lines hand to listeners.
const FrameDuration = 20 * time.Millisecond

// Encoding is the PCM sample encoding of a stream.
type Encoding int

const (
	EncodingSigned Encoding = iota
	EncodingUnsigned
)

func (e Encoding) String() string {
	switch e {
	case EncodingSigned:
		return "signed"
	case EncodingUnsigned:
		return "unsigned"
	}
	return fmt.Sprintf("encoding(%d)", int(e))
}

// ParseEncoding maps "signed"/"unsigned" to an Encoding.
func ParseEncoding(s string) (Encoding, error) {
	switch s {
	case "signed", "pcm_signed", "s":
		return EncodingSigned, nil
	case "unsigned", "pcm_unsigned", "u":
		return EncodingUnsigned, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnsupportedEncoding, s)
}

// ErrUnsupportedEncoding is returned for formats no line can be opened with.
var ErrUnsupportedEncoding = errors.New("audio: unsupported encoding")

// Format describes interleaved linear PCM.
type Format struct {
	SampleRate    int
	Channels      int
	BitsPerSample int
	Encoding      Encoding
	BigEndian     bool
}

// BytesPerFrame is the size of one sample across all channels.
func (f Format) BytesPerFrame() int {
	return f.Channels * f.BitsPerSample / 8
}

// BytesPerSample is the size of one sample of one channel.
func (f Format) BytesPerSample() int {
	return f.BitsPerSample / 8
}

// FramesIn returns how many frames fit in d.
func (f Format) FramesIn(d time.Duration) int {
	return int(int64(f.SampleRate) * int64(d) / int64(time.Second))
}

// Duration returns the playing time of n frames.
func (f Format) Duration(frames int64) time.Duration {
	return time.Duration(frames * int64(time.Second) / int64(f.SampleRate))
}

// Validate checks that the format can be played by a line.
func (f Format) Validate() error {
	if f.SampleRate <= 0 || f.Channels <= 0 {
		return fmt.Errorf("%w: %d Hz, %d channels", ErrUnsupportedEncoding, f.SampleRate, f.Channels)
	}
	switch f.BitsPerSample {
	case 8, 16:
	default:
		return fmt.Errorf("%w: %d bits per sample", ErrUnsupportedEncoding, f.BitsPerSample)
	}
	switch f.Encoding {
	case EncodingSigned, EncodingUnsigned:
	default:
		return fmt.Errorf("%w: %v", ErrUnsupportedEncoding, f.Encoding)
	}
	return nil
}

// LineFormat returns the format requested from output lines for a stream in
// f. Lines only take signed little-endian PCM, so unsigned or big-endian
// streams are converted before writing; convert reports the former.
func (f Format) LineFormat() (line Format, convert bool, err error) {
	if err := f.Validate(); err != nil {
		return Format{}, false, err
	}
	line = f
	line.Encoding = EncodingSigned
	line.BigEndian = false
	return line, f.Encoding == EncodingUnsigned, nil
}

func (f Format) String() string {
	order := "le"
	if f.BigEndian {
		order = "be"
	}
	return fmt.Sprintf("%dHz/%dch/%dbit/%s/%s", f.SampleRate, f.Channels, f.BitsPerSample, f.Encoding, order)
}

// StreamInfo provides the negotiated format of an incoming stream.
type StreamInfo interface {
	Format() Format
	FramesPerPacket() int
}

// StaticStream is a StreamInfo with fixed values.
type StaticStream struct {
	StreamFormat Format
	PacketFrames int
}

func (s StaticStream) Format() Format       { return s.StreamFormat }
func (s StaticStream) FramesPerPacket() int { return s.PacketFrames }

// TrackInfo identifies a decoded file fed through a Pipeline.
type TrackInfo struct {
	ID   string
	Path string
}
