package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/satindergrewal/playout/internal/audio"
)

// ErrConfig is wrapped by every validation failure.
var ErrConfig = configError("invalid configuration")

type configError string

func (e configError) Error() string { return string(e) }

// Config holds all runtime configuration, loaded from environment variables.
type Config struct {
	// Server
	HTTPPort   int
	StreamName string

	// Receiver
	RTPAddr  string
	RTCPAddr string // empty means the RTP port + 1

	// Output line: "broadcast" or "oto"
	Device string

	// Stream format
	SampleRate      int
	Channels        int
	BitsPerSample   int
	Encoding        string // signed, unsigned
	BigEndian       bool
	FramesPerPacket int

	// Render loop
	BufferPackets int
	StaleAfter    time.Duration
	LineBuffer    time.Duration
	InitialGain   float64 // dB
}

// Load reads configuration from environment variables with sane defaults.
func Load() Config {
	return Config{
		HTTPPort:   envInt("PLAYOUT_HTTP_PORT", 8080),
		StreamName: envStr("PLAYOUT_STREAM_NAME", "playout"),

		RTPAddr:  envStr("PLAYOUT_RTP_ADDR", ":6000"),
		RTCPAddr: envStr("PLAYOUT_RTCP_ADDR", ""),

		Device: envStr("PLAYOUT_DEVICE", "broadcast"),

		SampleRate:      envInt("PLAYOUT_SAMPLE_RATE", 44100),
		Channels:        envInt("PLAYOUT_CHANNELS", 2),
		BitsPerSample:   envInt("PLAYOUT_BITS_PER_SAMPLE", 16),
		Encoding:        envStr("PLAYOUT_ENCODING", "signed"),
		BigEndian:       envBool("PLAYOUT_BIG_ENDIAN", true),
		FramesPerPacket: envInt("PLAYOUT_FRAMES_PER_PACKET", 352),

		BufferPackets: envInt("PLAYOUT_BUFFER_PACKETS", 300),
		StaleAfter:    envDuration("PLAYOUT_STALE_AFTER", 20*time.Second),
		LineBuffer:    envDuration("PLAYOUT_LINE_BUFFER", 50*time.Millisecond),
		InitialGain:   envFloat("PLAYOUT_INITIAL_GAIN", 0),
	}
}

// Format returns the stream format described by the configuration.
func (c Config) Format() (audio.Format, error) {
	enc, err := audio.ParseEncoding(c.Encoding)
	if err != nil {
		return audio.Format{}, fmt.Errorf("%w: %w", ErrConfig, err)
	}
	return audio.Format{
		SampleRate:    c.SampleRate,
		Channels:      c.Channels,
		BitsPerSample: c.BitsPerSample,
		Encoding:      enc,
		BigEndian:     c.BigEndian,
	}, nil
}

// Validate checks ranges and the stream format.
func (c Config) Validate() error {
	if c.HTTPPort <= 0 || c.HTTPPort > 65535 {
		return fmt.Errorf("%w: http port %d", ErrConfig, c.HTTPPort)
	}
	switch c.Device {
	case "broadcast", "oto":
	default:
		return fmt.Errorf("%w: unknown device %q", ErrConfig, c.Device)
	}
	if c.FramesPerPacket <= 0 {
		return fmt.Errorf("%w: frames per packet %d", ErrConfig, c.FramesPerPacket)
	}
	if c.BufferPackets <= 0 {
		return fmt.Errorf("%w: buffer packets %d", ErrConfig, c.BufferPackets)
	}
	if c.StaleAfter <= 0 || c.LineBuffer <= 0 {
		return fmt.Errorf("%w: stale after %v, line buffer %v", ErrConfig, c.StaleAfter, c.LineBuffer)
	}
	f, err := c.Format()
	if err != nil {
		return err
	}
	if err := f.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrConfig, err)
	}
	return nil
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
