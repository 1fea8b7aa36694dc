package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/satindergrewal/playout/internal/audio"
)

var envVars = []string{
	"PLAYOUT_HTTP_PORT", "PLAYOUT_STREAM_NAME", "PLAYOUT_RTP_ADDR", "PLAYOUT_RTCP_ADDR",
	"PLAYOUT_DEVICE", "PLAYOUT_SAMPLE_RATE", "PLAYOUT_CHANNELS", "PLAYOUT_BITS_PER_SAMPLE",
	"PLAYOUT_ENCODING", "PLAYOUT_BIG_ENDIAN", "PLAYOUT_FRAMES_PER_PACKET",
	"PLAYOUT_BUFFER_PACKETS", "PLAYOUT_STALE_AFTER", "PLAYOUT_LINE_BUFFER", "PLAYOUT_INITIAL_GAIN",
}

func TestLoadDefaults(t *testing.T) {
	for _, k := range envVars {
		os.Unsetenv(k)
	}

	cfg := Load()
	require.Equal(t, 8080, cfg.HTTPPort)
	require.Equal(t, ":6000", cfg.RTPAddr)
	require.Empty(t, cfg.RTCPAddr)
	require.Equal(t, "broadcast", cfg.Device)
	require.Equal(t, 44100, cfg.SampleRate)
	require.Equal(t, 2, cfg.Channels)
	require.Equal(t, 16, cfg.BitsPerSample)
	require.Equal(t, "signed", cfg.Encoding)
	require.True(t, cfg.BigEndian)
	require.Equal(t, 352, cfg.FramesPerPacket)
	require.Equal(t, 300, cfg.BufferPackets)
	require.Equal(t, 20*time.Second, cfg.StaleAfter)
	require.Equal(t, 50*time.Millisecond, cfg.LineBuffer)
	require.Zero(t, cfg.InitialGain)
	require.NoError(t, cfg.Validate())

	f, err := cfg.Format()
	require.NoError(t, err)
	require.Equal(t, audio.Format{SampleRate: 44100, Channels: 2, BitsPerSample: 16, Encoding: audio.EncodingSigned, BigEndian: true}, f)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("PLAYOUT_HTTP_PORT", "3000")
	t.Setenv("PLAYOUT_RTP_ADDR", "127.0.0.1:7000")
	t.Setenv("PLAYOUT_RTCP_ADDR", "127.0.0.1:7100")
	t.Setenv("PLAYOUT_DEVICE", "oto")
	t.Setenv("PLAYOUT_SAMPLE_RATE", "48000")
	t.Setenv("PLAYOUT_CHANNELS", "1")
	t.Setenv("PLAYOUT_BITS_PER_SAMPLE", "8")
	t.Setenv("PLAYOUT_ENCODING", "unsigned")
	t.Setenv("PLAYOUT_BIG_ENDIAN", "false")
	t.Setenv("PLAYOUT_FRAMES_PER_PACKET", "960")
	t.Setenv("PLAYOUT_BUFFER_PACKETS", "50")
	t.Setenv("PLAYOUT_STALE_AFTER", "5s")
	t.Setenv("PLAYOUT_LINE_BUFFER", "100ms")
	t.Setenv("PLAYOUT_INITIAL_GAIN", "-6.5")

	cfg := Load()
	require.Equal(t, 3000, cfg.HTTPPort)
	require.Equal(t, "127.0.0.1:7000", cfg.RTPAddr)
	require.Equal(t, "127.0.0.1:7100", cfg.RTCPAddr)
	require.Equal(t, "oto", cfg.Device)
	require.Equal(t, 48000, cfg.SampleRate)
	require.Equal(t, 1, cfg.Channels)
	require.Equal(t, 8, cfg.BitsPerSample)
	require.Equal(t, "unsigned", cfg.Encoding)
	require.False(t, cfg.BigEndian)
	require.Equal(t, 960, cfg.FramesPerPacket)
	require.Equal(t, 50, cfg.BufferPackets)
	require.Equal(t, 5*time.Second, cfg.StaleAfter)
	require.Equal(t, 100*time.Millisecond, cfg.LineBuffer)
	require.Equal(t, -6.5, cfg.InitialGain)
	require.NoError(t, cfg.Validate())
}

func TestInvalidValuesFallBack(t *testing.T) {
	t.Setenv("PLAYOUT_HTTP_PORT", "not-a-number")
	t.Setenv("PLAYOUT_BIG_ENDIAN", "maybe")
	t.Setenv("PLAYOUT_STALE_AFTER", "20")
	cfg := Load()
	require.Equal(t, 8080, cfg.HTTPPort)
	require.True(t, cfg.BigEndian)
	require.Equal(t, 20*time.Second, cfg.StaleAfter)
}

func TestValidate(t *testing.T) {
	for _, k := range envVars {
		os.Unsetenv(k)
	}
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"port", func(c *Config) { c.HTTPPort = 0 }},
		{"device", func(c *Config) { c.Device = "alsa" }},
		{"frames per packet", func(c *Config) { c.FramesPerPacket = 0 }},
		{"buffer packets", func(c *Config) { c.BufferPackets = -1 }},
		{"stale after", func(c *Config) { c.StaleAfter = 0 }},
		{"encoding", func(c *Config) { c.Encoding = "float" }},
		{"bits", func(c *Config) { c.BitsPerSample = 24 }},
		{"rate", func(c *Config) { c.SampleRate = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Load()
			tt.mutate(&cfg)
			require.ErrorIs(t, cfg.Validate(), ErrConfig)
		})
	}
}
