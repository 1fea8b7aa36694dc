package stream

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/satindergrewal/playout/internal/audio"
)

func TestEncoderArgsFollowFormat(t *testing.T) {
	args := strings.Join(encoderArgs(audio.Format{SampleRate: 44100, Channels: 2, BitsPerSample: 16}), " ")
	require.Contains(t, args, "-f s16le -ar 44100 -ac 2 -i pipe:0")

	args = strings.Join(encoderArgs(audio.Format{SampleRate: 8000, Channels: 1, BitsPerSample: 16}), " ")
	require.Contains(t, args, "-ar 8000 -ac 1")
}

func TestOpusCompatible(t *testing.T) {
	require.NoError(t, OpusCompatible(audio.Format{SampleRate: 48000, Channels: 2}))
	require.NoError(t, OpusCompatible(audio.Format{SampleRate: 8000, Channels: 1}))
	require.ErrorIs(t, OpusCompatible(audio.Format{SampleRate: 44100, Channels: 2}), audio.ErrUnsupportedEncoding)
	require.ErrorIs(t, OpusCompatible(audio.Format{SampleRate: 48000, Channels: 6}), audio.ErrUnsupportedEncoding)

	_, err := NewWebRTCHandler(NewBroadcaster(), audio.Format{SampleRate: 44100, Channels: 2})
	require.Error(t, err)
}

func TestWebRTCHandlerRejectsBadRequests(t *testing.T) {
	h, err := NewWebRTCHandler(NewBroadcaster(), audio.Format{SampleRate: 48000, Channels: 2})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/webrtc", nil))
	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/webrtc", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "POST", rec.Header().Get("Access-Control-Allow-Methods"))

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/webrtc", strings.NewReader("{")))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Zero(t, h.PeerCount())
}

func TestSampleDurationFollowsFrameLength(t *testing.T) {
	stereo := audio.Format{SampleRate: 48000, Channels: 2}
	require.Equal(t, 20*time.Millisecond, sampleDuration(stereo, make([]int16, 1920)))
	require.Equal(t, 10*time.Millisecond, sampleDuration(stereo, make([]int16, 960)))

	mono := audio.Format{SampleRate: 8000, Channels: 1}
	require.Equal(t, 20*time.Millisecond, sampleDuration(mono, make([]int16, 160)))
	require.Equal(t, 60*time.Millisecond, sampleDuration(mono, make([]int16, 480)))
}

type pcmSink struct {
	bytes.Buffer
	closed bool
	err    error
}

func (s *pcmSink) Write(p []byte) (int, error) {
	if s.err != nil {
		return 0, s.err
	}
	return s.Buffer.Write(p)
}

func (s *pcmSink) Close() error {
	s.closed = true
	return nil
}

func TestFeedPCMWritesUntilListenerStops(t *testing.T) {
	b := NewBroadcaster()
	l := b.Subscribe()
	l.C <- []int16{1, -2}
	l.C <- []int16{0x0102}

	sink := &pcmSink{}
	done := make(chan error, 1)
	go func() { done <- feedPCM(context.Background(), l, sink) }()
	require.Eventually(t, func() bool { return len(l.C) == 0 }, time.Second, time.Millisecond)
	b.Unsubscribe(l)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("feed did not stop with the listener")
	}
	require.True(t, sink.closed)
	require.Equal(t, []byte{1, 0, 0xfe, 0xff, 0x02, 0x01}, sink.Bytes())
}

func TestFeedPCMStopsOnWriteError(t *testing.T) {
	l := NewBroadcaster().Subscribe()
	l.C <- []int16{1}
	boom := errors.New("broken pipe")
	sink := &pcmSink{err: boom}
	require.ErrorIs(t, feedPCM(context.Background(), l, sink), boom)
	require.True(t, sink.closed)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	sink = &pcmSink{}
	require.ErrorIs(t, feedPCM(ctx, NewBroadcaster().Subscribe(), sink), context.Canceled)
	require.True(t, sink.closed)
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("client gone") }

func TestCopyFlushed(t *testing.T) {
	src := bytes.Repeat([]byte{0xff}, chunkSize+100)
	var dst bytes.Buffer
	flushes := 0
	n, err := copyFlushed(&dst, func() { flushes++ }, bytes.NewReader(src))
	require.NoError(t, err)
	require.EqualValues(t, len(src), n)
	require.Equal(t, src, dst.Bytes())
	require.Equal(t, 2, flushes)

	flushes = 0
	n, err = copyFlushed(failingWriter{}, func() { flushes++ }, bytes.NewReader(src))
	require.NoError(t, err)
	require.Zero(t, n)
	require.Zero(t, flushes)
}
