package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os/exec"
	"strconv"

	"github.com/rs/zerolog/log"

	"github.com/satindergrewal/playout/internal/audio"
)

const (
	mp3Bitrate = "192k"
	chunkSize  = 4096
)

// HTTPHandler serves the played audio as a chunked MP3 stream. Each
// connection gets its own ffmpeg encoder fed from a broadcast listener.
type HTTPHandler struct {
	broadcaster *Broadcaster
	format      audio.Format
	name        string
}

// NewHTTPHandler creates a handler for frames of the given sample rate and
// channel count.
func NewHTTPHandler(b *Broadcaster, format audio.Format, name string) *HTTPHandler {
	return &HTTPHandler{broadcaster: b, format: format, name: name}
}

// encoderArgs builds the ffmpeg command line reading 16-bit PCM on stdin.
func encoderArgs(f audio.Format) []string {
	return []string{
		"-f", "s16le",
		"-ar", strconv.Itoa(f.SampleRate),
		"-ac", strconv.Itoa(f.Channels),
		"-i", "pipe:0",
		"-codec:a", "libmp3lame",
		"-b:a", mp3Bitrate,
		"-f", "mp3",
		"-fflags", "nobuffer",
		"-flush_packets", "1",
		"-loglevel", "error",
		"pipe:1",
	}
}

// mp3Encoder is one running ffmpeg process: PCM in, MP3 out.
type mp3Encoder struct {
	cmd *exec.Cmd
	in  io.WriteCloser
	out io.ReadCloser
}

func startEncoder(ctx context.Context, f audio.Format) (*mp3Encoder, error) {
	cmd := exec.CommandContext(ctx, "ffmpeg", encoderArgs(f)...)
	in, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("encoder stdin: %w", err)
	}
	out, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("encoder stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start encoder: %w", err)
	}
	return &mp3Encoder{cmd: cmd, in: in, out: out}, nil
}

// feedPCM writes listener frames to w as little-endian PCM until the
// listener stops, ctx ends or w fails. It closes w on return so the encoder
// sees end of input.
func feedPCM(ctx context.Context, l *Listener, w io.WriteCloser) error {
	defer w.Close()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.Done():
			return nil
		case frame := <-l.C:
			if _, err := w.Write(audio.SamplesToBytes(frame)); err != nil {
				return err
			}
		}
	}
}

// copyFlushed relays src to w, flushing after every chunk so listeners
// receive audio as soon as it is encoded. A failed write to w ends the copy
// without error; the client has gone away.
func copyFlushed(w io.Writer, flush func(), src io.Reader) (int64, error) {
	buf := make([]byte, chunkSize)
	var total int64
	for {
		n, err := src.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return total, nil
			}
			total += int64(n)
			flush()
		}
		if errors.Is(err, io.EOF) {
			return total, nil
		}
		if err != nil {
			return total, err
		}
	}
}

func (h *HTTPHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	enc, err := startEncoder(ctx, h.format)
	if err != nil {
		log.Error().Err(err).Msg("http stream unavailable")
		http.Error(w, "encoder unavailable", http.StatusServiceUnavailable)
		return
	}
	defer enc.cmd.Wait()
	defer cancel()

	w.Header().Set("Content-Type", "audio/mpeg")
	w.Header().Set("Cache-Control", "no-cache, no-store")
	w.Header().Set("Connection", "close")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("ICY-Name", h.name)

	listener := h.broadcaster.Subscribe()
	defer h.broadcaster.Unsubscribe(listener)
	log.Info().Str("remote", r.RemoteAddr).Int("listeners", h.broadcaster.ListenerCount()).Msg("http listener connected")

	go func() {
		if err := feedPCM(ctx, listener, enc.in); err != nil && !errors.Is(err, context.Canceled) {
			log.Debug().Err(err).Msg("encoder input closed")
		}
	}()
	sent, err := copyFlushed(w, flusher.Flush, enc.out)
	if err != nil {
		log.Warn().Err(err).Msg("encoder output failed")
	}
	log.Info().
		Str("remote", r.RemoteAddr).
		Int64("bytes", sent).
		Int64("dropped", listener.Dropped()).
		Msg("http listener disconnected")
}
