package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/satindergrewal/playout/internal/api"
	"github.com/satindergrewal/playout/internal/audio"
	"github.com/satindergrewal/playout/internal/config"
	"github.com/satindergrewal/playout/internal/device"
	"github.com/satindergrewal/playout/internal/playout"
	"github.com/satindergrewal/playout/internal/stream"
)

// app is a running output plus the HTTP surface around it.
type app struct {
	cfg    config.Config
	format audio.Format
	output *playout.Output
	api    *api.Handler
	mux    *http.ServeMux
	cast   *device.Broadcast
}

// bindConfigFlags lets flags override the environment for the shared settings.
func bindConfigFlags(cmd *cobra.Command, cfg *config.Config) {
	f := cmd.Flags()
	f.IntVar(&cfg.HTTPPort, "http-port", cfg.HTTPPort, "HTTP port for the control API and listener streams")
	f.StringVar(&cfg.Device, "device", cfg.Device, "output line: broadcast or oto")
	f.IntVar(&cfg.SampleRate, "sample-rate", cfg.SampleRate, "stream sample rate")
	f.IntVar(&cfg.Channels, "channels", cfg.Channels, "stream channel count")
	f.IntVar(&cfg.BitsPerSample, "bits", cfg.BitsPerSample, "bits per sample: 8 or 16")
	f.StringVar(&cfg.Encoding, "encoding", cfg.Encoding, "sample encoding: signed or unsigned")
	f.BoolVar(&cfg.BigEndian, "big-endian", cfg.BigEndian, "samples arrive big-endian")
	f.IntVar(&cfg.FramesPerPacket, "frames-per-packet", cfg.FramesPerPacket, "frames in one packet")
	f.IntVar(&cfg.BufferPackets, "buffer-packets", cfg.BufferPackets, "packets buffered before playback starts")
	f.DurationVar(&cfg.StaleAfter, "stale-after", cfg.StaleAfter, "drop the buffer when a packet is this far ahead of the line")
	f.DurationVar(&cfg.LineBuffer, "line-buffer", cfg.LineBuffer, "requested device buffer length")
	f.Float64Var(&cfg.InitialGain, "gain", cfg.InitialGain, "initial gain in dB")
}

func newLine(name string) (device.Line, *device.Broadcast) {
	if name == "oto" {
		return device.NewOto(), nil
	}
	b := device.NewBroadcast()
	return b, b
}

func newApp(cfg config.Config) (*app, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	format, err := cfg.Format()
	if err != nil {
		return nil, err
	}

	line, cast := newLine(cfg.Device)
	out, err := playout.New(line, audio.StaticStream{StreamFormat: format, PacketFrames: cfg.FramesPerPacket}, playout.Options{
		BufferPackets: cfg.BufferPackets,
		StaleAfter:    cfg.StaleAfter,
		LineBuffer:    cfg.LineBuffer,
		InitialGain:   cfg.InitialGain,
	})
	if err != nil {
		return nil, fmt.Errorf("create output: %w", err)
	}

	a := &app{
		cfg:    cfg,
		format: format,
		output: out,
		api:    api.New(out),
		mux:    http.NewServeMux(),
		cast:   cast,
	}
	a.mux.Handle("/api/", a.api)
	return a, nil
}

// run serves HTTP and the broadcast listeners until ctx is done, along with
// any extra tasks, then closes the output.
func (a *app) run(ctx context.Context, tasks ...func(context.Context) error) error {
	g, gctx := errgroup.WithContext(ctx)

	if a.cast != nil {
		b := stream.NewBroadcaster()
		lineFormat := a.cast.Format()
		a.mux.Handle("/stream", stream.NewHTTPHandler(b, lineFormat, a.cfg.StreamName))
		if rtc, err := stream.NewWebRTCHandler(b, lineFormat); err == nil {
			a.mux.Handle("/offer", rtc)
			a.api.AddStatus("webrtc_listeners", func() any { return rtc.PeerCount() })
		} else {
			log.Info().Err(err).Msg("webrtc listeners disabled")
		}
		a.api.AddStatus("http_listeners", func() any { return b.ListenerCount() })
		g.Go(func() error {
			b.Run(gctx, a.cast.Frames())
			return nil
		})
	}

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.HTTPPort),
		Handler:           a.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	g.Go(func() error {
		log.Info().Str("addr", server.Addr).Msg("http listening")
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	for _, task := range tasks {
		g.Go(func() error { return task(gctx) })
	}

	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down")
		server.Close()
		a.output.Close()
		<-a.output.Done()
		return nil
	})
	return g.Wait()
}
