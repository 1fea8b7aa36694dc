package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/satindergrewal/playout/internal/audio"
	"github.com/satindergrewal/playout/internal/config"
	"github.com/satindergrewal/playout/internal/playout"
)

type simulateOptions struct {
	files     []string
	reorder   int
	duplicate float64
	seed      uint64
	hold      bool
}

func newSimulateCommand() *cobra.Command {
	cfg := config.Load()
	var opts simulateOptions
	cmd := &cobra.Command{
		Use:   "simulate --file F [--file F...]",
		Short: "Play decoded files through the jitter buffer with simulated network disorder",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(opts.files) == 0 {
				return errors.New("at least one --file is required")
			}
			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()
			return simulate(ctx, cfg, opts)
		},
	}
	bindConfigFlags(cmd, &cfg)
	cmd.Flags().StringArrayVar(&opts.files, "file", nil, "audio file to decode with ffmpeg")
	cmd.Flags().IntVar(&opts.reorder, "reorder", 8, "packets held back and released in random order")
	cmd.Flags().Float64Var(&opts.duplicate, "duplicate", 0.01, "probability of sending a packet twice")
	cmd.Flags().Uint64Var(&opts.seed, "seed", uint64(time.Now().UnixNano()), "random seed")
	cmd.Flags().BoolVar(&opts.hold, "hold", false, "keep serving after the last file has played")
	return cmd
}

func simulate(ctx context.Context, cfg config.Config, opts simulateOptions) error {
	a, err := newApp(cfg)
	if err != nil {
		return err
	}

	pipeline := audio.NewPipeline(a.output, audio.PipelineConfig{
		Format:          a.format,
		FramesPerPacket: cfg.FramesPerPacket,
		Reorder:         opts.reorder,
		Duplicate:       opts.duplicate,
		Seed:            opts.seed,
	})
	a.api.AddStatus("simulation", func() any {
		track, pos, dur := pipeline.Status()
		return map[string]any{
			"track":        track.ID,
			"position":     pos.Seconds(),
			"duration":     dur.Seconds(),
			"queue_size":   pipeline.QueueSize(),
			"packets_sent": pipeline.PacketsSent(),
		}
	})
	a.api.HandleFunc("/api/skip", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "POST required", http.StatusMethodNotAllowed)
			return
		}
		pipeline.Skip()
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"ok":true}` + "\n"))
	})

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	feed := func(ctx context.Context) error {
		go func() {
			for _, f := range opts.files {
				pipeline.Enqueue(audio.TrackInfo{ID: filepath.Base(f), Path: f})
			}
			pipeline.CloseInput()
		}()
		pipeline.Run(ctx)
		if ctx.Err() != nil {
			return nil
		}
		log.Info().Int64("packets", pipeline.PacketsSent()).Msg("feed finished")
		waitDrained(ctx, a.output)
		if !opts.hold {
			cancel()
		}
		return nil
	}
	return a.run(ctx, feed)
}

// waitDrained returns once the output has nothing left it will play: the
// buffer is empty, or what remains is stuck below the buffering gate.
func waitDrained(ctx context.Context, out *playout.Output) {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		s := out.Stats()
		if s.Buffered == 0 || s.Buffering {
			if s.Buffered > 0 {
				log.Info().Int("entries", s.Buffered).Msg("tail left below the buffering gate")
			}
			return
		}
	}
}
