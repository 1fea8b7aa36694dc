package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/satindergrewal/playout/internal/config"
	"github.com/satindergrewal/playout/internal/receiver"
)

func newServeCommand() *cobra.Command {
	cfg := config.Load()
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Receive RTP audio and play it out",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()
			return serve(ctx, cfg)
		},
	}
	bindConfigFlags(cmd, &cfg)
	cmd.Flags().StringVar(&cfg.RTPAddr, "rtp-addr", cfg.RTPAddr, "RTP listen address")
	cmd.Flags().StringVar(&cfg.RTCPAddr, "rtcp-addr", cfg.RTCPAddr, "RTCP listen address (default RTP port + 1)")
	return cmd
}

func serve(ctx context.Context, cfg config.Config) error {
	a, err := newApp(cfg)
	if err != nil {
		return err
	}

	controlAddr := cfg.RTCPAddr
	if controlAddr == "" {
		if controlAddr, err = receiver.ControlAddr(cfg.RTPAddr); err != nil {
			a.output.Close()
			return err
		}
	}
	recv, err := receiver.Listen(cfg.RTPAddr, controlAddr, a.format.BytesPerFrame(), a.output)
	if err != nil {
		a.output.Close()
		return err
	}
	a.api.AddStatus("receiver", func() any { return recv.Stats() })

	return a.run(ctx, recv.Run)
}
