package main

import (
	"context"
	"errors"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"rasprc/host/link"
	"rasprc/host/worker"
	"rasprc/protocol"
)

func newTransmitCmd() *cobra.Command {
	var channels []int

	cmd := &cobra.Command{
		Use:     "tx",
		Aliases: []string{"transmit", "transmitter"},
		Short:   "Transmit channel frames at a fixed period",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(channels) > 0 {
				if err := protocol.ValidateChannelFrame(channels).Err(); err != nil {
					return err
				}
				cfg.Worker.Channels = channels
			}
			return runWorker(cmd.Context(), worker.RoleTransmitter, nil, &logger)
		},
	}
	cmd.Flags().IntSliceVar(&channels, "channels", nil, "eight static channel values in [1000,2000]")
	return cmd
}

func newReceiveCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "rx",
		Aliases: []string{"receive", "receiver"},
		Short:   "Receive channel frames and log them",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWorker(cmd.Context(), worker.RoleReceiver, nil, &logger)
		},
	}
}

// runWorker opens the link, applies the configured radio settings if
// requested and runs one worker until interrupted.
func runWorker(parent context.Context, role worker.Role, sink worker.FrameSink, l *zerolog.Logger) error {
	ctx, stop := signalContext(parent)
	defer stop()

	engine, err := openEngine(ctx, l)
	if err != nil {
		return err
	}
	defer engine.Close()

	applyOnStart(ctx, engine, l)

	opts, err := cfg.WorkerOptions(l)
	if err != nil {
		return err
	}
	opts.Role = role
	if sink != nil {
		opts.Sink = sink
	}

	w := worker.New(engine, opts)
	engine.Attach(w)
	return w.Run(ctx)
}

// applyOnStart writes the radio section to the module once. Failure is
// logged; the link keeps running with whatever the module has.
func applyOnStart(ctx context.Context, engine *link.Engine, l *zerolog.Logger) {
	if !cfg.ApplyOnStart() {
		return
	}
	lines, err := engine.PutConfiguration(ctx, cfg.RadioConfig())
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			l.Error().Err(err).Msg("failed to apply radio configuration at startup")
		}
		return
	}
	l.Debug().Strs("responses", lines).Msg("startup configuration applied")
}
