package main

import (
	"context"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"rasprc/host/monitor"
	"rasprc/host/worker"
)

func newMonitorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "monitor",
		Short: "Receive frames and show live channel bars",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			// Console logging would tear the full screen view
			quiet := zerolog.Nop()

			p := tea.NewProgram(monitor.New(cfg.Radio.Port), tea.WithAltScreen())

			errCh := make(chan error, 1)
			go func() {
				errCh <- runWorker(ctx, worker.RoleReceiver, monitor.NewSink(p.Send), &quiet)
				// A link that cannot open ends the view
				p.Quit()
			}()

			if _, err := p.Run(); err != nil {
				return fmt.Errorf("monitor failed: %w", err)
			}
			cancel()
			return <-errCh
		},
	}
}
