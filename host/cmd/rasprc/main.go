// Command rasprc drives an NRF24 serial radio module as a remote-control
// channel link.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"rasprc/host/config"
	"rasprc/host/link"
	"rasprc/protocol"
)

var (
	// Global flags
	cfgFile  string
	portFlag string
	baudFlag int
	driver   string
	logLevel string
	logJSON  bool

	// Set during PersistentPreRunE
	cfg    *config.Config
	logger zerolog.Logger
)

var rootCmd = &cobra.Command{
	Use:           "rasprc",
	Short:         "NRF24 serial radio link for remote control channels",
	Version:       protocol.Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		path := cfgFile
		if path == "" {
			path = config.DefaultPath()
		}
		var err error
		cfg, err = config.Load(path)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		// Flags override the file
		if portFlag != "" {
			cfg.Radio.Port = portFlag
		}
		if baudFlag != 0 {
			cfg.Radio.Baud = baudFlag
		}
		if driver != "" {
			cfg.Link.Driver = driver
		}
		if logLevel != "" {
			cfg.LogLevel = logLevel
		}

		if err := cfg.Validate(); err != nil {
			return err
		}

		logger = newLogger(cfg.Level(), logJSON)
		return nil
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&cfgFile, "config", "c", "", "config file (.yaml, .ini or .json; default ~/.rasprc/config.yaml)")
	pf.StringVarP(&portFlag, "port", "p", "", "serial device, e.g. /dev/ttyUSB0 or COM3")
	pf.IntVarP(&baudFlag, "baud", "b", 0, "serial baud rate")
	pf.StringVar(&driver, "driver", "", "serial backend: tarm or bugst")
	pf.StringVar(&logLevel, "log-level", "", "trace, debug, info, warn or error")
	pf.BoolVar(&logJSON, "log-json", false, "log JSON lines instead of console output")

	rootCmd.AddCommand(newTransmitCmd(), newReceiveCmd(), newConfigCmd(), newPortsCmd(), newConsoleCmd(), newMonitorCmd())
}

func newLogger(level zerolog.Level, asJSON bool) zerolog.Logger {
	if asJSON {
		return zerolog.New(os.Stderr).Level(level).With().Timestamp().Logger()
	}
	out := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly}
	return zerolog.New(out).Level(level).With().Timestamp().Logger()
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

// openEngine opens the link with the loaded configuration.
func openEngine(ctx context.Context, l *zerolog.Logger) (*link.Engine, error) {
	engine, err := link.Open(ctx, cfg.EngineOptions(l))
	if err != nil {
		return nil, fmt.Errorf("failed to open radio link: %w", err)
	}
	return engine, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
