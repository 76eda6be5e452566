package serial

import (
	"errors"
	"fmt"
	"io"
	"time"
)

// Port represents a serial port interface
// This abstraction allows for different implementations:
// - Native serial (github.com/tarm/serial or go.bug.st/serial)
// - Mock serial (for testing)
type Port interface {
	io.ReadWriteCloser

	// Flush discards any bytes received but not yet read
	Flush() error
}

// Backend driver names
const (
	DriverTarm  = "tarm"
	DriverBugst = "bugst"
)

// ErrPortClosed is returned by reads and writes on a closed port.
var ErrPortClosed = errors.New("serial port closed")

// Config holds serial port configuration
type Config struct {
	// Device path (e.g., "/dev/ttyUSB0", "COM3")
	Device string

	// Baud rate of the host side of the UART bridge
	Baud int

	// Read timeout. Reads return (0, nil) when it expires so the caller can
	// check for shutdown.
	ReadTimeout time.Duration

	// Driver selects the backend: "tarm" (default) or "bugst"
	Driver string
}

// DefaultConfig returns a default configuration for the radio module
func DefaultConfig(device string) *Config {
	return &Config{
		Device:      device,
		Baud:        9600, // Module factory default
		ReadTimeout: 50 * time.Millisecond,
		Driver:      DriverTarm,
	}
}

// Opener opens a port from a config. Open is the production implementation;
// tests substitute an in-memory port.
type Opener func(cfg *Config) (Port, error)

// Open opens a native serial port with the configured backend
func Open(cfg *Config) (Port, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}

	switch cfg.Driver {
	case "", DriverTarm:
		return openTarm(cfg)
	case DriverBugst:
		return openBugst(cfg)
	default:
		return nil, fmt.Errorf("unknown serial driver %q", cfg.Driver)
	}
}
