package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"rasprc/protocol"
)

// InputSource supplies the channel values for the next transmitted frame.
type InputSource interface {
	ReadInputs(ctx context.Context) ([]int, error)
}

// SourceFunc adapts a function to InputSource.
type SourceFunc func(ctx context.Context) ([]int, error)

func (f SourceFunc) ReadInputs(ctx context.Context) ([]int, error) { return f(ctx) }

// StaticSource returns a fixed set of values until changed with Set.
type StaticSource struct {
	mu     sync.RWMutex
	values []int
}

// NewStaticSource starts from values, or from the neutral frame when none
// are given.
func NewStaticSource(values ...int) *StaticSource {
	if len(values) == 0 {
		values = protocol.NeutralFrame().Values()
	}
	return &StaticSource{values: append([]int(nil), values...)}
}

// Set replaces the values. They are validated on the next tick, not here.
func (s *StaticSource) Set(values ...int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values = append([]int(nil), values...)
}

func (s *StaticSource) ReadInputs(context.Context) ([]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]int(nil), s.values...), nil
}

// FrameSink consumes received frames.
type FrameSink interface {
	Apply(ctx context.Context, frame protocol.ChannelFrame) error
}

// SinkFunc adapts a function to FrameSink.
type SinkFunc func(ctx context.Context, frame protocol.ChannelFrame) error

func (f SinkFunc) Apply(ctx context.Context, frame protocol.ChannelFrame) error { return f(ctx, frame) }

// LogSink writes each received frame to the log, one field per channel.
type LogSink struct {
	log zerolog.Logger
}

func NewLogSink(l zerolog.Logger) *LogSink {
	return &LogSink{log: l}
}

func (s *LogSink) Apply(_ context.Context, frame protocol.ChannelFrame) error {
	ev := s.log.Debug()
	if !ev.Enabled() {
		return nil
	}
	for i, v := range frame {
		ev = ev.Int(fmt.Sprintf("ch%d", i+1), v)
	}
	ev.Msg("received frame")
	return nil
}

// MultiSink fans a frame out to every sink and joins their errors.
type MultiSink []FrameSink

func (m MultiSink) Apply(ctx context.Context, frame protocol.ChannelFrame) error {
	var errs []error
	for _, s := range m {
		if err := s.Apply(ctx, frame); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
