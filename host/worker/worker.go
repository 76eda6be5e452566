// Package worker runs the periodic transmit or receive loop on top of a
// link engine.
package worker

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"rasprc/host/link"
	"rasprc/protocol"
)

// Role selects what a worker does on each tick.
type Role int

const (
	RoleTransmitter Role = iota
	RoleReceiver
)

func (r Role) String() string {
	switch r {
	case RoleTransmitter:
		return "transmitter"
	case RoleReceiver:
		return "receiver"
	default:
		return fmt.Sprintf("role(%d)", int(r))
	}
}

// ParseRole accepts "transmitter"/"tx" and "receiver"/"rx".
func ParseRole(s string) (Role, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "transmitter", "tx":
		return RoleTransmitter, nil
	case "receiver", "rx":
		return RoleReceiver, nil
	default:
		return 0, fmt.Errorf("unknown worker role %q", s)
	}
}

// DefaultPeriod is the tick interval when none is configured.
const DefaultPeriod = 50 * time.Millisecond

// Link is the part of *link.Engine a worker drives.
type Link interface {
	ReadText(ctx context.Context) (text string, gap bool, err error)
	WriteFrame(ctx context.Context, hex string) (string, error)
	Start(ctx context.Context) error
	IsOpen() bool
	Events() <-chan link.Event
}

// Options configures a Worker.
type Options struct {
	Role   Role
	Period time.Duration
	Source InputSource // transmitter only
	Sink   FrameSink   // receiver only
	Logger *zerolog.Logger
}

// Worker ticks at a fixed period. A tick transmits one frame or consumes
// received frames. Pause holds the worker between ticks while the engine
// configures the module.
type Worker struct {
	role   Role
	period time.Duration
	link   Link
	source InputSource
	sink   FrameSink
	log    zerolog.Logger

	enabled atomic.Bool
	count   atomic.Uint64

	mu         sync.Mutex
	pauseDepth int
	busy       bool
	idle       chan struct{} // closed when the running tick ends
	last       protocol.ChannelFrame
	hasLast    bool

	// receiver carry-over: text after the last line break of a read
	pending string
	// drop text up to the next line break, set after the stream skipped
	resync bool
}

// New creates an enabled worker. It does not start ticking until Run.
func New(l Link, opts Options) *Worker {
	if opts.Period <= 0 {
		opts.Period = DefaultPeriod
	}
	if opts.Source == nil {
		opts.Source = NewStaticSource()
	}
	if opts.Logger == nil {
		lg := log.Logger
		opts.Logger = &lg
	}

	w := &Worker{
		role:   opts.Role,
		period: opts.Period,
		link:   l,
		source: opts.Source,
		sink:   opts.Sink,
		log:    opts.Logger.With().Str("role", opts.Role.String()).Logger(),
	}
	if w.sink == nil {
		w.sink = NewLogSink(w.log)
	}
	w.enabled.Store(true)
	return w
}

// Role returns the worker role
func (w *Worker) Role() Role { return w.role }

// Run ticks until ctx is cancelled. Tick failures are logged and never end
// the loop.
func (w *Worker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.period)
	defer ticker.Stop()

	events := w.link.Events()

	w.log.Info().Dur("period", w.period).Msg("worker started")
	defer func() {
		w.log.Info().Uint64("count", w.Count()).Msg("worker stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case <-ticker.C:
			w.tick(ctx)

		case ev := <-events:
			w.handleEvent(ctx, ev)
		}
	}
}

func (w *Worker) handleEvent(ctx context.Context, ev link.Event) {
	switch ev.Kind {
	case link.EventDataReceived:
		if w.role == RoleReceiver {
			w.tick(ctx)
		}
	case link.EventTransportError:
		w.log.Warn().Err(ev.Err).Msg("transport error, clearing last frame")
		w.mu.Lock()
		w.hasLast = false
		w.last = protocol.ChannelFrame{}
		w.pending = ""
		w.mu.Unlock()
	}
}

// beginTick reports whether a tick may run and marks the worker busy.
func (w *Worker) beginTick() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.pauseDepth > 0 || !w.enabled.Load() {
		return false
	}
	w.busy = true
	w.idle = make(chan struct{})
	return true
}

func (w *Worker) endTick() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.busy = false
	close(w.idle)
}

func (w *Worker) tick(ctx context.Context) {
	if !w.beginTick() {
		return
	}
	defer w.endTick()

	if !w.link.IsOpen() {
		w.log.Warn().Msg("link closed, reopening")
		if err := w.link.Start(ctx); err != nil {
			w.log.Error().Err(err).Msg("reopen failed, skipping tick")
			return
		}
	}

	var err error
	switch w.role {
	case RoleTransmitter:
		err = w.transmit(ctx)
	case RoleReceiver:
		err = w.receive(ctx)
	}
	if err != nil {
		if ctx.Err() == nil {
			w.log.Error().Err(err).Msg("tick failed")
		}
		return
	}
	w.count.Add(1)
}

func (w *Worker) transmit(ctx context.Context) error {
	values, err := w.source.ReadInputs(ctx)
	if err != nil {
		return fmt.Errorf("failed to read inputs: %w", err)
	}
	if err := protocol.ValidateChannelFrame(values).Err(); err != nil {
		return err
	}

	frame, err := protocol.NewChannelFrame(values...)
	if err != nil {
		return err
	}
	hex, err := frame.Encode()
	if err != nil {
		return err
	}

	if _, err := w.link.WriteFrame(ctx, hex); err != nil {
		return err
	}

	w.setLast(frame)
	w.log.Trace().Str("frame", hex).Msg("sent")
	return nil
}

func (w *Worker) receive(ctx context.Context) error {
	text, gap, err := w.link.ReadText(ctx)
	if err != nil {
		return err
	}
	if gap {
		w.skipPartialLine()
	}
	if text == "" {
		return nil
	}

	hex, ok := w.lastCompleteFrame(text)
	if !ok {
		return nil
	}

	frame, err := protocol.DecodeFrame(hex)
	if err != nil {
		return err
	}
	if err := protocol.ValidateChannelFrame(frame[:]).Err(); err != nil {
		return err
	}

	w.setLast(frame)
	if groups, err := protocol.FormatFrameGroups(hex); err == nil {
		w.log.Trace().Str("frame", groups).Msg("received")
	}
	return w.sink.Apply(ctx, frame)
}

// skipPartialLine forgets the carried-over text and ignores the line that
// is in progress, since its start or end is missing.
func (w *Worker) skipPartialLine() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.pending = ""
	w.resync = true
}

// lastCompleteFrame joins text to any carried-over partial line and returns
// the newest complete line that is a hex frame.
func (w *Worker) lastCompleteFrame(text string) (string, bool) {
	w.mu.Lock()
	if w.resync {
		i := strings.IndexAny(text, "\r\n")
		if i < 0 {
			w.mu.Unlock()
			return "", false
		}
		text = text[i:]
		w.resync = false
	}
	text = w.pending + text
	cut := strings.LastIndexAny(text, "\r\n")
	if cut < 0 {
		w.pending = keepTail(text)
		w.mu.Unlock()
		return "", false
	}
	w.pending = keepTail(text[cut+1:])
	w.mu.Unlock()

	var hex string
	for line := range protocol.SplitResponse([]byte(text[:cut])) {
		if protocol.IsHexFrame(line) {
			hex = line
		}
	}
	return hex, hex != ""
}

// keepTail bounds the carry-over to one character more than a frame, so a
// line that is already too long stays too long.
func keepTail(s string) string {
	if len(s) > protocol.HexFrameLength+1 {
		return s[len(s)-protocol.HexFrameLength-1:]
	}
	return s
}

func (w *Worker) setLast(f protocol.ChannelFrame) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.last = f
	w.hasLast = true
}

// Pause blocks new ticks and waits for a running tick to finish. Calls
// nest: each Pause needs a matching Resume. If ctx expires first the pause
// still takes effect at the end of the running tick.
func (w *Worker) Pause(ctx context.Context) error {
	w.mu.Lock()
	w.pauseDepth++
	if !w.busy {
		w.mu.Unlock()
		return nil
	}
	idle := w.idle
	w.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for %s tick: %w", w.role, ctx.Err())
	}
}

// Resume undoes one Pause. Releasing the last pause drops the partial
// receive line, because the exchange discarded the rest of it.
func (w *Worker) Resume() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.pauseDepth == 0 {
		return
	}
	w.pauseDepth--
	if w.pauseDepth == 0 {
		w.pending = ""
		w.resync = true
	}
}

// Paused reports whether ticks are currently held.
func (w *Worker) Paused() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.pauseDepth > 0
}

// SetEnabled turns the tick body on or off without stopping the loop.
func (w *Worker) SetEnabled(on bool) {
	if w.enabled.Swap(on) != on {
		w.log.Info().Bool("enabled", on).Msg("worker toggled")
	}
}

func (w *Worker) Enabled() bool { return w.enabled.Load() }

// Count returns the number of ticks that completed their body.
func (w *Worker) Count() uint64 { return w.count.Load() }

// LastFrame returns the most recent frame sent or received.
func (w *Worker) LastFrame() (protocol.ChannelFrame, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.last, w.hasLast
}
