// Package link drives the radio module over its serial port: AT configuration
// exchanges and channel frame traffic, strictly serialized.
package link

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"rasprc/host/serial"
	"rasprc/protocol"
)

// Pauser is a frame producer or consumer that must be quiet while the
// module is being configured.
type Pauser interface {
	// Pause returns once the caller is guaranteed no new frame I/O will be
	// issued, or when ctx expires.
	Pause(ctx context.Context) error
	Resume()
}

// Options configures an Engine.
type Options struct {
	// Radio is the initial live configuration. PortName and BaudRate also
	// select the host side of the serial link.
	Radio protocol.RadioConfig

	Driver      string
	ReadTimeout time.Duration

	// Opener and ListPorts default to the native serial implementations.
	Opener    serial.Opener
	ListPorts func() ([]string, error)

	LineTerminator   string
	SettleDelay      time.Duration // between consecutive AT setters
	ResponseTimeout  time.Duration // bound on the AT? response wait
	MinResponseBytes int
	PauseTimeout     time.Duration

	Logger *zerolog.Logger
}

// DefaultOptions returns options for the module at its factory settings.
func DefaultOptions() Options {
	return Options{
		Radio:            protocol.DefaultRadioConfig(),
		Driver:           serial.DriverTarm,
		ReadTimeout:      50 * time.Millisecond,
		LineTerminator:   protocol.CRLF,
		SettleDelay:      100 * time.Millisecond,
		ResponseTimeout:  2 * time.Second,
		MinResponseBytes: 64,
		PauseTimeout:     500 * time.Millisecond,
	}
}

func (o *Options) applyDefaults() {
	def := DefaultOptions()
	if o.Radio == (protocol.RadioConfig{}) {
		o.Radio = def.Radio
	}
	if o.Radio.BaudRate == 0 {
		o.Radio.BaudRate = def.Radio.BaudRate
	}
	if o.ReadTimeout <= 0 {
		o.ReadTimeout = def.ReadTimeout
	}
	if o.Opener == nil {
		o.Opener = serial.Open
	}
	if o.ListPorts == nil {
		o.ListPorts = serial.ListPorts
	}
	if o.LineTerminator == "" {
		o.LineTerminator = def.LineTerminator
	}
	if o.SettleDelay < 0 {
		o.SettleDelay = 0
	}
	if o.ResponseTimeout <= 0 {
		o.ResponseTimeout = def.ResponseTimeout
	}
	if o.MinResponseBytes <= 0 {
		o.MinResponseBytes = def.MinResponseBytes
	}
	if o.PauseTimeout <= 0 {
		o.PauseTimeout = def.PauseTimeout
	}
	if o.Logger == nil {
		l := log.Logger
		o.Logger = &l
	}
}

// request is one unit of work for the actor goroutine.
type request struct {
	op   string
	ctx  context.Context
	run  func(ctx context.Context) error
	done chan error
}

// Engine is the single owner of the serial transport. Every operation that
// touches the port runs on one goroutine, in submission order.
type Engine struct {
	opts Options
	log  zerolog.Logger

	requests chan request
	events   chan Event

	stopOnce sync.Once
	stopChan chan struct{}
	doneChan chan struct{}

	mu       sync.RWMutex
	cfg      protocol.RadioConfig
	portName string
	pausers  []Pauser

	// tr is written only by the actor
	tr atomic.Pointer[transport]
}

// Open resolves and opens the serial port and starts the engine. A failure
// to open is returned as *protocol.IOError.
func Open(ctx context.Context, opts Options) (*Engine, error) {
	opts.applyDefaults()

	e := &Engine{
		opts:     opts,
		log:      opts.Logger.With().Str("component", "link").Logger(),
		requests: make(chan request, 16),
		events:   make(chan Event, 32),
		stopChan: make(chan struct{}),
		doneChan: make(chan struct{}),
		cfg:      opts.Radio,
		portName: opts.Radio.PortName,
	}

	go e.loop()

	if err := e.Start(ctx); err != nil {
		e.Close()
		return nil, err
	}
	return e, nil
}

// loop is the actor: it runs queued requests one at a time until Close
func (e *Engine) loop() {
	defer close(e.doneChan)

	for {
		select {
		case <-e.stopChan:
			e.closeTransport()
			return

		case req := <-e.requests:
			if err := req.ctx.Err(); err != nil {
				req.done <- fmt.Errorf("%s cancelled: %w", req.op, err)
				continue
			}
			req.done <- req.run(req.ctx)
		}
	}
}

// submit queues fn on the actor and waits for it to finish.
func (e *Engine) submit(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	req := request{op: op, ctx: ctx, run: fn, done: make(chan error, 1)}

	select {
	case e.requests <- req:
	case <-ctx.Done():
		return fmt.Errorf("%s cancelled: %w", op, ctx.Err())
	case <-e.stopChan:
		return fmt.Errorf("%s: %w", op, protocol.ErrStopped)
	}

	select {
	case err := <-req.done:
		return err
	case <-e.doneChan:
		return fmt.Errorf("%s: %w", op, protocol.ErrStopped)
	}
}

// Attach registers a worker to be paused around configuration exchanges.
func (e *Engine) Attach(p Pauser) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pausers = append(e.pausers, p)
}

// pauseWorkers pauses every attached worker. A worker that does not
// acknowledge within PauseTimeout is logged and the exchange proceeds: the
// actor still keeps its frame I/O out of the exchange.
func (e *Engine) pauseWorkers(ctx context.Context) (resume func(), err error) {
	e.mu.RLock()
	pausers := append([]Pauser(nil), e.pausers...)
	e.mu.RUnlock()

	// resumeFirst undoes the first n pauses. A Pause that returned an error
	// still counts, its pause takes effect when the tick ends.
	resumeFirst := func(n int) {
		for _, p := range pausers[:n] {
			p.Resume()
		}
	}

	for i, p := range pausers {
		pctx, cancel := context.WithTimeout(ctx, e.opts.PauseTimeout)
		perr := p.Pause(pctx)
		cancel()

		if perr == nil {
			continue
		}
		if ctx.Err() != nil {
			resumeFirst(i + 1)
			return nil, fmt.Errorf("pause workers cancelled: %w", ctx.Err())
		}
		e.log.Warn().Err(perr).Dur("timeout", e.opts.PauseTimeout).Msg("worker did not acknowledge pause")
	}
	return func() { resumeFirst(len(pausers)) }, nil
}

// GetConfiguration queries the module with AT? and parses its status dump.
func (e *Engine) GetConfiguration(ctx context.Context) (protocol.RadioConfig, error) {
	resume, err := e.pauseWorkers(ctx)
	if err != nil {
		return protocol.RadioConfig{}, err
	}
	defer resume()

	var cfg protocol.RadioConfig
	err = e.submit(ctx, "get configuration", func(ctx context.Context) error {
		tr, err := e.transport("get configuration")
		if err != nil {
			return err
		}
		if err := tr.Discard(); err != nil {
			return err
		}
		defer e.discard(tr)

		if err := tr.WriteLine(protocol.CmdQuery); err != nil {
			return err
		}
		if err := tr.waitFor(ctx, "get configuration", e.opts.MinResponseBytes, protocol.StatusLines, e.opts.ResponseTimeout); err != nil {
			return err
		}

		data, _ := tr.ReadExisting()
		lines := protocol.ResponseLines(data)
		e.log.Debug().Strs("lines", lines).Msg("status response")

		cfg, err = protocol.ParseStatus(lines)
		if err != nil {
			return err
		}
		cfg.PortName = tr.name
		return nil
	})
	if err != nil {
		e.log.Error().Err(err).Msg("get configuration failed")
		return protocol.RadioConfig{}, err
	}

	e.log.Info().Stringer("config", cfg).Msg("read module configuration")
	return cfg, nil
}

// PutConfiguration validates cfg, sends the six AT setters in order and
// returns the module's response lines. On success cfg becomes the live
// configuration; a changed baud rate or port reopens the host side.
func (e *Engine) PutConfiguration(ctx context.Context, cfg protocol.RadioConfig) ([]string, error) {
	if err := protocol.ValidateRadioConfig(cfg, protocol.AddressRaw).Err(); err != nil {
		return nil, err
	}
	cmds, err := protocol.ConfigurationCommands(cfg)
	if err != nil {
		return nil, err
	}

	resume, err := e.pauseWorkers(ctx)
	if err != nil {
		return nil, err
	}
	defer resume()

	var lines []string
	err = e.submit(ctx, "put configuration", func(ctx context.Context) error {
		tr, err := e.transport("put configuration")
		if err != nil {
			return err
		}
		if err := tr.Discard(); err != nil {
			return err
		}

		for _, cmd := range cmds {
			if err := tr.WriteLine(cmd); err != nil {
				return err
			}
			e.log.Debug().Str("command", cmd).Msg("sent")
			if err := sleepCtx(ctx, e.opts.SettleDelay); err != nil {
				return fmt.Errorf("put configuration cancelled: %w", err)
			}
		}

		// One acknowledgement per setter is expected; a module that stays
		// silent is logged, not failed.
		err = tr.waitFor(ctx, "put configuration", 0, len(cmds), e.opts.ResponseTimeout)
		var te *protocol.TimeoutError
		if errors.As(err, &te) {
			e.log.Warn().Int("bytes", te.Got).Msg("incomplete acknowledgements from module")
		} else if err != nil {
			return err
		}

		data, _ := tr.ReadExisting()
		lines = protocol.ResponseLines(data)
		e.discard(tr)

		e.mu.Lock()
		prev := e.cfg
		if cfg.PortName == "" {
			cfg.PortName = prev.PortName
		}
		e.cfg = cfg
		e.mu.Unlock()

		if cfg.BaudRate != prev.BaudRate || cfg.PortName != prev.PortName {
			e.log.Info().Int("baud", cfg.BaudRate).Str("port", cfg.PortName).Msg("reopening serial link")
			e.closeTransport()
			return e.openTransport()
		}
		return nil
	})
	if err != nil {
		e.log.Error().Err(err).Msg("put configuration failed")
		return lines, err
	}

	e.log.Info().Stringer("config", cfg).Int("responses", len(lines)).Msg("applied module configuration")
	return lines, nil
}

// ReadFrame returns whatever text is buffered, or "" when nothing arrived.
func (e *Engine) ReadFrame(ctx context.Context) (string, error) {
	text, _, err := e.ReadText(ctx)
	return text, err
}

// ReadText is ReadFrame plus a gap flag. gap is true when input was lost
// since the previous read, so text may start in the middle of a line.
// Opening the port, a configuration exchange and a full receive buffer all
// cause a gap.
func (e *Engine) ReadText(ctx context.Context) (text string, gap bool, err error) {
	err = e.submit(ctx, "read frame", func(context.Context) error {
		tr, err := e.transport("read frame")
		if err != nil {
			return err
		}
		data, lost := tr.ReadExisting()
		text, gap = string(data), lost
		return nil
	})
	return text, gap, err
}

// WriteFrame sends a 24 character hex frame as one line and returns "sent".
func (e *Engine) WriteFrame(ctx context.Context, hex string) (string, error) {
	if err := protocol.ValidateHexFrame(hex).Err(); err != nil {
		return "", err
	}

	err := e.submit(ctx, "write frame", func(context.Context) error {
		tr, err := e.transport("write frame")
		if err != nil {
			return err
		}
		return tr.WriteLine(hex)
	})
	if err != nil {
		return "", err
	}
	return "sent", nil
}

// Start opens the transport if it is not already open.
func (e *Engine) Start(ctx context.Context) error {
	return e.submit(ctx, "start", func(context.Context) error {
		if tr := e.tr.Load(); tr != nil && !tr.Closed() {
			return nil
		}
		e.closeTransport()
		return e.openTransport()
	})
}

// Stop closes the transport. The engine stays usable and Start reopens it.
func (e *Engine) Stop(ctx context.Context) error {
	return e.submit(ctx, "stop", func(context.Context) error {
		e.closeTransport()
		return nil
	})
}

// IsOpen reports whether the transport is open and healthy.
func (e *Engine) IsOpen() bool {
	tr := e.tr.Load()
	return tr != nil && !tr.Closed()
}

// Events delivers transport notifications. Slow readers miss events.
func (e *Engine) Events() <-chan Event {
	return e.events
}

// Config returns a copy of the live configuration.
func (e *Engine) Config() protocol.RadioConfig {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.cfg
}

// PortName returns the device actually opened, which may differ from the
// configured one after a fallback.
func (e *Engine) PortName() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.portName
}

// Close stops the actor and closes the transport. Pending and later calls
// fail with protocol.ErrStopped.
func (e *Engine) Close() error {
	e.stopOnce.Do(func() {
		close(e.stopChan)
	})
	<-e.doneChan
	return nil
}

// transport returns the open transport or an IOError. Actor only.
func (e *Engine) transport(op string) (*transport, error) {
	tr := e.tr.Load()
	if tr == nil {
		return nil, &protocol.IOError{Op: op, Port: e.PortName(), Err: serial.ErrPortClosed}
	}
	if tr.Closed() {
		return nil, tr.ioError(op)
	}
	return tr, nil
}

func (e *Engine) discard(tr *transport) {
	if err := tr.Discard(); err != nil {
		e.log.Warn().Err(err).Msg("failed to discard residual input")
	}
}

// openTransport resolves the port name and opens it. Actor only.
func (e *Engine) openTransport() error {
	cfg := e.Config()
	name := cfg.PortName

	available, err := e.opts.ListPorts()
	if err != nil {
		e.log.Warn().Err(err).Msg("port enumeration failed, using configured port")
	} else {
		resolved, fallback := serial.ResolvePort(name, available)
		if fallback {
			e.log.Warn().Str("configured", name).Str("port", resolved).Msg("configured port not present, falling back")
		}
		name = resolved
	}

	if name == "" {
		return &protocol.IOError{Op: "open", Err: errors.New("no serial port configured or available")}
	}

	port, err := e.opts.Opener(&serial.Config{
		Device:      name,
		Baud:        cfg.BaudRate,
		ReadTimeout: e.opts.ReadTimeout,
		Driver:      e.opts.Driver,
	})
	if err != nil {
		e.log.Error().Err(err).Str("port", name).Msg("failed to open serial port")
		return &protocol.IOError{Op: "open", Port: name, Err: err}
	}

	e.tr.Store(newTransport(port, name, e.opts.LineTerminator, e.events, e.log))

	e.mu.Lock()
	e.portName = name
	e.mu.Unlock()

	e.log.Info().Str("port", name).Int("baud", cfg.BaudRate).Msg("serial link open")
	return nil
}

// closeTransport closes and forgets the transport. Actor only.
func (e *Engine) closeTransport() {
	tr := e.tr.Swap(nil)
	if tr == nil {
		return
	}
	if err := tr.Close(); err != nil {
		e.log.Warn().Err(err).Str("port", tr.name).Msg("error closing serial port")
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
