package link

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"rasprc/host/serial"
	"rasprc/protocol"
)

// EventKind identifies a transport notification.
type EventKind int

const (
	// EventDataReceived fires whenever the reader buffers new bytes.
	EventDataReceived EventKind = iota
	// EventTransportError fires once when the port fails and the transport closes.
	EventTransportError
)

func (k EventKind) String() string {
	switch k {
	case EventDataReceived:
		return "data-received"
	case EventTransportError:
		return "transport-error"
	default:
		return fmt.Sprintf("event(%d)", int(k))
	}
}

// Event is delivered on Engine.Events.
type Event struct {
	Kind  EventKind
	Bytes int   // bytes buffered, for EventDataReceived
	Err   error // cause, for EventTransportError
}

const rxBufferSize = 1024

// transport owns one open serial port. A background reader moves bytes into
// the fifo and wakes anyone waiting for a response.
type transport struct {
	port       serial.Port
	name       string
	terminator string
	log        zerolog.Logger

	mu    sync.Mutex
	input *fifo
	gap   bool // stream skipped since the last ReadExisting

	notify chan struct{}
	events chan<- Event

	closed   atomic.Bool
	failErr  atomic.Value
	stopOnce sync.Once
	stopChan chan struct{}
	doneChan chan struct{}
}

func newTransport(port serial.Port, name, terminator string, events chan<- Event, log zerolog.Logger) *transport {
	t := &transport{
		port:       port,
		name:       name,
		terminator: terminator,
		log:        log,
		input:      newFifo(rxBufferSize),
		gap:        true,
		notify:     make(chan struct{}, 1),
		events:     events,
		stopChan:   make(chan struct{}),
		doneChan:   make(chan struct{}),
	}

	go t.readLoop()

	return t
}

// readLoop continuously reads from the serial port into the fifo
func (t *transport) readLoop() {
	defer close(t.doneChan)

	buffer := make([]byte, 256)

	for {
		select {
		case <-t.stopChan:
			return
		default:
		}

		n, err := t.port.Read(buffer)
		if err != nil {
			select {
			case <-t.stopChan:
				// Close unblocked the read
				return
			default:
			}
			t.fail(err)
			return
		}

		if n > 0 {
			t.mu.Lock()
			t.input.Write(buffer[:n])
			avail := t.input.Available()
			t.mu.Unlock()

			t.wake()
			t.emit(Event{Kind: EventDataReceived, Bytes: avail})
		}
	}
}

func (t *transport) wake() {
	select {
	case t.notify <- struct{}{}:
	default:
	}
}

// emit never blocks the reader; a slow subscriber misses notifications.
func (t *transport) emit(ev Event) {
	if t.events == nil {
		return
	}
	select {
	case t.events <- ev:
	default:
	}
}

// fail marks the transport closed after an I/O error and notifies subscribers.
func (t *transport) fail(err error) {
	if !t.closed.CompareAndSwap(false, true) {
		return
	}
	t.failErr.Store(err)
	t.log.Error().Err(err).Str("port", t.name).Msg("serial transport failed")
	t.wake()
	t.emit(Event{Kind: EventTransportError, Err: err})
}

// Closed reports whether the port failed or was closed.
func (t *transport) Closed() bool {
	return t.closed.Load()
}

func (t *transport) ioError(op string) error {
	err, _ := t.failErr.Load().(error)
	if err == nil {
		err = serial.ErrPortClosed
	}
	return &protocol.IOError{Op: op, Port: t.name, Err: err}
}

// WriteLine sends s followed by the line terminator.
func (t *transport) WriteLine(s string) error {
	if t.Closed() {
		return t.ioError("write")
	}

	msg := []byte(s + t.terminator)
	n, err := t.port.Write(msg)
	if err != nil {
		t.fail(err)
		return &protocol.IOError{Op: "write", Port: t.name, Err: err}
	}
	if n != len(msg) {
		err := fmt.Errorf("incomplete write: %d/%d bytes", n, len(msg))
		return &protocol.IOError{Op: "write", Port: t.name, Err: err}
	}

	t.log.Trace().Str("port", t.name).Str("line", s).Msg("tx")
	return nil
}

// Discard drops unread bytes in the driver and in the fifo. The next
// ReadExisting reports a gap.
func (t *transport) Discard() error {
	if t.Closed() {
		return t.ioError("discard")
	}

	t.mu.Lock()
	t.gap = true
	t.mu.Unlock()

	if err := t.port.Flush(); err != nil {
		return &protocol.IOError{Op: "discard", Port: t.name, Err: err}
	}

	t.mu.Lock()
	if n := t.input.Available(); n > 0 {
		t.log.Debug().Str("port", t.name).Int("bytes", n).Msg("discarded stale input")
	}
	t.input.Reset()
	t.mu.Unlock()
	return nil
}

// ReadExisting returns and consumes whatever is buffered. It never blocks.
// gap is true when bytes were lost before data: the port was just opened,
// input was discarded or the fifo overflowed.
func (t *transport) ReadExisting() (data []byte, gap bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	gap = t.gap
	t.gap = false
	if dropped := t.input.Dropped(); dropped > 0 {
		t.log.Warn().Str("port", t.name).Int("bytes", dropped).Msg("receive buffer overflowed")
		gap = true
	}
	return t.input.Drain(), gap
}

// Available returns the number of buffered bytes
func (t *transport) Available() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.input.Available()
}

// waitFor blocks until at least minBytes and minLines complete lines are
// buffered, the timeout expires, ctx is cancelled or the port fails.
func (t *transport) waitFor(ctx context.Context, op string, minBytes, minLines int, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		t.mu.Lock()
		avail := t.input.Available()
		lines := t.input.CompleteLines()
		t.mu.Unlock()

		if avail >= minBytes && lines >= minLines {
			return nil
		}
		if t.Closed() {
			return t.ioError(op)
		}

		select {
		case <-t.notify:
		case <-ctx.Done():
			return fmt.Errorf("%s cancelled: %w", op, ctx.Err())
		case <-timer.C:
			return &protocol.TimeoutError{Op: op, After: timeout, Got: avail}
		}
	}
}

// Close stops the reader and closes the port. It is safe to call twice.
func (t *transport) Close() error {
	var err error
	t.stopOnce.Do(func() {
		t.closed.Store(true)
		close(t.stopChan)
		err = t.port.Close()

		select {
		case <-t.doneChan:
		case <-time.After(time.Second):
			t.log.Warn().Str("port", t.name).Msg("serial reader did not stop")
		}
	})
	return err
}
