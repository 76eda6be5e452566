package serial

import (
	"bytes"
	"strings"
	"sync"
	"time"
)

// ResponseFunc produces the bytes a simulated device sends back after it
// receives one complete line (terminator stripped).
type ResponseFunc func(line string) []byte

// MockPort is an in-memory Port that records everything written to it and
// plays back injected or scripted device output.
type MockPort struct {
	mu       sync.Mutex
	rx       []byte
	written  bytes.Buffer
	pending  []byte
	lines    []string
	respond  ResponseFunc
	notify   chan struct{}
	closed   bool
	flushes  int
	writeErr error

	// ReadTimeout bounds how long Read blocks with nothing to return
	ReadTimeout time.Duration
}

// NewMockPort returns an open mock port with no scripted responses.
func NewMockPort() *MockPort {
	return &MockPort{
		notify:      make(chan struct{}, 1),
		ReadTimeout: 5 * time.Millisecond,
	}
}

// OnLine installs the device simulation invoked for every written line.
func (m *MockPort) OnLine(fn ResponseFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.respond = fn
}

// Inject queues bytes as if the device had sent them.
func (m *MockPort) Inject(data []byte) {
	m.mu.Lock()
	m.rx = append(m.rx, data...)
	m.mu.Unlock()
	m.signal()
}

// FailWrites makes every subsequent write return err. Pass nil to recover.
func (m *MockPort) FailWrites(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writeErr = err
}

func (m *MockPort) signal() {
	select {
	case m.notify <- struct{}{}:
	default:
	}
}

func (m *MockPort) Read(b []byte) (int, error) {
	deadline := time.After(m.ReadTimeout)
	for {
		m.mu.Lock()
		if m.closed {
			m.mu.Unlock()
			return 0, ErrPortClosed
		}
		if len(m.rx) > 0 {
			n := copy(b, m.rx)
			m.rx = m.rx[n:]
			more := len(m.rx) > 0
			m.mu.Unlock()
			if more {
				m.signal()
			}
			return n, nil
		}
		m.mu.Unlock()

		select {
		case <-m.notify:
		case <-deadline:
			return 0, nil
		}
	}
}

func (m *MockPort) Write(b []byte) (int, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return 0, ErrPortClosed
	}
	if m.writeErr != nil {
		err := m.writeErr
		m.mu.Unlock()
		return 0, err
	}

	m.written.Write(b)
	m.pending = append(m.pending, b...)

	var replies []byte
	for {
		i := bytes.IndexByte(m.pending, '\n')
		if i < 0 {
			break
		}
		line := strings.TrimRight(string(m.pending[:i]), "\r")
		m.pending = m.pending[i+1:]
		m.lines = append(m.lines, line)
		if m.respond != nil {
			replies = append(replies, m.respond(line)...)
		}
	}
	if len(replies) > 0 {
		m.rx = append(m.rx, replies...)
	}
	m.mu.Unlock()

	if len(replies) > 0 {
		m.signal()
	}
	return len(b), nil
}

func (m *MockPort) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	m.signal()
	return nil
}

// Flush discards unread input
func (m *MockPort) Flush() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrPortClosed
	}
	m.rx = nil
	m.flushes++
	return nil
}

// Lines returns every complete line written so far.
func (m *MockPort) Lines() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.lines...)
}

// Written returns the raw bytes written so far.
func (m *MockPort) Written() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]byte(nil), m.written.Bytes()...)
}

// Flushes returns how many times Flush was called.
func (m *MockPort) Flushes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.flushes
}

// IsClosed reports whether Close was called.
func (m *MockPort) IsClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}
