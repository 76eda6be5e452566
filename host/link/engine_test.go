package link

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"rasprc/host/serial"
	"rasprc/protocol"
)

const testPort = "/dev/ttyTEST"

var statusDump = strings.Join([]string{
	"ok",
	"9600",
	"0xAA,0xBB,0xCC,0xDD,0xEE",
	"0x11,0x22,0x33,0x44,0x55",
	"2.476GHz",
	"CRC16",
	"ok",
	"250Kbps",
}, "\r\n") + "\r\n"

// fakeModule answers AT? with a status dump and acknowledges setters.
func fakeModule(line string) []byte {
	switch {
	case line == protocol.CmdQuery:
		return []byte(statusDump)
	case strings.HasPrefix(line, "AT+"):
		return []byte("OK\r\n")
	default:
		return nil
	}
}

// portFactory hands out a fresh mock port on every open.
type portFactory struct {
	mu      sync.Mutex
	ports   []*serial.MockPort
	configs []serial.Config
	respond serial.ResponseFunc
	err     error
}

func (f *portFactory) open(cfg *serial.Config) (serial.Port, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	p := serial.NewMockPort()
	p.OnLine(f.respond)
	f.ports = append(f.ports, p)
	f.configs = append(f.configs, *cfg)
	return p, nil
}

func (f *portFactory) last() *serial.MockPort {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ports[len(f.ports)-1]
}

func (f *portFactory) opens() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.ports)
}

func testOptions(f *portFactory) Options {
	opts := DefaultOptions()
	opts.Radio.PortName = testPort
	opts.Opener = f.open
	opts.ListPorts = func() ([]string, error) { return []string{testPort}, nil }
	opts.SettleDelay = time.Millisecond
	opts.ResponseTimeout = time.Second
	nop := zerolog.Nop()
	opts.Logger = &nop
	return opts
}

func openTestEngine(t *testing.T, f *portFactory, mutate func(*Options)) *Engine {
	t.Helper()
	opts := testOptions(f)
	if mutate != nil {
		mutate(&opts)
	}
	e, err := Open(context.Background(), opts)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { e.Close() })
	return e
}

// recordingPauser logs pause and resume calls with the number of lines the
// port had seen at that moment.
type recordingPauser struct {
	mu    sync.Mutex
	port  func() *serial.MockPort
	calls []string
	at    []int
}

func newRecordingPauser(port func() *serial.MockPort) *recordingPauser {
	return &recordingPauser{port: port}
}

func (p *recordingPauser) Pause(ctx context.Context) error {
	p.mu.Lock()
	p.calls = append(p.calls, "pause")
	p.at = append(p.at, len(p.port().Lines()))
	p.mu.Unlock()
	return nil
}

func (p *recordingPauser) Resume() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, "resume")
	p.at = append(p.at, len(p.port().Lines()))
}

func (p *recordingPauser) snapshot() ([]string, []int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.calls), slices.Clone(p.at)
}

func TestGetConfiguration(t *testing.T) {
	f := &portFactory{respond: fakeModule}
	e := openTestEngine(t, f, nil)
	pauser := newRecordingPauser(f.last)
	e.Attach(pauser)

	cfg, err := e.GetConfiguration(context.Background())
	if err != nil {
		t.Fatalf("GetConfiguration failed: %v", err)
	}

	expected := protocol.RadioConfig{
		PortName:  testPort,
		BaudRate:  9600,
		TXAddress: "AABBCCDDEE",
		RXAddress: "1122334455",
		Channel:   76,
		CRC:       16,
		Rate:      250,
	}
	if cfg != expected {
		t.Errorf("GetConfiguration = %+v, expected %+v", cfg, expected)
	}

	port := f.last()
	if got := port.Lines(); !slices.Equal(got, []string{"AT?"}) {
		t.Errorf("Lines written = %q, expected [AT?]", got)
	}
	if port.Flushes() < 2 {
		t.Errorf("Flushes = %d, expected stale input discarded before and after", port.Flushes())
	}

	calls, _ := pauser.snapshot()
	if !slices.Equal(calls, []string{"pause", "resume"}) {
		t.Errorf("Pauser calls = %v", calls)
	}
}

func TestGetConfigurationTimeout(t *testing.T) {
	f := &portFactory{respond: func(string) []byte { return []byte("ok\r\n") }}
	e := openTestEngine(t, f, func(o *Options) { o.ResponseTimeout = 50 * time.Millisecond })
	pauser := newRecordingPauser(f.last)
	e.Attach(pauser)

	_, err := e.GetConfiguration(context.Background())
	if !errors.Is(err, protocol.ErrTimeout) {
		t.Fatalf("Expected ErrTimeout, got %v", err)
	}

	var te *protocol.TimeoutError
	if !errors.As(err, &te) || te.Got != 4 {
		t.Errorf("TimeoutError = %+v, expected 4 bytes received", te)
	}

	calls, _ := pauser.snapshot()
	if !slices.Equal(calls, []string{"pause", "resume"}) {
		t.Errorf("Worker not resumed after timeout: %v", calls)
	}
}

func TestGetConfigurationMalformed(t *testing.T) {
	garbled := strings.Replace(statusDump, "2.476GHz", "2.4xxGHz", 1)
	f := &portFactory{respond: func(line string) []byte { return []byte(garbled) }}
	e := openTestEngine(t, f, nil)

	_, err := e.GetConfiguration(context.Background())
	if !errors.Is(err, protocol.ErrProtocol) {
		t.Fatalf("Expected ErrProtocol, got %v", err)
	}

	var pe *protocol.ProtocolError
	if !errors.As(err, &pe) || pe.Field != "frequency" {
		t.Errorf("ProtocolError = %+v, expected frequency field", pe)
	}
}

func TestGetConfigurationCancelled(t *testing.T) {
	f := &portFactory{}
	e := openTestEngine(t, f, func(o *Options) { o.ResponseTimeout = 10 * time.Second })

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	_, err := e.GetConfiguration(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Expected context.Canceled, got %v", err)
	}
	if time.Since(start) > 2*time.Second {
		t.Errorf("Cancellation took %v", time.Since(start))
	}
}

func testRadioConfig() protocol.RadioConfig {
	return protocol.RadioConfig{
		PortName:  testPort,
		BaudRate:  9600,
		Rate:      1,
		Channel:   76,
		CRC:       16,
		TXAddress: "AABBCCDDEE",
		RXAddress: "1122334455",
	}
}

func TestPutConfiguration(t *testing.T) {
	f := &portFactory{respond: fakeModule}
	e := openTestEngine(t, f, nil)
	pauser := newRecordingPauser(f.last)
	e.Attach(pauser)

	cfg := testRadioConfig()
	lines, err := e.PutConfiguration(context.Background(), cfg)
	if err != nil {
		t.Fatalf("PutConfiguration failed: %v", err)
	}

	expected := []string{
		"AT+BAUD=2",
		"AT+RATE=2",
		"AT+CRC=16",
		"AT+FREQ=2.476G",
		"AT+TXA=0xAA,0xBB,0xCC,0xDD,0xEE",
		"AT+RXA=0x11,0x22,0x33,0x44,0x55",
	}
	if got := f.last().Lines(); !slices.Equal(got, expected) {
		t.Errorf("Commands = %q\nexpected %q", got, expected)
	}
	if len(lines) != 6 || lines[0] != "OK" {
		t.Errorf("Response lines = %q, expected six OK", lines)
	}

	calls, at := pauser.snapshot()
	if !slices.Equal(calls, []string{"pause", "resume"}) {
		t.Fatalf("Pauser calls = %v", calls)
	}
	if at[0] != 0 || at[1] != 6 {
		t.Errorf("Pause at %d lines, resume at %d lines; expected 0 and 6", at[0], at[1])
	}

	if e.Config() != cfg {
		t.Errorf("Live config = %+v, expected %+v", e.Config(), cfg)
	}
	if f.opens() != 1 {
		t.Errorf("Port reopened %d times with unchanged baud", f.opens()-1)
	}
}

func TestPutConfigurationRejectsInvalid(t *testing.T) {
	f := &portFactory{respond: fakeModule}
	e := openTestEngine(t, f, nil)
	pauser := newRecordingPauser(f.last)
	e.Attach(pauser)

	cfg := testRadioConfig()
	cfg.Channel = 200
	cfg.TXAddress = "XYZ"

	_, err := e.PutConfiguration(context.Background(), cfg)
	if !errors.Is(err, protocol.ErrRange) {
		t.Fatalf("Expected validation error, got %v", err)
	}

	var ve *protocol.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("Expected *ValidationError, got %T", err)
	}
	if _, ok := ve.Violations["channel"]; !ok {
		t.Errorf("Missing channel violation: %v", ve.Violations)
	}
	if _, ok := ve.Violations["TXAddress"]; !ok {
		t.Errorf("Missing TXAddress violation: %v", ve.Violations)
	}

	if got := f.last().Lines(); len(got) != 0 {
		t.Errorf("Commands sent for invalid config: %q", got)
	}
	if calls, _ := pauser.snapshot(); len(calls) != 0 {
		t.Errorf("Worker paused for invalid config: %v", calls)
	}
}

func TestPutConfigurationBaudChangeReopens(t *testing.T) {
	f := &portFactory{respond: fakeModule}
	e := openTestEngine(t, f, nil)
	first := f.last()

	cfg := testRadioConfig()
	cfg.BaudRate = 19200
	if _, err := e.PutConfiguration(context.Background(), cfg); err != nil {
		t.Fatalf("PutConfiguration failed: %v", err)
	}

	if got := first.Lines()[0]; got != "AT+BAUD=4" {
		t.Errorf("First command = %q, expected AT+BAUD=4", got)
	}
	if !first.IsClosed() {
		t.Error("Old port still open after baud change")
	}
	if f.opens() != 2 {
		t.Fatalf("Opens = %d, expected 2", f.opens())
	}
	if baud := f.configs[1].Baud; baud != 19200 {
		t.Errorf("Reopened at %d baud, expected 19200", baud)
	}
	if !e.IsOpen() {
		t.Error("Engine not open after reopen")
	}
}

func TestFrameWriteNotInterleavedWithPut(t *testing.T) {
	reached := make(chan struct{})
	gate := make(chan struct{})
	f := &portFactory{respond: func(line string) []byte {
		if line == "AT+CRC=16" {
			close(reached)
			<-gate
		}
		return fakeModule(line)
	}}
	e := openTestEngine(t, f, nil)

	frame := "3E83E83E83E83E83E83E83E8"
	done := make(chan error, 1)
	go func() {
		_, err := e.PutConfiguration(context.Background(), testRadioConfig())
		done <- err
	}()

	// The actor is now held inside the exchange, writing AT+CRC
	<-reached

	written := make(chan error, 1)
	go func() {
		res, err := e.WriteFrame(context.Background(), frame)
		if err == nil && res != "sent" {
			err = errors.New("unexpected result " + res)
		}
		written <- err
	}()

	deadline := time.Now().Add(time.Second)
	for len(e.requests) == 0 {
		if time.Now().After(deadline) {
			close(gate)
			t.Fatal("Frame write was never queued")
		}
		time.Sleep(time.Millisecond)
	}
	close(gate)

	if err := <-done; err != nil {
		t.Fatalf("PutConfiguration failed: %v", err)
	}
	if err := <-written; err != nil {
		t.Fatalf("WriteFrame failed: %v", err)
	}

	lines := f.last().Lines()
	if len(lines) != 7 {
		t.Fatalf("Lines = %q, expected 6 commands and 1 frame", lines)
	}
	if idx := slices.Index(lines, frame); idx != 6 {
		t.Errorf("Frame written at position %d, expected after the exchange: %q", idx, lines)
	}
}

// blockingPauser never acknowledges: Pause waits for ctx.
type blockingPauser struct {
	mu      sync.Mutex
	entered chan struct{}
	resumes int
}

func (p *blockingPauser) Pause(ctx context.Context) error {
	p.entered <- struct{}{}
	<-ctx.Done()
	return ctx.Err()
}

func (p *blockingPauser) Resume() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.resumes++
}

func TestPauseCancelledResumesOnlyPausedWorkers(t *testing.T) {
	f := &portFactory{respond: fakeModule}
	e := openTestEngine(t, f, func(o *Options) { o.PauseTimeout = 10 * time.Second })

	first := &blockingPauser{entered: make(chan struct{}, 1)}
	second := newRecordingPauser(f.last)
	e.Attach(first)
	e.Attach(second)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-first.entered
		cancel()
	}()

	if _, err := e.GetConfiguration(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("Expected context.Canceled, got %v", err)
	}

	first.mu.Lock()
	resumes := first.resumes
	first.mu.Unlock()
	if resumes != 1 {
		t.Errorf("First worker resumed %d times, expected 1", resumes)
	}
	if calls, _ := second.snapshot(); len(calls) != 0 {
		t.Errorf("Second worker calls = %v, expected none", calls)
	}
	if got := f.last().Lines(); len(got) != 0 {
		t.Errorf("Commands sent after cancelled pause: %q", got)
	}
}

func TestReadTextReportsGaps(t *testing.T) {
	f := &portFactory{respond: fakeModule}
	e := openTestEngine(t, f, nil)
	ctx := context.Background()

	if _, gap, err := e.ReadText(ctx); err != nil || !gap {
		t.Fatalf("First read after open: gap=%v err=%v, expected a gap", gap, err)
	}
	if _, gap, _ := e.ReadText(ctx); gap {
		t.Error("Gap reported twice")
	}

	// Fresh data without loss
	f.last().Inject([]byte("3E83E83E83E83E83E83E83E8\r\n"))
	var text string
	deadline := time.Now().Add(time.Second)
	for !strings.Contains(text, "\n") && time.Now().Before(deadline) {
		chunk, gap, err := e.ReadText(ctx)
		if err != nil {
			t.Fatalf("ReadText failed: %v", err)
		}
		if gap {
			t.Fatal("Gap reported for lossless input")
		}
		text += chunk
		time.Sleep(2 * time.Millisecond)
	}

	// A configuration exchange discards input
	if _, err := e.PutConfiguration(ctx, testRadioConfig()); err != nil {
		t.Fatalf("PutConfiguration failed: %v", err)
	}
	if _, gap, _ := e.ReadText(ctx); !gap {
		t.Error("No gap after configuration exchange")
	}

	// Overflow drops the oldest bytes
	f.last().Inject([]byte(strings.Repeat("3E8", rxBufferSize/3+10)))
	deadline = time.Now().Add(time.Second)
	tr := e.tr.Load()
	for {
		tr.mu.Lock()
		dropped := tr.input.Dropped()
		tr.mu.Unlock()
		if dropped > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("Receive buffer never overflowed")
		}
		time.Sleep(time.Millisecond)
	}
	if _, gap, _ := e.ReadText(ctx); !gap {
		t.Error("No gap after overflow")
	}
}

func TestReadFrame(t *testing.T) {
	f := &portFactory{}
	e := openTestEngine(t, f, nil)

	text, err := e.ReadFrame(context.Background())
	if err != nil || text != "" {
		t.Fatalf("ReadFrame on idle link = %q, %v; expected empty", text, err)
	}

	f.last().Inject([]byte("3E83E83E83E83E83E83E83E8\r\n"))

	select {
	case ev := <-e.Events():
		if ev.Kind != EventDataReceived {
			t.Fatalf("Event = %v, expected data-received", ev.Kind)
		}
	case <-time.After(time.Second):
		t.Fatal("No data-received event")
	}

	deadline := time.Now().Add(time.Second)
	for {
		text, err = e.ReadFrame(context.Background())
		if err != nil {
			t.Fatalf("ReadFrame failed: %v", err)
		}
		if strings.Contains(text, "\n") || time.Now().After(deadline) {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if !strings.HasPrefix(text, "3E83E83E83E83E83E83E83E8") {
		t.Errorf("ReadFrame = %q", text)
	}

	if text, _ := e.ReadFrame(context.Background()); text != "" {
		t.Errorf("Second ReadFrame = %q, expected buffer drained", text)
	}
}

func TestWriteFrame(t *testing.T) {
	f := &portFactory{}
	e := openTestEngine(t, f, nil)

	if _, err := e.WriteFrame(context.Background(), "3E8"); !errors.Is(err, protocol.ErrFormat) {
		t.Errorf("Short frame error = %v, expected ErrFormat", err)
	}
	if _, err := e.WriteFrame(context.Background(), "ZZZ3E83E83E83E83E83E83E8"); !errors.Is(err, protocol.ErrFormat) {
		t.Errorf("Non-hex frame error = %v, expected ErrFormat", err)
	}

	res, err := e.WriteFrame(context.Background(), "7D07D07D07D07D07D07D07D0")
	if err != nil || res != "sent" {
		t.Fatalf("WriteFrame = %q, %v", res, err)
	}
	if got := string(f.last().Written()); got != "7D07D07D07D07D07D07D07D0\r\n" {
		t.Errorf("Written = %q", got)
	}

	f.last().FailWrites(errors.New("cable pulled"))
	if _, err := e.WriteFrame(context.Background(), "7D07D07D07D07D07D07D07D0"); !errors.Is(err, protocol.ErrIO) {
		t.Errorf("Write failure = %v, expected ErrIO", err)
	}
	if e.IsOpen() {
		t.Error("Engine still open after write failure")
	}
}

func TestOpenFailure(t *testing.T) {
	f := &portFactory{err: errors.New("permission denied")}
	e, err := Open(context.Background(), testOptions(f))
	if !errors.Is(err, protocol.ErrIO) {
		t.Fatalf("Expected ErrIO, got %v", err)
	}
	if e != nil {
		t.Error("Engine returned on failed open")
	}

	var ioe *protocol.IOError
	if !errors.As(err, &ioe) || ioe.Port != testPort {
		t.Errorf("IOError = %+v", ioe)
	}
}

func TestOpenFallsBackToLastPort(t *testing.T) {
	f := &portFactory{}
	e := openTestEngine(t, f, func(o *Options) {
		o.Radio.PortName = "/dev/ttyUSB0"
		o.ListPorts = func() ([]string, error) {
			return []string{"/dev/ttyS0", "/dev/ttyACM0"}, nil
		}
	})

	if e.PortName() != "/dev/ttyACM0" {
		t.Errorf("PortName = %q, expected /dev/ttyACM0", e.PortName())
	}
	if f.configs[0].Device != "/dev/ttyACM0" {
		t.Errorf("Opened %q", f.configs[0].Device)
	}
}

func TestTransportErrorAndRestart(t *testing.T) {
	f := &portFactory{}
	e := openTestEngine(t, f, nil)

	// Closing the device underneath the reader simulates an unplug
	f.last().Close()

	deadline := time.After(time.Second)
	for e.IsOpen() {
		select {
		case ev := <-e.Events():
			if ev.Kind == EventTransportError && ev.Err == nil {
				t.Error("Transport error event without cause")
			}
		case <-deadline:
			t.Fatal("Engine still open after port failure")
		}
	}

	if _, err := e.ReadFrame(context.Background()); !errors.Is(err, protocol.ErrIO) {
		t.Errorf("ReadFrame on failed link = %v, expected ErrIO", err)
	}

	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if !e.IsOpen() || f.opens() != 2 {
		t.Errorf("IsOpen = %v, opens = %d after restart", e.IsOpen(), f.opens())
	}
}

func TestStopAndClose(t *testing.T) {
	f := &portFactory{}
	e := openTestEngine(t, f, nil)

	if err := e.Stop(context.Background()); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if e.IsOpen() {
		t.Error("IsOpen after Stop")
	}
	if !f.last().IsClosed() {
		t.Error("Port not closed by Stop")
	}

	e.Close()
	if _, err := e.WriteFrame(context.Background(), "3E83E83E83E83E83E83E83E8"); !errors.Is(err, protocol.ErrStopped) {
		t.Errorf("WriteFrame after Close = %v, expected ErrStopped", err)
	}
}
