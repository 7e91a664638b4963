package serial

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	goserial "go.bug.st/serial"
)

// Defaults for the link.
const (
	DefaultBaud              = 9600
	DefaultReadTimeout       = 500 * time.Millisecond
	DefaultReconnectDelay    = time.Second
	DefaultMaxReconnectDelay = 60 * time.Second
	lineBuffer               = 64
	maxLineLength            = 1024
)

// Port is the byte stream under the link. go.bug.st/serial ports satisfy it;
// tests substitute pipes.
type Port interface {
	io.ReadWriteCloser
}

// Opener opens the port for one connection attempt.
type Opener func() (Port, error)

// Logger defines the logging interface used by the link.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Config configures a Link.
type Config struct {
	Port              string
	Baud              int
	ReadTimeout       time.Duration
	ReconnectDelay    time.Duration
	MaxReconnectDelay time.Duration
}

func (c Config) withDefaults() Config {
	if c.Baud <= 0 {
		c.Baud = DefaultBaud
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = DefaultReadTimeout
	}
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = DefaultReconnectDelay
	}
	if c.MaxReconnectDelay < c.ReconnectDelay {
		c.MaxReconnectDelay = DefaultMaxReconnectDelay
	}
	return c
}

// Link is a line-oriented serial connection to an OpenTherm gateway.
//
// Run owns the port: it opens it, delivers every received line on Lines and
// reopens the port with exponential backoff when it fails. Write may be
// called from any goroutine; it fails with ErrNotConnected while the port
// is down.
type Link struct {
	cfg    Config
	open   Opener
	logger Logger

	lines chan string

	mu   sync.Mutex
	port Port

	connected  atomic.Bool
	reconnects atomic.Uint64
	rx         atomic.Uint64
	tx         atomic.Uint64
	overlong   atomic.Uint64

	cbMu      sync.RWMutex
	onConnect func()
}

// New creates a Link for the configured device, opened 8N1.
func New(cfg Config) *Link {
	cfg = cfg.withDefaults()
	l := &Link{
		cfg:    cfg,
		logger: noopLogger{},
		lines:  make(chan string, lineBuffer),
	}
	l.open = func() (Port, error) {
		return openDevice(cfg)
	}
	return l
}

// openDevice opens the serial device.
func openDevice(cfg Config) (Port, error) {
	mode := &goserial.Mode{
		BaudRate: cfg.Baud,
		DataBits: 8,
		Parity:   goserial.NoParity,
		StopBits: goserial.OneStopBit,
	}
	port, err := goserial.Open(cfg.Port, mode)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrOpenFailed, cfg.Port, err)
	}
	if err := port.SetReadTimeout(cfg.ReadTimeout); err != nil {
		port.Close()
		return nil, fmt.Errorf("%w: setting read timeout: %w", ErrOpenFailed, err)
	}
	// drop whatever the gateway printed before we were listening
	_ = port.ResetInputBuffer()
	return port, nil
}

// SetOpener replaces how the port is opened.
func (l *Link) SetOpener(open Opener) {
	l.open = open
}

// SetLogger sets the logger for the link.
func (l *Link) SetLogger(logger Logger) {
	l.logger = logger
}

// OnConnect registers a callback invoked after every successful open.
func (l *Link) OnConnect(fn func()) {
	l.cbMu.Lock()
	l.onConnect = fn
	l.cbMu.Unlock()
}

// Lines returns the channel of received lines, without line terminators.
// It is closed when Run returns.
func (l *Link) Lines() <-chan string {
	return l.lines
}

// Connected reports whether the port is currently open.
func (l *Link) Connected() bool {
	return l.connected.Load()
}

// Stats returns the number of reconnects and lines received and written.
func (l *Link) Stats() (reconnects, rx, tx uint64) {
	return l.reconnects.Load(), l.rx.Load(), l.tx.Load()
}

// Discarded returns the number of overlong lines dropped as noise.
func (l *Link) Discarded() uint64 {
	return l.overlong.Load()
}

// Write sends p to the gateway.
func (l *Link) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.port == nil {
		return 0, ErrNotConnected
	}
	n, err := l.port.Write(p)
	if err != nil {
		return n, fmt.Errorf("%w: %w", ErrWriteFailed, err)
	}
	l.tx.Add(1)
	l.logger.Debug("serial tx", "line", strings.TrimSpace(string(p)))
	return n, nil
}

// Run connects and reads until ctx is cancelled.
//
// Parameters:
//   - ctx: Cancelling it closes the port and ends Run
//
// Returns:
//   - error: ctx.Err() once cancelled
func (l *Link) Run(ctx context.Context) error {
	defer close(l.lines)

	delay := l.cfg.ReconnectDelay
	attempt := 0
	opened := false
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		port, err := l.open()
		if err != nil {
			attempt++
			l.logger.Warn("serial open failed",
				"port", l.cfg.Port,
				"attempt", attempt,
				"retry_in", delay,
				"error", err,
			)
			if !sleep(ctx, delay) {
				return ctx.Err()
			}
			delay = min(delay*2, l.cfg.MaxReconnectDelay)
			continue
		}

		if opened {
			l.reconnects.Add(1)
		}
		opened = true
		attempt = 0
		delay = l.cfg.ReconnectDelay
		l.attach(port)
		l.logger.Info("serial port opened", "port", l.cfg.Port, "baud", l.cfg.Baud)

		err = l.read(ctx, port)
		l.detach()

		if ctx.Err() != nil {
			return ctx.Err()
		}
		l.logger.Warn("serial connection lost", "port", l.cfg.Port, "error", err)
		if !sleep(ctx, delay) {
			return ctx.Err()
		}
	}
}

func (l *Link) attach(port Port) {
	l.mu.Lock()
	l.port = port
	l.mu.Unlock()
	l.connected.Store(true)

	l.cbMu.RLock()
	fn := l.onConnect
	l.cbMu.RUnlock()
	if fn != nil {
		fn()
	}
}

func (l *Link) detach() {
	l.connected.Store(false)
	l.mu.Lock()
	if l.port != nil {
		l.port.Close()
		l.port = nil
	}
	l.mu.Unlock()
}

// read delivers lines from port until it fails or ctx ends.
func (l *Link) read(ctx context.Context, port Port) error {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			// unblock a read without a timeout
			port.Close()
		case <-done:
		}
	}()

	scanner := bufio.NewScanner(pollingReader{ctx: ctx, r: port})
	scanner.Buffer(make([]byte, maxLineLength), maxLineLength)
	scanner.Split(l.splitLines())
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		l.rx.Add(1)
		select {
		case l.lines <- line:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	return io.EOF
}

// splitLines splits on CR, LF and NUL. A line that outgrows maxLineLength
// is dropped up to its next delimiter instead of failing the scanner, so
// line noise never takes the link down.
func (l *Link) splitLines() bufio.SplitFunc {
	var discarding bool
	return func(data []byte, atEOF bool) (int, []byte, error) {
		if i := bytes.IndexAny(data, "\r\n\x00"); i >= 0 {
			if discarding {
				discarding = false
				return i + 1, nil, nil
			}
			return i + 1, data[:i], nil
		}
		if len(data) >= maxLineLength {
			if !discarding {
				l.overlong.Add(1)
				l.logger.Warn("discarding overlong line", "limit", maxLineLength)
			}
			discarding = true
			return len(data), nil, nil
		}
		if atEOF && len(data) > 0 {
			if discarding {
				return len(data), nil, nil
			}
			return len(data), data, nil
		}
		return 0, nil, nil
	}
}

// pollingReader retries reads that returned nothing because the port's read
// timeout expired, so bufio.Scanner does not give up with ErrNoProgress.
type pollingReader struct {
	ctx context.Context
	r   io.Reader
}

func (p pollingReader) Read(b []byte) (int, error) {
	for {
		n, err := p.r.Read(b)
		if n > 0 || err != nil {
			return n, err
		}
		if p.ctx.Err() != nil {
			return 0, p.ctx.Err()
		}
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
