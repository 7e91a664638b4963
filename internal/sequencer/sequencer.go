package sequencer

import (
	"errors"
	"io"
	"time"

	"github.com/nerrad567/otgw-core/internal/opentherm"
)

// Default sequencing parameters.
const (
	DefaultTimeout    = time.Second
	DefaultAttempts   = 3
	DefaultQueueSize  = 20
	DefaultLineWindow = 3
)

// State is the sequencer's transaction state.
type State uint8

// Sequencer states.
const (
	StateIdle State = iota
	StateAwaiting
	StateRetrying
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaiting:
		return "awaiting"
	case StateRetrying:
		return "retrying"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Logger defines the logging interface used by the Sequencer.
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

// Config configures a Sequencer.
type Config struct {
	// Timeout is how long one attempt waits for its answer.
	Timeout time.Duration

	// Attempts is how many times a request is sent before it fails. Three
	// timeouts in a row exhaust the default.
	Attempts int

	// QueueSize caps the number of queued (not yet sent) requests.
	QueueSize int

	// LineWindow, when positive, times out a pending gateway command after
	// more than LineWindow unrelated lines. The OTGW answers commands
	// between frames, so a missing reply shows up sooner than the deadline.
	LineWindow int
}

// DefaultConfig returns the default sequencing parameters.
func DefaultConfig() Config {
	return Config{
		Timeout:    DefaultTimeout,
		Attempts:   DefaultAttempts,
		QueueSize:  DefaultQueueSize,
		LineWindow: DefaultLineWindow,
	}
}

func (c Config) withDefaults() Config {
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.Attempts <= 0 {
		c.Attempts = DefaultAttempts
	}
	if c.QueueSize <= 0 {
		c.QueueSize = DefaultQueueSize
	}
	return c
}

// Stats are cumulative sequencer counters.
type Stats struct {
	Sent       uint64 // lines written, including resends
	Completed  uint64 // transactions answered successfully
	Retries    uint64 // resends after timeout or busy replies
	Timeouts   uint64 // attempts that expired
	Failures   uint64 // transactions that exhausted retries
	Rejected   uint64 // transactions completed with a gateway error
	Superseded uint64 // queued requests replaced by newer ones
	Unmatched  uint64 // answers with no live transaction
}

// transaction is the single live request.
type transaction struct {
	handle   *Handle
	payload  []byte
	attempt  int
	deadline time.Time
	lines    int
	lastErr  error
}

// Sequencer owns the link's single transaction slot.
type Sequencer struct {
	cfg    Config
	w      io.Writer
	now    func() time.Time
	logger Logger

	queue []*Handle
	live  *transaction
	state State
	seq   uint64
	stats Stats

	onComplete func(*Handle)
	onFailure  func(*Handle, *CommunicationFailure)
}

// New creates a Sequencer that writes requests to w.
func New(w io.Writer, cfg Config) *Sequencer {
	return &Sequencer{
		cfg:    cfg.withDefaults(),
		w:      w,
		now:    time.Now,
		logger: noopLogger{},
	}
}

// SetLogger sets the logger for the sequencer.
func (s *Sequencer) SetLogger(logger Logger) {
	s.logger = logger
}

// SetClock replaces the time source used for deadlines.
func (s *Sequencer) SetClock(now func() time.Time) {
	s.now = now
}

// OnComplete registers a callback invoked synchronously whenever a sent
// transaction completes, successfully or not, before the next one starts.
func (s *Sequencer) OnComplete(fn func(*Handle)) {
	s.onComplete = fn
}

// OnFailure registers a callback invoked exactly once per transaction that
// exhausts its retries.
func (s *Sequencer) OnFailure(fn func(*Handle, *CommunicationFailure)) {
	s.onFailure = fn
}

// State returns the current transaction state.
func (s *Sequencer) State() State {
	return s.state
}

// Live returns the handle of the in-flight transaction, or nil.
func (s *Sequencer) Live() *Handle {
	if s.live == nil {
		return nil
	}
	return s.live.handle
}

// Pending returns the number of queued requests, excluding the live one.
func (s *Sequencer) Pending() int {
	return len(s.queue)
}

// Queued reports whether a request with key is queued or in flight.
func (s *Sequencer) Queued(key string) bool {
	if s.live != nil && s.live.handle.Request.Key() == key {
		return true
	}
	for _, h := range s.queue {
		if h.Request.Key() == key {
			return true
		}
	}
	return false
}

// Stats returns a copy of the cumulative counters.
func (s *Sequencer) Stats() Stats {
	return s.stats
}

// Submit queues a request.
//
// Requests are ordered by priority (higher first) then by submission order.
// A coalescing request replaces a queued one with the same key; the
// replaced handle completes with ErrSuperseded and the new request takes
// over its place in line. A request that is already in flight is never
// replaced.
//
// Parameters:
//   - req: Frame or gateway command to send
//   - priority: Queue priority; higher is sent first
//
// Returns:
//   - *Handle: Tracks the transaction until it completes
//   - error: ErrQueueFull, ErrInvalidRequest or a command validation error
func (s *Sequencer) Submit(req Request, priority int) (*Handle, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	if req.Coalesces() {
		key := req.Key()
		for i, old := range s.queue {
			if old.Request.Key() != key {
				continue
			}
			h := newHandle(req, priority, old.seq)
			s.queue = append(s.queue[:i], s.queue[i+1:]...)
			s.insert(h)
			s.stats.Superseded++
			old.complete(Result{Err: ErrSuperseded})
			s.logger.Debug("request superseded",
				"key", key,
				"handle", old.ID.String(),
			)
			return h, nil
		}
	}

	if len(s.queue) >= s.cfg.QueueSize {
		return nil, ErrQueueFull
	}

	s.seq++
	h := newHandle(req, priority, s.seq)
	s.insert(h)
	s.advance()
	return h, nil
}

// insert places h in priority order. Equal priorities keep seq order.
func (s *Sequencer) insert(h *Handle) {
	i := len(s.queue)
	for i > 0 {
		prev := s.queue[i-1]
		if prev.Priority > h.Priority || (prev.Priority == h.Priority && prev.seq < h.seq) {
			break
		}
		i--
	}
	s.queue = append(s.queue, nil)
	copy(s.queue[i+1:], s.queue[i:])
	s.queue[i] = h
}

// Cancel removes a queued request. It returns false if the request is
// already in flight or completed.
func (s *Sequencer) Cancel(h *Handle) bool {
	for i, q := range s.queue {
		if q == h {
			s.queue = append(s.queue[:i], s.queue[i+1:]...)
			h.complete(Result{Err: ErrCancelled})
			return true
		}
	}
	return false
}

// Close cancels every queued and live transaction.
func (s *Sequencer) Close() {
	for _, h := range s.queue {
		h.complete(Result{Err: ErrCancelled})
	}
	s.queue = nil
	if s.live != nil {
		s.live.handle.complete(Result{Attempts: s.live.attempt, Err: ErrCancelled})
		s.live = nil
	}
	s.state = StateIdle
}

// advance starts the next queued transaction if the link is idle.
func (s *Sequencer) advance() {
	if s.live != nil || len(s.queue) == 0 {
		return
	}
	h := s.queue[0]
	s.queue = s.queue[1:]

	s.live = &transaction{
		handle:  h,
		payload: h.Request.Bytes(),
	}
	s.state = StateAwaiting
	s.send()
}

// send writes the live payload. The same bytes are reused for every attempt.
func (s *Sequencer) send() {
	tx := s.live
	tx.attempt++
	tx.lines = 0
	tx.deadline = s.now().Add(s.cfg.Timeout)
	s.stats.Sent++

	if _, err := s.w.Write(tx.payload); err != nil {
		// The deadline still applies; the resend happens on timeout.
		tx.lastErr = err
		s.logger.Warn("writing request failed",
			"key", tx.handle.Request.Key(),
			"attempt", tx.attempt,
			"error", err,
		)
	}
}

// HandleFrame offers a received frame to the live transaction.
//
// It returns true when the frame answered the live request and completed it.
func (s *Sequencer) HandleFrame(line opentherm.Line) bool {
	tx := s.live
	if tx == nil || tx.handle.Request.IsCommand() || !matchesFrame(tx.handle.Request.Message, line) {
		s.unrelated()
		return false
	}

	s.finish(Result{Response: line.Message, Attempts: tx.attempt})
	return true
}

// matchesFrame reports whether line answers req. Write acknowledgements must
// echo the written value, so an answer to the thermostat's own write of the
// same id is not mistaken for ours.
func matchesFrame(req opentherm.Message, line opentherm.Line) bool {
	if line.Source != opentherm.SourceBoiler {
		return false
	}
	resp := line.Message
	if resp.ID != req.ID || !req.Type.Answers(resp.Type) {
		return false
	}
	if req.Type == opentherm.WriteData && resp.Type == opentherm.WriteAck && resp.Value != req.Value {
		return false
	}
	return true
}

// HandleReply offers a gateway reply to the live transaction.
//
// A reply for the live command's code completes it. An error reply is taken
// as the answer to the live command: OE (busy) counts as a failed attempt
// and is retried, every other error completes the handle with that error.
func (s *Sequencer) HandleReply(reply opentherm.Reply) bool {
	tx := s.live
	if tx == nil || !tx.handle.Request.IsCommand() {
		s.unrelated()
		return false
	}
	if reply.Err == nil && reply.Code != tx.handle.Request.Command.Code {
		s.unrelated()
		return false
	}

	switch {
	case reply.Retryable():
		s.logger.Debug("gateway busy, retrying",
			"key", tx.handle.Request.Key(),
			"attempt", tx.attempt,
		)
		s.retry(reply.Err)
	case reply.Err != nil:
		s.stats.Rejected++
		s.logger.Warn("gateway rejected command",
			"command", tx.handle.Request.Command.String(),
			"reply", reply.Code,
		)
		s.finish(Result{Reply: reply, Attempts: tx.attempt, Err: reply.Err})
	default:
		s.finish(Result{Reply: reply, Attempts: tx.attempt})
	}
	return true
}

// HandleOther records a line that is neither a frame nor a reply.
func (s *Sequencer) HandleOther() {
	s.unrelated()
}

// unrelated counts a line that did not answer the live transaction.
func (s *Sequencer) unrelated() {
	tx := s.live
	if tx == nil {
		s.stats.Unmatched++
		return
	}
	if !tx.handle.Request.IsCommand() || s.cfg.LineWindow <= 0 {
		return
	}
	tx.lines++
	if tx.lines > s.cfg.LineWindow {
		s.timeout()
	}
}

// Tick checks the live transaction's deadline.
func (s *Sequencer) Tick(now time.Time) {
	if s.live == nil {
		s.advance()
		return
	}
	if !now.Before(s.live.deadline) {
		s.timeout()
	}
}

// timeout handles an expired attempt.
func (s *Sequencer) timeout() {
	tx := s.live
	s.stats.Timeouts++
	err := &TimeoutError{Key: tx.handle.Request.Key(), Attempt: tx.attempt}
	s.logger.Debug("response timeout",
		"key", err.Key,
		"attempt", err.Attempt,
	)
	s.retry(err)
}

// retry resends the live request or fails it when retries are exhausted.
func (s *Sequencer) retry(cause error) {
	tx := s.live
	tx.lastErr = cause

	if tx.attempt >= s.cfg.Attempts {
		s.fail()
		return
	}

	s.state = StateRetrying
	s.stats.Retries++
	s.send()
	s.state = StateAwaiting
}

// fail completes the live transaction with a CommunicationFailure.
func (s *Sequencer) fail() {
	tx := s.live
	s.state = StateFailed
	s.stats.Failures++

	id, hasItem := tx.handle.Request.ItemID()
	cf := &CommunicationFailure{
		Key:      tx.handle.Request.Key(),
		ItemID:   id,
		HasItem:  hasItem,
		Attempts: tx.attempt,
		Last:     tx.lastErr,
	}
	s.logger.Error("communication failure",
		"key", cf.Key,
		"item_id", cf.ItemID,
		"attempts", cf.Attempts,
		"error", cf.Last,
	)

	h := tx.handle
	if s.onFailure != nil {
		s.onFailure(h, cf)
	}
	s.finish(Result{Attempts: tx.attempt, Err: cf})
}

// finish completes the live transaction and starts the next one.
func (s *Sequencer) finish(res Result) {
	h := s.live.handle
	s.live = nil
	s.state = StateIdle

	if res.Err == nil {
		s.stats.Completed++
	}
	h.complete(res)
	if s.onComplete != nil {
		s.onComplete(h)
	}

	s.advance()
}

// IsFailure reports whether err is a CommunicationFailure and returns it.
func IsFailure(err error) (*CommunicationFailure, bool) {
	var cf *CommunicationFailure
	if errors.As(err, &cf) {
		return cf, true
	}
	return nil, false
}
