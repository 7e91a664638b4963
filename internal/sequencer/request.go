package sequencer

import (
	"context"
	"fmt"
	"strconv"

	"github.com/google/uuid"

	"github.com/nerrad567/otgw-core/internal/opentherm"
)

// Request is what a transaction sends: either a raw OpenTherm frame or an
// OTGW gateway command.
type Request struct {
	// Message is the frame to send. For item commands it is the equivalent
	// WRITE-DATA, so the accepted value can be recorded on confirmation.
	Message opentherm.Message

	// Command is set for gateway commands.
	Command *opentherm.Command

	hasItem bool
}

// queryCommands are gateway commands that ask for information. They are
// never coalesced because the parameter selects what is reported.
var queryCommands = map[string]bool{
	opentherm.CmdPrintReport: true,
	opentherm.CmdPrioMessage: true,
}

// Frame builds a request that sends a raw frame.
func Frame(m opentherm.Message) Request {
	return Request{Message: m, hasItem: true}
}

// ItemCommand builds a gateway command that writes a data item. write is the
// equivalent WRITE-DATA frame.
func ItemCommand(cmd opentherm.Command, write opentherm.Message) Request {
	return Request{Message: write, Command: &cmd, hasItem: true}
}

// GatewayCommand builds a gateway command that is not tied to a data item.
func GatewayCommand(cmd opentherm.Command) Request {
	return Request{Command: &cmd}
}

// IsCommand reports whether the request is a gateway command.
func (r Request) IsCommand() bool { return r.Command != nil }

// ItemID returns the data item the request concerns.
func (r Request) ItemID() (uint8, bool) {
	return r.Message.ID, r.hasItem
}

// Key identifies requests that address the same thing. Queued requests with
// equal keys coalesce when Coalesces is true.
func (r Request) Key() string {
	if r.Command != nil {
		if queryCommands[r.Command.Code] {
			return r.Command.String()
		}
		return r.Command.Code
	}
	switch r.Message.Type {
	case opentherm.WriteData:
		return "W" + strconv.Itoa(int(r.Message.ID))
	default:
		return "R" + strconv.Itoa(int(r.Message.ID))
	}
}

// Coalesces reports whether a newer request with the same key replaces this
// one while it is queued. Writes and setting commands coalesce; reads and
// queries do not.
func (r Request) Coalesces() bool {
	if r.Command != nil {
		return !queryCommands[r.Command.Code]
	}
	return r.Message.Type == opentherm.WriteData
}

// Bytes returns the line written to the link.
func (r Request) Bytes() []byte {
	if r.Command != nil {
		return r.Command.Bytes()
	}
	return opentherm.FormatRequest(r.Message)
}

// validate checks the request before it is queued.
func (r Request) validate() error {
	if r.Command != nil {
		return r.Command.Validate()
	}
	if !r.Message.Type.IsRequest() {
		return fmt.Errorf("%w: frame type %s is not a request", ErrInvalidRequest, r.Message.Type)
	}
	if r.Message.ID > opentherm.MaxItemID {
		return fmt.Errorf("%w: data id %d", ErrInvalidRequest, r.Message.ID)
	}
	return nil
}

// String returns a compact description for logs.
func (r Request) String() string {
	if r.Command != nil {
		return r.Command.String()
	}
	return r.Message.String()
}

// Result is the outcome of a transaction.
type Result struct {
	// Response is the matching frame for frame requests.
	Response opentherm.Message

	// Reply is the gateway reply for command requests.
	Reply opentherm.Reply

	// Attempts is how many times the request was sent.
	Attempts int

	// Err is nil on success. It may be a *CommunicationFailure, a gateway
	// error from opentherm, ErrSuperseded or ErrCancelled.
	Err error
}

// Handle tracks one submitted request.
type Handle struct {
	ID       uuid.UUID
	Request  Request
	Priority int

	seq    uint64
	done   chan struct{}
	result Result
}

func newHandle(req Request, priority int, seq uint64) *Handle {
	return &Handle{
		ID:       uuid.New(),
		Request:  req,
		Priority: priority,
		seq:      seq,
		done:     make(chan struct{}),
	}
}

// Done is closed when the transaction completes.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Result returns the outcome. It is only meaningful after Done is closed.
func (h *Handle) Result() Result {
	select {
	case <-h.done:
		return h.result
	default:
		return Result{}
	}
}

// Wait blocks until the transaction completes or ctx is done.
func (h *Handle) Wait(ctx context.Context) (Result, error) {
	select {
	case <-h.done:
		return h.result, h.result.Err
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// complete records the result and releases waiters. Called once.
func (h *Handle) complete(res Result) {
	h.result = res
	close(h.done)
}
