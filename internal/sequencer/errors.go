package sequencer

import (
	"errors"
	"fmt"
)

// Domain errors for the sequencer package.
var (
	// ErrQueueFull is returned when the pending queue is at capacity.
	ErrQueueFull = errors.New("sequencer: queue full")

	// ErrSuperseded completes a queued handle replaced by a newer write for the same key.
	ErrSuperseded = errors.New("sequencer: superseded by newer request")

	// ErrCancelled completes a handle removed by Cancel or Close.
	ErrCancelled = errors.New("sequencer: cancelled")

	// ErrTimeout is the sentinel wrapped by TimeoutError.
	ErrTimeout = errors.New("sequencer: response timeout")

	// ErrCommunicationFailure is the sentinel wrapped by CommunicationFailure.
	ErrCommunicationFailure = errors.New("sequencer: communication failure")

	// ErrInvalidRequest is returned for requests that are neither a frame nor a command.
	ErrInvalidRequest = errors.New("sequencer: invalid request")
)

// TimeoutError reports one attempt that received no answer in time.
type TimeoutError struct {
	Key     string
	Attempt int
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s: %s attempt %d", ErrTimeout, e.Key, e.Attempt)
}

func (e *TimeoutError) Unwrap() error { return ErrTimeout }

// CommunicationFailure reports a transaction that exhausted its retries.
type CommunicationFailure struct {
	// Key identifies the request (see Request.Key).
	Key string

	// ItemID is the data item the request concerned. Valid when HasItem is true.
	ItemID  uint8
	HasItem bool

	// Attempts is the number of times the request was sent.
	Attempts int

	// Last is the error of the final attempt.
	Last error
}

func (e *CommunicationFailure) Error() string {
	if e.HasItem {
		return fmt.Sprintf("%s: item %d after %d attempts: %v", ErrCommunicationFailure, e.ItemID, e.Attempts, e.Last)
	}
	return fmt.Sprintf("%s: %s after %d attempts: %v", ErrCommunicationFailure, e.Key, e.Attempts, e.Last)
}

func (e *CommunicationFailure) Unwrap() error { return ErrCommunicationFailure }
