// Package sequencer serialises transactions over the single OpenTherm link.
//
// The link allows exactly one outstanding request. The Sequencer keeps a
// bounded priority queue of requests, sends one at a time, matches the
// answer, and retries on timeout by resending the same bytes.
//
// # State Machine
//
//	Idle ──send──▶ Awaiting ──answer──▶ Idle
//	                  │  ▲
//	          timeout │  │ resend
//	                  ▼  │
//	               Retrying ──retries exhausted──▶ Failed ──▶ Idle
//
// # Ordering
//
// Higher priority numbers are sent first; equal priorities are sent in
// submission order. A write (or gateway command) submitted while another for
// the same key is still queued replaces it, and the replaced handle
// completes with ErrSuperseded.
//
// # Concurrency
//
// The Sequencer is not safe for concurrent use. It is owned by the engine
// goroutine, which feeds it lines and ticks. Handles may be waited on from
// any goroutine.
package sequencer
