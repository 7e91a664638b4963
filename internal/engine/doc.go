// Package engine is the OpenTherm gateway context.
//
// An Engine owns the data-item registry, the transaction sequencer, one
// setpoint arbiter per boiler setpoint (ids 1 and 8) and every registered
// heating circuit. All of them are driven by a single goroutine, Run, which
// serialises three inputs:
//
//   - lines received from the link
//   - a periodic tick for deadlines, arbiter refresh, polling and time sync
//   - operations posted by consumers in other goroutines
//
// Consumers never touch engine state directly. Public methods post a
// closure to the engine goroutine and wait for it to run, so they are safe
// for concurrent use but must not be called from the engine goroutine
// itself. Registry reads are the exception: Read and ReadNamed go straight
// to the registry, which is safe for concurrent readers.
//
// Change notifications are delivered on buffered Subscription channels. A
// full channel drops the event and counts it; the engine never blocks on a
// slow consumer. Circuit edge callbacks run on a separate ordered worker so
// they may call back into the engine.
//
// Usage:
//
//	eng, err := engine.New(link, engine.Config{Dialect: engine.DialectGateway})
//	go eng.Run(ctx)
//	h, err := eng.SubmitWrite(56, 52.5, engine.PriorityNormal)
//	res, err := h.Wait(ctx)
package engine
