// Package registry caches the latest master and slave values of every
// OpenTherm data item seen on the link.
//
// Each data id has two slots. The slave slot holds what the boiler reported
// in a READ-ACK; the master slot holds values written by the master and
// accepted by the boiler (WRITE-ACK or a gateway command confirmation).
//
// # Concurrency
//
// All mutating methods (Apply, Accept, MarkInvalid) are called from the
// engine goroutine only. Reads (Get, Read, Typed, Snapshot, Readings) take a
// read lock and return copies, so they are safe from any goroutine.
//
// # Change Events
//
// Apply returns a ChangeEvent only when the slot's value or validity
// actually changed. Repeating the same frame produces nothing, which keeps
// the publish layer and the climate loop quiet while the boiler is polled.
//
// # Unknown Items
//
// Frames for ids that are not in the catalog are cached like any other id so
// that diagnostics can show them, but the typed accessors consult the
// catalog and never expose them.
package registry
