// Package es is the event-sourced aggregate kernel: pending event
// buffering, monotonic versioning, replay from history, and the
// rules-before-mutation primitive shared by every aggregate.
//
// # Design
//
// Event dispatch is a closed tagged union per aggregate: each aggregate
// implements Apply as an exhaustive type switch over its own event set, so
// a missing handler is a compile-visible default branch rather than a
// runtime lookup failure. Events embed [Base] for identity, timestamp, and
// the monotonic published flag.
//
// # Architecture boundaries
//
// This package owns event bookkeeping and the aggregate contract. Concrete
// aggregates live in their own packages (e.g. user); event publication
// lives in the engine's dispatch pipeline.
//
// # What this package must NOT do
//
//   - Perform I/O or touch storage.
//   - Import aggregate packages or the engine.
//   - Fire side effects during replay.
package es
