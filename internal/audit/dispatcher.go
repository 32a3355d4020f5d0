package audit

import (
	"context"
	"sync"
	"sync/atomic"
)

// Config controls dispatcher buffering behavior.
type Config struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// Dispatcher forwards audit events to a sink from a single background
// worker. A nil dispatcher is valid and drops everything, so callers never
// branch on whether auditing is enabled.
//
// Intake and shutdown coordinate through a closed flag guarded by mu: Emit
// holds the read side while sending, Close takes the write side, marks the
// dispatcher closed, and closes the event channel. The worker drains the
// channel to exhaustion before Close returns, so no accepted event is lost.
type Dispatcher struct {
	sink       Sink
	events     chan Event
	dropIfFull bool

	mu      sync.RWMutex
	closed  bool
	drained sync.WaitGroup
	dropped atomic.Uint64
}

// NewDispatcher starts the forwarding worker. Returns nil when auditing is
// disabled.
func NewDispatcher(cfg Config, sink Sink) *Dispatcher {
	if !cfg.Enabled {
		return nil
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1
	}
	if sink == nil {
		sink = NoOpSink{}
	}

	d := &Dispatcher{
		sink:       sink,
		events:     make(chan Event, cfg.BufferSize),
		dropIfFull: cfg.DropIfFull,
	}

	d.drained.Add(1)
	go d.forward()
	return d
}

func (d *Dispatcher) forward() {
	defer d.drained.Done()
	for event := range d.events {
		d.sink.Emit(context.Background(), event)
	}
}

// Emit queues one event. After Close it is a no-op. With DropIfFull the
// event is discarded and counted when the buffer is full; otherwise Emit
// blocks until there is room or the context ends.
func (d *Dispatcher) Emit(ctx context.Context, event Event) {
	if d == nil {
		return
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return
	}

	if d.dropIfFull {
		select {
		case d.events <- event:
		default:
			d.dropped.Add(1)
		}
		return
	}

	if ctx == nil {
		ctx = context.Background()
	}
	select {
	case d.events <- event:
	case <-ctx.Done():
	}
}

// Close stops intake, then waits for the worker to hand every buffered
// event to the sink. Idempotent.
func (d *Dispatcher) Close() {
	if d == nil {
		return
	}
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.events)
	d.mu.Unlock()
	d.drained.Wait()
}

// Dropped reports how many events were discarded under backpressure.
func (d *Dispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.dropped.Load()
}
