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

// Dispatcher forwards audit events to a sink from its own goroutine, so
// authentication flows never block on a slow sink when DropIfFull is set.
type Dispatcher struct {
	sink       Sink
	dropIfFull bool

	mu     sync.RWMutex
	ch     chan Event
	closed bool

	wg      sync.WaitGroup
	dropped atomic.Uint64
}

// NewDispatcher starts the forwarding goroutine. It returns nil when
// auditing is disabled; a nil Dispatcher accepts and drops all calls.
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
		dropIfFull: cfg.DropIfFull,
		ch:         make(chan Event, cfg.BufferSize),
	}

	d.wg.Add(1)
	go d.forward()

	return d
}

// forward runs until the channel is closed; events still buffered at close
// time are delivered before it exits.
func (d *Dispatcher) forward() {
	defer d.wg.Done()
	for event := range d.ch {
		d.sink.Emit(context.Background(), event)
	}
}

// Emit enqueues an event. With DropIfFull the event is counted and dropped
// when the buffer is full; otherwise Emit blocks until ctx is done.
func (d *Dispatcher) Emit(ctx context.Context, event Event) {
	if d == nil {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}

	// The read lock keeps Close from closing the channel mid-send.
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return
	}

	if d.dropIfFull {
		select {
		case d.ch <- event:
		default:
			d.dropped.Add(1)
		}
		return
	}

	select {
	case d.ch <- event:
	case <-ctx.Done():
	}
}

// Close stops accepting events and waits for the forwarder to deliver
// whatever is still buffered. Safe to call more than once.
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
	close(d.ch)
	d.mu.Unlock()
	d.wg.Wait()
}

// Dropped reports how many events were discarded due to a full buffer.
func (d *Dispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.dropped.Load()
}
