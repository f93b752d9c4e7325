package audit

import (
	"context"
	"sync"
	"sync/atomic"
)

// Config controls dispatcher buffering.
type Config struct {
	BufferSize int
	// DropIfFull counts and discards events when the buffer is full instead of
	// blocking the factor operation.
	DropIfFull bool
}

// Dispatcher is a Sink that relays events to another sink from one worker
// goroutine, preserving emission order. Events accepted before Close are
// always delivered; events emitted after Close are ignored.
type Dispatcher struct {
	next       Sink
	dropIfFull bool
	queue      chan Event
	worker     sync.WaitGroup

	// mu orders Emit against Close: senders hold it shared, Close exclusively,
	// so the queue is never closed under a sender.
	mu     sync.RWMutex
	closed bool

	dropped   atomic.Uint64
	delivered atomic.Uint64
}

var _ Sink = (*Dispatcher)(nil)

// NewDispatcher starts the worker that drains into next.
func NewDispatcher(cfg Config, next Sink) *Dispatcher {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1
	}
	if next == nil {
		next = NoOpSink{}
	}
	d := &Dispatcher{
		next:       next,
		dropIfFull: cfg.DropIfFull,
		queue:      make(chan Event, cfg.BufferSize),
	}
	d.worker.Add(1)
	go d.run()
	return d
}

func (d *Dispatcher) run() {
	defer d.worker.Done()
	for event := range d.queue {
		d.next.Emit(context.Background(), event)
		d.delivered.Add(1)
	}
}

// Emit enqueues event. A blocking Emit gives up, counting a drop, when ctx
// ends first.
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
		case d.queue <- event:
		default:
			d.dropped.Add(1)
		}
		return
	}

	if ctx == nil {
		ctx = context.Background()
	}
	select {
	case d.queue <- event:
	case <-ctx.Done():
		d.dropped.Add(1)
	}
}

// Close stops accepting events and waits until the buffer has drained into
// the sink. It is idempotent.
func (d *Dispatcher) Close() {
	if d == nil {
		return
	}
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()
	d.worker.Wait()
}

// Dropped counts events discarded because the buffer was full.
func (d *Dispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.dropped.Load()
}

// Delivered returns how many events reached the next sink.
func (d *Dispatcher) Delivered() uint64 {
	if d == nil {
		return 0
	}
	return d.delivered.Load()
}
