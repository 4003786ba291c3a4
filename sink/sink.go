// Package sink implements the per-track and per-channel consumer registry.
//
// A Registry maps small integer ids to consumers. Engine goroutines call Dispatch or
// Broadcast; those calls only enqueue. Each consumer owns a mailbox drained by its own
// goroutine, so consumer code never runs on the engine's goroutine and items for one id
// are delivered in the order they were dispatched.
package sink

import (
	"log/slog"
	"sync"
)

// Sink consumes a stream of items. Items are shared; a Sink must not mutate them.
type Sink[T any] interface {
	OnData(v T)
}

// Func adapts a function to Sink.
type Func[T any] func(v T)

// OnData calls f(v).
func (f Func[T]) OnData(v T) { f(v) }

// Stats describes one consumer's mailbox.
type Stats struct {
	Delivered uint64
	Dropped   uint64
	Queued    int
}

type options struct {
	capacity int
	name     string
	logger   *slog.Logger
}

// Option configures a Registry.
type Option func(*options)

// WithCapacity bounds every mailbox to n queued items. When full, the oldest item is
// dropped. Zero means unbounded.
func WithCapacity(n int) Option {
	return func(o *options) {
		if n < 0 {
			n = 0
		}
		o.capacity = n
	}
}

// WithName sets the name used in log lines.
func WithName(name string) Option {
	return func(o *options) {
		o.name = name
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// Registry holds at most one consumer per id.
type Registry[T any] struct {
	mx      sync.RWMutex
	entries map[uint32]*mailbox[T]
	closed  bool
	opts    options
}

// NewRegistry creates an empty registry.
func NewRegistry[T any](opts ...Option) *Registry[T] {
	o := options{name: "sink"}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	o.logger = o.logger.With("registry", o.name)

	return &Registry[T]{
		entries: make(map[uint32]*mailbox[T]),
		opts:    o,
	}
}

// Register installs s under id, replacing any previous consumer. The previous consumer's
// pending items are discarded and it receives nothing further. Registering nil removes
// the consumer.
func (r *Registry[T]) Register(id uint32, s Sink[T]) {
	if s == nil {
		r.Unregister(id)
		return
	}

	mb := newMailbox(id, s, r.opts)

	r.mx.Lock()
	if r.closed {
		r.mx.Unlock()
		r.opts.logger.Debug("register on closed registry ignored", "sink_id", id)
		return
	}
	old := r.entries[id]
	r.entries[id] = mb
	r.mx.Unlock()

	if old != nil {
		old.stop()
		r.opts.logger.Debug("sink replaced", "sink_id", id)
	}
	go mb.run()
}

// Unregister removes the consumer at id, if any.
func (r *Registry[T]) Unregister(id uint32) {
	r.mx.Lock()
	old := r.entries[id]
	delete(r.entries, id)
	r.mx.Unlock()

	if old != nil {
		old.stop()
	}
}

// Dispatch hands v to the consumer registered at id. It returns false, and drops v, when
// no consumer is registered. It never runs consumer code and never blocks on it.
func (r *Registry[T]) Dispatch(id uint32, v T) bool {
	r.mx.RLock()
	defer r.mx.RUnlock()

	mb, ok := r.entries[id]
	if !ok {
		return false
	}
	return mb.push(v)
}

// Broadcast hands v to every registered consumer and returns how many received it.
func (r *Registry[T]) Broadcast(v T) int {
	r.mx.RLock()
	defer r.mx.RUnlock()

	n := 0
	for _, mb := range r.entries {
		if mb.push(v) {
			n++
		}
	}
	return n
}

// Len returns the number of registered consumers.
func (r *Registry[T]) Len() int {
	r.mx.RLock()
	defer r.mx.RUnlock()
	return len(r.entries)
}

// Stats returns mailbox statistics for id.
func (r *Registry[T]) Stats(id uint32) (Stats, bool) {
	r.mx.RLock()
	mb, ok := r.entries[id]
	r.mx.RUnlock()
	if !ok {
		return Stats{}, false
	}
	return mb.stats(), true
}

// Close stops every mailbox. Later calls to Dispatch and Broadcast are no-ops.
func (r *Registry[T]) Close() {
	r.mx.Lock()
	if r.closed {
		r.mx.Unlock()
		return
	}
	r.closed = true
	entries := r.entries
	r.entries = make(map[uint32]*mailbox[T])
	r.mx.Unlock()

	for _, mb := range entries {
		mb.stop()
	}
}
