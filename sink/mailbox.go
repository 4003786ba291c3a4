package sink

import (
	"fmt"
	"log/slog"
	"sync"
)

type mailbox[T any] struct {
	id       uint32
	sink     Sink[T]
	capacity int
	log      *slog.Logger

	mu        sync.Mutex
	queue     []T
	stopped   bool
	delivered uint64
	dropped   uint64

	wake chan struct{}
	done chan struct{}
}

func newMailbox[T any](id uint32, s Sink[T], o options) *mailbox[T] {
	return &mailbox[T]{
		id:       id,
		sink:     s,
		capacity: o.capacity,
		log:      o.logger.With("sink_id", id),
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
}

func (mb *mailbox[T]) push(v T) bool {
	mb.mu.Lock()
	if mb.stopped {
		mb.mu.Unlock()
		return false
	}
	if mb.capacity > 0 && len(mb.queue) >= mb.capacity {
		var zero T
		mb.queue[0] = zero
		mb.queue = mb.queue[1:]
		mb.dropped++
	}
	mb.queue = append(mb.queue, v)
	mb.mu.Unlock()

	select {
	case mb.wake <- struct{}{}:
	default:
	}
	return true
}

func (mb *mailbox[T]) pop() (T, bool) {
	mb.mu.Lock()
	defer mb.mu.Unlock()

	var zero T
	if mb.stopped || len(mb.queue) == 0 {
		return zero, false
	}
	v := mb.queue[0]
	mb.queue[0] = zero
	mb.queue = mb.queue[1:]
	if len(mb.queue) == 0 {
		mb.queue = nil
	}
	return v, true
}

func (mb *mailbox[T]) run() {
	for {
		select {
		case <-mb.done:
			return
		case <-mb.wake:
		}

		for {
			v, ok := mb.pop()
			if !ok {
				break
			}
			mb.deliver(v)
		}
	}
}

func (mb *mailbox[T]) deliver(v T) {
	defer func() {
		if r := recover(); r != nil {
			mb.log.Error("sink panicked", "err", fmt.Sprint(r))
		}
	}()

	mb.sink.OnData(v)

	mb.mu.Lock()
	mb.delivered++
	mb.mu.Unlock()
}

func (mb *mailbox[T]) stop() {
	mb.mu.Lock()
	defer mb.mu.Unlock()

	if mb.stopped {
		return
	}
	mb.stopped = true
	if n := len(mb.queue); n > 0 {
		mb.dropped += uint64(n)
	}
	mb.queue = nil
	close(mb.done)
}

func (mb *mailbox[T]) stats() Stats {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	return Stats{
		Delivered: mb.delivered,
		Dropped:   mb.dropped,
		Queued:    len(mb.queue),
	}
}
