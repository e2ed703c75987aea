package netmux

import (
	"container/heap"
	"sync"
	"time"
)

// EventQueue is a multi-producer, single-consumer queue with three delivery
// classes: standard FIFO, priority (delivered ahead of any
// pending standard event), and timed (delivered no earlier than a given
// duration from now). receive() always prefers priority, then a due timer,
// then standard.
type EventQueue[T any] struct {
	mu       sync.Mutex
	priority []T
	standard []T
	timers   timerHeap[T]
	closed   bool
	wake     chan struct{}
}

type timedEntry[T any] struct {
	due   time.Time
	value T
}

type timerHeap[T any] []timedEntry[T]

func (h timerHeap[T]) Len() int            { return len(h) }
func (h timerHeap[T]) Less(i, j int) bool  { return h[i].due.Before(h[j].due) }
func (h timerHeap[T]) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *timerHeap[T]) Push(x any)         { *h = append(*h, x.(timedEntry[T])) }
func (h *timerHeap[T]) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// NewEventQueue builds an empty, open queue.
func NewEventQueue[T any]() *EventQueue[T] {
	return &EventQueue[T]{wake: make(chan struct{})}
}

// Send enqueues e for standard (FIFO) delivery.
func (q *EventQueue[T]) Send(e T) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrQueueClosed
	}
	q.standard = append(q.standard, e)
	q.notifyLocked()
	q.mu.Unlock()
	return nil
}

// SendPriority enqueues e ahead of any currently pending standard event.
func (q *EventQueue[T]) SendPriority(e T) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrQueueClosed
	}
	q.priority = append(q.priority, e)
	q.notifyLocked()
	q.mu.Unlock()
	return nil
}

// SendTimer enqueues e for delivery no earlier than now+after.
func (q *EventQueue[T]) SendTimer(e T, after time.Duration) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrQueueClosed
	}
	heap.Push(&q.timers, timedEntry[T]{due: time.Now().Add(after), value: e})
	q.notifyLocked()
	q.mu.Unlock()
	return nil
}

func (q *EventQueue[T]) notifyLocked() {
	close(q.wake)
	q.wake = make(chan struct{})
}

// popLocked returns the next deliverable event under the
// priority-then-due-timer-then-standard ordering, or ok=false if nothing is
// currently deliverable.
func (q *EventQueue[T]) popLocked() (e T, ok bool) {
	if len(q.priority) > 0 {
		e = q.priority[0]
		q.priority = q.priority[1:]
		return e, true
	}
	if q.timers.Len() > 0 && !q.timers[0].due.After(time.Now()) {
		item := heap.Pop(&q.timers).(timedEntry[T])
		return item.value, true
	}
	if len(q.standard) > 0 {
		e = q.standard[0]
		q.standard = q.standard[1:]
		return e, true
	}
	var zero T
	return zero, false
}

// nextWakeLocked returns the duration until the earliest pending timer is
// due, and whether one exists.
func (q *EventQueue[T]) nextWakeLocked() (time.Duration, bool) {
	if q.timers.Len() == 0 {
		return 0, false
	}
	d := time.Until(q.timers[0].due)
	if d < 0 {
		d = 0
	}
	return d, true
}

// TryReceive returns immediately: the next event if one is deliverable right
// now, or ok=false if all three sources are empty and no timer is due.
func (q *EventQueue[T]) TryReceive() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.popLocked()
}

// Receive blocks until an event is deliverable or the queue is closed.
func (q *EventQueue[T]) Receive() (T, bool) {
	return q.receive(nil)
}

// ReceiveTimeout blocks until an event is deliverable, the timeout elapses,
// or the queue is closed. On timeout it returns ok=false without dequeuing
// anything.
func (q *EventQueue[T]) ReceiveTimeout(d time.Duration) (T, bool) {
	return q.receive(&d)
}

func (q *EventQueue[T]) receive(timeout *time.Duration) (T, bool) {
	var deadline time.Time
	if timeout != nil {
		deadline = time.Now().Add(*timeout)
	}
	for {
		q.mu.Lock()
		if e, ok := q.popLocked(); ok {
			q.mu.Unlock()
			return e, true
		}
		if q.closed {
			q.mu.Unlock()
			var zero T
			return zero, false
		}
		wake := q.wake
		wait, hasTimer := q.nextWakeLocked()
		q.mu.Unlock()

		if timeout != nil {
			if remaining := time.Until(deadline); remaining <= 0 {
				var zero T
				return zero, false
			} else if !hasTimer || remaining < wait {
				wait, hasTimer = remaining, true
			}
		}

		if !hasTimer {
			<-wake
			continue
		}

		t := time.NewTimer(wait)
		select {
		case <-wake:
			t.Stop()
		case <-t.C:
			if timeout != nil && !time.Now().Before(deadline) {
				var zero T
				return zero, false
			}
			// A timed event may now be due; loop around to pop it.
		}
	}
}

// Close marks the queue closed; subsequent Send* calls return
// ErrQueueClosed and blocked/future Receive calls observe the close once
// every already-deliverable event has drained.
func (q *EventQueue[T]) Close() {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		q.notifyLocked()
	}
	q.mu.Unlock()
}
