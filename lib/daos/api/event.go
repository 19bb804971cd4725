//
// (C) Copyright 2025 Google LLC
//
// SPDX-License-Identifier: BSD-2-Clause-Patent
//

package api

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	"golang.org/x/sync/semaphore"

	"github.com/daos-stack/dsr/lib/daos"
)

type (
	// EventQueryFilter selects the events counted by EventQueue.Query.
	EventQueryFilter uint

	// Event tracks one operation launched on an event queue.
	Event struct {
		ID     uint64
		eq     *EventQueue
		done   chan struct{}
		err    error
		cancel context.CancelFunc
	}

	// EventQueue runs operations asynchronously and collects them as they
	// complete.
	EventQueue struct {
		mu        sync.Mutex
		sem       *semaphore.Weighted
		inflight  map[uint64]*Event
		completed []*Event
		// closed and replaced whenever an event completes
		wake      chan struct{}
		destroyed bool
		wg        sync.WaitGroup
	}

	// EventQueueOption configures an EventQueue.
	EventQueueOption func(*EventQueue)
)

const (
	EventQueryInflight EventQueryFilter = 1 << iota
	EventQueryCompleted
	EventQueryAll = EventQueryInflight | EventQueryCompleted
)

var lastEventID uint64

// WithMaxInflight limits the number of events running at once. Launch
// blocks while the limit is reached.
func WithMaxInflight(n int64) EventQueueOption {
	return func(eq *EventQueue) {
		if n > 0 {
			eq.sem = semaphore.NewWeighted(n)
		}
	}
}

// NewEventQueue returns an empty event queue.
func NewEventQueue(opts ...EventQueueOption) *EventQueue {
	eq := &EventQueue{
		inflight: make(map[uint64]*Event),
		wake:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(eq)
	}
	return eq
}

// Launch runs fn on its own goroutine and returns the event that tracks
// it. The context passed to fn is canceled if the queue is destroyed with
// force.
func (eq *EventQueue) Launch(ctx context.Context, fn func(context.Context) error) (*Event, error) {
	if err := checkCtx(ctx); err != nil {
		return nil, err
	}
	if fn == nil {
		return nil, errors.Wrap(daos.InvalidInput, "nil event function")
	}
	if eq.sem != nil {
		if err := eq.sem.Acquire(ctx, 1); err != nil {
			return nil, ctxErr(err)
		}
	}

	eq.mu.Lock()
	if eq.destroyed {
		eq.mu.Unlock()
		if eq.sem != nil {
			eq.sem.Release(1)
		}
		return nil, errors.Wrap(daos.NoHandle, "event queue is destroyed")
	}
	evCtx, cancel := context.WithCancel(ctx)
	ev := &Event{
		ID:     atomic.AddUint64(&lastEventID, 1),
		eq:     eq,
		done:   make(chan struct{}),
		cancel: cancel,
	}
	eq.inflight[ev.ID] = ev
	eq.wg.Add(1)
	eq.mu.Unlock()

	go func() {
		defer eq.wg.Done()
		err := fn(evCtx)
		cancel()
		eq.complete(ev, err)
	}()

	return ev, nil
}

func (eq *EventQueue) complete(ev *Event, err error) {
	if eq.sem != nil {
		eq.sem.Release(1)
	}

	eq.mu.Lock()
	defer eq.mu.Unlock()

	ev.err = err
	delete(eq.inflight, ev.ID)
	eq.completed = append(eq.completed, ev)
	close(ev.done)

	close(eq.wake)
	eq.wake = make(chan struct{})
}

// Test returns true along with the event's result once it has completed.
func (ev *Event) Test() (bool, error) {
	select {
	case <-ev.done:
		return true, ev.err
	default:
		return false, nil
	}
}

// Wait blocks until the event completes and returns its result.
func (ev *Event) Wait(ctx context.Context) error {
	if err := checkCtx(ctx); err != nil {
		return err
	}
	select {
	case <-ev.done:
		return ev.err
	case <-ctx.Done():
		return ctxErr(ctx.Err())
	}
}

// Err returns the result of a completed event.
func (ev *Event) Err() error {
	select {
	case <-ev.done:
		return ev.err
	default:
		return errors.Wrap(daos.InProgress, "event has not completed")
	}
}

// Poll returns up to max completed events, which are removed from the
// queue. With wait set, Poll blocks until at least one event completes
// unless none are in flight. A max of zero returns all completed events.
func (eq *EventQueue) Poll(ctx context.Context, wait bool, max int) ([]*Event, error) {
	if err := checkCtx(ctx); err != nil {
		return nil, err
	}

	for {
		eq.mu.Lock()
		if len(eq.completed) > 0 || !wait || len(eq.inflight) == 0 {
			n := len(eq.completed)
			if max > 0 && n > max {
				n = max
			}
			out := append([]*Event{}, eq.completed[:n]...)
			eq.completed = eq.completed[n:]
			eq.mu.Unlock()
			return out, nil
		}
		wake := eq.wake
		eq.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctxErr(ctx.Err())
		case <-wake:
		}
	}
}

// Query returns the number of events selected by the filter.
func (eq *EventQueue) Query(filter EventQueryFilter) int {
	eq.mu.Lock()
	defer eq.mu.Unlock()

	n := 0
	if filter&EventQueryInflight != 0 {
		n += len(eq.inflight)
	}
	if filter&EventQueryCompleted != 0 {
		n += len(eq.completed)
	}
	return n
}

// Destroy releases the queue. A queue with events in flight is not
// destroyed unless force is set, in which case the events are canceled
// and waited for.
func (eq *EventQueue) Destroy(force bool) error {
	eq.mu.Lock()
	if eq.destroyed {
		eq.mu.Unlock()
		return errors.Wrap(daos.NoHandle, "event queue is destroyed")
	}
	if len(eq.inflight) > 0 {
		if !force {
			n := len(eq.inflight)
			eq.mu.Unlock()
			return errors.Wrapf(daos.Busy, "%d events in flight", n)
		}
		for _, ev := range eq.inflight {
			ev.cancel()
		}
	}
	eq.destroyed = true
	eq.mu.Unlock()

	eq.wg.Wait()

	eq.mu.Lock()
	eq.completed = nil
	eq.mu.Unlock()
	return nil
}
