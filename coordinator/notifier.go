/*
 * MIT License
 *
 * Copyright (c) 2020 Nicolas JUHEL
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy
 * of this software and associated documentation files (the "Software"), to deal
 * in the Software without restriction, including without limitation the rights
 * to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is
 * furnished to do so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in all
 * copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 * AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 * LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 * OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 * SOFTWARE.
 *
 *
 */

package coordinator

import (
	"context"
	"sync"

	"github.com/realm-sync/core/loop"
)

// notifierState is a registered notifier's position relative to the
// Coordinator's current version (spec §4.4 "A notifier may be in
// `new` state (registered but not yet run) or running").
type notifierState uint8

const (
	notifierNew notifierState = iota
	notifierRunning
)

// ChangeHandler receives the change-set boundary [from, to) a
// notifier pass advanced through. It runs on the Scheduler supplied to
// RegisterNotifier (spec §5 tier 3 "the scheduler provides an invoke
// primitive that posts a closure back to its originating thread").
type ChangeHandler func(from, to uint64)

type registeredNotifier struct {
	id      uint64
	state   notifierState
	sched   loop.Scheduler
	handler ChangeHandler
	from    uint64 // source version this notifier has been advanced through
}

// Notifier is the Coordinator's background worker: it advances a
// dedicated read transaction forward and hands each registered
// collection notifier its change-set, pinned at a matching version
// (spec §4.4 "Notifier worker").
type Notifier struct {
	c *Coordinator

	mu        sync.Mutex
	entries   map[uint64]*registeredNotifier
	nextID    uint64
	skipUntil uint64 // "skip version" marker, spec §4.4

	wake   chan struct{}
	cancel context.CancelFunc
	done   chan struct{}
}

func newNotifier(c *Coordinator) *Notifier {
	return &Notifier{
		c:       c,
		entries: make(map[uint64]*registeredNotifier),
		wake:    make(chan struct{}, 1),
	}
}

// Start launches the background worker goroutine. Calling Start twice
// without an intervening Stop is a no-op.
func (n *Notifier) Start(ctx context.Context) {
	n.mu.Lock()
	if n.cancel != nil {
		n.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	n.cancel = cancel
	n.done = make(chan struct{})
	n.mu.Unlock()

	go n.run(ctx)
}

// Stop halts the worker and waits for it to exit.
func (n *Notifier) Stop() {
	n.mu.Lock()
	cancel := n.cancel
	done := n.done
	n.cancel = nil
	n.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (n *Notifier) run(ctx context.Context) {
	defer close(n.done)
	for {
		select {
		case <-ctx.Done():
			return
		case <-n.wake:
			n.advance()
		}
	}
}

// Wake triggers one notifier pass, either from a local commit
// (Coordinator calls this itself) or from the external commit helper
// relaying a cross-process write (spec §4.4 "External commit
// helper").
func (n *Notifier) Wake() {
	select {
	case n.wake <- struct{}{}:
	default:
	}
}

// RegisterNotifier adds a collection notifier in the `new` state,
// sourced at the Coordinator's version at registration time. It
// returns an id Unregister can later remove.
func (n *Notifier) RegisterNotifier(sched loop.Scheduler, handler ChangeHandler) uint64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.nextID++
	n.entries[n.nextID] = &registeredNotifier{
		id:      n.nextID,
		state:   notifierNew,
		sched:   sched,
		handler: handler,
		from:    n.c.Version(),
	}
	return n.nextID
}

// Unregister removes a notifier; its handler will not be invoked
// again.
func (n *Notifier) Unregister(id uint64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.entries, id)
}

// SuppressNext instructs the next notifier pass to ignore the
// change-set prefix up to uptoVersion (spec §4.4 "used to suppress the
// notification for the thread's own write").
func (n *Notifier) SuppressNext(uptoVersion uint64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if uptoVersion > n.skipUntil {
		n.skipUntil = uptoVersion
	}
}

// advance runs one pass: every registered notifier is advanced from
// its last-seen version to the Coordinator's current version. A `new`
// notifier is advanced in one incremental step from its own source
// version so it observes exactly the changes from registration to
// now, then becomes `running` (spec §4.4).
func (n *Notifier) advance() {
	current := n.c.Version()

	n.mu.Lock()
	skip := n.skipUntil
	n.skipUntil = 0
	pending := make([]*registeredNotifier, 0, len(n.entries))
	for _, e := range n.entries {
		if e.from < current {
			pending = append(pending, e)
		}
	}
	n.mu.Unlock()

	for _, e := range pending {
		from := e.from
		if from < skip {
			from = skip
		}
		if from >= current {
			n.mu.Lock()
			e.from = current
			e.state = notifierRunning
			n.mu.Unlock()
			continue
		}

		handler, sched, to := e.handler, e.sched, current
		deliver := func() { handler(from, to) }
		if sched != nil {
			sched.Post(deliver)
		} else {
			deliver()
		}

		n.mu.Lock()
		e.from = current
		e.state = notifierRunning
		n.mu.Unlock()
	}
}
