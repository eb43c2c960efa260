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

// Package loop provides the single-threaded, cooperative event loop
// spec §5 requires: all Connection and Session state is read and
// mutated only on this one goroutine, and every external call into
// that machinery is "post this closure to the event loop" (spec §5,
// §9 "continuation posting"). Grounded on the teacher's
// runner/startStop lifecycle shape (context-scoped Start/Stop) and the
// single-writer discipline of its context.Config[T].
package loop

import (
	"context"
	"sync"
)

// Scheduler is the posting primitive every external entry point into
// connection and session goes through. Closures run in FIFO order on
// one goroutine; a closure must never block, since it would stall
// every other posted closure (heartbeats, timers, inbound frames).
type Scheduler interface {
	// Post enqueues fn to run on the loop goroutine. Post blocks the
	// caller while the backlog given to New is full; fn itself must not
	// block the loop.
	Post(fn func())

	// Start launches the loop goroutine. Calling Start twice is a no-op.
	Start(ctx context.Context)

	// Stop cancels the loop, then blocks until the loop goroutine has
	// exited. Closures still queued are not run, and Post keeps
	// enqueueing after Stop.
	Stop()
}

type scheduler struct {
	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	queue   chan func()
	done    chan struct{}
}

// New returns a Scheduler with a buffered backlog of depth. A
// production Connection/Session pair typically uses depth in the low
// hundreds; tests use a small depth to catch accidental unbounded
// fan-out.
func New(depth int) Scheduler {
	if depth <= 0 {
		depth = 64
	}
	return &scheduler{
		queue: make(chan func(), depth),
		done:  make(chan struct{}),
	}
}

func (s *scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.mu.Unlock()

	go s.run(ctx)
}

func (s *scheduler) run(ctx context.Context) {
	defer close(s.done)
	for {
		select {
		case <-ctx.Done():
			return
		case fn := <-s.queue:
			fn()
		}
	}
}

// Post queues fn for the loop goroutine. The queue channel is never
// closed (Stop cancels the run goroutine's context instead), so Post
// can never panic on a send to a closed channel even if called after
// Stop; a closure posted after Stop sits unread, and once the buffer is
// full such a Post blocks.
func (s *scheduler) Post(fn func()) {
	if fn == nil {
		return
	}
	s.queue <- fn
}

func (s *scheduler) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	started := s.started
	s.mu.Unlock()

	if !started {
		return
	}
	cancel()
	<-s.done
}
