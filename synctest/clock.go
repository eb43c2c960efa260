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

// Package synctest holds test-only doubles shared across the module's
// package tests (SPEC_FULL.md §4.6): a fake clock satisfying
// reconnect.Clock for deterministic backoff assertions, and a
// scriptable fake WebSocket server for Connection-level integration
// tests, grounded on the connection-lifecycle shape of
// other_examples/f3b6f86f_getfinn-finn__internal-websocket-client.go.go.
// Its only import from this module is the wire package, so tests of
// any package other than wire's in-package tests may import it without
// a cycle.
package synctest

import (
	"sync"
	"time"
)

// Clock is a manually-advanced stand-in for reconnect.Clock. Now
// returns the stored time at once, and that time moves only when a
// test calls Advance, giving reconnect-delay assertions a
// deterministic happens-before relationship instead of racing a real
// timer.
type Clock struct {
	mu      sync.Mutex
	now     time.Time
	waiters []waiter
}

type waiter struct {
	deadline time.Time
	ch       chan time.Time
}

// NewClock starts the fake clock at t (use any fixed epoch; tests
// rarely care about the absolute value, only about deltas).
func NewClock(t time.Time) *Clock {
	return &Clock{now: t}
}

// Now implements reconnect.Clock.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d, firing any waiter whose
// deadline has now elapsed.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	now := c.now
	remaining := c.waiters[:0]
	fire := make([]waiter, 0, len(c.waiters))
	for _, w := range c.waiters {
		if !now.Before(w.deadline) {
			fire = append(fire, w)
		} else {
			remaining = append(remaining, w)
		}
	}
	c.waiters = remaining
	c.mu.Unlock()

	for _, w := range fire {
		w.ch <- now
	}
}

// After returns a channel that fires once the clock has been advanced
// to or past now+d (at once if d <= 0), mirroring time.After's shape for code written against
// it; reconnect itself only calls Now, this exists for synctest's own
// fake-server pump loops that want to wait "up to d" without a real
// sleep.
func (c *Clock) After(d time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	c.mu.Lock()
	deadline := c.now.Add(d)
	if !deadline.After(c.now) {
		c.mu.Unlock()
		ch <- c.now
		return ch
	}
	c.waiters = append(c.waiters, waiter{deadline: deadline, ch: ch})
	c.mu.Unlock()
	return ch
}
