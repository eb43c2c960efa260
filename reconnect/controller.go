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

package reconnect

import (
	"context"
	"math/rand"
	"sync"
	"time"

	libctx "github.com/realm-sync/core/context"
	liberr "github.com/realm-sync/core/errors"
	liblog "github.com/realm-sync/core/logging"
	"github.com/realm-sync/core/wire"
)

const (
	minDelay     = 1 * time.Second
	maxBackoff   = 5 * time.Minute
	fatalCoolOff = 1 * time.Hour
	jitterFrac   = 0.25
)

// Mode selects between production delays and the zero/infinite test
// modes spec §6.3 `reconnect_mode` names.
type Mode uint8

const (
	ModeNormal Mode = iota
	ModeTestingZero
	ModeTestingInfinite
)

// Clock abstracts time.Now so tests can drive the controller without
// real sleeps; production code uses realClock.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Endpoint is the equality key reconnect state is scoped to (spec §3
// ServerEndpoint).
type Endpoint struct {
	Protocol wire.SyncMode
	Host     string
	Port     uint16
}

// Info is the per-endpoint persisted reconnect state (spec §3
// ReconnectInfo).
type Info struct {
	LastReason      Reason
	PreviousDelay   time.Duration
	ScheduledAt     time.Time
	Resumption      *wire.ResumptionDelayInfo
	ResumptionStart time.Time
	ScheduledReset  bool
}

// Controller computes, per endpoint, the next earliest moment a
// connection attempt is permitted (spec §4.1, C1).
type Controller struct {
	mode  Mode
	clock Clock
	log   liblog.FuncLog

	mu   sync.Mutex
	reg  libctx.Config[Endpoint]
}

// New builds a Controller. log may be nil, in which case a no-op
// logger is used.
func New(mode Mode, log liblog.FuncLog) *Controller {
	if log == nil {
		log = func() liblog.Logger { return liblog.NewNop() }
	}
	return &Controller{
		mode:  mode,
		clock: realClock{},
		log:   log,
		reg:   libctx.New[Endpoint](context.Background()),
	}
}

// WithClock overrides the clock, for deterministic tests (grounded on
// the synctest fake clock, SPEC_FULL.md §4.6).
func (c *Controller) WithClock(clk Clock) *Controller {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clock = clk
	return c
}

func (c *Controller) infoFor(ep Endpoint) *Info {
	if v, ok := c.reg.Load(ep); ok {
		return v.(*Info)
	}
	i := &Info{}
	c.reg.Store(ep, i)
	return i
}

// OnTerminated records a termination and computes the delay until the
// next connection attempt is permitted (spec §4.1).
func (c *Controller) OnTerminated(ep Endpoint, reason Reason, resumption *wire.ResumptionDelayInfo) time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.Now()
	info := c.infoFor(ep)

	base := c.baseDelay(info, reason, resumption, now)
	delay := c.jitter(base)

	info.LastReason = reason
	info.PreviousDelay = base
	info.ScheduledAt = now.Add(delay)
	if reason == ReasonServerSaidTryAgainLater {
		info.Resumption = resumption
		info.ResumptionStart = now
	}

	c.log().Debug("reconnect delay computed", liblog.Fields{
		"endpoint": ep.Host, "reason": reason, "delay_ms": delay.Milliseconds(),
	})

	return delay
}

func (c *Controller) baseDelay(info *Info, reason Reason, resumption *wire.ResumptionDelayInfo, now time.Time) time.Duration {
	switch c.mode {
	case ModeTestingZero:
		return 0
	case ModeTestingInfinite:
		return time.Duration(1<<62 - 1)
	}

	switch reason {
	case ReasonClosedVoluntarily, ReasonReadOrWriteError, ReasonPongTimeout:
		if info.LastReason == reason && info.PreviousDelay > 0 {
			return info.PreviousDelay
		}
		return minDelay

	case ReasonConnectOperationFailed, ReasonHTTPResponseNonFatal, ReasonSyncConnectTimeout:
		d := info.PreviousDelay * 2
		if d < minDelay {
			d = minDelay
		}
		if d > maxBackoff {
			d = maxBackoff
		}
		return d

	case ReasonServerSaidTryAgainLater:
		if resumption == nil {
			return minDelay
		}
		mult := resumption.Multiplier
		if mult <= 0 {
			mult = 1
		}
		cur := time.Duration(resumption.Initial) * time.Millisecond
		if info.Resumption != nil && info.LastReason == ReasonServerSaidTryAgainLater {
			cur = time.Duration(float64(info.PreviousDelay) * mult)
		}
		ceiling := time.Duration(resumption.Cap) * time.Millisecond
		if ceiling > 0 && cur > ceiling {
			cur = ceiling
		}
		return cur

	case ReasonSSLCertificateRejected, ReasonSSLProtocolViolation, ReasonWebSocketProtocolViolation,
		ReasonHTTPResponseFatal, ReasonBadHeaders, ReasonSyncProtocolViolation,
		ReasonServerSaidDoNotReconnect, ReasonMissingProtocolFeature:
		return fatalCoolOff

	default:
		return minDelay
	}
}

// jitter subtracts a uniform value in [0, 25%] (spec §4.1 anti-thundering-herd).
func (c *Controller) jitter(d time.Duration) time.Duration {
	if d <= 0 {
		return d
	}
	shed := time.Duration(rand.Float64() * jitterFrac * float64(d))
	out := d - shed
	if out < 0 {
		out = 0
	}
	return out
}

// ReadyAt returns when the endpoint is next eligible to connect. The
// zero Info (never terminated) is always ready.
func (c *Controller) ReadyAt(ep Endpoint) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.infoFor(ep).ScheduledAt
}

// CancelReconnectDelay implements cancel_reconnect_delay() (spec §4.1).
// If the connection for ep is currently established, the delay is not
// reset immediately: ScheduledReset is set and the caller is expected
// to schedule an urgent PING; only OnPongForCancelledDelay clears it.
// If no connection is established, the stored delay is cleared at once.
func (c *Controller) CancelReconnectDelay(ep Endpoint, established bool) liberr.Error {
	c.mu.Lock()
	defer c.mu.Unlock()

	info := c.infoFor(ep)

	if established {
		info.ScheduledReset = true
		return nil
	}

	if info.LastReason == ReasonNone {
		return liberr.NewErrorTrace(int(ErrorNotEstablished), getMessage(ErrorNotEstablished), "", 0, nil)
	}

	info.PreviousDelay = 0
	info.ScheduledAt = time.Time{}
	info.LastReason = ReasonNone
	return nil
}

// OnPongForCancelledDelay clears ScheduledReset once the PONG matching
// the urgent PING arrives (spec §4.1, invariant 4 of spec §8). A
// disconnect that preceded the PONG instead goes through OnTerminated,
// which computes the next delay from the drop moment, leaving
// ScheduledReset's effect moot.
func (c *Controller) OnPongForCancelledDelay(ep Endpoint) {
	c.mu.Lock()
	defer c.mu.Unlock()
	info := c.infoFor(ep)
	if info.ScheduledReset {
		info.ScheduledReset = false
		info.PreviousDelay = 0
		info.LastReason = ReasonNone
	}
}

// Snapshot returns a copy of the current Info for an endpoint, for
// observability and tests.
func (c *Controller) Snapshot(ep Endpoint) Info {
	c.mu.Lock()
	defer c.mu.Unlock()
	return *c.infoFor(ep)
}
