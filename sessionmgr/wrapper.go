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

// Package sessionmgr implements the Session Manager & User Registry
// (spec §4.5, C5): mapping (user_identity, database_path) to a live
// SessionWrapper, and draining the durable file-action queue a
// terminated session leaves behind. SessionWrapper itself models spec
// §3's "shared-ownership graphs with weak back-references" note: the
// application and the event loop share one wrapper across its
// Uninitiated -> Unactualized -> Actualized -> Finalized lifecycle,
// cross-referenced by stable uuid identifiers rather than pointers
// (spec §9 arena-style identifier maps), grounded on
// coordinator.Registry's libctx.Config-backed per-path cache applied
// to a composite (user, path) key instead of a bare path.
package sessionmgr

import (
	"sync"

	"github.com/hashicorp/go-uuid"

	"github.com/realm-sync/core/connection"
	liberr "github.com/realm-sync/core/errors"
	"github.com/realm-sync/core/loop"
	liblog "github.com/realm-sync/core/logging"
	"github.com/realm-sync/core/session"
)

// WrapperState is SessionWrapper's own lifecycle (spec §3), distinct
// from both session.TransportState and session.AppState: it tracks
// whether the underlying Session has been constructed and bound yet,
// and whether this handle has been torn down for good.
type WrapperState uint8

const (
	WrapperUninitiated WrapperState = iota
	WrapperUnactualized
	WrapperActualized
	WrapperFinalized
)

func (s WrapperState) String() string {
	switch s {
	case WrapperUninitiated:
		return "Uninitiated"
	case WrapperUnactualized:
		return "Unactualized"
	case WrapperActualized:
		return "Actualized"
	case WrapperFinalized:
		return "Finalized"
	}
	return "Unknown"
}

// Identity is the Session Manager's lookup key: one live session per
// (user, absolute database path) pair (spec §4.5).
type Identity struct {
	UserIdentity string
	Path         string
}

// FinalizeFunc runs exactly once, on the event loop, when a
// SessionWrapper is torn down for good (spec §3 "Finalization is
// guaranteed to run on the event loop").
type FinalizeFunc func(id Identity, conn *connection.Connection)

// SessionWrapper is the handle shared by the application (which holds
// it as a reference-counted resource) and the event loop (which owns
// the Session/Connection it wraps). No method here is safe to call
// concurrently with Actualize except AddRef/Release, which is the
// whole point: the application only ever increments/decrements a
// refcount and posts a release continuation, it never reaches into
// Session state directly (spec §5 tier 1/tier 3 split).
type SessionWrapper struct {
	ID       string
	Identity Identity
	log      liblog.FuncLog

	mu       sync.Mutex
	state    WrapperState
	refs     int32
	sess     *session.Session
	conn     *connection.Connection
	lp       loop.Scheduler
	onFinal  FinalizeFunc
	finalize bool // a Release observed refs==0 and asked the loop to finalize
}

// newWrapper allocates an Uninitiated wrapper for identity, holding a
// single implicit reference on behalf of the caller (mirroring
// get_session returning an already-referenced handle).
func newWrapper(identity Identity, log liblog.FuncLog, onFinal FinalizeFunc) *SessionWrapper {
	id, err := uuid.GenerateUUID()
	if err != nil {
		id = identity.UserIdentity + ":" + identity.Path
	}
	if log == nil {
		log = func() liblog.Logger { return liblog.NewNop() }
	}
	return &SessionWrapper{
		ID:       id,
		Identity: identity,
		log:      log,
		state:    WrapperUninitiated,
		refs:     1,
		onFinal:  onFinal,
	}
}

// Actualize attaches the concrete Session/Connection pair and the
// event loop scheduler that owns them, moving Uninitiated/Unactualized
// -> Actualized. Must be called from code already running on lp (or
// before lp has started accepting external calls), matching every
// other constructor in this module that hands out connection/session
// state only to the loop goroutine.
func (w *SessionWrapper) Actualize(sess *session.Session, conn *connection.Connection, lp loop.Scheduler) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state == WrapperFinalized {
		return
	}
	w.sess = sess
	w.conn = conn
	w.lp = lp
	w.state = WrapperActualized
}

// State reports the wrapper's own lifecycle position.
func (w *SessionWrapper) State() WrapperState {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Session returns the underlying Session, or ErrorNotActualized before
// Actualize has run or after Finalize.
func (w *SessionWrapper) Session() (*session.Session, liberr.Error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state != WrapperActualized {
		return nil, liberr.NewErrorTrace(int(ErrorNotActualized), getMessage(ErrorNotActualized), "", 0, nil)
	}
	return w.sess, nil
}

// Connection returns the Connection this wrapper's Session is bound
// to, once actualized.
func (w *SessionWrapper) Connection() *connection.Connection {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.conn
}

// AddRef records one more application-side holder of this handle. Safe
// from any thread (spec §5 "Cancellation ... safe to call from any
// thread" extended here to ordinary refcounting).
func (w *SessionWrapper) AddRef() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.refs++
}

// Release drops one application-side reference. When the count reaches
// zero, a finalize continuation is posted to the event loop; the
// wrapper is not finalized synchronously with Release, so the caller
// never blocks on teardown (spec §3 "Finalization is guaranteed to run
// on the event loop and always after the application drops its last
// reference").
func (w *SessionWrapper) Release() {
	w.mu.Lock()
	w.refs--
	remaining := w.refs
	lp := w.lp
	already := w.finalize
	if remaining <= 0 && !already {
		w.finalize = true
	}
	w.mu.Unlock()

	if remaining > 0 || already {
		return
	}
	if lp != nil {
		lp.Post(w.finalizeLocked)
	} else {
		// never actualized: nothing running on a loop to post to, so
		// finalize can happen inline.
		w.finalizeLocked()
	}
}

// finalizeLocked performs the actual teardown. It always runs on the
// event loop once a Connection/Session pair exists, per Actualize's
// contract.
func (w *SessionWrapper) finalizeLocked() {
	w.mu.Lock()
	if w.state == WrapperFinalized {
		w.mu.Unlock()
		return
	}
	if w.refs > 0 {
		// a new AddRef raced the posted finalize; back off, the next
		// Release to reach zero will post again.
		w.finalize = false
		w.mu.Unlock()
		return
	}
	sess := w.sess
	conn := w.conn
	w.state = WrapperFinalized
	w.mu.Unlock()

	if sess != nil {
		sess.ForceClose()
	}
	if w.onFinal != nil {
		w.onFinal(w.Identity, conn)
	}
}
