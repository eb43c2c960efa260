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

package session

import (
	liberr "github.com/realm-sync/core/errors"
	liblog "github.com/realm-sync/core/logging"
	"github.com/realm-sync/core/wire"
)

// clientResetState tracks one in-progress orchestration (spec §4.3
// "Client reset orchestration"). The fresh session/database referenced
// here are created and driven by the syncengine package, which knows
// how to open a sibling database and wire a throwaway Session to it;
// this package only tracks the state machine and the hooks the fresh
// session's completion must call back into.
type clientResetState struct {
	noRecovery bool
	freshDone  bool
}

// ResetObserver receives the before/after notifications spec §4.3 step
// 4 describes. Both calls happen on the event loop.
type ResetObserver interface {
	BeforeReset(localVersion uint64)
	AfterReset(localVersion uint64)
}

// FreshSessionFactory opens a sibling database at a throwaway path and
// returns a Session configured for Manual reset, not bound to any
// scheduler (spec §4.3 step 1). Supplied by syncengine, which owns
// filesystem layout decisions this package has no business making.
type FreshSessionFactory func(sourcePath string) (*Session, liberr.Error)

// beginClientReset starts the orchestration of spec §4.3's five steps.
// Steps 1-3 (opening the fresh database, importing subscriptions,
// waiting for completion, closing the fresh session) are driven by the
// caller through DriveClientReset once it has a FreshSessionFactory;
// this method only records that a reset is owed and, if recovery is
// disallowed, fails fast per step 5.
func (s *Session) beginClientReset(noRecovery bool) {
	if noRecovery && s.cfg.ClientResyncMode == ResyncManual {
		s.log().Error("auto_client_reset_failure: recovery disallowed by client_resync_mode", liblog.Fields{"path": s.cfg.Path})
		s.failAllWaiters(liberr.NewErrorTrace(int(ErrorClientResetNotAllowed), getMessage(ErrorClientResetNotAllowed), "", 0, nil))
		s.app = AppInactive
		s.deactivateTransport()
		return
	}
	s.clientReset = &clientResetState{noRecovery: noRecovery}
	s.app = AppInactive
	s.deactivateTransport()
	if s.onClientReset != nil {
		s.onClientReset(noRecovery)
	}
}

// DriveClientReset performs spec §4.3 steps 1-4 given a factory for the
// fresh session and an observer for the before/after notifications. It
// blocks the caller's goroutine only insofar as fresh.WaitForDownloadCompletion's
// callback is synchronous in tests using synctest; in production this
// is itself invoked from a continuation posted to the event loop (spec
// §9 "coroutine-style wait chains ... posting continuations").
func (s *Session) DriveClientReset(freshSourcePath string, factory FreshSessionFactory, obs ResetObserver) liberr.Error {
	if s.clientReset == nil {
		return liberr.NewErrorTrace(int(ErrorInvalidTransition), getMessage(ErrorInvalidTransition), "", 0, nil)
	}

	beforeVersion := s.hist.LatestLocalVersion()
	if obs != nil {
		obs.BeforeReset(beforeVersion)
	}

	fresh, ferr := factory(freshSourcePath)
	if ferr != nil {
		return ferr
	}

	// step 2: for flexible sync, import the active subscription set
	// into the fresh session and wait for Complete; for partition sync,
	// simply wait for download completion.
	done := make(chan liberr.Error, 1)
	if s.cfg.Mode == wire.SyncModeFlexible {
		if active := s.subs.Active(); active != nil {
			_ = fresh.Query(s.activeQuery)
		}
	}
	fresh.WaitForDownloadCompletion(func(err liberr.Error) { done <- err })
	if err := <-done; err != nil {
		return err
	}

	// step 3: close the fresh session.
	fresh.ForceClose()
	s.clientReset.freshDone = true

	// step 4: reactivate with the fresh copy attached; the merge itself
	// happens in storage, on the next BIND/IDENT this reactivation
	// triggers.
	s.clientReset = nil
	if err := s.Revive(true); err != nil {
		return err
	}

	if obs != nil {
		obs.AfterReset(s.hist.LatestLocalVersion())
	}
	return nil
}
