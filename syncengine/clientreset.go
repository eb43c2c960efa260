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

package syncengine

import (
	"sync/atomic"

	liberr "github.com/realm-sync/core/errors"
	liblog "github.com/realm-sync/core/logging"
	"github.com/realm-sync/core/session"
	"github.com/realm-sync/core/storage"
)

// FreshSessionFactory builds the session.FreshSessionFactory a
// SessionWrapper's Session needs to drive DriveClientReset (spec §4.3
// step 1: "opens a sibling database at a throwaway path and returns a
// Session configured for Manual reset, not bound to any scheduler").
// req supplies the endpoint/mode/partition the fresh session reuses
// from its originating session.
func (e *Engine) FreshSessionFactory(req SessionRequest) session.FreshSessionFactory {
	return func(sourcePath string) (*session.Session, liberr.Error) {
		freshPath := sourcePath + ".reset"
		store, err := storage.Open(freshPath, e.log)
		if err != nil {
			return nil, liberr.NewErrorTrace(int(ErrorClientResetOpenFailed), getMessage(ErrorClientResetOpenFailed), "", 0, err)
		}

		ref := atomic.AddUint64(&e.nextRef, 1)
		sessCfg := session.Config{
			Path:             freshPath,
			Partition:        req.Partition,
			Mode:             req.Mode,
			ProtocolVersion:  req.ProtocolVersion,
			StopPolicy:       session.StopImmediate,
			ClientResyncMode: session.ResyncManual,
		}
		fresh := session.New(ref, sessCfg, store, store, e.log)

		conn := e.connectionFor(req.Endpoint, req.URL, req.Mode)
		conn.BindSession(ref, fresh, fresh)
		if rerr := fresh.Revive(true); rerr != nil {
			return nil, rerr
		}
		return fresh, nil
	}
}

// ResetObserver implementations below satisfy session.ResetObserver for
// the Engine's own wiring of DriveClientReset (spec §4.3 step 4,
// "before/after notifications").

// engineResetObserver logs the before/after local-version snapshots a
// host application would otherwise want surfaced through its own
// client-reset callback; Engine wires one in by default since nothing
// in this package exposes a host-level callback registry yet.
type engineResetObserver struct {
	log liblog.FuncLog
}

func (o *engineResetObserver) BeforeReset(localVersion uint64) {
	o.logger().Warning("client reset starting", liblog.Fields{"local_version": localVersion})
}

func (o *engineResetObserver) AfterReset(localVersion uint64) {
	o.logger().Warning("client reset complete", liblog.Fields{"local_version": localVersion})
}

func (o *engineResetObserver) logger() liblog.Logger {
	if o.log == nil {
		return liblog.NewNop()
	}
	return o.log()
}

// driveClientReset runs DriveClientReset to completion off the
// originating Session's Connection loop: steps 1-3 dial a fresh
// connection and block on its own download-completion round trip, so
// running this on the caller's loop goroutine would stall every other
// session multiplexed onto the same Connection (spec §5 tier 1 "never
// block the loop"). Call this from a new goroutine, never posted.
//
// TODO: FreshSessionFactory's Revive and DriveClientReset's
// WaitForDownloadCompletion/Revive calls mutate Session state from this
// goroutine directly rather than through Post on the owning
// Connection's loop; harden by giving Session a way to run a callback
// on its own loop so this goroutine never touches Session fields
// concurrently with that Connection's dispatch.
func (e *Engine) driveClientReset(req SessionRequest, sess *session.Session, noRecovery bool) {
	obs := &engineResetObserver{log: e.log}
	if err := sess.DriveClientReset(req.DBPath, e.FreshSessionFactory(req), obs); err != nil {
		e.log().Error("client reset failed", liblog.Fields{"path": req.DBPath, "err": err.Error()})
	}
}
