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
	"github.com/realm-sync/core/progress"
	"github.com/realm-sync/core/wire"
)

// This file implements connection.Dispatcher for *Session. It is kept
// separate from session.go's state-machine/outbound half so the
// inbound-message switch reads as one unit (spec §4.3 "Message
// sequence within Active").

// OnIdent stores the server-assigned ClientFileIdent on first bind and
// proceeds to send IDENT (spec §4.3 step 2-3).
func (s *Session) OnIdent(m wire.IdentResponse) {
	if err := s.hist.SetClientFileIdent(m.ClientFileIdent, m.Salt); err != nil {
		s.log().Error("failed to persist ClientFileIdent", liblog.Fields{"err": err.Error()})
		return
	}
	s.needIdent = false
	s.sendIdent()
}

// OnDownload integrates one DOWNLOAD message (spec §4.3 "Download
// integration", steps 1-4).
func (s *Session) OnDownload(m wire.Download) {
	prog := s.hist.Progress()

	next := progress.Progress{
		DownloadServerVersion:              m.DownloadCursor,
		DownloadLastIntegratedClientVersion: prog.DownloadLastIntegratedClientVersion,
		UploadClientVersion:                 prog.UploadClientVersion,
		UploadLastIntegratedServerVersion:   m.UploadCursor,
		LatestServerVersion:                 m.LatestServerVersion,
	}
	if len(m.Changesets) > 0 {
		next.DownloadLastIntegratedClientVersion = m.Changesets[len(m.Changesets)-1].LastIntegratedLocalVersion
	}

	advanced, verr := prog.AdvanceFrom(next)
	if verr != nil {
		s.log().Error("bad_progress: fatal", liblog.Fields{"err": verr.Error()})
		s.failAllWaiters(verr)
		return
	}

	ident, _, _ := s.hist.ClientFileIdent()
	flexBootstrap := s.cfg.Mode == wire.SyncModeFlexible && m.QueryVersion > 0
	prevRemote := prog.DownloadServerVersion
	for _, cs := range m.Changesets {
		if cerr := progress.ValidateChangeset(prevRemote, ident, cs, m.UploadCursor, flexBootstrap); cerr != nil {
			s.log().Error("bad changeset: fatal", liblog.Fields{"err": cerr.Error()})
			s.failAllWaiters(cerr)
			return
		}
		prevRemote = cs.RemoteVersion
	}

	isBootstrap := s.cfg.Mode == wire.SyncModeFlexible && m.QueryVersion > 0 &&
		(m.Batch == wire.BatchStateMoreToCome || m.Batch == wire.BatchStateLastInBatch)

	if isBootstrap {
		s.integrateBootstrap(m, advanced)
		return
	}

	s.integrateSteadyState(m, advanced)
}

func (s *Session) integrateBootstrap(m wire.Download, prog progress.Progress) {
	if err := s.boot.Append(m.QueryVersion, m.Changesets, prog); err != nil {
		s.log().Error("failed to buffer bootstrap batch", liblog.Fields{"err": err.Error()})
		return
	}
	if err := s.subs.OnBootstrapMessageStored(m.QueryVersion); err != nil {
		s.log().Warning("bootstrap state transition rejected", liblog.Fields{"err": err.Error()})
	}

	if m.Batch != wire.BatchStateLastInBatch {
		return
	}

	changesets, finalProg, derr := s.boot.Drain(m.QueryVersion)
	if derr != nil {
		s.log().Error("failed to drain bootstrap store", liblog.Fields{"err": derr.Error()})
		return
	}
	if _, err := s.hist.IntegrateDownloaded(changesets, finalProg); err != nil {
		s.log().Error("failed to apply drained bootstrap", liblog.Fields{"err": err.Error()})
		return
	}
	if err := s.hist.SaveProgress(finalProg); err != nil {
		s.log().Error("failed to persist progress after bootstrap", liblog.Fields{"err": err.Error()})
	}
	if err := s.subs.OnBootstrapDrained(m.QueryVersion); err != nil {
		s.log().Warning("bootstrap drained transition rejected", liblog.Fields{"err": err.Error()})
	}

	s.afterDownloadCommon(m, finalProg)
}

func (s *Session) integrateSteadyState(m wire.Download, prog progress.Progress) {
	if len(m.Changesets) > 0 {
		if _, err := s.hist.IntegrateDownloaded(m.Changesets, prog); err != nil {
			s.log().Error("failed to apply download batch", liblog.Fields{"err": err.Error()})
			return
		}
	}
	if err := s.hist.SaveProgress(prog); err != nil {
		s.log().Error("failed to persist progress", liblog.Fields{"err": err.Error()})
	}

	s.afterDownloadCommon(m, prog)
}

// afterDownloadCommon runs the bookkeeping common to both the
// steady-state and drained-bootstrap integration paths: releasing
// compensating writes now covered, advancing uploads, and retrying a
// pending upload batch.
func (s *Session) afterDownloadCommon(m wire.Download, prog progress.Progress) {
	for _, cw := range s.comp.Release(prog.DownloadServerVersion) {
		s.log().Warning("compensating write delivered", liblog.Fields{"server_version": cw.ServerVersion, "message": cw.Message})
	}
	s.tryUpload()
}

// OnMarkAck resolves download-completion waiters for the matching
// request identifier (spec GLOSSARY "MARK").
func (s *Session) OnMarkAck(m wire.MarkAck) {
	if !s.markInFlight || m.RequestID != s.markRequestID {
		return
	}
	s.markInFlight = false
	waiters := s.downloadWaiters
	s.downloadWaiters = nil
	for _, fn := range waiters {
		fn(nil)
	}
}

// OnUnbound completes the transport Deactivating -> Deactivated
// transition (spec §4.3 "transport level").
func (s *Session) OnUnbound(wire.Unbound) {
	s.transport = TransportDeactivated
	s.failAllWaiters(liberr.NewErrorTrace(int(ErrorNotActive), getMessage(ErrorNotActive), "", 0, nil))
}

// OnSessionError handles a session-level ServerError: compensating
// writes are deferred, ClientReset actions start the reset orchestration,
// everything else surfaces to the application (spec §4.3 "Client reset
// orchestration", §7).
func (s *Session) OnSessionError(e wire.ServerError) {
	if isCompensatingWrite(e.RawErrorCode) {
		s.comp.Defer(CompensatingWrite{ServerVersion: e.CompensatingWriteServerVersion, Message: e.Message})
		return
	}

	switch e.Action {
	case wire.ActionClientReset, wire.ActionClientResetNoRecovery:
		s.beginClientReset(e.Action == wire.ActionClientResetNoRecovery)
	case wire.ActionDeleteRealm:
		s.failAllWaiters(liberr.NewErrorTrace(int(ErrorNotActive), e.Message, "", 0, nil))
		s.app = AppInactive
		s.deactivateTransport()
	default:
		s.log().Error("session-level server error", liblog.Fields{"code": e.RawErrorCode, "message": e.Message})
		if e.TryAgain {
			return
		}
		s.failAllWaiters(liberr.NewErrorTrace(int(ErrorNotActive), e.Message, "", 0, nil))
	}
}

// OnQueryError moves the offending subscription version to Error
// without affecting any other active query (spec §6.1 QUERY_ERROR).
func (s *Session) OnQueryError(m wire.QueryError) {
	if err := s.subs.OnQueryError(m.QueryVersion, m.Message); err != nil {
		s.log().Warning("query error for unknown subscription version", liblog.Fields{"version": m.QueryVersion})
	}
}

// OnTestCommandReply exists only to exercise the wire round trip in
// integration tests; production code never registers a handler for it.
func (s *Session) OnTestCommandReply(wire.TestCommandReply) {}
