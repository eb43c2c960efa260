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
	"sync"

	liberr "github.com/realm-sync/core/errors"
	liblog "github.com/realm-sync/core/logging"
	"github.com/realm-sync/core/subscription"
	"github.com/realm-sync/core/wire"
)

// Config carries the per-session settings a caller chooses at
// construction (spec §6.3).
type Config struct {
	Path             string
	Partition        string // empty for flexible sync
	Mode             wire.SyncMode
	ProtocolVersion  uint32
	StopPolicy       StopPolicy
	ClientResyncMode ClientResyncMode
	UploadCap        uint64 // 0 means no artificial cap beyond LatestLocalVersion
}

// CompletionFunc is a one-shot callback for wait_for_upload_completion /
// wait_for_download_completion style waits (spec §4.3, §5 "completion
// callback").
type CompletionFunc func(liberr.Error)

// Session is the per-database protocol state machine (spec §4.3, C3).
// Every exported method except the Dispatcher/Sender callbacks is meant
// to be invoked by code already running on the owning Connection's
// event-loop goroutine; nothing here takes its own lock against
// concurrent use from other goroutines, by design (spec §5 tier 1).
type Session struct {
	ref uint64 // SessionRef this Connection assigned us
	cfg Config
	log liblog.FuncLog

	hist  History
	boot  BootstrapStore
	subs  *subscription.Registry
	comp  *compensatingQueue

	transport TransportState
	app       AppState
	pausedFrom AppState

	needIdent   bool
	identSent   bool
	activeQuery string

	markInFlight  bool
	markRequestID uint64
	nextRequestID uint64

	uploadWaiters   []CompletionFunc
	downloadWaiters []CompletionFunc

	clientReset *clientResetState

	// onClientReset is how the owning Engine learns a reset is owed: it
	// is invoked with the loop still running, so implementations must
	// hand the actual orchestration (DriveClientReset) off to their own
	// goroutine rather than run it inline (spec §5 tier 1).
	onClientReset func(noRecovery bool)

	// sendPending is a single outbound frame buffered by SendMessage
	// until Connection's FIFO calls back for it (spec §4.2
	// "enlist-to-send").
	mu          sync.Mutex
	sendPending []byte
	hasSend     bool
}

// New constructs a Session bound to ref, the identifier the owning
// Connection will use to route replies back here.
func New(ref uint64, cfg Config, hist History, boot BootstrapStore, log liblog.FuncLog) *Session {
	if log == nil {
		log = func() liblog.Logger { return liblog.NewNop() }
	}
	return &Session{
		ref:       ref,
		cfg:       cfg,
		log:       log,
		hist:      hist,
		boot:      boot,
		subs:      subscription.NewRegistry(),
		comp:      newCompensatingQueue(),
		transport: TransportUnactivated,
		app:       AppInactive,
	}
}

// SessionID implements connection.Sender.
func (s *Session) SessionID() uint64 { return s.ref }

// TransportState reports the Connection-owned state.
func (s *Session) TransportState() TransportState { return s.transport }

// AppState reports the application-owned lifecycle state.
func (s *Session) AppState() AppState { return s.app }

// PendingCompensatingWrites reports how many compensating writes are
// currently deferred, waiting for a covering DOWNLOAD (spec invariant 7
// of spec §8).
func (s *Session) PendingCompensatingWrites() int { return len(s.comp.pending) }

// SetClientResetHook registers fn to run whenever beginClientReset
// records a reset that actually needs driving (i.e. recovery was not
// refused outright). Must be set before the session can receive a
// ClientReset/ClientResetNoRecovery ServerError; syncengine wires this
// at construction time to its own DriveClientReset orchestration.
func (s *Session) SetClientResetHook(fn func(noRecovery bool)) { s.onClientReset = fn }

// Revive moves Inactive/Dying -> Active (or WaitingForAccessToken if
// the caller has no valid token yet), sending BIND on the transport
// (spec §4.3 transition diagram).
func (s *Session) Revive(haveValidToken bool) liberr.Error {
	target := AppActive
	if !haveValidToken {
		target = AppWaitingForAccessToken
	}
	if s.app == AppPaused {
		return liberr.NewErrorTrace(int(ErrorInvalidTransition), getMessage(ErrorInvalidTransition), "", 0, nil)
	}
	if !validAppTransition(s.app, target) && s.app != AppDying {
		return liberr.NewErrorTrace(int(ErrorInvalidTransition), getMessage(ErrorInvalidTransition), "", 0, nil)
	}
	s.app = target
	if target == AppActive {
		s.activateTransport()
	}
	return nil
}

// TokenAcquired moves WaitingForAccessToken -> Active once a fresh
// access token is available.
func (s *Session) TokenAcquired() liberr.Error {
	if s.app != AppWaitingForAccessToken {
		return liberr.NewErrorTrace(int(ErrorInvalidTransition), getMessage(ErrorInvalidTransition), "", 0, nil)
	}
	s.app = AppActive
	s.activateTransport()
	return nil
}

// Close begins an orderly shutdown per StopPolicy (spec §6.3
// stop_policy, §5 "close() arranges an orderly UNBIND").
func (s *Session) Close() {
	switch s.cfg.StopPolicy {
	case StopImmediate:
		s.app = AppInactive
		s.deactivateTransport()
	case StopAfterChangesUploaded:
		if s.uploadComplete() {
			s.app = AppInactive
			s.deactivateTransport()
		} else {
			s.app = AppDying
		}
	case StopLiveIndefinitely:
		// stays Active; caller relies on ForceClose for teardown.
	}
}

// ForceClose tears the transport down synchronously from the caller's
// perspective (spec §5 "force_close() is synchronous").
func (s *Session) ForceClose() {
	s.app = AppInactive
	s.deactivateTransport()
	s.failAllWaiters(liberr.NewErrorTrace(int(ErrorNotActive), getMessage(ErrorNotActive), "", 0, nil))
}

// Pause is sticky: only Resume leaves Paused (spec §5 "pause() is
// sticky").
func (s *Session) Pause() {
	if s.app == AppPaused {
		return
	}
	s.pausedFrom = s.app
	s.app = AppPaused
	s.deactivateTransport()
}

// Resume leaves Paused the same way a Revive would from Inactive; the
// state held before Pause is not restored.
func (s *Session) Resume(haveValidToken bool) liberr.Error {
	if s.app != AppPaused {
		return liberr.NewErrorTrace(int(ErrorInvalidTransition), getMessage(ErrorInvalidTransition), "", 0, nil)
	}
	s.app = AppInactive
	return s.Revive(haveValidToken)
}

func (s *Session) uploadComplete() bool {
	return len(s.uploadWaiters) == 0
}

func (s *Session) activateTransport() {
	if s.transport == TransportActive {
		return
	}
	s.transport = TransportActive
	if _, _, ok := s.hist.ClientFileIdent(); ok {
		s.needIdent = false
	} else {
		s.needIdent = true
	}
	s.identSent = false
	s.enqueueBind()
}

func (s *Session) deactivateTransport() {
	if s.transport == TransportUnactivated || s.transport == TransportDeactivated {
		return
	}
	s.transport = TransportDeactivating
	s.enqueueSend(wire.KindUnbind, wire.Unbind{SessionRef: s.ref})
}

// WaitForUploadCompletion registers fn to run once every local commit
// known at call time has a matching UPLOAD acknowledged by the server
// (spec §8 invariant 6).
func (s *Session) WaitForUploadCompletion(fn CompletionFunc) {
	if s.uploadComplete() {
		fn(nil)
		return
	}
	s.uploadWaiters = append(s.uploadWaiters, fn)
}

// WaitForDownloadCompletion registers fn to run once a MARK round trip
// confirms the server has nothing further buffered (spec GLOSSARY
// "MARK").
func (s *Session) WaitForDownloadCompletion(fn CompletionFunc) {
	s.downloadWaiters = append(s.downloadWaiters, fn)
	s.requestMark()
}

func (s *Session) requestMark() {
	if s.markInFlight || s.transport != TransportActive || !s.identSent {
		return
	}
	s.nextRequestID++
	s.markRequestID = s.nextRequestID
	s.markInFlight = true
	s.enqueueSend(wire.KindMark, wire.Mark{SessionRef: s.ref, RequestID: s.markRequestID})
}

func (s *Session) failAllWaiters(err liberr.Error) {
	for _, fn := range s.uploadWaiters {
		fn(err)
	}
	s.uploadWaiters = nil
	for _, fn := range s.downloadWaiters {
		fn(err)
	}
	s.downloadWaiters = nil
}

// --- outbound framing -----------------------------------------------

func (s *Session) enqueueBind() {
	s.enqueueSend(wire.KindBind, wire.Bind{
		SessionRef:          s.ref,
		Path:                s.cfg.Path,
		NeedClientFileIdent: s.needIdent,
		ProtocolVersion:     s.cfg.ProtocolVersion,
	})
}

func (s *Session) enqueueSend(k wire.Kind, v interface{}) {
	b, err := wire.Encode(k, v)
	if err != nil {
		s.log().Error("failed to encode outbound frame", liblog.Fields{"kind": k.String(), "err": err.Error()})
		return
	}
	s.mu.Lock()
	s.sendPending = b
	s.hasSend = true
	s.mu.Unlock()
}

// SendMessage implements connection.Sender: it is invoked by the
// Connection's enlist-to-send FIFO when a write slot becomes free
// (spec §4.2 "a session may elect to send nothing").
func (s *Session) SendMessage() ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.hasSend {
		return nil, false
	}
	b := s.sendPending
	s.sendPending = nil
	s.hasSend = false
	return b, true
}

func (s *Session) sendIdent() {
	prog := s.hist.Progress()
	ident, salt, _ := s.hist.ClientFileIdent()
	req := wire.IdentRequest{
		ClientFileIdent:     ident,
		Salt:                salt,
		DownloadCursor:      prog.DownloadServerVersion,
		UploadCursor:        prog.UploadClientVersion,
		LatestServerVersion: prog.LatestServerVersion,
	}
	if active := s.subs.Active(); active != nil && s.cfg.Mode == wire.SyncModeFlexible {
		req.FlexibleQuery = s.activeQuery
		req.FlexibleQueryVersion = active.Version
	}
	s.identSent = true
	s.enqueueSend(wire.KindIdentRequest, req)
	s.tryUpload()
	s.requestMark()
}

// tryUpload emits one UPLOAD batch of changesets strictly after the
// persisted upload cursor, capped per spec §4.3 "upload selection".
func (s *Session) tryUpload() {
	if !s.identSent {
		return
	}
	prog := s.hist.Progress()
	capVersion := s.hist.LatestLocalVersion()
	if s.cfg.UploadCap > 0 && s.cfg.UploadCap < capVersion {
		capVersion = s.cfg.UploadCap
	}
	if p := s.subs.Active(); p != nil && p.State() != subscription.StateComplete {
		// flexible sync: never upload past the snapshot of a pending
		// subscription change, to preserve QUERY/UPLOAD ordering.
		if p.Version < capVersion {
			capVersion = p.Version
		}
	}
	if capVersion <= prog.UploadClientVersion {
		return
	}
	changesets, err := s.hist.ChangesetsAfter(prog.UploadClientVersion, capVersion)
	if err != nil {
		s.log().Error("failed to select changesets for upload", liblog.Fields{"err": err.Error()})
		return
	}
	if len(changesets) == 0 {
		return
	}
	s.enqueueSend(wire.KindUpload, wire.Upload{
		SessionRef:            s.ref,
		ProgressClientVersion: prog.UploadClientVersion,
		ProgressServerVersion: prog.UploadLastIntegratedServerVersion,
		LockedServerVersion:   prog.DownloadServerVersion,
		Changesets:            changesets,
	})
}

// NotifyLocalCommit is the happens-before edge of spec §5: the
// Coordinator calls this after its commit_write() persists a new local
// client version and before returning to the committing thread, so an
// UPLOAD carrying that version is enqueued before any caller can
// observe the commit as complete.
func (s *Session) NotifyLocalCommit() {
	s.tryUpload()
}

// Query submits a new flexible-sync subscription change (spec §4.3
// "send QUERY when a newer query version is pending").
func (s *Session) Query(text string) liberr.Error {
	if s.cfg.Mode != wire.SyncModeFlexible {
		return liberr.NewErrorTrace(int(ErrorInvalidTransition), getMessage(ErrorInvalidTransition), "", 0, nil)
	}
	set := s.subs.Add(s.hist.LatestLocalVersion(), []string{text})
	s.activeQuery = text
	s.enqueueSend(wire.KindQuery, wire.Query{SessionRef: s.ref, QueryVersion: set.Version, Text: text})
	// Pending begins once the QUERY has been handed to the send queue
	// (spec §3: "lifecycle states ... Pending" starts the moment the
	// client has committed to this version, not when the server acks).
	if err := s.subs.Commit(set.Version); err != nil {
		s.log().Warning("unexpected subscription commit failure", liblog.Fields{"version": set.Version, "err": err.Error()})
	}
	return nil
}
