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

// Package wire defines the client<->server message set of the sync
// protocol (spec §6.1) and the framing/sub-protocol negotiation rules
// around it. It owns no transport and no session state: Connection and
// Session depend on it, it depends on neither.
package wire

// Kind identifies a message's place on the wire. Client and server
// kinds share one numbering space so a dispatcher can switch on a
// single value after a frame is decoded.
type Kind uint8

const (
	KindUnknown Kind = iota

	// Client -> Server
	KindBind
	KindIdentRequest
	KindUpload
	KindQuery
	KindMark
	KindUnbind
	KindPing
	KindTestCommand
	KindClientError

	// Server -> Client
	KindIdentResponse
	KindDownload
	KindMarkAck
	KindUnbound
	KindPong
	KindServerError
	KindQueryError
	KindTestCommandReply
)

func (k Kind) String() string {
	switch k {
	case KindBind:
		return "BIND"
	case KindIdentRequest:
		return "IDENT"
	case KindUpload:
		return "UPLOAD"
	case KindQuery:
		return "QUERY"
	case KindMark:
		return "MARK"
	case KindUnbind:
		return "UNBIND"
	case KindPing:
		return "PING"
	case KindTestCommand:
		return "TEST_COMMAND"
	case KindClientError:
		return "ERROR"
	case KindIdentResponse:
		return "IDENT"
	case KindDownload:
		return "DOWNLOAD"
	case KindMarkAck:
		return "MARK"
	case KindUnbound:
		return "UNBOUND"
	case KindPong:
		return "PONG"
	case KindServerError:
		return "ERROR"
	case KindQueryError:
		return "QUERY_ERROR"
	case KindTestCommandReply:
		return "TEST_COMMAND"
	default:
		return "UNKNOWN"
	}
}

// ServerVersion pairs a server-side transaction version with the salt
// that scopes it to one ClientFileIdent lifetime (spec §3).
type ServerVersion struct {
	Version uint64
	Salt    int64
}

// Bind is the first client->server message on a session (spec §4.3).
// SessionRef is the connection-local identifier the Connection assigns
// this session so every later server reply for the same session can be
// routed back to it without re-parsing the path (spec §4.2 "dispatch
// to sessions").
type Bind struct {
	SessionRef          uint64
	Path                string
	NeedClientFileIdent bool
	ProtocolVersion     uint32
}

// IdentRequest is sent once the client holds a ClientFileIdent, either
// handed out in this handshake or persisted from a prior one.
type IdentRequest struct {
	ClientFileIdent uint64
	Salt            int64
	DownloadCursor  uint64
	UploadCursor    uint64
	LatestServerVersion ServerVersion

	// Flexible sync only.
	FlexibleQuery        string
	FlexibleQueryVersion uint64
}

// IdentResponse is the server's assignment of a ClientFileIdent on a
// session's first bind (spec §3, "assigned by server on first IDENT").
type IdentResponse struct {
	SessionRef      uint64
	ClientFileIdent uint64
	Salt            int64
}

// Changeset is one outbound commit record carried inside an Upload
// message (spec §3 UploadChangeset).
type Changeset struct {
	ClientVersion            uint64
	LastIntegratedServerVersion uint64
	OriginTimestamp          uint64
	OriginFileIdent          uint64
	Payload                  []byte
}

// Upload carries a batch of local commits (spec §4.3 "upload selection").
type Upload struct {
	SessionRef            uint64
	ProgressClientVersion uint64
	ProgressServerVersion uint64
	LockedServerVersion   uint64
	Changesets            []Changeset
}

// Query requests a change to the active flexible-sync subscription set.
type Query struct {
	SessionRef   uint64
	QueryVersion uint64
	Text         string
}

// Mark asks the server to confirm it has delivered everything it had
// as of this request (the "download-complete" probe, spec GLOSSARY).
type Mark struct {
	SessionRef uint64
	RequestID  uint64
}

// MarkAck is the server's reply to Mark, correlated by RequestID.
type MarkAck struct {
	SessionRef uint64
	RequestID  uint64
}

// Unbind asks the server to tear down this session's binding; Unbound
// is its confirmation.
type Unbind struct {
	SessionRef uint64
}

type Unbound struct {
	SessionRef uint64
}

// Ping/Pong carry a client-chosen monotonic timestamp that must be
// echoed unchanged (spec §4.2 heartbeat, invariant 5 of spec §8).
type Ping struct {
	Timestamp uint64
}

type Pong struct {
	Timestamp uint64
}

// InboundChangeset is one record inside a Download message (spec §3
// Changeset, inbound direction).
type InboundChangeset struct {
	RemoteVersion               uint64
	LastIntegratedLocalVersion  uint64
	OriginFileIdent             uint64
	OriginTimestamp             uint64
	Payload                     []byte
}

// BatchState marks a Download message's position within a flexible
// sync bootstrap batch (spec §3 PendingBootstrap, §4.3 step 3).
type BatchState uint8

const (
	BatchStateSteadyState BatchState = iota
	BatchStateMoreToCome
	BatchStateLastInBatch
)

// Download is the server's push of committed history (spec §6.1).
type Download struct {
	SessionRef          uint64
	DownloadCursor      uint64
	UploadCursor        uint64
	LatestServerVersion ServerVersion
	DownloadableBytes   uint64
	Batch               BatchState
	QueryVersion        uint64
	Changesets          []InboundChangeset
}

// Action directs the client's response to a server-reported protocol
// error (spec §6.1, §7).
type Action uint8

const (
	ActionNoAction Action = iota
	ActionProtocolViolation
	ActionApplicationBug
	ActionWarning
	ActionTransient
	ActionDeleteRealm
	ActionClientReset
	ActionClientResetNoRecovery
)

// ResumptionDelayInfo is the server-dictated backoff schedule that
// accompanies a try-again error (spec §4.1, reconnect reason
// server_said_try_again_later).
type ResumptionDelayInfo struct {
	Initial    uint64 // milliseconds
	Multiplier float64
	Cap        uint64 // milliseconds
}

// ServerError is the ERROR message shape, carried at either connection
// or session level (spec §6.1, §7). CompensatingWriteServerVersion is
// only meaningful when RawErrorCode classifies the error as a
// compensating write: it carries the actual server_version the
// rejected changeset was tied to, distinct from RawErrorCode (which
// only ever identifies the error's *category*, never a version).
type ServerError struct {
	RawErrorCode                   int
	Message                        string
	TryAgain                       bool
	Action                         Action
	Resumption                     *ResumptionDelayInfo
	SessionIdent                   string // empty for connection-level errors
	CompensatingWriteServerVersion uint64
}

// QueryError reports a failure to apply one flexible-sync subscription
// change; it does not affect any other active query.
type QueryError struct {
	SessionRef   uint64
	QueryVersion uint64
	RawErrorCode int
	Message      string
}

// ClientError is the rarely-used client-authored JSON error message,
// used to report a protocol violation the client itself detected
// (spec §6.1 "client-authored ERROR (JSON)").
type ClientError struct {
	Message string
}

// TestCommand and TestCommandReply exist only to exercise the wire
// round-trip in integration tests; production code never sends one.
type TestCommand struct {
	ID      uint64
	Payload string
}

type TestCommandReply struct {
	ID      uint64
	Payload string
}
