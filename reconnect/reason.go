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

// Package reconnect implements the Reconnect/Backoff Controller (spec
// §4.1, C1): per-endpoint delay computation from a termination reason,
// jitter, and the cancel_reconnect_delay() "scheduled_reset" dance.
package reconnect

// Reason enumerates every way a Connection can end up disconnected
// (spec §4.1, §4.2 close-code table, §7). The Controller keys its
// delay policy off this value alone.
type Reason uint8

const (
	ReasonNone Reason = iota

	// Start from the minimum delay. A repeat of the same reason reuses
	// the previous base delay; the delay does not grow.
	ReasonClosedVoluntarily
	ReasonReadOrWriteError
	ReasonPongTimeout

	// Double the previous delay, floored at min, capped at 5 minutes.
	ReasonConnectOperationFailed
	ReasonHTTPResponseNonFatal
	ReasonSyncConnectTimeout

	// Follow the server-provided ResumptionDelayInfo.
	ReasonServerSaidTryAgainLater

	// One-hour cool-off.
	ReasonSSLCertificateRejected
	ReasonSSLProtocolViolation
	ReasonWebSocketProtocolViolation
	ReasonHTTPResponseFatal
	ReasonBadHeaders
	ReasonSyncProtocolViolation
	ReasonServerSaidDoNotReconnect
	ReasonMissingProtocolFeature
)

// Fatal reports whether a reason ends the session outright rather than
// merely the transport (spec §4.2 close-code table "Fatal" column).
func (r Reason) Fatal() bool {
	switch r {
	case ReasonSSLCertificateRejected, ReasonHTTPResponseFatal:
		return true
	default:
		return false
	}
}

// CloseCodeKind classifies a WebSocket/HTTP close code into the
// taxonomy spec §4.2's table maps to a Reason.
type CloseCodeKind uint8

const (
	CloseKindResolveConnect CloseCodeKind = iota
	CloseKindReadWriteError
	CloseKindProtocolClose
	CloseKindMessageTooBig
	CloseKindTLSHandshakeFail
	CloseKindClientTooOld
	CloseKindClientTooNew
	CloseKindProtocolMismatch
	CloseKindForbidden
	CloseKindRetryError
	CloseKindUnauthorized
	CloseKindMovedPermanently
	CloseKindInternalServerError
	CloseKindAbnormalClosure
)

// ReasonFor maps a close-code kind to the termination Reason the
// Controller should base its delay computation on (spec §4.2 table).
// messageTooBig additionally carries wire.ActionClientReset, which the
// Connection layer attaches to the Session's error report separately;
// this function only returns the Reason.
func ReasonFor(kind CloseCodeKind) Reason {
	switch kind {
	case CloseKindResolveConnect:
		return ReasonConnectOperationFailed
	case CloseKindReadWriteError:
		return ReasonReadOrWriteError
	case CloseKindProtocolClose, CloseKindMessageTooBig:
		return ReasonWebSocketProtocolViolation
	case CloseKindTLSHandshakeFail:
		return ReasonSSLCertificateRejected
	case CloseKindClientTooOld, CloseKindClientTooNew, CloseKindProtocolMismatch,
		CloseKindForbidden, CloseKindRetryError:
		return ReasonHTTPResponseFatal
	case CloseKindUnauthorized, CloseKindMovedPermanently,
		CloseKindInternalServerError, CloseKindAbnormalClosure:
		return ReasonHTTPResponseNonFatal
	default:
		return ReasonReadOrWriteError
	}
}
