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

// Package session implements the per-database protocol state machine
// (spec §4.3, C3): BIND/IDENT negotiation, upload selection, download
// integration, query-bootstrap buffering, and client-reset
// orchestration. A Session is a connection.Dispatcher and a
// connection.Sender; all of its state is read and mutated only from
// closures posted to the owning Connection's event loop (spec §5).
package session

// TransportState is the state Connection imposes on a Session (spec
// §4.3 "transport level").
type TransportState uint8

const (
	TransportUnactivated TransportState = iota
	TransportActive
	TransportDeactivating
	TransportDeactivated
)

func (s TransportState) String() string {
	switch s {
	case TransportUnactivated:
		return "Unactivated"
	case TransportActive:
		return "Active"
	case TransportDeactivating:
		return "Deactivating"
	case TransportDeactivated:
		return "Deactivated"
	}
	return "Unknown"
}

// AppState is the higher-level lifecycle SessionWrapper drives (spec
// §4.3 "application level").
type AppState uint8

const (
	AppInactive AppState = iota
	AppWaitingForAccessToken
	AppActive
	AppDying
	AppPaused
)

func (s AppState) String() string {
	switch s {
	case AppInactive:
		return "Inactive"
	case AppWaitingForAccessToken:
		return "WaitingForAccessToken"
	case AppActive:
		return "Active"
	case AppDying:
		return "Dying"
	case AppPaused:
		return "Paused"
	}
	return "Unknown"
}

// StopPolicy governs what close() does to a session that still has
// unuploaded local changes (spec §6.3 stop_policy).
type StopPolicy uint8

const (
	StopImmediate StopPolicy = iota
	StopLiveIndefinitely
	StopAfterChangesUploaded
)

// ClientResyncMode governs how a ClientReset/ClientResetNoRecovery
// server action is handled (spec §6.3 client_resync_mode).
type ClientResyncMode uint8

const (
	ResyncManual ClientResyncMode = iota
	ResyncDiscardLocal
	ResyncRecover
	ResyncRecoverOrDiscard
)

// validAppTransition enforces the edges drawn in spec §4.3's
// application-level diagram. Pause and Resume in session.go handle
// Paused separately, since Paused is reachable from any state.
func validAppTransition(from, to AppState) bool {
	switch from {
	case AppInactive:
		return to == AppActive || to == AppWaitingForAccessToken
	case AppWaitingForAccessToken:
		return to == AppActive
	case AppActive:
		return to == AppInactive || to == AppDying
	case AppDying:
		return to == AppInactive || to == AppActive
	case AppPaused:
		return false // only resume(), modeled outside this table
	}
	return false
}
