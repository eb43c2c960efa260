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

package wire

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	liberr "github.com/realm-sync/core/errors"
)

// SyncMode selects the sub-protocol prefix advertised on the WebSocket
// upgrade (spec §6.1).
type SyncMode uint8

const (
	SyncModePartition SyncMode = iota
	SyncModeFlexible
)

func (m SyncMode) prefix() string {
	if m == SyncModeFlexible {
		return "com.mongodb.realm-flx-sync#"
	}
	return "com.mongodb.realm-sync#"
}

// SupportedProtocolVersions lists every protocol version this client
// understands, descending (spec §4.2 "descending list").
var SupportedProtocolVersions = []uint32{10, 9, 8}

// SubProtocols returns the list of sub-protocol tokens to advertise on
// the WebSocket upgrade, highest version first.
func SubProtocols(mode SyncMode) []string {
	out := make([]string, 0, len(SupportedProtocolVersions))
	for _, v := range SupportedProtocolVersions {
		out = append(out, fmt.Sprintf("%s%d", mode.prefix(), v))
	}
	return out
}

// NegotiateAccepted parses the server's chosen sub-protocol and returns
// the protocol version it selected. A token outside what we advertised,
// or malformed, is a fatal protocol violation (spec §4.2).
func NegotiateAccepted(mode SyncMode, accepted string) (uint32, liberr.Error) {
	prefix := mode.prefix()

	if !strings.HasPrefix(accepted, prefix) {
		return 0, liberr.NewErrorTrace(int(ErrorBadSubProtocol), getMessage(ErrorBadSubProtocol), "", 0, nil)
	}

	n, err := strconv.ParseUint(strings.TrimPrefix(accepted, prefix), 10, 32)
	if err != nil {
		return 0, liberr.NewErrorTrace(int(ErrorBadSubProtocol), getMessage(ErrorBadSubProtocol), "", 0, err)
	}

	v := uint32(n)
	for _, sv := range SupportedProtocolVersions {
		if sv == v {
			return v, nil
		}
	}

	return 0, liberr.NewErrorTrace(int(ErrorProtocolVersionRejected), getMessage(ErrorProtocolVersionRejected), "", 0, nil)
}

// HighestCommon picks the highest protocol version present in both
// lists, used by test doubles that play the server side of negotiation.
func HighestCommon(client, server []uint32) (uint32, bool) {
	set := make(map[uint32]struct{}, len(server))
	for _, v := range server {
		set[v] = struct{}{}
	}

	sorted := append([]uint32(nil), client...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] > sorted[j] })

	for _, v := range sorted {
		if _, ok := set[v]; ok {
			return v, true
		}
	}
	return 0, false
}
