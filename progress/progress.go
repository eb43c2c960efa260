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

// Package progress tracks the four SyncProgress cursors of a session
// (spec §3) and validates every inbound DOWNLOAD message against their
// monotonicity invariants before Session is allowed to integrate it
// (spec §4.3 step 1-2, invariant 1-2 of spec §8).
package progress

import (
	liberr "github.com/realm-sync/core/errors"
	"github.com/realm-sync/core/wire"
)

// Progress is the four-cursor SyncProgress record (spec §3).
type Progress struct {
	DownloadServerVersion            uint64
	DownloadLastIntegratedClientVersion uint64
	UploadClientVersion               uint64
	UploadLastIntegratedServerVersion  uint64
	LatestServerVersion               wire.ServerVersion
}

// Validate checks two cross-field invariants: the download server
// version does not exceed the latest server version, and the download
// last-integrated client version does not exceed the upload client
// version. The upload client version is not checked against the latest
// local version, which Progress does not hold. It is called once per
// DOWNLOAD before any per-changeset validation.
func (p Progress) Validate() liberr.Error {
	if p.DownloadServerVersion > p.LatestServerVersion.Version {
		return liberr.NewErrorTrace(int(ErrorBadProgress), getMessage(ErrorBadProgress), "", 0, nil)
	}
	if p.DownloadLastIntegratedClientVersion > p.UploadClientVersion {
		return liberr.NewErrorTrace(int(ErrorBadProgress), getMessage(ErrorBadProgress), "", 0, nil)
	}
	return nil
}

// AdvanceFrom validates that next is a weakly-increasing successor of
// the receiver on all four cursors (invariant 1 of spec §8), then
// returns next unchanged so callers can chain:
//
//	cur, err = cur.AdvanceFrom(next)
func (cur Progress) AdvanceFrom(next Progress) (Progress, liberr.Error) {
	if next.LatestServerVersion.Version < cur.LatestServerVersion.Version ||
		next.UploadClientVersion < cur.UploadClientVersion ||
		next.DownloadServerVersion < cur.DownloadServerVersion ||
		next.DownloadLastIntegratedClientVersion < cur.DownloadLastIntegratedClientVersion ||
		next.UploadLastIntegratedServerVersion < cur.UploadLastIntegratedServerVersion {
		return cur, liberr.NewErrorTrace(int(ErrorBadProgress), getMessage(ErrorBadProgress), "", 0, nil)
	}

	if err := next.Validate(); err != nil {
		return cur, err
	}

	return next, nil
}

// ValidateChangeset checks the per-changeset header invariants of spec
// §4.3 step 2: server version ordering, client version bound, and
// origin file ident. flexibleBootstrap relaxes the server-version
// check from strictly to weakly increasing, per spec §3.
func ValidateChangeset(prevRemoteVersion uint64, selfFileIdent uint64, c wire.InboundChangeset, downloadLastIntegratedClientVersion uint64, flexibleBootstrap bool) liberr.Error {
	if flexibleBootstrap {
		if c.RemoteVersion < prevRemoteVersion {
			return liberr.NewErrorTrace(int(ErrorBadServerVersion), getMessage(ErrorBadServerVersion), "", 0, nil)
		}
	} else if c.RemoteVersion <= prevRemoteVersion {
		return liberr.NewErrorTrace(int(ErrorBadServerVersion), getMessage(ErrorBadServerVersion), "", 0, nil)
	}

	if c.LastIntegratedLocalVersion > downloadLastIntegratedClientVersion {
		return liberr.NewErrorTrace(int(ErrorBadClientVersion), getMessage(ErrorBadClientVersion), "", 0, nil)
	}

	if c.OriginFileIdent == 0 || c.OriginFileIdent == selfFileIdent {
		return liberr.NewErrorTrace(int(ErrorBadOriginFileIdent), getMessage(ErrorBadOriginFileIdent), "", 0, nil)
	}

	return nil
}
