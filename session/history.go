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
	"github.com/realm-sync/core/progress"
	"github.com/realm-sync/core/wire"
)

// History is the local-database surface a Session drives (spec §6.2
// "History file"). The storage package implements it on top of the
// embedded database; session depends only on this interface so it can
// be exercised against a fake in tests without a real database file.
type History interface {
	// ClientFileIdent returns the persisted identity, if any has been
	// assigned yet (spec §3 ClientFileIdent, "assigned by server on
	// first IDENT").
	ClientFileIdent() (ident uint64, salt int64, ok bool)
	SetClientFileIdent(ident uint64, salt int64) liberr.Error

	// Progress returns the persisted SyncProgress cursors.
	Progress() progress.Progress
	SaveProgress(progress.Progress) liberr.Error

	// LatestLocalVersion is the newest local client version committed,
	// uploaded or not.
	LatestLocalVersion() uint64

	// ChangesetsAfter returns committed local changesets strictly after
	// afterClientVersion, capped at capVersion inclusive (spec §4.3
	// "upload selection").
	ChangesetsAfter(afterClientVersion, capVersion uint64) ([]wire.Changeset, liberr.Error)

	// IntegrateDownloaded applies one already-validated, non-bootstrap
	// batch of inbound changesets in a single write transaction and
	// returns the new local client version it produced (spec §4.3 step
	// 4 "apply immediately").
	IntegrateDownloaded(changesets []wire.InboundChangeset, prog progress.Progress) (newLocalVersion uint64, err liberr.Error)
}

// BootstrapStore buffers the multi-message query bootstraps of
// flexible sync until a full batch is on disk, so a crash mid-bootstrap
// discards cleanly instead of partially applying (spec §3
// PendingBootstrap, invariant 8 of spec §8).
type BootstrapStore interface {
	Append(queryVersion uint64, changesets []wire.InboundChangeset, prog progress.Progress) liberr.Error
	// Drain returns every changeset buffered for queryVersion plus the
	// SyncProgress recorded with the batch's last message, then clears
	// the buffer. Callers apply the result atomically.
	Drain(queryVersion uint64) ([]wire.InboundChangeset, progress.Progress, liberr.Error)
	Discard(queryVersion uint64) liberr.Error
}
