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

package storage

import (
	"errors"

	liberr "github.com/realm-sync/core/errors"
	"github.com/realm-sync/core/progress"
	"github.com/realm-sync/core/wire"
	gormdb "gorm.io/gorm"
)

// ClientFileIdent implements session.History.
func (s *Store) ClientFileIdent() (uint64, int64, bool) {
	var row identRow
	if err := s.db.First(&row, "id = ?", identRowID).Error; err != nil {
		return 0, 0, false
	}
	return row.ClientFileIdent, row.Salt, true
}

// SetClientFileIdent implements session.History.
func (s *Store) SetClientFileIdent(ident uint64, salt int64) liberr.Error {
	row := identRow{ID: identRowID, ClientFileIdent: ident, Salt: salt}
	err := s.db.Save(&row).Error
	return s.wrapErr(ErrorQueryFailed, err)
}

// Progress implements session.History. A missing row (first run)
// returns the zero Progress, matching an unsynced database.
func (s *Store) Progress() progress.Progress {
	var row progressRow
	if err := s.db.First(&row, "id = ?", progressRowID).Error; err != nil {
		return progress.Progress{}
	}
	return progress.Progress{
		DownloadServerVersion:               row.DownloadServerVersion,
		DownloadLastIntegratedClientVersion: row.DownloadLastIntegratedClientVersion,
		UploadClientVersion:                 row.UploadClientVersion,
		UploadLastIntegratedServerVersion:   row.UploadLastIntegratedServerVersion,
		LatestServerVersion: wire.ServerVersion{
			Version: row.LatestServerVersion,
			Salt:    row.LatestServerVersionSalt,
		},
	}
}

// SaveProgress implements session.History.
func (s *Store) SaveProgress(p progress.Progress) liberr.Error {
	row := progressRow{
		ID:                                   progressRowID,
		DownloadServerVersion:                p.DownloadServerVersion,
		DownloadLastIntegratedClientVersion:  p.DownloadLastIntegratedClientVersion,
		UploadClientVersion:                  p.UploadClientVersion,
		UploadLastIntegratedServerVersion:    p.UploadLastIntegratedServerVersion,
		LatestServerVersion:                  p.LatestServerVersion.Version,
		LatestServerVersionSalt:              p.LatestServerVersion.Salt,
	}
	err := s.db.Save(&row).Error
	return s.wrapErr(ErrorQueryFailed, err)
}

// LatestLocalVersion implements session.History: the highest committed
// ClientVersion in the history table, or 0 if nothing has been
// committed yet.
func (s *Store) LatestLocalVersion() uint64 {
	var row historyRow
	if err := s.db.Order("client_version DESC").First(&row).Error; err != nil {
		return 0
	}
	return row.ClientVersion
}

// ChangesetsAfter implements session.History: local commits strictly
// after afterClientVersion, up to and including capVersion, ordered by
// client version (spec §4.3 "upload selection").
func (s *Store) ChangesetsAfter(afterClientVersion, capVersion uint64) ([]wire.Changeset, liberr.Error) {
	var rows []historyRow
	err := s.db.
		Where("client_version > ? AND client_version <= ?", afterClientVersion, capVersion).
		Order("client_version ASC").
		Find(&rows).Error
	if err != nil {
		return nil, s.wrapErr(ErrorQueryFailed, err)
	}

	out := make([]wire.Changeset, 0, len(rows))
	for _, r := range rows {
		out = append(out, wire.Changeset{
			ClientVersion:               r.ClientVersion,
			LastIntegratedServerVersion: r.LastIntegratedServerVersion,
			OriginTimestamp:             r.OriginTimestamp,
			OriginFileIdent:             r.OriginFileIdent,
			Payload:                     r.Payload,
		})
	}
	return out, nil
}

// CommitLocal appends a new local changeset and returns its assigned
// client version. Not part of session.History (the embedded-database
// side of a commit is outside this sync client's scope per spec.md's
// non-goals), but exercised by tests and kept here because it is the
// only writer of the history table ChangesetsAfter reads from.
func (s *Store) CommitLocal(payload []byte) (uint64, liberr.Error) {
	next := s.LatestLocalVersion() + 1
	row := historyRow{ClientVersion: next, Payload: payload}
	if err := s.db.Create(&row).Error; err != nil {
		return 0, s.wrapErr(ErrorQueryFailed, err)
	}
	return next, nil
}

// IntegrateDownloaded implements session.History: persists every
// inbound changeset as a new local version and advances SyncProgress in
// one transaction, so a crash mid-apply never leaves progress ahead of
// the data it claims to cover (spec §4.3 "Download integration").
func (s *Store) IntegrateDownloaded(changesets []wire.InboundChangeset, prog progress.Progress) (uint64, liberr.Error) {
	var newLocal uint64

	txErr := s.db.Transaction(func(tx *gormdb.DB) error {
		next := s.localVersionTx(tx)
		for _, cs := range changesets {
			next++
			row := historyRow{
				ClientVersion:               next,
				LastIntegratedServerVersion: cs.RemoteVersion,
				OriginTimestamp:             cs.OriginTimestamp,
				OriginFileIdent:             cs.OriginFileIdent,
				Payload:                     cs.Payload,
			}
			if err := tx.Create(&row).Error; err != nil {
				return err
			}
		}
		newLocal = next

		prow := progressRow{
			ID:                                   progressRowID,
			DownloadServerVersion:                prog.DownloadServerVersion,
			DownloadLastIntegratedClientVersion:  prog.DownloadLastIntegratedClientVersion,
			UploadClientVersion:                  prog.UploadClientVersion,
			UploadLastIntegratedServerVersion:    prog.UploadLastIntegratedServerVersion,
			LatestServerVersion:                  prog.LatestServerVersion.Version,
			LatestServerVersionSalt:              prog.LatestServerVersion.Salt,
		}
		return tx.Save(&prow).Error
	})

	if txErr != nil {
		return 0, s.wrapErr(ErrorQueryFailed, txErr)
	}
	return newLocal, nil
}

func (s *Store) localVersionTx(tx *gormdb.DB) uint64 {
	var row historyRow
	if err := tx.Order("client_version DESC").First(&row).Error; err != nil {
		return 0
	}
	return row.ClientVersion
}

// PendingClientReset reports the persisted client-reset marker, if
// any (spec §6.2 "any pending client-reset marker").
func (s *Store) PendingClientReset() (kind string, unixTimestamp int64, ok bool) {
	var row resetMarkerRow
	if err := s.db.First(&row, "id = ?", resetMarkerRowID).Error; err != nil {
		return "", 0, false
	}
	return row.Kind, row.UnixTimestamp, true
}

// SetPendingClientReset persists the marker a client reset leaves
// behind until the merge that follows it completes.
func (s *Store) SetPendingClientReset(kind string, unixTimestamp int64) liberr.Error {
	row := resetMarkerRow{ID: resetMarkerRowID, Kind: kind, UnixTimestamp: unixTimestamp}
	return s.wrapErr(ErrorQueryFailed, s.db.Save(&row).Error)
}

// ClearPendingClientReset removes the marker once a reset's merge has
// completed.
func (s *Store) ClearPendingClientReset() liberr.Error {
	err := s.db.Delete(&resetMarkerRow{}, "id = ?", resetMarkerRowID).Error
	return s.wrapErr(ErrorQueryFailed, err)
}

var errRecordNotFound = gormdb.ErrRecordNotFound

func isNotFound(err error) bool {
	return errors.Is(err, errRecordNotFound)
}
