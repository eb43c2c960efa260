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
	liberr "github.com/realm-sync/core/errors"
	"github.com/realm-sync/core/progress"
	"github.com/realm-sync/core/wire"
	gormdb "gorm.io/gorm"
)

// Append implements session.BootstrapStore: buffers one bootstrap
// DOWNLOAD's changesets under queryVersion, along with the progress
// snapshot that should apply once the whole version drains (spec §4.3
// step 3). The snapshot overwrites any prior one for the same version,
// since each MoreToCome message carries the cumulative progress so far.
func (s *Store) Append(queryVersion uint64, changesets []wire.InboundChangeset, prog progress.Progress) liberr.Error {
	return s.wrapErr(ErrorQueryFailed, s.db.Transaction(func(tx *gormdb.DB) error {
		var next int64
		if err := tx.Model(&pendingBootstrapRow{}).
			Where("query_version = ?", queryVersion).
			Count(&next).Error; err != nil {
			return err
		}

		for i, cs := range changesets {
			row := pendingBootstrapRow{
				QueryVersion:               queryVersion,
				Seq:                        int(next) + i,
				RemoteVersion:              cs.RemoteVersion,
				LastIntegratedLocalVersion: cs.LastIntegratedLocalVersion,
				OriginFileIdent:            cs.OriginFileIdent,
				OriginTimestamp:            cs.OriginTimestamp,
				Payload:                    cs.Payload,
			}
			if err := tx.Create(&row).Error; err != nil {
				return err
			}
		}

		prow := pendingBootstrapProgressRow{
			QueryVersion:                         queryVersion,
			DownloadServerVersion:                prog.DownloadServerVersion,
			DownloadLastIntegratedClientVersion:  prog.DownloadLastIntegratedClientVersion,
			UploadClientVersion:                  prog.UploadClientVersion,
			UploadLastIntegratedServerVersion:    prog.UploadLastIntegratedServerVersion,
			LatestServerVersion:                  prog.LatestServerVersion.Version,
			LatestServerVersionSalt:              prog.LatestServerVersion.Salt,
		}
		return tx.Save(&prow).Error
	}))
}

// Drain implements session.BootstrapStore: returns every buffered
// changeset for queryVersion in arrival order along with the latest
// progress snapshot, then removes them (spec §4.3 step 3, "drain the
// pending store" on LastInBatch).
func (s *Store) Drain(queryVersion uint64) ([]wire.InboundChangeset, progress.Progress, liberr.Error) {
	var prow pendingBootstrapProgressRow
	if err := s.db.First(&prow, "query_version = ?", queryVersion).Error; err != nil {
		if isNotFound(err) {
			return nil, progress.Progress{}, liberr.NewErrorTrace(int(ErrorUnknownBootstrapVersion), getMessage(ErrorUnknownBootstrapVersion), "", 0, nil)
		}
		return nil, progress.Progress{}, s.wrapErr(ErrorQueryFailed, err)
	}

	var rows []pendingBootstrapRow
	if err := s.db.Where("query_version = ?", queryVersion).Order("seq ASC").Find(&rows).Error; err != nil {
		return nil, progress.Progress{}, s.wrapErr(ErrorQueryFailed, err)
	}

	out := make([]wire.InboundChangeset, 0, len(rows))
	for _, r := range rows {
		out = append(out, wire.InboundChangeset{
			RemoteVersion:              r.RemoteVersion,
			LastIntegratedLocalVersion: r.LastIntegratedLocalVersion,
			OriginFileIdent:            r.OriginFileIdent,
			OriginTimestamp:            r.OriginTimestamp,
			Payload:                    r.Payload,
		})
	}

	prog := progress.Progress{
		DownloadServerVersion:               prow.DownloadServerVersion,
		DownloadLastIntegratedClientVersion: prow.DownloadLastIntegratedClientVersion,
		UploadClientVersion:                 prow.UploadClientVersion,
		UploadLastIntegratedServerVersion:   prow.UploadLastIntegratedServerVersion,
		LatestServerVersion: wire.ServerVersion{
			Version: prow.LatestServerVersion,
			Salt:    prow.LatestServerVersionSalt,
		},
	}

	if err := s.Discard(queryVersion); err != nil {
		return nil, progress.Progress{}, err
	}

	return out, prog, nil
}

// Discard implements session.BootstrapStore: drops every buffered
// changeset for queryVersion without applying them, used both by Drain
// and when a newer subscription supersedes one still bootstrapping.
func (s *Store) Discard(queryVersion uint64) liberr.Error {
	return s.wrapErr(ErrorQueryFailed, s.db.Transaction(func(tx *gormdb.DB) error {
		if err := tx.Where("query_version = ?", queryVersion).Delete(&pendingBootstrapRow{}).Error; err != nil {
			return err
		}
		return tx.Where("query_version = ?", queryVersion).Delete(&pendingBootstrapProgressRow{}).Error
	}))
}
