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

// Package storage is the local embedded database: the history file
// (committed changesets, ClientFileIdent, SyncProgress, pending
// client-reset marker), the SubscriptionSet/PendingBootstrap tables a
// flexible-sync Session needs, and the metadata file (user registry and
// durable file-action queue) -- spec §6.2. It implements the
// session.History and session.BootstrapStore interfaces on top of
// database/gorm's sqlite wrapper.
package storage

// historyRow is one committed local changeset (spec §6.2 "History
// file"), the durable counterpart of wire.Changeset.
type historyRow struct {
	ClientVersion               uint64 `gorm:"primaryKey"`
	LastIntegratedServerVersion uint64
	OriginTimestamp              uint64
	OriginFileIdent              uint64
	Payload                      []byte
}

func (historyRow) TableName() string { return "history" }

// identRow is the singleton row holding the server-assigned
// ClientFileIdent (spec §4.3 step 1-2).
type identRow struct {
	ID              uint8 `gorm:"primaryKey"`
	ClientFileIdent uint64
	Salt            int64
}

func (identRow) TableName() string { return "client_file_ident" }

const identRowID uint8 = 1

// progressRow is the singleton row holding the four SyncProgress
// cursors plus the latest known server version (spec §3, §6.2).
type progressRow struct {
	ID                                   uint8 `gorm:"primaryKey"`
	DownloadServerVersion                uint64
	DownloadLastIntegratedClientVersion  uint64
	UploadClientVersion                  uint64
	UploadLastIntegratedServerVersion    uint64
	LatestServerVersion                  uint64
	LatestServerVersionSalt              int64
}

func (progressRow) TableName() string { return "sync_progress" }

const progressRowID uint8 = 1

// resetMarkerRow is the singleton pending-client-reset marker (spec
// §6.2 "any pending client-reset marker (carrying the type and
// timestamp of the last reset)"). Its presence in the table is the
// marker; Kind/UnixTimestamp record what and when.
type resetMarkerRow struct {
	ID            uint8 `gorm:"primaryKey"`
	Kind          string
	UnixTimestamp int64
}

func (resetMarkerRow) TableName() string { return "client_reset_marker" }

const resetMarkerRowID uint8 = 1

// subscriptionSetRow persists one flexible-sync SubscriptionSet version
// and its lifecycle state (spec §3, §4.3 step 3), so a restart picks up
// where a bootstrap left off instead of re-deriving it in memory only.
type subscriptionSetRow struct {
	Version     uint64 `gorm:"primaryKey"`
	QueriesJSON string
	State       uint8
	ErrMessage  string
}

func (subscriptionSetRow) TableName() string { return "subscription_set" }

// pendingBootstrapRow is one buffered changeset of an in-progress
// flexible-sync bootstrap, kept until the LastInBatch message drains
// the whole query version atomically (spec §4.3 step 3).
type pendingBootstrapRow struct {
	ID                         uint64 `gorm:"primaryKey;autoIncrement"`
	QueryVersion               uint64 `gorm:"index"`
	Seq                        int
	RemoteVersion               uint64
	LastIntegratedLocalVersion  uint64
	OriginFileIdent             uint64
	OriginTimestamp             uint64
	Payload                     []byte
}

func (pendingBootstrapRow) TableName() string { return "pending_bootstrap" }

// pendingBootstrapProgressRow carries the SyncProgress snapshot that
// accompanies a buffered bootstrap batch, persisted separately because
// it is a single record per query version rather than per changeset.
type pendingBootstrapProgressRow struct {
	QueryVersion                         uint64 `gorm:"primaryKey"`
	DownloadServerVersion                uint64
	DownloadLastIntegratedClientVersion  uint64
	UploadClientVersion                  uint64
	UploadLastIntegratedServerVersion    uint64
	LatestServerVersion                  uint64
	LatestServerVersionSalt              int64
}

func (pendingBootstrapProgressRow) TableName() string { return "pending_bootstrap_progress" }

func allModels() []interface{} {
	return []interface{}{
		&historyRow{},
		&identRow{},
		&progressRow{},
		&resetMarkerRow{},
		&subscriptionSetRow{},
		&pendingBootstrapRow{},
		&pendingBootstrapProgressRow{},
	}
}
