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

// The metadata file (spec §6.2, optionally encrypted per
// config.MetadataMode): a persisted user list (refresh/access tokens,
// keyed by user identity) and the durable file-action queue a Session
// Manager drains on launch (spec §4.5). Both are backed by
// database/kvmap.Driver, generalizing its map<->model serialization
// from the teacher's document-store use case onto two sqlite tables.

import (
	"encoding/json"

	liberr "github.com/realm-sync/core/errors"
	libkvm "github.com/realm-sync/core/database/kvmap"
	gormdb "gorm.io/gorm"
)

type blobRow struct {
	Key      string `gorm:"primaryKey"`
	DataJSON string
}

func (blobRow) TableName() string { return "metadata_blob" }

// blobTable is the sqlite-backed table one kvmap.Driver instance reads
// and writes through its FctGet/FctSet/FctList callbacks. prefix keeps
// the user registry and the file-action queue from colliding in the
// same physical table.
type blobTable struct {
	db     *gormdb.DB
	prefix string
}

func (t *blobTable) get(key string) (map[string]any, error) {
	var row blobRow
	if err := t.db.First(&row, "key = ?", t.prefix+key).Error; err != nil {
		if isNotFound(err) {
			return map[string]any{}, nil
		}
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(row.DataJSON), &m); err != nil {
		return nil, err
	}
	return m, nil
}

func (t *blobTable) set(key string, model map[string]any) error {
	data, err := json.Marshal(model)
	if err != nil {
		return err
	}
	row := blobRow{Key: t.prefix + key, DataJSON: string(data)}
	return t.db.Save(&row).Error
}

func (t *blobTable) del(key string) error {
	return t.db.Delete(&blobRow{}, "key = ?", t.prefix+key).Error
}

func (t *blobTable) list() ([]string, error) {
	var rows []blobRow
	if err := t.db.Where("key LIKE ?", t.prefix+"%").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]string, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.Key[len(t.prefix):])
	}
	return out, nil
}

// UserRecord is one entry of the persisted user list (spec §4.5, §6.2).
type UserRecord struct {
	UserIdentity string `json:"user_identity"`
	DatabasePath string `json:"database_path"`
	RefreshToken string `json:"refresh_token"`
	AccessToken  string `json:"access_token"`
}

// FileAction is a queued filesystem cleanup a terminated session left
// behind (spec §4.5 "queues file-system actions").
type FileAction string

const (
	FileActionDelete           FileAction = "delete"
	FileActionBackupThenDelete FileAction = "backup_then_delete"
)

// FileActionRecord is one durably-queued action.
type FileActionRecord struct {
	Path   string     `json:"path"`
	Action FileAction `json:"action"`
}

// UserRegistry is the persisted (user_identity, database_path) ->
// token-pair map the Session Manager consults before dialing (spec
// §4.5).
type UserRegistry struct {
	drv *libkvm.Driver[string, string, UserRecord]
}

// NewUserRegistry opens the user-list table backed by db.
func NewUserRegistry(db *gormdb.DB) *UserRegistry {
	t := &blobTable{db: db, prefix: "user:"}
	return &UserRegistry{drv: &libkvm.Driver[string, string, UserRecord]{
		FctGet:  t.get,
		FctSet:  t.set,
		FctList: t.list,
	}}
}

func (r *UserRegistry) Put(rec UserRecord) liberr.Error {
	if err := r.drv.Set(rec.UserIdentity, rec); err != nil {
		return liberr.NewErrorTrace(int(ErrorQueryFailed), getMessage(ErrorQueryFailed), "", 0, err)
	}
	return nil
}

func (r *UserRegistry) Get(userIdentity string) (UserRecord, bool, liberr.Error) {
	var rec UserRecord
	if err := r.drv.Get(userIdentity, &rec); err != nil {
		return UserRecord{}, false, liberr.NewErrorTrace(int(ErrorQueryFailed), getMessage(ErrorQueryFailed), "", 0, err)
	}
	return rec, rec.UserIdentity != "", nil
}

func (r *UserRegistry) List() ([]UserRecord, liberr.Error) {
	keys, err := r.drv.List()
	if err != nil {
		return nil, liberr.NewErrorTrace(int(ErrorQueryFailed), getMessage(ErrorQueryFailed), "", 0, err)
	}
	out := make([]UserRecord, 0, len(keys))
	for _, k := range keys {
		var rec UserRecord
		if err := r.drv.Get(k, &rec); err == nil {
			out = append(out, rec)
		}
	}
	return out, nil
}

// FileActionQueue is the durable queue of pending file-system cleanups
// (spec §4.5): drained on next launch before any sync begins.
type FileActionQueue struct {
	db  *gormdb.DB
	drv *libkvm.Driver[string, string, FileActionRecord]
}

// NewFileActionQueue opens the action-queue table backed by db.
func NewFileActionQueue(db *gormdb.DB) *FileActionQueue {
	t := &blobTable{db: db, prefix: "action:"}
	return &FileActionQueue{db: db, drv: &libkvm.Driver[string, string, FileActionRecord]{
		FctGet:  t.get,
		FctSet:  t.set,
		FctList: t.list,
	}}
}

// Enqueue persists one pending action, replacing any queued for the
// same path.
func (q *FileActionQueue) Enqueue(rec FileActionRecord) liberr.Error {
	if err := q.drv.Set(rec.Path, rec); err != nil {
		return liberr.NewErrorTrace(int(ErrorQueryFailed), getMessage(ErrorQueryFailed), "", 0, err)
	}
	return nil
}

// Drain returns every queued action and clears the queue, for a
// caller to execute on next launch (spec §4.5 "these actions are
// drained before any sync begins").
func (q *FileActionQueue) Drain() ([]FileActionRecord, liberr.Error) {
	paths, err := q.drv.List()
	if err != nil {
		return nil, liberr.NewErrorTrace(int(ErrorQueryFailed), getMessage(ErrorQueryFailed), "", 0, err)
	}

	out := make([]FileActionRecord, 0, len(paths))
	t := &blobTable{db: q.db, prefix: "action:"}
	for _, p := range paths {
		var rec FileActionRecord
		if err := q.drv.Get(p, &rec); err != nil {
			continue
		}
		out = append(out, rec)
		_ = t.del(p)
	}
	return out, nil
}
