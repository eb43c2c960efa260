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

package coordinator

import (
	"sync"

	libatm "github.com/realm-sync/core/atomic"
	liberr "github.com/realm-sync/core/errors"
	liblog "github.com/realm-sync/core/logging"
	"github.com/realm-sync/core/session"
	gormdb "gorm.io/gorm"
)

// notifyee is the subset of session.Session the Coordinator needs: the
// spec §5 happens-before edge ("Coordinator's commit_write() notifies
// the session of the new client version before returning").
type notifyee interface {
	NotifyLocalCommit()
}

var _ notifyee = (*session.Session)(nil)

// Coordinator is the Realm Coordinator of spec §4.4 (C4): one instance
// per absolute database path, serializing writes against that
// database and exposing both a synchronous transaction API
// (BeginRead/PromoteToWrite/CommitWrite) and an asynchronous write
// queue (AsyncWrite) with grouped commits.
type Coordinator struct {
	path string
	db   *gormdb.DB
	open Opener
	log  liblog.FuncLog

	version libatm.Value[uint64]
	schema  schemaCache

	writeMu sync.Mutex // the single write mutex spec §4.4 describes

	mu               sync.Mutex
	closed           bool
	nextHandle       uint64
	queue            []*pendingWrite
	writerRunning    bool
	grouped          []*pendingWrite
	inCommitCallback bool
	sessions         []notifyee

	notifier *Notifier
}

func newCoordinator(path string, db *gormdb.DB, log liblog.FuncLog) *Coordinator {
	if log == nil {
		log = func() liblog.Logger { return liblog.NewNop() }
	}
	c := &Coordinator{path: path, db: db, log: log, version: libatm.NewValue[uint64]()}
	c.notifier = newNotifier(c)
	return c
}

// Path returns the absolute database path this Coordinator is keyed
// on (spec §4.4 "One Coordinator per absolute database path").
func (c *Coordinator) Path() string { return c.path }

// DB returns the underlying handle, for components (storage,
// sessionmgr) that need to run their own queries outside the
// Coordinator's write-serialization machinery (e.g. read-only
// metadata lookups).
func (c *Coordinator) DB() *gormdb.DB { return c.db }

// Version reports the Coordinator's currently committed transaction
// version.
func (c *Coordinator) Version() uint64 { return c.version.Load() }

// Schema exposes the shared schema cache (spec §4.4 "schema cache").
func (c *Coordinator) Schema() *schemaCache { return &c.schema }

// Notifier exposes the background notifier worker (spec §4.4
// "Notifier worker").
func (c *Coordinator) Notifier() *Notifier { return c.notifier }

// AttachSession registers s to receive NotifyLocalCommit after every
// write this Coordinator commits (spec §5 happens-before edge).
func (c *Coordinator) AttachSession(s notifyee) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessions = append(c.sessions, s)
}

// DetachSession removes s, e.g. once its Session has been closed.
func (c *Coordinator) DetachSession(s notifyee) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, sess := range c.sessions {
		if sess == s {
			c.sessions = append(c.sessions[:i], c.sessions[i+1:]...)
			return
		}
	}
}

func (c *Coordinator) notifySessions() {
	c.mu.Lock()
	sessions := append([]notifyee(nil), c.sessions...)
	c.mu.Unlock()
	for _, s := range sessions {
		s.NotifyLocalCommit()
	}
}

func (c *Coordinator) bumpVersion() uint64 {
	for {
		old := c.version.Load()
		next := old + 1
		if c.version.CompareAndSwap(old, next) {
			return next
		}
	}
}

// ReadTxn is a pinned read transaction returned by BeginRead.
type ReadTxn struct {
	tx      *gormdb.DB
	version uint64
	frozen  bool
}

// Version is the transaction-version this read is pinned at.
func (r *ReadTxn) Version() uint64 { return r.version }

// Tx exposes the underlying gorm handle for queries against this read
// transaction.
func (r *ReadTxn) Tx() *gormdb.DB { return r.tx }

// WriteTxn is a read transaction promoted to a writer.
type WriteTxn struct {
	tx *gormdb.DB
}

// Tx exposes the underlying gorm handle for writes against this
// transaction.
func (w *WriteTxn) Tx() *gormdb.DB { return w.tx }

// BeginRead opens a read transaction pinned at the Coordinator's
// current version (spec §4.4 "synchronous begin_read(version,
// frozen?)"). frozen marks the snapshot as one a client-reset
// before-listener holds onto past the transaction's natural scope.
func (c *Coordinator) BeginRead(frozen bool) (*ReadTxn, liberr.Error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, liberr.NewErrorTrace(int(ErrorAlreadyClosed), getMessage(ErrorAlreadyClosed), "", 0, nil)
	}
	c.mu.Unlock()

	tx := c.db.Begin()
	if tx.Error != nil {
		return nil, c.wrapErr(ErrorAlreadyClosed, tx.Error)
	}
	return &ReadTxn{tx: tx, version: c.Version(), frozen: frozen}, nil
}

// PromoteToWrite upgrades rt to a writer, blocking the caller until
// the write mutex is granted (spec §4.4 "promote_to_write()").
func (c *Coordinator) PromoteToWrite(rt *ReadTxn) (*WriteTxn, liberr.Error) {
	if rt == nil {
		return nil, liberr.NewErrorTrace(int(ErrorNoActiveReadTransaction), getMessage(ErrorNoActiveReadTransaction), "", 0, nil)
	}
	c.writeMu.Lock()
	return &WriteTxn{tx: rt.tx}, nil
}

// CommitWrite commits wt, advances the Coordinator's version, and
// notifies every attached session before returning — the spec §5
// happens-before edge between a local commit and the first UPLOAD
// that carries its version.
func (c *Coordinator) CommitWrite(wt *WriteTxn) (uint64, liberr.Error) {
	defer c.writeMu.Unlock()
	if err := wt.tx.Commit().Error; err != nil {
		return 0, c.wrapErr(ErrorAlreadyClosed, err)
	}
	newVersion := c.bumpVersion()
	c.notifySessions()
	c.notifier.Wake()
	return newVersion, nil
}

// RollbackWrite abandons wt without committing, releasing the write
// mutex.
func (c *Coordinator) RollbackWrite(wt *WriteTxn) {
	defer c.writeMu.Unlock()
	_ = wt.tx.Rollback()
}

// Compact reclaims free space in the database file (spec §4.4
// "compact()").
func (c *Coordinator) Compact() liberr.Error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.wrapErr(ErrorAlreadyClosed, c.db.Exec("VACUUM").Error)
}

// DeleteAndReopen reopens the database via the Opener the Registry
// originally used, e.g. for a client reset discarding a corrupt
// fresh-copy file (spec §4.4 "delete_and_reopen()"). It removes no
// file and does not close the old handle itself: the handle the Opener
// returns replaces the current one, and the version and schema cache
// are reset.
func (c *Coordinator) DeleteAndReopen() liberr.Error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.open == nil {
		return liberr.NewErrorTrace(int(ErrorAlreadyClosed), getMessage(ErrorAlreadyClosed), "", 0, nil)
	}
	db, err := c.open(c.path)
	if err != nil {
		return err
	}
	c.db = db
	c.version.Store(0)
	c.schema = schemaCache{}
	return nil
}

func (c *Coordinator) wrapErr(code liberr.CodeError, err error) liberr.Error {
	if err == nil {
		return nil
	}
	return liberr.NewErrorTrace(int(code), getMessage(code), "", 0, err)
}
