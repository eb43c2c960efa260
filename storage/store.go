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
	"fmt"

	libgorm "github.com/realm-sync/core/database/gorm"
	liberr "github.com/realm-sync/core/errors"
	liblog "github.com/realm-sync/core/logging"
	"github.com/realm-sync/core/session"
	gormdb "gorm.io/gorm"
)

var _ session.History = (*Store)(nil)
var _ session.BootstrapStore = (*Store)(nil)

// Store is the history file: one sqlite database per spec.md §6.2,
// opened through database/gorm's sqlite-only wrapper.
type Store struct {
	db *gormdb.DB
}

// Open opens (creating if absent) the history file at path and runs
// the schema migration. path is a plain filesystem path; an empty path
// opens an in-memory database, useful for the fresh-copy file of a
// client reset that is discarded after merge (spec §6.2 "Fresh-copy
// file").
func Open(path string, log liblog.FuncLog) (*Store, liberr.Error) {
	dsn := path
	if dsn == "" {
		dsn = "file::memory:?cache=shared"
	}

	cfg := &libgorm.Config{
		Driver: libgorm.DriverSQLite,
		Name:   "history",
		DSN:    dsn,
	}
	if log != nil {
		cfg.RegisterLogger(log, true, 0)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	db, err := libgorm.New(cfg)
	if err != nil {
		return nil, err
	}

	return newStore(db.GetDB())
}

// Attach wraps an already-opened database handle as a Store, running
// the same schema migration Open runs. It exists for callers (the
// syncengine package) that must route all history-table traffic
// through the single *gormdb.DB the Coordinator owns, rather than
// opening a second handle against the same file and violating spec
// §4.4 "exactly one shared database handle" (spec §3 "Ownership
// rules").
func Attach(db *gormdb.DB) (*Store, liberr.Error) {
	return newStore(db)
}

func newStore(db *gormdb.DB) (*Store, liberr.Error) {
	if db == nil {
		return nil, liberr.NewErrorTrace(int(ErrorNotInitialized), getMessage(ErrorNotInitialized), "", 0, nil)
	}
	if err := db.AutoMigrate(allModels()...); err != nil {
		return nil, liberr.NewErrorTrace(int(ErrorMigrationFailed), getMessage(ErrorMigrationFailed), "", 0, err)
	}
	return &Store{db: db}, nil
}

func (s *Store) wrapErr(code liberr.CodeError, err error) liberr.Error {
	if err == nil {
		return nil
	}
	return liberr.NewErrorTrace(int(code), fmt.Sprintf("%s: %v", getMessage(code), err), "", 0, err)
}
