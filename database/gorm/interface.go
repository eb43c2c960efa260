/*
 * MIT License
 *
 * Copyright (c) 2022 Nicolas JUHEL
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

// Package gorm wraps a single-file sqlite database (the sync client's
// local store: history, schema cache, subscriptions, pending
// bootstraps) with the connection lifecycle, logging and validation
// conventions the rest of the module uses for every external resource.
package gorm

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	liberr "github.com/realm-sync/core/errors"
	liblog "github.com/realm-sync/core/logging"
	gormdb "gorm.io/gorm"
	gorlog "gorm.io/gorm/logger"
)

// FuncGormLog returns a GORM logger interface directly, for callers
// that want full control instead of going through RegisterLogger.
type FuncGormLog func() gorlog.Interface

// Database wraps a GORM DB instance with connection lifecycle,
// logging and health-check helpers.
type Database interface {
	// GetDB returns the underlying GORM DB instance.
	GetDB() *gormdb.DB

	// SetDb replaces the underlying GORM DB instance.
	SetDb(db *gormdb.DB)

	// Close closes the database connection and releases resources.
	// Safe to call multiple times.
	Close()

	// WaitNotify blocks until the context is cancelled or the
	// process receives a termination signal, then closes the database.
	WaitNotify(ctx context.Context, cancel context.CancelFunc)

	// CheckConn verifies the database connection is alive.
	CheckConn() liberr.Error

	// Config returns the GORM configuration used by this database.
	Config() *gormdb.Config

	// RegisterContext registers a context used for cancellation and deadlines.
	RegisterContext(fct context.Context)

	// RegisterLogger wires a structured logging.FuncLog into GORM's own
	// logging hook via the logging.NewGormLogger adapter.
	RegisterLogger(fct liblog.FuncLog, ignoreRecordNotFoundError bool, slowThreshold time.Duration)

	// RegisterGORMLogger wires a raw gorlog.Interface, bypassing the adapter.
	RegisterGORMLogger(fct FuncGormLog)
}

// New creates a new Database instance with the given configuration.
// The configuration is not validated here; New does not call Config.Validate.
func New(cfg *Config) (Database, liberr.Error) {
	if d, e := cfg.New(nil); e != nil {
		return nil, e
	} else {
		v := new(atomic.Value)
		v.Store(d)

		c := new(atomic.Value)
		c.Store(cfg)

		return &database{
			m: sync.Mutex{},
			v: v,
			c: c,
		}, nil
	}
}
