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

// Package syncengine is the top-level Engine (spec §4, the sum of C1-C5):
// it owns one reconnect.Controller, one coordinator.Registry, a
// MultiplexSessions-aware set of connection.Connections keyed by
// ServerEndpoint, and one sessionmgr.Manager, wiring them together the
// way spec §4.5 describes get_session doing on a cache miss. Grounded
// on the teacher's component-wiring style (config/components/database
// building one handle per named instance and caching it), adapted here
// to this module's own registries instead of the teacher's
// libctx.Config[string] component map.
package syncengine

import (
	"context"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/realm-sync/core/config"
	"github.com/realm-sync/core/connection"
	"github.com/realm-sync/core/coordinator"
	libgorm "github.com/realm-sync/core/database/gorm"
	liberr "github.com/realm-sync/core/errors"
	liblog "github.com/realm-sync/core/logging"
	"github.com/realm-sync/core/metrics"
	"github.com/realm-sync/core/reconnect"
	"github.com/realm-sync/core/session"
	"github.com/realm-sync/core/sessionmgr"
	"github.com/realm-sync/core/storage"
	"github.com/realm-sync/core/wire"
	"golang.org/x/sync/errgroup"
	gormdb "gorm.io/gorm"
)

// SessionRequest is everything OpenSession needs to resolve or build a
// SessionWrapper for one (user, database) pair: the server endpoint to
// sync against and the local/remote identifiers of spec §6.
type SessionRequest struct {
	UserIdentity    string
	Endpoint        reconnect.Endpoint
	URL             string
	DBPath          string
	Partition       string // empty for flexible sync
	Mode            wire.SyncMode
	ProtocolVersion uint32
}

func (r SessionRequest) validate() liberr.Error {
	if r.UserIdentity == "" || r.DBPath == "" || r.URL == "" {
		return liberr.NewErrorTrace(int(ErrorParamEmpty), getMessage(ErrorParamEmpty), "", 0, nil)
	}
	return nil
}

// Engine is the module's single composition root: construct one per
// process (or per isolated app-configuration, in a host that embeds
// several), call Activate, then OpenSession per (user, database) pair
// the host needs synced.
type Engine struct {
	cfg     *config.EngineConfig
	log     liblog.FuncLog
	metrics *metrics.Metrics

	coordinators   *coordinator.Registry
	sessions       *sessionmgr.Manager
	reconnectCtl   *reconnect.Controller
	tokenRefresher *sessionmgr.TokenRefresher

	mu            sync.Mutex
	connections   map[reconnect.Endpoint]*connection.Connection
	allConnections []*connection.Connection
	nextRef       uint64

	ctx    context.Context
	cancel context.CancelFunc
	closed bool
}

// New builds an Engine from cfg. If cfg.MetadataMode() is not
// MetadataNone, a metadata database is opened under cfg.BaseFilePath
// to back the persisted user list and file-action queue (spec §6.2);
// MetadataNone runs sessionmgr with in-memory-only bookkeeping for the
// lifetime of this process, the degradation spec §6.3 metadata_mode
// explicitly allows.
func New(ctx context.Context, cfg *config.EngineConfig, m *metrics.Metrics, log liblog.FuncLog) (*Engine, liberr.Error) {
	if cfg == nil {
		return nil, liberr.NewErrorTrace(int(ErrorParamEmpty), getMessage(ErrorParamEmpty), "", 0, nil)
	}
	if log == nil {
		log = func() liblog.Logger { return liblog.NewNop() }
	}

	var actions *storage.FileActionQueue
	var users *storage.UserRegistry
	if cfg.MetadataMode() != config.MetadataNone {
		db, err := openRawSQLite(filepath.Join(cfg.BaseFilePath, "metadata.db"), "metadata", log)
		if err != nil {
			return nil, err
		}
		users = storage.NewUserRegistry(db)
		actions = storage.NewFileActionQueue(db)
	}

	eCtx, cancel := context.WithCancel(ctx)
	return &Engine{
		cfg:            cfg,
		log:            log,
		metrics:        m,
		coordinators:   coordinator.NewRegistry(log),
		sessions:       sessionmgr.NewManager(actions, users, log),
		reconnectCtl:   reconnect.New(cfg.ReconnectMode(), log),
		tokenRefresher: sessionmgr.NewTokenRefresher(cfg.TokenRefreshRetryMax, log),
		connections:    make(map[reconnect.Endpoint]*connection.Connection),
		ctx:            eCtx,
		cancel:         cancel,
	}, nil
}

// openRawSQLite opens (creating if absent) a sqlite handle at path
// through database/gorm's wrapper, the same construction storage.Open
// uses internally, returning the raw *gorm.DB a Coordinator or a
// metadata registry then drives directly.
func openRawSQLite(path, name string, log liblog.FuncLog) (*gormdb.DB, liberr.Error) {
	cfg := &libgorm.Config{
		Driver: libgorm.DriverSQLite,
		Name:   name,
		DSN:    path,
	}
	cfg.RegisterLogger(log, true, 0)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	db, err := libgorm.New(cfg)
	if err != nil {
		return nil, liberr.NewErrorTrace(int(ErrorOpenDatabaseFailed), getMessage(ErrorOpenDatabaseFailed), "", 0, err)
	}
	return db.GetDB(), nil
}

// OpenSession returns the SessionWrapper already registered for
// (req.UserIdentity, req.DBPath), or builds and registers a new one
// (spec §4.5). The caller owns one reference on the returned wrapper
// and must call Release when finished with it.
func (e *Engine) OpenSession(req SessionRequest) (*sessionmgr.SessionWrapper, liberr.Error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	if e.isClosed() {
		return nil, liberr.NewErrorTrace(int(ErrorEngineClosed), getMessage(ErrorEngineClosed), "", 0, nil)
	}

	identity := sessionmgr.Identity{UserIdentity: req.UserIdentity, Path: req.DBPath}
	return e.sessions.GetSession(identity, func(_ sessionmgr.Identity, w *sessionmgr.SessionWrapper) liberr.Error {
		coord, err := e.coordinators.Get(req.DBPath, func(path string) (*gormdb.DB, liberr.Error) {
			return openRawSQLite(path, "history", e.log)
		})
		if err != nil {
			return err
		}

		store, serr := storage.Attach(coord.DB())
		if serr != nil {
			return serr
		}

		ref := atomic.AddUint64(&e.nextRef, 1)
		sessCfg := session.Config{
			Path:             req.DBPath,
			Partition:        req.Partition,
			Mode:             req.Mode,
			ProtocolVersion:  req.ProtocolVersion,
			StopPolicy:       e.cfg.StopPolicy(),
			ClientResyncMode: e.cfg.ClientResyncMode(),
		}
		sess := session.New(ref, sessCfg, store, store, e.log)
		sess.SetClientResetHook(func(noRecovery bool) {
			go e.driveClientReset(req, sess, noRecovery)
		})

		conn := e.connectionFor(req.Endpoint, req.URL, req.Mode)
		conn.BindSession(ref, sess, sess)
		coord.AttachSession(sess)

		rec, ok, uerr := e.sessions.User(req.UserIdentity)
		if uerr != nil {
			return uerr
		}
		if rerr := sess.Revive(ok && rec.AccessToken != ""); rerr != nil {
			return rerr
		}

		w.Actualize(sess, conn, conn.Loop())
		if e.metrics != nil {
			e.metrics.ActiveSessions.Inc()
		}
		return nil
	})
}

// connectionFor returns the Connection for endpoint, honoring
// multiplex_sessions (spec §6.3): a shared Connection per endpoint when
// true, a fresh one per call otherwise.
func (e *Engine) connectionFor(ep reconnect.Endpoint, url string, mode wire.SyncMode) *connection.Connection {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.cfg.MultiplexSessions {
		if c, ok := e.connections[ep]; ok {
			return c
		}
	}

	conn := connection.New(connection.Config{
		Endpoint:             ep,
		URL:                  url,
		SyncMode:             mode,
		ConnectTimeout:       e.cfg.ConnectTimeout,
		ConnectionLingerTime: e.cfg.ConnectionLingerTime,
		PingKeepAlivePeriod:  e.cfg.PingKeepAlivePeriod,
		PongKeepAliveTimeout: e.cfg.PongKeepAliveTimeout,
	}, e.reconnectCtl, e.log)
	conn.Activate(e.ctx)
	if e.metrics != nil {
		e.metrics.ActiveConnections.Inc()
	}
	e.allConnections = append(e.allConnections, conn)

	if e.cfg.MultiplexSessions {
		e.connections[ep] = conn
	}
	return conn
}

// DrainPendingActions executes and clears every durably-queued
// file-action side effect left by a prior process (spec §4.5, §6.2
// "on next launch these actions are drained before any sync begins").
// Call this once, before the first OpenSession.
func (e *Engine) DrainPendingActions(executor func(storage.FileActionRecord) error) liberr.Error {
	return e.sessions.DrainPendingActions(executor)
}

// PutUser records a user's refresh/access token pair (spec §6.2).
func (e *Engine) PutUser(rec storage.UserRecord) liberr.Error {
	return e.sessions.PutUser(rec)
}

// User looks up a persisted token pair.
func (e *Engine) User(userIdentity string) (storage.UserRecord, bool, liberr.Error) {
	return e.sessions.User(userIdentity)
}

// RefreshAccessToken drives a wrapper's Session out of
// WaitingForAccessToken (spec §3) by exchanging the user's refresh
// token through the engine's TokenRefresher against cfg.TokenEndpoint.
// The blocking HTTP exchange runs on the caller's own goroutine; only
// the resulting TokenAcquired() transition is posted to the Session's
// own Connection loop, preserving the single-writer discipline every
// other Session mutation in this package follows.
func (e *Engine) RefreshAccessToken(ctx context.Context, w *sessionmgr.SessionWrapper) liberr.Error {
	sess, err := w.Session()
	if err != nil {
		return err
	}

	if _, err = e.sessions.RefreshToken(ctx, w.Identity, e.tokenRefresher, e.cfg.TokenEndpoint); err != nil {
		return err
	}

	done := make(chan liberr.Error, 1)
	w.Connection().Loop().Post(func() {
		done <- sess.TokenAcquired()
	})

	select {
	case err = <-done:
		return err
	case <-ctx.Done():
		return liberr.NewErrorTrace(int(ErrorEngineClosed), getMessage(ErrorEngineClosed), "", 0, ctx.Err())
	}
}

// Sessions exposes the underlying Manager for callers (admin tooling,
// tests) that need read-only introspection beyond OpenSession.
func (e *Engine) Sessions() *sessionmgr.Manager { return e.sessions }

// Coordinators exposes the underlying per-path registry.
func (e *Engine) Coordinators() *coordinator.Registry { return e.coordinators }

func (e *Engine) isClosed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}

// Close closes and stops every Connection this Engine ever opened
// (whether or not multiplex_sessions kept it cached) and marks the
// Engine unusable for further OpenSession calls. It does not
// force-close already-actualized SessionWrappers: callers still
// holding references are expected to Release them, which tears each
// Session down on its own Connection's loop (sessionmgr's own
// finalize contract) before that Connection's Stop() here can
// observe its loop goroutine exit. Every Connection is closed
// concurrently rather than one at a time, since each Stop() blocks
// until that Connection's own loop goroutine has drained.
func (e *Engine) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	conns := append([]*connection.Connection(nil), e.allConnections...)
	e.mu.Unlock()

	var g errgroup.Group
	for _, c := range conns {
		c := c
		g.Go(func() error {
			c.Close(e.ctx)
			c.Stop()
			return nil
		})
	}
	_ = g.Wait()

	e.cancel()
}
