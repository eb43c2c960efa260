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

package sessionmgr

import (
	"sync"

	"github.com/realm-sync/core/connection"
	liberr "github.com/realm-sync/core/errors"
	liblog "github.com/realm-sync/core/logging"
	"github.com/realm-sync/core/storage"
)

// Factory builds a fresh, actualized SessionWrapper the first time
// Manager.GetSession sees identity. Supplied by syncengine, which
// knows how to open the per-path Coordinator, dial the right
// Connection and construct the Session (spec §4.5 "On first
// get_session(user, config), creates and registers").
type Factory func(identity Identity, w *SessionWrapper) liberr.Error

// Manager maps (user_identity, database_path) -> live SessionWrapper
// (spec §4.5, C5) and persists the file-action side effects a
// terminated session leaves behind, so they survive a process
// restart until drained.
type Manager struct {
	log liblog.FuncLog

	mu       sync.Mutex
	sessions map[Identity]*SessionWrapper

	actions *storage.FileActionQueue
	users   *storage.UserRegistry
}

// NewManager builds a Manager. actions/users may be nil if the caller
// configured metadata_mode=None (spec §6.3): QueueFileAction then logs
// and drops file actions, DrainPendingActions has nothing to drain, and
// user lookups find nothing.
func NewManager(actions *storage.FileActionQueue, users *storage.UserRegistry, log liblog.FuncLog) *Manager {
	if log == nil {
		log = func() liblog.Logger { return liblog.NewNop() }
	}
	return &Manager{
		log:      log,
		sessions: make(map[Identity]*SessionWrapper),
		actions:  actions,
		users:    users,
	}
}

// GetSession returns the SessionWrapper already registered for
// identity, or builds one via build and registers it (spec §4.5 "On
// first get_session(user, config), creates and registers; subsequent
// calls return the existing handle"). The returned wrapper carries one
// reference the caller owns and must Release when done with it.
func (m *Manager) GetSession(identity Identity, build Factory) (*SessionWrapper, liberr.Error) {
	m.mu.Lock()
	if w, ok := m.sessions[identity]; ok {
		w.AddRef()
		m.mu.Unlock()
		return w, nil
	}
	w := newWrapper(identity, m.log, m.onWrapperFinalized)
	m.sessions[identity] = w
	m.mu.Unlock()

	if build != nil {
		if err := build(identity, w); err != nil {
			m.mu.Lock()
			delete(m.sessions, identity)
			m.mu.Unlock()
			return nil, err
		}
	}
	return w, nil
}

// Lookup returns the wrapper already registered for identity without
// creating one or taking a reference, for read-only callers (metrics,
// admin tooling).
func (m *Manager) Lookup(identity Identity) (*SessionWrapper, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.sessions[identity]
	return w, ok
}

// Len reports how many identities currently have a registered wrapper.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// onWrapperFinalized is the FinalizeFunc every wrapper this Manager
// creates is given: it removes the entry from the live map so a later
// GetSession for the same identity builds a fresh wrapper rather than
// handing back a Finalized one.
func (m *Manager) onWrapperFinalized(identity Identity, _ *connection.Connection) {
	m.mu.Lock()
	delete(m.sessions, identity)
	m.mu.Unlock()
}

// QueueFileAction durably records a pending delete or
// backup-then-delete for path, arising from a fatal error on the
// session at that path (spec §4.5 "route file-action side effects ...
// arising from fatal errors"). A nil actions store (metadata_mode=None)
// makes this a no-op beyond the log line.
func (m *Manager) QueueFileAction(path string, action storage.FileAction) liberr.Error {
	if m.actions == nil {
		m.log().Warning("file action dropped: no durable metadata store configured", liblog.Fields{"path": path, "action": string(action)})
		return nil
	}
	return m.actions.Enqueue(storage.FileActionRecord{Path: path, Action: action})
}

// DrainPendingActions returns every durably-queued file action and
// clears the queue, for the caller to execute before any session in
// this process binds (spec §4.5, §6.2 "on next launch these actions
// are drained before any sync begins"). executor is invoked once per
// record; a record whose executor call errors is logged and skipped
// rather than re-queued, matching the teacher's fire-and-forget
// cleanup style for already-queued destructive actions.
func (m *Manager) DrainPendingActions(executor func(storage.FileActionRecord) error) liberr.Error {
	if m.actions == nil {
		return nil
	}
	records, err := m.actions.Drain()
	if err != nil {
		return err
	}
	for _, rec := range records {
		if executor == nil {
			continue
		}
		if execErr := executor(rec); execErr != nil {
			m.log().Error("pending file action failed", liblog.Fields{"path": rec.Path, "action": string(rec.Action), "err": execErr.Error()})
		}
	}
	return nil
}

// PutUser records/updates a user's refresh/access token pair (spec
// §4.5, §6.2 "persisted user list"). A nil users store is a no-op.
func (m *Manager) PutUser(rec storage.UserRecord) liberr.Error {
	if m.users == nil {
		return nil
	}
	return m.users.Put(rec)
}

// User looks up a persisted token pair for userIdentity.
func (m *Manager) User(userIdentity string) (storage.UserRecord, bool, liberr.Error) {
	if m.users == nil {
		return storage.UserRecord{}, false, nil
	}
	return m.users.Get(userIdentity)
}
