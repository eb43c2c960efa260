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

// Package subscription implements the flexible-sync SubscriptionSet
// lifecycle (spec §3, §4.3 step 3, scenario S4): an immutable, versioned
// tuple of queries moving Uncommitted -> Pending -> Bootstrapping ->
// AwaitingMark -> Complete, or into Error / Superseded.
package subscription

import (
	"sync"

	liberr "github.com/realm-sync/core/errors"
)

// State is one SubscriptionSet's lifecycle position (spec §3).
type State uint8

const (
	StateUncommitted State = iota
	StatePending
	StateBootstrapping
	StateAwaitingMark
	StateComplete
	StateError
	StateSuperseded
)

func (s State) String() string {
	switch s {
	case StateUncommitted:
		return "Uncommitted"
	case StatePending:
		return "Pending"
	case StateBootstrapping:
		return "Bootstrapping"
	case StateAwaitingMark:
		return "AwaitingMark"
	case StateComplete:
		return "Complete"
	case StateError:
		return "Error"
	case StateSuperseded:
		return "Superseded"
	default:
		return "Unknown"
	}
}

// terminal reports whether a state has no further transitions.
func (s State) terminal() bool {
	return s == StateComplete || s == StateError || s == StateSuperseded
}

// Set is one immutable, versioned subscription (set of queries).
type Set struct {
	Version uint64
	Queries []string
	state   State
	errMsg  string
}

func (s *Set) State() State { return s.state }

// Registry tracks every SubscriptionSet version a Session has created
// and enforces that only one version is Active (Bootstrapping,
// AwaitingMark, or Complete and not yet superseded) at a time.
type Registry struct {
	mu   sync.Mutex
	sets map[uint64]*Set
}

func NewRegistry() *Registry {
	return &Registry{sets: make(map[uint64]*Set)}
}

// Add registers a new, Uncommitted subscription set version. Any lower
// version not yet Complete, Error or Superseded is superseded (spec §3:
// "newer Pending versions enter Bootstrapping when the server begins
// replying"; an even-newer version arriving first supersedes it).
func (r *Registry) Add(version uint64, queries []string) *Set {
	r.mu.Lock()
	defer r.mu.Unlock()

	for v, s := range r.sets {
		if v < version && !s.state.terminal() {
			s.state = StateSuperseded
		}
	}

	set := &Set{Version: version, Queries: queries, state: StateUncommitted}
	r.sets[version] = set
	return set
}

// Commit moves a set from Uncommitted to Pending once the client has
// sent its QUERY message for it.
func (r *Registry) Commit(version uint64) liberr.Error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sets[version]
	if !ok {
		return liberr.NewErrorTrace(int(ErrorUnknownVersion), getMessage(ErrorUnknownVersion), "", 0, nil)
	}
	if s.state != StateUncommitted {
		return liberr.NewErrorTrace(int(ErrorInvalidTransition), getMessage(ErrorInvalidTransition), "", 0, nil)
	}
	s.state = StatePending
	return nil
}

// OnBootstrapMessageStored transitions Pending -> Bootstrapping after
// the first bootstrap DOWNLOAD for this query version has been stored
// in the PendingBootstrap buffer (spec §4.3 step 3, scenario S4).
func (r *Registry) OnBootstrapMessageStored(version uint64) liberr.Error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sets[version]
	if !ok {
		return liberr.NewErrorTrace(int(ErrorUnknownVersion), getMessage(ErrorUnknownVersion), "", 0, nil)
	}
	if s.state != StatePending && s.state != StateBootstrapping {
		return liberr.NewErrorTrace(int(ErrorInvalidTransition), getMessage(ErrorInvalidTransition), "", 0, nil)
	}
	s.state = StateBootstrapping
	return nil
}

// OnBootstrapDrained transitions Bootstrapping -> AwaitingMark once the
// LastInBatch message has drained the pending store (spec §4.3 step 3).
func (r *Registry) OnBootstrapDrained(version uint64) liberr.Error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sets[version]
	if !ok {
		return liberr.NewErrorTrace(int(ErrorUnknownVersion), getMessage(ErrorUnknownVersion), "", 0, nil)
	}
	if s.state != StateBootstrapping {
		return liberr.NewErrorTrace(int(ErrorInvalidTransition), getMessage(ErrorInvalidTransition), "", 0, nil)
	}
	s.state = StateAwaitingMark
	return nil
}

// OnMarkAck transitions AwaitingMark -> Complete upon the matching MARK
// reply (spec §4.3 step 3, scenario S4).
func (r *Registry) OnMarkAck(version uint64) liberr.Error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sets[version]
	if !ok {
		return liberr.NewErrorTrace(int(ErrorUnknownVersion), getMessage(ErrorUnknownVersion), "", 0, nil)
	}
	if s.state != StateAwaitingMark {
		return liberr.NewErrorTrace(int(ErrorInvalidTransition), getMessage(ErrorInvalidTransition), "", 0, nil)
	}
	s.state = StateComplete
	return nil
}

// OnQueryError moves a set to Error; it does not affect any other
// active query (spec §6.1 QUERY_ERROR semantics).
func (r *Registry) OnQueryError(version uint64, msg string) liberr.Error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sets[version]
	if !ok {
		return liberr.NewErrorTrace(int(ErrorUnknownVersion), getMessage(ErrorUnknownVersion), "", 0, nil)
	}
	s.state = StateError
	s.errMsg = msg
	return nil
}

// Active returns the single currently-Active set, defined here as the
// most advanced non-terminal-or-Complete set still tracked, or the most
// recent Complete set if nothing newer is in flight.
func (r *Registry) Active() *Set {
	r.mu.Lock()
	defer r.mu.Unlock()

	var best *Set
	for _, s := range r.sets {
		if s.state == StateSuperseded || s.state == StateError {
			continue
		}
		if best == nil || s.Version > best.Version {
			best = s
		}
	}
	return best
}

// Get returns the set for a given version, if tracked.
func (r *Registry) Get(version uint64) (*Set, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sets[version]
	return s, ok
}
