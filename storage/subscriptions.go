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
	"encoding/json"

	liberr "github.com/realm-sync/core/errors"
	"github.com/realm-sync/core/subscription"
)

// PersistedSubscriptionSet is the durable counterpart of
// subscription.Set, surviving a restart mid-bootstrap (spec §3, §4.3
// step 3).
type PersistedSubscriptionSet struct {
	Version    uint64
	Queries    []string
	State      subscription.State
	ErrMessage string
}

// SaveSubscriptionSet persists one SubscriptionSet's current state, so
// the coordinator can resume a bootstrap in progress after a restart
// instead of starting every subscription over.
func (s *Store) SaveSubscriptionSet(set PersistedSubscriptionSet) liberr.Error {
	data, err := json.Marshal(set.Queries)
	if err != nil {
		return s.wrapErr(ErrorQueryFailed, err)
	}
	row := subscriptionSetRow{
		Version:     set.Version,
		QueriesJSON: string(data),
		State:       uint8(set.State),
		ErrMessage:  set.ErrMessage,
	}
	return s.wrapErr(ErrorQueryFailed, s.db.Save(&row).Error)
}

// LoadSubscriptionSets returns every persisted SubscriptionSet, ordered
// by version, for the coordinator to rehydrate its in-memory registry
// with on launch.
func (s *Store) LoadSubscriptionSets() ([]PersistedSubscriptionSet, liberr.Error) {
	var rows []subscriptionSetRow
	if err := s.db.Order("version ASC").Find(&rows).Error; err != nil {
		return nil, s.wrapErr(ErrorQueryFailed, err)
	}

	out := make([]PersistedSubscriptionSet, 0, len(rows))
	for _, r := range rows {
		var queries []string
		_ = json.Unmarshal([]byte(r.QueriesJSON), &queries)
		out = append(out, PersistedSubscriptionSet{
			Version:    r.Version,
			Queries:    queries,
			State:      subscription.State(r.State),
			ErrMessage: r.ErrMessage,
		})
	}
	return out, nil
}
