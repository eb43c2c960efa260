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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/hashicorp/go-retryablehttp"

	liberr "github.com/realm-sync/core/errors"
	liblog "github.com/realm-sync/core/logging"
	"github.com/realm-sync/core/storage"
)

// TokenRefresher exchanges a stale refresh token for a fresh
// access/refresh token pair against a remote token endpoint, the HTTP
// side of the Inactive -(revive with expired token)-> WaitingForAccessToken
// -(token)-> Active transition (spec §3). Its retry/backoff is the
// library's own bounded-attempt policy, deliberately simpler than and
// independent of the WebSocket-level reconnect.Controller: a failed
// token exchange leaves the session in WaitingForAccessToken rather
// than driving any transport-level state. Grounded on the teacher's
// artifact/gitlab client, the one place in the teacher package that
// drives a *retryablehttp.Client directly instead of through a
// vendored SDK's own option.
type TokenRefresher struct {
	cli *retryablehttp.Client
	log liblog.FuncLog
}

// NewTokenRefresher builds a refresher. retryMax overrides the
// library's default bounded-retry count (4) when non-zero. The
// library's own logger is disabled; log receives one line when a
// request still fails after its retries.
func NewTokenRefresher(retryMax int, log liblog.FuncLog) *TokenRefresher {
	if log == nil {
		log = func() liblog.Logger { return liblog.NewNop() }
	}
	cli := retryablehttp.NewClient()
	cli.Logger = nil
	if retryMax > 0 {
		cli.RetryMax = retryMax
	}
	return &TokenRefresher{cli: cli, log: log}
}

type tokenRefreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type tokenRefreshResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// Refresh POSTs rec's refresh token as JSON to endpoint and returns
// rec with AccessToken (and RefreshToken, if the server rotated it)
// replaced by the server's response.
func (t *TokenRefresher) Refresh(ctx context.Context, endpoint string, rec storage.UserRecord) (storage.UserRecord, liberr.Error) {
	body, err := json.Marshal(tokenRefreshRequest{RefreshToken: rec.RefreshToken})
	if err != nil {
		return rec, liberr.NewErrorTrace(int(ErrorTokenRefreshFailed), getMessage(ErrorTokenRefreshFailed), "", 0, err)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return rec, liberr.NewErrorTrace(int(ErrorTokenRefreshFailed), getMessage(ErrorTokenRefreshFailed), "", 0, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.cli.Do(req)
	if err != nil {
		t.log().Error("access token refresh request failed", liblog.Fields{"endpoint": endpoint, "err": err.Error()})
		return rec, liberr.NewErrorTrace(int(ErrorTokenRefreshFailed), getMessage(ErrorTokenRefreshFailed), "", 0, err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return rec, liberr.NewErrorTrace(int(ErrorTokenRefreshFailed), getMessage(ErrorTokenRefreshFailed), "", 0, err)
	}
	if resp.StatusCode != http.StatusOK {
		return rec, liberr.NewErrorTrace(int(ErrorTokenRefreshFailed), getMessage(ErrorTokenRefreshFailed), "", 0, fmt.Errorf("refresh endpoint returned status %d", resp.StatusCode))
	}

	var out tokenRefreshResponse
	if err = json.Unmarshal(raw, &out); err != nil {
		return rec, liberr.NewErrorTrace(int(ErrorTokenRefreshFailed), getMessage(ErrorTokenRefreshFailed), "", 0, err)
	}

	rec.AccessToken = out.AccessToken
	if out.RefreshToken != "" {
		rec.RefreshToken = out.RefreshToken
	}
	return rec, nil
}

// RefreshToken looks up identity's persisted refresh token, exchanges
// it through refresher against endpoint, and persists the result. It
// does not touch any Session: the blocking HTTP round-trip this makes
// must never run on a Session's event loop, so the caller (syncengine)
// runs this off-loop and posts only the resulting sess.TokenAcquired()
// call to the loop once this returns (spec §5 tier 1/tier 3 split).
func (m *Manager) RefreshToken(ctx context.Context, identity Identity, refresher *TokenRefresher, endpoint string) (storage.UserRecord, liberr.Error) {
	rec, ok, err := m.User(identity.UserIdentity)
	if err != nil {
		return storage.UserRecord{}, err
	}
	if !ok {
		return storage.UserRecord{}, liberr.NewErrorTrace(int(ErrorUnknownIdentity), getMessage(ErrorUnknownIdentity), "", 0, nil)
	}

	rec, err = refresher.Refresh(ctx, endpoint, rec)
	if err != nil {
		return storage.UserRecord{}, err
	}
	rec.UserIdentity = identity.UserIdentity
	rec.DatabasePath = identity.Path
	if err = m.PutUser(rec); err != nil {
		return storage.UserRecord{}, err
	}
	return rec, nil
}
