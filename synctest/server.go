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

package synctest

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"

	"nhooyr.io/websocket"

	"github.com/realm-sync/core/wire"
)

// Server is a scriptable stand-in for the sync server's WebSocket
// endpoint. It runs a real httptest.Server and a real
// nhooyr.io/websocket.Accept handshake, so a Connection under test
// dials it exactly as it would dial production - no seam is added to
// connection.go for this. The fake part is everything above the
// handshake: Server hands each accepted *websocket.Conn to the test via
// Accepted, and the test drives Send/ReadClient/Close itself, the same
// connection-lifecycle shape as
// other_examples/f3b6f86f_getfinn-finn__internal-websocket-client.go.go's
// Client but played from the server side.
type Server struct {
	httpSrv  *httptest.Server
	mode     wire.SyncMode
	protocol string

	mu       sync.Mutex
	accepted chan *ServerConn
}

// NewServer starts a fake server advertising mode's sub-protocols and
// accepting the highest one a client offers (spec §4.2 negotiation).
func NewServer(mode wire.SyncMode) *Server {
	s := &Server{
		mode:     mode,
		accepted: make(chan *ServerConn, 8),
	}
	s.httpSrv = httptest.NewServer(http.HandlerFunc(s.handle))
	return s
}

// URL is the ws:// endpoint a connection.Config should dial.
func (s *Server) URL() string {
	return "ws" + strings.TrimPrefix(s.httpSrv.URL, "http")
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols: wire.SubProtocols(s.mode),
	})
	if err != nil {
		return
	}

	sc := &ServerConn{conn: conn, ctx: r.Context()}
	select {
	case s.accepted <- sc:
	default:
	}
}

// Accept blocks until a client has completed the handshake, returning
// the server-side handle to its connection.
func (s *Server) Accept(ctx context.Context) (*ServerConn, bool) {
	select {
	case sc := <-s.accepted:
		return sc, true
	case <-ctx.Done():
		return nil, false
	}
}

// Close tears down the underlying httptest.Server.
func (s *Server) Close() {
	s.httpSrv.Close()
}

// ServerConn is the server side of one accepted fake connection, used
// by a test to script frames toward the client under test and observe
// what the client sends.
type ServerConn struct {
	conn *websocket.Conn
	ctx  context.Context
}

// SendFrame encodes v as Kind k and writes it to the client.
func (sc *ServerConn) SendFrame(k wire.Kind, v interface{}) error {
	b, err := wire.Encode(k, v)
	if err != nil {
		return err
	}
	return sc.conn.Write(sc.ctx, websocket.MessageBinary, b)
}

// ReadFrame blocks for the next frame the client under test writes.
func (sc *ServerConn) ReadFrame() (wire.Frame, error) {
	_, data, err := sc.conn.Read(sc.ctx)
	if err != nil {
		return wire.Frame{}, err
	}
	f, verr := wire.Decode(data)
	if verr != nil {
		return wire.Frame{}, verr
	}
	return f, nil
}

// CloseNow drops the connection without a close handshake, the fake
// equivalent of a server-side network failure (spec §4.1 termination
// reasons ConnectOperationFailed / ReadOrWriteFailed).
func (sc *ServerConn) CloseNow() error {
	return sc.conn.CloseNow()
}

// Close sends a normal WebSocket close frame with code and reason, the
// fake equivalent of a deliberate server-initiated disconnect.
func (sc *ServerConn) Close(code websocket.StatusCode, reason string) error {
	return sc.conn.Close(code, reason)
}
