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

package connection

import "github.com/realm-sync/core/wire"

// Dispatcher receives the typed server->client messages a Connection
// decodes off the wire and routes by SessionRef (spec §4.2 "dispatch
// to sessions"). Session implements this; Connection never interprets
// message contents beyond the routing key.
type Dispatcher interface {
	OnIdent(wire.IdentResponse)
	OnDownload(wire.Download)
	OnMarkAck(wire.MarkAck)
	OnUnbound(wire.Unbound)
	// OnSessionError delivers a session-level ServerError (spec §7);
	// connection-level errors (SessionIdent == "") never reach here,
	// Connection handles those itself via onServerError.
	OnSessionError(wire.ServerError)
	OnQueryError(wire.QueryError)
	OnTestCommandReply(wire.TestCommandReply)
}

// registry maps a SessionRef to the Dispatcher (Session) bound to it.
// It keeps no reverse index; senders leave the enlist queue by ref
// through the send queue's own Remove.
type registry struct {
	byRef map[uint64]Dispatcher
}

func newRegistry() *registry {
	return &registry{byRef: make(map[uint64]Dispatcher)}
}

func (r *registry) bind(ref uint64, d Dispatcher) { r.byRef[ref] = d }
func (r *registry) unbind(ref uint64)             { delete(r.byRef, ref) }
func (r *registry) lookup(ref uint64) (Dispatcher, bool) {
	d, ok := r.byRef[ref]
	return d, ok
}
func (r *registry) len() int { return len(r.byRef) }
