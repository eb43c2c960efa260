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

// Package connection owns one WebSocket to a server endpoint: dial and
// reconnect, the PING/PONG heartbeat, frame parsing and dispatch to
// sessions, and fair scheduling of outbound writes (spec §4.2, C2).
// Grounded on nhooyr.io/websocket's Dial/Read/Write/Close surface, in
// the connection-lifecycle shape of
// other_examples/f3b6f86f_getfinn-finn__internal-websocket-client.go.go,
// adapted onto this module's loop.Scheduler instead of ad hoc pump
// goroutines plus a raw context.
package connection

import (
	"context"
	"crypto/tls"
	"net/http"
	"strconv"
	"sync"
	"time"

	"nhooyr.io/websocket"

	liberr "github.com/realm-sync/core/errors"
	"github.com/realm-sync/core/loop"
	liblog "github.com/realm-sync/core/logging"
	"github.com/realm-sync/core/reconnect"
	"github.com/realm-sync/core/wire"
)

// Config carries the timer tunables of spec §6.3 that govern one
// Connection.
type Config struct {
	Endpoint             reconnect.Endpoint
	URL                  string
	SyncMode             wire.SyncMode
	TLSConfig            *tls.Config
	ConnectTimeout       time.Duration
	ConnectionLingerTime time.Duration
	PingKeepAlivePeriod  time.Duration
	PongKeepAliveTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 30 * time.Second
	}
	if c.PingKeepAlivePeriod <= 0 {
		c.PingKeepAlivePeriod = 60 * time.Second
	}
	if c.PongKeepAliveTimeout <= 0 {
		c.PongKeepAliveTimeout = 30 * time.Second
	}
	return c
}

// Connection is a single WebSocket to one ServerEndpoint, multiplexing
// zero or more Sessions (spec §4.2).
type Connection struct {
	cfg Config
	log liblog.FuncLog
	ctl *reconnect.Controller
	lp  loop.Scheduler

	mu    sync.Mutex
	state State
	fl    flags
	ws    *websocket.Conn

	reg   *registry
	sendQ *sendQueue

	lastPingSentAt uint64
	rtt            time.Duration

	cancelHeartbeat context.CancelFunc
	lingerGen       uint64
	actCtx          context.Context
}

// New constructs a Connection bound to its own loop.Scheduler. The
// scheduler is not started here; callers start it alongside Activate.
func New(cfg Config, ctl *reconnect.Controller, log liblog.FuncLog) *Connection {
	if log == nil {
		log = func() liblog.Logger { return liblog.NewNop() }
	}
	return &Connection{
		cfg:   cfg.withDefaults(),
		log:   log,
		ctl:   ctl,
		lp:    loop.New(256),
		reg:   newRegistry(),
		sendQ: newSendQueue(),
	}
}

// State returns the current top-level transport state.
func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Loop returns the event-loop scheduler this Connection's Sessions run
// on, so a caller that owns a Session bound to this Connection (the
// syncengine package, orchestrating sessionmgr.SessionWrapper teardown)
// can post its own continuations to the same goroutine BindSession and
// UnbindSession already post to, rather than opening a second loop a
// Session's state would then be read from concurrently (spec §5 tier 1
// single-writer discipline).
func (c *Connection) Loop() loop.Scheduler {
	return c.lp
}

// Activate arms the first reconnect wait and starts the event loop
// (spec §4.2 "an external call that arms the first reconnect-wait").
func (c *Connection) Activate(ctx context.Context) {
	c.mu.Lock()
	if c.fl.activated {
		c.mu.Unlock()
		return
	}
	c.fl.activated = true
	c.actCtx = ctx
	c.mu.Unlock()

	c.lp.Start(ctx)
	c.lp.Post(func() { c.connectLocked(ctx) })
}

// BindSession enlists a Dispatcher under ref so inbound replies with
// that SessionRef are routed to it, and adds it to the send FIFO.
func (c *Connection) BindSession(ref uint64, d Dispatcher, sender Sender) {
	c.lp.Post(func() {
		c.reg.bind(ref, d)
		c.sendQ.Enlist(sender)
		// A rebind cancels any linger countdown started by the
		// previous unbind (spec §6.3 connection_linger_time).
		c.lingerGen++

		c.mu.Lock()
		idle := c.state == StateDisconnected
		ctx := c.actCtx
		c.mu.Unlock()
		if idle && ctx != nil {
			c.connectLocked(ctx)
		}
	})
}

// UnbindSession removes a session from both the dispatch registry and
// the send FIFO (spec §4.3, a Session's Unactivated/Deactivated edge).
// When it leaves no session bound, it arms connection_linger_time: the
// transport stays up for a grace period so a session rebinding shortly
// after (e.g. a quick re-subscribe) does not pay for a fresh dial.
func (c *Connection) UnbindSession(ref uint64) {
	c.lp.Post(func() {
		c.reg.unbind(ref)
		c.sendQ.Remove(ref)
		c.armLingerLocked()
	})
}

func (c *Connection) armLingerLocked() {
	if c.reg.len() > 0 || c.cfg.ConnectionLingerTime <= 0 {
		return
	}
	c.lingerGen++
	gen := c.lingerGen
	time.AfterFunc(c.cfg.ConnectionLingerTime, func() {
		c.lp.Post(func() { c.expireLingerLocked(gen) })
	})
}

// expireLingerLocked closes an idle transport once connection_linger_time
// has elapsed with no session bound. Unlike onTerminated this never
// arms a reconnect: nothing is waiting on the transport, so there is
// nothing to reconnect for (spec §6.3 connection_linger_time). A new
// BindSession after this dials again itself, through connectLocked,
// once the Connection has been activated.
func (c *Connection) expireLingerLocked(gen uint64) {
	if gen != c.lingerGen || c.reg.len() > 0 {
		return
	}
	c.mu.Lock()
	conn := c.ws
	if c.cancelHeartbeat != nil {
		c.cancelHeartbeat()
		c.cancelHeartbeat = nil
	}
	c.ws = nil
	c.state = StateDisconnected
	c.mu.Unlock()
	if conn == nil {
		return
	}
	c.log().Info("connection_linger_time elapsed with no bound sessions, closing", liblog.Fields{"endpoint": c.cfg.Endpoint.Host})
	_ = conn.Close(websocket.StatusNormalClosure, "linger_expired")
}

// EnlistToSend re-adds sender to the FIFO, e.g. after it has new data
// to write (spec §4.2 "enlist-to-send").
func (c *Connection) EnlistToSend(sender Sender) {
	c.lp.Post(func() { c.sendQ.Enlist(sender) })
}

func (c *Connection) connectLocked(ctx context.Context) {
	c.mu.Lock()
	if c.state == StateConnecting || c.state == StateConnected {
		c.mu.Unlock()
		return
	}
	c.state = StateConnecting
	c.mu.Unlock()

	dialCtx, cancel := context.WithTimeout(ctx, c.cfg.ConnectTimeout)
	defer cancel()

	opts := &websocket.DialOptions{
		Subprotocols: wire.SubProtocols(c.cfg.SyncMode),
	}
	if c.cfg.TLSConfig != nil {
		opts.HTTPClient = &http.Client{Transport: &http.Transport{TLSClientConfig: c.cfg.TLSConfig}}
	}

	conn, _, err := websocket.Dial(dialCtx, c.cfg.URL, opts)
	if err != nil {
		c.log().Warning("dial failed", liblog.Fields{"endpoint": c.cfg.Endpoint.Host, "err": err.Error()})
		c.onTerminated(ctx, reconnect.ReasonConnectOperationFailed, nil)
		return
	}

	if _, verr := wire.NegotiateAccepted(c.cfg.SyncMode, conn.Subprotocol()); verr != nil {
		_ = conn.Close(websocket.StatusProtocolError, "unsupported sub-protocol")
		c.onTerminated(ctx, reconnect.ReasonSyncProtocolViolation, nil)
		return
	}

	c.mu.Lock()
	c.ws = conn
	c.state = StateConnected
	c.mu.Unlock()

	c.log().Info("connected", liblog.Fields{"endpoint": c.cfg.Endpoint.Host})

	hbCtx, hbCancel := context.WithCancel(ctx)
	c.cancelHeartbeat = hbCancel
	go c.readLoop(hbCtx, conn)
	c.scheduleHeartbeat(hbCtx, true)
}

// onTerminated computes the next reconnect delay and arms a timer to
// retry, unless the reason is fatal (spec §4.1, §4.2).
func (c *Connection) onTerminated(ctx context.Context, reason reconnect.Reason, resumption *wire.ResumptionDelayInfo) {
	c.mu.Lock()
	c.state = StateDisconnected
	c.ws = nil
	if c.cancelHeartbeat != nil {
		c.cancelHeartbeat()
		c.cancelHeartbeat = nil
	}
	c.mu.Unlock()

	if reason.Fatal() {
		c.log().Error("connection terminated fatally", liblog.Fields{"reason": reason})
		return
	}

	delay := c.ctl.OnTerminated(c.cfg.Endpoint, reason, resumption)
	time.AfterFunc(delay, func() {
		c.lp.Post(func() { c.connectLocked(ctx) })
	})
}

// readLoop reads frames off the WebSocket and posts their handling to
// the event loop; it is the one goroutine per Connection allowed to
// block on network I/O (spec §5 tier 1, reader half).
func (c *Connection) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
			}
			code := websocket.CloseStatus(err)
			c.lp.Post(func() { c.onTerminated(ctx, reasonForClose(code), nil) })
			return
		}

		frame, ferr := wire.Decode(data)
		if ferr != nil {
			c.lp.Post(func() { c.onTerminated(ctx, reconnect.ReasonSyncProtocolViolation, nil) })
			return
		}

		c.lp.Post(func() { c.dispatch(ctx, frame) })
	}
}

// Close codes the server uses beyond the standard WebSocket range
// (RFC 6455 §7.4.2 reserves 4000-4999 for private use); spec §4.2's
// close-code table assigns these the app-level meanings named below.
const (
	closeCodeUnauthorized     websocket.StatusCode = 4001
	closeCodeMovedPermanently websocket.StatusCode = 4002
	closeCodeClientTooOld     websocket.StatusCode = 4003
	closeCodeClientTooNew     websocket.StatusCode = 4004
	closeCodeProtocolMismatch websocket.StatusCode = 4005
	closeCodeForbidden        websocket.StatusCode = 4006
	closeCodeRetryError       websocket.StatusCode = 4007
)

// closeCodeKind classifies a raw WebSocket close code into spec §4.2's
// taxonomy, which reconnect.ReasonFor then maps to a termination Reason
// (and, through Reason.Fatal, to the one-hour cool-off the fatal
// HTTP-response-kind codes require).
func closeCodeKind(code websocket.StatusCode) reconnect.CloseCodeKind {
	switch code {
	case websocket.StatusGoingAway, websocket.StatusProtocolError, websocket.StatusUnsupportedData,
		websocket.StatusInvalidFramePayloadData, websocket.StatusPolicyViolation,
		websocket.StatusMandatoryExtension:
		return reconnect.CloseKindProtocolClose
	case websocket.StatusMessageTooBig:
		return reconnect.CloseKindMessageTooBig
	case websocket.StatusTLSHandshake:
		return reconnect.CloseKindTLSHandshakeFail
	case closeCodeClientTooOld:
		return reconnect.CloseKindClientTooOld
	case closeCodeClientTooNew:
		return reconnect.CloseKindClientTooNew
	case closeCodeProtocolMismatch:
		return reconnect.CloseKindProtocolMismatch
	case closeCodeForbidden:
		return reconnect.CloseKindForbidden
	case closeCodeRetryError:
		return reconnect.CloseKindRetryError
	case closeCodeUnauthorized:
		return reconnect.CloseKindUnauthorized
	case closeCodeMovedPermanently:
		return reconnect.CloseKindMovedPermanently
	case websocket.StatusInternalError, websocket.StatusServiceRestart:
		return reconnect.CloseKindInternalServerError
	case websocket.StatusAbnormalClosure:
		return reconnect.CloseKindAbnormalClosure
	default:
		return reconnect.CloseKindReadWriteError
	}
}

func reasonForClose(code websocket.StatusCode) reconnect.Reason {
	return reconnect.ReasonFor(closeCodeKind(code))
}

func (c *Connection) dispatch(ctx context.Context, f wire.Frame) {
	switch f.Kind {
	case wire.KindPong:
		var p wire.Pong
		if err := wire.DecodePayload(f, &p); err != nil {
			c.onTerminated(ctx, reconnect.ReasonSyncProtocolViolation, nil)
			return
		}
		c.onPong(ctx, p)

	case wire.KindIdentResponse:
		var v wire.IdentResponse
		if err := wire.DecodePayload(f, &v); err != nil {
			c.onTerminated(ctx, reconnect.ReasonSyncProtocolViolation, nil)
			return
		}
		if d, ok := c.reg.lookup(v.SessionRef); ok {
			d.OnIdent(v)
		}

	case wire.KindDownload:
		var v wire.Download
		if err := wire.DecodePayload(f, &v); err == nil {
			if d, ok := c.reg.lookup(v.SessionRef); ok {
				d.OnDownload(v)
			}
		}

	case wire.KindMarkAck:
		var v wire.MarkAck
		if err := wire.DecodePayload(f, &v); err == nil {
			if d, ok := c.reg.lookup(v.SessionRef); ok {
				d.OnMarkAck(v)
			}
		}

	case wire.KindUnbound:
		var v wire.Unbound
		if err := wire.DecodePayload(f, &v); err == nil {
			if d, ok := c.reg.lookup(v.SessionRef); ok {
				d.OnUnbound(v)
			}
		}

	case wire.KindServerError:
		var v wire.ServerError
		if err := wire.DecodePayload(f, &v); err == nil {
			c.onServerError(ctx, v)
		}

	case wire.KindQueryError:
		var v wire.QueryError
		if err := wire.DecodePayload(f, &v); err == nil {
			if d, ok := c.reg.lookup(v.SessionRef); ok {
				d.OnQueryError(v)
			}
		}

	case wire.KindTestCommandReply:
		var v wire.TestCommandReply
		if err := wire.DecodePayload(f, &v); err == nil {
			for _, d := range c.reg.byRef {
				d.OnTestCommandReply(v)
			}
		}

	default:
		c.onTerminated(ctx, reconnect.ReasonSyncProtocolViolation, nil)
	}
}

// onServerError routes a connection- vs. session-level error and, when
// the error is server_said_try_again_later, hands its
// ResumptionDelayInfo to the Controller at termination time (spec §4.1,
// §7).
func (c *Connection) onServerError(ctx context.Context, e wire.ServerError) {
	if e.SessionIdent == "" {
		if e.TryAgain {
			c.onTerminated(ctx, reconnect.ReasonServerSaidTryAgainLater, e.Resumption)
			return
		}
		if e.Action == wire.ActionClientResetNoRecovery || e.Action == wire.ActionProtocolViolation {
			c.onTerminated(ctx, reconnect.ReasonSyncProtocolViolation, nil)
			return
		}
		c.onTerminated(ctx, reconnect.ReasonHTTPResponseNonFatal, nil)
		return
	}

	ref, perr := strconv.ParseUint(e.SessionIdent, 10, 64)
	if perr != nil {
		return
	}
	if d, ok := c.reg.lookup(ref); ok {
		d.OnSessionError(e)
	}
}

// SendPing sends a PING carrying the current monotonic timestamp and
// arms the PONG-wait timer (spec §4.2 heartbeat).
func (c *Connection) SendPing(ctx context.Context, nowMillis uint64) liberr.Error {
	c.mu.Lock()
	conn := c.ws
	c.mu.Unlock()
	if conn == nil {
		return liberr.NewErrorTrace(int(ErrorNotActivated), getMessage(ErrorNotActivated), "", 0, nil)
	}

	c.lastPingSentAt = nowMillis
	c.fl.waitingForPong = true

	b, eerr := wire.Encode(wire.KindPing, wire.Ping{Timestamp: nowMillis})
	if eerr != nil {
		return eerr
	}

	if err := conn.Write(ctx, websocket.MessageBinary, b); err != nil {
		c.onTerminated(ctx, reconnect.ReasonReadOrWriteError, nil)
		return liberr.NewErrorTrace(int(ErrorDial), getMessage(ErrorDial), "", 0, err)
	}
	return nil
}

func (c *Connection) onPong(ctx context.Context, p wire.Pong) {
	c.fl.waitingForPong = false

	if p.Timestamp != c.lastPingSentAt {
		c.onTerminated(ctx, reconnect.ReasonSyncProtocolViolation, nil)
		return
	}

	c.rtt = time.Since(time.UnixMilli(int64(p.Timestamp)))
	c.ctl.OnPongForCancelledDelay(c.cfg.Endpoint)
	c.scheduleHeartbeat(ctx, false)
}

func (c *Connection) scheduleHeartbeat(ctx context.Context, first bool) {
	d := pingDelay(c.cfg.PingKeepAlivePeriod, first)
	time.AfterFunc(d, func() {
		c.lp.Post(func() {
			c.mu.Lock()
			connected := c.state == StateConnected
			c.mu.Unlock()
			if !connected {
				return
			}
			_ = c.SendPing(ctx, uint64(time.Now().UnixMilli()))
			c.armPongTimeout(ctx)
		})
	})
}

func (c *Connection) armPongTimeout(ctx context.Context) {
	time.AfterFunc(c.cfg.PongKeepAliveTimeout, func() {
		c.lp.Post(func() {
			if c.fl.waitingForPong {
				c.onTerminated(ctx, reconnect.ReasonPongTimeout, nil)
			}
		})
	})
}

// Flush drains the send FIFO once: the next enlisted sender with data
// writes one frame (spec §4.2 "enlist-to-send").
func (c *Connection) Flush(ctx context.Context) {
	c.lp.Post(func() {
		c.mu.Lock()
		conn := c.ws
		c.mu.Unlock()
		if conn == nil {
			return
		}

		frame, ok := c.sendQ.Next()
		if !ok {
			return
		}
		if err := conn.Write(ctx, websocket.MessageBinary, frame); err != nil {
			c.onTerminated(ctx, reconnect.ReasonReadOrWriteError, nil)
		}
	})
}

// CancelReconnectDelay implements the safe-from-any-thread cancellation
// primitive of spec §5 (delegates to the Controller).
func (c *Connection) CancelReconnectDelay() liberr.Error {
	return c.ctl.CancelReconnectDelay(c.cfg.Endpoint, c.State() == StateConnected)
}

// Close tears the transport down with StatusNormalClosure, treated as
// closed_voluntarily (spec §4.1).
func (c *Connection) Close(ctx context.Context) {
	c.mu.Lock()
	conn := c.ws
	c.mu.Unlock()
	if conn != nil {
		_ = conn.Close(websocket.StatusNormalClosure, "closed_voluntarily")
	}
	c.lp.Post(func() { c.onTerminated(ctx, reconnect.ReasonClosedVoluntarily, nil) })
}

// Stop shuts down the event loop. Call after Close.
func (c *Connection) Stop() {
	c.lp.Stop()
}
