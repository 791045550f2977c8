package signaling

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wilsonzlin/aero/proxy/chat-relay/internal/auth"
	"github.com/wilsonzlin/aero/proxy/chat-relay/internal/event"
	"github.com/wilsonzlin/aero/proxy/chat-relay/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/chat-relay/internal/session"
)

const wsWriteWait = 1 * time.Second

// conn is one WebSocket connection. The read loop owns every field below
// closeMu; the writer only touches the socket and the close status.
type conn struct {
	srv  *Server
	sess *session.Session
	ws   *websocket.Conn
	log  *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	authenticated bool
	// bound is the identity proven by a JWT. A bound session may only
	// register and send as that handle.
	bound     auth.Identity
	handle    string
	accountID string

	closeMu     sync.Mutex
	closeCode   int
	closeReason string

	writerDone chan struct{}
}

func newConn(srv *Server, sess *session.Session, ws *websocket.Conn) *conn {
	ctx, cancel := context.WithCancel(context.Background())
	return &conn{
		srv:        srv,
		sess:       sess,
		ws:         ws,
		log:        sess.Logger(),
		ctx:        ctx,
		cancel:     cancel,
		closeCode:  websocket.CloseNormalClosure,
		writerDone: make(chan struct{}),
	}
}

func (c *conn) serve(r *http.Request) {
	defer func() {
		c.cancel()
		c.sess.Close()
		<-c.writerDone
	}()

	c.ws.SetReadLimit(c.srv.cfg.MaxMessageBytes)
	c.ws.SetPongHandler(func(string) error {
		if c.authenticated {
			c.extendIdle()
		}
		return nil
	})

	go c.writeLoop()
	go c.pingLoop()

	if !c.authenticateRequest(r) {
		return
	}
	c.readLoop()
}

// authenticateRequest applies credentials carried by the upgrade request.
// With none present the first event must be auth; it is handled by the read
// loop under the auth deadline.
func (c *conn) authenticateRequest(r *http.Request) bool {
	if c.srv.cfg.Verifier == nil {
		c.established(auth.Identity{})
		return true
	}
	cred, err := auth.CredentialFromRequest(c.srv.cfg.AuthMode, r)
	if errors.Is(err, auth.ErrMissingCredentials) {
		_ = c.ws.SetReadDeadline(time.Now().Add(c.srv.cfg.AuthTimeout))
		return true
	}
	if err != nil {
		c.rejectAuth("unauthorized", err)
		return false
	}
	return c.verify(cred)
}

func (c *conn) verify(cred string) bool {
	id, err := c.srv.cfg.Verifier.Verify(cred)
	if err != nil {
		c.rejectAuth("unauthorized", err)
		return false
	}
	c.established(id)
	return true
}

func (c *conn) established(id auth.Identity) {
	c.authenticated = true
	c.extendIdle()
	if id.Handle != "" {
		c.bound = id
		c.register(id.Handle, id.AccountID)
	}
	c.sess.Emit(event.Ready(c.sess.ID()))
	c.log.Debug("session established", "handle", c.handle)
}

func (c *conn) rejectAuth(message string, err error) {
	c.srv.cfg.Metrics.Inc(metrics.AuthFailure)
	c.log.Info("session auth failed", "reason", message, "err", err)
	c.sess.Emit(event.Error("unauthorized", message))
	c.closeWith(websocket.ClosePolicyViolation, message)
}

func (c *conn) readLoop() {
	for {
		msgType, data, err := c.ws.ReadMessage()
		if err != nil {
			c.readFailed(err)
			return
		}
		if c.authenticated {
			c.extendIdle()
		}

		if !c.authenticated {
			in, err := event.Parse(data)
			if msgType != websocket.TextMessage || err != nil || in.Type != event.TypeAuth {
				c.rejectAuth("authentication required", err)
				return
			}
			if !c.verify(in.Credential()) {
				return
			}
			continue
		}

		// Rate limiting happens after the read so bytes already received are
		// consumed rather than left in the socket buffer.
		if !c.sess.Allow() {
			c.log.Debug("event rate limited")
			continue
		}
		if msgType != websocket.TextMessage {
			c.malformed("", errors.New("expected text message"))
			continue
		}
		in, err := event.Parse(data)
		if err != nil {
			c.malformed("", err)
			continue
		}
		c.dispatch(in)
	}
}

func (c *conn) readFailed(err error) {
	switch {
	case !c.authenticated && isTimeout(err):
		c.rejectAuth("authentication timeout", err)
	case isTimeout(err):
		c.log.Debug("session idle timeout")
		c.closeWith(websocket.CloseNormalClosure, "idle timeout")
	case errors.Is(err, websocket.ErrReadLimit):
		c.log.Info("inbound message too large", "limit", c.srv.cfg.MaxMessageBytes)
		c.closeWith(websocket.CloseMessageTooBig, "message too large")
	case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived):
		c.log.Debug("session closed by peer")
	default:
		c.log.Debug("session read failed", "err", err)
	}
}

func (c *conn) extendIdle() {
	_ = c.ws.SetReadDeadline(time.Now().Add(c.srv.cfg.IdleTimeout))
}

func (c *conn) closeWith(code int, reason string) {
	c.closeMu.Lock()
	c.closeCode = code
	c.closeReason = reason
	c.closeMu.Unlock()
}

// writeLoop is the only goroutine writing data frames. Once the session is
// closed it flushes what is still queued, sends the close frame and closes
// the socket, which in turn unblocks the read loop.
func (c *conn) writeLoop() {
	defer close(c.writerDone)
	defer c.ws.Close()

	for {
		frame, ok := c.sess.NextFrame()
		if !ok {
			break
		}
		_ = c.ws.SetWriteDeadline(time.Now().Add(wsWriteWait))
		if err := c.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
			c.log.Debug("session write failed", "err", err)
			c.sess.Close()
			return
		}
	}

	c.closeMu.Lock()
	code, reason := c.closeCode, c.closeReason
	c.closeMu.Unlock()
	_ = c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(wsWriteWait))
}

func (c *conn) pingLoop() {
	ticker := time.NewTicker(c.srv.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.sess.Done():
			return
		case <-ticker.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				return
			}
		}
	}
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
