package ws

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pliu/coursechat/internal/auth"
	"github.com/pliu/coursechat/internal/chat"
	"go.uber.org/zap"
)

// Connection states. A client starts in stateAwaitingAuth and only ever moves
// forward.
const (
	stateAwaitingAuth int32 = iota + 1
	stateAuthenticated
	stateClosed
)

// Client is a middleman between the websocket connection and the hub. It
// implements chat.Conn.
type Client struct {
	id   string
	hub  *Hub
	conn *websocket.Conn
	log  *zap.Logger

	// Buffered channel of outbound messages. Never closed; quit signals the
	// end of the connection instead.
	send      chan []byte
	quit      chan struct{}
	closeOnce sync.Once

	state     atomic.Int32
	userID    atomic.Int64
	authTimer *time.Timer

	mu     sync.Mutex
	groups map[int64]struct{}
}

func newClient(h *Hub, conn *websocket.Conn) *Client {
	id := uuid.NewString()
	c := &Client{
		id:     id,
		hub:    h,
		conn:   conn,
		log:    h.log.With(zap.String("conn_id", id)),
		send:   make(chan []byte, h.cfg.SendBuffer),
		quit:   make(chan struct{}),
		groups: make(map[int64]struct{}),
	}
	c.state.Store(stateAwaitingAuth)
	return c
}

func (c *Client) ID() string { return c.id }

// Send queues ev for the write pump. A client whose buffer is full is too slow
// to keep up and gets disconnected; Send never blocks.
func (c *Client) Send(ev chat.Event) bool {
	msg, err := json.Marshal(ev)
	if err != nil {
		c.log.Error("marshal event", zap.String("event", ev.Type), zap.Error(err))
		return false
	}
	select {
	case <-c.quit:
		return false
	default:
	}
	select {
	case c.send <- msg:
		return true
	case <-c.quit:
		return false
	default:
		c.log.Warn("send buffer full, dropping connection", zap.Int64("user_id", c.userID.Load()))
		c.hub.metrics.RecordSlowConsumer()
		c.close()
		return false
	}
}

func (c *Client) Subscribe(groupID int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.groups[groupID] = struct{}{}
}

func (c *Client) Unsubscribe(groupID int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.groups, groupID)
}

func (c *Client) Subscribed(groupID int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.groups[groupID]
	return ok
}

// close stops both pumps. Safe to call from any goroutine, any number of times.
func (c *Client) close() {
	c.closeOnce.Do(func() {
		close(c.quit)
	})
}

// readPump reads events from the websocket connection and handles them one at
// a time, so the events of one connection keep their order.
func (c *Client) readPump(ctx context.Context) {
	defer func() {
		c.hub.detach(c)
		c.conn.Close()
	}()
	c.conn.SetReadLimit(c.hub.cfg.MaxMessageBytes)

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				c.log.Debug("read failed", zap.Error(err))
			}
			return
		}
		var in chat.Inbound
		if err := json.Unmarshal(data, &in); err != nil {
			c.Send(chat.ErrorEvent(chat.KindValidation, "invalid message format", nil))
			continue
		}
		c.handle(ctx, in)
	}
}

// writePump is the only writer of the websocket connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(c.hub.cfg.PingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg := <-c.send:
			if err := c.write(websocket.TextMessage, msg); err != nil {
				c.close()
				return
			}
		case <-ticker.C:
			if c.state.Load() != stateAuthenticated {
				continue
			}
			if err := c.write(websocket.PingMessage, nil); err != nil {
				c.close()
				return
			}
		case <-c.quit:
			c.flush()
			_ = c.write(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// flush writes whatever is still queued, e.g. the error that caused the close.
func (c *Client) flush() {
	for {
		select {
		case msg := <-c.send:
			if err := c.write(websocket.TextMessage, msg); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (c *Client) write(messageType int, data []byte) error {
	c.conn.SetWriteDeadline(time.Now().Add(c.hub.cfg.WriteWait))
	return c.conn.WriteMessage(messageType, data)
}

func (c *Client) handle(ctx context.Context, in chat.Inbound) {
	start := time.Now()
	defer func() {
		c.hub.metrics.ObserveEvent(eventLabel(in.Type), time.Since(start))
	}()

	switch c.state.Load() {
	case stateAwaitingAuth:
		if in.Type == chat.TypeAuth {
			c.authenticate(ctx, in.Token)
			return
		}
		c.fail(chat.ErrorEvent(chat.KindNotAuthenticated, "Not authenticated", in.TempID))
	case stateAuthenticated:
		c.dispatch(ctx, in)
	}
}

func (c *Client) dispatch(ctx context.Context, in chat.Inbound) {
	userID := c.userID.Load()
	switch in.Type {
	case chat.TypePing:
		c.Send(chat.PongEvent())
		return
	case chat.TypeAuth:
		c.fail(chat.ErrorEvent(chat.KindValidation, "already authenticated", in.TempID))
		return
	}

	err := c.hub.router.Dispatch(ctx, c, userID, in)
	if errors.Is(err, chat.ErrUnknownEvent) {
		c.log.Debug("ignoring event", zap.Int64("user_id", userID), zap.String("event", in.Type))
		return
	}
	if err != nil {
		c.log.Info("event rejected", zap.Int64("user_id", userID), zap.String("event", in.Type), zap.Error(err))
		c.fail(chat.ErrorEventFor(err, in.TempID))
	}
}

func (c *Client) authenticate(ctx context.Context, token string) {
	user, err := c.hub.verifier.Verify(ctx, token)
	if err != nil {
		reason, msg := authFailure(err)
		c.log.Info("authentication failed", zap.String("reason", reason), zap.Error(err))
		c.hub.metrics.RecordAuthFailure(reason)
		c.fail(chat.ErrorEvent(chat.KindAuthFailed, msg, nil))
		return
	}

	// Loses against the auth timer if it already fired.
	if !c.state.CompareAndSwap(stateAwaitingAuth, stateAuthenticated) {
		return
	}
	c.authTimer.Stop()
	c.userID.Store(user.ID)

	// auth_success goes out before anything fanned out to the user.
	c.Send(chat.AuthSuccessEvent(user.ID))
	c.hub.attach(user.ID, c)

	count, unread, err := c.hub.router.Unread(ctx, user.ID)
	if err != nil {
		c.log.Warn("loading unread messages failed", zap.Int64("user_id", user.ID), zap.Error(err))
		return
	}
	c.Send(chat.UnreadMessagesEvent(count, unread))
}

// expireAuth runs on the auth timer.
func (c *Client) expireAuth() {
	if !c.state.CompareAndSwap(stateAwaitingAuth, stateClosed) {
		return
	}
	c.log.Info("authentication timeout")
	c.hub.metrics.RecordAuthFailure("timeout")
	c.fail(chat.ErrorEvent(chat.KindAuthTimeout, "Authentication timeout", nil))
	c.close()
}

func (c *Client) fail(ev chat.Event) {
	c.hub.metrics.RecordError(string(ev.Code))
	c.Send(ev)
}

// eventLabel bounds the metric label to the known inbound types.
func eventLabel(typ string) string {
	if chat.IsInbound(typ) {
		return typ
	}
	return "unknown"
}

// authFailure maps a verification error to a metric label and the message
// shown to the client.
func authFailure(err error) (reason, msg string) {
	switch {
	case errors.Is(err, auth.ErrExpired):
		return "expired", "token expired"
	case errors.Is(err, auth.ErrSignatureInvalid):
		return "signature_invalid", "invalid token signature"
	case errors.Is(err, auth.ErrMalformed):
		return "malformed", "invalid token"
	case errors.Is(err, auth.ErrUnknownUser):
		return "unknown_user", "user not found"
	default:
		return "lookup_failed", "authentication failed"
	}
}
