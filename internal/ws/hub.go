package ws

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pliu/coursechat/internal/chat"
	"github.com/pliu/coursechat/internal/metrics"
	"github.com/pliu/coursechat/internal/models"
	"go.uber.org/zap"
)

// Verifier resolves the credential of an auth event to a user.
type Verifier interface {
	Verify(ctx context.Context, token string) (*models.User, error)
}

type Config struct {
	AuthTimeout     time.Duration
	PingPeriod      time.Duration
	WriteWait       time.Duration
	SendBuffer      int
	MaxMessageBytes int64
	// AllowedOrigins lists the Origin values accepted on upgrade. When empty
	// only same-host origins are accepted.
	AllowedOrigins []string
}

func (c Config) withDefaults() Config {
	if c.AuthTimeout <= 0 {
		c.AuthTimeout = 30 * time.Second
	}
	if c.PingPeriod <= 0 {
		c.PingPeriod = 30 * time.Second
	}
	if c.WriteWait <= 0 {
		c.WriteWait = 10 * time.Second
	}
	if c.SendBuffer <= 0 {
		c.SendBuffer = 256
	}
	if c.MaxMessageBytes <= 0 {
		c.MaxMessageBytes = 64 << 10
	}
	return c
}

// Hub maintains the set of open clients and connects them to the chat core.
// Run must be running for ServeWs to accept connections.
type Hub struct {
	cfg      Config
	registry *chat.Registry
	presence *chat.Presence
	router   *chat.Router
	verifier Verifier
	metrics  *metrics.Metrics
	log      *zap.Logger
	upgrader websocket.Upgrader

	// All open clients, authenticated or not. Owned by Run.
	clients map[*Client]struct{}

	// Register requests from new clients.
	register chan *Client

	// Unregister requests from closing clients.
	unregister chan *Client

	done chan struct{}

	// mu guards stopping; wg only grows while stopping is false.
	mu       sync.Mutex
	stopping bool
	wg       sync.WaitGroup
}

func NewHub(cfg Config, registry *chat.Registry, presence *chat.Presence, router *chat.Router, verifier Verifier, m *metrics.Metrics, log *zap.Logger) *Hub {
	cfg = cfg.withDefaults()
	h := &Hub{
		cfg:        cfg,
		registry:   registry,
		presence:   presence,
		router:     router,
		verifier:   verifier,
		metrics:    m,
		log:        log,
		clients:    make(map[*Client]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(cfg.AllowedOrigins),
	}
	return h
}

// Run tracks clients until ctx is cancelled, then closes every one of them.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case client := <-h.register:
			h.clients[client] = struct{}{}
		case client := <-h.unregister:
			delete(h.clients, client)
		case <-ctx.Done():
			h.mu.Lock()
			h.stopping = true
			h.mu.Unlock()
			h.log.Info("closing websocket clients", zap.Int("clients", len(h.clients)))
			for client := range h.clients {
				client.close()
			}
			return
		}
	}
}

// Wait blocks until Run has returned, every client goroutine has exited and
// the resulting presence notifications went out.
func (h *Hub) Wait() {
	<-h.done
	h.wg.Wait()
	h.presence.Wait()
}

// ServeWs upgrades the request and starts the client's pumps. Authentication
// happens over the socket with an auth event.
func (h *Hub) ServeWs(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	if h.stopping {
		h.mu.Unlock()
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	}
	h.wg.Add(2)
	h.mu.Unlock()

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		h.wg.Add(-2)
		h.log.Debug("websocket upgrade failed", zap.Error(err))
		return
	}

	client := newClient(h, conn)
	select {
	case h.register <- client:
	case <-h.done:
		h.wg.Add(-2)
		conn.Close()
		return
	}
	h.metrics.ConnOpened()
	client.authTimer = time.AfterFunc(h.cfg.AuthTimeout, client.expireAuth)
	client.log.Debug("websocket opened", zap.String("remote_addr", r.RemoteAddr))

	// The request context ends with the handler; client work outlives it.
	ctx := context.WithoutCancel(r.Context())
	go func() {
		defer h.wg.Done()
		client.writePump()
	}()
	go func() {
		defer h.wg.Done()
		client.readPump(ctx)
	}()
}

// attach registers an authenticated client and announces the user online on
// their first connection.
func (h *Hub) attach(userID int64, c *Client) {
	if first := h.registry.Register(userID, c); first {
		h.metrics.UserOnline()
		h.presence.Online(userID)
	}
}

// detach runs once per client, when its read pump exits.
func (h *Hub) detach(c *Client) {
	prev := c.state.Swap(stateClosed)
	if c.authTimer != nil {
		c.authTimer.Stop()
	}
	c.close()

	select {
	case h.unregister <- c:
	case <-h.done:
	}
	h.metrics.ConnClosed()

	if prev != stateAuthenticated {
		return
	}
	userID := c.userID.Load()
	if last := h.registry.Deregister(userID, c); last {
		h.metrics.UserOffline()
		h.presence.Offline(userID)
	}
	c.log.Debug("websocket closed", zap.Int64("user_id", userID))
}

// IsOnline reports whether the user has at least one authenticated connection.
func (h *Hub) IsOnline(userID int64) bool {
	return h.registry.IsOnline(userID)
}

// SendToUser pushes ev to every connection of the user and returns how many
// accepted it.
func (h *Hub) SendToUser(userID int64, ev chat.Event) int {
	return h.registry.SendToUser(userID, ev)
}

func (h *Hub) OnlineUsers() []int64 {
	return h.registry.OnlineUsers()
}

func originChecker(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 {
		// gorilla/websocket falls back to its same-origin check.
		return nil
	}
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		set[o] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		if _, ok := set["*"]; ok {
			return true
		}
		_, ok := set[origin]
		return ok
	}
}
