package chat

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/pliu/coursechat/internal/models"
	"github.com/pliu/coursechat/internal/store/sqlstore"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type fakeConn struct {
	id string

	mu     sync.Mutex
	events []Event
	groups map[int64]bool
	closed bool
}

func newFakeConn(id string) *fakeConn {
	return &fakeConn{id: id, groups: make(map[int64]bool)}
}

func (c *fakeConn) ID() string { return c.id }

func (c *fakeConn) Send(ev Event) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.events = append(c.events, ev)
	return true
}

func (c *fakeConn) Subscribe(groupID int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.groups[groupID] = true
}

func (c *fakeConn) Unsubscribe(groupID int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.groups, groupID)
}

func (c *fakeConn) Subscribed(groupID int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.groups[groupID]
}

// received returns the events of the given type, or all events for "".
func (c *fakeConn) received(typ string) []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []Event
	for _, ev := range c.events {
		if typ == "" || ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}

// failingStore breaks message persistence on demand.
type failingStore struct {
	*sqlstore.SQLStore
	failWrites bool
}

var errDiskFull = errors.New("disk full")

func (s *failingStore) CreateDirectMessage(ctx context.Context, senderID, receiverID int64, content string) (*models.DirectMessage, error) {
	if s.failWrites {
		return nil, errDiskFull
	}
	return s.SQLStore.CreateDirectMessage(ctx, senderID, receiverID, content)
}

func (s *failingStore) CreateGroupMessage(ctx context.Context, groupID, senderID int64, content string) (*models.GroupMessage, error) {
	if s.failWrites {
		return nil, errDiskFull
	}
	return s.SQLStore.CreateGroupMessage(ctx, groupID, senderID, content)
}

type fixture struct {
	ctx      context.Context
	store    *failingStore
	registry *Registry
	gate     *Gate
	groups   *GroupManager
	router   *Router
	presence *Presence
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	s, err := sqlstore.New("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	log := zaptest.NewLogger(t)
	st := &failingStore{SQLStore: s}
	registry := NewRegistry()
	gate := NewGate(st)
	groups := NewGroupManager(st, gate)
	return &fixture{
		ctx:      context.Background(),
		store:    st,
		registry: registry,
		gate:     gate,
		groups:   groups,
		router:   NewRouter(registry, gate, groups, st, RouterConfig{}, log),
		presence: NewPresence(registry, st, log),
	}
}

// users creates n users; in a fresh database their ids are 1..n.
func (f *fixture) users(t *testing.T, n int) []int64 {
	t.Helper()
	ids := make([]int64, 0, n)
	for i := 1; i <= n; i++ {
		u := &models.User{Username: fmt.Sprintf("user%d", i), Password: "hash"}
		require.NoError(t, f.store.CreateUser(f.ctx, u))
		ids = append(ids, u.ID)
	}
	return ids
}

func (f *fixture) mutual(t *testing.T, a, b int64) {
	t.Helper()
	require.NoError(t, f.store.Follow(f.ctx, a, b))
	require.NoError(t, f.store.Follow(f.ctx, b, a))
}

// connect registers a fake connection for the user.
func (f *fixture) connect(userID int64, id string) *fakeConn {
	c := newFakeConn(id)
	f.registry.Register(userID, c)
	return c
}

func requireKind(t *testing.T, err error, kind Kind) {
	t.Helper()
	require.Error(t, err)
	var e *Error
	require.True(t, errors.As(err, &e), "expected *chat.Error, got %T: %v", err, err)
	require.Equal(t, kind, e.Kind, e.Error())
}
