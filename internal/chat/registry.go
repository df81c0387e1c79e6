package chat

import (
	"slices"
	"sync"
)

// Conn is one live transport connection of an authenticated user.
type Conn interface {
	// ID is unique per connection for the lifetime of the process.
	ID() string
	// Send queues ev without blocking. It reports false when the event was
	// dropped because the connection is closed or too slow.
	Send(ev Event) bool
	Subscribe(groupID int64)
	Unsubscribe(groupID int64)
	Subscribed(groupID int64) bool
}

const registryShards = 32

// Registry maps user ids to their live connections. Users are spread over a
// fixed number of shards, each with its own lock, so unrelated users never
// contend.
type Registry struct {
	shards [registryShards]registryShard
}

type registryShard struct {
	mu    sync.RWMutex
	conns map[int64]map[string]Conn
}

func NewRegistry() *Registry {
	r := &Registry{}
	for i := range r.shards {
		r.shards[i].conns = make(map[int64]map[string]Conn)
	}
	return r
}

func (r *Registry) shard(userID int64) *registryShard {
	return &r.shards[uint64(userID)%registryShards]
}

// Register adds conn to the user's set. It reports whether this was the
// user's first live connection. Registering the same conn twice is a no-op.
func (r *Registry) Register(userID int64, conn Conn) (first bool) {
	s := r.shard(userID)
	s.mu.Lock()
	defer s.mu.Unlock()

	set, ok := s.conns[userID]
	if !ok {
		set = make(map[string]Conn)
		s.conns[userID] = set
	}
	if _, exists := set[conn.ID()]; exists {
		return false
	}
	set[conn.ID()] = conn
	return len(set) == 1
}

// Deregister removes exactly this conn. It reports whether the removal left
// the user without connections; removing an unknown conn reports false.
func (r *Registry) Deregister(userID int64, conn Conn) (last bool) {
	s := r.shard(userID)
	s.mu.Lock()
	defer s.mu.Unlock()

	set, ok := s.conns[userID]
	if !ok {
		return false
	}
	if _, exists := set[conn.ID()]; !exists {
		return false
	}
	delete(set, conn.ID())
	if len(set) == 0 {
		delete(s.conns, userID)
		return true
	}
	return false
}

// SendToUser fans ev out to every live connection of the user and returns how
// many accepted it. Users without connections are a silent no-op.
func (r *Registry) SendToUser(userID int64, ev Event) int {
	return r.send(userID, ev, nil)
}

// SendToSubscribers is SendToUser restricted to connections that joined the
// group channel.
func (r *Registry) SendToSubscribers(userID, groupID int64, ev Event) int {
	return r.send(userID, ev, func(c Conn) bool { return c.Subscribed(groupID) })
}

func (r *Registry) send(userID int64, ev Event, keep func(Conn) bool) int {
	delivered := 0
	for _, c := range r.snapshot(userID) {
		if keep != nil && !keep(c) {
			continue
		}
		if c.Send(ev) {
			delivered++
		}
	}
	return delivered
}

func (r *Registry) snapshot(userID int64) []Conn {
	s := r.shard(userID)
	s.mu.RLock()
	defer s.mu.RUnlock()

	set := s.conns[userID]
	conns := make([]Conn, 0, len(set))
	for _, c := range set {
		conns = append(conns, c)
	}
	return conns
}

func (r *Registry) IsOnline(userID int64) bool {
	return r.Connections(userID) > 0
}

// Connections returns the number of live connections of the user.
func (r *Registry) Connections(userID int64) int {
	s := r.shard(userID)
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.conns[userID])
}

// OnlineUsers returns the ids of every user with a live connection, sorted.
func (r *Registry) OnlineUsers() []int64 {
	users := []int64{}
	for i := range r.shards {
		s := &r.shards[i]
		s.mu.RLock()
		for id := range s.conns {
			users = append(users, id)
		}
		s.mu.RUnlock()
	}
	slices.Sort(users)
	return users
}
