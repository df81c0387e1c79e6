package presence

import (
	"context"
	"fmt"
	"slices"
	"strconv"

	"github.com/redis/go-redis/v9"
)

const defaultKey = "presence:online"

// RedisMirror keeps the set of online user ids in a Redis set so processes
// outside this one can read presence. The in-memory registry stays the
// source of truth.
type RedisMirror struct {
	rdb *redis.Client
	key string
}

func NewRedisMirror(addr string) *RedisMirror {
	rdb := redis.NewClient(&redis.Options{
		Addr: addr,
	})
	return &RedisMirror{rdb: rdb, key: defaultKey}
}

// Reset drops the whole set. Called at startup, when no user of this process
// can be online yet.
func (m *RedisMirror) Reset(ctx context.Context) error {
	if err := m.rdb.Del(ctx, m.key).Err(); err != nil {
		return fmt.Errorf("reset presence: %w", err)
	}
	return nil
}

func (m *RedisMirror) SetOnline(ctx context.Context, userID int64) error {
	if err := m.rdb.SAdd(ctx, m.key, userID).Err(); err != nil {
		return fmt.Errorf("mark user %d online: %w", userID, err)
	}
	return nil
}

func (m *RedisMirror) SetOffline(ctx context.Context, userID int64) error {
	if err := m.rdb.SRem(ctx, m.key, userID).Err(); err != nil {
		return fmt.Errorf("mark user %d offline: %w", userID, err)
	}
	return nil
}

func (m *RedisMirror) isOnline(ctx context.Context, userID int64) (bool, error) {
	ok, err := m.rdb.SIsMember(ctx, m.key, userID).Result()
	if err != nil {
		return false, fmt.Errorf("check user %d: %w", userID, err)
	}
	return ok, nil
}

// onlineUsers returns the mirrored ids in ascending order.
func (m *RedisMirror) onlineUsers(ctx context.Context) ([]int64, error) {
	members, err := m.rdb.SMembers(ctx, m.key).Result()
	if err != nil {
		return nil, fmt.Errorf("list online users: %w", err)
	}
	ids := make([]int64, 0, len(members))
	for _, s := range members {
		id, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("bad member %q in %s: %w", s, m.key, err)
		}
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids, nil
}

func (m *RedisMirror) Ping(ctx context.Context) error {
	return m.rdb.Ping(ctx).Err()
}

func (m *RedisMirror) Close() error {
	return m.rdb.Close()
}
