package chat

import (
	"context"
	"fmt"
)

// FollowReader is the read-only view of the follow graph the chat core needs.
type FollowReader interface {
	IsFollowing(ctx context.Context, followerID, followedID int64) (bool, error)
	ListFollowers(ctx context.Context, userID int64) ([]int64, error)
}

// Gate decides whether two users may talk. The answer is read from the store
// on every call; the follow graph can change mid-session.
type Gate struct {
	follows FollowReader
}

func NewGate(follows FollowReader) *Gate {
	return &Gate{follows: follows}
}

// CanChat reports whether a and b follow each other. A user never chats with
// themselves.
func (g *Gate) CanChat(ctx context.Context, a, b int64) (bool, error) {
	if a <= 0 || b <= 0 || a == b {
		return false, nil
	}
	ab, err := g.follows.IsFollowing(ctx, a, b)
	if err != nil {
		return false, fmt.Errorf("check follow %d->%d: %w", a, b, err)
	}
	if !ab {
		return false, nil
	}
	ba, err := g.follows.IsFollowing(ctx, b, a)
	if err != nil {
		return false, fmt.Errorf("check follow %d->%d: %w", b, a, err)
	}
	return ba, nil
}

// require returns a Forbidden error unless a and b can chat.
func (g *Gate) require(ctx context.Context, a, b int64) error {
	ok, err := g.CanChat(ctx, a, b)
	if err != nil {
		return storageError("relationship check", err)
	}
	if !ok {
		return forbidden("you can only chat with users who follow you back")
	}
	return nil
}
