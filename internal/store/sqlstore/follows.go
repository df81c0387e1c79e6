package sqlstore

import (
	"context"
	"fmt"
)

func (s *SQLStore) Follow(ctx context.Context, followerID, followedID int64) error {
	query := s.rebind("INSERT INTO follows (follower_id, followed_id, created_at) VALUES (?, ?, ?) ON CONFLICT DO NOTHING")
	if _, err := s.db.ExecContext(ctx, query, followerID, followedID, s.clock.next()); err != nil {
		return fmt.Errorf("follow %d->%d: %w", followerID, followedID, err)
	}
	return nil
}

func (s *SQLStore) Unfollow(ctx context.Context, followerID, followedID int64) error {
	query := s.rebind("DELETE FROM follows WHERE follower_id = ? AND followed_id = ?")
	if _, err := s.db.ExecContext(ctx, query, followerID, followedID); err != nil {
		return fmt.Errorf("unfollow %d->%d: %w", followerID, followedID, err)
	}
	return nil
}

func (s *SQLStore) IsFollowing(ctx context.Context, followerID, followedID int64) (bool, error) {
	var exists bool
	query := s.rebind("SELECT EXISTS(SELECT 1 FROM follows WHERE follower_id = ? AND followed_id = ?)")
	err := s.db.QueryRowContext(ctx, query, followerID, followedID).Scan(&exists)
	return exists, err
}

func (s *SQLStore) ListFollowers(ctx context.Context, userID int64) ([]int64, error) {
	query := s.rebind("SELECT follower_id FROM follows WHERE followed_id = ? ORDER BY follower_id")
	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var followers []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		followers = append(followers, id)
	}
	return followers, rows.Err()
}
