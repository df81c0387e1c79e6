package sqlstore

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/pliu/coursechat/internal/models"
	"github.com/pliu/coursechat/internal/store"
)

// CreateGroup inserts the group, the creator as admin and every member as a
// regular member in one transaction. Either all rows exist afterwards or none.
func (s *SQLStore) CreateGroup(ctx context.Context, name string, creatorID int64, memberIDs []int64) (*models.Group, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin create group: %w", err)
	}
	defer tx.Rollback()

	group := &models.Group{Name: name, CreatorID: creatorID, CreatedAt: s.clock.next()}
	query := s.rebind("INSERT INTO chat_groups (name, creator_id, created_at) VALUES (?, ?, ?) RETURNING id")
	if err := tx.QueryRowContext(ctx, query, name, creatorID, group.CreatedAt).Scan(&group.ID); err != nil {
		return nil, fmt.Errorf("insert group: %w", err)
	}

	insertMember := s.rebind("INSERT INTO group_members (group_id, user_id, is_admin, joined_at) VALUES (?, ?, ?, ?)")
	if _, err := tx.ExecContext(ctx, insertMember, group.ID, creatorID, true, group.CreatedAt); err != nil {
		return nil, fmt.Errorf("insert creator membership: %w", err)
	}
	for _, memberID := range memberIDs {
		if memberID == creatorID {
			continue
		}
		if _, err := tx.ExecContext(ctx, insertMember, group.ID, memberID, false, group.CreatedAt); err != nil {
			return nil, fmt.Errorf("insert membership for user %d: %w", memberID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit create group: %w", err)
	}
	return group, nil
}

func (s *SQLStore) GetGroup(ctx context.Context, groupID int64) (*models.Group, error) {
	var g models.Group
	query := s.rebind("SELECT id, name, creator_id, created_at FROM chat_groups WHERE id = ?")
	if err := s.db.QueryRowContext(ctx, query, groupID).Scan(&g.ID, &g.Name, &g.CreatorID, &g.CreatedAt); err != nil {
		return nil, notFound(err)
	}
	return &g, nil
}

// DeleteGroup removes the group and its memberships. Group messages are kept.
func (s *SQLStore) DeleteGroup(ctx context.Context, groupID int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete group: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, s.rebind("DELETE FROM group_members WHERE group_id = ?"), groupID); err != nil {
		return fmt.Errorf("delete memberships: %w", err)
	}
	result, err := tx.ExecContext(ctx, s.rebind("DELETE FROM chat_groups WHERE id = ?"), groupID)
	if err != nil {
		return fmt.Errorf("delete group: %w", err)
	}
	if n, err := result.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return store.ErrNotFound
	}
	return tx.Commit()
}

func (s *SQLStore) AddGroupMember(ctx context.Context, groupID, userID int64, isAdmin bool) error {
	query := s.rebind("INSERT INTO group_members (group_id, user_id, is_admin, joined_at) VALUES (?, ?, ?, ?)")
	if _, err := s.db.ExecContext(ctx, query, groupID, userID, isAdmin, s.clock.next()); err != nil {
		return fmt.Errorf("add member %d to group %d: %w", userID, groupID, err)
	}
	return nil
}

func (s *SQLStore) RemoveGroupMember(ctx context.Context, groupID, userID int64) error {
	query := s.rebind("DELETE FROM group_members WHERE group_id = ? AND user_id = ?")
	result, err := s.db.ExecContext(ctx, query, groupID, userID)
	if err != nil {
		return fmt.Errorf("remove member %d from group %d: %w", userID, groupID, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *SQLStore) IsGroupMember(ctx context.Context, groupID, userID int64) (bool, error) {
	var exists bool
	query := s.rebind("SELECT EXISTS(SELECT 1 FROM group_members WHERE group_id = ? AND user_id = ?)")
	err := s.db.QueryRowContext(ctx, query, groupID, userID).Scan(&exists)
	return exists, err
}

func (s *SQLStore) ListGroupMembers(ctx context.Context, groupID int64) ([]models.GroupMember, error) {
	query := s.rebind(`
		SELECT group_id, user_id, is_admin, joined_at
		FROM group_members
		WHERE group_id = ?
		ORDER BY joined_at ASC, user_id ASC
	`)
	rows, err := s.db.QueryContext(ctx, query, groupID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	members := []models.GroupMember{}
	for rows.Next() {
		var m models.GroupMember
		if err := rows.Scan(&m.GroupID, &m.UserID, &m.IsAdmin, &m.JoinedAt); err != nil {
			return nil, err
		}
		members = append(members, m)
	}
	return members, rows.Err()
}

func (s *SQLStore) ListUserGroups(ctx context.Context, userID int64) ([]models.Group, error) {
	query := s.rebind(`
		SELECT g.id, g.name, g.creator_id, g.created_at
		FROM chat_groups g
		JOIN group_members m ON g.id = m.group_id
		WHERE m.user_id = ?
		ORDER BY g.created_at ASC
	`)
	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	groups := []models.Group{}
	for rows.Next() {
		var g models.Group
		if err := rows.Scan(&g.ID, &g.Name, &g.CreatorID, &g.CreatedAt); err != nil {
			return nil, err
		}
		groups = append(groups, g)
	}
	return groups, rows.Err()
}

func (s *SQLStore) CreateGroupMessage(ctx context.Context, groupID, senderID int64, content string) (*models.GroupMessage, error) {
	msg := &models.GroupMessage{GroupID: groupID, SenderID: senderID, Content: content, CreatedAt: s.clock.next()}
	query := s.rebind("INSERT INTO group_messages (group_id, sender_id, content, created_at) VALUES (?, ?, ?, ?) RETURNING id")
	if err := s.db.QueryRowContext(ctx, query, groupID, senderID, content, msg.CreatedAt).Scan(&msg.ID); err != nil {
		return nil, fmt.Errorf("save group message: %w", err)
	}
	return msg, nil
}

// ListGroupMessages returns the most recent messages of the group, oldest first.
func (s *SQLStore) ListGroupMessages(ctx context.Context, groupID int64, limit int) ([]models.GroupMessage, error) {
	query := s.rebind(`
		SELECT id, group_id, sender_id, content, created_at FROM (
			SELECT id, group_id, sender_id, content, created_at
			FROM group_messages
			WHERE group_id = ?
			ORDER BY created_at DESC, id DESC
			LIMIT ?
		) AS recent
		ORDER BY created_at ASC, id ASC
	`)
	rows, err := s.db.QueryContext(ctx, query, groupID, clampLimit(limit))
	if err != nil {
		return nil, err
	}
	return scanGroupMessages(rows)
}

func scanGroupMessages(rows *sql.Rows) ([]models.GroupMessage, error) {
	defer rows.Close()

	messages := []models.GroupMessage{}
	for rows.Next() {
		var m models.GroupMessage
		if err := rows.Scan(&m.ID, &m.GroupID, &m.SenderID, &m.Content, &m.CreatedAt); err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}
