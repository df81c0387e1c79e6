package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/pliu/coursechat/internal/models"
)

func (s *SQLStore) CreateDirectMessage(ctx context.Context, senderID, receiverID int64, content string) (*models.DirectMessage, error) {
	msg := &models.DirectMessage{
		SenderID:   senderID,
		ReceiverID: receiverID,
		Content:    content,
		CreatedAt:  s.clock.next(),
	}
	query := s.rebind("INSERT INTO direct_messages (sender_id, receiver_id, content, created_at, is_read) VALUES (?, ?, ?, ?, ?) RETURNING id")
	if err := s.db.QueryRowContext(ctx, query, senderID, receiverID, content, msg.CreatedAt, false).Scan(&msg.ID); err != nil {
		return nil, fmt.Errorf("save direct message: %w", err)
	}
	return msg, nil
}

// ListDirectMessages returns the most recent messages exchanged between the
// two users, oldest first.
func (s *SQLStore) ListDirectMessages(ctx context.Context, userA, userB int64, limit int) ([]models.DirectMessage, error) {
	query := s.rebind(`
		SELECT id, sender_id, receiver_id, content, created_at, is_read FROM (
			SELECT id, sender_id, receiver_id, content, created_at, is_read
			FROM direct_messages
			WHERE (sender_id = ? AND receiver_id = ?) OR (sender_id = ? AND receiver_id = ?)
			ORDER BY created_at DESC, id DESC
			LIMIT ?
		) AS recent
		ORDER BY created_at ASC, id ASC
	`)
	rows, err := s.db.QueryContext(ctx, query, userA, userB, userB, userA, clampLimit(limit))
	if err != nil {
		return nil, err
	}
	return scanDirectMessages(rows)
}

// MarkDirectMessagesRead flips every unread message from sender to receiver
// in one statement and reports how many rows changed.
func (s *SQLStore) MarkDirectMessagesRead(ctx context.Context, senderID, receiverID int64) (int64, error) {
	query := s.rebind("UPDATE direct_messages SET is_read = ? WHERE sender_id = ? AND receiver_id = ? AND is_read = ?")
	result, err := s.db.ExecContext(ctx, query, true, senderID, receiverID, false)
	if err != nil {
		return 0, fmt.Errorf("mark read %d->%d: %w", senderID, receiverID, err)
	}
	return result.RowsAffected()
}

// MarkDirectMessagesReadByID flips the listed messages from sender to
// receiver that are still unread. Ids of other conversations are ignored.
func (s *SQLStore) MarkDirectMessagesReadByID(ctx context.Context, senderID, receiverID int64, ids []int64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	args := make([]any, 0, len(ids)+3)
	args = append(args, true, senderID, receiverID, false)
	for _, id := range ids {
		args = append(args, id)
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(ids)), ", ")
	query := s.rebind("UPDATE direct_messages SET is_read = ? WHERE sender_id = ? AND receiver_id = ? AND is_read = ? AND id IN (" + placeholders + ")")
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("mark read %d->%d by id: %w", senderID, receiverID, err)
	}
	return result.RowsAffected()
}

func (s *SQLStore) CountUnread(ctx context.Context, receiverID int64) (int, error) {
	var count int
	query := s.rebind("SELECT COUNT(*) FROM direct_messages WHERE receiver_id = ? AND is_read = ?")
	err := s.db.QueryRowContext(ctx, query, receiverID, false).Scan(&count)
	return count, err
}

// ListUnread returns the newest unread messages addressed to receiverID,
// newest first.
func (s *SQLStore) ListUnread(ctx context.Context, receiverID int64, limit int) ([]models.DirectMessage, error) {
	query := s.rebind(`
		SELECT id, sender_id, receiver_id, content, created_at, is_read
		FROM direct_messages
		WHERE receiver_id = ? AND is_read = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`)
	rows, err := s.db.QueryContext(ctx, query, receiverID, false, clampLimit(limit))
	if err != nil {
		return nil, err
	}
	return scanDirectMessages(rows)
}

func scanDirectMessages(rows *sql.Rows) ([]models.DirectMessage, error) {
	defer rows.Close()

	messages := []models.DirectMessage{}
	for rows.Next() {
		var m models.DirectMessage
		if err := rows.Scan(&m.ID, &m.SenderID, &m.ReceiverID, &m.Content, &m.CreatedAt, &m.IsRead); err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}
