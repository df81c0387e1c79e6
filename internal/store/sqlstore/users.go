package sqlstore

import (
	"context"
	"fmt"

	"github.com/pliu/coursechat/internal/models"
)

func (s *SQLStore) CreateUser(ctx context.Context, user *models.User) error {
	query := s.rebind("INSERT INTO users (username, display_name, avatar_url, password) VALUES (?, ?, ?, ?) RETURNING id")
	err := s.db.QueryRowContext(ctx, query, user.Username, user.DisplayName, user.AvatarURL, user.Password).Scan(&user.ID)
	if err != nil {
		return fmt.Errorf("create user %q: %w", user.Username, err)
	}
	return nil
}

func (s *SQLStore) GetUserByID(ctx context.Context, id int64) (*models.User, error) {
	var user models.User
	query := s.rebind("SELECT id, username, display_name, avatar_url, password FROM users WHERE id = ?")
	err := s.db.QueryRowContext(ctx, query, id).Scan(&user.ID, &user.Username, &user.DisplayName, &user.AvatarURL, &user.Password)
	if err != nil {
		return nil, notFound(err)
	}
	return &user, nil
}

func (s *SQLStore) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	var user models.User
	query := s.rebind("SELECT id, username, display_name, avatar_url, password FROM users WHERE username = ?")
	err := s.db.QueryRowContext(ctx, query, username).Scan(&user.ID, &user.Username, &user.DisplayName, &user.AvatarURL, &user.Password)
	if err != nil {
		return nil, notFound(err)
	}
	return &user, nil
}
