package store

import (
	"context"
	"errors"

	"github.com/pliu/coursechat/internal/models"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

type Store interface {
	// User operations
	CreateUser(ctx context.Context, user *models.User) error
	GetUserByID(ctx context.Context, id int64) (*models.User, error)
	GetUserByUsername(ctx context.Context, username string) (*models.User, error)

	// Follow graph. Written by the follow feature, read by the chat core.
	Follow(ctx context.Context, followerID, followedID int64) error
	Unfollow(ctx context.Context, followerID, followedID int64) error
	IsFollowing(ctx context.Context, followerID, followedID int64) (bool, error)
	ListFollowers(ctx context.Context, userID int64) ([]int64, error)

	// Direct messages
	CreateDirectMessage(ctx context.Context, senderID, receiverID int64, content string) (*models.DirectMessage, error)
	ListDirectMessages(ctx context.Context, userA, userB int64, limit int) ([]models.DirectMessage, error)
	MarkDirectMessagesRead(ctx context.Context, senderID, receiverID int64) (int64, error)
	MarkDirectMessagesReadByID(ctx context.Context, senderID, receiverID int64, ids []int64) (int64, error)
	CountUnread(ctx context.Context, receiverID int64) (int, error)
	ListUnread(ctx context.Context, receiverID int64, limit int) ([]models.DirectMessage, error)

	// Group operations
	CreateGroup(ctx context.Context, name string, creatorID int64, memberIDs []int64) (*models.Group, error)
	GetGroup(ctx context.Context, groupID int64) (*models.Group, error)
	DeleteGroup(ctx context.Context, groupID int64) error
	AddGroupMember(ctx context.Context, groupID, userID int64, isAdmin bool) error
	RemoveGroupMember(ctx context.Context, groupID, userID int64) error
	IsGroupMember(ctx context.Context, groupID, userID int64) (bool, error)
	ListGroupMembers(ctx context.Context, groupID int64) ([]models.GroupMember, error)
	ListUserGroups(ctx context.Context, userID int64) ([]models.Group, error)
	CreateGroupMessage(ctx context.Context, groupID, senderID int64, content string) (*models.GroupMessage, error)
	ListGroupMessages(ctx context.Context, groupID int64, limit int) ([]models.GroupMessage, error)
}
