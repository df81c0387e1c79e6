package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/pliu/coursechat/internal/models"
	"github.com/samber/lo"
)

// GroupStore is the group persistence the chat core relies on.
type GroupStore interface {
	CreateGroup(ctx context.Context, name string, creatorID int64, memberIDs []int64) (*models.Group, error)
	GetGroup(ctx context.Context, groupID int64) (*models.Group, error)
	DeleteGroup(ctx context.Context, groupID int64) error
	AddGroupMember(ctx context.Context, groupID, userID int64, isAdmin bool) error
	RemoveGroupMember(ctx context.Context, groupID, userID int64) error
	IsGroupMember(ctx context.Context, groupID, userID int64) (bool, error)
	ListGroupMembers(ctx context.Context, groupID int64) ([]models.GroupMember, error)
	ListUserGroups(ctx context.Context, userID int64) ([]models.Group, error)
	ListGroupMessages(ctx context.Context, groupID int64, limit int) ([]models.GroupMessage, error)
}

const maxGroupNameLength = 100

// GroupManager enforces group membership rules. Every check reads the store;
// nothing about membership is cached between calls.
type GroupManager struct {
	groups GroupStore
	gate   *Gate
}

func NewGroupManager(groups GroupStore, gate *Gate) *GroupManager {
	return &GroupManager{groups: groups, gate: gate}
}

// CreateGroup creates a group owned by creatorID. Every other member must be
// chat eligible with the creator; the first one that is not aborts the whole
// operation and is reported in Error.MemberID.
func (m *GroupManager) CreateGroup(ctx context.Context, creatorID int64, name string, memberIDs []int64) (*models.Group, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, invalid("group name is required")
	}
	if len(name) > maxGroupNameLength {
		return nil, invalid(fmt.Sprintf("group name exceeds %d characters", maxGroupNameLength))
	}

	members := lo.Uniq(lo.Reject(memberIDs, func(id int64, _ int) bool { return id == creatorID }))
	for _, id := range members {
		ok, err := m.gate.CanChat(ctx, creatorID, id)
		if err != nil {
			return nil, storageError("relationship check", err)
		}
		if !ok {
			return nil, &Error{
				Kind:     KindForbidden,
				Msg:      fmt.Sprintf("user %d is not a mutual follower", id),
				MemberID: id,
			}
		}
	}

	group, err := m.groups.CreateGroup(ctx, name, creatorID, members)
	if err != nil {
		return nil, storageError("create group", err)
	}
	return group, nil
}

// AddMember adds targetID to the group. The requester must be an admin and the
// two must be chat eligible.
func (m *GroupManager) AddMember(ctx context.Context, groupID, requesterID, targetID int64) error {
	if _, err := m.group(ctx, groupID); err != nil {
		return err
	}
	admin, err := m.isAdmin(ctx, groupID, requesterID)
	if err != nil {
		return err
	}
	if !admin {
		return forbidden("only group admins can add members")
	}
	if err := m.gate.require(ctx, requesterID, targetID); err != nil {
		var e *Error
		if errors.As(err, &e) && e.Kind == KindForbidden {
			e.MemberID = targetID
		}
		return err
	}
	member, err := m.IsMember(ctx, groupID, targetID)
	if err != nil {
		return err
	}
	if member {
		return invalid("user is already a member")
	}
	if err := m.groups.AddGroupMember(ctx, groupID, targetID, false); err != nil {
		return storageError("add member", err)
	}
	return nil
}

// RemoveMember removes targetID. Only the creator may remove members and the
// creator cannot remove themselves; deleting the group is the only way out.
func (m *GroupManager) RemoveMember(ctx context.Context, groupID, requesterID, targetID int64) error {
	group, err := m.group(ctx, groupID)
	if err != nil {
		return err
	}
	if group.CreatorID != requesterID {
		return forbidden("only the group creator can remove members")
	}
	if targetID == requesterID {
		return forbidden("the group creator cannot be removed; delete the group instead")
	}
	member, err := m.IsMember(ctx, groupID, targetID)
	if err != nil {
		return err
	}
	if !member {
		return notFoundErr("user is not a member of this group")
	}
	if err := m.groups.RemoveGroupMember(ctx, groupID, targetID); err != nil {
		return storageError("remove member", err)
	}
	return nil
}

// DeleteGroup removes the group and all memberships. Messages are kept.
func (m *GroupManager) DeleteGroup(ctx context.Context, groupID, requesterID int64) error {
	group, err := m.group(ctx, groupID)
	if err != nil {
		return err
	}
	if group.CreatorID != requesterID {
		return forbidden("only the group creator can delete the group")
	}
	if err := m.groups.DeleteGroup(ctx, groupID); err != nil {
		return storageError("delete group", err)
	}
	return nil
}

func (m *GroupManager) IsMember(ctx context.Context, groupID, userID int64) (bool, error) {
	ok, err := m.groups.IsGroupMember(ctx, groupID, userID)
	if err != nil {
		return false, storageError("membership check", err)
	}
	return ok, nil
}

// Members returns the roster. Only members may read it.
func (m *GroupManager) Members(ctx context.Context, groupID, requesterID int64) ([]models.GroupMember, error) {
	if err := m.requireMember(ctx, groupID, requesterID); err != nil {
		return nil, err
	}
	members, err := m.groups.ListGroupMembers(ctx, groupID)
	if err != nil {
		return nil, storageError("list members", err)
	}
	return members, nil
}

// Admins returns the ids of the group's admins.
func (m *GroupManager) Admins(ctx context.Context, groupID, requesterID int64) ([]int64, error) {
	members, err := m.Members(ctx, groupID, requesterID)
	if err != nil {
		return nil, err
	}
	return lo.FilterMap(members, func(gm models.GroupMember, _ int) (int64, bool) {
		return gm.UserID, gm.IsAdmin
	}), nil
}

func (m *GroupManager) Groups(ctx context.Context, userID int64) ([]models.Group, error) {
	groups, err := m.groups.ListUserGroups(ctx, userID)
	if err != nil {
		return nil, storageError("list groups", err)
	}
	return groups, nil
}

// Messages returns the group's recent history. Only members may read it.
func (m *GroupManager) Messages(ctx context.Context, groupID, requesterID int64, limit int) ([]models.GroupMessage, error) {
	if err := m.requireMember(ctx, groupID, requesterID); err != nil {
		return nil, err
	}
	messages, err := m.groups.ListGroupMessages(ctx, groupID, limit)
	if err != nil {
		return nil, storageError("list group messages", err)
	}
	return messages, nil
}

// requireMember checks that the group exists and userID belongs to it.
func (m *GroupManager) requireMember(ctx context.Context, groupID, userID int64) error {
	if _, err := m.group(ctx, groupID); err != nil {
		return err
	}
	member, err := m.IsMember(ctx, groupID, userID)
	if err != nil {
		return err
	}
	if !member {
		return forbidden("you are not a member of this group")
	}
	return nil
}

func (m *GroupManager) group(ctx context.Context, groupID int64) (*models.Group, error) {
	if groupID <= 0 {
		return nil, invalid("groupId is required")
	}
	group, err := m.groups.GetGroup(ctx, groupID)
	if err != nil {
		return nil, storageError("load group", err)
	}
	return group, nil
}

func (m *GroupManager) isAdmin(ctx context.Context, groupID, userID int64) (bool, error) {
	members, err := m.groups.ListGroupMembers(ctx, groupID)
	if err != nil {
		return false, storageError("list members", err)
	}
	return lo.ContainsBy(members, func(gm models.GroupMember) bool {
		return gm.UserID == userID && gm.IsAdmin
	}), nil
}
