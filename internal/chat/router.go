package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/pliu/coursechat/internal/models"
	"github.com/samber/lo"
	"go.uber.org/zap"
)

// MessageStore is the message persistence the router writes through.
type MessageStore interface {
	CreateDirectMessage(ctx context.Context, senderID, receiverID int64, content string) (*models.DirectMessage, error)
	ListDirectMessages(ctx context.Context, userA, userB int64, limit int) ([]models.DirectMessage, error)
	MarkDirectMessagesRead(ctx context.Context, senderID, receiverID int64) (int64, error)
	MarkDirectMessagesReadByID(ctx context.Context, senderID, receiverID int64, ids []int64) (int64, error)
	CountUnread(ctx context.Context, receiverID int64) (int, error)
	ListUnread(ctx context.Context, receiverID int64, limit int) ([]models.DirectMessage, error)
	CreateGroupMessage(ctx context.Context, groupID, senderID int64, content string) (*models.GroupMessage, error)
	ListGroupMembers(ctx context.Context, groupID int64) ([]models.GroupMember, error)
}

type RouterConfig struct {
	HistoryLimit int
	UnreadLimit  int
}

// Router validates, persists and fans out chat events. A message is always
// persisted before it reaches any connection; when persistence fails nothing
// is delivered and the error goes back to the sender.
type Router struct {
	registry *Registry
	gate     *Gate
	groups   *GroupManager
	messages MessageStore
	cfg      RouterConfig
	log      *zap.Logger
	validate *validator.Validate
}

func NewRouter(registry *Registry, gate *Gate, groups *GroupManager, messages MessageStore, cfg RouterConfig, log *zap.Logger) *Router {
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = 200
	}
	if cfg.UnreadLimit <= 0 {
		cfg.UnreadLimit = 50
	}
	return &Router{
		registry: registry,
		gate:     gate,
		groups:   groups,
		messages: messages,
		cfg:      cfg,
		log:      log,
		validate: newValidator(),
	}
}

type directSend struct {
	ReceiverID int64  `json:"receiverId" validate:"required,gt=0"`
	Content    string `json:"content" validate:"required,max=4000"`
}

type groupSend struct {
	GroupID int64  `json:"groupId" validate:"required,gt=0"`
	Content string `json:"content" validate:"required,max=4000"`
}

type counterpart struct {
	UserID int64 `json:"senderId" validate:"required,gt=0"`
}

// Dispatch routes one event of an authenticated connection. Events of one
// connection are dispatched serially by the caller, which preserves their
// order end to end.
func (r *Router) Dispatch(ctx context.Context, conn Conn, userID int64, in Inbound) error {
	switch in.Type {
	case TypeChatMessage:
		_, err := r.SendDirect(ctx, userID, in.ReceiverID, in.Content, in.TempID)
		return err
	case TypeGroupMessage:
		_, err := r.SendGroup(ctx, userID, in.GroupID, in.Content, in.TempID)
		return err
	case TypeMarkRead:
		_, err := r.MarkRead(ctx, userID, in.SenderID)
		return err
	case TypeTyping:
		return r.Typing(ctx, userID, in.ReceiverID, in.GroupID, in.IsTyping)
	case TypeJoinGroup:
		return r.JoinGroup(ctx, conn, userID, in.GroupID)
	case TypeLeaveGroup:
		if in.GroupID <= 0 {
			return invalid("groupId is required")
		}
		conn.Unsubscribe(in.GroupID)
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnknownEvent, in.Type)
	}
}

// SendDirect persists a direct message, echoes message_sent to all of the
// sender's connections and pushes new_message to the receiver's.
func (r *Router) SendDirect(ctx context.Context, senderID, receiverID int64, content string, tempID json.RawMessage) (*models.DirectMessage, error) {
	if err := r.check(directSend{ReceiverID: receiverID, Content: strings.TrimSpace(content)}); err != nil {
		return nil, err
	}
	if receiverID == senderID {
		return nil, invalid("you cannot message yourself")
	}
	if err := r.gate.require(ctx, senderID, receiverID); err != nil {
		return nil, err
	}

	msg, err := r.messages.CreateDirectMessage(ctx, senderID, receiverID, content)
	if err != nil {
		return nil, storageError("save message", err)
	}

	r.registry.SendToUser(senderID, MessageSentEvent(msg, tempID))
	delivered := r.registry.SendToUser(receiverID, NewMessageEvent(msg))
	r.log.Debug("direct message routed",
		zap.Int64("message_id", msg.ID),
		zap.Int64("sender_id", senderID),
		zap.Int64("receiver_id", receiverID),
		zap.Int("receiver_connections", delivered))
	return msg, nil
}

// MarkRead flips every unread message from senderID to readerID in one batch
// and tells the sender when anything changed. Repeating it without new
// messages in between changes nothing and sends nothing.
func (r *Router) MarkRead(ctx context.Context, readerID, senderID int64) (int64, error) {
	if err := r.check(counterpart{UserID: senderID}); err != nil {
		return 0, err
	}
	if senderID == readerID {
		return 0, invalid("senderId must be another user")
	}
	changed, err := r.messages.MarkDirectMessagesRead(ctx, senderID, readerID)
	if err != nil {
		return 0, storageError("mark messages read", err)
	}
	if changed > 0 {
		r.registry.SendToUser(senderID, MessagesReadEvent(readerID))
	}
	return changed, nil
}

// SendGroup persists a group message and pushes it to every other member that
// is online. Membership is read fresh for each message.
func (r *Router) SendGroup(ctx context.Context, senderID, groupID int64, content string, tempID json.RawMessage) (*models.GroupMessage, error) {
	if err := r.check(groupSend{GroupID: groupID, Content: strings.TrimSpace(content)}); err != nil {
		return nil, err
	}
	if err := r.groups.requireMember(ctx, groupID, senderID); err != nil {
		return nil, err
	}

	msg, err := r.messages.CreateGroupMessage(ctx, groupID, senderID, content)
	if err != nil {
		return nil, storageError("save group message", err)
	}
	r.registry.SendToUser(senderID, MessageSentEvent(msg, tempID))

	members, err := r.messages.ListGroupMembers(ctx, groupID)
	if err != nil {
		// The message is stored; members will see it in the group history.
		r.log.Warn("group fan-out skipped", zap.Int64("group_id", groupID), zap.Int64("message_id", msg.ID), zap.Error(err))
		return msg, nil
	}
	ev := NewGroupMessageEvent(msg)
	for _, m := range members {
		if m.UserID != senderID {
			r.registry.SendToUser(m.UserID, ev)
		}
	}
	return msg, nil
}

// Typing relays a typing indicator, either to a direct message partner or to
// the members of a group that joined its channel.
func (r *Router) Typing(ctx context.Context, userID, receiverID, groupID int64, isTyping bool) error {
	if groupID > 0 {
		if err := r.groups.requireMember(ctx, groupID, userID); err != nil {
			return err
		}
		members, err := r.messages.ListGroupMembers(ctx, groupID)
		if err != nil {
			return storageError("list members", err)
		}
		ev := TypingStatusEvent(userID, groupID, isTyping)
		for _, m := range members {
			if m.UserID != userID {
				r.registry.SendToSubscribers(m.UserID, groupID, ev)
			}
		}
		return nil
	}

	if receiverID <= 0 {
		return invalid("receiverId or groupId is required")
	}
	if err := r.gate.require(ctx, userID, receiverID); err != nil {
		return err
	}
	r.registry.SendToUser(receiverID, TypingStatusEvent(userID, 0, isTyping))
	return nil
}

// JoinGroup subscribes conn to the group channel after checking membership.
func (r *Router) JoinGroup(ctx context.Context, conn Conn, userID, groupID int64) error {
	if err := r.groups.requireMember(ctx, groupID, userID); err != nil {
		return err
	}
	conn.Subscribe(groupID)
	return nil
}

// History returns the conversation between callerID and otherID. As a side
// effect the returned messages from otherID that were unread are marked read;
// older unread messages outside the page stay unread.
func (r *Router) History(ctx context.Context, callerID, otherID int64, limit int) ([]models.DirectMessage, error) {
	if otherID <= 0 || otherID == callerID {
		return nil, invalid("a valid userId of another user is required")
	}
	if err := r.gate.require(ctx, callerID, otherID); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > r.cfg.HistoryLimit {
		limit = r.cfg.HistoryLimit
	}

	messages, err := r.messages.ListDirectMessages(ctx, callerID, otherID, limit)
	if err != nil {
		return nil, storageError("load history", err)
	}
	unread := lo.FilterMap(messages, func(m models.DirectMessage, _ int) (int64, bool) {
		return m.ID, m.SenderID == otherID && !m.IsRead
	})
	if len(unread) == 0 {
		return messages, nil
	}
	changed, err := r.messages.MarkDirectMessagesReadByID(ctx, otherID, callerID, unread)
	if err != nil {
		return nil, storageError("mark messages read", err)
	}
	if changed > 0 {
		for i := range messages {
			if messages[i].SenderID == otherID {
				messages[i].IsRead = true
			}
		}
		r.registry.SendToUser(otherID, MessagesReadEvent(callerID))
	}
	return messages, nil
}

// Unread returns the number of unread direct messages for userID and the most
// recent of them.
func (r *Router) Unread(ctx context.Context, userID int64) (int, []models.DirectMessage, error) {
	count, err := r.messages.CountUnread(ctx, userID)
	if err != nil {
		return 0, nil, storageError("count unread", err)
	}
	if count == 0 {
		return 0, []models.DirectMessage{}, nil
	}
	messages, err := r.messages.ListUnread(ctx, userID, r.cfg.UnreadLimit)
	if err != nil {
		return 0, nil, storageError("list unread", err)
	}
	return count, messages, nil
}

func (r *Router) check(req any) error {
	err := r.validate.Struct(req)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return invalid(err.Error())
	}
	fe := fieldErrs[0]
	switch fe.Tag() {
	case "required":
		return invalid(fe.Field() + " is required")
	case "max":
		return invalid(fmt.Sprintf("%s exceeds %s characters", fe.Field(), fe.Param()))
	default:
		return invalid(fe.Field() + " is invalid")
	}
}

// newValidator reports fields by their JSON names so the messages match what
// the client sent.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}
