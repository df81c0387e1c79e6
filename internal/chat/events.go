package chat

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/pliu/coursechat/internal/models"
	"github.com/samber/lo"
)

// Inbound event types.
const (
	TypeAuth         = "auth"
	TypeChatMessage  = "chat_message"
	TypeGroupMessage = "group_message"
	TypeMarkRead     = "mark_read"
	TypeTyping       = "typing"
	TypeJoinGroup    = "join_group"
	TypeLeaveGroup   = "leave_group"
	TypePing         = "ping"
)

var inboundTypes = map[string]bool{
	TypeAuth:         true,
	TypeChatMessage:  true,
	TypeGroupMessage: true,
	TypeMarkRead:     true,
	TypeTyping:       true,
	TypeJoinGroup:    true,
	TypeLeaveGroup:   true,
	TypePing:         true,
}

// IsInbound reports whether typ is an event type clients may send.
func IsInbound(typ string) bool {
	return inboundTypes[typ]
}

// Outbound event types.
const (
	TypeAuthSuccess     = "auth_success"
	TypeError           = "error"
	TypeMessageSent     = "message_sent"
	TypeNewMessage      = "new_message"
	TypeNewGroupMessage = "new_group_message"
	TypeMessagesRead    = "messages_read"
	TypeTypingStatus    = "typing_status"
	TypeUserStatus      = "user_status"
	TypeUnreadMessages  = "unread_messages"
	TypePong            = "pong"
)

const (
	StatusOnline  = "online"
	StatusOffline = "offline"
)

// Inbound is the union of every client event. Fields that do not apply to a
// type are ignored.
type Inbound struct {
	Type       string          `json:"type"`
	Token      string          `json:"token,omitempty"`
	Content    string          `json:"content,omitempty"`
	ReceiverID int64           `json:"receiverId,omitempty"`
	GroupID    int64           `json:"groupId,omitempty"`
	SenderID   int64           `json:"senderId,omitempty"`
	IsTyping   bool            `json:"isTyping,omitempty"`
	TempID     json.RawMessage `json:"tempId,omitempty"`
}

// Event is a server to client event. Message holds a *models.DirectMessage,
// a *models.GroupMessage, or the error text for TypeError. Messages is set
// only on unread_messages, where it is always a list.
type Event struct {
	Type      string          `json:"type"`
	UserID    int64           `json:"userId,omitempty"`
	Message   any             `json:"message,omitempty"`
	Code      Kind            `json:"code,omitempty"`
	TempID    json.RawMessage `json:"tempId,omitempty"`
	ReadBy    int64           `json:"readBy,omitempty"`
	IsTyping  *bool           `json:"isTyping,omitempty"`
	GroupID   int64           `json:"groupId,omitempty"`
	Status    string          `json:"status,omitempty"`
	Timestamp *time.Time      `json:"timestamp,omitempty"`
	Count     *int            `json:"count,omitempty"`
	Messages  any             `json:"messages,omitempty"`
}

func AuthSuccessEvent(userID int64) Event {
	return Event{Type: TypeAuthSuccess, UserID: userID}
}

func ErrorEvent(kind Kind, msg string, tempID json.RawMessage) Event {
	return Event{Type: TypeError, Message: msg, Code: kind, TempID: tempID}
}

// ErrorEventFor renders err for the client, keeping the correlation id.
func ErrorEventFor(err error, tempID json.RawMessage) Event {
	var e *Error
	if errors.As(err, &e) {
		return ErrorEvent(e.Kind, e.Msg, tempID)
	}
	return ErrorEvent(KindOf(err), err.Error(), tempID)
}

func MessageSentEvent(msg any, tempID json.RawMessage) Event {
	return Event{Type: TypeMessageSent, Message: msg, TempID: tempID}
}

func NewMessageEvent(msg *models.DirectMessage) Event {
	return Event{Type: TypeNewMessage, Message: msg}
}

func NewGroupMessageEvent(msg *models.GroupMessage) Event {
	return Event{Type: TypeNewGroupMessage, Message: msg, GroupID: msg.GroupID}
}

func MessagesReadEvent(readBy int64) Event {
	return Event{Type: TypeMessagesRead, ReadBy: readBy}
}

func TypingStatusEvent(userID, groupID int64, isTyping bool) Event {
	return Event{Type: TypeTypingStatus, UserID: userID, GroupID: groupID, IsTyping: lo.ToPtr(isTyping)}
}

func UserStatusEvent(userID int64, status string, at time.Time) Event {
	return Event{Type: TypeUserStatus, UserID: userID, Status: status, Timestamp: lo.ToPtr(at)}
}

func UnreadMessagesEvent(count int, messages []models.DirectMessage) Event {
	if messages == nil {
		messages = []models.DirectMessage{}
	}
	return Event{Type: TypeUnreadMessages, Count: lo.ToPtr(count), Messages: messages}
}

func PongEvent() Event {
	return Event{Type: TypePong}
}
