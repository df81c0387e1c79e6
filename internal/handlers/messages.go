package handlers

import (
	"net/http"

	"github.com/pliu/coursechat/internal/chat"
)

type MessageHandler struct {
	Router *chat.Router
}

// History returns the conversation with {userId}, oldest first. Fetching it
// marks the other user's messages to the caller as read.
func (h *MessageHandler) History(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	otherID, ok := pathID(w, r, "userId")
	if !ok {
		return
	}
	limit, ok := queryLimit(w, r)
	if !ok {
		return
	}

	messages, err := h.Router.History(r.Context(), userID, otherID, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, messages)
}

// Unread returns the caller's unread count and most recent unread messages.
func (h *MessageHandler) Unread(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	count, messages, err := h.Router.Unread(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, chat.UnreadMessagesEvent(count, messages))
}
