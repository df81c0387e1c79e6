package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/pliu/coursechat/internal/store"
	"go.uber.org/zap"
)

// OnlineChecker answers presence queries from the live connection registry.
type OnlineChecker interface {
	IsOnline(userID int64) bool
	OnlineUsers() []int64
}

type UserHandler struct {
	Store  store.Store
	Online OnlineChecker
	Log    *zap.Logger
}

func (h *UserHandler) Me(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	h.writeUser(w, r, userID)
}

func (h *UserHandler) Get(w http.ResponseWriter, r *http.Request) {
	if _, ok := currentUser(w, r); !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	h.writeUser(w, r, id)
}

func (h *UserHandler) writeUser(w http.ResponseWriter, r *http.Request, id int64) {
	user, err := h.Store.GetUserByID(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		http.Error(w, "User not found", http.StatusNotFound)
		return
	}
	if err != nil {
		h.Log.Error("user lookup failed", zap.Int64("user_id", id), zap.Error(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// Follow makes the caller follow {id}. Chat needs the follow in both
// directions.
func (h *UserHandler) Follow(w http.ResponseWriter, r *http.Request) {
	h.changeFollow(w, r, h.Store.Follow)
}

func (h *UserHandler) Unfollow(w http.ResponseWriter, r *http.Request) {
	h.changeFollow(w, r, h.Store.Unfollow)
}

func (h *UserHandler) changeFollow(w http.ResponseWriter, r *http.Request, apply func(ctx context.Context, followerID, followedID int64) error) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	targetID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	if targetID == userID {
		badRequest(w, "you cannot follow yourself")
		return
	}
	if _, err := h.Store.GetUserByID(r.Context(), targetID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			http.Error(w, "User not found", http.StatusNotFound)
			return
		}
		h.Log.Error("user lookup failed", zap.Int64("user_id", targetID), zap.Error(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	if err := apply(r.Context(), userID, targetID); err != nil {
		h.Log.Error("follow update failed", zap.Int64("user_id", userID), zap.Int64("target_id", targetID), zap.Error(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type onlineResponse struct {
	UserID int64 `json:"userId"`
	Online bool  `json:"online"`
}

func (h *UserHandler) IsOnline(w http.ResponseWriter, r *http.Request) {
	if _, ok := currentUser(w, r); !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, onlineResponse{UserID: id, Online: h.Online.IsOnline(id)})
}

func (h *UserHandler) OnlineUsers(w http.ResponseWriter, r *http.Request) {
	if _, ok := currentUser(w, r); !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string][]int64{"users": h.Online.OnlineUsers()})
}
