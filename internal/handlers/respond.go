package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/pliu/coursechat/internal/chat"
	"github.com/pliu/coursechat/internal/middleware"
)

type errorResponse struct {
	Error string    `json:"error"`
	Code  chat.Kind `json:"code,omitempty"`
	// MemberID names the member that failed a relationship check.
	MemberID int64 `json:"memberId,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps a chat error to its HTTP status. Errors from outside the
// chat core are reported as internal errors without their details.
func writeError(w http.ResponseWriter, err error) {
	var e *chat.Error
	if !errors.As(err, &e) {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal server error"})
		return
	}
	writeJSON(w, statusFor(e.Kind), errorResponse{Error: e.Msg, Code: e.Kind, MemberID: e.MemberID})
}

func statusFor(kind chat.Kind) int {
	switch kind {
	case chat.KindForbidden:
		return http.StatusForbidden
	case chat.KindValidation:
		return http.StatusBadRequest
	case chat.KindNotFound:
		return http.StatusNotFound
	case chat.KindAuthFailed, chat.KindAuthTimeout, chat.KindNotAuthenticated:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, errorResponse{Error: msg, Code: chat.KindValidation})
}

// currentUser returns the id set by the auth middleware. Routes that call it
// are always mounted behind that middleware.
func currentUser(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
	}
	return id, ok
}

// pathID parses a positive id from the route variable name.
func pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(mux.Vars(r)[name], 10, 64)
	if err != nil || id <= 0 {
		badRequest(w, "invalid "+name)
		return 0, false
	}
	return id, true
}

// queryLimit reads ?limit=, returning 0 when absent.
func queryLimit(w http.ResponseWriter, r *http.Request) (int, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 0, true
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 0 {
		badRequest(w, "invalid limit")
		return 0, false
	}
	return limit, true
}
