package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/pliu/coursechat/internal/auth"
	"github.com/pliu/coursechat/internal/models"
	"github.com/pliu/coursechat/internal/store"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

type Credentials struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type SignupRequest struct {
	Username    string `json:"username" validate:"required,min=3,max=32,alphanum"`
	Password    string `json:"password" validate:"required,min=8,max=72"`
	DisplayName string `json:"displayName" validate:"max=64"`
	AvatarURL   string `json:"avatarUrl" validate:"omitempty,url"`
}

// AuthResponse carries the bearer token used both for HTTP requests and for
// the websocket auth event.
type AuthResponse struct {
	Token string       `json:"token"`
	User  *models.User `json:"user"`
}

type AuthHandler struct {
	Store    store.Store
	Tokens   *auth.Tokens
	Log      *zap.Logger
	validate *validator.Validate
}

func NewAuthHandler(s store.Store, tokens *auth.Tokens, log *zap.Logger) *AuthHandler {
	return &AuthHandler{Store: s, Tokens: tokens, Log: log, validate: validator.New()}
}

func (h *AuthHandler) Signup(w http.ResponseWriter, r *http.Request) {
	var req SignupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid request body")
		return
	}
	req.Username = strings.TrimSpace(req.Username)
	if err := h.validate.Struct(req); err != nil {
		badRequest(w, "username must be 3-32 letters or digits and password at least 8 characters")
		return
	}

	if _, err := h.Store.GetUserByUsername(r.Context(), req.Username); err == nil {
		http.Error(w, "Username already exists", http.StatusConflict)
		return
	} else if !errors.Is(err, store.ErrNotFound) {
		h.Log.Error("signup lookup failed", zap.Error(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	displayName := req.DisplayName
	if displayName == "" {
		displayName = req.Username
	}
	user := &models.User{
		Username:    req.Username,
		DisplayName: displayName,
		AvatarURL:   req.AvatarURL,
		Password:    string(hashedPassword),
	}
	if err := h.Store.CreateUser(r.Context(), user); err != nil {
		// Lost a race with another signup for the same name.
		http.Error(w, "Username already exists", http.StatusConflict)
		return
	}

	h.respondWithToken(w, http.StatusCreated, user)
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var creds Credentials
	if err := json.NewDecoder(r.Body).Decode(&creds); err != nil {
		badRequest(w, "invalid request body")
		return
	}
	if err := h.validate.Struct(creds); err != nil {
		badRequest(w, "username and password are required")
		return
	}

	user, err := h.Store.GetUserByUsername(r.Context(), strings.TrimSpace(creds.Username))
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			h.Log.Error("login lookup failed", zap.Error(err))
		}
		http.Error(w, "Invalid credentials", http.StatusUnauthorized)
		return
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(creds.Password)); err != nil {
		http.Error(w, "Invalid credentials", http.StatusUnauthorized)
		return
	}

	h.respondWithToken(w, http.StatusOK, user)
}

func (h *AuthHandler) respondWithToken(w http.ResponseWriter, status int, user *models.User) {
	token, err := h.Tokens.Generate(user.ID)
	if err != nil {
		h.Log.Error("issuing token failed", zap.Int64("user_id", user.ID), zap.Error(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, status, AuthResponse{Token: token, User: user})
}
