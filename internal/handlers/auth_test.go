package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/pliu/coursechat/internal/auth"
	"github.com/pliu/coursechat/internal/models"
	"github.com/pliu/coursechat/internal/store/sqlstore"
	"go.uber.org/zap/zaptest"
	"golang.org/x/crypto/bcrypt"
)

func newAuthHandler(t *testing.T) (*AuthHandler, *sqlstore.SQLStore, *auth.Tokens) {
	t.Helper()
	store, err := sqlstore.New("sqlite3", ":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })
	tokens := auth.NewTokens([]byte("handler-test-secret-0123"), "test", time.Hour)
	return NewAuthHandler(store, tokens, zaptest.NewLogger(t)), store, tokens
}

func TestSignup(t *testing.T) {
	handler, store, tokens := newAuthHandler(t)

	body, _ := json.Marshal(SignupRequest{
		Username: "testuser",
		Password: "password123",
	})

	req, err := http.NewRequest("POST", "/signup", bytes.NewBuffer(body))
	if err != nil {
		t.Fatal(err)
	}

	rr := httptest.NewRecorder()
	http.HandlerFunc(handler.Signup).ServeHTTP(rr, req)

	if status := rr.Code; status != http.StatusCreated {
		t.Fatalf("handler returned wrong status code: got %v want %v",
			status, http.StatusCreated)
	}

	var resp AuthResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp.User.DisplayName != "testuser" {
		t.Errorf("Expected display name to default to the username, got %q", resp.User.DisplayName)
	}
	userID, err := tokens.Parse(resp.Token)
	if err != nil || userID != resp.User.ID {
		t.Errorf("Expected a token for user %d, got %d (%v)", resp.User.ID, userID, err)
	}

	stored, err := store.GetUserByUsername(context.Background(), "testuser")
	if err != nil {
		t.Fatal(err)
	}
	if stored.Password == "password123" {
		t.Error("Password was stored in plain text")
	}

	// Test duplicate user
	req, _ = http.NewRequest("POST", "/signup", bytes.NewBuffer(body))
	rr = httptest.NewRecorder()
	http.HandlerFunc(handler.Signup).ServeHTTP(rr, req)

	if status := rr.Code; status != http.StatusConflict {
		t.Errorf("handler returned wrong status code for duplicate user: got %v want %v",
			status, http.StatusConflict)
	}
}

func TestSignupValidation(t *testing.T) {
	handler, _, _ := newAuthHandler(t)

	tests := []struct {
		name string
		body string
	}{
		{name: "short password", body: `{"username":"alice","password":"short"}`},
		{name: "missing username", body: `{"password":"password123"}`},
		{name: "bad username", body: `{"username":"a b!","password":"password123"}`},
		{name: "bad avatar", body: `{"username":"alice","password":"password123","avatarUrl":"not a url"}`},
		{name: "not json", body: `{`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("POST", "/signup", bytes.NewBufferString(tt.body))
			rr := httptest.NewRecorder()
			http.HandlerFunc(handler.Signup).ServeHTTP(rr, req)

			if rr.Code != http.StatusBadRequest {
				t.Errorf("handler returned wrong status code: got %v want %v", rr.Code, http.StatusBadRequest)
			}
		})
	}
}

func TestLogin(t *testing.T) {
	handler, store, tokens := newAuthHandler(t)

	hashedPassword, _ := bcrypt.GenerateFromPassword([]byte("password123"), bcrypt.DefaultCost)
	user := &models.User{Username: "testuser", Password: string(hashedPassword)}
	if err := store.CreateUser(context.Background(), user); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name           string
		creds          Credentials
		expectedStatus int
	}{
		{
			name:           "Valid Credentials",
			creds:          Credentials{Username: "testuser", Password: "password123"},
			expectedStatus: http.StatusOK,
		},
		{
			name:           "Wrong Password",
			creds:          Credentials{Username: "testuser", Password: "password124"},
			expectedStatus: http.StatusUnauthorized,
		},
		{
			name:           "Unknown User",
			creds:          Credentials{Username: "nobody", Password: "password123"},
			expectedStatus: http.StatusUnauthorized,
		},
		{
			name:           "Missing Password",
			creds:          Credentials{Username: "testuser"},
			expectedStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body, _ := json.Marshal(tt.creds)
			req, err := http.NewRequest("POST", "/login", bytes.NewBuffer(body))
			if err != nil {
				t.Fatal(err)
			}

			rr := httptest.NewRecorder()
			http.HandlerFunc(handler.Login).ServeHTTP(rr, req)

			if status := rr.Code; status != tt.expectedStatus {
				t.Fatalf("handler returned wrong status code: got %v want %v",
					status, tt.expectedStatus)
			}
			if tt.expectedStatus != http.StatusOK {
				return
			}

			var resp AuthResponse
			if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
				t.Fatal(err)
			}
			if id, err := tokens.Parse(resp.Token); err != nil || id != user.ID {
				t.Errorf("Expected a token for user %d, got %d (%v)", user.ID, id, err)
			}
		})
	}
}
