package auth

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/pliu/coursechat/internal/models"
	"github.com/pliu/coursechat/internal/store"
)

// Verification failures. Every error returned by Parse or Verify wraps exactly
// one of these.
var (
	ErrExpired          = errors.New("token expired")
	ErrMalformed        = errors.New("token malformed")
	ErrSignatureInvalid = errors.New("token signature invalid")
	ErrUnknownUser      = errors.New("user not found")
)

// Tokens issues and parses the only credential format the service accepts:
// an HS256 JWT whose subject is the decimal user id.
type Tokens struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

type Option func(*Tokens)

// WithClock replaces time.Now for issuing and validating tokens.
func WithClock(now func() time.Time) Option {
	return func(t *Tokens) { t.now = now }
}

func NewTokens(secret []byte, issuer string, ttl time.Duration, opts ...Option) *Tokens {
	t := &Tokens{secret: secret, issuer: issuer, ttl: ttl, now: time.Now}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Generate creates a signed token for a user.
func (t *Tokens) Generate(userID int64) (string, error) {
	now := t.now()
	claims := jwt.RegisteredClaims{
		Subject:   strconv.FormatInt(userID, 10),
		Issuer:    t.issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(t.ttl)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(t.secret)
}

// Parse validates signature, issuer and expiry and returns the user id. It has
// no side effects and is safe for concurrent use.
func (t *Tokens) Parse(tokenString string) (int64, error) {
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return t.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(t.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(t.now),
	)
	if err != nil {
		return 0, classify(err)
	}

	userID, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil || userID <= 0 {
		return 0, fmt.Errorf("%w: subject %q is not a user id", ErrMalformed, claims.Subject)
	}
	return userID, nil
}

func classify(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return ErrExpired
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		return ErrSignatureInvalid
	default:
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
}

// UserLookup is the part of the store the verifier needs.
type UserLookup interface {
	GetUserByID(ctx context.Context, id int64) (*models.User, error)
}

// Verifier turns a bearer credential into a known user.
type Verifier struct {
	tokens *Tokens
	users  UserLookup
}

func NewVerifier(tokens *Tokens, users UserLookup) *Verifier {
	return &Verifier{tokens: tokens, users: users}
}

func (v *Verifier) Verify(ctx context.Context, tokenString string) (*models.User, error) {
	userID, err := v.tokens.Parse(tokenString)
	if err != nil {
		return nil, err
	}
	user, err := v.users.GetUserByID(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrUnknownUser
	}
	if err != nil {
		return nil, fmt.Errorf("lookup user %d: %w", userID, err)
	}
	return user, nil
}
