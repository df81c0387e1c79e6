package chat

import (
	"errors"
	"fmt"

	"github.com/pliu/coursechat/internal/store"
)

// Kind classifies a failure for the client. Only KindAuthTimeout ends a
// connection; every other kind is answered with an error event.
type Kind string

const (
	KindAuthFailed       Kind = "authentication_failed"
	KindAuthTimeout      Kind = "authentication_timeout"
	KindNotAuthenticated Kind = "not_authenticated"
	KindForbidden        Kind = "forbidden"
	KindValidation       Kind = "validation_error"
	KindPersistence      Kind = "persistence_failure"
	KindNotFound         Kind = "not_found"
)

type Error struct {
	Kind Kind
	Msg  string
	// MemberID names the member that failed the relationship check when a
	// group operation is rejected.
	MemberID int64
	Err      error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

func newError(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

func forbidden(msg string) *Error   { return newError(KindForbidden, msg) }
func invalid(msg string) *Error     { return newError(KindValidation, msg) }
func notFoundErr(msg string) *Error { return newError(KindNotFound, msg) }

// storageError converts a store failure into a client facing error.
func storageError(op string, err error) *Error {
	if errors.Is(err, store.ErrNotFound) {
		return &Error{Kind: KindNotFound, Msg: op + ": not found", Err: err}
	}
	return &Error{Kind: KindPersistence, Msg: op + " failed", Err: err}
}

// KindOf reports the Kind of err, defaulting to KindPersistence for errors
// that did not originate in this package.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindPersistence
}

// ErrUnknownEvent is returned by Dispatch for event types it does not route.
var ErrUnknownEvent = errors.New("unknown event type")
