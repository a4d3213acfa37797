package store

import (
	"errors"
	"net/http"
)

// Error is a storage failure classified by the HTTP status it maps to.
// Backends return these; the service layer translates them to domain errors.
type Error struct {
	Code    int
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return e.Message + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// Is compares status codes only, so every ErrReviewNotFound also satisfies
// errors.Is(err, ErrNotFound).
func (e *Error) Is(target error) bool {
	var t *Error
	return errors.As(target, &t) && t.Code == e.Code
}

func (e *Error) HTTPCode() int { return e.Code }

func (e *Error) WithMessage(msg string) *Error {
	c := *e
	c.Message = msg
	return &c
}

func (e *Error) WithCause(err error) *Error {
	c := *e
	c.Err = err
	return &c
}

func sentinel(status int, msg string) *Error {
	return &Error{Code: status, Message: msg}
}

var (
	ErrNotFound      = sentinel(http.StatusNotFound, "resource not found")
	ErrAlreadyExists = sentinel(http.StatusConflict, "resource already exists")
	ErrInvalidInput  = sentinel(http.StatusBadRequest, "invalid input")
	ErrUnauthorized  = sentinel(http.StatusUnauthorized, "unauthorized")
	ErrForbidden     = sentinel(http.StatusForbidden, "forbidden")

	ErrUserNotFound    = ErrNotFound.WithMessage("user not found")
	ErrSessionNotFound = ErrNotFound.WithMessage("session not found")
	ErrProfileNotFound = ErrNotFound.WithMessage("profile not found")
	ErrReviewNotFound  = ErrNotFound.WithMessage("review not found")
	ErrEmailTaken      = ErrAlreadyExists.WithMessage("email already registered")
	ErrNotReviewAuthor = ErrForbidden.WithMessage("only the author can change this review")
)
