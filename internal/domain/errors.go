package domain

import (
	"errors"
	"fmt"
)

// Error kinds. Every error surfaced by the service unwraps to exactly one of these.
var (
	ErrNotFound        = errors.New("not found")
	ErrInvalidArgument = errors.New("invalid argument")
	ErrConflict        = errors.New("conflict")
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrUnauthorized    = errors.New("unauthorized")
	ErrTooSoon         = errors.New("too soon")
	ErrOutOfStock      = errors.New("out of stock")
	ErrInternal        = errors.New("internal error")
	ErrExternal        = errors.New("external call failed")
	ErrRateLimited     = errors.New("rate limited")
)

// Error pairs a kind with a message meant for the caller.
type Error struct {
	Kind    error
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Kind
}

func newError(kind error, format string, args ...interface{}) error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func NotFound(format string, args ...interface{}) error {
	return newError(ErrNotFound, format, args...)
}

func InvalidArgument(format string, args ...interface{}) error {
	return newError(ErrInvalidArgument, format, args...)
}

func Conflict(format string, args ...interface{}) error {
	return newError(ErrConflict, format, args...)
}

func Unauthenticated(format string, args ...interface{}) error {
	return newError(ErrUnauthenticated, format, args...)
}

func Unauthorized(format string, args ...interface{}) error {
	return newError(ErrUnauthorized, format, args...)
}

func TooSoon(format string, args ...interface{}) error {
	return newError(ErrTooSoon, format, args...)
}

func OutOfStock(format string, args ...interface{}) error {
	return newError(ErrOutOfStock, format, args...)
}

func Internal(format string, args ...interface{}) error {
	return newError(ErrInternal, format, args...)
}

func External(format string, args ...interface{}) error {
	return newError(ErrExternal, format, args...)
}

func RateLimited(format string, args ...interface{}) error {
	return newError(ErrRateLimited, format, args...)
}

var errorCodes = []struct {
	kind error
	code string
}{
	{ErrNotFound, "NOT_FOUND"},
	{ErrInvalidArgument, "INVALID_ARGUMENT"},
	{ErrConflict, "CONFLICT"},
	{ErrUnauthenticated, "UNAUTHENTICATED"},
	{ErrUnauthorized, "UNAUTHORIZED"},
	{ErrTooSoon, "TOO_SOON"},
	{ErrOutOfStock, "OUT_OF_STOCK"},
	{ErrExternal, "EXTERNAL"},
	{ErrRateLimited, "RATE_LIMITED"},
	{ErrInternal, "INTERNAL"},
}

// ErrorCode returns the stable code for err. Unclassified errors are INTERNAL.
func ErrorCode(err error) string {
	for _, item := range errorCodes {
		if errors.Is(err, item.kind) {
			return item.code
		}
	}
	return "INTERNAL"
}

// ErrorMessage returns the caller-facing message of err.
func ErrorMessage(err error) string {
	var domainErr *Error
	if errors.As(err, &domainErr) {
		return domainErr.Message
	}
	if err == nil {
		return ""
	}
	return err.Error()
}
