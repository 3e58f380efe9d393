package domain

import (
	"errors"
	"fmt"
)

var (
	ErrAuthentication = errors.New("authentication failed")
	ErrValidation     = errors.New("validation failed")
	ErrAuthorization  = errors.New("not authorized")
	ErrNotFound       = errors.New("not found")
	// ErrDeliveryFailed marks a dropped push. It never reaches the caller of
	// an operation.
	ErrDeliveryFailed = errors.New("delivery failed")
)

const (
	CodeAuthentication = "authentication"
	CodeValidation     = "validation"
	CodeAuthorization  = "authorization"
	CodeNotFound       = "not_found"
	CodeInternal       = "internal"
)

func Validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

func Authorizationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrAuthorization, fmt.Sprintf(format, args...))
}

func NotFoundf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
}

// ErrorCode maps err to the stable code sent to clients.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrAuthentication):
		return CodeAuthentication
	case errors.Is(err, ErrValidation):
		return CodeValidation
	case errors.Is(err, ErrAuthorization):
		return CodeAuthorization
	case errors.Is(err, ErrNotFound):
		return CodeNotFound
	default:
		return CodeInternal
	}
}

// PublicMessage hides internal failure details from clients.
func PublicMessage(err error) string {
	if ErrorCode(err) == CodeInternal {
		return "operation failed"
	}
	return err.Error()
}
