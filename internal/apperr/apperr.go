package apperr

import (
	"errors"
	"fmt"
)

type Kind string

const (
	KindValidation    Kind = "ValidationError"
	KindNotFound      Kind = "NotFoundError"
	KindStateConflict Kind = "StateConflictError"
	KindCapacity      Kind = "CapacityError"
	KindAuthorization Kind = "AuthorizationError"
	KindEconomy       Kind = "EconomyError"
	KindInternal      Kind = "InternalError"
)

// Error carries a kind for the caller plus an optional code naming the exact
// failure. errors.Is matches on code when the target has one, otherwise on kind.
type Error struct {
	Kind Kind
	Code string
	Msg  string
}

func (e *Error) Error() string {
	if e.Msg == "" {
		if e.Code != "" {
			return e.Code
		}
		return string(e.Kind)
	}
	return e.Msg
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Code != "" {
		return t.Code == e.Code
	}
	return t.Kind == e.Kind
}

var (
	ErrValidation    = &Error{Kind: KindValidation}
	ErrNotFound      = &Error{Kind: KindNotFound}
	ErrStateConflict = &Error{Kind: KindStateConflict}
	ErrCapacity      = &Error{Kind: KindCapacity}
	ErrAuthorization = &Error{Kind: KindAuthorization}
	ErrEconomy       = &Error{Kind: KindEconomy}

	ErrInvalidLocation = &Error{Kind: KindValidation, Code: "InvalidLocationError"}
	ErrAlreadyInLobby  = &Error{Kind: KindStateConflict, Code: "AlreadyInLobbyError"}
	ErrRoleUnavailable = &Error{Kind: KindCapacity, Code: "RoleUnavailableError"}
)

func newf(kind Kind, code, format string, args ...any) error {
	return &Error{Kind: kind, Code: code, Msg: fmt.Sprintf(format, args...)}
}

func Validation(format string, args ...any) error {
	return newf(KindValidation, "", format, args...)
}

func NotFound(format string, args ...any) error {
	return newf(KindNotFound, "", format, args...)
}

func StateConflict(format string, args ...any) error {
	return newf(KindStateConflict, "", format, args...)
}

func Capacity(format string, args ...any) error {
	return newf(KindCapacity, "", format, args...)
}

func Authorization(format string, args ...any) error {
	return newf(KindAuthorization, "", format, args...)
}

func Economy(format string, args ...any) error {
	return newf(KindEconomy, "", format, args...)
}

func InvalidLocation(format string, args ...any) error {
	return newf(KindValidation, ErrInvalidLocation.Code, format, args...)
}

func AlreadyInLobby(format string, args ...any) error {
	return newf(KindStateConflict, ErrAlreadyInLobby.Code, format, args...)
}

func RoleUnavailable(format string, args ...any) error {
	return newf(KindCapacity, ErrRoleUnavailable.Code, format, args...)
}

// KindOf reports the kind of err, or KindInternal for errors that did not come
// from this package.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}
