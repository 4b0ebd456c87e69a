// Package apperr defines the single error taxonomy shared by every AuthHub
// component. Business-rule violations carry a Kind; transport layers translate
// kinds to responses through the lookup tables in status.go.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies a domain error.
type Kind uint8

const (
	Unknown Kind = iota
	InvalidInput
	NotFound
	Conflict
	DuplicateAssignment
	DuplicateEndpoint
	DuplicateTenantName
	InUse
	InvalidCredentials
	InvalidUserState
	InvalidRefreshToken
	Unauthenticated
	Forbidden
	Unavailable
)

var kindNames = map[Kind]string{
	Unknown:             "unknown",
	InvalidInput:        "invalid_input",
	NotFound:            "not_found",
	Conflict:            "conflict",
	DuplicateAssignment: "duplicate_assignment",
	DuplicateEndpoint:   "duplicate_endpoint",
	DuplicateTenantName: "duplicate_tenant_name",
	InUse:               "in_use",
	InvalidCredentials:  "invalid_credentials",
	InvalidUserState:    "invalid_user_state",
	InvalidRefreshToken: "invalid_refresh_token",
	Unauthenticated:     "unauthenticated",
	Forbidden:           "forbidden",
	Unavailable:         "unavailable",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Error is a domain error tagged with a Kind.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Msg != "" && e.Err != nil:
		return e.Msg + ": " + e.Err.Error()
	case e.Msg != "":
		return e.Msg
	case e.Err != nil:
		return e.Kind.String() + ": " + e.Err.Error()
	default:
		return e.Kind.String()
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind, so the sentinels below work with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// Sentinels for errors.Is comparisons.
var (
	ErrInvalidInput        = &Error{Kind: InvalidInput, Msg: "invalid input"}
	ErrNotFound            = &Error{Kind: NotFound, Msg: "not found"}
	ErrConflict            = &Error{Kind: Conflict, Msg: "conflict"}
	ErrDuplicateAssignment = &Error{Kind: DuplicateAssignment, Msg: "already assigned"}
	ErrDuplicateEndpoint   = &Error{Kind: DuplicateEndpoint, Msg: "endpoint already registered"}
	ErrDuplicateTenantName = &Error{Kind: DuplicateTenantName, Msg: "tenant name already in use"}
	ErrInUse               = &Error{Kind: InUse, Msg: "resource is still referenced"}
	ErrInvalidCredentials  = &Error{Kind: InvalidCredentials, Msg: "invalid credentials"}
	ErrInvalidUserState    = &Error{Kind: InvalidUserState, Msg: "user is not active"}
	ErrInvalidRefreshToken = &Error{Kind: InvalidRefreshToken, Msg: "invalid refresh token"}
	ErrUnauthenticated     = &Error{Kind: Unauthenticated, Msg: "unauthenticated"}
	ErrForbidden           = &Error{Kind: Forbidden, Msg: "forbidden"}
	ErrUnavailable         = &Error{Kind: Unavailable, Msg: "unavailable"}
)

// New returns an error of the given kind.
func New(kind Kind, msg string) error {
	return &Error{Kind: kind, Msg: msg}
}

// Errorf formats a message for an error of the given kind.
func Errorf(kind Kind, format string, args ...any) error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap tags err with kind while keeping it in the chain.
func Wrap(kind Kind, err error, msg string) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// KindOf reports the kind of the first *Error in err's chain, or Unknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Unknown
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
