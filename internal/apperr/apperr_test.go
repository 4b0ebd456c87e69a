package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"google.golang.org/grpc/codes"
)

func TestErrorsIsMatchesByKind(t *testing.T) {
	err := fmt.Errorf("delete role: %w", Errorf(InUse, "role %s has 2 assignments", "r1"))
	if !errors.Is(err, ErrInUse) {
		t.Fatalf("errors.Is(%v, ErrInUse) = false, want true", err)
	}
	if errors.Is(err, ErrNotFound) {
		t.Fatalf("errors.Is(%v, ErrNotFound) = true, want false", err)
	}
	if got := KindOf(err); got != InUse {
		t.Fatalf("KindOf() = %v, want %v", got, InUse)
	}
}

func TestWrapKeepsCause(t *testing.T) {
	cause := errors.New("connection reset")
	err := Wrap(Unavailable, cause, "cache")
	if !errors.Is(err, cause) {
		t.Fatalf("wrapped error lost its cause")
	}
	if err.Error() != "cache: connection reset" {
		t.Fatalf("Error() = %q", err.Error())
	}
	if Wrap(Unavailable, nil, "cache") != nil {
		t.Fatalf("Wrap(nil) should be nil")
	}
}

func TestKindOfPlainError(t *testing.T) {
	if got := KindOf(errors.New("boom")); got != Unknown {
		t.Fatalf("KindOf() = %v, want Unknown", got)
	}
	if IsKind(nil, Unknown) {
		t.Fatalf("IsKind(nil) = true")
	}
}

func TestStatusTables(t *testing.T) {
	cases := []struct {
		kind Kind
		http int
		grpc codes.Code
	}{
		{NotFound, http.StatusNotFound, codes.NotFound},
		{DuplicateEndpoint, http.StatusConflict, codes.AlreadyExists},
		{InUse, http.StatusConflict, codes.FailedPrecondition},
		{InvalidCredentials, http.StatusUnauthorized, codes.Unauthenticated},
		{InvalidUserState, http.StatusForbidden, codes.PermissionDenied},
		{InvalidRefreshToken, http.StatusUnauthorized, codes.Unauthenticated},
		{Unknown, http.StatusInternalServerError, codes.Internal},
	}
	for _, tc := range cases {
		if got := HTTPStatus(tc.kind); got != tc.http {
			t.Errorf("HTTPStatus(%v) = %d, want %d", tc.kind, got, tc.http)
		}
		if got := GRPCCode(tc.kind); got != tc.grpc {
			t.Errorf("GRPCCode(%v) = %v, want %v", tc.kind, got, tc.grpc)
		}
	}
}
