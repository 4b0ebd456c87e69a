package apperr

import (
	"net/http"

	"google.golang.org/grpc/codes"
)

var httpStatus = map[Kind]int{
	InvalidInput:        http.StatusBadRequest,
	NotFound:            http.StatusNotFound,
	Conflict:            http.StatusConflict,
	DuplicateAssignment: http.StatusConflict,
	DuplicateEndpoint:   http.StatusConflict,
	DuplicateTenantName: http.StatusConflict,
	InUse:               http.StatusConflict,
	InvalidCredentials:  http.StatusUnauthorized,
	InvalidUserState:    http.StatusForbidden,
	InvalidRefreshToken: http.StatusUnauthorized,
	Unauthenticated:     http.StatusUnauthorized,
	Forbidden:           http.StatusForbidden,
	Unavailable:         http.StatusServiceUnavailable,
}

var grpcCodes = map[Kind]codes.Code{
	InvalidInput:        codes.InvalidArgument,
	NotFound:            codes.NotFound,
	Conflict:            codes.AlreadyExists,
	DuplicateAssignment: codes.AlreadyExists,
	DuplicateEndpoint:   codes.AlreadyExists,
	DuplicateTenantName: codes.AlreadyExists,
	InUse:               codes.FailedPrecondition,
	InvalidCredentials:  codes.Unauthenticated,
	InvalidUserState:    codes.PermissionDenied,
	InvalidRefreshToken: codes.Unauthenticated,
	Unauthenticated:     codes.Unauthenticated,
	Forbidden:           codes.PermissionDenied,
	Unavailable:         codes.Unavailable,
}

// HTTPStatus maps a kind to its HTTP status. Unknown kinds map to 500.
func HTTPStatus(kind Kind) int {
	if status, ok := httpStatus[kind]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// GRPCCode maps a kind to its gRPC status code. Unknown kinds map to Internal.
func GRPCCode(kind Kind) codes.Code {
	if code, ok := grpcCodes[kind]; ok {
		return code
	}
	return codes.Internal
}
