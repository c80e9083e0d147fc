package api

import (
	"context"
	"errors"
	"net/http"
	"strings"

	appMiddleware "github.com/FACorreiaa/go-citytailor/app/middleware"
	"github.com/FACorreiaa/go-citytailor/internal/types"
)

// AuthorizeIdentity checks a claimed wire identity against the verified
// bearer token, if any. Anonymous claims are always allowed.
func AuthorizeIdentity(ctx context.Context, claimed string) error {
	claimed = strings.TrimSpace(claimed)
	if claimed == "" || claimed == types.AnonymousIdentityValue {
		return nil
	}
	verified, ok := appMiddleware.GetUserIDFromContext(ctx)
	if ok && verified != claimed {
		return types.ErrForbidden
	}
	return nil
}

// StatusFor maps service errors to HTTP status codes.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, types.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, types.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, types.ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, types.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, types.ErrConflict):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}
