package server

import (
	"errors"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"truckdash/internal/domain"
	"truckdash/internal/session"
)

// requireRole gates local endpoints on the dashboard's own session. The local
// API never holds a credential of its own.
func requireRole(s SessionView, role domain.Role) huma.StatusError {
	if s == nil {
		return newAPIError(http.StatusUnauthorized, "unauthorized", "no session configured", nil)
	}
	if err := s.Require(role); err != nil {
		return handleError(err)
	}
	return nil
}

func authError(err error) (huma.StatusError, bool) {
	if errors.Is(err, session.ErrUnauthenticated) {
		return newAPIError(http.StatusUnauthorized, "unauthorized", "login required", nil), true
	}
	var fe domain.ForbiddenError
	if errors.As(err, &fe) {
		return newAPIError(http.StatusForbidden, "forbidden", err.Error(), map[string]any{
			"required": string(fe.Required),
			"current":  string(fe.Current),
		}), true
	}
	return nil, false
}
