package auth

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/samber/lo"

	"github.com/clinicsuite/clinic/internal/platform/apperr"
)

const (
	RoleAdmin        = "admin"
	RoleDoctor       = "doctor"
	RoleReceptionist = "receptionist"
	RolePatient      = "patient"
)

// StaffRoles may act on any patient's records.
var StaffRoles = []string{RoleAdmin, RoleDoctor, RoleReceptionist}

// RequireRole returns middleware that checks if the user has at least one of the specified roles.
// Admins pass every check.
func RequireRole(roles ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if HasAnyRole(c.Request().Context(), roles...) {
				return next(c)
			}
			return echo.NewHTTPError(http.StatusForbidden,
				fmt.Sprintf("required role: %s", strings.Join(roles, " or ")))
		}
	}
}

// HasAnyRole reports whether the caller holds one of roles, or is an admin.
func HasAnyRole(ctx context.Context, roles ...string) bool {
	held := RolesFromContext(ctx)
	if lo.Contains(held, RoleAdmin) {
		return true
	}
	return lo.Some(held, roles)
}

// IsStaff reports whether the caller is clinic staff rather than a patient.
func IsStaff(ctx context.Context) bool {
	return HasAnyRole(ctx, StaffRoles...)
}

// Principal is the authenticated caller.
type Principal struct {
	UserID uuid.UUID
	Roles  []string
}

// PrincipalFromContext returns the caller identity stored by JWTMiddleware or
// DevAuthMiddleware.
func PrincipalFromContext(ctx context.Context) (Principal, error) {
	raw := UserIDFromContext(ctx)
	if raw == "" {
		return Principal{}, apperr.Unauthenticated("not authenticated")
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return Principal{}, apperr.Unauthenticated("token subject is not a user id")
	}
	return Principal{UserID: id, Roles: RolesFromContext(ctx)}, nil
}
