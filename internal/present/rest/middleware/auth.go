package middleware

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/totegamma/feedingest/internal/domain"
	"github.com/totegamma/feedingest/internal/present/rest/presenter"
	"github.com/totegamma/feedingest/internal/service"
)

var tracer = otel.Tracer("auth")

type AuthMiddleware struct {
	auth *service.AuthService
}

func NewAuthMiddleware(
	auth *service.AuthService,
) *AuthMiddleware {
	return &AuthMiddleware{
		auth: auth,
	}
}

// IdentifyIdentity resolves the requester role from a Bearer token, falling back to
// the role headers set by the upstream gateway.
func (s *AuthMiddleware) IdentifyIdentity(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx, span := tracer.Start(c.Request().Context(), "Auth.Service.IdentifyIdentity")
		defer span.End()

		header := c.Request().Header

		if role, ok := domain.ParseRole(header.Get(domain.RequesterRoleHeader)); ok {
			ctx = context.WithValue(ctx, domain.RequesterRoleCtxKey, role)
			if id := header.Get(domain.RequesterIdHeader); id != "" {
				ctx = context.WithValue(ctx, domain.RequesterIdCtxKey, id)
			}
			span.SetAttributes(attribute.String("RequesterRole", string(role)))
		}

		authHeader := header.Get("authorization")
		if authHeader != "" {
			authType, token, found := strings.Cut(authHeader, " ")
			switch {
			case !found:
				span.RecordError(fmt.Errorf("invalid authentication header"))
			case authType != "Bearer":
				span.RecordError(fmt.Errorf("only Bearer is acceptable"))
			default:
				result, err := s.auth.AuthJwt(ctx, token)
				if err != nil {
					span.RecordError(errors.Wrap(err, "AuthMiddleware.IdentifyIdentity: s.auth.AuthJwt failed"))
					break
				}
				ctx = context.WithValue(ctx, domain.RequesterRoleCtxKey, result.Role)
				ctx = context.WithValue(ctx, domain.RequesterIdCtxKey, result.Subject)
				span.SetAttributes(
					attribute.String("RequesterRole", string(result.Role)),
					attribute.String("RequesterId", result.Subject),
				)
			}
		}

		c.SetRequest(c.Request().WithContext(ctx))
		return next(c)
	}
}

// RequireRoles rejects requests whose resolved role is not in roles.
func RequireRoles(roles ...domain.Role) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			role, ok := c.Request().Context().Value(domain.RequesterRoleCtxKey).(domain.Role)
			if !ok {
				return presenter.Unauthorized(c, "requester role is required")
			}
			if !slices.Contains(roles, role) {
				return presenter.Forbidden(c, fmt.Sprintf("role %s is not allowed", role))
			}
			return next(c)
		}
	}
}
