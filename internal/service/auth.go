package service

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"

	"github.com/totegamma/feedingest/internal/domain"
	"github.com/totegamma/feedingest/jwt"
)

var tracer = otel.Tracer("service")

type AuthService struct {
	secret   string
	audience string
}

// NewAuthService validates tokens signed with secret. A non-empty audience must appear in the aud claim.
func NewAuthService(secret, audience string) *AuthService {
	return &AuthService{
		secret:   secret,
		audience: audience,
	}
}

type AuthResult struct {
	Subject string
	Role    domain.Role
}

// AuthJwt resolves the requester of a bearer token.
func (s *AuthService) AuthJwt(ctx context.Context, token string) (*AuthResult, error) {
	_, span := tracer.Start(ctx, "Auth.Service.AuthJwt")
	defer span.End()

	var opts []jwt.Option
	if s.audience != "" {
		opts = append(opts, jwt.WithAudience(s.audience))
	}

	_, claims, err := jwt.Validate(token, s.secret, opts...)
	if err != nil {
		err = errors.Wrap(err, "jwt validation failed")
		span.RecordError(err)
		return nil, err
	}

	role, ok := domain.ParseRole(claims.Role)
	if !ok {
		err := fmt.Errorf("unknown role %q", claims.Role)
		span.RecordError(err)
		return nil, err
	}

	return &AuthResult{Subject: claims.Subject, Role: role}, nil
}
