package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// Session is a verified auth provider session
type Session struct {
	UserID string
	Email  string
}

// AdminRegistry answers whether a user holds the admin capability
type AdminRegistry interface {
	IsAdmin(ctx context.Context, userID string) (bool, error)
}

type sessionClaims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// SessionService verifies access tokens issued by the auth provider and
// checks the admin registry.
type SessionService struct {
	secret   []byte
	audience string
	admins   AdminRegistry
}

// NewSessionService creates a new session service
func NewSessionService(secret, audience string, admins AdminRegistry) *SessionService {
	return &SessionService{
		secret:   []byte(secret),
		audience: audience,
		admins:   admins,
	}
}

// Authenticate verifies the bearer token from an Authorization header
func (s *SessionService) Authenticate(authorization string) (*Session, error) {
	token, ok := strings.CutPrefix(authorization, "Bearer ")
	token = strings.TrimSpace(token)
	if !ok || token == "" {
		return nil, ErrUnauthorized
	}
	if len(s.secret) == 0 {
		return nil, fmt.Errorf("%w: session verification is not configured", ErrUnauthorized)
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if s.audience != "" {
		opts = append(opts, jwt.WithAudience(s.audience))
	}

	claims := &sessionClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		return s.secret, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: token has no subject", ErrUnauthorized)
	}

	return &Session{UserID: claims.Subject, Email: claims.Email}, nil
}

// RequireAdmin returns ErrForbidden unless userID is in the admin registry
func (s *SessionService) RequireAdmin(ctx context.Context, userID string) error {
	isAdmin, err := s.admins.IsAdmin(ctx, userID)
	if err != nil {
		return upstream("Failed to check admin access", err)
	}
	if !isAdmin {
		return ErrForbidden
	}
	return nil
}
