// Package auth validates connection tokens and resolves the role a
// participant holds on a document. The gateway treats its answer as the
// access decision: deny closes the connection before any sync happens.
package auth

import (
	"context"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/pkg/errors"

	"github.com/maheshalyana/letterflow/pkg/models"
	"github.com/maheshalyana/letterflow/pkg/observability"
)

// Common errors
var (
	ErrNoToken      = errors.New("missing auth token")
	ErrInvalidToken = errors.New("invalid auth token")
	ErrAccessDenied = errors.New("access denied")
)

// Claims are the identity claims carried in a connection token
type Claims struct {
	jwt.RegisteredClaims
	Name    string `json:"name,omitempty"`
	Email   string `json:"email,omitempty"`
	Picture string `json:"picture,omitempty"`
}

// UID returns the stable user identifier
func (c *Claims) UID() string {
	return c.Subject
}

// DisplayName resolves a human-readable name, falling back to the local part
// of the email address the way the account service does
func (c *Claims) DisplayName() string {
	if c.Name != "" {
		return c.Name
	}
	if c.Email != "" {
		if i := strings.Index(c.Email, "@"); i > 0 {
			return c.Email[:i]
		}
		return c.Email
	}
	return "Anonymous"
}

// Decision is the outcome of an authorization check
type Decision struct {
	Claims *Claims
	Role   models.Role
}

// AccessStore resolves document roles; implemented by the database layer
type AccessStore interface {
	DocumentRole(ctx context.Context, documentID, uid string) (models.Role, error)
}

// Service performs token validation and document access checks
type Service struct {
	secret  []byte
	store   AccessStore
	timeout time.Duration
	logger  observability.Logger
}

// NewService creates an auth service. timeout bounds the access lookup; an
// expired deadline is treated as deny.
func NewService(secret string, store AccessStore, timeout time.Duration, logger observability.Logger) *Service {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Service{
		secret:  []byte(secret),
		store:   store,
		timeout: timeout,
		logger:  logger,
	}
}

// ValidateToken parses and verifies a connection token
func (s *Service) ValidateToken(token string) (*Claims, error) {
	if token == "" {
		return nil, ErrNoToken
	}
	token = strings.TrimPrefix(token, "Bearer ")

	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		return nil, errors.Wrapf(ErrInvalidToken, "%v", err)
	}
	if !parsed.Valid || claims.Subject == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// Authorize validates the token and resolves the participant's role on the
// document. Lookup failures and timeouts deny access; they never grant a
// default role.
func (s *Service) Authorize(ctx context.Context, documentID, token string) (*Decision, error) {
	ctx, span := observability.StartSpan(ctx, "auth.Authorize")
	defer span.End()
	span.SetAttribute("document_id", documentID)

	claims, err := s.ValidateToken(token)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	role, err := s.store.DocumentRole(ctx, documentID, claims.UID())
	if err != nil {
		span.RecordError(err)
		s.logger.Warn("Document access check failed", map[string]interface{}{
			"document_id": documentID,
			"uid":         claims.UID(),
			"error":       err.Error(),
		})
		return nil, errors.Wrapf(ErrAccessDenied, "%v", err)
	}

	return &Decision{Claims: claims, Role: role}, nil
}
