package auth

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maheshalyana/letterflow/pkg/models"
	"github.com/maheshalyana/letterflow/pkg/observability"
)

const testSecret = "test-secret"

type stubAccessStore struct {
	role  models.Role
	err   error
	delay time.Duration
}

func (s *stubAccessStore) DocumentRole(ctx context.Context, documentID, uid string) (models.Role, error) {
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if s.err != nil {
		return "", s.err
	}
	return s.role, nil
}

func signToken(t *testing.T, claims *Claims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(testSecret))
	require.NoError(t, err)
	return signed
}

func TestValidateToken(t *testing.T) {
	svc := NewService(testSecret, &stubAccessStore{}, time.Second, observability.NewNoopLogger())

	t.Run("valid token", func(t *testing.T) {
		signed := signToken(t, &Claims{
			RegisteredClaims: jwt.RegisteredClaims{Subject: "user1"},
			Name:             "Ada",
		})

		claims, err := svc.ValidateToken(signed)
		require.NoError(t, err)
		assert.Equal(t, "user1", claims.UID())
		assert.Equal(t, "Ada", claims.DisplayName())
	})

	t.Run("bearer prefix is stripped", func(t *testing.T) {
		signed := signToken(t, &Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: "user1"}})
		_, err := svc.ValidateToken("Bearer " + signed)
		assert.NoError(t, err)
	})

	t.Run("empty token", func(t *testing.T) {
		_, err := svc.ValidateToken("")
		assert.ErrorIs(t, err, ErrNoToken)
	})

	t.Run("garbage token", func(t *testing.T) {
		_, err := svc.ValidateToken("not-a-jwt")
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("wrong secret", func(t *testing.T) {
		token := jwt.NewWithClaims(jwt.SigningMethodHS256,
			&Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: "user1"}})
		signed, err := token.SignedString([]byte("other-secret"))
		require.NoError(t, err)

		_, err = svc.ValidateToken(signed)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("missing subject", func(t *testing.T) {
		signed := signToken(t, &Claims{Name: "nobody"})
		_, err := svc.ValidateToken(signed)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})
}

func TestDisplayName(t *testing.T) {
	cases := []struct {
		name     string
		claims   Claims
		expected string
	}{
		{"name wins", Claims{Name: "Ada", Email: "ada@example.com"}, "Ada"},
		{"email local part", Claims{Email: "ada@example.com"}, "ada"},
		{"bare email", Claims{Email: "ada"}, "ada"},
		{"nothing", Claims{}, "Anonymous"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, tc.claims.DisplayName())
		})
	}
}

func TestAuthorize(t *testing.T) {
	logger := observability.NewNoopLogger()

	t.Run("allowed with resolved role", func(t *testing.T) {
		svc := NewService(testSecret, &stubAccessStore{role: models.RoleEditor}, time.Second, logger)
		signed := signToken(t, &Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: "user1"}})

		decision, err := svc.Authorize(context.Background(), "doc1", signed)
		require.NoError(t, err)
		assert.Equal(t, models.RoleEditor, decision.Role)
		assert.Equal(t, "user1", decision.Claims.UID())
	})

	t.Run("store error denies", func(t *testing.T) {
		svc := NewService(testSecret, &stubAccessStore{err: assert.AnError}, time.Second, logger)
		signed := signToken(t, &Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: "user1"}})

		_, err := svc.Authorize(context.Background(), "doc1", signed)
		assert.ErrorIs(t, err, ErrAccessDenied)
	})

	t.Run("timeout denies", func(t *testing.T) {
		svc := NewService(testSecret, &stubAccessStore{role: models.RoleOwner, delay: 500 * time.Millisecond},
			50*time.Millisecond, logger)
		signed := signToken(t, &Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: "user1"}})

		_, err := svc.Authorize(context.Background(), "doc1", signed)
		assert.ErrorIs(t, err, ErrAccessDenied)
	})

	t.Run("invalid token denies before store lookup", func(t *testing.T) {
		svc := NewService(testSecret, &stubAccessStore{role: models.RoleOwner}, time.Second, logger)
		_, err := svc.Authorize(context.Background(), "doc1", "bogus")
		assert.ErrorIs(t, err, ErrInvalidToken)
	})
}
