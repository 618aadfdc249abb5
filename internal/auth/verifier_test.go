package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/velro-ai/velro/internal/authctx"
	"github.com/velro-ai/velro/internal/models"
)

const testSecret = "super-secret-signing-key"

func mintToken(t *testing.T, secret string, userID uuid.UUID, email, role string, ttl time.Duration) string {
	t.Helper()
	claims := Claims{
		Email: email,
		Role:  role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID.String(),
			Audience:  jwt.ClaimStrings{"authenticated"},
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return token
}

func TestVerifyValidToken(t *testing.T) {
	userID := uuid.New()
	v := NewVerifier(testSecret, time.Minute)

	token := mintToken(t, testSecret, userID, "a@velro.ai", models.RoleMember, time.Hour)

	identity, err := v.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, userID, identity.UserID)
	assert.Equal(t, "a@velro.ai", identity.Email)
	assert.Equal(t, models.RoleMember, identity.Role)
}

func TestVerifyRejections(t *testing.T) {
	v := NewVerifier(testSecret, 0)

	t.Run("wrong secret", func(t *testing.T) {
		token := mintToken(t, "some-other-secret", uuid.New(), "a@velro.ai", models.RoleMember, time.Hour)
		_, err := v.Verify(token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("expired", func(t *testing.T) {
		token := mintToken(t, testSecret, uuid.New(), "a@velro.ai", models.RoleMember, -time.Minute)
		_, err := v.Verify(token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("malformed", func(t *testing.T) {
		_, err := v.Verify("not.a.jwt")
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("wrong audience", func(t *testing.T) {
		claims := Claims{
			RegisteredClaims: jwt.RegisteredClaims{
				Subject:   uuid.New().String(),
				Audience:  jwt.ClaimStrings{"anon"},
				ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			},
		}
		token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
		require.NoError(t, err)
		_, err = v.Verify(token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("non-uuid subject", func(t *testing.T) {
		claims := Claims{
			RegisteredClaims: jwt.RegisteredClaims{
				Subject:   "service-account",
				Audience:  jwt.ClaimStrings{"authenticated"},
				ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			},
		}
		token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
		require.NoError(t, err)
		_, err = v.Verify(token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})
}

func TestVerifyCachedEntryNeverOutlivesToken(t *testing.T) {
	// Cache TTL far longer than the token's own lifetime.
	v := NewVerifier(testSecret, time.Hour)
	token := mintToken(t, testSecret, uuid.New(), "a@velro.ai", models.RoleMember, 50*time.Millisecond)

	_, err := v.Verify(token)
	require.NoError(t, err)

	time.Sleep(80 * time.Millisecond)
	_, err = v.Verify(token)
	assert.ErrorIs(t, err, ErrInvalidToken, "expired token must not be served from cache")
}

func TestAuthenticateMiddleware(t *testing.T) {
	userID := uuid.New()
	v := NewVerifier(testSecret, time.Minute)
	mw := NewMiddleware(v, nil)

	var gotIdentity *authctx.Identity
	handler := mw.Authenticate(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotIdentity = authctx.IdentityFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	t.Run("no header", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("bad token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer garbage")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("valid token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer "+mintToken(t, testSecret, userID, "a@velro.ai", models.RoleAdmin, time.Hour))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
		require.NotNil(t, gotIdentity)
		assert.Equal(t, userID, gotIdentity.UserID)
	})
}

func TestRequireRole(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	gate := RequireRole(models.RoleAdmin, models.RoleOwner)(next)

	serve := func(identity *authctx.Identity) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if identity != nil {
			req = req.WithContext(authctx.WithIdentity(req.Context(), identity))
		}
		rec := httptest.NewRecorder()
		gate.ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusUnauthorized, serve(nil).Code)
	assert.Equal(t, http.StatusForbidden, serve(&authctx.Identity{Role: models.RoleMember}).Code)
	assert.Equal(t, http.StatusOK, serve(&authctx.Identity{Role: models.RoleAdmin}).Code)
	assert.Equal(t, http.StatusOK, serve(&authctx.Identity{Role: models.RoleOwner}).Code)
}
