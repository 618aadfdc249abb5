package auth

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/velro-ai/velro/internal/authctx"
)

// ErrInvalidToken covers every verification failure: bad signature, expired,
// malformed, wrong audience. Authorization beyond identity is not decided
// here; a valid token for a user with no access still verifies.
var ErrInvalidToken = errors.New("auth: invalid token")

// Claims carried by Supabase-issued access tokens. Subject is the user id.
type Claims struct {
	Email string `json:"email"`
	Role  string `json:"role"`
	jwt.RegisteredClaims
}

const tokenCacheSize = 4096

type cachedIdentity struct {
	identity  authctx.Identity
	expiresAt time.Time
}

// Verifier checks Supabase HS256 access tokens. Successful verifications
// are cached by token hash for a short TTL so repeated requests with the
// same token skip the signature check; an entry never outlives the token's
// own expiry.
type Verifier struct {
	secret   []byte
	audience string
	cache    *lru.LRU[string, cachedIdentity]
}

func NewVerifier(secret string, cacheTTL time.Duration) *Verifier {
	var cache *lru.LRU[string, cachedIdentity]
	if cacheTTL > 0 {
		cache = lru.NewLRU[string, cachedIdentity](tokenCacheSize, nil, cacheTTL)
	}
	return &Verifier{
		secret:   []byte(secret),
		audience: "authenticated",
		cache:    cache,
	}
}

// Verify returns the identity encoded in the token or ErrInvalidToken.
func (v *Verifier) Verify(tokenStr string) (*authctx.Identity, error) {
	cacheKey := hashToken(tokenStr)

	if v.cache != nil {
		if ent, ok := v.cache.Get(cacheKey); ok {
			if time.Now().Before(ent.expiresAt) {
				id := ent.identity
				return &id, nil
			}
			v.cache.Remove(cacheKey)
		}
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return v.secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}), jwt.WithAudience(v.audience))
	if err != nil || !token.Valid {
		return nil, ErrInvalidToken
	}

	userID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return nil, fmt.Errorf("%w: subject is not a user id", ErrInvalidToken)
	}

	identity := authctx.Identity{
		UserID: userID,
		Email:  claims.Email,
		Role:   claims.Role,
	}

	if v.cache != nil && claims.ExpiresAt != nil {
		v.cache.Add(cacheKey, cachedIdentity{
			identity:  identity,
			expiresAt: claims.ExpiresAt.Time,
		})
	}

	return &identity, nil
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
