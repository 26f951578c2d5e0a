// Package auth covers password hashing, credential checks and the bearer
// tokens handed out at login.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/ristretto/v2"
	"github.com/dmitrijs2005/cosauth/internal/common"
	"github.com/dmitrijs2005/cosauth/internal/server/models"
	"github.com/golang-jwt/jwt/v5"
)

// Claims carries the user's identity. Subject holds the user ID.
type Claims struct {
	jwt.RegisteredClaims
	Username string `json:"username"`
	Email    string `json:"email"`
	Role     string `json:"role"`
}

// CacheObserver is told about every verification cache lookup.
type CacheObserver interface {
	TokenCacheLookup(hit bool)
}

type nopCacheObserver struct{}

func (nopCacheObserver) TokenCacheLookup(bool) {}

const (
	cacheCounters = 100_000
	cacheMaxCost  = 10_000
)

// TokenIssuer signs and verifies HS256 access tokens. Verified tokens are
// kept in memory until they expire so repeat requests skip the signature
// check. There is no revocation.
type TokenIssuer struct {
	secret   []byte
	ttl      time.Duration
	now      func() time.Time
	cache    *ristretto.Cache[string, *Claims]
	observer CacheObserver
}

type IssuerOption func(*TokenIssuer)

func WithClock(now func() time.Time) IssuerOption {
	return func(t *TokenIssuer) { t.now = now }
}

func WithCacheObserver(o CacheObserver) IssuerOption {
	return func(t *TokenIssuer) { t.observer = o }
}

func NewTokenIssuer(secret []byte, ttl time.Duration, opts ...IssuerOption) (*TokenIssuer, error) {
	cache, err := ristretto.NewCache(&ristretto.Config[string, *Claims]{
		NumCounters: cacheCounters,
		MaxCost:     cacheMaxCost,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create token cache: %w", err)
	}

	t := &TokenIssuer{
		secret:   secret,
		ttl:      ttl,
		now:      time.Now,
		cache:    cache,
		observer: nopCacheObserver{},
	}
	for _, o := range opts {
		o(t)
	}
	return t, nil
}

// TTL is the lifetime of issued tokens.
func (t *TokenIssuer) TTL() time.Duration {
	return t.ttl
}

func (t *TokenIssuer) Issue(user *models.User) (string, time.Time, error) {
	now := t.now()
	expiresAt := now.Add(t.ttl)

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		Username: user.Username,
		Email:    user.Email,
		Role:     user.Role,
	})

	s, err := token.SignedString(t.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return s, expiresAt, nil
}

// Verify checks signature and expiry, returning common.ErrTokenExpired or
// common.ErrInvalidToken on failure.
func (t *TokenIssuer) Verify(tokenString string) (*Claims, error) {
	now := t.now()

	if c, ok := t.cache.Get(tokenString); ok {
		if c.ExpiresAt != nil && now.Before(c.ExpiresAt.Time) {
			t.observer.TokenCacheLookup(true)
			return c, nil
		}
		t.cache.Del(tokenString)
	}
	t.observer.TokenCacheLookup(false)

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(*jwt.Token) (any, error) {
		return t.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(t.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, common.ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %w", common.ErrInvalidToken, err)
	}
	if !token.Valid || claims.Subject == "" {
		return nil, common.ErrInvalidToken
	}

	if left := claims.ExpiresAt.Sub(now); left > 0 {
		t.cache.SetWithTTL(tokenString, claims, 1, left)
	}
	return claims, nil
}

// Wait blocks until pending cache writes are applied.
func (t *TokenIssuer) Wait() {
	t.cache.Wait()
}

func (t *TokenIssuer) Close() {
	t.cache.Close()
}
