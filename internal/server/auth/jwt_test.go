package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/dmitrijs2005/cosauth/internal/common"
	"github.com/dmitrijs2005/cosauth/internal/server/models"
)

type lookupCounter struct{ hits, misses int }

func (c *lookupCounter) TokenCacheLookup(hit bool) {
	if hit {
		c.hits++
	} else {
		c.misses++
	}
}

func newIssuer(t *testing.T, secret string, ttl time.Duration, opts ...IssuerOption) *TokenIssuer {
	t.Helper()
	ti, err := NewTokenIssuer([]byte(secret), ttl, opts...)
	if err != nil {
		t.Fatalf("NewTokenIssuer error: %v", err)
	}
	t.Cleanup(ti.Close)
	return ti
}

var testUser = &models.User{ID: "user-123", Username: "alice", Email: "alice@example.com", Role: common.RoleAdmin}

func TestIssueAndVerify_Success(t *testing.T) {
	t.Parallel()

	ti := newIssuer(t, "super-secret", time.Hour)

	tok, exp, err := ti.Issue(testUser)
	if err != nil {
		t.Fatalf("Issue error: %v", err)
	}
	if d := time.Until(exp); d < 59*time.Minute || d > time.Hour {
		t.Fatalf("unexpected expiry %v", exp)
	}

	claims, err := ti.Verify(tok)
	if err != nil {
		t.Fatalf("Verify error: %v", err)
	}
	if claims.Subject != testUser.ID {
		t.Fatalf("sub mismatch: got %q want %q", claims.Subject, testUser.ID)
	}
	if claims.Username != "alice" || claims.Email != "alice@example.com" || claims.Role != common.RoleAdmin {
		t.Fatalf("unexpected claims: %+v", claims)
	}
	if claims.IssuedAt == nil || claims.ExpiresAt == nil {
		t.Fatalf("iat/exp must be set: %+v", claims.RegisteredClaims)
	}
}

func TestVerify_Expired(t *testing.T) {
	t.Parallel()

	ti := newIssuer(t, "secret", -1*time.Second)

	tok, _, err := ti.Issue(testUser)
	if err != nil {
		t.Fatalf("Issue error: %v", err)
	}

	_, err = ti.Verify(tok)
	if !errors.Is(err, common.ErrTokenExpired) {
		t.Fatalf("expected common.ErrTokenExpired, got %v", err)
	}
}

func TestVerify_WrongSecret(t *testing.T) {
	t.Parallel()

	tok, _, err := newIssuer(t, "right-secret", time.Hour).Issue(testUser)
	if err != nil {
		t.Fatalf("Issue error: %v", err)
	}

	_, err = newIssuer(t, "wrong-secret", time.Hour).Verify(tok)
	if !errors.Is(err, common.ErrInvalidToken) {
		t.Fatalf("expected common.ErrInvalidToken, got %v", err)
	}
}

func TestVerify_MalformedString(t *testing.T) {
	t.Parallel()

	_, err := newIssuer(t, "k", time.Hour).Verify("not.a.jwt")
	if !errors.Is(err, common.ErrInvalidToken) {
		t.Fatalf("expected common.ErrInvalidToken, got %v", err)
	}
}

func TestVerify_CachesUntilExpiry(t *testing.T) {
	t.Parallel()

	now := time.Now()
	counter := &lookupCounter{}
	ti := newIssuer(t, "secret", time.Hour,
		WithClock(func() time.Time { return now }),
		WithCacheObserver(counter))

	tok, _, err := ti.Issue(testUser)
	if err != nil {
		t.Fatalf("Issue error: %v", err)
	}

	if _, err := ti.Verify(tok); err != nil {
		t.Fatalf("Verify error: %v", err)
	}
	ti.Wait()
	if _, err := ti.Verify(tok); err != nil {
		t.Fatalf("Verify error: %v", err)
	}
	if counter.misses != 1 || counter.hits != 1 {
		t.Fatalf("expected 1 miss and 1 hit, got %+v", counter)
	}

	// a cached token past its own expiry is rejected
	now = now.Add(2 * time.Hour)
	_, err = ti.Verify(tok)
	if !errors.Is(err, common.ErrTokenExpired) {
		t.Fatalf("expected common.ErrTokenExpired, got %v", err)
	}
}
