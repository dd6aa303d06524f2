package store

import (
	"testing"
	"time"

	"github.com/dukerupert/crewtasks/internal/model"
)

func setupCredentialTestDB(t *testing.T) *CredentialStore {
	t.Helper()
	db := setupTestDB(t)
	createProfile(t, NewProfileStore(db), "u1", "Alice", model.RoleEmployee)
	return NewCredentialStore(db)
}

func TestCredentialCreateAndGet(t *testing.T) {
	cs := setupCredentialTestDB(t)

	if err := cs.Create("u1", "Alice@Example.com", "hash"); err != nil {
		t.Fatalf("create: %v", err)
	}
	c, err := cs.GetByEmail("alice@example.com ")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if c == nil || c.UserID != "u1" || c.PasswordHash != "hash" {
		t.Errorf("credential = %+v", c)
	}

	if err := cs.Create("u1", "alice@example.com", "other"); err == nil {
		t.Error("expected duplicate credential error")
	}
}

func TestCredentialGetMissing(t *testing.T) {
	cs := setupCredentialTestDB(t)
	c, err := cs.GetByEmail("nobody@example.com")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if c != nil {
		t.Error("expected nil for unknown email")
	}
}

func TestRevokedTokens(t *testing.T) {
	cs := setupCredentialTestDB(t)
	now := time.Now()

	if revoked, _ := cs.IsRevoked("jti-1"); revoked {
		t.Fatal("token revoked before revocation")
	}
	if err := cs.RevokeToken("jti-1", now.Add(-time.Hour)); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if err := cs.RevokeToken("jti-2", now.Add(time.Hour)); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if revoked, _ := cs.IsRevoked("jti-1"); !revoked {
		t.Error("expected jti-1 revoked")
	}

	n, err := cs.DeleteExpiredRevocations(now)
	if err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if n != 1 {
		t.Errorf("deleted = %d, want 1", n)
	}
	if revoked, _ := cs.IsRevoked("jti-2"); !revoked {
		t.Error("unexpired revocation removed")
	}
}
