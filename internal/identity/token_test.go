package identity_test

import (
	"strings"
	"testing"
	"time"

	"github.com/redoubt-sec/redoubt/internal/identity"
)

func newTestIssuer(ttl time.Duration) *identity.TokenIssuer {
	return identity.NewTokenIssuer([]byte("0123456789abcdef0123456789abcdef"), ttl)
}

func TestTokenIssuer_Issue(t *testing.T) {
	ti := newTestIssuer(time.Hour)

	token, err := ti.Issue("tenant-1", "user-1", "Dana Analyst")
	if err != nil {
		t.Fatalf("Issue() error: %v", err)
	}

	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		t.Errorf("expected 3-part JWT, got %d parts", len(parts))
	}
}

func TestTokenIssuer_Verify_valid(t *testing.T) {
	ti := newTestIssuer(time.Hour)

	token, err := ti.Issue("tenant-1", "user-1", "Dana Analyst")
	if err != nil {
		t.Fatal(err)
	}

	claims, err := ti.Verify(token)
	if err != nil {
		t.Fatalf("Verify() error: %v", err)
	}

	if claims.TenantID != "tenant-1" {
		t.Errorf("TenantID: got %q, want %q", claims.TenantID, "tenant-1")
	}
	if claims.ActorID != "user-1" {
		t.Errorf("ActorID: got %q, want %q", claims.ActorID, "user-1")
	}
	if claims.Subject != "user-1" {
		t.Errorf("Subject: got %q, want %q", claims.Subject, "user-1")
	}
	if claims.Name != "Dana Analyst" {
		t.Errorf("Name: got %q, want %q", claims.Name, "Dana Analyst")
	}
}

func TestTokenIssuer_Verify_expired(t *testing.T) {
	// A 1-nanosecond TTL is expired by the time we verify.
	ti := newTestIssuer(time.Nanosecond)

	token, err := ti.Issue("tenant-1", "user-1", "")
	if err != nil {
		t.Fatal(err)
	}

	time.Sleep(2 * time.Millisecond)

	if _, err := ti.Verify(token); err == nil {
		t.Error("expected error for expired token, got nil")
	}
}

func TestTokenIssuer_Verify_tamperedSignature(t *testing.T) {
	ti := newTestIssuer(time.Hour)

	token, err := ti.Issue("tenant-1", "user-1", "")
	if err != nil {
		t.Fatal(err)
	}

	parts := strings.Split(token, ".")
	sig := []byte(parts[2])
	mid := len(sig) / 2
	if sig[mid] == 'a' {
		sig[mid] = 'b'
	} else {
		sig[mid] = 'a'
	}
	tampered := parts[0] + "." + parts[1] + "." + string(sig)

	if _, err := ti.Verify(tampered); err == nil {
		t.Error("expected error for tampered token, got nil")
	}
}

func TestTokenIssuer_Verify_wrongSecret(t *testing.T) {
	ti1 := identity.NewTokenIssuer([]byte("secret-one-secret-one-secret-one"), time.Hour)
	ti2 := identity.NewTokenIssuer([]byte("secret-two-secret-two-secret-two"), time.Hour)

	token, err := ti1.Issue("tenant-1", "user-1", "")
	if err != nil {
		t.Fatal(err)
	}

	if _, err := ti2.Verify(token); err == nil {
		t.Error("expected error for wrong secret, got nil")
	}
}

func TestTokenIssuer_Verify_missingTenant(t *testing.T) {
	ti := newTestIssuer(time.Hour)

	token, err := ti.Issue("", "user-1", "")
	if err != nil {
		t.Fatal(err)
	}

	if _, err := ti.Verify(token); err == nil {
		t.Error("expected error for token without tenant, got nil")
	}
}

func TestTokenIssuer_defaultTTL(t *testing.T) {
	ti := identity.NewTokenIssuer([]byte("0123456789abcdef0123456789abcdef"), 0)
	if ti.TTL() != 12*time.Hour {
		t.Errorf("TTL: got %v, want %v", ti.TTL(), 12*time.Hour)
	}
}
