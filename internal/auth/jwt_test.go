package auth

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const testSecret = "test-jwt-secret-that-is-32-chars-!"

// ---------------------------------------------------------------------------
// ResolveSecret
// ---------------------------------------------------------------------------

func TestResolveSecret(t *testing.T) {
	t.Run("configured value wins", func(t *testing.T) {
		t.Setenv("ORGSTORE_JWT_SECRET", "from-env-from-env-from-env-from-env")
		got, err := ResolveSecret("configured-configured-configured-xx")
		if err != nil {
			t.Fatalf("ResolveSecret() error: %v", err)
		}
		if got != "configured-configured-configured-xx" {
			t.Errorf("ResolveSecret() = %q, want configured value", got)
		}
	})

	t.Run("falls back to env", func(t *testing.T) {
		t.Setenv("ORGSTORE_JWT_SECRET", "from-env-from-env-from-env-from-env")
		got, err := ResolveSecret("")
		if err != nil {
			t.Fatalf("ResolveSecret() error: %v", err)
		}
		if got != "from-env-from-env-from-env-from-env" {
			t.Errorf("ResolveSecret() = %q, want env value", got)
		}
	})

	t.Run("production mode requires secret", func(t *testing.T) {
		t.Setenv("ORGSTORE_JWT_SECRET", "")
		t.Setenv("DEV_MODE", "")
		t.Setenv("GIN_MODE", "release")
		if _, err := ResolveSecret(""); !errors.Is(err, ErrNoSecret) {
			t.Errorf("ResolveSecret() = %v, want ErrNoSecret", err)
		}
	})

	t.Run("dev mode generates random secret", func(t *testing.T) {
		t.Setenv("ORGSTORE_JWT_SECRET", "")
		t.Setenv("DEV_MODE", "true")
		got, err := ResolveSecret("")
		if err != nil {
			t.Fatalf("ResolveSecret() unexpected error in dev mode: %v", err)
		}
		if len(got) != 64 {
			t.Errorf("generated secret length = %d, want 64 hex chars", len(got))
		}
	})
}

// ---------------------------------------------------------------------------
// TokenService
// ---------------------------------------------------------------------------

func TestIssueAndValidate(t *testing.T) {
	svc := NewTokenService(testSecret, time.Hour, "orgstore")

	token, err := svc.Issue("admin-1", "Acme", "org_acme")
	if err != nil {
		t.Fatalf("Issue() error: %v", err)
	}
	if strings.Count(token, ".") != 2 {
		t.Fatalf("Issue() = %q, not a compact JWS", token)
	}

	claims, err := svc.Validate(token)
	if err != nil {
		t.Fatalf("Validate() error: %v", err)
	}
	if claims.AdminID != "admin-1" || claims.OrganizationName != "Acme" || claims.StorageKey != "org_acme" {
		t.Errorf("unexpected claims: %+v", claims)
	}
	if claims.Subject != "admin-1" || claims.Issuer != "orgstore" {
		t.Errorf("registered claims = sub %q iss %q", claims.Subject, claims.Issuer)
	}
}

func TestNewTokenService_DefaultTTL(t *testing.T) {
	if got := NewTokenService(testSecret, 0, "orgstore").TTL(); got != DefaultTokenTTL {
		t.Errorf("TTL() = %v, want %v", got, DefaultTokenTTL)
	}
}

func TestValidate_Expired(t *testing.T) {
	svc := NewTokenService(testSecret, time.Hour, "orgstore")
	issuedAt := time.Now().Add(-2 * time.Hour)
	svc.now = func() time.Time { return issuedAt }
	token, err := svc.Issue("admin-1", "Acme", "org_acme")
	if err != nil {
		t.Fatalf("Issue() error: %v", err)
	}

	svc.now = time.Now
	if _, err := svc.Validate(token); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("Validate(expired) = %v, want ErrInvalidToken", err)
	}
}

func TestValidate_WrongSecret(t *testing.T) {
	token, _ := NewTokenService(testSecret, time.Hour, "orgstore").Issue("admin-1", "Acme", "org_acme")
	other := NewTokenService("a-completely-different-secret-value!", time.Hour, "orgstore")
	if _, err := other.Validate(token); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("Validate(wrong secret) = %v, want ErrInvalidToken", err)
	}
}

func TestValidate_RejectsNoneAlgorithm(t *testing.T) {
	claims := &Claims{
		AdminID:          "admin-1",
		OrganizationName: "Acme",
		StorageKey:       "org_acme",
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("signing none token: %v", err)
	}
	svc := NewTokenService(testSecret, time.Hour, "orgstore")
	if _, err := svc.Validate(token); err == nil {
		t.Error("Validate(alg=none) = nil error, want rejection")
	}
}

func TestValidate_MissingClaims(t *testing.T) {
	svc := NewTokenService(testSecret, time.Hour, "orgstore")
	token, err := svc.Issue("admin-1", "", "org_acme")
	if err != nil {
		t.Fatalf("Issue() error: %v", err)
	}
	if _, err := svc.Validate(token); !errors.Is(err, ErrMissingClaims) {
		t.Errorf("Validate() = %v, want ErrMissingClaims", err)
	}
}

func TestValidate_Garbage(t *testing.T) {
	svc := NewTokenService(testSecret, time.Hour, "orgstore")
	for _, tok := range []string{"", "not-a-token", "a.b.c"} {
		if _, err := svc.Validate(tok); !errors.Is(err, ErrInvalidToken) {
			t.Errorf("Validate(%q) = %v, want ErrInvalidToken", tok, err)
		}
	}
}
