package middleware

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/orgstore/orgstore/internal/services"
)

// fakeAuthenticator accepts exactly one token.
type fakeAuthenticator struct {
	token     string
	principal *services.Principal
	err       error
}

func (f *fakeAuthenticator) Authenticate(_ context.Context, token string) (*services.Principal, error) {
	if f.err != nil {
		return nil, f.err
	}
	if token != f.token {
		return nil, fmt.Errorf("%w: bad token", services.ErrUnauthorized)
	}
	return f.principal, nil
}

func newAuthRouter(authn Authenticator, extra ...gin.HandlerFunc) *gin.Engine {
	r := gin.New()
	handlers := append([]gin.HandlerFunc{AuthMiddleware(authn)}, extra...)
	handlers = append(handlers, func(c *gin.Context) {
		p, ok := GetPrincipal(c)
		if !ok {
			c.Status(http.StatusTeapot)
			return
		}
		c.String(http.StatusOK, p.TokenOrganization)
	})
	r.PUT("/org/update", handlers...)
	return r
}

func doAuthRequest(r *gin.Engine, header, query string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPut, "/org/update"+query, nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func acmePrincipal() *services.Principal {
	return &services.Principal{
		AdminID:             primitive.NewObjectID(),
		TokenOrganization:   "Acme",
		CurrentOrganization: "Acme",
	}
}

// ---------------------------------------------------------------------------
// AuthMiddleware
// ---------------------------------------------------------------------------

func TestAuthMiddleware_Rejections(t *testing.T) {
	r := newAuthRouter(&fakeAuthenticator{token: "good", principal: acmePrincipal()})

	tests := []struct {
		name   string
		header string
	}{
		{"missing header", ""},
		{"wrong scheme", "Basic dXNlcjpwYXNz"},
		{"no token", "Bearer"},
		{"blank token", "Bearer    "},
		{"invalid token", "Bearer bad"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doAuthRequest(r, tt.header, "")
			if w.Code != http.StatusUnauthorized {
				t.Errorf("status = %d, want 401", w.Code)
			}
		})
	}
}

func TestAuthMiddleware_ValidToken(t *testing.T) {
	r := newAuthRouter(&fakeAuthenticator{token: "good", principal: acmePrincipal()})

	w := doAuthRequest(r, "Bearer good", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if w.Body.String() != "Acme" {
		t.Errorf("body = %q, want principal organization", w.Body.String())
	}
}

func TestAuthMiddleware_SchemeIsCaseInsensitive(t *testing.T) {
	r := newAuthRouter(&fakeAuthenticator{token: "good", principal: acmePrincipal()})

	if w := doAuthRequest(r, "bearer good", ""); w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}
}

func TestAuthMiddleware_StoreFailure(t *testing.T) {
	r := newAuthRouter(&fakeAuthenticator{err: errors.New("connection reset")})

	if w := doAuthRequest(r, "Bearer good", ""); w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", w.Code)
	}
}

// ---------------------------------------------------------------------------
// RequireOrganization
// ---------------------------------------------------------------------------

func TestRequireOrganization(t *testing.T) {
	r := newAuthRouter(
		&fakeAuthenticator{token: "good", principal: acmePrincipal()},
		RequireOrganization("current_name", "new_name"),
	)

	tests := []struct {
		name  string
		query string
		want  int
	}{
		{"own organization", "?current_name=acme&new_name=Globex", http.StatusOK},
		{"new name matches", "?current_name=Initech&new_name=ACME", http.StatusOK},
		{"other organization", "?current_name=Initech&new_name=Globex", http.StatusForbidden},
		{"no parameters deferred to handler", "", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doAuthRequest(r, "Bearer good", tt.query)
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
		})
	}
}

func TestRequireOrganization_WithoutPrincipal(t *testing.T) {
	r := gin.New()
	r.DELETE("/org/delete", RequireOrganization("org_name"), func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/org/delete?org_name=acme", nil))
	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}
}
