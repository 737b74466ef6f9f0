package admin

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/orgstore/orgstore/internal/auth"
	"github.com/orgstore/orgstore/internal/db/memory"
	"github.com/orgstore/orgstore/internal/middleware"
	"github.com/orgstore/orgstore/internal/services"
)

// ---------------------------------------------------------------------------
// Test environment: handlers over the in-memory store
// ---------------------------------------------------------------------------

type testEnv struct {
	router    *gin.Engine
	stores    services.Stores
	lifecycle *services.LifecycleService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	stores := services.NewMemoryStores(memory.New())
	partitions := services.NewPartitionManager(stores.Partitions, 0)
	lifecycle := services.NewLifecycleService(stores, partitions, nil)
	tokens := auth.NewTokenService("handler-test-secret-that-is-32-chars", time.Hour, "orgstore-test")
	authService := services.NewAuthService(stores, tokens)

	orgs := NewOrganizationHandlers(lifecycle)
	logins := NewAuthHandlers(authService)

	r := gin.New()
	r.POST("/org/create", orgs.CreateOrganizationHandler())
	r.GET("/org/get", orgs.GetOrganizationHandler())
	authed := r.Group("/org", middleware.AuthMiddleware(authService))
	authed.PUT("/update", middleware.RequireOrganization("current_name", "new_name"), orgs.UpdateOrganizationHandler())
	authed.DELETE("/delete", middleware.RequireOrganization("org_name"), orgs.DeleteOrganizationHandler())
	r.POST("/admin/login", logins.LoginHandler())

	return &testEnv{router: r, stores: stores, lifecycle: lifecycle}
}

func (e *testEnv) do(t *testing.T, method, target string, body interface{}, token string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if raw, ok := body.(string); ok {
			buf.WriteString(raw)
		} else {
			require.NoError(t, json.NewEncoder(&buf).Encode(body))
		}
	}
	req := httptest.NewRequest(method, target, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func (e *testEnv) createOrg(t *testing.T, name, email, password string) {
	t.Helper()
	_, err := e.lifecycle.CreateOrganization(context.Background(), name, email, password)
	require.NoError(t, err)
}

func (e *testEnv) login(t *testing.T, email, password string) string {
	t.Helper()
	w := e.do(t, http.MethodPost, "/admin/login", gin.H{"email": email, "password": password}, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	token, _ := body["token"].(string)
	require.NotEmpty(t, token)
	return token
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body), w.Body.String())
	return body
}

func newRecorder(r http.Handler, method, target string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(method, target, nil))
	return w
}
