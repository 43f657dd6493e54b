// README: Tests for auth and tenant middleware.
package middleware_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"fleetd/internal/http/middleware"
	"fleetd/internal/infra"
)

// stubVerifier is a test double for infra.TokenVerifier.
type stubVerifier struct {
	token *infra.FirebaseToken
	err   error
}

func (s *stubVerifier) VerifyIDToken(_ context.Context, _ string) (*infra.FirebaseToken, error) {
	return s.token, s.err
}

func newTestRouter(verifier infra.TokenVerifier) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(middleware.Auth(verifier), middleware.Tenant())
	r.GET("/test", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"uid":    middleware.CallerUID(c),
			"role":   middleware.CallerRole(c),
			"tenant": middleware.TenantID(c),
		})
	})
	return r
}

func get(r *gin.Engine, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]string {
	t.Helper()
	var body map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	return body
}

func TestAuth_MissingHeader(t *testing.T) {
	r := newTestRouter(&stubVerifier{token: &infra.FirebaseToken{UID: "user1"}})
	w := get(r, map[string]string{"X-Tenant-ID": "t1"})
	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", w.Code)
	}
}

func TestAuth_InvalidBearerPrefix(t *testing.T) {
	r := newTestRouter(&stubVerifier{token: &infra.FirebaseToken{UID: "user1"}})
	w := get(r, map[string]string{"Authorization": "Token sometoken", "X-Tenant-ID": "t1"})
	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", w.Code)
	}
}

func TestAuth_VerifierError(t *testing.T) {
	r := newTestRouter(&stubVerifier{err: errors.New("bad token")})
	w := get(r, map[string]string{"Authorization": "Bearer invalidtoken", "X-Tenant-ID": "t1"})
	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", w.Code)
	}
}

func TestAuth_ValidToken_UIDAndRolePopulated(t *testing.T) {
	token := &infra.FirebaseToken{
		UID:    "driver123",
		Claims: map[string]interface{}{"role": "driver"},
	}
	r := newTestRouter(&stubVerifier{token: token})
	w := get(r, map[string]string{"Authorization": "Bearer validtoken", "X-Tenant-ID": "t1"})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	body := decode(t, w)
	if body["uid"] != "driver123" || body["role"] != "DRIVER" || body["tenant"] != "t1" {
		t.Errorf("unexpected caller %v", body)
	}
}

func TestAuth_ValidToken_NoRoleClaim(t *testing.T) {
	token := &infra.FirebaseToken{
		UID:    "passenger456",
		Claims: map[string]interface{}{},
	}
	r := newTestRouter(&stubVerifier{token: token})
	w := get(r, map[string]string{"Authorization": "Bearer validtoken", "X-Tenant-ID": "t1"})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if body := decode(t, w); body["uid"] != "passenger456" || body["role"] != "CUSTOMER" {
		t.Errorf("unexpected caller %v", body)
	}
}

func TestAuth_UnknownRoleFallsBackToCustomer(t *testing.T) {
	token := &infra.FirebaseToken{UID: "u1", Claims: map[string]interface{}{"role": "system"}}
	r := newTestRouter(&stubVerifier{token: token})
	w := get(r, map[string]string{"Authorization": "Bearer t", "X-Tenant-ID": "t1"})
	if body := decode(t, w); body["role"] != "CUSTOMER" {
		t.Errorf("a token must not grant the system role, got %v", body)
	}
}

func TestAuth_HeaderFallback(t *testing.T) {
	r := newTestRouter(nil)

	w := get(r, map[string]string{"X-Tenant-ID": "t1"})
	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 without actor header, got %d", w.Code)
	}

	w = get(r, map[string]string{"X-Tenant-ID": "t1", "X-Actor-ID": "ops-7", "X-Actor-Role": "dispatcher"})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if body := decode(t, w); body["uid"] != "ops-7" || body["role"] != "DISPATCHER" {
		t.Errorf("unexpected caller %v", body)
	}
}

func TestTenant_MissingAndMismatch(t *testing.T) {
	r := newTestRouter(nil)
	w := get(r, map[string]string{"X-Actor-ID": "u1"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 without tenant, got %d", w.Code)
	}

	token := &infra.FirebaseToken{UID: "u1", Claims: map[string]interface{}{"tenant_id": "agency-1"}}
	r = newTestRouter(&stubVerifier{token: token})
	w = get(r, map[string]string{"Authorization": "Bearer t", "X-Tenant-ID": "agency-2"})
	if w.Code != http.StatusForbidden {
		t.Errorf("expected 403 on tenant mismatch, got %d", w.Code)
	}

	w = get(r, map[string]string{"Authorization": "Bearer t"})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 with tenant claim only, got %d", w.Code)
	}
	if body := decode(t, w); body["tenant"] != "agency-1" {
		t.Errorf("expected tenant from claim, got %v", body)
	}
}
