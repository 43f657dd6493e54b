// README: Handler tests for authorization checks and error mapping.
package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"fleetd/internal/http/handlers"
	httpmiddleware "fleetd/internal/http/middleware"
	"fleetd/internal/infra"
	"fleetd/internal/modules/dispatch"
	"fleetd/internal/modules/driver"
	"fleetd/internal/modules/matching"
	"fleetd/internal/modules/pooling"
	"fleetd/internal/modules/request"
	"fleetd/internal/storage"
	"fleetd/internal/types"
)

// stubTokenVerifier is a test double for infra.TokenVerifier.
type stubTokenVerifier struct {
	token *infra.FirebaseToken
	err   error
}

func (s *stubTokenVerifier) VerifyIDToken(_ context.Context, _ string) (*infra.FirebaseToken, error) {
	return s.token, s.err
}

// stubService returns err from every call and records whether the service was reached.
type stubService struct {
	err     error
	reached bool
	req     *request.Request
}

func (s *stubService) CreateRequest(_ context.Context, tenant types.TenantID, cmd request.CreateCommand) (*request.Request, error) {
	s.reached = true
	if s.err != nil {
		return nil, s.err
	}
	return &request.Request{ID: "req-1", TenantID: tenant, CustomerID: cmd.CustomerID, Kind: cmd.Kind, Status: request.StatusRequested}, nil
}

func (s *stubService) GetRequest(context.Context, types.TenantID, types.ID) (*request.Request, error) {
	if s.req != nil {
		return s.req, nil
	}
	s.reached = true
	return nil, s.err
}

func (s *stubService) Dispatch(context.Context, types.TenantID, types.ID) (types.ID, error) {
	s.reached = true
	return "drv-1", s.err
}

func (s *stubService) DispatchBatch(_ context.Context, _ types.TenantID, ids []types.ID) []dispatch.BatchResult {
	s.reached = true
	out := make([]dispatch.BatchResult, len(ids))
	for i, id := range ids {
		out[i] = dispatch.BatchResult{RequestID: id, Err: s.err}
	}
	return out
}

func (s *stubService) Transition(context.Context, types.TenantID, dispatch.TransitionCommand) (*request.Request, request.Event, error) {
	s.reached = true
	return nil, request.Event{}, s.err
}

func (s *stubService) Cancel(context.Context, types.TenantID, types.ID, request.Actor, string) (*request.Request, request.Event, error) {
	s.reached = true
	return nil, request.Event{}, s.err
}

func (s *stubService) PlanPool(context.Context, types.TenantID, types.ID, *float64) (pooling.Plan, error) {
	s.reached = true
	return pooling.Plan{}, s.err
}

func (s *stubService) CommitPool(context.Context, types.TenantID, types.ID, *float64) (dispatch.PoolCommit, error) {
	s.reached = true
	return dispatch.PoolCommit{}, s.err
}

// buildTestRouter wires a minimal Gin engine with the auth middleware and the request handlers.
func buildTestRouter(verifier infra.TokenVerifier, svc *stubService) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(httpmiddleware.Auth(verifier), httpmiddleware.Tenant())
	h := handlers.NewRequestHandler(svc, nil)
	r.POST("/requests", h.Create)
	r.GET("/requests/:id", h.Get)
	r.POST("/requests/:id/dispatch", h.Dispatch)
	r.POST("/requests/:id/transitions", h.Transition)
	p := handlers.NewPoolHandler(svc)
	r.POST("/trips/:id/pool/commit", p.Commit)
	return r
}

func makeVerifier(uid, role string) *stubTokenVerifier {
	claims := map[string]interface{}{"tenant_id": "tenant-a"}
	if role != "" {
		claims["role"] = role
	}
	return &stubTokenVerifier{token: &infra.FirebaseToken{UID: uid, Claims: claims}}
}

func doRequest(r *gin.Engine, method, path string, body interface{}, authHeader string) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

var validTrip = map[string]any{
	"pickup":  map[string]any{"lat": 25.03, "lng": 121.56},
	"dropoff": map[string]any{"lat": 25.08, "lng": 121.52},
}

// TestCreate_Unauthenticated verifies that requests without a valid token are rejected.
func TestCreate_Unauthenticated(t *testing.T) {
	svc := &stubService{}
	r := buildTestRouter(&stubTokenVerifier{err: errors.New("no token")}, svc)
	w := doRequest(r, http.MethodPost, "/requests", validTrip, "Bearer badtoken")
	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", w.Code)
	}
	if svc.reached {
		t.Error("service must not be called")
	}
}

// TestCreate_WrongCustomerID verifies that a customer cannot create a request for another user.
func TestCreate_WrongCustomerID(t *testing.T) {
	svc := &stubService{}
	r := buildTestRouter(makeVerifier("realUID", ""), svc)
	body := map[string]any{"customer_id": "otherUID", "pickup": validTrip["pickup"], "dropoff": validTrip["dropoff"]}
	w := doRequest(r, http.MethodPost, "/requests", body, "Bearer sometoken")
	if w.Code != http.StatusForbidden {
		t.Errorf("expected 403, got %d", w.Code)
	}
}

// TestCreate_DispatcherOnBehalf checks that a dispatcher may book for a customer.
func TestCreate_DispatcherOnBehalf(t *testing.T) {
	svc := &stubService{}
	r := buildTestRouter(makeVerifier("ops", "dispatcher"), svc)
	body := map[string]any{"customer_id": "cust-9", "pickup": validTrip["pickup"], "dropoff": validTrip["dropoff"]}
	w := doRequest(r, http.MethodPost, "/requests", body, "Bearer sometoken")
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var got map[string]any
	_ = json.Unmarshal(w.Body.Bytes(), &got)
	if got["customer_id"] != "cust-9" || got["kind"] != "TRIP" || got["tenant_id"] != "tenant-a" {
		t.Errorf("unexpected body %v", got)
	}
}

// TestCreate_AddressWithoutGeocoder checks that an address alone is rejected when no geocoder is configured.
func TestCreate_AddressWithoutGeocoder(t *testing.T) {
	svc := &stubService{}
	r := buildTestRouter(makeVerifier("cust-1", ""), svc)
	body := map[string]any{"pickup": map[string]any{"address": "Taipei 101"}, "dropoff": validTrip["dropoff"]}
	w := doRequest(r, http.MethodPost, "/requests", body, "Bearer sometoken")
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
	if svc.reached {
		t.Error("service must not be called")
	}
}

// TestDispatch_RequiresPrivilegedRole checks that drivers and customers cannot trigger a dispatch.
func TestDispatch_RequiresPrivilegedRole(t *testing.T) {
	for _, role := range []string{"", "driver", "system"} {
		svc := &stubService{}
		r := buildTestRouter(makeVerifier("uid", role), svc)
		w := doRequest(r, http.MethodPost, "/requests/req-1/dispatch", nil, "Bearer sometoken")
		if w.Code != http.StatusForbidden {
			t.Errorf("role %q: expected 403, got %d", role, w.Code)
		}
	}
}

// TestGet_InvalidID checks that malformed ids never reach the service.
func TestGet_InvalidID(t *testing.T) {
	svc := &stubService{}
	r := buildTestRouter(makeVerifier("uid", "dispatcher"), svc)
	w := doRequest(r, http.MethodGet, "/requests/bad$id", nil, "Bearer sometoken")
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
	if svc.reached {
		t.Error("service must not be called")
	}
}

// TestTransition_DriverOnlyOnOwnRequest checks that a driver cannot move a request assigned to someone else.
func TestTransition_DriverOnlyOnOwnRequest(t *testing.T) {
	svc := &stubService{req: &request.Request{ID: "req-1", CustomerID: "c", AssignedDriverID: types.ID("drv-b").Ptr()}}
	r := buildTestRouter(makeVerifier("drv-a", "driver"), svc)
	w := doRequest(r, http.MethodPost, "/requests/req-1/transitions", map[string]any{"status": "STARTED"}, "Bearer sometoken")
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
	if svc.reached {
		t.Error("transition must not be attempted")
	}
}

// TestDispatchErrorMapping checks the status code for each error kind of the dispatch core.
func TestDispatchErrorMapping(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		reason string
	}{
		{"no driver", &dispatch.DispatchError{RequestID: "r", Reason: dispatch.ReasonNoDriver, Err: &matching.NoDriverAvailableError{RequestID: "r"}}, http.StatusConflict, "no_driver"},
		{"timeout", &dispatch.DispatchError{RequestID: "r", Reason: dispatch.ReasonTimeout, Err: context.DeadlineExceeded}, http.StatusGatewayTimeout, "timeout"},
		{"aborted", &dispatch.DispatchError{RequestID: "r", Reason: dispatch.ReasonAborted, Err: context.Canceled}, http.StatusServiceUnavailable, "aborted"},
		{"rollback", &dispatch.DispatchError{RequestID: "r", Reason: dispatch.ReasonRollback, Err: errors.New("disk")}, http.StatusInternalServerError, "rollback"},
		{"concurrent", &dispatch.ConcurrentDispatchError{RequestID: "r"}, http.StatusConflict, "concurrent_dispatch"},
		{"invalid transition", &request.InvalidTransitionError{RequestID: "r", From: request.StatusCompleted, To: request.StatusCancelled, Reason: request.ReasonTerminal}, http.StatusConflict, request.ReasonTerminal},
		{"not found", fmt.Errorf("request r: %w", storage.ErrNotFound), http.StatusNotFound, ""},
		{"bad request", fmt.Errorf("%w: unknown mode", request.ErrBadRequest), http.StatusBadRequest, ""},
		{"driver full", driver.ErrNoCapacity, http.StatusConflict, ""},
		{"pool empty", dispatch.ErrPoolEmpty, http.StatusConflict, ""},
		{"unknown", errors.New("boom"), http.StatusInternalServerError, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := &stubService{err: tc.err}
			r := buildTestRouter(makeVerifier("ops", "dispatcher"), svc)
			w := doRequest(r, http.MethodPost, "/requests/req-1/dispatch", nil, "Bearer sometoken")
			if w.Code != tc.status {
				t.Fatalf("expected %d, got %d: %s", tc.status, w.Code, w.Body.String())
			}
			var body map[string]any
			_ = json.Unmarshal(w.Body.Bytes(), &body)
			if tc.reason != "" && body["reason"] != tc.reason {
				t.Errorf("expected reason %q, got %v", tc.reason, body["reason"])
			}
		})
	}
}

// TestPoolCommit_RequiresPrivilegedRole checks that customers cannot stamp a shared group.
func TestPoolCommit_RequiresPrivilegedRole(t *testing.T) {
	svc := &stubService{}
	r := buildTestRouter(makeVerifier("cust-1", ""), svc)
	w := doRequest(r, http.MethodPost, "/trips/req-1/pool/commit", nil, "Bearer sometoken")
	if w.Code != http.StatusForbidden {
		t.Errorf("expected 403, got %d", w.Code)
	}
}
