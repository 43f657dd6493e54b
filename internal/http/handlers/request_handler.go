// README: Request handlers: create, get, dispatch, transitions and cancel.
package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"fleetd/internal/http/middleware"
	"fleetd/internal/modules/dispatch"
	"fleetd/internal/modules/request"
	"fleetd/internal/types"
)

// RequestService is the dispatch surface the request handlers call.
type RequestService interface {
	CreateRequest(ctx context.Context, tenant types.TenantID, cmd request.CreateCommand) (*request.Request, error)
	GetRequest(ctx context.Context, tenant types.TenantID, id types.ID) (*request.Request, error)
	Dispatch(ctx context.Context, tenant types.TenantID, id types.ID) (types.ID, error)
	DispatchBatch(ctx context.Context, tenant types.TenantID, ids []types.ID) []dispatch.BatchResult
	Transition(ctx context.Context, tenant types.TenantID, cmd dispatch.TransitionCommand) (*request.Request, request.Event, error)
	Cancel(ctx context.Context, tenant types.TenantID, id types.ID, actor request.Actor, notes string) (*request.Request, request.Event, error)
}

// Geocoder resolves an address when the caller sent no coordinates.
type Geocoder interface {
	Geocode(ctx context.Context, address string) (types.Place, error)
}

type RequestHandler struct {
	svc      RequestService
	geocoder Geocoder
}

// NewRequestHandler builds the handler. geocoder may be nil; addresses without
// coordinates are then rejected.
func NewRequestHandler(svc RequestService, geocoder Geocoder) *RequestHandler {
	return &RequestHandler{svc: svc, geocoder: geocoder}
}

type createRequestReq struct {
	CustomerID       string       `json:"customer_id"`
	Kind             request.Kind `json:"kind"`
	Mode             request.Mode `json:"mode"`
	Pickup           placeReq     `json:"pickup"`
	Dropoff          placeReq     `json:"dropoff"`
	RequiredCapacity int          `json:"required_capacity"`
	VehicleType      string       `json:"vehicle_type"`
	ScheduledAt      *time.Time   `json:"scheduled_at"`
	Notes            string       `json:"notes"`
}

func (h *RequestHandler) Create(c *gin.Context) {
	var req createRequestReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	actor := middleware.Actor(c)
	customer := types.ID(req.CustomerID)
	if customer == "" {
		customer = actor.ID
	}
	if customer != actor.ID && !actor.Privileged() {
		writeError(c, http.StatusForbidden, "forbidden")
		return
	}
	if req.Kind == "" {
		req.Kind = request.KindTrip
	}

	pickup, ok := h.resolve(c, req.Pickup, "pickup")
	if !ok {
		return
	}
	dropoff, ok := h.resolve(c, req.Dropoff, "dropoff")
	if !ok {
		return
	}

	r, err := h.svc.CreateRequest(c.Request.Context(), middleware.TenantID(c), request.CreateCommand{
		CustomerID:       customer,
		Kind:             req.Kind,
		Mode:             req.Mode,
		Pickup:           pickup,
		Dropoff:          dropoff,
		RequiredCapacity: req.RequiredCapacity,
		VehicleType:      req.VehicleType,
		ScheduledAt:      req.ScheduledAt,
		Notes:            req.Notes,
	})
	if err != nil {
		writeDispatchError(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, toRequestResp(r))
}

func (h *RequestHandler) resolve(c *gin.Context, p placeReq, field string) (types.Place, bool) {
	if p.Lat != nil && p.Lng != nil {
		return types.Place{Point: types.Point{Lat: *p.Lat, Lng: *p.Lng}, Address: p.Address}, true
	}
	if p.Address == "" || h.geocoder == nil {
		writeError(c, http.StatusBadRequest, "missing "+field+" coordinates")
		return types.Place{}, false
	}
	place, err := h.geocoder.Geocode(c.Request.Context(), p.Address)
	if err != nil {
		_ = c.Error(err)
		writeError(c, http.StatusUnprocessableEntity, "cannot resolve "+field+" address")
		return types.Place{}, false
	}
	return place, true
}

func (h *RequestHandler) Get(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	r, err := h.svc.GetRequest(c.Request.Context(), middleware.TenantID(c), id)
	if err != nil {
		writeDispatchError(c, err)
		return
	}
	if !canView(middleware.Actor(c), r) {
		// Not found rather than forbidden, so ids of other customers do not leak.
		writeError(c, http.StatusNotFound, "not found")
		return
	}
	writeJSON(c, http.StatusOK, toRequestResp(r))
}

func canView(a request.Actor, r *request.Request) bool {
	switch {
	case a.Privileged():
		return true
	case a.Role == request.RoleDriver:
		return r.AssignedDriverID != nil && *r.AssignedDriverID == a.ID
	default:
		return r.CustomerID == a.ID
	}
}

// owns loads the request for non-privileged callers and writes 404 unless they may see it.
func (h *RequestHandler) owns(c *gin.Context, id types.ID) bool {
	a := middleware.Actor(c)
	if a.Privileged() {
		return true
	}
	r, err := h.svc.GetRequest(c.Request.Context(), middleware.TenantID(c), id)
	if err != nil {
		writeDispatchError(c, err)
		return false
	}
	if !canView(a, r) {
		writeError(c, http.StatusNotFound, "not found")
		return false
	}
	return true
}

type dispatchResp struct {
	RequestID types.ID `json:"request_id"`
	DriverID  types.ID `json:"driver_id"`
	Status    string   `json:"status"`
}

func (h *RequestHandler) Dispatch(c *gin.Context) {
	if !requirePrivileged(c) {
		return
	}
	id, ok := pathID(c)
	if !ok {
		return
	}
	driverID, err := h.svc.Dispatch(c.Request.Context(), middleware.TenantID(c), id)
	if err != nil {
		writeDispatchError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, dispatchResp{RequestID: id, DriverID: driverID, Status: string(request.StatusAssigned)})
}

type dispatchBatchReq struct {
	RequestIDs []string `json:"request_ids"`
}

type batchItemResp struct {
	RequestID types.ID `json:"request_id"`
	DriverID  types.ID `json:"driver_id,omitempty"`
	Error     string   `json:"error,omitempty"`
}

func (h *RequestHandler) DispatchBatch(c *gin.Context) {
	if !requirePrivileged(c) {
		return
	}
	var req dispatchBatchReq
	if err := c.ShouldBindJSON(&req); err != nil || len(req.RequestIDs) == 0 {
		writeError(c, http.StatusBadRequest, "request_ids required")
		return
	}
	ids := make([]types.ID, 0, len(req.RequestIDs))
	for _, v := range req.RequestIDs {
		if !isValidID(v) {
			writeError(c, http.StatusBadRequest, "invalid id "+v)
			return
		}
		ids = append(ids, types.ID(v))
	}

	results := h.svc.DispatchBatch(c.Request.Context(), middleware.TenantID(c), ids)
	out := make([]batchItemResp, len(results))
	for i, r := range results {
		out[i] = batchItemResp{RequestID: r.RequestID, DriverID: r.DriverID}
		if r.Err != nil {
			out[i].Error = r.Err.Error()
		}
	}
	writeJSON(c, http.StatusOK, gin.H{"results": out})
}

type transitionReq struct {
	Status   request.Status    `json:"status"`
	DriverID *string           `json:"driver_id"`
	Location *pointReq         `json:"location"`
	Notes    string            `json:"notes"`
	Metadata map[string]string `json:"metadata"`
}

func (h *RequestHandler) Transition(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req transitionReq
	if err := c.ShouldBindJSON(&req); err != nil || req.Status == "" {
		writeError(c, http.StatusBadRequest, "status required")
		return
	}
	if req.Status == request.StatusAssigned && !requirePrivileged(c) {
		return
	}
	if !h.owns(c, id) {
		return
	}
	cmd := dispatch.TransitionCommand{
		RequestID: id,
		To:        req.Status,
		Actor:     middleware.Actor(c),
		Notes:     req.Notes,
		Metadata:  req.Metadata,
	}
	if req.DriverID != nil {
		if !isValidID(*req.DriverID) {
			writeError(c, http.StatusBadRequest, "invalid driver_id")
			return
		}
		cmd.DriverID = types.ID(*req.DriverID).Ptr()
	}
	if req.Location != nil {
		cmd.Location = &types.Point{Lat: req.Location.Lat, Lng: req.Location.Lng}
	}

	r, ev, err := h.svc.Transition(c.Request.Context(), middleware.TenantID(c), cmd)
	if err != nil {
		writeDispatchError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"request": toRequestResp(r), "event": toEventResp(ev)})
}

type cancelReq struct {
	Notes string `json:"notes"`
}

func (h *RequestHandler) Cancel(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	if !h.owns(c, id) {
		return
	}
	var req cancelReq
	// An empty body is a cancel without notes.
	_ = c.ShouldBindJSON(&req)

	r, ev, err := h.svc.Cancel(c.Request.Context(), middleware.TenantID(c), id, middleware.Actor(c), req.Notes)
	if err != nil {
		writeDispatchError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"request": toRequestResp(r), "event": toEventResp(ev)})
}
