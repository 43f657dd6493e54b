// README: Driver handlers: registration, availability and position updates.
package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"fleetd/internal/http/middleware"
	"fleetd/internal/modules/driver"
	"fleetd/internal/types"
)

type DriverService interface {
	Register(ctx context.Context, tenant types.TenantID, cmd driver.RegisterCommand) (*driver.Driver, error)
	Get(ctx context.Context, tenant types.TenantID, id types.ID) (*driver.Driver, error)
	SetStatus(ctx context.Context, tenant types.TenantID, id types.ID, online bool) (*driver.Driver, error)
	UpdateLocation(ctx context.Context, u driver.LocationUpdate) error
}

type DriverHandler struct {
	drivers DriverService
}

func NewDriverHandler(drivers DriverService) *DriverHandler {
	return &DriverHandler{drivers: drivers}
}

type registerDriverReq struct {
	ID              string             `json:"id"`
	Name            string             `json:"name"`
	VehicleType     driver.VehicleType `json:"vehicle_type"`
	VehicleCapacity int                `json:"vehicle_capacity"`
}

// Register enrolls a driver. A driver may register itself; anyone else needs a privileged role.
func (h *DriverHandler) Register(c *gin.Context) {
	var req registerDriverReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	actor := middleware.Actor(c)
	if req.ID == "" {
		req.ID = string(actor.ID)
	}
	if !isValidID(req.ID) {
		writeError(c, http.StatusBadRequest, "invalid id")
		return
	}
	if !selfOrPrivileged(c, types.ID(req.ID)) {
		return
	}
	d, err := h.drivers.Register(c.Request.Context(), middleware.TenantID(c), driver.RegisterCommand{
		ID:              types.ID(req.ID),
		Name:            req.Name,
		VehicleType:     req.VehicleType,
		VehicleCapacity: req.VehicleCapacity,
	})
	if err != nil {
		writeDispatchError(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, toDriverResp(d))
}

func (h *DriverHandler) Get(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	if !selfOrPrivileged(c, id) {
		return
	}
	d, err := h.drivers.Get(c.Request.Context(), middleware.TenantID(c), id)
	if err != nil {
		writeDispatchError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, toDriverResp(d))
}

type driverStatusReq struct {
	Online *bool `json:"online"`
}

func (h *DriverHandler) SetStatus(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	if !selfOrPrivileged(c, id) {
		return
	}
	var req driverStatusReq
	if err := c.ShouldBindJSON(&req); err != nil || req.Online == nil {
		writeError(c, http.StatusBadRequest, "online required")
		return
	}
	d, err := h.drivers.SetStatus(c.Request.Context(), middleware.TenantID(c), id, *req.Online)
	if err != nil {
		writeDispatchError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, toDriverResp(d))
}

type locationReq struct {
	Lat        float64    `json:"lat"`
	Lng        float64    `json:"lng"`
	Heading    *float64   `json:"heading"`
	RecordedAt *time.Time `json:"recorded_at"`
}

func (h *DriverHandler) UpdateLocation(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	if !selfOrPrivileged(c, id) {
		return
	}
	var req locationReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	u := driver.LocationUpdate{
		TenantID: middleware.TenantID(c),
		DriverID: id,
		Point:    types.Point{Lat: req.Lat, Lng: req.Lng},
		Heading:  req.Heading,
	}
	if req.RecordedAt != nil {
		u.RecordedAt = *req.RecordedAt
	}
	if err := h.drivers.UpdateLocation(c.Request.Context(), u); err != nil {
		writeDispatchError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func selfOrPrivileged(c *gin.Context, id types.ID) bool {
	a := middleware.Actor(c)
	if a.ID == id || a.Privileged() {
		return true
	}
	writeError(c, http.StatusForbidden, "forbidden")
	return false
}
