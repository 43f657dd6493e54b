// README: Shared-trip pooling handlers.
package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"fleetd/internal/http/middleware"
	"fleetd/internal/modules/dispatch"
	"fleetd/internal/modules/pooling"
	"fleetd/internal/types"
)

type PoolService interface {
	PlanPool(ctx context.Context, tenant types.TenantID, id types.ID, maxDetourKm *float64) (pooling.Plan, error)
	CommitPool(ctx context.Context, tenant types.TenantID, anchorID types.ID, maxDetourKm *float64) (dispatch.PoolCommit, error)
}

type PoolHandler struct {
	svc PoolService
}

func NewPoolHandler(svc PoolService) *PoolHandler {
	return &PoolHandler{svc: svc}
}

type poolCommitResp struct {
	GroupID   types.ID     `json:"group_id"`
	Plan      pooling.Plan `json:"plan"`
	Committed []types.ID   `json:"committed"`
	Skipped   []types.ID   `json:"skipped"`
}

// maxDetour reads ?max_detour_km; absent means the configured default.
func maxDetour(c *gin.Context) (*float64, bool) {
	raw, ok := c.GetQuery("max_detour_km")
	if !ok {
		return nil, true
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || v < 0 {
		writeError(c, http.StatusBadRequest, "invalid max_detour_km")
		return nil, false
	}
	return &v, true
}

func (h *PoolHandler) Plan(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	budget, ok := maxDetour(c)
	if !ok {
		return
	}
	plan, err := h.svc.PlanPool(c.Request.Context(), middleware.TenantID(c), id, budget)
	if err != nil {
		writeDispatchError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"plan": plan, "empty": plan.IsEmpty()})
}

func (h *PoolHandler) Commit(c *gin.Context) {
	if !requirePrivileged(c) {
		return
	}
	id, ok := pathID(c)
	if !ok {
		return
	}
	budget, ok := maxDetour(c)
	if !ok {
		return
	}
	res, err := h.svc.CommitPool(c.Request.Context(), middleware.TenantID(c), id, budget)
	if err != nil {
		writeDispatchError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, poolCommitResp{
		GroupID:   res.GroupID,
		Plan:      res.Plan,
		Committed: res.Committed,
		Skipped:   res.Skipped,
	})
}
