// README: Base handler utilities (JSON helpers, error mapping).
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"fleetd/internal/http/middleware"
	"fleetd/internal/modules/dispatch"
	"fleetd/internal/modules/driver"
	"fleetd/internal/modules/request"
	"fleetd/internal/storage"
	"fleetd/internal/types"
)

type errorResponse struct {
	Error  string `json:"error"`
	Reason string `json:"reason,omitempty"`
}

// isValidID accepts the ids this service generates (uuid) and external ids of the same shape.
func isValidID(v string) bool {
	if v == "" || len(v) > 64 {
		return false
	}
	for _, c := range v {
		if (c >= '0' && c <= '9') || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || c == '-' || c == '_' {
			continue
		}
		return false
	}
	return true
}

func writeJSON(c *gin.Context, status int, v any) {
	c.JSON(status, v)
}

func writeError(c *gin.Context, status int, msg string) {
	writeJSON(c, status, errorResponse{Error: msg})
}

// pathID reads the :id parameter, writing 400 when it is malformed.
func pathID(c *gin.Context) (types.ID, bool) {
	id := c.Param("id")
	if !isValidID(id) {
		writeError(c, http.StatusBadRequest, "invalid id")
		return "", false
	}
	return types.ID(id), true
}

// requirePrivileged writes 403 unless the caller may act on behalf of others.
func requirePrivileged(c *gin.Context) bool {
	if !middleware.Actor(c).Privileged() {
		writeError(c, http.StatusForbidden, "forbidden")
		return false
	}
	return true
}

// writeDispatchError maps every error kind of the dispatch core to a status code.
func writeDispatchError(c *gin.Context, err error) {
	var (
		ite *request.InvalidTransitionError
		de  *dispatch.DispatchError
		cde *dispatch.ConcurrentDispatchError
	)
	_ = c.Error(err)
	switch {
	case errors.As(err, &ite):
		writeJSON(c, http.StatusConflict, gin.H{"error": err.Error(), "reason": ite.Reason, "from": ite.From, "to": ite.To})
	case errors.As(err, &cde):
		writeJSON(c, http.StatusConflict, errorResponse{Error: err.Error(), Reason: "concurrent_dispatch"})
	case errors.As(err, &de):
		switch de.Reason {
		case dispatch.ReasonNoDriver:
			writeJSON(c, http.StatusConflict, errorResponse{Error: err.Error(), Reason: string(de.Reason)})
		case dispatch.ReasonTimeout:
			writeJSON(c, http.StatusGatewayTimeout, errorResponse{Error: de.Operation() + " timed out", Reason: string(de.Reason)})
		case dispatch.ReasonAborted:
			writeJSON(c, http.StatusServiceUnavailable, errorResponse{Error: de.Operation() + " aborted", Reason: string(de.Reason)})
		default:
			writeJSON(c, http.StatusInternalServerError, errorResponse{Error: "internal error", Reason: string(de.Reason)})
		}
	case errors.Is(err, request.ErrBadRequest), errors.Is(err, driver.ErrBadRequest):
		writeError(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, storage.ErrNotFound):
		writeError(c, http.StatusNotFound, "not found")
	case errors.Is(err, storage.ErrDuplicate):
		writeError(c, http.StatusConflict, "already exists")
	case errors.Is(err, driver.ErrNoCapacity), errors.Is(err, driver.ErrNotOnline),
		errors.Is(err, storage.ErrConflict), errors.Is(err, dispatch.ErrPoolEmpty):
		writeError(c, http.StatusConflict, err.Error())
	default:
		writeError(c, http.StatusInternalServerError, "internal error")
	}
}
