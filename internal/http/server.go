// README: API gateway; registers HTTP routes and delegates to module services.
package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"fleetd/internal/http/handlers"
	"fleetd/internal/http/middleware"
	"fleetd/internal/infra"
)

// Service is what the API needs from the dispatch coordinator.
type Service interface {
	handlers.RequestService
	handlers.PoolService
}

type ServerDeps struct {
	Dispatch Service
	Drivers  handlers.DriverService
	// Geocoder is optional.
	Geocoder handlers.Geocoder
	// Verifier is optional; without it callers are identified by trusted headers.
	Verifier infra.TokenVerifier
	Log      *logrus.Entry
}

type Server struct {
	deps ServerDeps
}

func NewServer(deps ServerDeps) *Server {
	if deps.Log == nil {
		deps.Log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Server{deps: deps}
}

func (s *Server) Routes() http.Handler {
	r := gin.New()
	r.Use(middleware.Recovery(s.deps.Log), middleware.Metrics(), middleware.Logging(s.deps.Log))

	r.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "OK")
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api/v1", middleware.Auth(s.deps.Verifier), middleware.Tenant())

	reqs := handlers.NewRequestHandler(s.deps.Dispatch, s.deps.Geocoder)
	api.POST("/requests", reqs.Create)
	api.POST("/requests/dispatch-batch", reqs.DispatchBatch)
	api.GET("/requests/:id", reqs.Get)
	api.POST("/requests/:id/dispatch", reqs.Dispatch)
	api.POST("/requests/:id/transitions", reqs.Transition)
	api.POST("/requests/:id/cancel", reqs.Cancel)

	pool := handlers.NewPoolHandler(s.deps.Dispatch)
	api.GET("/trips/:id/pool", pool.Plan)
	api.POST("/trips/:id/pool/commit", pool.Commit)

	drivers := handlers.NewDriverHandler(s.deps.Drivers)
	api.POST("/drivers", drivers.Register)
	api.GET("/drivers/:id", drivers.Get)
	api.PUT("/drivers/:id/status", drivers.SetStatus)
	api.PUT("/drivers/:id/location", drivers.UpdateLocation)

	return r
}
