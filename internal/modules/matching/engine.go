// README: Matching engine; finds, ranks and claims a driver for one pending request.
package matching

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"

	"fleetd/internal/config"
	"fleetd/internal/modules/driver"
	"fleetd/internal/modules/location"
	"fleetd/internal/modules/request"
	"fleetd/internal/observability"
	"fleetd/internal/types"
)

type Finder interface {
	FindNearby(ctx context.Context, tenant types.TenantID, origin types.Point, radiusKm float64, f location.Filter) ([]location.Candidate, error)
}

// Claimer performs the atomic capacity claim against the authoritative driver record.
type Claimer interface {
	ClaimDriver(ctx context.Context, id types.ID) (bool, error)
}

type Engine struct {
	finder Finder
	scorer Scorer
	cfg    config.MatchingConfig
	log    *logrus.Entry
}

func NewEngine(finder Finder, scorer Scorer, cfg config.MatchingConfig, log *logrus.Entry) *Engine {
	if scorer == nil {
		scorer = NearestScorer{}
	}
	return &Engine{finder: finder, scorer: scorer, cfg: cfg, log: log}
}

// RadiusKm is the search radius for the request's kind and mode.
func (e *Engine) RadiusKm(r *request.Request) float64 {
	if r.Kind == request.KindParcel {
		return e.cfg.ParcelRadiusKm
	}
	switch r.Mode {
	case request.ModeOutTownVIP, request.ModeOutTownShared:
		return e.cfg.OutOfTownRadiusKm
	}
	return e.cfg.InTownRadiusKm
}

// FilterFor is the vehicle rule a driver must meet to carry r.
func FilterFor(r *request.Request) location.Filter {
	return location.Filter{
		VehicleType: driver.VehicleType(r.VehicleType),
		MinSeats:    r.RequiredCapacity,
	}
}

// Rank returns eligible drivers around the pickup in claim order.
func (e *Engine) Rank(ctx context.Context, r *request.Request) ([]Ranked, error) {
	cands, err := e.finder.FindNearby(ctx, r.TenantID, r.Pickup.Point, e.RadiusKm(r), FilterFor(r))
	if err != nil {
		return nil, err
	}
	return rank(e.scorer, cands), nil
}

// AssignDriver claims the best available driver for r. It does not change r;
// the caller records the transition in the same unit of work as the claim.
func (e *Engine) AssignDriver(ctx context.Context, r *request.Request, claimer Claimer) (types.ID, error) {
	if !r.Pending() {
		return "", &request.InvalidTransitionError{RequestID: r.ID, From: r.Status, To: request.StatusAssigned, Reason: request.ReasonNotPending}
	}

	ranked, err := e.Rank(ctx, r)
	if err != nil {
		return "", err
	}
	log := e.log.WithFields(logrus.Fields{"request_id": r.ID, "tenant_id": r.TenantID})

	for _, c := range ranked {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		err := claim(ctx, claimer, c.DriverID)
		if errors.Is(err, errClaimLost) {
			observability.ClaimConflicts.Inc()
			log.WithField("driver_id", c.DriverID).Debug("claim lost, trying next candidate")
			continue
		}
		if err != nil {
			return "", err
		}
		log.WithFields(logrus.Fields{"driver_id": c.DriverID, "distance_km": c.DistanceKm}).Info("driver claimed")
		return c.DriverID, nil
	}
	return "", &NoDriverAvailableError{RequestID: r.ID, RadiusKm: e.RadiusKm(r), Candidates: len(ranked)}
}

func claim(ctx context.Context, claimer Claimer, id types.ID) error {
	ok, err := claimer.ClaimDriver(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return errClaimLost
	}
	return nil
}
