// README: Driver registry: registration, availability and location updates.
package driver

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"fleetd/internal/types"
)

var ErrBadRequest = errors.New("bad request")

type Store interface {
	CreateDriver(ctx context.Context, d *Driver) error
	GetDriver(ctx context.Context, tenant types.TenantID, id types.ID) (*Driver, error)
	SetDriverOnline(ctx context.Context, tenant types.TenantID, id types.ID, online bool) (*Driver, error)
	// UpdateDriverLocation reports false when the update was older than the stored one
	// or the driver is offline.
	UpdateDriverLocation(ctx context.Context, tenant types.TenantID, id types.ID, p types.Point, heading *float64, at time.Time) (bool, error)
}

// Positions is the geospatial index fed by location updates.
type Positions interface {
	Upsert(ctx context.Context, tenant types.TenantID, id types.ID, p types.Point, at time.Time) error
	Remove(ctx context.Context, tenant types.TenantID, id types.ID) error
}

type Service struct {
	store     Store
	positions Positions
	now       func() time.Time
	log       *logrus.Entry
}

func NewService(store Store, positions Positions, log *logrus.Entry) *Service {
	return &Service{store: store, positions: positions, now: time.Now, log: log}
}

type RegisterCommand struct {
	ID              types.ID
	Name            string
	VehicleType     VehicleType
	VehicleCapacity int
}

type LocationUpdate struct {
	TenantID   types.TenantID
	DriverID   types.ID
	Point      types.Point
	Heading    *float64
	RecordedAt time.Time
}

func (s *Service) Register(ctx context.Context, tenant types.TenantID, cmd RegisterCommand) (*Driver, error) {
	if tenant == "" {
		return nil, fmt.Errorf("%w: tenant is required", ErrBadRequest)
	}
	if cmd.VehicleType == "" {
		cmd.VehicleType = VehicleSedan
	}
	if !ValidVehicleType(cmd.VehicleType) {
		return nil, fmt.Errorf("%w: unknown vehicle type %q", ErrBadRequest, cmd.VehicleType)
	}
	if cmd.VehicleCapacity == 0 {
		cmd.VehicleCapacity = DefaultVehicleCapacity
	}
	if cmd.VehicleCapacity < 1 {
		return nil, fmt.Errorf("%w: vehicle capacity must be at least 1", ErrBadRequest)
	}
	if cmd.ID == "" {
		cmd.ID = types.NewID()
	}

	d := &Driver{
		ID:              cmd.ID,
		TenantID:        tenant,
		Name:            cmd.Name,
		Status:          StatusOffline,
		VehicleType:     cmd.VehicleType,
		VehicleCapacity: cmd.VehicleCapacity,
		UpdatedAt:       s.now(),
	}
	if err := s.store.CreateDriver(ctx, d); err != nil {
		return nil, err
	}
	return d, nil
}

func (s *Service) Get(ctx context.Context, tenant types.TenantID, id types.ID) (*Driver, error) {
	return s.store.GetDriver(ctx, tenant, id)
}

// SetStatus toggles availability. Going offline drops the driver from the index.
func (s *Service) SetStatus(ctx context.Context, tenant types.TenantID, id types.ID, online bool) (*Driver, error) {
	d, err := s.store.SetDriverOnline(ctx, tenant, id, online)
	if err != nil {
		return nil, err
	}
	if !online {
		if err := s.positions.Remove(ctx, tenant, id); err != nil {
			s.log.WithError(err).WithField("driver_id", id).Warn("remove driver from index")
		}
	}
	return d, nil
}

// UpdateLocation records a position fix. Fixes older than the stored one are ignored.
func (s *Service) UpdateLocation(ctx context.Context, u LocationUpdate) error {
	if !u.Point.Valid() {
		return fmt.Errorf("%w: coordinates out of range", ErrBadRequest)
	}
	if u.RecordedAt.IsZero() {
		u.RecordedAt = s.now()
	}
	d, err := s.store.GetDriver(ctx, u.TenantID, u.DriverID)
	if err != nil {
		return err
	}
	if d.Status == StatusOffline {
		return ErrNotOnline
	}
	applied, err := s.store.UpdateDriverLocation(ctx, u.TenantID, u.DriverID, u.Point, u.Heading, u.RecordedAt)
	if err != nil {
		return err
	}
	if !applied {
		s.log.WithFields(logrus.Fields{"driver_id": u.DriverID, "recorded_at": u.RecordedAt}).Debug("stale location ignored")
		return nil
	}
	return s.positions.Upsert(ctx, u.TenantID, u.DriverID, u.Point, u.RecordedAt)
}
