// README: Pooling plan model: stops, members and detour accounting.
package pooling

import (
	"fleetd/internal/types"
)

type StopKind string

const (
	StopPickup  StopKind = "PICKUP"
	StopDropoff StopKind = "DROPOFF"
)

type Stop struct {
	RequestID types.ID    `json:"request_id"`
	Kind      StopKind    `json:"kind"`
	Point     types.Point `json:"point"`
	Address   string      `json:"address,omitempty"`
	Seats     int         `json:"seats"`
}

// Plan is an ordered visiting sequence for the anchor trip and the trips pooled with it.
// A plan with fewer than two members is empty: nothing could be pooled.
type Plan struct {
	AnchorID   types.ID   `json:"anchor_id"`
	Stops      []Stop     `json:"stops"`
	Members    []types.ID `json:"members"`
	TotalKm    float64    `json:"total_km"`
	BaselineKm float64    `json:"baseline_km"`
	DetourKm   float64    `json:"detour_km"`
}

func (p Plan) IsEmpty() bool {
	return len(p.Members) < 2
}

func pickupOf(id types.ID, place types.Place, seats int) Stop {
	return Stop{RequestID: id, Kind: StopPickup, Point: place.Point, Address: place.Address, Seats: seats}
}

func dropoffOf(id types.ID, place types.Place, seats int) Stop {
	return Stop{RequestID: id, Kind: StopDropoff, Point: place.Point, Address: place.Address, Seats: seats}
}
