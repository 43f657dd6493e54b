// README: Shared-ride pooling: cheapest-insertion screening, greedy stop ordering, detour ceiling.
package pooling

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"fleetd/internal/config"
	"fleetd/internal/modules/request"
	"fleetd/internal/types"
)

type Planner struct {
	matrix   Matrix
	window   time.Duration
	maxSeats int
}

func NewPlanner(matrix Matrix, cfg config.PoolingConfig) *Planner {
	if matrix == nil {
		matrix = Haversine{}
	}
	return &Planner{matrix: matrix, window: cfg.Window, maxSeats: cfg.MaxGroupSeats}
}

// Compatible reports whether other may be pooled with the anchor trip.
func (p *Planner) Compatible(anchor, other *request.Request) bool {
	if other.ID == anchor.ID || other.TenantID != anchor.TenantID {
		return false
	}
	if !other.Shared() || !other.Pending() || other.SharedGroupID != nil {
		return false
	}
	gap := other.WindowStart().Sub(anchor.WindowStart())
	if gap < 0 {
		gap = -gap
	}
	return gap <= p.window
}

type survivor struct {
	req      *request.Request
	detourKm float64
}

// Plan pools pending shared trips with anchor. start is the vehicle position; the
// approach leg to the first stop is not counted. The returned plan is empty when
// no trip fits within maxDetourKm.
func (p *Planner) Plan(ctx context.Context, anchor *request.Request, start *types.Point, pending []*request.Request, maxDetourKm float64) (Plan, error) {
	if !anchor.Shared() {
		return Plan{}, fmt.Errorf("%w: request %s is not a shared trip", request.ErrBadRequest, anchor.ID)
	}
	if maxDetourKm < 0 {
		return Plan{}, fmt.Errorf("%w: max detour must not be negative", request.ErrBadRequest)
	}

	m := newMemo(p.matrix)
	base := []Stop{
		pickupOf(anchor.ID, anchor.Pickup, anchor.RequiredCapacity),
		dropoffOf(anchor.ID, anchor.Dropoff, anchor.RequiredCapacity),
	}
	baseline, err := m.pathKm(ctx, base)
	if err != nil {
		return Plan{}, err
	}
	empty := Plan{AnchorID: anchor.ID, Stops: base, Members: []types.ID{anchor.ID}, TotalKm: baseline, BaselineKm: baseline}

	var survivors []survivor
	for _, other := range pending {
		if !p.Compatible(anchor, other) {
			continue
		}
		if anchor.RequiredCapacity+other.RequiredCapacity > p.maxSeats {
			continue
		}
		total, err := p.cheapestInsertion(ctx, m, base, other)
		if err != nil {
			return Plan{}, err
		}
		if d := total - baseline; d <= maxDetourKm {
			survivors = append(survivors, survivor{req: other, detourKm: d})
		}
	}
	sort.SliceStable(survivors, func(i, j int) bool {
		if survivors[i].detourKm != survivors[j].detourKm {
			return survivors[i].detourKm < survivors[j].detourKm
		}
		return survivors[i].req.ID < survivors[j].req.ID
	})
	survivors = p.fitSeats(anchor, survivors)

	origin := anchor.Pickup.Point
	if start != nil {
		origin = *start
	}

	for len(survivors) > 0 {
		if err := ctx.Err(); err != nil {
			return Plan{}, err
		}
		stops := base
		for _, s := range survivors {
			stops = append(stops[:len(stops):len(stops)],
				pickupOf(s.req.ID, s.req.Pickup, s.req.RequiredCapacity),
				dropoffOf(s.req.ID, s.req.Dropoff, s.req.RequiredCapacity))
		}
		ordered, err := greedyOrder(ctx, m, origin, stops)
		if err != nil {
			return Plan{}, err
		}
		total, err := m.pathKm(ctx, ordered)
		if err != nil {
			return Plan{}, err
		}
		if total-baseline <= maxDetourKm {
			members := []types.ID{anchor.ID}
			for _, s := range survivors {
				members = append(members, s.req.ID)
			}
			return Plan{
				AnchorID:   anchor.ID,
				Stops:      ordered,
				Members:    members,
				TotalKm:    total,
				BaselineKm: baseline,
				DetourKm:   total - baseline,
			}, nil
		}
		// Drop the survivor with the largest individual detour.
		survivors = survivors[:len(survivors)-1]
	}
	return empty, nil
}

// cheapestInsertion returns the shortest path length over every position pair
// that keeps the inserted trip's pickup before its dropoff.
func (p *Planner) cheapestInsertion(ctx context.Context, m *memo, route []Stop, r *request.Request) (float64, error) {
	pick := pickupOf(r.ID, r.Pickup, r.RequiredCapacity)
	drop := dropoffOf(r.ID, r.Dropoff, r.RequiredCapacity)
	best := math.Inf(1)
	for i := 0; i <= len(route); i++ {
		withPick := insertAt(route, i, pick)
		for j := i + 1; j <= len(withPick); j++ {
			total, err := m.pathKm(ctx, insertAt(withPick, j, drop))
			if err != nil {
				return 0, err
			}
			if total < best {
				best = total
			}
		}
	}
	return best, nil
}

// fitSeats keeps survivors, in detour order, while the group fits in one vehicle.
func (p *Planner) fitSeats(anchor *request.Request, in []survivor) []survivor {
	seats := anchor.RequiredCapacity
	out := in[:0:0]
	for _, s := range in {
		if seats+s.req.RequiredCapacity > p.maxSeats {
			continue
		}
		seats += s.req.RequiredCapacity
		out = append(out, s)
	}
	return out
}

func insertAt(stops []Stop, i int, s Stop) []Stop {
	out := make([]Stop, 0, len(stops)+1)
	out = append(out, stops[:i]...)
	out = append(out, s)
	return append(out, stops[i:]...)
}

// greedyOrder visits the nearest eligible stop next. A dropoff is eligible only
// once its pickup has been visited. Ties go to the lower request id, pickups first.
func greedyOrder(ctx context.Context, m *memo, origin types.Point, stops []Stop) ([]Stop, error) {
	picked := make(map[types.ID]bool, len(stops)/2)
	visited := make([]bool, len(stops))
	out := make([]Stop, 0, len(stops))
	cur := origin

	for len(out) < len(stops) {
		best := -1
		bestKm := math.Inf(1)
		for i, s := range stops {
			if visited[i] || (s.Kind == StopDropoff && !picked[s.RequestID]) {
				continue
			}
			d, err := m.dist(ctx, cur, s.Point)
			if err != nil {
				return nil, err
			}
			if best < 0 || d < bestKm || (d == bestKm && stopLess(s, stops[best])) {
				best, bestKm = i, d
			}
		}
		s := stops[best]
		visited[best] = true
		if s.Kind == StopPickup {
			picked[s.RequestID] = true
		}
		out = append(out, s)
		cur = s.Point
	}
	return out, nil
}

func stopLess(a, b Stop) bool {
	if a.RequestID != b.RequestID {
		return a.RequestID < b.RequestID
	}
	return a.Kind == StopPickup && b.Kind == StopDropoff
}

// ValidOrder reports whether every member's pickup precedes its dropoff.
func ValidOrder(stops []Stop) bool {
	picked := make(map[types.ID]bool)
	dropped := make(map[types.ID]bool)
	for _, s := range stops {
		switch s.Kind {
		case StopPickup:
			if picked[s.RequestID] {
				return false
			}
			picked[s.RequestID] = true
		case StopDropoff:
			if !picked[s.RequestID] || dropped[s.RequestID] {
				return false
			}
			dropped[s.RequestID] = true
		}
	}
	return len(picked) == len(dropped)
}
