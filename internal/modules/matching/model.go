// README: Candidate ranking and matching errors.
package matching

import (
	"errors"
	"fmt"
	"sort"

	"fleetd/internal/modules/location"
	"fleetd/internal/types"
)

// errClaimLost means one candidate's atomic claim failed; the engine moves on.
var errClaimLost = errors.New("driver claim lost")

// NoDriverAvailableError means every eligible candidate was tried. The request stays pending.
type NoDriverAvailableError struct {
	RequestID  types.ID
	RadiusKm   float64
	Candidates int
}

func (e *NoDriverAvailableError) Error() string {
	return fmt.Sprintf("no driver available for request %s within %.1f km (%d candidates tried)", e.RequestID, e.RadiusKm, e.Candidates)
}

// Scorer rates a candidate; higher is better.
type Scorer interface {
	Score(c location.Candidate) float64
}

// NearestScorer prefers the closest driver.
type NearestScorer struct{}

func (NearestScorer) Score(c location.Candidate) float64 {
	return -c.DistanceKm
}

type Ranked struct {
	location.Candidate
	Score float64
}

// rank orders candidates by score descending, then driver id ascending.
func rank(scorer Scorer, cands []location.Candidate) []Ranked {
	out := make([]Ranked, len(cands))
	for i, c := range cands {
		out[i] = Ranked{Candidate: c, Score: scorer.Score(c)}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].DriverID < out[j].DriverID
	})
	return out
}
