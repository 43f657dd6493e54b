// README: Shared identifiers and geographic value types.
package types

import (
	"fmt"

	"github.com/google/uuid"
)

type ID string

// TenantID scopes every read and write; its contents are opaque here.
type TenantID string

func NewID() ID {
	return ID(uuid.NewString())
}

func (id ID) Ptr() *ID {
	return &id
}

type Point struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

func (p Point) Valid() bool {
	return p.Lat >= -90 && p.Lat <= 90 && p.Lng >= -180 && p.Lng <= 180
}

// String renders the point as "lat,lng", the form the maps client expects.
func (p Point) String() string {
	return fmt.Sprintf("%.6f,%.6f", p.Lat, p.Lng)
}

// Place is a coordinate with the free-text address the customer entered.
type Place struct {
	Point   Point  `json:"point"`
	Address string `json:"address,omitempty"`
}
