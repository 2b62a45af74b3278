package utils

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
)

// Coordinate represents a geographic coordinate with latitude and longitude
type Coordinate struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// SiteBoundary represents a polygonal site boundary used to check that
// verification photos were taken on site.
type SiteBoundary struct {
	Coordinates []Coordinate `json:"coordinates"`
	Name        string       `json:"name,omitempty"`
}

// ParseSiteBoundary parses boundary JSON into a SiteBoundary. Empty input
// yields nil (no boundary configured).
func ParseSiteBoundary(boundaryJSON []byte) (*SiteBoundary, error) {
	if len(boundaryJSON) == 0 {
		return nil, nil
	}

	var boundary SiteBoundary
	if err := json.Unmarshal(boundaryJSON, &boundary); err != nil {
		return nil, fmt.Errorf("invalid site boundary JSON: %w", err)
	}
	if err := boundary.Validate(); err != nil {
		return nil, err
	}
	return &boundary, nil
}

// Validate checks that the boundary forms a plausible polygon.
func (b *SiteBoundary) Validate() error {
	// A valid polygon needs at least 3 points (triangle)
	if len(b.Coordinates) < 3 {
		return errors.New("site boundary must have at least 3 coordinates to form a polygon")
	}
	for i, coord := range b.Coordinates {
		if err := validateCoordinate(coord); err != nil {
			return fmt.Errorf("invalid coordinate at index %d: %w", i, err)
		}
	}
	return nil
}

// Contains reports whether the given point is inside the boundary polygon.
// The ring is closed automatically if the input polygon is not.
func (b *SiteBoundary) Contains(lat, lng float64) bool {
	if len(b.Coordinates) < 3 {
		return false
	}

	ring := make(orb.Ring, 0, len(b.Coordinates)+1)
	for _, coord := range b.Coordinates {
		ring = append(ring, orb.Point{coord.Lng, coord.Lat})
	}
	if ring[0] != ring[len(ring)-1] {
		ring = append(ring, ring[0])
	}

	return planar.RingContains(ring, orb.Point{lng, lat})
}

// validateCoordinate validates a single coordinate
func validateCoordinate(coord Coordinate) error {
	if coord.Lat < -90 || coord.Lat > 90 {
		return fmt.Errorf("latitude %.6f is out of valid range [-90, 90]", coord.Lat)
	}
	if coord.Lng < -180 || coord.Lng > 180 {
		return fmt.Errorf("longitude %.6f is out of valid range [-180, 180]", coord.Lng)
	}
	return nil
}
