// Package region defines the geographic extent a run operates on.
//
// A [Region] is an axis-aligned bounding box in WGS84 degrees. It is written
// and parsed as "west,south,east,north", the same order the tile compiler
// expects for its clip box.
package region

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"

	"github.com/matzehuels/tilecraft/pkg/errors"
)

// Region is a bounding box in WGS84 degrees.
type Region struct {
	West  float64 `json:"west" toml:"west"`
	South float64 `json:"south" toml:"south"`
	East  float64 `json:"east" toml:"east"`
	North float64 `json:"north" toml:"north"`
}

// New returns a validated region.
func New(west, south, east, north float64) (Region, error) {
	r := Region{West: west, South: south, East: east, North: north}
	if err := r.Validate(); err != nil {
		return Region{}, err
	}
	return r, nil
}

// Parse reads a region from "west,south,east,north".
func Parse(s string) (Region, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return Region{}, errors.New(errors.ErrCodeInvalidRegion, "expected west,south,east,north, got %q", s)
	}
	var v [4]float64
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return Region{}, errors.Wrap(errors.ErrCodeInvalidRegion, err, "parse coordinate %q", p)
		}
		v[i] = f
	}
	return New(v[0], v[1], v[2], v[3])
}

// Validate checks coordinate ranges and ordering.
func (r Region) Validate() error {
	for _, v := range []float64{r.West, r.South, r.East, r.North} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return errors.New(errors.ErrCodeInvalidRegion, "coordinates must be finite")
		}
	}
	if r.West < -180 || r.West > 180 || r.East < -180 || r.East > 180 {
		return errors.New(errors.ErrCodeInvalidRegion, "longitude must be within [-180, 180]")
	}
	if r.South < -90 || r.South > 90 || r.North < -90 || r.North > 90 {
		return errors.New(errors.ErrCodeInvalidRegion, "latitude must be within [-90, 90]")
	}
	if r.East <= r.West {
		return errors.New(errors.ErrCodeInvalidRegion, "eastern longitude must be greater than western longitude")
	}
	if r.North <= r.South {
		return errors.New(errors.ErrCodeInvalidRegion, "northern latitude must be greater than southern latitude")
	}
	return nil
}

// String formats the region as "west,south,east,north".
// The formatting is stable so it can take part in cache keys.
func (r Region) String() string {
	return strings.Join([]string{
		formatCoord(r.West), formatCoord(r.South), formatCoord(r.East), formatCoord(r.North),
	}, ",")
}

func formatCoord(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// Bound converts the region to an orb.Bound.
func (r Region) Bound() orb.Bound {
	return orb.Bound{Min: orb.Point{r.West, r.South}, Max: orb.Point{r.East, r.North}}
}

// Center returns the center point as (lon, lat).
func (r Region) Center() orb.Point {
	return r.Bound().Center()
}

// AreaDegrees returns the area in square degrees.
func (r Region) AreaDegrees() float64 {
	return (r.East - r.West) * (r.North - r.South)
}

// SuggestedZoom estimates a sensible initial view zoom for the region.
func (r Region) SuggestedZoom() int {
	switch area := r.AreaDegrees(); {
	case area > 10:
		return 8
	case area > 1:
		return 10
	case area > 0.1:
		return 12
	default:
		return 14
	}
}

// TileCount returns the number of tiles covering the region at zoom z.
func (r Region) TileCount(z int) int {
	zoom := maptile.Zoom(z)
	nw := maptile.At(orb.Point{r.West, r.North}, zoom)
	se := maptile.At(orb.Point{r.East, r.South}, zoom)
	return (int(se.X) - int(nw.X) + 1) * (int(se.Y) - int(nw.Y) + 1)
}

// GoString implements fmt.GoStringer for debug output.
func (r Region) GoString() string {
	return fmt.Sprintf("region.Region{%s}", r.String())
}
