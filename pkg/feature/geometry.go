package feature

import (
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/osm"
)

// BuildErrorKind classifies why an entity produced no geometry.
type BuildErrorKind string

const (
	// InsufficientGeometry: a way with fewer than two usable references.
	InsufficientGeometry BuildErrorKind = "insufficient_geometry"
	// UnresolvedReference: a way or relation refers to an unknown point or way.
	UnresolvedReference BuildErrorKind = "unresolved_reference"
	// MissingOuterRing: a multipolygon relation without outer members.
	MissingOuterRing BuildErrorKind = "missing_outer_ring"
	// UnclosedRing: member ways that cannot be joined into a closed ring.
	UnclosedRing BuildErrorKind = "unclosed_ring"
	// UnsupportedRelation: a relation that is not a multipolygon.
	UnsupportedRelation BuildErrorKind = "unsupported_relation"
)

// BuildError reports an entity whose geometry could not be built.
type BuildError struct {
	Kind   BuildErrorKind
	Entity osm.Type
	ID     int64
	Ref    int64 // offending reference, if any
}

func (e *BuildError) Error() string {
	if e.Ref != 0 {
		return fmt.Sprintf("%s %d: %s (ref %d)", e.Entity, e.ID, e.Kind, e.Ref)
	}
	return fmt.Sprintf("%s %d: %s", e.Entity, e.ID, e.Kind)
}

// areaKeys are tag keys that make a closed way a filled area regardless of
// the category that matched it.
var areaKeys = []string{
	"building", "landuse", "natural", "leisure", "amenity",
	"place", "tourism", "shop", "area",
}

// IsAreal reports whether a closed way with these tags is a polygon.
// area=no forces a line and area=yes forces a polygon.
func IsAreal(tags osm.Tags) bool {
	switch tags.Find("area") {
	case "no":
		return false
	case "yes":
		return true
	}
	for _, k := range areaKeys {
		if tags.HasTag(k) {
			return true
		}
	}
	return false
}

// IsMultipolygon reports whether a relation describes an area.
func IsMultipolygon(tags osm.Tags) bool {
	switch tags.Find("type") {
	case "multipolygon", "boundary":
		return true
	}
	return false
}

// Builder assembles geometries from entities. Coordinates of ways and
// relations are resolved through the point and way indexes, which the
// stream handler fills as entities go by.
type Builder struct {
	Points *PointIndex
	Ways   *WayIndex
}

// NewBuilder creates a builder with empty indexes.
func NewBuilder() *Builder {
	return &Builder{Points: NewPointIndex(), Ways: NewWayIndex()}
}

// Build returns the geometry for any supported entity.
func (b *Builder) Build(o osm.Object) (orb.Geometry, error) {
	switch e := o.(type) {
	case *osm.Node:
		return b.Node(e), nil
	case *osm.Way:
		return b.Way(e)
	case *osm.Relation:
		return b.Relation(e)
	}
	return nil, fmt.Errorf("unsupported object type %T", o)
}

// Node always yields a point.
func (b *Builder) Node(n *osm.Node) orb.Point {
	return orb.Point{n.Lon, n.Lat}
}

// Way yields a Polygon for closed areal ways and a LineString otherwise.
func (b *Builder) Way(w *osm.Way) (orb.Geometry, error) {
	if len(w.Nodes) < 2 {
		return nil, &BuildError{Kind: InsufficientGeometry, Entity: osm.TypeWay, ID: int64(w.ID)}
	}

	coords := make([]orb.Point, len(w.Nodes))
	for i, wn := range w.Nodes {
		p, ok := b.resolve(wn)
		if !ok {
			return nil, &BuildError{Kind: UnresolvedReference, Entity: osm.TypeWay, ID: int64(w.ID), Ref: int64(wn.ID)}
		}
		coords[i] = p
	}

	if closed(w.Nodes) && IsAreal(w.Tags) {
		return orb.Polygon{orb.Ring(coords)}, nil
	}
	return orb.LineString(coords), nil
}

// resolve prefers the point index and falls back to coordinates embedded in
// the way itself, which some extracts carry.
func (b *Builder) resolve(wn osm.WayNode) (orb.Point, bool) {
	if p, ok := b.Points.Point(wn.ID); ok {
		return p, true
	}
	if wn.Lat != 0 || wn.Lon != 0 {
		return orb.Point{wn.Lon, wn.Lat}, true
	}
	return orb.Point{}, false
}

func closed(nodes osm.WayNodes) bool {
	return len(nodes) >= 3 && nodes[0].ID == nodes[len(nodes)-1].ID
}

// Relation yields a MultiPolygon with one polygon per outer ring. Inner
// rings become holes of the smallest outer ring that contains them.
func (b *Builder) Relation(r *osm.Relation) (orb.Geometry, error) {
	id := int64(r.ID)
	if !IsMultipolygon(r.Tags) {
		return nil, &BuildError{Kind: UnsupportedRelation, Entity: osm.TypeRelation, ID: id}
	}

	var outer, inner [][]osm.NodeID
	for _, m := range r.Members {
		if m.Type != osm.TypeWay {
			continue
		}
		var dst *[][]osm.NodeID
		switch m.Role {
		case "outer", "":
			dst = &outer
		case "inner":
			dst = &inner
		default:
			continue
		}
		refs, ok := b.Ways.Refs(osm.WayID(m.Ref))
		if !ok {
			return nil, &BuildError{Kind: UnresolvedReference, Entity: osm.TypeRelation, ID: id, Ref: m.Ref}
		}
		*dst = append(*dst, refs)
	}

	if len(outer) == 0 {
		return nil, &BuildError{Kind: MissingOuterRing, Entity: osm.TypeRelation, ID: id}
	}

	outerRings, err := b.rings(id, outer)
	if err != nil {
		return nil, err
	}
	innerRings, err := b.rings(id, inner)
	if err != nil {
		return nil, err
	}
	return nestRings(outerRings, innerRings), nil
}

// rings stitches member ways into closed rings and resolves coordinates.
func (b *Builder) rings(relation int64, members [][]osm.NodeID) ([]orb.Ring, error) {
	joined, ok := stitch(members)
	if !ok {
		return nil, &BuildError{Kind: UnclosedRing, Entity: osm.TypeRelation, ID: relation}
	}
	out := make([]orb.Ring, 0, len(joined))
	for _, refs := range joined {
		ring := make(orb.Ring, len(refs))
		for i, ref := range refs {
			p, ok := b.Points.Point(ref)
			if !ok {
				return nil, &BuildError{Kind: UnresolvedReference, Entity: osm.TypeRelation, ID: relation, Ref: int64(ref)}
			}
			ring[i] = p
		}
		out = append(out, ring)
	}
	return out, nil
}
