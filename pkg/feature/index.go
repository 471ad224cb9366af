package feature

import (
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/osm"
)

// Points are stored at the 1e-7 degree precision of the source format,
// packed as lat<<32 | lon into one uint64, in fixed-size pages keyed by the
// high bits of the node id. Dense id ranges (the common case for regional
// extracts) cost 8 bytes per point plus one presence bit.
const (
	pageBits   = 12
	pageSize   = 1 << pageBits
	pageMask   = pageSize - 1
	coordScale = 1e7
)

type page struct {
	present [pageSize / 64]uint64
	coords  [pageSize]uint64
}

// PointIndex maps node ids to coordinates.
type PointIndex struct {
	pages map[int64]*page
	n     int
}

// NewPointIndex creates an empty index.
func NewPointIndex() *PointIndex {
	return &PointIndex{pages: make(map[int64]*page)}
}

func encodePoint(p orb.Point) uint64 {
	lon := int32(math.Round(p[0] * coordScale))
	lat := int32(math.Round(p[1] * coordScale))
	return uint64(uint32(lat))<<32 | uint64(uint32(lon))
}

func decodePoint(v uint64) orb.Point {
	lat := int32(v >> 32)
	lon := int32(v & 0xffffffff)
	return orb.Point{float64(lon) / coordScale, float64(lat) / coordScale}
}

// Put records the coordinate of a node, replacing any previous value.
func (ix *PointIndex) Put(id osm.NodeID, p orb.Point) {
	key, off := int64(id)>>pageBits, int64(id)&pageMask
	pg, ok := ix.pages[key]
	if !ok {
		pg = &page{}
		ix.pages[key] = pg
	}
	word, bit := off/64, uint64(1)<<(off%64)
	if pg.present[word]&bit == 0 {
		pg.present[word] |= bit
		ix.n++
	}
	pg.coords[off] = encodePoint(p)
}

// Point returns the coordinate of a node.
func (ix *PointIndex) Point(id osm.NodeID) (orb.Point, bool) {
	key, off := int64(id)>>pageBits, int64(id)&pageMask
	pg, ok := ix.pages[key]
	if !ok || pg.present[off/64]&(uint64(1)<<(off%64)) == 0 {
		return orb.Point{}, false
	}
	return decodePoint(pg.coords[off]), true
}

// Len returns the number of indexed points.
func (ix *PointIndex) Len() int {
	return ix.n
}

// WayIndex keeps the node references of ways so multipolygon relations,
// which arrive after all ways, can be assembled.
type WayIndex struct {
	refs map[osm.WayID][]osm.NodeID
}

// NewWayIndex creates an empty way index.
func NewWayIndex() *WayIndex {
	return &WayIndex{refs: make(map[osm.WayID][]osm.NodeID)}
}

// Put records the node references of a way.
func (wi *WayIndex) Put(w *osm.Way) {
	wi.refs[w.ID] = w.Nodes.NodeIDs()
}

// Refs returns the node references of a way.
func (wi *WayIndex) Refs(id osm.WayID) ([]osm.NodeID, bool) {
	refs, ok := wi.refs[id]
	return refs, ok
}

// Len returns the number of indexed ways.
func (wi *WayIndex) Len() int {
	return len(wi.refs)
}
