package feature

import (
	"math"
	"slices"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
	"github.com/paulmach/osm"
)

// stitch joins member ways into closed rings by matching shared end nodes.
// Closed members pass through unchanged. It reports false when some members
// cannot be joined into a closed ring.
func stitch(members [][]osm.NodeID) ([][]osm.NodeID, bool) {
	var rings [][]osm.NodeID
	var open [][]osm.NodeID
	for _, m := range members {
		if len(m) < 2 {
			return nil, false
		}
		if isClosedRefs(m) {
			rings = append(rings, m)
		} else {
			open = append(open, m)
		}
	}

	for len(open) > 0 {
		cur := slices.Clone(open[0])
		open = open[1:]
		for !isClosedRefs(cur) {
			tail := cur[len(cur)-1]
			next := -1
			reverse := false
			for j, seg := range open {
				if seg[0] == tail {
					next = j
					break
				}
				if seg[len(seg)-1] == tail {
					next, reverse = j, true
					break
				}
			}
			if next < 0 {
				return nil, false
			}
			seg := slices.Clone(open[next])
			open = slices.Delete(open, next, next+1)
			if reverse {
				slices.Reverse(seg)
			}
			cur = append(cur, seg[1:]...)
		}
		rings = append(rings, cur)
	}
	return rings, true
}

func isClosedRefs(refs []osm.NodeID) bool {
	return len(refs) >= 3 && refs[0] == refs[len(refs)-1]
}

// nestRings assigns each inner ring to the outer ring containing it. When
// several outer rings contain an inner ring, the one with the smallest area
// wins. Inner rings outside every outer ring are dropped.
func nestRings(outers, inners []orb.Ring) orb.MultiPolygon {
	mp := make(orb.MultiPolygon, len(outers))
	areas := make([]float64, len(outers))
	for i, o := range outers {
		mp[i] = orb.Polygon{o}
		areas[i] = math.Abs(planar.Area(o))
	}

	for _, in := range inners {
		best := -1
		for i, o := range outers {
			if !ringWithin(in, o) {
				continue
			}
			if best < 0 || areas[i] < areas[best] {
				best = i
			}
		}
		if best >= 0 {
			mp[best] = append(mp[best], in)
		}
	}
	return mp
}

// ringWithin reports whether most vertices of inner lie inside outer. Inner
// rings may touch their outer ring, so a strict all-vertices test would
// depend on how boundary points are classified.
func ringWithin(inner, outer orb.Ring) bool {
	n := len(inner)
	if n > 1 && inner[0] == inner[n-1] {
		n--
	}
	if n == 0 {
		return false
	}
	inside := 0
	for _, p := range inner[:n] {
		if planar.RingContains(outer, p) {
			inside++
		}
	}
	return inside*2 > n
}
