package feature

import (
	"errors"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/paulmach/orb"
	"github.com/paulmach/osm"

	tcerrors "github.com/matzehuels/tilecraft/pkg/errors"
)

// InternalTagPrefix marks tags reserved for tilecraft bookkeeping. Tags with
// this prefix never reach feature properties.
const InternalTagPrefix = "tilecraft:"

// Feature is an entity that matched a category, with its geometry.
type Feature struct {
	Category string
	Type     osm.Type
	ID       int64
	Geometry orb.Geometry
	Tags     osm.Tags
}

// Properties returns the attribute mapping written alongside the geometry:
// every source tag plus osm_id and osm_type.
func (f *Feature) Properties() map[string]any {
	props := make(map[string]any, len(f.Tags)+2)
	for _, t := range f.Tags {
		if strings.HasPrefix(t.Key, InternalTagPrefix) {
			continue
		}
		props[t.Key] = t.Value
	}
	props["osm_id"] = f.ID
	props["osm_type"] = string(f.Type)
	return props
}

// Sink receives features as the handler produces them.
type Sink interface {
	Emit(f *Feature) error
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(f *Feature) error

// Emit calls fn(f).
func (fn SinkFunc) Emit(f *Feature) error { return fn(f) }

// Summary counts what a pass has seen and skipped.
type Summary struct {
	Nodes     int64                  `json:"nodes"`
	Ways      int64                  `json:"ways"`
	Relations int64                  `json:"relations"`
	Features  map[string]int         `json:"features"`
	Skipped   map[BuildErrorKind]int `json:"skipped,omitempty"`
}

// SkippedTotal returns the number of entities skipped for any reason.
func (s Summary) SkippedTotal() int {
	n := 0
	for _, c := range s.Skipped {
		n += c
	}
	return n
}

// Handler is a single-pass visitor over a source stream. It expects nodes
// before ways and ways before relations, indexes what later entities need,
// and emits one feature per (entity, matching category).
type Handler struct {
	table   *Table
	builder *Builder
	sink    Sink
	logger  *log.Logger
	summary Summary
	matched []int
}

// NewHandler creates a handler for the given categories.
func NewHandler(categories []Category, sink Sink, logger *log.Logger) *Handler {
	if logger == nil {
		logger = log.Default()
	}
	features := make(map[string]int, len(categories))
	for _, c := range categories {
		features[c.Name] = 0
	}
	return &Handler{
		table:   NewTable(categories),
		builder: NewBuilder(),
		sink:    sink,
		logger:  logger,
		summary: Summary{Features: features, Skipped: make(map[BuildErrorKind]int)},
	}
}

// Visit processes one entity. Only sink failures are returned; entities
// whose geometry cannot be built are counted and skipped.
func (h *Handler) Visit(o osm.Object) error {
	switch e := o.(type) {
	case *osm.Node:
		return h.node(e)
	case *osm.Way:
		return h.way(e)
	case *osm.Relation:
		return h.relation(e)
	}
	return nil
}

func (h *Handler) node(n *osm.Node) error {
	h.summary.Nodes++
	h.builder.Points.Put(n.ID, orb.Point{n.Lon, n.Lat})

	if h.match(n.Tags) == 0 {
		return nil
	}
	return h.emit(osm.TypeNode, int64(n.ID), h.builder.Node(n), n.Tags)
}

func (h *Handler) way(w *osm.Way) error {
	h.summary.Ways++
	h.builder.Ways.Put(w)

	if h.match(w.Tags) == 0 {
		return nil
	}
	geom, err := h.builder.Way(w)
	if err != nil {
		return h.skip(err)
	}
	return h.emit(osm.TypeWay, int64(w.ID), geom, w.Tags)
}

func (h *Handler) relation(r *osm.Relation) error {
	h.summary.Relations++

	if h.match(r.Tags) == 0 {
		return nil
	}
	geom, err := h.builder.Relation(r)
	if err != nil {
		return h.skip(err)
	}
	return h.emit(osm.TypeRelation, int64(r.ID), geom, r.Tags)
}

func (h *Handler) match(tags osm.Tags) int {
	h.matched = h.table.Match(tags, h.matched)
	return len(h.matched)
}

func (h *Handler) emit(typ osm.Type, id int64, geom orb.Geometry, tags osm.Tags) error {
	categories := h.table.Categories()
	for _, i := range h.matched {
		f := &Feature{
			Category: categories[i].Name,
			Type:     typ,
			ID:       id,
			Geometry: geom,
			Tags:     tags,
		}
		if err := h.sink.Emit(f); err != nil {
			return err
		}
		h.summary.Features[f.Category]++
	}
	return nil
}

func (h *Handler) skip(err error) error {
	var be *BuildError
	if !errors.As(err, &be) {
		return err
	}
	h.summary.Skipped[be.Kind]++
	h.logger.Debug("skipped entity",
		"err", tcerrors.Wrap(tcerrors.ErrCodeGeometryValidation, be, "build geometry"),
		"type", be.Entity,
		"id", be.ID)
	return nil
}

// Summary returns the counts collected so far.
func (h *Handler) Summary() Summary {
	return h.summary
}

// Points returns the number of indexed points.
func (h *Handler) Points() int {
	return h.builder.Points.Len()
}
