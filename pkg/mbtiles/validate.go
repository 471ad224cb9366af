package mbtiles

import (
	"context"
	"errors"
	"fmt"
	"os"
	"slices"
)

var (
	// ErrUnknownLayout means neither accepted table layout was found.
	ErrUnknownLayout = errors.New("mbtiles: unrecognised table layout")

	// ErrInvalid is wrapped by every structural validation failure.
	ErrInvalid = errors.New("mbtiles: invalid archive")
)

// Expect lists what a freshly generated archive must contain.
type Expect struct {
	// Layers must each appear in the metadata vector layer list.
	Layers []string
	// Absent must not appear there.
	Absent []string
	// MinZoom and MaxZoom bound the requested pyramid. Tiles outside it are
	// reported as warnings.
	MinZoom int
	MaxZoom int
}

// Info describes a validated archive.
type Info struct {
	Path     string            `json:"path"`
	Layout   Layout            `json:"layout"`
	Format   string            `json:"format"`
	Size     int64             `json:"size"`
	Layers   []string          `json:"layers"`
	Stats    *Stats            `json:"stats"`
	Metadata map[string]string `json:"metadata"`
	Warnings []string          `json:"warnings,omitempty"`
}

// Validate opens the archive at path and checks its structure: a readable
// SQLite file in one of the accepted layouts, a metadata table with a format,
// at least one tile with a zoom range, non-empty tile data, and a layer list
// consistent with exp when the metadata carries one.
func Validate(ctx context.Context, path string, exp Expect) (*Info, error) {
	st, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if st.Size() == 0 {
		return nil, fmt.Errorf("%w: %s is empty", ErrInvalid, path)
	}

	a, err := Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	defer a.Close()

	if err := a.integrityCheck(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	md, err := a.Metadata(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: read metadata: %v", ErrInvalid, err)
	}
	format, ok := md["format"]
	if !ok {
		return nil, fmt.Errorf("%w: metadata has no format", ErrInvalid)
	}

	info := &Info{Path: path, Layout: a.Layout(), Format: format, Size: st.Size(), Metadata: md}
	if format != "pbf" {
		info.Warnings = append(info.Warnings, fmt.Sprintf("unexpected tile format %q", format))
	}

	stats, err := a.Stats(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: read tiles: %v", ErrInvalid, err)
	}
	if stats.Tiles == 0 {
		return nil, fmt.Errorf("%w: no tiles", ErrInvalid)
	}
	if stats.MinZoom < 0 || stats.MaxZoom < 0 {
		return nil, fmt.Errorf("%w: no zoom range", ErrInvalid)
	}
	info.Stats = stats
	if stats.MinZoom < exp.MinZoom {
		info.Warnings = append(info.Warnings, fmt.Sprintf("tiles at zoom %d below requested minimum %d", stats.MinZoom, exp.MinZoom))
	}
	if exp.MaxZoom > 0 && stats.MaxZoom > exp.MaxZoom {
		info.Warnings = append(info.Warnings, fmt.Sprintf("tiles at zoom %d above requested maximum %d", stats.MaxZoom, exp.MaxZoom))
	}

	sample, err := a.sampleTile(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: read sample tile: %v", ErrInvalid, err)
	}
	if len(sample) == 0 {
		return nil, fmt.Errorf("%w: empty tile data", ErrInvalid)
	}

	layers, err := VectorLayers(md)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	for _, l := range layers {
		info.Layers = append(info.Layers, l.ID)
	}
	slices.Sort(info.Layers)
	if len(layers) > 0 {
		for _, want := range exp.Layers {
			if !slices.Contains(info.Layers, want) {
				return nil, fmt.Errorf("%w: layer %q missing", ErrInvalid, want)
			}
		}
		for _, absent := range exp.Absent {
			if slices.Contains(info.Layers, absent) {
				return nil, fmt.Errorf("%w: unexpected layer %q", ErrInvalid, absent)
			}
		}
	}
	return info, nil
}
