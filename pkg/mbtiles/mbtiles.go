// Package mbtiles reads and validates MBTiles archives.
//
// Two table layouts are accepted. The flat layout keeps every tile in a
// single "tiles" table. The deduplicated layout written by newer tile
// compilers stores tile contents once in "images" and addresses them from
// "map" (usually with a "tiles" view on top). Readers detect the layout at
// open time and never assume one.
package mbtiles

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"slices"

	_ "modernc.org/sqlite"
)

// Layout identifies the internal table layout of an archive.
type Layout string

const (
	LayoutFlat  Layout = "tiles"
	LayoutDedup Layout = "map_images"
)

// Archive is an open MBTiles file.
type Archive struct {
	db     *sql.DB
	path   string
	layout Layout
}

// Open opens an existing archive read-only and detects its layout.
func Open(path string) (*Archive, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s is a directory", path)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA query_only = ON"); err != nil {
		db.Close()
		return nil, err
	}

	a := &Archive{db: db, path: path}
	tables, err := a.tables()
	if err != nil {
		db.Close()
		return nil, err
	}
	layout, ok := detectLayout(tables)
	if !ok {
		db.Close()
		return nil, fmt.Errorf("%w: found tables %v", ErrUnknownLayout, sortedKeys(tables))
	}
	a.layout = layout
	return a, nil
}

// Close closes the underlying database.
func (a *Archive) Close() error {
	return a.db.Close()
}

// Path returns the file the archive was opened from.
func (a *Archive) Path() string { return a.path }

// Layout returns the detected table layout.
func (a *Archive) Layout() Layout { return a.layout }

func (a *Archive) tables() (map[string]bool, error) {
	rows, err := a.db.Query("SELECT name FROM sqlite_master WHERE type = 'table'")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	tables := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		tables[name] = true
	}
	return tables, rows.Err()
}

func detectLayout(tables map[string]bool) (Layout, bool) {
	switch {
	case tables["map"] && tables["images"]:
		return LayoutDedup, true
	case tables["tiles"]:
		return LayoutFlat, true
	}
	return "", false
}

// Metadata returns the name/value pairs of the metadata table.
func (a *Archive) Metadata(ctx context.Context) (map[string]string, error) {
	rows, err := a.db.QueryContext(ctx, "SELECT name, value FROM metadata")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	md := make(map[string]string)
	for rows.Next() {
		var name string
		var value sql.NullString
		if err := rows.Scan(&name, &value); err != nil {
			return nil, err
		}
		md[name] = value.String
	}
	return md, rows.Err()
}

// VectorLayer is one entry of the "vector_layers" list in the metadata json.
type VectorLayer struct {
	ID      string            `json:"id"`
	MinZoom int               `json:"minzoom"`
	MaxZoom int               `json:"maxzoom"`
	Fields  map[string]string `json:"fields,omitempty"`
}

// VectorLayers decodes the layer list from the metadata "json" value.
// An archive without one yields no layers and no error.
func VectorLayers(md map[string]string) ([]VectorLayer, error) {
	raw, ok := md["json"]
	if !ok || raw == "" {
		return nil, nil
	}
	var doc struct {
		VectorLayers []VectorLayer `json:"vector_layers"`
	}
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, fmt.Errorf("metadata json: %w", err)
	}
	return doc.VectorLayers, nil
}

// Tile returns the stored data for tile z/x/y in XYZ addressing.
// MBTiles rows are TMS, so the row is flipped on lookup.
func (a *Archive) Tile(ctx context.Context, z, x, y int) ([]byte, bool, error) {
	if z < 0 || z > 30 || x < 0 || y < 0 || x >= 1<<z || y >= 1<<z {
		return nil, false, nil
	}
	row := (1 << z) - 1 - y

	q := "SELECT tile_data FROM tiles WHERE zoom_level = ? AND tile_column = ? AND tile_row = ?"
	if a.layout == LayoutDedup {
		q = `SELECT images.tile_data FROM map JOIN images ON images.tile_id = map.tile_id
			WHERE map.zoom_level = ? AND map.tile_column = ? AND map.tile_row = ?`
	}

	var data []byte
	err := a.db.QueryRowContext(ctx, q, z, x, row).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

// ZoomCount is the number of tiles at one zoom level.
type ZoomCount struct {
	Zoom  int   `json:"zoom"`
	Tiles int64 `json:"tiles"`
}

// Stats summarises the tile pyramid.
type Stats struct {
	Tiles    int64       `json:"tiles"`
	MinZoom  int         `json:"min_zoom"`
	MaxZoom  int         `json:"max_zoom"`
	PerZoom  []ZoomCount `json:"per_zoom"`
	AvgBytes float64     `json:"avg_bytes"`
	MinBytes int64       `json:"min_bytes"`
	MaxBytes int64       `json:"max_bytes"`
}

func (a *Archive) index() string {
	if a.layout == LayoutDedup {
		return "map"
	}
	return "tiles"
}

func (a *Archive) blobs() string {
	if a.layout == LayoutDedup {
		return "images"
	}
	return "tiles"
}

// Stats computes tile counts per zoom level and tile size statistics.
// Zoom bounds are -1 when the archive holds no tiles.
func (a *Archive) Stats(ctx context.Context) (*Stats, error) {
	s := &Stats{MinZoom: -1, MaxZoom: -1}

	var minZ, maxZ sql.NullInt64
	q := fmt.Sprintf("SELECT COUNT(*), MIN(zoom_level), MAX(zoom_level) FROM %s", a.index())
	if err := a.db.QueryRowContext(ctx, q).Scan(&s.Tiles, &minZ, &maxZ); err != nil {
		return nil, err
	}
	if minZ.Valid && maxZ.Valid {
		s.MinZoom, s.MaxZoom = int(minZ.Int64), int(maxZ.Int64)
	}

	q = fmt.Sprintf("SELECT zoom_level, COUNT(*) FROM %s GROUP BY zoom_level ORDER BY zoom_level", a.index())
	rows, err := a.db.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var zc ZoomCount
		if err := rows.Scan(&zc.Zoom, &zc.Tiles); err != nil {
			return nil, err
		}
		s.PerZoom = append(s.PerZoom, zc)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var avg sql.NullFloat64
	var lo, hi sql.NullInt64
	q = fmt.Sprintf("SELECT AVG(LENGTH(tile_data)), MIN(LENGTH(tile_data)), MAX(LENGTH(tile_data)) FROM %s", a.blobs())
	if err := a.db.QueryRowContext(ctx, q).Scan(&avg, &lo, &hi); err != nil {
		return nil, err
	}
	s.AvgBytes, s.MinBytes, s.MaxBytes = avg.Float64, lo.Int64, hi.Int64
	return s, nil
}

// sampleTile returns the data of any one stored tile.
func (a *Archive) sampleTile(ctx context.Context) ([]byte, error) {
	var data []byte
	q := fmt.Sprintf("SELECT tile_data FROM %s LIMIT 1", a.blobs())
	err := a.db.QueryRowContext(ctx, q).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return data, err
}

func (a *Archive) integrityCheck(ctx context.Context) error {
	var result string
	if err := a.db.QueryRowContext(ctx, "PRAGMA integrity_check").Scan(&result); err != nil {
		return err
	}
	if result != "ok" {
		return fmt.Errorf("integrity check: %s", result)
	}
	return nil
}

func sortedKeys(m map[string]bool) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
