// Package mbtilestest writes small MBTiles archives for tests.
package mbtilestest

import (
	"database/sql"
	"encoding/json"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/matzehuels/tilecraft/pkg/mbtiles"
)

// Tile is one tile in XYZ addressing.
type Tile struct {
	Z, X, Y int
	Data    []byte
}

// Spec describes an archive to write.
type Spec struct {
	Layout mbtiles.Layout

	// Metadata is merged over format=pbf and name=test. An empty value
	// removes the key.
	Metadata map[string]string

	// Layers, when set, is written as the metadata json vector_layers list.
	Layers []string
	Tiles  []Tile
}

// Pyramid returns one tile per zoom level from minZoom to maxZoom, all at
// the origin column.
func Pyramid(minZoom, maxZoom int) []Tile {
	var tiles []Tile
	for z := minZoom; z <= maxZoom; z++ {
		tiles = append(tiles, Tile{Z: z, X: 0, Y: 0, Data: []byte(fmt.Sprintf("tile-%d", z))})
	}
	return tiles
}

// Write creates an archive at path.
func Write(path string, spec Spec) error {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return err
	}
	defer db.Close()

	stmts := []string{"CREATE TABLE metadata (name TEXT, value TEXT)"}
	switch spec.Layout {
	case mbtiles.LayoutDedup:
		stmts = append(stmts,
			"CREATE TABLE map (zoom_level INTEGER, tile_column INTEGER, tile_row INTEGER, tile_id TEXT)",
			"CREATE TABLE images (tile_data BLOB, tile_id TEXT)",
			`CREATE VIEW tiles AS SELECT map.zoom_level AS zoom_level, map.tile_column AS tile_column,
				map.tile_row AS tile_row, images.tile_data AS tile_data
				FROM map JOIN images ON images.tile_id = map.tile_id`,
		)
	default:
		stmts = append(stmts,
			"CREATE TABLE tiles (zoom_level INTEGER, tile_column INTEGER, tile_row INTEGER, tile_data BLOB)")
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}

	md := map[string]string{"format": "pbf", "name": "test"}
	for k, v := range spec.Metadata {
		if v == "" {
			delete(md, k)
			continue
		}
		md[k] = v
	}
	if spec.Layers != nil {
		type layer struct {
			ID     string            `json:"id"`
			Fields map[string]string `json:"fields"`
		}
		doc := struct {
			VectorLayers []layer `json:"vector_layers"`
		}{}
		for _, id := range spec.Layers {
			doc.VectorLayers = append(doc.VectorLayers, layer{ID: id, Fields: map[string]string{}})
		}
		raw, err := json.Marshal(doc)
		if err != nil {
			return err
		}
		md["json"] = string(raw)
	}
	for k, v := range md {
		if _, err := db.Exec("INSERT INTO metadata (name, value) VALUES (?, ?)", k, v); err != nil {
			return err
		}
	}

	for i, t := range spec.Tiles {
		row := (1 << t.Z) - 1 - t.Y
		if spec.Layout == mbtiles.LayoutDedup {
			id := fmt.Sprintf("t%d", i)
			if _, err := db.Exec("INSERT INTO images (tile_data, tile_id) VALUES (?, ?)", t.Data, id); err != nil {
				return err
			}
			if _, err := db.Exec("INSERT INTO map (zoom_level, tile_column, tile_row, tile_id) VALUES (?, ?, ?, ?)",
				t.Z, t.X, row, id); err != nil {
				return err
			}
			continue
		}
		if _, err := db.Exec("INSERT INTO tiles (zoom_level, tile_column, tile_row, tile_data) VALUES (?, ?, ?, ?)",
			t.Z, t.X, row, t.Data); err != nil {
			return err
		}
	}
	return nil
}
