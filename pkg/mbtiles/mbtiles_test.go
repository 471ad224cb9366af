package mbtiles_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matzehuels/tilecraft/pkg/mbtiles"
	"github.com/matzehuels/tilecraft/pkg/mbtiles/mbtilestest"
)

var layouts = []mbtiles.Layout{mbtiles.LayoutFlat, mbtiles.LayoutDedup}

func write(t *testing.T, spec mbtilestest.Spec) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "out.mbtiles")
	require.NoError(t, mbtilestest.Write(path, spec))
	return path
}

func TestOpenDetectsLayout(t *testing.T) {
	for _, layout := range layouts {
		t.Run(string(layout), func(t *testing.T) {
			path := write(t, mbtilestest.Spec{Layout: layout, Tiles: mbtilestest.Pyramid(0, 2)})
			a, err := mbtiles.Open(path)
			require.NoError(t, err)
			defer a.Close()
			assert.Equal(t, layout, a.Layout())
		})
	}
}

func TestOpenMissing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.mbtiles")
	_, err := mbtiles.Open(path)
	require.Error(t, err)
	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr), "Open must not create the file")
}

func TestTileAndStats(t *testing.T) {
	ctx := context.Background()
	for _, layout := range layouts {
		t.Run(string(layout), func(t *testing.T) {
			path := write(t, mbtilestest.Spec{
				Layout: layout,
				Tiles: []mbtilestest.Tile{
					{Z: 0, X: 0, Y: 0, Data: []byte("a")},
					{Z: 1, X: 1, Y: 0, Data: []byte("bbb")},
					{Z: 1, X: 0, Y: 1, Data: []byte("cc")},
				},
			})
			a, err := mbtiles.Open(path)
			require.NoError(t, err)
			defer a.Close()

			data, ok, err := a.Tile(ctx, 1, 1, 0)
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, "bbb", string(data))

			_, ok, err = a.Tile(ctx, 1, 1, 1)
			require.NoError(t, err)
			assert.False(t, ok)

			_, ok, err = a.Tile(ctx, 1, 2, 0)
			require.NoError(t, err)
			assert.False(t, ok, "out-of-range tile")

			s, err := a.Stats(ctx)
			require.NoError(t, err)
			assert.EqualValues(t, 3, s.Tiles)
			assert.Equal(t, 0, s.MinZoom)
			assert.Equal(t, 1, s.MaxZoom)
			assert.Equal(t, []mbtiles.ZoomCount{{Zoom: 0, Tiles: 1}, {Zoom: 1, Tiles: 2}}, s.PerZoom)
			assert.EqualValues(t, 1, s.MinBytes)
			assert.EqualValues(t, 3, s.MaxBytes)
			assert.InDelta(t, 2.0, s.AvgBytes, 1e-9)
		})
	}
}

func TestValidate(t *testing.T) {
	ctx := context.Background()
	for _, layout := range layouts {
		t.Run(string(layout), func(t *testing.T) {
			path := write(t, mbtilestest.Spec{
				Layout: layout,
				Layers: []string{"forest", "rivers"},
				Tiles:  mbtilestest.Pyramid(0, 3),
			})
			info, err := mbtiles.Validate(ctx, path, mbtiles.Expect{
				Layers:  []string{"rivers", "forest"},
				Absent:  []string{"glaciers"},
				MinZoom: 0,
				MaxZoom: 3,
			})
			require.NoError(t, err)
			assert.Equal(t, layout, info.Layout)
			assert.Equal(t, "pbf", info.Format)
			assert.Equal(t, []string{"forest", "rivers"}, info.Layers)
			assert.EqualValues(t, 4, info.Stats.Tiles)
			assert.Empty(t, info.Warnings)
		})
	}
}

func TestValidateFailures(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	garbage := filepath.Join(dir, "garbage.mbtiles")
	require.NoError(t, os.WriteFile(garbage, []byte("this is not sqlite at all, not even close"), 0o644))
	empty := filepath.Join(dir, "empty.mbtiles")
	require.NoError(t, os.WriteFile(empty, nil, 0o644))

	tests := []struct {
		name string
		path string
		exp  mbtiles.Expect
	}{
		{"missing", filepath.Join(dir, "missing.mbtiles"), mbtiles.Expect{}},
		{"empty file", empty, mbtiles.Expect{}},
		{"not sqlite", garbage, mbtiles.Expect{}},
		{"no tiles", write(t, mbtilestest.Spec{Layout: mbtiles.LayoutFlat}), mbtiles.Expect{}},
		{"no format", write(t, mbtilestest.Spec{
			Layout:   mbtiles.LayoutFlat,
			Metadata: map[string]string{"format": ""},
			Tiles:    mbtilestest.Pyramid(0, 0),
		}), mbtiles.Expect{}},
		{"empty tile data", write(t, mbtilestest.Spec{
			Layout: mbtiles.LayoutDedup,
			Tiles:  []mbtilestest.Tile{{Z: 0, Data: []byte{}}},
		}), mbtiles.Expect{}},
		{"missing layer", write(t, mbtilestest.Spec{
			Layout: mbtiles.LayoutFlat,
			Layers: []string{"rivers"},
			Tiles:  mbtilestest.Pyramid(0, 1),
		}), mbtiles.Expect{Layers: []string{"rivers", "forest"}}},
		{"unexpected layer", write(t, mbtilestest.Spec{
			Layout: mbtiles.LayoutDedup,
			Layers: []string{"rivers", "glaciers"},
			Tiles:  mbtilestest.Pyramid(0, 1),
		}), mbtiles.Expect{Absent: []string{"glaciers"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := mbtiles.Validate(ctx, tt.path, tt.exp)
			require.Error(t, err)
			assert.True(t, errors.Is(err, mbtiles.ErrInvalid), "got %v", err)
		})
	}
}

func TestValidateZoomWarnings(t *testing.T) {
	path := write(t, mbtilestest.Spec{Layout: mbtiles.LayoutFlat, Tiles: mbtilestest.Pyramid(0, 5)})
	info, err := mbtiles.Validate(context.Background(), path, mbtiles.Expect{MinZoom: 2, MaxZoom: 4})
	require.NoError(t, err)
	assert.Len(t, info.Warnings, 2)
}

func TestVectorLayers(t *testing.T) {
	layers, err := mbtiles.VectorLayers(map[string]string{
		"json": `{"vector_layers":[{"id":"rivers","minzoom":0,"maxzoom":14}]}`,
	})
	require.NoError(t, err)
	require.Len(t, layers, 1)
	assert.Equal(t, "rivers", layers[0].ID)
	assert.Equal(t, 14, layers[0].MaxZoom)

	layers, err = mbtiles.VectorLayers(map[string]string{})
	assert.NoError(t, err)
	assert.Nil(t, layers)

	_, err = mbtiles.VectorLayers(map[string]string{"json": "{"})
	assert.Error(t, err)
}
