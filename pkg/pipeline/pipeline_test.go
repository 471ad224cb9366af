package pipeline

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matzehuels/tilecraft/pkg/cache"
	"github.com/matzehuels/tilecraft/pkg/errors"
	"github.com/matzehuels/tilecraft/pkg/mbtiles"
	"github.com/matzehuels/tilecraft/pkg/mbtiles/mbtilestest"
	"github.com/matzehuels/tilecraft/pkg/region"
	"github.com/matzehuels/tilecraft/pkg/source"
	"github.com/matzehuels/tilecraft/pkg/tiles"
)

const fixture = `<?xml version="1.0" encoding="UTF-8"?>
<osm version="0.6">
  <node id="1" lat="46.0" lon="7.0"/>
  <node id="2" lat="46.0" lon="7.1"/>
  <node id="3" lat="46.1" lon="7.1"/>
  <node id="4" lat="46.1" lon="7.0"/>
  <way id="10">
    <nd ref="1"/><nd ref="2"/><nd ref="3"/>
    <tag k="waterway" v="river"/>
  </way>
  <way id="11">
    <nd ref="1"/><nd ref="2"/><nd ref="3"/><nd ref="4"/><nd ref="1"/>
    <tag k="natural" v="wood"/>
  </way>
  <way id="12">
    <nd ref="3"/><nd ref="999"/>
    <tag k="waterway" v="stream"/>
  </way>
</osm>
`

var testRegion = region.Region{West: 6.9, South: 45.9, East: 7.2, North: 46.2}

// fakeCompiler writes an archive with one vector layer per -L argument.
type fakeCompiler struct {
	mu    sync.Mutex
	calls int
	fail  bool
}

func (f *fakeCompiler) Run(ctx context.Context, inv tiles.Invocation) (tiles.Outcome, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.fail {
		return tiles.Outcome{ExitCode: 1, Output: "error: unsupported input"}, nil
	}

	var output string
	var layers []string
	for i, a := range inv.Args {
		if v, ok := strings.CutPrefix(a, "--output="); ok {
			output = v
		}
		if a == "-L" {
			name, _, _ := strings.Cut(inv.Args[i+1], ":")
			layers = append(layers, name)
		}
	}
	err := mbtilestest.Write(output, mbtilestest.Spec{
		Layout: mbtiles.LayoutFlat,
		Layers: layers,
		Tiles:  mbtilestest.Pyramid(0, 6),
	})
	return tiles.Outcome{}, err
}

func (f *fakeCompiler) Version(context.Context, string) (string, error) {
	return "tippecanoe v0.0.0-test", nil
}

func (f *fakeCompiler) invocations() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func newRunner(t *testing.T, compiler tiles.Runner) *Runner {
	t.Helper()
	store, err := cache.NewStore(t.TempDir())
	require.NoError(t, err)
	r := NewRunner(store, cache.NewNullCache(), nil, log.New(&bytes.Buffer{}))
	r.Compiler = compiler
	r.WorkDir = t.TempDir()
	return r
}

func testOptions(t *testing.T) Options {
	t.Helper()
	src := filepath.Join(t.TempDir(), "region.osm")
	require.NoError(t, os.WriteFile(src, []byte(fixture), 0o644))
	return Options{
		Region:   testRegion,
		Features: []string{"rivers", "forest", "glaciers"},
		Source:   src,
		MaxZoom:  6,
		Name:     "alps",
		Output:   t.TempDir(),
	}
}

func TestOptionsValidateAndSetDefaults(t *testing.T) {
	o := Options{Region: testRegion, Features: []string{"rivers"}}
	require.NoError(t, o.ValidateAndSetDefaults())

	assert.Equal(t, DefaultMinZoom, o.MinZoom)
	assert.Equal(t, DefaultMaxZoom, o.MaxZoom)
	assert.Equal(t, DefaultQuality, o.Quality)
	assert.Equal(t, DefaultName, o.Name)
	assert.Nil(t, o.Logger, "runner logger is used unless one is given")
	require.Len(t, o.Categories(), 1)
	assert.Equal(t, "rivers", o.Categories()[0].Name)
	balanced, _ := tiles.Preset(tiles.QualityBalanced)
	assert.Equal(t, balanced, o.TileProfile())

	// Idempotent.
	require.NoError(t, o.ValidateAndSetDefaults())
}

func TestOptionsCustomProfile(t *testing.T) {
	custom := tiles.Profile{Buffer: 16, Simplification: 3, DropRate: 5, Detail: 10}
	o := Options{Region: testRegion, Features: []string{"rivers"}, Profile: &custom}
	require.NoError(t, o.ValidateAndSetDefaults())
	assert.Equal(t, custom, o.TileProfile())
}

func TestOptionsInvalid(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Options)
		code   errors.Code
	}{
		{"bad region", func(o *Options) { o.Region.North = o.Region.South }, errors.ErrCodeInvalidRegion},
		{"no features", func(o *Options) { o.Features = nil }, errors.ErrCodeFeatureExtraction},
		{"unknown feature", func(o *Options) { o.Features = []string{"unicorns"} }, errors.ErrCodeInvalidCategory},
		{"bad zoom", func(o *Options) { o.MinZoom, o.MaxZoom = 10, 2 }, errors.ErrCodeInvalidZoom},
		{"bad quality", func(o *Options) { o.Quality = "best" }, errors.ErrCodeInvalidInput},
		{"bad profile", func(o *Options) { o.Profile = &tiles.Profile{} }, errors.ErrCodeInvalidInput},
		{"bad name", func(o *Options) { o.Name = "../escape" }, errors.ErrCodeInvalidPath},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := Options{Region: testRegion, Features: []string{"rivers"}}
			tt.mutate(&o)
			err := o.ValidateAndSetDefaults()
			assert.True(t, errors.Is(err, tt.code), "got %v", err)
		})
	}
}

func TestExecute(t *testing.T) {
	compiler := &fakeCompiler{}
	r := newRunner(t, compiler)
	opts := testOptions(t)

	res, err := r.Execute(context.Background(), opts)
	require.NoError(t, err)

	assert.NotEmpty(t, res.RunID.String())
	assert.Equal(t, testRegion, res.Region)
	assert.Equal(t, map[string]int{"rivers": 1, "forest": 1, "glaciers": 0}, res.Summary.Features)
	assert.Equal(t, []string{"glaciers"}, res.Summary.Empty)
	assert.Equal(t, 1, res.Summary.Skipped["unresolved_reference"])
	assert.Equal(t, 2, res.Summary.TotalFeatures())
	assert.Equal(t, 1, res.Summary.TileAttempts)
	require.NotNil(t, res.Summary.Profile)
	assert.Equal(t, tiles.QualityBalanced, res.Summary.Profile.Name)
	assert.Equal(t, int64(4), res.Stats.Nodes)
	assert.False(t, res.CacheInfo.ExtractHit)
	assert.False(t, res.CacheInfo.TilesHit)

	require.NotNil(t, res.Archive)
	assert.Equal(t, []string{"forest", "rivers"}, res.Archive.Layers)
	assert.Equal(t, []string{"glaciers"}, res.Archive.Excluded)

	assert.Equal(t, filepath.Join(opts.Output, "alps.mbtiles"), res.Outputs.Archive)
	assert.FileExists(t, res.Outputs.Archive)
	require.Len(t, res.Outputs.Features, 3)
	for name, path := range res.Outputs.Features {
		assert.Equal(t, filepath.Join(opts.Output, FeaturesDir, name+".geojson"), path)
		assert.FileExists(t, path)
	}
	info, err := mbtiles.Validate(context.Background(), res.Outputs.Archive, mbtiles.Expect{Layers: []string{"forest", "rivers"}})
	require.NoError(t, err)
	assert.Equal(t, int64(7), info.Stats.Tiles)
	assert.Equal(t, 1, compiler.invocations())
}

func TestExecuteCached(t *testing.T) {
	compiler := &fakeCompiler{}
	r := newRunner(t, compiler)
	opts := testOptions(t)

	_, err := r.Execute(context.Background(), opts)
	require.NoError(t, err)
	res, err := r.Execute(context.Background(), opts)
	require.NoError(t, err)

	assert.True(t, res.CacheInfo.ExtractHit)
	assert.True(t, res.CacheInfo.TilesHit)
	assert.Equal(t, 1, compiler.invocations())

	opts.Refresh = true
	res, err = r.Execute(context.Background(), opts)
	require.NoError(t, err)
	assert.False(t, res.CacheInfo.ExtractHit)
	assert.False(t, res.CacheInfo.TilesHit)
	assert.Equal(t, 2, compiler.invocations())
}

func TestExecutePartialResultOnTileFailure(t *testing.T) {
	compiler := &fakeCompiler{fail: true}
	r := newRunner(t, compiler)
	r.configure = func(o *tiles.Orchestrator) {
		o.Retry.Attempts = 2
		o.SetSleep(func(context.Context, time.Duration) error { return nil })
	}
	opts := testOptions(t)

	res, err := r.Execute(context.Background(), opts)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrCodeTileGeneration))

	require.NotNil(t, res, "collections survive a tile failure")
	assert.Nil(t, res.Archive)
	assert.Len(t, res.Collections, 3)
	assert.Len(t, res.Outputs.Features, 3)
	assert.Empty(t, res.Outputs.Archive)
	assert.Equal(t, 2, res.Summary.TileAttempts)
	assert.Equal(t, 1, res.Summary.Retries)
	assert.NoFileExists(t, filepath.Join(opts.Output, "alps.mbtiles"))
	assert.Equal(t, 2, compiler.invocations(), "the pipeline never re-runs the tile stage")
}

func TestExecuteSourceErrors(t *testing.T) {
	r := newRunner(t, &fakeCompiler{})

	opts := testOptions(t)
	opts.Source = filepath.Join(t.TempDir(), "missing.osm")
	res, err := r.Execute(context.Background(), opts)
	assert.Nil(t, res)
	assert.True(t, errors.Is(err, errors.ErrCodeOSMProcessing), "got %v", err)

	opts = testOptions(t)
	require.NoError(t, os.WriteFile(opts.Source, nil, 0o644))
	_, err = r.Execute(context.Background(), opts)
	assert.True(t, errors.Is(err, errors.ErrCodeOSMProcessing), "got %v", err)
}

func TestExecuteProvider(t *testing.T) {
	compiler := &fakeCompiler{}
	r := newRunner(t, compiler)
	opts := testOptions(t)
	src := opts.Source
	opts.Source = ""

	calls := 0
	r.Provider = source.ProviderFunc(func(ctx context.Context, reg region.Region) (string, error) {
		calls++
		assert.Equal(t, testRegion, reg)
		return src, nil
	})

	res, err := r.Execute(context.Background(), opts)
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, src, res.Source)
}

func TestExecuteWithoutExport(t *testing.T) {
	r := newRunner(t, &fakeCompiler{})
	opts := testOptions(t)
	opts.Output = ""

	res, err := r.Execute(context.Background(), opts)
	require.NoError(t, err)
	assert.Empty(t, res.Outputs.Archive)
	assert.Empty(t, res.Outputs.Features)
	assert.True(t, strings.HasPrefix(res.Archive.Path, r.Store.Root()))
}

func TestExecuteOptionsLogger(t *testing.T) {
	var runnerLog, runLog bytes.Buffer
	r := newRunner(t, &fakeCompiler{})
	r.Logger = log.New(&runnerLog)

	opts := testOptions(t)
	opts.Logger = log.New(&runLog)
	_, err := r.Execute(context.Background(), opts)
	require.NoError(t, err)

	assert.Contains(t, runLog.String(), "extracted features")
	assert.Empty(t, runnerLog.String())
}

func TestExecuteNoStore(t *testing.T) {
	r := NewRunner(nil, nil, nil, nil)
	_, err := r.Execute(context.Background(), testOptions(t))
	assert.True(t, errors.Is(err, errors.ErrCodeInternal))
}

func TestExportArchive(t *testing.T) {
	src := filepath.Join(t.TempDir(), "in.mbtiles")
	require.NoError(t, os.WriteFile(src, []byte("archive"), 0o600))
	dir := filepath.Join(t.TempDir(), "nested", "out")

	dst, err := ExportArchive(dir, "valais", src)
	require.NoError(t, err)
	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "archive", string(data))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temporary files left behind")

	_, err = ExportArchive(dir, "a/b", src)
	assert.True(t, errors.Is(err, errors.ErrCodeInvalidPath))
}

func TestTempStore(t *testing.T) {
	store, cleanup, err := TempStore()
	require.NoError(t, err)
	assert.DirExists(t, store.Root())
	cleanup()
	assert.NoDirExists(t, store.Root())
}
