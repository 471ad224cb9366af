package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/log"
	"github.com/google/go-cmp/cmp"

	"github.com/matzehuels/tilecraft/pkg/cache"
	"github.com/matzehuels/tilecraft/pkg/errors"
	"github.com/matzehuels/tilecraft/pkg/feature"
)

func TestRootCommand(t *testing.T) {
	c := New(&bytes.Buffer{}, log.InfoLevel)
	root := c.RootCommand()

	want := []string{"cache", "completion", "extract", "features", "inspect", "run", "serve", "tiles"}
	var got []string
	for _, cmd := range root.Commands() {
		got = append(got, cmd.Name())
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("subcommands mismatch (-want +got):\n%s", diff)
	}
	if root.PersistentFlags().Lookup("config") == nil {
		t.Error("root command should have a --config flag")
	}
}

func TestOpenCache(t *testing.T) {
	ctx := context.Background()

	t.Run("persistent", func(t *testing.T) {
		dir := t.TempDir()
		c := New(&bytes.Buffer{}, log.InfoLevel)
		c.cfg = &Config{Cache: CacheConfig{Dir: dir}}

		store, memo, keyer, cleanup, err := c.openCache(ctx, false)
		if err != nil {
			t.Fatalf("openCache() error: %v", err)
		}
		defer cleanup()

		if store.Root() != filepath.Join(dir, storeDir) {
			t.Errorf("store root = %q, want under %q", store.Root(), dir)
		}
		if _, ok := memo.(*cache.FileCache); !ok {
			t.Errorf("memo = %T, want *cache.FileCache", memo)
		}
		if keyer == nil {
			t.Error("keyer should not be nil")
		}
	})

	t.Run("no cache", func(t *testing.T) {
		dir := t.TempDir()
		c := New(&bytes.Buffer{}, log.InfoLevel)
		c.cfg = &Config{Cache: CacheConfig{Dir: dir}}

		store, memo, _, cleanup, err := c.openCache(ctx, true)
		if err != nil {
			t.Fatalf("openCache() error: %v", err)
		}
		root := store.Root()
		if _, ok := memo.(cache.NullCache); !ok {
			t.Errorf("memo = %T, want cache.NullCache", memo)
		}
		cleanup()

		if _, err := os.Stat(root); !os.IsNotExist(err) {
			t.Errorf("temporary store %s should be removed by cleanup", root)
		}
		if _, err := os.Stat(filepath.Join(dir, storeDir)); !os.IsNotExist(err) {
			t.Error("--no-cache must not create the persistent store")
		}
	})
}

func TestNewRunner(t *testing.T) {
	c := New(&bytes.Buffer{}, log.InfoLevel)
	c.cfg = &Config{
		Cache:      CacheConfig{Dir: t.TempDir()},
		Tippecanoe: TippecanoeConfig{Binary: "/opt/bin/tippecanoe", Timeout: "2m"},
	}

	runner, cleanup, err := c.newRunner(context.Background(), false)
	if err != nil {
		t.Fatalf("newRunner() error: %v", err)
	}
	defer cleanup()

	if runner.Binary != "/opt/bin/tippecanoe" {
		t.Errorf("Binary = %q, want configured binary", runner.Binary)
	}
	if runner.Timeout.Minutes() != 2 {
		t.Errorf("Timeout = %v, want 2m", runner.Timeout)
	}

	c.cfg.Tippecanoe.Timeout = "later"
	if _, _, err := c.newRunner(context.Background(), false); err == nil {
		t.Error("newRunner() with an invalid timeout should fail")
	}
}

// =============================================================================
// Category Picker
// =============================================================================

func key(s string) tea.KeyMsg {
	switch s {
	case "enter":
		return tea.KeyMsg{Type: tea.KeyEnter}
	case "down":
		return tea.KeyMsg{Type: tea.KeyDown}
	case "up":
		return tea.KeyMsg{Type: tea.KeyUp}
	case " ":
		return tea.KeyMsg{Type: tea.KeySpace, Runes: []rune{' '}}
	}
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func press(m CategoryPickerModel, keys ...string) (CategoryPickerModel, tea.Cmd) {
	var cmd tea.Cmd
	for _, k := range keys {
		var next tea.Model
		next, cmd = m.Update(key(k))
		m = next.(CategoryPickerModel)
	}
	return m, cmd
}

func pickerCategories() []feature.Category {
	return []feature.Category{
		{Name: "rivers", Group: feature.GroupWater},
		{Name: "lakes", Group: feature.GroupWater},
		{Name: "forest", Group: feature.GroupNatural},
	}
}

func TestCategoryPickerToggle(t *testing.T) {
	m := NewCategoryPickerModel(pickerCategories(), []string{"forest"})

	m, _ = press(m, " ", "down", "x")
	if diff := cmp.Diff([]string{"rivers", "lakes", "forest"}, m.Selection()); diff != "" {
		t.Errorf("Selection() mismatch (-want +got):\n%s", diff)
	}

	m, _ = press(m, "x")
	if diff := cmp.Diff([]string{"rivers", "forest"}, m.Selection()); diff != "" {
		t.Errorf("Selection() after untoggle mismatch (-want +got):\n%s", diff)
	}
}

func TestCategoryPickerToggleGroup(t *testing.T) {
	m := NewCategoryPickerModel(pickerCategories(), nil)

	m, _ = press(m, "g")
	if diff := cmp.Diff([]string{"rivers", "lakes"}, m.Selection()); diff != "" {
		t.Errorf("Selection() mismatch (-want +got):\n%s", diff)
	}
	m, _ = press(m, "g")
	if got := m.Selection(); len(got) != 0 {
		t.Errorf("Selection() after second toggle = %v, want empty", got)
	}
}

func TestCategoryPickerToggleKeepsEarlierModel(t *testing.T) {
	before := NewCategoryPickerModel(pickerCategories(), nil)
	after, _ := press(before, " ")

	if len(before.Selection()) != 0 {
		t.Error("toggling must not change the previous model")
	}
	if len(after.Selection()) != 1 {
		t.Errorf("Selection() = %v, want one category", after.Selection())
	}
}

func TestCategoryPickerConfirm(t *testing.T) {
	m := NewCategoryPickerModel(pickerCategories(), nil)

	m, cmd := press(m, "enter")
	if m.Done || cmd != nil {
		t.Error("enter with nothing selected should not confirm")
	}

	m, cmd = press(m, "down", "down", " ", "enter")
	if !m.Done || cmd == nil {
		t.Fatal("enter with a selection should confirm and quit")
	}
	if diff := cmp.Diff([]string{"forest"}, m.Selection()); diff != "" {
		t.Errorf("Selection() mismatch (-want +got):\n%s", diff)
	}
}

func TestCategoryPickerQuit(t *testing.T) {
	m := NewCategoryPickerModel(pickerCategories(), []string{"lakes"})
	m, cmd := press(m, "q")
	if m.Done {
		t.Error("quitting must not confirm the selection")
	}
	if cmd == nil {
		t.Error("q should quit")
	}
}

func TestCategoryPickerCursorBounds(t *testing.T) {
	m := NewCategoryPickerModel(pickerCategories(), nil)
	m, _ = press(m, "up", "up")
	if m.Cursor != 0 {
		t.Errorf("Cursor = %d, want 0", m.Cursor)
	}
	m, _ = press(m, "down", "down", "down", "down")
	if m.Cursor != 2 {
		t.Errorf("Cursor = %d, want 2", m.Cursor)
	}
}

func TestCategoryPickerScroll(t *testing.T) {
	m := NewCategoryPickerModel(feature.Builtin(), nil)
	m.Height = 3
	m, _ = press(m, "down", "down", "down", "down")
	if m.Offset != 2 {
		t.Errorf("Offset = %d, want 2", m.Offset)
	}
	if view := m.View(); view == "" {
		t.Error("View() should render")
	}
}

// =============================================================================
// Helpers
// =============================================================================

func TestGroupCategories(t *testing.T) {
	g := groupCategories(pickerCategories())
	if diff := cmp.Diff([]string{feature.GroupWater, feature.GroupNatural}, g.order); diff != "" {
		t.Errorf("group order mismatch (-want +got):\n%s", diff)
	}
	if n := len(g.byName[feature.GroupWater]); n != 2 {
		t.Errorf("water group has %d categories, want 2", n)
	}
}

func TestRuleSummary(t *testing.T) {
	c := feature.NewCategory("water", feature.GroupWater,
		feature.Rule{Key: "natural", Value: "water"},
		feature.Rule{Key: "waterway", Value: "riverbank"},
	)
	if got := ruleSummary(c, 60); got != "natural=water waterway=riverbank" {
		t.Errorf("ruleSummary() = %q", got)
	}
	if got := []rune(ruleSummary(c, 10)); len(got) != 10 || got[9] != '…' {
		t.Errorf("ruleSummary() truncated = %q, want 10 runes ending in an ellipsis", string(got))
	}
}

func TestParseSize(t *testing.T) {
	tests := []struct {
		in      string
		want    int64
		wantErr bool
	}{
		{"1024", 1024, false},
		{"500MB", 500_000_000, false},
		{"2GiB", 2 << 30, false},
		{"1.5 KiB", 1536, false},
		{"10B", 10, false},
		{"lots", 0, true},
		{"-1MB", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseSize(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseSize(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("parseSize(%q) = %d, want %d", tt.in, got, tt.want)
			}
		})
	}
}

func TestFormatBytes(t *testing.T) {
	tests := map[int64]string{
		0:       "0 B",
		1023:    "1023 B",
		1024:    "1.0 KiB",
		1536:    "1.5 KiB",
		5 << 20: "5.0 MiB",
		3 << 30: "3.0 GiB",
	}
	for in, want := range tests {
		if got := formatBytes(in); got != want {
			t.Errorf("formatBytes(%d) = %q, want %q", in, got, want)
		}
	}
}

func TestParseLayer(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rivers.geojson")
	collection := `{"type":"FeatureCollection","features":[
{"type":"Feature","geometry":{"type":"LineString","coordinates":[[7.8,46.4],[7.9,46.5]]},"properties":{"osm_id":1}}
]}`
	if err := os.WriteFile(path, []byte(collection), 0o644); err != nil {
		t.Fatal(err)
	}
	broken := filepath.Join(dir, "broken.geojson")
	if err := os.WriteFile(broken, []byte(`{"type":"Feature"}`), 0o644); err != nil {
		t.Fatal(err)
	}

	l, err := parseLayer("rivers=" + path)
	if err != nil {
		t.Fatalf("parseLayer() error: %v", err)
	}
	if l.Name != "rivers" || l.Path != path || l.Features != 1 {
		t.Errorf("parseLayer() = %+v", l)
	}

	tests := []struct {
		spec string
		code errors.Code
	}{
		{"rivers", errors.ErrCodeInvalidInput},
		{"=" + path, errors.ErrCodeInvalidInput},
		{"rivers=" + filepath.Join(dir, "missing.geojson"), errors.ErrCodeFileNotFound},
		{"broken=" + broken, errors.ErrCodeValidation},
	}
	for _, tt := range tests {
		if _, err := parseLayer(tt.spec); !errors.Is(err, tt.code) {
			t.Errorf("parseLayer(%q) error = %v, want code %s", tt.spec, err, tt.code)
		}
	}
}
