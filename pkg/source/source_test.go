package source

import (
	"context"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/paulmach/osm"

	"github.com/matzehuels/tilecraft/pkg/cache"
	tcerrors "github.com/matzehuels/tilecraft/pkg/errors"
	"github.com/matzehuels/tilecraft/pkg/region"
)

const fixture = `<?xml version="1.0" encoding="UTF-8"?>
<osm version="0.6" generator="test">
  <bounds minlat="0" minlon="0" maxlat="1" maxlon="1"/>
  <node id="1" lat="0.1" lon="0.1"><tag k="natural" v="peak"/></node>
  <node id="2" lat="0.2" lon="0.2"/>
  <node id="3" lat="0.3" lon="0.1"/>
  <way id="10">
    <nd ref="1"/><nd ref="2"/><nd ref="3"/>
    <tag k="waterway" v="river"/>
  </way>
  <relation id="100">
    <member type="way" ref="10" role="outer"/>
    <tag k="type" v="multipolygon"/>
  </relation>
</osm>
`

func writeFile(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func pbfHeader() []byte {
	// BlobHeader { type: "OSMHeader", datasize: 1 }
	blob := append([]byte{0x0a, 9}, "OSMHeader"...)
	blob = append(blob, 0x18, 1)
	head := make([]byte, 4)
	binary.BigEndian.PutUint32(head, uint32(len(blob)))
	return append(head, blob...)
}

func TestSniff(t *testing.T) {
	tests := []struct {
		name string
		head []byte
		want Format
		ok   bool
	}{
		{"xml declaration", []byte(`<?xml version="1.0"?>`), FormatXML, true},
		{"bare osm root", []byte("\n  <osm version=\"0.6\">"), FormatXML, true},
		{"bom", []byte("\xef\xbb\xbf<?xml"), FormatXML, true},
		{"pbf", pbfHeader(), FormatPBF, true},
		{"json", []byte(`{"type":"FeatureCollection"}`), "", false},
		{"empty", nil, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Sniff(tt.head)
			if got != tt.want || ok != tt.ok {
				t.Errorf("Sniff() = %q, %v; want %q, %v", got, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name string
		path string
		want Format
	}{
		{"missing", filepath.Join(dir, "nope.osm"), ""},
		{"directory", dir, ""},
		{"empty", writeFile(t, "empty.osm", nil), ""},
		{"garbage", writeFile(t, "garbage.osm", []byte("hello world")), ""},
		{"xml", writeFile(t, "ok.osm", []byte(fixture)), FormatXML},
		{"pbf", writeFile(t, "ok.pbf", pbfHeader()), FormatPBF},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Validate(tt.path)
			if tt.want == "" {
				if !tcerrors.Is(err, tcerrors.ErrCodeOSMProcessing) {
					t.Errorf("Validate() error = %v, want OSM_PROCESSING", err)
				}
				return
			}
			if err != nil || got != tt.want {
				t.Errorf("Validate() = %q, %v; want %q", got, err, tt.want)
			}
		})
	}
}

func TestFileScannerXML(t *testing.T) {
	path := writeFile(t, "test.osm", []byte(fixture))

	var kinds []osm.Type
	err := FileScanner{}.Scan(context.Background(), path, VisitorFunc(func(o osm.Object) error {
		kinds = append(kinds, o.ObjectID().Type())
		return nil
	}))
	if err != nil {
		t.Fatalf("Scan() error: %v", err)
	}

	want := []osm.Type{osm.TypeNode, osm.TypeNode, osm.TypeNode, osm.TypeWay, osm.TypeRelation}
	if len(kinds) != len(want) {
		t.Fatalf("visited %v, want %v", kinds, want)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Errorf("entity %d = %s, want %s", i, kinds[i], want[i])
		}
	}
}

func TestFileScannerVisitorError(t *testing.T) {
	path := writeFile(t, "test.osm", []byte(fixture))
	stop := errors.New("stop")

	n := 0
	err := FileScanner{}.Scan(context.Background(), path, VisitorFunc(func(osm.Object) error {
		n++
		return stop
	}))
	if !errors.Is(err, stop) {
		t.Errorf("Scan() error = %v, want visitor error", err)
	}
	if n != 1 {
		t.Errorf("visited %d entities after error, want 1", n)
	}
}

func TestFileScannerEmpty(t *testing.T) {
	path := writeFile(t, "empty.osm", nil)
	err := FileScanner{}.Scan(context.Background(), path, VisitorFunc(func(osm.Object) error {
		t.Error("visitor called for empty file")
		return nil
	}))
	if !tcerrors.Is(err, tcerrors.ErrCodeOSMProcessing) {
		t.Errorf("Scan() error = %v, want OSM_PROCESSING", err)
	}
}

type countingCache struct {
	cache.Cache
	sets int
}

func (c *countingCache) Set(ctx context.Context, key string, data []byte, ttl time.Duration) error {
	c.sets++
	return c.Cache.Set(ctx, key, data, ttl)
}

func TestFingerprint(t *testing.T) {
	ctx := context.Background()
	fc, err := cache.NewFileCache(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	memo := &countingCache{Cache: fc}
	fp := NewFingerprinter(memo, nil)
	path := writeFile(t, "a.osm", []byte(fixture))

	first, err := fp.Fingerprint(ctx, path)
	if err != nil {
		t.Fatalf("Fingerprint() error: %v", err)
	}
	if first != cache.Hash([]byte(fixture)) {
		t.Errorf("Fingerprint() = %s, want content digest", first)
	}

	second, err := fp.Fingerprint(ctx, path)
	if err != nil || second != first {
		t.Errorf("second Fingerprint() = %s, %v", second, err)
	}
	if memo.sets != 1 {
		t.Errorf("memo writes = %d, want 1", memo.sets)
	}

	if err := os.WriteFile(path, []byte(fixture+"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	third, err := fp.Fingerprint(ctx, path)
	if err != nil {
		t.Fatal(err)
	}
	if third == first {
		t.Error("changed file must change the fingerprint")
	}
}

func TestFingerprintMissing(t *testing.T) {
	_, err := NewFingerprinter(nil, nil).Fingerprint(context.Background(), filepath.Join(t.TempDir(), "x"))
	if !tcerrors.Is(err, tcerrors.ErrCodeOSMProcessing) {
		t.Errorf("Fingerprint() error = %v, want OSM_PROCESSING", err)
	}
}

func TestLocalFile(t *testing.T) {
	ctx := context.Background()
	r := region.Region{West: 0, South: 0, East: 1, North: 1}
	path := writeFile(t, "a.osm", []byte(fixture))

	got, err := LocalFile{Path: path}.Acquire(ctx, r)
	if err != nil || got != path {
		t.Errorf("Acquire() = %q, %v", got, err)
	}
	if _, err := (LocalFile{}).Acquire(ctx, r); !tcerrors.Is(err, tcerrors.ErrCodeInvalidPath) {
		t.Errorf("Acquire() without path error = %v", err)
	}
	if _, err := (LocalFile{Path: writeFile(t, "e.osm", nil)}).Acquire(ctx, r); !tcerrors.Is(err, tcerrors.ErrCodeOSMProcessing) {
		t.Errorf("Acquire() empty file error = %v", err)
	}
}
