package observability

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestPrometheusCounters(t *testing.T) {
	ctx := context.Background()
	p := NewPrometheus(prometheus.NewRegistry())

	p.OnCacheHit(ctx, "extract")
	p.OnCacheHit(ctx, "extract")
	p.OnCacheMiss(ctx, "tiles")
	p.OnCacheSet(ctx, "tiles", 2048)
	p.OnEntitiesSkipped(ctx, "unclosed_ring", 1)
	p.OnAttempt(ctx, 1, time.Second, errors.New("oom"))
	p.OnAttempt(ctx, 2, time.Second, nil)
	p.OnDegrade(ctx, 1)
	p.OnComplete(ctx, 42, time.Second, nil)
	p.OnResponse(ctx, "GET", "/healthz", 200, time.Millisecond)

	tests := []struct {
		name string
		c    prometheus.Collector
		want float64
	}{
		{"hits", p.cacheHits.WithLabelValues("extract"), 2},
		{"misses", p.cacheMisses.WithLabelValues("tiles"), 1},
		{"published bytes", p.cacheSetBytes.WithLabelValues("tiles"), 2048},
		{"skipped", p.entitiesSkipped.WithLabelValues("unclosed_ring"), 1},
		{"failed attempts", p.tileAttempts.WithLabelValues("error"), 1},
		{"ok attempts", p.tileAttempts.WithLabelValues("ok"), 1},
		{"degradations", p.tileDegradations, 1},
		{"tiles", p.tilesGenerated, 42},
		{"requests", p.httpRequests.WithLabelValues("GET", "/healthz", "200"), 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := testutil.ToFloat64(tt.c); got != tt.want {
				t.Errorf("value = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestPrometheusRegister(t *testing.T) {
	defer Reset()
	p := NewPrometheus(prometheus.NewRegistry())
	p.Register()

	if Cache() != CacheHooks(p) || Tiles() != TileHooks(p) {
		t.Error("Register() should install the collector as global hooks")
	}
}

func TestWriteTextfile(t *testing.T) {
	reg := prometheus.NewRegistry()
	p := NewPrometheus(reg)
	p.OnCacheMiss(context.Background(), "extract")

	path := filepath.Join(t.TempDir(), "metrics.prom")
	if err := WriteTextfile(reg, path); err != nil {
		t.Fatalf("WriteTextfile() error: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `tilecraft_cache_misses_total{kind="extract"} 1`) {
		t.Errorf("textfile missing cache miss counter:\n%s", data)
	}
}
