// Package tileserver serves a tile archive over HTTP.
//
// Routes:
//
//	GET /healthz                  liveness
//	GET /tiles.json               TileJSON 3.0 description of the archive
//	GET /tiles/{z}/{x}/{y}.pbf    one vector tile (XYZ addressing)
//	GET /metrics                  Prometheus metrics, when a Gatherer is set
//
// The server is read-only and never modifies the archive.
package tileserver

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/matzehuels/tilecraft/pkg/buildinfo"
	"github.com/matzehuels/tilecraft/pkg/mbtiles"
	"github.com/matzehuels/tilecraft/pkg/observability"
)

// TileJSONVersion is the TileJSON spec version served.
const TileJSONVersion = "3.0.0"

// Options configures a Server.
type Options struct {
	Logger *log.Logger

	// BaseURL prefixes tile URLs in TileJSON. Empty derives it from the
	// request.
	BaseURL string

	// Gatherer, if set, is exposed on /metrics.
	Gatherer prometheus.Gatherer
}

// Server serves one archive.
type Server struct {
	archive *mbtiles.Archive
	opts    Options
	meta    map[string]string
	layers  []mbtiles.VectorLayer
	stats   *mbtiles.Stats
}

// New reads the archive's metadata and statistics once.
func New(ctx context.Context, a *mbtiles.Archive, opts Options) (*Server, error) {
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	md, err := a.Metadata(ctx)
	if err != nil {
		return nil, err
	}
	layers, err := mbtiles.VectorLayers(md)
	if err != nil {
		return nil, err
	}
	stats, err := a.Stats(ctx)
	if err != nil {
		return nil, err
	}
	return &Server{archive: a, opts: opts, meta: md, layers: layers, stats: stats}, nil
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.observe)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte("ok\n"))
	})
	r.Get("/tiles.json", s.tileJSON)
	r.Get("/tiles/{z}/{x}/{y}.pbf", s.tile)
	if s.opts.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.opts.Gatherer, promhttp.HandlerOpts{}))
	}
	return r
}

// observe reports requests to the HTTP hooks under their route pattern.
func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		w.Header().Set("Server", buildinfo.Agent())
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		observability.HTTP().OnRequest(r.Context(), r.Method, route)
		observability.HTTP().OnResponse(r.Context(), r.Method, route, status, time.Since(start))
		s.opts.Logger.Debug("request", "method", r.Method, "path", r.URL.Path, "status", status, "duration", time.Since(start))
	})
}

// TileJSON describes the archive.
type TileJSON struct {
	TileJSON     string                `json:"tilejson"`
	Name         string                `json:"name,omitempty"`
	Description  string                `json:"description,omitempty"`
	Version      string                `json:"version,omitempty"`
	Attribution  string                `json:"attribution,omitempty"`
	Scheme       string                `json:"scheme"`
	Tiles        []string              `json:"tiles"`
	MinZoom      int                   `json:"minzoom"`
	MaxZoom      int                   `json:"maxzoom"`
	Bounds       [4]float64            `json:"bounds"`
	Center       [3]float64            `json:"center"`
	VectorLayers []mbtiles.VectorLayer `json:"vector_layers"`
}

func (s *Server) describe(base string) TileJSON {
	tj := TileJSON{
		TileJSON:     TileJSONVersion,
		Name:         s.meta["name"],
		Description:  s.meta["description"],
		Version:      s.meta["version"],
		Attribution:  s.meta["attribution"],
		Scheme:       "xyz",
		Tiles:        []string{base + "/tiles/{z}/{x}/{y}.pbf"},
		MinZoom:      max(s.stats.MinZoom, 0),
		MaxZoom:      max(s.stats.MaxZoom, 0),
		VectorLayers: s.layers,
	}
	if tj.VectorLayers == nil {
		tj.VectorLayers = []mbtiles.VectorLayer{}
	}

	bound := worldBound()
	if v, ok := parseFloats(s.meta["bounds"], 4); ok {
		bound = orb.Bound{Min: orb.Point{v[0], v[1]}, Max: orb.Point{v[2], v[3]}}
	}
	tj.Bounds = [4]float64{bound.Min.X(), bound.Min.Y(), bound.Max.X(), bound.Max.Y()}

	c := bound.Center()
	tj.Center = [3]float64{c.X(), c.Y(), float64(tj.MinZoom)}
	if v, ok := parseFloats(s.meta["center"], 3); ok {
		tj.Center = [3]float64{v[0], v[1], v[2]}
	}
	return tj
}

// worldBound is the extent of web mercator tile 0/0/0.
func worldBound() orb.Bound {
	return maptile.New(0, 0, 0).Bound()
}

func parseFloats(s string, n int) ([]float64, bool) {
	parts := strings.Split(s, ",")
	if len(parts) != n {
		return nil, false
	}
	out := make([]float64, n)
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, false
		}
		out[i] = v
	}
	return out, true
}

func (s *Server) tileJSON(w http.ResponseWriter, r *http.Request) {
	base := strings.TrimSuffix(s.opts.BaseURL, "/")
	if base == "" {
		scheme := "http"
		if r.TLS != nil {
			scheme = "https"
		}
		base = scheme + "://" + r.Host
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(s.describe(base))
}

func (s *Server) tile(w http.ResponseWriter, r *http.Request) {
	z, errZ := strconv.Atoi(chi.URLParam(r, "z"))
	x, errX := strconv.Atoi(chi.URLParam(r, "x"))
	y, errY := strconv.Atoi(chi.URLParam(r, "y"))
	if errZ != nil || errX != nil || errY != nil || z < 0 || z > 30 || x < 0 || y < 0 {
		http.Error(w, "invalid tile coordinates", http.StatusBadRequest)
		return
	}
	if !maptile.New(uint32(x), uint32(y), maptile.Zoom(z)).Valid() {
		http.Error(w, "tile outside zoom level", http.StatusBadRequest)
		return
	}

	data, ok, err := s.archive.Tile(r.Context(), z, x, y)
	if err != nil {
		s.opts.Logger.Error("read tile", "z", z, "x", x, "y", y, "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	w.Header().Set("Content-Type", "application/x-protobuf")
	if isGzip(data) {
		w.Header().Set("Content-Encoding", "gzip")
	}
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	_, _ = w.Write(data)
}

func isGzip(b []byte) bool {
	return len(b) >= 2 && b[0] == 0x1f && b[1] == 0x8b
}
