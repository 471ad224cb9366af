package observability

import (
	"context"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "tilecraft"

// Prometheus implements every hook on Prometheus collectors.
type Prometheus struct {
	extractRuns     *prometheus.CounterVec
	extractDuration prometheus.Histogram
	extractFeatures prometheus.Counter
	entitiesSkipped *prometheus.CounterVec
	runs            *prometheus.CounterVec
	runDuration     prometheus.Histogram

	tileTransitions  *prometheus.CounterVec
	tileAttempts     *prometheus.CounterVec
	attemptDuration  prometheus.Histogram
	tileDegradations prometheus.Counter
	tilesGenerated   prometheus.Counter
	tileJobs         *prometheus.CounterVec

	cacheHits     *prometheus.CounterVec
	cacheMisses   *prometheus.CounterVec
	cacheSetBytes *prometheus.CounterVec

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

// NewPrometheus creates the collectors and registers them with reg.
// It panics if any collector is already registered with reg.
func NewPrometheus(reg prometheus.Registerer) *Prometheus {
	p := &Prometheus{
		extractRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "extract", Name: "runs_total",
			Help: "Feature extraction passes by outcome.",
		}, []string{"outcome"}),
		extractDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "extract", Name: "duration_seconds",
			Help:    "Duration of feature extraction passes.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		}),
		extractFeatures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "extract", Name: "features_total",
			Help: "Features written to collections.",
		}),
		entitiesSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "extract", Name: "entities_skipped_total",
			Help: "Source entities skipped because their geometry could not be built.",
		}, []string{"kind"}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "pipeline", Name: "runs_total",
			Help: "Pipeline runs by outcome.",
		}, []string{"outcome"}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "pipeline", Name: "duration_seconds",
			Help:    "Duration of pipeline runs.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 14),
		}),
		tileTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "tiles", Name: "transitions_total",
			Help: "Tile generation state transitions.",
		}, []string{"from", "to"}),
		tileAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "tiles", Name: "attempts_total",
			Help: "Tile compiler invocations by outcome.",
		}, []string{"outcome"}),
		attemptDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "tiles", Name: "attempt_duration_seconds",
			Help:    "Duration of tile compiler invocations.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 14),
		}),
		tileDegradations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "tiles", Name: "degradations_total",
			Help: "Quality profile degradations after memory exhaustion.",
		}),
		tilesGenerated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "tiles", Name: "generated_total",
			Help: "Tiles written to validated archives.",
		}),
		tileJobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "tiles", Name: "jobs_total",
			Help: "Tile generation jobs by outcome.",
		}, []string{"outcome"}),
		cacheHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "cache", Name: "hits_total",
			Help: "Cache hits by artifact kind.",
		}, []string{"kind"}),
		cacheMisses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "cache", Name: "misses_total",
			Help: "Cache misses by artifact kind.",
		}, []string{"kind"}),
		cacheSetBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "cache", Name: "published_bytes_total",
			Help: "Bytes published to the cache by artifact kind.",
		}, []string{"kind"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "http", Name: "requests_total",
			Help: "Tile server requests by route and status.",
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "http", Name: "request_duration_seconds",
			Help:    "Tile server response latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}

	reg.MustRegister(
		p.extractRuns, p.extractDuration, p.extractFeatures, p.entitiesSkipped,
		p.runs, p.runDuration,
		p.tileTransitions, p.tileAttempts, p.attemptDuration, p.tileDegradations,
		p.tilesGenerated, p.tileJobs,
		p.cacheHits, p.cacheMisses, p.cacheSetBytes,
		p.httpRequests, p.httpDuration,
	)
	return p
}

// Register installs p as every global hook.
func (p *Prometheus) Register() {
	SetPipelineHooks(p)
	SetTileHooks(p)
	SetCacheHooks(p)
	SetHTTPHooks(p)
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

func (p *Prometheus) OnExtractStart(context.Context, []string) {}

func (p *Prometheus) OnExtractComplete(_ context.Context, features int, d time.Duration, err error) {
	p.extractRuns.WithLabelValues(outcome(err)).Inc()
	p.extractDuration.Observe(d.Seconds())
	p.extractFeatures.Add(float64(features))
}

func (p *Prometheus) OnEntitiesSkipped(_ context.Context, kind string, n int) {
	p.entitiesSkipped.WithLabelValues(kind).Add(float64(n))
}

func (p *Prometheus) OnRunComplete(_ context.Context, d time.Duration, err error) {
	p.runs.WithLabelValues(outcome(err)).Inc()
	p.runDuration.Observe(d.Seconds())
}

func (p *Prometheus) OnStateChange(_ context.Context, from, to string) {
	p.tileTransitions.WithLabelValues(from, to).Inc()
}

func (p *Prometheus) OnAttempt(_ context.Context, _ int, d time.Duration, err error) {
	p.tileAttempts.WithLabelValues(outcome(err)).Inc()
	p.attemptDuration.Observe(d.Seconds())
}

func (p *Prometheus) OnDegrade(context.Context, int) {
	p.tileDegradations.Inc()
}

func (p *Prometheus) OnComplete(_ context.Context, tiles int64, _ time.Duration, err error) {
	p.tileJobs.WithLabelValues(outcome(err)).Inc()
	p.tilesGenerated.Add(float64(tiles))
}

func (p *Prometheus) OnCacheHit(_ context.Context, kind string) {
	p.cacheHits.WithLabelValues(kind).Inc()
}

func (p *Prometheus) OnCacheMiss(_ context.Context, kind string) {
	p.cacheMisses.WithLabelValues(kind).Inc()
}

func (p *Prometheus) OnCacheSet(_ context.Context, kind string, size int64) {
	p.cacheSetBytes.WithLabelValues(kind).Add(float64(size))
}

func (p *Prometheus) OnRequest(context.Context, string, string) {}

func (p *Prometheus) OnResponse(_ context.Context, method, route string, status int, d time.Duration) {
	p.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	p.httpDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

// WriteTextfile writes every metric gathered from g to path in the text
// exposition format.
func WriteTextfile(g prometheus.Gatherer, path string) error {
	return prometheus.WriteToTextfile(path, g)
}

var (
	_ PipelineHooks = (*Prometheus)(nil)
	_ TileHooks     = (*Prometheus)(nil)
	_ CacheHooks    = (*Prometheus)(nil)
	_ HTTPHooks     = (*Prometheus)(nil)
)
