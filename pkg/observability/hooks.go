// Package observability provides hooks for metrics and tracing.
//
// Library packages emit events through the hooks registered here and never
// import a metrics backend themselves. The CLI registers a backend at startup
// (see NewPrometheus); everything else sees no-op hooks.
//
// # Usage
//
// Register hooks at application startup:
//
//	reg := prometheus.NewRegistry()
//	p := observability.NewPrometheus(reg)
//	observability.SetPipelineHooks(p)
//	observability.SetTileHooks(p)
//	observability.SetCacheHooks(p)
//
// Libraries call hooks to emit events:
//
//	observability.Pipeline().OnExtractStart(ctx, categories)
//	// ... run the pass ...
//	observability.Pipeline().OnExtractComplete(ctx, features, duration, err)
package observability

import (
	"context"
	"sync"
	"time"
)

// =============================================================================
// Pipeline Hooks
// =============================================================================

// PipelineHooks receives events from feature extraction and the run as a whole.
type PipelineHooks interface {
	// Extraction events
	OnExtractStart(ctx context.Context, categories []string)
	OnExtractComplete(ctx context.Context, features int, duration time.Duration, err error)

	// OnEntitiesSkipped records source entities whose geometry could not be
	// built, by failure kind.
	OnEntitiesSkipped(ctx context.Context, kind string, n int)

	// Run events
	OnRunComplete(ctx context.Context, duration time.Duration, err error)
}

// =============================================================================
// Tile Hooks
// =============================================================================

// TileHooks receives events from the tile generation state machine.
type TileHooks interface {
	// OnStateChange records a state machine transition.
	OnStateChange(ctx context.Context, from, to string)

	// OnAttempt records the end of one compiler invocation.
	OnAttempt(ctx context.Context, attempt int, duration time.Duration, err error)

	// OnDegrade records a step down the quality profile after memory exhaustion.
	OnDegrade(ctx context.Context, degradations int)

	// OnComplete records the end of a generation job.
	OnComplete(ctx context.Context, tiles int64, duration time.Duration, err error)
}

// =============================================================================
// Cache Hooks
// =============================================================================

// CacheHooks receives events from cache operations.
type CacheHooks interface {
	// OnCacheHit records a cache hit.
	OnCacheHit(ctx context.Context, kind string)

	// OnCacheMiss records a cache miss.
	OnCacheMiss(ctx context.Context, kind string)

	// OnCacheSet records a published artifact and its size in bytes.
	OnCacheSet(ctx context.Context, kind string, size int64)
}

// =============================================================================
// HTTP Hooks
// =============================================================================

// HTTPHooks receives events from the tile server.
type HTTPHooks interface {
	// OnRequest records an incoming request.
	OnRequest(ctx context.Context, method, route string)

	// OnResponse records a completed response.
	OnResponse(ctx context.Context, method, route string, statusCode int, duration time.Duration)
}

// =============================================================================
// No-op Implementations
// =============================================================================

// NoopPipelineHooks is a no-op implementation of PipelineHooks.
type NoopPipelineHooks struct{}

func (NoopPipelineHooks) OnExtractStart(context.Context, []string)                     {}
func (NoopPipelineHooks) OnExtractComplete(context.Context, int, time.Duration, error) {}
func (NoopPipelineHooks) OnEntitiesSkipped(context.Context, string, int)               {}
func (NoopPipelineHooks) OnRunComplete(context.Context, time.Duration, error)          {}

// NoopTileHooks is a no-op implementation of TileHooks.
type NoopTileHooks struct{}

func (NoopTileHooks) OnStateChange(context.Context, string, string)           {}
func (NoopTileHooks) OnAttempt(context.Context, int, time.Duration, error)    {}
func (NoopTileHooks) OnDegrade(context.Context, int)                          {}
func (NoopTileHooks) OnComplete(context.Context, int64, time.Duration, error) {}

// NoopCacheHooks is a no-op implementation of CacheHooks.
type NoopCacheHooks struct{}

func (NoopCacheHooks) OnCacheHit(context.Context, string)        {}
func (NoopCacheHooks) OnCacheMiss(context.Context, string)       {}
func (NoopCacheHooks) OnCacheSet(context.Context, string, int64) {}

// NoopHTTPHooks is a no-op implementation of HTTPHooks.
type NoopHTTPHooks struct{}

func (NoopHTTPHooks) OnRequest(context.Context, string, string)                      {}
func (NoopHTTPHooks) OnResponse(context.Context, string, string, int, time.Duration) {}

// =============================================================================
// Global Hook Registry
// =============================================================================

var (
	pipelineHooks PipelineHooks = NoopPipelineHooks{}
	tileHooks     TileHooks     = NoopTileHooks{}
	cacheHooks    CacheHooks    = NoopCacheHooks{}
	httpHooks     HTTPHooks     = NoopHTTPHooks{}
	hooksMu       sync.RWMutex
)

// SetPipelineHooks registers custom pipeline hooks.
// This should be called once at application startup before any pipeline operations.
func SetPipelineHooks(h PipelineHooks) {
	hooksMu.Lock()
	defer hooksMu.Unlock()
	if h != nil {
		pipelineHooks = h
	}
}

// SetTileHooks registers custom tile generation hooks.
func SetTileHooks(h TileHooks) {
	hooksMu.Lock()
	defer hooksMu.Unlock()
	if h != nil {
		tileHooks = h
	}
}

// SetCacheHooks registers custom cache hooks.
// This should be called once at application startup before any cache operations.
func SetCacheHooks(h CacheHooks) {
	hooksMu.Lock()
	defer hooksMu.Unlock()
	if h != nil {
		cacheHooks = h
	}
}

// SetHTTPHooks registers custom HTTP hooks.
func SetHTTPHooks(h HTTPHooks) {
	hooksMu.Lock()
	defer hooksMu.Unlock()
	if h != nil {
		httpHooks = h
	}
}

// Pipeline returns the registered pipeline hooks.
func Pipeline() PipelineHooks {
	hooksMu.RLock()
	defer hooksMu.RUnlock()
	return pipelineHooks
}

// Tiles returns the registered tile generation hooks.
func Tiles() TileHooks {
	hooksMu.RLock()
	defer hooksMu.RUnlock()
	return tileHooks
}

// Cache returns the registered cache hooks.
func Cache() CacheHooks {
	hooksMu.RLock()
	defer hooksMu.RUnlock()
	return cacheHooks
}

// HTTP returns the registered HTTP hooks.
func HTTP() HTTPHooks {
	hooksMu.RLock()
	defer hooksMu.RUnlock()
	return httpHooks
}

// Reset restores all hooks to their no-op defaults.
// This is primarily useful for testing.
func Reset() {
	hooksMu.Lock()
	defer hooksMu.Unlock()
	pipelineHooks = NoopPipelineHooks{}
	tileHooks = NoopTileHooks{}
	cacheHooks = NoopCacheHooks{}
	httpHooks = NoopHTTPHooks{}
}
