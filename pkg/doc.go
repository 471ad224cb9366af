// Package pkg provides the libraries behind Tilecraft.
//
// # Overview
//
// Tilecraft turns an OpenStreetMap extract into vector tiles for one region:
// it pulls feature categories (rivers, forests, roads, ...) out of the source
// file as GeoJSON collections and compiles them into a single MBTiles archive
// with tippecanoe. Both stages are cached by content, so repeating a run is
// cheap.
//
// # Architecture
//
// The data flow through Tilecraft:
//
//	OSM file (.osm / .osm.pbf)
//	         ↓
//	    [source] package (validate, fingerprint, stream entities)
//	         ↓
//	    [feature] package (match tags, build geometries)
//	         ↓
//	    [extract] package (one GeoJSON collection per category)
//	         ↓
//	    [tiles] package (tippecanoe with retry and degradation)
//	         ↓
//	    MBTiles archive ([mbtiles] validates, [tileserver] serves)
//
// [pipeline] runs the stages in order; [cache] keeps their artifacts.
//
// # Quick Start
//
//	store, _ := cache.NewStore(dir)
//	runner := pipeline.NewRunner(store, nil, nil, logger)
//	result, err := runner.Execute(ctx, pipeline.Options{
//	    Region:   region.Region{West: 7.7, South: 46.3, East: 8.1, North: 46.6},
//	    Features: []string{"rivers", "forest"},
//	    Source:   "alps.osm.pbf",
//	    Output:   "out",
//	})
//
// # Main Packages
//
// ## Domain
//
// [region] - Bounding boxes: validation, parsing, center, tile estimates.
//
// [feature] - The category catalogue, tag matching, geometry building and the
// streaming handler that turns entities into features.
//
// [source] - Source file sniffing and validation, streaming scans, content
// fingerprints and the [source.Provider] for acquiring files.
//
// [extract] - Cached extraction of all categories in a single pass.
//
// [tiles] - Quality profiles, the tippecanoe command line and the state
// machine that retries and degrades failed invocations.
//
// [mbtiles] - Reading and validating archives in both table layouts.
//
// ## Infrastructure
//
// [cache] - Content-addressed artifact store plus byte caches (file, Redis)
// used to memoise fingerprints.
//
// [retry] - Backoff policies.
//
// [observability] - Hooks with no-op defaults and a Prometheus backend.
//
// [errors] - Error codes and validation helpers.
//
// [tileserver] - Read-only HTTP access to an archive.
//
// # Testing
//
//	go test ./...                        # All tests
//	go test ./pkg/tiles/...              # Specific package
//
// Tests never call tippecanoe; a fake [tiles.Runner] writes real archives.
package pkg
