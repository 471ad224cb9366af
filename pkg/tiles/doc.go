// Package tiles drives the external tile compiler (tippecanoe) to turn
// per-category feature collections into one vector tile archive.
//
// An [Orchestrator] runs a small state machine per [Job]:
//
//	building -> invoking -> validating -> succeeded
//	               |  ^
//	               v  |
//	           degrading            (out of memory)
//
// An out-of-memory failure degrades the [Profile] one step and re-invokes
// without delay; any other failure re-invokes with exponential backoff. Both
// budgets are bounded, and exhausting either ends in the failed state with a
// [GenerationError]. Every attempt is recorded as a [Transition].
//
// Finished archives are checked with the mbtiles package and published to
// the artifact store under a key built from the layer contents, zoom range,
// profile and compiler version. Empty layers are never passed to the
// compiler.
package tiles
