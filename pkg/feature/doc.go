// Package feature turns tagged OSM entities into typed features.
//
// It has three layers, leaf first:
//
//   - Tag matching: a [Category] is a named set of [Rule] values. [Matches]
//     tests one category; a [Table] tests all requested categories with one
//     lookup per tag.
//   - Geometry building: a [Builder] makes points from nodes, lines or
//     polygons from ways, and multipolygons from relations, resolving node
//     references through a packed [PointIndex].
//   - Streaming: a [Handler] visits entities in source order (nodes, then
//     ways, then relations), emits a [Feature] per matching category to a
//     [Sink] and records a [Summary] of skipped entities.
//
// Entities that cannot be built are skipped with a [BuildError]; they never
// abort a pass.
package feature
