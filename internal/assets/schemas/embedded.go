// Package schemasassets provides embedded JSON schemas for the on-disk cache
// files.
//
// Schemas are embedded at compile time so cache validation works the same in
// installed binaries and in tests regardless of the working directory.
package schemasassets

import _ "embed"

// ExperimentCacheSchema validates experiment_cache.json.
//
//go:embed experiment-cache.schema.json
var ExperimentCacheSchema []byte

// DetailCacheSchema validates detail_cache.json.
//
//go:embed detail-cache.schema.json
var DetailCacheSchema []byte

// ScalarCacheSchema validates the flat string maps (config_cache.json,
// tag_cache.json).
//
//go:embed scalar-cache.schema.json
var ScalarCacheSchema []byte
