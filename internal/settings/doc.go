// Package settings resolves an application's runtime settings from three
// layers: hardcoded defaults, environment variables and a storage backend.
//
// A Resolver is generic over the caller's record type. Defaults are flattened
// into a JSON-style document keyed by the record's json tags; reads decode the
// document back into the record. Storage overlays the environment, so a value
// persisted through Set wins over an environment variable on the next Refresh.
//
// Construction performs no I/O. Initialize must be called before relying on
// environment or storage derived values.
package settings
