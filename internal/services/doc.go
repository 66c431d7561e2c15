// Package services defines shared utilities consumed by the assembly builder
// and its external integrations.
//
// Key responsibilities:
//   - Context helpers that stamp job IDs, build stages, and correlation
//     identifiers for logging.
//   - Structured error markers plus the Wrap helper so transport, lookup,
//     filesystem, and scene-engine failures can be classified with errors.Is.
//
// Use these helpers when wiring new integrations so error handling and
// observability stay uniform across the worker.
package services
