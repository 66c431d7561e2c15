// Package assembly turns a job spec into a saved, uploaded scene.
//
// A Builder runs one build at a time through the states init,
// fetching_parts, placing, saving, uploading and done. Any failure moves the
// build to failed and aborts it; nothing is retried at this level and
// partially staged files are left in place. Each run gets a fresh scene
// engine and a fresh per-part instance counter, and appends one row to the
// history ledger when one is configured.
//
// Without an artifact client the Builder works offline: part meshes must
// already be staged and the finished scene is not uploaded.
package assembly
