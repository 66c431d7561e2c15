// Package preflight provides readiness checks for the job server, the
// scene engine binary, and the filesystem paths the worker depends on.
//
// The worker runs RunAll once at startup and refuses to poll when a check
// fails; the CLI "check" command prints every result.
package preflight
