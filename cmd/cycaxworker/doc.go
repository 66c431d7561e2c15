// Package main hosts the cycaxworker CLI.
//
// The Cobra command tree wires configuration, logging, the job server
// client, the assembly builder and the build history together. `run` is the
// long-lived polling worker; the other commands build a single job, inspect
// placements offline, or maintain the staging directory and history ledger.
package main
