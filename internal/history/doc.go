// Package history keeps a SQLite ledger of assembly builds.
//
// Every build attempt, offline or server driven, appends one row recording
// the job, the final state, part and upload counts, and the failure if any.
// The ledger is informational: nothing in a build reads it back, so the
// database can be deleted at any time. Schema changes bump schemaVersion in
// schema.go and require clearing the file.
package history
