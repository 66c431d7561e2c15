// Package worker runs the polling loop that finds assembly jobs on the job
// server and builds them one at a time.
//
// A job is eligible when it has a task named after the configured task name
// (default "blender") whose state is anything but COMPLETED. Each cycle lists
// the jobs that are not completed and builds every eligible one in order. The
// loop sleeps the poll interval when a cycle completes nothing and the error
// interval when the server cannot be reached. One worker owns a staging area
// at a time, enforced by a file lock.
package worker
