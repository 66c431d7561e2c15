// Package jobserver is the client for the CyCAx job server.
//
// It lists jobs, fetches job specs, moves artifacts between the server and
// the local staging area, and reports task state. Downloads honour an
// overwrite policy and never hit the network for a file that is already
// staged unless asked to. Uploads retry each file under a bounded policy and
// abort the whole batch as soon as one file cannot be sent, so a task is
// never reported complete on a partial upload.
//
// All errors carry a services marker (ErrTransport, ErrNotFound, ErrRejected,
// ErrFileSystem, ErrValidation) so callers can decide whether to retry on the
// next poll.
package jobserver
