// Package staging manages the per-job directories under the worker's
// staging area: listing them, removing ones that have gone stale, and
// removing specific jobs on request.
package staging
