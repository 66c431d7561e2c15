package preflight

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"golang.org/x/sys/unix"

	"cycaxworker/internal/config"
	"cycaxworker/internal/deps"
	"cycaxworker/internal/services"
	"cycaxworker/internal/services/jobserver"
)

// JobLister is the job server call used to probe reachability.
type JobLister interface {
	BaseURL() string
	ListJobs(ctx context.Context, filter jobserver.Filter) ([]jobserver.Job, error)
}

// JobServerCheck names the reachability check. The worker loop rides out an
// unreachable server, so callers may treat its failure as a warning.
const JobServerCheck = "Job server"

// CheckJobServer verifies the job server answers a job listing.
func CheckJobServer(ctx context.Context, client JobLister) Result {
	const name = JobServerCheck

	checkCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	jobs, err := client.ListJobs(checkCtx, jobserver.Filter{StateNotIn: "completed"})
	if err != nil {
		switch {
		case errors.Is(err, services.ErrTransport):
			return Result{Name: name, Detail: fmt.Sprintf("%s unreachable (%v)", client.BaseURL(), err)}
		default:
			return Result{Name: name, Detail: fmt.Sprintf("%s answered with an error (%v)", client.BaseURL(), err)}
		}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (%d open jobs)", client.BaseURL(), len(jobs))}
}

// CheckDirectoryAccess verifies that the directory exists and is readable/writable.
func CheckDirectoryAccess(name, path string) Result {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
}

// CheckSystemDeps evaluates the external programs the configured scene
// engine needs. The manifest engine needs none.
func CheckSystemDeps(cfg *config.Config) []deps.Status {
	var requirements []deps.Requirement
	if cfg.Scene.Engine == config.SceneEngineBlender {
		requirements = append(requirements, deps.Requirement{
			Name:        "Blender",
			Command:     cfg.Scene.BlenderBinary,
			Description: "Required to compose and save assembly scenes",
		})
	}
	return deps.CheckBinaries(requirements)
}
