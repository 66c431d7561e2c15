package main

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"cycaxworker/internal/assembly"
	"cycaxworker/internal/history"
	"cycaxworker/internal/jobspec"
	"cycaxworker/internal/services"
	"cycaxworker/internal/services/jobserver"
	"cycaxworker/internal/worker"
)

type buildView struct {
	JobID         string `json:"job_id"`
	Name          string `json:"name"`
	CorrelationID string `json:"correlation_id"`
	Engine        string `json:"engine"`
	State         string `json:"state"`
	FailedStage   string `json:"failed_stage,omitempty"`
	Parts         int    `json:"parts"`
	Downloaded    int    `json:"downloaded"`
	Uploaded      int    `json:"uploaded"`
	Completed     bool   `json:"completed"`
	ScenePath     string `json:"scene_path,omitempty"`
	ManifestPath  string `json:"manifest_path,omitempty"`
	DurationMS    int64  `json:"duration_ms"`
	ErrorKind     string `json:"error_kind,omitempty"`
	Error         string `json:"error,omitempty"`
	Hint          string `json:"hint,omitempty"`
}

func newBuildCommand(ctx *commandContext) *cobra.Command {
	var specPath string
	var engine string
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "build [job-id]",
		Short: "Build one assembly",
		Long: `Build a single assembly job.

With a job id the spec and part meshes are fetched from the job server and
the scene is uploaded when it is saved. With --spec the build runs offline:
part meshes must already be staged as <staging_dir>/<jobid>/<part_no>.stl and
nothing is uploaded. The job id defaults to the assembly name offline.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			logger, err := ctx.ensureLogger()
			if err != nil {
				return err
			}
			if engine = strings.TrimSpace(engine); engine != "" {
				override := *cfg
				override.Scene.Engine = engine
				cfg = &override
			}

			var jobID string
			if len(args) == 1 {
				jobID = strings.TrimSpace(args[0])
			}
			specPath = strings.TrimSpace(specPath)
			if jobID == "" && specPath == "" {
				return errors.New("build needs a job id or --spec")
			}

			lock, err := worker.AcquireLock(cfg.LockPath())
			if err != nil {
				return err
			}
			defer lock.Release()

			return ctx.withHistory(func(store *history.Store) error {
				opts := []assembly.Option{assembly.WithLedger(store)}

				var spec jobspec.Spec
				if specPath != "" {
					if spec, err = jobspec.LoadFile(specPath); err != nil {
						return err
					}
					if jobID == "" {
						jobID = spec.Name
					}
				} else {
					client := jobserver.NewFromConfig(cfg, logger)
					if spec, err = client.GetJobSpec(cmd.Context(), jobID); err != nil {
						return err
					}
					opts = append(opts, assembly.WithClient(client))
				}

				builder, err := assembly.NewFromConfig(cfg, logger, opts...)
				if err != nil {
					return err
				}
				result, runErr := builder.Run(cmd.Context(), jobID, spec)
				view := newBuildView(result)
				if jsonOut {
					if err := writeJSON(cmd, view); err != nil {
						return err
					}
				} else {
					printBuild(cmd.OutOrStdout(), view, shouldColorize(cmd.OutOrStdout()))
				}
				return runErr
			})
		},
	}

	cmd.Flags().StringVar(&specPath, "spec", "", "Build from a local YAML or JSON spec without the job server")
	cmd.Flags().StringVar(&engine, "engine", "", "Override scene.engine (blender or manifest)")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Print the build result as JSON")
	return cmd
}

func newBuildView(r assembly.Result) buildView {
	view := buildView{
		JobID:         r.JobID,
		Name:          r.Name,
		CorrelationID: r.CorrelationID,
		Engine:        r.Engine,
		State:         string(r.State),
		FailedStage:   string(r.FailedStage),
		Parts:         r.Parts,
		Downloaded:    r.Downloaded,
		Uploaded:      r.Uploaded,
		Completed:     r.Completed,
		ScenePath:     r.ScenePath,
		ManifestPath:  r.ManifestPath,
		DurationMS:    r.FinishedAt.Sub(r.StartedAt).Milliseconds(),
	}
	if r.Err != nil {
		details := services.Details(r.Err)
		view.ErrorKind = details.Kind
		view.Error = details.Message
		view.Hint = details.Hint
	}
	return view
}

func printBuild(out io.Writer, view buildView, colorize bool) {
	for _, line := range renderSectionHeader("Build "+view.JobID, colorize) {
		fmt.Fprintln(out, line)
	}
	stateMessage := view.State
	if view.FailedStage != "" {
		stateMessage = fmt.Sprintf("%s during %s", view.State, view.FailedStage)
	}
	fmt.Fprintln(out, renderStatusLine("State", buildStateKind(view.State), stateMessage, colorize))
	fmt.Fprintln(out, renderStatusLine("Assembly", statusInfo, view.Name, colorize))
	fmt.Fprintln(out, renderStatusLine("Engine", statusInfo, view.Engine, colorize))
	fmt.Fprintln(out, renderStatusLine("Parts", statusInfo, fmt.Sprintf("%d placed, %d downloaded", view.Parts, view.Downloaded), colorize))
	if view.ScenePath != "" {
		fmt.Fprintln(out, renderStatusLine("Scene", statusInfo, view.ScenePath, colorize))
	}
	if view.Uploaded > 0 || view.Completed {
		kind := statusWarn
		if view.Completed {
			kind = statusOK
		}
		fmt.Fprintln(out, renderStatusLine("Upload", kind, fmt.Sprintf("%d files, task completed: %s", view.Uploaded, yesNo(view.Completed)), colorize))
	}
	fmt.Fprintln(out, renderStatusLine("Duration", statusInfo, (time.Duration(view.DurationMS) * time.Millisecond).String(), colorize))
	if view.Error != "" {
		fmt.Fprintln(out, renderStatusLine("Error", statusError, fmt.Sprintf("%s (%s)", view.Error, view.ErrorKind), colorize))
		if view.Hint != "" {
			fmt.Fprintln(out, renderStatusLine("Hint", statusWarn, view.Hint, colorize))
		}
	}
}
