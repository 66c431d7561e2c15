package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"cycaxworker/internal/staging"
	"cycaxworker/internal/worker"
)

func newStagingCommand(ctx *commandContext) *cobra.Command {
	stagingCmd := &cobra.Command{
		Use:   "staging",
		Short: "Manage staging directories",
	}

	stagingCmd.AddCommand(newStagingListCommand(ctx))
	stagingCmd.AddCommand(newStagingCleanCommand(ctx))

	return stagingCmd
}

func newStagingListCommand(ctx *commandContext) *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List job staging directories",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}

			stagingDir := strings.TrimSpace(cfg.Paths.StagingDir)
			dirs, err := staging.ListDirectories(stagingDir)
			if err != nil {
				return fmt.Errorf("list staging directories: %w", err)
			}
			var totalSize int64
			for _, dir := range dirs {
				totalSize += dir.Size
			}

			if jsonOut {
				if dirs == nil {
					dirs = []staging.DirInfo{}
				}
				return writeJSON(cmd, map[string]any{
					"staging_dir":      stagingDir,
					"directories":      dirs,
					"total_size_bytes": totalSize,
				})
			}

			out := cmd.OutOrStdout()
			if len(dirs) == 0 {
				fmt.Fprintln(out, "No staging directories found")
				return nil
			}

			fmt.Fprintf(out, "Staging directory: %s\n\n", stagingDir)
			rows := make([][]string, 0, len(dirs))
			for _, dir := range dirs {
				rows = append(rows, []string{
					dir.Name,
					humanize.Time(dir.ModTime),
					strconv.Itoa(dir.Files),
					humanize.Bytes(uint64(dir.Size)),
				})
			}
			fmt.Fprintln(out, renderTable([]column{
				textCol("Job"), textCol("Modified"), numCol("Files"), numCol("Size"),
			}, rows))
			fmt.Fprintf(out, "\nTotal: %d directories, %s\n", len(dirs), humanize.Bytes(uint64(totalSize)))
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOut, "json", false, "Print directories as JSON")
	return cmd
}

func newStagingCleanCommand(ctx *commandContext) *cobra.Command {
	var stale bool
	var olderThan time.Duration

	cmd := &cobra.Command{
		Use:   "clean [job-id...]",
		Short: "Remove job staging directories",
		Long: `Remove job staging directories.

Name job ids to remove their directories, or pass --stale to remove every
directory not modified within --older-than (default: worker.stale_job_days).
The staging lock is taken first, so cleaning refuses to run alongside a
worker.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			logger, err := ctx.ensureLogger()
			if err != nil {
				return err
			}
			if stale == (len(args) > 0) {
				return errors.New("pass either job ids or --stale")
			}

			lock, err := worker.AcquireLock(cfg.LockPath())
			if err != nil {
				return err
			}
			defer lock.Release()

			var result staging.Result
			if stale {
				age := olderThan
				if age <= 0 {
					age = cfg.StaleJobAge()
				}
				if age <= 0 {
					return errors.New("no age given: pass --older-than or set worker.stale_job_days")
				}
				result = staging.CleanStale(cmd.Context(), cfg.Paths.StagingDir, age, nil, logger)
			} else {
				result = staging.CleanJobs(cmd.Context(), cfg.Paths.StagingDir, args, logger)
			}

			out := cmd.OutOrStdout()
			for _, path := range result.Removed {
				fmt.Fprintf(out, "Removed %s\n", path)
			}
			for _, cerr := range result.Errors {
				fmt.Fprintf(out, "Failed to remove %s: %v\n", cerr.Path, cerr.Error)
			}
			fmt.Fprintf(out, "Removed %d directories\n", len(result.Removed))
			if len(result.Errors) > 0 {
				return fmt.Errorf("%d directories could not be removed", len(result.Errors))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&stale, "stale", false, "Remove directories older than --older-than")
	cmd.Flags().DurationVar(&olderThan, "older-than", 0, "Age threshold for --stale, e.g. 72h")
	return cmd
}
