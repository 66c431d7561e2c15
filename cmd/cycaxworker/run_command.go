package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"cycaxworker/internal/assembly"
	"cycaxworker/internal/config"
	"cycaxworker/internal/history"
	"cycaxworker/internal/logging"
	"cycaxworker/internal/preflight"
	"cycaxworker/internal/services/jobserver"
	"cycaxworker/internal/worker"
)

func newRunCommand(ctx *commandContext) *cobra.Command {
	var once bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Poll the job server and build assemblies",
		Long: `Poll the job server for jobs whose task is not yet complete, build each
assembly and upload the scene.

The worker holds a lock on the staging directory while it runs and exits
cleanly on SIGINT or SIGTERM. Use --once to run a single poll cycle.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWorker(cmd.Context(), cmd, ctx, once)
		},
	}

	cmd.Flags().BoolVar(&once, "once", false, "Run a single poll cycle and exit")
	return cmd
}

func runWorker(cmdCtx context.Context, cmd *cobra.Command, ctx *commandContext, once bool) error {
	if cmdCtx == nil {
		cmdCtx = context.Background()
	}
	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := ctx.ensureConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.NewFromConfig(cfg)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	if err := requirePreflight(signalCtx, cfg, logger); err != nil {
		return err
	}

	store, err := history.Open(cfg)
	if err != nil {
		logger.Error("open build history", logging.Error(err))
		return err
	}
	defer store.Close()

	client := jobserver.NewFromConfig(cfg, logger)
	builder, err := assembly.NewFromConfig(cfg, logger,
		assembly.WithClient(client),
		assembly.WithLedger(store),
	)
	if err != nil {
		return err
	}

	w := worker.New(cfg, client, builder, worker.WithLogger(logger))
	if !once {
		return w.Run(signalCtx)
	}

	lock, err := worker.AcquireLock(cfg.LockPath())
	if err != nil {
		return err
	}
	defer lock.Release()

	result, err := w.RunOnce(signalCtx)
	fmt.Fprintf(cmd.OutOrStdout(), "Jobs: %d, eligible: %d, built: %d, completed: %d, failed: %d\n",
		result.Jobs, result.Eligible, result.Built, result.Completed, result.Failed)
	return err
}

// requirePreflight refuses to start when a local check fails. An unreachable
// job server is only logged; the poll loop waits for it.
func requirePreflight(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	var fatal []string
	for _, result := range preflight.Failed(preflight.RunAll(ctx, cfg, logger)) {
		if result.Name == preflight.JobServerCheck {
			logging.WarnWithContext(logger, "job server not reachable at startup", "preflight_warning",
				logging.String("detail", result.Detail),
				logging.String(logging.FieldErrorHint, "check server.url; the worker keeps retrying"),
				logging.String(logging.FieldImpact, "no jobs are built until the server answers"),
			)
			continue
		}
		logging.ErrorWithContext(logger, "preflight check failed", "preflight_failed",
			logging.String("check", result.Name),
			logging.String("detail", result.Detail),
			logging.String(logging.FieldErrorHint, "run `cycaxworker check` for details"),
		)
		fatal = append(fatal, result.Name)
	}
	if len(fatal) > 0 {
		return fmt.Errorf("preflight failed: %s (run `cycaxworker check` for details)", strings.Join(fatal, ", "))
	}
	return nil
}
