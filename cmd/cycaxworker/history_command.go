package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"cycaxworker/internal/history"
)

type historyView struct {
	ID            int64     `json:"id"`
	JobID         string    `json:"job_id"`
	CorrelationID string    `json:"correlation_id"`
	Name          string    `json:"name"`
	State         string    `json:"state"`
	FailedStage   string    `json:"failed_stage,omitempty"`
	Engine        string    `json:"engine"`
	Parts         int       `json:"parts"`
	Downloaded    int       `json:"downloaded"`
	Uploaded      int       `json:"uploaded"`
	Completed     bool      `json:"completed"`
	ScenePath     string    `json:"scene_path,omitempty"`
	ErrorKind     string    `json:"error_kind,omitempty"`
	ErrorMessage  string    `json:"error_message,omitempty"`
	StartedAt     time.Time `json:"started_at"`
	FinishedAt    time.Time `json:"finished_at"`
}

func newHistoryCommand(ctx *commandContext) *cobra.Command {
	var jobID string
	var state string
	var limit int
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent builds",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			state = strings.ToLower(strings.TrimSpace(state))
			if state != "" && state != history.StateDone && state != history.StateFailed {
				return fmt.Errorf("--state must be %q or %q", history.StateDone, history.StateFailed)
			}
			return ctx.withHistory(func(store *history.Store) error {
				entries, err := store.List(cmd.Context(), history.ListOptions{
					JobID: strings.TrimSpace(jobID),
					State: state,
					Limit: limit,
				})
				if err != nil {
					return err
				}

				if jsonOut {
					views := make([]historyView, 0, len(entries))
					for _, e := range entries {
						views = append(views, newHistoryView(e))
					}
					return writeJSON(cmd, views)
				}

				out := cmd.OutOrStdout()
				if len(entries) == 0 {
					fmt.Fprintln(out, "No builds recorded")
					return nil
				}
				rows := make([][]string, 0, len(entries))
				for _, e := range entries {
					outcome := e.State
					if e.FailedStage != "" {
						outcome = fmt.Sprintf("%s (%s)", e.State, e.FailedStage)
					}
					rows = append(rows, []string{
						strconv.FormatInt(e.ID, 10),
						e.JobID,
						e.Name,
						outcome,
						strconv.Itoa(e.Parts),
						strconv.Itoa(e.Uploaded),
						yesNo(e.Completed),
						humanize.Time(e.FinishedAt),
						e.Duration().Round(time.Millisecond).String(),
					})
				}
				fmt.Fprintln(out, renderTable([]column{
					numCol("ID"), textCol("Job"), textCol("Assembly"), textCol("State"),
					numCol("Parts"), numCol("Uploaded"), textCol("Completed"), textCol("Finished"), numCol("Took"),
				}, rows))

				stats, err := store.Stats(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "\nTotal: %d builds (%d done, %d failed)\n", stats.Total, stats.Succeeded, stats.Failed)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&jobID, "job", "", "Only show builds of this job")
	cmd.Flags().StringVar(&state, "state", "", "Only show builds in this state (done or failed)")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum number of builds to show (0 for all)")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Print builds as JSON")

	cmd.AddCommand(newHistoryPruneCommand(ctx))
	return cmd
}

func newHistoryPruneCommand(ctx *commandContext) *cobra.Command {
	var days int

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete builds older than --days",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if days <= 0 {
				return errors.New("--days must be positive")
			}
			cutoff := time.Now().Add(-time.Duration(days) * 24 * time.Hour)
			return ctx.withHistory(func(store *history.Store) error {
				removed, err := store.Prune(cmd.Context(), cutoff)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Pruned %d builds finished before %s\n", removed, cutoff.Format(time.DateOnly))
				return nil
			})
		},
	}

	cmd.Flags().IntVar(&days, "days", 90, "Age in days beyond which builds are deleted")
	return cmd
}

func newHistoryView(e *history.Entry) historyView {
	return historyView{
		ID:            e.ID,
		JobID:         e.JobID,
		CorrelationID: e.CorrelationID,
		Name:          e.Name,
		State:         e.State,
		FailedStage:   e.FailedStage,
		Engine:        e.Engine,
		Parts:         e.Parts,
		Downloaded:    e.Downloaded,
		Uploaded:      e.Uploaded,
		Completed:     e.Completed,
		ScenePath:     e.ScenePath,
		ErrorKind:     e.ErrorKind,
		ErrorMessage:  e.ErrorMessage,
		StartedAt:     e.StartedAt,
		FinishedAt:    e.FinishedAt,
	}
}
