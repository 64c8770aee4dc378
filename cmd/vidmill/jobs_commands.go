package main

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/spf13/cobra"

	"vidmill/internal/api"
	"vidmill/internal/queue"
)

func newJobsCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect and manage jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	cmd.AddCommand(newJobsListCommand(ctx))
	cmd.AddCommand(newJobsShowCommand(ctx))
	cmd.AddCommand(newJobsCancelCommand(ctx))
	cmd.AddCommand(newJobsRetryCommand(ctx))
	cmd.AddCommand(newJobsClearCommand(ctx))
	return cmd
}

func newJobsListCommand(ctx *commandContext) *cobra.Command {
	var states []string
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List jobs, optionally filtered by state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			query := url.Values{}
			for _, state := range states {
				if _, ok := queue.ParseState(state); !ok {
					return fmt.Errorf("unknown state %q", state)
				}
				query.Add("state", state)
			}
			path := "/api/jobs"
			if len(query) > 0 {
				path += "?" + query.Encode()
			}

			var list api.JobListResponse
			if err := ctx.getJSON(path, &list); err != nil {
				return err
			}
			if jsonOut {
				return writeJSON(cmd, list)
			}
			out := cmd.OutOrStdout()
			if len(list.Jobs) == 0 {
				fmt.Fprintln(out, "No jobs found")
				return nil
			}
			fmt.Fprintln(out, renderJobsTable(list.Jobs))
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&states, "state", nil, "Filter by job state (repeatable)")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Emit jobs as JSON")
	return cmd
}

func renderJobsTable(jobs []api.Job) string {
	headers := []string{"ID", "State", "Stage", "Priority", "Retries", "Progress", "Input", "Updated"}
	aligns := []columnAlignment{alignLeft, alignLeft, alignRight, alignRight, alignRight, alignLeft, alignLeft, alignLeft}
	rows := make([][]string, 0, len(jobs))
	for _, job := range jobs {
		rows = append(rows, []string{
			shortID(job.ID),
			job.State,
			fmt.Sprintf("%d", job.StageOrdinal),
			fmt.Sprintf("%d", job.Priority),
			fmt.Sprintf("%d", job.RetryCount),
			formatProgress(job.Progress),
			job.Input,
			job.UpdatedAt,
		})
	}
	return renderTable(headers, rows, aligns)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func formatProgress(p api.JobProgress) string {
	if p.Stage == "" {
		return ""
	}
	if p.Message != "" {
		return fmt.Sprintf("%s %.0f%% (%s)", p.Stage, p.Percent, p.Message)
	}
	return fmt.Sprintf("%s %.0f%%", p.Stage, p.Percent)
}

func newJobsShowCommand(ctx *commandContext) *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "show <job-id>",
		Short: "Show one job with its attempt history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := strings.TrimSpace(args[0])
			var detail api.JobDetail
			if err := ctx.getJSON("/api/jobs/"+url.PathEscape(id), &detail); err != nil {
				return err
			}
			if jsonOut {
				return writeJSON(cmd, detail)
			}
			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)
			for _, line := range renderJobDetail(detail, colorize) {
				fmt.Fprintln(out, line)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOut, "json", false, "Emit the job as JSON")
	return cmd
}

func renderJobDetail(detail api.JobDetail, colorize bool) []string {
	job := detail.Job
	var lines []string
	lines = append(lines, renderSectionHeader("Job "+job.ID, colorize))

	stateKind := statusInfo
	switch job.State {
	case "succeeded":
		stateKind = statusOK
	case "failed":
		stateKind = statusError
	case "cancelled":
		stateKind = statusWarn
	}
	lines = append(lines, renderStatusLine("State", stateKind, job.State, colorize))
	lines = append(lines, renderStatusLine("Submitter", statusInfo, job.Submitter, colorize))
	lines = append(lines, renderStatusLine("Input", statusInfo, job.Input, colorize))
	lines = append(lines, renderStatusLine("Stage", statusInfo, fmt.Sprintf("%d", job.StageOrdinal), colorize))
	lines = append(lines, renderStatusLine("Priority", statusInfo, fmt.Sprintf("%d", job.Priority), colorize))
	lines = append(lines, renderStatusLine("Cancel asked", statusInfo, yesNo(job.CancelRequested), colorize))
	if progress := formatProgress(job.Progress); progress != "" {
		lines = append(lines, renderStatusLine("Progress", statusInfo, progress, colorize))
	}
	if job.ErrorMessage != "" {
		lines = append(lines, renderStatusLine("Error", statusError, job.ErrorMessage, colorize))
	}
	for _, output := range job.Outputs {
		lines = append(lines, renderStatusLine("Output", statusInfo, output, colorize))
	}

	if len(detail.Attempts) > 0 {
		lines = append(lines, "")
		lines = append(lines, renderSectionHeader("Attempts", colorize))
		headers := []string{"Stage", "Attempt", "Outcome", "Started", "Finished", "Detail"}
		aligns := []columnAlignment{alignLeft, alignRight, alignLeft, alignLeft, alignLeft, alignLeft}
		rows := make([][]string, 0, len(detail.Attempts))
		for _, attempt := range detail.Attempts {
			rows = append(rows, []string{
				attempt.StageName,
				fmt.Sprintf("%d", attempt.Attempt),
				attempt.Outcome,
				attempt.StartedAt,
				attempt.FinishedAt,
				attempt.ErrorDetail,
			})
		}
		lines = append(lines, renderTable(headers, rows, aligns))
	}
	return lines
}

func newJobsCancelCommand(ctx *commandContext) *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "cancel <job-id>",
		Short: "Cancel a queued or running job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := strings.TrimSpace(args[0])
			var job api.Job
			if err := ctx.postJSON("/api/jobs/"+url.PathEscape(id)+"/cancel", nil, &job); err != nil {
				return err
			}
			if jsonOut {
				return writeJSON(cmd, job)
			}
			out := cmd.OutOrStdout()
			if job.State == "cancelled" {
				fmt.Fprintf(out, "Job %s cancelled\n", job.ID)
			} else {
				fmt.Fprintf(out, "Job %s will stop after the current stage\n", job.ID)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOut, "json", false, "Emit the job as JSON")
	return cmd
}

// Retry and clear operate on the job database directly so they remain usable
// while the daemon is down.
func newJobsRetryCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "retry <job-id>...",
		Short: "Return failed jobs to the queue with a fresh retry budget",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := ctx.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			out := cmd.OutOrStdout()
			var firstErr error
			for _, arg := range args {
				id := strings.TrimSpace(arg)
				job, err := store.RetryFailed(cmd.Context(), id)
				switch {
				case err != nil:
					fmt.Fprintf(out, "Job %s: %v\n", id, err)
					if firstErr == nil {
						firstErr = err
					}
				case job == nil:
					fmt.Fprintf(out, "Job %s not found\n", id)
					if firstErr == nil {
						firstErr = errors.New("job not found")
					}
				default:
					fmt.Fprintf(out, "Job %s requeued at stage %d\n", job.ID, job.StageOrdinal)
				}
			}
			return firstErr
		},
	}
	return cmd
}

func newJobsClearCommand(ctx *commandContext) *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete finished job records (--all wipes the whole store)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := ctx.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			var removed int64
			if all {
				removed, err = store.ClearAll(cmd.Context())
			} else {
				removed, err = store.ClearTerminal(cmd.Context())
			}
			if err != nil {
				return err
			}

			label := "finished job records"
			if all {
				label = "job records"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %d %s\n", removed, label)
			return nil
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "Delete every job record regardless of state")
	return cmd
}
