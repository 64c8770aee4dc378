package main

import (
	"errors"
	"fmt"
	"os/user"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"vidmill/internal/api"
)

func newSubmitCommand(ctx *commandContext) *cobra.Command {
	var priority int
	var submitter string
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "submit <path>",
		Short: "Submit a media file for processing",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			source := strings.TrimSpace(args[0])
			if source == "" {
				return errors.New("media path is required")
			}
			abs, err := filepath.Abs(source)
			if err != nil {
				return fmt.Errorf("resolve path %q: %w", source, err)
			}
			if submitter == "" {
				submitter = currentUser()
			}

			var job api.Job
			err = ctx.postJSON("/api/jobs", api.SubmitRequest{
				SourcePath: abs,
				Submitter:  submitter,
				Priority:   priority,
			}, &job)
			if err != nil {
				return err
			}

			if jsonOut {
				return writeJSON(cmd, job)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Job %s queued (%s)\n", job.ID, job.Input)
			return nil
		},
	}

	cmd.Flags().IntVar(&priority, "priority", 0, "Scheduling priority; higher runs first")
	cmd.Flags().StringVar(&submitter, "submitter", "", "Submitter recorded on the job (defaults to the current user)")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Emit the created job as JSON")
	return cmd
}

func currentUser() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	return "unknown"
}
