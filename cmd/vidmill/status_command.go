package main

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"vidmill/internal/api"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon and pipeline status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var status api.StatusResponse
			if err := ctx.getJSON("/api/status", &status); err != nil {
				return err
			}
			if jsonOut {
				return writeJSON(cmd, status)
			}
			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)
			for _, line := range renderStatus(status, colorize) {
				fmt.Fprintln(out, line)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOut, "json", false, "Emit status as JSON")
	return cmd
}

func renderStatus(status api.StatusResponse, colorize bool) []string {
	var lines []string
	lines = append(lines, renderSectionHeader("Daemon", colorize))

	runningKind := statusError
	runningMsg := "stopped"
	if status.Running {
		runningKind = statusOK
		runningMsg = fmt.Sprintf("pid %d", status.PID)
	}
	lines = append(lines, renderStatusLine("Daemon", runningKind, runningMsg, colorize))

	dispatcherKind := statusError
	dispatcherMsg := "stopped"
	if status.Dispatcher.Running {
		dispatcherKind = statusOK
		dispatcherMsg = describeLanes(status.Dispatcher.Lanes)
	}
	lines = append(lines, renderStatusLine("Dispatcher", dispatcherKind, dispatcherMsg, colorize))
	if status.Dispatcher.LastError != "" {
		lines = append(lines, renderStatusLine("Last error", statusWarn, status.Dispatcher.LastError, colorize))
	}
	lines = append(lines, renderStatusLine("Free space", statusInfo, fmt.Sprintf("%d MB", status.FreeSpaceMB), colorize))

	lines = append(lines, "")
	lines = append(lines, renderSectionHeader("Stages", colorize))
	for _, health := range status.Dispatcher.StageHealth {
		kind := statusOK
		msg := "ready"
		if !health.Ready {
			kind = statusError
			msg = health.Detail
		}
		label := health.Name
		if depth, ok := status.StageDepths[health.Name]; ok && depth > 0 {
			msg = fmt.Sprintf("%s, %d queued", msg, depth)
		}
		lines = append(lines, renderStatusLine(label, kind, msg, colorize))
	}

	lines = append(lines, "")
	lines = append(lines, renderSectionHeader("Jobs", colorize))
	states := make([]string, 0, len(status.JobStats))
	for state := range status.JobStats {
		states = append(states, state)
	}
	sort.Strings(states)
	for _, state := range states {
		kind := statusInfo
		if state == "failed" && status.JobStats[state] > 0 {
			kind = statusWarn
		}
		lines = append(lines, renderStatusLine(state, kind, fmt.Sprintf("%d", status.JobStats[state]), colorize))
	}
	return lines
}

func describeLanes(lanes []api.LaneStatus) string {
	if len(lanes) == 0 {
		return "running"
	}
	parts := make([]string, 0, len(lanes))
	for _, lane := range lanes {
		parts = append(parts, fmt.Sprintf("%s x%d", lane.Class, lane.Workers))
	}
	return "running (" + strings.Join(parts, ", ") + ")"
}
