package cli

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/graphport/graphport/internal/cli/ui"
	"github.com/graphport/graphport/internal/domain/job"
)

var statusCmd = &cobra.Command{
	Use:   "status [job-id]",
	Short: "Show migration job history",
	Long: `Show the saved migration jobs, newest first, or the details of one job.

Examples:
  graphport status
  graphport status 2f6c1f3a-8a4e-4a1e-9c7d-1b2d3e4f5a6b`,
	Args: cobra.MaximumNArgs(1),
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	store, err := job.NewStore("")
	if err != nil {
		return err
	}

	if len(args) == 1 {
		return showJob(store, args[0])
	}

	jobs := store.List()
	if len(jobs) == 0 {
		ui.Info("No migration jobs recorded")
		return nil
	}

	table := ui.NewTable([]string{"ID", "STATUS", "SOURCES", "BATCHES DONE", "CREATED", "FINISHED"})
	for _, j := range jobs {
		finished := "-"
		if j.FinishedAt != nil {
			finished = j.FinishedAt.Format(time.RFC3339)
		}
		table.AddRow([]string{
			j.ID,
			string(j.Status),
			strconv.Itoa(len(j.Sources)),
			strconv.Itoa(len(j.CompletedBatches)),
			j.CreatedAt.Format(time.RFC3339),
			finished,
		})
	}
	fmt.Print(table.Render())
	return nil
}

func showJob(store *job.Store, id string) error {
	j, err := store.Get(id)
	if err != nil {
		return err
	}

	ui.Header(fmt.Sprintf("Job %s", j.ID))
	ui.Info(fmt.Sprintf("Status:     %s", j.Status))
	ui.Info(fmt.Sprintf("Batch size: %d", j.BatchSize))
	ui.Info(fmt.Sprintf("Created:    %s", j.CreatedAt.Format(time.RFC3339)))
	if j.FinishedAt != nil {
		ui.Info(fmt.Sprintf("Finished:   %s", j.FinishedAt.Format(time.RFC3339)))
	}

	for _, s := range j.Sources {
		ui.Info(fmt.Sprintf("Source:     %s (%s)", s.Path, s.Kind))
	}
	if len(j.CompletedBatches) > 0 {
		ui.Info(fmt.Sprintf("Batches written: %d", len(j.CompletedBatches)))
	}

	if j.Failure != nil {
		ui.Divider()
		ui.Error(fmt.Sprintf("Failed during %s: %s", j.Failure.Stage, j.Failure.Message))
		if j.Failure.BatchIndex > 0 || (j.Failure.Stage == "migrating" && j.Failure.BatchIndex == 0) {
			ui.Info(fmt.Sprintf("Failing batch: %d", j.Failure.BatchIndex))
		}
		if j.Status == job.StatusFailed {
			ui.Info(fmt.Sprintf("Resume with `graphport migrate --job %s`", j.ID))
		}
	}
	return nil
}
