package cli

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/graphport/graphport/internal/cli/ui"
	"github.com/graphport/graphport/internal/domain/job"
	"github.com/graphport/graphport/internal/infrastructure/migrate"
)

var migrateJobID string

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Stream schema and data exports into the target database",
	Long: `Stream the configured schema and data exports into the deployment target.

The schema is applied first and must succeed before any data is written.
Data records are then submitted in fixed-size batches with bounded
concurrency; transient write failures are retried with exponential backoff.

A failed job can be resumed with --job: batches already confirmed written
are skipped and the schema is re-applied (schema application is idempotent).

Examples:
  graphport migrate
  graphport migrate --job 2f6c1f3a-8a4e-4a1e-9c7d-1b2d3e4f5a6b`,
	RunE: runMigrate,
}

func init() {
	rootCmd.AddCommand(migrateCmd)

	migrateCmd.Flags().StringVar(&migrateJobID, "job", "", "resume a failed job by ID")
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	t, err := buildTarget(cfg)
	if err != nil {
		return err
	}
	if err := t.Validate(); err != nil {
		return fmt.Errorf("migrate needs a reachable target: %w", err)
	}

	store, err := job.NewStore("")
	if err != nil {
		return err
	}

	var j *job.Job
	if migrateJobID != "" {
		j, err = store.Get(migrateJobID)
		if err != nil {
			return err
		}
		if err := j.Resume(); err != nil {
			return err
		}
		if !IsQuiet() {
			ui.Info(fmt.Sprintf("Resuming job %s, %d batch(es) already written",
				j.ID, len(j.CompletedBatches)))
		}
	} else {
		j, err = newJobFrom(cfg)
		if err != nil {
			return err
		}
		if err := j.Transition(job.StatusRunning); err != nil {
			return err
		}
	}
	if err := store.Save(j); err != nil {
		return err
	}

	client, err := graphClientFor(ctx, cfg, t)
	if err != nil {
		return err
	}
	runner := migrate.NewRunner(client, migrate.Config{
		Concurrency: cfg.Migration.Concurrency,
		Retries:     cfg.Migration.Retries,
		BackoffMin:  cfg.Migration.BackoffMin,
		BackoffMax:  cfg.Migration.BackoffMax,
		RateLimit:   cfg.Migration.RateLimit,
	})

	stop := watchProgress(j)
	runErr := runner.Run(ctx, j)
	stop()

	if runErr != nil {
		j.Fail(failureContextFor(runErr))
		if err := store.Save(j); err != nil {
			ui.Warning(fmt.Sprintf("Failed to persist job state: %v", err))
		}
		if !IsQuiet() {
			ui.Error(fmt.Sprintf("Migration failed: %v", runErr))
			ui.Info(fmt.Sprintf("Resume with `graphport migrate --job %s`", j.ID))
		}
		return runErr
	}

	if err := j.Transition(job.StatusSucceeded); err != nil {
		return err
	}
	if err := store.Save(j); err != nil {
		return err
	}
	if !IsQuiet() {
		snap := j.Progress().Snapshot()
		ui.Success(fmt.Sprintf("Migration complete: %d record(s) in %d batch(es), %d retr(ies)",
			snap.RecordsWritten, snap.BatchesDone, snap.Retries))
		ui.Info(fmt.Sprintf("Elapsed: %s", time.Since(snap.StartedAt).Round(time.Second)))
	}
	return nil
}

// failureContextFor records where a migration failed, including the batch
// index when the error carries one.
func failureContextFor(err error) job.FailureContext {
	fctx := job.FailureContext{Stage: "migrating", Message: err.Error()}
	var we *migrate.WriteError
	if errors.As(err, &we) {
		fctx.BatchIndex = we.BatchIndex
	}
	return fctx
}
