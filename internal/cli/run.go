package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/graphport/graphport/internal/cli/ui"
	"github.com/graphport/graphport/internal/config"
	"github.com/graphport/graphport/internal/domain/job"
	"github.com/graphport/graphport/internal/domain/target"
	"github.com/graphport/graphport/internal/domain/validation"
	infdeploy "github.com/graphport/graphport/internal/infrastructure/deploy"
	"github.com/graphport/graphport/internal/infrastructure/migrate"
	infprovision "github.com/graphport/graphport/internal/infrastructure/provision"
	infvalidate "github.com/graphport/graphport/internal/infrastructure/validate"
	"github.com/graphport/graphport/internal/orchestrator"
)

var (
	runTimeout      time.Duration
	runStageExports bool
	runYes          bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Provision, deploy, migrate and validate in one pass",
	Long: `Run the full pipeline: ensure the staging bucket and VPC network exist,
roll out the database service on Cloud Run, stream the configured schema and
data exports into it, and validate the migrated data.

If any stage after deployment fails, traffic is rolled back to the previous
revision. Migrated data is left in place for inspection.

Examples:
  graphport run
  graphport run --timeout 45m
  graphport run --stage-exports      # upload export files to the bucket first`,
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().DurationVar(&runTimeout, "timeout", 0, "bound the whole run (0 for no bound)")
	runCmd.Flags().BoolVar(&runStageExports, "stage-exports", false, "upload export files to the staging bucket before deploying")
	runCmd.Flags().BoolVarP(&runYes, "yes", "y", false, "skip the confirmation prompt")
}

// runnerMigrator adapts the migration runner to the orchestrator, building
// a graph client once the target address is known.
type runnerMigrator struct {
	cfg *config.Config
}

func (m *runnerMigrator) Run(ctx context.Context, j *job.Job, t *target.Target) error {
	client, err := graphClientFor(ctx, m.cfg, t)
	if err != nil {
		return err
	}
	runner := migrate.NewRunner(client, migrate.Config{
		Concurrency: m.cfg.Migration.Concurrency,
		Retries:     m.cfg.Migration.Retries,
		BackoffMin:  m.cfg.Migration.BackoffMin,
		BackoffMax:  m.cfg.Migration.BackoffMax,
		RateLimit:   m.cfg.Migration.RateLimit,
	})
	return runner.Run(ctx, j)
}

// checkerValidator adapts the validation checker the same way.
type checkerValidator struct {
	cfg *config.Config
}

func (v *checkerValidator) Check(ctx context.Context, jobID string, t *target.Target, expected int64) (*validation.Report, error) {
	client, err := graphClientFor(ctx, v.cfg, t)
	if err != nil {
		return nil, err
	}
	checker := infvalidate.NewChecker(client, v.cfg.Validation.SampleSize, v.cfg.Validation.RequiredFields)
	return checker.Check(ctx, jobID, expected)
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	if !IsQuiet() {
		ui.Header("Graphport")
		ui.Info(fmt.Sprintf("Project: %s  Region: %s  Service: %s",
			cfg.Project, cfg.Region, cfg.Service.Name))
		ui.Divider()
	}

	if !runYes && !IsQuiet() {
		if !ui.PromptYesNo(fmt.Sprintf("Deploy %q and migrate into project %s?",
			cfg.Service.Name, cfg.Project), false) {
			ui.Warning("Aborted")
			return nil
		}
	}

	ctx := cmd.Context()

	o, j, err := buildOrchestrator(ctx, cfg)
	if err != nil {
		return err
	}

	if runStageExports {
		if err := stageExports(ctx, cfg); err != nil {
			return err
		}
	}

	stop := watchProgress(j)
	result, err := o.Execute(ctx, j, &orchestrator.Options{Timeout: runTimeout})
	stop()

	printResult(result, j)
	return err
}

// buildOrchestrator wires the cloud clients and returns the orchestrator
// with a fresh pending job.
func buildOrchestrator(ctx context.Context, cfg *config.Config) (*orchestrator.Orchestrator, *job.Job, error) {
	t, err := buildTarget(cfg)
	if err != nil {
		return nil, nil, err
	}

	token, err := resolveCredential(ctx, newResolver(cfg.Project), cfg.Target.Credential)
	if err != nil {
		return nil, nil, err
	}

	provisioner, err := infprovision.NewGCP(ctx, cfg.Project)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create provisioner: %w", err)
	}

	driver, err := infdeploy.NewDriver(ctx, cfg.Project, cfg.Region,
		func(url string) infdeploy.HealthChecker {
			return infdeploy.NewGraphHealth(url, token)
		})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create deployment driver: %w", err)
	}

	store, err := job.NewStore("")
	if err != nil {
		return nil, nil, err
	}

	j, err := newJobFrom(cfg)
	if err != nil {
		return nil, nil, err
	}

	o := orchestrator.New(
		provisioner,
		driver,
		&runnerMigrator{cfg: cfg},
		&checkerValidator{cfg: cfg},
		provisionSpecFrom(cfg),
		deployRequestFrom(cfg),
		t,
		cfg.Validation.ExpectedRecords,
		store,
	)
	if err := o.Validate(); err != nil {
		return nil, nil, err
	}
	return o, j, nil
}

// stageExports uploads the configured export files to the staging bucket.
func stageExports(ctx context.Context, cfg *config.Config) error {
	files := cfg.Migration.DataFiles
	if cfg.Migration.SchemaFile != "" {
		files = append([]string{cfg.Migration.SchemaFile}, files...)
	}
	if len(files) == 0 {
		return nil
	}

	stager, err := infprovision.NewStager(ctx)
	if err != nil {
		return fmt.Errorf("failed to create stager: %w", err)
	}
	objects, err := stager.Upload(ctx, cfg.Storage.Bucket, files)
	if err != nil {
		return err
	}
	if !IsQuiet() {
		ui.Success(fmt.Sprintf("Staged %d export file(s) to gs://%s", len(objects), cfg.Storage.Bucket))
	}
	return nil
}

// watchProgress renders a live progress bar for the job until stopped.
func watchProgress(j *job.Job) (stop func()) {
	if IsQuiet() {
		return func() {}
	}

	p := ui.StartProgress()
	finished := make(chan struct{})
	go func() {
		_, _ = p.Run()
		close(finished)
	}()

	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(300 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				snap := j.Progress().Snapshot()
				p.Send(ui.ProgressMsg{
					Percent: j.Progress().Percentage() / 100,
					Message: snap.String(),
				})
			case <-done:
				return
			}
		}
	}()

	return func() {
		close(done)
		p.Send(ui.ProgressDoneMsg{})
		<-finished
	}
}

// printResult summarizes the outcome of a full run.
func printResult(result *orchestrator.Result, j *job.Job) {
	if result == nil || IsQuiet() {
		return
	}

	ui.Divider()
	if result.State == orchestrator.StateDone {
		ui.Success(fmt.Sprintf("Run complete in %s", result.Duration.Round(time.Second)))
		if result.Revision != nil {
			ui.Info(fmt.Sprintf("Service URL: %s", result.Revision.URL))
		}
		ui.Info(fmt.Sprintf("Records written: %d", j.Progress().Written()))
		return
	}

	ui.Error(fmt.Sprintf("Run failed during %s: %v", failedStage(j), result.Err))
	if result.RolledBack {
		ui.Warning("Traffic rolled back to the previous revision")
	}
	if result.Report != nil && !result.Report.Pass {
		for _, check := range result.Report.Failed() {
			ui.Error(fmt.Sprintf("  %s: expected %s, observed %s",
				check.Name, check.Expected, check.Observed))
		}
	}
	ui.Info(fmt.Sprintf("Job ID: %s (resume with `graphport migrate --job %s`)", j.ID, j.ID))
}

func failedStage(j *job.Job) string {
	if j.Failure != nil && j.Failure.Stage != "" {
		return j.Failure.Stage
	}
	return "run"
}
