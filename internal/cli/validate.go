package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/graphport/graphport/internal/cli/ui"
	infvalidate "github.com/graphport/graphport/internal/infrastructure/validate"
)

var (
	validateJobID    string
	validateExpected int64
	validateOutput   string
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the migrated data against the expected counts",
	Long: `Run the post-migration checks against the target: compare the total record
count with the expected value and sample records for the required fields.

Validation is read-only. A failing check exits non-zero but changes nothing.

Examples:
  graphport validate
  graphport validate --expected 150000
  graphport validate --output report.yaml`,
	RunE: runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)

	validateCmd.Flags().StringVar(&validateJobID, "job", "", "job ID to attribute the report to")
	validateCmd.Flags().Int64Var(&validateExpected, "expected", 0, "expected record count (overrides validation.expected_records)")
	validateCmd.Flags().StringVar(&validateOutput, "output", "", "write the report to a YAML file")
}

func runValidate(cmd *cobra.Command, args []string) error {
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
		return fmt.Errorf("validate needs a reachable target: %w", err)
	}

	expected := cfg.Validation.ExpectedRecords
	if cmd.Flags().Changed("expected") {
		expected = validateExpected
	}

	jobID := validateJobID
	if jobID == "" {
		jobID = "ad-hoc"
	}

	client, err := graphClientFor(ctx, cfg, t)
	if err != nil {
		return err
	}
	checker := infvalidate.NewChecker(client, cfg.Validation.SampleSize, cfg.Validation.RequiredFields)

	report, err := checker.Check(ctx, jobID, expected)
	if err != nil {
		return err
	}

	if validateOutput != "" {
		data, err := yaml.Marshal(report)
		if err != nil {
			return err
		}
		if err := os.WriteFile(validateOutput, data, 0o644); err != nil {
			return fmt.Errorf("failed to write report: %w", err)
		}
		if !IsQuiet() {
			ui.Info(fmt.Sprintf("Report written to %s", validateOutput))
		}
	}

	if !IsQuiet() {
		for _, check := range report.Checks {
			if check.Pass {
				ui.Success(fmt.Sprintf("%s: %s", check.Name, check.Observed))
			} else {
				ui.Error(fmt.Sprintf("%s: expected %s, observed %s",
					check.Name, check.Expected, check.Observed))
			}
		}
	}

	if !report.Pass {
		return fmt.Errorf("validation failed: %d of %d check(s) did not pass",
			len(report.Failed()), len(report.Checks))
	}
	return nil
}
