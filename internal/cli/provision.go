package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/graphport/graphport/internal/cli/ui"
	infprovision "github.com/graphport/graphport/internal/infrastructure/provision"
)

var provisionStage bool

var provisionCmd = &cobra.Command{
	Use:   "provision",
	Short: "Ensure the staging bucket and VPC network exist",
	Long: `Ensure the cloud resources the deployment needs: the storage bucket that
stages export files and the VPC network with its subnet.

Provisioning is idempotent: resources that already exist with matching
attributes are left alone, and re-running after a partial failure completes
the remainder.

Examples:
  graphport provision
  graphport provision --stage-exports   # also upload the export files`,
	RunE: runProvision,
}

func init() {
	rootCmd.AddCommand(provisionCmd)

	provisionCmd.Flags().BoolVar(&provisionStage, "stage-exports", false, "upload export files to the staging bucket")
}

func runProvision(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	spec := provisionSpecFrom(cfg)
	if err := spec.Validate(); err != nil {
		return err
	}

	provisioner, err := infprovision.NewGCP(ctx, cfg.Project)
	if err != nil {
		return fmt.Errorf("failed to create provisioner: %w", err)
	}

	handles, err := provisioner.Ensure(ctx, spec)
	if err != nil {
		return err
	}

	if !IsQuiet() {
		for _, h := range handles {
			state := "exists"
			if h.Created {
				state = "created"
			}
			ui.Success(fmt.Sprintf("%s %s (%s)", h.Kind, h.ID, state))
		}
	}

	if provisionStage {
		return stageExports(ctx, cfg)
	}
	return nil
}
