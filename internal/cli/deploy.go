package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/graphport/graphport/internal/cli/ui"
	infdeploy "github.com/graphport/graphport/internal/infrastructure/deploy"
)

var (
	deployBuild        bool
	deployPush         bool
	deployRegistryUser string
	deployRegistryCred string

	rollbackRevision string
)

var deployCmd = &cobra.Command{
	Use:   "deploy",
	Short: "Roll out the database service on Cloud Run",
	Long: `Roll out the configured container image as a Cloud Run service and wait
until its health endpoint reports every instance healthy.

The previous ready revision is recorded before the rollout so a failed
deployment or migration can restore it.

Examples:
  graphport deploy
  graphport deploy --build --push      # build and push the image first`,
	RunE: runDeploy,
}

var rollbackCmd = &cobra.Command{
	Use:   "rollback",
	Short: "Point traffic back at a previous revision",
	Long: `Point all traffic of the configured service at a previous revision.

Example:
  graphport rollback --revision graphdb-00041-abc`,
	RunE: runRollback,
}

func init() {
	rootCmd.AddCommand(deployCmd)
	rootCmd.AddCommand(rollbackCmd)

	deployCmd.Flags().BoolVar(&deployBuild, "build", false, "build the container image from service.build_context")
	deployCmd.Flags().BoolVar(&deployPush, "push", false, "push the image to its registry before deploying")
	deployCmd.Flags().StringVar(&deployRegistryUser, "registry-user", "oauth2accesstoken", "registry username for the push")
	deployCmd.Flags().StringVar(&deployRegistryCred, "registry-credential", "", "credential reference for the registry push (env:, file:, gcp:)")

	rollbackCmd.Flags().StringVar(&rollbackRevision, "revision", "", "revision to restore (required)")
	rollbackCmd.MarkFlagRequired("revision")
}

func runDeploy(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	if deployBuild || deployPush {
		if err := buildAndPushImage(cmd, cfg.Project); err != nil {
			return err
		}
	}

	token, err := resolveCredential(ctx, newResolver(cfg.Project), cfg.Target.Credential)
	if err != nil {
		return err
	}

	driver, err := infdeploy.NewDriver(ctx, cfg.Project, cfg.Region,
		func(url string) infdeploy.HealthChecker {
			return infdeploy.NewGraphHealth(url, token)
		})
	if err != nil {
		return fmt.Errorf("failed to create deployment driver: %w", err)
	}

	rev, err := driver.Deploy(ctx, deployRequestFrom(cfg))
	if err != nil {
		return err
	}

	if !IsQuiet() {
		ui.Success(fmt.Sprintf("Deployed revision %s", rev.Name))
		ui.Info(fmt.Sprintf("Service URL: %s", rev.URL))
		if rev.PriorRevision != "" {
			ui.Info(fmt.Sprintf("Previous revision: %s", rev.PriorRevision))
		}
	}
	return nil
}

func buildAndPushImage(cmd *cobra.Command, project string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	svc, err := infdeploy.NewImageService()
	if err != nil {
		return err
	}
	defer svc.Close()

	if deployBuild {
		if cfg.Service.BuildContext == "" {
			return fmt.Errorf("service.build_context is required with --build")
		}
		if err := svc.Build(ctx, cfg.Service.BuildContext, cfg.Service.Dockerfile, cfg.Service.Image); err != nil {
			return err
		}
		if !IsQuiet() {
			ui.Success(fmt.Sprintf("Built image %s", cfg.Service.Image))
		}
	}

	if deployPush {
		token, err := resolveCredential(ctx, newResolver(project), deployRegistryCred)
		if err != nil {
			return err
		}
		if err := svc.Push(ctx, cfg.Service.Image, deployRegistryUser, token); err != nil {
			return err
		}
		if !IsQuiet() {
			ui.Success(fmt.Sprintf("Pushed image %s", cfg.Service.Image))
		}
	}
	return nil
}

func runRollback(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	if !IsQuiet() && !ui.PromptYesNo(
		fmt.Sprintf("Point all traffic of %q at revision %s?", cfg.Service.Name, rollbackRevision), false) {
		ui.Warning("Aborted")
		return nil
	}

	driver, err := infdeploy.NewDriver(ctx, cfg.Project, cfg.Region, nil)
	if err != nil {
		return fmt.Errorf("failed to create deployment driver: %w", err)
	}

	if err := driver.Rollback(ctx, cfg.Service.Name, rollbackRevision); err != nil {
		return err
	}
	if !IsQuiet() {
		ui.Success(fmt.Sprintf("Traffic restored to revision %s", rollbackRevision))
	}
	return nil
}
