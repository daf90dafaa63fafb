package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/graphport/graphport/internal/api"
	"github.com/graphport/graphport/internal/api/handlers"
	"github.com/graphport/graphport/internal/cli/ui"
	"github.com/graphport/graphport/internal/domain/job"
	"github.com/graphport/graphport/pkg/version"
)

var (
	servePort int
	serveHost string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the local status API",
	Long: `Start the HTTP API that exposes migration job history, live progress and
target health, for dashboards and scripts.

Examples:
  graphport serve                    # Start on localhost:8080
  graphport serve --port 3000        # Custom port
  graphport serve --host 0.0.0.0     # Listen on all interfaces`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().IntVarP(&servePort, "port", "p", 8080, "port to serve on")
	serveCmd.Flags().StringVarP(&serveHost, "host", "H", "localhost", "host to bind to")
}

func runServe(cmd *cobra.Command, args []string) error {
	store, err := job.NewStore("")
	if err != nil {
		return err
	}

	// The target routes only work when a target is configured; the rest of
	// the API does not need one.
	var querier handlers.HealthQuerier
	if cfg, err := loadConfig(); err == nil {
		if t, err := buildTarget(cfg); err == nil && t.Validate() == nil {
			if client, err := graphClientFor(cmd.Context(), cfg, t); err == nil {
				querier = client
			}
		}
	}

	if !IsQuiet() {
		ui.Header("Graphport Status API")
		ui.Info(fmt.Sprintf("Listening on http://%s:%d", serveHost, servePort))
		ui.Divider()
	}

	server := api.NewServer(api.Config{
		Host:    serveHost,
		Port:    servePort,
		Verbose: IsVerbose(),
		Version: version.Version,
	}, store, nil, querier)

	return server.Start()
}
