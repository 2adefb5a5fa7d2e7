// Package cmd implements the visscan-admin CLI commands.
package cmd

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/visscan/api/internal/config"
	"github.com/visscan/api/internal/infra/gitlab"
	"github.com/visscan/api/internal/infra/postgres"
	"github.com/visscan/api/pkg/logger"
)

var (
	version string

	// Global flags
	flagVerbose bool
)

var rootCmd = &cobra.Command{
	Use:   "visscan-admin",
	Short: "Scan orchestration administration CLI",
	Long: `visscan-admin is an operator CLI for the scan orchestration service.

It connects directly to the service's database and CI system using the
same environment configuration as the server. Use it to inspect scan
records, force-cancel stuck scans, and trigger a reconciliation sweep.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// SetVersion sets the CLI version from build flags.
func SetVersion(v string) {
	version = v
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "Enable verbose output")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(describeCmd)
	rootCmd.AddCommand(forceCancelCmd)
	rootCmd.AddCommand(sweepCmd)
	rootCmd.AddCommand(listCmd)
}

// adminEnv holds the connections shared by all commands.
type adminEnv struct {
	cfg   *config.Config
	log   *logger.Logger
	db    *postgres.DB
	scans *postgres.ScanRepository
	ci    *gitlab.Client
}

func newAdminEnv() (*adminEnv, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}

	level := "error"
	if flagVerbose {
		level = "debug"
	}
	log := logger.New(logger.Config{Level: level, Format: "text"})

	db, err := postgres.New(&cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	return &adminEnv{
		cfg:   cfg,
		log:   log,
		db:    db,
		scans: postgres.NewScanRepository(db),
		ci:    gitlab.NewClient(&cfg.GitLab, log),
	}, nil
}

func (e *adminEnv) Close() {
	if err := e.db.Close(); err != nil {
		e.log.Error("failed to close database", "error", err)
	}
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show CLI version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("visscan-admin version %s\n", version)
		fmt.Printf("  Go:       %s\n", runtime.Version())
		fmt.Printf("  OS/Arch:  %s/%s\n", runtime.GOOS, runtime.GOARCH)
	},
}
