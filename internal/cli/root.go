// Package cli implements the importctl command line tool.
package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/JonMunkholm/tabimport/internal/application"
	"github.com/JonMunkholm/tabimport/internal/config"
	"github.com/JonMunkholm/tabimport/internal/logging"
)

var rootCmd = &cobra.Command{
	Use:   "importctl",
	Short: "Import tabular files into registered models",
	Long: `importctl runs import jobs against a local SQLite database or a
PostgreSQL server, and inspects their run logs and imported records.

Configuration comes from the environment (and .env); flags override it.`,
	SilenceUsage:       true,
	PersistentPreRunE:  openApp,
	PersistentPostRunE: waitRuns,
}

// Persistent flags.
var (
	dbURL       string
	storageRoot string
	logLevel    string
	syncRuns    bool
	rowsReport  int
	lookupCache bool
)

// app is the stack opened for the running command.
var app *application.App

func init() {
	cobra.OnFinalize(closeApp)

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&dbURL, "db", "", "database URL, sqlite://<file> or postgres://... (default $DATABASE_URL)")
	pf.StringVar(&storageRoot, "storage", "", "directory for stored uploads (default $IMPORT_STORAGE_ROOT)")
	pf.StringVar(&logLevel, "log-level", "", "process log level: debug, info, warn, error")
	pf.BoolVar(&syncRuns, "sync", true, "run imports in the foreground")
	pf.IntVar(&rowsReport, "rows-report", 0, "imported rows between progress lines")
	pf.BoolVar(&lookupCache, "lookup-cache", false, "memoize lookup reflections within a run")
}

// Execute runs the root command.
func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

// loadConfig reads the environment and applies the flags that were set.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	if flags.Changed("db") {
		cfg.Database.URL = dbURL
	}
	if flags.Changed("log-level") {
		cfg.Logging.Level = logLevel
	}

	var o config.ImportOverrides
	if flags.Changed("storage") {
		o.StorageRoot = &storageRoot
	}
	if flags.Changed("sync") {
		o.Sync = &syncRuns
	}
	if flags.Changed("rows-report") {
		o.RowsReport = &rowsReport
	}
	if flags.Changed("lookup-cache") {
		o.LookupCache = &lookupCache
	}
	cfg.Import = config.MergeImport(cfg.Import, o)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func openApp(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	// stdout carries command output
	logger := logging.New(os.Stderr, cfg.Logging.Level, cfg.Logging.Format)

	app, err = application.Open(cmd.Context(), cfg, logger)
	if err != nil {
		return fmt.Errorf("open: %w", err)
	}
	return nil
}

// waitRuns lets background imports started by the command finish.
func waitRuns(cmd *cobra.Command, _ []string) error {
	if app == nil {
		return nil
	}
	return app.Service.Wait(cmd.Context())
}

// closeApp runs after every execution, including failed ones.
func closeApp() {
	if app == nil {
		return
	}
	app.Close()
	app = nil
}
