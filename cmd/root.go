package cmd

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/brensch/jusosync/internal/config"
	"github.com/brensch/jusosync/internal/db"
	"github.com/brensch/jusosync/internal/logger"
)

// noDBAnnotation marks commands that never touch the staging store.
const noDBAnnotation = "jusosync/no-db"

var (
	cfgFile string

	// Populated in PersistentPreRunE.
	rootLogger *slog.Logger
	logCloser  func() error
	dbConn     *sql.DB
	dbDialect  db.Dialect
	appConfig  config.Config
)

var rootCmd = &cobra.Command{
	Use:   "jusosync",
	Short: "Ingest daily address change deltas into a staging store.",
	Long: `jusosync keeps an address registry in step with the national address
authority's daily change files. Each run catches up every day since the last
successful one (bounded by a recovery window), extracting the day's archives,
parsing the pipe-delimited records and loading them into staging tables.

'run' performs one catch-up pass, 'serve' runs the daily timer together with
the manual trigger endpoint, and the remaining commands help operators inspect
and repair state.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgFile, cmd.Flags())
		if err != nil {
			return err
		}
		if err := cfg.Validate(); err != nil {
			return err
		}
		appConfig = cfg

		opts := []logger.Option{
			logger.WithLevel(cfg.Log.Level),
			logger.WithFormat(cfg.Log.Format),
			logger.WithFile(cfg.Log.File),
		}
		if quiet, _ := cmd.Flags().GetBool("tui"); quiet {
			opts = append(opts, logger.WithQuiet())
		}
		rootLogger, logCloser, err = logger.New(opts...)
		if err != nil {
			return err
		}
		slog.SetDefault(rootLogger)
		rootLogger.Debug("Configuration loaded", slog.Any("config", redacted(cfg)))

		if cmd.Annotations[noDBAnnotation] == "true" {
			return nil
		}
		return openDB(cmd.Context(), cfg)
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		closeAll()
		return nil
	},
}

func openDB(ctx context.Context, cfg config.Config) error {
	if cfg.Database.Driver == "duckdb" && cfg.Database.DSN != "" && cfg.Database.DSN != ":memory:" {
		dir := filepath.Dir(cfg.Database.DSN)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create database directory %s: %w", dir, err)
		}
	}

	rootLogger.Info("Connecting to staging store", slog.String("driver", cfg.Database.Driver))
	var err error
	dbConn, dbDialect, err = db.Open(ctx, cfg.Database)
	if err != nil {
		return err
	}

	if cfg.Database.CreateSchema {
		schemaCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		if err := db.InitializeSchema(schemaCtx, dbConn, dbDialect, cfg.Datasets); err != nil {
			return fmt.Errorf("failed to initialize database schema: %w", err)
		}
		rootLogger.Debug("Database schema initialized.")
	}
	return nil
}

func closeAll() {
	if dbConn != nil {
		if err := dbConn.Close(); err != nil {
			getLogger().Error("Failed to close database connection cleanly", "error", err)
		}
		dbConn = nil
	}
	if logCloser != nil {
		_ = logCloser()
		logCloser = nil
	}
}

// Execute runs the root command. It is called once by main.main.
func Execute() {
	rootCmd.AddCommand(runCmd, serveCmd, stateCmd, extractCmd, parseCmd, saveCmd, inspectCmd)

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		if rootLogger != nil {
			rootLogger.Error("Command execution failed", "error", err)
		} else {
			fmt.Fprintf(os.Stderr, "Command execution failed: %v\n", err)
		}
		closeAll()
		os.Exit(1)
	}
}

func init() {
	d := config.Default()
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "config file (default ./jusosync.yaml or /etc/jusosync/jusosync.yaml)")
	pf.String("db-driver", d.Database.Driver, "Staging store driver (duckdb, mysql, postgres)")
	pf.String("db-dsn", d.Database.DSN, "Staging store DSN (a file path for duckdb, :memory: for in-memory)")
	pf.String("zip-dir", d.Paths.ZipDir, "Root directory of dated archive directories (YYMMDD)")
	pf.String("extract-dir", d.Paths.ExtractDir, "Root directory for extracted files")
	pf.String("progress-file", d.Paths.ProgressFile, "Path of the last success marker")
	pf.String("export-dir", d.Paths.ExportDir, "Directory for save exports")
	pf.String("log-level", d.Log.Level, "Log level (debug, info, warn, error)")
	pf.String("log-format", d.Log.Format, "Log output format (text or json)")
	pf.String("log-file", d.Log.File, "Also append logs to this file")

	rootCmd.Version = "1.0.0"
}

// redacted hides secrets before the config is logged.
func redacted(cfg config.Config) config.Config {
	if cfg.Delivery.AppKey != "" {
		cfg.Delivery.AppKey = "***"
	}
	if cfg.Database.Driver != "duckdb" && cfg.Database.DSN != "" {
		cfg.Database.DSN = "***"
	}
	return cfg
}

func getLogger() *slog.Logger {
	if rootLogger == nil {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return rootLogger
}
