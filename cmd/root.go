package cmd

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/tdhoang/reportfetch/internal/auditlog"
	"github.com/tdhoang/reportfetch/internal/config"
	"github.com/tdhoang/reportfetch/internal/runstate"
	"github.com/tdhoang/reportfetch/internal/store"
)

var (
	// Config flags, bound in init()
	downloadDir string
	auditPath   string
	dbPath      string
	listenAddr  string
	chromePath  string
	headless    bool
	otpSeed     string
	unitPause   time.Duration
	logFormat   string
	logLevel    string
	logOutput   string

	// Populated in PersistentPreRunE
	rootLogger *slog.Logger
	appConfig  config.Config
	appStore   *store.Store
	appAudit   *auditlog.Log
	appState   *runstate.State
)

var rootCmd = &cobra.Command{
	Use:   "reportfetch",
	Short: "Download report exports from the BI portal via a headless browser.",
	Long: `Reportfetch logs into the report portal with a one-time code, walks the
requested reports chunk by chunk, and collects every export into a
per-run download directory. Each attempted download is recorded in an
append-only CSV audit trail.

'serve' runs the HTTP facade with saved configurations and schedules;
'run' performs a single download run from the command line; 'history'
prints the audit trail.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var level slog.Level
		switch strings.ToLower(logLevel) {
		case "debug":
			level = slog.LevelDebug
		case "warn":
			level = slog.LevelWarn
		case "error":
			level = slog.LevelError
		default:
			level = slog.LevelInfo
		}

		var logWriter io.Writer = os.Stderr
		switch strings.ToLower(logOutput) {
		case "", "stderr":
		case "stdout":
			logWriter = os.Stdout
		default:
			f, err := os.OpenFile(logOutput, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
			if err != nil {
				return fmt.Errorf("failed to open log file %s: %w", logOutput, err)
			}
			logWriter = f
		}

		opts := &slog.HandlerOptions{Level: level}
		var handler slog.Handler
		if logFormat == "json" {
			handler = slog.NewJSONHandler(logWriter, opts)
		} else {
			handler = slog.NewTextHandler(logWriter, opts)
		}
		rootLogger = slog.New(handler)
		slog.SetDefault(rootLogger)

		// OTP seed comes from flag or environment, never from the store.
		if otpSeed == "" {
			otpSeed = os.Getenv("REPORTFETCH_OTP_SEED")
		}

		appConfig = config.Config{
			DownloadBaseDir: downloadDir,
			AuditLogPath:    auditPath,
			DbPath:          dbPath,
			ListenAddr:      listenAddr,
			ChromePath:      chromePath,
			Headless:        headless,
			OTPSeed:         otpSeed,
			UnitPause:       unitPause,
		}.WithDefaults()

		if err := os.MkdirAll(appConfig.DownloadBaseDir, 0o755); err != nil {
			return fmt.Errorf("failed to create download directory %s: %w", appConfig.DownloadBaseDir, err)
		}
		if dbDir := filepath.Dir(appConfig.DbPath); dbDir != "." {
			if err := os.MkdirAll(dbDir, 0o755); err != nil {
				return fmt.Errorf("failed to create database directory %s: %w", dbDir, err)
			}
		}

		rootLogger.Info("opening state store", "path", appConfig.DbPath)
		var err error
		appStore, err = store.Open(appConfig.DbPath)
		if err != nil {
			return err
		}

		appAudit = auditlog.New(appConfig.AuditLogPath)
		appState = runstate.New(appConfig.MessageLimit)
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if appStore != nil {
			if err := appStore.Close(); err != nil {
				rootLogger.Error("failed to close state store cleanly", "error", err)
			}
		}
		return nil
	},
}

// Execute wires the subcommands and runs the CLI. Called from main.
func Execute() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(historyCmd)

	if err := rootCmd.Execute(); err != nil {
		if rootLogger != nil {
			rootLogger.Error("command execution failed", "error", err)
		} else {
			fmt.Fprintf(os.Stderr, "command execution failed: %v\n", err)
		}
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&downloadDir, "download-dir", "o", "./downloads", "Base directory for per-run download folders")
	rootCmd.PersistentFlags().StringVar(&auditPath, "audit-log", "./download_log.csv", "Path to the CSV audit trail")
	rootCmd.PersistentFlags().StringVarP(&dbPath, "db-path", "d", "./reportfetch_state.duckdb", "Path to the DuckDB state database")
	rootCmd.PersistentFlags().StringVar(&listenAddr, "listen", ":8080", "HTTP listen address for 'serve'")
	rootCmd.PersistentFlags().StringVar(&chromePath, "chrome-path", "", "Path to the Chrome binary (auto-detected when empty)")
	rootCmd.PersistentFlags().BoolVar(&headless, "headless", true, "Run the browser headless")
	rootCmd.PersistentFlags().StringVar(&otpSeed, "otp-seed", "", "TOTP seed for portal login (or REPORTFETCH_OTP_SEED)")
	rootCmd.PersistentFlags().DurationVar(&unitPause, "unit-pause", config.DefaultUnitPause, "Pause between download units")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "Log output format (text or json)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logOutput, "log-output", "stderr", "Log output destination (stderr, stdout, or file path)")

	rootCmd.Version = "0.3.0"
}
