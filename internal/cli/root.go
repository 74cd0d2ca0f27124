// Package cli provides the command-line interface for the policy engine.
package cli

import (
	"path/filepath"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"epl-engine/internal/config"
	"epl-engine/internal/ledger"
	"epl-engine/internal/logging"
	"epl-engine/internal/notify"
	"epl-engine/internal/policy"
	"epl-engine/internal/store"
)

// Version information
const (
	Version   = "0.1.0"
	BuildDate = "2025-11-03"
)

// App holds the application dependencies.
type App struct {
	Config    *config.Config
	Logger    zerolog.Logger
	Ledger    ledger.Ledger
	Audit     store.AuditLog
	Scheduler *notify.Scheduler
}

// NewRootCmd creates the root command for the CLI.
func NewRootCmd(cfg *config.Config, logger zerolog.Logger) *cobra.Command {
	app := &App{
		Config: cfg,
		Logger: logger,
		Ledger: ledger.NewMemoryLedger(),
	}

	dbPath := cfg.Store.Path
	if dbPath == "" {
		dbPath = filepath.Join(config.DefaultConfigDir(), "decisions.db")
	}
	audit, err := store.NewSQLiteAuditLog(dbPath)
	if err != nil {
		logger.Warn().Err(err).Msg("Failed to initialize audit store, decisions will not be persisted")
	} else {
		app.Audit = audit
		logger.Debug().Str("path", dbPath).Msg("Audit store initialized")
	}

	app.Scheduler = notify.NewScheduler(cfg.Notifications, logger)

	rootCmd := &cobra.Command{
		Use:   "epl",
		Short: "Execution policy layer for trading-signal dispositions",
		Long: `epl evaluates trading-signal candidates against portfolio state and
returns exactly one disposition per candidate: replace, strengthen,
open new or ignore, with execution parameters and a priority class.

Use 'epl help <command>' for more information about a command.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			debug, _ := cmd.Flags().GetBool("debug")
			if debug {
				logging.SetDebugLevel()
				app.Logger = app.Logger.Level(zerolog.DebugLevel)
			}
			return nil
		},
	}

	// Global flags
	rootCmd.PersistentFlags().String("config", "", "config directory (default: ~/.config/epl-engine)")
	rootCmd.PersistentFlags().Bool("json", false, "output in JSON format")
	rootCmd.PersistentFlags().Bool("debug", false, "enable debug logging")

	addCoreCommands(rootCmd, app)
	addEvaluateCommand(rootCmd, app)
	addServeCommand(rootCmd, app)
	addStatusCommand(rootCmd, app)
	addAuditCommands(rootCmd, app)

	return rootCmd
}

// newCoordinator builds the evaluation pipeline from the app's
// dependencies.
func (app *App) newCoordinator() (*policy.Coordinator, error) {
	var audit policy.AuditLog
	if app.Audit != nil {
		audit = app.Audit
	}
	return policy.NewCoordinator(app.Config, app.Logger, app.Ledger, audit, app.Scheduler, nil)
}

// addCoreCommands adds version and config commands.
func addCoreCommands(rootCmd *cobra.Command, app *App) {
	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newConfigCmd(app))
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			output := NewOutput(cmd)
			if output.IsJSON() {
				output.JSON(map[string]string{
					"version":    Version,
					"build_date": BuildDate,
				})
			} else {
				output.Printf("EPL Engine v%s\n", Version)
				output.Dim("Build date: %s", BuildDate)
			}
		},
	}
}

func newConfigCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management",
		Long:  "View and manage engine configuration.",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			return output.JSON(app.Config)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show configuration directory path",
		Run: func(cmd *cobra.Command, args []string) {
			output := NewOutput(cmd)
			if output.IsJSON() {
				output.JSON(map[string]string{"path": config.DefaultConfigDir()})
			} else {
				output.Println(config.DefaultConfigDir())
			}
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if err := app.Config.Validate(); err != nil {
				output.Error("Configuration validation failed: %v", err)
				return err
			}
			if output.IsJSON() {
				output.JSON(map[string]bool{"valid": true})
			} else {
				output.Success("✓ Configuration is valid")
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Write a template config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			configDir, _ := cmd.Flags().GetString("config")
			if err := config.WriteTemplate(configDir); err != nil {
				output.Error("Failed to write config template: %v", err)
				return err
			}
			output.Success("✓ Config template written")
			return nil
		},
	})

	return cmd
}
