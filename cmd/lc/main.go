package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/leadcheck/leadcheck/internal/config"
	"github.com/leadcheck/leadcheck/internal/handoff"
	"github.com/leadcheck/leadcheck/internal/storage"
	"github.com/leadcheck/leadcheck/internal/ui"
)

var (
	configPath string
	dbPath     string
	actorID    string
	actorRole  string
	jsonOutput bool
	noColor    bool

	// Signal-aware context for graceful cancellation
	rootCtx    context.Context
	rootCancel context.CancelFunc

	logger *slog.Logger

	// Opened lazily by commands that need it; closed in PersistentPostRun.
	store      storage.Storage
	orch       *handoff.Orchestrator
	closeRelay func()
)

var rootCmd = &cobra.Command{
	Use:   "lc",
	Short: "lc - lead verification handoff",
	Long: `Coordinates lead verification calls between buffer agents and licensed
agents: claim a lead, verify its fields, hand it off, and close it when the
call result comes in.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		rootCtx, rootCancel = signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

		if err := config.Initialize(configPath); err != nil {
			FatalError("failed to load config: %v", err)
		}
		bindFlags(cmd)
		jsonOutput = config.GetBool("json")
		if noColor || jsonOutput {
			ui.SetColor(false)
		}
		logger = newLogger(config.GetString("log.level"))
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if store != nil {
			_ = store.Close()
			store, orch = nil, nil
		}
		if closeRelay != nil {
			closeRelay()
			closeRelay = nil
		}
		if rootCancel != nil {
			rootCancel()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default: ./leadcheck.yaml, ~/.config/leadcheck/leadcheck.yaml)")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "SQLite database path (overrides db.path)")
	rootCmd.PersistentFlags().StringVar(&actorID, "actor", "", "Agent id acting (default: $LC_ACTOR)")
	rootCmd.PersistentFlags().StringVar(&actorRole, "role", "", "Agent role: buffer, licensed or retention (default: $LC_ROLE)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")

	rootCmd.AddGroup(
		&cobra.Group{ID: "session", Title: "Working With Sessions:"},
		&cobra.Group{ID: "views", Title: "Views:"},
		&cobra.Group{ID: "server", Title: "Server & Setup:"},
	)
}

// bindFlags lets explicitly set flags win over config file and env.
func bindFlags(cmd *cobra.Command) {
	flags := cmd.Flags()
	for key, name := range map[string]string{
		"db.path": "db",
		"actor":   "actor",
		"role":    "role",
		"json":    "json",
	} {
		if f := flags.Lookup(name); f != nil && f.Changed {
			if err := config.BindFlag(key, f); err != nil {
				WarnError("bind --%s: %v", name, err)
			}
		}
	}
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
