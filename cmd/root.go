package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/CanopyHQ/tributary/internal/config"
	"github.com/CanopyHQ/tributary/internal/store"
	"github.com/spf13/cobra"
)

// Build-time variables
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

// SetVersion sets the version info from main
func SetVersion(v, c, d string) {
	Version = v
	Commit = c
	Date = d
}

var rootCmd = &cobra.Command{
	Use:   "tributary",
	Short: "Tributary - causal analysis graphs",
	Long: `Build, ground and share causal analysis graphs.

Concepts are joined by causal relations backed by extracted statements;
each concept is grounded by indicators carrying observed data.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the tributary command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringP("graph", "g", "", "Graph to work on (default: default_graph from config)")

	// serve, version, status (defined in serve.go)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(statusCmd)

	// graph (defined in graph.go)
	rootCmd.AddCommand(graphCmd)

	// import, export (defined in import_export.go)
	rootCmd.AddCommand(importCmd)
	rootCmd.AddCommand(exportCmd)

	// indicator (defined in indicator.go)
	rootCmd.AddCommand(indicatorCmd)

	// catalog (defined in catalog.go)
	rootCmd.AddCommand(catalogCmd)

	// doctor (defined in doctor.go)
	rootCmd.AddCommand(doctorCmd)
}

// env bundles what every command needs: settings, a logger and the store
type env struct {
	cfg    config.Config
	logger *slog.Logger
	store  *store.Store
}

func (e *env) Close() {
	if e.store != nil {
		e.store.Close()
	}
}

// loadConfig reads settings and builds the stderr logger
func loadConfig() (config.Config, *slog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return cfg, nil, fmt.Errorf("failed to load config: %w", err)
	}
	logger := config.NewLogger(cfg, os.Stderr)
	slog.SetDefault(logger)
	return cfg, logger, nil
}

// openEnv loads config and opens the graph store
func openEnv() (*env, error) {
	cfg, logger, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if cfg.Embeddings != "local" {
		return nil, fmt.Errorf("unsupported embeddings backend %q (supported: local)", cfg.Embeddings)
	}
	st, err := store.Open(cfg.DataDir, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open graph store: %w", err)
	}
	return &env{cfg: cfg, logger: logger, store: st}, nil
}

// graphName resolves the --graph flag against the configured default
func graphName(cmd *cobra.Command, cfg config.Config) string {
	if name, _ := cmd.Flags().GetString("graph"); name != "" {
		return name
	}
	return cfg.DefaultGraph
}
