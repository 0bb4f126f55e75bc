package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/CanopyHQ/tributary/internal/mcp"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:     "serve",
	Aliases: []string{"mcp"},
	Short:   "Start MCP server (default)",
	Long: `Start the MCP server using stdio transport.

The server communicates via JSON-RPC over stdin/stdout and exposes graph,
concept, relation and indicator tools to an MCP client.

Examples:
  tributary serve
  tributary mcp`,
	RunE: func(cmd *cobra.Command, args []string) error { return runServe() },
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("tributary %s (commit: %s, built: %s)\n", Version, Commit, Date)
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show graph store statistics",
	Long: `Show current store statistics including stored graphs,
database size, catalog size and last activity.

Examples:
  tributary status`,
	RunE: func(cmd *cobra.Command, args []string) error { return runStatus() },
}

func runServe() error {
	fmt.Fprintln(os.Stderr, "🌊 Tributary - causal analysis graphs")
	fmt.Fprintln(os.Stderr, "Starting MCP server (stdio transport)...")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "This server communicates via JSON-RPC over stdin/stdout.")
	fmt.Fprintln(os.Stderr, "Press Ctrl+C to stop. Run 'tributary help' for available commands.")
	fmt.Fprintln(os.Stderr, "")

	mcp.Version = Version

	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	server, err := mcp.NewServer(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}
	defer server.Stop()

	return server.Start(context.Background())
}

func runStatus() error {
	e, err := openEnv()
	if err != nil {
		return err
	}
	defer e.Close()

	ctx := context.Background()
	server := mcp.NewServerWithStore(e.store, e.cfg.DefaultGraph, e.logger, os.Stdin, os.Stdout)
	stats := server.Stats(ctx)
	entries, _ := e.store.Catalog().Count(ctx)

	search := "linear scan"
	if stats.VectorSearch {
		search = "sqlite-vec"
	}
	fmt.Printf("Tributary Store Status:\n")
	fmt.Printf("  Data Directory: %s\n", e.store.DataDir())
	fmt.Printf("  Default Graph: %s\n", e.cfg.DefaultGraph)
	fmt.Printf("  Total Graphs: %d\n", stats.TotalGraphs)
	fmt.Printf("  Catalog Entries: %d (%s)\n", entries, search)
	fmt.Printf("  Database Size: %s\n", stats.DatabaseSize)
	fmt.Printf("  Last Activity: %s\n", stats.LastActivity)
	return nil
}
