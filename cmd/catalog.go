package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/CanopyHQ/tributary/internal/catalog"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "Manage the indicator catalog used for grounding suggestions",
	Long: `Manage the catalog of known indicators. Suggestions rank catalog entries
by embedding similarity to a concept name; grounding attaches the best ones.

Catalog files are YAML (or JSON) lists of entries:
  - name: Average precipitation
    source: WB
    unit: mm
    description: yearly rainfall

Examples:
  tributary catalog add indicators.yaml
  tributary catalog list
  tributary catalog suggest "crop yield" --limit 3
  tributary catalog ground "crop yield" --limit 2 -g food-security`,
}

func init() {
	catalogCmd.AddCommand(&cobra.Command{
		Use:   "add <file>",
		Short: "Add or update entries from a YAML or JSON file",
		Args:  cobra.ExactArgs(1),
		RunE:  func(cmd *cobra.Command, args []string) error { return runCatalogAdd(args[0]) },
	})
	catalogCmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List catalog entries",
		RunE:  func(cmd *cobra.Command, args []string) error { return runCatalogList() },
	})
	catalogCmd.AddCommand(&cobra.Command{
		Use:   "remove <source> <name>",
		Short: "Remove one entry",
		Args:  cobra.ExactArgs(2),
		RunE:  func(cmd *cobra.Command, args []string) error { return runCatalogRemove(args[0], args[1]) },
	})

	suggestCmd := &cobra.Command{
		Use:   "suggest <concept>",
		Short: "Rank catalog entries for a concept",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			limit, _ := cmd.Flags().GetInt("limit")
			return runCatalogSuggest(args[0], limit)
		},
	}
	suggestCmd.Flags().Int("limit", 5, "Maximum suggestions")
	catalogCmd.AddCommand(suggestCmd)

	groundCmd := &cobra.Command{
		Use:   "ground <concept>",
		Short: "Attach the top suggestions to a concept",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			limit, _ := cmd.Flags().GetInt("limit")
			return runCatalogGround(cmd, args[0], limit)
		},
	}
	groundCmd.Flags().Int("limit", 1, "Number of indicators to attach")
	catalogCmd.AddCommand(groundCmd)
}

func runCatalogAdd(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read file: %w", err)
	}
	// YAML is a superset of JSON, so one decoder serves both
	var entries []catalog.Entry
	if err := yaml.Unmarshal(data, &entries); err != nil {
		return fmt.Errorf("failed to parse catalog file: %w", err)
	}

	e, err := openEnv()
	if err != nil {
		return err
	}
	defer e.Close()

	n, err := e.store.Catalog().Add(context.Background(), entries...)
	if err != nil {
		return fmt.Errorf("failed after %d entries: %w", n, err)
	}
	fmt.Printf("✅ Added %d catalog entries\n", n)
	return nil
}

func runCatalogList() error {
	e, err := openEnv()
	if err != nil {
		return err
	}
	defer e.Close()

	entries, err := e.store.Catalog().List(context.Background())
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Println("Catalog is empty. Add entries with 'tributary catalog add <file>'.")
		return nil
	}
	for _, en := range entries {
		fmt.Printf("%-12s %s", en.Source, en.Name)
		if en.Unit != "" {
			fmt.Printf(" (%s)", en.Unit)
		}
		fmt.Println()
	}
	return nil
}

func runCatalogRemove(source, name string) error {
	e, err := openEnv()
	if err != nil {
		return err
	}
	defer e.Close()

	if err := e.store.Catalog().Remove(context.Background(), source, name); err != nil {
		return err
	}
	fmt.Printf("✅ Removed %s/%s\n", source, name)
	return nil
}

func runCatalogSuggest(concept string, limit int) error {
	e, err := openEnv()
	if err != nil {
		return err
	}
	defer e.Close()

	suggestions, err := e.store.Catalog().SuggestIndicators(context.Background(), concept, limit)
	if err != nil {
		return err
	}
	if len(suggestions) == 0 {
		fmt.Printf("No catalog entries to suggest for %s\n", concept)
		return nil
	}
	fmt.Printf("Suggested indicators for %s:\n", concept)
	for i, s := range suggestions {
		fmt.Printf("  %d. %s [%s] score %.3f\n", i+1, s.Name, s.Source, s.Score)
	}
	return nil
}

func runCatalogGround(cmd *cobra.Command, concept string, limit int) error {
	e, err := openEnv()
	if err != nil {
		return err
	}
	defer e.Close()

	ctx := context.Background()
	g, err := loadGraph(ctx, e, graphName(cmd, e.cfg))
	if err != nil {
		return err
	}
	n, err := g.NodeByName(concept)
	if err != nil {
		return err
	}
	res, err := e.store.Catalog().Ground(ctx, n, limit)
	if err != nil {
		return fmt.Errorf("grounding failed: %w", err)
	}
	if _, err := e.store.SaveGraph(ctx, g); err != nil {
		return fmt.Errorf("failed to save graph: %w", err)
	}

	for _, name := range res.Attached {
		fmt.Printf("✅ Attached %s\n", name)
	}
	for _, name := range res.Skipped {
		fmt.Printf("⚠️  %s already attached\n", name)
	}
	if len(res.Attached) == 0 && len(res.Skipped) == 0 {
		fmt.Printf("No catalog entries to ground %s with\n", concept)
	}
	fmt.Printf("%s now has %d indicator(s)\n", concept, n.NumIndicators())
	return nil
}
