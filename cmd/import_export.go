package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/CanopyHQ/tributary/internal/bundle"
	"github.com/CanopyHQ/tributary/internal/cag"
	"github.com/CanopyHQ/tributary/internal/git"
	"github.com/CanopyHQ/tributary/internal/importer"
	"github.com/spf13/cobra"
)

var importCmd = &cobra.Command{
	Use:   "import <kind> <path>",
	Short: "Import statements, text, indicators or a bundle",
	Long: `Import data into a graph. The graph is created when it does not exist yet.

Supported kinds:
  statements  - JSON array, single object or JSONL of {"subject", "object", "relation"}
  text        - plain text; causal sentences are extracted ("-" reads stdin)
  indicators  - JSON or YAML mapping of concept to indicator records
  bundle      - a .cagf bundle produced by 'tributary export bundle'

Examples:
  tributary import statements statements.jsonl -g food-security
  tributary import text report.txt -g food-security --relation drives
  tributary import indicators grounding.yaml -g food-security --clear
  tributary import bundle food-security.cagf`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error { return runImport(cmd, args[0], args[1]) },
}

var exportCmd = &cobra.Command{
	Use:   "export [format] [output]",
	Short: "Export a graph",
	Long: `Export a graph to a file.

Supported formats:
  bundle    - portable .cagf bundle (default)
  json      - graph snapshot as JSON
  model     - model description (variables, indicators, time step) as JSON
  markdown  - readable outline

If no output path is given, a default filename is generated.

Examples:
  tributary export -g food-security
  tributary export json food-security.json -g food-security
  tributary export markdown -g food-security`,
	Args: cobra.MaximumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		format, output := "bundle", ""
		if len(args) >= 1 {
			format = args[0]
		}
		if len(args) >= 2 {
			output = args[1]
		}
		return runExport(cmd, format, output)
	},
}

func init() {
	importCmd.Flags().String("relation", importer.DefaultRelation, "Relation name for extracted text statements")
	importCmd.Flags().Bool("clear", false, "Detach existing indicators before grounding a concept")
	importCmd.Flags().Bool("force", false, "Overwrite an existing graph when importing a bundle")

	exportCmd.Flags().String("description", "", "Bundle description")
	exportCmd.Flags().String("author", "", "Bundle author (defaults to the git user of the current repository)")
}

func runImport(cmd *cobra.Command, kind, path string) error {
	if kind == "bundle" {
		force, _ := cmd.Flags().GetBool("force")
		return runImportBundle(cmd, path, force)
	}

	e, err := openEnv()
	if err != nil {
		return err
	}
	defer e.Close()

	ctx := context.Background()
	g, err := loadOrCreateGraph(ctx, e, graphName(cmd, e.cfg))
	if err != nil {
		return err
	}
	imp := importer.New(g)

	var result *importer.ImportResult
	switch kind {
	case "statements":
		fmt.Printf("Importing statements from file: %s\n", path)
		result, err = imp.ImportStatementsFile(ctx, path)

	case "text":
		relation, _ := cmd.Flags().GetString("relation")
		var r io.Reader = os.Stdin
		if path != "-" {
			f, ferr := os.Open(path)
			if ferr != nil {
				return fmt.Errorf("cannot access path: %w", ferr)
			}
			defer f.Close()
			r = f
		}
		fmt.Printf("Extracting statements from text: %s\n", path)
		result, err = imp.ImportText(ctx, r, relation)

	case "indicators":
		clear, _ := cmd.Flags().GetBool("clear")
		fmt.Printf("Grounding concepts from file: %s\n", path)
		result, err = imp.ImportIndicatorsFile(ctx, path, clear)

	default:
		return fmt.Errorf("unknown kind: %s (supported: statements, text, indicators, bundle)", kind)
	}
	if err != nil {
		return fmt.Errorf("import failed: %w", err)
	}

	if _, err := e.store.SaveGraph(ctx, g); err != nil {
		return fmt.Errorf("failed to save graph: %w", err)
	}
	printImportResult(g.Name(), result)
	return nil
}

func printImportResult(graph string, result *importer.ImportResult) {
	fmt.Printf("\n✅ Import into %s complete!\n", graph)
	fmt.Printf("   Records processed: %d\n", result.RecordsProcessed)
	fmt.Printf("   Statements added: %d\n", result.StatementsAdded)
	fmt.Printf("   Concepts created: %d\n", result.ConceptsCreated)
	fmt.Printf("   Relations created: %d\n", result.EdgesCreated)
	if result.IndicatorsSet > 0 {
		fmt.Printf("   Indicators set: %d\n", result.IndicatorsSet)
	}
	fmt.Printf("   Duration: %s\n", result.Duration.Round(time.Millisecond))

	if len(result.Errors) > 0 {
		fmt.Printf("\n⚠️  Errors (%d):\n", len(result.Errors))
		for i, e := range result.Errors {
			if i >= 5 {
				fmt.Printf("   ... and %d more\n", len(result.Errors)-5)
				break
			}
			fmt.Printf("   - %s\n", e)
		}
	}
}

func runImportBundle(cmd *cobra.Command, path string, force bool) error {
	payload, err := bundle.Unpack(path)
	if err != nil {
		return fmt.Errorf("failed to read bundle: %w", err)
	}

	e, err := openEnv()
	if err != nil {
		return err
	}
	defer e.Close()

	g, err := payload.Rebuild(cag.WithLogger(e.logger))
	if err != nil {
		return fmt.Errorf("bundle graph is invalid: %w", err)
	}
	if name, _ := cmd.Flags().GetString("graph"); name != "" {
		g.SetName(name)
	}

	ctx := context.Background()
	exists, err := e.store.Exists(ctx, g.Name())
	if err != nil {
		return err
	}
	if exists && !force {
		return fmt.Errorf("graph %q %w (use --force to overwrite)", g.Name(), cag.ErrDuplicate)
	}
	info, err := e.store.SaveGraph(ctx, g)
	if err != nil {
		return fmt.Errorf("failed to save graph: %w", err)
	}

	m := payload.Manifest
	fmt.Printf("✅ Imported bundle %s as graph %s\n", m.ID, info.Name)
	if m.Author != "" {
		fmt.Printf("   Author: %s\n", m.Author)
	}
	if m.Description != "" {
		fmt.Printf("   Description: %s\n", m.Description)
	}
	fmt.Printf("   %d concepts, %d indicators, %d relations, %d statements\n",
		info.Concepts, info.Indicators, info.Relations, info.Statements)
	return nil
}

// runExport writes the selected graph to a file
func runExport(cmd *cobra.Command, format, output string) error {
	e, err := openEnv()
	if err != nil {
		return err
	}
	defer e.Close()

	g, err := loadGraph(context.Background(), e, graphName(cmd, e.cfg))
	if err != nil {
		return err
	}

	if output == "" {
		timestamp := time.Now().Format("2006-01-02")
		ext := format
		switch format {
		case "bundle":
			ext = strings.TrimPrefix(bundle.Extension, ".")
		case "markdown":
			ext = "md"
		case "model":
			ext = "model.json"
		}
		output = fmt.Sprintf("%s-%s.%s", g.Name(), timestamp, ext)
	}

	var data []byte
	switch format {
	case "bundle":
		description, _ := cmd.Flags().GetString("description")
		author, _ := cmd.Flags().GetString("author")
		if author == "" {
			author = git.DefaultAuthor()
		}
		manifest := bundle.NewManifest(g.Snapshot(), description, author)
		if err := bundle.Package(g, manifest, output); err != nil {
			return fmt.Errorf("failed to write bundle: %w", err)
		}
		fmt.Printf("✅ Exported graph %s to %s (bundle %s)\n", g.Name(), output, manifest.ID)
		return nil

	case "json":
		data, err = json.MarshalIndent(g.Snapshot(), "", "  ")

	case "model":
		data, err = json.MarshalIndent(bundle.Describe(g), "", "  ")

	case "markdown", "md":
		data = []byte(graphMarkdown(g))

	default:
		return fmt.Errorf("unknown format: %s (supported: bundle, json, model, markdown)", format)
	}
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}

	if err := os.WriteFile(output, data, 0644); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}
	fmt.Printf("✅ Exported graph %s to %s\n", g.Name(), output)
	return nil
}

func graphMarkdown(g *cag.Graph) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "# %s\n\n", g.Name())
	fmt.Fprintf(&sb, "Exported: %s\n\n", time.Now().Format("2006-01-02 15:04:05"))
	fmt.Fprintf(&sb, "%d concepts, %d relations\n\n", g.NumConcepts(), g.NumEdges())

	sb.WriteString("## Concepts\n\n")
	for _, id := range g.Concepts() {
		n, _ := g.Node(id)
		fmt.Fprintf(&sb, "### %s\n\n", n.Name())
		inds := n.Indicators()
		if len(inds) == 0 {
			sb.WriteString("*No indicators*\n\n")
			continue
		}
		sb.WriteString("| Indicator | Source | Unit | Mean | Stdev |\n")
		sb.WriteString("|---|---|---|---|---|\n")
		for _, ind := range inds {
			fmt.Fprintf(&sb, "| %s | %s | %s | %g | %g |\n", ind.Name, ind.Source, ind.Unit, ind.Mean, ind.Stdev)
		}
		sb.WriteString("\n")
	}

	sb.WriteString("## Relations\n\n")
	for _, id := range g.Edges() {
		src, dst, _ := g.Endpoints(id)
		sn, _ := g.Node(src)
		dn, _ := g.Node(dst)
		edge, _ := g.Edge(id)
		fmt.Fprintf(&sb, "- **%s** %s **%s** (beta %g)\n", sn.Name(), edge.Name(), dn.Name(), edge.Beta())
		for _, st := range edge.Evidence() {
			fmt.Fprintf(&sb, "  - %s → %s\n", eventText(st.Subject), eventText(st.Object))
		}
	}
	return sb.String()
}

func eventText(ev cag.Event) string {
	dir := ""
	switch {
	case ev.Polarity > 0:
		dir = "↑ "
	case ev.Polarity < 0:
		dir = "↓ "
	}
	if ev.Adjective != "" {
		return dir + ev.Adjective + " " + ev.Concept
	}
	return dir + ev.Concept
}
