package cmd

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"slices"
	"strings"
	"time"

	"github.com/CanopyHQ/tributary/internal/cag"
	"github.com/CanopyHQ/tributary/internal/store"
	"github.com/spf13/cobra"
)

var graphCmd = &cobra.Command{
	Use:   "graph",
	Short: "Create, inspect and delete graphs",
	Long: `Manage stored causal analysis graphs.

Examples:
  tributary graph list
  tributary graph create -g food-security
  tributary graph show -g food-security
  tributary graph fit -g food-security --set-beta
  tributary graph delete -g food-security`,
}

func init() {
	graphCmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List stored graphs",
		RunE:  func(cmd *cobra.Command, args []string) error { return runGraphList() },
	})
	graphCmd.AddCommand(&cobra.Command{
		Use:   "create",
		Short: "Create an empty graph",
		RunE:  func(cmd *cobra.Command, args []string) error { return runGraphCreate(cmd) },
	})
	graphCmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print a graph's concepts, indicators and relations",
		RunE:  func(cmd *cobra.Command, args []string) error { return runGraphShow(cmd) },
	})
	graphCmd.AddCommand(&cobra.Command{
		Use:   "check",
		Short: "Verify a stored graph's internal consistency",
		RunE:  func(cmd *cobra.Command, args []string) error { return runGraphCheck(cmd) },
	})
	graphCmd.AddCommand(&cobra.Command{
		Use:   "delete",
		Short: "Delete a graph",
		RunE:  func(cmd *cobra.Command, args []string) error { return runGraphDelete(cmd) },
	})

	fitCmd := &cobra.Command{
		Use:   "fit",
		Short: "Fit a sign prior to every relation with evidence",
		Long: `Fit every relation that has evidence with a point-mass prior at the
mean sign of its statements. Fitting runs on fit_workers goroutines.

With --set-beta the prior mean is written to each relation's beta and the
graph is saved; densities themselves are not stored.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			setBeta, _ := cmd.Flags().GetBool("set-beta")
			return runGraphFit(cmd, setBeta)
		},
	}
	fitCmd.Flags().Bool("set-beta", false, "Write fitted means to beta and save")
	graphCmd.AddCommand(fitCmd)
}

func runGraphList() error {
	e, err := openEnv()
	if err != nil {
		return err
	}
	defer e.Close()

	graphs, err := e.store.ListGraphs(context.Background())
	if err != nil {
		return err
	}
	if len(graphs) == 0 {
		fmt.Println("No graphs yet. Create one with 'tributary graph create -g <name>'.")
		return nil
	}
	for _, g := range graphs {
		fmt.Printf("%-24s %3d concepts  %3d indicators  %3d relations  %4d statements  (updated %s)\n",
			g.Name, g.Concepts, g.Indicators, g.Relations, g.Statements, g.UpdatedAt.Local().Format("2006-01-02 15:04"))
	}
	return nil
}

func runGraphCreate(cmd *cobra.Command) error {
	e, err := openEnv()
	if err != nil {
		return err
	}
	defer e.Close()

	ctx := context.Background()
	name := graphName(cmd, e.cfg)
	exists, err := e.store.Exists(ctx, name)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("graph %q %w", name, cag.ErrDuplicate)
	}
	info, err := e.store.SaveGraph(ctx, cag.New(name, cag.WithLogger(e.logger)))
	if err != nil {
		return err
	}
	fmt.Printf("✅ Created graph %s (%s)\n", info.Name, info.ID)
	return nil
}

// loadGraph opens the named graph, pointing at graph create when it is missing
func loadGraph(ctx context.Context, e *env, name string) (*cag.Graph, error) {
	g, err := e.store.LoadGraph(ctx, name, cag.WithLogger(e.logger))
	if errors.Is(err, store.ErrGraphNotFound) {
		return nil, fmt.Errorf("graph %q does not exist (run 'tributary graph create -g %s')", name, name)
	}
	return g, err
}

// loadOrCreateGraph opens the named graph or starts an empty one
func loadOrCreateGraph(ctx context.Context, e *env, name string) (*cag.Graph, error) {
	g, err := e.store.LoadGraph(ctx, name, cag.WithLogger(e.logger))
	if errors.Is(err, store.ErrGraphNotFound) {
		return cag.New(name, cag.WithLogger(e.logger)), nil
	}
	return g, err
}

func runGraphShow(cmd *cobra.Command) error {
	e, err := openEnv()
	if err != nil {
		return err
	}
	defer e.Close()

	g, err := loadGraph(context.Background(), e, graphName(cmd, e.cfg))
	if err != nil {
		return err
	}
	fmt.Print(formatGraph(g))
	return nil
}

// formatGraph renders g as an indented outline
func formatGraph(g *cag.Graph) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Graph %s: %d concepts, %d relations\n", g.Name(), g.NumConcepts(), g.NumEdges())

	if g.NumConcepts() > 0 {
		sb.WriteString("\nConcepts:\n")
	}
	for _, id := range g.Concepts() {
		n, _ := g.Node(id)
		fmt.Fprintf(&sb, "  %s\n", n.Name())
		for _, ind := range n.Indicators() {
			fmt.Fprintf(&sb, "    - %s", ind.Name)
			if ind.Source != "" {
				fmt.Fprintf(&sb, " [%s]", ind.Source)
			}
			if ind.Unit != "" {
				fmt.Fprintf(&sb, " (%s)", ind.Unit)
			}
			fmt.Fprintf(&sb, " mean=%g\n", ind.Mean)
		}
	}

	if g.NumEdges() > 0 {
		sb.WriteString("\nRelations:\n")
	}
	for _, id := range g.Edges() {
		src, dst, _ := g.Endpoints(id)
		sn, _ := g.Node(src)
		dn, _ := g.Node(dst)
		edge, _ := g.Edge(id)
		fmt.Fprintf(&sb, "  %s --%s--> %s  beta=%g  statements=%d\n",
			sn.Name(), edge.Name(), dn.Name(), edge.Beta(), edge.NumEvidence())
	}
	return sb.String()
}

func runGraphCheck(cmd *cobra.Command) error {
	e, err := openEnv()
	if err != nil {
		return err
	}
	defer e.Close()

	g, err := loadGraph(context.Background(), e, graphName(cmd, e.cfg))
	if err != nil {
		return err
	}
	if err := g.Validate(); err != nil {
		return fmt.Errorf("graph %q is inconsistent: %w", g.Name(), err)
	}
	fmt.Printf("✅ Graph %s is consistent (%d concepts, %d relations)\n", g.Name(), g.NumConcepts(), g.NumEdges())
	return nil
}

func runGraphDelete(cmd *cobra.Command) error {
	e, err := openEnv()
	if err != nil {
		return err
	}
	defer e.Close()

	name := graphName(cmd, e.cfg)
	if err := e.store.DeleteGraph(context.Background(), name); err != nil {
		return fmt.Errorf("failed to delete graph: %w", err)
	}
	fmt.Printf("✅ Deleted graph %s\n", name)
	return nil
}

func runGraphFit(cmd *cobra.Command, setBeta bool) error {
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

	start := time.Now()
	res, err := cag.FitAll(ctx, g, cag.FitterFunc(fitSignPrior), e.cfg.FitWorkers)
	if err != nil {
		return fmt.Errorf("fit failed: %w", err)
	}

	for _, id := range g.Edges() {
		edge, _ := g.Edge(id)
		d, ok := edge.Density()
		if !ok {
			continue
		}
		if setBeta {
			edge.SetBeta(d.Mean())
		}
		src, dst, _ := g.Endpoints(id)
		sn, _ := g.Node(src)
		dn, _ := g.Node(dst)
		fmt.Printf("  %s -> %s: mean %+.2f over %d statement(s)\n", sn.Name(), dn.Name(), d.Mean(), edge.NumEvidence())
	}

	if setBeta {
		if _, err := e.store.SaveGraph(ctx, g); err != nil {
			return fmt.Errorf("failed to save graph: %w", err)
		}
	}
	fmt.Printf("✅ Fitted %d relation(s), skipped %d without evidence (%s)\n",
		res.Fitted, res.Skipped, time.Since(start).Round(time.Millisecond))
	return nil
}

// signPrior is a point mass at the mean sign of an edge's statements
type signPrior struct{ mean float64 }

func (p signPrior) PDF(x float64) float64 {
	if x == p.mean {
		return 1
	}
	return 0
}

func (p signPrior) Sample(_ *rand.Rand, n int) []float64 {
	return slices.Repeat([]float64{p.mean}, n)
}

func (p signPrior) Mean() float64 { return p.mean }

func fitSignPrior(evidence []cag.Statement) (cag.Density, error) {
	if len(evidence) == 0 {
		return nil, errors.New("no evidence")
	}
	sum := 0
	for _, s := range evidence {
		sum += s.Sign()
	}
	return signPrior{mean: float64(sum) / float64(len(evidence))}, nil
}
