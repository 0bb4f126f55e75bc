// Command generate creates starter .cagf bundles for common analysis domains.
// Each bundle holds a small curated causal graph with grounded concepts that
// analysts can import via `tributary import bundle <file.cagf>`.
//
// Usage:
//
//	go run ./bundles/generate
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/CanopyHQ/tributary/internal/bundle"
	"github.com/CanopyHQ/tributary/internal/cag"
)

const author = "Canopy Team"

// starter is one bundle written by the generator
type starter struct {
	filename    string
	description string
	build       func() (*cag.Graph, error)
}

func starters() []starter {
	return []starter{
		{
			filename:    "food-security" + bundle.Extension,
			description: "Drivers of food insecurity: weather, conflict and market prices, grounded with FAO, CHIRPS and ACLED indicators.",
			build:       foodSecurity,
		},
		{
			filename:    "climate-migration" + bundle.Extension,
			description: "How drought and flooding push displacement through livelihoods, grounded with UNHCR and World Bank indicators.",
			build:       climateMigration,
		},
	}
}

func main() {
	outputDir, _ := os.Getwd()
	if filepath.Base(outputDir) == "generate" {
		outputDir = filepath.Dir(outputDir)
	} else if _, err := os.Stat(filepath.Join(outputDir, "bundles")); err == nil {
		outputDir = filepath.Join(outputDir, "bundles")
	}

	for _, s := range starters() {
		g, err := s.build()
		if err != nil {
			fmt.Fprintf(os.Stderr, "ERROR: failed to build %s: %v\n", s.filename, err)
			os.Exit(1)
		}
		manifest := bundle.NewManifest(g.Snapshot(), s.description, author)
		outPath := filepath.Join(outputDir, s.filename)
		if err := bundle.Package(g, manifest, outPath); err != nil {
			fmt.Fprintf(os.Stderr, "ERROR: failed to create %s: %v\n", s.filename, err)
			os.Exit(1)
		}
		fmt.Printf("Created %s (%d concepts, %d statements)\n", outPath, manifest.Concepts, manifest.Statements)
	}

	fmt.Println("\nDone. Import with: tributary import bundle <file.cagf>")
}

// seed collects statements and indicators, stopping at the first error
type seed struct {
	g   *cag.Graph
	err error
}

func newSeed(name string) *seed { return &seed{g: cag.New(name)} }

// statement files "subject -> object" under the default relation. Polarity signs
// are +1 for an increase and -1 for a decrease.
func (s *seed) statement(subjAdj string, subjPol int, subject, objAdj string, objPol int, object string) *seed {
	if s.err != nil {
		return s
	}
	_, s.err = s.g.AddStatement("influences", cag.NewStatement(
		cag.NewEvent(subjAdj, subjPol, subject),
		cag.NewEvent(objAdj, objPol, object),
	))
	return s
}

func (s *seed) indicator(concept, name, source, unit string, mean float64) *seed {
	if s.err != nil {
		return s
	}
	n, err := s.g.NodeByName(concept)
	if err != nil {
		s.err = err
		return s
	}
	if s.err = n.AddIndicator(name, source); s.err != nil {
		return s
	}
	if unit != "" {
		if s.err = n.SetIndicatorAttribute(name, cag.AttrUnit, cag.StringValue(unit)); s.err != nil {
			return s
		}
	}
	s.err = n.SetIndicatorAttribute(name, cag.AttrMean, cag.FloatValue(mean))
	return s
}

func (s *seed) done() (*cag.Graph, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.g, s.g.Validate()
}

// ---------------------------------------------------------------------------
// Food security
// ---------------------------------------------------------------------------

func foodSecurity() (*cag.Graph, error) {
	return newSeed("food-security").
		statement("heavy", 1, "rainfall", "", 1, "crop yield").
		statement("", -1, "rainfall", "", -1, "crop yield").
		statement("", 1, "drought", "", -1, "crop yield").
		statement("", 1, "crop yield", "", -1, "food price").
		statement("", 1, "conflict", "", 1, "food price").
		statement("", 1, "conflict", "", -1, "market access").
		statement("", 1, "market access", "", 1, "food security").
		statement("", 1, "food price", "", -1, "food security").
		indicator("rainfall", "Average precipitation", "CHIRPS", "mm", 620).
		indicator("crop yield", "Crop production yield", "FAO", "tonnes/ha", 1.8).
		indicator("crop yield", "NDVI", "MODIS", "index", 0.42).
		indicator("food price", "Consumer price index", "WDI", "%", 104.5).
		indicator("conflict", "Battle-related deaths", "ACLED", "people", 310).
		indicator("food security", "Prevalence of undernourishment", "FAO", "%", 22.3).
		done()
}

// ---------------------------------------------------------------------------
// Climate and migration
// ---------------------------------------------------------------------------

func climateMigration() (*cag.Graph, error) {
	return newSeed("climate-migration").
		statement("severe", 1, "drought", "", -1, "livelihoods").
		statement("", 1, "flooding", "", -1, "livelihoods").
		statement("", 1, "flooding", "", 1, "displacement").
		statement("", -1, "livelihoods", "", 1, "displacement").
		statement("", 1, "displacement", "", 1, "humanitarian need").
		statement("", 1, "humanitarian aid", "", -1, "humanitarian need").
		indicator("drought", "Standardized precipitation index", "WB", "index", -1.2).
		indicator("livelihoods", "Household income", "WB", "USD", 1450).
		indicator("displacement", "Internally displaced persons", "UNHCR", "people", 120000).
		indicator("humanitarian need", "People in need", "OCHA", "people", 2400000).
		done()
}
