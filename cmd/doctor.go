package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/CanopyHQ/tributary/internal/config"
	"github.com/CanopyHQ/tributary/internal/store"
	"github.com/spf13/cobra"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Diagnose common setup issues",
	Long: `Diagnose common setup issues and optionally fix them.

Examples:
  tributary doctor        # check for issues
  tributary doctor --fix  # check and auto-fix issues`,
	RunE: func(cmd *cobra.Command, args []string) error {
		fix, _ := cmd.Flags().GetBool("fix")
		return runDoctor(fix)
	},
}

func init() {
	doctorCmd.Flags().Bool("fix", false, "Attempt to automatically fix issues")
}

// runDoctor diagnoses common setup issues
func runDoctor(fix bool) error {
	fmt.Println("🔍 Tributary Doctor - Diagnosing Setup")
	if fix {
		fmt.Println("🛠️  Auto-fix enabled")
	}
	fmt.Println()

	issues := 0
	warnings := 0
	fixed := 0

	// 1. Configuration
	fmt.Print("✓ Loading configuration... ")
	cfg, logger, err := loadConfig()
	if err != nil {
		fmt.Println("❌ FAILED")
		fmt.Printf("  Issue: %v\n", err)
		fmt.Printf("  Fix: Correct or remove %s\n", filepath.Join(cfg.DataDir, config.FileName))
		return fmt.Errorf("found 1 critical issue(s)")
	}
	fmt.Printf("✅ OK (default graph %q, log level %s)\n", cfg.DefaultGraph, cfg.LogLevel)

	// 2. Data directory
	fmt.Print("✓ Checking data directory... ")
	if _, err := os.Stat(cfg.DataDir); os.IsNotExist(err) {
		if fix {
			fmt.Print("🛠️  Creating... ")
			if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
				fmt.Printf("❌ FAILED: %v\n", err)
				issues++
			} else {
				fmt.Println("✅ FIXED")
				fixed++
			}
		} else {
			fmt.Println("⚠️  WARNING")
			fmt.Printf("  Data directory does not exist: %s\n", cfg.DataDir)
			fmt.Println("  It will be created on first run")
			warnings++
		}
	} else {
		fmt.Printf("✅ OK (%s)\n", cfg.DataDir)
	}

	// 3. config.yaml
	fmt.Print("✓ Checking config file... ")
	cfgPath := filepath.Join(cfg.DataDir, config.FileName)
	if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
		if fix {
			fmt.Print("🛠️  Writing defaults... ")
			if err := config.Save(cfg); err != nil {
				fmt.Printf("❌ FAILED: %v\n", err)
				issues++
			} else {
				fmt.Println("✅ FIXED")
				fixed++
			}
		} else {
			fmt.Println("⚠️  SKIPPED (using defaults)")
		}
	} else {
		fmt.Println("✅ OK")
	}

	// 4. Embeddings backend
	fmt.Print("✓ Checking embeddings backend... ")
	if cfg.Embeddings != "local" {
		fmt.Println("❌ FAILED")
		fmt.Printf("  Issue: unsupported embeddings backend %q\n", cfg.Embeddings)
		fmt.Println("  Fix: Set 'embeddings: local' in config.yaml")
		issues++
	} else {
		fmt.Println("✅ OK (local)")
	}

	// 5. SQLite database and vector search
	fmt.Print("✓ Checking SQLite database... ")
	dbPath := filepath.Join(cfg.DataDir, store.DBFile)
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		fmt.Println("⚠️  WARNING")
		fmt.Printf("  Database not found: %s\n", dbPath)
		fmt.Println("  It will be created on first run")
		warnings++
	} else {
		fmt.Println("✅ OK")

		if st, err := store.Open(cfg.DataDir, logger); err != nil {
			fmt.Printf("  ❌ Cannot open database: %v\n", err)
			issues++
		} else {
			i, w := checkStoredGraphs(st)
			issues += i
			warnings += w
			st.Close()
		}
	}

	// 6. Environment
	fmt.Print("✓ Checking environment... ")
	fmt.Printf("✅ OK (%s/%s, %d fit worker(s))\n", runtime.GOOS, runtime.GOARCH, cfg.FitWorkers)

	// Summary
	fmt.Println()
	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	if issues == 0 && warnings == 0 {
		fmt.Println("✅ All checks passed! Tributary is ready to use.")
	} else {
		if fixed > 0 {
			fmt.Printf("🛠️  Auto-fixed %d issue(s)\n", fixed)
		}
		if issues > 0 {
			fmt.Printf("❌ Found %d critical issue(s)\n", issues)
		}
		if warnings > 0 {
			fmt.Printf("⚠️  Found %d warning(s)\n", warnings)
		}
		fmt.Println()
		fmt.Println("Run the suggested fixes above to resolve issues.")
	}
	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")

	if issues > 0 {
		return fmt.Errorf("found %d critical issue(s)", issues)
	}
	return nil
}

// checkStoredGraphs reports vector search status and loads every graph
func checkStoredGraphs(st *store.Store) (issues, warnings int) {
	ctx := context.Background()

	fmt.Print("✓ Checking vector search... ")
	if st.Catalog().VectorSearch() {
		fmt.Println("✅ OK (sqlite-vec)")
	} else {
		fmt.Println("⚠️  WARNING")
		fmt.Println("  sqlite-vec is unavailable; suggestions fall back to a linear scan")
		warnings++
	}

	fmt.Print("✓ Checking stored graphs... ")
	graphs, err := st.ListGraphs(ctx)
	if err != nil {
		fmt.Printf("❌ FAILED: %v\n", err)
		return issues + 1, warnings
	}
	var broken []string
	for _, info := range graphs {
		g, err := st.LoadGraph(ctx, info.Name)
		if err == nil {
			err = g.Validate()
		}
		if err != nil {
			broken = append(broken, fmt.Sprintf("%s: %v", info.Name, err))
		}
	}
	if len(broken) > 0 {
		fmt.Println("❌ FAILED")
		for _, b := range broken {
			fmt.Printf("  Issue: %s\n", b)
		}
		fmt.Println("  Fix: Re-import the graph or delete it with 'tributary graph delete -g <name>'")
		return issues + len(broken), warnings
	}
	fmt.Printf("✅ OK (%d graph(s))\n", len(graphs))
	return issues, warnings
}
