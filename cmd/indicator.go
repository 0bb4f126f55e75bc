package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/CanopyHQ/tributary/internal/cag"
	"github.com/spf13/cobra"
)

var indicatorCmd = &cobra.Command{
	Use:   "indicator",
	Short: "Attach and edit the indicators grounding a concept",
	Long: `Attach, replace and edit the indicators of a concept.

Settable attributes: source, unit, mean, value, stdev, time, aggaxes,
aggregation_method, timeseries, samples. List attributes take comma-separated
values or a JSON array.

Examples:
  tributary indicator add "crop yield" NDVI --source MODIS -g food-security
  tributary indicator set "crop yield" NDVI mean 0.42 -g food-security
  tributary indicator set "crop yield" NDVI timeseries 0.3,0.5,0.4 -g food-security
  tributary indicator replace "crop yield" NDVI EVI --source MODIS -g food-security
  tributary indicator list "crop yield" -g food-security
  tributary indicator clear "crop yield" -g food-security`,
}

func init() {
	addCmd := &cobra.Command{
		Use:   "add <concept> <indicator>",
		Short: "Attach a fresh indicator",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			source, _ := cmd.Flags().GetString("source")
			return runIndicatorAdd(cmd, args[0], args[1], source)
		},
	}
	addCmd.Flags().String("source", "", "Data source")
	indicatorCmd.AddCommand(addCmd)

	replaceCmd := &cobra.Command{
		Use:   "replace <concept> <old> <new>",
		Short: "Swap an indicator for a fresh one at the same position",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			source, _ := cmd.Flags().GetString("source")
			return runIndicatorReplace(cmd, args[0], args[1], args[2], source)
		},
	}
	replaceCmd.Flags().String("source", "", "Data source of the replacement")
	indicatorCmd.AddCommand(replaceCmd)

	indicatorCmd.AddCommand(&cobra.Command{
		Use:   "set <concept> <indicator> <attribute> <value>",
		Short: "Set one attribute",
		Args:  cobra.ExactArgs(4),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIndicatorSet(cmd, args[0], args[1], args[2], args[3])
		},
	})
	indicatorCmd.AddCommand(&cobra.Command{
		Use:   "get <concept> <indicator> <attribute>",
		Short: "Print one attribute",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIndicatorGet(cmd, args[0], args[1], args[2])
		},
	})
	indicatorCmd.AddCommand(&cobra.Command{
		Use:   "list <concept>",
		Short: "Print a concept's indicators as JSON",
		Args:  cobra.ExactArgs(1),
		RunE:  func(cmd *cobra.Command, args []string) error { return runIndicatorList(cmd, args[0]) },
	})
	indicatorCmd.AddCommand(&cobra.Command{
		Use:   "clear <concept>",
		Short: "Detach every indicator",
		Args:  cobra.ExactArgs(1),
		RunE:  func(cmd *cobra.Command, args []string) error { return runIndicatorClear(cmd, args[0]) },
	})
}

// withNode loads the graph, runs fn on the concept and saves when asked
func withNode(cmd *cobra.Command, concept string, save bool, fn func(n *cag.Node) error) error {
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
	if err := fn(n); err != nil {
		return err
	}
	if save {
		if _, err := e.store.SaveGraph(ctx, g); err != nil {
			return fmt.Errorf("failed to save graph: %w", err)
		}
	}
	return nil
}

func runIndicatorAdd(cmd *cobra.Command, concept, name, source string) error {
	return withNode(cmd, concept, true, func(n *cag.Node) error {
		err := n.AddIndicator(name, source)
		if errors.Is(err, cag.ErrDuplicate) {
			fmt.Printf("⚠️  %s is already attached to %s; left unchanged\n", name, concept)
			return nil
		}
		if err != nil {
			return err
		}
		fmt.Printf("✅ Attached %s to %s\n", name, concept)
		return nil
	})
}

func runIndicatorReplace(cmd *cobra.Command, concept, oldName, newName, source string) error {
	return withNode(cmd, concept, true, func(n *cag.Node) error {
		replaced, err := n.ReplaceIndicator(oldName, newName, source)
		if err != nil {
			return err
		}
		if replaced {
			fmt.Printf("✅ Replaced %s with %s on %s\n", oldName, newName, concept)
		} else {
			fmt.Printf("✅ %s was not attached; attached %s to %s\n", oldName, newName, concept)
		}
		return nil
	})
}

// parseValue turns command-line text into a value of the attribute's kind
func parseValue(attr cag.Attribute, text string) (cag.Value, error) {
	switch attr.Kind() {
	case cag.KindFloat:
		f, err := strconv.ParseFloat(strings.TrimSpace(text), 64)
		if err != nil {
			return cag.Value{}, fmt.Errorf("%s needs a number: %w", attr, err)
		}
		return cag.FloatValue(f), nil

	case cag.KindStrings, cag.KindFloats:
		var raw any
		if strings.HasPrefix(strings.TrimSpace(text), "[") {
			if err := json.Unmarshal([]byte(text), &raw); err != nil {
				return cag.Value{}, fmt.Errorf("%s: invalid JSON array: %w", attr, err)
			}
			return cag.ValueFromAny(attr, raw)
		}
		var items []any
		for _, part := range strings.Split(text, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			if attr.Kind() == cag.KindFloats {
				f, err := strconv.ParseFloat(part, 64)
				if err != nil {
					return cag.Value{}, fmt.Errorf("%s needs numbers: %w", attr, err)
				}
				items = append(items, f)
			} else {
				items = append(items, part)
			}
		}
		return cag.ValueFromAny(attr, items)

	default:
		return cag.StringValue(text), nil
	}
}

func runIndicatorSet(cmd *cobra.Command, concept, indicator, key, text string) error {
	attr, err := cag.ParseAttribute(key)
	if err != nil {
		return err
	}
	v, err := parseValue(attr, text)
	if err != nil {
		return err
	}
	return withNode(cmd, concept, true, func(n *cag.Node) error {
		if err := n.SetIndicatorAttribute(indicator, attr, v); err != nil {
			return err
		}
		fmt.Printf("✅ %s.%s = %v\n", indicator, attr, v.Any())
		return nil
	})
}

func runIndicatorGet(cmd *cobra.Command, concept, indicator, key string) error {
	attr, err := cag.ParseAttribute(key)
	if err != nil {
		return err
	}
	return withNode(cmd, concept, false, func(n *cag.Node) error {
		v, err := n.IndicatorAttribute(indicator, attr)
		if err != nil {
			return err
		}
		out, err := json.Marshal(v.Any())
		if err != nil {
			// NaN and ±Inf have no JSON form
			fmt.Println(v.Any())
			return nil
		}
		fmt.Println(string(out))
		return nil
	})
}

func runIndicatorList(cmd *cobra.Command, concept string) error {
	return withNode(cmd, concept, false, func(n *cag.Node) error {
		out, err := json.MarshalIndent(n.Indicators(), "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	})
}

func runIndicatorClear(cmd *cobra.Command, concept string) error {
	return withNode(cmd, concept, true, func(n *cag.Node) error {
		count := n.NumIndicators()
		n.ClearIndicators()
		fmt.Printf("✅ Detached %d indicator(s) from %s\n", count, concept)
		return nil
	})
}
