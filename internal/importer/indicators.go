package importer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/CanopyHQ/tributary/internal/cag"
	"gopkg.in/yaml.v3"
)

// IndicatorOptions controls ImportIndicators
type IndicatorOptions struct {
	// Clear detaches a concept's existing indicators before grounding it
	Clear bool
	// YAML parses the input as YAML instead of JSON
	YAML bool
}

// ImportIndicatorsFile reads a grounding file; .yaml and .yml are parsed as YAML
func (i *Importer) ImportIndicatorsFile(ctx context.Context, filePath string, clear bool) (*ImportResult, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	ext := strings.ToLower(filepath.Ext(filePath))
	opts := IndicatorOptions{Clear: clear, YAML: ext == ".yaml" || ext == ".yml"}
	return i.ImportIndicators(ctx, bytes.NewReader(data), opts)
}

// ImportIndicators grounds concepts from a mapping of concept name to indicator
// records, e.g. {"crop yield": [{"name": "NDVI", "source": "MODIS", "mean": 0.4}]}.
// Concepts are created when missing. Each record is attached with AddIndicator and
// its remaining keys are written with SetIndicatorAttribute; an indicator that is
// already attached keeps its data and is reported in Errors. A record with any key
// that does not convert is reported and not attached.
func (i *Importer) ImportIndicators(ctx context.Context, r io.Reader, opts IndicatorOptions) (*ImportResult, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read indicators: %w", err)
	}
	var doc map[string][]map[string]any
	if opts.YAML {
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("failed to parse YAML: %w", err)
		}
	} else if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse JSON: %w", err)
	}

	start := time.Now()
	result := &ImportResult{}
	before := i.counts()

	concepts := make([]string, 0, len(doc))
	for c := range doc {
		concepts = append(concepts, c)
	}
	sort.Strings(concepts)

	for _, concept := range concepts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		id, _ := i.graph.AddConcept(concept)
		node, err := i.graph.Node(id)
		if err != nil {
			return nil, err
		}
		if opts.Clear {
			node.ClearIndicators()
		}
		for _, rec := range doc[concept] {
			result.RecordsProcessed++
			if err := applyIndicator(node, rec); err != nil {
				result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", concept, err))
				continue
			}
			result.IndicatorsSet++
		}
	}
	i.finish(result, before, start)
	return result, nil
}

// applyIndicator converts every key of rec before attaching anything, so a
// record with a bad key leaves the node untouched
func applyIndicator(node *cag.Node, rec map[string]any) error {
	name, _ := rec["name"].(string)
	if name == "" {
		return fmt.Errorf("indicator record without a name")
	}
	source, ok := scalarString(rec["source"]).(string)
	if !ok && rec["source"] != nil {
		return fmt.Errorf("indicator %q: source must be a string, got %T", name, rec["source"])
	}

	keys := make([]string, 0, len(rec))
	for k := range rec {
		if k != "name" && k != "source" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	attrs := make([]cag.Attribute, 0, len(keys))
	values := make([]cag.Value, 0, len(keys))
	var errs []string
	for _, k := range keys {
		attr, err := cag.ParseAttribute(k)
		if err != nil {
			errs = append(errs, err.Error())
			continue
		}
		v, err := cag.ValueFromAny(attr, coerce(attr, rec[k]))
		if err != nil {
			errs = append(errs, err.Error())
			continue
		}
		attrs = append(attrs, attr)
		values = append(values, v)
	}
	if len(errs) > 0 {
		return fmt.Errorf("indicator %q not attached: %s", name, strings.Join(errs, "; "))
	}

	if err := node.AddIndicator(name, source); err != nil {
		return err
	}
	for i, attr := range attrs {
		if err := node.SetIndicatorAttribute(name, attr, values[i]); err != nil {
			errs = append(errs, err.Error())
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("indicator %q: %s", name, strings.Join(errs, "; "))
	}
	return nil
}

// coerce bends what a YAML decoder produces into the kind attr expects: an
// unquoted date becomes a time.Time and an unquoted 10 a number, but time, unit
// and aggaxes hold strings
func coerce(attr cag.Attribute, v any) any {
	switch attr.Kind() {
	case cag.KindString:
		return scalarString(v)
	case cag.KindStrings:
		list, ok := v.([]any)
		if !ok {
			return v
		}
		out := make([]any, len(list))
		for i, item := range list {
			out[i] = scalarString(item)
		}
		return out
	default:
		return normalizeNumbers(v)
	}
}

// scalarString renders YAML scalars as the text they were written as
func scalarString(v any) any {
	switch x := v.(type) {
	case time.Time:
		if h, m, sec := x.Clock(); h == 0 && m == 0 && sec == 0 && x.Nanosecond() == 0 {
			return x.Format(time.DateOnly)
		}
		return x.Format(time.RFC3339)
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	default:
		return v
	}
}

// normalizeNumbers turns the integers YAML produces into float64 so both decoders
// feed ValueFromAny the same shapes
func normalizeNumbers(v any) any {
	switch x := v.(type) {
	case int:
		return float64(x)
	case int64:
		return float64(x)
	case []any:
		out := make([]any, len(x))
		for i, item := range x {
			out[i] = normalizeNumbers(item)
		}
		return out
	default:
		return v
	}
}
