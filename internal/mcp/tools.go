package mcp

import (
	"context"
	"errors"
	"fmt"

	"github.com/CanopyHQ/tributary/internal/bundle"
	"github.com/CanopyHQ/tributary/internal/cag"
	"github.com/CanopyHQ/tributary/internal/importer"
)

type toolFunc func(s *Server, ctx context.Context, args map[string]any) (any, error)

var toolHandlers = map[string]toolFunc{
	"list_graphs":             (*Server).toolListGraphs,
	"graph_stats":             (*Server).toolGraphStats,
	"create_graph":            (*Server).toolCreateGraph,
	"describe_graph":          (*Server).toolDescribeGraph,
	"add_concept":             (*Server).toolAddConcept,
	"add_relation":            (*Server).toolAddRelation,
	"describe_concept":        (*Server).toolDescribeConcept,
	"add_indicator":           (*Server).toolAddIndicator,
	"replace_indicator":       (*Server).toolReplaceIndicator,
	"set_indicator_attribute": (*Server).toolSetIndicatorAttribute,
	"get_indicator_attribute": (*Server).toolGetIndicatorAttribute,
	"clear_indicators":        (*Server).toolClearIndicators,
	"suggest_indicators":      (*Server).toolSuggestIndicators,
}

func prop(typ, description string) map[string]any {
	return map[string]any{"type": typ, "description": description}
}

func tool(name, description string, props map[string]any, required ...string) map[string]any {
	if props == nil {
		props = map[string]any{}
	}
	props["graph"] = prop("string", "Graph name (default: the configured default graph)")
	schema := map[string]any{"type": "object", "properties": props}
	if len(required) > 0 {
		schema["required"] = required
	}
	return map[string]any{"name": name, "description": description, "inputSchema": schema}
}

func toolDefinitions() []map[string]any {
	concept := func() map[string]any { return prop("string", "Concept name") }
	indicator := func() map[string]any { return prop("string", "Indicator name") }
	return []map[string]any{
		tool("list_graphs", "List stored causal analysis graphs with concept, relation and statement counts.", nil),
		tool("graph_stats", "Show statistics about the graph store.", nil),
		tool("create_graph", "Create an empty graph.", nil),
		tool("describe_graph", "Return the model description of a graph: variables, their indicators and the time step.", nil),
		tool("add_concept", "Add a concept to a graph. Adding an existing concept is a no-op.",
			map[string]any{"concept": concept()}, "concept"),
		tool("add_relation", "Add a causal relation between two concepts, optionally with one supporting statement.",
			map[string]any{
				"source":            prop("string", "Cause concept"),
				"target":            prop("string", "Effect concept"),
				"relation":          prop("string", "Relation name (default: influences)"),
				"subject_polarity":  prop("integer", "Direction of the cause: 1, -1 or 0"),
				"object_polarity":   prop("integer", "Direction of the effect: 1, -1 or 0"),
				"subject_adjective": prop("string", "Gradable adjective on the cause, e.g. large"),
				"object_adjective":  prop("string", "Gradable adjective on the effect"),
			}, "source", "target"),
		tool("describe_concept", "Show a concept's indicators, causes and effects.",
			map[string]any{"concept": concept()}, "concept"),
		tool("add_indicator", "Attach a fresh indicator to a concept. An indicator already attached under that name is left as it is.",
			map[string]any{"concept": concept(), "indicator": indicator(), "source": prop("string", "Data source")},
			"concept", "indicator"),
		tool("replace_indicator", "Swap an attached indicator for a fresh one in the same position, discarding its data. Falls back to adding when the old indicator is not attached.",
			map[string]any{
				"concept": concept(),
				"old":     prop("string", "Indicator to replace"),
				"new":     prop("string", "Replacement indicator name"),
				"source":  prop("string", "Data source of the replacement"),
			}, "concept", "old", "new"),
		tool("set_indicator_attribute", "Set one attribute (source, unit, mean, value, stdev, time, aggaxes, aggregation_method, timeseries, samples) of an attached indicator.",
			map[string]any{
				"concept":   concept(),
				"indicator": indicator(),
				"attribute": prop("string", "Attribute key"),
				"value":     map[string]any{"description": "String, number or list matching the attribute"},
			}, "concept", "indicator", "attribute", "value"),
		tool("get_indicator_attribute", "Read one attribute of an attached indicator.",
			map[string]any{"concept": concept(), "indicator": indicator(), "attribute": prop("string", "Attribute key")},
			"concept", "indicator", "attribute"),
		tool("clear_indicators", "Detach every indicator from a concept.",
			map[string]any{"concept": concept()}, "concept"),
		tool("suggest_indicators", "Rank catalog indicators by similarity to a concept; with ground=true attach them to the concept.",
			map[string]any{
				"concept": concept(),
				"limit":   prop("integer", "Maximum suggestions (default: 5)"),
				"ground":  prop("boolean", "Attach the suggestions to the concept"),
			}, "concept"),
	}
}

// Tool implementations

func (s *Server) toolListGraphs(ctx context.Context, _ map[string]any) (any, error) {
	graphs, err := s.store.ListGraphs(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]any{"graphs": graphs, "count": len(graphs)}, nil
}

func (s *Server) toolGraphStats(ctx context.Context, _ map[string]any) (any, error) {
	return s.Stats(ctx), nil
}

func (s *Server) toolCreateGraph(ctx context.Context, args map[string]any) (any, error) {
	name := optionalString(args, "graph", s.defaultGraph)

	s.mu.Lock()
	defer s.mu.Unlock()
	exists, err := s.store.Exists(ctx, name)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, fmt.Errorf("graph %q %w", name, cag.ErrDuplicate)
	}
	return s.store.SaveGraph(ctx, cag.New(name, cag.WithLogger(s.logger)))
}

func (s *Server) toolDescribeGraph(ctx context.Context, args map[string]any) (any, error) {
	return s.withGraph(ctx, args, false, func(g *cag.Graph) (any, error) {
		return bundle.Describe(g), nil
	})
}

func (s *Server) toolAddConcept(ctx context.Context, args map[string]any) (any, error) {
	name, err := requiredString(args, "concept")
	if err != nil {
		return nil, err
	}
	return s.withGraph(ctx, args, true, func(g *cag.Graph) (any, error) {
		_, added := g.AddConcept(name)
		return map[string]any{"concept": name, "added": added}, nil
	})
}

func (s *Server) toolAddRelation(ctx context.Context, args map[string]any) (any, error) {
	source, err := requiredString(args, "source")
	if err != nil {
		return nil, err
	}
	target, err := requiredString(args, "target")
	if err != nil {
		return nil, err
	}
	relation := optionalString(args, "relation", importer.DefaultRelation)
	_, hasSubj := args["subject_polarity"]
	_, hasObj := args["object_polarity"]

	return s.withGraph(ctx, args, true, func(g *cag.Graph) (any, error) {
		var id cag.EdgeID
		var err error
		if hasSubj || hasObj {
			st := cag.NewStatement(
				cag.NewEvent(optionalString(args, "subject_adjective", ""), optionalInt(args, "subject_polarity", 1), source),
				cag.NewEvent(optionalString(args, "object_adjective", ""), optionalInt(args, "object_polarity", 1), target),
			)
			id, err = g.AddStatement(relation, st)
		} else {
			id, err = g.AddRelation(source, target, relation)
		}
		if err != nil {
			return nil, err
		}
		e, err := g.Edge(id)
		if err != nil {
			return nil, err
		}
		return map[string]any{
			"source":   source,
			"target":   target,
			"relation": relation,
			"evidence": e.NumEvidence(),
		}, nil
	})
}

// conceptView is what describe_concept returns
type conceptView struct {
	Name       string          `json:"name"`
	Indicators []cag.Indicator `json:"indicators"`
	Causes     []string        `json:"causes"`
	Effects    []string        `json:"effects"`
}

func (s *Server) toolDescribeConcept(ctx context.Context, args map[string]any) (any, error) {
	name, err := requiredString(args, "concept")
	if err != nil {
		return nil, err
	}
	return s.withGraph(ctx, args, false, func(g *cag.Graph) (any, error) {
		id, err := g.Concept(name)
		if err != nil {
			return nil, err
		}
		n, err := g.Node(id)
		if err != nil {
			return nil, err
		}
		view := conceptView{Name: name, Indicators: n.Indicators(), Causes: []string{}, Effects: []string{}}
		for _, p := range g.Predecessors(id) {
			pn, _ := g.Node(p)
			view.Causes = append(view.Causes, pn.Name())
		}
		for _, c := range g.Successors(id) {
			cn, _ := g.Node(c)
			view.Effects = append(view.Effects, cn.Name())
		}
		return view, nil
	})
}

// withNode is withGraph narrowed to one concept
func (s *Server) withNode(ctx context.Context, args map[string]any, save bool, fn func(n *cag.Node) (any, error)) (any, error) {
	name, err := requiredString(args, "concept")
	if err != nil {
		return nil, err
	}
	return s.withGraph(ctx, args, save, func(g *cag.Graph) (any, error) {
		n, err := g.NodeByName(name)
		if err != nil {
			return nil, err
		}
		return fn(n)
	})
}

func (s *Server) toolAddIndicator(ctx context.Context, args map[string]any) (any, error) {
	indicator, err := requiredString(args, "indicator")
	if err != nil {
		return nil, err
	}
	source := optionalString(args, "source", "")
	return s.withNode(ctx, args, true, func(n *cag.Node) (any, error) {
		err := n.AddIndicator(indicator, source)
		if errors.Is(err, cag.ErrDuplicate) {
			return map[string]any{"added": false, "message": err.Error(), "indicators": n.IndicatorNames()}, nil
		}
		if err != nil {
			return nil, err
		}
		return map[string]any{"added": true, "indicators": n.IndicatorNames()}, nil
	})
}

func (s *Server) toolReplaceIndicator(ctx context.Context, args map[string]any) (any, error) {
	oldName, err := requiredString(args, "old")
	if err != nil {
		return nil, err
	}
	newName, err := requiredString(args, "new")
	if err != nil {
		return nil, err
	}
	source := optionalString(args, "source", "")
	return s.withNode(ctx, args, true, func(n *cag.Node) (any, error) {
		replaced, err := n.ReplaceIndicator(oldName, newName, source)
		if err != nil {
			return nil, err
		}
		return map[string]any{"replaced": replaced, "indicators": n.IndicatorNames()}, nil
	})
}

func (s *Server) toolSetIndicatorAttribute(ctx context.Context, args map[string]any) (any, error) {
	indicator, err := requiredString(args, "indicator")
	if err != nil {
		return nil, err
	}
	key, err := requiredString(args, "attribute")
	if err != nil {
		return nil, err
	}
	raw, ok := args["value"]
	if !ok {
		return nil, fmt.Errorf("value is required")
	}
	attr, err := cag.ParseAttribute(key)
	if err != nil {
		return nil, err
	}
	v, err := cag.ValueFromAny(attr, raw)
	if err != nil {
		return nil, err
	}
	return s.withNode(ctx, args, true, func(n *cag.Node) (any, error) {
		if err := n.SetIndicatorAttribute(indicator, attr, v); err != nil {
			return nil, err
		}
		return map[string]any{"indicator": indicator, "attribute": attr.String(), "value": v.Any()}, nil
	})
}

func (s *Server) toolGetIndicatorAttribute(ctx context.Context, args map[string]any) (any, error) {
	indicator, err := requiredString(args, "indicator")
	if err != nil {
		return nil, err
	}
	key, err := requiredString(args, "attribute")
	if err != nil {
		return nil, err
	}
	attr, err := cag.ParseAttribute(key)
	if err != nil {
		return nil, err
	}
	return s.withNode(ctx, args, false, func(n *cag.Node) (any, error) {
		v, err := n.IndicatorAttribute(indicator, attr)
		if err != nil {
			return nil, err
		}
		return map[string]any{"indicator": indicator, "attribute": attr.String(), "value": v.Any()}, nil
	})
}

func (s *Server) toolClearIndicators(ctx context.Context, args map[string]any) (any, error) {
	return s.withNode(ctx, args, true, func(n *cag.Node) (any, error) {
		cleared := n.NumIndicators()
		n.ClearIndicators()
		return map[string]any{"concept": n.Name(), "cleared": cleared}, nil
	})
}

func (s *Server) toolSuggestIndicators(ctx context.Context, args map[string]any) (any, error) {
	name, err := requiredString(args, "concept")
	if err != nil {
		return nil, err
	}
	limit := optionalInt(args, "limit", 5)
	cat := s.store.Catalog()

	if !optionalBool(args, "ground", false) {
		suggestions, err := cat.SuggestIndicators(ctx, name, limit)
		if err != nil {
			return nil, err
		}
		return map[string]any{"concept": name, "suggestions": suggestions}, nil
	}
	return s.withNode(ctx, args, true, func(n *cag.Node) (any, error) {
		return cat.Ground(ctx, n, limit)
	})
}

func requiredString(args map[string]any, key string) (string, error) {
	v, ok := args[key].(string)
	if !ok || v == "" {
		return "", fmt.Errorf("%s is required", key)
	}
	return v, nil
}

func optionalString(args map[string]any, key, def string) string {
	if v, ok := args[key].(string); ok && v != "" {
		return v
	}
	return def
}

func optionalInt(args map[string]any, key string, def int) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return def
}

func optionalBool(args map[string]any, key string, def bool) bool {
	if v, ok := args[key].(bool); ok {
		return v
	}
	return def
}
