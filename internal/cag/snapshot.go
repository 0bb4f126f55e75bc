package cag

import (
	"fmt"
)

// Snapshot is a plain, serialisable view of a Graph. Densities and latent
// variables are engine state and are not captured.
type Snapshot struct {
	Name     string            `json:"name"`
	Concepts []ConceptSnapshot `json:"concepts"`
	Edges    []EdgeSnapshot    `json:"edges"`
}

// ConceptSnapshot is one vertex with its indicators in attachment order
type ConceptSnapshot struct {
	Name       string      `json:"name"`
	Indicators []Indicator `json:"indicators,omitempty"`
}

// EdgeSnapshot is one relation addressed by concept names
type EdgeSnapshot struct {
	Source   string      `json:"source"`
	Target   string      `json:"target"`
	Name     string      `json:"name"`
	Beta     float64     `json:"beta"`
	Evidence []Statement `json:"evidence,omitempty"`
}

// Snapshot copies the graph's state
func (g *Graph) Snapshot() Snapshot {
	s := Snapshot{Name: g.name}
	for _, id := range g.Concepts() {
		n := g.nodes[id]
		s.Concepts = append(s.Concepts, ConceptSnapshot{Name: n.name, Indicators: n.Indicators()})
	}
	for _, id := range g.Edges() {
		slot := g.edges[id]
		s.Edges = append(s.Edges, EdgeSnapshot{
			Source:   g.nodes[slot.source].name,
			Target:   g.nodes[slot.target].name,
			Name:     slot.edge.name,
			Beta:     slot.edge.beta,
			Evidence: slot.edge.Evidence(),
		})
	}
	return s
}

// FromSnapshot rebuilds a graph through the public node and graph operations, so
// a corrupt snapshot (repeated concept, indicator or relation) is rejected rather
// than loaded.
func FromSnapshot(s Snapshot, opts ...Option) (*Graph, error) {
	g := New(s.Name, opts...)
	for _, c := range s.Concepts {
		id, added := g.AddConcept(c.Name)
		if !added {
			return nil, fmt.Errorf("concept %q listed twice: %w", c.Name, ErrDuplicate)
		}
		n := g.nodes[id]
		for _, ind := range c.Indicators {
			if err := n.AddIndicator(ind.Name, ind.Source); err != nil {
				return nil, err
			}
			for _, attr := range Attributes() {
				if !attr.Settable() {
					continue
				}
				v, err := ind.get(attr)
				if err != nil {
					return nil, err
				}
				if err := n.SetIndicatorAttribute(ind.Name, attr, v); err != nil {
					return nil, err
				}
			}
		}
	}
	for _, es := range s.Edges {
		src, err := g.Concept(es.Source)
		if err != nil {
			return nil, fmt.Errorf("edge %q: %w", es.Name, err)
		}
		dst, err := g.Concept(es.Target)
		if err != nil {
			return nil, fmt.Errorf("edge %q: %w", es.Name, err)
		}
		id, added, err := g.AddEdge(src, dst, es.Name)
		if err != nil {
			return nil, err
		}
		if !added {
			return nil, fmt.Errorf("edge %q from %q to %q listed twice: %w", es.Name, es.Source, es.Target, ErrDuplicate)
		}
		e := g.edges[id].edge
		e.SetBeta(es.Beta)
		for _, st := range es.Evidence {
			e.AppendEvidence(st)
		}
	}
	return g, nil
}
