package cag

import (
	"fmt"
	"log/slog"
	"slices"
)

// VertexID addresses a concept inside one Graph. IDs are never reused.
type VertexID int

// EdgeID addresses a causal relation inside one Graph. IDs are never reused.
type EdgeID int

type edgeSlot struct {
	edge   *Edge
	source VertexID
	target VertexID
}

// Graph is a directed causal graph. Concepts are deduplicated by name; any
// number of differently named relations may join the same ordered pair, and
// cycles are allowed.
//
// Nodes and edges live in arenas indexed by their IDs with adjacency kept as ID
// lists. A Graph is not safe for concurrent mutation.
type Graph struct {
	name string

	nodes  []*Node    // nil once removed
	edges  []edgeSlot // edge == nil once removed
	out    [][]EdgeID
	in     [][]EdgeID
	byName map[string]VertexID

	liveNodes int
	liveEdges int

	logger *slog.Logger
}

// Option configures a Graph
type Option func(*Graph)

// WithLogger routes the graph's and its nodes' diagnostics to l
func WithLogger(l *slog.Logger) Option {
	return func(g *Graph) { g.logger = l }
}

// New creates an empty graph
func New(name string, opts ...Option) *Graph {
	g := &Graph{name: name, byName: make(map[string]VertexID)}
	for _, opt := range opts {
		opt(g)
	}
	if g.logger == nil {
		g.logger = slog.Default()
	}
	return g
}

// Name returns the graph label
func (g *Graph) Name() string { return g.name }

// SetName relabels the graph
func (g *Graph) SetName(name string) { g.name = name }

// NumConcepts returns the number of live vertices
func (g *Graph) NumConcepts() int { return g.liveNodes }

// NumEdges returns the number of live edges
func (g *Graph) NumEdges() int { return g.liveEdges }

// AddConcept adds a vertex for name, or returns the existing one.
// added is false when the concept was already present.
func (g *Graph) AddConcept(name string) (id VertexID, added bool) {
	if id, ok := g.byName[name]; ok {
		return id, false
	}
	n := NewNode(name)
	n.logger = g.logger
	id = VertexID(len(g.nodes))
	g.nodes = append(g.nodes, n)
	g.out = append(g.out, nil)
	g.in = append(g.in, nil)
	g.byName[name] = id
	g.liveNodes++
	return id, true
}

// Concept looks a vertex up by concept name
func (g *Graph) Concept(name string) (VertexID, error) {
	id, ok := g.byName[name]
	if !ok {
		return -1, &ConceptNotFoundError{Name: name}
	}
	return id, nil
}

func (g *Graph) liveNode(id VertexID) bool {
	return id >= 0 && int(id) < len(g.nodes) && g.nodes[id] != nil
}

// Node returns the concept stored at id
func (g *Graph) Node(id VertexID) (*Node, error) {
	if !g.liveNode(id) {
		return nil, &ConceptNotFoundError{ID: id}
	}
	return g.nodes[id], nil
}

// NodeByName returns the concept called name
func (g *Graph) NodeByName(name string) (*Node, error) {
	id, err := g.Concept(name)
	if err != nil {
		return nil, err
	}
	return g.nodes[id], nil
}

// Concepts returns the live vertex IDs in insertion order
func (g *Graph) Concepts() []VertexID {
	out := make([]VertexID, 0, g.liveNodes)
	for i, n := range g.nodes {
		if n != nil {
			out = append(out, VertexID(i))
		}
	}
	return out
}

// RemoveConcept deletes a vertex together with every edge touching it
func (g *Graph) RemoveConcept(id VertexID) error {
	if !g.liveNode(id) {
		return &ConceptNotFoundError{ID: id}
	}
	incident := append(slices.Clone(g.out[id]), g.in[id]...)
	for _, eid := range incident {
		if g.liveEdge(eid) {
			g.detachEdge(eid)
		}
	}
	delete(g.byName, g.nodes[id].name)
	g.nodes[id] = nil
	g.out[id] = nil
	g.in[id] = nil
	g.liveNodes--
	return nil
}

func (g *Graph) liveEdge(id EdgeID) bool {
	return id >= 0 && int(id) < len(g.edges) && g.edges[id].edge != nil
}

// AddEdge joins source to target with a relation called name. A relation with the
// same name between the same ordered pair is returned instead of duplicated.
func (g *Graph) AddEdge(source, target VertexID, name string) (id EdgeID, added bool, err error) {
	if !g.liveNode(source) {
		return -1, false, &ConceptNotFoundError{ID: source}
	}
	if !g.liveNode(target) {
		return -1, false, &ConceptNotFoundError{ID: target}
	}
	if existing, ok := g.findEdge(source, target, name); ok {
		return existing, false, nil
	}
	id = EdgeID(len(g.edges))
	g.edges = append(g.edges, edgeSlot{edge: NewEdge(name), source: source, target: target})
	g.out[source] = append(g.out[source], id)
	g.in[target] = append(g.in[target], id)
	g.liveEdges++
	return id, true, nil
}

// AddRelation is AddEdge addressed by concept names; missing concepts are created
func (g *Graph) AddRelation(source, target, name string) (EdgeID, error) {
	s, _ := g.AddConcept(source)
	t, _ := g.AddConcept(target)
	id, _, err := g.AddEdge(s, t, name)
	return id, err
}

// AddStatement files a statement as evidence on the relation called name between
// its subject and object concepts, creating both concepts and the relation on demand.
func (g *Graph) AddStatement(name string, s Statement) (EdgeID, error) {
	id, err := g.AddRelation(s.Subject.Concept, s.Object.Concept, name)
	if err != nil {
		return -1, err
	}
	g.edges[id].edge.AppendEvidence(s)
	return id, nil
}

// Edge returns the relation stored at id
func (g *Graph) Edge(id EdgeID) (*Edge, error) {
	if !g.liveEdge(id) {
		return nil, &EdgeNotFoundError{ID: id}
	}
	return g.edges[id].edge, nil
}

// Endpoints returns the source and target of an edge
func (g *Graph) Endpoints(id EdgeID) (source, target VertexID, err error) {
	if !g.liveEdge(id) {
		return -1, -1, &EdgeNotFoundError{ID: id}
	}
	return g.edges[id].source, g.edges[id].target, nil
}

func (g *Graph) findEdge(source, target VertexID, name string) (EdgeID, bool) {
	for _, eid := range g.out[source] {
		slot := g.edges[eid]
		if slot.target == target && slot.edge.name == name {
			return eid, true
		}
	}
	return -1, false
}

// FindEdge returns the relation called name from source to target
func (g *Graph) FindEdge(source, target VertexID, name string) (EdgeID, error) {
	if g.liveNode(source) && g.liveNode(target) {
		if id, ok := g.findEdge(source, target, name); ok {
			return id, nil
		}
	}
	err := &EdgeNotFoundError{Name: name}
	if n, nerr := g.Node(source); nerr == nil {
		err.Source = n.name
	}
	if n, nerr := g.Node(target); nerr == nil {
		err.Target = n.name
	}
	return -1, err
}

// EdgesBetween returns every relation from source to target in insertion order
func (g *Graph) EdgesBetween(source, target VertexID) []EdgeID {
	if !g.liveNode(source) {
		return nil
	}
	var out []EdgeID
	for _, eid := range g.out[source] {
		if g.edges[eid].target == target {
			out = append(out, eid)
		}
	}
	return out
}

// Edges returns the live edge IDs in insertion order
func (g *Graph) Edges() []EdgeID {
	out := make([]EdgeID, 0, g.liveEdges)
	for i, slot := range g.edges {
		if slot.edge != nil {
			out = append(out, EdgeID(i))
		}
	}
	return out
}

// OutEdges returns the edges leaving v
func (g *Graph) OutEdges(v VertexID) []EdgeID {
	if !g.liveNode(v) {
		return nil
	}
	return slices.Clone(g.out[v])
}

// InEdges returns the edges entering v
func (g *Graph) InEdges(v VertexID) []EdgeID {
	if !g.liveNode(v) {
		return nil
	}
	return slices.Clone(g.in[v])
}

// Successors returns the distinct targets of v's out-edges
func (g *Graph) Successors(v VertexID) []VertexID {
	if !g.liveNode(v) {
		return nil
	}
	return g.distinct(g.out[v], func(s edgeSlot) VertexID { return s.target })
}

// Predecessors returns the distinct sources of v's in-edges
func (g *Graph) Predecessors(v VertexID) []VertexID {
	if !g.liveNode(v) {
		return nil
	}
	return g.distinct(g.in[v], func(s edgeSlot) VertexID { return s.source })
}

func (g *Graph) distinct(ids []EdgeID, end func(edgeSlot) VertexID) []VertexID {
	var out []VertexID
	seen := make(map[VertexID]bool, len(ids))
	for _, eid := range ids {
		v := end(g.edges[eid])
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	return out
}

// RemoveEdge deletes one relation and its evidence
func (g *Graph) RemoveEdge(id EdgeID) error {
	if !g.liveEdge(id) {
		return &EdgeNotFoundError{ID: id}
	}
	g.detachEdge(id)
	return nil
}

func (g *Graph) detachEdge(id EdgeID) {
	slot := g.edges[id]
	g.out[slot.source] = slices.DeleteFunc(g.out[slot.source], func(e EdgeID) bool { return e == id })
	g.in[slot.target] = slices.DeleteFunc(g.in[slot.target], func(e EdgeID) bool { return e == id })
	g.edges[id] = edgeSlot{source: -1, target: -1}
	g.liveEdges--
}

// ResetVisited clears the traversal flag on every concept
func (g *Graph) ResetVisited() {
	for _, n := range g.nodes {
		if n != nil {
			n.Visited = false
		}
	}
}

// Validate checks the name table, adjacency lists and every node's indicator index
func (g *Graph) Validate() error {
	if len(g.byName) != g.liveNodes {
		return fmt.Errorf("graph %q: %d names for %d concepts", g.name, len(g.byName), g.liveNodes)
	}
	for name, id := range g.byName {
		if !g.liveNode(id) || g.nodes[id].name != name {
			return fmt.Errorf("graph %q: concept %q mis-indexed at %d", g.name, name, id)
		}
	}
	for i, n := range g.nodes {
		if n == nil {
			continue
		}
		if err := n.CheckInvariants(); err != nil {
			return fmt.Errorf("concept %q: %w", n.name, err)
		}
		for _, eid := range g.out[i] {
			if !g.liveEdge(eid) || g.edges[eid].source != VertexID(i) {
				return fmt.Errorf("concept %q: out-edge #%d does not start here", n.name, eid)
			}
		}
		for _, eid := range g.in[i] {
			if !g.liveEdge(eid) || g.edges[eid].target != VertexID(i) {
				return fmt.Errorf("concept %q: in-edge #%d does not end here", n.name, eid)
			}
		}
	}
	return nil
}
