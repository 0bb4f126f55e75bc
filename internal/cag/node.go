package cag

import (
	"log/slog"
)

// LatentVar is the handle to a concept's unobserved state. The inference engine
// creates and resamples it; the node is only its attachment point.
type LatentVar interface {
	// Dataset returns the current sample set for the variable
	Dataset() []float64
}

// Node is a concept vertex. Its indicator list and name index are kept
// consistent by the methods below; nothing outside this file reaches them.
type Node struct {
	name string

	// Visited is traversal scratch space; traversal code resets it between passes.
	Visited bool

	rv         LatentVar
	indicators indicatorSet
	logger     *slog.Logger
}

// NewNode creates a detached node. Nodes added through Graph.AddConcept share
// the graph's logger.
func NewNode(name string) *Node {
	return &Node{name: name}
}

// Name returns the concept name
func (n *Node) Name() string { return n.name }

// RV returns the latent variable handle, nil until the inference engine attaches one
func (n *Node) RV() LatentVar { return n.rv }

// SetRV attaches the latent variable handle
func (n *Node) SetRV(rv LatentVar) { n.rv = rv }

func (n *Node) log() *slog.Logger {
	if n.logger != nil {
		return n.logger
	}
	return slog.Default()
}

// AddIndicator attaches a fresh indicator. The first indicator under a name wins:
// if name is already attached nothing changes and a *DuplicateIndicatorError
// (ErrDuplicate) is returned.
func (n *Node) AddIndicator(name, source string) error {
	if _, ok := n.indicators.add(NewIndicator(name, source)); !ok {
		n.log().Warn("indicator already attached", "concept", n.name, "indicator", name)
		return &DuplicateIndicatorError{Node: n.name, Indicator: name}
	}
	return nil
}

// ReplaceIndicator swaps the indicator attached as oldName for a fresh one named
// newName at the same position. All data on the old record is discarded.
//
// If oldName is not attached the call falls back to AddIndicator(newName, source)
// and reports replaced == false. If newName is already attached under a different
// position the call is rejected with ErrDuplicate and nothing changes.
func (n *Node) ReplaceIndicator(oldName, newName, source string) (replaced bool, err error) {
	if _, ok := n.indicators.lookup(oldName); !ok {
		n.log().Info("indicator to replace is not attached, adding afresh",
			"concept", n.name, "old", oldName, "new", newName)
		return false, n.AddIndicator(newName, source)
	}
	if newName != oldName {
		if _, taken := n.indicators.lookup(newName); taken {
			n.log().Warn("replacement indicator already attached", "concept", n.name, "indicator", newName)
			return false, &DuplicateIndicatorError{Node: n.name, Indicator: newName}
		}
	}
	n.indicators.rekey(oldName, NewIndicator(newName, source))
	return true, nil
}

// SetIndicatorAttribute writes one attribute of an attached indicator.
// It fails with ErrNotFound for an unknown indicator, ErrReadOnlyAttribute for the
// name and ErrInvalidAttribute for an unknown attribute or mismatched value kind.
func (n *Node) SetIndicatorAttribute(indicator string, attr Attribute, v Value) error {
	i, ok := n.indicators.lookup(indicator)
	if !ok {
		return &IndicatorNotFoundError{Node: n.name, Indicator: indicator}
	}
	return n.indicators.items[i].set(attr, v)
}

// IndicatorAttribute reads one attribute of an attached indicator
func (n *Node) IndicatorAttribute(indicator string, attr Attribute) (Value, error) {
	i, ok := n.indicators.lookup(indicator)
	if !ok {
		return Value{}, &IndicatorNotFoundError{Node: n.name, Indicator: indicator}
	}
	return n.indicators.items[i].get(attr)
}

// Indicator returns a copy of the named indicator
func (n *Node) Indicator(name string) (Indicator, error) {
	i, ok := n.indicators.lookup(name)
	if !ok {
		return Indicator{}, &IndicatorNotFoundError{Node: n.name, Indicator: name}
	}
	return n.indicators.items[i].clone(), nil
}

// IndicatorIndex returns the position of the named indicator
func (n *Node) IndicatorIndex(name string) (int, error) {
	i, ok := n.indicators.lookup(name)
	if !ok {
		return -1, &IndicatorNotFoundError{Node: n.name, Indicator: name}
	}
	return i, nil
}

// HasIndicator reports whether name is attached
func (n *Node) HasIndicator(name string) bool {
	_, ok := n.indicators.lookup(name)
	return ok
}

// NumIndicators returns how many indicators are attached
func (n *Node) NumIndicators() int { return n.indicators.len() }

// Indicators returns copies of the attached indicators in attachment order
func (n *Node) Indicators() []Indicator {
	out := make([]Indicator, len(n.indicators.items))
	for i, ind := range n.indicators.items {
		out[i] = ind.clone()
	}
	return out
}

// IndicatorNames returns the attached names in attachment order
func (n *Node) IndicatorNames() []string {
	out := make([]string, len(n.indicators.items))
	for i, ind := range n.indicators.items {
		out[i] = ind.Name
	}
	return out
}

// ClearIndicators detaches every indicator, leaving the node as if freshly created
func (n *Node) ClearIndicators() {
	n.indicators.clear()
}

// CheckInvariants verifies that the name index matches the indicator list
func (n *Node) CheckInvariants() error {
	return n.indicators.check()
}
