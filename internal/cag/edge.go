package cag

import (
	"math/rand/v2"
	"slices"
)

// DefaultBeta is the causal-strength coefficient of an edge before any sampling
const DefaultBeta = 1.0

// Density is a fitted distribution over an edge's causal-strength coefficient
type Density interface {
	// PDF evaluates the density at x
	PDF(x float64) float64
	// Sample draws n values
	Sample(r *rand.Rand, n int) []float64
	// Mean returns the expectation of the distribution
	Mean() float64
}

// Fitter estimates a Density from an edge's evidence
type Fitter interface {
	Fit(evidence []Statement) (Density, error)
}

// FitterFunc adapts a function to Fitter
type FitterFunc func(evidence []Statement) (Density, error)

// Fit calls f
func (f FitterFunc) Fit(evidence []Statement) (Density, error) { return f(evidence) }

// Edge is a causal relation between two concepts. It owns the statements that
// support it.
type Edge struct {
	name     string
	evidence []Statement
	beta     float64

	density Density
	// fittedLen is len(evidence) when density was set. Evidence only grows, so a
	// differing length means the density no longer describes the evidence.
	fittedLen int
}

// NewEdge creates a detached edge with no evidence and the default beta
func NewEdge(name string) *Edge {
	return &Edge{name: name, beta: DefaultBeta}
}

// Name returns the relation name
func (e *Edge) Name() string { return e.name }

// AppendEvidence records one more supporting statement. Beta is left alone; an
// existing density becomes stale until it is refitted.
func (e *Edge) AppendEvidence(s Statement) {
	e.evidence = append(e.evidence, s)
}

// Evidence returns a copy of the statements in discovery order
func (e *Edge) Evidence() []Statement {
	return slices.Clone(e.evidence)
}

// NumEvidence returns the number of supporting statements
func (e *Edge) NumEvidence() int { return len(e.evidence) }

// Beta returns the current causal-strength coefficient
func (e *Edge) Beta() float64 { return e.beta }

// SetBeta overwrites the coefficient. No bounds are enforced here.
func (e *Edge) SetBeta(beta float64) { e.beta = beta }

// SetDensity attaches a density fitted against the current evidence.
// A nil density clears the slot.
func (e *Edge) SetDensity(d Density) {
	e.density = d
	e.fittedLen = len(e.evidence)
}

// Density returns the fitted density when one exists and still matches the
// evidence. ok == false means callers should fall back to a prior.
func (e *Edge) Density() (d Density, ok bool) {
	if e.density == nil || e.IsStale() {
		return nil, false
	}
	return e.density, true
}

// HasDensity reports whether a density was ever attached, stale or not
func (e *Edge) HasDensity() bool { return e.density != nil }

// IsStale reports whether evidence was appended after the density was fitted
func (e *Edge) IsStale() bool {
	return e.density != nil && e.fittedLen != len(e.evidence)
}

// Fit runs f over the evidence and attaches the result
func (e *Edge) Fit(f Fitter) error {
	d, err := f.Fit(e.Evidence())
	if err != nil {
		return err
	}
	e.SetDensity(d)
	return nil
}
