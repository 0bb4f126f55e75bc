package bundle

import (
	"github.com/CanopyHQ/tributary/internal/cag"
)

// ModelName labels the model family a described graph belongs to
const ModelName = "Linear Dynamical System with Stochastic Transition Model"

// DefaultTimeStep is the step between model time points
const DefaultTimeStep = "1.0"

// Description is the model view of a graph handed to downstream tools
type Description struct {
	Name      string     `json:"name"`
	Graph     string     `json:"graph"`
	TimeStep  string     `json:"timeStep"`
	Variables []Variable `json:"variables"`
}

// Variable is one concept of the model
type Variable struct {
	Name       string              `json:"name"`
	Parents    []string            `json:"parents,omitempty"`
	Indicators []VariableIndicator `json:"indicators,omitempty"`
}

// VariableIndicator is the part of an indicator a model consumer reads
type VariableIndicator struct {
	Name   string  `json:"name"`
	Source string  `json:"source"`
	Unit   string  `json:"unit,omitempty"`
	Mean   float64 `json:"mean"`
	Stdev  float64 `json:"stdev"`
}

// Describe builds the model description of g
func Describe(g *cag.Graph) Description {
	d := Description{Name: ModelName, Graph: g.Name(), TimeStep: DefaultTimeStep}
	for _, id := range g.Concepts() {
		n, err := g.Node(id)
		if err != nil {
			continue
		}
		v := Variable{Name: n.Name()}
		for _, p := range g.Predecessors(id) {
			if pn, err := g.Node(p); err == nil {
				v.Parents = append(v.Parents, pn.Name())
			}
		}
		for _, ind := range n.Indicators() {
			v.Indicators = append(v.Indicators, VariableIndicator{
				Name: ind.Name, Source: ind.Source, Unit: ind.Unit, Mean: ind.Mean, Stdev: ind.Stdev,
			})
		}
		d.Variables = append(d.Variables, v)
	}
	return d
}
