// Package cag is the in-memory data model of a causal analysis graph: concepts
// (nodes) grounded by observational indicators, joined by causal relations (edges)
// that aggregate the textual statements supporting them.
//
// The package holds state only. Density estimation, latent-variable sampling and
// graph inference are external engines that plug in through the Density, Fitter
// and LatentVar interfaces.
package cag

import (
	"encoding/json"
	"fmt"
)

// Event is one polarity-tagged mention of a concept inside a causal statement.
// Polarity is conventionally -1, 0 or +1; range checks are the producer's job.
type Event struct {
	Adjective string `json:"adjective"`
	Polarity  int    `json:"polarity"`
	Concept   string `json:"concept"`
}

// EventTuple is the positional (adjective, polarity, concept) form of an Event
type EventTuple struct {
	Adjective string
	Polarity  int
	Concept   string
}

// NewEvent builds an Event from its fields
func NewEvent(adjective string, polarity int, concept string) Event {
	return Event{Adjective: adjective, Polarity: polarity, Concept: concept}
}

// EventFromTuple builds an Event from the positional form. The result is equal to
// NewEvent called with the same three values.
func EventFromTuple(t EventTuple) Event {
	return NewEvent(t.Adjective, t.Polarity, t.Concept)
}

// Tuple returns the positional form of e
func (e Event) Tuple() EventTuple {
	return EventTuple{Adjective: e.Adjective, Polarity: e.Polarity, Concept: e.Concept}
}

// UnmarshalJSON accepts both the object form {"adjective":..,"polarity":..,"concept":..}
// and the array form ["adjective", polarity, "concept"].
func (e *Event) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err == nil {
		if len(raw) != 3 {
			return fmt.Errorf("event tuple must have 3 elements, got %d", len(raw))
		}
		var t EventTuple
		if err := json.Unmarshal(raw[0], &t.Adjective); err != nil {
			return fmt.Errorf("event adjective: %w", err)
		}
		if err := json.Unmarshal(raw[1], &t.Polarity); err != nil {
			return fmt.Errorf("event polarity: %w", err)
		}
		if err := json.Unmarshal(raw[2], &t.Concept); err != nil {
			return fmt.Errorf("event concept: %w", err)
		}
		*e = EventFromTuple(t)
		return nil
	}

	type plain Event
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*e = NewEvent(p.Adjective, p.Polarity, p.Concept)
	return nil
}

// Statement is one causal claim: Subject causes Object
type Statement struct {
	Subject Event `json:"subject"`
	Object  Event `json:"object"`
}

// NewStatement pairs two events into a statement
func NewStatement(subject, object Event) Statement {
	return Statement{Subject: subject, Object: object}
}

// Sign is the product of the subject and object polarities: +1 when both move
// together, -1 when they move apart, 0 when either side is unsigned.
func (s Statement) Sign() int {
	return s.Subject.Polarity * s.Object.Polarity
}
