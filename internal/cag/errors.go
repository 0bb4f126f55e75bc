package cag

import (
	"errors"
	"fmt"
)

// Error classes. Every error returned by this package matches exactly one of
// these with errors.Is.
var (
	ErrNotFound          = errors.New("not found")
	ErrDuplicate         = errors.New("already exists")
	ErrInvalidAttribute  = errors.New("invalid attribute")
	ErrReadOnlyAttribute = errors.New("read-only attribute")
)

// IndicatorNotFoundError is returned when an indicator name is not attached to a node
type IndicatorNotFoundError struct {
	Node      string
	Indicator string
}

func (e *IndicatorNotFoundError) Error() string {
	return fmt.Sprintf("indicator %q is not attached to %q", e.Indicator, e.Node)
}

func (e *IndicatorNotFoundError) Is(target error) bool { return target == ErrNotFound }

// DuplicateIndicatorError is returned when an indicator name is already attached to a node.
// The node is left untouched.
type DuplicateIndicatorError struct {
	Node      string
	Indicator string
}

func (e *DuplicateIndicatorError) Error() string {
	return fmt.Sprintf("indicator %q already attached to %q", e.Indicator, e.Node)
}

func (e *DuplicateIndicatorError) Is(target error) bool { return target == ErrDuplicate }

// AttributeError is returned for unknown attribute keys and for values whose kind
// does not match the attribute
type AttributeError struct {
	Key    string
	Reason string
}

func (e *AttributeError) Error() string {
	return fmt.Sprintf("attribute %q: %s", e.Key, e.Reason)
}

func (e *AttributeError) Is(target error) bool { return target == ErrInvalidAttribute }

// ConceptNotFoundError is returned when a vertex lookup fails
type ConceptNotFoundError struct {
	Name string
	ID   VertexID
}

func (e *ConceptNotFoundError) Error() string {
	if e.Name != "" {
		return fmt.Sprintf("concept %q not found", e.Name)
	}
	return fmt.Sprintf("concept #%d not found", e.ID)
}

func (e *ConceptNotFoundError) Is(target error) bool { return target == ErrNotFound }

// EdgeNotFoundError is returned when an edge lookup fails
type EdgeNotFoundError struct {
	Source string
	Target string
	Name   string
	ID     EdgeID
}

func (e *EdgeNotFoundError) Error() string {
	if e.Source != "" || e.Target != "" {
		return fmt.Sprintf("edge %q from %q to %q not found", e.Name, e.Source, e.Target)
	}
	return fmt.Sprintf("edge #%d not found", e.ID)
}

func (e *EdgeNotFoundError) Is(target error) bool { return target == ErrNotFound }
