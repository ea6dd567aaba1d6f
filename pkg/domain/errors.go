package domain

import (
	"fmt"
	"strings"
)

// NotFoundError reports a template code or EUID that does not resolve to a
// live template. Callers can recover by supplying a correct identifier.
type NotFoundError struct {
	Code TemplateCode
	EUID string
}

func (e NotFoundError) Error() string {
	if e.EUID != "" {
		return fmt.Sprintf("template not found: euid %s", e.EUID)
	}
	return fmt.Sprintf("template not found: %s", e.Code)
}

// MaxDepthError reports recursive instantiation exceeding the depth bound.
// It indicates an authoring defect in the template graph, not a transient
// condition.
type MaxDepthError struct {
	Limit int
}

func (e MaxDepthError) Error() string {
	return fmt.Sprintf("maximum instantiation depth (%d) exceeded; check instantiation_layouts for cycles", e.Limit)
}

// CycleError reports a template code reappearing along the current
// instantiation path.
type CycleError struct {
	Code TemplateCode
}

func (e CycleError) Error() string {
	return fmt.Sprintf("cycle detected in instantiation_layouts: %s already visited on this path", e.Code)
}

// FieldViolation names one offending field inside an instantiation layout.
type FieldViolation struct {
	Path    string
	Message string
}

func (v FieldViolation) String() string {
	if v.Path == "" {
		return v.Message
	}
	return v.Path + ": " + v.Message
}

// LayoutError aggregates every structural violation found while validating a
// template's instantiation_layouts. Expansion aborts before any child is
// created.
type LayoutError struct {
	Violations []FieldViolation
}

func (e *LayoutError) Error() string {
	parts := make([]string, len(e.Violations))
	for i, v := range e.Violations {
		parts[i] = v.String()
	}
	return "invalid instantiation_layouts: " + strings.Join(parts, "; ")
}
