package domain

import (
	"fmt"
	"math"
)

// ChildTemplate is one child entry inside a layout: which template to
// instantiate, how many times, and an optional per-entry name pattern.
type ChildTemplate struct {
	TemplateCode string `json:"template_code"`
	Count        int    `json:"count"`
	NamePattern  string `json:"name_pattern,omitempty"`
}

// Layout is one normalized instantiation layout: the relationship stamped
// onto lineage edges and the child templates to expand beneath an instance.
type Layout struct {
	RelationshipType string          `json:"relationship_type"`
	NamePattern      string          `json:"name_pattern,omitempty"`
	Children         []ChildTemplate `json:"child_templates"`
}

// NormalizeLayouts validates a template's instantiation_layouts fragment and
// returns it in canonical form. It accepts:
//
//   - nil, an empty list, or an empty mapping (no layouts)
//   - an already-normalized []Layout (returned unchanged)
//   - the canonical JSON shape: a list of layout objects with child_templates
//     entries that are either template-code strings or
//     {template_code, count, name_pattern} objects
//   - the legacy positional shape: a plain list of template codes or child
//     objects without the child_templates wrapper, each becoming one layout
//     with a single child and index-based naming
//
// Validation collects every violation before failing with *LayoutError.
func NormalizeLayouts(value any) ([]Layout, error) {
	if value == nil {
		return nil, nil
	}
	if typed, ok := value.([]Layout); ok {
		return normalizeTyped(typed)
	}
	if m, ok := value.(map[string]any); ok {
		if len(m) == 0 {
			return nil, nil
		}
		return nil, &LayoutError{Violations: []FieldViolation{{Message: "instantiation_layouts must be a list"}}}
	}
	list, ok := value.([]any)
	if !ok {
		return nil, &LayoutError{Violations: []FieldViolation{{Message: fmt.Sprintf("instantiation_layouts must be a list, got %T", value)}}}
	}
	if len(list) == 0 {
		return nil, nil
	}

	var out []Layout
	var violations []FieldViolation
	for i, entry := range list {
		path := fmt.Sprintf("[%d]", i)
		layout, errs := normalizeEntry(entry, path)
		if len(errs) > 0 {
			violations = append(violations, errs...)
			continue
		}
		out = append(out, layout)
	}
	if len(violations) > 0 {
		return nil, &LayoutError{Violations: violations}
	}
	return out, nil
}

// normalizeTyped re-validates an already-canonical layout list, filling
// defaults without reshaping valid entries.
func normalizeTyped(layouts []Layout) ([]Layout, error) {
	var violations []FieldViolation
	out := make([]Layout, len(layouts))
	for i, layout := range layouts {
		path := fmt.Sprintf("[%d]", i)
		if layout.RelationshipType == "" {
			layout.RelationshipType = DefaultRelationshipType
		}
		if len(layout.Children) == 0 {
			violations = append(violations, FieldViolation{Path: path + ".child_templates", Message: "must be a non-empty list"})
			continue
		}
		children := make([]ChildTemplate, len(layout.Children))
		for j, child := range layout.Children {
			childPath := fmt.Sprintf("%s.child_templates[%d]", path, j)
			if child.Count == 0 {
				child.Count = 1
			}
			if child.Count < 1 {
				violations = append(violations, FieldViolation{Path: childPath + ".count", Message: "must be >= 1"})
			}
			code, err := ParseTemplateCode(child.TemplateCode)
			if err != nil {
				violations = append(violations, FieldViolation{Path: childPath + ".template_code", Message: err.Error()})
			} else {
				child.TemplateCode = string(code)
			}
			children[j] = child
		}
		layout.Children = children
		out[i] = layout
	}
	if len(violations) > 0 {
		return nil, &LayoutError{Violations: violations}
	}
	return out, nil
}

func normalizeEntry(entry any, path string) (Layout, []FieldViolation) {
	switch v := entry.(type) {
	case string:
		// Legacy positional form: a bare template code is one layout with a
		// single child and index-based naming.
		code, err := ParseTemplateCode(v)
		if err != nil {
			return Layout{}, []FieldViolation{{Path: path, Message: err.Error()}}
		}
		return Layout{
			RelationshipType: DefaultRelationshipType,
			Children:         []ChildTemplate{{TemplateCode: string(code), Count: 1}},
		}, nil
	case map[string]any:
		if _, ok := v["child_templates"]; ok {
			return normalizeLayoutObject(v, path)
		}
		// Legacy positional form without the child_templates wrapper.
		child, errs := normalizeChildObject(v, path)
		if len(errs) > 0 {
			return Layout{}, errs
		}
		relationship := DefaultRelationshipType
		if raw, ok := v["relationship_type"]; ok {
			rel, err := stringField(raw)
			if err != nil || rel == "" {
				return Layout{}, []FieldViolation{{Path: path + ".relationship_type", Message: "must be a non-empty string"}}
			}
			relationship = rel
		}
		return Layout{RelationshipType: relationship, Children: []ChildTemplate{child}}, nil
	default:
		return Layout{}, []FieldViolation{{Path: path, Message: fmt.Sprintf("must be a layout object or template code string, got %T", entry)}}
	}
}

func normalizeLayoutObject(v map[string]any, path string) (Layout, []FieldViolation) {
	var violations []FieldViolation
	layout := Layout{RelationshipType: DefaultRelationshipType}

	if raw, ok := v["relationship_type"]; ok {
		rel, err := stringField(raw)
		if err != nil || rel == "" {
			violations = append(violations, FieldViolation{Path: path + ".relationship_type", Message: "must be a non-empty string"})
		} else {
			layout.RelationshipType = rel
		}
	}
	if raw, ok := v["name_pattern"]; ok && raw != nil {
		pattern, err := stringField(raw)
		if err != nil {
			violations = append(violations, FieldViolation{Path: path + ".name_pattern", Message: "must be a string"})
		} else {
			layout.NamePattern = pattern
		}
	}

	children, ok := v["child_templates"].([]any)
	if !ok || len(children) == 0 {
		violations = append(violations, FieldViolation{Path: path + ".child_templates", Message: "must be a non-empty list"})
		return Layout{}, violations
	}
	for j, rawChild := range children {
		childPath := fmt.Sprintf("%s.child_templates[%d]", path, j)
		switch child := rawChild.(type) {
		case string:
			code, err := ParseTemplateCode(child)
			if err != nil {
				violations = append(violations, FieldViolation{Path: childPath, Message: err.Error()})
				continue
			}
			layout.Children = append(layout.Children, ChildTemplate{TemplateCode: string(code), Count: 1})
		case map[string]any:
			entry, errs := normalizeChildObject(child, childPath)
			if len(errs) > 0 {
				violations = append(violations, errs...)
				continue
			}
			layout.Children = append(layout.Children, entry)
		default:
			violations = append(violations, FieldViolation{Path: childPath, Message: fmt.Sprintf("must be a template code string or child object, got %T", rawChild)})
		}
	}
	if len(violations) > 0 {
		return Layout{}, violations
	}
	return layout, nil
}

func normalizeChildObject(v map[string]any, path string) (ChildTemplate, []FieldViolation) {
	var violations []FieldViolation
	child := ChildTemplate{Count: 1}

	rawCode, ok := v["template_code"]
	if !ok {
		violations = append(violations, FieldViolation{Path: path + ".template_code", Message: "required"})
	} else {
		codeStr, err := stringField(rawCode)
		if err != nil {
			violations = append(violations, FieldViolation{Path: path + ".template_code", Message: "must be a string"})
		} else if code, err := ParseTemplateCode(codeStr); err != nil {
			violations = append(violations, FieldViolation{Path: path + ".template_code", Message: err.Error()})
		} else {
			child.TemplateCode = string(code)
		}
	}

	if raw, ok := v["count"]; ok {
		count, err := intField(raw)
		if err != nil {
			violations = append(violations, FieldViolation{Path: path + ".count", Message: err.Error()})
		} else if count < 1 {
			violations = append(violations, FieldViolation{Path: path + ".count", Message: "must be >= 1"})
		} else {
			child.Count = count
		}
	}
	if raw, ok := v["name_pattern"]; ok && raw != nil {
		pattern, err := stringField(raw)
		if err != nil {
			violations = append(violations, FieldViolation{Path: path + ".name_pattern", Message: "must be a string"})
		} else {
			child.NamePattern = pattern
		}
	}
	if len(violations) > 0 {
		return ChildTemplate{}, violations
	}
	return child, nil
}

func stringField(v any) (string, error) {
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("must be a string, got %T", v)
	}
	return s, nil
}

func intField(v any) (int, error) {
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		if n != math.Trunc(n) {
			return 0, fmt.Errorf("must be an integer, got %v", n)
		}
		return int(n), nil
	default:
		return 0, fmt.Errorf("must be an integer, got %T", v)
	}
}
