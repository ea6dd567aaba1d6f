package domain

import (
	"fmt"
	"strings"
)

// TemplateCode is the 4-part "category/type/subtype/version" identifier of a
// template. The canonical form carries no trailing slash.
type TemplateCode string

func (c TemplateCode) String() string { return string(c) }

// Segments splits the code into its four parts. ok is false when the code
// does not have exactly four non-empty segments.
func (c TemplateCode) Segments() (category, typ, subtype, version string, ok bool) {
	parts := splitCode(string(c))
	if len(parts) != 4 {
		return "", "", "", "", false
	}
	return parts[0], parts[1], parts[2], parts[3], true
}

// Subtype returns the third code segment, or "" for malformed codes.
func (c TemplateCode) Subtype() string {
	_, _, subtype, _, _ := c.Segments()
	return subtype
}

// MakeTemplateCode assembles a canonical template code from its parts.
func MakeTemplateCode(category, typ, subtype, version string) TemplateCode {
	return TemplateCode(category + "/" + typ + "/" + subtype + "/" + version)
}

// NormalizeTemplateCode trims whitespace and a single trailing slash,
// returning the canonical representation. It does not validate segment count.
func NormalizeTemplateCode(code string) TemplateCode {
	s := strings.TrimSpace(code)
	s = strings.TrimSuffix(s, "/")
	return TemplateCode(s)
}

// ParseTemplateCode normalizes and validates a template-code string. The
// accepted format is "category/type/subtype/version" with an optional
// trailing slash.
func ParseTemplateCode(code string) (TemplateCode, error) {
	normalized := NormalizeTemplateCode(code)
	if parts := splitCode(string(normalized)); len(parts) != 4 {
		return "", fmt.Errorf("invalid template code %q (expected category/type/subtype/version)", code)
	}
	return normalized, nil
}

func splitCode(s string) []string {
	var parts []string
	for _, p := range strings.Split(s, "/") {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return parts
}
