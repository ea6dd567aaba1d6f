// Package core wires the template resolver, instance factory, action
// dispatcher, and lineage queries behind a single service facade.
package core

import "tapcore/pkg/domain"

// Re-exported domain types so callers embedding the service do not need a
// second import for everyday use.
type (
	Template       = domain.Template
	Instance       = domain.Instance
	Lineage        = domain.Lineage
	TemplateCode   = domain.TemplateCode
	TemplateConfig = domain.TemplateConfig
	InstanceConfig = domain.InstanceConfig
	ActionState    = domain.ActionState
	TemplateFilter = domain.TemplateFilter
	Layout         = domain.Layout
	ChildTemplate  = domain.ChildTemplate
)

// Re-exported lineage query types.
type (
	LineageDirection = domain.LineageDirection
	LineageMember    = domain.LineageMember
)

// Re-exported lineage selector values.
const (
	ParentOfLineages     = domain.ParentOfLineages
	ChildOfLineages      = domain.ChildOfLineages
	ParentInstanceMember = domain.ParentInstanceMember
	ChildInstanceMember  = domain.ChildInstanceMember
)
