// Package domain defines the persistent entities, configuration blobs, and
// pure graph helpers for the template/instance core.
package domain

import (
	"strings"
	"time"
)

// Well-known discriminator values. Discriminators are free-form data carried
// by templates and copied onto instances and lineage edges; these constants
// cover the identities the core itself mints.
const (
	DiscriminatorGenericTemplate = "generic_template"
	DiscriminatorGenericInstance = "generic_instance"
	DiscriminatorGenericLineage  = "generic_instance_lineage"
	DiscriminatorActionInstance  = "action_instance"
	DiscriminatorFileInstance    = "file_instance"
	DiscriminatorWorkflowStep    = "workflow_step_instance"
)

// DefaultRelationshipType labels lineage edges created by layout expansion
// when the layout does not specify one.
const DefaultRelationshipType = "contains"

// Base contains the identity and lifecycle fields shared by templates,
// instances, and lineage edges. UUID and EUID are assigned by the store at
// insert time; EUIDs are short human-readable identifiers minted from a
// per-prefix sequence.
type Base struct {
	UUID      string    `json:"uuid"`
	EUID      string    `json:"euid"`
	Name      string    `json:"name"`
	Category  string    `json:"category"`
	Type      string    `json:"type"`
	Subtype   string    `json:"subtype"`
	Version   string    `json:"version"`
	Status    string    `json:"bstatus"`
	Deleted   bool      `json:"is_deleted"`
	CreatedAt time.Time `json:"created_dt"`
	UpdatedAt time.Time `json:"modified_dt"`
}

// Template is an immutable-once-published blueprint describing default
// properties, importable actions, and the recipe for child objects. The core
// only reads templates; creation and editing happen out of band.
type Template struct {
	Base
	Discriminator         string         `json:"polymorphic_discriminator"`
	InstancePrefix        string         `json:"instance_prefix,omitempty"`
	InstanceDiscriminator string         `json:"instance_polymorphic_identity,omitempty"`
	Singleton             bool           `json:"is_singleton"`
	Config                TemplateConfig `json:"json_addl"`
}

// Code returns the template's 4-part code.
func (t Template) Code() TemplateCode {
	return MakeTemplateCode(t.Category, t.Type, t.Subtype, t.Version)
}

// InstanceKind computes the discriminator stamped onto instances created from
// this template: the explicit override when present, otherwise the template's
// own discriminator with "_template" replaced by "_instance".
func (t Template) InstanceKind() string {
	if t.InstanceDiscriminator != "" {
		return t.InstanceDiscriminator
	}
	return strings.ReplaceAll(t.Discriminator, "_template", "_instance")
}

// Clone returns a deep copy of the template.
func (t Template) Clone() *Template {
	cp := t
	cp.Config = t.Config.Clone()
	return &cp
}

// Instance is a concrete object materialized from a template. Its
// configuration is a snapshot merged at creation time and thereafter mutable
// independently of the originating template.
type Instance struct {
	Base
	Discriminator string         `json:"polymorphic_discriminator"`
	TemplateUUID  string         `json:"template_uuid,omitempty"`
	Singleton     bool           `json:"is_singleton"`
	Config        InstanceConfig `json:"json_addl"`

	// Hydrated lineage collections, populated by store reads. Never
	// serialized; lineage edges persist independently.
	ParentOf []*Lineage `json:"-"`
	ChildOf  []*Lineage `json:"-"`
}

// Clone returns a deep copy of the instance. Lineage collections are not
// carried over; callers re-hydrate them from the store.
func (i Instance) Clone() *Instance {
	cp := i
	cp.Config = i.Config.Clone()
	cp.ParentOf = nil
	cp.ChildOf = nil
	return &cp
}

// Lineage is a directed, typed edge between two instances. Endpoint
// discriminators are denormalized onto the edge for fast graph queries.
type Lineage struct {
	Base
	Discriminator    string `json:"polymorphic_discriminator"`
	RelationshipType string `json:"relationship_type"`
	ParentUUID       string `json:"parent_instance_uuid"`
	ChildUUID        string `json:"child_instance_uuid"`
	ParentType       string `json:"parent_type"`
	ChildType        string `json:"child_type"`

	// Hydrated endpoints, populated by store reads.
	Parent *Instance `json:"-"`
	Child  *Instance `json:"-"`
}

// Clone returns a copy of the edge without hydrated endpoints.
func (l Lineage) Clone() *Lineage {
	cp := l
	cp.Parent = nil
	cp.Child = nil
	return &cp
}
