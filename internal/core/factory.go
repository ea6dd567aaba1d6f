package core

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"tapcore/pkg/domain"
)

// MaxInstantiationDepth bounds recursive layout expansion. The root sits at
// depth zero, so a chain may span MaxInstantiationDepth+1 templates. Graphs
// deeper than that indicate an authoring defect.
const MaxInstantiationDepth = 10

// DefaultNamePattern names children when neither the layout nor the child
// entry supplies a pattern.
const DefaultNamePattern = "{parent_name}_{child_subtype}_{index}"

// DefaultInstanceStatus is stamped onto instances whose template declares no
// default_status.
const DefaultInstanceStatus = "created"

// InstanceFactory materializes instances from templates: merged properties,
// imported actions, and recursively expanded child subtrees linked by lineage
// edges. All writes go through the caller's transaction, so a failure
// anywhere in a subtree leaves nothing behind.
type InstanceFactory struct {
	resolver *TemplateResolver
	logger   Logger
}

// FactoryOption customizes an InstanceFactory.
type FactoryOption func(*InstanceFactory)

// WithFactoryLogger sets the factory's logger.
func WithFactoryLogger(logger Logger) FactoryOption {
	return func(f *InstanceFactory) {
		if logger != nil {
			f.logger = logger
		}
	}
}

// NewInstanceFactory builds a factory around a template resolver.
func NewInstanceFactory(resolver *TemplateResolver, opts ...FactoryOption) *InstanceFactory {
	f := &InstanceFactory{resolver: resolver, logger: NopLogger()}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// CreateOptions adjusts instance creation.
type CreateOptions struct {
	// Properties overlay the template's default properties. Top-level keys
	// replace wholesale; nested maps are not merged.
	Properties map[string]any
	// SkipChildren suppresses layout expansion, creating only the root.
	SkipChildren bool
}

// CreateInstance creates an instance of the coded template, expanding its
// layouts into a full child subtree unless opts says otherwise.
func (f *InstanceFactory) CreateInstance(tx domain.Tx, code, name string, opts CreateOptions) (*domain.Instance, error) {
	return f.createInstance(tx, code, name, opts.Properties, !opts.SkipChildren, 0, map[domain.TemplateCode]struct{}{})
}

func (f *InstanceFactory) createInstance(tx domain.Tx, rawCode, name string, overrides map[string]any, createChildren bool, depth int, visited map[domain.TemplateCode]struct{}) (*domain.Instance, error) {
	if depth > MaxInstantiationDepth {
		return nil, domain.MaxDepthError{Limit: MaxInstantiationDepth}
	}
	code := domain.NormalizeTemplateCode(rawCode)
	if _, seen := visited[code]; seen {
		return nil, domain.CycleError{Code: code}
	}

	tpl, ok := f.resolver.ResolveByCode(tx, rawCode)
	if !ok {
		return nil, domain.NotFoundError{Code: code}
	}

	config := domain.InstanceConfig{
		Properties: domain.CopyProperties(tpl.Config.Properties),
	}
	if config.Properties == nil && len(overrides) > 0 {
		config.Properties = make(map[string]any, len(overrides))
	}
	for k, v := range overrides {
		config.Properties[k] = v
	}
	config.ActionGroups = f.materializeActions(tx, tpl)

	status := tpl.Config.DefaultStatus
	if status == "" {
		status = DefaultInstanceStatus
	}
	if name == "" {
		name = tpl.Name
	}

	inst, err := tx.InsertInstance(&domain.Instance{
		Base: domain.Base{
			Name:     name,
			Category: tpl.Category,
			Type:     tpl.Type,
			Subtype:  tpl.Subtype,
			Version:  tpl.Version,
			Status:   status,
		},
		Discriminator: tpl.InstanceKind(),
		TemplateUUID:  tpl.UUID,
		Singleton:     tpl.Singleton || tpl.Config.Singleton,
		Config:        config,
	})
	if err != nil {
		return nil, fmt.Errorf("insert instance of %s: %w", code, err)
	}
	f.logger.Debug("instance created", "euid", inst.EUID, "template", string(code), "depth", depth)

	if createChildren {
		if err := f.expandLayouts(tx, inst, tpl, depth, visited, code); err != nil {
			return nil, err
		}
	}
	return inst, nil
}

// materializeActions copies each importable action's definition into the
// instance catalog, grouped by "<action template type>_actions", with fresh
// tracking fields. Imports that no longer resolve are skipped, not fatal.
func (f *InstanceFactory) materializeActions(tx domain.Tx, tpl *domain.Template) map[string]map[string]*domain.ActionState {
	if len(tpl.Config.ActionImports) == 0 {
		return nil
	}
	keys := make([]string, 0, len(tpl.Config.ActionImports))
	for key := range tpl.Config.ActionImports {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	groups := make(map[string]map[string]*domain.ActionState)
	for _, key := range keys {
		actionCode := tpl.Config.ActionImports[key]
		actionTpl, ok := f.resolver.ResolveByCode(tx, actionCode)
		if !ok {
			f.logger.Warn("action import skipped", "template", string(tpl.Code()), "action_key", key, "action_code", actionCode)
			continue
		}
		group := actionTpl.Type + "_actions"
		if groups[group] == nil {
			groups[group] = make(map[string]*domain.ActionState)
		}
		groups[group][key] = &domain.ActionState{
			TemplateUUID: actionTpl.UUID,
			TemplateEUID: actionTpl.EUID,
			TemplateCode: string(actionTpl.Code()),
			Executed:     "0",
			ExecutedAt:   []string{},
			Enabled:      "1",
			Definition:   domain.CopyProperties(actionTpl.Config.ActionDefinition),
		}
	}
	if len(groups) == 0 {
		return nil
	}
	return groups
}

// expandLayouts creates each layout's children beneath parent and links them.
// The visited set is copied per child branch, so a template may recur across
// sibling branches while direct ancestor cycles are still caught.
func (f *InstanceFactory) expandLayouts(tx domain.Tx, parent *domain.Instance, tpl *domain.Template, depth int, visited map[domain.TemplateCode]struct{}, code domain.TemplateCode) error {
	layouts, err := domain.NormalizeLayouts(tpl.Config.Layouts)
	if err != nil {
		return fmt.Errorf("template %s: %w", code, err)
	}

	for layoutIdx, layout := range layouts {
		for childIdx, child := range layout.Children {
			childCode, err := domain.ParseTemplateCode(child.TemplateCode)
			if err != nil {
				return fmt.Errorf("template %s layout %d: %w", code, layoutIdx, err)
			}
			pattern := child.NamePattern
			if pattern == "" {
				pattern = layout.NamePattern
			}
			if pattern == "" {
				pattern = DefaultNamePattern
			}
			for n := 0; n < child.Count; n++ {
				childName := expandNamePattern(pattern, parent, childCode, n+1, layoutIdx, childIdx)

				branchVisited := make(map[domain.TemplateCode]struct{}, len(visited)+1)
				for k := range visited {
					branchVisited[k] = struct{}{}
				}
				branchVisited[code] = struct{}{}

				childInst, err := f.createInstance(tx, string(childCode), childName, nil, true, depth+1, branchVisited)
				if err != nil {
					return err
				}
				if _, err := f.createLineage(tx, parent, childInst, layout.RelationshipType); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// expandNamePattern substitutes naming tokens. index is 1-based within one
// child_templates entry, resetting per entry; layout and child indexes are
// 0-based positions.
func expandNamePattern(pattern string, parent *domain.Instance, childCode domain.TemplateCode, index, layoutIdx, childIdx int) string {
	return strings.NewReplacer(
		"{parent_name}", parent.Name,
		"{parent_euid}", parent.EUID,
		"{index}", strconv.Itoa(index),
		"{layout_index}", strconv.Itoa(layoutIdx),
		"{child_index}", strconv.Itoa(childIdx),
		"{child_subtype}", childCode.Subtype(),
		"{child_template_code}", string(childCode),
	).Replace(pattern)
}

func (f *InstanceFactory) createLineage(tx domain.Tx, parent, child *domain.Instance, relationshipType string) (*domain.Lineage, error) {
	edge, err := tx.InsertLineage(&domain.Lineage{
		Base: domain.Base{
			Name:     parent.EUID + "->" + child.EUID,
			Category: "generic",
			Type:     "lineage",
			Subtype:  "instance_lineage",
			Version:  "1.0.0",
			Status:   "active",
		},
		Discriminator:    domain.DiscriminatorGenericLineage,
		RelationshipType: relationshipType,
		ParentUUID:       parent.UUID,
		ChildUUID:        child.UUID,
	})
	if err != nil {
		return nil, fmt.Errorf("link %s->%s: %w", parent.EUID, child.EUID, err)
	}
	return edge, nil
}

// LinkInstances creates a lineage edge between two existing instances. An
// empty relationship type records as "generic".
func (f *InstanceFactory) LinkInstances(tx domain.Tx, parent, child *domain.Instance, relationshipType string) (*domain.Lineage, error) {
	if parent == nil || child == nil {
		return nil, fmt.Errorf("both endpoints are required")
	}
	if relationshipType == "" {
		relationshipType = "generic"
	}
	return f.createLineage(tx, parent, child, relationshipType)
}

// GetOrCreateSingleton returns the newest live instance of a singleton
// template, creating one when none exists. Soft-deleted instances are never
// resurrected.
func (f *InstanceFactory) GetOrCreateSingleton(tx domain.Tx, code, name string, opts CreateOptions) (*domain.Instance, error) {
	tpl, ok := f.resolver.ResolveByCode(tx, code)
	if !ok {
		return nil, domain.NotFoundError{Code: domain.NormalizeTemplateCode(code)}
	}
	if !tpl.Singleton && !tpl.Config.Singleton {
		return nil, fmt.Errorf("template %s is not a singleton", tpl.Code())
	}
	if existing := tx.ListInstancesByTemplate(tpl.UUID, false); len(existing) > 0 {
		return existing[0], nil
	}
	return f.CreateInstance(tx, code, name, opts)
}
