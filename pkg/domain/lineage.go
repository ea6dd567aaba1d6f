package domain

import (
	"fmt"
	"reflect"
	"sort"
)

// LineageDirection selects which incident edge collection to operate on.
type LineageDirection string

// Lineage directions.
const (
	ParentOfLineages LineageDirection = "parent_of_lineages"
	ChildOfLineages  LineageDirection = "child_of_lineages"
)

// LineageMember selects which endpoint of an edge to inspect.
type LineageMember string

// Lineage endpoint selectors.
const (
	ParentInstanceMember LineageMember = "parent_instance"
	ChildInstanceMember  LineageMember = "child_instance"
)

// DefaultPriorityDiscriminators puts workflow steps first in sorted lineage
// listings, so UIs list step children ahead of everything else.
var DefaultPriorityDiscriminators = []string{DiscriminatorWorkflowStep}

// SortedParentOfLineages partitions an instance's outgoing edges by whether
// the child's discriminator is in the priority set, sorts each group
// ascending by child EUID, and returns the priority group first. A nil
// priority set means DefaultPriorityDiscriminators.
func SortedParentOfLineages(edges []*Lineage, priority []string) []*Lineage {
	return sortedLineages(edges, priority, ChildInstanceMember)
}

// SortedChildOfLineages is the incoming-edge counterpart of
// SortedParentOfLineages, partitioning and sorting by the parent endpoint.
func SortedChildOfLineages(edges []*Lineage, priority []string) []*Lineage {
	return sortedLineages(edges, priority, ParentInstanceMember)
}

func sortedLineages(edges []*Lineage, priority []string, member LineageMember) []*Lineage {
	if priority == nil {
		priority = DefaultPriorityDiscriminators
	}
	prioritySet := make(map[string]struct{}, len(priority))
	for _, p := range priority {
		prioritySet[p] = struct{}{}
	}

	var first, rest []*Lineage
	for _, edge := range edges {
		if _, ok := prioritySet[peerDiscriminator(edge, member)]; ok {
			first = append(first, edge)
		} else {
			rest = append(rest, edge)
		}
	}
	byPeerEUID := func(group []*Lineage) {
		sort.SliceStable(group, func(i, j int) bool {
			return peerEUID(group[i], member) < peerEUID(group[j], member)
		})
	}
	byPeerEUID(first)
	byPeerEUID(rest)
	return append(first, rest...)
}

// FilterLineageMembers returns every edge whose selected endpoint matches all
// criteria. Each criterion matches when the peer has a same-named attribute
// with an equal value, or failing that, a same-named key inside the peer's
// properties with an equal value. The fallback reads the properties section
// only, never the other configuration blob keys (action groups, audit log,
// extension keys are not matchable). Invalid direction/member values and
// empty criteria are caller errors.
func FilterLineageMembers(edges []*Lineage, direction LineageDirection, member LineageMember, criteria map[string]any) ([]*Lineage, error) {
	if direction != ParentOfLineages && direction != ChildOfLineages {
		return nil, fmt.Errorf("direction must be %q or %q", ParentOfLineages, ChildOfLineages)
	}
	if member != ParentInstanceMember && member != ChildInstanceMember {
		return nil, fmt.Errorf("member must be %q or %q", ParentInstanceMember, ChildInstanceMember)
	}
	if len(criteria) == 0 {
		return nil, fmt.Errorf("criteria cannot be empty")
	}

	var out []*Lineage
	for _, edge := range edges {
		peer := peerInstance(edge, member)
		if peer == nil {
			continue
		}
		if matchesCriteria(peer, criteria) {
			out = append(out, edge)
		}
	}
	return out, nil
}

func matchesCriteria(peer *Instance, criteria map[string]any) bool {
	for key, want := range criteria {
		attr, hasAttr := instanceAttribute(peer, key)
		if hasAttr && equalValues(attr, want) {
			continue
		}
		if prop, ok := peer.Config.Properties[key]; ok && equalValues(prop, want) {
			continue
		}
		return false
	}
	return true
}

// instanceAttribute maps criterion keys to instance fields. The blob key
// names are accepted alongside the Go field names so stored criteria keep
// working against either spelling.
func instanceAttribute(inst *Instance, key string) (any, bool) {
	switch key {
	case "uuid":
		return inst.UUID, true
	case "euid":
		return inst.EUID, true
	case "name":
		return inst.Name, true
	case "category":
		return inst.Category, true
	case "type":
		return inst.Type, true
	case "subtype":
		return inst.Subtype, true
	case "version":
		return inst.Version, true
	case "bstatus", "status":
		return inst.Status, true
	case "polymorphic_discriminator", "discriminator":
		return inst.Discriminator, true
	case "template_uuid":
		return inst.TemplateUUID, true
	case "is_deleted":
		return inst.Deleted, true
	case "is_singleton":
		return inst.Singleton, true
	default:
		return nil, false
	}
}

func equalValues(a, b any) bool {
	return reflect.DeepEqual(a, b)
}

func peerInstance(edge *Lineage, member LineageMember) *Instance {
	if member == ParentInstanceMember {
		return edge.Parent
	}
	return edge.Child
}

func peerDiscriminator(edge *Lineage, member LineageMember) string {
	if peer := peerInstance(edge, member); peer != nil {
		return peer.Discriminator
	}
	if member == ParentInstanceMember {
		return edge.ParentType
	}
	return edge.ChildType
}

func peerEUID(edge *Lineage, member LineageMember) string {
	if peer := peerInstance(edge, member); peer != nil {
		return peer.EUID
	}
	return ""
}
