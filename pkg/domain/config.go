package domain

import (
	"encoding/json"
	"strconv"
	"time"
)

// Configuration blob keys recognized by the core. Anything else round-trips
// through the Extra maps untouched.
const (
	keyProperties    = "properties"
	keyActionImports = "action_imports"
	keyLayouts       = "instantiation_layouts"
	keyDefaultStatus = "default_status"
	keySingleton     = "singleton"
	keyActionDef     = "action_definition"
	keyActionGroups  = "action_groups"
	keyAuditLog      = "audit_log"
)

// TemplateConfig is the typed view of a template's configuration blob.
// Layouts stays untyped here; NormalizeLayouts validates its shape on use.
type TemplateConfig struct {
	Properties       map[string]any    `json:"-"`
	ActionImports    map[string]string `json:"-"`
	Layouts          any               `json:"-"`
	DefaultStatus    string            `json:"-"`
	Singleton        bool              `json:"-"`
	ActionDefinition map[string]any    `json:"-"`
	Extra            map[string]any    `json:"-"`
}

// MarshalJSON flattens the known sections and extension keys into one object.
func (c TemplateConfig) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(c.Extra)+6)
	for k, v := range c.Extra {
		out[k] = v
	}
	if c.Properties != nil {
		out[keyProperties] = c.Properties
	}
	if c.ActionImports != nil {
		out[keyActionImports] = c.ActionImports
	}
	if c.Layouts != nil {
		out[keyLayouts] = c.Layouts
	}
	if c.DefaultStatus != "" {
		out[keyDefaultStatus] = c.DefaultStatus
	}
	if c.Singleton {
		out[keySingleton] = c.Singleton
	}
	if c.ActionDefinition != nil {
		out[keyActionDef] = c.ActionDefinition
	}
	return json.Marshal(out)
}

// UnmarshalJSON splits recognized keys from extension keys.
func (c *TemplateConfig) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*c = TemplateConfig{}
	for key, val := range raw {
		switch key {
		case keyProperties:
			if err := json.Unmarshal(val, &c.Properties); err != nil {
				return err
			}
		case keyActionImports:
			if err := json.Unmarshal(val, &c.ActionImports); err != nil {
				return err
			}
		case keyLayouts:
			if err := json.Unmarshal(val, &c.Layouts); err != nil {
				return err
			}
		case keyDefaultStatus:
			if err := json.Unmarshal(val, &c.DefaultStatus); err != nil {
				return err
			}
		case keySingleton:
			if err := json.Unmarshal(val, &c.Singleton); err != nil {
				return err
			}
		case keyActionDef:
			if err := json.Unmarshal(val, &c.ActionDefinition); err != nil {
				return err
			}
		default:
			if c.Extra == nil {
				c.Extra = make(map[string]any)
			}
			var v any
			if err := json.Unmarshal(val, &v); err != nil {
				return err
			}
			c.Extra[key] = v
		}
	}
	return nil
}

// Clone deep-copies the configuration.
func (c TemplateConfig) Clone() TemplateConfig {
	cp := c
	cp.Properties = CopyProperties(c.Properties)
	if c.ActionImports != nil {
		cp.ActionImports = make(map[string]string, len(c.ActionImports))
		for k, v := range c.ActionImports {
			cp.ActionImports[k] = v
		}
	}
	cp.Layouts = copyValue(c.Layouts)
	cp.ActionDefinition = CopyProperties(c.ActionDefinition)
	cp.Extra = CopyProperties(c.Extra)
	return cp
}

// InstanceConfig is the typed view of an instance's configuration blob:
// merged properties, the materialized action catalog, and the audit trail.
type InstanceConfig struct {
	Properties   map[string]any                     `json:"-"`
	ActionGroups map[string]map[string]*ActionState `json:"-"`
	AuditLog     []map[string]any                   `json:"-"`
	Extra        map[string]any                     `json:"-"`
}

// MarshalJSON emits the three known sections plus extension keys. All three
// sections are always present, so freshly created instances serialize empty
// properties, action_groups, and audit_log rather than omitting the keys.
func (c InstanceConfig) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(c.Extra)+3)
	for k, v := range c.Extra {
		out[k] = v
	}
	props := c.Properties
	if props == nil {
		props = map[string]any{}
	}
	out[keyProperties] = props
	groups := c.ActionGroups
	if groups == nil {
		groups = map[string]map[string]*ActionState{}
	}
	out[keyActionGroups] = groups
	audit := c.AuditLog
	if audit == nil {
		audit = []map[string]any{}
	}
	out[keyAuditLog] = audit
	return json.Marshal(out)
}

// UnmarshalJSON splits recognized keys from extension keys.
func (c *InstanceConfig) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*c = InstanceConfig{}
	for key, val := range raw {
		switch key {
		case keyProperties:
			if err := json.Unmarshal(val, &c.Properties); err != nil {
				return err
			}
		case keyActionGroups:
			if err := json.Unmarshal(val, &c.ActionGroups); err != nil {
				return err
			}
		case keyAuditLog:
			if err := json.Unmarshal(val, &c.AuditLog); err != nil {
				return err
			}
		default:
			if c.Extra == nil {
				c.Extra = make(map[string]any)
			}
			var v any
			if err := json.Unmarshal(val, &v); err != nil {
				return err
			}
			c.Extra[key] = v
		}
	}
	return nil
}

// Clone deep-copies the configuration, including every action state, so two
// instances never alias tracking fields.
func (c InstanceConfig) Clone() InstanceConfig {
	cp := c
	cp.Properties = CopyProperties(c.Properties)
	if c.ActionGroups != nil {
		cp.ActionGroups = make(map[string]map[string]*ActionState, len(c.ActionGroups))
		for group, actions := range c.ActionGroups {
			cloned := make(map[string]*ActionState, len(actions))
			for key, state := range actions {
				cloned[key] = state.Clone()
			}
			cp.ActionGroups[group] = cloned
		}
	}
	if c.AuditLog != nil {
		cp.AuditLog = make([]map[string]any, len(c.AuditLog))
		for i, entry := range c.AuditLog {
			cp.AuditLog[i] = CopyProperties(entry)
		}
	}
	cp.Extra = CopyProperties(c.Extra)
	return cp
}

// Action returns the action state for group/key, or nil when either is
// absent.
func (c InstanceConfig) Action(group, key string) *ActionState {
	actions, ok := c.ActionGroups[group]
	if !ok {
		return nil
	}
	return actions[key]
}

// ActionState is one materialized action inside an instance's catalog: the
// action template identity, the copied definition fields, and per-instance
// runtime tracking. Definition fields serialize flattened alongside the
// tracking fields, preserving the blob layout consumers expect.
type ActionState struct {
	TemplateUUID string
	TemplateEUID string
	TemplateCode string
	Executed     string
	ExecutedAt   []string
	Enabled      string
	Definition   map[string]any
}

// Tracking field keys inside a materialized action.
const (
	keyActionTemplateUUID = "action_template_uuid"
	keyActionTemplateEUID = "action_template_euid"
	keyActionTemplateCode = "action_template_code"
	keyActionExecuted     = "action_executed"
	keyExecutedDatetime   = "executed_datetime"
	keyActionEnabled      = "action_enabled"
)

// MarshalJSON flattens definition fields and tracking fields into one object.
func (a ActionState) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(a.Definition)+6)
	for k, v := range a.Definition {
		out[k] = v
	}
	out[keyActionTemplateUUID] = a.TemplateUUID
	out[keyActionTemplateEUID] = a.TemplateEUID
	out[keyActionTemplateCode] = a.TemplateCode
	out[keyActionExecuted] = a.Executed
	executed := a.ExecutedAt
	if executed == nil {
		executed = []string{}
	}
	out[keyExecutedDatetime] = executed
	out[keyActionEnabled] = a.Enabled
	return json.Marshal(out)
}

// UnmarshalJSON separates tracking fields from definition fields.
func (a *ActionState) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*a = ActionState{}
	for key, val := range raw {
		switch key {
		case keyActionTemplateUUID:
			if err := json.Unmarshal(val, &a.TemplateUUID); err != nil {
				return err
			}
		case keyActionTemplateEUID:
			if err := json.Unmarshal(val, &a.TemplateEUID); err != nil {
				return err
			}
		case keyActionTemplateCode:
			if err := json.Unmarshal(val, &a.TemplateCode); err != nil {
				return err
			}
		case keyActionExecuted:
			if err := json.Unmarshal(val, &a.Executed); err != nil {
				return err
			}
		case keyExecutedDatetime:
			if err := json.Unmarshal(val, &a.ExecutedAt); err != nil {
				return err
			}
		case keyActionEnabled:
			if err := json.Unmarshal(val, &a.Enabled); err != nil {
				return err
			}
		default:
			if a.Definition == nil {
				a.Definition = make(map[string]any)
			}
			var v any
			if err := json.Unmarshal(val, &v); err != nil {
				return err
			}
			a.Definition[key] = v
		}
	}
	return nil
}

// Clone deep-copies the action state.
func (a *ActionState) Clone() *ActionState {
	if a == nil {
		return nil
	}
	cp := *a
	cp.ExecutedAt = append([]string(nil), a.ExecutedAt...)
	cp.Definition = CopyProperties(a.Definition)
	return &cp
}

// ExecutionCount parses the string-encoded execution counter; malformed
// values count as zero.
func (a *ActionState) ExecutionCount() int {
	n, err := strconv.Atoi(a.Executed)
	if err != nil {
		return 0
	}
	return n
}

// RecordExecution increments the counter and appends the timestamp to the
// execution history.
func (a *ActionState) RecordExecution(at time.Time) {
	a.Executed = strconv.Itoa(a.ExecutionCount() + 1)
	a.ExecutedAt = append(a.ExecutedAt, at.UTC().Format(time.RFC3339))
}

// CopyProperties deep-copies a properties map, recursing into nested maps and
// slices. nil stays nil.
func CopyProperties(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = copyValue(v)
	}
	return out
}

func copyValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return CopyProperties(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = copyValue(item)
		}
		return out
	default:
		return v
	}
}
