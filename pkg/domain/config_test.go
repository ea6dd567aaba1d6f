package domain

import (
	"encoding/json"
	"testing"
	"time"
)

func TestTemplateConfigJSONRoundTrip(t *testing.T) {
	raw := []byte(`{
		"properties": {"volume_ul": 200},
		"action_imports": {"seal": "action/plate/seal/1.0"},
		"instantiation_layouts": ["container/well/well-a/1.0"],
		"default_status": "ready",
		"singleton": true,
		"action_definition": {"method": "heat"},
		"vendor_notes": "keep upright"
	}`)

	var cfg TemplateConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if cfg.Properties["volume_ul"] != float64(200) {
		t.Errorf("properties lost: %+v", cfg.Properties)
	}
	if cfg.ActionImports["seal"] != "action/plate/seal/1.0" {
		t.Errorf("action imports lost: %+v", cfg.ActionImports)
	}
	if cfg.DefaultStatus != "ready" || !cfg.Singleton {
		t.Errorf("scalar sections lost: %+v", cfg)
	}
	if cfg.Extra["vendor_notes"] != "keep upright" {
		t.Errorf("extension key lost: %+v", cfg.Extra)
	}

	data, err := json.Marshal(cfg)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var round TemplateConfig
	if err := json.Unmarshal(data, &round); err != nil {
		t.Fatalf("re-unmarshal: %v", err)
	}
	if round.Extra["vendor_notes"] != "keep upright" || round.DefaultStatus != "ready" {
		t.Errorf("round trip lost data: %+v", round)
	}
}

func TestInstanceConfigSectionsAlwaysSerialized(t *testing.T) {
	data, err := json.Marshal(InstanceConfig{})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	props, ok := raw["properties"].(map[string]any)
	if !ok || len(props) != 0 {
		t.Fatalf("properties should serialize as an empty object: %v", raw)
	}
	groups, ok := raw["action_groups"].(map[string]any)
	if !ok || len(groups) != 0 {
		t.Fatalf("action_groups should serialize as an empty object: %v", raw)
	}
	audit, ok := raw["audit_log"].([]any)
	if !ok || len(audit) != 0 {
		t.Fatalf("audit_log should serialize as an empty list: %v", raw)
	}
}

func TestActionStateJSONFlattening(t *testing.T) {
	state := ActionState{
		TemplateUUID: "uuid-1",
		TemplateEUID: "GT1",
		TemplateCode: "action/plate/seal/1.0",
		Executed:     "2",
		ExecutedAt:   []string{"2026-01-02T03:04:05Z"},
		Enabled:      "1",
		Definition:   map[string]any{"method": "heat", "temp_c": float64(180)},
	}

	data, err := json.Marshal(state)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("unmarshal raw: %v", err)
	}
	if raw["method"] != "heat" || raw["action_executed"] != "2" || raw["action_template_uuid"] != "uuid-1" {
		t.Errorf("flattened object wrong: %v", raw)
	}

	var round ActionState
	if err := json.Unmarshal(data, &round); err != nil {
		t.Fatalf("unmarshal typed: %v", err)
	}
	if round.TemplateEUID != "GT1" || round.Definition["temp_c"] != float64(180) {
		t.Errorf("round trip lost data: %+v", round)
	}
	if len(round.ExecutedAt) != 1 {
		t.Errorf("execution history lost: %+v", round.ExecutedAt)
	}
}

func TestActionStateRecordExecution(t *testing.T) {
	state := &ActionState{Executed: "0"}
	at := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)
	state.RecordExecution(at)
	state.RecordExecution(at.Add(time.Hour))

	if state.Executed != "2" {
		t.Errorf("executed = %q", state.Executed)
	}
	if len(state.ExecutedAt) != 2 || state.ExecutedAt[0] != "2026-03-04T05:06:07Z" {
		t.Errorf("history = %v", state.ExecutedAt)
	}

	state.Executed = "garbage"
	state.RecordExecution(at)
	if state.Executed != "1" {
		t.Errorf("malformed counter should reset to 1, got %q", state.Executed)
	}
}

func TestInstanceConfigCloneIndependence(t *testing.T) {
	cfg := InstanceConfig{
		Properties: map[string]any{"nested": map[string]any{"k": "v"}},
		ActionGroups: map[string]map[string]*ActionState{
			"plate_actions": {"seal": {Executed: "0", Definition: map[string]any{"method": "heat"}}},
		},
	}
	cp := cfg.Clone()

	cp.Properties["nested"].(map[string]any)["k"] = "changed"
	cp.ActionGroups["plate_actions"]["seal"].RecordExecution(time.Now())

	if cfg.Properties["nested"].(map[string]any)["k"] != "v" {
		t.Error("clone aliased nested properties")
	}
	if cfg.ActionGroups["plate_actions"]["seal"].Executed != "0" {
		t.Error("clone aliased action state")
	}
}
