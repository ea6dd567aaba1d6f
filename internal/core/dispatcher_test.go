package core

import (
	"context"
	"fmt"
	"testing"
	"time"

	"tapcore/internal/infra/persistence/memory"
	"tapcore/pkg/domain"
)

// seedActionableInstance creates a template importing one action and an
// instance of it, returning the instance.
func seedActionableInstance(t *testing.T, store *memory.Store) *domain.Instance {
	t.Helper()
	var inst *domain.Instance
	err := store.RunInTransaction(context.Background(), func(tx domain.Tx) error {
		actionTpl := templateWithCode("action/plate/seal/1.0")
		actionTpl.Config.ActionDefinition = map[string]any{"method": "heat"}
		if _, err := tx.InsertTemplate(actionTpl); err != nil {
			return err
		}
		tmpl := templateWithCode("container/plate/plate-96/1.0")
		tmpl.Config.ActionImports = map[string]string{"seal": "action/plate/seal/1.0"}
		if _, err := tx.InsertTemplate(tmpl); err != nil {
			return err
		}
		factory := newFactory()
		var txErr error
		inst, txErr = factory.CreateInstance(tx, "container/plate/plate-96/1.0", "plate-1", CreateOptions{})
		return txErr
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	return inst
}

func TestExecuteSuccessUpdatesTracking(t *testing.T) {
	store := newTestStore()
	inst := seedActionableInstance(t, store)

	now := time.Date(2026, 2, 3, 4, 5, 6, 0, time.UTC)
	dispatcher := NewActionDispatcher(WithDispatcherClock(func() time.Time { return now }))
	dispatcher.Register("seal", func(_ *domain.Instance, _ *domain.ActionState, captured map[string]any) (ActionResult, error) {
		return ActionResult{Status: StatusSuccess, Data: map[string]any{"sealed": true}}, nil
	})

	var result ActionResult
	err := store.RunInTransaction(context.Background(), func(tx domain.Tx) error {
		current, _ := tx.GetInstance(inst.UUID)
		var txErr error
		result, txErr = dispatcher.Execute(tx, ExecuteRequest{
			Instance: current,
			Group:    "plate_actions",
			Key:      "seal",
			Action:   current.Config.Action("plate_actions", "seal"),
		})
		return txErr
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if result.Status != StatusSuccess {
		t.Fatalf("status = %q (%s)", result.Status, result.Message)
	}

	err = store.View(context.Background(), func(tx domain.Tx) error {
		got, _ := tx.GetInstance(inst.UUID)
		state := got.Config.Action("plate_actions", "seal")
		if state.Executed != "1" {
			t.Errorf("executed = %q", state.Executed)
		}
		if len(state.ExecutedAt) != 1 || state.ExecutedAt[0] != "2026-02-03T04:05:06Z" {
			t.Errorf("history = %v", state.ExecutedAt)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("view: %v", err)
	}
}

func TestExecuteNoHandler(t *testing.T) {
	store := newTestStore()
	inst := seedActionableInstance(t, store)
	dispatcher := NewActionDispatcher()

	var result ActionResult
	err := store.RunInTransaction(context.Background(), func(tx domain.Tx) error {
		current, _ := tx.GetInstance(inst.UUID)
		var txErr error
		result, txErr = dispatcher.Execute(tx, ExecuteRequest{
			Instance: current,
			Group:    "plate_actions",
			Key:      "seal",
			Action:   current.Config.Action("plate_actions", "seal"),
		})
		return txErr
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if result.Status != StatusError {
		t.Errorf("status = %q", result.Status)
	}

	// A missing handler short-circuits before any tracking update.
	err = store.View(context.Background(), func(tx domain.Tx) error {
		got, _ := tx.GetInstance(inst.UUID)
		if got.Config.Action("plate_actions", "seal").Executed != "0" {
			t.Error("tracking advanced without a handler")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("view: %v", err)
	}
}

func TestExecuteFailureStillAdvancesTracking(t *testing.T) {
	store := newTestStore()
	inst := seedActionableInstance(t, store)

	for name, handler := range map[string]ActionHandler{
		"returned error": func(*domain.Instance, *domain.ActionState, map[string]any) (ActionResult, error) {
			return ActionResult{}, fmt.Errorf("robot jammed")
		},
		"panic": func(*domain.Instance, *domain.ActionState, map[string]any) (ActionResult, error) {
			panic("wiring fault")
		},
	} {
		t.Run(name, func(t *testing.T) {
			dispatcher := NewActionDispatcher()
			dispatcher.Register("seal", handler)

			var before int
			err := store.View(context.Background(), func(tx domain.Tx) error {
				got, _ := tx.GetInstance(inst.UUID)
				before = got.Config.Action("plate_actions", "seal").ExecutionCount()
				return nil
			})
			if err != nil {
				t.Fatalf("view: %v", err)
			}

			var result ActionResult
			err = store.RunInTransaction(context.Background(), func(tx domain.Tx) error {
				current, _ := tx.GetInstance(inst.UUID)
				var txErr error
				result, txErr = dispatcher.Execute(tx, ExecuteRequest{
					Instance: current,
					Group:    "plate_actions",
					Key:      "seal",
					Action:   current.Config.Action("plate_actions", "seal"),
				})
				return txErr
			})
			if err != nil {
				t.Fatalf("execute: %v", err)
			}
			if result.Status != StatusError || result.Message == "" {
				t.Errorf("result = %+v", result)
			}

			err = store.View(context.Background(), func(tx domain.Tx) error {
				got, _ := tx.GetInstance(inst.UUID)
				if got.Config.Action("plate_actions", "seal").ExecutionCount() != before+1 {
					t.Error("failed execution did not advance the counter")
				}
				return nil
			})
			if err != nil {
				t.Fatalf("view: %v", err)
			}
		})
	}
}

func TestExecuteRecordsAuditOnlyOnSuccess(t *testing.T) {
	store := newTestStore()
	inst := seedActionableInstance(t, store)

	dispatcher := NewActionDispatcher()
	fail := true
	dispatcher.Register("seal", func(*domain.Instance, *domain.ActionState, map[string]any) (ActionResult, error) {
		if fail {
			return ActionResult{}, fmt.Errorf("robot jammed")
		}
		return ActionResult{Status: StatusSuccess, Data: map[string]any{"ok": true}}, nil
	})

	run := func() {
		err := store.RunInTransaction(context.Background(), func(tx domain.Tx) error {
			current, _ := tx.GetInstance(inst.UUID)
			_, txErr := dispatcher.Execute(tx, ExecuteRequest{
				Instance:     current,
				Group:        "plate_actions",
				Key:          "seal",
				Action:       current.Config.Action("plate_actions", "seal"),
				Captured:     map[string]any{"operator_note": "batch 7"},
				RecordAction: true,
				User:         "jordan",
			})
			return txErr
		})
		if err != nil {
			t.Fatalf("execute: %v", err)
		}
	}

	countRecords := func() int {
		var n int
		err := store.View(context.Background(), func(tx domain.Tx) error {
			var actionTemplateUUID string
			current, _ := tx.GetInstance(inst.UUID)
			actionTemplateUUID = current.Config.Action("plate_actions", "seal").TemplateUUID
			n = len(tx.ListInstancesByTemplate(actionTemplateUUID, true))
			return nil
		})
		if err != nil {
			t.Fatalf("view: %v", err)
		}
		return n
	}

	run()
	if got := countRecords(); got != 0 {
		t.Fatalf("failed run produced %d audit records", got)
	}

	fail = false
	run()
	if got := countRecords(); got != 1 {
		t.Fatalf("expected 1 audit record, got %d", got)
	}

	err := store.View(context.Background(), func(tx domain.Tx) error {
		current, _ := tx.GetInstance(inst.UUID)
		records := tx.ListInstancesByTemplate(current.Config.Action("plate_actions", "seal").TemplateUUID, true)
		rec := records[0]
		if rec.Discriminator != domain.DiscriminatorActionInstance {
			t.Errorf("record discriminator = %q", rec.Discriminator)
		}
		if rec.Name != "seal@"+current.EUID {
			t.Errorf("record name = %q", rec.Name)
		}
		if rec.Config.Extra["captured_data"].(map[string]any)["operator_note"] != "batch 7" {
			t.Errorf("captured data lost: %+v", rec.Config.Extra)
		}
		if rec.Config.Extra["executed_by"] != "jordan" {
			t.Errorf("executed_by = %v", rec.Config.Extra["executed_by"])
		}
		return nil
	})
	if err != nil {
		t.Fatalf("view: %v", err)
	}
}

func TestExecuteAuditWithoutTemplateIdentityFails(t *testing.T) {
	store := newTestStore()
	inst := seedActionableInstance(t, store)

	dispatcher := NewActionDispatcher()
	dispatcher.Register("seal", func(*domain.Instance, *domain.ActionState, map[string]any) (ActionResult, error) {
		return ActionResult{Status: StatusSuccess}, nil
	})

	err := store.RunInTransaction(context.Background(), func(tx domain.Tx) error {
		current, _ := tx.GetInstance(inst.UUID)
		action := current.Config.Action("plate_actions", "seal")
		action.TemplateUUID = ""
		_, txErr := dispatcher.Execute(tx, ExecuteRequest{
			Instance:     current,
			Group:        "plate_actions",
			Key:          "seal",
			Action:       action,
			RecordAction: true,
		})
		return txErr
	})
	if err == nil {
		t.Fatal("expected structural misuse error")
	}
}

func TestExecuteMissingGroupSkipsTracking(t *testing.T) {
	store := newTestStore()
	inst := seedActionableInstance(t, store)

	dispatcher := NewActionDispatcher()
	dispatcher.Register("seal", func(*domain.Instance, *domain.ActionState, map[string]any) (ActionResult, error) {
		return ActionResult{Status: StatusSuccess}, nil
	})

	err := store.RunInTransaction(context.Background(), func(tx domain.Tx) error {
		current, _ := tx.GetInstance(inst.UUID)
		// The action state exists but is addressed under the wrong group; the
		// tracking update silently no-ops.
		result, txErr := dispatcher.Execute(tx, ExecuteRequest{
			Instance: current,
			Group:    "wrong_group",
			Key:      "seal",
			Action:   current.Config.Action("plate_actions", "seal"),
		})
		if txErr != nil {
			return txErr
		}
		if result.Status != StatusSuccess {
			t.Errorf("status = %q", result.Status)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}

	err = store.View(context.Background(), func(tx domain.Tx) error {
		got, _ := tx.GetInstance(inst.UUID)
		if got.Config.Action("plate_actions", "seal").Executed != "0" {
			t.Error("tracking advanced under the wrong group")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("view: %v", err)
	}
}

func TestExecuteRejectsNilInputs(t *testing.T) {
	store := newTestStore()
	dispatcher := NewActionDispatcher()

	err := store.RunInTransaction(context.Background(), func(tx domain.Tx) error {
		_, txErr := dispatcher.Execute(tx, ExecuteRequest{})
		if txErr == nil {
			t.Error("expected error for nil instance and action")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("tx: %v", err)
	}
}
