package core

import (
	"fmt"
	"time"

	"tapcore/pkg/domain"
)

// Action result statuses.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// ActionResult is a handler's outcome. Failures surface here rather than as
// Execute errors, so tracking updates still happen.
type ActionResult struct {
	Status  string         `json:"status"`
	Message string         `json:"message,omitempty"`
	Data    map[string]any `json:"data,omitempty"`
}

// ActionHandler executes one action kind against an instance. captured holds
// operator-supplied values gathered at execution time.
type ActionHandler func(inst *domain.Instance, action *domain.ActionState, captured map[string]any) (ActionResult, error)

// ActionDispatcher routes action executions to registered handlers, updates
// per-action tracking, and records audit instances for successful runs.
type ActionDispatcher struct {
	handlers map[string]ActionHandler
	logger   Logger
	nowFn    func() time.Time
}

// DispatcherOption customizes an ActionDispatcher.
type DispatcherOption func(*ActionDispatcher)

// WithDispatcherLogger sets the dispatcher's logger.
func WithDispatcherLogger(logger Logger) DispatcherOption {
	return func(d *ActionDispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithDispatcherClock overrides the time source. Test hook.
func WithDispatcherClock(now func() time.Time) DispatcherOption {
	return func(d *ActionDispatcher) {
		if now != nil {
			d.nowFn = now
		}
	}
}

// NewActionDispatcher builds a dispatcher with no handlers registered.
func NewActionDispatcher(opts ...DispatcherOption) *ActionDispatcher {
	d := &ActionDispatcher{
		handlers: make(map[string]ActionHandler),
		logger:   NopLogger(),
		nowFn:    time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Register binds a handler to an action key, replacing any previous binding.
func (d *ActionDispatcher) Register(key string, handler ActionHandler) {
	d.handlers[key] = handler
}

// HasHandler reports whether a handler is registered for key.
func (d *ActionDispatcher) HasHandler(key string) bool {
	_, ok := d.handlers[key]
	return ok
}

// ExecuteRequest describes one action execution.
type ExecuteRequest struct {
	Instance *domain.Instance
	Group    string
	Key      string
	Action   *domain.ActionState
	Captured map[string]any
	// RecordAction asks for an audit instance when the handler succeeds.
	RecordAction bool
	User         string
}

// Execute runs the action. The handler's failure, including a panic, becomes
// an error result; the execution counter advances either way so the tracking
// history reflects every attempt. Only successful runs produce audit records.
func (d *ActionDispatcher) Execute(tx domain.Tx, req ExecuteRequest) (ActionResult, error) {
	if req.Instance == nil || req.Action == nil {
		return ActionResult{}, fmt.Errorf("instance and action are required")
	}

	handler, ok := d.handlers[req.Key]
	if !ok {
		d.logger.Warn("no handler for action", "action_key", req.Key, "instance", req.Instance.EUID)
		return ActionResult{
			Status:  StatusError,
			Message: fmt.Sprintf("no handler registered for action %q", req.Key),
		}, nil
	}

	result := d.invoke(handler, req)
	if result.Status != StatusSuccess {
		d.logger.Warn("action failed", "action_key", req.Key, "instance", req.Instance.EUID, "message", result.Message)
	}

	executedAt := d.nowFn()
	if state := req.Instance.Config.Action(req.Group, req.Key); state != nil {
		state.RecordExecution(executedAt)
		if err := tx.MarkConfigurationChanged(req.Instance); err != nil {
			return result, fmt.Errorf("persist action tracking: %w", err)
		}
	}

	if req.RecordAction && result.Status == StatusSuccess {
		if err := d.recordAudit(tx, req, result, executedAt); err != nil {
			return result, err
		}
	}
	return result, nil
}

// invoke runs the handler, converting returned errors and panics into error
// results.
func (d *ActionDispatcher) invoke(handler ActionHandler, req ExecuteRequest) (result ActionResult) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("action handler panicked", "action_key", req.Key, "panic", fmt.Sprint(r))
			result = ActionResult{Status: StatusError, Message: fmt.Sprintf("handler panic: %v", r)}
		}
	}()
	result, err := handler(req.Instance, req.Action, req.Captured)
	if err != nil {
		return ActionResult{Status: StatusError, Message: err.Error()}
	}
	if result.Status == "" {
		result.Status = StatusSuccess
	}
	return result
}

// recordAudit persists the execution as an action-discriminated instance. An
// action state with no template identity cannot be audited; that is a
// structural misuse, not a runtime condition, so it errors out.
func (d *ActionDispatcher) recordAudit(tx domain.Tx, req ExecuteRequest, result ActionResult, executedAt time.Time) error {
	if req.Action.TemplateUUID == "" {
		return fmt.Errorf("action %q carries no action_template_uuid; cannot record execution", req.Key)
	}
	record := map[string]any{
		"target_instance_uuid": req.Instance.UUID,
		"target_instance_euid": req.Instance.EUID,
		"action_group":         req.Group,
		"action_key":           req.Key,
		"action_definition":    domain.CopyProperties(req.Action.Definition),
		"captured_data":        domain.CopyProperties(req.Captured),
		"result": map[string]any{
			"status":  result.Status,
			"message": result.Message,
			"data":    domain.CopyProperties(result.Data),
		},
		"executed_by": req.User,
		"executed_at": executedAt.UTC().Format(time.RFC3339),
	}
	_, err := tx.InsertActionRecord(&domain.Instance{
		Base: domain.Base{
			Name:     req.Key + "@" + req.Instance.EUID,
			Category: "action",
			Type:     "action",
			Subtype:  req.Key,
			Version:  "1.0",
			Status:   "completed",
		},
		Discriminator: domain.DiscriminatorActionInstance,
		TemplateUUID:  req.Action.TemplateUUID,
		Config:        domain.InstanceConfig{Extra: record},
	})
	if err != nil {
		return fmt.Errorf("record action execution: %w", err)
	}
	return nil
}
