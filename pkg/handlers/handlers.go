package handlers

import (
	"context"
	"fmt"
	"sync"

	"github.com/wardenhq/warden/pkg/types"
)

// Func executes one task type. It returns an opaque result map on
// success; any error fails the task through the scheduler's normal
// retry path.
type Func func(ctx context.Context, payload map[string]interface{}) (map[string]interface{}, error)

// Registry maps task types to their handlers. The scheduler dispatches
// through Execute and is agnostic to handler internals.
type Registry struct {
	mu       sync.RWMutex
	handlers map[types.TaskType]Func
}

// NewRegistry creates an empty handler registry
func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[types.TaskType]Func),
	}
}

// Register binds a handler to a task type, replacing any existing one
func (r *Registry) Register(taskType types.TaskType, fn Func) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[taskType] = fn
}

// Supported reports whether a handler exists for the task type
func (r *Registry) Supported(taskType types.TaskType) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.handlers[taskType]
	return ok
}

// Execute dispatches the payload to the handler for taskType
func (r *Registry) Execute(ctx context.Context, taskType types.TaskType, payload map[string]interface{}) (map[string]interface{}, error) {
	r.mu.RLock()
	fn, ok := r.handlers[taskType]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("no handler registered for task type %q", taskType)
	}
	return fn(ctx, payload)
}

// RecoveryReporter marks a remediation target as recovering. The
// coordinator implements this.
type RecoveryReporter interface {
	ReportRecovering(name string) error
}

// RegisterBuiltins installs the handlers every Warden deployment
// carries: noop and self_heal.
func RegisterBuiltins(r *Registry, reporter RecoveryReporter) {
	r.Register(types.TaskTypeNoop, func(ctx context.Context, payload map[string]interface{}) (map[string]interface{}, error) {
		return map[string]interface{}{"noop": true}, nil
	})

	r.Register(types.TaskTypeSelfHeal, func(ctx context.Context, payload map[string]interface{}) (map[string]interface{}, error) {
		target, _ := payload["target"].(string)
		if target == "" {
			return nil, fmt.Errorf("self_heal payload missing target")
		}
		if reporter != nil {
			if err := reporter.ReportRecovering(target); err != nil {
				return nil, fmt.Errorf("failed to mark %s recovering: %w", target, err)
			}
		}
		return map[string]interface{}{"target": target, "recovered": true}, nil
	})
}
