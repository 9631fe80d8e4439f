package types

import (
	"sort"
	"time"
)

// Task is a unit of work managed by the scheduler. Lower Priority values
// are scheduled sooner.
type Task struct {
	ID          string                 `json:"id"`
	Type        TaskType               `json:"type"`
	Status      TaskStatus             `json:"status"`
	Priority    int                    `json:"priority"`
	Payload     map[string]interface{} `json:"payload,omitempty"`
	RetryCount  int                    `json:"retry_count"`
	MaxRetries  int                    `json:"max_retries"`
	CreatedAt   time.Time              `json:"created_at"`
	UpdatedAt   time.Time              `json:"updated_at"`
	CompletedAt time.Time              `json:"completed_at,omitempty"`
	Error       string                 `json:"error,omitempty"`
	Result      map[string]interface{} `json:"result,omitempty"`
}

// TaskType identifies the handler a task is dispatched to
type TaskType string

const (
	TaskTypeSelfHeal TaskType = "self_heal"
	TaskTypeNoop     TaskType = "noop"
	TaskTypeSync     TaskType = "sync"
	TaskTypePublish  TaskType = "publish"
)

// TaskStatus represents the current state of a task
type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
	TaskStatusRetrying  TaskStatus = "retrying"
)

// Terminal reports whether a task in this state with the given retry
// budget can make no further progress.
func (s TaskStatus) Terminal(retryCount, maxRetries int) bool {
	switch s {
	case TaskStatusCompleted:
		return true
	case TaskStatusFailed:
		return retryCount >= maxRetries
	default:
		return false
	}
}

// HealAction is a recorded remediation attempt with its own lifecycle
type HealAction struct {
	ID         string       `json:"id"`
	Trigger    string       `json:"trigger"`
	Kind       ActionKind   `json:"kind"`
	Target     string       `json:"target"`
	Status     ActionStatus `json:"status"`
	CreatedAt  time.Time    `json:"created_at"`
	ExecutedAt time.Time    `json:"executed_at,omitempty"`
	Result     string       `json:"result,omitempty"`
}

// ActionKind is the remediation performed by a heal action
type ActionKind string

const (
	ActionRestart  ActionKind = "restart"
	ActionRetry    ActionKind = "retry"
	ActionRollback ActionKind = "rollback"
	ActionAlert    ActionKind = "alert"
	ActionScale    ActionKind = "scale"
)

// Valid reports whether k is a known action kind
func (k ActionKind) Valid() bool {
	switch k {
	case ActionRestart, ActionRetry, ActionRollback, ActionAlert, ActionScale:
		return true
	}
	return false
}

// ActionStatus moves forward only: pending -> executing -> completed|failed
type ActionStatus string

const (
	ActionStatusPending   ActionStatus = "pending"
	ActionStatusExecuting ActionStatus = "executing"
	ActionStatusCompleted ActionStatus = "completed"
	ActionStatusFailed    ActionStatus = "failed"
)

// AgentHealth tracks a named managed component in the coordinator registry
type AgentHealth struct {
	Name         string      `json:"name"`
	Status       AgentStatus `json:"status"`
	LastActivity time.Time   `json:"last_activity"`
	TaskCount    int         `json:"task_count"`
	ErrorCount   int         `json:"error_count"`
}

// AgentStatus represents the reported state of an agent
type AgentStatus string

const (
	AgentStatusActive     AgentStatus = "active"
	AgentStatusIdle       AgentStatus = "idle"
	AgentStatusError      AgentStatus = "error"
	AgentStatusRecovering AgentStatus = "recovering"
)

// CircuitBreakerState is owned exclusively by the remediation engine
type CircuitBreakerState struct {
	ConsecutiveFailures int       `json:"consecutive_failures"`
	Open                bool      `json:"open"`
	OpenedAt            time.Time `json:"opened_at,omitempty"`
}

// CheckResult is the outcome of a single dependency or agent check
type CheckResult string

const (
	CheckPass CheckResult = "pass"
	CheckWarn CheckResult = "warn"
	CheckFail CheckResult = "fail"
)

// Check is one probe outcome inside a health snapshot
type Check struct {
	Name      string        `json:"name"`
	Result    CheckResult   `json:"result"`
	Latency   time.Duration `json:"latency_ms,omitempty"`
	Message   string        `json:"message,omitempty"`
	CheckedAt time.Time     `json:"checked_at"`
}

// OverallHealth is the aggregated fleet status
type OverallHealth string

const (
	HealthHealthy   OverallHealth = "healthy"
	HealthDegraded  OverallHealth = "degraded"
	HealthUnhealthy OverallHealth = "unhealthy"
)

// HealthStatus is the snapshot produced by a coordinator health check
// and consumed by the remediation engine's auto-heal path.
type HealthStatus struct {
	Overall   OverallHealth           `json:"overall"`
	Checks    []Check                 `json:"checks"`
	Agents    map[string]*AgentHealth `json:"agents"`
	Timestamp time.Time               `json:"timestamp"`
}

// FailingChecks returns the checks that failed, in detection order
func (h *HealthStatus) FailingChecks() []Check {
	var failing []Check
	for _, c := range h.Checks {
		if c.Result == CheckFail {
			failing = append(failing, c)
		}
	}
	return failing
}

// ErrorAgents returns the names of agents reported in error status,
// sorted for deterministic remediation order.
func (h *HealthStatus) ErrorAgents() []string {
	var names []string
	for name, agent := range h.Agents {
		if agent.Status == AgentStatusError {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// SchedulerStats are cumulative lifetime counters for the scheduler
type SchedulerStats struct {
	TotalEnqueued  int `json:"total_enqueued"`
	TotalCompleted int `json:"total_completed"`
	TotalFailed    int `json:"total_failed"`
	TotalRetried   int `json:"total_retried"`
}

// QueueStatus is the scheduler status read model
type QueueStatus struct {
	Pending  int            `json:"pending"`
	Running  int            `json:"running"`
	Failed   int            `json:"failed"`
	Retrying int            `json:"retrying"`
	Total    int            `json:"total"`
	Stats    SchedulerStats `json:"stats"`
}

// HealerStatus is the remediation engine status read model
type HealerStatus struct {
	Breaker       CircuitBreakerState `json:"breaker"`
	TotalActions  int                 `json:"total_actions"`
	TotalExecuted int                 `json:"total_executed"`
	TotalFailed   int                 `json:"total_failed"`
	RecentActions []*HealAction       `json:"recent_actions"`
}
