package healer

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/wardenhq/warden/pkg/config"
	"github.com/wardenhq/warden/pkg/errdefs"
	"github.com/wardenhq/warden/pkg/events"
	"github.com/wardenhq/warden/pkg/log"
	"github.com/wardenhq/warden/pkg/metrics"
	"github.com/wardenhq/warden/pkg/scheduler"
	"github.com/wardenhq/warden/pkg/storage"
	"github.com/wardenhq/warden/pkg/types"
)

const (
	stateKey = "healer"

	// historyLimit bounds the retained action history
	historyLimit = 100

	// recentLimit is how many actions Status returns
	recentLimit = 10

	// restartPriority is the queue priority for self-heal tasks
	restartPriority = 1
)

// TaskClient is the slice of the scheduler the healer drives
type TaskClient interface {
	Enqueue(req scheduler.EnqueueRequest) (*types.Task, error)
	RetryFailed() (int, []string)
}

// StatusReporter receives recovery status for a remediation target.
// The coordinator implements this.
type StatusReporter interface {
	ReportRecovering(name string) error
}

// state is the healer's checkpoint document
type state struct {
	Breaker       types.CircuitBreakerState `json:"breaker"`
	History       []*types.HealAction       `json:"history"`
	TotalActions  int                       `json:"total_actions"`
	TotalExecuted int                       `json:"total_executed"`
	TotalFailed   int                       `json:"total_failed"`
}

// Healer is the failure-remediation engine: it maps failure signals to
// heal actions through an ordered rule table and guards execution with a
// circuit breaker. Operations serialize on one mutex.
type Healer struct {
	mu       sync.Mutex
	cfg      *config.Config
	store    storage.Store
	tasks    TaskClient
	reporter StatusReporter
	broker   *events.Broker
	logger   zerolog.Logger
	rules    []Rule

	breaker       types.CircuitBreakerState
	history       []*types.HealAction
	totalActions  int
	totalExecuted int
	totalFailed   int
}

// AutoHealResult reports the outcome of an auto-heal pass
type AutoHealResult struct {
	Healed       bool           `json:"healed"`
	Reason       string         `json:"reason,omitempty"`
	ActionsCount int            `json:"actions_count"`
	Results      []ActionResult `json:"results"`
}

// ActionResult is the per-action outcome inside an auto-heal pass
type ActionResult struct {
	ActionID string           `json:"action_id"`
	Kind     types.ActionKind `json:"kind"`
	Target   string           `json:"target"`
	Success  bool             `json:"success"`
	Message  string           `json:"message,omitempty"`
}

// NewHealer creates a remediation engine, restoring any checkpointed
// breaker state and action history.
func NewHealer(cfg *config.Config, store storage.Store, tasks TaskClient, broker *events.Broker) (*Healer, error) {
	h := &Healer{
		cfg:    cfg,
		store:  store,
		tasks:  tasks,
		broker: broker,
		logger: log.WithComponent("healer"),
		rules:  DefaultRules(),
	}

	var st state
	found, err := store.LoadState(stateKey, &st)
	if err != nil {
		return nil, fmt.Errorf("failed to load healer state: %w", err)
	}
	if found {
		h.breaker = st.Breaker
		h.history = st.History
		h.totalActions = st.TotalActions
		h.totalExecuted = st.TotalExecuted
		h.totalFailed = st.TotalFailed
	}

	return h, nil
}

// SetReporter attaches the coordinator-backed status reporter. Called
// once during wiring, before any remediation runs.
func (h *Healer) SetReporter(reporter StatusReporter) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.reporter = reporter
}

// Status returns the breaker state, counters and the most recent
// actions. The elapsed-time breaker reset is evaluated first.
func (h *Healer) Status() types.HealerStatus {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.maybeCloseBreakerLocked(time.Now())

	recent := h.history
	if len(recent) > recentLimit {
		recent = recent[len(recent)-recentLimit:]
	}
	out := make([]*types.HealAction, len(recent))
	for i, a := range recent {
		c := *a
		out[i] = &c
	}

	return types.HealerStatus{
		Breaker:       h.breaker,
		TotalActions:  h.totalActions,
		TotalExecuted: h.totalExecuted,
		TotalFailed:   h.totalFailed,
		RecentActions: out,
	}
}

// Actions returns the full retained action history, oldest first
func (h *Healer) Actions() []*types.HealAction {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]*types.HealAction, len(h.history))
	for i, a := range h.history {
		c := *a
		out[i] = &c
	}
	return out
}

// GetAction returns one action from the retained history
func (h *Healer) GetAction(id string) (*types.HealAction, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, a := range h.history {
		if a.ID == id {
			c := *a
			return &c, nil
		}
	}
	return nil, errdefs.NotFound("action", id)
}

// ManualTrigger creates and executes one action. It is rejected with
// CircuitOpen while the breaker is tripped.
func (h *Healer) ManualTrigger(kind types.ActionKind, target, reason string) (*types.HealAction, error) {
	if !kind.Valid() {
		return nil, errdefs.Validation("unknown action kind %q", kind)
	}
	if target == "" {
		return nil, errdefs.Validation("target is required")
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	now := time.Now()
	h.maybeCloseBreakerLocked(now)
	if h.breaker.Open {
		return nil, errdefs.CircuitOpen(h.breaker.OpenedAt.Add(h.cfg.CircuitResetWindow))
	}

	if reason == "" {
		reason = "manual trigger"
	}
	action := h.newActionLocked(kind, target, reason, now)
	h.executeActionLocked(action)
	if err := h.checkpointLocked(action); err != nil {
		return nil, err
	}

	c := *action
	return &c, nil
}

// AutoHeal derives actions from a health snapshot through the rule
// table and executes them sequentially in detection order.
func (h *Healer) AutoHeal(snapshot *types.HealthStatus) (*AutoHealResult, error) {
	if !h.cfg.SelfHealEnabled {
		return &AutoHealResult{Healed: false, Reason: "disabled"}, nil
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	now := time.Now()
	h.maybeCloseBreakerLocked(now)
	if h.breaker.Open {
		return nil, errdefs.CircuitOpen(h.breaker.OpenedAt.Add(h.cfg.CircuitResetWindow))
	}

	var actions []*types.HealAction
	for _, check := range snapshot.FailingChecks() {
		kind, target, matched := Evaluate(h.rules, check.Name)
		if !matched {
			h.logger.Debug().Str("check", check.Name).Msg("no remediation rule for failing check")
			continue
		}
		trigger := fmt.Sprintf("failing check: %s", check.Name)
		actions = append(actions, h.newActionLocked(kind, target, trigger, now))
	}
	for _, name := range snapshot.ErrorAgents() {
		trigger := fmt.Sprintf("agent in error status: %s", name)
		actions = append(actions, h.newActionLocked(types.ActionRestart, name, trigger, now))
	}

	result := &AutoHealResult{Healed: len(actions) > 0, ActionsCount: len(actions)}
	for _, action := range actions {
		h.executeActionLocked(action)
		result.Results = append(result.Results, ActionResult{
			ActionID: action.ID,
			Kind:     action.Kind,
			Target:   action.Target,
			Success:  action.Status == types.ActionStatusCompleted,
			Message:  action.Result,
		})
		if err := h.checkpointLocked(action); err != nil {
			h.logger.Error().Err(err).Str("action_id", action.ID).Msg("failed to checkpoint action")
		}
		// A tripped breaker stops the remaining actions of this pass
		if h.breaker.Open {
			break
		}
	}

	return result, nil
}

// ResetCircuit force-closes the breaker regardless of elapsed time
func (h *Healer) ResetCircuit() {
	h.mu.Lock()
	defer h.mu.Unlock()

	wasOpen := h.breaker.Open
	h.breaker = types.CircuitBreakerState{}
	metrics.CircuitBreakerOpen.Set(0)
	metrics.CircuitConsecutiveFailures.Set(0)
	if err := h.checkpointLocked(nil); err != nil {
		h.logger.Error().Err(err).Msg("failed to checkpoint breaker reset")
	}
	if wasOpen {
		h.publish(events.EventBreakerClosed, "", "circuit breaker force reset")
	}
	h.logger.Info().Msg("circuit breaker reset")
}

// newActionLocked creates a pending action and appends it to the
// bounded history.
func (h *Healer) newActionLocked(kind types.ActionKind, target, trigger string, now time.Time) *types.HealAction {
	action := &types.HealAction{
		ID:        uuid.New().String(),
		Trigger:   trigger,
		Kind:      kind,
		Target:    target,
		Status:    types.ActionStatusPending,
		CreatedAt: now,
	}
	h.history = append(h.history, action)
	if len(h.history) > historyLimit {
		h.history = h.history[len(h.history)-historyLimit:]
	}
	h.totalActions++
	h.publish(events.EventHealTriggered, action.ID, trigger)
	return action
}

// executeActionLocked dispatches the action by kind and applies the
// circuit breaker law on the outcome.
func (h *Healer) executeActionLocked(action *types.HealAction) {
	now := time.Now()
	action.Status = types.ActionStatusExecuting
	action.ExecutedAt = now

	err := h.dispatchLocked(action)
	if err != nil {
		action.Status = types.ActionStatusFailed
		action.Result = err.Error()
		h.totalFailed++
		h.breaker.ConsecutiveFailures++
		metrics.CircuitConsecutiveFailures.Set(float64(h.breaker.ConsecutiveFailures))
		metrics.HealActionsTotal.WithLabelValues(string(action.Kind), "failed").Inc()
		h.logger.Warn().Str("action_id", action.ID).Str("kind", string(action.Kind)).Err(err).Msg("heal action failed")

		if !h.breaker.Open && h.breaker.ConsecutiveFailures >= h.cfg.CircuitThreshold {
			h.breaker.Open = true
			h.breaker.OpenedAt = now
			metrics.CircuitBreakerOpen.Set(1)
			h.publish(events.EventBreakerOpened, action.ID,
				fmt.Sprintf("%d consecutive remediation failures", h.breaker.ConsecutiveFailures))
			h.logger.Error().Int("failures", h.breaker.ConsecutiveFailures).Msg("circuit breaker opened")
		}
		return
	}

	action.Status = types.ActionStatusCompleted
	if action.Result == "" {
		action.Result = "ok"
	}
	h.totalExecuted++
	h.breaker.ConsecutiveFailures = 0
	metrics.CircuitConsecutiveFailures.Set(0)
	metrics.HealActionsTotal.WithLabelValues(string(action.Kind), "completed").Inc()
	h.publish(events.EventHealExecuted, action.ID, string(action.Kind))
	h.logger.Info().Str("action_id", action.ID).Str("kind", string(action.Kind)).Str("target", action.Target).Msg("heal action executed")
}

// dispatchLocked performs the remediation for one action kind
func (h *Healer) dispatchLocked(action *types.HealAction) error {
	switch action.Kind {
	case types.ActionRestart:
		_, err := h.tasks.Enqueue(scheduler.EnqueueRequest{
			Type:     types.TaskTypeSelfHeal,
			Priority: intPtr(restartPriority),
			Payload:  map[string]interface{}{"target": action.Target, "trigger": action.Trigger},
		})
		if err != nil {
			return errdefs.Downstream("scheduler", err)
		}
		if h.reporter != nil {
			if err := h.reporter.ReportRecovering(action.Target); err != nil {
				return errdefs.Downstream("coordinator", err)
			}
		}
		action.Result = fmt.Sprintf("restart task enqueued for %s", action.Target)
		return nil

	case types.ActionRetry:
		retried, _ := h.tasks.RetryFailed()
		action.Result = fmt.Sprintf("retried %d failed tasks", retried)
		return nil

	case types.ActionRollback:
		rec := &storage.Record{
			ID:        uuid.New().String(),
			Kind:      storage.RecordRollbackPending,
			Target:    action.Target,
			Message:   action.Trigger,
			CreatedAt: time.Now(),
		}
		if err := h.store.SaveRecord(rec); err != nil {
			return errdefs.Downstream("store", err)
		}
		action.Result = "rollback marked pending for deployment system"
		return nil

	case types.ActionAlert:
		rec := &storage.Record{
			ID:        uuid.New().String(),
			Kind:      storage.RecordAlert,
			Target:    action.Target,
			Severity:  "high",
			Message:   action.Trigger,
			CreatedAt: time.Now(),
		}
		if err := h.store.SaveRecord(rec); err != nil {
			return errdefs.Downstream("store", err)
		}
		action.Result = "alert recorded for notification system"
		return nil

	case types.ActionScale:
		action.Result = "scaling handled by platform"
		return nil

	default:
		return errdefs.Validation("unknown action kind %q", action.Kind)
	}
}

// maybeCloseBreakerLocked closes the breaker once the reset window has
// elapsed. Evaluated at the start of every breaker-gated operation.
func (h *Healer) maybeCloseBreakerLocked(now time.Time) {
	if !h.breaker.Open {
		return
	}
	if now.Sub(h.breaker.OpenedAt) < h.cfg.CircuitResetWindow {
		return
	}
	h.breaker = types.CircuitBreakerState{}
	metrics.CircuitBreakerOpen.Set(0)
	metrics.CircuitConsecutiveFailures.Set(0)
	if err := h.checkpointLocked(nil); err != nil {
		h.logger.Error().Err(err).Msg("failed to checkpoint breaker close")
	}
	h.publish(events.EventBreakerClosed, "", "reset window elapsed")
	h.logger.Info().Msg("circuit breaker closed after reset window")
}

// checkpointLocked persists the action record and the healer state
// document.
func (h *Healer) checkpointLocked(action *types.HealAction) error {
	if action != nil {
		if err := h.store.SaveAction(action); err != nil {
			return errdefs.Downstream("store", err)
		}
	}
	st := state{
		Breaker:       h.breaker,
		History:       h.history,
		TotalActions:  h.totalActions,
		TotalExecuted: h.totalExecuted,
		TotalFailed:   h.totalFailed,
	}
	if err := h.store.SaveState(stateKey, &st); err != nil {
		return errdefs.Downstream("store", err)
	}
	return nil
}

func (h *Healer) publish(eventType events.EventType, actionID, message string) {
	if h.broker == nil {
		return
	}
	h.broker.Publish(&events.Event{
		ID:      uuid.New().String(),
		Type:    eventType,
		Message: message,
		Metadata: map[string]string{
			"action_id": actionID,
		},
	})
}

func intPtr(v int) *int {
	return &v
}
