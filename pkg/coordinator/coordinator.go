package coordinator

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/wardenhq/warden/pkg/config"
	"github.com/wardenhq/warden/pkg/errdefs"
	"github.com/wardenhq/warden/pkg/events"
	"github.com/wardenhq/warden/pkg/healer"
	"github.com/wardenhq/warden/pkg/log"
	"github.com/wardenhq/warden/pkg/metrics"
	"github.com/wardenhq/warden/pkg/probes"
	"github.com/wardenhq/warden/pkg/storage"
	"github.com/wardenhq/warden/pkg/types"
)

const stateKey = "coordinator"

// agentCheckPrefix names the derived per-agent checks in a snapshot
const agentCheckPrefix = "agent:"

// AutoHealer is the slice of the remediation engine the coordinator
// invokes on an unhealthy snapshot.
type AutoHealer interface {
	AutoHeal(snapshot *types.HealthStatus) (*healer.AutoHealResult, error)
}

// TriggerFunc forwards a trigger call to the named component
type TriggerFunc func(ctx context.Context, body map[string]interface{}) (map[string]interface{}, error)

// state is the coordinator's checkpoint document
type state struct {
	Agents map[string]*types.AgentHealth `json:"agents"`
}

// Coordinator owns the agent health registry, runs aggregated health
// checks against dependencies and agents, and escalates unhealthy
// snapshots to the remediation engine. Operations serialize on one
// mutex.
type Coordinator struct {
	mu     sync.Mutex
	cfg    *config.Config
	store  storage.Store
	healer AutoHealer
	probes []probes.Prober
	broker *events.Broker
	logger zerolog.Logger

	agents      map[string]*types.AgentHealth
	triggerable map[string]bool
	triggers    map[string]TriggerFunc

	stopCh chan struct{}
}

// NewCoordinator creates a coordinator with the fixed agent registry
// from the fleet topology, restoring persisted agent records where they
// exist.
func NewCoordinator(cfg *config.Config, fleet *config.Fleet, store storage.Store, heal AutoHealer, probers []probes.Prober, broker *events.Broker) (*Coordinator, error) {
	c := &Coordinator{
		cfg:         cfg,
		store:       store,
		healer:      heal,
		probes:      probers,
		broker:      broker,
		logger:      log.WithComponent("coordinator"),
		agents:      make(map[string]*types.AgentHealth),
		triggerable: make(map[string]bool),
		triggers:    make(map[string]TriggerFunc),
		stopCh:      make(chan struct{}),
	}

	var st state
	found, err := store.LoadState(stateKey, &st)
	if err != nil {
		return nil, fmt.Errorf("failed to load coordinator state: %w", err)
	}

	now := time.Now()
	for _, fa := range fleet.Agents {
		if found {
			if persisted, ok := st.Agents[fa.Name]; ok {
				c.agents[fa.Name] = persisted
				c.triggerable[fa.Name] = fa.Triggerable
				continue
			}
		}
		c.agents[fa.Name] = &types.AgentHealth{
			Name:         fa.Name,
			Status:       types.AgentStatusIdle,
			LastActivity: now,
		}
		c.triggerable[fa.Name] = fa.Triggerable
	}

	if err := c.checkpointLocked(nil); err != nil {
		return nil, err
	}
	return c, nil
}

// RegisterTrigger binds a forwarder for one agent. Triggerable agents
// without a registered forwarder get an acknowledge-only response.
func (c *Coordinator) RegisterTrigger(name string, fn TriggerFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.triggers[name] = fn
}

// Start begins the periodic self-check loop
func (c *Coordinator) Start() {
	go c.run()
}

// Stop stops the self-check loop
func (c *Coordinator) Stop() {
	close(c.stopCh)
}

func (c *Coordinator) run() {
	ticker := time.NewTicker(c.cfg.SelfCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), c.cfg.DispatchTimeout)
			if _, err := c.HealthCheck(ctx); err != nil {
				c.logger.Error().Err(err).Msg("self check failed")
			}
			cancel()
		case <-c.stopCh:
			return
		}
	}
}

// HealthCheck runs all dependency probes plus one derived check per
// agent, aggregates the overall status, and invokes auto-heal on an
// unhealthy result.
func (c *Coordinator) HealthCheck(ctx context.Context) (*types.HealthStatus, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.HealthCheckDuration)

	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	snapshot := &types.HealthStatus{
		Agents:    make(map[string]*types.AgentHealth),
		Timestamp: now,
	}

	// Dependency checks drive the fail clause of the aggregation rule
	depFails, warns := 0, 0
	for _, p := range c.probes {
		check := p.Probe(ctx)
		snapshot.Checks = append(snapshot.Checks, check)
		switch check.Result {
		case types.CheckFail:
			depFails++
		case types.CheckWarn:
			warns++
		}
	}

	// Derived per-agent checks; agents in error count separately
	errorAgents := 0
	for _, name := range c.agentNamesLocked() {
		agent := c.agents[name]
		check := types.Check{Name: agentCheckPrefix + name, CheckedAt: now}
		switch {
		case agent.Status == types.AgentStatusError:
			check.Result = types.CheckFail
			check.Message = fmt.Sprintf("agent reported error (%d total)", agent.ErrorCount)
			errorAgents++
		case agent.Status != types.AgentStatusIdle && now.Sub(agent.LastActivity) > c.cfg.AgentInactivityWindow:
			check.Result = types.CheckWarn
			check.Message = fmt.Sprintf("no activity for %v", now.Sub(agent.LastActivity).Round(time.Second))
			warns++
		default:
			check.Result = types.CheckPass
		}
		snapshot.Checks = append(snapshot.Checks, check)

		rec := *agent
		snapshot.Agents[name] = &rec
	}

	switch {
	case depFails > 0 || errorAgents >= 2:
		snapshot.Overall = types.HealthUnhealthy
	case warns > 0 || errorAgents == 1:
		snapshot.Overall = types.HealthDegraded
	default:
		snapshot.Overall = types.HealthHealthy
	}

	metrics.HealthChecksTotal.WithLabelValues(string(snapshot.Overall)).Inc()
	c.updateAgentGaugesLocked()
	c.publish(events.EventHealthChecked, "", string(snapshot.Overall))

	if snapshot.Overall == types.HealthUnhealthy && c.cfg.SelfHealEnabled && c.healer != nil {
		// Synchronous escalation before returning the snapshot. The
		// healer serializes on its own mutex; release ours so its
		// restart path can report recovery back without deadlocking.
		c.mu.Unlock()
		result, err := c.healer.AutoHeal(snapshot)
		c.mu.Lock()
		if err != nil {
			c.logger.Warn().Err(err).Msg("auto-heal rejected")
		} else if result.Healed {
			c.logger.Info().Int("actions", result.ActionsCount).Msg("auto-heal executed")
		}
	}

	return snapshot, nil
}

// ListAgents returns the registry, sorted by name
func (c *Coordinator) ListAgents() []*types.AgentHealth {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []*types.AgentHealth
	for _, name := range c.agentNamesLocked() {
		rec := *c.agents[name]
		out = append(out, &rec)
	}
	return out
}

// GetAgent returns one agent record
func (c *Coordinator) GetAgent(name string) (*types.AgentHealth, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	agent, ok := c.agents[name]
	if !ok {
		return nil, errdefs.NotFound("agent", name)
	}
	rec := *agent
	return &rec, nil
}

// TriggerAgent forwards a trigger call to the named component and marks
// the agent active.
func (c *Coordinator) TriggerAgent(ctx context.Context, name string, body map[string]interface{}) (map[string]interface{}, error) {
	c.mu.Lock()
	agent, ok := c.agents[name]
	if !ok {
		c.mu.Unlock()
		return nil, errdefs.NotFound("agent", name)
	}
	if !c.triggerable[name] {
		c.mu.Unlock()
		return nil, errdefs.Validation("agent %s is not remotely triggerable", name)
	}
	fn := c.triggers[name]
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, c.cfg.DispatchTimeout)
	defer cancel()

	var response map[string]interface{}
	if fn != nil {
		var err error
		response, err = fn(ctx, body)
		if err != nil {
			return nil, errdefs.Downstream("agent "+name, err)
		}
	} else {
		response = map[string]interface{}{"triggered": true, "agent": name}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	agent.Status = types.AgentStatusActive
	agent.LastActivity = time.Now()
	agent.TaskCount++
	if err := c.checkpointLocked(agent); err != nil {
		return nil, err
	}
	c.updateAgentGaugesLocked()
	c.publish(events.EventAgentTriggered, name, "")
	c.logger.Info().Str("agent", name).Int("task_count", agent.TaskCount).Msg("agent triggered")

	return response, nil
}

// StatusUpdate records a status report from an agent. Error reports
// increment the agent's error count.
func (c *Coordinator) StatusUpdate(name string, status types.AgentStatus, errMsg string) (*types.AgentHealth, error) {
	switch status {
	case types.AgentStatusActive, types.AgentStatusIdle, types.AgentStatusError, types.AgentStatusRecovering:
	default:
		return nil, errdefs.Validation("unknown agent status %q", status)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	agent, ok := c.agents[name]
	if !ok {
		return nil, errdefs.NotFound("agent", name)
	}

	agent.Status = status
	agent.LastActivity = time.Now()
	if status == types.AgentStatusError {
		agent.ErrorCount++
		c.logger.Warn().Str("agent", name).Str("error", errMsg).Int("error_count", agent.ErrorCount).Msg("agent reported error")
	}

	if err := c.checkpointLocked(agent); err != nil {
		return nil, err
	}
	c.updateAgentGaugesLocked()
	c.publish(events.EventAgentStatus, name, string(status))

	rec := *agent
	return &rec, nil
}

// ReportRecovering marks an agent as recovering. Implements the
// healer's status reporter and the self_heal handler contract.
func (c *Coordinator) ReportRecovering(name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	agent, ok := c.agents[name]
	if !ok {
		return errdefs.NotFound("agent", name)
	}

	agent.Status = types.AgentStatusRecovering
	agent.LastActivity = time.Now()
	if err := c.checkpointLocked(agent); err != nil {
		return err
	}
	c.updateAgentGaugesLocked()
	c.publish(events.EventAgentStatus, name, string(types.AgentStatusRecovering))
	return nil
}

func (c *Coordinator) agentNamesLocked() []string {
	names := make([]string, 0, len(c.agents))
	for name := range c.agents {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// checkpointLocked persists the agent record and the registry document
func (c *Coordinator) checkpointLocked(agent *types.AgentHealth) error {
	if agent != nil {
		if err := c.store.SaveAgent(agent); err != nil {
			return errdefs.Downstream("store", err)
		}
	}
	st := state{Agents: c.agents}
	if err := c.store.SaveState(stateKey, &st); err != nil {
		return errdefs.Downstream("store", err)
	}
	return nil
}

func (c *Coordinator) updateAgentGaugesLocked() {
	counts := map[types.AgentStatus]int{}
	for _, agent := range c.agents {
		counts[agent.Status]++
	}
	for _, status := range []types.AgentStatus{
		types.AgentStatusActive,
		types.AgentStatusIdle,
		types.AgentStatusError,
		types.AgentStatusRecovering,
	} {
		metrics.AgentsTotal.WithLabelValues(string(status)).Set(float64(counts[status]))
	}
}

func (c *Coordinator) publish(eventType events.EventType, agent, message string) {
	if c.broker == nil {
		return
	}
	c.broker.Publish(&events.Event{
		ID:      uuid.New().String(),
		Type:    eventType,
		Message: message,
		Metadata: map[string]string{
			"agent": agent,
		},
	})
}
