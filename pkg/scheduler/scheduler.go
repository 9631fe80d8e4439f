package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/wardenhq/warden/pkg/config"
	"github.com/wardenhq/warden/pkg/errdefs"
	"github.com/wardenhq/warden/pkg/events"
	"github.com/wardenhq/warden/pkg/handlers"
	"github.com/wardenhq/warden/pkg/log"
	"github.com/wardenhq/warden/pkg/metrics"
	"github.com/wardenhq/warden/pkg/storage"
	"github.com/wardenhq/warden/pkg/types"
)

const stateKey = "scheduler"

// state is the scheduler's checkpoint document
type state struct {
	Tasks   map[string]*types.Task `json:"tasks"`
	Order   []string               `json:"order"`
	RetryAt map[string]time.Time   `json:"retry_at,omitempty"`
	Stats   types.SchedulerStats   `json:"stats"`
}

// Scheduler owns the task lifecycle: priority selection, dispatch to
// handlers, and retry/backoff timing. All operations serialize on one
// mutex; the instance behaves as a single-threaded actor.
type Scheduler struct {
	mu       sync.Mutex
	cfg      *config.Config
	store    storage.Store
	registry *handlers.Registry
	broker   *events.Broker
	logger   zerolog.Logger

	tasks    map[string]*types.Task
	order    []string // enqueue order, the canonical priority tie-break
	retryAt  map[string]time.Time
	inFlight map[string]bool
	stats    types.SchedulerStats

	timer  *time.Timer
	stopCh chan struct{}
}

// EnqueueRequest is a partial task; unset fields get defaults
type EnqueueRequest struct {
	Type       types.TaskType         `json:"type"`
	Priority   *int                   `json:"priority,omitempty"`
	Payload    map[string]interface{} `json:"payload,omitempty"`
	MaxRetries *int                   `json:"max_retries,omitempty"`
}

// TaskUpdate is a partial task update; nil fields are left untouched
type TaskUpdate struct {
	Status   *types.TaskStatus      `json:"status,omitempty"`
	Priority *int                   `json:"priority,omitempty"`
	Payload  map[string]interface{} `json:"payload,omitempty"`
	Error    *string                `json:"error,omitempty"`
	Result   map[string]interface{} `json:"result,omitempty"`
}

// NewScheduler creates a scheduler, restoring any checkpointed state
func NewScheduler(cfg *config.Config, store storage.Store, registry *handlers.Registry, broker *events.Broker) (*Scheduler, error) {
	s := &Scheduler{
		cfg:      cfg,
		store:    store,
		registry: registry,
		broker:   broker,
		logger:   log.WithComponent("scheduler"),
		tasks:    make(map[string]*types.Task),
		retryAt:  make(map[string]time.Time),
		inFlight: make(map[string]bool),
		timer:    time.NewTimer(time.Hour),
		stopCh:   make(chan struct{}),
	}
	s.timer.Stop()

	var st state
	found, err := store.LoadState(stateKey, &st)
	if err != nil {
		return nil, fmt.Errorf("failed to load scheduler state: %w", err)
	}
	if found {
		s.tasks = st.Tasks
		s.order = st.Order
		s.stats = st.Stats
		if st.RetryAt != nil {
			s.retryAt = st.RetryAt
		}
		// A crash mid-dispatch leaves tasks running with no handler
		// attached; fail them through the normal retry path.
		for _, task := range s.tasks {
			if task.Status == types.TaskStatusRunning {
				task.Status = types.TaskStatusFailed
				task.Error = "interrupted by restart"
				s.applyFailureLocked(task, time.Now())
			}
		}
		// Restored queues may hold ready work; the drain loop re-aims
		// the timer at the earliest retry deadline itself.
		for _, task := range s.tasks {
			if task.Status == types.TaskStatusPending || task.Status == types.TaskStatusRetrying {
				s.scheduleWakeLocked(0)
				break
			}
		}
	}

	return s, nil
}

// Start begins the retry wake-up loop
func (s *Scheduler) Start() {
	go s.run()
}

// Stop stops the wake-up loop
func (s *Scheduler) Stop() {
	close(s.stopCh)
}

// run waits for the single wake-up deadline and drains ready tasks
func (s *Scheduler) run() {
	for {
		select {
		case <-s.timer.C:
			s.drain()
		case <-s.stopCh:
			s.timer.Stop()
			return
		}
	}
}

// drain processes tasks until none are ready. Unlike a manual process
// call, the drain honors retry backoff deadlines.
func (s *Scheduler) drain() {
	for {
		processed, _, err := s.processNext(context.Background(), true)
		if err != nil {
			s.logger.Error().Err(err).Msg("process cycle failed")
			return
		}
		if !processed {
			return
		}
	}
}

// Enqueue creates a task with defaults applied: status pending,
// priority 5 when unset, retry budget from configuration.
func (s *Scheduler) Enqueue(req EnqueueRequest) (*types.Task, error) {
	if req.Type == "" {
		return nil, errdefs.Validation("task type is required")
	}
	if req.Priority != nil && *req.Priority < 0 {
		return nil, errdefs.Validation("priority must be >= 0, got %d", *req.Priority)
	}
	if req.MaxRetries != nil && *req.MaxRetries < 0 {
		return nil, errdefs.Validation("max_retries must be >= 0, got %d", *req.MaxRetries)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	task := &types.Task{
		ID:         uuid.New().String(),
		Type:       req.Type,
		Status:     types.TaskStatusPending,
		Priority:   5,
		Payload:    req.Payload,
		MaxRetries: s.cfg.MaxRetryAttempts,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if req.Priority != nil {
		task.Priority = *req.Priority
	}
	if req.MaxRetries != nil {
		task.MaxRetries = *req.MaxRetries
	}

	s.tasks[task.ID] = task
	s.order = append(s.order, task.ID)
	s.stats.TotalEnqueued++

	if err := s.checkpointLocked(task); err != nil {
		return nil, err
	}

	metrics.TasksEnqueued.Inc()
	s.updateGaugesLocked()
	s.publish(events.EventTaskEnqueued, task.ID, string(task.Type))
	s.logger.Info().Str("task_id", task.ID).Str("type", string(task.Type)).Int("priority", task.Priority).Msg("task enqueued")

	// New pending work: wake the drain loop immediately
	s.scheduleWakeLocked(0)

	return copyTask(task), nil
}

// Status returns queue counts by status plus lifetime counters
func (s *Scheduler) Status() types.QueueStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	qs := types.QueueStatus{Stats: s.stats, Total: len(s.tasks)}
	for _, task := range s.tasks {
		switch task.Status {
		case types.TaskStatusPending:
			qs.Pending++
		case types.TaskStatusRunning:
			qs.Running++
		case types.TaskStatusFailed:
			qs.Failed++
		case types.TaskStatusRetrying:
			qs.Retrying++
		}
	}
	return qs
}

// GetTask returns the task with the given id
func (s *Scheduler) GetTask(id string) (*types.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[id]
	if !ok {
		return nil, errdefs.NotFound("task", id)
	}
	return copyTask(task), nil
}

// UpdateTask merges a partial update into the task and applies the
// status-dependent side effects of the lifecycle state machine.
func (s *Scheduler) UpdateTask(id string, upd TaskUpdate) (*types.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[id]
	if !ok {
		return nil, errdefs.NotFound("task", id)
	}

	now := time.Now()
	if upd.Priority != nil {
		task.Priority = *upd.Priority
	}
	if upd.Payload != nil {
		task.Payload = upd.Payload
	}
	if upd.Error != nil {
		task.Error = *upd.Error
	}
	if upd.Result != nil {
		task.Result = upd.Result
	}
	task.UpdatedAt = now

	if upd.Status != nil {
		switch *upd.Status {
		case types.TaskStatusCompleted:
			task.Status = types.TaskStatusCompleted
			task.CompletedAt = now
			// Completed tasks always carry a result, even an empty one
			if task.Result == nil {
				task.Result = map[string]interface{}{}
			}
			delete(s.inFlight, task.ID)
			delete(s.retryAt, task.ID)
			s.stats.TotalCompleted++
			s.publish(events.EventTaskCompleted, task.ID, string(task.Type))
		case types.TaskStatusFailed:
			task.Status = types.TaskStatusFailed
			s.applyFailureLocked(task, now)
		case types.TaskStatusRunning:
			task.Status = types.TaskStatusRunning
			s.inFlight[task.ID] = true
		default:
			task.Status = *upd.Status
		}
	}

	if err := s.checkpointLocked(task); err != nil {
		return nil, err
	}
	s.updateGaugesLocked()
	return copyTask(task), nil
}

// ProcessNext selects the ready task with the smallest priority value
// (ties broken by enqueue order), runs its handler, and applies the
// completion or failure transition. Handler errors never abort the
// scheduler; they fail the task through the retry path. Manual process
// calls may pick a retrying task before its backoff deadline.
func (s *Scheduler) ProcessNext(ctx context.Context) (bool, *types.Task, error) {
	return s.processNext(ctx, false)
}

func (s *Scheduler) processNext(ctx context.Context, honorBackoff bool) (bool, *types.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	task := s.selectNextLocked(now, honorBackoff)
	if task == nil {
		if honorBackoff {
			s.scheduleNextRetryWakeLocked(now)
		}
		return false, nil, nil
	}

	task.Status = types.TaskStatusRunning
	delete(s.retryAt, task.ID)
	task.UpdatedAt = now
	s.inFlight[task.ID] = true
	if err := s.checkpointLocked(task); err != nil {
		return false, nil, err
	}
	s.updateGaugesLocked()
	s.logger.Debug().Str("task_id", task.ID).Str("type", string(task.Type)).Msg("dispatching task")

	timer := metrics.NewTimer()
	result, err := s.execute(ctx, task)
	timer.ObserveDuration(metrics.TaskProcessingDuration.WithLabelValues(string(task.Type)))

	now = time.Now()
	task.UpdatedAt = now
	if err != nil {
		task.Status = types.TaskStatusFailed
		task.Error = err.Error()
		s.applyFailureLocked(task, now)
		s.logger.Warn().Str("task_id", task.ID).Err(err).Msg("task execution failed")
	} else {
		task.Status = types.TaskStatusCompleted
		task.Result = result
		task.Error = ""
		task.CompletedAt = now
		delete(s.inFlight, task.ID)
		s.stats.TotalCompleted++
		s.publish(events.EventTaskCompleted, task.ID, string(task.Type))
		s.logger.Info().Str("task_id", task.ID).Msg("task completed")
	}

	if err := s.checkpointLocked(task); err != nil {
		return false, nil, err
	}
	s.updateGaugesLocked()
	return true, copyTask(task), nil
}

// execute runs the handler with a bounded dispatch timeout. Panics are
// converted to handler errors.
func (s *Scheduler) execute(ctx context.Context, task *types.Task) (result map[string]interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, s.cfg.DispatchTimeout)
	defer cancel()

	result, err = s.registry.Execute(ctx, task.Type, task.Payload)
	if err != nil {
		return nil, errdefs.Downstream("handler", err)
	}
	return result, nil
}

// RetryFailed transitions every failed task with retries remaining back
// to retrying. Tasks already retrying or exhausted are untouched.
func (s *Scheduler) RetryFailed() (int, []string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	var ids []string
	for _, id := range s.order {
		task := s.tasks[id]
		if task.Status != types.TaskStatusFailed || task.RetryCount >= task.MaxRetries {
			continue
		}
		task.Status = types.TaskStatusRetrying
		task.RetryCount++
		task.UpdatedAt = now
		delete(s.retryAt, id) // manual requeue is immediate
		s.stats.TotalRetried++
		metrics.TaskRetries.Inc()
		ids = append(ids, id)
		if err := s.checkpointLocked(task); err != nil {
			s.logger.Error().Err(err).Str("task_id", id).Msg("failed to checkpoint retry")
		}
		s.publish(events.EventTaskRetrying, id, string(task.Type))
	}

	if len(ids) > 0 {
		s.updateGaugesLocked()
		s.scheduleWakeLocked(0)
	}
	return len(ids), ids
}

// applyFailureLocked applies the failed-transition side effects: retry
// with exponential backoff while budget remains, terminal otherwise.
func (s *Scheduler) applyFailureLocked(task *types.Task, now time.Time) {
	delete(s.inFlight, task.ID)
	s.stats.TotalFailed++
	s.publish(events.EventTaskFailed, task.ID, string(task.Type))

	if task.RetryCount < task.MaxRetries {
		task.Status = types.TaskStatusRetrying
		task.RetryCount++
		s.stats.TotalRetried++
		metrics.TaskRetries.Inc()
		backoff := s.cfg.RetryBackoffBase * (1 << task.RetryCount)
		s.retryAt[task.ID] = now.Add(backoff)
		s.scheduleNextRetryWakeLocked(now)
		s.publish(events.EventTaskRetrying, task.ID, string(task.Type))
		s.logger.Info().Str("task_id", task.ID).Int("retry", task.RetryCount).Dur("backoff", backoff).Msg("task scheduled for retry")
	} else {
		delete(s.retryAt, task.ID)
	}
}

// selectNextLocked picks the pending/retrying task with the numerically
// smallest priority; s.order breaks ties by enqueue time. With
// honorBackoff set, retrying tasks are ready only once their backoff
// deadline has passed.
func (s *Scheduler) selectNextLocked(now time.Time, honorBackoff bool) *types.Task {
	var selected *types.Task
	for _, id := range s.order {
		task := s.tasks[id]
		if task.Status != types.TaskStatusPending && task.Status != types.TaskStatusRetrying {
			continue
		}
		if honorBackoff && task.Status == types.TaskStatusRetrying {
			if at, ok := s.retryAt[id]; ok && now.Before(at) {
				continue
			}
		}
		if selected == nil || task.Priority < selected.Priority {
			selected = task
		}
	}
	return selected
}

// scheduleNextRetryWakeLocked aims the wake-up timer at the earliest
// outstanding backoff deadline, if any.
func (s *Scheduler) scheduleNextRetryWakeLocked(now time.Time) {
	var next time.Time
	for id, at := range s.retryAt {
		task, ok := s.tasks[id]
		if !ok || task.Status != types.TaskStatusRetrying {
			continue
		}
		if next.IsZero() || at.Before(next) {
			next = at
		}
	}
	if next.IsZero() {
		return
	}
	d := next.Sub(now)
	if d < 0 {
		d = 0
	}
	s.scheduleWakeLocked(d)
}

// scheduleWakeLocked replaces the pending wake-up deadline. There is at
// most one outstanding deadline per scheduler instance.
func (s *Scheduler) scheduleWakeLocked(d time.Duration) {
	if !s.timer.Stop() {
		select {
		case <-s.timer.C:
		default:
		}
	}
	s.timer.Reset(d)
}

// checkpointLocked persists the task record and the full scheduler state
// document before the operation's result is returned.
func (s *Scheduler) checkpointLocked(task *types.Task) error {
	if task != nil {
		if err := s.store.SaveTask(task); err != nil {
			return errdefs.Downstream("store", err)
		}
	}
	st := state{Tasks: s.tasks, Order: s.order, RetryAt: s.retryAt, Stats: s.stats}
	if err := s.store.SaveState(stateKey, &st); err != nil {
		return errdefs.Downstream("store", err)
	}
	return nil
}

func (s *Scheduler) updateGaugesLocked() {
	counts := map[types.TaskStatus]int{}
	for _, task := range s.tasks {
		counts[task.Status]++
	}
	for _, status := range []types.TaskStatus{
		types.TaskStatusPending,
		types.TaskStatusRunning,
		types.TaskStatusCompleted,
		types.TaskStatusFailed,
		types.TaskStatusRetrying,
	} {
		metrics.TasksTotal.WithLabelValues(string(status)).Set(float64(counts[status]))
	}
}

func (s *Scheduler) publish(eventType events.EventType, taskID, taskType string) {
	if s.broker == nil {
		return
	}
	s.broker.Publish(&events.Event{
		ID:   uuid.New().String(),
		Type: eventType,
		Metadata: map[string]string{
			"task_id": taskID,
			"type":    taskType,
		},
	})
}

func copyTask(task *types.Task) *types.Task {
	c := *task
	return &c
}
