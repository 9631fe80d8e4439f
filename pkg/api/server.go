package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/wardenhq/warden/pkg/coordinator"
	"github.com/wardenhq/warden/pkg/errdefs"
	"github.com/wardenhq/warden/pkg/healer"
	"github.com/wardenhq/warden/pkg/log"
	"github.com/wardenhq/warden/pkg/metrics"
	"github.com/wardenhq/warden/pkg/scheduler"
	"github.com/wardenhq/warden/pkg/types"
)

// Server exposes the control plane components over HTTP. It is a thin
// translation layer: all semantics live in the components.
type Server struct {
	sched  *scheduler.Scheduler
	heal   *healer.Healer
	coord  *coordinator.Coordinator
	logger zerolog.Logger
	http   *http.Server
}

// NewServer creates the HTTP server for the three components
func NewServer(sched *scheduler.Scheduler, heal *healer.Healer, coord *coordinator.Coordinator) *Server {
	s := &Server{
		sched:  sched,
		heal:   heal,
		coord:  coord,
		logger: log.WithComponent("api"),
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), s.observe())

	sch := router.Group("/scheduler")
	{
		sch.POST("/enqueue", s.enqueue)
		sch.GET("/status", s.schedulerStatus)
		sch.GET("/task/:id", s.getTask)
		sch.PATCH("/task/:id", s.updateTask)
		sch.POST("/process", s.processNext)
		sch.POST("/trigger", s.processNext) // alias
		sch.POST("/retry-failed", s.retryFailed)
	}

	hl := router.Group("/healer")
	{
		hl.GET("/status", s.healerStatus)
		hl.GET("/actions", s.listActions)
		hl.GET("/action/:id", s.getAction)
		hl.POST("/trigger", s.manualTrigger)
		hl.POST("/auto-heal", s.autoHeal)
		hl.POST("/reset-circuit", s.resetCircuit)
	}

	router.GET("/health", s.health)
	router.GET("/agents", s.listAgents)
	router.GET("/agents/:name", s.getAgent)
	router.POST("/agents/:name/trigger", s.triggerAgent)
	router.POST("/status", s.statusUpdate)

	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	s.http = &http.Server{Handler: router}
	return s
}

// Start serves HTTP on addr until Shutdown
func (s *Server) Start(addr string) error {
	s.http.Addr = addr
	s.logger.Info().Str("addr", addr).Msg("api listening")
	err := s.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

// observe records request metrics
func (s *Server) observe() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		metrics.APIRequestsTotal.WithLabelValues(c.Request.Method, strconv.Itoa(c.Writer.Status())).Inc()
	}
}

// fail writes the error envelope with the taxonomy status code. Circuit
// breaker rejections carry a Retry-After header.
func (s *Server) fail(c *gin.Context, err error) {
	status := errdefs.HTTPStatus(err)
	if status == http.StatusInternalServerError {
		s.logger.Error().Err(err).Str("path", c.Request.URL.Path).Msg("request failed")
	}

	body := gin.H{"error": err.Error()}
	var co *errdefs.CircuitOpenError
	if errors.As(err, &co) {
		body["reset_at"] = co.ResetAt
		retryAfter := int(time.Until(co.ResetAt).Seconds())
		if retryAfter < 0 {
			retryAfter = 0
		}
		c.Header("Retry-After", strconv.Itoa(retryAfter))
	}
	c.JSON(status, body)
}

// Scheduler routes

func (s *Server) enqueue(c *gin.Context) {
	var req scheduler.EnqueueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.fail(c, errdefs.Validation("invalid enqueue body: %v", err))
		return
	}
	task, err := s.sched.Enqueue(req)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"success": true, "task": task})
}

func (s *Server) schedulerStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.sched.Status())
}

func (s *Server) getTask(c *gin.Context) {
	task, err := s.sched.GetTask(c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, task)
}

func (s *Server) updateTask(c *gin.Context) {
	var upd scheduler.TaskUpdate
	if err := c.ShouldBindJSON(&upd); err != nil {
		s.fail(c, errdefs.Validation("invalid update body: %v", err))
		return
	}
	task, err := s.sched.UpdateTask(c.Param("id"), upd)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "task": task})
}

func (s *Server) processNext(c *gin.Context) {
	processed, task, err := s.sched.ProcessNext(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	resp := gin.H{"processed": processed}
	if task != nil {
		resp["task"] = task
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) retryFailed(c *gin.Context) {
	count, ids := s.sched.RetryFailed()
	c.JSON(http.StatusOK, gin.H{"retried_count": count, "task_ids": ids})
}

// Healer routes

func (s *Server) healerStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.heal.Status())
}

func (s *Server) listActions(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"actions": s.heal.Actions()})
}

func (s *Server) getAction(c *gin.Context) {
	action, err := s.heal.GetAction(c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, action)
}

type triggerRequest struct {
	Kind   types.ActionKind `json:"kind"`
	Target string           `json:"target"`
	Reason string           `json:"reason,omitempty"`
}

func (s *Server) manualTrigger(c *gin.Context) {
	var req triggerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.fail(c, errdefs.Validation("invalid trigger body: %v", err))
		return
	}
	action, err := s.heal.ManualTrigger(req.Kind, req.Target, req.Reason)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, action)
}

func (s *Server) autoHeal(c *gin.Context) {
	var req struct {
		Snapshot *types.HealthStatus `json:"health_snapshot"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.Snapshot == nil {
		s.fail(c, errdefs.Validation("auto-heal body requires health_snapshot"))
		return
	}
	result, err := s.heal.AutoHeal(req.Snapshot)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"healed":        result.Healed,
		"reason":        result.Reason,
		"actions_count": result.ActionsCount,
		"results":       result.Results,
	})
}

func (s *Server) resetCircuit(c *gin.Context) {
	s.heal.ResetCircuit()
	c.JSON(http.StatusOK, gin.H{"reset": true})
}

// Coordinator routes

func (s *Server) health(c *gin.Context) {
	snapshot, err := s.coord.HealthCheck(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}

	status := http.StatusOK
	switch snapshot.Overall {
	case types.HealthDegraded:
		status = http.StatusMultiStatus
	case types.HealthUnhealthy:
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, snapshot)
}

func (s *Server) listAgents(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"agents": s.coord.ListAgents()})
}

func (s *Server) getAgent(c *gin.Context) {
	agent, err := s.coord.GetAgent(c.Param("name"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, agent)
}

func (s *Server) triggerAgent(c *gin.Context) {
	var body map[string]interface{}
	// An empty body is a valid trigger
	_ = c.ShouldBindJSON(&body)

	resp, err := s.coord.TriggerAgent(c.Request.Context(), c.Param("name"), body)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

type statusUpdateRequest struct {
	Agent  string            `json:"agent"`
	Status types.AgentStatus `json:"status"`
	Error  string            `json:"error,omitempty"`
}

func (s *Server) statusUpdate(c *gin.Context) {
	var req statusUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.fail(c, errdefs.Validation("invalid status body: %v", err))
		return
	}
	agent, err := s.coord.StatusUpdate(req.Agent, req.Status, req.Error)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"updated": true, "agent": agent})
}
