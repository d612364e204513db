package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/gin-gonic/gin"

	"ozzus/agent-upkeep/internal/checks"
	"ozzus/agent-upkeep/internal/domain"
	"ozzus/agent-upkeep/internal/lib/logger/sl"
	"ozzus/agent-upkeep/internal/repository"
	"ozzus/agent-upkeep/internal/service"
)

// Agent is the view of the round controller used by the handlers.
type Agent interface {
	HealthCheck(ctx context.Context) error
	GetStatus() service.Status
}

type HealthController struct {
	agent   Agent
	status  repository.StatusRepository
	agentID string
	version string
	deps    []checks.Checker
	log     *slog.Logger
}

const dependencyCheckTimeout = 3 * time.Second

func NewHealthController(agent Agent, status repository.StatusRepository, agentID, version string, log *slog.Logger) *HealthController {
	if log == nil {
		log = sl.Discard()
	}
	return &HealthController{
		agent:   agent,
		status:  status,
		agentID: agentID,
		version: version,
		log:     log.With(slog.String("component", "health_api")),
	}
}

// WithDependencyChecks makes readiness depend on the given probes.
func (h *HealthController) WithDependencyChecks(deps ...checks.Checker) *HealthController {
	h.deps = append(h.deps, deps...)
	return h
}

func (h *HealthController) Health(c *gin.Context) {
	if err := h.agent.HealthCheck(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, domain.HealthResponse{
			Status:    domain.HealthStatusUnhealthy,
			Timestamp: time.Now(),
			AgentID:   h.agentID,
			Message:   err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, domain.HealthResponse{
		Status:    domain.HealthStatusHealthy,
		Timestamp: time.Now(),
		AgentID:   h.agentID,
		Message:   "round controller is running",
	})
}

// Ready additionally requires the status store to be readable and every
// dependency probe to pass.
func (h *HealthController) Ready(c *gin.Context) {
	ctx := c.Request.Context()

	err := h.agent.HealthCheck(ctx)
	if err == nil {
		if _, lerr := h.status.Load(ctx); lerr != nil {
			err = errors.New("status store unavailable")
			h.log.Warn("readiness check failed", sl.Err(lerr))
		}
	}

	var deps []checks.Result
	if err == nil && len(h.deps) > 0 {
		checkCtx, cancel := context.WithTimeout(ctx, dependencyCheckTimeout)
		deps = checks.RunAll(checkCtx, h.deps...)
		cancel()

		if !checks.Healthy(deps) {
			err = errors.New("dependency check failed")
			h.log.Warn("readiness check failed", slog.Any("dependencies", deps))
		}
	}

	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":       "not_ready",
			"agent":        h.agentID,
			"message":      err.Error(),
			"dependencies": deps,
			"timestamp":    time.Now(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":       "ready",
		"agent":        h.agentID,
		"dependencies": deps,
		"timestamp":    time.Now(),
	})
}

func (h *HealthController) Status(c *gin.Context) {
	c.JSON(http.StatusOK, h.agent.GetStatus())
}

func (h *HealthController) Info(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"agent_id":  h.agentID,
		"version":   h.version,
		"status":    h.agent.GetStatus(),
		"timestamp": time.Now(),
		"components": []string{
			"round_controller",
			"scheduler",
			"account_machine",
			"status_store",
		},
	})
}

type accountStatus struct {
	Account string `json:"account"`
	domain.StatusRecord
}

// Accounts lists the persisted status of every account, sorted by name.
// ?failed=true limits the list to unsuccessful outcomes.
func (h *HealthController) Accounts(c *gin.Context) {
	records, err := h.status.Load(c.Request.Context())
	if err != nil {
		h.log.Error("failed to load status records", sl.Err(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load status records"})
		return
	}

	onlyFailed := c.Query("failed") == "true"

	out := make([]accountStatus, 0, len(records))
	for account, record := range records {
		if onlyFailed && record.Success {
			continue
		}
		out = append(out, accountStatus{Account: account, StatusRecord: record})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Account < out[j].Account })

	c.JSON(http.StatusOK, gin.H{
		"total":    len(out),
		"accounts": out,
	})
}

func (h *HealthController) Account(c *gin.Context) {
	account := c.Param("account")

	record, ok, err := h.status.Get(c.Request.Context(), account)
	if err != nil {
		h.log.Error("failed to load status record", slog.String("account", account), sl.Err(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load status record"})
		return
	}
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "account not found"})
		return
	}

	c.JSON(http.StatusOK, accountStatus{Account: account, StatusRecord: record})
}
