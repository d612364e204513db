package service

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"ozzus/agent-upkeep/internal/domain"
	"ozzus/agent-upkeep/internal/lib/clock"
	"ozzus/agent-upkeep/internal/lib/logger/sl"
	"ozzus/agent-upkeep/internal/repository"
)

// RoundRunner executes one round over a candidate list.
type RoundRunner interface {
	RunRound(ctx context.Context, accounts []domain.Account) domain.RoundReport
	Snapshot() domain.RoundSnapshot
}

type ControllerConfig struct {
	AgentID       string
	RoundInterval time.Duration
}

// RoundController repeats rounds forever: read the account universe, drop
// permanently excluded accounts, run the round, sleep.
type RoundController struct {
	source    repository.AccountSource
	status    repository.StatusRepository
	scheduler RoundRunner
	clock     clock.Clock
	cfg       ControllerConfig
	log       *slog.Logger

	mu         sync.RWMutex
	running    bool
	lastReport *domain.RoundReport
	nextRound  time.Time
}

func NewRoundController(
	source repository.AccountSource,
	status repository.StatusRepository,
	scheduler RoundRunner,
	clk clock.Clock,
	cfg ControllerConfig,
	log *slog.Logger,
) *RoundController {
	if cfg.RoundInterval <= 0 {
		cfg.RoundInterval = 11 * time.Hour
	}
	if clk == nil {
		clk = clock.Real()
	}
	if log == nil {
		log = sl.Discard()
	}

	return &RoundController{
		source:    source,
		status:    status,
		scheduler: scheduler,
		clock:     clk,
		cfg:       cfg,
		log:       log.With(slog.String("component", "round_controller")),
	}
}

// Run loops until ctx is cancelled. It never returns on round errors.
func (c *RoundController) Run(ctx context.Context) error {
	c.setRunning(true)
	defer c.setRunning(false)

	c.log.Info("round controller started",
		slog.String("agent_id", c.cfg.AgentID),
		slog.Duration("round_interval", c.cfg.RoundInterval),
	)

	for {
		c.RunOnce(ctx)

		next := c.clock.Now().Add(c.cfg.RoundInterval)
		c.mu.Lock()
		c.nextRound = next
		c.mu.Unlock()

		c.log.Info("next round scheduled", slog.Time("at", next))

		if err := clock.Sleep(ctx, c.clock, c.cfg.RoundInterval); err != nil {
			c.log.Info("round controller stopped")
			return nil
		}
	}
}

// RunOnce performs a single round and returns its report.
func (c *RoundController) RunOnce(ctx context.Context) domain.RoundReport {
	candidates, excluded := c.candidates(ctx)

	if excluded > 0 {
		c.log.Info("skipping destroyed accounts", slog.Int("excluded", excluded))
	}

	report := c.scheduler.RunRound(ctx, candidates)

	c.mu.Lock()
	c.lastReport = &report
	c.mu.Unlock()

	return report
}

func (c *RoundController) candidates(ctx context.Context) ([]domain.Account, int) {
	accounts, err := c.source.Accounts(ctx)
	if err != nil {
		c.log.Error("failed to read accounts, round will be empty", sl.Err(err))
		return nil, 0
	}

	// Without the exclusion set a destroyed account could be driven again.
	destroyed, err := c.status.DestroyedAccounts(ctx)
	if err != nil {
		c.log.Error("failed to read destroyed accounts, round will be empty", sl.Err(err))
		return nil, 0
	}

	candidates := make([]domain.Account, 0, len(accounts))
	excluded := 0
	for _, account := range accounts {
		if _, ok := destroyed[account]; ok {
			excluded++
			continue
		}
		candidates = append(candidates, account)
	}

	c.log.Info("round candidates",
		slog.Int("total", len(accounts)),
		slog.Int("candidates", len(candidates)),
	)
	return candidates, excluded
}

func (c *RoundController) setRunning(running bool) {
	c.mu.Lock()
	c.running = running
	c.mu.Unlock()
}

func (c *RoundController) HealthCheck(ctx context.Context) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if !c.running {
		return errors.New("round controller is not running")
	}
	return nil
}

// Status describes the controller and the scheduler for the status endpoint.
type Status struct {
	AgentID       string               `json:"agent_id"`
	Running       bool                 `json:"running"`
	RoundInterval string               `json:"round_interval"`
	NextRound     *time.Time           `json:"next_round,omitempty"`
	LastRound     *domain.RoundReport  `json:"last_round,omitempty"`
	Round         domain.RoundSnapshot `json:"round"`
}

func (c *RoundController) GetStatus() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()

	status := Status{
		AgentID:       c.cfg.AgentID,
		Running:       c.running,
		RoundInterval: c.cfg.RoundInterval.String(),
		Round:         c.scheduler.Snapshot(),
	}
	if !c.nextRound.IsZero() {
		next := c.nextRound
		status.NextRound = &next
	}
	if c.lastReport != nil {
		report := *c.lastReport
		status.LastRound = &report
	}
	return status
}
