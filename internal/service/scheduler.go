package service

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc/panics"

	"ozzus/agent-upkeep/internal/domain"
	"ozzus/agent-upkeep/internal/lib/clock"
	"ozzus/agent-upkeep/internal/lib/logger/sl"
	"ozzus/agent-upkeep/internal/repository"
)

type SchedulerConfig struct {
	MaxConcurrent      int
	MaxAccountFailures int
}

// Scheduler runs account state machines with bounded concurrency.
//
// All round state (pending queue, in-flight set, failure counters) is owned
// by the goroutine executing RunRound and is only touched at dispatch and
// completion points. Sessions report back over a channel; they never touch
// the round state directly. Failure counters live for the process lifetime
// and are reset when an account completes successfully.
type Scheduler struct {
	processor AccountProcessor
	status    repository.StatusRepository
	clock     clock.Clock
	cfg       SchedulerConfig
	log       *slog.Logger

	roundMu  sync.Mutex
	failures map[domain.Account]int

	snapMu   sync.RWMutex
	snapshot domain.RoundSnapshot
}

func NewScheduler(
	processor AccountProcessor,
	status repository.StatusRepository,
	clk clock.Clock,
	cfg SchedulerConfig,
	log *slog.Logger,
) *Scheduler {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 1
	}
	if cfg.MaxAccountFailures <= 0 {
		cfg.MaxAccountFailures = 1
	}
	if clk == nil {
		clk = clock.Real()
	}
	if log == nil {
		log = sl.Discard()
	}

	return &Scheduler{
		processor: processor,
		status:    status,
		clock:     clk,
		cfg:       cfg,
		log:       log.With(slog.String("component", "scheduler")),
		failures:  make(map[domain.Account]int),
		snapshot:  domain.RoundSnapshot{Failures: map[string]int{}},
	}
}

type roundState struct {
	id        string
	startedAt time.Time
	pending   []domain.Account
	inFlight  map[domain.Account]struct{}
	completed int
	failed    int
	dropped   []domain.Account
}

type completion struct {
	account domain.Account
	outcome domain.AccountOutcome
	err     error
}

// RunRound blocks until every account has reached a terminal outcome or
// exhausted its failure budget. Once ctx is cancelled no new sessions are
// started; sessions already in flight are awaited.
func (s *Scheduler) RunRound(ctx context.Context, accounts []domain.Account) domain.RoundReport {
	s.roundMu.Lock()
	defer s.roundMu.Unlock()

	rs := &roundState{
		id:        uuid.NewString(),
		startedAt: s.clock.Now(),
		pending:   uniqueAccounts(accounts),
		inFlight:  make(map[domain.Account]struct{}, s.cfg.MaxConcurrent),
	}
	ctx = WithRoundID(ctx, rs.id)

	log := s.log.With(slog.String("round_id", rs.id))
	log.Info("round started",
		slog.Int("accounts", len(rs.pending)),
		slog.Int("max_concurrent", s.cfg.MaxConcurrent),
	)

	done := make(chan completion)

	for {
		s.dispatch(ctx, rs, done, log)
		s.publish(rs, true)

		if len(rs.pending) == 0 && len(rs.inFlight) == 0 {
			break
		}

		s.complete(ctx, rs, <-done, log)
	}

	s.publish(rs, false)

	report := domain.RoundReport{
		RoundID:   rs.id,
		Accounts:  len(uniqueAccounts(accounts)),
		Completed: rs.completed,
		Failed:    rs.failed,
		Dropped:   rs.dropped,
		Duration:  s.clock.Now().Sub(rs.startedAt),
	}

	log.Info("round finished",
		slog.Int("completed", report.Completed),
		slog.Int("failed", report.Failed),
		slog.Int("dropped", len(report.Dropped)),
		slog.Duration("duration", report.Duration),
	)

	return report
}

// dispatch starts sessions while there is capacity and pending work.
func (s *Scheduler) dispatch(ctx context.Context, rs *roundState, done chan<- completion, log *slog.Logger) {
	if ctx.Err() != nil {
		if len(rs.pending) > 0 {
			log.Warn("shutdown requested, skipping pending accounts", slog.Int("pending", len(rs.pending)))
			rs.dropped = append(rs.dropped, rs.pending...)
			rs.pending = nil
		}
		return
	}

	for len(rs.inFlight) < s.cfg.MaxConcurrent && len(rs.pending) > 0 {
		account := rs.pending[0]
		rs.pending = rs.pending[1:]
		rs.inFlight[account] = struct{}{}

		log.Debug("session dispatched",
			slog.String("account", account),
			slog.Int("in_flight", len(rs.inFlight)),
			slog.Int("pending", len(rs.pending)),
		)

		go s.runSession(ctx, account, done)
	}
}

func (s *Scheduler) runSession(ctx context.Context, account domain.Account, done chan<- completion) {
	var (
		outcome domain.AccountOutcome
		err     error
		catcher panics.Catcher
	)

	catcher.Try(func() {
		outcome, err = s.processor.Process(ctx, account)
	})

	if recovered := catcher.Recovered(); recovered != nil {
		s.log.Error("session panicked",
			slog.String("account", account),
			slog.Any("panic", recovered.Value),
			slog.String("stack", string(recovered.Stack)),
		)
		err = fmt.Errorf("session panicked: %v", recovered.Value)
	}

	done <- completion{account: account, outcome: outcome, err: err}
}

func (s *Scheduler) complete(ctx context.Context, rs *roundState, c completion, log *slog.Logger) {
	delete(rs.inFlight, c.account)

	if c.err == nil {
		rs.completed++
		if c.outcome.Success {
			delete(s.failures, c.account)
		}
		return
	}

	rs.failed++
	log = log.With(slog.String("account", c.account))

	if !retryable(c.err) {
		log.Warn("account session aborted", sl.Err(c.err))
		rs.dropped = append(rs.dropped, c.account)
		return
	}

	s.failures[c.account]++
	count := s.failures[c.account]

	failure := domain.OutcomeProcessingError(c.err)
	if err := s.status.Upsert(ctx, c.account, failure.StatusText, failure.Success); err != nil {
		log.Error("failed to persist processing error", sl.Err(err))
	}

	if count < s.cfg.MaxAccountFailures {
		log.Warn("account failed, requeued",
			slog.Int("failures", count),
			slog.Int("max_failures", s.cfg.MaxAccountFailures),
			sl.Err(c.err),
		)
		rs.pending = append(rs.pending, c.account)
		return
	}

	log.Error("account failed too many times, dropped for this round",
		slog.Int("failures", count),
		sl.Err(c.err),
	)
	rs.dropped = append(rs.dropped, c.account)
}

func (s *Scheduler) publish(rs *roundState, running bool) {
	inFlight := make([]domain.Account, 0, len(rs.inFlight))
	for account := range rs.inFlight {
		inFlight = append(inFlight, account)
	}
	sort.Strings(inFlight)

	failures := make(map[string]int, len(s.failures))
	for account, count := range s.failures {
		failures[account] = count
	}

	s.snapMu.Lock()
	defer s.snapMu.Unlock()

	if !running && s.snapshot.Running {
		s.snapshot.RoundsTotal++
	}
	s.snapshot.RoundID = rs.id
	s.snapshot.Running = running
	s.snapshot.StartedAt = rs.startedAt
	s.snapshot.Pending = len(rs.pending)
	s.snapshot.InFlight = inFlight
	s.snapshot.Completed = rs.completed
	s.snapshot.Failures = failures
}

// Snapshot returns the most recently published scheduler state.
func (s *Scheduler) Snapshot() domain.RoundSnapshot {
	s.snapMu.RLock()
	defer s.snapMu.RUnlock()

	snap := s.snapshot
	snap.InFlight = append([]domain.Account(nil), s.snapshot.InFlight...)
	snap.Failures = make(map[string]int, len(s.snapshot.Failures))
	for account, count := range s.snapshot.Failures {
		snap.Failures[account] = count
	}
	return snap
}

func uniqueAccounts(accounts []domain.Account) []domain.Account {
	seen := make(map[domain.Account]struct{}, len(accounts))
	unique := make([]domain.Account, 0, len(accounts))
	for _, account := range accounts {
		if _, ok := seen[account]; ok {
			continue
		}
		seen[account] = struct{}{}
		unique = append(unique, account)
	}
	return unique
}
