package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"ozzus/agent-upkeep/internal/domain"
	"ozzus/agent-upkeep/internal/driver"
	"ozzus/agent-upkeep/internal/lib/clock"
	"ozzus/agent-upkeep/internal/lib/logger/sl"
	"ozzus/agent-upkeep/internal/repository"
)

// AccountProcessor drives one account to a terminal outcome. A returned
// error means the outcome could not be established or persisted.
type AccountProcessor interface {
	Process(ctx context.Context, account domain.Account) (domain.AccountOutcome, error)
}

type MachineConfig struct {
	AgentID                  string
	MaxLoginRetries          int
	MaxRemediationAttempts   int
	SafeMarginThresholdHours float64
	LoginRetryDelay          time.Duration
}

// AccountMachine is the AccountProcessor backed by a remote control driver.
type AccountMachine struct {
	driver   driver.Driver
	status   repository.StatusRepository
	outcomes repository.OutcomeRepository
	clock    clock.Clock
	cfg      MachineConfig
	log      *slog.Logger
}

func NewAccountMachine(
	drv driver.Driver,
	status repository.StatusRepository,
	outcomes repository.OutcomeRepository,
	clk clock.Clock,
	cfg MachineConfig,
	log *slog.Logger,
) *AccountMachine {
	if cfg.MaxLoginRetries <= 0 {
		cfg.MaxLoginRetries = 1
	}
	if cfg.MaxRemediationAttempts <= 0 {
		cfg.MaxRemediationAttempts = 1
	}
	if clk == nil {
		clk = clock.Real()
	}
	if outcomes == nil {
		outcomes = repository.NewLogOutcomeRepository(log)
	}
	if log == nil {
		log = sl.Discard()
	}

	return &AccountMachine{
		driver:   drv,
		status:   status,
		outcomes: outcomes,
		clock:    clk,
		cfg:      cfg,
		log:      log.With(slog.String("component", "account_machine")),
	}
}

// accountRun is the mutable state of one Process call.
type accountRun struct {
	account      domain.Account
	roundID      string
	state        AccountState
	sessions     int
	remediations int
	acks         int
	log          *slog.Logger
}

func (r *accountRun) transition(to AccountState) error {
	if err := ValidateTransition(r.state, to); err != nil {
		return fmt.Errorf("account %s: %w", r.account, err)
	}
	r.log.Debug("state transition", slog.String("from", string(r.state)), slog.String("to", string(to)))
	r.state = to
	return nil
}

func (r *accountRun) actedOn() bool {
	return r.remediations > 0 || r.acks > 0
}

func (m *AccountMachine) Process(ctx context.Context, account domain.Account) (domain.AccountOutcome, error) {
	roundID := RoundIDFrom(ctx)
	run := &accountRun{
		account: account,
		roundID: roundID,
		state:   StateLoggingIn,
		log:     m.log.With(slog.String("account", account), slog.String("round_id", roundID)),
	}

	outcome, err := m.drive(ctx, run)
	if err != nil {
		return domain.AccountOutcome{}, err
	}

	if err := m.status.Upsert(ctx, account, outcome.StatusText, outcome.Success); err != nil {
		return domain.AccountOutcome{}, fmt.Errorf("persist outcome for %s: %w", account, err)
	}

	run.log.Info("account processed",
		slog.String("status", outcome.StatusText),
		slog.Bool("success", outcome.Success),
		slog.Int("sessions", run.sessions),
		slog.Int("remediations", run.remediations),
	)

	event := domain.OutcomeEvent{
		Account:   account,
		RoundID:   roundID,
		AgentID:   m.cfg.AgentID,
		Status:    outcome.StatusText,
		Success:   outcome.Success,
		Attempts:  run.sessions,
		Timestamp: m.clock.Now().UTC(),
	}
	if err := m.outcomes.PublishOutcome(ctx, event); err != nil {
		run.log.Warn("failed to publish outcome", sl.Err(err))
	}

	return outcome, nil
}

// drive runs sessions until one reaches a terminal outcome or the login
// retry budget is spent. Sessions are separated by a constant delay.
func (m *AccountMachine) drive(ctx context.Context, run *accountRun) (domain.AccountOutcome, error) {
	for {
		if run.sessions > 0 {
			if err := clock.Sleep(ctx, m.clock, m.cfg.LoginRetryDelay); err != nil {
				return domain.AccountOutcome{}, err
			}
		}
		run.sessions++

		outcome, err := m.runSession(ctx, run)
		if err == nil {
			return outcome, nil
		}

		var transient *TransientError
		if !errors.As(err, &transient) {
			return domain.AccountOutcome{}, err
		}

		run.log.Warn("session attempt failed",
			slog.Int("attempt", run.sessions),
			slog.Int("max_attempts", m.cfg.MaxLoginRetries),
			slog.String("state", string(run.state)),
			sl.Err(err),
		)
		m.publishLog(ctx, run, domain.LogLevelWarn, fmt.Sprintf("attempt %d failed: %v", run.sessions, err))

		if run.sessions >= m.cfg.MaxLoginRetries {
			if err := run.transition(StateFailed); err != nil {
				return domain.AccountOutcome{}, err
			}
			return domain.OutcomeProcessingFailed(run.sessions), nil
		}

		if err := run.transition(StateLoggingIn); err != nil {
			return domain.AccountOutcome{}, err
		}
	}
}

func (m *AccountMachine) runSession(ctx context.Context, run *accountRun) (domain.AccountOutcome, error) {
	session, err := m.driver.Login(ctx, run.account)
	if err != nil {
		return m.driverFailure(ctx, run, "login", err)
	}
	defer func() {
		if err := session.Close(); err != nil {
			run.log.Debug("failed to close driver session", slog.String("session_id", session.ID()), sl.Err(err))
		}
	}()

	if err := run.transition(StateInspecting); err != nil {
		return domain.AccountOutcome{}, err
	}

	state, err := m.inspect(ctx, run, session)
	if err != nil || state == nil {
		return m.inspectResult(run, err)
	}

	threshold := m.cfg.SafeMarginThresholdHours

	for {
		if !state.NeedsRemediation(threshold) {
			if err := run.transition(StateSafe); err != nil {
				return domain.AccountOutcome{}, err
			}
			if run.actedOn() {
				return domain.OutcomeRemediated(state.SafeMarginHours), nil
			}
			return domain.OutcomeNormal(state.SafeMarginHours), nil
		}

		if err := run.transition(StateNeedsRemediation); err != nil {
			return domain.AccountOutcome{}, err
		}

		run.log.Info("remediation required",
			slog.Float64("safe_margin_hours", state.SafeMarginHours),
			slog.Float64("threshold_hours", threshold),
			slog.Bool("remediation_required", state.RemediationRequired),
			slog.Int("remediations", run.remediations),
		)

		switch {
		case run.remediations >= m.cfg.MaxRemediationAttempts:
			if err := run.transition(StateFailed); err != nil {
				return domain.AccountOutcome{}, err
			}
			return domain.OutcomeRemediationCapReached(state.SafeMarginHours), nil

		case state.RemediationAvailable:
			if err := run.transition(StateRemediating); err != nil {
				return domain.AccountOutcome{}, err
			}
			run.remediations++

			ok, err := m.driver.Remediate(ctx, session)
			if err != nil {
				return m.driverFailure(ctx, run, "remediate", err)
			}
			if !ok {
				if err := run.transition(StateFailed); err != nil {
					return domain.AccountOutcome{}, err
				}
				return domain.OutcomeRemediationFailed(), nil
			}

		case state.AcknowledgeAvailable && run.acks < m.cfg.MaxRemediationAttempts:
			if err := run.transition(StateAcknowledging); err != nil {
				return domain.AccountOutcome{}, err
			}
			run.acks++

			if err := m.driver.Acknowledge(ctx, session); err != nil {
				return m.driverFailure(ctx, run, "acknowledge", err)
			}

		default:
			if err := run.transition(StateFailed); err != nil {
				return domain.AccountOutcome{}, err
			}
			return domain.OutcomeRemediationBlocked(state.SafeMarginHours), nil
		}

		if err := run.transition(StateInspecting); err != nil {
			return domain.AccountOutcome{}, err
		}

		state, err = m.inspect(ctx, run, session)
		if err != nil || state == nil {
			return m.inspectResult(run, err)
		}
	}
}

// inspect returns (nil, nil) for a destroyed entity after moving the run to
// StateDestroyed, and a non-nil error for every other unusable reading.
func (m *AccountMachine) inspect(ctx context.Context, run *accountRun, session driver.Session) (*domain.EntityState, error) {
	state, err := m.driver.InspectState(ctx, session)
	if err != nil {
		if _, ferr := m.driverFailure(ctx, run, "inspect", err); ferr != nil {
			return nil, ferr
		}
		return nil, nil
	}

	if state == nil {
		return nil, &TransientError{Op: "inspect", Err: errNoReading}
	}

	if state.Destroyed {
		if err := run.transition(StateDestroyed); err != nil {
			return nil, err
		}
		run.log.Warn("entity destroyed, account will be excluded from future rounds", slog.String("op", "inspect"))
		return nil, nil
	}

	return state, nil
}

func (m *AccountMachine) inspectResult(run *accountRun, err error) (domain.AccountOutcome, error) {
	if err != nil {
		return domain.AccountOutcome{}, err
	}
	if run.state != StateDestroyed {
		return domain.AccountOutcome{}, fmt.Errorf("account %s: inspection ended in state %s", run.account, run.state)
	}
	return domain.OutcomeDestroyed(), nil
}

// driverFailure maps a failed driver call: a destroyed signal becomes the
// terminal outcome, shutdown stays a context error, everything else is
// transient.
func (m *AccountMachine) driverFailure(ctx context.Context, run *accountRun, op string, err error) (domain.AccountOutcome, error) {
	if errors.Is(err, driver.ErrEntityDestroyed) {
		if terr := run.transition(StateDestroyed); terr != nil {
			return domain.AccountOutcome{}, terr
		}
		run.log.Warn("entity destroyed, account will be excluded from future rounds", slog.String("op", op))
		return domain.OutcomeDestroyed(), nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return domain.AccountOutcome{}, ctxErr
	}
	return domain.AccountOutcome{}, &TransientError{Op: op, Err: err}
}

func (m *AccountMachine) publishLog(ctx context.Context, run *accountRun, level domain.LogLevel, message string) {
	entry := domain.LogEntry{
		Account:   run.account,
		RoundID:   run.roundID,
		AgentID:   m.cfg.AgentID,
		Level:     level,
		Message:   message,
		Timestamp: m.clock.Now().UTC(),
	}
	if err := m.outcomes.PublishLog(ctx, entry); err != nil {
		run.log.Debug("failed to publish log entry", sl.Err(err))
	}
}
