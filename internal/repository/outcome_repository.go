package repository

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"ozzus/agent-upkeep/internal/domain"
	"ozzus/agent-upkeep/internal/lib/logger/sl"
)

// OutcomeRepository fans terminal outcomes and per-account operational
// events out to external consumers. Failures never affect processing.
type OutcomeRepository interface {
	PublishOutcome(ctx context.Context, event domain.OutcomeEvent) error
	PublishLog(ctx context.Context, entry domain.LogEntry) error
}

type eventPublisher interface {
	PublishEvent(ctx context.Context, key string, event interface{}) error
	Topic() string
}

type KafkaOutcomeRepository struct {
	outcomesProducer eventPublisher
	logsProducer     eventPublisher
	log              *slog.Logger
}

func NewKafkaOutcomeRepository(outcomesProducer, logsProducer eventPublisher, log *slog.Logger) *KafkaOutcomeRepository {
	if log == nil {
		log = sl.Discard()
	}
	return &KafkaOutcomeRepository{
		outcomesProducer: outcomesProducer,
		logsProducer:     logsProducer,
		log:              log.With(slog.String("component", "outcome_publisher")),
	}
}

func (r *KafkaOutcomeRepository) PublishOutcome(ctx context.Context, event domain.OutcomeEvent) error {
	if err := r.outcomesProducer.PublishEvent(ctx, event.Account, event); err != nil {
		return fmt.Errorf("failed to publish outcome: %w", err)
	}
	r.log.Debug("outcome published",
		slog.String("account", event.Account),
		slog.String("topic", r.outcomesProducer.Topic()),
		slog.String("status", event.Status),
	)
	return nil
}

func (r *KafkaOutcomeRepository) PublishLog(ctx context.Context, entry domain.LogEntry) error {
	key := fmt.Sprintf("%s-%s", entry.Account, uuid.NewString())
	if err := r.logsProducer.PublishEvent(ctx, key, entry); err != nil {
		return fmt.Errorf("failed to publish log: %w", err)
	}
	return nil
}

// LogOutcomeRepository writes events to the process log only. Used when
// Kafka is disabled.
type LogOutcomeRepository struct {
	log *slog.Logger
}

func NewLogOutcomeRepository(log *slog.Logger) *LogOutcomeRepository {
	if log == nil {
		log = sl.Discard()
	}
	return &LogOutcomeRepository{log: log.With(slog.String("component", "outcome_log"))}
}

func (r *LogOutcomeRepository) PublishOutcome(ctx context.Context, event domain.OutcomeEvent) error {
	r.log.Info("account outcome",
		slog.String("account", event.Account),
		slog.String("round_id", event.RoundID),
		slog.String("status", event.Status),
		slog.Bool("success", event.Success),
		slog.Int("attempts", event.Attempts),
	)
	return nil
}

func (r *LogOutcomeRepository) PublishLog(ctx context.Context, entry domain.LogEntry) error {
	level := slog.LevelInfo
	switch entry.Level {
	case domain.LogLevelWarn:
		level = slog.LevelWarn
	case domain.LogLevelError:
		level = slog.LevelError
	}
	r.log.Log(ctx, level, entry.Message,
		slog.String("account", entry.Account),
		slog.String("round_id", entry.RoundID),
	)
	return nil
}
