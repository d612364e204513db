package repository

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"ozzus/agent-upkeep/internal/domain"
	"ozzus/agent-upkeep/internal/lib/logger/sl"
)

// AccountSource produces the account universe for a round. An empty list is
// a valid answer.
type AccountSource interface {
	Accounts(ctx context.Context) ([]domain.Account, error)
}

// FileAccountSource reads one account identifier per line. Blank lines and
// lines starting with '#' are ignored; duplicates keep their first position.
type FileAccountSource struct {
	path          string
	requireAtSign bool
}

func NewFileAccountSource(path string, requireAtSign bool) *FileAccountSource {
	return &FileAccountSource{path: path, requireAtSign: requireAtSign}
}

func (s *FileAccountSource) Accounts(ctx context.Context) ([]domain.Account, error) {
	file, err := os.Open(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("accounts file %s does not exist: %w", s.path, err)
	}
	if err != nil {
		return nil, fmt.Errorf("open accounts file: %w", err)
	}
	defer file.Close()

	seen := make(map[string]struct{})
	var accounts []domain.Account

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if s.requireAtSign && !strings.Contains(line, "@") {
			continue
		}
		if _, dup := seen[line]; dup {
			continue
		}
		seen[line] = struct{}{}
		accounts = append(accounts, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read accounts file: %w", err)
	}

	return accounts, nil
}

type rosterReader interface {
	ReadEvent(ctx context.Context, v interface{}) (kafkago.Message, error)
}

type lagReporter interface {
	Lag() int64
}

// KafkaRosterSource maintains the account roster from a topic of add/remove
// events. Each call to Accounts drains whatever arrived since the previous
// call, bounded by the drain window, and returns the roster in the order
// accounts were first added.
type KafkaRosterSource struct {
	reader      rosterReader
	drainWindow time.Duration
	maxEvents   int
	log         *slog.Logger

	mu      sync.Mutex
	order   []domain.Account
	members map[domain.Account]bool
}

func NewKafkaRosterSource(reader rosterReader, drainWindow time.Duration, log *slog.Logger) *KafkaRosterSource {
	if drainWindow <= 0 {
		drainWindow = 5 * time.Second
	}
	if log == nil {
		log = sl.Discard()
	}
	return &KafkaRosterSource{
		reader:      reader,
		drainWindow: drainWindow,
		maxEvents:   10000,
		log:         log.With(slog.String("component", "roster_source")),
		members:     make(map[domain.Account]bool),
	}
}

func (s *KafkaRosterSource) Accounts(ctx context.Context) ([]domain.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.drain(ctx); err != nil {
		return nil, err
	}

	accounts := make([]domain.Account, 0, len(s.order))
	for _, account := range s.order {
		if s.members[account] {
			accounts = append(accounts, account)
		}
	}
	return accounts, nil
}

func (s *KafkaRosterSource) drain(ctx context.Context) error {
	timeoutCtx, cancel := context.WithTimeout(ctx, s.drainWindow)
	defer cancel()

	applied := 0
	for applied < s.maxEvents {
		var event domain.RosterEvent
		msg, err := s.reader.ReadEvent(timeoutCtx, &event)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
				break
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if msg.Value != nil {
				s.log.Warn("skipping malformed roster event", slog.Int64("offset", msg.Offset), sl.Err(err))
				continue
			}
			return fmt.Errorf("failed to read roster event: %w", err)
		}

		account := strings.TrimSpace(event.Account)
		if account == "" {
			continue
		}

		s.apply(account, event.Removed)
		applied++
	}

	if applied > 0 {
		attrs := []any{slog.Int("events", applied), slog.Int("members", s.countMembers())}
		if lr, ok := s.reader.(lagReporter); ok {
			attrs = append(attrs, slog.Int64("lag", lr.Lag()))
		}
		s.log.Info("roster updated", attrs...)
	}
	return nil
}

func (s *KafkaRosterSource) apply(account domain.Account, removed bool) {
	_, known := s.members[account]
	if !known {
		s.order = append(s.order, account)
	}
	s.members[account] = !removed
}

func (s *KafkaRosterSource) countMembers() int {
	n := 0
	for _, member := range s.members {
		if member {
			n++
		}
	}
	return n
}
