package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"ozzus/agent-upkeep/internal/domain"
	"ozzus/agent-upkeep/internal/driver"
)

type inspectResult struct {
	state *domain.EntityState
	err   error
}

type remediateResult struct {
	ok  bool
	err error
}

// scriptedDriver replays per-account scripts. The last entry of a script
// repeats once the script is exhausted.
type scriptedDriver struct {
	mu sync.Mutex

	loginErrs  map[domain.Account][]error
	inspects   map[domain.Account][]inspectResult
	remediates map[domain.Account][]remediateResult
	ackErr     error

	logins       map[domain.Account]int
	inspections  map[domain.Account]int
	remediations map[domain.Account]int
	acks         map[domain.Account]int
	closes       int
}

func newScriptedDriver() *scriptedDriver {
	return &scriptedDriver{
		loginErrs:    map[domain.Account][]error{},
		inspects:     map[domain.Account][]inspectResult{},
		remediates:   map[domain.Account][]remediateResult{},
		logins:       map[domain.Account]int{},
		inspections:  map[domain.Account]int{},
		remediations: map[domain.Account]int{},
		acks:         map[domain.Account]int{},
	}
}

func pick[T any](script []T, call int) (T, bool) {
	var zero T
	if len(script) == 0 {
		return zero, false
	}
	if call < len(script) {
		return script[call], true
	}
	return script[len(script)-1], true
}

type fakeSession struct {
	id     string
	driver *scriptedDriver
}

func (s *fakeSession) ID() string { return s.id }

func (s *fakeSession) Close() error {
	s.driver.mu.Lock()
	s.driver.closes++
	s.driver.mu.Unlock()
	return nil
}

func (d *scriptedDriver) Login(ctx context.Context, account domain.Account) (driver.Session, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	call := d.logins[account]
	d.logins[account]++

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err, ok := pick(d.loginErrs[account], call); ok && err != nil {
		return nil, err
	}
	return &fakeSession{id: account, driver: d}, nil
}

func (d *scriptedDriver) InspectState(ctx context.Context, session driver.Session) (*domain.EntityState, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	account := session.ID()
	call := d.inspections[account]
	d.inspections[account]++

	result, ok := pick(d.inspects[account], call)
	if !ok {
		return &domain.EntityState{SafeMarginHours: 100}, nil
	}
	return result.state, result.err
}

func (d *scriptedDriver) Remediate(ctx context.Context, session driver.Session) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	account := session.ID()
	call := d.remediations[account]
	d.remediations[account]++

	result, ok := pick(d.remediates[account], call)
	if !ok {
		return true, nil
	}
	return result.ok, result.err
}

func (d *scriptedDriver) Acknowledge(ctx context.Context, session driver.Session) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.acks[session.ID()]++
	return d.ackErr
}

func (d *scriptedDriver) count(m map[domain.Account]int, account domain.Account) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return m[account]
}

type memoryStatusStore struct {
	mu        sync.Mutex
	records   map[domain.Account]domain.StatusRecord
	upsertErr error
	upserts   int
}

func newMemoryStatusStore() *memoryStatusStore {
	return &memoryStatusStore{records: map[domain.Account]domain.StatusRecord{}}
}

func (s *memoryStatusStore) Load(ctx context.Context) (map[domain.Account]domain.StatusRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[domain.Account]domain.StatusRecord, len(s.records))
	for k, v := range s.records {
		out[k] = v
	}
	return out, nil
}

func (s *memoryStatusStore) Get(ctx context.Context, account domain.Account) (domain.StatusRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.records[account]
	return record, ok, nil
}

func (s *memoryStatusStore) Upsert(ctx context.Context, account domain.Account, status string, success bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.upserts++
	if s.upsertErr != nil {
		return s.upsertErr
	}
	if existing, ok := s.records[account]; ok && existing.Permanent() {
		return nil
	}
	s.records[account] = domain.StatusRecord{Timestamp: time.Now().UTC(), Success: success, Status: status}
	return nil
}

func (s *memoryStatusStore) DestroyedAccounts(ctx context.Context) (map[domain.Account]struct{}, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := map[domain.Account]struct{}{}
	for account, record := range s.records {
		if record.Permanent() {
			out[account] = struct{}{}
		}
	}
	return out, nil
}

func (s *memoryStatusStore) record(account domain.Account) (domain.StatusRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.records[account]
	return record, ok
}

type recordingOutcomes struct {
	mu       sync.Mutex
	outcomes []domain.OutcomeEvent
	logs     []domain.LogEntry
}

func (r *recordingOutcomes) PublishOutcome(ctx context.Context, event domain.OutcomeEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append(r.outcomes, event)
	return nil
}

func (r *recordingOutcomes) PublishLog(ctx context.Context, entry domain.LogEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logs = append(r.logs, entry)
	return nil
}

type staticSource struct {
	accounts []domain.Account
	err      error
}

func (s *staticSource) Accounts(ctx context.Context) ([]domain.Account, error) {
	if s.err != nil {
		return nil, s.err
	}
	return append([]domain.Account(nil), s.accounts...), nil
}

var errBoom = errors.New("boom")

func margin(hours float64) *domain.EntityState {
	return &domain.EntityState{SafeMarginHours: hours}
}
