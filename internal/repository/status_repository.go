package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"ozzus/agent-upkeep/internal/domain"
	"ozzus/agent-upkeep/internal/lib/logger/sl"
)

// StatusRepository is the durable account -> latest status mapping.
type StatusRepository interface {
	Load(ctx context.Context) (map[domain.Account]domain.StatusRecord, error)
	Get(ctx context.Context, account domain.Account) (domain.StatusRecord, bool, error)
	Upsert(ctx context.Context, account domain.Account, status string, success bool) error
	DestroyedAccounts(ctx context.Context) (map[domain.Account]struct{}, error)
}

// FileStatusRepository keeps the whole mapping in one JSON document and
// rewrites it on every change. It assumes a single writing process; the
// mutex only serializes sessions of that process.
type FileStatusRepository struct {
	mu   sync.Mutex
	path string
	log  *slog.Logger
	now  func() time.Time
}

func NewFileStatusRepository(path string, log *slog.Logger) *FileStatusRepository {
	if log == nil {
		log = sl.Discard()
	}
	return &FileStatusRepository{
		path: path,
		log:  log.With(slog.String("component", "status_store"), slog.String("path", path)),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

// WithClock replaces the timestamp source. Primarily useful for testing.
func (r *FileStatusRepository) WithClock(now func() time.Time) {
	if now != nil {
		r.now = now
	}
}

func (r *FileStatusRepository) Path() string {
	return r.path
}

func (r *FileStatusRepository) Load(ctx context.Context) (map[domain.Account]domain.StatusRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.read()
}

func (r *FileStatusRepository) Get(ctx context.Context, account domain.Account) (domain.StatusRecord, bool, error) {
	records, err := r.Load(ctx)
	if err != nil {
		return domain.StatusRecord{}, false, err
	}
	record, ok := records[account]
	return record, ok, nil
}

func (r *FileStatusRepository) Upsert(ctx context.Context, account domain.Account, status string, success bool) error {
	if account == "" {
		return errors.New("account is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	records, err := r.read()
	if err != nil {
		return err
	}

	if existing, ok := records[account]; ok {
		if existing.Permanent() {
			if status != domain.StatusDestroyed {
				r.log.Warn("refusing to overwrite destroyed account",
					slog.String("account", account),
					slog.String("status", status),
				)
			}
			return nil
		}
		if existing.Status == status && existing.Success == success {
			return nil
		}
	}

	records[account] = domain.StatusRecord{
		Timestamp: r.now(),
		Success:   success,
		Status:    status,
	}

	if err := r.write(records); err != nil {
		return err
	}

	r.log.Debug("status updated",
		slog.String("account", account),
		slog.String("status", status),
		slog.Bool("success", success),
	)
	return nil
}

func (r *FileStatusRepository) DestroyedAccounts(ctx context.Context) (map[domain.Account]struct{}, error) {
	records, err := r.Load(ctx)
	if err != nil {
		return nil, err
	}

	destroyed := make(map[domain.Account]struct{})
	for account, record := range records {
		if record.Permanent() {
			destroyed[account] = struct{}{}
		}
	}
	return destroyed, nil
}

// read returns an empty mapping for a missing, empty or unparseable file.
// Only I/O failures are reported.
func (r *FileStatusRepository) read() (map[domain.Account]domain.StatusRecord, error) {
	records := make(map[domain.Account]domain.StatusRecord)

	data, err := os.ReadFile(r.path)
	if errors.Is(err, os.ErrNotExist) {
		return records, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read status file: %w", err)
	}

	if len(data) == 0 {
		return records, nil
	}

	if err := json.Unmarshal(data, &records); err != nil {
		r.log.Warn("status file is corrupt, treating as empty", sl.Err(err))
		return make(map[domain.Account]domain.StatusRecord), nil
	}

	return records, nil
}

// write replaces the status file atomically: temp file, fsync, rename.
func (r *FileStatusRepository) write(records map[domain.Account]domain.StatusRecord) error {
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal status file: %w", err)
	}
	data = append(data, '\n')

	dir := filepath.Dir(r.path)
	file, err := os.CreateTemp(dir, filepath.Base(r.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temporary status file: %w", err)
	}
	temporaryPath := file.Name()

	if _, err := file.Write(data); err != nil {
		file.Close()
		os.Remove(temporaryPath)
		return fmt.Errorf("write temporary status file: %w", err)
	}
	if err := file.Chmod(0o600); err != nil {
		file.Close()
		os.Remove(temporaryPath)
		return fmt.Errorf("chmod temporary status file: %w", err)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(temporaryPath)
		return fmt.Errorf("sync temporary status file: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(temporaryPath)
		return fmt.Errorf("close temporary status file: %w", err)
	}

	if err := os.Rename(temporaryPath, r.path); err != nil {
		os.Remove(temporaryPath)
		return fmt.Errorf("rename status file into place: %w", err)
	}

	if parent, err := os.Open(dir); err == nil {
		parent.Sync()
		parent.Close()
	}

	return nil
}
