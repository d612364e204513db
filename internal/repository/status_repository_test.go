package repository

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"ozzus/agent-upkeep/internal/domain"
)

func newTestStatusRepo(t *testing.T) (*FileStatusRepository, *time.Time) {
	t.Helper()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	repo := NewFileStatusRepository(filepath.Join(t.TempDir(), "status.json"), nil)
	repo.WithClock(func() time.Time { return now })
	return repo, &now
}

func TestStatusLoadMissingFile(t *testing.T) {
	repo, _ := newTestStatusRepo(t)

	records, err := repo.Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(records) != 0 {
		t.Fatalf("expected empty mapping, got %v", records)
	}
}

func TestStatusLoadCorruptFileIsEmpty(t *testing.T) {
	repo, _ := newTestStatusRepo(t)
	if err := os.WriteFile(repo.Path(), []byte("{not json"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	records, err := repo.Load(context.Background())
	if err != nil {
		t.Fatalf("Load should not fail on corrupt content: %v", err)
	}
	if len(records) != 0 {
		t.Fatalf("expected empty mapping, got %v", records)
	}

	if err := repo.Upsert(context.Background(), "a", "status normal, margin: 20h", true); err != nil {
		t.Fatalf("Upsert over corrupt file: %v", err)
	}
	records, _ = repo.Load(context.Background())
	if len(records) != 1 {
		t.Fatalf("expected corrupt file to be replaced, got %v", records)
	}
}

func TestStatusUpsertMergesRecords(t *testing.T) {
	repo, now := newTestStatusRepo(t)
	ctx := context.Background()

	if err := repo.Upsert(ctx, "a", "status normal, margin: 20h", true); err != nil {
		t.Fatalf("Upsert a: %v", err)
	}
	*now = now.Add(time.Hour)
	if err := repo.Upsert(ctx, "b", "processing failed after 3 attempts", false); err != nil {
		t.Fatalf("Upsert b: %v", err)
	}

	records, err := repo.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	if got := records["a"]; !got.Success || got.Status != "status normal, margin: 20h" {
		t.Fatalf("unexpected record a: %+v", got)
	}
	if got := records["b"]; got.Success || !got.Timestamp.Equal(*now) {
		t.Fatalf("unexpected record b: %+v", got)
	}
}

func TestStatusUpsertIsIdempotent(t *testing.T) {
	repo, now := newTestStatusRepo(t)
	ctx := context.Background()

	if err := repo.Upsert(ctx, "a", "status normal, margin: 20h", true); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	first, err := os.ReadFile(repo.Path())
	if err != nil {
		t.Fatalf("read: %v", err)
	}

	*now = now.Add(2 * time.Hour)
	if err := repo.Upsert(ctx, "a", "status normal, margin: 20h", true); err != nil {
		t.Fatalf("second Upsert: %v", err)
	}
	second, err := os.ReadFile(repo.Path())
	if err != nil {
		t.Fatalf("read: %v", err)
	}

	if !bytes.Equal(first, second) {
		t.Fatalf("persisted state changed:\n%s\n---\n%s", first, second)
	}
}

func TestStatusDestroyedIsPermanent(t *testing.T) {
	repo, _ := newTestStatusRepo(t)
	ctx := context.Background()

	if err := repo.Upsert(ctx, "z", domain.StatusDestroyed, true); err != nil {
		t.Fatalf("Upsert destroyed: %v", err)
	}
	if err := repo.Upsert(ctx, "z", "status normal, margin: 20h", true); err != nil {
		t.Fatalf("Upsert over destroyed: %v", err)
	}
	if err := repo.Upsert(ctx, "y", "status normal, margin: 20h", true); err != nil {
		t.Fatalf("Upsert y: %v", err)
	}

	record, ok, err := repo.Get(ctx, "z")
	if err != nil || !ok {
		t.Fatalf("Get z: ok=%v err=%v", ok, err)
	}
	if record.Status != domain.StatusDestroyed || !record.Success {
		t.Fatalf("destroyed record was overwritten: %+v", record)
	}

	destroyed, err := repo.DestroyedAccounts(ctx)
	if err != nil {
		t.Fatalf("DestroyedAccounts: %v", err)
	}
	if _, ok := destroyed["z"]; !ok || len(destroyed) != 1 {
		t.Fatalf("unexpected destroyed set: %v", destroyed)
	}
}

func TestStatusConcurrentUpserts(t *testing.T) {
	repo, _ := newTestStatusRepo(t)
	ctx := context.Background()

	accounts := []string{"a", "b", "c", "d", "e", "f", "g", "h"}
	var wg sync.WaitGroup
	for _, account := range accounts {
		wg.Add(1)
		go func(account string) {
			defer wg.Done()
			if err := repo.Upsert(ctx, account, "status normal, margin: 20h", true); err != nil {
				t.Errorf("Upsert %s: %v", account, err)
			}
		}(account)
	}
	wg.Wait()

	records, err := repo.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(records) != len(accounts) {
		t.Fatalf("lost updates: got %d records, want %d", len(records), len(accounts))
	}

	leftovers, _ := filepath.Glob(repo.Path() + ".*.tmp")
	if len(leftovers) != 0 {
		t.Fatalf("temporary files left behind: %v", leftovers)
	}
}

func TestStatusUpsertRequiresAccount(t *testing.T) {
	repo, _ := newTestStatusRepo(t)
	if err := repo.Upsert(context.Background(), "", "x", true); err == nil {
		t.Fatal("expected error for empty account")
	}
}
