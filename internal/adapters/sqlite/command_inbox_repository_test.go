package sqlite

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/atvirokodosprendimai/incidentd/internal/core/domain"
)

func newInboxRecord(key string) domain.CommandRecord {
	return domain.CommandRecord{
		IdempotencyKey: key,
		Source:         "test",
		CommandType:    "create_occurrence",
		ScopeKey:       "ext-1",
		PayloadHash:    "hash-1",
		Payload:        json.RawMessage(`{"externalId":"ext-1"}`),
		Status:         domain.CommandReceived,
		ExpiresAt:      time.Now().UTC().Add(24 * time.Hour),
	}
}

func TestCommandInboxInsertRejectsDuplicateIdentity(t *testing.T) {
	ctx := context.Background()
	db, wdb := openTestDB(t)
	repo := NewCommandInboxRepository(db)

	first, err := repo.Insert(ctx, newInboxRecord("key-1"))
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if first.CommandID == "" {
		t.Fatalf("expected generated command id")
	}

	_, err = repo.Insert(ctx, newInboxRecord("key-1"))
	if !errors.Is(err, domain.ErrDuplicateCommand) {
		t.Fatalf("expected duplicate command error, got %v", err)
	}
	assertTableCount(t, ctx, wdb, "command_inbox", 1)

	other := newInboxRecord("key-1")
	other.ScopeKey = "ext-2"
	if _, err := repo.Insert(ctx, other); err != nil {
		t.Fatalf("insert other scope: %v", err)
	}
	assertTableCount(t, ctx, wdb, "command_inbox", 2)
}

func TestCommandInboxFindByIdentity(t *testing.T) {
	ctx := context.Background()
	db, _ := openTestDB(t)
	repo := NewCommandInboxRepository(db)

	inserted, err := repo.Insert(ctx, newInboxRecord("key-1"))
	if err != nil {
		t.Fatalf("insert: %v", err)
	}

	var found domain.CommandRecord
	err = db.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		found, err = repo.FindByIdentityForUpdate(ctx, "key-1", "create_occurrence", "ext-1")
		return err
	})
	if err != nil {
		t.Fatalf("find by identity: %v", err)
	}
	if found.CommandID != inserted.CommandID || found.Status != domain.CommandReceived {
		t.Fatalf("unexpected record: %+v", found)
	}

	_, err = repo.FindByIdentityForUpdate(ctx, "key-1", "create_occurrence", "missing")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestCommandInboxClaimIsAtomicUnderContention(t *testing.T) {
	ctx := context.Background()
	db, _ := openTestDB(t)
	repo := NewCommandInboxRepository(db)

	rec, err := repo.Insert(ctx, newInboxRecord("key-race"))
	if err != nil {
		t.Fatalf("insert: %v", err)
	}

	const workers = 8
	var wins atomic.Int32
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			ok, err := repo.Claim(ctx, rec.CommandID, domain.ClaimableStatuses())
			if err != nil {
				t.Errorf("claim: %v", err)
				return
			}
			if ok {
				wins.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	if got := wins.Load(); got != 1 {
		t.Fatalf("expected exactly one winning claim, got %d", got)
	}

	got, err := repo.Get(ctx, rec.CommandID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != domain.CommandProcessing {
		t.Fatalf("expected PROCESSING, got %s", got.Status)
	}
}

func TestCommandInboxClaimAcceptsLegacyEnqueued(t *testing.T) {
	ctx := context.Background()
	db, _ := openTestDB(t)
	repo := NewCommandInboxRepository(db)

	legacy := newInboxRecord("key-legacy")
	legacy.Status = domain.CommandEnqueued
	rec, err := repo.Insert(ctx, legacy)
	if err != nil {
		t.Fatalf("insert: %v", err)
	}

	ok, err := repo.Claim(ctx, rec.CommandID, domain.ClaimableStatuses())
	if err != nil || !ok {
		t.Fatalf("expected legacy row to be claimable, ok=%v err=%v", ok, err)
	}
}

func TestCommandInboxCompleteAndFail(t *testing.T) {
	ctx := context.Background()
	db, _ := openTestDB(t)
	repo := NewCommandInboxRepository(db)

	rec, err := repo.Insert(ctx, newInboxRecord("key-1"))
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if _, err := repo.Claim(ctx, rec.CommandID, domain.ClaimableStatuses()); err != nil {
		t.Fatalf("claim: %v", err)
	}

	now := time.Now().UTC()
	if err := repo.Fail(ctx, rec.CommandID, "boom", now); err != nil {
		t.Fatalf("fail: %v", err)
	}
	failed, err := repo.Get(ctx, rec.CommandID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if failed.Status != domain.CommandFailed || failed.ErrorMessage != "boom" || failed.ProcessedAt == nil {
		t.Fatalf("unexpected failed record: %+v", failed)
	}

	ok, err := repo.Claim(ctx, rec.CommandID, domain.ClaimableStatuses())
	if err != nil || !ok {
		t.Fatalf("expected failed command to be reclaimable, ok=%v err=%v", ok, err)
	}

	result := domain.StructuredResult(map[string]any{"occurrenceId": "o-1", "status": "reported"})
	if err := repo.Complete(ctx, rec.CommandID, result, now); err != nil {
		t.Fatalf("complete: %v", err)
	}
	done, err := repo.Get(ctx, rec.CommandID)
	if err != nil {
		t.Fatalf("get done: %v", err)
	}
	if done.Status != domain.CommandSucceeded || done.ErrorMessage != "" {
		t.Fatalf("unexpected succeeded record: %+v", done)
	}
	if done.Result.Kind() != domain.ResultStructured || done.Result.Fields()["occurrenceId"] != "o-1" {
		t.Fatalf("unexpected result: %+v", done.Result.Value())
	}

	ok, err = repo.Claim(ctx, rec.CommandID, domain.ClaimableStatuses())
	if err != nil {
		t.Fatalf("claim succeeded: %v", err)
	}
	if ok {
		t.Fatalf("succeeded command must not be claimable")
	}

	if err := repo.Complete(ctx, "missing", result, now); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found for unknown command, got %v", err)
	}
}

func TestCommandInboxPurgeExpired(t *testing.T) {
	ctx := context.Background()
	db, wdb := openTestDB(t)
	repo := NewCommandInboxRepository(db)

	expired := newInboxRecord("key-old")
	expired.ExpiresAt = time.Now().UTC().Add(-time.Hour)
	old, err := repo.Insert(ctx, expired)
	if err != nil {
		t.Fatalf("insert expired: %v", err)
	}
	if _, err := repo.Claim(ctx, old.CommandID, domain.ClaimableStatuses()); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := repo.Complete(ctx, old.CommandID, domain.StructuredResult(nil), time.Now()); err != nil {
		t.Fatalf("complete: %v", err)
	}

	stale := newInboxRecord("key-stale-received")
	stale.ExpiresAt = time.Now().UTC().Add(-time.Hour)
	if _, err := repo.Insert(ctx, stale); err != nil {
		t.Fatalf("insert stale: %v", err)
	}
	if _, err := repo.Insert(ctx, newInboxRecord("key-fresh")); err != nil {
		t.Fatalf("insert fresh: %v", err)
	}

	deleted, err := repo.PurgeExpired(ctx, time.Now().UTC(), []domain.CommandStatus{domain.CommandSucceeded, domain.CommandFailed})
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if deleted != 1 {
		t.Fatalf("expected 1 purged row, got %d", deleted)
	}
	assertTableCount(t, ctx, wdb, "command_inbox", 2)
}
