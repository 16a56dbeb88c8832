package memstore

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"dispatchd/internal/storage"
)

func TestUpsertIdempotencyAdoptsOnCollision(t *testing.T) {
	s := New()
	ctx := context.Background()
	first := uuid.New()
	second := uuid.New()

	existing, adopted, err := s.UpsertIdempotency(ctx, "fp-1", first)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if adopted {
		t.Fatal("first upsert should not adopt an existing batch")
	}
	if existing != uuid.Nil {
		t.Fatalf("expected nil existing batch, got %v", existing)
	}

	existing, adopted, err = s.UpsertIdempotency(ctx, "fp-1", second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !adopted {
		t.Fatal("second upsert with same fingerprint should adopt the first batch")
	}
	if existing != first {
		t.Fatalf("expected adopted batch %v, got %v", first, existing)
	}
}

func newInactiveCommand(idx int) storage.Command {
	return storage.Command{Index: idx, Status: storage.CommandInactive}
}

func TestPutBatchIsInsertIfAbsent(t *testing.T) {
	s := New()
	ctx := context.Background()
	id := uuid.New()
	original := storage.Batch{ID: id, Target: "worker-1", Commands: []storage.Command{newInactiveCommand(0)}}
	if err := s.PutBatch(ctx, original); err != nil {
		t.Fatalf("PutBatch: %v", err)
	}

	dup := storage.Batch{ID: id, Target: "worker-2"}
	if err := s.PutBatch(ctx, dup); err != nil {
		t.Fatalf("PutBatch duplicate: %v", err)
	}

	got, err := s.GetBatch(ctx, id)
	if err != nil {
		t.Fatalf("GetBatch: %v", err)
	}
	if got.Target != "worker-1" {
		t.Fatalf("expected original batch to survive duplicate insert, got target %q", got.Target)
	}
}

func TestCandidateBatchesFiltersToTargetAndAvailability(t *testing.T) {
	s := New()
	ctx := context.Background()
	now := time.Now()

	doneBatch := storage.Batch{
		ID: uuid.New(), Target: "worker-1", CreatedAt: now.Add(-time.Minute), Done: true,
		Commands: []storage.Command{{Index: 0, Status: storage.CommandDone}},
	}
	pending := storage.Batch{
		ID: uuid.New(), Target: "worker-1", CreatedAt: now,
		Commands: []storage.Command{newInactiveCommand(0)},
	}
	other := storage.Batch{
		ID: uuid.New(), Target: "worker-2", CreatedAt: now,
		Commands: []storage.Command{newInactiveCommand(0)},
	}

	for _, b := range []storage.Batch{doneBatch, pending, other} {
		if err := s.PutBatch(ctx, b); err != nil {
			t.Fatalf("PutBatch: %v", err)
		}
	}

	got, err := s.CandidateBatches(ctx, "worker-1", nil, now)
	if err != nil {
		t.Fatalf("CandidateBatches: %v", err)
	}
	if len(got) != 1 || got[0].ID != pending.ID {
		t.Fatalf("expected only the pending batch for worker-1, got %+v", got)
	}
}

func TestCandidateBatchesRespectsExcludeSet(t *testing.T) {
	s := New()
	ctx := context.Background()
	now := time.Now()
	b := storage.Batch{ID: uuid.New(), Target: "worker-1", CreatedAt: now, Commands: []storage.Command{newInactiveCommand(0)}}
	if err := s.PutBatch(ctx, b); err != nil {
		t.Fatalf("PutBatch: %v", err)
	}

	got, err := s.CandidateBatches(ctx, "worker-1", map[uuid.UUID]bool{b.ID: true}, now)
	if err != nil {
		t.Fatalf("CandidateBatches: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected excluded batch to be filtered out, got %+v", got)
	}
}

func TestMutateBatchPersistsAndRollsBackOnError(t *testing.T) {
	s := New()
	ctx := context.Background()
	b := storage.Batch{ID: uuid.New(), Target: "worker-1", Commands: []storage.Command{newInactiveCommand(0)}}
	if err := s.PutBatch(ctx, b); err != nil {
		t.Fatalf("PutBatch: %v", err)
	}

	if err := s.MutateBatch(ctx, b.ID, func(batch *storage.Batch) error {
		batch.Commands[0].Status = storage.CommandActive
		return nil
	}); err != nil {
		t.Fatalf("MutateBatch: %v", err)
	}

	got, err := s.GetBatch(ctx, b.ID)
	if err != nil {
		t.Fatalf("GetBatch: %v", err)
	}
	if got.Commands[0].Status != storage.CommandActive {
		t.Fatalf("expected mutation to persist, got status %v", got.Commands[0].Status)
	}

	sentinel := storage.ErrNotFound
	if err := s.MutateBatch(ctx, b.ID, func(batch *storage.Batch) error {
		batch.Commands[0].Status = storage.CommandDone
		return sentinel
	}); err != sentinel {
		t.Fatalf("expected sentinel error to propagate, got %v", err)
	}

	got, err = s.GetBatch(ctx, b.ID)
	if err != nil {
		t.Fatalf("GetBatch: %v", err)
	}
	if got.Commands[0].Status != storage.CommandActive {
		t.Fatal("expected failed mutation to leave the batch untouched")
	}
}

func TestExpiringAttemptsFindsLapsedHeartbeats(t *testing.T) {
	s := New()
	ctx := context.Background()
	now := time.Now()
	b := storage.Batch{
		ID:     uuid.New(),
		Target: "worker-1",
		Commands: []storage.Command{{
			Index:  0,
			Status: storage.CommandActive,
			Attempts: []storage.Attempt{{
				Token:               uuid.New(),
				Phase:               storage.AttemptStarted,
				StartedAt:           now.Add(-time.Hour),
				LastHeartbeat:       now.Add(-time.Hour),
				HeartbeatIntervalMS: 1000,
			}},
		}},
	}
	if err := s.PutBatch(ctx, b); err != nil {
		t.Fatalf("PutBatch: %v", err)
	}

	refs, err := s.ExpiringAttempts(ctx, now)
	if err != nil {
		t.Fatalf("ExpiringAttempts: %v", err)
	}
	if len(refs) != 1 || refs[0].BatchID != b.ID {
		t.Fatalf("expected the lapsed attempt to be returned, got %+v", refs)
	}
}
