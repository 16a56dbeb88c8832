// Package memstore is the default, in-process implementation of
// storage.Store. It shards its locking by key the way the teacher's
// internal/worker/pool.go shards work across per-worker local queues
// instead of a single global queue — here, instead, every batch gets
// its own entry behind a sharded lock map so unrelated batches never
// contend with each other.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"dispatchd/internal/storage"
)

type batchEntry struct {
	mu sync.Mutex
	b  storage.Batch
}

type Store struct {
	idemMu sync.Mutex
	idem   map[string]uuid.UUID // fingerprint -> batchID

	batchMu sync.RWMutex
	batches map[uuid.UUID]*batchEntry

	connMu sync.RWMutex
	conns  map[string]storage.ConnectionRecord // "accountID\x00target" -> record
}

func New() *Store {
	return &Store{
		idem:    make(map[string]uuid.UUID),
		batches: make(map[uuid.UUID]*batchEntry),
		conns:   make(map[string]storage.ConnectionRecord),
	}
}

func connKey(accountID, target string) string { return accountID + "\x00" + target }

func cloneBatch(b storage.Batch) storage.Batch {
	cp := b
	cp.Commands = make([]storage.Command, len(b.Commands))
	for i, c := range b.Commands {
		cc := c
		cc.Attempts = append([]storage.Attempt(nil), c.Attempts...)
		cp.Commands[i] = cc
	}
	return cp
}

func (s *Store) UpsertIdempotency(_ context.Context, fingerprint string, batchID uuid.UUID) (uuid.UUID, bool, error) {
	s.idemMu.Lock()
	defer s.idemMu.Unlock()

	if existing, ok := s.idem[fingerprint]; ok {
		return existing, true, nil
	}
	s.idem[fingerprint] = batchID
	return uuid.Nil, false, nil
}

func (s *Store) PutBatch(_ context.Context, b storage.Batch) error {
	s.batchMu.Lock()
	defer s.batchMu.Unlock()
	if _, exists := s.batches[b.ID]; exists {
		return nil
	}
	s.batches[b.ID] = &batchEntry{b: cloneBatch(b)}
	return nil
}

func (s *Store) GetBatch(_ context.Context, id uuid.UUID) (storage.Batch, error) {
	s.batchMu.RLock()
	entry, ok := s.batches[id]
	s.batchMu.RUnlock()
	if !ok {
		return storage.Batch{}, storage.ErrNotFound
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()
	return cloneBatch(entry.b), nil
}

func (s *Store) MutateBatch(_ context.Context, id uuid.UUID, fn func(*storage.Batch) error) error {
	s.batchMu.RLock()
	entry, ok := s.batches[id]
	s.batchMu.RUnlock()
	if !ok {
		return storage.ErrNotFound
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	working := cloneBatch(entry.b)
	if err := fn(&working); err != nil {
		return err
	}
	entry.b = cloneBatch(working)
	return nil
}

func (s *Store) DeleteBatch(_ context.Context, id uuid.UUID) error {
	s.batchMu.Lock()
	defer s.batchMu.Unlock()
	delete(s.batches, id)
	return nil
}

func (s *Store) CandidateBatches(_ context.Context, target string, exclude map[uuid.UUID]bool, asOf time.Time) ([]storage.Batch, error) {
	s.batchMu.RLock()
	entries := make([]*batchEntry, 0, len(s.batches))
	for _, e := range s.batches {
		entries = append(entries, e)
	}
	s.batchMu.RUnlock()

	var out []storage.Batch
	for _, e := range entries {
		e.mu.Lock()
		b := e.b
		e.mu.Unlock()

		if b.Target != target || b.Done || exclude[b.ID] {
			continue
		}
		if hasAvailableAttempt(b, asOf) {
			out = append(out, cloneBatch(b))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// hasAvailableAttempt looks only at the current command: the earliest
// one not yet Done, regardless of whether it has been started yet. A
// never-started command (Inactive, no attempts) is available as soon
// as it's current; once started, it's available again only when its
// most recent attempt is back in the Available phase and due.
func hasAvailableAttempt(b storage.Batch, asOf time.Time) bool {
	for _, c := range b.Commands {
		if c.Status == storage.CommandDone {
			continue
		}
		if len(c.Attempts) == 0 {
			return true
		}
		last := c.Attempts[len(c.Attempts)-1]
		return last.Phase == storage.AttemptAvailable && !last.AvailableAt.After(asOf)
	}
	return false
}

func (s *Store) ExpiringAttempts(_ context.Context, asOf time.Time) ([]storage.AttemptRef, error) {
	s.batchMu.RLock()
	entries := make([]*batchEntry, 0, len(s.batches))
	for _, e := range s.batches {
		entries = append(entries, e)
	}
	s.batchMu.RUnlock()

	var out []storage.AttemptRef
	for _, e := range entries {
		e.mu.Lock()
		b := e.b
		e.mu.Unlock()

		for _, c := range b.Commands {
			if c.Status != storage.CommandActive || len(c.Attempts) == 0 {
				continue
			}
			last := c.Attempts[len(c.Attempts)-1]
			if last.Phase != storage.AttemptStarted {
				continue
			}
			deadline := last.LastHeartbeat
			if deadline.IsZero() {
				deadline = last.StartedAt
			}
			interval := time.Duration(last.HeartbeatIntervalMS) * time.Millisecond
			grace := 3 * interval
			if grace < time.Second {
				grace = time.Second
			}
			if deadline.Add(grace).Before(asOf) {
				out = append(out, storage.AttemptRef{BatchID: b.ID, Index: c.Index, Token: last.Token})
			}
		}
	}
	return out, nil
}

func (s *Store) LookupConnection(_ context.Context, accountID, target string) (storage.ConnectionRecord, error) {
	s.connMu.RLock()
	defer s.connMu.RUnlock()
	rec, ok := s.conns[connKey(accountID, target)]
	if !ok {
		return storage.ConnectionRecord{}, storage.ErrNotFound
	}
	return rec, nil
}

// PutConnection is a test/bootstrap helper; the production connection
// directory is Postgres-backed (internal/connections), but memstore
// still needs to satisfy LookupConnection for unit tests that don't
// stand up Postgres.
func (s *Store) PutConnection(rec storage.ConnectionRecord) {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	s.conns[connKey(rec.AccountID, rec.TargetName)] = rec
}
