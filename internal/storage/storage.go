// Package storage defines the persistence contract the dispatch state
// machine operates against, plus the shared domain types every store
// implementation reads and writes. It is a generic CRUD-plus-locking
// substrate; the business logic of what a valid transition is lives in
// internal/dispatch, which mutates these types through MutateBatch.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("storage: not found")

// CommandStatus mirrors the three-phase command lifecycle from the spec:
// a command with no Started attempt yet is Inactive (including the
// current command before its first StartCommand), a command with a
// recorded attempt that is not finished is Active, and a command that
// will never be attempted again is Done.
type CommandStatus string

const (
	CommandInactive CommandStatus = "inactive"
	CommandActive   CommandStatus = "active"
	CommandDone     CommandStatus = "done"
)

// AttemptPhase is the three-phase lifecycle of a single attempt.
type AttemptPhase string

const (
	AttemptAvailable AttemptPhase = "available"
	AttemptStarted   AttemptPhase = "started"
	AttemptDone      AttemptPhase = "done"
)

// Notification describes where to deliver a fan-out message when a
// batch or command transitions. Channel selection is a tagged union on
// Type, matching the wire contract's "type" discriminator.
type Notification struct {
	Type              string            `json:"type"` // "http" | "aws_sqs" | "aws_sns"
	Endpoint          string            `json:"endpoint,omitempty"`
	AdditionalHeaders map[string]string `json:"additional_headers,omitempty"`
	QueueURL          string            `json:"queue_url,omitempty"`
	TargetARN         string            `json:"target_arn,omitempty"`
}

// Attempt is one execution try of a command.
type Attempt struct {
	Token               uuid.UUID
	Phase               AttemptPhase
	Nonce               string // the StartCommand nonce that produced this attempt, for idempotent retry
	AvailableAt         time.Time
	StartedAt           time.Time
	LastHeartbeat       time.Time
	HeartbeatCount      int
	HeartbeatIntervalMS int64
	CompleteAt          time.Time
	Succeeded           bool
	Data                json.RawMessage
}

// CommandDefinition is the caller-supplied description of one command.
type CommandDefinition struct {
	Name                  string
	Data                  json.RawMessage
	MaxRetries            int
	SuccessRequired       bool
	HeartbeatIntervalMS   int64
	AvailableNotification *Notification
	ProgressNotification  *Notification
}

// Command is one ordered slot within a batch: its immutable definition
// plus mutable runtime state.
type Command struct {
	Index           int
	Def             CommandDefinition
	Status          CommandStatus
	AttemptsStarted int
	Attempts        []Attempt // chronological; Attempts[len-1] is current when Status == Active
	Succeeded       bool      // meaningful once Status == CommandDone
}

// Batch is an immutable-once-created ordered group of commands
// dispatched together against one target.
type Batch struct {
	ID                   uuid.UUID
	Target               string
	AccountID            string
	Nonce                string
	CompleteNotification *Notification
	CreatedAt            time.Time
	Done                 bool // true once the aggregate reached Done{...}
	Succeeded            bool // meaningful once Done
	Commands             []Command
}

// ConnectionRecord binds an (account, target) pair to the backing
// resource notifications for that target should be delivered through.
type ConnectionRecord struct {
	AccountID       string
	TargetName      string
	BackingResource string
	UpdatedAt       time.Time
}

// Store is the full persistence contract the state machine (C5) depends
// on. memstore.Store is the default, in-process implementation; a
// Postgres-backed connections.Directory (C12) and Redis-backed idempotency
// cache (C13) layer in front of parts of it for the pieces that benefit
// from outliving a single process.
type Store interface {
	// UpsertIdempotency is an adopt-on-collision upsert keyed by
	// fingerprint: the first caller's batchID wins and is stored, and
	// that caller gets existing=uuid.Nil with adopted=false; every
	// subsequent caller with the same fingerprint gets the stored
	// batchID back as existing with adopted=true.
	UpsertIdempotency(ctx context.Context, fingerprint string, batchID uuid.UUID) (existing uuid.UUID, adopted bool, err error)

	// PutBatch inserts b if batch.ID is unused, otherwise does nothing
	// (insert-if-absent, matching the spec's "never overwrite" rule
	// for both the command-definition rows and the batch row — this
	// implementation folds both into one aggregate write).
	PutBatch(ctx context.Context, b Batch) error

	GetBatch(ctx context.Context, id uuid.UUID) (Batch, error)

	// MutateBatch runs fn against the current batch under its
	// per-batch lock and persists whatever fn leaves behind, unless fn
	// returns an error (in which case nothing is persisted).
	MutateBatch(ctx context.Context, id uuid.UUID, fn func(*Batch) error) error

	DeleteBatch(ctx context.Context, id uuid.UUID) error

	// CandidateBatches returns, for target, every batch that is not Done
	// and whose current command either has no attempts yet or has an
	// Available most recent attempt with AvailableAt <= asOf, excluding
	// any batch ID present in exclude.
	CandidateBatches(ctx context.Context, target string, exclude map[uuid.UUID]bool, asOf time.Time) ([]Batch, error)

	// ExpiringAttempts returns (batchID, command index, attempt token)
	// triples for every Started attempt whose lease has passed asOf,
	// for the sweeper to reclaim via MutateBatch.
	ExpiringAttempts(ctx context.Context, asOf time.Time) ([]AttemptRef, error)

	LookupConnection(ctx context.Context, accountID, target string) (ConnectionRecord, error)
}

// AttemptRef identifies one attempt by its coordinates, for the sweeper.
type AttemptRef struct {
	BatchID uuid.UUID
	Index   int
	Token   uuid.UUID
}
