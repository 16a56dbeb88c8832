// Package dispatch implements the batch/command/attempt state machine
// (C5): DispatchCommands, StartCommand, HeartbeatCommand,
// CompleteCommand, DescribeCommands, DescribeCommand, DeleteCommands,
// and the lease expiry sweeper. It is pure orchestration over
// storage.Store (C2), the waiter registry (C6), and a Notifier (C7).
package dispatch

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"dispatchd/internal/storage"
)

// CommandInput is the caller-supplied shape of one command within a
// DispatchCommands request.
type CommandInput struct {
	Name                  string               `json:"name"`
	Data                  json.RawMessage      `json:"data"`
	MaxRetries            int                  `json:"max_retries"`
	SuccessRequired       bool                 `json:"success_required"`
	HeartbeatIntervalMS   int64                `json:"heartbeat_interval_millis,omitempty"`
	AvailableNotification *storage.Notification `json:"command_available_notification,omitempty"`
	ProgressNotification  *storage.Notification `json:"command_progress_notification,omitempty"`
}

// DispatchInput is the DispatchCommands request body.
type DispatchInput struct {
	AccountID                 string                 `json:"-"` // populated from caller identity, not request body
	TargetName                string                 `json:"target_name"`
	Commands                  []CommandInput         `json:"commands"`
	Nonce                     string                 `json:"nonce"`
	BatchCompleteNotification *storage.Notification  `json:"batch_complete_notification,omitempty"`
}

type DispatchOutput struct {
	BatchID uuid.UUID `json:"batch_id"`
}

// ReceiveInput is the ReceiveCommands request body.
type ReceiveInput struct {
	TargetName      string   `json:"target_name"`
	ExcludeBatches  []string `json:"exclude_batches"`
	GroupMembership []string `json:"group_membership"`
	TimeoutMillis   int64    `json:"timeout_millis"`
}

type ReceiveCommandOutput struct {
	Index                  int             `json:"index"`
	Name                    string          `json:"name"`
	Data                    json.RawMessage `json:"data"`
	HeartbeatIntervalMillis int64           `json:"heartbeat_interval_millis"`
}

type ReceiveBatchOutput struct {
	ID       uuid.UUID              `json:"id"`
	Commands []ReceiveCommandOutput `json:"commands"`
}

type ReceiveOutput struct {
	CommandBatches []ReceiveBatchOutput `json:"command_batches"`
}

// Instruction is the tagged-union response every mutating lifecycle
// operation returns, telling the executor what to do next.
type Instruction string

const (
	InstructionDiscard      Instruction = "discard"
	InstructionContinue     Instruction = "continue"
	InstructionSameCommand  Instruction = "same_command"
	InstructionNextCommand  Instruction = "next_command"
)

type StartInput struct {
	BatchID      uuid.UUID `json:"batch_id"`
	CommandIndex int       `json:"command_index"`
	Nonce        string    `json:"nonce"`
}

type StartOutput struct {
	Instruction  Instruction `json:"instruction"`
	AttemptToken *uuid.UUID  `json:"attempt_token,omitempty"`
}

type HeartbeatInput struct {
	BatchID      uuid.UUID `json:"batch_id"`
	AttemptToken uuid.UUID `json:"attempt_token"`
}

type HeartbeatOutput struct {
	Instruction Instruction `json:"instruction"`
}

type CompleteInput struct {
	BatchID      uuid.UUID       `json:"batch_id"`
	AttemptToken uuid.UUID       `json:"attempt_token"`
	Success      bool            `json:"success"`
	Data         json.RawMessage `json:"data,omitempty"`
}

type CompleteOutput struct {
	Instruction Instruction `json:"instruction"`
}

type DescribeCommandsInput struct {
	BatchID uuid.UUID `json:"batch_id"`
}

type CommandSnapshot struct {
	Index     int                 `json:"index"`
	Status    storage.CommandStatus `json:"status"`
	Succeeded bool                `json:"succeeded,omitempty"`
	Attempts  int                 `json:"attempts"`
}

type BatchSnapshot struct {
	Status storage.CommandStatus `json:"status"`
	Done   bool                  `json:"done"`
	Succeeded bool                `json:"succeeded,omitempty"`
}

type DescribeCommandsOutput struct {
	Batch    BatchSnapshot     `json:"batch"`
	Commands []CommandSnapshot `json:"commands"`
}

type DescribeCommandInput struct {
	BatchID      uuid.UUID `json:"batch_id"`
	CommandIndex int       `json:"command_index"`
}

type AttemptSnapshot struct {
	Status    storage.AttemptPhase `json:"status"`
	Succeeded bool                 `json:"succeeded,omitempty"`
}

type DescribeCommandOutput struct {
	Command  CommandSnapshot   `json:"command"`
	Attempts []AttemptSnapshot `json:"attempts"`
}

type DeleteInput struct {
	BatchID uuid.UUID `json:"batch_id"`
}

type DeleteOutput struct{}

const defaultHeartbeatIntervalMS int64 = 10_000

func clampHeartbeatInterval(ms int64) int64 {
	if ms <= 0 {
		return defaultHeartbeatIntervalMS
	}
	return ms
}

// nowFunc is overridable in tests that need deterministic timestamps.
var nowFunc = time.Now
