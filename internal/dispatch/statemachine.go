package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"dispatchd/internal/observability"
	"dispatchd/internal/storage"
	"dispatchd/internal/waiter"
)

// Service wires the state machine operations against a store, the
// long-poll waiter registry, and a notifier. One Service instance per
// process; safe for concurrent use from every worker goroutine.
type Service struct {
	store    storage.Store
	waiters  *waiter.Registry
	notifier Notifier
	logger   *zap.Logger
	metrics  *observability.Metrics
}

func NewService(store storage.Store, waiters *waiter.Registry, notifier Notifier, logger *zap.Logger) *Service {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	return &Service{store: store, waiters: waiters, notifier: notifier, logger: logger}
}

// WithMetrics attaches the Prometheus collectors counting dispatch
// events. Optional: a Service with no metrics attached still operates,
// it just doesn't record them.
func (s *Service) WithMetrics(m *observability.Metrics) *Service {
	s.metrics = m
	return s
}

// DispatchCommands implements §4.4: fingerprint → idempotent batch
// creation → wake one waiter → return batch_id. Ordering follows
// original_source/dispatch-service/src/operations/dispatch_commands.rs
// literally.
func (s *Service) DispatchCommands(ctx context.Context, in DispatchInput) (DispatchOutput, error) {
	fp := fingerprint("DispatchCommands", in.AccountID, struct {
		Target                    string
		Commands                  []CommandInput
		Nonce                     string
		BatchCompleteNotification *storage.Notification
	}{in.TargetName, in.Commands, in.Nonce, in.BatchCompleteNotification})

	freshID := uuid.New()
	existing, adopted, err := s.store.UpsertIdempotency(ctx, fp, freshID)
	if err != nil {
		return DispatchOutput{}, fmt.Errorf("idempotency upsert: %w", err)
	}

	batchID := freshID
	if adopted {
		batchID = existing
	}

	commands := make([]storage.Command, len(in.Commands))
	for i, c := range in.Commands {
		commands[i] = storage.Command{
			Index:  i,
			Status: storage.CommandInactive,
			Def: storage.CommandDefinition{
				Name:                  c.Name,
				Data:                  c.Data,
				MaxRetries:            c.MaxRetries,
				SuccessRequired:       c.SuccessRequired,
				HeartbeatIntervalMS:   clampHeartbeatInterval(c.HeartbeatIntervalMS),
				AvailableNotification: c.AvailableNotification,
				ProgressNotification:  c.ProgressNotification,
			},
		}
	}

	batch := storage.Batch{
		ID:                   batchID,
		Target:               in.TargetName,
		AccountID:            in.AccountID,
		Nonce:                in.Nonce,
		CompleteNotification: in.BatchCompleteNotification,
		CreatedAt:            nowFunc(),
		Commands:             commands,
	}
	if err := s.store.PutBatch(ctx, batch); err != nil {
		return DispatchOutput{}, fmt.Errorf("put batch: %w", err)
	}

	s.waiters.Wake(in.TargetName)

	if s.metrics != nil && !adopted {
		s.metrics.BatchesDispatched.WithLabelValues(in.TargetName).Inc()
	}

	return DispatchOutput{BatchID: batchID}, nil
}

// ReceiveCommands implements §4.5: return immediately if candidates
// exist, else park on the waiter registry until woken or the deadline
// elapses, then re-check under the store's own lock.
func (s *Service) ReceiveCommands(ctx context.Context, in ReceiveInput) (ReceiveOutput, error) {
	exclude := make(map[uuid.UUID]bool, len(in.ExcludeBatches))
	for _, raw := range in.ExcludeBatches {
		if id, err := uuid.Parse(raw); err == nil {
			exclude[id] = true
		}
	}

	timeout := time.Duration(in.TimeoutMillis) * time.Millisecond
	if timeout <= 0 {
		timeout = 0
	}
	deadline := nowFunc().Add(timeout)

	for {
		out, err := s.snapshotCandidates(ctx, in.TargetName, exclude)
		if err != nil {
			return ReceiveOutput{}, err
		}
		if len(out.CommandBatches) > 0 || timeout == 0 {
			return out, nil
		}

		waitCtx, cancel := context.WithDeadline(ctx, deadline)
		s.waiters.Wait(waitCtx, in.TargetName)
		cancel()

		if nowFunc().After(deadline) || waitCtx.Err() == context.DeadlineExceeded {
			return s.snapshotCandidates(ctx, in.TargetName, exclude)
		}
	}
}

func (s *Service) snapshotCandidates(ctx context.Context, target string, exclude map[uuid.UUID]bool) (ReceiveOutput, error) {
	batches, err := s.store.CandidateBatches(ctx, target, exclude, nowFunc())
	if err != nil {
		return ReceiveOutput{}, fmt.Errorf("candidate batches: %w", err)
	}

	out := ReceiveOutput{CommandBatches: make([]ReceiveBatchOutput, 0, len(batches))}
	for _, b := range batches {
		cmd, ok := currentCommand(b)
		if !ok {
			continue
		}
		out.CommandBatches = append(out.CommandBatches, ReceiveBatchOutput{
			ID: b.ID,
			Commands: []ReceiveCommandOutput{{
				Index:                   cmd.Index,
				Name:                    cmd.Def.Name,
				Data:                    cmd.Def.Data,
				HeartbeatIntervalMillis: cmd.Def.HeartbeatIntervalMS,
			}},
		})
	}
	return out, nil
}

func currentCommand(b storage.Batch) (storage.Command, bool) {
	for _, c := range b.Commands {
		if c.Status != storage.CommandDone {
			return c, true
		}
	}
	return storage.Command{}, false
}

// StartCommand implements §4.4's StartCommand rules.
func (s *Service) StartCommand(ctx context.Context, in StartInput) (StartOutput, error) {
	out := StartOutput{Instruction: InstructionDiscard}

	err := s.store.MutateBatch(ctx, in.BatchID, func(b *storage.Batch) error {
		if in.CommandIndex < 0 || in.CommandIndex >= len(b.Commands) {
			return nil // discard: no such command
		}
		cmd := &b.Commands[in.CommandIndex]

		if cmd.Status == storage.CommandDone {
			return nil // discard: already done
		}
		if laterCommandStarted(b, in.CommandIndex) {
			return nil // discard: ordering violation
		}
		if !earlierCommandsDone(b, in.CommandIndex) {
			return nil // discard: not yet this command's turn
		}

		if len(cmd.Attempts) > 0 {
			last := &cmd.Attempts[len(cmd.Attempts)-1]
			if last.Phase == storage.AttemptStarted && last.Nonce == in.Nonce {
				token := last.Token
				out = StartOutput{Instruction: InstructionContinue, AttemptToken: &token}
				return nil // idempotent retry of an in-flight start
			}
		}

		if cmd.AttemptsStarted >= cmd.Def.MaxRetries+1 {
			return nil // discard: retries exhausted
		}

		token := uuid.New()
		now := nowFunc()
		started := storage.Attempt{
			Token:               token,
			Phase:               storage.AttemptStarted,
			Nonce:               in.Nonce,
			StartedAt:           now,
			LastHeartbeat:       now,
			HeartbeatIntervalMS: cmd.Def.HeartbeatIntervalMS,
		}
		if n := len(cmd.Attempts); n > 0 && cmd.Attempts[n-1].Phase == storage.AttemptAvailable {
			// A failed attempt left an Available retry attempt behind;
			// starting the command takes that attempt over.
			started.AvailableAt = cmd.Attempts[n-1].AvailableAt
			cmd.Attempts[n-1] = started
		} else {
			cmd.Attempts = append(cmd.Attempts, started)
		}
		cmd.AttemptsStarted++
		// Only now does the command have a Started attempt, so only now
		// does it become Active (invariant: Active <=> exactly one
		// Started attempt). Before this it stays Inactive even when it
		// is the earliest non-Done command.
		cmd.Status = storage.CommandActive

		out = StartOutput{Instruction: InstructionContinue, AttemptToken: &token}
		return nil
	})
	if err == storage.ErrNotFound {
		return StartOutput{Instruction: InstructionDiscard}, nil
	}
	if err != nil {
		return StartOutput{}, fmt.Errorf("start command: %w", err)
	}

	if out.Instruction == InstructionContinue {
		s.notifyProgress(ctx, in.BatchID, in.CommandIndex, "attempt_started")
	}
	if s.metrics != nil {
		s.metrics.AttemptsStarted.WithLabelValues(string(out.Instruction)).Inc()
	}
	return out, nil
}

func laterCommandStarted(b *storage.Batch, index int) bool {
	for i := index + 1; i < len(b.Commands); i++ {
		if b.Commands[i].Status != storage.CommandInactive {
			return true
		}
	}
	return false
}

// earlierCommandsDone reports whether every command before index has
// reached Done, i.e. index is the current command in the ordered
// progression regardless of whether it has been started yet.
func earlierCommandsDone(b *storage.Batch, index int) bool {
	for i := 0; i < index; i++ {
		if b.Commands[i].Status != storage.CommandDone {
			return false
		}
	}
	return true
}

// HeartbeatCommand implements §4.4's HeartbeatCommand rules.
func (s *Service) HeartbeatCommand(ctx context.Context, in HeartbeatInput) (HeartbeatOutput, error) {
	out := HeartbeatOutput{Instruction: InstructionDiscard}

	err := s.store.MutateBatch(ctx, in.BatchID, func(b *storage.Batch) error {
		cmd, idx := findActiveAttemptByToken(b, in.AttemptToken)
		if cmd == nil {
			return nil // discard: stale or unknown token
		}
		last := &cmd.Attempts[len(cmd.Attempts)-1]
		last.LastHeartbeat = nowFunc()
		last.HeartbeatCount++
		_ = idx
		out = HeartbeatOutput{Instruction: InstructionContinue}
		return nil
	})
	if err == storage.ErrNotFound {
		return HeartbeatOutput{Instruction: InstructionDiscard}, nil
	}
	if err != nil {
		return HeartbeatOutput{}, fmt.Errorf("heartbeat: %w", err)
	}
	return out, nil
}

func findActiveAttemptByToken(b *storage.Batch, token uuid.UUID) (*storage.Command, int) {
	for i := range b.Commands {
		cmd := &b.Commands[i]
		if cmd.Status != storage.CommandActive || len(cmd.Attempts) == 0 {
			continue
		}
		last := &cmd.Attempts[len(cmd.Attempts)-1]
		if last.Phase == storage.AttemptStarted && last.Token == token {
			return cmd, i
		}
	}
	return nil, -1
}

// CompleteCommand implements §4.4's CompleteCommand rules, including
// propagation to the next command and batch-level Done transitions.
func (s *Service) CompleteCommand(ctx context.Context, in CompleteInput) (CompleteOutput, error) {
	out := CompleteOutput{Instruction: InstructionDiscard}
	var (
		batchDone      bool
		batchSucceeded bool
		progressIndex  = -1
	)

	err := s.store.MutateBatch(ctx, in.BatchID, func(b *storage.Batch) error {
		cmd, idx := findActiveAttemptByToken(b, in.AttemptToken)
		if cmd == nil {
			return nil // discard: stale attempt
		}
		progressIndex = idx
		last := &cmd.Attempts[len(cmd.Attempts)-1]
		now := nowFunc()
		last.Phase = storage.AttemptDone
		last.CompleteAt = now
		last.Succeeded = in.Success
		last.Data = in.Data

		switch {
		case in.Success:
			cmd.Status = storage.CommandDone
			cmd.Succeeded = true
			out.Instruction = advanceToNext(b, idx)

		case cmd.AttemptsStarted < cmd.Def.MaxRetries+1:
			cmd.Attempts = append(cmd.Attempts, storage.Attempt{
				Token:               uuid.New(),
				Phase:               storage.AttemptAvailable,
				AvailableAt:         now,
				HeartbeatIntervalMS: cmd.Def.HeartbeatIntervalMS,
			})
			out.Instruction = InstructionSameCommand

		case cmd.Def.SuccessRequired:
			cmd.Status = storage.CommandDone
			cmd.Succeeded = false
			b.Done = true
			b.Succeeded = false
			out.Instruction = InstructionDiscard

		default:
			cmd.Status = storage.CommandDone
			cmd.Succeeded = false
			out.Instruction = advanceToNext(b, idx)
		}

		if !b.Done && allCommandsDone(b) {
			b.Done = true
			b.Succeeded = batchSucceededFrom(b)
		}
		batchDone = b.Done
		batchSucceeded = b.Succeeded
		return nil
	})
	if err == storage.ErrNotFound {
		return CompleteOutput{Instruction: InstructionDiscard}, nil
	}
	if err != nil {
		return CompleteOutput{}, fmt.Errorf("complete command: %w", err)
	}

	if progressIndex >= 0 {
		s.notifyProgress(ctx, in.BatchID, progressIndex, "attempt_completed")
	}
	if batchDone {
		s.notifyBatchComplete(ctx, in.BatchID, batchSucceeded)
	}
	return out, nil
}

// advanceToNext reports whether there is more work for the client to act
// on. The next command (if any) stays Inactive until StartCommand records
// its first attempt.
func advanceToNext(b *storage.Batch, completedIndex int) Instruction {
	if completedIndex+1 >= len(b.Commands) {
		return InstructionDiscard
	}
	return InstructionNextCommand
}

func allCommandsDone(b *storage.Batch) bool {
	for _, c := range b.Commands {
		if c.Status != storage.CommandDone {
			return false
		}
	}
	return true
}

func batchSucceededFrom(b *storage.Batch) bool {
	for _, c := range b.Commands {
		if c.Def.SuccessRequired && !c.Succeeded {
			return false
		}
	}
	return true
}

// DescribeCommands is a pure read: snapshot the batch and every command.
func (s *Service) DescribeCommands(ctx context.Context, in DescribeCommandsInput) (DescribeCommandsOutput, error) {
	b, err := s.store.GetBatch(ctx, in.BatchID)
	if err != nil {
		return DescribeCommandsOutput{}, err
	}

	out := DescribeCommandsOutput{
		Batch: BatchSnapshot{
			Status:    batchStatus(b),
			Done:      b.Done,
			Succeeded: b.Succeeded,
		},
		Commands: make([]CommandSnapshot, len(b.Commands)),
	}
	for i, c := range b.Commands {
		out.Commands[i] = CommandSnapshot{
			Index:     c.Index,
			Status:    c.Status,
			Succeeded: c.Succeeded,
			Attempts:  len(c.Attempts),
		}
	}
	return out, nil
}

func batchStatus(b storage.Batch) storage.CommandStatus {
	if b.Done {
		return storage.CommandDone
	}
	return storage.CommandActive
}

// DescribeCommand snapshots one command and its attempt history.
func (s *Service) DescribeCommand(ctx context.Context, in DescribeCommandInput) (DescribeCommandOutput, error) {
	b, err := s.store.GetBatch(ctx, in.BatchID)
	if err != nil {
		return DescribeCommandOutput{}, err
	}
	if in.CommandIndex < 0 || in.CommandIndex >= len(b.Commands) {
		return DescribeCommandOutput{}, storage.ErrNotFound
	}
	cmd := b.Commands[in.CommandIndex]

	out := DescribeCommandOutput{
		Command: CommandSnapshot{
			Index:     cmd.Index,
			Status:    cmd.Status,
			Succeeded: cmd.Succeeded,
			Attempts:  len(cmd.Attempts),
		},
		Attempts: make([]AttemptSnapshot, len(cmd.Attempts)),
	}
	for i, a := range cmd.Attempts {
		out.Attempts[i] = AttemptSnapshot{Status: a.Phase, Succeeded: a.Succeeded}
	}
	return out, nil
}

// DeleteCommands is idempotent teardown: the idempotency record is
// deliberately retained so repeated submissions of the same fingerprint
// keep deduplicating after delete.
func (s *Service) DeleteCommands(ctx context.Context, in DeleteInput) (DeleteOutput, error) {
	if err := s.store.DeleteBatch(ctx, in.BatchID); err != nil && err != storage.ErrNotFound {
		return DeleteOutput{}, fmt.Errorf("delete batch: %w", err)
	}
	return DeleteOutput{}, nil
}

func (s *Service) notifyProgress(ctx context.Context, batchID uuid.UUID, index int, event string) {
	b, err := s.store.GetBatch(ctx, batchID)
	if err != nil || index < 0 || index >= len(b.Commands) {
		return
	}
	dest := b.Commands[index].Def.ProgressNotification
	if dest == nil {
		return
	}
	s.enqueueNotification(ctx, dest, "command_progress", map[string]any{
		"batch_id": batchID, "command_index": index, "event": event,
	})
}

func (s *Service) notifyBatchComplete(ctx context.Context, batchID uuid.UUID, succeeded bool) {
	b, err := s.store.GetBatch(ctx, batchID)
	if err != nil || b.CompleteNotification == nil {
		return
	}
	s.enqueueNotification(ctx, b.CompleteNotification, "batch_complete", map[string]any{
		"batch_id": batchID, "succeeded": succeeded,
	})
}

func (s *Service) enqueueNotification(ctx context.Context, dest *storage.Notification, kind string, body map[string]any) {
	if err := s.notifier.Enqueue(ctx, NotificationEnvelope{Destination: dest, Kind: kind, Body: body}); err != nil && s.logger != nil {
		s.logger.Error("notification enqueue failed", zap.String("kind", kind), zap.Error(err))
	}
}

// SweepExpiredLeases implements the lease-expiry sweeper: for every
// attempt whose lease has lapsed, synthesize a CompleteCommand{success:
// false} using the attempt's own token (the one writer allowed to act
// without a caller-supplied token match).
func (s *Service) SweepExpiredLeases(ctx context.Context) (int, error) {
	refs, err := s.store.ExpiringAttempts(ctx, nowFunc())
	if err != nil {
		return 0, fmt.Errorf("expiring attempts: %w", err)
	}

	swept := 0
	for _, ref := range refs {
		if _, err := s.CompleteCommand(ctx, CompleteInput{BatchID: ref.BatchID, AttemptToken: ref.Token, Success: false}); err != nil {
			if s.logger != nil {
				s.logger.Warn("lease sweep failed to complete attempt", zap.String("batch_id", ref.BatchID.String()), zap.Error(err))
			}
			continue
		}
		swept++
	}
	if s.metrics != nil && swept > 0 {
		s.metrics.LeasesExpired.Add(float64(swept))
	}
	return swept, nil
}

// RunSweeper runs SweepExpiredLeases on interval until ctx is done.
// Grounded on the teacher's internal/worker/enhanced_worker.go
// performanceMonitor/systemHealthMonitor ticker-loop idiom.
func (s *Service) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := s.SweepExpiredLeases(ctx); err != nil && s.logger != nil {
				s.logger.Error("lease sweep failed", zap.Error(err))
			} else if n > 0 && s.logger != nil {
				s.logger.Info("lease sweep reclaimed attempts", zap.Int("count", n))
			}
		}
	}
}
