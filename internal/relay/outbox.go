package relay

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/codephyt/vaultrelay/internal/remote"
	"github.com/codephyt/vaultrelay/internal/timeline"
	"github.com/codephyt/vaultrelay/internal/vault"
)

const (
	outboxBaseDelay = 30 * time.Second
	outboxMaxDelay  = 5 * time.Minute
)

// OutboxBackoff is the wait after the given number of failed attempts:
// 30s doubling per attempt, capped at 5 minutes.
func OutboxBackoff(attempts int) time.Duration {
	if attempts < 0 {
		attempts = 0
	}
	if attempts > 10 {
		return outboxMaxDelay
	}
	d := outboxBaseDelay << attempts
	if d > outboxMaxDelay {
		d = outboxMaxDelay
	}
	return d
}

// FlushOutbox re-posts due completions. Entries that keep failing are
// rescheduled with OutboxBackoff until the attempt limit marks them failed.
func (e *Engine) FlushOutbox(ctx context.Context) (delivered, failed int) {
	ids, failed := e.flushOutbox(ctx)
	return len(ids), failed
}

// flushOutbox returns the message ids it delivered.
func (e *Engine) flushOutbox(ctx context.Context) (delivered []string, failed int) {
	if e.deps.Ledger == nil {
		return nil, 0
	}
	entries, err := e.deps.Ledger.ListDueCompletions(e.batchSize)
	if err != nil {
		slog.Warn("Outbox list failed", "error", err)
		return nil, 0
	}

	for _, entry := range entries {
		if ctx.Err() != nil {
			break
		}
		var comp vault.Completion
		if err := json.Unmarshal([]byte(entry.Payload), &comp); err != nil {
			slog.Error("Outbox entry unreadable", "message_id", entry.MessageID, "error", err)
			_ = e.deps.Ledger.MarkCompletionFailed(entry.MessageID, "decode payload: "+err.Error())
			failed++
			continue
		}

		start := time.Now()
		ack, err := e.deps.Vault.PostCompletion(ctx, comp)
		e.deps.Metrics.ObserveRemote("vault", start)
		if err == nil {
			if mErr := e.deps.Ledger.MarkCompletionDelivered(entry.MessageID); mErr != nil {
				slog.Warn("Outbox mark delivered failed", "message_id", entry.MessageID, "error", mErr)
			}
			delivered = append(delivered, entry.MessageID)
			e.deps.Metrics.Task("flushed")
			e.record(ctx, stageEvent{
				traceID:   entry.TraceID,
				messageID: entry.MessageID,
				path:      timeline.PathPoll,
				stage:     StageAcknowledged,
				detail:    "outbox retry, status " + ack.Status,
			})
			slog.Info("Queued completion delivered", "message_id", entry.MessageID, "attempts", entry.Attempts+1)
			continue
		}

		if entry.Attempts+1 >= e.maxAttempts {
			if mErr := e.deps.Ledger.MarkCompletionFailed(entry.MessageID, err.Error()); mErr != nil {
				slog.Warn("Outbox mark failed failed", "message_id", entry.MessageID, "error", mErr)
			}
			failed++
			e.record(ctx, stageEvent{
				traceID:   entry.TraceID,
				messageID: entry.MessageID,
				path:      timeline.PathPoll,
				stage:     StageFailed,
				detail:    "outbox gave up: " + err.Error(),
			})
			slog.Error("Giving up on queued completion",
				"message_id", entry.MessageID, "attempts", entry.Attempts+1, "kind", remote.Kind(err), "error", err)
			continue
		}
		next := e.now().Add(OutboxBackoff(entry.Attempts))
		if mErr := e.deps.Ledger.MarkCompletionAttempt(entry.MessageID, err.Error(), next); mErr != nil {
			slog.Warn("Outbox reschedule failed", "message_id", entry.MessageID, "error", mErr)
		}
		slog.Warn("Queued completion still failing",
			"message_id", entry.MessageID, "attempts", entry.Attempts+1, "next", next, "error", err)
	}
	if len(delivered) > 0 || failed > 0 {
		e.refreshOutboxGauge()
	}
	return delivered, failed
}

func (e *Engine) refreshOutboxGauge() {
	if e.deps.Ledger == nil || e.deps.Metrics == nil {
		return
	}
	counts, err := e.deps.Ledger.CountCompletions()
	if err != nil {
		return
	}
	e.deps.Metrics.SetOutboxPending(counts[timeline.OutboxPending])
}
