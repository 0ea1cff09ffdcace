package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/codephyt/vaultrelay/internal/media"
	"github.com/codephyt/vaultrelay/internal/remote"
	"github.com/codephyt/vaultrelay/internal/stream"
	"github.com/codephyt/vaultrelay/internal/timeline"
	"github.com/codephyt/vaultrelay/internal/vault"
)

// Stages recorded for vault tasks and direct messages.
const (
	StageFetched      = "fetched"
	StageSkipped      = "skipped"
	StageRejected     = "rejected"
	StageRouted       = "routed"
	StageDegraded     = "degraded"
	StageReplied      = "replied"
	StageAcknowledged = "acknowledged"
	StageFailed       = "failed"
	StageReceived     = "received"
	StageIgnored      = "ignored"
	StageSent         = "sent"
)

// ErrPaused is returned by Poll while polling is paused.
var ErrPaused = errors.New("relay: polling paused")

var errEmptyReply = errors.New("orchestrator returned an empty reply")

// PollCycle summarises one poll of the vault.
type PollCycle struct {
	ID           string    `json:"id"`
	StartedAt    time.Time `json:"started_at"`
	FinishedAt   time.Time `json:"finished_at"`
	Fetched      int       `json:"fetched"`
	Skipped      int       `json:"skipped"`
	Rejected     int       `json:"rejected"`
	Replied      int       `json:"replied"`
	Degraded     int       `json:"degraded"`
	Acknowledged int       `json:"acknowledged"`
	Queued       int       `json:"queued"`
	Flushed      int       `json:"flushed"`
	Err          error     `json:"-"`
	Error        string    `json:"error,omitempty"`
}

// Poll is the scheduled form of RunCycle. It honours the paused setting
// and reports the cycle's fetch error, if any.
func (e *Engine) Poll(ctx context.Context) error {
	if e.deps.Ledger != nil && e.deps.Ledger.IsPaused() {
		slog.Info("Polling paused, skipping cycle")
		e.deps.Metrics.Cycle("paused")
		return ErrPaused
	}
	return e.RunCycle(ctx).Err
}

// RunCycle flushes due outbox entries, fetches pending tasks and processes
// them one at a time in vault order. A fetch failure ends the cycle with no
// vault update. Listed items that cannot be read as tasks are counted as
// rejected and left pending; the rest of the listing is still processed.
// Tasks whose completion the flush just delivered are not routed again. Tasks left unprocessed by cancellation stay pending in the
// vault and are picked up by a later cycle.
func (e *Engine) RunCycle(ctx context.Context) *PollCycle {
	cycle := &PollCycle{ID: uuid.NewString(), StartedAt: e.now()}
	defer e.finishCycle(ctx, cycle)

	flushed, _ := e.flushOutbox(ctx)
	cycle.Flushed = len(flushed)

	start := time.Now()
	listing, err := e.deps.Vault.FetchPending(ctx)
	e.deps.Metrics.ObserveRemote("vault", start)
	if err != nil {
		cycle.Err = err
		slog.Error("Vault fetch failed", "cycle", cycle.ID, "kind", remote.Kind(err), "error", err)
		return cycle
	}
	tasks := listing.Tasks
	cycle.Fetched = len(tasks)
	cycle.Rejected = len(listing.Rejected)
	if len(tasks) > 0 {
		slog.Info("Vault tasks fetched", "cycle", cycle.ID, "count", len(tasks))
	}
	for _, rerr := range listing.Rejected {
		e.deps.Metrics.Task("rejected")
		e.record(ctx, stageEvent{
			path:   timeline.PathPoll,
			stage:  StageRejected,
			detail: rerr.Error(),
		})
	}

	acked := make(map[string]bool, len(tasks)+len(flushed))
	for _, id := range flushed {
		acked[id] = true
	}
	for _, task := range tasks {
		if err := ctx.Err(); err != nil {
			cycle.Err = err
			return cycle
		}
		if acked[task.MessageID] {
			cycle.Skipped++
			continue
		}
		if e.queued(task.MessageID) {
			cycle.Skipped++
			e.record(ctx, stageEvent{
				messageID: task.MessageID,
				sender:    task.Identifier,
				path:      timeline.PathPoll,
				stage:     StageSkipped,
				detail:    "completion queued in outbox",
			})
			continue
		}
		e.processTask(ctx, cycle, task, acked)
	}
	return cycle
}

func (e *Engine) queued(messageID string) bool {
	if e.deps.Ledger == nil {
		return false
	}
	ok, err := e.deps.Ledger.HasQueuedCompletion(messageID)
	if err != nil {
		slog.Warn("Outbox lookup failed", "message_id", messageID, "error", err)
		return false
	}
	return ok
}

func (e *Engine) processTask(ctx context.Context, cycle *PollCycle, task vault.Task, acked map[string]bool) {
	traceID := uuid.NewString()
	base := stageEvent{
		traceID:   traceID,
		messageID: task.MessageID,
		sender:    task.Identifier,
		path:      timeline.PathPoll,
	}
	ev := base
	ev.stage, ev.content = StageFetched, task.Text
	e.record(ctx, ev)

	comp := vault.Completion{MessageID: task.MessageID}
	reply, err := e.route(ctx, task.Text, task.Identifier)
	if err == nil && strings.TrimSpace(reply.Content) == "" {
		err = errEmptyReply
	}
	if err != nil {
		slog.Warn("Routing failed, sending degraded reply",
			"message_id", task.MessageID, "trace", traceID, "kind", remote.Kind(err), "error", err)
		comp.ReplyContent = e.degradedVault
		cycle.Degraded++
		e.deps.Metrics.Task("degraded")
		ev = base
		ev.stage, ev.detail = StageDegraded, err.Error()
		e.record(ctx, ev)
	} else {
		ev = base
		ev.stage = StageRouted
		e.record(ctx, ev)

		comp.ReplyContent = reply.Content
		approval := reply.RequiresApproval
		comp.RequiresApproval = &approval
		detail := ""
		if att := reply.Attachment; att != nil && media.Present(att.Name, att.Base64) {
			if _, err := media.BuildAttachment(att.Name, att.Base64, reply.Content); err != nil {
				slog.Warn("Dropping invalid attachment", "message_id", task.MessageID, "trace", traceID, "error", err)
				detail = "attachment dropped: " + err.Error()
			} else {
				comp.MediaName = att.Name
				comp.MediaBase64 = att.Base64
				detail = "attachment " + att.Name
			}
		}
		cycle.Replied++
		e.deps.Metrics.Task("replied")
		ev = base
		ev.stage, ev.content, ev.detail = StageReplied, reply.Content, detail
		e.record(ctx, ev)
	}

	start := time.Now()
	ack, err := e.deps.Vault.PostCompletion(ctx, comp)
	e.deps.Metrics.ObserveRemote("vault", start)
	if err != nil {
		slog.Error("Vault update failed", "message_id", task.MessageID, "trace", traceID, "kind", remote.Kind(err), "error", err)
		ev = base
		ev.stage, ev.detail = StageFailed, err.Error()
		e.record(ctx, ev)
		if e.enqueue(comp, traceID, err) {
			cycle.Queued++
			e.deps.Metrics.Task("queued")
		} else {
			e.deps.Metrics.Task("failed")
		}
		return
	}

	acked[task.MessageID] = true
	cycle.Acknowledged++
	ev = base
	ev.stage, ev.detail = StageAcknowledged, fmt.Sprintf("status %d %s", ack.StatusCode, ack.Status)
	e.record(ctx, ev)
	slog.Info("Task acknowledged", "message_id", task.MessageID, "trace", traceID, "status", ack.StatusCode)
}

// enqueue stores a completion the vault did not accept.
func (e *Engine) enqueue(comp vault.Completion, traceID string, cause error) bool {
	if e.deps.Ledger == nil {
		return false
	}
	payload, err := json.Marshal(comp)
	if err != nil {
		slog.Error("Encode completion failed", "message_id", comp.MessageID, "error", err)
		return false
	}
	if err := e.deps.Ledger.EnqueueCompletion(comp.MessageID, traceID, string(payload)); err != nil {
		slog.Error("Outbox enqueue failed", "message_id", comp.MessageID, "error", err, "cause", cause)
		return false
	}
	slog.Info("Completion queued for retry", "message_id", comp.MessageID, "trace", traceID)
	return true
}

func (e *Engine) finishCycle(ctx context.Context, c *PollCycle) {
	c.FinishedAt = e.now()
	result := remote.Kind(c.Err)
	if c.Err != nil {
		c.Error = c.Err.Error()
		if errors.Is(c.Err, context.Canceled) || errors.Is(c.Err, context.DeadlineExceeded) {
			result = "cancelled"
		}
	}
	e.deps.Metrics.Cycle(result)
	e.refreshOutboxGauge()
	e.setLast(c)

	if c.Fetched > 0 || c.Err != nil || c.Flushed > 0 || c.Rejected > 0 {
		slog.Info("Poll cycle finished",
			"cycle", c.ID,
			"result", result,
			"fetched", c.Fetched,
			"acknowledged", c.Acknowledged,
			"degraded", c.Degraded,
			"queued", c.Queued,
			"skipped", c.Skipped,
			"rejected", c.Rejected,
			"flushed", c.Flushed,
			"duration", c.FinishedAt.Sub(c.StartedAt))
	}
	pubCtx := ctx
	if ctx.Err() != nil {
		pubCtx = context.WithoutCancel(ctx)
	}
	err := e.deps.Publisher.Publish(pubCtx, stream.Event{
		Type:    stream.TypeCycle,
		TraceID: c.ID,
		Path:    timeline.PathPoll,
		Stage:   result,
		Detail: fmt.Sprintf("fetched=%d acknowledged=%d degraded=%d queued=%d rejected=%d",
			c.Fetched, c.Acknowledged, c.Degraded, c.Queued, c.Rejected),
		At: c.FinishedAt,
	})
	if err != nil {
		slog.Debug("Cycle event not published", "error", err)
	}
}
