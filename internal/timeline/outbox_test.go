package timeline

import (
	"testing"
	"time"
)

func TestOutboxLifecycle(t *testing.T) {
	svc := newTestTimeline(t)
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	set := clock(svc, start)

	if err := svc.EnqueueCompletion("t1", "tr1", `{"messageId":"t1"}`); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	queued, err := svc.HasQueuedCompletion("t1")
	if err != nil || !queued {
		t.Fatalf("expected queued completion, got %v %v", queued, err)
	}

	due, err := svc.ListDueCompletions(10)
	if err != nil || len(due) != 1 {
		t.Fatalf("expected one due entry, got %d (%v)", len(due), err)
	}
	if due[0].Payload != `{"messageId":"t1"}` || due[0].TraceID != "tr1" {
		t.Fatalf("unexpected entry %+v", due[0])
	}

	if err := svc.MarkCompletionAttempt("t1", "status 502", start.Add(30*time.Second)); err != nil {
		t.Fatalf("attempt: %v", err)
	}
	if due, _ := svc.ListDueCompletions(10); len(due) != 0 {
		t.Fatalf("expected nothing due before backoff, got %d", len(due))
	}
	set(start.Add(31 * time.Second))
	due, _ = svc.ListDueCompletions(10)
	if len(due) != 1 || due[0].Attempts != 1 || due[0].LastError != "status 502" {
		t.Fatalf("unexpected due entry after backoff %+v", due)
	}

	if err := svc.MarkCompletionDelivered("t1"); err != nil {
		t.Fatalf("delivered: %v", err)
	}
	if queued, _ := svc.HasQueuedCompletion("t1"); queued {
		t.Fatal("expected delivered entry to leave the queue")
	}
	counts, err := svc.CountCompletions()
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if counts[OutboxDelivered] != 1 || counts[OutboxPending] != 0 {
		t.Fatalf("unexpected counts %v", counts)
	}
}

func TestEnqueueUpsertKeepsPendingAttempts(t *testing.T) {
	svc := newTestTimeline(t)
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock(svc, start)

	if err := svc.EnqueueCompletion("t1", "tr1", `{"v":1}`); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	_ = svc.MarkCompletionAttempt("t1", "status 502", start)
	_ = svc.MarkCompletionAttempt("t1", "status 502", start)
	if err := svc.EnqueueCompletion("t1", "tr2", `{"v":2}`); err != nil {
		t.Fatalf("re-enqueue: %v", err)
	}

	e, err := svc.GetCompletion("t1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if e.Status != OutboxPending || e.Payload != `{"v":2}` || e.Attempts != 2 || e.TraceID != "tr2" {
		t.Fatalf("unexpected entry after upsert %+v", e)
	}
	list, _ := svc.ListCompletions("", 10)
	if len(list) != 1 {
		t.Fatalf("expected a single row per message id, got %d", len(list))
	}
}

func TestEnqueueRevivesFailedWithFreshAttempts(t *testing.T) {
	svc := newTestTimeline(t)
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock(svc, start)

	if err := svc.EnqueueCompletion("t1", "tr1", `{"v":1}`); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	for i := 0; i < 7; i++ {
		_ = svc.MarkCompletionAttempt("t1", "status 502", start)
	}
	if err := svc.MarkCompletionFailed("t1", "gave up"); err != nil {
		t.Fatalf("failed: %v", err)
	}
	if e, _ := svc.GetCompletion("t1"); e.Attempts != 8 || e.Status != OutboxFailed {
		t.Fatalf("expected failed entry after 8 attempts, got %+v", e)
	}

	if err := svc.EnqueueCompletion("t1", "tr2", `{"v":2}`); err != nil {
		t.Fatalf("re-enqueue: %v", err)
	}
	e, err := svc.GetCompletion("t1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if e.Status != OutboxPending || e.Attempts != 0 || e.Payload != `{"v":2}` {
		t.Fatalf("expected revived entry with fresh attempts, got %+v", e)
	}
	if due, _ := svc.ListDueCompletions(10); len(due) != 1 {
		t.Fatalf("expected revived entry due, got %d", len(due))
	}
}

func TestRetryFailedCompletions(t *testing.T) {
	svc := newTestTimeline(t)
	clock(svc, time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))

	for _, id := range []string{"a", "b", "c"} {
		if err := svc.EnqueueCompletion(id, "", "{}"); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}
	_ = svc.MarkCompletionFailed("a", "x")
	_ = svc.MarkCompletionFailed("b", "x")

	failed, _ := svc.ListCompletions(OutboxFailed, 10)
	if len(failed) != 2 {
		t.Fatalf("expected 2 failed, got %d", len(failed))
	}
	n, err := svc.RetryFailedCompletions()
	if err != nil || n != 2 {
		t.Fatalf("expected 2 revived, got %d (%v)", n, err)
	}
	due, _ := svc.ListDueCompletions(10)
	if len(due) != 3 {
		t.Fatalf("expected 3 due, got %d", len(due))
	}
	for _, e := range due {
		if e.Attempts != 0 {
			t.Errorf("expected fresh attempts for %s, got %d", e.MessageID, e.Attempts)
		}
	}
}

func TestEnqueueRequiresMessageID(t *testing.T) {
	svc := newTestTimeline(t)
	if err := svc.EnqueueCompletion("", "", "{}"); err == nil {
		t.Fatal("expected error for empty message id")
	}
	if _, err := svc.GetCompletion("nope"); !IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}
