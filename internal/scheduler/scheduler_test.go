package scheduler

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type recorded struct {
	mu   sync.Mutex
	runs map[string][]string
}

func (r *recorded) UpsertScheduledJob(name, status string, _ time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.runs == nil {
		r.runs = map[string][]string{}
	}
	r.runs[name] = append(r.runs[name], status)
	return nil
}

func (r *recorded) statuses(name string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.runs[name]...)
}

func TestTickSkipsOverlappingRun(t *testing.T) {
	rec := &recorded{}
	s := New(Config{LockDir: t.TempDir()}, rec)

	release := make(chan struct{})
	var runs atomic.Int32
	s.Register(&Job{Name: "poll", Interval: time.Hour, Run: func(ctx context.Context) error {
		runs.Add(1)
		<-release
		return nil
	}})
	e := s.jobs["poll"]
	ctx := context.Background()

	if !s.tick(ctx, e, time.Now()) {
		t.Fatal("expected first tick to start a run")
	}
	if s.tick(ctx, e, time.Now()) {
		t.Fatal("expected overlapping tick to be skipped")
	}
	close(release)
	s.wg.Wait()

	if runs.Load() != 1 {
		t.Fatalf("expected one run, got %d", runs.Load())
	}
	got := rec.statuses("poll")
	if len(got) != 2 || got[0] != StatusSkippedOverlap || got[1] != StatusOK {
		t.Fatalf("unexpected recorded statuses %v", got)
	}

	if !s.tick(ctx, e, time.Now()) {
		t.Fatal("expected tick after completion to run")
	}
	s.wg.Wait()
}

func TestRunFiresOnIntervalAndStops(t *testing.T) {
	s := New(Config{}, nil)
	var runs atomic.Int32
	s.Register(&Job{Name: "poll", Interval: 10 * time.Millisecond, Run: func(ctx context.Context) error {
		runs.Add(1)
		return nil
	}})

	ctx, cancel := context.WithTimeout(context.Background(), 80*time.Millisecond)
	defer cancel()
	if err := s.Run(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("unexpected run error %v", err)
	}
	if runs.Load() < 2 {
		t.Fatalf("expected several runs, got %d", runs.Load())
	}
}

func TestRunWaitsForInFlightJobWithCancelledContext(t *testing.T) {
	s := New(Config{}, nil)
	sawCancel := make(chan bool, 1)
	s.Register(&Job{Name: "slow", Interval: 5 * time.Millisecond, Run: func(ctx context.Context) error {
		<-ctx.Done()
		select {
		case sawCancel <- true:
		default:
		}
		return ctx.Err()
	}})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_ = s.Run(ctx)

	select {
	case <-sawCancel:
	default:
		t.Fatal("expected the in-flight run to observe cancellation before Run returned")
	}
}

func TestRunOnce(t *testing.T) {
	rec := &recorded{}
	s := New(Config{LockDir: t.TempDir()}, rec)
	boom := errors.New("boom")
	s.Register(&Job{Name: "poll", Run: func(ctx context.Context) error { return boom }})

	if err := s.RunOnce(context.Background(), "poll"); !errors.Is(err, boom) {
		t.Fatalf("expected job error, got %v", err)
	}
	if got := rec.statuses("poll"); len(got) != 1 || got[0] != StatusError {
		t.Fatalf("unexpected statuses %v", got)
	}
	if err := s.RunOnce(context.Background(), "missing"); err == nil {
		t.Fatal("expected unknown job error")
	}
}

func TestFileLockExcludesSecondHolder(t *testing.T) {
	dir := t.TempDir()
	rec := &recorded{}
	s := New(Config{LockDir: dir}, rec)
	var runs atomic.Int32
	s.Register(&Job{Name: "poll", Run: func(ctx context.Context) error {
		runs.Add(1)
		return nil
	}})

	other := NewFileLock(filepath.Join(dir, "poll.lock"))
	ok, err := other.TryLock()
	if err != nil || !ok {
		t.Fatalf("expected to take the lock first: %v %v", ok, err)
	}
	if pid, since, ok := LockInfo(other.Path()); !ok || pid != os.Getpid() || since.IsZero() {
		t.Errorf("expected owner record, got pid=%d since=%v ok=%v", pid, since, ok)
	}

	if err := s.RunOnce(context.Background(), "poll"); err == nil {
		t.Fatal("expected locked error")
	}
	if runs.Load() != 0 {
		t.Fatal("job must not run while another holder owns the lock")
	}
	if got := rec.statuses("poll"); len(got) != 1 || got[0] != StatusSkippedLocked {
		t.Fatalf("unexpected statuses %v", got)
	}

	if err := other.Unlock(); err != nil {
		t.Fatalf("unlock: %v", err)
	}
	if LockOwner(other.Path()) != 0 {
		t.Error("expected owner cleared after unlock")
	}
	if err := s.RunOnce(context.Background(), "poll"); err != nil {
		t.Fatalf("expected run after unlock, got %v", err)
	}
}

func TestGateSingleFlight(t *testing.T) {
	g := newGate()
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	if g.busyFor(start) != 0 {
		t.Fatal("expected idle gate")
	}
	if !g.tryEnter(start) {
		t.Fatal("expected to enter")
	}
	if g.tryEnter(start) {
		t.Fatal("expected second entry to be refused")
	}
	if got := g.busyFor(start.Add(3 * time.Second)); got != 3*time.Second {
		t.Fatalf("expected 3s busy, got %v", got)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()
	if err := g.enter(ctx, time.Now); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline, got %v", err)
	}
	g.leave()
	if g.busyFor(start) != 0 {
		t.Fatal("expected idle after leave")
	}
	if err := g.enter(context.Background(), time.Now); err != nil {
		t.Fatalf("expected entry after leave: %v", err)
	}
}
