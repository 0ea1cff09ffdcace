// Package timeline is the relay's local SQLite ledger: the stage log, the
// durable completion outbox, scheduler run records and runtime settings.
package timeline

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

type TimelineService struct {
	db  *sql.DB
	now func() time.Time
}

func NewTimelineService(dbPath string) (*TimelineService, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o700); err != nil {
		return nil, fmt.Errorf("failed to create ledger dir: %w", err)
	}
	db, err := sql.Open("sqlite", "file:"+dbPath+"?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger db: %w", err)
	}

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	return &TimelineService{db: db, now: time.Now}, nil
}

// DB returns the underlying *sql.DB.
func (s *TimelineService) DB() *sql.DB { return s.db }

func (s *TimelineService) Close() error {
	return s.db.Close()
}

func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

func (s *TimelineService) AddEvent(evt *Event) error {
	if evt.CreatedAt.IsZero() {
		evt.CreatedAt = s.now()
	}
	res, err := s.db.Exec(`
	INSERT INTO events (trace_id, message_id, path, stage, sender, content, detail, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		evt.TraceID,
		evt.MessageID,
		evt.Path,
		evt.Stage,
		evt.Sender,
		evt.Content,
		evt.Detail,
		toMillis(evt.CreatedAt),
	)
	if err != nil {
		return err
	}
	if id, err := res.LastInsertId(); err == nil {
		evt.ID = id
	}
	return nil
}

// GetEvents returns events newest first.
func (s *TimelineService) GetEvents(filter FilterArgs) ([]Event, error) {
	query := `SELECT id, trace_id, message_id, path, stage, sender, content, detail, created_at FROM events WHERE 1=1`
	args := []any{}

	if filter.TraceID != "" {
		query += " AND trace_id = ?"
		args = append(args, filter.TraceID)
	}
	if filter.MessageID != "" {
		query += " AND message_id = ?"
		args = append(args, filter.MessageID)
	}
	if filter.Path != "" {
		query += " AND path = ?"
		args = append(args, filter.Path)
	}
	if filter.Stage != "" {
		query += " AND stage = ?"
		args = append(args, filter.Stage)
	}
	if filter.Since != nil {
		query += " AND created_at >= ?"
		args = append(args, toMillis(*filter.Since))
	}

	query += " ORDER BY created_at DESC, id DESC"

	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	} else if filter.Offset > 0 {
		query += " LIMIT -1"
	}
	if filter.Offset > 0 {
		query += " OFFSET ?"
		args = append(args, filter.Offset)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		var created int64
		if err := rows.Scan(&e.ID, &e.TraceID, &e.MessageID, &e.Path, &e.Stage, &e.Sender, &e.Content, &e.Detail, &created); err != nil {
			return nil, err
		}
		e.CreatedAt = fromMillis(created)
		events = append(events, e)
	}
	return events, rows.Err()
}

// GetSetting returns a setting value by key.
func (s *TimelineService) GetSetting(key string) (string, error) {
	var val string
	err := s.db.QueryRow("SELECT value FROM settings WHERE key = ?", key).Scan(&val)
	if err != nil {
		return "", err
	}
	return val, nil
}

// SetSetting persists a setting value.
func (s *TimelineService) SetSetting(key, value string) error {
	_, err := s.db.Exec(`
		INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, key, value, toMillis(s.now()))
	return err
}

// IsPaused reports whether polling has been paused. A missing setting means
// the relay is running.
func (s *TimelineService) IsPaused() bool {
	val, err := s.GetSetting(SettingPaused)
	if err != nil {
		return false
	}
	return val == "true"
}

// SetPaused toggles the paused setting.
func (s *TimelineService) SetPaused(paused bool) error {
	v := "false"
	if paused {
		v = "true"
	}
	return s.SetSetting(SettingPaused, v)
}

// --- Scheduled Jobs ---

// UpsertScheduledJob inserts or updates a scheduled job run record.
func (s *TimelineService) UpsertScheduledJob(jobName, status string, runAt time.Time) error {
	_, err := s.db.Exec(`INSERT INTO scheduled_jobs (job_name, last_status, last_run_at, run_count, updated_at)
		VALUES (?, ?, ?, 1, ?)
		ON CONFLICT(job_name) DO UPDATE SET
			last_status = excluded.last_status,
			last_run_at = excluded.last_run_at,
			run_count = scheduled_jobs.run_count + 1,
			updated_at = excluded.updated_at`,
		jobName, status, toMillis(runAt), toMillis(s.now()))
	return err
}

// GetScheduledJob returns a scheduled job record by name.
func (s *TimelineService) GetScheduledJob(jobName string) (*ScheduledJobRecord, error) {
	var r ScheduledJobRecord
	var lastRun, updated int64
	err := s.db.QueryRow(`SELECT id, job_name, last_status, last_run_at, run_count, updated_at
		FROM scheduled_jobs WHERE job_name = ?`, jobName).
		Scan(&r.ID, &r.JobName, &r.LastStatus, &lastRun, &r.RunCount, &updated)
	if err != nil {
		return nil, err
	}
	r.LastRunAt = fromMillis(lastRun)
	r.UpdatedAt = fromMillis(updated)
	return &r, nil
}

// ListScheduledJobs returns all scheduled job records.
func (s *TimelineService) ListScheduledJobs() ([]ScheduledJobRecord, error) {
	rows, err := s.db.Query(`SELECT id, job_name, last_status, last_run_at, run_count, updated_at
		FROM scheduled_jobs ORDER BY job_name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ScheduledJobRecord
	for rows.Next() {
		var r ScheduledJobRecord
		var lastRun, updated int64
		if err := rows.Scan(&r.ID, &r.JobName, &r.LastStatus, &lastRun, &r.RunCount, &updated); err != nil {
			return nil, err
		}
		r.LastRunAt = fromMillis(lastRun)
		r.UpdatedAt = fromMillis(updated)
		out = append(out, r)
	}
	return out, rows.Err()
}

// IsNotFound reports whether err means a missing row.
func IsNotFound(err error) bool { return errors.Is(err, sql.ErrNoRows) }
