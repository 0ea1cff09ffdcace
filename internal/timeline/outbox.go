package timeline

import (
	"database/sql"
	"fmt"
	"time"
)

const outboxColumns = `id, message_id, trace_id, payload, status, attempts, last_error, next_at, created_at, updated_at`

// EnqueueCompletion stores a completion for later delivery, due at once.
// Enqueuing the same message id again replaces the payload. A pending entry
// keeps its attempt count; a failed one is revived with a fresh count.
func (s *TimelineService) EnqueueCompletion(messageID, traceID, payload string) error {
	if messageID == "" {
		return fmt.Errorf("enqueue completion: message id is required")
	}
	now := toMillis(s.now())
	_, err := s.db.Exec(`INSERT INTO outbox (message_id, trace_id, payload, status, attempts, next_at, created_at, updated_at)
		VALUES (?, ?, ?, 'pending', 0, ?, ?, ?)
		ON CONFLICT(message_id) DO UPDATE SET
			trace_id = excluded.trace_id,
			payload = excluded.payload,
			attempts = CASE WHEN outbox.status = 'failed' THEN 0 ELSE outbox.attempts END,
			status = 'pending',
			next_at = excluded.next_at,
			updated_at = excluded.updated_at`,
		messageID, traceID, payload, now, now, now)
	return err
}

// ListDueCompletions returns pending entries whose next attempt is due,
// oldest first.
func (s *TimelineService) ListDueCompletions(limit int) ([]OutboxEntry, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(`SELECT `+outboxColumns+` FROM outbox
		WHERE status = 'pending' AND next_at <= ?
		ORDER BY next_at ASC, id ASC
		LIMIT ?`, toMillis(s.now()), limit)
	if err != nil {
		return nil, fmt.Errorf("list due completions: %w", err)
	}
	defer rows.Close()
	return scanOutbox(rows)
}

// ListCompletions returns entries filtered by an optional status, newest first.
func (s *TimelineService) ListCompletions(status string, limit int) ([]OutboxEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT ` + outboxColumns + ` FROM outbox WHERE 1=1`
	args := []any{}
	if status != "" {
		query += " AND status = ?"
		args = append(args, status)
	}
	query += " ORDER BY updated_at DESC, id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list completions: %w", err)
	}
	defer rows.Close()
	return scanOutbox(rows)
}

// GetCompletion returns the entry for a message id.
func (s *TimelineService) GetCompletion(messageID string) (*OutboxEntry, error) {
	rows, err := s.db.Query(`SELECT `+outboxColumns+` FROM outbox WHERE message_id = ?`, messageID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out, err := scanOutbox(rows)
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, sql.ErrNoRows
	}
	return &out[0], nil
}

// HasQueuedCompletion reports whether a pending entry exists for messageID.
func (s *TimelineService) HasQueuedCompletion(messageID string) (bool, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM outbox WHERE message_id = ? AND status = 'pending'`, messageID).Scan(&n)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// MarkCompletionDelivered closes an entry after a successful post.
func (s *TimelineService) MarkCompletionDelivered(messageID string) error {
	_, err := s.db.Exec(`UPDATE outbox SET status = 'delivered', last_error = '', updated_at = ? WHERE message_id = ?`,
		toMillis(s.now()), messageID)
	return err
}

// MarkCompletionAttempt records a failed attempt and reschedules the entry.
func (s *TimelineService) MarkCompletionAttempt(messageID, lastError string, nextAt time.Time) error {
	_, err := s.db.Exec(`UPDATE outbox SET attempts = attempts + 1, last_error = ?, next_at = ?, updated_at = ? WHERE message_id = ?`,
		lastError, toMillis(nextAt), toMillis(s.now()), messageID)
	return err
}

// MarkCompletionFailed gives up on an entry.
func (s *TimelineService) MarkCompletionFailed(messageID, lastError string) error {
	_, err := s.db.Exec(`UPDATE outbox SET status = 'failed', attempts = attempts + 1, last_error = ?, updated_at = ? WHERE message_id = ?`,
		lastError, toMillis(s.now()), messageID)
	return err
}

// RetryFailedCompletions moves every failed entry back to pending, due now,
// with a fresh attempt count. It returns how many entries were revived.
func (s *TimelineService) RetryFailedCompletions() (int64, error) {
	now := toMillis(s.now())
	res, err := s.db.Exec(`UPDATE outbox SET status = 'pending', attempts = 0, next_at = ?, updated_at = ? WHERE status = 'failed'`, now, now)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// CountCompletions returns the number of entries per status.
func (s *TimelineService) CountCompletions() (map[string]int, error) {
	rows, err := s.db.Query(`SELECT status, COUNT(*) FROM outbox GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := map[string]int{OutboxPending: 0, OutboxDelivered: 0, OutboxFailed: 0}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

func scanOutbox(rows *sql.Rows) ([]OutboxEntry, error) {
	var out []OutboxEntry
	for rows.Next() {
		var e OutboxEntry
		var nextAt, created, updated int64
		if err := rows.Scan(&e.ID, &e.MessageID, &e.TraceID, &e.Payload, &e.Status, &e.Attempts,
			&e.LastError, &nextAt, &created, &updated); err != nil {
			return nil, err
		}
		e.NextAt = fromMillis(nextAt)
		e.CreatedAt = fromMillis(created)
		e.UpdatedAt = fromMillis(updated)
		out = append(out, e)
	}
	return out, rows.Err()
}
