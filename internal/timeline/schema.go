package timeline

import "time"

// Schema creates the ledger tables. Times are stored as unix milliseconds.
const Schema = `
CREATE TABLE IF NOT EXISTS events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	trace_id TEXT NOT NULL DEFAULT '',
	message_id TEXT NOT NULL DEFAULT '',
	path TEXT NOT NULL,
	stage TEXT NOT NULL,
	sender TEXT NOT NULL DEFAULT '',
	content TEXT NOT NULL DEFAULT '',
	detail TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_events_trace ON events(trace_id);
CREATE INDEX IF NOT EXISTS idx_events_message ON events(message_id);
CREATE INDEX IF NOT EXISTS idx_events_created ON events(created_at);

CREATE TABLE IF NOT EXISTS outbox (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	message_id TEXT UNIQUE NOT NULL,
	trace_id TEXT NOT NULL DEFAULT '',
	payload TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'pending',
	attempts INTEGER NOT NULL DEFAULT 0,
	last_error TEXT NOT NULL DEFAULT '',
	next_at INTEGER NOT NULL,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_outbox_due ON outbox(status, next_at);

CREATE TABLE IF NOT EXISTS scheduled_jobs (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	job_name TEXT UNIQUE NOT NULL,
	last_status TEXT NOT NULL DEFAULT '',
	last_run_at INTEGER NOT NULL DEFAULT 0,
	run_count INTEGER NOT NULL DEFAULT 0,
	updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS settings (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL,
	updated_at INTEGER NOT NULL
);
`

// Paths an event can belong to.
const (
	PathPoll   = "poll"
	PathDirect = "direct"
)

// Outbox entry states.
const (
	OutboxPending   = "pending"
	OutboxDelivered = "delivered"
	OutboxFailed    = "failed"
)

// SettingPaused holds "true" while polling is paused.
const SettingPaused = "relay_paused"

// Event is one recorded stage of a task or direct exchange.
type Event struct {
	ID        int64     `json:"id"`
	TraceID   string    `json:"trace_id"`
	MessageID string    `json:"message_id,omitempty"`
	Path      string    `json:"path"`
	Stage     string    `json:"stage"`
	Sender    string    `json:"sender,omitempty"`
	Content   string    `json:"content,omitempty"`
	Detail    string    `json:"detail,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// FilterArgs narrows GetEvents. Zero values mean no filter.
type FilterArgs struct {
	TraceID   string
	MessageID string
	Path      string
	Stage     string
	Since     *time.Time
	Limit     int
	Offset    int
}

// OutboxEntry is a vault completion waiting to be (re)posted. Payload is
// the JSON body as it will be sent.
type OutboxEntry struct {
	ID        int64     `json:"id"`
	MessageID string    `json:"message_id"`
	TraceID   string    `json:"trace_id,omitempty"`
	Payload   string    `json:"payload"`
	Status    string    `json:"status"`
	Attempts  int       `json:"attempts"`
	LastError string    `json:"last_error,omitempty"`
	NextAt    time.Time `json:"next_at"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ScheduledJobRecord represents persisted scheduler job state.
type ScheduledJobRecord struct {
	ID         int64     `json:"id"`
	JobName    string    `json:"job_name"`
	LastStatus string    `json:"last_status"`
	LastRunAt  time.Time `json:"last_run_at"`
	RunCount   int       `json:"run_count"`
	UpdatedAt  time.Time `json:"updated_at"`
}
