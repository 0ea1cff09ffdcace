// Package api serves the relay's local status endpoints.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/codephyt/vaultrelay/internal/metrics"
	"github.com/codephyt/vaultrelay/internal/relay"
	"github.com/codephyt/vaultrelay/internal/timeline"
)

// CycleSource reports the last poll cycle.
type CycleSource interface {
	LastCycle() *relay.PollCycle
}

// Ledger is the read side of the timeline used by the status endpoints.
type Ledger interface {
	IsPaused() bool
	CountCompletions() (map[string]int, error)
	GetEvents(filter timeline.FilterArgs) ([]timeline.Event, error)
}

// Queues reports the message bus backlog.
type Queues interface {
	Running() bool
	InboundSize() int
	OutboundSize() int
}

// Deps are the status server's sources. Any of them may be nil.
type Deps struct {
	Engine    CycleSource
	Ledger    Ledger
	Bus       Queues
	Metrics   *metrics.Metrics
	Transport string
	Version   string
}

// StatusResponse is the body of GET /status.
type StatusResponse struct {
	Version   string            `json:"version"`
	Transport string            `json:"transport"`
	Paused    bool              `json:"paused"`
	StartedAt string            `json:"started_at"`
	Uptime    string            `json:"uptime"`
	LastCycle *relay.PollCycle  `json:"last_cycle,omitempty"`
	Outbox    map[string]int    `json:"outbox,omitempty"`
	Bus       *BusStatus        `json:"bus,omitempty"`
	Checks    map[string]string `json:"checks,omitempty"`
}

// BusStatus is the direct path backlog.
type BusStatus struct {
	Dispatching bool `json:"dispatching"`
	Inbound     int  `json:"inbound"`
	Outbound    int  `json:"outbound"`
}

type handler struct {
	deps    Deps
	started time.Time
}

// NewRouter creates and configures the HTTP router.
func NewRouter(deps Deps) *chi.Mux {
	h := &handler{deps: deps, started: time.Now()}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)

	if deps.Metrics != nil {
		r.Handle("/metrics", deps.Metrics.Handler())
	}
	r.Get("/healthz", h.health)
	r.Get("/status", h.status)
	r.Get("/events", h.events)
	return r
}

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handler) status(w http.ResponseWriter, r *http.Request) {
	resp := StatusResponse{
		Version:   h.deps.Version,
		Transport: h.deps.Transport,
		StartedAt: h.started.UTC().Format(time.RFC3339),
		Uptime:    time.Since(h.started).Round(time.Second).String(),
		Checks:    map[string]string{},
	}
	if h.deps.Engine != nil {
		resp.LastCycle = h.deps.Engine.LastCycle()
	}
	if h.deps.Ledger != nil {
		resp.Paused = h.deps.Ledger.IsPaused()
		counts, err := h.deps.Ledger.CountCompletions()
		if err != nil {
			resp.Checks["ledger"] = "fail"
		} else {
			resp.Outbox = counts
			resp.Checks["ledger"] = "pass"
		}
	}
	if q := h.deps.Bus; q != nil {
		resp.Bus = &BusStatus{Dispatching: q.Running(), Inbound: q.InboundSize(), Outbound: q.OutboundSize()}
	}
	if resp.LastCycle != nil && resp.LastCycle.Err != nil {
		resp.Checks["vault"] = "fail"
	} else if resp.LastCycle != nil {
		resp.Checks["vault"] = "pass"
	}
	writeJSON(w, http.StatusOK, resp)
}

// events lists recent ledger events, newest first. Query parameters:
// trace, message, path, stage, limit (default 50, max 500).
func (h *handler) events(w http.ResponseWriter, r *http.Request) {
	if h.deps.Ledger == nil {
		writeError(w, http.StatusServiceUnavailable, "ledger not available")
		return
	}
	q := r.URL.Query()
	limit := 50
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, 500)
	}
	events, err := h.deps.Ledger.GetEvents(timeline.FilterArgs{
		TraceID:   q.Get("trace"),
		MessageID: q.Get("message"),
		Path:      q.Get("path"),
		Stage:     q.Get("stage"),
		Limit:     limit,
	})
	if err != nil {
		slog.Warn("Event query failed", "error", err)
		writeError(w, http.StatusInternalServerError, "event query failed")
		return
	}
	if events == nil {
		events = []timeline.Event{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// Serve runs the status server on addr until ctx ends.
func Serve(ctx context.Context, addr string, h http.Handler) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		slog.Info("Status server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
