// Package admin serves the projector's operational HTTP surface: metrics,
// liveness and dead-letter inspection, replay and removal.
package admin

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dmehra2102/inventory-cqrs/pkg/consumer"
	"github.com/dmehra2102/inventory-cqrs/pkg/stream"
)

const (
	defaultListCount = 20
	maxListCount     = 1000
)

type DeadLetters interface {
	Latest(ctx context.Context, stream string, count int64) ([]stream.Entry, error)
	Get(ctx context.Context, stream, id string) (stream.Entry, bool, error)
	Delete(ctx context.Context, stream string, ids ...string) error
	Len(ctx context.Context, stream string) (int64, error)
}

type Publisher interface {
	Publish(ctx context.Context, eventType string, payload any, id string) (string, error)
}

type Pending interface {
	PendingIDs(ctx context.Context, stream, group string, count int64) ([]string, error)
}

type RetryCounts interface {
	Key(stream, group, entryID string) string
	Get(ctx context.Context, key string) (int64, error)
}

type Handler struct {
	log    *slog.Logger
	dlq    DeadLetters
	stream string
	pub    Publisher
	health *Health

	pending      Pending
	retries      RetryCounts
	sourceStream string
	group        string
}

func NewHandler(log *slog.Logger, dlq DeadLetters, dlqStream string, pub Publisher, health *Health) *Handler {
	return &Handler{log: log, dlq: dlq, stream: dlqStream, pub: pub, health: health}
}

// WithPending enables GET /pending for the group's unacknowledged entries of
// sourceStream, each with its failed attempt count.
func (h *Handler) WithPending(pending Pending, retries RetryCounts, sourceStream, group string) *Handler {
	h.pending = pending
	h.retries = retries
	h.sourceStream = sourceStream
	h.group = group
	return h
}

func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Handle("/metrics", promhttp.Handler())
	r.Get("/healthz", h.healthz)
	r.Get("/dlq", h.listDeadLetters)
	r.Post("/dlq/{id}/replay", h.replayDeadLetter)
	r.Delete("/dlq/{id}", h.deleteDeadLetter)
	r.Get("/pending", h.listPending)
	return r
}

type deadLetter struct {
	ID      string          `json:"id"`
	OrigID  string          `json:"orig_id"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
	Error   string          `json:"error"`
}

func toDeadLetter(e stream.Entry) deadLetter {
	payload := stream.StringField(e.Values, consumer.FieldPayload)
	raw := json.RawMessage(payload)
	if !json.Valid(raw) {
		raw, _ = json.Marshal(payload)
	}
	return deadLetter{
		ID:      e.ID,
		OrigID:  stream.StringField(e.Values, consumer.FieldOrigID),
		Type:    stream.StringField(e.Values, consumer.FieldType),
		Payload: raw,
		Error:   stream.StringField(e.Values, consumer.FieldError),
	}
}

func (h *Handler) healthz(w http.ResponseWriter, r *http.Request) {
	if err := h.health.Check(); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy", "reason": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func listCount(r *http.Request) (int64, bool) {
	v := r.URL.Query().Get("count")
	if v == "" {
		return defaultListCount, true
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n < 1 {
		return 0, false
	}
	return min(n, maxListCount), true
}

func (h *Handler) listDeadLetters(w http.ResponseWriter, r *http.Request) {
	count, ok := listCount(r)
	if !ok {
		http.Error(w, "count must be a positive integer", http.StatusBadRequest)
		return
	}

	entries, err := h.dlq.Latest(r.Context(), h.stream, count)
	if err != nil {
		h.log.Error("dlq list failed", "err", err)
		http.Error(w, "dead-letter stream unavailable", http.StatusServiceUnavailable)
		return
	}
	total, err := h.dlq.Len(r.Context(), h.stream)
	if err != nil {
		h.log.Error("dlq length failed", "err", err)
		http.Error(w, "dead-letter stream unavailable", http.StatusServiceUnavailable)
		return
	}

	items := make([]deadLetter, 0, len(entries))
	for _, e := range entries {
		items = append(items, toDeadLetter(e))
	}
	writeJSON(w, http.StatusOK, map[string]any{"total": total, "entries": items})
}

// replayDeadLetter re-publishes the entry under a new envelope id, then drops
// it from the dead-letter stream.
func (h *Handler) replayDeadLetter(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	entry, ok, err := h.dlq.Get(ctx, h.stream, id)
	if err != nil {
		h.log.Error("dlq get failed", "dlq_id", id, "err", err)
		http.Error(w, "dead-letter stream unavailable", http.StatusServiceUnavailable)
		return
	}
	if !ok {
		http.Error(w, "dead letter not found", http.StatusNotFound)
		return
	}

	dl := toDeadLetter(entry)
	if dl.Type == "" {
		http.Error(w, "dead letter has no event type", http.StatusUnprocessableEntity)
		return
	}

	raw := json.RawMessage(stream.StringField(entry.Values, consumer.FieldPayload))
	eventID, err := h.pub.Publish(ctx, dl.Type, raw, "")
	if err != nil {
		http.Error(w, "source stream unavailable", http.StatusServiceUnavailable)
		return
	}
	if err := h.dlq.Delete(ctx, h.stream, id); err != nil {
		h.log.Error("dlq delete after replay failed", "dlq_id", id, "event_id", eventID, "err", err)
		http.Error(w, "replayed but not removed from dead-letter stream", http.StatusInternalServerError)
		return
	}

	h.log.Info("dead letter replayed", "dlq_id", id, "orig_id", dl.OrigID, "event_id", eventID, "type", dl.Type)
	writeJSON(w, http.StatusOK, map[string]string{"event_id": eventID})
}

func (h *Handler) deleteDeadLetter(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	_, ok, err := h.dlq.Get(ctx, h.stream, id)
	if err != nil {
		http.Error(w, "dead-letter stream unavailable", http.StatusServiceUnavailable)
		return
	}
	if !ok {
		http.Error(w, "dead letter not found", http.StatusNotFound)
		return
	}
	if err := h.dlq.Delete(ctx, h.stream, id); err != nil {
		http.Error(w, "dead-letter stream unavailable", http.StatusServiceUnavailable)
		return
	}
	h.log.Info("dead letter discarded", "dlq_id", id)
	w.WriteHeader(http.StatusNoContent)
}

type pendingEntry struct {
	ID       string `json:"id"`
	Attempts int64  `json:"attempts"`
}

func (h *Handler) listPending(w http.ResponseWriter, r *http.Request) {
	if h.pending == nil {
		http.Error(w, "pending listing not configured", http.StatusNotFound)
		return
	}
	count, ok := listCount(r)
	if !ok {
		http.Error(w, "count must be a positive integer", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	ids, err := h.pending.PendingIDs(ctx, h.sourceStream, h.group, count)
	if err != nil {
		h.log.Error("pending list failed", "err", err)
		http.Error(w, "source stream unavailable", http.StatusServiceUnavailable)
		return
	}
	items := make([]pendingEntry, 0, len(ids))
	for _, id := range ids {
		n, err := h.retries.Get(ctx, h.retries.Key(h.sourceStream, h.group, id))
		if err != nil {
			h.log.Error("retry count failed", "stream_id", id, "err", err)
			http.Error(w, "retry counters unavailable", http.StatusServiceUnavailable)
			return
		}
		items = append(items, pendingEntry{ID: id, Attempts: n})
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": items})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
