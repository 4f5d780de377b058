package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/rupjae/jules/internal/thread"
)

const (
	defaultThreadLimit = 50
	maxThreadLimit     = 200
)

type threadItem struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type messageItem struct {
	ID             string    `json:"id"`
	Role           string    `json:"role"`
	Content        string    `json:"content"`
	Packet         *string   `json:"packet,omitempty"`
	SequenceNumber int32     `json:"sequenceNumber"`
	CreatedAt      time.Time `json:"createdAt"`
}

type threadHandler struct {
	threads ThreadDirectory
	logger  *slog.Logger
}

func (h *threadHandler) list(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := pagination(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_pagination", err.Error(), h.logger)
		return
	}

	threads, err := h.threads.List(r.Context(), limit, offset)
	if err != nil {
		h.logger.Error("list threads", "error", err)
		writeError(w, http.StatusInternalServerError, "list_failed", "could not list threads", h.logger)
		return
	}

	items := make([]threadItem, len(threads))
	for i, t := range threads {
		items[i] = toThreadItem(t)
	}
	writeJSON(w, http.StatusOK, map[string]any{"threads": items, "count": len(items)}, h.logger)
}

func (h *threadHandler) get(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_id", "thread id must be a UUID", h.logger)
		return
	}

	t, err := h.threads.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, thread.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "thread not found", h.logger)
			return
		}
		h.logger.Error("get thread", "error", err, "thread_id", id)
		writeError(w, http.StatusInternalServerError, "get_failed", "could not load thread", h.logger)
		return
	}
	writeJSON(w, http.StatusOK, toThreadItem(t), h.logger)
}

func (h *threadHandler) messages(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_id", "thread id must be a UUID", h.logger)
		return
	}

	msgs, err := h.threads.History(r.Context(), id)
	if err != nil {
		if errors.Is(err, thread.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "thread not found", h.logger)
			return
		}
		h.logger.Error("load history", "error", err, "thread_id", id)
		writeError(w, http.StatusInternalServerError, "history_failed", "could not load messages", h.logger)
		return
	}

	items := make([]messageItem, len(msgs))
	for i, m := range msgs {
		items[i] = messageItem{
			ID:             m.ID.String(),
			Role:           m.Role,
			Content:        m.Content,
			Packet:         m.Packet,
			SequenceNumber: m.SequenceNumber,
			CreatedAt:      m.CreatedAt,
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": items, "count": len(items)}, h.logger)
}

func toThreadItem(t *thread.Thread) threadItem {
	return threadItem{
		ID:        t.ID.String(),
		Title:     t.Title,
		CreatedAt: t.CreatedAt,
		UpdatedAt: t.UpdatedAt,
	}
}

func pagination(r *http.Request) (limit, offset int32, err error) {
	limit = defaultThreadLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, perr := strconv.ParseInt(raw, 10, 32)
		if perr != nil || n < 1 || n > maxThreadLimit {
			return 0, 0, errors.New("limit must be between 1 and " + strconv.Itoa(maxThreadLimit))
		}
		limit = int32(n)
	}
	if raw := r.URL.Query().Get("offset"); raw != "" {
		n, perr := strconv.ParseInt(raw, 10, 32)
		if perr != nil || n < 0 {
			return 0, 0, errors.New("offset must be non-negative")
		}
		offset = int32(n)
	}
	return limit, offset, nil
}
