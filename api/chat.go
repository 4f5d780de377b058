package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/rupjae/jules/internal/generate"
	"github.com/rupjae/jules/internal/persist"
	"github.com/rupjae/jules/internal/pipeline"
)

// SSE event names for the chat stream.
const (
	eventChunk = "chunk" // partial answer text
	eventDone  = "done"  // turn committed
	eventError = "error" // stream failed
)

// chunkPayload is the data of a chunk event.
type chunkPayload struct {
	Text string `json:"text"`
}

// donePayload is the data of the final done event.
type donePayload struct {
	ThreadID string  `json:"threadId"`
	Response string  `json:"response"`
	Decision bool    `json:"decision"`
	Packet   *string `json:"packet,omitempty"`
}

// errorPayload is the data of an error event.
type errorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// chatInput is the request body (POST) or query parameters (GET).
type chatInput struct {
	ThreadID string `json:"threadId"`
	Message  string `json:"message"`
}

type chatHandler struct {
	pipeline Runner
	threads  ThreadDirectory
	logger   *slog.Logger
}

// stream answers one chat turn over SSE. The thread is resolved up front so
// the X-Thread-ID header always carries the id, generated or not, before any
// event is written.
func (h *chatHandler) stream(w http.ResponseWriter, r *http.Request) {
	input, err := parseChatInput(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error(), h.logger)
		return
	}
	if input.Message == "" {
		writeError(w, http.StatusBadRequest, "missing_message", "message is required", h.logger)
		return
	}

	threadID := uuid.Nil
	if input.ThreadID != "" {
		if threadID, err = uuid.Parse(input.ThreadID); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_thread_id", "threadId must be a UUID", h.logger)
			return
		}
	}
	if threadID == uuid.Nil {
		t, err := h.threads.Create(r.Context(), persist.DeriveTitle(input.Message))
		if err != nil {
			h.logger.Error("create thread", "error", err)
			writeError(w, http.StatusInternalServerError, "thread_create_failed", "could not create thread", h.logger)
			return
		}
		threadID = t.ID
	}

	events, err := h.pipeline.Run(r.Context(), pipeline.Request{ThreadID: threadID, Prompt: input.Message})
	if err != nil {
		status, code := http.StatusInternalServerError, "pipeline_error"
		switch {
		case errors.Is(err, pipeline.ErrEmptyPrompt):
			status, code = http.StatusBadRequest, "empty_prompt"
		case errors.Is(err, pipeline.ErrPromptTooLong):
			status, code = http.StatusRequestEntityTooLarge, "prompt_too_long"
		}
		writeError(w, status, code, err.Error(), h.logger)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming_unsupported", "streaming not supported", h.logger)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.Header().Set("X-Thread-ID", threadID.String())

	for ev := range events {
		switch e := ev.(type) {
		case pipeline.EventFragment:
			if err := writeEvent(w, flusher, eventChunk, chunkPayload{Text: e.Text}); err != nil {
				h.logger.Debug("client disconnected mid-stream", "thread_id", threadID)
				drain(events)
				return
			}
		case pipeline.EventTerminal:
			_ = writeEvent(w, flusher, eventDone, donePayload{
				ThreadID: e.ThreadID.String(),
				Response: e.Text,
				Decision: e.Decision,
				Packet:   e.Packet,
			})
		case pipeline.EventError:
			h.writeStreamError(w, flusher, e.Err)
		}
	}
}

// writeStreamError maps pipeline errors onto SSE error codes. Headers are
// already sent at this point, so the error travels as an event.
func (h *chatHandler) writeStreamError(w io.Writer, f http.Flusher, err error) {
	code := "stream_error"
	switch {
	case errors.Is(err, generate.ErrRateLimited):
		code = "rate_limited"
	case errors.Is(err, generate.ErrTimeout):
		code = "timeout"
	case errors.Is(err, generate.ErrInvalidRequest):
		code = "invalid_request"
	case errors.Is(err, generate.ErrUnavailable):
		code = "model_unavailable"
	}
	_ = writeEvent(w, f, eventError, errorPayload{Code: code, Message: err.Error()})
}

// parseChatInput reads the input from the body (POST) or the query string
// (GET, for EventSource clients that cannot send bodies).
func parseChatInput(w http.ResponseWriter, r *http.Request) (chatInput, error) {
	if r.Method == http.MethodGet {
		q := r.URL.Query()
		return chatInput{ThreadID: q.Get("threadId"), Message: q.Get("message")}, nil
	}

	var input chatInput
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		return chatInput{}, fmt.Errorf("invalid request body")
	}
	return input, nil
}

// writeEvent writes one SSE event: "event: <name>\ndata: <json>\n\n".
func writeEvent(w io.Writer, flusher http.Flusher, event string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, payload); err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	flusher.Flush()
	return nil
}

// drain consumes remaining events so the pipeline goroutine can exit.
func drain(events <-chan pipeline.Event) {
	for range events {
	}
}
