package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rupjae/jules/internal/log"
	"github.com/rupjae/jules/internal/pipeline"
	"github.com/rupjae/jules/internal/thread"
)

// fakeRunner replays a scripted event stream.
type fakeRunner struct {
	events []pipeline.Event
	err    error

	gotThreadID uuid.UUID
	gotPrompt   string
}

func (f *fakeRunner) Run(_ context.Context, req pipeline.Request) (<-chan pipeline.Event, error) {
	f.gotThreadID = req.ThreadID
	f.gotPrompt = req.Prompt
	if f.err != nil {
		return nil, f.err
	}
	ch := make(chan pipeline.Event, len(f.events))
	for _, ev := range f.events {
		ch <- ev
	}
	close(ch)
	return ch, nil
}

type fakeDirectory struct {
	threads  map[uuid.UUID]*thread.Thread
	messages map[uuid.UUID][]*thread.Message
	created  int
}

func newFakeDirectory() *fakeDirectory {
	return &fakeDirectory{
		threads:  make(map[uuid.UUID]*thread.Thread),
		messages: make(map[uuid.UUID][]*thread.Message),
	}
}

func (f *fakeDirectory) Create(_ context.Context, title string) (*thread.Thread, error) {
	f.created++
	t := &thread.Thread{ID: uuid.New(), Title: title, CreatedAt: time.Now(), UpdatedAt: time.Now()}
	f.threads[t.ID] = t
	return t, nil
}

func (f *fakeDirectory) Get(_ context.Context, id uuid.UUID) (*thread.Thread, error) {
	t, ok := f.threads[id]
	if !ok {
		return nil, thread.ErrNotFound
	}
	return t, nil
}

func (f *fakeDirectory) List(_ context.Context, _, _ int32) ([]*thread.Thread, error) {
	out := make([]*thread.Thread, 0, len(f.threads))
	for _, t := range f.threads {
		out = append(out, t)
	}
	return out, nil
}

func (f *fakeDirectory) History(_ context.Context, id uuid.UUID) ([]*thread.Message, error) {
	return f.messages[id], nil
}

func newTestServer(t *testing.T, runner Runner, dir ThreadDirectory, opts ...func(*ServerConfig)) http.Handler {
	t.Helper()
	cfg := ServerConfig{
		Logger:   log.NewNop(),
		Pipeline: runner,
		Threads:  dir,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	srv, err := NewServer(cfg)
	require.NoError(t, err)
	return srv.Handler()
}

func terminalEvent(id uuid.UUID, text string) pipeline.EventTerminal {
	return pipeline.EventTerminal{ThreadID: id, Decision: false, Text: text}
}

func TestServer_Health(t *testing.T) {
	h := newTestServer(t, &fakeRunner{}, newFakeDirectory())

	t.Run("GET /health returns 200", func(t *testing.T) {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

		assert.Equal(t, http.StatusOK, w.Code)
		var body map[string]string
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		assert.Equal(t, "ok", body["status"])
	})

	t.Run("GET /ready degrades to liveness without pool", func(t *testing.T) {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ready", nil))

		assert.Equal(t, http.StatusOK, w.Code)
	})
}

func TestServer_AuthGuard(t *testing.T) {
	withToken := func(cfg *ServerConfig) { cfg.AuthToken = "secret-token" }
	h := newTestServer(t, &fakeRunner{}, newFakeDirectory(), withToken)

	t.Run("missing token rejected", func(t *testing.T) {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/threads", nil))
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("wrong token rejected", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/threads", nil)
		req.Header.Set("Authorization", "Bearer nope")
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("valid token passes", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/threads", nil)
		req.Header.Set("Authorization", "Bearer secret-token")
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("health bypasses auth", func(t *testing.T) {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
		assert.Equal(t, http.StatusOK, w.Code)
	})
}

func TestChatStream_NewThread(t *testing.T) {
	dir := newFakeDirectory()
	runner := &fakeRunner{}
	h := newTestServer(t, runner, dir)

	// The terminal echoes whichever thread the handler created, so script it
	// after we know the id. Instead, run once with a pre-made thread below
	// and here just verify creation and header plumbing.
	runner.events = []pipeline.Event{
		pipeline.EventFragment{Text: "hel"},
		pipeline.EventFragment{Text: "lo"},
	}

	body := strings.NewReader(`{"message":"what is fermentation"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/chat/stream", body)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, dir.created, "a thread should be created for a missing threadId")
	require.NotEqual(t, uuid.Nil, runner.gotThreadID)
	assert.Equal(t, runner.gotThreadID.String(), w.Header().Get("X-Thread-ID"))
	assert.Equal(t, "what is fermentation", runner.gotPrompt)
	assert.Contains(t, w.Header().Get("Content-Type"), "text/event-stream")
	assert.Contains(t, w.Body.String(), `event: chunk`)
	assert.Contains(t, w.Body.String(), `{"text":"hel"}`)
}

func TestChatStream_ExistingThread(t *testing.T) {
	dir := newFakeDirectory()
	existing, err := dir.Create(context.Background(), "earlier")
	require.NoError(t, err)

	runner := &fakeRunner{events: []pipeline.Event{
		pipeline.EventFragment{Text: "answer"},
		terminalEvent(existing.ID, "answer"),
	}}
	h := newTestServer(t, runner, dir)

	body := strings.NewReader(`{"threadId":"` + existing.ID.String() + `","message":"followup"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/chat/stream", body)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, dir.created, "no extra thread for an existing id")
	assert.Equal(t, existing.ID.String(), w.Header().Get("X-Thread-ID"))

	out := w.Body.String()
	assert.Contains(t, out, "event: done")
	assert.Contains(t, out, `"response":"answer"`)
	assert.Contains(t, out, existing.ID.String())
}

func TestChatStream_GETQueryParams(t *testing.T) {
	dir := newFakeDirectory()
	existing, err := dir.Create(context.Background(), "earlier")
	require.NoError(t, err)

	runner := &fakeRunner{events: []pipeline.Event{terminalEvent(existing.ID, "hi")}}
	h := newTestServer(t, runner, dir)

	url := "/api/chat/stream?threadId=" + existing.ID.String() + "&message=hello"
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, url, nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "hello", runner.gotPrompt)
	assert.Equal(t, existing.ID, runner.gotThreadID)
}

func TestChatStream_BadInput(t *testing.T) {
	h := newTestServer(t, &fakeRunner{}, newFakeDirectory())

	t.Run("missing message", func(t *testing.T) {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/chat/stream", strings.NewReader(`{}`)))
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("malformed thread id", func(t *testing.T) {
		body := strings.NewReader(`{"threadId":"not-a-uuid","message":"hi"}`)
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/chat/stream", body))
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("malformed body", func(t *testing.T) {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/chat/stream", strings.NewReader(`{`)))
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestChatStream_ValidationErrorsBeforeSSE(t *testing.T) {
	runner := &fakeRunner{err: pipeline.ErrPromptTooLong}
	h := newTestServer(t, runner, newFakeDirectory())

	body := strings.NewReader(`{"message":"x"}`)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/chat/stream", body))

	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	assert.NotContains(t, w.Header().Get("Content-Type"), "text/event-stream")
}

func TestThreads_ListAndGet(t *testing.T) {
	dir := newFakeDirectory()
	created, err := dir.Create(context.Background(), "my thread")
	require.NoError(t, err)
	packet := "- indexed context used for the reply"
	dir.messages[created.ID] = []*thread.Message{
		{ID: uuid.New(), Role: thread.RoleUser, Content: "hi", SequenceNumber: 1},
		{ID: uuid.New(), Role: thread.RoleAssistant, Content: "hello", Packet: &packet, SequenceNumber: 2},
	}
	h := newTestServer(t, &fakeRunner{}, dir)

	t.Run("list", func(t *testing.T) {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/threads", nil))
		assert.Equal(t, http.StatusOK, w.Code)

		var body struct {
			Threads []threadItem `json:"threads"`
			Count   int          `json:"count"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		assert.Equal(t, 1, body.Count)
		assert.Equal(t, "my thread", body.Threads[0].Title)
	})

	t.Run("get", func(t *testing.T) {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/threads/"+created.ID.String(), nil))
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("get unknown returns 404", func(t *testing.T) {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/threads/"+uuid.NewString(), nil))
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("messages", func(t *testing.T) {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/threads/"+created.ID.String()+"/messages", nil))
		assert.Equal(t, http.StatusOK, w.Code)

		var body struct {
			Messages []messageItem `json:"messages"`
			Count    int           `json:"count"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		assert.Equal(t, 2, body.Count)
		assert.Equal(t, thread.RoleUser, body.Messages[0].Role)
		assert.Nil(t, body.Messages[0].Packet)
		require.NotNil(t, body.Messages[1].Packet)
		assert.Equal(t, packet, *body.Messages[1].Packet)
	})

	t.Run("bad pagination rejected", func(t *testing.T) {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/threads?limit=0", nil))
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestRateLimit(t *testing.T) {
	withTinyBurst := func(cfg *ServerConfig) { cfg.RateBurst = 2 }
	h := newTestServer(t, &fakeRunner{}, newFakeDirectory(), withTinyBurst)

	statuses := make([]int, 0, 3)
	for range 3 {
		req := httptest.NewRequest(http.MethodGet, "/api/threads", nil)
		req.RemoteAddr = "203.0.113.7:1234"
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		statuses = append(statuses, w.Code)
	}

	assert.Equal(t, http.StatusOK, statuses[0])
	assert.Equal(t, http.StatusOK, statuses[1])
	assert.Equal(t, http.StatusTooManyRequests, statuses[2])
}
