// Package persist coordinates the two writes of a conversation turn: the
// durable conversation record and the best-effort vector index.
package persist

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rupjae/jules/internal/knowledge"
	"github.com/rupjae/jules/internal/thread"
)

// ErrTurnClosed is returned when Complete is called on a turn that was
// already completed or abandoned.
var ErrTurnClosed = errors.New("turn already closed")

// ConversationStore is the durable message store. It is the source of truth:
// its failures are fatal to the turn.
type ConversationStore interface {
	Create(ctx context.Context, title string) (*thread.Thread, error)
	Append(ctx context.Context, threadID uuid.UUID, msg *thread.Message) (uuid.UUID, error)
}

// Indexer is the vector index boundary. Indexing is best effort; failures
// degrade to a warning.
type Indexer interface {
	Index(ctx context.Context, doc knowledge.Document) error
}

// Index retry bounds. The index is reconcilable offline, so a short bounded
// effort is enough.
const (
	indexAttempts        = 3
	indexInitialInterval = 100 * time.Millisecond
)

// titleWordLimit bounds auto-generated thread titles.
const titleWordLimit = 8

// Result reports the outcome of a completed turn.
type Result struct {
	AssistantMessageID uuid.UUID

	// IndexWarning is non-nil when vector indexing failed after retries.
	// The conversation record is still committed.
	IndexWarning error
}

// Coordinator serializes writes per thread and pairs each conversation write
// with its index write.
type Coordinator struct {
	threads ConversationStore
	index   Indexer
	logger  *slog.Logger

	mu    sync.Mutex
	locks map[uuid.UUID]*threadLock
}

type threadLock struct {
	mu   sync.Mutex
	refs int
}

// New creates a Coordinator. A nil indexer disables indexing entirely, which
// is useful for tests and index-less deployments.
func New(threads ConversationStore, index Indexer, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		threads: threads,
		index:   index,
		logger:  logger,
		locks:   make(map[uuid.UUID]*threadLock),
	}
}

// Turn is one in-flight exchange. Exactly one of Complete or Abandon must be
// called; until then no other turn can write to the same thread.
type Turn struct {
	// ThreadID identifies the thread, freshly generated when BeginTurn was
	// given the zero UUID.
	ThreadID uuid.UUID

	// Created reports whether BeginTurn created the thread.
	Created bool

	// UserMessageID is the committed user message.
	UserMessageID uuid.UUID

	userText string
	userAt   time.Time

	c       *Coordinator
	release func()
	closed  bool
	closeMu sync.Mutex
}

// BeginTurn resolves the thread (creating one when threadID is the zero
// UUID), takes the thread's write slot, and commits the user message. On any
// error the slot is released and no state from this turn survives except a
// created-but-empty thread.
func (c *Coordinator) BeginTurn(ctx context.Context, threadID uuid.UUID, userText string) (*Turn, error) {
	created := false
	if threadID == uuid.Nil {
		t, err := c.threads.Create(ctx, DeriveTitle(userText))
		if err != nil {
			return nil, fmt.Errorf("create thread: %w", err)
		}
		threadID = t.ID
		created = true
	}

	release := c.lockThread(threadID)

	now := time.Now().UTC()
	msgID, err := c.threads.Append(ctx, threadID, &thread.Message{
		Role:    thread.RoleUser,
		Content: userText,
	})
	if err != nil {
		release()
		return nil, fmt.Errorf("append user message: %w", err)
	}

	return &Turn{
		ThreadID:      threadID,
		Created:       created,
		UserMessageID: msgID,
		userText:      userText,
		userAt:        now,
		c:             c,
		release:       release,
	}, nil
}

// Complete commits the assistant message and indexes both halves of the
// exchange. The conversation write is fatal on failure; index failures after
// retries come back in Result.IndexWarning with the turn still committed.
func (t *Turn) Complete(ctx context.Context, assistantText string, packet *string) (*Result, error) {
	if !t.close() {
		return nil, ErrTurnClosed
	}
	defer t.release()

	msgID, err := t.c.threads.Append(ctx, t.ThreadID, &thread.Message{
		Role:    thread.RoleAssistant,
		Content: assistantText,
		Packet:  packet,
	})
	if err != nil {
		return nil, fmt.Errorf("append assistant message: %w", err)
	}

	res := &Result{AssistantMessageID: msgID}
	var warnings []error
	if err := t.c.indexMessage(ctx, t.ThreadID, t.UserMessageID, thread.RoleUser, t.userText, t.userAt); err != nil {
		warnings = append(warnings, err)
	}
	if err := t.c.indexMessage(ctx, t.ThreadID, msgID, thread.RoleAssistant, assistantText, time.Now().UTC()); err != nil {
		warnings = append(warnings, err)
	}
	if len(warnings) > 0 {
		res.IndexWarning = errors.Join(warnings...)
		t.c.logger.Warn("turn committed but indexing failed",
			"thread_id", t.ThreadID,
			"error", res.IndexWarning,
		)
	}
	return res, nil
}

// Abandon releases the thread's write slot without committing the assistant
// half. The already-committed user message stays. Safe to call after
// Complete; it then does nothing.
func (t *Turn) Abandon() {
	if t.close() {
		t.release()
	}
}

// close marks the turn finished, reporting false when it already was.
func (t *Turn) close() bool {
	t.closeMu.Lock()
	defer t.closeMu.Unlock()
	if t.closed {
		return false
	}
	t.closed = true
	return true
}

// indexMessage writes one message into the vector index with bounded
// exponential backoff.
func (c *Coordinator) indexMessage(ctx context.Context, threadID, msgID uuid.UUID, role, content string, at time.Time) error {
	if c.index == nil {
		return nil
	}

	doc := knowledge.Document{
		ID:      msgID.String(),
		Content: content,
		Metadata: map[string]string{
			knowledge.MetaThreadID: threadID.String(),
			knowledge.MetaRole:     role,
			knowledge.MetaTS:       at.Format(time.RFC3339),
		},
	}

	var lastErr error
	delay := indexInitialInterval
	for attempt := range indexAttempts {
		if lastErr = c.index.Index(ctx, doc); lastErr == nil {
			return nil
		}
		if attempt == indexAttempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("index message %s: %w", msgID, ctx.Err())
		case <-time.After(delay):
			delay *= 2
		}
	}
	return fmt.Errorf("index message %s after %d attempts: %w", msgID, indexAttempts, lastErr)
}

// lockThread acquires the per-thread write slot and returns its release
// function. Lock entries are refcounted so the map does not grow with dead
// threads.
func (c *Coordinator) lockThread(id uuid.UUID) func() {
	c.mu.Lock()
	l, ok := c.locks[id]
	if !ok {
		l = &threadLock{}
		c.locks[id] = l
	}
	l.refs++
	c.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		c.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(c.locks, id)
		}
		c.mu.Unlock()
	}
}

// DeriveTitle turns the opening message of a conversation into a short
// thread title.
func DeriveTitle(userText string) string {
	fields := strings.Fields(userText)
	if len(fields) == 0 {
		return "New conversation"
	}
	if len(fields) > titleWordLimit {
		fields = fields[:titleWordLimit]
	}
	return strings.Join(fields, " ")
}
