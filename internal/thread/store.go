package thread

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DefaultMaxContentLength bounds stored message content in runes when the
// store is constructed with a non-positive limit.
const DefaultMaxContentLength = 32768

// Store manages thread and message persistence on PostgreSQL.
//
// Store is safe for concurrent use by multiple goroutines. Sequence numbers
// are assigned inside a row-locked transaction, so concurrent appends to the
// same thread serialize instead of colliding.
type Store struct {
	pool       *pgxpool.Pool
	maxContent int
	logger     *slog.Logger
}

// New creates a Store backed by pool.
func New(pool *pgxpool.Pool, maxContentLength int, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	if maxContentLength <= 0 {
		maxContentLength = DefaultMaxContentLength
	}
	return &Store{
		pool:       pool,
		maxContent: maxContentLength,
		logger:     logger,
	}
}

// Create creates a new thread with a generated UUID.
func (s *Store) Create(ctx context.Context, title string) (*Thread, error) {
	id := uuid.New()
	t := &Thread{ID: id, Title: title}

	err := s.pool.QueryRow(ctx,
		`INSERT INTO threads (id, title) VALUES ($1, NULLIF($2, ''))
		 RETURNING created_at, updated_at`,
		id, title,
	).Scan(&t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("creating thread: %w", err)
	}

	s.logger.Debug("created thread", "id", id, "title", title)
	return t, nil
}

// Get retrieves a thread by ID.
func (s *Store) Get(ctx context.Context, threadID uuid.UUID) (*Thread, error) {
	t := &Thread{ID: threadID}
	var title *string
	err := s.pool.QueryRow(ctx,
		`SELECT title, created_at, updated_at FROM threads WHERE id = $1`,
		threadID,
	).Scan(&title, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, threadID)
	}
	if err != nil {
		return nil, fmt.Errorf("getting thread %s: %w", threadID, err)
	}
	if title != nil {
		t.Title = *title
	}
	return t, nil
}

// List lists threads ordered by most recent activity.
func (s *Store) List(ctx context.Context, limit, offset int32) ([]*Thread, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, COALESCE(title, ''), created_at, updated_at
		 FROM threads ORDER BY updated_at DESC LIMIT $1 OFFSET $2`,
		limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("listing threads: %w", err)
	}
	defer rows.Close()

	var threads []*Thread
	for rows.Next() {
		t := &Thread{}
		if err := rows.Scan(&t.ID, &t.Title, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning thread: %w", err)
		}
		threads = append(threads, t)
	}
	return threads, rows.Err()
}

// Append validates msg and inserts it with the next sequence number for its
// thread. The thread row is locked for the duration of the transaction so at
// most one append per thread is in flight, which keeps commit order equal to
// arrival order of completed turns.
func (s *Store) Append(ctx context.Context, threadID uuid.UUID, msg *Message) (uuid.UUID, error) {
	if err := s.validate(msg); err != nil {
		return uuid.Nil, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return uuid.Nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			s.logger.Debug("transaction rollback", "error", rbErr)
		}
	}()

	// Lock the thread row; serializes sequence assignment per thread.
	var lockedID uuid.UUID
	err = tx.QueryRow(ctx, `SELECT id FROM threads WHERE id = $1 FOR UPDATE`, threadID).Scan(&lockedID)
	if errors.Is(err, pgx.ErrNoRows) {
		return uuid.Nil, fmt.Errorf("%w: %s", ErrNotFound, threadID)
	}
	if err != nil {
		return uuid.Nil, fmt.Errorf("locking thread: %w", err)
	}

	var maxSeq int32
	if err := tx.QueryRow(ctx,
		`SELECT COALESCE(MAX(sequence_number), 0) FROM messages WHERE thread_id = $1`,
		threadID,
	).Scan(&maxSeq); err != nil {
		return uuid.Nil, fmt.Errorf("reading max sequence: %w", err)
	}

	msgID := uuid.New()
	if _, err := tx.Exec(ctx,
		`INSERT INTO messages (id, thread_id, role, content, packet, sequence_number)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		msgID, threadID, msg.Role, msg.Content, msg.Packet, maxSeq+1,
	); err != nil {
		return uuid.Nil, fmt.Errorf("inserting message: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`UPDATE threads SET updated_at = now() WHERE id = $1`, threadID,
	); err != nil {
		return uuid.Nil, fmt.Errorf("updating thread timestamp: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return uuid.Nil, fmt.Errorf("committing transaction: %w", err)
	}

	s.logger.Debug("appended message",
		"thread_id", threadID, "message_id", msgID, "role", msg.Role, "seq", maxSeq+1)
	return msgID, nil
}

// History returns all messages of a thread ordered by sequence number.
func (s *Store) History(ctx context.Context, threadID uuid.UUID) ([]*Message, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, thread_id, role, content, packet, sequence_number, created_at
		 FROM messages WHERE thread_id = $1 ORDER BY sequence_number`,
		threadID,
	)
	if err != nil {
		return nil, fmt.Errorf("reading history: %w", err)
	}
	defer rows.Close()

	var messages []*Message
	for rows.Next() {
		m := &Message{}
		if err := rows.Scan(&m.ID, &m.ThreadID, &m.Role, &m.Content, &m.Packet,
			&m.SequenceNumber, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

// validate rejects malformed messages before any state is created.
func (s *Store) validate(msg *Message) error {
	if !ValidRole(msg.Role) {
		return fmt.Errorf("%w: %q", ErrInvalidRole, msg.Role)
	}
	if msg.Content == "" {
		return ErrEmptyContent
	}
	if n := utf8.RuneCountInString(msg.Content); n > s.maxContent {
		return fmt.Errorf("%w: %d runes (max %d)", ErrContentTooLong, n, s.maxContent)
	}
	return nil
}
