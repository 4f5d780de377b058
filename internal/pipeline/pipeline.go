// Package pipeline orchestrates one conversation turn: decide whether to
// retrieve, fetch and compress context, stream the answer, and commit the
// exchange.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/firebase/genkit/go/ai"
	"github.com/google/uuid"

	"github.com/rupjae/jules/internal/generate"
	"github.com/rupjae/jules/internal/persist"
	"github.com/rupjae/jules/internal/retrieval"
	"github.com/rupjae/jules/internal/thread"
)

// Input validation errors. Both reject the request before any state exists.
var (
	ErrEmptyPrompt   = errors.New("prompt is empty")
	ErrPromptTooLong = errors.New("prompt exceeds maximum length")
)

// DefaultMaxPromptLength bounds prompts in runes.
const DefaultMaxPromptLength = 8192

// fragmentBuffer decouples the generator's callback from the event consumer.
const fragmentBuffer = 64

// Decider reports whether a prompt needs retrieval.
type Decider interface {
	Decide(ctx context.Context, prompt string) bool
}

// Retriever produces the context packet for a prompt.
type Retriever interface {
	RetrieveAndSummarize(ctx context.Context, prompt string, params retrieval.Params) (retrieval.Packet, error)
}

// Generator streams the model answer.
type Generator interface {
	Stream(ctx context.Context, req generate.Request, cb generate.FragmentFunc) (*generate.Result, error)
}

// Coordinator owns the turn's writes.
type Coordinator interface {
	BeginTurn(ctx context.Context, threadID uuid.UUID, userText string) (*persist.Turn, error)
}

// Historian reads prior conversation for prompt assembly.
type Historian interface {
	History(ctx context.Context, threadID uuid.UUID) ([]*thread.Message, error)
}

// Config wires a Pipeline.
type Config struct {
	Decider   Decider
	Retriever Retriever
	Generator Generator
	Coord     Coordinator
	History   Historian

	// Params returns the current retrieval tuning. Called once per request
	// so hot-reloaded tuning applies to new requests only.
	Params func() retrieval.Params

	// MaxPromptLength caps prompts in runes; zero means the default.
	MaxPromptLength int

	Logger *slog.Logger
}

// Pipeline runs conversation turns.
type Pipeline struct {
	decider   Decider
	retriever Retriever
	generator Generator
	coord     Coordinator
	history   Historian
	params    func() retrieval.Params
	maxPrompt int
	logger    *slog.Logger
}

// New creates a Pipeline.
func New(cfg Config) (*Pipeline, error) {
	switch {
	case cfg.Decider == nil:
		return nil, errors.New("pipeline: decider is required")
	case cfg.Generator == nil:
		return nil, errors.New("pipeline: generator is required")
	case cfg.Coord == nil:
		return nil, errors.New("pipeline: coordinator is required")
	case cfg.Params == nil:
		return nil, errors.New("pipeline: params func is required")
	}
	if cfg.MaxPromptLength <= 0 {
		cfg.MaxPromptLength = DefaultMaxPromptLength
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Pipeline{
		decider:   cfg.Decider,
		retriever: cfg.Retriever,
		generator: cfg.Generator,
		coord:     cfg.Coord,
		history:   cfg.History,
		params:    cfg.Params,
		maxPrompt: cfg.MaxPromptLength,
		logger:    cfg.Logger,
	}, nil
}

// Request is one turn.
type Request struct {
	// ThreadID selects the conversation; the zero UUID starts a new one.
	ThreadID uuid.UUID

	Prompt string
}

// step drives the turn's state machine.
type step int

const (
	stepDecide step = iota
	stepRetrieve
	stepGenerate
	stepCommit
	stepDone
)

// state is the per-request record threaded through the steps.
type state struct {
	threadID uuid.UUID
	prompt   string
	history  []*ai.Message
	decision bool
	packet   *string
	text     string
	turnCh   chan turnResult
}

type turnResult struct {
	turn *persist.Turn
	err  error
}

// Run validates the request and starts the turn. Validation failures return
// synchronously with no stream and no stored state. The returned channel
// carries fragments followed by one terminal or error event and is always
// closed; on caller cancellation it closes with no terminal event and the
// assistant half is never committed.
func (p *Pipeline) Run(ctx context.Context, req Request) (<-chan Event, error) {
	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		return nil, ErrEmptyPrompt
	}
	if utf8.RuneCountInString(prompt) > p.maxPrompt {
		return nil, fmt.Errorf("%w: %d runes (max %d)", ErrPromptTooLong, utf8.RuneCountInString(prompt), p.maxPrompt)
	}

	out := make(chan Event, fragmentBuffer)
	go p.run(ctx, req.ThreadID, prompt, out)
	return out, nil
}

func (p *Pipeline) run(ctx context.Context, threadID uuid.UUID, prompt string, out chan<- Event) {
	defer close(out)

	st := &state{threadID: threadID, prompt: prompt}

	// History is snapshotted before the user message commits so the model
	// never sees the current prompt twice.
	if threadID != uuid.Nil && p.history != nil {
		msgs, err := p.history.History(ctx, threadID)
		if err != nil {
			out <- EventError{Err: fmt.Errorf("load history: %w", err)}
			return
		}
		st.history = toModelMessages(msgs)
	}

	// The user-message write proceeds concurrently with retrieval and
	// generation; the commit step joins it.
	st.turnCh = make(chan turnResult, 1)
	go func() {
		turn, err := p.coord.BeginTurn(ctx, threadID, prompt)
		st.turnCh <- turnResult{turn: turn, err: err}
	}()

	for s := stepDecide; s != stepDone; {
		var ok bool
		if s, ok = p.advance(ctx, s, st, out); !ok {
			return
		}
	}
}

// advance executes one step and returns the next. ok=false ends the stream;
// the step has already emitted its error event if one was warranted.
func (p *Pipeline) advance(ctx context.Context, s step, st *state, out chan<- Event) (step, bool) {
	switch s {
	case stepDecide:
		st.decision = p.decider.Decide(ctx, st.prompt)
		if st.decision && p.retriever != nil {
			return stepRetrieve, true
		}
		return stepGenerate, true

	case stepRetrieve:
		packet, err := p.retriever.RetrieveAndSummarize(ctx, st.prompt, p.params())
		if err != nil {
			// Retrieval is best effort; the turn proceeds without context.
			p.logger.Warn("retrieval failed, proceeding without packet", "error", err)
		} else if packet.Retrieved {
			st.packet = &packet.Text
		}
		return stepGenerate, true

	case stepGenerate:
		return p.generate(ctx, st, out)

	case stepCommit:
		return p.commit(ctx, st, out)

	default:
		return stepDone, true
	}
}

func (p *Pipeline) generate(ctx context.Context, st *state, out chan<- Event) (step, bool) {
	// Fragments pass through their own buffered channel, drained by a
	// single consumer, so the generator callback never blocks on slow
	// event readers for long and ordering is preserved.
	fragments := make(chan string, fragmentBuffer)
	drained := make(chan struct{})
	go func() {
		defer close(drained)
		for f := range fragments {
			out <- EventFragment{Text: f}
		}
	}()

	req := generate.Request{Prompt: st.prompt, History: st.history}
	if st.packet != nil {
		req.Packet = *st.packet
	}
	res, err := p.generator.Stream(ctx, req, func(cbCtx context.Context, text string) error {
		select {
		case fragments <- text:
			return nil
		case <-cbCtx.Done():
			return cbCtx.Err()
		}
	})
	close(fragments)
	<-drained

	if err != nil {
		p.failTurn(ctx, st, out, fmt.Errorf("generate answer: %w", err))
		return stepDone, false
	}
	st.text = res.Text
	return stepCommit, true
}

func (p *Pipeline) commit(ctx context.Context, st *state, out chan<- Event) (step, bool) {
	tr := <-st.turnCh
	if tr.err != nil {
		out <- EventError{Err: fmt.Errorf("begin turn: %w", tr.err)}
		return stepDone, false
	}
	if ctx.Err() != nil {
		tr.turn.Abandon()
		return stepDone, false
	}

	// The commit itself is shielded from cancellation: once generation
	// finished, a half-committed turn is worse than a briefly overrunning
	// request.
	res, err := tr.turn.Complete(context.WithoutCancel(ctx), st.text, st.packet)
	if err != nil {
		out <- EventError{Err: fmt.Errorf("commit turn: %w", err)}
		return stepDone, false
	}
	if res.IndexWarning != nil {
		p.logger.Warn("turn committed with index warning",
			"thread_id", tr.turn.ThreadID,
			"error", res.IndexWarning,
		)
	}

	out <- EventTerminal{
		ThreadID: tr.turn.ThreadID,
		Decision: st.decision,
		Packet:   st.packet,
		Text:     st.text,
	}
	return stepDone, true
}

// failTurn releases the turn slot after a generation failure. On caller
// cancellation the stream closes silently; otherwise an error event goes out.
func (p *Pipeline) failTurn(ctx context.Context, st *state, out chan<- Event, genErr error) {
	tr := <-st.turnCh
	if tr.turn != nil {
		tr.turn.Abandon()
	}
	if ctx.Err() != nil {
		return
	}
	if tr.err != nil {
		genErr = errors.Join(genErr, fmt.Errorf("begin turn: %w", tr.err))
	}
	out <- EventError{Err: genErr}
}

// toModelMessages converts stored history to model form. Only user and
// assistant messages are replayed.
func toModelMessages(msgs []*thread.Message) []*ai.Message {
	out := make([]*ai.Message, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case thread.RoleUser:
			out = append(out, ai.NewUserMessage(ai.NewTextPart(m.Content)))
		case thread.RoleAssistant:
			out = append(out, ai.NewModelMessage(ai.NewTextPart(m.Content)))
		}
	}
	return out
}
