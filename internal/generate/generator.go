// Package generate streams model answers for a prompt plus optional
// retrieved context.
package generate

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"golang.org/x/time/rate"
)

// FragmentFunc receives each streamed text fragment in order.
type FragmentFunc func(ctx context.Context, text string) error

// Request is one generation call.
type Request struct {
	// Prompt is the user's message for this turn.
	Prompt string

	// History is the prior conversation in model form, oldest first.
	History []*ai.Message

	// Packet is optional retrieved context. Non-empty packets become a
	// separate system message; they are never concatenated into Prompt.
	Packet string
}

// Result is the completed generation.
type Result struct {
	// Text is the full accumulated answer, identical to the concatenation
	// of the streamed fragments.
	Text string
}

const systemPrompt = `You are a helpful assistant. Answer the user's message
directly and concisely. When background notes are provided, prefer them over
your general knowledge and say so when they are insufficient.`

// Config configures a Generator.
type Config struct {
	Model string

	// RateLimiter paces attempts. Nil installs a conservative default.
	RateLimiter *rate.Limiter

	Retry  RetryConfig
	Logger *slog.Logger
}

// Generator turns requests into streamed model responses with retry.
type Generator struct {
	model       string
	rateLimiter *rate.Limiter
	retry       RetryConfig
	logger      *slog.Logger

	// call is the model invocation, injectable for tests.
	call func(ctx context.Context, opts ...ai.GenerateOption) (*ai.ModelResponse, error)
}

// New creates a Generator bound to the genkit instance.
func New(g *genkit.Genkit, cfg Config) *Generator {
	if cfg.RateLimiter == nil {
		cfg.RateLimiter = rate.NewLimiter(10, 30)
	}
	if cfg.Retry == (RetryConfig{}) {
		cfg.Retry = DefaultRetryConfig()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Generator{
		model:       cfg.Model,
		rateLimiter: cfg.RateLimiter,
		retry:       cfg.Retry,
		logger:      cfg.Logger,
		call: func(ctx context.Context, opts ...ai.GenerateOption) (*ai.ModelResponse, error) {
			return genkit.Generate(ctx, g, opts...)
		},
	}
}

// Stream generates an answer, delivering fragments through cb as they
// arrive. The returned Result carries the accumulated full text. Transient
// provider failures are retried with exponential backoff, but only while no
// fragment has been delivered; once output reached the caller a retry would
// duplicate it, so the error surfaces instead. Errors are classified into
// the package's error kinds.
func (g *Generator) Stream(ctx context.Context, req Request, cb FragmentFunc) (*Result, error) {
	messages := make([]*ai.Message, 0, len(req.History)+2)
	messages = append(messages, ai.NewSystemMessage(ai.NewTextPart(systemPrompt)))
	if req.Packet != "" {
		messages = append(messages, ai.NewSystemMessage(ai.NewTextPart("Background notes:\n"+req.Packet)))
	}
	messages = append(messages, req.History...)
	messages = append(messages, ai.NewUserMessage(ai.NewTextPart(req.Prompt)))

	opts := []ai.GenerateOption{
		ai.WithModelName(g.model),
		ai.WithMessages(messages...),
	}

	streamed := false
	if cb != nil {
		opts = append(opts, ai.WithStreaming(func(ctx context.Context, chunk *ai.ModelResponseChunk) error {
			streamed = true
			return cb(ctx, chunk.Text())
		}))
	}

	resp, err := g.generateWithRetry(ctx, opts, &streamed)
	if err != nil {
		return nil, classify(err)
	}
	return &Result{Text: resp.Text()}, nil
}

// generateWithRetry runs the model call with exponential backoff. Each
// attempt waits on the rate limiter first so retries cannot amplify load.
func (g *Generator) generateWithRetry(ctx context.Context, opts []ai.GenerateOption, streamed *bool) (*ai.ModelResponse, error) {
	var lastErr error
	delay := g.retry.InitialInterval
	start := time.Now()

	for attempt := 0; attempt <= g.retry.MaxRetries; attempt++ {
		if g.rateLimiter != nil {
			if err := g.rateLimiter.Wait(ctx); err != nil {
				return nil, fmt.Errorf("rate limit wait: %w", err)
			}
		}

		resp, err := g.call(ctx, opts...)
		if err == nil {
			g.logger.Debug("generation succeeded",
				"attempts", attempt+1,
				"elapsed", time.Since(start),
			)
			return resp, nil
		}
		lastErr = err

		if !retryableError(err) || *streamed {
			return nil, fmt.Errorf("generate: %w", err)
		}
		if attempt == g.retry.MaxRetries {
			break
		}

		g.logger.Debug("retrying generation",
			"attempt", attempt+1,
			"delay", delay,
			"error", err,
		)
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("canceled during retry: %w", ctx.Err())
		case <-time.After(delay):
			delay = min(delay*2, g.retry.MaxInterval)
		}
	}

	return nil, fmt.Errorf("generate after %d retries (elapsed %v): %w",
		g.retry.MaxRetries, time.Since(start), lastErr)
}
