// Package gate decides whether a prompt needs external context before
// generation.
//
// The decision is deliberately cheap and failure-free: policies either vote
// or abstain, and when every policy abstains the gate answers false, which
// skips retrieval rather than failing the request.
package gate

import (
	"context"
	"log/slog"
	"strings"
)

// Policy is one decision rule. Evaluate returns (decision, true) to vote or
// (_, false) to abstain and let the next policy in the chain decide.
type Policy interface {
	Evaluate(ctx context.Context, prompt string) (decision, ok bool)
}

// PolicyFunc adapts a function to the Policy interface.
type PolicyFunc func(ctx context.Context, prompt string) (bool, bool)

// Evaluate implements Policy.
func (f PolicyFunc) Evaluate(ctx context.Context, prompt string) (bool, bool) {
	return f(ctx, prompt)
}

// Gate evaluates its policy chain in order; the first vote wins.
type Gate struct {
	policies []Policy
	logger   *slog.Logger
}

// Option configures a Gate.
type Option func(*Gate)

// WithPolicies replaces the default policy chain. Used for testing and
// tuning without touching callers.
func WithPolicies(policies ...Policy) Option {
	return func(g *Gate) {
		g.policies = policies
	}
}

// Config carries the heuristics' tuning values.
type Config struct {
	// TriggerTerms force retrieval when any appears in the prompt.
	TriggerTerms []string

	// LengthThreshold forces retrieval for prompts above this word count.
	LengthThreshold int
}

// New creates a Gate with the default chain: trigger terms, then length.
func New(cfg Config, logger *slog.Logger, opts ...Option) *Gate {
	if logger == nil {
		logger = slog.Default()
	}

	g := &Gate{
		policies: []Policy{
			NewTriggerPolicy(cfg.TriggerTerms),
			NewLengthPolicy(cfg.LengthThreshold),
		},
		logger: logger,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Decide reports whether the prompt needs retrieval. It never fails: when all
// policies abstain the answer is false (skip retrieval, don't abort).
func (g *Gate) Decide(ctx context.Context, prompt string) bool {
	for _, p := range g.policies {
		if decision, ok := p.Evaluate(ctx, prompt); ok {
			g.logger.Debug("retrieval decision", "decision", decision)
			return decision
		}
	}
	return false
}

// NewTriggerPolicy votes true when any trigger term occurs in the prompt
// (case-insensitive substring match); otherwise it abstains.
func NewTriggerPolicy(terms []string) Policy {
	lowered := make([]string, len(terms))
	for i, t := range terms {
		lowered[i] = strings.ToLower(t)
	}
	return PolicyFunc(func(_ context.Context, prompt string) (bool, bool) {
		lower := strings.ToLower(prompt)
		for _, term := range lowered {
			if term != "" && strings.Contains(lower, term) {
				return true, true
			}
		}
		return false, false
	})
}

// NewLengthPolicy votes true when the prompt's word count exceeds threshold;
// otherwise it abstains.
func NewLengthPolicy(threshold int) Policy {
	return PolicyFunc(func(_ context.Context, prompt string) (bool, bool) {
		if len(strings.Fields(prompt)) > threshold {
			return true, true
		}
		return false, false
	})
}
