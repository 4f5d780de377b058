package gate

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
)

const classifierPrompt = `You are a routing classifier for a chat assistant.
Answer with exactly one word, YES or NO.

Answer YES if the user's message needs supporting documents, citations, or
stored knowledge to answer well. Answer NO for greetings, small talk, and
questions answerable from general knowledge alone.

User message:
%s`

// classifierTimeout bounds the model call so a slow classifier cannot stall
// the whole turn.
const classifierTimeout = 5 * time.Second

// NewClassifierPolicy asks a low-cost model whether the prompt needs
// retrieval. Any error, timeout, or unparseable answer abstains so the
// heuristic policies behind it still apply.
func NewClassifierPolicy(g *genkit.Genkit, model string, logger *slog.Logger) Policy {
	if logger == nil {
		logger = slog.Default()
	}
	return PolicyFunc(func(ctx context.Context, prompt string) (bool, bool) {
		ctx, cancel := context.WithTimeout(ctx, classifierTimeout)
		defer cancel()

		resp, err := genkit.Generate(ctx, g,
			ai.WithModelName(model),
			ai.WithPrompt(classifierPrompt, prompt),
		)
		if err != nil {
			logger.Warn("classifier unavailable, falling through", "error", err)
			return false, false
		}

		answer := strings.ToUpper(strings.TrimSpace(resp.Text()))
		switch {
		case strings.HasPrefix(answer, "YES"):
			return true, true
		case strings.HasPrefix(answer, "NO"):
			return false, true
		default:
			logger.Warn("classifier returned unexpected answer", "answer", answer)
			return false, false
		}
	})
}
