package generate

import (
	"context"
	"errors"
	"fmt"
)

// Error kinds for upstream model failures. Callers branch on these with
// errors.Is; the original provider error stays wrapped underneath.
var (
	ErrTimeout        = errors.New("model call timed out")
	ErrRateLimited    = errors.New("model rate limited")
	ErrInvalidRequest = errors.New("invalid model request")
	ErrUnavailable    = errors.New("model unavailable")
)

// classify maps a provider error onto one of the exported kinds. Provider
// SDKs expose no typed errors for these conditions, so matching falls back
// to the same substring groups the retry logic uses.
func classify(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.Canceled):
		return err
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	case containsAny(err.Error(), "rate limit", "quota exceeded", "429"):
		return fmt.Errorf("%w: %w", ErrRateLimited, err)
	case containsAny(err.Error(), "timeout", "deadline"):
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	case containsAny(err.Error(), "invalid", "400", "bad request"):
		return fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	default:
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
}
