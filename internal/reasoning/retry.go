package reasoning

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"
)

const defaultInitialBackoff = 500 * time.Millisecond

// Retry wraps a Client with a bounded retry budget for rate-limited and
// transient failures. It never retries past the caller's deadline.
type Retry struct {
	next           Client
	maxRetries     int
	initialBackoff time.Duration
}

// WithRetry wraps next. maxRetries is the number of extra attempts after the
// first; 0 disables retrying.
func WithRetry(next Client, maxRetries int) *Retry {
	return &Retry{next: next, maxRetries: max(0, maxRetries), initialBackoff: defaultInitialBackoff}
}

func (r *Retry) Generate(ctx context.Context, req Request) (string, error) {
	var lastErr error
	attempts := 0
	for attempt := range r.maxRetries + 1 {
		attempts++
		out, err := r.next.Generate(ctx, req)
		if err == nil {
			return out, nil
		}
		if !Retryable(err) {
			return "", err
		}
		lastErr = err
		if attempt == r.maxRetries {
			break
		}

		backoff := time.Duration(float64(r.initialBackoff) * math.Pow(2, float64(attempt)))
		if dl, ok := ctx.Deadline(); ok && time.Until(dl) < backoff {
			break
		}
		slog.Debug("retrying reasoning call", "role", req.Role, "attempt", attempt+1, "backoff", backoff, "error", err)
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(backoff):
		}
	}
	return "", fmt.Errorf("after %d attempts: %w", attempts, lastErr)
}
