// Package reasoning abstracts the remote reasoning service the agent roles
// call. Backends translate a Request into one provider round trip; failures
// are classified so the transport-level retry can tell transient errors from
// permanent ones.
package reasoning

import (
	"context"
	"errors"
)

var (
	// ErrRateLimited marks a provider throttling response (HTTP 429).
	ErrRateLimited = errors.New("reasoning service rate limited")
	// ErrUnavailable marks a transient provider failure: 5xx or a transport error.
	ErrUnavailable = errors.New("reasoning service unavailable")
	// ErrEmptyResponse is returned when the provider answered with no content.
	ErrEmptyResponse = errors.New("reasoning service returned no content")
)

// Request is one round trip to the reasoning service.
type Request struct {
	// Role names the calling agent role; used for logging only.
	Role   string
	Model  string
	System string
	Prompt string

	Temperature float64
	// ThinkingBudget is the provider's reasoning-token budget; 0 disables thinking.
	ThinkingBudget int
	// Schema, when set, requests JSON output conforming to it.
	Schema *Schema
}

// Client generates a single completion.
type Client interface {
	Generate(ctx context.Context, req Request) (string, error)
}

// Retryable reports whether err is worth another attempt.
func Retryable(err error) bool {
	return errors.Is(err, ErrRateLimited) || errors.Is(err, ErrUnavailable)
}

// classifyStatus maps an HTTP status code onto the package sentinels.
func classifyStatus(code int) error {
	switch {
	case code == 429:
		return ErrRateLimited
	case code >= 500:
		return ErrUnavailable
	}
	return nil
}
