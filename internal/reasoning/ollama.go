package reasoning

import (
	"context"
	"errors"
	"fmt"

	"github.com/YarneD-1952226/A-Multimodal-AI-Driven-GUI-Framework-for-Dynamic-User-Adaptation/internal/ollama"
)

// OllamaChatter is the subset of the Ollama client the backend uses.
type OllamaChatter interface {
	Chat(ctx context.Context, req ollama.ChatRequest) (string, error)
}

// Ollama runs requests against a local Ollama instance.
type Ollama struct {
	client OllamaChatter
}

// NewOllama wraps an Ollama client.
func NewOllama(client OllamaChatter) *Ollama {
	return &Ollama{client: client}
}

func (o *Ollama) Generate(ctx context.Context, req Request) (string, error) {
	var msgs []ollama.Message
	if req.System != "" {
		msgs = append(msgs, ollama.Message{Role: "system", Content: req.System})
	}
	msgs = append(msgs, ollama.Message{Role: "user", Content: req.Prompt})

	temp := req.Temperature
	cr := ollama.ChatRequest{
		Model:    req.Model,
		Messages: msgs,
		Options:  ollama.Options{Temperature: &temp},
		Think:    req.ThinkingBudget > 0,
	}
	if req.Schema != nil {
		cr.Format = req.Schema
	}

	out, err := o.client.Chat(ctx, cr)
	if err != nil {
		return "", classifyOllama(ctx, err)
	}
	if out == "" {
		return "", ErrEmptyResponse
	}
	return out, nil
}

func classifyOllama(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	var se *ollama.StatusError
	if errors.As(err, &se) {
		if kind := classifyStatus(se.StatusCode); kind != nil {
			return fmt.Errorf("ollama: %w: %v", kind, err)
		}
		return fmt.Errorf("ollama: %w", err)
	}
	// Connection refused, reset, DNS: the service is not reachable right now.
	return fmt.Errorf("ollama: %w: %v", ErrUnavailable, err)
}
