package ollama

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"
)

// warmupTimeout bounds the first chat call that loads the model into memory.
const warmupTimeout = 30 * time.Second

// EnsureReady verifies Ollama is reachable and model is present, pulling it
// when missing. It then loads the model with a throwaway chat so the first
// agent stage is not charged the cold start against its timeout. Progress
// goes to w. Only an unreachable server or a failed pull is an error.
func EnsureReady(ctx context.Context, c *Client, model string, w io.Writer) error {
	if !c.IsRunning(ctx) {
		return errors.New("Ollama is not running. Start it with: ollama serve")
	}

	if !c.HasModel(ctx, model) {
		fmt.Fprintf(w, "model %s: pulling...\n", model)
		if err := c.PullModel(ctx, model, progressPrinter(w)); err != nil {
			return fmt.Errorf("pulling model %s: %w", model, err)
		}
	}
	fmt.Fprintf(w, "model %s: ready\n", model)

	warmCtx, cancel := context.WithTimeout(ctx, warmupTimeout)
	defer cancel()
	_, err := c.Chat(warmCtx, ChatRequest{
		Model:    model,
		Messages: []Message{{Role: "user", Content: "ping"}},
		Options:  Options{NumPredict: 1},
	})
	if err != nil {
		fmt.Fprintf(w, "model %s: warm-up failed (non-fatal): %v\n", model, err)
		return nil
	}
	fmt.Fprintf(w, "model %s: warm\n", model)
	return nil
}

func progressPrinter(w io.Writer) func(PullProgress) {
	return func(p PullProgress) {
		if p.Total > 0 {
			fmt.Fprintf(w, "  %s %.0f%%\n", p.Status, 100*float64(p.Completed)/float64(p.Total))
			return
		}
		fmt.Fprintf(w, "  %s\n", p.Status)
	}
}
