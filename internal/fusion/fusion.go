// Package fusion sequences the rule engine, the agent pipeline and the
// output validator for one event, and picks the answer from a three-tier
// degradation ladder:
//
//  1. validated agent output (validated_by_validator)
//  2. unvalidated agent output merged with rule output (combined_agent_suggestions)
//  3. rule output alone (mock_rule_fallback)
//
// Reasoning failures never surface as errors; only a malformed event does.
package fusion

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/YarneD-1952226/A-Multimodal-AI-Driven-GUI-Framework-for-Dynamic-User-Adaptation/internal/adaptation"
	"github.com/YarneD-1952226/A-Multimodal-AI-Driven-GUI-Framework-for-Dynamic-User-Adaptation/internal/adaptlog"
	"github.com/YarneD-1952226/A-Multimodal-AI-Driven-GUI-Framework-for-Dynamic-User-Adaptation/internal/agent"
	"github.com/YarneD-1952226/A-Multimodal-AI-Driven-GUI-Framework-for-Dynamic-User-Adaptation/internal/event"
	"github.com/YarneD-1952226/A-Multimodal-AI-Driven-GUI-Framework-for-Dynamic-User-Adaptation/internal/profile"
	"github.com/YarneD-1952226/A-Multimodal-AI-Driven-GUI-Framework-for-Dynamic-User-Adaptation/internal/validator"
)

// RuleEvaluator is the deterministic fallback producer.
type RuleEvaluator interface {
	Evaluate(ev event.Event, p profile.UserProfile) []adaptation.Adaptation
}

// Reasoner runs the agent pipeline.
type Reasoner interface {
	Reason(ctx context.Context, ev event.Event, p profile.UserProfile) agent.Result
}

// Checker validates candidate adaptations.
type Checker interface {
	Check(adaptations []adaptation.Adaptation, p profile.UserProfile) validator.Report
}

// Sessions hands out exclusive per-user profile sessions.
type Sessions interface {
	Begin(ctx context.Context, userID string) (*profile.Session, error)
}

// Result is the answer to one event.
type Result struct {
	LogID          string                    `json:"log_id"`
	Adaptations    []adaptation.Adaptation   `json:"adaptations"`
	Classification adaptation.Classification `json:"classification"`
	// Persisted is false when the profile store could not be read or
	// written; the adaptations were computed against a default profile.
	Persisted  bool                  `json:"persisted"`
	Violations []validator.Violation `json:"violations,omitempty"`
	Traces     []agent.Trace         `json:"traces,omitempty"`
	AgentState string                `json:"agent_state,omitempty"`
	LatencyMs  int64                 `json:"latency_ms"`
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithAgent enables the agent pipeline. Without it every event is answered
// by the rule engine.
func WithAgent(r Reasoner) Option {
	return func(c *Coordinator) { c.agent = r }
}

// WithRecorder sets where decisions are logged.
func WithRecorder(r adaptlog.Recorder) Option {
	return func(c *Coordinator) { c.recorder = r }
}

// WithClock overrides the time source.
func WithClock(clock profile.Clock) Option {
	return func(c *Coordinator) { c.clock = clock }
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Coordinator is the top-level fusion entry point. It is safe for
// concurrent use; per-user ordering comes from Sessions.
type Coordinator struct {
	rules     RuleEvaluator
	agent     Reasoner
	validator Checker
	sessions  Sessions
	recorder  adaptlog.Recorder
	clock     profile.Clock
	log       *slog.Logger
}

// New creates a Coordinator.
func New(rules RuleEvaluator, v Checker, sessions Sessions, opts ...Option) *Coordinator {
	c := &Coordinator{
		rules:     rules,
		validator: v,
		sessions:  sessions,
		clock:     realClock{},
		log:       slog.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// AgentEnabled reports whether the agent pipeline runs.
func (c *Coordinator) AgentEnabled() bool {
	return c.agent != nil
}

// Fuse processes one event. It returns an error wrapping event.ErrMalformed
// for an invalid event, or the context error if ctx ends while waiting for
// the user's profile lock; every other failure degrades the answer instead.
func (c *Coordinator) Fuse(ctx context.Context, ev event.Event) (Result, error) {
	if err := ev.Validate(); err != nil {
		return Result{}, err
	}
	start := c.clock.Now()

	sess, err := c.sessions.Begin(ctx, ev.UserID)
	if err != nil {
		return Result{}, err
	}
	defer sess.Close()
	p := sess.Profile

	ruleOut := c.rules.Evaluate(ev, p)

	var ar agent.Result
	if c.agent != nil {
		ar = c.agent.Reason(ctx, ev, p)
	}
	d := c.arbitrate(ruleOut, ar, p)

	persisted := true
	if err := sess.Commit(ev, d.final, d.class); err != nil {
		persisted = false
		if errors.Is(err, profile.ErrStoreUnavailable) {
			c.log.Error("profile not persisted, response is degraded", "user_id", ev.UserID, "error", err)
		} else {
			c.log.Error("profile commit failed", "user_id", ev.UserID, "error", err)
		}
	}
	sess.Close()

	res := Result{
		LogID:          uuid.NewString(),
		Adaptations:    d.final,
		Classification: d.class,
		Persisted:      persisted,
		Violations:     d.violations,
		Traces:         ar.Traces,
		LatencyMs:      c.clock.Now().Sub(start).Milliseconds(),
	}
	if c.agent != nil {
		res.AgentState = ar.State.String()
	}

	c.record(ev, res, ruleOut, ar)

	c.log.Debug("event fused",
		"user_id", ev.UserID,
		"event_type", ev.EventType,
		"classification", res.Classification,
		"adaptations", len(res.Adaptations),
		"persisted", persisted,
		"latency_ms", res.LatencyMs,
	)
	return res, nil
}

type decision struct {
	final      []adaptation.Adaptation
	class      adaptation.Classification
	violations []validator.Violation
}

// arbitrate walks the degradation ladder.
func (c *Coordinator) arbitrate(ruleOut []adaptation.Adaptation, ar agent.Result, p profile.UserProfile) decision {
	var d decision

	if ar.OK && len(ar.Adaptations) > 0 {
		rep := c.validator.Check(ar.Adaptations, p)
		d.violations = rep.Violations
		if rep.OK {
			d.final = adaptation.CloneAll(ar.Adaptations)
			d.class = adaptation.ValidatedByValidator
			return d
		}
		c.log.Warn("agent output failed validation, falling back",
			"user_id", p.UserID,
			"violations", rep.Strings(),
			"coherence", rep.Coherence,
		)
	}

	if len(ar.Adaptations) > 0 {
		if merged, fromAgent := combine(ar.Adaptations, ruleOut); fromAgent > 0 {
			d.final = merged
			d.class = adaptation.CombinedAgentSuggestions
			return d
		}
		c.log.Warn("no agent suggestion passed the schema check, using rule output", "user_id", p.UserID)
	}

	d.final = adaptation.CloneAll(ruleOut)
	if d.final == nil {
		d.final = []adaptation.Adaptation{}
	}
	d.class = adaptation.MockRuleFallback
	return d
}

// combine merges agent suggestions ahead of rule output. Agent suggestions
// that fail the schema check are dropped, (action, target) duplicates keep
// their first occurrence, and only the first switch_mode survives. It
// returns the merged list and how many entries came from the agent.
func combine(agentOut, ruleOut []adaptation.Adaptation) ([]adaptation.Adaptation, int) {
	seen := make(map[string]bool)
	switched := false
	out := []adaptation.Adaptation{}
	fromAgent := 0

	add := func(a adaptation.Adaptation) bool {
		if seen[a.Key()] {
			return false
		}
		if a.Action == adaptation.SwitchMode {
			if switched {
				return false
			}
			switched = true
		}
		seen[a.Key()] = true
		out = append(out, a.Clone())
		return true
	}

	for _, a := range agentOut {
		if adaptation.Check(a) != nil {
			continue
		}
		if add(a) {
			fromAgent++
		}
	}
	for _, a := range ruleOut {
		add(a)
	}
	return out, fromAgent
}

func (c *Coordinator) record(ev event.Event, res Result, ruleOut []adaptation.Adaptation, ar agent.Result) {
	if c.recorder == nil {
		return
	}
	entry := adaptlog.Entry{
		ID:                res.LogID,
		Timestamp:         c.clock.Now().UTC(),
		UserID:            ev.UserID,
		Event:             ev,
		Adaptations:       res.Adaptations,
		Classification:    res.Classification,
		RuleAdaptations:   ruleOut,
		AgentAdaptations:  ar.Adaptations,
		AgentState:        res.AgentState,
		Violations:        res.Violations,
		Traces:            res.Traces,
		Persisted:         res.Persisted,
		LatencyMs:         res.LatencyMs,
		VocabularyVersion: adaptation.VocabularyVersion,
	}
	if err := c.recorder.Record(entry); err != nil {
		c.log.Error("writing adaptation log", "log_id", res.LogID, "user_id", ev.UserID, "error", err)
	}
}
