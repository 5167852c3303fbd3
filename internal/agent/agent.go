// Package agent runs the reasoning roles (intent inference, adaptation
// proposal, validation and refinement) as a finite-state machine over a
// reasoning.Client. Every state entered appends a Trace; the machine never
// retries a role within one invocation and never outlives its deadline.
package agent

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/YarneD-1952226/A-Multimodal-AI-Driven-GUI-Framework-for-Dynamic-User-Adaptation/internal/adaptation"
	"github.com/YarneD-1952226/A-Multimodal-AI-Driven-GUI-Framework-for-Dynamic-User-Adaptation/internal/event"
	"github.com/YarneD-1952226/A-Multimodal-AI-Driven-GUI-Framework-for-Dynamic-User-Adaptation/internal/profile"
	"github.com/YarneD-1952226/A-Multimodal-AI-Driven-GUI-Framework-for-Dynamic-User-Adaptation/internal/reasoning"
)

// State is a node of the orchestration state machine.
type State int

const (
	StateIntent State = iota
	StateProposal
	StateValidation
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIntent:
		return "intent_inference"
	case StateProposal:
		return "adaptation_proposal"
	case StateValidation:
		return "validation"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Outcome is how one role invocation ended.
type Outcome string

const (
	OutcomeAccepted          Outcome = "accepted"
	OutcomeRejected          Outcome = "rejected"
	OutcomeRevisionRequested Outcome = "revision_requested"
	OutcomeTimedOut          Outcome = "timed_out"
	OutcomeErrored           Outcome = "errored"
)

// Trace records one role invocation.
type Trace struct {
	Role        string  `json:"role"`
	Model       string  `json:"model"`
	Config      string  `json:"config"`
	InputDigest string  `json:"input_digest"`
	RawOutput   string  `json:"raw_output,omitempty"`
	LatencyMs   int64   `json:"latency_ms"`
	Outcome     Outcome `json:"outcome"`
	Iteration   int     `json:"iteration"`
	Error       string  `json:"error,omitempty"`
}

// Mode selects single-proposer or specialised multi-proposer operation.
type Mode string

const (
	ModeSingle Mode = "single"
	ModeMulti  Mode = "multi"
)

// CapPolicy decides what a revision request past MaxRevisions means.
type CapPolicy string

const (
	// CapAcceptLast accepts the last proposal as if it had been approved.
	CapAcceptLast CapPolicy = "accept_last"
	// CapFail fails the invocation, keeping the last proposal as unvalidated output.
	CapFail CapPolicy = "fail"
)

// Config tunes the orchestrator.
type Config struct {
	Mode           Mode
	Model          string
	Temperature    float64
	ThinkingBudget int
	MaxRevisions   int
	CapPolicy      CapPolicy
	// Deadline bounds a whole invocation. Zero derives it from the role
	// timeouts and MaxRevisions.
	Deadline    time.Duration
	HistoryTail int
	Roles       map[string]RoleConfig
}

// DefaultConfig returns the single-proposer configuration with two revision
// rounds.
func DefaultConfig() Config {
	return Config{
		Mode:         ModeSingle,
		Temperature:  0.2,
		MaxRevisions: 2,
		CapPolicy:    CapAcceptLast,
		HistoryTail:  10,
		Roles:        DefaultRoles(),
	}
}

// Validate reports configuration errors that must abort startup.
func (c Config) Validate() error {
	switch c.Mode {
	case ModeSingle, ModeMulti:
	default:
		return fmt.Errorf("agent: unknown mode %q (want single or multi)", c.Mode)
	}
	switch c.CapPolicy {
	case CapAcceptLast, CapFail:
	default:
		return fmt.Errorf("agent: unknown cap policy %q (want accept_last or fail)", c.CapPolicy)
	}
	if c.MaxRevisions < 0 {
		return fmt.Errorf("agent: max revisions must be >= 0, got %d", c.MaxRevisions)
	}
	if c.Deadline < 0 {
		return fmt.Errorf("agent: deadline must be >= 0, got %s", c.Deadline)
	}
	return nil
}

// Result is the outcome of one invocation. Adaptations holds the approved
// list when OK, or the last unvalidated proposal (possibly empty) when not.
type Result struct {
	Adaptations []adaptation.Adaptation
	Traces      []Trace
	OK          bool
	State       State
	Intent      string
	Revisions   int
}

// Orchestrator runs the role pipeline against a reasoning service.
type Orchestrator struct {
	client reasoning.Client
	cfg    Config
	log    *slog.Logger
}

// New creates an Orchestrator. Roles missing from cfg.Roles fall back to
// DefaultRoles.
func New(client reasoning.Client, cfg Config) (*Orchestrator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	roles := DefaultRoles()
	for name, rc := range cfg.Roles {
		base, ok := roles[name]
		if !ok {
			return nil, fmt.Errorf("agent: unknown role %q", name)
		}
		roles[name] = base.merge(rc)
	}
	cfg.Roles = roles
	if cfg.HistoryTail <= 0 {
		cfg.HistoryTail = 10
	}
	return &Orchestrator{client: client, cfg: cfg, log: slog.Default()}, nil
}

// Config returns the effective configuration.
func (o *Orchestrator) Config() Config {
	return o.cfg
}

func (o *Orchestrator) proposerRoles() []string {
	if o.cfg.Mode == ModeMulti {
		return []string{RoleProposalUI, RoleProposalGeometry, RoleProposalInput}
	}
	return []string{RoleProposal}
}

// Deadline is the wall-clock bound applied to a single Reason call.
func (o *Orchestrator) Deadline() time.Duration {
	if o.cfg.Deadline > 0 {
		return o.cfg.Deadline
	}
	var propose time.Duration
	for _, name := range o.proposerRoles() {
		propose = max(propose, o.cfg.Roles[name].Timeout)
	}
	rounds := time.Duration(o.cfg.MaxRevisions + 1)
	return o.cfg.Roles[RoleIntent].Timeout + rounds*(propose+o.cfg.Roles[RoleValidation].Timeout)
}

// Reason runs the state machine for one event. The profile is a read-only
// snapshot. Reason never returns an error: every failure ends in StateFailed
// with the reason recorded in the traces.
func (o *Orchestrator) Reason(ctx context.Context, ev event.Event, p profile.UserProfile) Result {
	ctx, cancel := context.WithTimeout(ctx, o.Deadline())
	defer cancel()

	r := &run{o: o, ev: ev, p: p}
	state := StateIntent
	for state != StateDone && state != StateFailed {
		switch state {
		case StateIntent:
			state = r.inferIntent(ctx)
		case StateProposal:
			state = r.propose(ctx)
		case StateValidation:
			state = r.validate(ctx)
		default:
			state = StateFailed
		}
	}

	res := Result{
		Adaptations: r.proposal,
		Traces:      r.traces,
		OK:          state == StateDone,
		State:       state,
		Intent:      r.intent.Goal,
		Revisions:   r.iteration,
	}
	o.log.Debug("agent pipeline finished",
		"user_id", ev.UserID,
		"state", state,
		"adaptations", len(res.Adaptations),
		"revisions", r.iteration,
		"traces", len(r.traces),
	)
	return res
}

// run holds the per-invocation machine state.
type run struct {
	o  *Orchestrator
	ev event.Event
	p  profile.UserProfile

	intent    Intent
	proposal  []adaptation.Adaptation
	feedback  string
	iteration int
	traces    []Trace
}

func (r *run) inferIntent(ctx context.Context) State {
	prompt := buildIntentPrompt(r.ev, r.p, r.o.cfg.HistoryTail)
	raw, tr, err := r.o.call(ctx, RoleIntent, prompt, intentSchema(), r.iteration)
	if err == nil {
		r.intent, err = parseIntent(raw)
		tr = settle(tr, err, OutcomeAccepted)
	}
	r.traces = append(r.traces, tr)
	if err != nil {
		r.o.log.Warn("intent inference failed", "user_id", r.ev.UserID, "outcome", tr.Outcome, "error", err)
		return StateFailed
	}
	return StateProposal
}

func (r *run) propose(ctx context.Context) State {
	roles := r.o.proposerRoles()
	lists := make([][]adaptation.Adaptation, len(roles))
	traces := make([]Trace, len(roles))
	errs := make([]error, len(roles))

	g, gctx := errgroup.WithContext(ctx)
	for i, role := range roles {
		g.Go(func() error {
			prompt := buildProposalPrompt(r.ev, r.p, r.o.cfg.HistoryTail, r.intent, role, r.proposal, r.feedback)
			raw, tr, err := r.o.call(gctx, role, prompt, proposalSchema(proposerActions[role]), r.iteration)
			if err == nil {
				lists[i], err = parseAdaptations(raw)
				tr = settle(tr, err, OutcomeAccepted)
			}
			traces[i], errs[i] = tr, err
			// A failed proposer must not cancel its siblings.
			return nil
		})
	}
	_ = g.Wait()

	r.traces = append(r.traces, traces...)
	var merged []adaptation.Adaptation
	succeeded := 0
	for i, err := range errs {
		if err != nil {
			r.o.log.Warn("proposal failed", "role", roles[i], "iteration", r.iteration, "outcome", traces[i].Outcome, "error", err)
			continue
		}
		succeeded++
		merged = append(merged, lists[i]...)
	}
	if succeeded == 0 {
		return StateFailed
	}
	r.proposal = dedupe(merged)
	if len(r.proposal) == 0 {
		return StateFailed
	}
	return StateValidation
}

func (r *run) validate(ctx context.Context) State {
	prompt := buildValidationPrompt(r.ev, r.p, r.o.cfg.HistoryTail, r.intent, r.proposal)
	raw, tr, err := r.o.call(ctx, RoleValidation, prompt, verdictSchema(), r.iteration)
	var v verdictReply
	if err == nil {
		v, err = parseVerdict(raw)
		tr = settle(tr, err, verdictOutcome(v.Verdict))
	}
	r.traces = append(r.traces, tr)
	if err != nil {
		r.o.log.Warn("validation failed", "user_id", r.ev.UserID, "iteration", r.iteration, "outcome", tr.Outcome, "error", err)
		return StateFailed
	}

	switch v.Verdict {
	case VerdictApprove:
		if len(v.Adaptations) > 0 {
			r.proposal = dedupe(v.Adaptations)
		}
		return StateDone
	case VerdictReject:
		r.o.log.Debug("proposal rejected", "user_id", r.ev.UserID, "feedback", v.Feedback)
		r.proposal = nil
		return StateFailed
	}

	if r.iteration >= r.o.cfg.MaxRevisions {
		r.o.log.Debug("revision cap reached", "user_id", r.ev.UserID, "policy", r.o.cfg.CapPolicy)
		if r.o.cfg.CapPolicy == CapAcceptLast {
			return StateDone
		}
		return StateFailed
	}
	r.iteration++
	r.feedback = v.Feedback
	return StateProposal
}

func verdictOutcome(v Verdict) Outcome {
	switch v {
	case VerdictRevise:
		return OutcomeRevisionRequested
	case VerdictReject:
		return OutcomeRejected
	}
	return OutcomeAccepted
}

// settle fills in the trace outcome once the raw output has been parsed.
func settle(tr Trace, parseErr error, ok Outcome) Trace {
	if parseErr != nil {
		tr.Outcome = OutcomeErrored
		tr.Error = parseErr.Error()
		return tr
	}
	tr.Outcome = ok
	return tr
}

// dedupe keeps the first adaptation per (action, target) pair.
func dedupe(in []adaptation.Adaptation) []adaptation.Adaptation {
	seen := make(map[string]bool, len(in))
	out := make([]adaptation.Adaptation, 0, len(in))
	for _, a := range in {
		if seen[a.Key()] {
			continue
		}
		seen[a.Key()] = true
		out = append(out, a)
	}
	return out
}

type genReply struct {
	out string
	err error
}

// call performs one role invocation under the role timeout. The returned
// trace has its outcome set only on failure. A reply that arrives after the
// timeout is dropped.
func (o *Orchestrator) call(ctx context.Context, role, prompt string, schema *reasoning.Schema, iteration int) (string, Trace, error) {
	rc := o.cfg.Roles[role]
	req := reasoning.Request{
		Role:           role,
		Model:          o.cfg.Model,
		System:         rc.System,
		Prompt:         prompt,
		Temperature:    o.cfg.Temperature,
		ThinkingBudget: o.cfg.ThinkingBudget,
		Schema:         schema,
	}
	if rc.Model != "" {
		req.Model = rc.Model
	}
	if rc.Temperature != nil {
		req.Temperature = *rc.Temperature
	}
	if rc.ThinkingBudget != nil {
		req.ThinkingBudget = *rc.ThinkingBudget
	}

	tr := Trace{
		Role:        role,
		Model:       req.Model,
		Config:      fmt.Sprintf("temperature=%g thinking_budget=%d timeout=%s", req.Temperature, req.ThinkingBudget, rc.Timeout),
		InputDigest: digest(req.System, prompt),
		Iteration:   iteration,
	}

	timeout := rc.Timeout
	if timeout <= 0 {
		timeout = defaultRoleTimeout
	}
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	ch := make(chan genReply, 1)
	go func() {
		out, err := o.client.Generate(cctx, req)
		ch <- genReply{out: out, err: err}
	}()

	select {
	case rep := <-ch:
		tr.LatencyMs = time.Since(start).Milliseconds()
		if rep.err == nil && cctx.Err() != nil {
			tr.Outcome = OutcomeTimedOut
			tr.Error = cctx.Err().Error()
			return "", tr, cctx.Err()
		}
		tr.RawOutput = rep.out
		if rep.err != nil {
			tr.Outcome = OutcomeErrored
			if cctx.Err() != nil || errors.Is(rep.err, context.DeadlineExceeded) {
				tr.Outcome = OutcomeTimedOut
			}
			tr.Error = rep.err.Error()
			return "", tr, rep.err
		}
		return rep.out, tr, nil
	case <-cctx.Done():
		tr.LatencyMs = time.Since(start).Milliseconds()
		tr.Outcome = OutcomeTimedOut
		tr.Error = cctx.Err().Error()
		return "", tr, cctx.Err()
	}
}

// digest fingerprints the role input (event, profile and history are all
// rendered into the prompt).
func digest(system, prompt string) string {
	h := sha256.New()
	h.Write([]byte(system))
	h.Write([]byte{0})
	h.Write([]byte(prompt))
	return hex.EncodeToString(h.Sum(nil))
}
