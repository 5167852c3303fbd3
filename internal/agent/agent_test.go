package agent

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/goleak"

	"github.com/YarneD-1952226/A-Multimodal-AI-Driven-GUI-Framework-for-Dynamic-User-Adaptation/internal/adaptation"
	"github.com/YarneD-1952226/A-Multimodal-AI-Driven-GUI-Framework-for-Dynamic-User-Adaptation/internal/event"
	"github.com/YarneD-1952226/A-Multimodal-AI-Driven-GUI-Framework-for-Dynamic-User-Adaptation/internal/profile"
	"github.com/YarneD-1952226/A-Multimodal-AI-Driven-GUI-Framework-for-Dynamic-User-Adaptation/internal/reasoning"
)

// --- Mock reasoning client ---

// step answers the n-th call (0-based) made by a role.
type step func(ctx context.Context, n int) (string, error)

type mockClient struct {
	mu     sync.Mutex
	steps  map[string]step
	counts map[string]int
	reqs   []reasoning.Request
}

func newMockClient(steps map[string]step) *mockClient {
	return &mockClient{steps: steps, counts: make(map[string]int)}
}

func (m *mockClient) Generate(ctx context.Context, req reasoning.Request) (string, error) {
	m.mu.Lock()
	n := m.counts[req.Role]
	m.counts[req.Role]++
	m.reqs = append(m.reqs, req)
	s, ok := m.steps[req.Role]
	m.mu.Unlock()
	if !ok {
		return "", errors.New("unexpected role " + req.Role)
	}
	return s(ctx, n)
}

func (m *mockClient) count(role string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counts[role]
}

// The opencensus view worker is started by a dependency's package init.
var ignoreCensus = goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start")

func reply(s string) step {
	return func(context.Context, int) (string, error) { return s, nil }
}

func fail(err error) step {
	return func(context.Context, int) (string, error) { return "", err }
}

// hang blocks until the caller gives up.
func hang() step {
	return func(ctx context.Context, _ int) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	}
}

func sequence(steps ...step) step {
	return func(ctx context.Context, n int) (string, error) {
		if n >= len(steps) {
			n = len(steps) - 1
		}
		return steps[n](ctx, n)
	}
}

const (
	intentOK    = `{"intent":"press the lamp button","difficulty":"missed the target"}`
	proposalOne = `{"adaptations":[{"action":"increase_button_size","target":"lamp","value":1.5,"reason":"missed tap","intent":"press lamp"}]}`
	proposalTwo = `{"adaptations":[{"action":"increase_button_size","target":"lamp","value":1.8,"reason":"missed tap","intent":"press lamp"},{"action":"adjust_spacing","target":"all","value":1.2,"reason":"crowded","intent":"press lamp"}]}`
	approve     = `{"verdict":"approve","feedback":""}`
	revise      = `{"verdict":"revise","feedback":"add spacing"}`
	reject      = `{"verdict":"reject","feedback":"no adaptation needed"}`
)

func testEvent() event.Event {
	return event.Event{
		EventType:     event.TypeMissTap,
		Source:        "touch",
		Timestamp:     "2025-07-01T12:00:00Z",
		UserID:        "user_1",
		TargetElement: "lamp",
	}
}

func testProfile() profile.UserProfile {
	p := profile.Default("user_1")
	p.AccessibilityNeeds.MotorImpaired = true
	return p
}

func newTestOrchestrator(t *testing.T, c reasoning.Client, mutate func(*Config)) *Orchestrator {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Model = "test-model"
	if mutate != nil {
		mutate(&cfg)
	}
	o, err := New(c, cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return o
}

func withTimeout(role string, d time.Duration) func(*Config) {
	return func(c *Config) {
		if c.Roles == nil {
			c.Roles = map[string]RoleConfig{}
		}
		rc := c.Roles[role]
		rc.Timeout = d
		c.Roles[role] = rc
	}
}

func outcomes(traces []Trace) []string {
	out := make([]string, len(traces))
	for i, tr := range traces {
		out[i] = tr.Role + ":" + string(tr.Outcome)
	}
	return out
}

// --- Single mode ---

func TestReason_ApprovedFirstRound(t *testing.T) {
	c := newMockClient(map[string]step{
		RoleIntent:     reply(intentOK),
		RoleProposal:   reply(proposalOne),
		RoleValidation: reply(approve),
	})
	res := newTestOrchestrator(t, c, nil).Reason(context.Background(), testEvent(), testProfile())

	if !res.OK || res.State != StateDone {
		t.Fatalf("OK = %v, State = %v, want done", res.OK, res.State)
	}
	want := []adaptation.Adaptation{adaptation.WithValue(adaptation.IncreaseButtonSize, "lamp", 1.5, "missed tap", "press lamp")}
	if diff := cmp.Diff(want, res.Adaptations); diff != "" {
		t.Errorf("adaptations mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"iia:accepted", "apa:accepted", "vra:accepted"}, outcomes(res.Traces)); diff != "" {
		t.Errorf("trace outcomes mismatch:\n%s", diff)
	}
	if res.Intent != "press the lamp button" {
		t.Errorf("Intent = %q", res.Intent)
	}
	for _, tr := range res.Traces {
		if tr.Model != "test-model" || tr.InputDigest == "" || tr.Config == "" {
			t.Errorf("trace %s missing identifiers: %+v", tr.Role, tr)
		}
	}
}

func TestReason_ApproveWithRefinedList(t *testing.T) {
	c := newMockClient(map[string]step{
		RoleIntent:     reply(intentOK),
		RoleProposal:   reply(proposalTwo),
		RoleValidation: reply(`{"verdict":"approve","feedback":"dropped spacing","adaptations":[{"action":"increase_button_size","target":"lamp","value":1.8,"reason":"missed tap","intent":"press lamp"}]}`),
	})
	res := newTestOrchestrator(t, c, nil).Reason(context.Background(), testEvent(), testProfile())
	if !res.OK || len(res.Adaptations) != 1 || *res.Adaptations[0].Value != 1.8 {
		t.Errorf("got OK=%v %v, want the refined single adaptation", res.OK, res.Adaptations)
	}
}

func TestReason_RevisionCarriesFeedback(t *testing.T) {
	c := newMockClient(map[string]step{
		RoleIntent:     reply(intentOK),
		RoleProposal:   sequence(reply(proposalOne), reply(proposalTwo)),
		RoleValidation: sequence(reply(revise), reply(approve)),
	})
	res := newTestOrchestrator(t, c, nil).Reason(context.Background(), testEvent(), testProfile())

	if !res.OK || res.Revisions != 1 || len(res.Adaptations) != 2 {
		t.Fatalf("OK=%v Revisions=%d adaptations=%d, want ok after one revision with 2 adaptations", res.OK, res.Revisions, len(res.Adaptations))
	}
	var second reasoning.Request
	n := 0
	for _, r := range c.reqs {
		if r.Role == RoleProposal {
			n++
			if n == 2 {
				second = r
			}
		}
	}
	if !strings.Contains(second.Prompt, "add spacing") || !strings.Contains(second.Prompt, "increase_button_size") {
		t.Errorf("revision prompt lacks feedback or previous proposal:\n%s", second.Prompt)
	}
}

// Validation times out after one revision round: two proposal attempts are
// traced and the last proposal is returned unvalidated.
func TestReason_ValidationTimeoutAfterRevision(t *testing.T) {
	defer goleak.VerifyNone(t, ignoreCensus)

	c := newMockClient(map[string]step{
		RoleIntent:     reply(intentOK),
		RoleProposal:   sequence(reply(proposalOne), reply(proposalTwo)),
		RoleValidation: sequence(reply(revise), hang()),
	})
	o := newTestOrchestrator(t, c, withTimeout(RoleValidation, 30*time.Millisecond))
	res := o.Reason(context.Background(), testEvent(), testProfile())

	if res.OK || res.State != StateFailed {
		t.Fatalf("OK = %v, State = %v, want failed", res.OK, res.State)
	}
	want := []string{"iia:accepted", "apa:accepted", "vra:revision_requested", "apa:accepted", "vra:timed_out"}
	if diff := cmp.Diff(want, outcomes(res.Traces)); diff != "" {
		t.Errorf("trace outcomes mismatch (-want +got):\n%s", diff)
	}
	proposals := 0
	for _, tr := range res.Traces {
		if tr.Role == RoleProposal {
			proposals++
		}
	}
	if proposals != 2 {
		t.Errorf("proposal traces = %d, want 2", proposals)
	}
	if len(res.Adaptations) != 2 {
		t.Errorf("adaptations = %d, want the 2 from the last proposal", len(res.Adaptations))
	}
	if last := res.Traces[len(res.Traces)-1]; last.Iteration != 1 {
		t.Errorf("timed-out validation iteration = %d, want 1", last.Iteration)
	}
}

func TestReason_CapPolicy(t *testing.T) {
	tests := []struct {
		policy CapPolicy
		wantOK bool
	}{
		{CapAcceptLast, true},
		{CapFail, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.policy), func(t *testing.T) {
			c := newMockClient(map[string]step{
				RoleIntent:     reply(intentOK),
				RoleProposal:   reply(proposalOne),
				RoleValidation: reply(revise),
			})
			o := newTestOrchestrator(t, c, func(cfg *Config) {
				cfg.MaxRevisions = 1
				cfg.CapPolicy = tt.policy
			})
			res := o.Reason(context.Background(), testEvent(), testProfile())

			if res.OK != tt.wantOK {
				t.Errorf("OK = %v, want %v", res.OK, tt.wantOK)
			}
			if len(res.Adaptations) != 1 {
				t.Errorf("adaptations = %v, want the last proposal", res.Adaptations)
			}
			if got := c.count(RoleProposal); got != 2 {
				t.Errorf("proposal calls = %d, want 2 (cap of 1 revision)", got)
			}
			if got := c.count(RoleValidation); got != 2 {
				t.Errorf("validation calls = %d, want 2", got)
			}
		})
	}
}

func TestReason_ZeroRevisions(t *testing.T) {
	c := newMockClient(map[string]step{
		RoleIntent:     reply(intentOK),
		RoleProposal:   reply(proposalOne),
		RoleValidation: reply(revise),
	})
	o := newTestOrchestrator(t, c, func(cfg *Config) {
		cfg.MaxRevisions = 0
		cfg.CapPolicy = CapFail
	})
	res := o.Reason(context.Background(), testEvent(), testProfile())
	if res.OK || c.count(RoleProposal) != 1 {
		t.Errorf("OK = %v, proposal calls = %d, want failed after one round", res.OK, c.count(RoleProposal))
	}
}

func TestReason_Rejected(t *testing.T) {
	c := newMockClient(map[string]step{
		RoleIntent:     reply(intentOK),
		RoleProposal:   reply(proposalOne),
		RoleValidation: reply(reject),
	})
	res := newTestOrchestrator(t, c, nil).Reason(context.Background(), testEvent(), testProfile())
	if res.OK || res.Adaptations != nil {
		t.Errorf("OK = %v, adaptations = %v, want failed with nothing", res.OK, res.Adaptations)
	}
	if got := res.Traces[len(res.Traces)-1].Outcome; got != OutcomeRejected {
		t.Errorf("last outcome = %q, want rejected", got)
	}
}

func TestReason_IntentTimeout(t *testing.T) {
	defer goleak.VerifyNone(t, ignoreCensus)

	c := newMockClient(map[string]step{RoleIntent: hang()})
	o := newTestOrchestrator(t, c, withTimeout(RoleIntent, 20*time.Millisecond))

	start := time.Now()
	res := o.Reason(context.Background(), testEvent(), testProfile())
	if time.Since(start) > 2*time.Second {
		t.Error("Reason did not honour the intent timeout")
	}
	if res.OK || len(res.Adaptations) != 0 {
		t.Errorf("OK = %v, adaptations = %v, want failed with no output", res.OK, res.Adaptations)
	}
	if diff := cmp.Diff([]string{"iia:timed_out"}, outcomes(res.Traces)); diff != "" {
		t.Errorf("trace outcomes mismatch:\n%s", diff)
	}
	if c.count(RoleProposal) != 0 {
		t.Error("proposal ran after intent failure")
	}
}

func TestReason_OverallDeadline(t *testing.T) {
	defer goleak.VerifyNone(t, ignoreCensus)

	c := newMockClient(map[string]step{
		RoleIntent:   reply(intentOK),
		RoleProposal: hang(),
	})
	o := newTestOrchestrator(t, c, func(cfg *Config) {
		cfg.Deadline = 40 * time.Millisecond
	})
	res := o.Reason(context.Background(), testEvent(), testProfile())
	if res.OK {
		t.Fatal("expected failure at the overall deadline")
	}
	if got := res.Traces[len(res.Traces)-1]; got.Role != RoleProposal || got.Outcome != OutcomeTimedOut {
		t.Errorf("last trace = %s:%s, want apa:timed_out", got.Role, got.Outcome)
	}
}

func TestReason_LateReplyDiscarded(t *testing.T) {
	release := make(chan struct{})
	c := newMockClient(map[string]step{
		RoleIntent: func(ctx context.Context, _ int) (string, error) {
			<-release
			return intentOK, nil
		},
	})
	o := newTestOrchestrator(t, c, withTimeout(RoleIntent, 20*time.Millisecond))
	res := o.Reason(context.Background(), testEvent(), testProfile())
	close(release)

	if res.OK || res.Intent != "" {
		t.Errorf("late reply leaked into the result: %+v", res)
	}
	if res.Traces[0].Outcome != OutcomeTimedOut || res.Traces[0].RawOutput != "" {
		t.Errorf("trace = %+v, want timed_out without output", res.Traces[0])
	}
}

// A reply produced after the role deadline is a timeout even when it
// reaches the caller before the timer does.
func TestReason_ReplyAfterDeadlineIsTimeout(t *testing.T) {
	c := newMockClient(map[string]step{
		RoleIntent: func(ctx context.Context, _ int) (string, error) {
			<-ctx.Done()
			return intentOK, nil
		},
	})
	o := newTestOrchestrator(t, c, withTimeout(RoleIntent, 5*time.Millisecond))

	for i := 0; i < 50; i++ {
		res := o.Reason(context.Background(), testEvent(), testProfile())
		if res.OK || res.Intent != "" {
			t.Fatalf("run %d: after-deadline reply accepted: %+v", i, res)
		}
		if got := res.Traces[0]; got.Outcome != OutcomeTimedOut || got.RawOutput != "" {
			t.Fatalf("run %d: trace = %+v, want timed_out without output", i, got)
		}
	}
}

func TestReason_ServiceErrors(t *testing.T) {
	tests := []struct {
		name  string
		steps map[string]step
		want  []string
	}{
		{
			name:  "intent service error",
			steps: map[string]step{RoleIntent: fail(reasoning.ErrUnavailable)},
			want:  []string{"iia:errored"},
		},
		{
			name:  "malformed intent",
			steps: map[string]step{RoleIntent: reply(`not json`)},
			want:  []string{"iia:errored"},
		},
		{
			name:  "empty intent",
			steps: map[string]step{RoleIntent: reply(`{"intent":"  "}`)},
			want:  []string{"iia:errored"},
		},
		{
			name: "malformed proposal",
			steps: map[string]step{
				RoleIntent:   reply(intentOK),
				RoleProposal: reply(`{"adaptations":"lots"}`),
			},
			want: []string{"iia:accepted", "apa:errored"},
		},
		{
			name: "empty proposal",
			steps: map[string]step{
				RoleIntent:   reply(intentOK),
				RoleProposal: reply(`{"adaptations":[]}`),
			},
			want: []string{"iia:accepted", "apa:accepted"},
		},
		{
			name: "unknown verdict",
			steps: map[string]step{
				RoleIntent:     reply(intentOK),
				RoleProposal:   reply(proposalOne),
				RoleValidation: reply(`{"verdict":"maybe","feedback":""}`),
			},
			want: []string{"iia:accepted", "apa:accepted", "vra:errored"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := newTestOrchestrator(t, newMockClient(tt.steps), nil).Reason(context.Background(), testEvent(), testProfile())
			if res.OK || res.State != StateFailed {
				t.Errorf("OK = %v, State = %v, want failed", res.OK, res.State)
			}
			if diff := cmp.Diff(tt.want, outcomes(res.Traces)); diff != "" {
				t.Errorf("trace outcomes mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestReason_RoleOverrides(t *testing.T) {
	c := newMockClient(map[string]step{
		RoleIntent:     reply(intentOK),
		RoleProposal:   reply(proposalOne),
		RoleValidation: reply(approve),
	})
	temp := 0.7
	budget := 2048
	o := newTestOrchestrator(t, c, func(cfg *Config) {
		cfg.Roles = map[string]RoleConfig{
			RoleValidation: {Model: "critic-model", Temperature: &temp, ThinkingBudget: &budget},
		}
	})
	o.Reason(context.Background(), testEvent(), testProfile())

	for _, r := range c.reqs {
		switch r.Role {
		case RoleValidation:
			if r.Model != "critic-model" || r.Temperature != 0.7 || r.ThinkingBudget != 2048 {
				t.Errorf("validation request = %+v, want overrides applied", r)
			}
		default:
			if r.Model != "test-model" || r.Temperature != 0.2 || r.ThinkingBudget != 0 {
				t.Errorf("%s request = %+v, want defaults", r.Role, r)
			}
		}
		if r.Schema == nil || r.System == "" {
			t.Errorf("%s request missing schema or system prompt", r.Role)
		}
	}
}

// --- Multi mode ---

func TestReason_MultiAgentPartialFailure(t *testing.T) {
	defer goleak.VerifyNone(t, ignoreCensus)

	c := newMockClient(map[string]step{
		RoleIntent:           reply(intentOK),
		RoleProposalUI:       reply(`{"adaptations":[{"action":"increase_font_size","target":"all","value":1.2,"reason":"r","intent":"i"}]}`),
		RoleProposalGeometry: hang(),
		RoleProposalInput:    reply(`{"adaptations":[{"action":"switch_mode","target":"all","mode":"voice","reason":"r","intent":"i"}]}`),
		RoleValidation:       reply(approve),
	})
	o := newTestOrchestrator(t, c, func(cfg *Config) {
		cfg.Mode = ModeMulti
		withTimeout(RoleProposalGeometry, 20*time.Millisecond)(cfg)
	})
	res := o.Reason(context.Background(), testEvent(), testProfile())

	if !res.OK {
		t.Fatalf("OK = false, traces = %v", outcomes(res.Traces))
	}
	var actions []adaptation.Action
	for _, a := range res.Adaptations {
		actions = append(actions, a.Action)
	}
	if diff := cmp.Diff([]adaptation.Action{adaptation.IncreaseFontSize, adaptation.SwitchMode}, actions); diff != "" {
		t.Errorf("merged actions mismatch:\n%s", diff)
	}
	want := []string{"iia:accepted", "apa_ui:accepted", "apa_geometry:timed_out", "apa_input:accepted", "vra:accepted"}
	if diff := cmp.Diff(want, outcomes(res.Traces)); diff != "" {
		t.Errorf("trace outcomes mismatch (-want +got):\n%s", diff)
	}
	if c.count(RoleProposal) != 0 {
		t.Error("single proposer ran in multi mode")
	}
}

func TestReason_MultiAgentAllFail(t *testing.T) {
	c := newMockClient(map[string]step{
		RoleIntent:           reply(intentOK),
		RoleProposalUI:       fail(reasoning.ErrUnavailable),
		RoleProposalGeometry: fail(reasoning.ErrRateLimited),
		RoleProposalInput:    reply(`garbage`),
	})
	o := newTestOrchestrator(t, c, func(cfg *Config) { cfg.Mode = ModeMulti })
	res := o.Reason(context.Background(), testEvent(), testProfile())
	if res.OK || len(res.Adaptations) != 0 {
		t.Errorf("OK = %v, adaptations = %v, want failed with nothing", res.OK, res.Adaptations)
	}
	if c.count(RoleValidation) != 0 {
		t.Error("validation ran with no proposals")
	}
}

func TestReason_MultiAgentDedupe(t *testing.T) {
	same := `{"adaptations":[{"action":"increase_contrast","target":"all","mode":"high","reason":"r","intent":"i"}]}`
	c := newMockClient(map[string]step{
		RoleIntent:           reply(intentOK),
		RoleProposalUI:       reply(same),
		RoleProposalGeometry: reply(same),
		RoleProposalInput:    reply(`{"adaptations":[]}`),
		RoleValidation:       reply(approve),
	})
	o := newTestOrchestrator(t, c, func(cfg *Config) { cfg.Mode = ModeMulti })
	res := o.Reason(context.Background(), testEvent(), testProfile())
	if len(res.Adaptations) != 1 {
		t.Errorf("adaptations = %v, want duplicates collapsed", res.Adaptations)
	}
}

// --- Configuration ---

func TestDeadline(t *testing.T) {
	o := newTestOrchestrator(t, newMockClient(nil), nil)
	if got, want := o.Deadline(), 15*time.Second+3*(30*time.Second); got != want {
		t.Errorf("derived Deadline = %s, want %s", got, want)
	}
	o = newTestOrchestrator(t, newMockClient(nil), func(c *Config) { c.Deadline = 5 * time.Second })
	if got := o.Deadline(); got != 5*time.Second {
		t.Errorf("explicit Deadline = %s, want 5s", got)
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"mode", func(c *Config) { c.Mode = "swarm" }},
		{"cap policy", func(c *Config) { c.CapPolicy = "shrug" }},
		{"revisions", func(c *Config) { c.MaxRevisions = -1 }},
		{"deadline", func(c *Config) { c.Deadline = -time.Second }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			if _, err := New(newMockClient(nil), cfg); err == nil {
				t.Error("expected configuration error")
			}
		})
	}

	cfg := DefaultConfig()
	cfg.Roles = map[string]RoleConfig{"oracle": {}}
	if _, err := New(newMockClient(nil), cfg); err == nil {
		t.Error("expected unknown role error")
	}
}

func TestLoadRoles(t *testing.T) {
	path := filepath.Join(t.TempDir(), "roles.yaml")
	doc := "vra:\n  model: gemini-2.5-flash\n  timeout: 20s\n  thinking_budget: 1024\niia:\n  temperature: 0\n"
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatal(err)
	}
	roles, err := LoadRoles(path, DefaultRoles())
	if err != nil {
		t.Fatalf("LoadRoles: %v", err)
	}
	vra := roles[RoleValidation]
	if vra.Model != "gemini-2.5-flash" || vra.Timeout != 20*time.Second || *vra.ThinkingBudget != 1024 {
		t.Errorf("vra = %+v", vra)
	}
	if vra.System == "" {
		t.Error("system prompt lost in merge")
	}
	if iia := roles[RoleIntent]; iia.Temperature == nil || *iia.Temperature != 0 {
		t.Errorf("explicit zero temperature not kept: %+v", iia)
	}
	if roles[RoleProposal].Timeout != defaultRoleTimeout {
		t.Error("untouched role changed")
	}

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	os.WriteFile(bad, []byte("oracle:\n  model: x\n"), 0o600)
	if _, err := LoadRoles(bad, DefaultRoles()); err == nil {
		t.Error("expected unknown role error")
	}
	if _, err := LoadRoles(filepath.Join(t.TempDir(), "missing.yaml"), DefaultRoles()); err == nil {
		t.Error("expected missing file error")
	}
}

// --- Parsing ---

func TestParseAdaptations_Lenient(t *testing.T) {
	raw := "```json\n" + `{"adaptations":[
		{"action":"increase_button_size","target":"lamp","value":"1.5","reason":"r","intent":"i"},
		{"action":"simplify_layout","target":"card_list","value":"reduced","reason":"r","intent":"i"},
		{"action":"switch_mode","target":"all","mode":"voice","reason":"r","intent":"i"}
	]}` + "\n```"
	got, err := parseAdaptations(raw)
	if err != nil {
		t.Fatalf("parseAdaptations: %v", err)
	}
	want := []adaptation.Adaptation{
		adaptation.WithValue(adaptation.IncreaseButtonSize, "lamp", 1.5, "r", "i"),
		adaptation.WithMode(adaptation.SimplifyLayout, "card_list", "reduced", "r", "i"),
		adaptation.WithMode(adaptation.SwitchMode, "all", "voice", "r", "i"),
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}
}

func TestParseAdaptations_BareArray(t *testing.T) {
	got, err := parseAdaptations(`[{"action":"increase_contrast","target":"all","mode":"high","reason":"r","intent":"i"}]`)
	if err != nil || len(got) != 1 || got[0].Mode != "high" {
		t.Errorf("got %v, %v", got, err)
	}
	if _, err := parseAdaptations(`{"adaptations":`); !errors.Is(err, errMalformedOutput) {
		t.Errorf("err = %v, want errMalformedOutput", err)
	}
}

func TestParseVerdict(t *testing.T) {
	v, err := parseVerdict(`{"verdict":"REVISE","feedback":"fewer changes"}`)
	if err != nil || v.Verdict != VerdictRevise || v.Feedback != "fewer changes" {
		t.Errorf("got %+v, %v", v, err)
	}
	if _, err := parseVerdict(`{"verdict":""}`); !errors.Is(err, errMalformedOutput) {
		t.Errorf("err = %v, want errMalformedOutput", err)
	}
}

func TestProposalPrompt_RestrictsActions(t *testing.T) {
	p := buildProposalPrompt(testEvent(), testProfile(), 10, Intent{Goal: "g"}, RoleProposalUI, nil, "")
	if !strings.Contains(p, "increase_font_size") || strings.Contains(p, "switch_mode") {
		t.Errorf("UI proposer prompt lists wrong actions:\n%s", p)
	}
	if !strings.Contains(p, "motor impaired") || !strings.Contains(p, `"target_element":"lamp"`) {
		t.Errorf("prompt missing profile or event:\n%s", p)
	}
}

func TestDigest(t *testing.T) {
	if digest("a", "b") != digest("a", "b") {
		t.Error("digest not deterministic")
	}
	if digest("ab", "") == digest("a", "b") {
		t.Error("digest ambiguous across system/prompt boundary")
	}
}
