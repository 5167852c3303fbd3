package fusion

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/goleak"

	"github.com/YarneD-1952226/A-Multimodal-AI-Driven-GUI-Framework-for-Dynamic-User-Adaptation/internal/adaptation"
	"github.com/YarneD-1952226/A-Multimodal-AI-Driven-GUI-Framework-for-Dynamic-User-Adaptation/internal/adaptlog"
	"github.com/YarneD-1952226/A-Multimodal-AI-Driven-GUI-Framework-for-Dynamic-User-Adaptation/internal/agent"
	"github.com/YarneD-1952226/A-Multimodal-AI-Driven-GUI-Framework-for-Dynamic-User-Adaptation/internal/event"
	"github.com/YarneD-1952226/A-Multimodal-AI-Driven-GUI-Framework-for-Dynamic-User-Adaptation/internal/profile"
	"github.com/YarneD-1952226/A-Multimodal-AI-Driven-GUI-Framework-for-Dynamic-User-Adaptation/internal/reasoning"
	"github.com/YarneD-1952226/A-Multimodal-AI-Driven-GUI-Framework-for-Dynamic-User-Adaptation/internal/rules"
	"github.com/YarneD-1952226/A-Multimodal-AI-Driven-GUI-Framework-for-Dynamic-User-Adaptation/internal/storage"
	"github.com/YarneD-1952226/A-Multimodal-AI-Driven-GUI-Framework-for-Dynamic-User-Adaptation/internal/validator"
)

// --- Test doubles ---

// fakeReasoner returns a canned agent result.
type fakeReasoner struct {
	res   agent.Result
	calls int
	mu    sync.Mutex
}

func (f *fakeReasoner) Reason(ctx context.Context, ev event.Event, p profile.UserProfile) agent.Result {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	return f.res
}

type memRecorder struct {
	mu      sync.Mutex
	entries []adaptlog.Entry
}

func (m *memRecorder) Record(e adaptlog.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, e)
	return nil
}

// flakyStore wraps a real store and can fail reads or writes.
type flakyStore struct {
	*storage.Store
	getErr error
	putErr error
}

func (f *flakyStore) GetProfileDoc(userID string) ([]byte, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	return f.Store.GetProfileDoc(userID)
}

func (f *flakyStore) PutProfileDoc(userID string, doc []byte) error {
	if f.putErr != nil {
		return f.putErr
	}
	return f.Store.PutProfileDoc(userID, doc)
}

type fixture struct {
	store    *flakyStore
	profiles *profile.Manager
	rules    *rules.Engine
	rec      *memRecorder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	s, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	engine, err := rules.New(rules.DefaultParams())
	if err != nil {
		t.Fatalf("rules.New: %v", err)
	}
	fs := &flakyStore{Store: s}
	return &fixture{store: fs, profiles: profile.NewManager(fs), rules: engine, rec: &memRecorder{}}
}

func (f *fixture) coordinator(t *testing.T, opts ...Option) *Coordinator {
	t.Helper()
	v, err := validator.New(validator.DefaultThresholds())
	if err != nil {
		t.Fatal(err)
	}
	opts = append([]Option{WithRecorder(f.rec)}, opts...)
	return New(f.rules, v, f.profiles, opts...)
}

func (f *fixture) setNeeds(t *testing.T, userID string, needs profile.AccessibilityNeeds) {
	t.Helper()
	if _, _, err := f.profiles.Upsert(context.Background(), profile.Delta{UserID: userID, AccessibilityNeeds: &needs}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
}

func missTap(user, target string) event.Event {
	return event.Event{
		EventType:     event.TypeMissTap,
		Source:        "touch",
		Timestamp:     "2025-07-01T12:00:00Z",
		UserID:        user,
		TargetElement: target,
	}
}

func actions(list []adaptation.Adaptation) []string {
	out := make([]string, len(list))
	for i, a := range list {
		out[i] = string(a.Action) + "@" + a.Target
	}
	return out
}

// --- Scenarios ---

func TestFuse_MissTapRuleOnly(t *testing.T) {
	f := newFixture(t)
	f.setNeeds(t, "user_1", profile.AccessibilityNeeds{MotorImpaired: true})
	c := f.coordinator(t)

	res, err := c.Fuse(context.Background(), missTap("user_1", "lamp"))
	if err != nil {
		t.Fatalf("Fuse: %v", err)
	}
	if res.Classification != adaptation.MockRuleFallback {
		t.Errorf("Classification = %q, want mock_rule_fallback", res.Classification)
	}
	if len(res.Adaptations) == 0 || res.Adaptations[0].Action != adaptation.IncreaseButtonSize || res.Adaptations[0].Target != "lamp" {
		t.Errorf("adaptations = %v, want increase_button_size on lamp first", actions(res.Adaptations))
	}
	if !res.Persisted {
		t.Error("Persisted = false, want true")
	}
	if res.AgentState != "" || len(res.Traces) != 0 {
		t.Errorf("agent disabled but state %q, %d traces", res.AgentState, len(res.Traces))
	}

	h, err := f.profiles.History(context.Background(), "user_1")
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(h) != 1 || h[0].Classification != adaptation.MockRuleFallback || h[0].Event.TargetElement != "lamp" {
		t.Errorf("history = %+v", h)
	}
}

func TestFuse_VoiceCommandHandsFree(t *testing.T) {
	f := newFixture(t)
	f.setNeeds(t, "user_2", profile.AccessibilityNeeds{HandsFreePreferred: true})
	c := f.coordinator(t)

	res, err := c.Fuse(context.Background(), event.Event{
		EventType: event.TypeVoice,
		Source:    "voice",
		Timestamp: "2025-07-01T12:00:00Z",
		UserID:    "user_2",
		Metadata:  map[string]any{"command": "play"},
	})
	if err != nil {
		t.Fatalf("Fuse: %v", err)
	}
	var trigger, simplify *adaptation.Adaptation
	for i, a := range res.Adaptations {
		switch a.Action {
		case adaptation.TriggerButton:
			trigger = &res.Adaptations[i]
		case adaptation.SimplifyLayout:
			simplify = &res.Adaptations[i]
		}
	}
	if trigger == nil || simplify == nil {
		t.Fatalf("adaptations = %v, want trigger_button and simplify_layout", actions(res.Adaptations))
	}
	if !strings.Contains(strings.ToLower(trigger.Reason), "voice") {
		t.Errorf("trigger reason = %q, want a voice reference", trigger.Reason)
	}
	if !strings.Contains(strings.ToLower(simplify.Reason), "hands-free") {
		t.Errorf("simplify reason = %q, want a hands-free reference", simplify.Reason)
	}
}

// --- Degradation ladder ---

func TestFuse_ValidatedAgentOutput(t *testing.T) {
	f := newFixture(t)
	f.setNeeds(t, "u", profile.AccessibilityNeeds{MotorImpaired: true})
	agentOut := []adaptation.Adaptation{
		adaptation.WithValue(adaptation.IncreaseButtonSize, "lamp", 1.6, "missed the lamp", "turn on lamp"),
		adaptation.WithValue(adaptation.AdjustSpacing, "all", 1.2, "crowded layout", "turn on lamp"),
	}
	r := &fakeReasoner{res: agent.Result{
		Adaptations: agentOut,
		OK:          true,
		State:       agent.StateDone,
		Traces:      []agent.Trace{{Role: agent.RoleValidation, Outcome: agent.OutcomeAccepted}},
	}}
	c := f.coordinator(t, WithAgent(r))

	res, err := c.Fuse(context.Background(), missTap("u", "lamp"))
	if err != nil {
		t.Fatal(err)
	}
	if res.Classification != adaptation.ValidatedByValidator {
		t.Fatalf("Classification = %q, want validated_by_validator", res.Classification)
	}
	if diff := cmp.Diff(agentOut, res.Adaptations); diff != "" {
		t.Errorf("adaptations mismatch (-want +got):\n%s", diff)
	}
	for _, a := range res.Adaptations {
		if err := adaptation.Check(a); err != nil {
			t.Errorf("validated output fails schema: %v", err)
		}
	}
	if res.AgentState != "done" || len(res.Traces) != 1 {
		t.Errorf("AgentState = %q, traces = %d", res.AgentState, len(res.Traces))
	}
}

// Duplicate border increases fail validation, so the answer drops to the
// combined tier with the duplicate collapsed.
func TestFuse_DuplicateBorderFallsBack(t *testing.T) {
	f := newFixture(t)
	f.setNeeds(t, "u", profile.AccessibilityNeeds{MotorImpaired: true})
	r := &fakeReasoner{res: agent.Result{
		Adaptations: []adaptation.Adaptation{
			adaptation.WithValue(adaptation.IncreaseButtonBorder, "lamp", 2, "thin border", "see lamp"),
			adaptation.WithValue(adaptation.IncreaseButtonBorder, "lamp", 3, "thin border", "see lamp"),
		},
		OK:    true,
		State: agent.StateDone,
	}}
	c := f.coordinator(t, WithAgent(r))

	res, err := c.Fuse(context.Background(), missTap("u", "lamp"))
	if err != nil {
		t.Fatal(err)
	}
	if res.Classification == adaptation.ValidatedByValidator {
		t.Fatal("duplicate output classified as validated")
	}
	if res.Classification != adaptation.CombinedAgentSuggestions {
		t.Errorf("Classification = %q, want combined_agent_suggestions", res.Classification)
	}
	want := []string{
		"increase_button_border@lamp",
		"increase_button_size@lamp",
		"increase_button_size@all",
	}
	if diff := cmp.Diff(want, actions(res.Adaptations)); diff != "" {
		t.Errorf("merged actions mismatch (-want +got):\n%s", diff)
	}
	if len(res.Violations) == 0 {
		t.Error("validator violations not reported")
	}
}

func TestFuse_AgentFailureEqualsRuleOutput(t *testing.T) {
	f := newFixture(t)
	f.setNeeds(t, "u", profile.AccessibilityNeeds{MotorImpaired: true, VisualImpaired: true})
	r := &fakeReasoner{res: agent.Result{
		OK:     false,
		State:  agent.StateFailed,
		Traces: []agent.Trace{{Role: agent.RoleIntent, Outcome: agent.OutcomeTimedOut}},
	}}
	c := f.coordinator(t, WithAgent(r))

	ev := missTap("u", "lamp")
	p, err := f.profiles.Load(context.Background(), "u")
	if err != nil {
		t.Fatal(err)
	}
	want := f.rules.Evaluate(ev, p)

	res, err := c.Fuse(context.Background(), ev)
	if err != nil {
		t.Fatal(err)
	}
	if res.Classification != adaptation.MockRuleFallback {
		t.Errorf("Classification = %q, want mock_rule_fallback", res.Classification)
	}
	if diff := cmp.Diff(want, res.Adaptations); diff != "" {
		t.Errorf("fallback differs from rule output (-want +got):\n%s", diff)
	}
	if res.AgentState != "failed" {
		t.Errorf("AgentState = %q, want failed", res.AgentState)
	}
}

func TestFuse_UnvalidatedOutputIsCombined(t *testing.T) {
	f := newFixture(t)
	f.setNeeds(t, "u", profile.AccessibilityNeeds{MotorImpaired: true})
	r := &fakeReasoner{res: agent.Result{
		Adaptations: []adaptation.Adaptation{
			adaptation.WithMode(adaptation.SwitchMode, "all", "gesture", "hands are busy", "navigate"),
			adaptation.WithValue("teleport_button", "lamp", 1, "hallucinated", "navigate"),
		},
		OK:    false,
		State: agent.StateFailed,
	}}
	c := f.coordinator(t, WithAgent(r))

	// Two earlier miss-taps make the rule engine propose a switch to voice.
	for range 2 {
		if _, err := f.coordinator(t).Fuse(context.Background(), missTap("u", "lamp")); err != nil {
			t.Fatal(err)
		}
	}
	res, err := c.Fuse(context.Background(), missTap("u", "lamp"))
	if err != nil {
		t.Fatal(err)
	}
	if res.Classification != adaptation.CombinedAgentSuggestions {
		t.Fatalf("Classification = %q, want combined_agent_suggestions", res.Classification)
	}
	switches := 0
	for _, a := range res.Adaptations {
		if a.Action == adaptation.SwitchMode {
			switches++
			if a.Mode != "gesture" {
				t.Errorf("switch_mode = %q, want the agent's gesture kept first", a.Mode)
			}
		}
		if a.Action == "teleport_button" {
			t.Error("schema-invalid agent suggestion released")
		}
	}
	if switches != 1 {
		t.Errorf("switch_mode count = %d, want exactly 1", switches)
	}
}

func TestFuse_AllAgentOutputInvalidFallsToRules(t *testing.T) {
	f := newFixture(t)
	r := &fakeReasoner{res: agent.Result{
		Adaptations: []adaptation.Adaptation{adaptation.WithValue("teleport_button", "lamp", 1, "r", "i")},
		State:       agent.StateFailed,
	}}
	res, err := f.coordinator(t, WithAgent(r)).Fuse(context.Background(), missTap("u", "lamp"))
	if err != nil {
		t.Fatal(err)
	}
	if res.Classification != adaptation.MockRuleFallback {
		t.Errorf("Classification = %q, want mock_rule_fallback", res.Classification)
	}
}

func TestFuse_ApprovedButEmptyUsesRules(t *testing.T) {
	f := newFixture(t)
	r := &fakeReasoner{res: agent.Result{OK: true, State: agent.StateDone, Adaptations: []adaptation.Adaptation{}}}
	res, err := f.coordinator(t, WithAgent(r)).Fuse(context.Background(), missTap("u", "lamp"))
	if err != nil {
		t.Fatal(err)
	}
	if res.Classification != adaptation.MockRuleFallback || len(res.Adaptations) == 0 {
		t.Errorf("got %q with %v, want rule fallback", res.Classification, actions(res.Adaptations))
	}
}

// --- End to end with the real orchestrator ---

type scriptedClient struct {
	mu     sync.Mutex
	counts map[string]int
}

func (s *scriptedClient) Generate(ctx context.Context, req reasoning.Request) (string, error) {
	s.mu.Lock()
	n := s.counts[req.Role]
	s.counts[req.Role]++
	s.mu.Unlock()

	switch req.Role {
	case agent.RoleIntent:
		return `{"intent":"press lamp"}`, nil
	case agent.RoleProposal:
		return `{"adaptations":[{"action":"increase_button_size","target":"lamp","value":1.7,"reason":"missed","intent":"press lamp"}]}`, nil
	case agent.RoleValidation:
		if n == 0 {
			return `{"verdict":"revise","feedback":"tune the factor"}`, nil
		}
		<-ctx.Done()
		return "", ctx.Err()
	}
	return "", errors.New("unexpected role")
}

func TestFuse_ValidationTimeoutYieldsCombined(t *testing.T) {
	// The in-memory database outlives the deferred check; its opener
	// goroutine is closed by t.Cleanup.
	defer goleak.VerifyNone(t,
		goleak.IgnoreTopFunction("database/sql.(*DB).connectionOpener"),
		goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start"))

	f := newFixture(t)
	cfg := agent.DefaultConfig()
	cfg.Model = "m"
	cfg.Roles = map[string]agent.RoleConfig{agent.RoleValidation: {Timeout: 30 * time.Millisecond}}
	orch, err := agent.New(&scriptedClient{counts: map[string]int{}}, cfg)
	if err != nil {
		t.Fatal(err)
	}
	c := f.coordinator(t, WithAgent(orch))

	res, err := c.Fuse(context.Background(), missTap("u", "lamp"))
	if err != nil {
		t.Fatal(err)
	}
	if res.Classification != adaptation.CombinedAgentSuggestions {
		t.Errorf("Classification = %q, want combined_agent_suggestions", res.Classification)
	}
	proposals := 0
	for _, tr := range res.Traces {
		if tr.Role == agent.RoleProposal {
			proposals++
		}
	}
	if proposals != 2 {
		t.Errorf("proposal traces = %d, want 2", proposals)
	}
	if last := res.Traces[len(res.Traces)-1]; last.Outcome != agent.OutcomeTimedOut {
		t.Errorf("last trace outcome = %q, want timed_out", last.Outcome)
	}
	if *res.Adaptations[0].Value != 1.7 {
		t.Errorf("first adaptation = %v, want the agent's proposal first", res.Adaptations[0])
	}
}

// --- Errors and persistence ---

func TestFuse_MalformedEvent(t *testing.T) {
	f := newFixture(t)
	r := &fakeReasoner{}
	c := f.coordinator(t, WithAgent(r))

	_, err := c.Fuse(context.Background(), event.Event{EventType: event.TypeTap, UserID: "u"})
	if !errors.Is(err, event.ErrMalformed) {
		t.Fatalf("err = %v, want ErrMalformed", err)
	}
	if r.calls != 0 || len(f.rec.entries) != 0 {
		t.Errorf("malformed event reached the pipeline: agent calls %d, log entries %d", r.calls, len(f.rec.entries))
	}
	if _, err := f.profiles.Get(context.Background(), "u"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("profile created for malformed event: %v", err)
	}
}

func TestFuse_StoreUnavailable(t *testing.T) {
	f := newFixture(t)
	f.setNeeds(t, "u", profile.AccessibilityNeeds{VisualImpaired: true})
	f.store.getErr = errors.New("disk on fire")
	c := f.coordinator(t)

	res, err := c.Fuse(context.Background(), missTap("u", "lamp"))
	if err != nil {
		t.Fatalf("Fuse: %v", err)
	}
	if res.Persisted {
		t.Error("Persisted = true with an unreadable store")
	}
	if len(res.Adaptations) == 0 {
		t.Error("degraded response is empty")
	}
	for _, a := range res.Adaptations {
		if a.Action == adaptation.IncreaseContrast {
			t.Error("default profile should not carry the stored visual need")
		}
	}
	if e := f.rec.entries[0]; e.Persisted {
		t.Error("log entry marked persisted")
	}

	f.store.getErr = nil
	h, _ := f.profiles.History(context.Background(), "u")
	if len(h) != 0 {
		t.Errorf("degraded session wrote history: %d entries", len(h))
	}
}

func TestFuse_StoreWriteFailure(t *testing.T) {
	f := newFixture(t)
	f.store.putErr = errors.New("read-only filesystem")
	res, err := f.coordinator(t).Fuse(context.Background(), missTap("u", "lamp"))
	if err != nil {
		t.Fatal(err)
	}
	if res.Persisted {
		t.Error("Persisted = true after failed write")
	}
}

func TestFuse_LogsDecision(t *testing.T) {
	f := newFixture(t)
	r := &fakeReasoner{res: agent.Result{
		State:  agent.StateFailed,
		Traces: []agent.Trace{{Role: agent.RoleIntent, Outcome: agent.OutcomeErrored}},
	}}
	res, err := f.coordinator(t, WithAgent(r)).Fuse(context.Background(), missTap("u", "lamp"))
	if err != nil {
		t.Fatal(err)
	}
	if len(f.rec.entries) != 1 {
		t.Fatalf("log entries = %d, want 1", len(f.rec.entries))
	}
	e := f.rec.entries[0]
	if e.ID != res.LogID || e.ID == "" {
		t.Errorf("entry ID = %q, result LogID = %q", e.ID, res.LogID)
	}
	if e.Classification != res.Classification || len(e.Traces) != 1 || e.VocabularyVersion != adaptation.VocabularyVersion {
		t.Errorf("entry = %+v", e)
	}
	if diff := cmp.Diff(e.RuleAdaptations, res.Adaptations); diff != "" {
		t.Errorf("rule adaptations not logged:\n%s", diff)
	}
}

func TestFuse_ConcurrentSameUser(t *testing.T) {
	f := newFixture(t)
	c := f.coordinator(t)

	const n = 30
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := c.Fuse(context.Background(), missTap("u", fmt.Sprintf("el-%d", i))); err != nil {
				t.Errorf("Fuse: %v", err)
			}
		}()
	}
	wg.Wait()

	h, err := f.profiles.History(context.Background(), "u")
	if err != nil {
		t.Fatal(err)
	}
	if len(h) != profile.HistoryCap {
		t.Errorf("history length = %d, want %d", len(h), profile.HistoryCap)
	}
	seen := map[string]bool{}
	for _, e := range h {
		if seen[e.Event.TargetElement] {
			t.Errorf("duplicate history entry %s", e.Event.TargetElement)
		}
		seen[e.Event.TargetElement] = true
	}
	if len(f.rec.entries) != n {
		t.Errorf("log entries = %d, want %d", len(f.rec.entries), n)
	}
}

func TestFuse_HistoryCapAcrossEvents(t *testing.T) {
	f := newFixture(t)
	c := f.coordinator(t)
	for i := range 25 {
		if _, err := c.Fuse(context.Background(), missTap("u", fmt.Sprintf("el-%d", i))); err != nil {
			t.Fatal(err)
		}
	}
	h, _ := f.profiles.History(context.Background(), "u")
	if len(h) != profile.HistoryCap || h[0].Event.TargetElement != "el-5" || h[19].Event.TargetElement != "el-24" {
		t.Errorf("history window = %s..%s (%d), want el-5..el-24", h[0].Event.TargetElement, h[len(h)-1].Event.TargetElement, len(h))
	}
}

func TestFuse_CancelledWhileWaitingForLock(t *testing.T) {
	f := newFixture(t)
	c := f.coordinator(t)

	sess, err := f.profiles.Begin(context.Background(), "u")
	if err != nil {
		t.Fatal(err)
	}
	defer sess.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := c.Fuse(ctx, missTap("u", "lamp")); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want DeadlineExceeded", err)
	}
}

func TestCombine(t *testing.T) {
	agentOut := []adaptation.Adaptation{
		adaptation.WithValue(adaptation.IncreaseButtonSize, "lamp", 1.6, "r", "i"),
		adaptation.WithValue(adaptation.IncreaseButtonSize, "lamp", 1.9, "r", "i"),
	}
	ruleOut := []adaptation.Adaptation{
		adaptation.WithValue(adaptation.IncreaseButtonSize, "lamp", 1.5, "r", "i"),
		adaptation.WithMode(adaptation.IncreaseContrast, "all", "high", "r", "i"),
	}
	got, fromAgent := combine(agentOut, ruleOut)
	if fromAgent != 1 {
		t.Errorf("fromAgent = %d, want 1", fromAgent)
	}
	want := []adaptation.Adaptation{agentOut[0], ruleOut[1]}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("combine mismatch (-want +got):\n%s", diff)
	}
}
