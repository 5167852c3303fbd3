package agent

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/YarneD-1952226/A-Multimodal-AI-Driven-GUI-Framework-for-Dynamic-User-Adaptation/internal/adaptation"
	"github.com/YarneD-1952226/A-Multimodal-AI-Driven-GUI-Framework-for-Dynamic-User-Adaptation/internal/event"
	"github.com/YarneD-1952226/A-Multimodal-AI-Driven-GUI-Framework-for-Dynamic-User-Adaptation/internal/profile"
	"github.com/YarneD-1952226/A-Multimodal-AI-Driven-GUI-Framework-for-Dynamic-User-Adaptation/internal/reasoning"
)

var errMalformedOutput = errors.New("malformed model output")

// Verdict is the validation role's decision.
type Verdict string

const (
	VerdictApprove Verdict = "approve"
	VerdictRevise  Verdict = "revise"
	VerdictReject  Verdict = "reject"
)

// Intent is the intent role's summary of what the user is trying to do.
type Intent struct {
	Goal       string `json:"intent"`
	Difficulty string `json:"difficulty,omitempty"`
}

// proposer actions per specialised role.
var proposerActions = map[string][]adaptation.Action{
	RoleProposal: adaptation.Actions(),
	RoleProposalUI: {
		adaptation.IncreaseFontSize, adaptation.IncreaseContrast, adaptation.ShowTooltip,
	},
	RoleProposalGeometry: {
		adaptation.IncreaseButtonSize, adaptation.IncreaseButtonBorder, adaptation.IncreaseSliderSize,
		adaptation.AdjustSpacing, adaptation.AdjustScrollSpeed, adaptation.RepositionElement,
	},
	RoleProposalInput: {
		adaptation.SwitchMode, adaptation.TriggerButton, adaptation.SimplifyLayout,
	},
}

func intentSchema() *reasoning.Schema {
	return reasoning.Object(map[string]*reasoning.Schema{
		"intent":     reasoning.String("What the user is trying to achieve"),
		"difficulty": reasoning.String("The interaction difficulty observed, if any"),
	}, "intent")
}

func adaptationSchema(actions []adaptation.Action) *reasoning.Schema {
	names := make([]string, len(actions))
	for i, a := range actions {
		names[i] = string(a)
	}
	return reasoning.Object(map[string]*reasoning.Schema{
		"action": reasoning.String("The UI adaptation to perform", names...),
		"target": reasoning.String("Element id, or 'all' for every element"),
		"value":  reasoning.Number("Numeric multiplier or pixel offset, for size, spacing, speed and reposition actions"),
		"mode":   reasoning.String("Mode string, e.g. 'voice' for switch_mode or 'high' for contrast"),
		"reason": reasoning.String("Why this adaptation helps this user"),
		"intent": reasoning.String("The inferred user goal"),
	}, "action", "target", "reason", "intent")
}

func proposalSchema(actions []adaptation.Action) *reasoning.Schema {
	return reasoning.Object(map[string]*reasoning.Schema{
		"adaptations": reasoning.Array("Proposed adaptations", adaptationSchema(actions)),
	}, "adaptations")
}

func verdictSchema() *reasoning.Schema {
	return reasoning.Object(map[string]*reasoning.Schema{
		"verdict":     reasoning.String("Decision on the proposal", string(VerdictApprove), string(VerdictRevise), string(VerdictReject)),
		"feedback":    reasoning.String("Concrete revision instructions or the rejection reason"),
		"adaptations": reasoning.Array("Refined adaptations when approving", adaptationSchema(adaptation.Actions())),
	}, "verdict", "feedback")
}

func eventJSON(ev event.Event) string {
	b, err := json.Marshal(ev)
	if err != nil {
		return fmt.Sprintf("%+v", ev)
	}
	return string(b)
}

func adaptationsJSON(list []adaptation.Adaptation) string {
	if len(list) == 0 {
		return "[]"
	}
	b, err := json.Marshal(list)
	if err != nil {
		return "[]"
	}
	return string(b)
}

func contextBlock(ev event.Event, p profile.UserProfile, tail int) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "[Event]\n%s\n\n", eventJSON(ev))
	fmt.Fprintf(&sb, "[User Profile]\n%s\n", profile.Summarize(p, tail))
	return sb.String()
}

func buildIntentPrompt(ev event.Event, p profile.UserProfile, tail int) string {
	return contextBlock(ev, p, tail) + "\nInfer the user's intent."
}

func buildProposalPrompt(ev event.Event, p profile.UserProfile, tail int, in Intent, role string, previous []adaptation.Adaptation, feedback string) string {
	var sb strings.Builder
	sb.WriteString(contextBlock(ev, p, tail))
	fmt.Fprintf(&sb, "\n[Intent]\n%s", in.Goal)
	if in.Difficulty != "" {
		fmt.Fprintf(&sb, " (difficulty: %s)", in.Difficulty)
	}
	sb.WriteString("\n\n[Allowed actions]\n")
	for _, a := range proposerActions[role] {
		param, _ := adaptation.ParamOf(a)
		fmt.Fprintf(&sb, "- %s (%s)\n", a, param)
	}
	if feedback != "" {
		fmt.Fprintf(&sb, "\n[Previous proposal]\n%s\n\n[Reviewer feedback]\n%s\n", adaptationsJSON(previous), feedback)
	}
	sb.WriteString("\nPropose adaptations.")
	return sb.String()
}

func buildValidationPrompt(ev event.Event, p profile.UserProfile, tail int, in Intent, proposal []adaptation.Adaptation) string {
	var sb strings.Builder
	sb.WriteString(contextBlock(ev, p, tail))
	fmt.Fprintf(&sb, "\n[Intent]\n%s\n\n[Proposed adaptations]\n%s\n", in.Goal, adaptationsJSON(proposal))
	sb.WriteString("\nReview the proposal.")
	return sb.String()
}

// stripFences removes a markdown code fence some models wrap JSON in.
func stripFences(raw string) string {
	s := strings.TrimSpace(raw)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimPrefix(s, "json")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

func parseIntent(raw string) (Intent, error) {
	var in Intent
	if err := json.Unmarshal([]byte(stripFences(raw)), &in); err != nil {
		return Intent{}, fmt.Errorf("%w: %v", errMalformedOutput, err)
	}
	in.Goal = strings.TrimSpace(in.Goal)
	if in.Goal == "" {
		return Intent{}, fmt.Errorf("%w: empty intent", errMalformedOutput)
	}
	return in, nil
}

// wireAdaptation is the loose shape models emit: value may be a number or a
// string.
type wireAdaptation struct {
	Action string          `json:"action"`
	Target string          `json:"target"`
	Value  json.RawMessage `json:"value,omitempty"`
	Mode   string          `json:"mode,omitempty"`
	Reason string          `json:"reason"`
	Intent string          `json:"intent"`
}

func (w wireAdaptation) adaptation() adaptation.Adaptation {
	a := adaptation.Adaptation{
		Action: adaptation.Action(strings.TrimSpace(w.Action)),
		Target: strings.TrimSpace(w.Target),
		Mode:   strings.TrimSpace(w.Mode),
		Reason: w.Reason,
		Intent: w.Intent,
	}
	raw := strings.TrimSpace(string(w.Value))
	if raw == "" || raw == "null" {
		return a
	}
	var f float64
	if err := json.Unmarshal([]byte(raw), &f); err == nil {
		a.Value = &f
		return a
	}
	var s string
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return a
	}
	if f, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
		a.Value = &f
	} else if a.Mode == "" {
		a.Mode = strings.TrimSpace(s)
	}
	return a
}

func toAdaptations(ws []wireAdaptation) []adaptation.Adaptation {
	out := make([]adaptation.Adaptation, 0, len(ws))
	for _, w := range ws {
		out = append(out, w.adaptation())
	}
	return out
}

// parseAdaptations accepts {"adaptations":[...]} or a bare array.
func parseAdaptations(raw string) ([]adaptation.Adaptation, error) {
	s := stripFences(raw)
	var wrapped struct {
		Adaptations []wireAdaptation `json:"adaptations"`
	}
	if strings.HasPrefix(s, "[") {
		if err := json.Unmarshal([]byte(s), &wrapped.Adaptations); err != nil {
			return nil, fmt.Errorf("%w: %v", errMalformedOutput, err)
		}
	} else if err := json.Unmarshal([]byte(s), &wrapped); err != nil {
		return nil, fmt.Errorf("%w: %v", errMalformedOutput, err)
	}
	return toAdaptations(wrapped.Adaptations), nil
}

type verdictReply struct {
	Verdict     Verdict
	Feedback    string
	Adaptations []adaptation.Adaptation
}

func parseVerdict(raw string) (verdictReply, error) {
	var w struct {
		Verdict     string           `json:"verdict"`
		Feedback    string           `json:"feedback"`
		Adaptations []wireAdaptation `json:"adaptations"`
	}
	if err := json.Unmarshal([]byte(stripFences(raw)), &w); err != nil {
		return verdictReply{}, fmt.Errorf("%w: %v", errMalformedOutput, err)
	}
	v := Verdict(strings.ToLower(strings.TrimSpace(w.Verdict)))
	switch v {
	case VerdictApprove, VerdictRevise, VerdictReject:
	default:
		return verdictReply{}, fmt.Errorf("%w: unknown verdict %q", errMalformedOutput, w.Verdict)
	}
	return verdictReply{Verdict: v, Feedback: w.Feedback, Adaptations: toAdaptations(w.Adaptations)}, nil
}
