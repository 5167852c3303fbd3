// Package adaptation defines the UI adaptation contract shared by every
// producer (rule engine, reasoning agents) and consumer (validator, clients).
package adaptation

import (
	"fmt"
	"strconv"
)

// Action is a member of the closed adaptation vocabulary.
type Action string

const (
	IncreaseButtonSize   Action = "increase_button_size"
	IncreaseButtonBorder Action = "increase_button_border"
	IncreaseSliderSize   Action = "increase_slider_size"
	IncreaseFontSize     Action = "increase_font_size"
	IncreaseContrast     Action = "increase_contrast"
	AdjustSpacing        Action = "adjust_spacing"
	AdjustScrollSpeed    Action = "adjust_scroll_speed"
	SwitchMode           Action = "switch_mode"
	TriggerButton        Action = "trigger_button"
	SimplifyLayout       Action = "simplify_layout"
	ShowTooltip          Action = "show_tooltip"
	RepositionElement    Action = "reposition_element"
)

// VocabularyVersion identifies the action vocabulary revision. It is
// recorded in the adaptation log so offline tooling can tell which
// vocabulary a decision was validated against.
const VocabularyVersion = "2"

// TargetAll is the sentinel target addressing every element.
const TargetAll = "all"

// Param says which of value or mode an action carries.
type Param int

const (
	ParamValue Param = iota + 1
	ParamMode
)

func (p Param) String() string {
	switch p {
	case ParamValue:
		return "value"
	case ParamMode:
		return "mode"
	}
	return "unknown"
}

var vocabulary = map[Action]Param{
	IncreaseButtonSize:   ParamValue,
	IncreaseButtonBorder: ParamValue,
	IncreaseSliderSize:   ParamValue,
	IncreaseFontSize:     ParamValue,
	IncreaseContrast:     ParamMode,
	AdjustSpacing:        ParamValue,
	AdjustScrollSpeed:    ParamValue,
	SwitchMode:           ParamMode,
	TriggerButton:        ParamMode,
	SimplifyLayout:       ParamMode,
	ShowTooltip:          ParamMode,
	RepositionElement:    ParamValue,
}

// Actions returns the vocabulary in a stable order.
func Actions() []Action {
	return []Action{
		IncreaseButtonSize, IncreaseButtonBorder, IncreaseSliderSize,
		IncreaseFontSize, IncreaseContrast, AdjustSpacing, AdjustScrollSpeed,
		SwitchMode, TriggerButton, SimplifyLayout, ShowTooltip, RepositionElement,
	}
}

// ParamOf reports the parameter an action requires and whether the action
// is in the vocabulary at all.
func ParamOf(a Action) (Param, bool) {
	p, ok := vocabulary[a]
	return p, ok
}

// Adaptation is one UI change instruction. Exactly one of Value or Mode is
// set, according to ParamOf(Action).
type Adaptation struct {
	Action Action   `json:"action"`
	Target string   `json:"target"`
	Value  *float64 `json:"value,omitempty"`
	Mode   string   `json:"mode,omitempty"`
	Reason string   `json:"reason"`
	Intent string   `json:"intent"`
}

// WithValue builds a value-carrying adaptation.
func WithValue(action Action, target string, value float64, reason, intent string) Adaptation {
	v := value
	return Adaptation{Action: action, Target: target, Value: &v, Reason: reason, Intent: intent}
}

// WithMode builds a mode-carrying adaptation.
func WithMode(action Action, target, mode, reason, intent string) Adaptation {
	return Adaptation{Action: action, Target: target, Mode: mode, Reason: reason, Intent: intent}
}

// Key identifies the (action, target) pair used for duplicate detection.
func (a Adaptation) Key() string {
	return string(a.Action) + "\x00" + a.Target
}

// Param returns the string form of the carried parameter, for display.
func (a Adaptation) Param() string {
	if a.Value != nil {
		return strconv.FormatFloat(*a.Value, 'f', -1, 64)
	}
	return a.Mode
}

func (a Adaptation) String() string {
	return fmt.Sprintf("%s(%s=%s)", a.Action, a.Target, a.Param())
}

// Clone returns a copy that shares no pointers with a.
func (a Adaptation) Clone() Adaptation {
	cp := a
	if a.Value != nil {
		v := *a.Value
		cp.Value = &v
	}
	return cp
}

// CloneAll deep-copies a list of adaptations.
func CloneAll(in []Adaptation) []Adaptation {
	if in == nil {
		return nil
	}
	out := make([]Adaptation, len(in))
	for i, a := range in {
		out[i] = a.Clone()
	}
	return out
}

// Classification tags which producer answered a fused request.
type Classification string

const (
	// ValidatedByValidator means agent output passed the output validator.
	ValidatedByValidator Classification = "validated_by_validator"
	// CombinedAgentSuggestions means unvalidated agent output merged with rule output.
	CombinedAgentSuggestions Classification = "combined_agent_suggestions"
	// MockRuleFallback means the rule engine answered alone.
	MockRuleFallback Classification = "mock_rule_fallback"
)
