// Package rules implements the deterministic fallback producer: an ordered
// table of condition → adaptation mappings evaluated against an event and a
// profile snapshot.
package rules

import (
	"errors"
	"fmt"
	"slices"

	"github.com/YarneD-1952226/A-Multimodal-AI-Driven-GUI-Framework-for-Dynamic-User-Adaptation/internal/adaptation"
	"github.com/YarneD-1952226/A-Multimodal-AI-Driven-GUI-Framework-for-Dynamic-User-Adaptation/internal/event"
	"github.com/YarneD-1952226/A-Multimodal-AI-Driven-GUI-Framework-for-Dynamic-User-Adaptation/internal/profile"
)

// ErrEmptyTable is returned by New when no rule is enabled.
var ErrEmptyTable = errors.New("rule table is empty")

// Rule is one row of the table. Apply must be pure.
type Rule struct {
	Name  string
	Apply func(in Input) []adaptation.Adaptation
}

// Input is what a rule sees: the event and a read-only profile snapshot.
type Input struct {
	Event   event.Event
	Profile profile.UserProfile
	Params  Params
}

// Engine evaluates the rule table in order.
type Engine struct {
	table  []Rule
	params Params
}

// New builds an engine from the default table with params applied. Rules
// named in params.Disabled are skipped.
func New(params Params) (*Engine, error) {
	if err := params.validate(); err != nil {
		return nil, err
	}
	var table []Rule
	for _, r := range DefaultTable() {
		if slices.Contains(params.Disabled, r.Name) {
			continue
		}
		table = append(table, r)
	}
	if len(table) == 0 {
		return nil, ErrEmptyTable
	}
	return &Engine{table: table, params: params}, nil
}

// Rules returns the names of the active rules in evaluation order.
func (e *Engine) Rules() []string {
	names := make([]string, len(e.table))
	for i, r := range e.table {
		names[i] = r.Name
	}
	return names
}

// Evaluate runs every rule in table order and returns their combined output.
// Later duplicates of an (action, target) pair are dropped, and only the
// first switch_mode survives. Evaluate never blocks and never fails.
func (e *Engine) Evaluate(ev event.Event, p profile.UserProfile) []adaptation.Adaptation {
	in := Input{Event: ev, Profile: p, Params: e.params}
	seen := make(map[string]bool)
	switched := false
	out := []adaptation.Adaptation{}
	for _, r := range e.table {
		for _, a := range r.Apply(in) {
			if seen[a.Key()] {
				continue
			}
			if a.Action == adaptation.SwitchMode {
				if switched {
					continue
				}
				switched = true
			}
			seen[a.Key()] = true
			out = append(out, a)
		}
	}
	return out
}

// DefaultTable returns the built-in rule table in evaluation order.
func DefaultTable() []Rule {
	return []Rule{
		{Name: "miss_tap_enlarge", Apply: missTapEnlarge},
		{Name: "slider_miss_enlarge", Apply: sliderMissEnlarge},
		{Name: "scroll_miss_slow", Apply: scrollMissSlow},
		{Name: "motor_repeated_miss_voice", Apply: motorRepeatedMissVoice},
		{Name: "voice_command_trigger", Apply: voiceCommandTrigger},
		{Name: "point_after_info", Apply: pointAfterInfo},
		{Name: "frequent_target_reposition", Apply: frequentTargetReposition},
		{Name: "hands_free_simplify", Apply: handsFreeSimplify},
		{Name: "visual_contrast", Apply: visualContrast},
		{Name: "motor_enlarge_all", Apply: motorEnlargeAll},
	}
}

func targetOr(ev event.Event, fallback string) string {
	if ev.TargetElement != "" {
		return ev.TargetElement
	}
	return fallback
}

func countRecent(p profile.UserProfile, window int, match func(event.Event) bool) int {
	n := 0
	for _, h := range p.Tail(window) {
		if match(h.Event) {
			n++
		}
	}
	return n
}

func missTapEnlarge(in Input) []adaptation.Adaptation {
	if in.Event.EventType != event.TypeMissTap {
		return nil
	}
	target := targetOr(in.Event, adaptation.TargetAll)
	return []adaptation.Adaptation{adaptation.WithValue(
		adaptation.IncreaseButtonSize, target, in.Params.MissTapFactor,
		fmt.Sprintf("Miss-tap detected on %s, increasing target size", target),
		"reach_target",
	)}
}

func sliderMissEnlarge(in Input) []adaptation.Adaptation {
	if in.Event.EventType != event.TypeSliderMiss {
		return nil
	}
	target := targetOr(in.Event, adaptation.TargetAll)
	return []adaptation.Adaptation{adaptation.WithValue(
		adaptation.IncreaseSliderSize, target, in.Params.SliderFactor,
		fmt.Sprintf("Slider miss detected on %s, enlarging slider", target),
		"adjust_slider",
	)}
}

func scrollMissSlow(in Input) []adaptation.Adaptation {
	if in.Event.EventType != event.TypeScrollMiss {
		return nil
	}
	return []adaptation.Adaptation{adaptation.WithValue(
		adaptation.AdjustScrollSpeed, targetOr(in.Event, "scrollview"), in.Params.ScrollFactor,
		"Scroll miss detected, slowing scroll speed",
		"scroll_precisely",
	)}
}

func motorRepeatedMissVoice(in Input) []adaptation.Adaptation {
	if !in.Profile.AccessibilityNeeds.MotorImpaired {
		return nil
	}
	misses := countRecent(in.Profile, in.Params.MissTapWindow, func(e event.Event) bool {
		return e.EventType == event.TypeMissTap
	})
	if misses < in.Params.RepeatedMissTaps {
		return nil
	}
	return []adaptation.Adaptation{adaptation.WithMode(
		adaptation.SwitchMode, adaptation.TargetAll, "voice",
		fmt.Sprintf("Motor-impaired user has %d miss-taps in recent history, switching to voice", misses),
		"reduce_touch_effort",
	)}
}

func voiceCommandTrigger(in Input) []adaptation.Adaptation {
	if in.Event.EventType != event.TypeVoice {
		return nil
	}
	cmd := in.Event.MetaString("command")
	if cmd == "" {
		return nil
	}
	target := targetOr(in.Event, "button_"+cmd)
	out := []adaptation.Adaptation{adaptation.WithMode(
		adaptation.TriggerButton, target, "press",
		fmt.Sprintf("Voice command '%s' detected, triggering %s", cmd, target),
		"voice_"+cmd,
	)}
	recentMiss := countRecent(in.Profile, in.Params.VoiceMissTapWindow, func(e event.Event) bool {
		return e.EventType == event.TypeMissTap
	})
	if recentMiss > 0 {
		out = append(out, adaptation.WithValue(
			adaptation.IncreaseButtonSize, target, in.Params.VoiceMissTapFactor,
			fmt.Sprintf("Voice '%s' after a recent miss-tap, enlarging %s", cmd, target),
			"reach_target",
		))
	}
	return out
}

func pointAfterInfo(in Input) []adaptation.Adaptation {
	if in.Event.EventType != event.TypeGesture || in.Event.MetaString("gesture_type") != "point" {
		return nil
	}
	info := countRecent(in.Profile, in.Params.GestureVoiceWindow, func(e event.Event) bool {
		return e.EventType == event.TypeVoice && e.MetaString("command") == "info"
	})
	if info == 0 {
		return nil
	}
	return []adaptation.Adaptation{
		adaptation.WithMode(
			adaptation.TriggerButton, "button_info", "press",
			"Point gesture combined with recent voice 'info' command",
			"request_info",
		),
		adaptation.WithMode(
			adaptation.IncreaseContrast, "button_info", "high",
			"Enhancing visibility for pointed info button",
			"request_info",
		),
	}
}

func frequentTargetReposition(in Input) []adaptation.Adaptation {
	target := in.Event.TargetElement
	if target == "" {
		return nil
	}
	hits := 0
	for _, h := range in.Profile.InteractionHistory {
		if h.Event.TargetElement == target {
			hits++
		}
	}
	if hits <= in.Params.RepositionThreshold {
		return nil
	}
	return []adaptation.Adaptation{adaptation.WithValue(
		adaptation.RepositionElement, target, in.Params.RepositionOffset,
		fmt.Sprintf("Frequent interactions (%d) with %s, moving it closer", hits, target),
		"frequent_use",
	)}
}

func handsFreeSimplify(in Input) []adaptation.Adaptation {
	if !in.Profile.AccessibilityNeeds.HandsFreePreferred {
		return nil
	}
	switch in.Event.Source {
	case "voice", "gesture":
	default:
		return nil
	}
	return []adaptation.Adaptation{adaptation.WithMode(
		adaptation.SimplifyLayout, "card_list", "reduced",
		fmt.Sprintf("Hands-free user interacting by %s, simplifying card list layout", in.Event.Source),
		"hands_free_navigation",
	)}
}

func visualContrast(in Input) []adaptation.Adaptation {
	if !in.Profile.AccessibilityNeeds.VisualImpaired {
		return nil
	}
	return []adaptation.Adaptation{adaptation.WithMode(
		adaptation.IncreaseContrast, adaptation.TargetAll, "high",
		"Visual impairment declared, increasing contrast",
		"improve_visibility",
	)}
}

func motorEnlargeAll(in Input) []adaptation.Adaptation {
	if !in.Profile.AccessibilityNeeds.MotorImpaired {
		return nil
	}
	return []adaptation.Adaptation{adaptation.WithValue(
		adaptation.IncreaseButtonSize, adaptation.TargetAll, in.Params.MotorProfileFactor,
		"Motor impairment declared, enlarging all buttons",
		"improve_motor_access",
	)}
}
