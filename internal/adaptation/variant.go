package adaptation

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownAction is returned by Decode for actions outside the vocabulary.
var ErrUnknownAction = errors.New("unknown action")

// Variant is the typed form of an Adaptation, one concrete type per action.
// The set is sealed: only this package can add variants, and adding one
// requires a new Visitor method, which breaks every visitor until it
// handles the new case.
type Variant interface {
	Accept(v Visitor)
	TargetID() string
	variant()
}

// Visitor handles every variant. Implementations are exhaustive by
// construction.
type Visitor interface {
	VisitButtonSize(ButtonSize)
	VisitButtonBorder(ButtonBorder)
	VisitSliderSize(SliderSize)
	VisitFontSize(FontSize)
	VisitContrast(Contrast)
	VisitSpacing(Spacing)
	VisitScrollSpeed(ScrollSpeed)
	VisitModeSwitch(ModeSwitch)
	VisitButtonTrigger(ButtonTrigger)
	VisitLayoutSimplification(LayoutSimplification)
	VisitTooltip(Tooltip)
	VisitReposition(Reposition)
}

type ButtonSize struct {
	Target string
	Factor float64
}

type ButtonBorder struct {
	Target string
	Width  float64
}

type SliderSize struct {
	Target string
	Factor float64
}

type FontSize struct {
	Target string
	Factor float64
}

type Contrast struct {
	Target string
	Level  string
}

type Spacing struct {
	Target string
	Factor float64
}

type ScrollSpeed struct {
	Target string
	Factor float64
}

type ModeSwitch struct {
	Target   string
	Modality string
}

type ButtonTrigger struct {
	Target string
	How    string
}

type LayoutSimplification struct {
	Target string
	Level  string
}

type Tooltip struct {
	Target string
	Style  string
}

// Reposition moves an element by Offset pixels toward the user's reach zone.
type Reposition struct {
	Target string
	Offset float64
}

func (v ButtonSize) Accept(x Visitor)           { x.VisitButtonSize(v) }
func (v ButtonBorder) Accept(x Visitor)         { x.VisitButtonBorder(v) }
func (v SliderSize) Accept(x Visitor)           { x.VisitSliderSize(v) }
func (v FontSize) Accept(x Visitor)             { x.VisitFontSize(v) }
func (v Contrast) Accept(x Visitor)             { x.VisitContrast(v) }
func (v Spacing) Accept(x Visitor)              { x.VisitSpacing(v) }
func (v ScrollSpeed) Accept(x Visitor)          { x.VisitScrollSpeed(v) }
func (v ModeSwitch) Accept(x Visitor)           { x.VisitModeSwitch(v) }
func (v ButtonTrigger) Accept(x Visitor)        { x.VisitButtonTrigger(v) }
func (v LayoutSimplification) Accept(x Visitor) { x.VisitLayoutSimplification(v) }
func (v Tooltip) Accept(x Visitor)              { x.VisitTooltip(v) }
func (v Reposition) Accept(x Visitor)           { x.VisitReposition(v) }

func (v ButtonSize) TargetID() string           { return v.Target }
func (v ButtonBorder) TargetID() string         { return v.Target }
func (v SliderSize) TargetID() string           { return v.Target }
func (v FontSize) TargetID() string             { return v.Target }
func (v Contrast) TargetID() string             { return v.Target }
func (v Spacing) TargetID() string              { return v.Target }
func (v ScrollSpeed) TargetID() string          { return v.Target }
func (v ModeSwitch) TargetID() string           { return v.Target }
func (v ButtonTrigger) TargetID() string        { return v.Target }
func (v LayoutSimplification) TargetID() string { return v.Target }
func (v Tooltip) TargetID() string              { return v.Target }
func (v Reposition) TargetID() string           { return v.Target }

func (ButtonSize) variant()           {}
func (ButtonBorder) variant()         {}
func (SliderSize) variant()           {}
func (FontSize) variant()             {}
func (Contrast) variant()             {}
func (Spacing) variant()              {}
func (ScrollSpeed) variant()          {}
func (ModeSwitch) variant()           {}
func (ButtonTrigger) variant()        {}
func (LayoutSimplification) variant() {}
func (Tooltip) variant()              {}
func (Reposition) variant()           {}

// Decode converts an Adaptation into its typed variant. It enforces the
// structural part of the contract: required fields, a known action, and
// value/mode exclusivity.
func Decode(a Adaptation) (Variant, error) {
	param, ok := ParamOf(a.Action)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownAction, a.Action)
	}

	var missing []string
	if strings.TrimSpace(a.Target) == "" {
		missing = append(missing, "target")
	}
	if strings.TrimSpace(a.Reason) == "" {
		missing = append(missing, "reason")
	}
	if strings.TrimSpace(a.Intent) == "" {
		missing = append(missing, "intent")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%s: missing %s", a.Action, strings.Join(missing, ", "))
	}

	hasValue, hasMode := a.Value != nil, a.Mode != ""
	switch {
	case hasValue && hasMode:
		return nil, fmt.Errorf("%s: both value and mode present", a.Action)
	case param == ParamValue && !hasValue:
		return nil, fmt.Errorf("%s: requires value", a.Action)
	case param == ParamMode && !hasMode:
		return nil, fmt.Errorf("%s: requires mode", a.Action)
	}

	var val float64
	if hasValue {
		val = *a.Value
	}
	mode := strings.ToLower(a.Mode)

	switch a.Action {
	case IncreaseButtonSize:
		return ButtonSize{Target: a.Target, Factor: val}, nil
	case IncreaseButtonBorder:
		return ButtonBorder{Target: a.Target, Width: val}, nil
	case IncreaseSliderSize:
		return SliderSize{Target: a.Target, Factor: val}, nil
	case IncreaseFontSize:
		return FontSize{Target: a.Target, Factor: val}, nil
	case IncreaseContrast:
		return Contrast{Target: a.Target, Level: mode}, nil
	case AdjustSpacing:
		return Spacing{Target: a.Target, Factor: val}, nil
	case AdjustScrollSpeed:
		return ScrollSpeed{Target: a.Target, Factor: val}, nil
	case SwitchMode:
		return ModeSwitch{Target: a.Target, Modality: mode}, nil
	case TriggerButton:
		return ButtonTrigger{Target: a.Target, How: mode}, nil
	case SimplifyLayout:
		return LayoutSimplification{Target: a.Target, Level: mode}, nil
	case ShowTooltip:
		return Tooltip{Target: a.Target, Style: mode}, nil
	case RepositionElement:
		return Reposition{Target: a.Target, Offset: val}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownAction, a.Action)
}
