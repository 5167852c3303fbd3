// Package validator checks candidate adaptations before release: schema
// conformance, internal conflicts and duplicates, and alignment with the
// user's declared accessibility needs.
package validator

import (
	"fmt"
	"strings"

	"github.com/YarneD-1952226/A-Multimodal-AI-Driven-GUI-Framework-for-Dynamic-User-Adaptation/internal/adaptation"
	"github.com/YarneD-1952226/A-Multimodal-AI-Driven-GUI-Framework-for-Dynamic-User-Adaptation/internal/profile"
)

// Kind classifies a violation.
type Kind string

const (
	KindSchema    Kind = "schema"
	KindConflict  Kind = "conflict"
	KindDuplicate Kind = "duplicate"
	KindCoherence Kind = "coherence"
	KindAlignment Kind = "alignment"
)

// Violation is one finding. Index is the offending adaptation's position,
// or -1 for list-level findings.
type Violation struct {
	Kind     Kind   `json:"kind"`
	Index    int    `json:"index"`
	Message  string `json:"message"`
	Blocking bool   `json:"blocking"`
}

func (v Violation) String() string {
	var sb strings.Builder
	sb.WriteString(string(v.Kind))
	if v.Index >= 0 {
		fmt.Fprintf(&sb, " [%d]", v.Index)
	}
	sb.WriteString(": ")
	sb.WriteString(v.Message)
	if !v.Blocking {
		sb.WriteString(" (warning)")
	}
	return sb.String()
}

// Thresholds bound how much internal inconsistency a response may carry.
// Duplicates above MaxDuplicates, or a coherence index below MinCoherence,
// block the response. Contradictory mode switches always block.
type Thresholds struct {
	MaxDuplicates int     `json:"max_duplicates"`
	MinCoherence  float64 `json:"min_coherence"`
}

// DefaultThresholds tolerates no duplicates.
func DefaultThresholds() Thresholds {
	return Thresholds{MaxDuplicates: 0, MinCoherence: 0.75}
}

// Report is the full result of a check.
type Report struct {
	OK         bool        `json:"ok"`
	Violations []Violation `json:"violations,omitempty"`
	Conflicts  int         `json:"conflicts"`
	Duplicates int         `json:"duplicates"`
	// Coherence is the design-coherence index:
	// 1 - (conflicts + duplicates) / max(1, n).
	Coherence float64 `json:"coherence"`
}

// Strings renders the violations for logs and API responses.
func (r Report) Strings() []string {
	out := make([]string, len(r.Violations))
	for i, v := range r.Violations {
		out[i] = v.String()
	}
	return out
}

// Blocking returns only the violations that caused rejection.
func (r Report) Blocking() []Violation {
	var out []Violation
	for _, v := range r.Violations {
		if v.Blocking {
			out = append(out, v)
		}
	}
	return out
}

// Validator applies Thresholds.
type Validator struct {
	th Thresholds
}

// New creates a Validator.
func New(th Thresholds) (*Validator, error) {
	if th.MaxDuplicates < 0 {
		return nil, fmt.Errorf("validator: max duplicates %d must be >= 0", th.MaxDuplicates)
	}
	if th.MinCoherence < 0 || th.MinCoherence > 1 {
		return nil, fmt.Errorf("validator: min coherence %v outside [0,1]", th.MinCoherence)
	}
	return &Validator{th: th}, nil
}

// Validate reports whether adaptations may be released for p, with every
// violation rendered as a string.
func (v *Validator) Validate(adaptations []adaptation.Adaptation, p profile.UserProfile) (bool, []string) {
	r := v.Check(adaptations, p)
	return r.OK, r.Strings()
}

// Check runs schema, conflict and alignment checks in that order.
func (v *Validator) Check(adaptations []adaptation.Adaptation, p profile.UserProfile) Report {
	var r Report

	for i, a := range adaptations {
		if err := adaptation.Check(a); err != nil {
			r.Violations = append(r.Violations, Violation{Kind: KindSchema, Index: i, Message: err.Error(), Blocking: true})
		}
	}

	r.Conflicts, r.Duplicates = v.internal(adaptations, &r)
	r.Coherence = 1 - float64(r.Conflicts+r.Duplicates)/float64(max(1, len(adaptations)))
	if r.Coherence < v.th.MinCoherence {
		r.Violations = append(r.Violations, Violation{
			Kind:     KindCoherence,
			Index:    -1,
			Message:  fmt.Sprintf("design coherence %.2f below %.2f", r.Coherence, v.th.MinCoherence),
			Blocking: true,
		})
	}

	for i, a := range adaptations {
		if msg := misaligned(a, p.AccessibilityNeeds); msg != "" {
			r.Violations = append(r.Violations, Violation{Kind: KindAlignment, Index: i, Message: msg})
		}
	}

	r.OK = len(r.Blocking()) == 0
	return r
}

// internal counts conflicting mode switches and repeated (action, target)
// pairs, appending a violation for each. Conflicts always block; duplicates
// block once their count exceeds the threshold.
func (v *Validator) internal(adaptations []adaptation.Adaptation, r *Report) (conflicts, duplicates int) {
	firstMode := ""
	firstModeIdx := -1
	seen := make(map[string]int, len(adaptations))
	var found []Violation

	for i, a := range adaptations {
		if a.Action == adaptation.SwitchMode && a.Mode != "" {
			mode := strings.ToLower(a.Mode)
			if firstModeIdx < 0 {
				firstMode, firstModeIdx = mode, i
			} else if mode != firstMode {
				conflicts++
				found = append(found, Violation{
					Kind:    KindConflict,
					Index:   i,
					Message: fmt.Sprintf("switch_mode to %q contradicts switch_mode to %q at [%d]", mode, firstMode, firstModeIdx),
				})
			}
		}
		if j, ok := seen[a.Key()]; ok {
			duplicates++
			found = append(found, Violation{
				Kind:    KindDuplicate,
				Index:   i,
				Message: fmt.Sprintf("%s on %q repeats [%d]", a.Action, a.Target, j),
			})
			continue
		}
		seen[a.Key()] = i
	}

	for _, f := range found {
		switch f.Kind {
		case KindConflict:
			f.Blocking = true
		case KindDuplicate:
			f.Blocking = duplicates > v.th.MaxDuplicates
		}
		r.Violations = append(r.Violations, f)
	}
	return conflicts, duplicates
}

// misaligned describes an accessibility-targeted adaptation whose category
// the profile does not declare, or returns "".
func misaligned(a adaptation.Adaptation, needs profile.AccessibilityNeeds) string {
	cat := adaptation.CategoryOf(a)
	var declared bool
	switch cat {
	case adaptation.CategoryMotor:
		declared = needs.MotorImpaired
	case adaptation.CategoryVisual:
		declared = needs.VisualImpaired
	case adaptation.CategoryHandsFree:
		declared = needs.HandsFreePreferred
	default:
		return ""
	}
	if declared {
		return ""
	}
	return fmt.Sprintf("%s targets %s needs the profile does not declare", a.Action, cat)
}
