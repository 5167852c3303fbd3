package profile

import (
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"
)

// maxSummaryChars caps the summary to stay under ~500 tokens (4 chars/token).
const maxSummaryChars = 2000

// Summarize returns a compact description of the profile and its most recent
// tail history entries, suitable for a reasoning prompt.
func Summarize(p UserProfile, tail int) string {
	var parts []string

	var needs []string
	if p.AccessibilityNeeds.MotorImpaired {
		needs = append(needs, "motor impaired")
	}
	if p.AccessibilityNeeds.VisualImpaired {
		needs = append(needs, "visual impaired")
	}
	if p.AccessibilityNeeds.HandsFreePreferred {
		needs = append(needs, "prefers hands-free")
	}
	if len(needs) > 0 {
		parts = append(parts, fmt.Sprintf("Needs: %s.", strings.Join(needs, ", ")))
	} else {
		parts = append(parts, "Needs: none declared.")
	}

	if m := p.InputPreferences.PreferredModality; m != "" {
		parts = append(parts, fmt.Sprintf("Preferred input: %s.", m))
	}
	if len(p.InputPreferences.Sensitivity) > 0 {
		mods := make([]string, 0, len(p.InputPreferences.Sensitivity))
		for m := range p.InputPreferences.Sensitivity {
			mods = append(mods, m)
		}
		sort.Strings(mods)
		var sens []string
		for _, m := range mods {
			sens = append(sens, fmt.Sprintf("%s %.2g", m, p.InputPreferences.Sensitivity[m]))
		}
		parts = append(parts, fmt.Sprintf("Sensitivity: %s.", strings.Join(sens, ", ")))
	}

	ui := p.UIPreferences
	var uiParts []string
	if ui.FontSize > 0 {
		uiParts = append(uiParts, fmt.Sprintf("font %g", ui.FontSize))
	}
	if ui.ContrastMode != "" {
		uiParts = append(uiParts, ui.ContrastMode+" contrast")
	}
	if ui.ButtonSize > 0 {
		uiParts = append(uiParts, fmt.Sprintf("buttons x%g", ui.ButtonSize))
	}
	if len(uiParts) > 0 {
		parts = append(parts, fmt.Sprintf("UI: %s.", strings.Join(uiParts, ", ")))
	}

	if recent := p.Tail(tail); len(recent) > 0 {
		var evs []string
		for _, h := range recent {
			s := string(h.Event.EventType)
			if h.Event.TargetElement != "" {
				s += "@" + h.Event.TargetElement
			}
			if cmd := h.Event.MetaString("command"); cmd != "" {
				s += "(" + cmd + ")"
			}
			evs = append(evs, s)
		}
		parts = append(parts, fmt.Sprintf("Recent events: %s.", strings.Join(evs, ", ")))
	}

	return truncate(strings.Join(parts, " "), maxSummaryChars)
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	// Ensure we don't split a multi-byte UTF-8 character.
	end := max
	for end > 0 && !utf8.RuneStart(s[end]) {
		end--
	}
	if idx := strings.LastIndex(s[:end], " "); idx > 0 {
		return s[:idx]
	}
	return s[:end]
}
