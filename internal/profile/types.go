package profile

import (
	"maps"
	"time"

	"github.com/YarneD-1952226/A-Multimodal-AI-Driven-GUI-Framework-for-Dynamic-User-Adaptation/internal/adaptation"
	"github.com/YarneD-1952226/A-Multimodal-AI-Driven-GUI-Framework-for-Dynamic-User-Adaptation/internal/event"
)

// HistoryCap is the maximum number of entries kept in a user's interaction history.
const HistoryCap = 20

// UserProfile is the per-user record the fusion pipeline personalizes against.
type UserProfile struct {
	UserID             string             `json:"user_id"`
	AccessibilityNeeds AccessibilityNeeds `json:"accessibility_needs"`
	InputPreferences   InputPreferences   `json:"input_preferences"`
	UIPreferences      UIPreferences      `json:"ui_preferences"`
	InteractionHistory []HistoryEntry     `json:"interaction_history"`
}

// AccessibilityNeeds are the declared needs the validator aligns actions against.
type AccessibilityNeeds struct {
	MotorImpaired      bool `json:"motor_impaired"`
	VisualImpaired     bool `json:"visual_impaired"`
	HandsFreePreferred bool `json:"hands_free_preferred"`
}

// InputPreferences captures the user's preferred modality and per-modality
// sensitivity (0..1, modality name → value).
type InputPreferences struct {
	PreferredModality string             `json:"preferred_modality,omitempty"`
	Sensitivity       map[string]float64 `json:"sensitivity,omitempty"`
}

// UIPreferences are the user's baseline presentation settings.
type UIPreferences struct {
	FontSize     float64 `json:"font_size,omitempty"`
	ContrastMode string  `json:"contrast_mode,omitempty"`
	ButtonSize   float64 `json:"button_size,omitempty"`
}

// HistoryEntry is one processed event together with the adaptations that
// were returned for it.
type HistoryEntry struct {
	Event          event.Event               `json:"event"`
	Adaptations    []adaptation.Adaptation   `json:"adaptations"`
	Classification adaptation.Classification `json:"classification,omitempty"`
	RecordedAt     time.Time                 `json:"recorded_at"`
}

// Delta is an explicit profile edit. Nil sections are left untouched;
// present sections replace the stored section wholesale. History is never
// editable through a delta.
type Delta struct {
	UserID             string              `json:"user_id"`
	AccessibilityNeeds *AccessibilityNeeds `json:"accessibility_needs,omitempty"`
	InputPreferences   *InputPreferences   `json:"input_preferences,omitempty"`
	UIPreferences      *UIPreferences      `json:"ui_preferences,omitempty"`
}

// Default returns the profile assigned to a user on first contact.
func Default(userID string) UserProfile {
	return UserProfile{
		UserID:           userID,
		InputPreferences: InputPreferences{PreferredModality: "touch"},
		UIPreferences: UIPreferences{
			FontSize:     16,
			ContrastMode: "normal",
			ButtonSize:   1.0,
		},
		InteractionHistory: []HistoryEntry{},
	}
}

// Apply merges d into p and returns the result. p is not modified.
func (p UserProfile) Apply(d Delta) UserProfile {
	out := p.Clone()
	if d.AccessibilityNeeds != nil {
		out.AccessibilityNeeds = *d.AccessibilityNeeds
	}
	if d.InputPreferences != nil {
		out.InputPreferences = InputPreferences{
			PreferredModality: d.InputPreferences.PreferredModality,
			Sensitivity:       maps.Clone(d.InputPreferences.Sensitivity),
		}
	}
	if d.UIPreferences != nil {
		out.UIPreferences = *d.UIPreferences
	}
	return out
}

// Clone returns a deep copy, so snapshots handed to reasoning components
// never alias the store's state.
func (p UserProfile) Clone() UserProfile {
	cp := p
	cp.InputPreferences.Sensitivity = maps.Clone(p.InputPreferences.Sensitivity)
	if p.InteractionHistory != nil {
		cp.InteractionHistory = make([]HistoryEntry, len(p.InteractionHistory))
		for i, h := range p.InteractionHistory {
			cp.InteractionHistory[i] = h.clone()
		}
	}
	return cp
}

// Tail returns up to the n most recent history entries, oldest first.
func (p UserProfile) Tail(n int) []HistoryEntry {
	h := p.InteractionHistory
	if n <= 0 || len(h) == 0 {
		return nil
	}
	if n > len(h) {
		n = len(h)
	}
	return h[len(h)-n:]
}

func (h HistoryEntry) clone() HistoryEntry {
	cp := h
	cp.Adaptations = adaptation.CloneAll(h.Adaptations)
	cp.Event.Metadata = maps.Clone(h.Event.Metadata)
	if h.Event.Coordinates != nil {
		c := *h.Event.Coordinates
		cp.Event.Coordinates = &c
	}
	if h.Event.Confidence != nil {
		c := *h.Event.Confidence
		cp.Event.Confidence = &c
	}
	return cp
}

// UserHistory pairs a user with their interaction history, for diagnostic listings.
type UserHistory struct {
	UserID             string         `json:"user_id"`
	InteractionHistory []HistoryEntry `json:"interaction_history"`
}
