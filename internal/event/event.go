package event

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrMalformed is returned when an inbound event fails the arrival-time
// schema check. It is the only reasoning-independent error the fusion
// pipeline ever returns to a client.
var ErrMalformed = errors.New("malformed event")

// Type is the kind of interaction the client observed.
type Type string

const (
	TypeTap        Type = "tap"
	TypeMissTap    Type = "miss_tap"
	TypeSliderMiss Type = "slider_miss"
	TypeVoice      Type = "voice"
	TypeGesture    Type = "gesture"
	TypeKeyPress   Type = "key_press"
	TypeScrollMiss Type = "scroll_miss"
)

// Modalities lists the input channels a client may report as an event source.
var Modalities = []string{"touch", "keyboard", "voice", "gesture"}

// Coordinates is a 2D screen position.
type Coordinates struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Event is one multimodal interaction produced by a client. Events are
// treated as immutable once decoded.
type Event struct {
	EventType     Type           `json:"event_type"`
	Source        string         `json:"source"`
	Timestamp     string         `json:"timestamp"`
	UserID        string         `json:"user_id"`
	TargetElement string         `json:"target_element,omitempty"`
	Coordinates   *Coordinates   `json:"coordinates,omitempty"`
	Confidence    *float64       `json:"confidence,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

// Decode parses a JSON event and validates it.
func Decode(data []byte) (Event, error) {
	var e Event
	if err := json.Unmarshal(data, &e); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if err := e.Validate(); err != nil {
		return Event{}, err
	}
	return e, nil
}

// Validate checks the required fields and value ranges of the event contract.
func (e Event) Validate() error {
	var missing []string
	if e.EventType == "" {
		missing = append(missing, "event_type")
	}
	if e.Source == "" {
		missing = append(missing, "source")
	}
	if e.Timestamp == "" {
		missing = append(missing, "timestamp")
	}
	if strings.TrimSpace(e.UserID) == "" {
		missing = append(missing, "user_id")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing required fields: %s", ErrMalformed, strings.Join(missing, ", "))
	}
	if e.Confidence != nil && (*e.Confidence < 0 || *e.Confidence > 1) {
		return fmt.Errorf("%w: confidence %v outside [0,1]", ErrMalformed, *e.Confidence)
	}
	if _, err := e.Time(); err != nil {
		return fmt.Errorf("%w: timestamp: %v", ErrMalformed, err)
	}
	return nil
}

// Time parses the event timestamp. Clients send RFC 3339, with or without a
// zone suffix.
func (e Event) Time() (time.Time, error) {
	if t, err := time.Parse(time.RFC3339Nano, e.Timestamp); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02T15:04:05.999999999", e.Timestamp)
}

// MetaString returns a string metadata value, or "" when absent or not a string.
func (e Event) MetaString(key string) string {
	if e.Metadata == nil {
		return ""
	}
	s, _ := e.Metadata[key].(string)
	return s
}

// EffectiveConfidence returns the reported confidence, defaulting to 1.
func (e Event) EffectiveConfidence() float64 {
	if e.Confidence == nil {
		return 1
	}
	return *e.Confidence
}
