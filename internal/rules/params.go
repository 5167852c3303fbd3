package rules

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Params tunes the rule table. Zero values in a YAML file keep the default.
type Params struct {
	MissTapFactor       float64  `yaml:"miss_tap_factor"`
	SliderFactor        float64  `yaml:"slider_factor"`
	ScrollFactor        float64  `yaml:"scroll_factor"`
	VoiceMissTapFactor  float64  `yaml:"voice_miss_tap_factor"`
	MotorProfileFactor  float64  `yaml:"motor_profile_factor"`
	RepositionOffset    float64  `yaml:"reposition_offset"`
	RepeatedMissTaps    int      `yaml:"repeated_miss_taps"`
	MissTapWindow       int      `yaml:"miss_tap_window"`
	VoiceMissTapWindow  int      `yaml:"voice_miss_tap_window"`
	GestureVoiceWindow  int      `yaml:"gesture_voice_window"`
	RepositionThreshold int      `yaml:"reposition_threshold"`
	Disabled            []string `yaml:"disabled"`
}

// DefaultParams returns the built-in tuning.
func DefaultParams() Params {
	return Params{
		MissTapFactor:       1.5,
		SliderFactor:        1.3,
		ScrollFactor:        0.5,
		VoiceMissTapFactor:  1.8,
		MotorProfileFactor:  1.5,
		RepositionOffset:    30,
		RepeatedMissTaps:    2,
		MissTapWindow:       10,
		VoiceMissTapWindow:  5,
		GestureVoiceWindow:  3,
		RepositionThreshold: 3,
	}
}

// LoadParams reads a YAML rule file over the defaults. An empty path returns
// the defaults.
func LoadParams(path string) (Params, error) {
	p := DefaultParams()
	if path == "" {
		return p, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Params{}, fmt.Errorf("reading rules file: %w", err)
	}
	var file Params
	if err := yaml.Unmarshal(data, &file); err != nil {
		return Params{}, fmt.Errorf("parsing rules file %s: %w", path, err)
	}
	p.merge(file)
	if err := p.validate(); err != nil {
		return Params{}, fmt.Errorf("rules file %s: %w", path, err)
	}
	return p, nil
}

func (p *Params) merge(o Params) {
	setF := func(dst *float64, v float64) {
		if v != 0 {
			*dst = v
		}
	}
	setI := func(dst *int, v int) {
		if v != 0 {
			*dst = v
		}
	}
	setF(&p.MissTapFactor, o.MissTapFactor)
	setF(&p.SliderFactor, o.SliderFactor)
	setF(&p.ScrollFactor, o.ScrollFactor)
	setF(&p.VoiceMissTapFactor, o.VoiceMissTapFactor)
	setF(&p.MotorProfileFactor, o.MotorProfileFactor)
	setF(&p.RepositionOffset, o.RepositionOffset)
	setI(&p.RepeatedMissTaps, o.RepeatedMissTaps)
	setI(&p.MissTapWindow, o.MissTapWindow)
	setI(&p.VoiceMissTapWindow, o.VoiceMissTapWindow)
	setI(&p.GestureVoiceWindow, o.GestureVoiceWindow)
	setI(&p.RepositionThreshold, o.RepositionThreshold)
	if len(o.Disabled) > 0 {
		p.Disabled = o.Disabled
	}
}

// validate rejects tunings whose output would fail the adaptation schema,
// and unknown rule names.
func (p Params) validate() error {
	for name, f := range map[string]float64{
		"miss_tap_factor":       p.MissTapFactor,
		"slider_factor":         p.SliderFactor,
		"scroll_factor":         p.ScrollFactor,
		"voice_miss_tap_factor": p.VoiceMissTapFactor,
		"motor_profile_factor":  p.MotorProfileFactor,
	} {
		if f <= 0 || f > 4 {
			return fmt.Errorf("%s %v outside (0, 4]", name, f)
		}
	}
	if p.RepositionOffset == 0 || p.RepositionOffset > 500 || p.RepositionOffset < -500 {
		return fmt.Errorf("reposition_offset %v outside [-500, 500] or zero", p.RepositionOffset)
	}
	for name, n := range map[string]int{
		"repeated_miss_taps":    p.RepeatedMissTaps,
		"miss_tap_window":       p.MissTapWindow,
		"voice_miss_tap_window": p.VoiceMissTapWindow,
		"gesture_voice_window":  p.GestureVoiceWindow,
	} {
		if n <= 0 {
			return fmt.Errorf("%s must be positive, got %d", name, n)
		}
	}
	if p.RepositionThreshold < 0 {
		return fmt.Errorf("reposition_threshold must not be negative, got %d", p.RepositionThreshold)
	}
	known := make(map[string]bool)
	for _, r := range DefaultTable() {
		known[r.Name] = true
	}
	for _, d := range p.Disabled {
		if !known[d] {
			return fmt.Errorf("unknown rule %q in disabled list", d)
		}
	}
	return nil
}
