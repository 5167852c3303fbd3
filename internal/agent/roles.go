package agent

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Role names. The three specialised proposers replace RoleProposal in
// multi-agent mode.
const (
	RoleIntent           = "iia"
	RoleProposal         = "apa"
	RoleValidation       = "vra"
	RoleProposalUI       = "apa_ui"
	RoleProposalGeometry = "apa_geometry"
	RoleProposalInput    = "apa_input"
)

const defaultRoleTimeout = 15 * time.Second

// RoleConfig tunes one role. Zero fields inherit from Config.
type RoleConfig struct {
	Model          string        `yaml:"model"`
	Temperature    *float64      `yaml:"temperature"`
	ThinkingBudget *int          `yaml:"thinking_budget"`
	Timeout        time.Duration `yaml:"timeout"`
	System         string        `yaml:"system"`
}

// merge overlays the non-zero fields of o onto r.
func (r RoleConfig) merge(o RoleConfig) RoleConfig {
	if o.Model != "" {
		r.Model = o.Model
	}
	if o.Temperature != nil {
		r.Temperature = o.Temperature
	}
	if o.ThinkingBudget != nil {
		r.ThinkingBudget = o.ThinkingBudget
	}
	if o.Timeout > 0 {
		r.Timeout = o.Timeout
	}
	if o.System != "" {
		r.System = o.System
	}
	return r
}

// DefaultRoles returns the built-in role table.
func DefaultRoles() map[string]RoleConfig {
	return map[string]RoleConfig{
		RoleIntent:           {Timeout: defaultRoleTimeout, System: intentSystem},
		RoleProposal:         {Timeout: defaultRoleTimeout, System: proposalSystem},
		RoleValidation:       {Timeout: defaultRoleTimeout, System: validationSystem},
		RoleProposalUI:       {Timeout: defaultRoleTimeout, System: uiProposerSystem},
		RoleProposalGeometry: {Timeout: defaultRoleTimeout, System: geometryProposerSystem},
		RoleProposalInput:    {Timeout: defaultRoleTimeout, System: inputProposerSystem},
	}
}

// LoadRoles reads a YAML document mapping role names to overrides, e.g.
//
//	vra:
//	  model: gemini-2.5-flash
//	  timeout: 20s
//	  thinking_budget: 1024
//
// and merges it over base. Unknown role names are rejected.
func LoadRoles(path string, base map[string]RoleConfig) (map[string]RoleConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading roles file: %w", err)
	}
	var overrides map[string]RoleConfig
	if err := yaml.Unmarshal(data, &overrides); err != nil {
		return nil, fmt.Errorf("parsing roles file %s: %w", path, err)
	}

	out := make(map[string]RoleConfig, len(base))
	for name, rc := range base {
		out[name] = rc
	}
	for name, o := range overrides {
		rc, ok := out[name]
		if !ok {
			return nil, fmt.Errorf("roles file %s: unknown role %q", path, name)
		}
		out[name] = rc.merge(o)
	}
	return out, nil
}

const intentSystem = `You are the intent inference agent of an adaptive user interface. Given one interaction event, the user's accessibility profile and recent interaction history, infer what the user is trying to do and which difficulty, if any, they are experiencing. Answer with a single JSON object matching the provided schema and nothing else.`

const proposalSystem = `You are the adaptation proposal agent of an adaptive user interface. Given the inferred intent, the event, the user profile and history, propose UI adaptations that help this user. Use only the listed actions. Every adaptation carries either a numeric value or a mode string, never both. Prefer few, targeted changes. Answer with a single JSON object matching the provided schema and nothing else.`

const validationSystem = `You are the validation and refinement agent of an adaptive user interface. Critique the proposed adaptations for hallucinated actions or targets, redundancy, conflicting mode switches and mismatch with the user's declared needs. Answer "approve" when the list is acceptable (you may return a refined list), "revise" with concrete feedback when it can be fixed, or "reject" when no adaptation is warranted. Answer with a single JSON object matching the provided schema and nothing else.`

const uiProposerSystem = `You are the UI agent of an adaptive user interface. Propose only font size, contrast and tooltip adaptations. Answer with a single JSON object matching the provided schema and nothing else.`

const geometryProposerSystem = `You are the geometry agent of an adaptive user interface. Propose only size, border, spacing, scroll speed and reposition adaptations. Answer with a single JSON object matching the provided schema and nothing else.`

const inputProposerSystem = `You are the input-mode agent of an adaptive user interface. Propose only switch_mode, trigger_button and simplify_layout adaptations. Answer with a single JSON object matching the provided schema and nothing else.`
