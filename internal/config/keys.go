package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kBool
	kFloat
	kDuration
)

// secretService is the keychain service secrets are stored under.
const secretService = "sif"

type keySpec struct {
	key    string
	typ    keyType
	env    string
	secret bool
	// account names the secret in the platform secret store.
	account string
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.port", typ: kInt, env: "SIF_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "server.api_token", typ: kString, env: "SIF_SERVER_API_TOKEN",
		secret: true, account: "api_token",
		apply:   func(cfg *Config, v any) { cfg.Server.APIToken = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.APIToken },
	},
	{
		key: "storage.data_dir", typ: kString, env: "SIF_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "log.level", typ: kString, env: "SIF_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
	{
		key: "log.jsonl_path", typ: kString, env: "SIF_LOG_JSONL_PATH",
		apply:   func(cfg *Config, v any) { cfg.Log.JSONLPath = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.JSONLPath },
	},
	{
		key: "reasoning.provider", typ: kString, env: "SIF_REASONING_PROVIDER",
		apply:   func(cfg *Config, v any) { cfg.Reasoning.Provider = v.(string) },
		extract: func(cfg Config) any { return cfg.Reasoning.Provider },
	},
	{
		key: "reasoning.model", typ: kString, env: "SIF_REASONING_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Reasoning.Model = v.(string) },
		extract: func(cfg Config) any { return cfg.Reasoning.Model },
	},
	{
		key: "reasoning.base_url", typ: kString, env: "SIF_REASONING_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Reasoning.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Reasoning.BaseURL },
	},
	{
		key: "reasoning.api_key", typ: kString, env: "SIF_REASONING_API_KEY",
		secret: true, account: "reasoning_api_key",
		apply:   func(cfg *Config, v any) { cfg.Reasoning.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Reasoning.APIKey },
	},
	{
		key: "reasoning.temperature", typ: kFloat, env: "SIF_REASONING_TEMPERATURE",
		apply:   func(cfg *Config, v any) { cfg.Reasoning.Temperature = v.(float64) },
		extract: func(cfg Config) any { return cfg.Reasoning.Temperature },
	},
	{
		key: "reasoning.thinking_budget", typ: kInt, env: "SIF_REASONING_THINKING_BUDGET",
		apply:   func(cfg *Config, v any) { cfg.Reasoning.ThinkingBudget = v.(int) },
		extract: func(cfg Config) any { return cfg.Reasoning.ThinkingBudget },
	},
	{
		key: "reasoning.max_retries", typ: kInt, env: "SIF_REASONING_MAX_RETRIES",
		apply:   func(cfg *Config, v any) { cfg.Reasoning.MaxRetries = v.(int) },
		extract: func(cfg Config) any { return cfg.Reasoning.MaxRetries },
	},
	{
		key: "agent.enabled", typ: kBool, env: "SIF_AGENT_ENABLED",
		apply:   func(cfg *Config, v any) { cfg.Agent.Enabled = v.(bool) },
		extract: func(cfg Config) any { return cfg.Agent.Enabled },
	},
	{
		key: "agent.mode", typ: kString, env: "SIF_AGENT_MODE",
		apply:   func(cfg *Config, v any) { cfg.Agent.Mode = v.(string) },
		extract: func(cfg Config) any { return cfg.Agent.Mode },
	},
	{
		key: "agent.intent_timeout", typ: kDuration, env: "SIF_AGENT_INTENT_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Agent.IntentTimeout = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Agent.IntentTimeout },
	},
	{
		key: "agent.proposal_timeout", typ: kDuration, env: "SIF_AGENT_PROPOSAL_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Agent.ProposalTimeout = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Agent.ProposalTimeout },
	},
	{
		key: "agent.validation_timeout", typ: kDuration, env: "SIF_AGENT_VALIDATION_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Agent.ValidationTimeout = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Agent.ValidationTimeout },
	},
	{
		key: "agent.deadline", typ: kDuration, env: "SIF_AGENT_DEADLINE",
		apply:   func(cfg *Config, v any) { cfg.Agent.Deadline = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Agent.Deadline },
	},
	{
		key: "agent.max_revisions", typ: kInt, env: "SIF_AGENT_MAX_REVISIONS",
		apply:   func(cfg *Config, v any) { cfg.Agent.MaxRevisions = v.(int) },
		extract: func(cfg Config) any { return cfg.Agent.MaxRevisions },
	},
	{
		key: "agent.cap_policy", typ: kString, env: "SIF_AGENT_CAP_POLICY",
		apply:   func(cfg *Config, v any) { cfg.Agent.CapPolicy = v.(string) },
		extract: func(cfg Config) any { return cfg.Agent.CapPolicy },
	},
	{
		key: "agent.history_tail", typ: kInt, env: "SIF_AGENT_HISTORY_TAIL",
		apply:   func(cfg *Config, v any) { cfg.Agent.HistoryTail = v.(int) },
		extract: func(cfg Config) any { return cfg.Agent.HistoryTail },
	},
	{
		key: "agent.roles_file", typ: kString, env: "SIF_AGENT_ROLES_FILE",
		apply:   func(cfg *Config, v any) { cfg.Agent.RolesFile = v.(string) },
		extract: func(cfg Config) any { return cfg.Agent.RolesFile },
	},
	{
		key: "rules.file", typ: kString, env: "SIF_RULES_FILE",
		apply:   func(cfg *Config, v any) { cfg.Rules.File = v.(string) },
		extract: func(cfg Config) any { return cfg.Rules.File },
	},
	{
		key: "validator.max_duplicates", typ: kInt, env: "SIF_VALIDATOR_MAX_DUPLICATES",
		apply:   func(cfg *Config, v any) { cfg.Validator.MaxDuplicates = v.(int) },
		extract: func(cfg Config) any { return cfg.Validator.MaxDuplicates },
	},
	{
		key: "validator.min_coherence", typ: kFloat, env: "SIF_VALIDATOR_MIN_COHERENCE",
		apply:   func(cfg *Config, v any) { cfg.Validator.MinCoherence = v.(float64) },
		extract: func(cfg Config) any { return cfg.Validator.MinCoherence },
	},
}

// parse converts a raw string to the key's type.
func (s keySpec) parse(raw string) (any, error) {
	switch s.typ {
	case kInt:
		return strconv.Atoi(raw)
	case kBool:
		return strconv.ParseBool(raw)
	case kFloat:
		return strconv.ParseFloat(raw, 64)
	case kDuration:
		return time.ParseDuration(raw)
	default:
		return raw, nil
	}
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		if s.typ == kInt {
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
			continue
		}

		raw, ok, err := b.GetString(s.key)
		if err != nil {
			return fmt.Errorf("reading %s: %w", s.key, err)
		}
		if !ok || (raw == "" && s.typ != kString) {
			continue
		}
		v, err := s.parse(raw)
		if err != nil {
			fmt.Fprintf(os.Stderr, "[WARN] could not parse config key %s=%q: %v. Using default value.\n", s.key, raw, err)
			continue
		}
		s.apply(cfg, v)
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		v, err := s.parse(raw)
		if err != nil {
			fmt.Fprintf(os.Stderr, "[WARN] could not parse env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			continue
		}
		s.apply(cfg, v)
	}
}

// applySecrets fills secrets still empty after the environment from the
// platform secret store.
func applySecrets(cfg *Config, kc keychain) {
	for _, s := range specs {
		if !s.secret || s.extract(*cfg).(string) != "" {
			continue
		}
		if v, err := kc.Get(secretService, s.account); err == nil && v != "" {
			s.apply(cfg, v)
		}
	}
}
