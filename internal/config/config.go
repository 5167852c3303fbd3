package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server    ServerConfig
	Storage   StorageConfig
	Log       LogConfig
	Reasoning ReasoningConfig
	Agent     AgentConfig
	Rules     RulesConfig
	Validator ValidatorConfig
}

type ServerConfig struct {
	Port     int
	APIToken string
}

type StorageConfig struct {
	DataDir string
}

type LogConfig struct {
	Level string
	// JSONLPath is the adaptation log file. Empty disables the file sink.
	JSONLPath string
}

type ReasoningConfig struct {
	Provider       string
	Model          string
	BaseURL        string
	APIKey         string
	Temperature    float64
	ThinkingBudget int
	MaxRetries     int
}

type AgentConfig struct {
	Enabled           bool
	Mode              string
	IntentTimeout     time.Duration
	ProposalTimeout   time.Duration
	ValidationTimeout time.Duration
	// Deadline bounds the whole agent run. Zero derives it from the role
	// timeouts and the revision cap.
	Deadline     time.Duration
	MaxRevisions int
	CapPolicy    string
	HistoryTail  int
	RolesFile    string
}

type RulesConfig struct {
	File string
}

type ValidatorConfig struct {
	MaxDuplicates int
	MinCoherence  float64
}

func defaults() Config {
	dataDir := defaultDataDir()
	return Config{
		Server: ServerConfig{
			Port: 4100,
		},
		Storage: StorageConfig{
			DataDir: dataDir,
		},
		Log: LogConfig{
			Level:     "info",
			JSONLPath: filepath.Join(dataDir, "adaptation_log.jsonl"),
		},
		Reasoning: ReasoningConfig{
			Provider:    "ollama",
			Model:       "llama3.2",
			Temperature: 0.2,
			MaxRetries:  1,
		},
		Agent: AgentConfig{
			Enabled:           true,
			Mode:              "single",
			IntentTimeout:     15 * time.Second,
			ProposalTimeout:   15 * time.Second,
			ValidationTimeout: 15 * time.Second,
			MaxRevisions:      2,
			CapPolicy:         "accept_last",
			HistoryTail:       10,
		},
		Validator: ValidatorConfig{
			MinCoherence: 0.75,
		},
	}
}

// Load reads configuration from the platform-native backend, an optional
// .env file, environment variables, and the platform secret store.
//
// On macOS the backend is UserDefaults (domain: com.sif.app) and secrets
// fall back to macOS Keychain (service: sif).
// On Linux the backend is a JSON file at $XDG_CONFIG_HOME/sif/config.json
// and secrets fall back to $XDG_DATA_HOME/sif/secrets.json.
//
// The .env file is read from SIF_ENV_FILE, or ./.env when unset. Variables
// already present in the environment win over the file. Environment
// variables (SIF_*) override backend values on all platforms.
func Load() (Config, error) {
	if err := loadDotEnv(os.Getenv("SIF_ENV_FILE")); err != nil {
		return Config{}, err
	}
	return loadWith(newPlatformBackend(), keychainReader{})
}

func loadDotEnv(path string) error {
	explicit := path != ""
	if !explicit {
		path = ".env"
	}
	err := godotenv.Load(path)
	if err == nil {
		return nil
	}
	if !explicit && errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return fmt.Errorf("loading env file %s: %w", path, err)
}

// keychain abstracts secret store access for testing.
type keychain interface {
	Get(service, account string) (string, error)
}

func loadWith(b ConfigBackend, kc keychain) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)
	applySecrets(&cfg, kc)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects configurations serve cannot start with.
func (c Config) Validate() error {
	var problems []string

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		problems = append(problems, fmt.Sprintf("server.port %d out of range", c.Server.Port))
	}
	switch c.Reasoning.Provider {
	case "", "none", "ollama":
	case "gemini", "openai":
		if c.Agent.Enabled && c.Reasoning.APIKey == "" {
			problems = append(problems, fmt.Sprintf(
				"reasoning.provider %q requires an API key. Set it via environment variable SIF_REASONING_API_KEY%s",
				c.Reasoning.Provider, apiKeyHint()))
		}
	default:
		problems = append(problems, fmt.Sprintf("unknown reasoning.provider %q (want ollama, gemini, openai or none)", c.Reasoning.Provider))
	}
	if c.Agent.Mode != "single" && c.Agent.Mode != "multi" {
		problems = append(problems, fmt.Sprintf("agent.mode %q must be single or multi", c.Agent.Mode))
	}
	if c.Agent.CapPolicy != "accept_last" && c.Agent.CapPolicy != "fail" {
		problems = append(problems, fmt.Sprintf("agent.cap_policy %q must be accept_last or fail", c.Agent.CapPolicy))
	}
	if c.Agent.MaxRevisions < 0 {
		problems = append(problems, "agent.max_revisions must not be negative")
	}
	if c.Validator.MinCoherence < 0 || c.Validator.MinCoherence > 1 {
		problems = append(problems, fmt.Sprintf("validator.min_coherence %v outside [0,1]", c.Validator.MinCoherence))
	}
	if c.Validator.MaxDuplicates < 0 {
		problems = append(problems, "validator.max_duplicates must not be negative")
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// keychainReader reads from the platform secret store.
type keychainReader struct{}

func (keychainReader) Get(service, account string) (string, error) {
	out, err := keychainExec(service, account)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}
