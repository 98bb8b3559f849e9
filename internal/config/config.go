// Package config loads and validates the agent runtime configuration.
// Options come from a YAML file with environment expansion, overridden
// by MXF_* environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/modelexchange/mxf/pkg/models"
)

// Reasoning controls extended-thinking output from the provider.
type Reasoning struct {
	Enabled   bool   `yaml:"enabled"`
	Effort    string `yaml:"effort"`
	MaxTokens int    `yaml:"maxTokens"`
}

// MXP carries protocol-extension options. The runtime treats them as
// opaque and hands them to the server during registration.
type MXP struct {
	Enabled         bool   `yaml:"enabled"`
	PreferredFormat string `yaml:"preferredFormat"`
	ForceEncryption bool   `yaml:"forceEncryption"`
}

// Gateway holds the exchange-server connection identity.
type Gateway struct {
	URL       string `yaml:"url"`
	DomainKey string `yaml:"domainKey"`
	KeyID     string `yaml:"keyId"`
	SecretKey string `yaml:"secretKey"`
}

// Storage holds the local persistence settings.
type Storage struct {
	Path string `yaml:"path"`
}

// Logging holds the slog setup.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Config is the full recognized option surface.
type Config struct {
	AgentID      string `yaml:"agentId"`
	ChannelID    string `yaml:"channelId"`
	Role         string `yaml:"role"`
	Persona      string `yaml:"persona"`
	LLMProvider  string `yaml:"llmProvider"`
	DefaultModel string `yaml:"defaultModel"`
	APIKey       string `yaml:"apiKey"`

	Temperature     float64 `yaml:"temperature"`
	MaxTokens       int     `yaml:"maxTokens"`
	MaxHistory      int     `yaml:"maxHistory"`
	MaxObservations int     `yaml:"maxObservations"`
	MaxIterations   int     `yaml:"maxIterations"`

	// CycleInterval is the control-loop cadence in milliseconds.
	CycleInterval int `yaml:"cycleInterval"`

	EnableTooling             bool     `yaml:"enableTooling"`
	AllowedTools              []string `yaml:"allowedTools"`
	CircuitBreakerExemptTools []string `yaml:"circuitBreakerExemptTools"`
	UseMessageAggregate       bool     `yaml:"useMessageAggregate"`
	MaxMessageSize            int      `yaml:"maxMessageSize"`
	DisableTaskHandling       bool     `yaml:"disableTaskHandling"`
	Orchestrate               bool     `yaml:"orchestrate"`

	Reasoning Reasoning `yaml:"reasoning"`
	MXP       MXP       `yaml:"mxp"`
	Gateway   Gateway   `yaml:"gateway"`
	Storage   Storage   `yaml:"storage"`
	Logging   Logging   `yaml:"logging"`
}

// Default returns a config with every recognized default filled in.
func Default() *Config {
	return &Config{
		LLMProvider:         "anthropic",
		Temperature:         0.7,
		MaxTokens:           8000,
		MaxHistory:          500,
		MaxObservations:     10,
		MaxIterations:       10,
		CycleInterval:       30000,
		EnableTooling:       true,
		UseMessageAggregate: true,
		MaxMessageSize:      100 * 1024,
		Storage:             Storage{Path: "mxf.db"},
		Logging:             Logging{Level: "info", Format: "text"},
	}
}

// Load reads a YAML config file over the defaults, expands ${VAR}
// references, applies MXF_* environment overrides, and validates.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		expanded := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, &models.ConfigError{Field: path, Reason: err.Error()}
		}
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv lets MXF_* variables override file values.
func (c *Config) applyEnv() {
	setString := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setString("MXF_AGENT_ID", &c.AgentID)
	setString("MXF_CHANNEL_ID", &c.ChannelID)
	setString("MXF_LLM_PROVIDER", &c.LLMProvider)
	setString("MXF_DEFAULT_MODEL", &c.DefaultModel)
	setString("MXF_API_KEY", &c.APIKey)
	setString("MXF_GATEWAY_URL", &c.Gateway.URL)
	setString("MXF_DOMAIN_KEY", &c.Gateway.DomainKey)
	setString("MXF_STORAGE_PATH", &c.Storage.Path)
	setString("MXF_LOG_LEVEL", &c.Logging.Level)

	if v := os.Getenv("MXF_MAX_ITERATIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.MaxIterations = n
		}
	}

	// Credentials issued by key:generate land in channel-scoped vars.
	if c.Gateway.KeyID == "" || c.Gateway.SecretKey == "" {
		keyVar, secretVar := CredentialEnv(c.ChannelID, c.AgentID)
		setString(keyVar, &c.Gateway.KeyID)
		setString(secretVar, &c.Gateway.SecretKey)
	}
}

// Validate fails fast on missing or out-of-range options.
func (c *Config) Validate() error {
	switch {
	case c.AgentID == "":
		return &models.ConfigError{Field: "agentId", Reason: "required"}
	case c.ChannelID == "":
		return &models.ConfigError{Field: "channelId", Reason: "required"}
	case c.Temperature < 0 || c.Temperature > 2:
		return &models.ConfigError{Field: "temperature", Reason: "must be between 0 and 2"}
	case c.MaxTokens <= 0:
		return &models.ConfigError{Field: "maxTokens", Reason: "must be positive"}
	case c.MaxHistory <= 0:
		return &models.ConfigError{Field: "maxHistory", Reason: "must be positive"}
	case c.MaxIterations <= 0:
		return &models.ConfigError{Field: "maxIterations", Reason: "must be positive"}
	case c.CycleInterval <= 0:
		return &models.ConfigError{Field: "cycleInterval", Reason: "must be positive milliseconds"}
	case c.MaxMessageSize <= 0:
		return &models.ConfigError{Field: "maxMessageSize", Reason: "must be positive bytes"}
	}
	switch c.LLMProvider {
	case "anthropic", "openai":
	default:
		return &models.ConfigError{Field: "llmProvider", Reason: fmt.Sprintf("unknown provider %q", c.LLMProvider)}
	}
	switch c.Role {
	case "", "autonomous", "reactive", "passive":
	default:
		return &models.ConfigError{Field: "role", Reason: fmt.Sprintf("unknown role %q", c.Role)}
	}
	return nil
}

// CycleDuration converts the millisecond setting to a duration.
func (c *Config) CycleDuration() time.Duration {
	return time.Duration(c.CycleInterval) * time.Millisecond
}

// CredentialEnv names the environment variables carrying this
// channel/agent key pair, e.g. MXF_SUPPORT_HELPER_KEY_ID.
func CredentialEnv(channelID, agentID string) (keyIDVar, secretKeyVar string) {
	prefix := "MXF_" + envToken(channelID) + "_" + envToken(agentID)
	return prefix + "_KEY_ID", prefix + "_SECRET_KEY"
}

func envToken(s string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(s) {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	return b.String()
}
