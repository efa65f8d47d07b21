// Package config loads and manages conduit configuration.
// Configuration source priority (highest to lowest):
// 1. Environment variables (CONDUIT_PROVIDER, OPENAI_API_KEY, ANTHROPIC_API_KEY, LLM_API_KEY, etc.)
// 2. Config file path specified via --config flag
// 3. ~/.config/conduit/config.yaml
package config

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

//go:embed providers_default.yaml
var defaultProvidersYAML []byte

// ProviderDefaults holds the default base URL, model and model aliases for a
// provider.
type ProviderDefaults struct {
	BaseURL      string            `yaml:"base_url"`
	DefaultModel string            `yaml:"default_model"`
	Aliases      map[string]string `yaml:"aliases"`
}

// LoadProviderDefaults parses the embedded defaults and merges any user
// overrides from ~/.config/conduit/providers.yaml.
func LoadProviderDefaults() map[string]ProviderDefaults {
	defs := make(map[string]ProviderDefaults)
	_ = yaml.Unmarshal(defaultProvidersYAML, &defs)

	home, err := os.UserHomeDir()
	if err == nil {
		userPath := filepath.Join(home, ".config", "conduit", "providers.yaml")
		if data, err := os.ReadFile(userPath); err == nil {
			userDefs := make(map[string]ProviderDefaults)
			if yaml.Unmarshal(data, &userDefs) == nil {
				for name, ud := range userDefs {
					d := defs[name]
					if ud.BaseURL != "" {
						d.BaseURL = ud.BaseURL
					}
					if ud.DefaultModel != "" {
						d.DefaultModel = ud.DefaultModel
					}
					if len(ud.Aliases) > 0 {
						if d.Aliases == nil {
							d.Aliases = make(map[string]string, len(ud.Aliases))
						}
						for alias, target := range ud.Aliases {
							d.Aliases[alias] = target
						}
					}
					defs[name] = d
				}
			}
		}
	}
	return defs
}

// ProviderConfig holds configuration for a single provider.
type ProviderConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
	Model   string `yaml:"model"`
	// Command is the engine argv for the local provider (ignored elsewhere).
	Command []string `yaml:"command"`
}

// SchedulerConfig holds task scheduler settings.
type SchedulerConfig struct {
	// MaxConcurrent bounds simultaneously active tasks. Default 3.
	MaxConcurrent int `yaml:"max_concurrent"`

	// MaxRetries bounds re-execution attempts per task. Default 3.
	MaxRetries int `yaml:"max_retries"`
}

// CacheConfig holds response cache settings.
type CacheConfig struct {
	// Dir is the directory holding the slow-tier database.
	// Empty = <user cache dir>/conduit.
	Dir string `yaml:"dir"`

	// FastMaxMB bounds the in-memory tier size. Default 50.
	FastMaxMB int `yaml:"fast_max_mb"`

	// FastMaxEntries bounds the in-memory tier entry count. Default 1000.
	FastMaxEntries int `yaml:"fast_max_entries"`

	// TTLDays is how long slow-tier entries stay valid. Default 7.
	TTLDays int `yaml:"ttl_days"`

	// SweepIntervalHours is how often expired slow-tier entries are removed. Default 24.
	SweepIntervalHours int `yaml:"sweep_interval_hours"`
}

// MonitorConfig holds resource monitor settings.
type MonitorConfig struct {
	// SampleIntervalSec is the sampling period. Default 5.
	SampleIntervalSec int `yaml:"sample_interval_sec"`

	// HighWaterMB is the high-pressure memory threshold. Default 100.
	HighWaterMB int `yaml:"high_water_mb"`

	// CriticalWaterMB is the critical-pressure memory threshold. Default 200.
	CriticalWaterMB int `yaml:"critical_water_mb"`
}

// Settings holds named feature toggles. The zero value is usable; unknown
// flags read as false.
type Settings map[string]bool

// Flag reports whether the named toggle is on.
func (s Settings) Flag(name string) bool { return s[name] }

// SettingResponsesAPI selects the Responses API over chat completions for
// OpenAI-family requests.
const SettingResponsesAPI = "responses_api"

// Config is the complete configuration structure for conduit.
type Config struct {
	// Provider is the active provider name (e.g. "openai", "anthropic", "local").
	Provider string `yaml:"provider"`

	// Model overrides the provider's default model.
	Model string `yaml:"model"`

	// Providers holds per-provider configuration.
	Providers map[string]*ProviderConfig `yaml:"providers"`

	// Scheduler holds task scheduler settings.
	Scheduler SchedulerConfig `yaml:"scheduler"`

	// Cache holds response cache settings.
	Cache CacheConfig `yaml:"cache"`

	// Monitor holds resource monitor settings.
	Monitor MonitorConfig `yaml:"monitor"`

	// HealthIntervalSec is the system health recompute period. Default 30.
	HealthIntervalSec int `yaml:"health_interval_sec"`

	// Settings holds named feature toggles (see SettingResponsesAPI).
	Settings Settings `yaml:"settings"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Provider:  "openai",
		Providers: make(map[string]*ProviderConfig),
		Scheduler: SchedulerConfig{
			MaxConcurrent: 3,
			MaxRetries:    3,
		},
		Cache: CacheConfig{
			FastMaxMB:          50,
			FastMaxEntries:     1000,
			TTLDays:            7,
			SweepIntervalHours: 24,
		},
		Monitor: MonitorConfig{
			SampleIntervalSec: 5,
			HighWaterMB:       100,
			CriticalWaterMB:   200,
		},
		HealthIntervalSec: 30,
		Settings:          Settings{},
	}
}

// Load reads the config file and merges environment variable overrides.
func Load(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	// Determine config file path
	if configPath == "" {
		home, err := os.UserHomeDir()
		if err == nil {
			configPath = filepath.Join(home, ".config", "conduit", "config.yaml")
		}
	}

	// Read config file (use defaults if not found)
	if data, err := os.ReadFile(configPath); err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("invalid config file %s: %w", configPath, err)
		}
	}

	// Apply environment variable overrides
	applyEnvOverrides(cfg)

	// Initialize providers map
	if cfg.Providers == nil {
		cfg.Providers = make(map[string]*ProviderConfig)
	}
	if cfg.Settings == nil {
		cfg.Settings = Settings{}
	}

	return cfg, nil
}

// GetProviderConfig returns the config for the named provider, or an empty config if not found.
func (c *Config) GetProviderConfig(name string) *ProviderConfig {
	if pc, ok := c.Providers[name]; ok {
		return pc
	}
	return &ProviderConfig{}
}

var (
	// KnownProviderBaseURLs maps well-known provider names to their base URLs.
	// Populated from providers_default.yaml (embedded) + user overrides.
	KnownProviderBaseURLs map[string]string

	// KnownProviderModels maps well-known provider names to their default models.
	// Populated from providers_default.yaml (embedded) + user overrides.
	KnownProviderModels map[string]string
)

func init() {
	defs := LoadProviderDefaults()
	KnownProviderBaseURLs = make(map[string]string, len(defs))
	KnownProviderModels = make(map[string]string, len(defs))
	for name, d := range defs {
		if d.BaseURL != "" {
			KnownProviderBaseURLs[name] = d.BaseURL
		}
		if d.DefaultModel != "" {
			KnownProviderModels[name] = d.DefaultModel
		}
	}
}

// SaveProviderToFile persists a single provider's config and the active provider
// name into ~/.config/conduit/config.yaml, preserving all other user settings.
func SaveProviderToFile(providerName string, pc ProviderConfig) error {
	return updateConfigFile(func(raw map[string]any) {
		providers, _ := raw["providers"].(map[string]any)
		if providers == nil {
			providers = make(map[string]any)
		}

		entry := map[string]any{
			"api_key": pc.APIKey,
		}
		if pc.BaseURL != "" {
			entry["base_url"] = pc.BaseURL
		}
		if pc.Model != "" {
			entry["model"] = pc.Model
		}
		if len(pc.Command) > 0 {
			entry["command"] = pc.Command
		}
		providers[providerName] = entry
		raw["providers"] = providers

		// Set active provider and clear stale global model override.
		raw["provider"] = providerName
		delete(raw, "model")
	})
}

// SaveSettingToFile persists a single feature toggle into
// ~/.config/conduit/config.yaml, preserving all other user settings.
func SaveSettingToFile(name string, on bool) error {
	return updateConfigFile(func(raw map[string]any) {
		settings, _ := raw["settings"].(map[string]any)
		if settings == nil {
			settings = make(map[string]any)
		}
		settings[name] = on
		raw["settings"] = settings
	})
}

// updateConfigFile applies mutate to the config file parsed as a generic map,
// so fields this version does not know about survive the rewrite.
func updateConfigFile(mutate func(raw map[string]any)) error {
	home, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("cannot determine home directory: %w", err)
	}
	cfgPath := filepath.Join(home, ".config", "conduit", "config.yaml")

	raw := make(map[string]any)
	if data, err := os.ReadFile(cfgPath); err == nil {
		_ = yaml.Unmarshal(data, &raw) // ignore errors; start fresh if corrupt
	}

	mutate(raw)

	if err := os.MkdirAll(filepath.Dir(cfgPath), 0755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	data, err := yaml.Marshal(raw)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(cfgPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// applyEnvOverrides applies environment variable overrides to the config.
func applyEnvOverrides(cfg *Config) {
	// Generic overrides
	if v := os.Getenv("LLM_API_KEY"); v != "" {
		provider := cfg.Provider
		if cfg.Providers[provider] == nil {
			cfg.Providers[provider] = &ProviderConfig{}
		}
		cfg.Providers[provider].APIKey = v
	}
	if v := os.Getenv("LLM_BASE_URL"); v != "" {
		provider := cfg.Provider
		if cfg.Providers[provider] == nil {
			cfg.Providers[provider] = &ProviderConfig{}
		}
		cfg.Providers[provider].BaseURL = v
	}
	if v := os.Getenv("LLM_MODEL"); v != "" {
		cfg.Model = v
	}

	// Provider-specific keys
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		if cfg.Providers["openai"] == nil {
			cfg.Providers["openai"] = &ProviderConfig{}
		}
		if cfg.Providers["openai"].APIKey == "" {
			cfg.Providers["openai"].APIKey = v
		}
	}
	if v := os.Getenv("ANTHROPIC_API_KEY"); v != "" {
		if cfg.Providers["anthropic"] == nil {
			cfg.Providers["anthropic"] = &ProviderConfig{}
		}
		if cfg.Providers["anthropic"].APIKey == "" {
			cfg.Providers["anthropic"].APIKey = v
		}
	}

	// Provider selection
	if v := os.Getenv("CONDUIT_PROVIDER"); v != "" {
		cfg.Provider = v
	}
	if v := os.Getenv("CONDUIT_MODEL"); v != "" {
		cfg.Model = v
	}
}

// CacheDir resolves the slow-tier cache directory, honoring the configured
// override.
func (c *Config) CacheDir() (string, error) {
	if c.Cache.Dir != "" {
		return c.Cache.Dir, nil
	}
	base, err := os.UserCacheDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine cache directory: %w", err)
	}
	return filepath.Join(base, "conduit"), nil
}
