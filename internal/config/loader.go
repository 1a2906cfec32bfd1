package config

import (
	"os"
	"regexp"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// envVarPattern matches ${VAR_NAME} patterns in strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// expandEnvVars replaces ${VAR} patterns with environment variable values.
// Unset variables are left unchanged.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := match[2 : len(match)-1]
		if val, ok := os.LookupEnv(varName); ok {
			return val
		}
		return match
	})
}

// expandSensitiveFields processes environment variable references in
// credential fields so keys and tokens can be stored as ${ENV_VAR}.
func expandSensitiveFields(cfg *Config) {
	cfg.AI.APIKey = expandEnvVars(cfg.AI.APIKey)
	cfg.Messaging.Token = expandEnvVars(cfg.Messaging.Token)
	cfg.Ops.Token = expandEnvVars(cfg.Ops.Token)
}

// Load reads the config file, applies environment overrides, and returns
// a merged Config. Missing files produce defaults only.
func Load(path string) (Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			applyEnvOverrides(&cfg)
			return cfg, nil
		}
		return cfg, err
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, &ConfigError{Message: "failed to parse config: " + err.Error()}
	}

	applyDefaults(&cfg)
	applyEnvOverrides(&cfg)
	expandSensitiveFields(&cfg)
	return cfg, nil
}

// LoadRaw reads the config file into a generic map for path-based access.
func LoadRaw(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]any{}, nil
		}
		return nil, err
	}

	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, &ConfigError{Message: "failed to parse config: " + err.Error()}
	}
	return raw, nil
}

// SaveRaw writes a generic map back to a YAML config file.
func SaveRaw(path string, raw map[string]any) error {
	data, err := yaml.Marshal(raw)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

// applyDefaults fills zero-value fields with sensible defaults. A config
// file that sets only a few keys still gets full limits and windows.
func applyDefaults(cfg *Config) {
	def := Defaults()
	if cfg.AI.Model == "" {
		cfg.AI.Model = def.AI.Model
	}
	if cfg.AI.MaxTokens == 0 {
		cfg.AI.MaxTokens = def.AI.MaxTokens
	}
	if cfg.AI.RPMLimit == 0 {
		cfg.AI.RPMLimit = def.AI.RPMLimit
	}
	if cfg.AI.TPMLimit == 0 {
		cfg.AI.TPMLimit = def.AI.TPMLimit
	}
	if cfg.AI.DailyLimit == 0 {
		cfg.AI.DailyLimit = def.AI.DailyLimit
	}
	if cfg.AI.DailyTokenLimit == 0 {
		cfg.AI.DailyTokenLimit = def.AI.DailyTokenLimit
	}
	if cfg.AI.MaxRetries == 0 {
		cfg.AI.MaxRetries = def.AI.MaxRetries
	}
	if cfg.AI.BaseDelayMs == 0 {
		cfg.AI.BaseDelayMs = def.AI.BaseDelayMs
	}
	if cfg.AI.BreakerThreshold == 0 {
		cfg.AI.BreakerThreshold = def.AI.BreakerThreshold
	}
	if cfg.Messaging.APIURL == "" {
		cfg.Messaging.APIURL = def.Messaging.APIURL
	}
	if cfg.Conversation.SessionWindowMinutes == 0 {
		cfg.Conversation.SessionWindowMinutes = def.Conversation.SessionWindowMinutes
	}
	if cfg.Conversation.StaleAfterHours == 0 {
		cfg.Conversation.StaleAfterHours = def.Conversation.StaleAfterHours
	}
	if cfg.Conversation.JanitorIntervalMinutes == 0 {
		cfg.Conversation.JanitorIntervalMinutes = def.Conversation.JanitorIntervalMinutes
	}
	if cfg.Recovery.AbandonmentMinutes == 0 {
		cfg.Recovery.AbandonmentMinutes = def.Recovery.AbandonmentMinutes
	}
	if cfg.Recovery.MaxAttempts == 0 {
		cfg.Recovery.MaxAttempts = def.Recovery.MaxAttempts
	}
	if cfg.Recovery.AttemptSpacingHours == 0 {
		cfg.Recovery.AttemptSpacingHours = def.Recovery.AttemptSpacingHours
	}
	if cfg.Recovery.ScanIntervalMinutes == 0 {
		cfg.Recovery.ScanIntervalMinutes = def.Recovery.ScanIntervalMinutes
	}
	if cfg.Recovery.CartExpiryDays == 0 {
		cfg.Recovery.CartExpiryDays = def.Recovery.CartExpiryDays
	}
	if cfg.Recovery.SendDelaySeconds == 0 {
		cfg.Recovery.SendDelaySeconds = def.Recovery.SendDelaySeconds
	}
	if cfg.Ops.Port == 0 {
		cfg.Ops.Port = def.Ops.Port
	}
	if cfg.Ops.Bind == "" {
		cfg.Ops.Bind = def.Ops.Bind
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = def.Logging.Level
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = def.Logging.Format
	}
}

// applyEnvOverrides reads CHATCART_* environment variables and overrides
// config values. ANTHROPIC_API_KEY fills the AI key when unset.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("CHATCART_OPS_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Ops.Port = port
		}
	}
	if v := os.Getenv("CHATCART_OPS_BIND"); v != "" {
		cfg.Ops.Bind = v
	}
	if v := os.Getenv("CHATCART_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = strings.ToLower(v)
	}
	if v := os.Getenv("CHATCART_AI_API_KEY"); v != "" {
		cfg.AI.APIKey = v
	}
	if cfg.AI.APIKey == "" {
		cfg.AI.APIKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	if v := os.Getenv("CHATCART_WHATSAPP_TOKEN"); v != "" {
		cfg.Messaging.Token = v
	}
}
