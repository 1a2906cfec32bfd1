package config

import "fmt"

// ConfigError represents a configuration error.
type ConfigError struct {
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %s", e.Message)
}

// Defaults returns a Config with sensible defaults applied.
func Defaults() Config {
	return Config{
		AI: AIConfig{
			Model:            "claude-3-5-haiku-latest",
			MaxTokens:        1024,
			RPMLimit:         15,
			TPMLimit:         32000,
			DailyLimit:       1500,
			DailyTokenLimit:  1500000,
			MaxRetries:       3,
			BaseDelayMs:      1000,
			BreakerThreshold: 5,
		},
		Messaging: MessagingConfig{
			APIURL: "https://graph.facebook.com/v18.0",
		},
		Conversation: ConversationConfig{
			SessionWindowMinutes:   30,
			StaleAfterHours:        24,
			JanitorIntervalMinutes: 60,
		},
		Recovery: RecoveryConfig{
			AbandonmentMinutes:  15,
			MaxAttempts:         3,
			AttemptSpacingHours: 2,
			ScanIntervalMinutes: 30,
			CartExpiryDays:      7,
			SendDelaySeconds:    2,
		},
		Ops: OpsConfig{
			Port: 8000,
			Bind: "loopback",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}
