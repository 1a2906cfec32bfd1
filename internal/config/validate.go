package config

import (
	"fmt"
	"slices"
)

// ValidationIssue describes a problem with a config value.
type ValidationIssue struct {
	Path    string
	Message string
}

func (v ValidationIssue) String() string {
	return fmt.Sprintf("%s: %s", v.Path, v.Message)
}

// Validate checks a Config for issues. Returns nil if valid.
func Validate(cfg *Config) []ValidationIssue {
	var issues []ValidationIssue

	// AI gateway validation
	if cfg.AI.RPMLimit < 1 {
		issues = append(issues, ValidationIssue{
			Path:    "ai.rpmLimit",
			Message: fmt.Sprintf("must be at least 1, got %d", cfg.AI.RPMLimit),
		})
	}
	if cfg.AI.TPMLimit < 1 {
		issues = append(issues, ValidationIssue{
			Path:    "ai.tpmLimit",
			Message: fmt.Sprintf("must be at least 1, got %d", cfg.AI.TPMLimit),
		})
	}
	if cfg.AI.DailyLimit < 1 {
		issues = append(issues, ValidationIssue{
			Path:    "ai.dailyLimit",
			Message: fmt.Sprintf("must be at least 1, got %d", cfg.AI.DailyLimit),
		})
	}
	if cfg.AI.DailyTokenLimit < 1 {
		issues = append(issues, ValidationIssue{
			Path:    "ai.dailyTokenLimit",
			Message: fmt.Sprintf("must be at least 1, got %d", cfg.AI.DailyTokenLimit),
		})
	}
	if cfg.AI.MaxRetries < 0 {
		issues = append(issues, ValidationIssue{
			Path:    "ai.maxRetries",
			Message: fmt.Sprintf("must not be negative, got %d", cfg.AI.MaxRetries),
		})
	}
	if cfg.AI.BreakerThreshold < 1 {
		issues = append(issues, ValidationIssue{
			Path:    "ai.breakerThreshold",
			Message: fmt.Sprintf("must be at least 1, got %d", cfg.AI.BreakerThreshold),
		})
	}

	// Messaging validation (only if configured)
	if cfg.Messaging.Token != "" && cfg.Messaging.PhoneID == "" {
		issues = append(issues, ValidationIssue{
			Path:    "messaging.phoneId",
			Message: "required when messaging.token is set",
		})
	}

	// Conversation validation
	if cfg.Conversation.SessionWindowMinutes < 1 {
		issues = append(issues, ValidationIssue{
			Path:    "conversation.sessionWindowMinutes",
			Message: fmt.Sprintf("must be at least 1, got %d", cfg.Conversation.SessionWindowMinutes),
		})
	}
	if cfg.Conversation.StaleAfterHours < 1 {
		issues = append(issues, ValidationIssue{
			Path:    "conversation.staleAfterHours",
			Message: fmt.Sprintf("must be at least 1, got %d", cfg.Conversation.StaleAfterHours),
		})
	}

	// Recovery validation
	if cfg.Recovery.AbandonmentMinutes < 1 {
		issues = append(issues, ValidationIssue{
			Path:    "recovery.abandonmentMinutes",
			Message: fmt.Sprintf("must be at least 1, got %d", cfg.Recovery.AbandonmentMinutes),
		})
	}
	if cfg.Recovery.MaxAttempts < 1 {
		issues = append(issues, ValidationIssue{
			Path:    "recovery.maxAttempts",
			Message: fmt.Sprintf("must be at least 1, got %d", cfg.Recovery.MaxAttempts),
		})
	}
	if cfg.Recovery.AttemptSpacingHours < 1 {
		issues = append(issues, ValidationIssue{
			Path:    "recovery.attemptSpacingHours",
			Message: fmt.Sprintf("must be at least 1, got %d", cfg.Recovery.AttemptSpacingHours),
		})
	}
	if cfg.Recovery.CartExpiryDays < 1 {
		issues = append(issues, ValidationIssue{
			Path:    "recovery.cartExpiryDays",
			Message: fmt.Sprintf("must be at least 1, got %d", cfg.Recovery.CartExpiryDays),
		})
	}

	// Ops validation
	if cfg.Ops.Port < 0 || cfg.Ops.Port > 65535 {
		issues = append(issues, ValidationIssue{
			Path:    "ops.port",
			Message: fmt.Sprintf("port must be 0-65535, got %d", cfg.Ops.Port),
		})
	}

	validBinds := []string{"auto", "lan", "loopback", "custom"}
	if cfg.Ops.Bind != "" && !slices.Contains(validBinds, cfg.Ops.Bind) {
		issues = append(issues, ValidationIssue{
			Path:    "ops.bind",
			Message: fmt.Sprintf("must be one of %v, got %q", validBinds, cfg.Ops.Bind),
		})
	}
	if cfg.Ops.Bind == "custom" && cfg.Ops.CustomBindHost == "" {
		issues = append(issues, ValidationIssue{
			Path:    "ops.customBindHost",
			Message: "required when ops.bind is custom",
		})
	}

	// Logging validation
	validLogLevels := []string{"silent", "fatal", "error", "warn", "info", "debug", "trace"}
	if cfg.Logging.Level != "" && !slices.Contains(validLogLevels, cfg.Logging.Level) {
		issues = append(issues, ValidationIssue{
			Path:    "logging.level",
			Message: fmt.Sprintf("must be one of %v, got %q", validLogLevels, cfg.Logging.Level),
		})
	}

	validFormats := []string{"console", "json"}
	if cfg.Logging.Format != "" && !slices.Contains(validFormats, cfg.Logging.Format) {
		issues = append(issues, ValidationIssue{
			Path:    "logging.format",
			Message: fmt.Sprintf("must be one of %v, got %q", validFormats, cfg.Logging.Format),
		})
	}

	return issues
}
