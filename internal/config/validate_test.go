package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidate_ValidDefaults(t *testing.T) {
	cfg := Defaults()
	issues := Validate(&cfg)
	assert.Empty(t, issues)
}

func TestValidate_InvalidOpsPort(t *testing.T) {
	cfg := Defaults()

	cfg.Ops.Port = -1
	issues := Validate(&cfg)
	assert.NotEmpty(t, issues)
	assert.Contains(t, issues[0].Path, "ops.port")

	cfg.Ops.Port = 70000
	issues = Validate(&cfg)
	assert.NotEmpty(t, issues)
}

func TestValidate_ValidOpsPort(t *testing.T) {
	cfg := Defaults()
	cfg.Ops.Port = 0
	assert.Empty(t, Validate(&cfg))

	cfg.Ops.Port = 65535
	assert.Empty(t, Validate(&cfg))

	cfg.Ops.Port = 8080
	assert.Empty(t, Validate(&cfg))
}

func TestValidate_InvalidBind(t *testing.T) {
	cfg := Defaults()
	cfg.Ops.Bind = "tailnet"
	issues := Validate(&cfg)
	assert.NotEmpty(t, issues)
	assert.Contains(t, issues[0].Path, "ops.bind")
}

func TestValidate_ValidBinds(t *testing.T) {
	for _, bind := range []string{"auto", "lan", "loopback", ""} {
		cfg := Defaults()
		cfg.Ops.Bind = bind
		assert.Empty(t, Validate(&cfg), "bind %q should be valid", bind)
	}
}

func TestValidate_CustomBindNeedsHost(t *testing.T) {
	cfg := Defaults()
	cfg.Ops.Bind = "custom"
	issues := Validate(&cfg)
	assert.NotEmpty(t, issues)
	assert.Contains(t, issues[0].Path, "ops.customBindHost")

	cfg.Ops.CustomBindHost = "10.0.0.5"
	assert.Empty(t, Validate(&cfg))
}

func TestValidate_InvalidLogLevel(t *testing.T) {
	cfg := Defaults()
	cfg.Logging.Level = "verbose"
	issues := Validate(&cfg)
	assert.NotEmpty(t, issues)
	assert.Contains(t, issues[0].Path, "logging.level")
}

func TestValidate_ValidLogLevels(t *testing.T) {
	for _, level := range []string{"silent", "fatal", "error", "warn", "info", "debug", "trace", ""} {
		cfg := Defaults()
		cfg.Logging.Level = level
		assert.Empty(t, Validate(&cfg), "log level %q should be valid", level)
	}
}

func TestValidate_InvalidLogFormat(t *testing.T) {
	cfg := Defaults()
	cfg.Logging.Format = "fancy"
	issues := Validate(&cfg)
	assert.NotEmpty(t, issues)
	assert.Contains(t, issues[0].Path, "logging.format")
}

func TestValidate_ValidLogFormats(t *testing.T) {
	for _, format := range []string{"console", "json", ""} {
		cfg := Defaults()
		cfg.Logging.Format = format
		assert.Empty(t, Validate(&cfg), "log format %q should be valid", format)
	}
}

func TestValidate_AILimits(t *testing.T) {
	cfg := Defaults()
	cfg.AI.RPMLimit = 0
	issues := Validate(&cfg)
	assert.NotEmpty(t, issues)
	assert.Contains(t, issues[0].Path, "ai.rpmLimit")

	cfg = Defaults()
	cfg.AI.TPMLimit = -5
	issues = Validate(&cfg)
	assert.NotEmpty(t, issues)
	assert.Contains(t, issues[0].Path, "ai.tpmLimit")

	cfg = Defaults()
	cfg.AI.DailyLimit = 0
	issues = Validate(&cfg)
	assert.NotEmpty(t, issues)
	assert.Contains(t, issues[0].Path, "ai.dailyLimit")

	cfg = Defaults()
	cfg.AI.MaxRetries = -1
	issues = Validate(&cfg)
	assert.NotEmpty(t, issues)
	assert.Contains(t, issues[0].Path, "ai.maxRetries")
}

func TestValidate_ZeroRetriesAllowed(t *testing.T) {
	cfg := Defaults()
	cfg.AI.MaxRetries = 0
	assert.Empty(t, Validate(&cfg))
}

func TestValidate_RecoveryLimits(t *testing.T) {
	cfg := Defaults()
	cfg.Recovery.MaxAttempts = 0
	issues := Validate(&cfg)
	assert.NotEmpty(t, issues)
	assert.Contains(t, issues[0].Path, "recovery.maxAttempts")

	cfg = Defaults()
	cfg.Recovery.AbandonmentMinutes = 0
	issues = Validate(&cfg)
	assert.NotEmpty(t, issues)
	assert.Contains(t, issues[0].Path, "recovery.abandonmentMinutes")

	cfg = Defaults()
	cfg.Recovery.CartExpiryDays = 0
	issues = Validate(&cfg)
	assert.NotEmpty(t, issues)
	assert.Contains(t, issues[0].Path, "recovery.cartExpiryDays")
}

func TestValidate_ConversationWindows(t *testing.T) {
	cfg := Defaults()
	cfg.Conversation.SessionWindowMinutes = 0
	issues := Validate(&cfg)
	assert.NotEmpty(t, issues)
	assert.Contains(t, issues[0].Path, "conversation.sessionWindowMinutes")

	cfg = Defaults()
	cfg.Conversation.StaleAfterHours = 0
	issues = Validate(&cfg)
	assert.NotEmpty(t, issues)
	assert.Contains(t, issues[0].Path, "conversation.staleAfterHours")
}

func TestValidate_MessagingTokenRequiresPhoneID(t *testing.T) {
	cfg := Defaults()
	cfg.Messaging.Token = "tok"
	issues := Validate(&cfg)
	assert.NotEmpty(t, issues)
	assert.Contains(t, issues[0].Path, "messaging.phoneId")

	cfg.Messaging.PhoneID = "109999999999999"
	assert.Empty(t, Validate(&cfg))
}

func TestValidate_MessagingUnconfigured(t *testing.T) {
	cfg := Defaults()
	cfg.Messaging.Token = ""
	cfg.Messaging.PhoneID = ""
	assert.Empty(t, Validate(&cfg))
}

func TestValidate_MultipleIssues(t *testing.T) {
	cfg := Defaults()
	cfg.Ops.Port = -1
	cfg.Ops.Bind = "invalid"
	cfg.Logging.Level = "verbose"

	issues := Validate(&cfg)
	assert.GreaterOrEqual(t, len(issues), 3)
}

func TestValidationIssueString(t *testing.T) {
	issue := ValidationIssue{
		Path:    "ops.port",
		Message: "port must be 0-65535, got -1",
	}
	assert.Equal(t, "ops.port: port must be 0-65535, got -1", issue.String())
}
