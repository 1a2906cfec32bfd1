package config

// Config is the root configuration for chatcart.
type Config struct {
	AI           AIConfig           `yaml:"ai,omitempty"`
	Messaging    MessagingConfig    `yaml:"messaging,omitempty"`
	Conversation ConversationConfig `yaml:"conversation,omitempty"`
	Recovery     RecoveryConfig     `yaml:"recovery,omitempty"`
	Ops          OpsConfig          `yaml:"ops,omitempty"`
	Logging      LoggingConfig      `yaml:"logging,omitempty"`
}

// AIConfig controls the gateway to the external classification/generation
// service: credentials, rate limits, retry budget, and circuit breaker.
type AIConfig struct {
	APIKey           string `yaml:"apiKey,omitempty"`
	Model            string `yaml:"model,omitempty"`
	MaxTokens        int    `yaml:"maxTokens,omitempty"`
	RPMLimit         int    `yaml:"rpmLimit,omitempty"`         // requests per trailing 60s
	TPMLimit         int    `yaml:"tpmLimit,omitempty"`         // tokens per trailing 60s
	DailyLimit       int    `yaml:"dailyLimit,omitempty"`       // requests per calendar day
	DailyTokenLimit  int    `yaml:"dailyTokenLimit,omitempty"`  // tokens per calendar day, quota reporting only
	MaxRetries       int    `yaml:"maxRetries,omitempty"`       // transient-failure retries
	BaseDelayMs      int    `yaml:"baseDelayMs,omitempty"`      // backoff base
	BreakerThreshold int    `yaml:"breakerThreshold,omitempty"` // consecutive failures before open
}

// MessagingConfig configures the WhatsApp Cloud API sender. Leaving the
// token empty keeps the service in log-only sending mode.
type MessagingConfig struct {
	APIURL  string `yaml:"apiUrl,omitempty"`
	PhoneID string `yaml:"phoneId,omitempty"`
	Token   string `yaml:"token,omitempty"`
}

// ConversationConfig defines session lifecycle behavior.
type ConversationConfig struct {
	SessionWindowMinutes   int `yaml:"sessionWindowMinutes,omitempty"`   // inactivity before a fresh session replaces the old one
	StaleAfterHours        int `yaml:"staleAfterHours,omitempty"`        // janitor reset horizon
	JanitorIntervalMinutes int `yaml:"janitorIntervalMinutes,omitempty"` // periodic janitor cadence under serve
}

// RecoveryConfig defines the cart abandonment and recovery workflow.
type RecoveryConfig struct {
	AbandonmentMinutes  int `yaml:"abandonmentMinutes,omitempty"`  // stall threshold before a session counts as abandoned
	MaxAttempts         int `yaml:"maxAttempts,omitempty"`         // recovery messages per cart
	AttemptSpacingHours int `yaml:"attemptSpacingHours,omitempty"` // minimum gap between attempts
	ScanIntervalMinutes int `yaml:"scanIntervalMinutes,omitempty"` // detector cadence
	CartExpiryDays      int `yaml:"cartExpiryDays,omitempty"`      // abandoned carts expire after this
	SendDelaySeconds    int `yaml:"sendDelaySeconds,omitempty"`    // pause between outbound recovery sends
}

// OpsConfig controls the ops HTTP/WebSocket server.
type OpsConfig struct {
	Port           int    `yaml:"port,omitempty"`
	Bind           string `yaml:"bind,omitempty"` // "auto" | "lan" | "loopback" | "custom"
	CustomBindHost string `yaml:"customBindHost,omitempty"`
	Token          string `yaml:"token,omitempty"` // optional bearer token for ops endpoints
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	Level  string `yaml:"level,omitempty"`  // "silent" | "fatal" | "error" | "warn" | "info" | "debug" | "trace"
	Format string `yaml:"format,omitempty"` // "console" | "json"
}
