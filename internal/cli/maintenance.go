package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/chatcart/chatcart/internal/abandonment"
	"github.com/chatcart/chatcart/internal/config"
	"github.com/chatcart/chatcart/internal/conversation"
	"github.com/chatcart/chatcart/internal/llm"
	"github.com/chatcart/chatcart/internal/messaging"
	"github.com/chatcart/chatcart/internal/recovery"
	"github.com/chatcart/chatcart/internal/store"
	"github.com/chatcart/chatcart/internal/trace"
)

// newJanitorCmd runs one session cleanup pass and prints the report.
func newJanitorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "janitor",
		Short: "Run one stale-session cleanup pass",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(paths.Config)
			if err != nil {
				return err
			}

			db, err := store.Open(filepath.Join(paths.Data, "chatcart.db"), log)
			if err != nil {
				return fmt.Errorf("opening database: %w", err)
			}
			defer db.Close()

			sessions := store.NewSessionStore(db)
			tracer := trace.NewTracer(log)
			machine := conversation.NewStateMachine(sessions, tracer,
				time.Duration(cfg.Conversation.SessionWindowMinutes)*time.Minute, log)
			janitor := conversation.NewJanitor(db, sessions, machine, log)

			report, err := janitor.CleanupStaleSessions(
				time.Duration(cfg.Conversation.StaleAfterHours) * time.Hour)
			if err != nil {
				return err
			}
			return printJSON(report)
		},
	}
}

// newRecoveryCmd runs one detection + recovery cycle and prints the report.
func newRecoveryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "recovery",
		Short: "Run one cart detection and recovery cycle",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(paths.Config)
			if err != nil {
				return err
			}

			db, err := store.Open(filepath.Join(paths.Data, "chatcart.db"), log)
			if err != nil {
				return fmt.Errorf("opening database: %w", err)
			}
			defer db.Close()

			sessions := store.NewSessionStore(db)
			carts := store.NewCartStore(db)
			campaigns := store.NewCampaignStore(db)
			usage := store.NewUsageStore(db)

			detector := abandonment.NewDetector(db, sessions, carts, abandonment.Config{
				Threshold:   time.Duration(cfg.Recovery.AbandonmentMinutes) * time.Minute,
				MaxAttempts: cfg.Recovery.MaxAttempts,
				Spacing:     time.Duration(cfg.Recovery.AttemptSpacingHours) * time.Hour,
			}, log)

			var gw *llm.Gateway
			if cfg.AI.APIKey != "" {
				gw = llm.NewGateway(llm.GatewayConfig{
					Client:     llm.NewAnthropicClient(cfg.AI.APIKey, cfg.AI.Model),
					Limiter:    llm.NewRateLimiter(cfg.AI.RPMLimit, cfg.AI.TPMLimit, cfg.AI.DailyLimit, log),
					Breaker:    llm.NewCircuitBreaker(cfg.AI.BreakerThreshold, breakerCooldown, log),
					Sink:       usage,
					MaxRetries: cfg.AI.MaxRetries,
					BaseDelay:  time.Duration(cfg.AI.BaseDelayMs) * time.Millisecond,
				}, log)
			}

			messenger := messaging.NewWhatsApp(cfg.Messaging.APIURL, cfg.Messaging.PhoneID, cfg.Messaging.Token, log)

			engine := recovery.NewEngine(carts, campaigns, gw, messenger, recovery.Config{
				Model:       cfg.AI.Model,
				MaxTokens:   cfg.AI.MaxTokens,
				MaxAttempts: cfg.Recovery.MaxAttempts,
				Spacing:     time.Duration(cfg.Recovery.AttemptSpacingHours) * time.Hour,
			}, log)

			scheduler := recovery.NewScheduler(detector, engine, carts, recovery.SchedulerConfig{
				CartExpiry: time.Duration(cfg.Recovery.CartExpiryDays) * 24 * time.Hour,
				SendDelay:  time.Duration(cfg.Recovery.SendDelaySeconds) * time.Second,
			}, log)

			report, err := scheduler.Cycle(context.Background())
			if err != nil {
				return err
			}
			return printJSON(report)
		},
	}
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
