package cli

import (
	"context"
	"fmt"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/chatcart/chatcart/internal/abandonment"
	"github.com/chatcart/chatcart/internal/config"
	"github.com/chatcart/chatcart/internal/conversation"
	"github.com/chatcart/chatcart/internal/llm"
	"github.com/chatcart/chatcart/internal/logging"
	"github.com/chatcart/chatcart/internal/messaging"
	"github.com/chatcart/chatcart/internal/ops"
	"github.com/chatcart/chatcart/internal/recovery"
	"github.com/chatcart/chatcart/internal/store"
	"github.com/chatcart/chatcart/internal/trace"
)

// breakerCooldown is how long the circuit stays open before probing again.
const breakerCooldown = 5 * time.Minute

func newServeCmd() *cobra.Command {
	var (
		port int
		bind string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the assistant: conversation pipeline, recovery scheduler, and ops server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(paths.Config)
			if err != nil {
				return err
			}

			if port != 0 {
				cfg.Ops.Port = port
			}
			if bind != "" {
				cfg.Ops.Bind = bind
			}

			issues := config.Validate(&cfg)
			if len(issues) > 0 {
				for _, issue := range issues {
					log.Error().Str("path", issue.Path).Msg(issue.Message)
				}
				return fmt.Errorf("config validation failed with %d issue(s)", len(issues))
			}

			if err := paths.EnsureDirs(); err != nil {
				return fmt.Errorf("creating data directories: %w", err)
			}

			// The persistent flag wins over the config file.
			if logLevel == "" {
				log = logging.New(nil, cfg.Logging.Level, cfg.Logging.Format)
			}

			dbPath := filepath.Join(paths.Data, "chatcart.db")
			db, err := store.Open(dbPath, log)
			if err != nil {
				return fmt.Errorf("opening database: %w", err)
			}
			defer db.Close()
			log.Info().Str("path", dbPath).Msg("database ready")

			sessions := store.NewSessionStore(db)
			carts := store.NewCartStore(db)
			campaigns := store.NewCampaignStore(db)
			usage := store.NewUsageStore(db)

			tracer := trace.NewTracer(log)
			machine := conversation.NewStateMachine(sessions, tracer,
				time.Duration(cfg.Conversation.SessionWindowMinutes)*time.Minute, log)
			janitor := conversation.NewJanitor(db, sessions, machine, log)

			detector := abandonment.NewDetector(db, sessions, carts, abandonment.Config{
				Threshold:   time.Duration(cfg.Recovery.AbandonmentMinutes) * time.Minute,
				MaxAttempts: cfg.Recovery.MaxAttempts,
				Spacing:     time.Duration(cfg.Recovery.AttemptSpacingHours) * time.Hour,
			}, log)

			var gw *llm.Gateway
			if cfg.AI.APIKey != "" {
				limiter := llm.NewRateLimiter(cfg.AI.RPMLimit, cfg.AI.TPMLimit, cfg.AI.DailyLimit, log)
				breaker := llm.NewCircuitBreaker(cfg.AI.BreakerThreshold, breakerCooldown, log)
				gw = llm.NewGateway(llm.GatewayConfig{
					Client:     llm.NewAnthropicClient(cfg.AI.APIKey, cfg.AI.Model),
					Limiter:    limiter,
					Breaker:    breaker,
					Sink:       usage,
					MaxRetries: cfg.AI.MaxRetries,
					BaseDelay:  time.Duration(cfg.AI.BaseDelayMs) * time.Millisecond,
				}, log)
				log.Info().Str("model", cfg.AI.Model).Msg("AI gateway enabled")
			} else {
				log.Warn().Msg("no AI API key configured — using keyword fallbacks only")
			}

			messenger := messaging.NewWhatsApp(cfg.Messaging.APIURL, cfg.Messaging.PhoneID, cfg.Messaging.Token, log)

			engine := recovery.NewEngine(carts, campaigns, gw, messenger, recovery.Config{
				Model:       cfg.AI.Model,
				MaxTokens:   cfg.AI.MaxTokens,
				MaxAttempts: cfg.Recovery.MaxAttempts,
				Spacing:     time.Duration(cfg.Recovery.AttemptSpacingHours) * time.Hour,
			}, log)

			classifier := conversation.NewClassifier(gw, cfg.AI.Model, cfg.AI.MaxTokens, log)
			manager := conversation.NewManager(machine, classifier, messenger, engine, log)

			scheduler := recovery.NewScheduler(detector, engine, carts, recovery.SchedulerConfig{
				CartExpiry: time.Duration(cfg.Recovery.CartExpiryDays) * 24 * time.Hour,
				SendDelay:  time.Duration(cfg.Recovery.SendDelaySeconds) * time.Second,
			}, log)

			staleAfter := time.Duration(cfg.Conversation.StaleAfterHours) * time.Hour

			opsServer := ops.New(cfg.Ops, ops.Deps{
				Sessions:        sessions,
				Carts:           carts,
				Campaigns:       campaigns,
				Usage:           usage,
				Tracer:          tracer,
				Machine:         machine,
				Janitor:         janitor,
				Detector:        detector,
				Manager:         manager,
				Gateway:         gw,
				StaleAfter:      staleAfter,
				DailyTokenLimit: cfg.AI.DailyTokenLimit,
			}, log)

			// Block until SIGINT/SIGTERM
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			go janitor.Run(ctx,
				time.Duration(cfg.Conversation.JanitorIntervalMinutes)*time.Minute, staleAfter)
			go scheduler.Run(ctx,
				time.Duration(cfg.Recovery.ScanIntervalMinutes)*time.Minute)

			return opsServer.Start(ctx)
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "override ops server port")
	cmd.Flags().StringVar(&bind, "bind", "", "override bind mode (auto, lan, loopback, custom)")

	return cmd
}
