package cli

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/chatcart/chatcart/internal/config"
	"github.com/chatcart/chatcart/internal/conversation"
	"github.com/chatcart/chatcart/internal/domain"
	"github.com/chatcart/chatcart/internal/llm"
	"github.com/chatcart/chatcart/internal/messaging"
	"github.com/chatcart/chatcart/internal/store"
	"github.com/chatcart/chatcart/internal/trace"
)

// newSimulateCmd drives the full conversation pipeline against an
// in-memory database, one message per argument, printing each reply.
// Nothing is sent to the real messaging provider.
func newSimulateCmd() *cobra.Command {
	var customer string

	cmd := &cobra.Command{
		Use:   "simulate [message]...",
		Short: "Run messages through the conversation pipeline locally",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(paths.Config)
			if err != nil {
				cfg = config.Defaults()
			}

			db, err := store.Open(":memory:", log)
			if err != nil {
				return fmt.Errorf("opening database: %w", err)
			}
			defer db.Close()

			sessions := store.NewSessionStore(db)
			tracer := trace.NewTracer(log)
			machine := conversation.NewStateMachine(sessions, tracer,
				time.Duration(cfg.Conversation.SessionWindowMinutes)*time.Minute, log)

			var gw *llm.Gateway
			if cfg.AI.APIKey != "" {
				gw = llm.NewGateway(llm.GatewayConfig{
					Client:     llm.NewAnthropicClient(cfg.AI.APIKey, cfg.AI.Model),
					Limiter:    llm.NewRateLimiter(cfg.AI.RPMLimit, cfg.AI.TPMLimit, cfg.AI.DailyLimit, log),
					Breaker:    llm.NewCircuitBreaker(cfg.AI.BreakerThreshold, breakerCooldown, log),
					MaxRetries: cfg.AI.MaxRetries,
					BaseDelay:  time.Duration(cfg.AI.BaseDelayMs) * time.Millisecond,
				}, log)
			}

			recorder := messaging.NewRecorder()
			classifier := conversation.NewClassifier(gw, cfg.AI.Model, cfg.AI.MaxTokens, log)
			manager := conversation.NewManager(machine, classifier, recorder, nil, log)

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			for _, body := range args {
				fmt.Printf("> %s\n", body)
				sent := len(recorder.Sent())

				manager.HandleMessage(ctx, domain.InboundMessage{
					From:      customer,
					Body:      body,
					Type:      domain.MessageText,
					Timestamp: time.Now().UTC(),
				})

				for _, reply := range recorder.Sent()[sent:] {
					fmt.Println(reply.Body)
					for _, qr := range reply.QuickReplies {
						fmt.Printf("  [%s]\n", qr.Title)
					}
				}

				sess, err := sessions.MostRecentActive(customer)
				if err == nil {
					fmt.Printf("(state: %s)\n\n", sess.CurrentState)
				}
			}

			return nil
		},
	}

	cmd.Flags().StringVar(&customer, "customer", "254700000000", "customer id to simulate as")

	return cmd
}
