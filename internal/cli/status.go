package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/chatcart/chatcart/internal/config"
	"github.com/chatcart/chatcart/internal/version"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show chatcart status and configuration summary",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Printf("chatcart %s (commit %s)\n\n", version.Version, version.Commit)

			fmt.Printf("Config:  %s\n", paths.Config)
			fmt.Printf("Data:    %s\n", paths.Data)
			fmt.Printf("Logs:    %s\n", paths.Logs)
			fmt.Println()

			cfg, err := config.Load(paths.Config)
			if err != nil {
				if os.IsNotExist(err) {
					fmt.Println("Config:  not found (using defaults)")
				} else {
					fmt.Printf("Config:  error loading: %v\n", err)
				}
				return nil
			}

			if cfg.AI.APIKey != "" {
				fmt.Printf("AI:       model=%s maxTokens=%d rpm=%d tpm=%d daily=%d\n",
					cfg.AI.Model, cfg.AI.MaxTokens, cfg.AI.RPMLimit, cfg.AI.TPMLimit, cfg.AI.DailyLimit)
			} else {
				fmt.Println("AI:       no API key (keyword fallbacks only)")
			}

			if cfg.Messaging.Token != "" {
				fmt.Printf("WhatsApp: phoneId=%s\n", cfg.Messaging.PhoneID)
			} else {
				fmt.Println("WhatsApp: no token (log-only sending)")
			}

			fmt.Printf("Sessions: window=%dm staleAfter=%dh janitorEvery=%dm\n",
				cfg.Conversation.SessionWindowMinutes,
				cfg.Conversation.StaleAfterHours,
				cfg.Conversation.JanitorIntervalMinutes)

			fmt.Printf("Recovery: abandonAfter=%dm maxAttempts=%d spacing=%dh scanEvery=%dm cartExpiry=%dd\n",
				cfg.Recovery.AbandonmentMinutes,
				cfg.Recovery.MaxAttempts,
				cfg.Recovery.AttemptSpacingHours,
				cfg.Recovery.ScanIntervalMinutes,
				cfg.Recovery.CartExpiryDays)

			fmt.Printf("Ops:      port=%d bind=%s auth=%v\n",
				cfg.Ops.Port, cfg.Ops.Bind, cfg.Ops.Token != "")

			issues := config.Validate(&cfg)
			if len(issues) > 0 {
				fmt.Printf("\nValidation issues (%d):\n", len(issues))
				for _, issue := range issues {
					fmt.Printf("  - %s: %s\n", issue.Path, issue.Message)
				}
			}

			return nil
		},
	}
}
