// Package messaging delivers outbound messages over the WhatsApp Cloud
// API. With no token configured the sender runs in log-only mode, which
// keeps local development working without provider credentials.
package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/chatcart/chatcart/internal/domain"
	"github.com/chatcart/chatcart/internal/logging"
)

// maxQuickReplies is the provider's cap on buttons per message.
const maxQuickReplies = 3

// WhatsApp sends messages through the Cloud API's /messages endpoint.
type WhatsApp struct {
	apiURL  string
	phoneID string
	token   string
	client  *http.Client
	log     *logging.Logger
}

// NewWhatsApp creates a sender. An empty token enables log-only mode:
// every send is logged and acknowledged with a generated id.
func NewWhatsApp(apiURL, phoneID, token string, log *logging.Logger) *WhatsApp {
	return &WhatsApp{
		apiURL:  strings.TrimRight(apiURL, "/"),
		phoneID: phoneID,
		token:   token,
		client:  &http.Client{Timeout: 30 * time.Second},
		log:     log.Sub("whatsapp"),
	}
}

// Send delivers one message and returns the provider's message id.
func (w *WhatsApp) Send(ctx context.Context, msg domain.OutboundMessage) (string, error) {
	if w.token == "" {
		id := "local." + uuid.NewString()
		w.log.Info().
			Str("to", msg.To).
			Str("body", msg.Body).
			Int("buttons", len(msg.QuickReplies)).
			Str("message_id", id).
			Msg("log-only send")
		return id, nil
	}

	payload, err := json.Marshal(w.buildPayload(msg))
	if err != nil {
		return "", fmt.Errorf("encoding message: %w", err)
	}

	url := fmt.Sprintf("%s/%s/messages", w.apiURL, w.phoneID)
	httpReq, err := http.NewRequestWithContext(ctx, "POST", url, strings.NewReader(string(payload)))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+w.token)

	resp, err := w.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("sending message: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("API error (%d): %s", resp.StatusCode, string(respBody))
	}

	var result sendResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return "", fmt.Errorf("parsing response: %w", err)
	}
	if len(result.Messages) == 0 {
		return "", fmt.Errorf("no message id in response: %s", string(respBody))
	}

	id := result.Messages[0].ID
	w.log.Debug().Str("to", msg.To).Str("message_id", id).Msg("message sent")
	return id, nil
}

// buildPayload produces the Cloud API body: a plain text message, or an
// interactive button message when quick replies are attached.
func (w *WhatsApp) buildPayload(msg domain.OutboundMessage) map[string]interface{} {
	payload := map[string]interface{}{
		"messaging_product": "whatsapp",
		"recipient_type":    "individual",
		"to":                msg.To,
	}

	replies := msg.QuickReplies
	if len(replies) > maxQuickReplies {
		w.log.Warn().
			Str("to", msg.To).
			Int("buttons", len(replies)).
			Msg("quick replies truncated to provider cap")
		replies = replies[:maxQuickReplies]
	}

	if len(replies) == 0 {
		payload["type"] = "text"
		payload["text"] = map[string]interface{}{"body": msg.Body}
		return payload
	}

	buttons := make([]map[string]interface{}, len(replies))
	for i, r := range replies {
		buttons[i] = map[string]interface{}{
			"type": "reply",
			"reply": map[string]string{
				"id":    r.ID,
				"title": r.Title,
			},
		}
	}
	payload["type"] = "interactive"
	payload["interactive"] = map[string]interface{}{
		"type":   "button",
		"body":   map[string]string{"text": msg.Body},
		"action": map[string]interface{}{"buttons": buttons},
	}
	return payload
}

type sendResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
}
