package domain

import (
	"context"
	"time"
)

// MessageType classifies an inbound message event.
type MessageType string

const (
	MessageText        MessageType = "text"
	MessageInteractive MessageType = "interactive"
)

// InboundMessage is one customer message event from the messaging channel.
type InboundMessage struct {
	From      string      `json:"from"`
	Name      string      `json:"name,omitempty"`
	Body      string      `json:"body"`
	Type      MessageType `json:"type"`
	ButtonID  string      `json:"button_id,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// QuickReply is one tappable option attached to an outbound message.
// Providers cap these at three per message.
type QuickReply struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// OutboundMessage is a message to deliver to a customer.
type OutboundMessage struct {
	To           string       `json:"to"`
	Body         string       `json:"body"`
	QuickReplies []QuickReply `json:"quick_replies,omitempty"`
}

// Messenger delivers outbound messages and returns the provider's message
// id on success.
type Messenger interface {
	Send(ctx context.Context, msg OutboundMessage) (string, error)
}
