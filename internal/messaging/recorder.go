package messaging

import (
	"context"
	"fmt"
	"sync"

	"github.com/chatcart/chatcart/internal/domain"
)

// Recorder is an in-memory Messenger that captures everything it is asked
// to send. Used by the simulator and by tests.
type Recorder struct {
	mu   sync.Mutex
	sent []domain.OutboundMessage
}

// NewRecorder creates an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// Send records the message and returns a synthetic id.
func (r *Recorder) Send(_ context.Context, msg domain.OutboundMessage) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, msg)
	return fmt.Sprintf("recorded.%d", len(r.sent)), nil
}

// Sent returns a copy of every recorded message in send order.
func (r *Recorder) Sent() []domain.OutboundMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.OutboundMessage, len(r.sent))
	copy(out, r.sent)
	return out
}

// Last returns the most recent message, or false when nothing was sent.
func (r *Recorder) Last() (domain.OutboundMessage, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.sent) == 0 {
		return domain.OutboundMessage{}, false
	}
	return r.sent[len(r.sent)-1], true
}
