package transport

import (
	"context"
	"errors"
	"log"
	"sync"
)

// Transport delivers outbound messages. Delivery is best effort: callers log
// a returned error and move on, implementations must not retry internally.
type Transport interface {
	SendText(ctx context.Context, userID, text string) error
	SendDocument(ctx context.Context, userID, path, caption string) error
	SendImage(ctx context.Context, userID, ref, caption string) error
}

// LogTransport writes every delivery to a logger. It backs deployments
// where no chat connector is configured.
type LogTransport struct {
	Log *log.Logger
}

func (t LogTransport) SendText(ctx context.Context, userID, text string) error {
	if t.Log != nil {
		t.Log.Printf("send text to %s: %s", userID, text)
	}
	return nil
}

func (t LogTransport) SendDocument(ctx context.Context, userID, path, caption string) error {
	if t.Log != nil {
		t.Log.Printf("send document to %s: %s (%s)", userID, path, caption)
	}
	return nil
}

func (t LogTransport) SendImage(ctx context.Context, userID, ref, caption string) error {
	if t.Log != nil {
		t.Log.Printf("send image to %s: %s (%s)", userID, ref, caption)
	}
	return nil
}

// Message is one recorded outbound delivery.
type Message struct {
	UserID  string
	Kind    string // "text", "document", "image"
	Body    string
	Caption string
}

// Outbox records deliveries in memory for tests.
type Outbox struct {
	mu       sync.Mutex
	messages []Message
	Fail     func(userID string) bool
}

func (o *Outbox) record(m Message) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.Fail != nil && o.Fail(m.UserID) {
		return errDelivery
	}
	o.messages = append(o.messages, m)
	return nil
}

func (o *Outbox) SendText(_ context.Context, userID, text string) error {
	return o.record(Message{UserID: userID, Kind: "text", Body: text})
}

func (o *Outbox) SendDocument(_ context.Context, userID, path, caption string) error {
	return o.record(Message{UserID: userID, Kind: "document", Body: path, Caption: caption})
}

func (o *Outbox) SendImage(_ context.Context, userID, ref, caption string) error {
	return o.record(Message{UserID: userID, Kind: "image", Body: ref, Caption: caption})
}

// Messages returns a copy of everything recorded so far.
func (o *Outbox) Messages() []Message {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]Message, len(o.messages))
	copy(out, o.messages)
	return out
}

// For returns recorded messages addressed to one user.
func (o *Outbox) For(userID string) []Message {
	var out []Message
	for _, m := range o.Messages() {
		if m.UserID == userID {
			out = append(out, m)
		}
	}
	return out
}

var errDelivery = errors.New("delivery failed")
