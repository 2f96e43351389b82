// Package broadcast defines the port for pushing real-time notifications to
// the subscribers of a session.
package broadcast

import "context"

// Publisher delivers a typed event to whoever currently listens on a
// session's channel. Delivery is best effort: no buffering for absent
// subscribers and no error is reported to the caller.
type Publisher interface {
	Publish(ctx context.Context, sessionID, eventType string, payload any)
}

// Event is the envelope delivered to subscribers.
type Event struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId"`
	Payload   any    `json:"payload"`
}

// Nop discards every event.
type Nop struct{}

// Publish implements Publisher.
func (Nop) Publish(context.Context, string, string, any) {}
