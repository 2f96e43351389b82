// Package nats bridges session notifications between gate instances over
// core NATS. Delivery is fire-and-forget: there is no stream and no replay.
package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/keepup/cowork/internal/port/broadcast"
)

// originHeader carries the publishing instance id so a bridge can skip its
// own messages when they come back on the subscription.
const originHeader = "Cowork-Origin"

// Local is the in-process side of the bridge.
type Local interface {
	broadcast.Publisher
	Deliver(ctx context.Context, sessionID string, data []byte)
}

// Bridge implements broadcast.Publisher by delivering locally and
// forwarding the event to every other instance.
type Bridge struct {
	nc     *nats.Conn
	sub    *nats.Subscription
	local  Local
	prefix string
	origin string
}

// Connect establishes a connection to NATS and subscribes to the session
// event subjects under prefix.
func Connect(url, prefix string, local Local) (*Bridge, error) {
	nc, err := nats.Connect(url, nats.Name("cowork"), nats.MaxReconnects(-1))
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	b := newBridge(prefix, local)
	b.nc = nc

	sub, err := nc.Subscribe(b.wildcard(), b.handle)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("nats subscribe %s: %w", b.wildcard(), err)
	}
	b.sub = sub

	slog.Info("nats connected", "url", url, "subject", b.wildcard(), "origin", b.origin)
	return b, nil
}

func newBridge(prefix string, local Local) *Bridge {
	return &Bridge{local: local, prefix: prefix, origin: uuid.NewString()}
}

// Publish delivers to local subscribers, then forwards to other instances.
// Forwarding failures are logged only.
func (b *Bridge) Publish(ctx context.Context, sessionID, eventType string, payload any) {
	b.local.Publish(ctx, sessionID, eventType, payload)

	if !validToken(sessionID) {
		slog.WarnContext(ctx, "session id not usable as a nats subject token", "session_id", sessionID)
		return
	}
	data, err := json.Marshal(broadcast.Event{Type: eventType, SessionID: sessionID, Payload: payload})
	if err != nil {
		slog.ErrorContext(ctx, "nats marshal failed", "error", err, "event", eventType)
		return
	}
	msg := nats.NewMsg(b.subject(sessionID))
	msg.Header.Set(originHeader, b.origin)
	msg.Data = data
	if err := b.nc.PublishMsg(msg); err != nil {
		slog.WarnContext(ctx, "nats publish failed", "subject", msg.Subject, "error", err)
	}
}

func (b *Bridge) handle(msg *nats.Msg) {
	if msg.Header.Get(originHeader) == b.origin {
		return
	}
	sessionID, ok := b.sessionFromSubject(msg.Subject)
	if !ok {
		slog.Debug("nats message on unexpected subject", "subject", msg.Subject)
		return
	}
	b.local.Deliver(context.Background(), sessionID, msg.Data)
}

// JetStream returns a JetStream context on the bridge connection.
func (b *Bridge) JetStream() (jetstream.JetStream, error) {
	js, err := jetstream.New(b.nc)
	if err != nil {
		return nil, fmt.Errorf("jetstream init: %w", err)
	}
	return js, nil
}

// Close unsubscribes and drains the connection.
func (b *Bridge) Close() error {
	if b.sub != nil {
		_ = b.sub.Unsubscribe()
	}
	if b.nc != nil {
		return b.nc.Drain()
	}
	return nil
}

func (b *Bridge) subject(sessionID string) string {
	return b.prefix + ".sessions." + sessionID + ".events"
}

func (b *Bridge) wildcard() string {
	return b.prefix + ".sessions.*.events"
}

func (b *Bridge) sessionFromSubject(subject string) (string, bool) {
	rest, ok := strings.CutPrefix(subject, b.prefix+".sessions.")
	if !ok {
		return "", false
	}
	id, ok := strings.CutSuffix(rest, ".events")
	if !ok || !validToken(id) {
		return "", false
	}
	return id, true
}

// validToken reports whether s can stand as one subject token.
func validToken(s string) bool {
	return s != "" && !strings.ContainsAny(s, ".*> \t\r\n")
}
