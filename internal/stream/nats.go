package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"
)

// Publisher is the part of a NATS connection the bridge uses.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// NATSBridge forwards hub messages as JSON to <prefix>.<kind> subjects.
type NATSBridge struct {
	pub    Publisher
	conn   *nats.Conn
	prefix string
}

// DialNATS connects to url and returns a bridge publishing under prefix.
func DialNATS(url, prefix string) (*NATSBridge, error) {
	nc, err := nats.Connect(url, nats.Name("tradeworld"), nats.MaxReconnects(-1))
	if err != nil {
		return nil, fmt.Errorf("connect nats %s: %w", url, err)
	}
	b := NewBridge(nc, prefix)
	b.conn = nc
	return b, nil
}

// NewBridge wraps an existing publisher.
func NewBridge(pub Publisher, prefix string) *NATSBridge {
	if prefix == "" {
		prefix = "tradeworld"
	}
	return &NATSBridge{pub: pub, prefix: prefix}
}

// Subject returns the subject a message kind is published on.
func (b *NATSBridge) Subject(k Kind) string { return b.prefix + "." + string(k) }

// Forward publishes one message.
func (b *NATSBridge) Forward(msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode %s message: %w", msg.Kind, err)
	}
	if err := b.pub.Publish(b.Subject(msg.Kind), data); err != nil {
		return fmt.Errorf("publish %s: %w", b.Subject(msg.Kind), err)
	}
	return nil
}

// Run subscribes to hub and forwards messages until ctx is done or the hub
// closes. A failed publish is logged and skipped.
func (b *NATSBridge) Run(ctx context.Context, hub *Hub, buffer int) {
	id, ch := hub.Subscribe(buffer)
	defer hub.Unsubscribe(id)
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			if err := b.Forward(msg); err != nil {
				slog.Warn("nats forward failed", "kind", msg.Kind, "error", err)
			}
		}
	}
}

// Close drains the underlying connection if the bridge dialled it.
func (b *NATSBridge) Close() error {
	if b.conn == nil {
		return nil
	}
	return b.conn.Drain()
}
