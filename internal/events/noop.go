package events

import "context"

// NoopPublisher discards events. It is used when NATS is not configured and
// the gateway fans out to its local hub only.
type NoopPublisher struct{}

func (n *NoopPublisher) Publish(ctx context.Context, topic string, event any) error {
	return nil
}

func (n *NoopPublisher) Close() error {
	return nil
}
