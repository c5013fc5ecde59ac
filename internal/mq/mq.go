package mq

import "context"

// Message represents a broker-agnostic payload delivered to subscribers.
type Message struct {
	ID         string
	Data       []byte
	Attributes map[string]string
}

// Handler processes a message. Return an error to signal a retry/nack.
type Handler func(ctx context.Context, msg Message) error

// Subscription names the queue a consumer reads from and the exchange
// binding that feeds it. Backends without native exchange routing map the
// binding key to their own topic concept.
type Subscription struct {
	Queue      string
	Exchange   string
	BindingKey string
}

// Backend defines the broker-agnostic operations used by the app.
type Backend interface {
	Publish(ctx context.Context, exchange, key string, data []byte, attrs map[string]string) (string, error)
	Subscribe(ctx context.Context, sub Subscription, handler Handler) error
	Close() error
}

// MQ wraps a backend with a stable API.
type MQ struct {
	backend Backend
}

// New constructs an MQ wrapper for the provided backend.
func New(backend Backend) *MQ {
	return &MQ{backend: backend}
}

// Publish sends a message to the named exchange under the routing key.
func (m *MQ) Publish(ctx context.Context, exchange, key string, data []byte, attrs map[string]string) (string, error) {
	return m.backend.Publish(ctx, exchange, key, data, attrs)
}

// Subscribe consumes messages from the subscription's queue.
func (m *MQ) Subscribe(ctx context.Context, sub Subscription, handler Handler) error {
	return m.backend.Subscribe(ctx, sub, handler)
}

// Close closes the underlying backend.
func (m *MQ) Close() error {
	return m.backend.Close()
}
