package mq

import (
	"context"
	"errors"
	"strings"

	"cloud.google.com/go/pubsub"
	"github.com/accountsync/userservice/config"
	"google.golang.org/api/option"
)

// PubSubClient wraps the Google Cloud Pub/Sub SDK client. Pub/Sub has no
// exchange/binding concept, so the routing key becomes the topic ID and the
// queue name becomes the subscription ID.
type PubSubClient struct {
	client *pubsub.Client
}

// NewPubSubClient constructs a Pub/Sub client from config.
func NewPubSubClient(ctx context.Context, cfg config.PubSubConfig) (*PubSubClient, error) {
	if strings.TrimSpace(cfg.ProjectID) == "" {
		return nil, errors.New("pubsub project id is required")
	}

	var opts []option.ClientOption
	if strings.TrimSpace(cfg.CredentialsFile) != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	client, err := pubsub.NewClient(ctx, cfg.ProjectID, opts...)
	if err != nil {
		return nil, err
	}

	return &PubSubClient{client: client}, nil
}

// Publish sends a message to the topic derived from the routing key.
func (p *PubSubClient) Publish(ctx context.Context, exchange, key string, data []byte, attrs map[string]string) (string, error) {
	id := topicID(key)
	if id == "" {
		return "", errors.New("pubsub routing key is required")
	}

	topic, err := p.ensureTopic(ctx, id)
	if err != nil {
		return "", err
	}
	result := topic.Publish(ctx, &pubsub.Message{Data: data, Attributes: attrs})
	return result.Get(ctx)
}

// Subscribe consumes messages from the subscription named after the queue.
func (p *PubSubClient) Subscribe(ctx context.Context, sub Subscription, handler Handler) error {
	id := topicID(sub.BindingKey)
	if id == "" {
		return errors.New("pubsub binding key is required")
	}
	subID := subscriptionID(sub.Queue)
	if subID == "" {
		return errors.New("pubsub queue is required")
	}

	topic, err := p.ensureTopic(ctx, id)
	if err != nil {
		return err
	}

	subscription, err := p.ensureSubscription(ctx, subID, topic)
	if err != nil {
		return err
	}

	return subscription.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		message := Message{
			ID:         msg.ID,
			Data:       msg.Data,
			Attributes: msg.Attributes,
		}
		if err := handler(ctx, message); err != nil {
			msg.Nack()
			return
		}
		msg.Ack()
	})
}

// Close closes the underlying Pub/Sub client.
func (p *PubSubClient) Close() error {
	return p.client.Close()
}

func (p *PubSubClient) ensureTopic(ctx context.Context, name string) (*pubsub.Topic, error) {
	topic := p.client.Topic(name)
	exists, err := topic.Exists(ctx)
	if err != nil {
		return nil, err
	}
	if !exists {
		return p.client.CreateTopic(ctx, name)
	}
	return topic, nil
}

func (p *PubSubClient) ensureSubscription(ctx context.Context, name string, topic *pubsub.Topic) (*pubsub.Subscription, error) {
	sub := p.client.Subscription(name)
	exists, err := sub.Exists(ctx)
	if err != nil {
		return nil, err
	}
	if !exists {
		return p.client.CreateSubscription(ctx, name, pubsub.SubscriptionConfig{Topic: topic})
	}
	return sub, nil
}

// topicID maps an AMQP-style routing key to a Pub/Sub topic ID. Dots are
// legal in topic IDs, so "user.deleted" carries over unchanged.
func topicID(key string) string {
	return strings.TrimSpace(key)
}

func subscriptionID(queue string) string {
	return strings.TrimSpace(queue)
}
