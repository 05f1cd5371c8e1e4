// Package producer wraps the franz-go client for publishing custody events.
package producer

import (
	"context"
	"fmt"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
)

type Producer struct {
	client *kgo.Client
}

type Option func(*[]kgo.Opt)

// WithClientID sets the client identifier reported to the brokers.
func WithClientID(clientID string) Option {
	return func(opts *[]kgo.Opt) {
		*opts = append(*opts, kgo.ClientID(clientID))
	}
}

func New(brokers []string, opts ...Option) (*Producer, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("at least one broker is required")
	}

	kopts := []kgo.Opt{
		kgo.SeedBrokers(brokers...),
		kgo.AllowAutoTopicCreation(),
		kgo.ProduceRequestTimeout(10 * time.Second),
		kgo.RequiredAcks(kgo.AllISRAcks()),
	}
	for _, opt := range opts {
		opt(&kopts)
	}

	client, err := kgo.NewClient(kopts...)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}
	return &Producer{client: client}, nil
}

// Publish produces a single record and waits for broker acknowledgement.
func (p *Producer) Publish(ctx context.Context, topic string, key, value []byte) error {
	record := &kgo.Record{
		Topic: topic,
		Key:   key,
		Value: value,
	}
	if err := p.client.ProduceSync(ctx, record).FirstErr(); err != nil {
		return fmt.Errorf("produce to %s: %w", topic, err)
	}
	return nil
}

func (p *Producer) Close() {
	p.client.Close()
}
