// Package kafka publishes custody events to a Kafka topic keyed by pet code,
// so consumers see each pet's events in order.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	audit "pawbase/pkg/platform/audit"
)

// Publisher is the broker client surface this sink needs.
type Publisher interface {
	Publish(ctx context.Context, topic string, key, value []byte) error
}

// Sink implements audit.Appender over a Kafka topic. It is write-only;
// materializing events for queries is the consumer's job.
type Sink struct {
	publisher Publisher
	topic     string
}

func NewSink(publisher Publisher, topic string) *Sink {
	return &Sink{publisher: publisher, topic: topic}
}

// payload is the JSON structure published to Kafka. Field names match
// audit.Event for deserialization by consumers.
type payload struct {
	ID            string `json:"ID"`
	Category      string `json:"Category"`
	Timestamp     string `json:"Timestamp"`
	PetCode       string `json:"PetCode"`
	Action        string `json:"Action"`
	Actor         string `json:"Actor,omitempty"`
	PreviousOwner string `json:"PreviousOwner,omitempty"`
	NewOwner      string `json:"NewOwner,omitempty"`
	TransferType  string `json:"TransferType,omitempty"`
	Reason        string `json:"Reason,omitempty"`
	RequestID     string `json:"RequestID,omitempty"`
}

func (s *Sink) Append(ctx context.Context, event audit.Event) error {
	category := audit.AuditEvent(event.Action).Category()

	ts := event.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	p := payload{
		ID:           uuid.New().String(),
		Category:     string(category),
		Timestamp:    ts.Format(time.RFC3339Nano),
		PetCode:      string(event.PetCode),
		Action:       event.Action,
		TransferType: event.TransferType,
		Reason:       event.Reason,
		RequestID:    event.RequestID,
	}
	if !event.Actor.IsNil() {
		p.Actor = event.Actor.String()
	}
	if !event.PreviousOwner.IsNil() {
		p.PreviousOwner = event.PreviousOwner.String()
	}
	if !event.NewOwner.IsNil() {
		p.NewOwner = event.NewOwner.String()
	}

	value, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal custody event: %w", err)
	}
	if err := s.publisher.Publish(ctx, s.topic, []byte(event.PetCode), value); err != nil {
		return fmt.Errorf("publish custody event: %w", err)
	}
	return nil
}
