// Package publisher fans custody events out to a primary store and optional
// write-only sinks.
package publisher

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	id "pawbase/pkg/domain"
	audit "pawbase/pkg/platform/audit"
)

var ErrBufferFull = errors.New("audit buffer full")

// Publisher writes events synchronously by default. With WithAsyncBuffer the
// events go through a channel and a background worker; a full buffer drops
// the event rather than blocking domain logic.
type Publisher struct {
	store  audit.Store
	sinks  []audit.Appender
	logger *slog.Logger

	inbox chan audit.Event
	wg    sync.WaitGroup

	closeOnce sync.Once
}

type Option func(*Publisher)

// WithAsyncBuffer enables asynchronous emission with the given channel size.
func WithAsyncBuffer(size int) Option {
	return func(p *Publisher) {
		p.inbox = make(chan audit.Event, size)
	}
}

// WithSink adds a write-only mirror (e.g. a Kafka topic). Sink failures are
// logged, never surfaced to the emitter.
func WithSink(sink audit.Appender) Option {
	return func(p *Publisher) {
		p.sinks = append(p.sinks, sink)
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(p *Publisher) {
		p.logger = logger
	}
}

func NewPublisher(store audit.Store, opts ...Option) *Publisher {
	p := &Publisher{
		store:  store,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}

	if p.inbox != nil {
		p.wg.Add(1)
		go p.run()
	}
	return p
}

func (p *Publisher) run() {
	defer p.wg.Done()
	for event := range p.inbox {
		p.write(context.Background(), event)
	}
}

func (p *Publisher) write(ctx context.Context, event audit.Event) {
	if err := p.store.Append(ctx, event); err != nil {
		p.logger.Error("append audit event failed",
			"action", event.Action,
			"pet_code", event.PetCode,
			"error", err,
		)
	}
	p.mirror(ctx, event)
}

func (p *Publisher) mirror(ctx context.Context, event audit.Event) {
	for _, sink := range p.sinks {
		if err := sink.Append(ctx, event); err != nil {
			p.logger.Warn("audit sink append failed",
				"action", event.Action,
				"pet_code", event.PetCode,
				"error", err,
			)
		}
	}
}

// Emit records an event. Category is derived from the action and a zero
// timestamp is stamped with the current time.
func (p *Publisher) Emit(ctx context.Context, event audit.Event) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if event.Category == "" {
		event.Category = audit.AuditEvent(event.Action).Category()
	}

	if p.inbox == nil {
		if err := p.store.Append(ctx, event); err != nil {
			return err
		}
		p.mirror(ctx, event)
		return nil
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	select {
	case p.inbox <- event:
		return nil
	default:
		return ErrBufferFull
	}
}

func (p *Publisher) List(ctx context.Context, petCode id.PetCode) ([]audit.Event, error) {
	return p.store.ListByPet(ctx, petCode)
}

// Close drains any buffered events and stops the worker. Safe to call more
// than once.
func (p *Publisher) Close() {
	p.closeOnce.Do(func() {
		if p.inbox != nil {
			close(p.inbox)
			p.wg.Wait()
		}
	})
}
