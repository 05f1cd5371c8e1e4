// Package notify delivers handover and custody notifications. Delivery
// failures are reported to callers as warnings, never as operation errors:
// a handover that completed is completed whether or not the email went out.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	id "pawbase/pkg/domain"
	"pawbase/pkg/email"
	"pawbase/pkg/platform/circuit"
)

// Sender delivers one message to one address.
type Sender interface {
	Send(ctx context.Context, to, subject, body string) error
}

// ContactResolver maps a user to a deliverable address. Implementations live
// next to whatever user directory the deployment has.
type ContactResolver interface {
	EmailFor(ctx context.Context, user id.UserID) (string, error)
}

// LogSender writes messages to the log instead of a mail gateway. It is the
// default sender for deployments without SMTP wired up.
type LogSender struct {
	logger *slog.Logger
}

func NewLogSender(logger *slog.Logger) *LogSender {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSender{logger: logger}
}

func (s *LogSender) Send(ctx context.Context, to, subject, body string) error {
	s.logger.InfoContext(ctx, "notification dispatched",
		"to", to,
		"subject", subject,
		"body_bytes", len(body),
	)
	return nil
}

// Notifier resolves the recipient and sends through the configured sender.
type Notifier struct {
	sender   Sender
	contacts ContactResolver
	logger   *slog.Logger
	breaker  *circuit.Breaker
}

type Option func(*Notifier)

func WithLogger(logger *slog.Logger) Option {
	return func(n *Notifier) {
		n.logger = logger
	}
}

// WithBreaker guards the sender with a circuit breaker. While open, sends
// fail fast instead of waiting on a broken mail gateway; one trial send per
// retry interval still goes through so a recovered gateway closes the
// circuit again.
func WithBreaker(breaker *circuit.Breaker) Option {
	return func(n *Notifier) {
		n.breaker = breaker
	}
}

func New(sender Sender, contacts ContactResolver, opts ...Option) (*Notifier, error) {
	if sender == nil {
		return nil, fmt.Errorf("sender is required")
	}
	if contacts == nil {
		return nil, fmt.Errorf("contact resolver is required")
	}

	n := &Notifier{
		sender:   sender,
		contacts: contacts,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n, nil
}

// NotifyUser resolves the user's address and delivers the message. The body
// is prefixed with a greeting derived from the address.
func (n *Notifier) NotifyUser(ctx context.Context, user id.UserID, subject, body string) error {
	address, err := n.contacts.EmailFor(ctx, user)
	if err != nil {
		return fmt.Errorf("resolve contact for %s: %w", user, err)
	}

	if n.breaker != nil && !n.breaker.Allow() {
		return fmt.Errorf("notification channel %s unavailable", n.breaker.Name())
	}

	full := email.Greeting(address) + "\n\n" + body
	if err := n.sender.Send(ctx, address, subject, full); err != nil {
		if n.breaker != nil {
			if _, change := n.breaker.RecordFailure(); change.Opened {
				n.logger.WarnContext(ctx, "notification circuit opened",
					"breaker", n.breaker.Name(),
				)
			}
		}
		return fmt.Errorf("send notification: %w", err)
	}
	if n.breaker != nil {
		if _, change := n.breaker.RecordSuccess(); change.Closed {
			n.logger.InfoContext(ctx, "notification circuit closed",
				"breaker", n.breaker.Name(),
			)
		}
	}
	return nil
}

// -----------------------------------------------------------------------------
// Test doubles
// -----------------------------------------------------------------------------

// RecordedMessage is one captured delivery.
type RecordedMessage struct {
	To      string
	Subject string
	Body    string
}

// RecordingSender captures messages for assertions. FailWith makes every
// Send return that error instead.
type RecordingSender struct {
	mu       sync.Mutex
	Messages []RecordedMessage
	FailWith error
}

func (s *RecordingSender) Send(_ context.Context, to, subject, body string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailWith != nil {
		return s.FailWith
	}
	s.Messages = append(s.Messages, RecordedMessage{To: to, Subject: subject, Body: body})
	return nil
}

// StaticContacts resolves users from a fixed map.
type StaticContacts map[id.UserID]string

func (c StaticContacts) EmailFor(_ context.Context, user id.UserID) (string, error) {
	address, ok := c[user]
	if !ok {
		return "", fmt.Errorf("no contact on record for %s", user)
	}
	return address, nil
}
