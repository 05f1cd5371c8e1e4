package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	id "pawbase/pkg/domain"
	audit "pawbase/pkg/platform/audit"
	txcontext "pawbase/pkg/platform/tx"
)

// Schema creates the custody event table. Events are append-only; there is
// deliberately no UPDATE or DELETE path in this store.
const Schema = `
CREATE TABLE IF NOT EXISTS custody_audit_events (
	id             UUID PRIMARY KEY,
	category       TEXT NOT NULL,
	occurred_at    TIMESTAMPTZ NOT NULL,
	pet_code       TEXT NOT NULL,
	action         TEXT NOT NULL,
	actor          UUID,
	previous_owner UUID,
	new_owner      UUID,
	transfer_type  TEXT NOT NULL DEFAULT '',
	reason         TEXT NOT NULL DEFAULT '',
	request_id     TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_custody_audit_pet_code
	ON custody_audit_events (pet_code, occurred_at DESC);
`

type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (s *Store) q(ctx context.Context) querier {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

func (s *Store) Append(ctx context.Context, event audit.Event) error {
	// Always derive category from action so the eventCategories map stays
	// the source of truth.
	category := audit.AuditEvent(event.Action).Category()

	ts := event.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	query := `
		INSERT INTO custody_audit_events
			(id, category, occurred_at, pet_code, action, actor, previous_owner, new_owner, transfer_type, reason, request_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	_, err := s.q(ctx).ExecContext(ctx, query,
		uuid.New(),
		string(category),
		ts,
		string(event.PetCode),
		event.Action,
		nullUser(event.Actor),
		nullUser(event.PreviousOwner),
		nullUser(event.NewOwner),
		event.TransferType,
		event.Reason,
		event.RequestID,
	)
	if err != nil {
		return fmt.Errorf("insert custody audit event: %w", err)
	}
	return nil
}

func (s *Store) ListByPet(ctx context.Context, petCode id.PetCode) ([]audit.Event, error) {
	query := `
		SELECT category, occurred_at, pet_code, action, actor, previous_owner, new_owner, transfer_type, reason, request_id
		FROM custody_audit_events
		WHERE pet_code = $1
		ORDER BY occurred_at ASC
	`
	rows, err := s.q(ctx).QueryContext(ctx, query, string(petCode))
	if err != nil {
		return nil, fmt.Errorf("query custody audit events: %w", err)
	}
	defer rows.Close()

	var events []audit.Event
	for rows.Next() {
		var (
			e                 audit.Event
			actor, prev, next uuid.NullUUID
			category, code    string
		)
		if err := rows.Scan(&category, &e.Timestamp, &code, &e.Action, &actor, &prev, &next, &e.TransferType, &e.Reason, &e.RequestID); err != nil {
			return nil, fmt.Errorf("scan custody audit event: %w", err)
		}
		e.Category = audit.EventCategory(category)
		e.PetCode = id.PetCode(code)
		e.Actor = userOf(actor)
		e.PreviousOwner = userOf(prev)
		e.NewOwner = userOf(next)
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate custody audit events: %w", err)
	}
	return events, nil
}

func nullUser(u id.UserID) uuid.NullUUID {
	if u.IsNil() {
		return uuid.NullUUID{}
	}
	return uuid.NullUUID{UUID: uuid.UUID(u), Valid: true}
}

func userOf(n uuid.NullUUID) id.UserID {
	if !n.Valid {
		return id.UserID{}
	}
	return id.UserID(n.UUID)
}
