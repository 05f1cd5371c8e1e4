package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"pawbase/internal/handover/models"
	handoverstore "pawbase/internal/handover/store"
	id "pawbase/pkg/domain"
	"pawbase/pkg/platform/sentinel"
	txcontext "pawbase/pkg/platform/tx"
)

// Schema creates the handover table. OTP history is stored as JSONB; it is
// only ever read and written whole, under the row lock.
const Schema = `
CREATE TABLE IF NOT EXISTS handover_records (
	application_id        UUID NOT NULL,
	kind                  TEXT NOT NULL,
	pet_code              TEXT NOT NULL,
	recipient             UUID NOT NULL,
	status                TEXT NOT NULL,
	scheduled_at          TIMESTAMPTZ,
	location              TEXT NOT NULL DEFAULT '',
	proof_docs            TEXT[] NOT NULL DEFAULT '{}',
	otp                   TEXT NOT NULL DEFAULT '',
	otp_generated_at      TIMESTAMPTZ,
	otp_expires_at        TIMESTAMPTZ,
	otp_used              BOOLEAN NOT NULL DEFAULT FALSE,
	otp_history           JSONB NOT NULL DEFAULT '[]',
	actual_check_in_time  TIMESTAMPTZ,
	actual_check_out_time TIMESTAMPTZ,
	checked_in_by         UUID,
	checked_out_by        UUID,
	version               BIGINT NOT NULL DEFAULT 0,
	created_at            TIMESTAMPTZ NOT NULL,
	updated_at            TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (application_id, kind)
);
`

// Store persists handover records in PostgreSQL. Consume runs validate and
// mark-used inside one transaction with the row locked, so two concurrent
// verifications of the same code cannot both succeed.
type Store struct {
	db *sql.DB
}

var _ handoverstore.Store = (*Store)(nil)

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

const columns = `application_id, kind, pet_code, recipient, status, scheduled_at, location, proof_docs,
	otp, otp_generated_at, otp_expires_at, otp_used, otp_history,
	actual_check_in_time, actual_check_out_time, checked_in_by, checked_out_by,
	version, created_at, updated_at`

func (s *Store) Find(ctx context.Context, appID id.ApplicationID, kind models.Kind) (*models.HandoverRecord, error) {
	var q interface {
		QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	} = s.db
	if tx, ok := txcontext.From(ctx); ok {
		q = tx
	}
	row := q.QueryRowContext(ctx,
		`SELECT `+columns+` FROM handover_records WHERE application_id = $1 AND kind = $2`,
		uuid.UUID(appID), string(kind))
	rec, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("handover record %s/%s: %w", appID, kind, sentinel.ErrNotFound)
		}
		return nil, fmt.Errorf("find handover record: %w", err)
	}
	return rec, nil
}

func (s *Store) Save(ctx context.Context, rec *models.HandoverRecord, now time.Time) error {
	return s.withTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		var (
			status  string
			version int64
		)
		err := tx.QueryRowContext(ctx,
			`SELECT status, version FROM handover_records WHERE application_id = $1 AND kind = $2 FOR UPDATE`,
			uuid.UUID(rec.ApplicationID), string(rec.Kind)).Scan(&status, &version)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			if rec.Version != 0 {
				return fmt.Errorf("handover record %s/%s version %d: %w", rec.ApplicationID, rec.Kind, rec.Version, sentinel.ErrConflict)
			}
			cp := rec.Clone()
			cp.CreatedAt = now
			cp.UpdatedAt = now
			cp.Version = 1
			*rec = *cp
			return s.insert(ctx, tx, rec)
		case err != nil:
			return fmt.Errorf("lock handover record: %w", err)
		}

		if models.Status(status) == models.StatusCompleted {
			return fmt.Errorf("handover record %s/%s completed: %w", rec.ApplicationID, rec.Kind, sentinel.ErrInvalidState)
		}
		if version != rec.Version {
			return fmt.Errorf("handover record %s/%s version %d: %w", rec.ApplicationID, rec.Kind, rec.Version, sentinel.ErrConflict)
		}
		rec.UpdatedAt = now
		rec.Version = version + 1
		return s.update(ctx, tx, rec)
	})
}

func (s *Store) Consume(ctx context.Context, appID id.ApplicationID, kind models.Kind, code string, actor id.UserID, now time.Time) (*models.HandoverRecord, error) {
	var out *models.HandoverRecord
	err := s.withTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx,
			`SELECT `+columns+` FROM handover_records WHERE application_id = $1 AND kind = $2 FOR UPDATE`,
			uuid.UUID(appID), string(kind))
		rec, err := scanRecord(row)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("handover record %s/%s: %w", appID, kind, sentinel.ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("lock handover record: %w", err)
		}

		entry, err := rec.ValidateForConsume(code, now)
		if err != nil {
			return translateConsumeError(err)
		}
		rec.Consume(entry, actor, now)
		rec.Version++

		if err := s.update(ctx, tx, rec); err != nil {
			return err
		}
		out = rec
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func translateConsumeError(err error) error {
	switch {
	case errors.Is(err, models.ErrExpired):
		return fmt.Errorf("otp: %w", sentinel.ErrExpired)
	case errors.Is(err, models.ErrAlreadyUsed):
		return fmt.Errorf("otp: %w", sentinel.ErrAlreadyUsed)
	case errors.Is(err, models.ErrCompleted):
		return fmt.Errorf("handover: %w", sentinel.ErrInvalidState)
	default:
		return err
	}
}

func (s *Store) insert(ctx context.Context, tx *sql.Tx, rec *models.HandoverRecord) error {
	history, err := json.Marshal(rec.OTPHistory)
	if err != nil {
		return fmt.Errorf("marshal otp history: %w", err)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO handover_records (`+columns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)`,
		uuid.UUID(rec.ApplicationID), string(rec.Kind), rec.PetCode.String(), uuid.UUID(rec.Recipient),
		string(rec.Status), nullTime(rec.ScheduledAt), rec.Location, pq.Array(rec.ProofDocs),
		rec.OTP, nullTime(rec.OTPGeneratedAt), nullTime(rec.OTPExpiresAt), rec.OTPUsed, history,
		nullTime(rec.ActualCheckInTime), nullTime(rec.ActualCheckOutTime),
		nullUser(rec.CheckedInBy), nullUser(rec.CheckedOutBy),
		rec.Version, rec.CreatedAt, rec.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert handover record: %w", err)
	}
	return nil
}

func (s *Store) update(ctx context.Context, tx *sql.Tx, rec *models.HandoverRecord) error {
	history, err := json.Marshal(rec.OTPHistory)
	if err != nil {
		return fmt.Errorf("marshal otp history: %w", err)
	}
	_, err = tx.ExecContext(ctx, `
		UPDATE handover_records SET
			pet_code = $3, recipient = $4, status = $5, scheduled_at = $6, location = $7,
			proof_docs = $8, otp = $9, otp_generated_at = $10, otp_expires_at = $11,
			otp_used = $12, otp_history = $13, actual_check_in_time = $14,
			actual_check_out_time = $15, checked_in_by = $16, checked_out_by = $17,
			version = $18, updated_at = $19
		WHERE application_id = $1 AND kind = $2`,
		uuid.UUID(rec.ApplicationID), string(rec.Kind), rec.PetCode.String(), uuid.UUID(rec.Recipient),
		string(rec.Status), nullTime(rec.ScheduledAt), rec.Location, pq.Array(rec.ProofDocs),
		rec.OTP, nullTime(rec.OTPGeneratedAt), nullTime(rec.OTPExpiresAt), rec.OTPUsed, history,
		nullTime(rec.ActualCheckInTime), nullTime(rec.ActualCheckOutTime),
		nullUser(rec.CheckedInBy), nullUser(rec.CheckedOutBy),
		rec.Version, rec.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update handover record: %w", err)
	}
	return nil
}

func scanRecord(row *sql.Row) (*models.HandoverRecord, error) {
	var (
		rec                      models.HandoverRecord
		appID, recipient         uuid.UUID
		kind, status             string
		scheduledAt, genAt       sql.NullTime
		expAt, checkIn, checkOut sql.NullTime
		checkedIn, checkedOut    uuid.NullUUID
		proofDocs                pq.StringArray
		history                  []byte
	)
	err := row.Scan(&appID, &kind, &rec.PetCode, &recipient, &status, &scheduledAt, &rec.Location,
		&proofDocs, &rec.OTP, &genAt, &expAt, &rec.OTPUsed, &history,
		&checkIn, &checkOut, &checkedIn, &checkedOut, &rec.Version, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return nil, err
	}

	rec.ApplicationID = id.ApplicationID(appID)
	rec.Kind = models.Kind(kind)
	rec.Recipient = id.UserID(recipient)
	rec.Status = models.Status(status)
	rec.ScheduledAt = scheduledAt.Time
	rec.OTPGeneratedAt = genAt.Time
	rec.OTPExpiresAt = expAt.Time
	rec.ActualCheckInTime = checkIn.Time
	rec.ActualCheckOutTime = checkOut.Time
	rec.CheckedInBy = userOf(checkedIn)
	rec.CheckedOutBy = userOf(checkedOut)
	rec.ProofDocs = []string(proofDocs)
	if err := json.Unmarshal(history, &rec.OTPHistory); err != nil {
		return nil, fmt.Errorf("unmarshal otp history: %w", err)
	}
	return &rec, nil
}

func (s *Store) withTx(ctx context.Context, fn func(context.Context, *sql.Tx) error) error {
	if tx, ok := txcontext.From(ctx); ok {
		return fn(ctx, tx)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(txcontext.WithTx(ctx, tx), tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
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

func nullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t, Valid: true}
}
