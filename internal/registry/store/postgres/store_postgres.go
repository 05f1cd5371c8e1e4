package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"pawbase/internal/registry/models"
	"pawbase/internal/registry/store"
	id "pawbase/pkg/domain"
	"pawbase/pkg/platform/sentinel"
	txcontext "pawbase/pkg/platform/tx"
)

// Schema creates the registry tables. The integration test harness executes
// this; deployments run it through their migration tooling.
const Schema = `
CREATE TABLE IF NOT EXISTS pet_registry (
	pet_code           TEXT PRIMARY KEY,
	name               TEXT NOT NULL DEFAULT '',
	species            TEXT NOT NULL DEFAULT '',
	breed              TEXT NOT NULL DEFAULT '',
	gender             TEXT NOT NULL DEFAULT '',
	age                INTEGER NOT NULL DEFAULT 0,
	age_unit           TEXT NOT NULL DEFAULT '',
	color              TEXT NOT NULL DEFAULT '',
	image_refs         TEXT[] NOT NULL DEFAULT '{}',
	source             TEXT NOT NULL,
	source_label       TEXT NOT NULL DEFAULT '',
	first_added_source TEXT NOT NULL,
	first_added_by     UUID,
	first_added_at     TIMESTAMPTZ NOT NULL,
	current_owner      UUID,
	current_location   TEXT NOT NULL DEFAULT '',
	current_status     TEXT NOT NULL DEFAULT '',
	last_transfer_at   TIMESTAMPTZ,
	last_seen_at       TIMESTAMPTZ NOT NULL,
	core_pet_id        TEXT NOT NULL DEFAULT '',
	pet_shop_item_id   TEXT NOT NULL DEFAULT '',
	adoption_pet_id    TEXT NOT NULL DEFAULT '',
	deceased_at        TIMESTAMPTZ,
	deceased_reason    TEXT NOT NULL DEFAULT '',
	created_by         UUID,
	updated_by         UUID,
	created_at         TIMESTAMPTZ NOT NULL,
	updated_at         TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS pet_transfer_ledger (
	id              UUID PRIMARY KEY,
	pet_code        TEXT NOT NULL REFERENCES pet_registry(pet_code),
	previous_owner  UUID,
	new_owner       UUID,
	transfer_type   TEXT NOT NULL,
	transfer_date   TIMESTAMPTZ NOT NULL,
	fee             BIGINT NOT NULL DEFAULT 0,
	reason          TEXT NOT NULL DEFAULT '',
	source          TEXT NOT NULL DEFAULT '',
	notes           TEXT NOT NULL DEFAULT '',
	performed_by    UUID,
	idempotency_key TEXT NOT NULL DEFAULT '',
	voided          BOOLEAN NOT NULL DEFAULT FALSE
);

CREATE INDEX IF NOT EXISTS idx_ledger_pet_code_date ON pet_transfer_ledger (pet_code, transfer_date DESC);
CREATE UNIQUE INDEX IF NOT EXISTS idx_ledger_idempotency
	ON pet_transfer_ledger (pet_code, idempotency_key) WHERE idempotency_key <> '';
`

// Store persists registry records in PostgreSQL. ApplyTransfer runs the
// ledger append and state update inside one transaction with the registry
// row locked, so the pair is serialized per pet code by the database.
type Store struct {
	db *sql.DB
}

var _ store.Store = (*Store)(nil)

// New constructs a PostgreSQL-backed registry store.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Store) querier(ctx context.Context) querier {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

const recordColumns = `pet_code, name, species, breed, gender, age, age_unit, color, image_refs,
	source, source_label, first_added_source, first_added_by, first_added_at,
	current_owner, current_location, current_status, last_transfer_at, last_seen_at,
	core_pet_id, pet_shop_item_id, adoption_pet_id, deceased_at, deceased_reason,
	created_by, updated_by, created_at, updated_at`

func (s *Store) Find(ctx context.Context, code id.PetCode) (*models.RegistryRecord, error) {
	row := s.querier(ctx).QueryRowContext(ctx,
		`SELECT `+recordColumns+` FROM pet_registry WHERE pet_code = $1`, code.String())
	rec, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("registry record %s: %w", code, sentinel.ErrNotFound)
		}
		return nil, fmt.Errorf("find registry record: %w", err)
	}
	return rec, nil
}

func (s *Store) Upsert(ctx context.Context, up models.IdentityUpsert, now time.Time) (*models.RegistryRecord, bool, error) {
	var rec *models.RegistryRecord
	var created bool
	err := s.withTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx,
			`SELECT `+recordColumns+` FROM pet_registry WHERE pet_code = $1 FOR UPDATE`, up.PetCode.String())
		existing, err := scanRecord(row)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			rec = models.NewFromUpsert(up, now)
			created = true
			return s.insertRecord(ctx, tx, rec)
		case err != nil:
			return fmt.Errorf("lock registry record: %w", err)
		}
		existing.ApplyIdentity(up, now)
		rec = existing
		return s.updateRecord(ctx, tx, rec)
	})
	if err != nil {
		return nil, false, err
	}
	return rec, created, nil
}

func (s *Store) UpdateState(ctx context.Context, up models.StateUpdate, now time.Time) (*models.RegistryRecord, error) {
	var rec *models.RegistryRecord
	err := s.withTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx,
			`SELECT `+recordColumns+` FROM pet_registry WHERE pet_code = $1 FOR UPDATE`, up.PetCode.String())
		existing, err := scanRecord(row)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("registry record %s: %w", up.PetCode, sentinel.ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("lock registry record: %w", err)
		}
		existing.ApplyState(up, now)
		rec = existing
		return s.updateRecord(ctx, tx, rec)
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func (s *Store) ApplyTransfer(ctx context.Context, app store.TransferApplication, now time.Time) (*models.RegistryRecord, *models.TransferEntry, bool, error) {
	var (
		rec      *models.RegistryRecord
		entry    models.TransferEntry
		replayed bool
	)
	err := s.withTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		code := app.Entry.PetCode
		row := tx.QueryRowContext(ctx,
			`SELECT `+recordColumns+` FROM pet_registry WHERE pet_code = $1 FOR UPDATE`, code.String())
		existing, err := scanRecord(row)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("registry record %s: %w", code, sentinel.ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("lock registry record: %w", err)
		}

		if app.Entry.IdempotencyKey != "" {
			prior, err := s.findByIdempotencyKey(ctx, tx, code, app.Entry.IdempotencyKey)
			if err != nil && !errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("idempotency lookup: %w", err)
			}
			if err == nil {
				entry = *prior
				rec = existing
				replayed = true
				return nil
			}
		}

		// Deceased is terminal; the ledger never continues past it.
		if existing.CurrentStatus == models.StatusDeceased {
			return fmt.Errorf("registry record %s is deceased: %w", code, sentinel.ErrInvalidState)
		}
		if !app.Outcome.AllowedFrom(existing.CurrentStatus) {
			return fmt.Errorf("registry record %s: %w", code, &store.StateError{Status: existing.CurrentStatus, Type: app.Entry.Type})
		}

		entry = app.Entry
		entry.ID = uuid.New()
		entry.TransferDate = now
		if entry.PreviousOwner.IsNil() {
			entry.PreviousOwner = existing.CurrentOwner
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO pet_transfer_ledger (
				id, pet_code, previous_owner, new_owner, transfer_type, transfer_date,
				fee, reason, source, notes, performed_by, idempotency_key, voided)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, FALSE)`,
			entry.ID, code.String(), nullUser(entry.PreviousOwner), nullUser(entry.NewOwner),
			string(entry.Type), entry.TransferDate, entry.Fee, entry.Reason,
			string(entry.Source), entry.Notes, nullUser(entry.PerformedBy), entry.IdempotencyKey)
		if err != nil {
			return fmt.Errorf("append ledger entry: %w", err)
		}

		existing.CurrentOwner = entry.NewOwner
		existing.CurrentLocation = app.Outcome.Location
		existing.CurrentStatus = app.Outcome.Status
		existing.LastTransferAt = now
		existing.LastSeenAt = now
		existing.UpdatedAt = now
		existing.UpdatedBy = entry.PerformedBy
		if app.Outcome.Status == models.StatusDeceased {
			existing.DeceasedAt = now
			existing.DeceasedReason = entry.Reason
		}
		rec = existing
		return s.updateRecord(ctx, tx, rec)
	})
	if err != nil {
		return nil, nil, false, err
	}
	return rec, &entry, replayed, nil
}

func (s *Store) History(ctx context.Context, code id.PetCode) ([]models.TransferEntry, error) {
	if _, err := s.Find(ctx, code); err != nil {
		return nil, err
	}
	rows, err := s.querier(ctx).QueryContext(ctx, `
		SELECT id, pet_code, previous_owner, new_owner, transfer_type, transfer_date,
			fee, reason, source, notes, performed_by, idempotency_key, voided
		FROM pet_transfer_ledger WHERE pet_code = $1 ORDER BY transfer_date DESC, id DESC`,
		code.String())
	if err != nil {
		return nil, fmt.Errorf("query ledger: %w", err)
	}
	defer rows.Close()

	var entries []models.TransferEntry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan ledger entry: %w", err)
		}
		entries = append(entries, *entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate ledger: %w", err)
	}
	return entries, nil
}

func (s *Store) VoidTransfer(ctx context.Context, code id.PetCode, entryID uuid.UUID, actor id.UserID, now time.Time) error {
	res, err := s.querier(ctx).ExecContext(ctx, `
		UPDATE pet_transfer_ledger SET voided = TRUE WHERE id = $1 AND pet_code = $2`,
		entryID, code.String())
	if err != nil {
		return fmt.Errorf("void ledger entry: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("void ledger entry: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("ledger entry %s: %w", entryID, sentinel.ErrNotFound)
	}
	_, err = s.querier(ctx).ExecContext(ctx, `
		UPDATE pet_registry SET updated_by = $1, updated_at = $2 WHERE pet_code = $3`,
		nullUser(actor), now, code.String())
	if err != nil {
		return fmt.Errorf("touch registry record: %w", err)
	}
	return nil
}

// withTx runs fn inside the context transaction when one is present,
// otherwise it owns begin/commit/rollback itself.
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

func (s *Store) findByIdempotencyKey(ctx context.Context, tx *sql.Tx, code id.PetCode, key string) (*models.TransferEntry, error) {
	row := tx.QueryRowContext(ctx, `
		SELECT id, pet_code, previous_owner, new_owner, transfer_type, transfer_date,
			fee, reason, source, notes, performed_by, idempotency_key, voided
		FROM pet_transfer_ledger WHERE pet_code = $1 AND idempotency_key = $2`,
		code.String(), key)
	return scanEntry(row)
}

func (s *Store) insertRecord(ctx context.Context, tx *sql.Tx, rec *models.RegistryRecord) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO pet_registry (`+recordColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24,$25,$26,$27,$28)`,
		recordArgs(rec)...)
	if err != nil {
		return fmt.Errorf("insert registry record: %w", err)
	}
	return nil
}

func (s *Store) updateRecord(ctx context.Context, tx *sql.Tx, rec *models.RegistryRecord) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE pet_registry SET
			name=$2, species=$3, breed=$4, gender=$5, age=$6, age_unit=$7, color=$8, image_refs=$9,
			source=$10, source_label=$11, first_added_source=$12, first_added_by=$13, first_added_at=$14,
			current_owner=$15, current_location=$16, current_status=$17, last_transfer_at=$18, last_seen_at=$19,
			core_pet_id=$20, pet_shop_item_id=$21, adoption_pet_id=$22, deceased_at=$23, deceased_reason=$24,
			created_by=$25, updated_by=$26, created_at=$27, updated_at=$28
		WHERE pet_code=$1`,
		recordArgs(rec)...)
	if err != nil {
		return fmt.Errorf("update registry record: %w", err)
	}
	return nil
}

func recordArgs(rec *models.RegistryRecord) []any {
	return []any{
		rec.PetCode.String(), rec.Name, rec.Species, rec.Breed, rec.Gender, rec.Age, rec.AgeUnit, rec.Color,
		pq.Array(rec.ImageRefs),
		string(rec.Source), rec.SourceLabel, string(rec.FirstAddedSource), nullUser(rec.FirstAddedBy), rec.FirstAddedAt,
		nullUser(rec.CurrentOwner), string(rec.CurrentLocation), string(rec.CurrentStatus),
		nullTime(rec.LastTransferAt), rec.LastSeenAt,
		rec.CorePetID, rec.PetShopItemID, rec.AdoptionPetID,
		nullTime(rec.DeceasedAt), rec.DeceasedReason,
		nullUser(rec.CreatedBy), nullUser(rec.UpdatedBy), rec.CreatedAt, rec.UpdatedAt,
	}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*models.RegistryRecord, error) {
	var (
		rec                                    models.RegistryRecord
		petCode, source, firstSource, loc, sts string
		imageRefs                              pq.StringArray
		firstBy, owner, createdBy, updatedBy   uuid.NullUUID
		lastTransferAt, deceasedAt             sql.NullTime
	)
	err := row.Scan(
		&petCode, &rec.Name, &rec.Species, &rec.Breed, &rec.Gender, &rec.Age, &rec.AgeUnit, &rec.Color,
		&imageRefs, &source, &rec.SourceLabel, &firstSource, &firstBy, &rec.FirstAddedAt,
		&owner, &loc, &sts, &lastTransferAt, &rec.LastSeenAt,
		&rec.CorePetID, &rec.PetShopItemID, &rec.AdoptionPetID, &deceasedAt, &rec.DeceasedReason,
		&createdBy, &updatedBy, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return nil, err
	}
	rec.PetCode = id.PetCode(petCode)
	rec.ImageRefs = []string(imageRefs)
	rec.Source = models.Source(source)
	rec.FirstAddedSource = models.Source(firstSource)
	rec.FirstAddedBy = userOf(firstBy)
	rec.CurrentOwner = userOf(owner)
	rec.CurrentLocation = models.Location(loc)
	rec.CurrentStatus = models.Status(sts)
	rec.LastTransferAt = lastTransferAt.Time
	rec.DeceasedAt = deceasedAt.Time
	rec.CreatedBy = userOf(createdBy)
	rec.UpdatedBy = userOf(updatedBy)
	return &rec, nil
}

func scanEntry(row rowScanner) (*models.TransferEntry, error) {
	var (
		entry                            models.TransferEntry
		petCode, transferType, source    string
		prevOwner, newOwner, performedBy uuid.NullUUID
	)
	err := row.Scan(&entry.ID, &petCode, &prevOwner, &newOwner, &transferType, &entry.TransferDate,
		&entry.Fee, &entry.Reason, &source, &entry.Notes, &performedBy, &entry.IdempotencyKey, &entry.Voided)
	if err != nil {
		return nil, err
	}
	entry.PetCode = id.PetCode(petCode)
	entry.PreviousOwner = userOf(prevOwner)
	entry.NewOwner = userOf(newOwner)
	entry.Type = models.TransferType(transferType)
	entry.Source = models.Source(source)
	return &entry, nil
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
