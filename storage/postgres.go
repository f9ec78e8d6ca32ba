package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"turnsync/models"
)

// PostgresStore is the authoritative reservation record store.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, connString string) (*PostgresStore, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	config.MaxConns = 10
	config.MinConns = 2
	config.MaxConnLifetime = 30 * time.Minute
	config.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

func (s *PostgresStore) Pool() *pgxpool.Pool {
	return s.pool
}

const recordColumns = `
	id, property_id, identity_key, source, entry_type, status, source_token,
	guest_name, check_in, check_out, service_type, same_day_turnover,
	owner_arriving, long_term_guest, next_occupant_date, next_occupant_type,
	scheduled_service_time, service_description, override_service_time,
	custom_instructions, external_job_ref, raw_fields, first_seen_at,
	last_seen_at, created_at, updated_at`

func scanRecord(row pgx.Row) (*models.ReservationRecord, error) {
	var r models.ReservationRecord
	err := row.Scan(
		&r.ID, &r.PropertyID, &r.IdentityKey, &r.Source, &r.EntryType, &r.Status,
		&r.SourceToken, &r.GuestName, &r.CheckIn, &r.CheckOut, &r.ServiceType,
		&r.SameDayTurnover, &r.OwnerArriving, &r.LongTermGuest,
		&r.NextOccupantDate, &r.NextOccupantType, &r.ScheduledServiceTime,
		&r.ServiceDescription, &r.OverrideServiceTime, &r.CustomInstructions,
		&r.ExternalJobRef, &r.RawFields, &r.FirstSeenAt, &r.LastSeenAt,
		&r.CreatedAt, &r.UpdatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *PostgresStore) ActiveByIdentityKey(ctx context.Context, key string) (*models.ReservationRecord, error) {
	query := `SELECT ` + recordColumns + `
		FROM reservation_records
		WHERE identity_key = $1 AND status IN ('new', 'modified')`
	return scanRecord(s.pool.QueryRow(ctx, query, key))
}

func (s *PostgresStore) LatestByIdentityKey(ctx context.Context, key string) (*models.ReservationRecord, error) {
	query := `SELECT ` + recordColumns + `
		FROM reservation_records
		WHERE identity_key = $1
		ORDER BY created_at DESC
		LIMIT 1`
	return scanRecord(s.pool.QueryRow(ctx, query, key))
}

func (s *PostgresStore) ActiveForProperty(ctx context.Context, propertyID string) ([]*models.ReservationRecord, error) {
	query := `SELECT ` + recordColumns + `
		FROM reservation_records
		WHERE property_id = $1 AND status IN ('new', 'modified')
		ORDER BY check_in ASC, created_at ASC`
	return s.queryRecords(ctx, query, propertyID)
}

func (s *PostgresStore) ActiveForSource(ctx context.Context, source models.Source) ([]*models.ReservationRecord, error) {
	query := `SELECT ` + recordColumns + `
		FROM reservation_records
		WHERE source = $1 AND status IN ('new', 'modified')
		ORDER BY check_in ASC`
	return s.queryRecords(ctx, query, string(source))
}

func (s *PostgresStore) ActiveMissingJobRef(ctx context.Context) ([]*models.ReservationRecord, error) {
	query := `SELECT ` + recordColumns + `
		FROM reservation_records
		WHERE status IN ('new', 'modified')
			AND external_job_ref IS NULL
			AND scheduled_service_time IS NOT NULL
		ORDER BY scheduled_service_time ASC`
	return s.queryRecords(ctx, query)
}

func (s *PostgresStore) queryRecords(ctx context.Context, query string, args ...interface{}) ([]*models.ReservationRecord, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.ReservationRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Transition applies one identity's lifecycle step atomically: demotion,
// creation and history rows commit or roll back together. A half-applied
// transition is never visible to a later run.
func (s *PostgresStore) Transition(ctx context.Context, demote, create *models.ReservationRecord, history []*models.HistoryEntry) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if demote != nil {
		if err := updateStatus(ctx, tx, demote); err != nil {
			return fmt.Errorf("demote %s: %w", demote.IdentityKey, err)
		}
	}
	if create != nil {
		if err := insertRecord(ctx, tx, create); err != nil {
			return fmt.Errorf("insert %s: %w", create.IdentityKey, err)
		}
	}
	for _, h := range history {
		if err := insertHistory(ctx, tx, h); err != nil {
			return fmt.Errorf("history %s: %w", h.IdentityKey, err)
		}
	}

	return tx.Commit(ctx)
}

func updateStatus(ctx context.Context, tx pgx.Tx, rec *models.ReservationRecord) error {
	_, err := tx.Exec(ctx, `
		UPDATE reservation_records
		SET status = $2, updated_at = $3
		WHERE id = $1`,
		rec.ID, rec.Status, rec.UpdatedAt)
	return err
}

func insertRecord(ctx context.Context, tx pgx.Tx, r *models.ReservationRecord) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO reservation_records (`+recordColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14,
			$15, $16, $17, $18, $19, $20, $21, $22, $23, $24, $25, $26)`,
		r.ID, r.PropertyID, r.IdentityKey, r.Source, r.EntryType, r.Status,
		r.SourceToken, r.GuestName, r.CheckIn, r.CheckOut, r.ServiceType,
		r.SameDayTurnover, r.OwnerArriving, r.LongTermGuest,
		r.NextOccupantDate, r.NextOccupantType, r.ScheduledServiceTime,
		r.ServiceDescription, r.OverrideServiceTime, r.CustomInstructions,
		r.ExternalJobRef, r.RawFields, r.FirstSeenAt, r.LastSeenAt,
		r.CreatedAt, r.UpdatedAt)
	return err
}

func insertHistory(ctx context.Context, tx pgx.Tx, h *models.HistoryEntry) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO record_history (identity_key, record_id, source, action, detail, fields, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		h.IdentityKey, h.RecordID, h.Source, h.Action, h.Detail, h.Fields, h.CreatedAt)
	return err
}

func (s *PostgresStore) UpdateDerived(ctx context.Context, r *models.ReservationRecord) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE reservation_records
		SET same_day_turnover = $2,
			owner_arriving = $3,
			long_term_guest = $4,
			next_occupant_date = $5,
			next_occupant_type = $6,
			scheduled_service_time = $7,
			service_description = $8,
			updated_at = $9
		WHERE id = $1`,
		r.ID, r.SameDayTurnover, r.OwnerArriving, r.LongTermGuest,
		r.NextOccupantDate, r.NextOccupantType, r.ScheduledServiceTime,
		r.ServiceDescription, r.UpdatedAt)
	return err
}

func (s *PostgresStore) TouchLastSeen(ctx context.Context, id uuid.UUID, t time.Time) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE reservation_records SET last_seen_at = $2 WHERE id = $1`, id, t)
	return err
}

func (s *PostgresStore) SetExternalJobRef(ctx context.Context, id uuid.UUID, ref string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE reservation_records
		SET external_job_ref = $2, updated_at = NOW()
		WHERE id = $1 AND external_job_ref IS NULL`, id, ref)
	return err
}

func (s *PostgresStore) AppendHistory(ctx context.Context, h *models.HistoryEntry) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO record_history (identity_key, record_id, source, action, detail, fields, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		h.IdentityKey, h.RecordID, h.Source, h.Action, h.Detail, h.Fields, h.CreatedAt)
	return err
}

func (s *PostgresStore) InsertConflict(ctx context.Context, c *models.RecordConflict) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO record_conflicts (property_id, winner_key, loser_key, loser_source, reasons, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (winner_key, loser_key) DO NOTHING`,
		c.PropertyID, c.WinnerKey, c.LoserKey, c.LoserSource, c.Reasons, c.Status, c.CreatedAt)
	return err
}

// HistoryForKey returns the audit trail for one identity, oldest first.
func (s *PostgresStore) HistoryForKey(ctx context.Context, key string) ([]*models.HistoryEntry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, identity_key, record_id, source, action, detail, fields, created_at
		FROM record_history
		WHERE identity_key = $1
		ORDER BY created_at ASC, id ASC`, key)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.HistoryEntry
	for rows.Next() {
		var h models.HistoryEntry
		if err := rows.Scan(&h.ID, &h.IdentityKey, &h.RecordID, &h.Source, &h.Action, &h.Detail, &h.Fields, &h.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &h)
	}
	return out, rows.Err()
}

// PendingConflicts returns conflict rows awaiting manual review.
func (s *PostgresStore) PendingConflicts(ctx context.Context) ([]*models.RecordConflict, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, property_id, winner_key, loser_key, loser_source, reasons, status, reviewed_at, created_at
		FROM record_conflicts
		WHERE status = 'pending'
		ORDER BY created_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.RecordConflict
	for rows.Next() {
		var c models.RecordConflict
		if err := rows.Scan(&c.ID, &c.PropertyID, &c.WinnerKey, &c.LoserKey, &c.LoserSource, &c.Reasons, &c.Status, &c.ReviewedAt, &c.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &c)
	}
	return out, rows.Err()
}
