// Package postgres implements ReservationRepository on pgx.
//
// Expected schema:
//
//	CREATE TABLE phone_reservations (
//	    id             UUID PRIMARY KEY,
//	    number         TEXT NOT NULL,
//	    caller_id      TEXT NOT NULL,
//	    provider_name  TEXT NOT NULL,
//	    provider_token TEXT NOT NULL,
//	    state          TEXT NOT NULL,
//	    created_at     TIMESTAMPTZ NOT NULL,
//	    expires_at     TIMESTAMPTZ NOT NULL
//	);
//	CREATE UNIQUE INDEX phone_reservations_live_number_uq
//	    ON phone_reservations (number)
//	    WHERE state IN ('held', 'activated');
//
// The partial unique index is the single point of serialization per number:
// two racing inserts admit exactly one.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aks-o/voxlink-sub007/internal/provisioning/domain"
	"github.com/aks-o/voxlink-sub007/internal/provisioning/repository"
)

const uniqueViolation = "23505"

const reservationColumns = "id, number, caller_id, provider_name, provider_token, state, created_at, expires_at"

type pgReservationRepository struct {
	db *pgxpool.Pool
}

// NewPgReservationRepository creates a ReservationRepository backed by PostgreSQL.
func NewPgReservationRepository(db *pgxpool.Pool) repository.ReservationRepository {
	return &pgReservationRepository{db: db}
}

func (r *pgReservationRepository) Create(ctx context.Context, res *domain.Reservation) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin create reservation: %w", err)
	}
	defer tx.Rollback(ctx)

	// Sweep an overdue hold first so a crashed expiry timer cannot wedge the
	// number behind the live-number index.
	_, err = tx.Exec(ctx, `
		UPDATE phone_reservations
		SET state = 'expired'
		WHERE number = $1 AND state = 'held' AND expires_at <= $2
	`, res.Number, res.CreatedAt)
	if err != nil {
		return fmt.Errorf("sweep overdue hold: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO phone_reservations (`+reservationColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, res.ID, res.Number, res.CallerID, res.ProviderName, res.ProviderToken, res.State, res.CreatedAt, res.ExpiresAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return fmt.Errorf("number %s: %w", res.Number, domain.ErrAlreadyReserved)
		}
		return fmt.Errorf("insert reservation: %w", err)
	}

	return tx.Commit(ctx)
}

func (r *pgReservationRepository) GetByID(ctx context.Context, id string) (*domain.Reservation, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+reservationColumns+`
		FROM phone_reservations WHERE id = $1
	`, id)
	return scanReservation(row, id)
}

func (r *pgReservationRepository) FindLiveByNumber(ctx context.Context, number string) (*domain.Reservation, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+reservationColumns+`
		FROM phone_reservations
		WHERE number = $1 AND state IN ('held', 'activated')
	`, number)
	return scanReservation(row, number)
}

func (r *pgReservationRepository) Transition(ctx context.Context, id string, from, to domain.ReservationState) (*domain.Reservation, error) {
	row := r.db.QueryRow(ctx, `
		UPDATE phone_reservations
		SET state = $3
		WHERE id = $1 AND state = $2
		RETURNING `+reservationColumns+`
	`, id, from, to)

	res, err := scanReservation(row, id)
	if err == nil {
		return res, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}

	// No row matched: distinguish a missing reservation from a lost CAS.
	if _, getErr := r.GetByID(ctx, id); getErr != nil {
		return nil, getErr
	}
	return nil, fmt.Errorf("reservation %s is no longer %s: %w", id, from, domain.ErrStaleReservation)
}

func (r *pgReservationRepository) ExpireIfDue(ctx context.Context, id string, now time.Time) (*domain.Reservation, error) {
	row := r.db.QueryRow(ctx, `
		UPDATE phone_reservations
		SET state = 'expired'
		WHERE id = $1 AND state = 'held' AND expires_at <= $2
		RETURNING `+reservationColumns+`
	`, id, now)

	res, err := scanReservation(row, id)
	if err == nil {
		return res, nil
	}
	if errors.Is(err, domain.ErrNotFound) {
		// Not due, already finalized, or unknown: nothing to expire.
		return nil, nil
	}
	return nil, err
}

func (r *pgReservationRepository) Delete(ctx context.Context, id string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM phone_reservations WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete reservation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("reservation %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

func scanReservation(row pgx.Row, key string) (*domain.Reservation, error) {
	res := &domain.Reservation{}
	err := row.Scan(
		&res.ID, &res.Number, &res.CallerID, &res.ProviderName,
		&res.ProviderToken, &res.State, &res.CreatedAt, &res.ExpiresAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("reservation %s: %w", key, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("scan reservation: %w", err)
	}
	return res, nil
}
