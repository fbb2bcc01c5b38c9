package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/aaron44445/salonbook/internal/booking"
	"github.com/aaron44445/salonbook/internal/model"
	"github.com/aaron44445/salonbook/internal/outbox"
	"github.com/aaron44445/salonbook/libs/db"
	"github.com/jackc/pgx/v5"
)

// PgStore implements booking.Store on Postgres. Each InTx call is one
// serializable transaction; the per-staff exclusive lock is a transaction
// advisory lock, so it works across all server instances sharing the
// database and is released on every exit path.
type PgStore struct {
	pool     *db.Pool
	lockWait time.Duration
	txBudget time.Duration
}

type PgStoreConfig struct {
	LockWait time.Duration
	TxBudget time.Duration
}

func NewPgStore(pool *db.Pool, cfg PgStoreConfig) *PgStore {
	if cfg.LockWait <= 0 {
		cfg.LockWait = 10 * time.Second
	}
	if cfg.TxBudget <= 0 {
		cfg.TxBudget = 30 * time.Second
	}
	return &PgStore{pool: pool, lockWait: cfg.LockWait, txBudget: cfg.TxBudget}
}

func (s *PgStore) InTx(ctx context.Context, fn func(ctx context.Context, tx booking.Tx) error) error {
	ctx, cancel := context.WithTimeout(ctx, s.txBudget)
	defer cancel()

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// Bound how long a competitor queues on the staff lock; exceeding it
	// surfaces as SQLSTATE 55P03 and is classified as busy, not hung. The
	// statement timeout backs the context budget server-side (SQLSTATE 57014).
	if _, err := tx.Exec(ctx, fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", s.lockWait.Milliseconds())); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, fmt.Sprintf("SET LOCAL statement_timeout = '%dms'", s.txBudget.Milliseconds())); err != nil {
		return err
	}

	if err := fn(ctx, &pgTx{tx: tx}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) AcquireStaffLock(ctx context.Context, staffID string) error {
	// hashtextextended keys the advisory lock by staff ID; any transaction
	// requesting the same key blocks until the holder ends.
	_, err := t.tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, staffID)
	return err
}

func (t *pgTx) OverlappingAppointments(ctx context.Context, staffID string, start, end time.Time) ([]model.Appointment, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT id::text, salon_id::text, staff_id::text, service_id::text, start_time, end_time, status
		FROM appointments
		WHERE staff_id = $1
			AND status IN ('pending', 'confirmed')
			AND start_time < $3
			AND end_time > $2
		ORDER BY start_time ASC
	`, staffID, start, end)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var appts []model.Appointment
	for rows.Next() {
		var a model.Appointment
		if err := rows.Scan(&a.ID, &a.SalonID, &a.StaffID, &a.ServiceID, &a.StartTime, &a.EndTime, &a.Status); err != nil {
			return nil, err
		}
		appts = append(appts, a)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return appts, nil
}

func (t *pgTx) InsertAppointment(ctx context.Context, appt *model.Appointment) (string, error) {
	var id string
	err := t.tx.QueryRow(ctx, `
		INSERT INTO appointments
			(salon_id, location_id, client_id, client_name, client_email, client_phone,
			 staff_id, service_id, start_time, end_time, duration_minutes, price, status, source, notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		RETURNING id::text
	`, appt.SalonID, appt.LocationID, nullable(appt.ClientID), appt.ClientName, appt.ClientEmail, appt.ClientPhone,
		appt.StaffID, appt.ServiceID, appt.StartTime, appt.EndTime, appt.DurationMinutes, appt.Price,
		string(appt.Status), appt.Source, appt.Notes).Scan(&id)
	if err != nil {
		return "", err
	}
	return id, nil
}

func (t *pgTx) AppendOutboxEvent(ctx context.Context, aggregateID, eventType string, payload []byte) error {
	return outbox.Insert(ctx, t.tx, outbox.Event{
		AggregateType: "appointment",
		AggregateID:   aggregateID,
		EventType:     eventType,
		Payload:       payload,
	})
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
