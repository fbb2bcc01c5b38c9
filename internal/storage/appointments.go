package storage

import (
	"context"
	"time"

	"github.com/aaron44445/salonbook/internal/model"
	"github.com/aaron44445/salonbook/libs/db"
	"github.com/jackc/pgx/v5"
)

// AppointmentRepository serves the mutation flows outside the reservation
// path (cancellation, completion) and read-only listings. The reservation
// insert itself only ever happens through PgStore.
type AppointmentRepository struct {
	pool *db.Pool
}

func NewAppointmentRepository(pool *db.Pool) *AppointmentRepository {
	return &AppointmentRepository{pool: pool}
}

func (r *AppointmentRepository) Begin(ctx context.Context) (pgx.Tx, error) {
	return r.pool.Begin(ctx)
}

const appointmentColumns = `
	id::text, salon_id::text, location_id::text, COALESCE(client_id::text, ''),
	client_name, client_email, client_phone, staff_id::text, service_id::text,
	start_time, end_time, duration_minutes, price::text, status, source,
	COALESCE(notes, ''), cancelled_at, COALESCE(cancellation_reason, ''), created_at`

func scanAppointment(row pgx.Row) (model.Appointment, error) {
	var a model.Appointment
	var cancelledAt *time.Time
	err := row.Scan(
		&a.ID, &a.SalonID, &a.LocationID, &a.ClientID,
		&a.ClientName, &a.ClientEmail, &a.ClientPhone, &a.StaffID, &a.ServiceID,
		&a.StartTime, &a.EndTime, &a.DurationMinutes, &a.Price, &a.Status, &a.Source,
		&a.Notes, &cancelledAt, &a.CancelReason, &a.CreatedAt,
	)
	if err != nil {
		return model.Appointment{}, err
	}
	a.CancelledAt = cancelledAt
	return a, nil
}

func (r *AppointmentRepository) GetForUpdate(ctx context.Context, tx pgx.Tx, salonID, appointmentID string) (model.Appointment, error) {
	return scanAppointment(tx.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1 AND salon_id = $2
		FOR UPDATE
	`, appointmentID, salonID))
}

func (r *AppointmentRepository) Cancel(ctx context.Context, tx pgx.Tx, salonID, appointmentID, reason string) (time.Time, error) {
	var cancelledAt time.Time
	err := tx.QueryRow(ctx, `
		UPDATE appointments
		SET status = 'cancelled',
			cancelled_at = now(),
			cancellation_reason = $3
		WHERE id = $1 AND salon_id = $2
		RETURNING cancelled_at
	`, appointmentID, salonID, reason).Scan(&cancelledAt)
	return cancelledAt, err
}

func (r *AppointmentRepository) Complete(ctx context.Context, tx pgx.Tx, salonID, appointmentID string, noShow bool) error {
	status := model.StatusCompleted
	if noShow {
		status = model.StatusNoShow
	}
	tag, err := tx.Exec(ctx, `
		UPDATE appointments
		SET status = $3
		WHERE id = $1 AND salon_id = $2 AND status = 'confirmed'
	`, appointmentID, salonID, string(status))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *AppointmentRepository) ListBySalon(ctx context.Context, salonID string, limit int) ([]model.Appointment, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE salon_id = $1
		ORDER BY start_time DESC
		LIMIT $2
	`, salonID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var appts []model.Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		appts = append(appts, a)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return appts, nil
}
