package storage

import (
	"context"
	"errors"
	"time"

	"github.com/aaron44445/salonbook/internal/availability"
	"github.com/aaron44445/salonbook/internal/model"
	"github.com/aaron44445/salonbook/libs/db"
	"github.com/jackc/pgx/v5"
)

// CatalogRepository implements availability.Catalog on Postgres. All reads
// run outside any transaction at default isolation: slot results are
// advisory and re-validated at reservation time.
type CatalogRepository struct {
	pool *db.Pool
}

func NewCatalogRepository(pool *db.Pool) *CatalogRepository {
	return &CatalogRepository{pool: pool}
}

func (r *CatalogRepository) BookingSettings(ctx context.Context, salonID string) (model.BookingSettings, error) {
	s := model.BookingSettings{SalonID: salonID}
	err := r.pool.QueryRow(ctx, `
		SELECT booking_enabled, min_notice_hours, max_advance_days, slot_interval_minutes
		FROM salon_settings
		WHERE salon_id = $1
	`, salonID).Scan(&s.BookingEnabled, &s.MinNoticeHours, &s.MaxAdvanceDays, &s.SlotIntervalMinutes)
	if errors.Is(err, pgx.ErrNoRows) {
		// Salon not yet configured: standard defaults.
		return model.BookingSettings{
			SalonID:             salonID,
			BookingEnabled:      true,
			MinNoticeHours:      2,
			MaxAdvanceDays:      30,
			SlotIntervalMinutes: 30,
		}, nil
	}
	if err != nil {
		return model.BookingSettings{}, err
	}
	return s, nil
}

func (r *CatalogRepository) ServiceByID(ctx context.Context, salonID, serviceID string) (model.Service, bool, error) {
	var svc model.Service
	err := r.pool.QueryRow(ctx, `
		SELECT id::text, salon_id::text, name, duration_minutes, buffer_minutes, price::text, is_active
		FROM services
		WHERE salon_id = $1 AND id = $2
	`, salonID, serviceID).Scan(&svc.ID, &svc.SalonID, &svc.Name, &svc.DurationMinutes, &svc.BufferMinutes, &svc.Price, &svc.IsActive)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Service{}, false, nil
	}
	if err != nil {
		return model.Service{}, false, err
	}
	return svc, true, nil
}

func (r *CatalogRepository) EligibleStaff(ctx context.Context, salonID, serviceID string, locationID *string) ([]model.Staff, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT s.id::text, s.salon_id::text, s.name, s.is_active, s.online_booking, s.location_id::text
		FROM staff s
		JOIN staff_services ss ON ss.staff_id = s.id
		WHERE s.salon_id = $1
			AND ss.service_id = $2
			AND s.is_active
			AND s.online_booking
			AND ($3::uuid IS NULL OR s.location_id IS NULL OR s.location_id = $3::uuid)
		ORDER BY s.id ASC
	`, salonID, serviceID, locationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Staff
	for rows.Next() {
		var st model.Staff
		if err := rows.Scan(&st.ID, &st.SalonID, &st.Name, &st.IsActive, &st.OnlineBooking, &st.LocationID); err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

func (r *CatalogRepository) HoursOverride(ctx context.Context, salonID string, locationID *string, weekday time.Weekday) (model.BusinessHours, bool, error) {
	var h model.BusinessHours
	var wd int
	// A location-specific row wins over the salon-wide (NULL location) row.
	err := r.pool.QueryRow(ctx, `
		SELECT weekday, open_minute, close_minute, is_closed
		FROM business_hours
		WHERE salon_id = $1
			AND weekday = $2
			AND (location_id = $3::uuid OR location_id IS NULL)
		ORDER BY location_id NULLS LAST
		LIMIT 1
	`, salonID, int(weekday), locationID).Scan(&wd, &h.OpenMinute, &h.CloseMinute, &h.Closed)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.BusinessHours{}, false, nil
	}
	if err != nil {
		return model.BusinessHours{}, false, err
	}
	h.Weekday = time.Weekday(wd)
	return h, true, nil
}

func (r *CatalogRepository) StaffHours(ctx context.Context, staffIDs []string, weekday time.Weekday) (map[string]model.StaffAvailability, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT staff_id::text, weekday, start_minute, end_minute, is_available, location_id::text
		FROM staff_availability
		WHERE staff_id = ANY($1) AND weekday = $2
	`, staffIDs, int(weekday))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]model.StaffAvailability, len(staffIDs))
	for rows.Next() {
		var sa model.StaffAvailability
		var wd int
		if err := rows.Scan(&sa.StaffID, &wd, &sa.StartMinute, &sa.EndMinute, &sa.IsAvailable, &sa.LocationID); err != nil {
			return nil, err
		}
		sa.Weekday = time.Weekday(wd)
		out[sa.StaffID] = sa
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

func (r *CatalogRepository) StaffOnTimeOff(ctx context.Context, staffIDs []string, date time.Time) (map[string]bool, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT DISTINCT staff_id::text
		FROM staff_time_off
		WHERE staff_id = ANY($1)
			AND start_date <= $2::date
			AND end_date >= $2::date
	`, staffIDs, date)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]bool)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out[id] = true
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

func (r *CatalogRepository) BookedIntervals(ctx context.Context, staffIDs []string, dayStart, dayEnd time.Time) (map[string][]availability.Interval, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT staff_id::text, start_time, end_time
		FROM appointments
		WHERE staff_id = ANY($1)
			AND status <> 'cancelled'
			AND start_time < $3
			AND end_time > $2
		ORDER BY start_time ASC
	`, staffIDs, dayStart, dayEnd)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string][]availability.Interval)
	for rows.Next() {
		var staffID string
		var iv availability.Interval
		if err := rows.Scan(&staffID, &iv.Start, &iv.End); err != nil {
			return nil, err
		}
		out[staffID] = append(out[staffID], iv)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}
