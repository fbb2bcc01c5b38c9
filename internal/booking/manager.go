package booking

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aaron44445/salonbook/internal/availability"
	"github.com/aaron44445/salonbook/internal/model"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// EventAppointmentBooked is written to the outbox in the same transaction as
// the appointment insert.
const EventAppointmentBooked = "booking.appointment.booked.v1"

// Store is the write side of the persistence boundary. InTx must run fn
// inside a transaction at the strongest isolation level the store offers,
// with bounded lock-wait and overall duration, committing only when fn
// returns nil.
type Store interface {
	InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// Tx is the set of operations available inside a reservation transaction.
type Tx interface {
	// AcquireStaffLock takes a cross-transaction exclusive lock keyed by the
	// staff member. It blocks until the current holder commits or rolls back
	// and is released automatically at transaction end.
	AcquireStaffLock(ctx context.Context, staffID string) error

	// OverlappingAppointments returns pending/confirmed appointments for the
	// staff member intersecting [start, end).
	OverlappingAppointments(ctx context.Context, staffID string, start, end time.Time) ([]model.Appointment, error)

	// InsertAppointment persists the appointment and returns its ID.
	InsertAppointment(ctx context.Context, appt *model.Appointment) (string, error)

	// AppendOutboxEvent stages a domain event atomically with the insert.
	AppendOutboxEvent(ctx context.Context, aggregateID, eventType string, payload []byte) error
}

// Request carries everything needed to reserve one slot. EndTime and the
// denormalized duration/price come from the service definition, resolved by
// the caller.
type Request struct {
	SalonID         string
	LocationID      *string
	ClientID        string
	ClientName      string
	ClientEmail     string
	ClientPhone     string
	StaffID         string
	ServiceID       string
	StartTime       time.Time
	EndTime         time.Time
	DurationMinutes int
	Price           string
	Source          string
	Notes           string
}

// Manager runs the reservation path: lock, re-check, insert, bounded retry of
// transient failures. One Reserve call maps to one storage transaction per
// attempt; all serialization is delegated to the store's lock manager plus
// the per-staff exclusive lock, so attempts for different staff never block
// each other.
type Manager struct {
	store       Store
	classify    Classifier
	logger      *slog.Logger
	maxAttempts int
}

const defaultMaxAttempts = 5

func NewManager(store Store, classify Classifier, logger *slog.Logger) *Manager {
	return &Manager{
		store:       store,
		classify:    classify,
		logger:      logger,
		maxAttempts: defaultMaxAttempts,
	}
}

// Reserve books the requested slot. It returns the created appointment,
// ErrSlotTaken when the interval is already held, ErrServiceBusy on lock or
// transaction timeout, or the underlying storage error for anything else.
// Transient serialization failures are retried internally; among attempts
// queued on the same staff lock the first committer wins, so racing requests
// resolve through the explicit conflict path rather than through retries.
func (m *Manager) Reserve(ctx context.Context, req Request) (model.Appointment, error) {
	appt := model.Appointment{
		SalonID:         req.SalonID,
		LocationID:      req.LocationID,
		ClientID:        req.ClientID,
		ClientName:      req.ClientName,
		ClientEmail:     req.ClientEmail,
		ClientPhone:     req.ClientPhone,
		StaffID:         req.StaffID,
		ServiceID:       req.ServiceID,
		StartTime:       req.StartTime,
		EndTime:         req.EndTime,
		DurationMinutes: req.DurationMinutes,
		Price:           req.Price,
		Status:          model.StatusConfirmed,
		Source:          req.Source,
		Notes:           req.Notes,
	}

	span := trace.SpanFromContext(ctx)
	span.SetAttributes(
		attribute.String("booking.staff_id", req.StaffID),
		attribute.String("booking.service_id", req.ServiceID),
	)

	for attempt := 1; ; attempt++ {
		span.SetAttributes(attribute.Int("booking.attempt", attempt))
		err := m.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
			if err := tx.AcquireStaffLock(ctx, req.StaffID); err != nil {
				return err
			}

			// Re-check against the latest committed state now that the lock
			// is held. Anything a competitor committed before us is visible.
			existing, err := tx.OverlappingAppointments(ctx, req.StaffID, req.StartTime, req.EndTime)
			if err != nil {
				return err
			}
			for _, e := range existing {
				if !e.Status.Blocks() {
					continue
				}
				if availability.Conflicts(req.StartTime, req.EndTime, []availability.Interval{{Start: e.StartTime, End: e.EndTime}}) {
					return ErrSlotTaken
				}
			}

			id, err := tx.InsertAppointment(ctx, &appt)
			if err != nil {
				return err
			}
			appt.ID = id

			payload, err := bookedEventPayload(appt)
			if err != nil {
				return err
			}
			return tx.AppendOutboxEvent(ctx, id, EventAppointmentBooked, payload)
		})
		if err == nil {
			return appt, nil
		}
		if errors.Is(err, ErrSlotTaken) {
			return model.Appointment{}, ErrSlotTaken
		}

		switch m.classify(err) {
		case ClassRetryable:
			if attempt < m.maxAttempts {
				m.logger.Warn("serialization failure, retrying reservation",
					"staff_id", req.StaffID,
					"attempt", attempt,
					"err", err,
				)
				continue
			}
			return model.Appointment{}, fmt.Errorf("reservation retry budget exhausted after %d attempts: %w", m.maxAttempts, err)
		case ClassBusy:
			m.logger.Warn("reservation timed out waiting for staff lock",
				"staff_id", req.StaffID,
				"attempt", attempt,
			)
			return model.Appointment{}, ErrServiceBusy
		default:
			return model.Appointment{}, err
		}
	}
}

func bookedEventPayload(appt model.Appointment) ([]byte, error) {
	return json.Marshal(map[string]any{
		"appointment_id": appt.ID,
		"salon_id":       appt.SalonID,
		"staff_id":       appt.StaffID,
		"service_id":     appt.ServiceID,
		"client_name":    appt.ClientName,
		"client_email":   appt.ClientEmail,
		"client_phone":   appt.ClientPhone,
		"start_time":     appt.StartTime.UTC().Format(time.RFC3339),
		"end_time":       appt.EndTime.UTC().Format(time.RFC3339),
		"status":         string(appt.Status),
	})
}
