package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/aaron44445/salonbook/internal/availability"
	"github.com/aaron44445/salonbook/internal/booking"
	"github.com/aaron44445/salonbook/internal/model"
	"github.com/aaron44445/salonbook/internal/outbox"
	"github.com/aaron44445/salonbook/internal/payments"
	"github.com/aaron44445/salonbook/internal/storage"
)

type BookingHandler struct {
	calc           *availability.Calculator
	finder         *availability.Finder
	manager        *booking.Manager
	catalog        availability.Catalog
	repo           *storage.AppointmentRepository
	outboxRepo     *outbox.Repository
	payments       *payments.Client
	logger         *slog.Logger
	depositPercent int
}

type Config struct {
	DepositPercent int
}

func NewBookingHandler(
	calc *availability.Calculator,
	finder *availability.Finder,
	manager *booking.Manager,
	catalog availability.Catalog,
	repo *storage.AppointmentRepository,
	outboxRepo *outbox.Repository,
	paymentsClient *payments.Client,
	logger *slog.Logger,
	cfg Config,
) *BookingHandler {
	return &BookingHandler{
		calc:           calc,
		finder:         finder,
		manager:        manager,
		catalog:        catalog,
		repo:           repo,
		outboxRepo:     outboxRepo,
		payments:       paymentsClient,
		logger:         logger,
		depositPercent: cfg.DepositPercent,
	}
}

type bookRequest struct {
	SalonID     string `json:"salon_id"`
	LocationID  string `json:"location_id"`
	ServiceID   string `json:"service_id"`
	StaffID     string `json:"staff_id"`
	ClientID    string `json:"client_id"`
	ClientName  string `json:"client_name"`
	ClientEmail string `json:"client_email"`
	ClientPhone string `json:"client_phone"`
	StartTime   string `json:"start_time"`
	Source      string `json:"source"`
	Notes       string `json:"notes"`
}

type bookResponse struct {
	AppointmentID string `json:"appointment_id"`
	StaffID       string `json:"staff_id"`
	StartTime     string `json:"start_time"`
	EndTime       string `json:"end_time"`
	Status        string `json:"status"`
}

type conflictResponse struct {
	Code         string              `json:"code"`
	Message      string              `json:"message"`
	Alternatives []availability.Slot `json:"alternatives"`
}

type cancelRequest struct {
	SalonID       string `json:"salon_id"`
	AppointmentID string `json:"appointment_id"`
	Reason        string `json:"reason"`
}

type cancelResponse struct {
	AppointmentID string `json:"appointment_id"`
	Status        string `json:"status"`
	CancelledAt   string `json:"cancelled_at"`
}

// Slots serves the advisory read path. Disqualifying conditions produce an
// empty list with HTTP 200.
func (h *BookingHandler) Slots(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	salonID := strings.TrimSpace(r.URL.Query().Get("salon_id"))
	serviceID := strings.TrimSpace(r.URL.Query().Get("service_id"))
	dateStr := strings.TrimSpace(r.URL.Query().Get("date"))
	if salonID == "" || serviceID == "" || dateStr == "" {
		http.Error(w, "salon_id, service_id, and date are required", http.StatusBadRequest)
		return
	}
	date, err := time.ParseInLocation("2006-01-02", dateStr, time.UTC)
	if err != nil {
		http.Error(w, "invalid date", http.StatusBadRequest)
		return
	}

	q := availability.SlotQuery{
		SalonID:    salonID,
		LocationID: optional(r.URL.Query().Get("location_id")),
		ServiceID:  serviceID,
		StaffID:    strings.TrimSpace(r.URL.Query().Get("staff_id")),
		Date:       date,
	}
	slots, err := h.calc.Slots(r.Context(), q)
	if err != nil {
		h.logger.Error("slot computation failed", "err", err)
		http.Error(w, "failed to compute slots", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, slotList(slots))
}

// Book reserves a slot. A taken slot answers 409 with code TIME_CONFLICT and
// up to three alternatives; a saturated staff lock answers 503; anything else
// is opaque.
func (h *BookingHandler) Book(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req bookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.SalonID = strings.TrimSpace(req.SalonID)
	req.ServiceID = strings.TrimSpace(req.ServiceID)
	req.StaffID = strings.TrimSpace(req.StaffID)
	req.ClientName = strings.TrimSpace(req.ClientName)
	if req.SalonID == "" || req.ServiceID == "" || req.ClientName == "" {
		http.Error(w, "salon_id, service_id, and client_name are required", http.StatusBadRequest)
		return
	}
	startTime, err := time.Parse(time.RFC3339, req.StartTime)
	if err != nil {
		http.Error(w, "invalid start_time", http.StatusBadRequest)
		return
	}
	startTime = startTime.UTC()

	ctx := r.Context()
	svc, ok, err := h.catalog.ServiceByID(ctx, req.SalonID, req.ServiceID)
	if err != nil {
		http.Error(w, "failed to load service", http.StatusInternalServerError)
		return
	}
	if !ok || !svc.IsActive {
		http.Error(w, "service not found", http.StatusNotFound)
		return
	}
	endTime := startTime.Add(svc.TotalDuration())

	locationID := optional(req.LocationID)
	slotQuery := availability.SlotQuery{
		SalonID:    req.SalonID,
		LocationID: locationID,
		ServiceID:  req.ServiceID,
		StaffID:    req.StaffID,
		Date:       startTime.Truncate(24 * time.Hour),
	}

	staffID := req.StaffID
	if staffID == "" {
		staffID, err = h.assignStaff(ctx, slotQuery, startTime)
		if err != nil {
			http.Error(w, "failed to compute slots", http.StatusInternalServerError)
			return
		}
		if staffID == "" {
			h.writeConflict(ctx, w, slotQuery, startTime)
			return
		}
	} else {
		eligible, err := h.staffEligible(ctx, req.SalonID, req.ServiceID, locationID, staffID)
		if err != nil {
			http.Error(w, "failed to load staff", http.StatusInternalServerError)
			return
		}
		if !eligible {
			http.Error(w, "staff not found", http.StatusNotFound)
			return
		}
	}

	appt, err := h.manager.Reserve(ctx, booking.Request{
		SalonID:         req.SalonID,
		LocationID:      locationID,
		ClientID:        strings.TrimSpace(req.ClientID),
		ClientName:      req.ClientName,
		ClientEmail:     strings.TrimSpace(req.ClientEmail),
		ClientPhone:     strings.TrimSpace(req.ClientPhone),
		StaffID:         staffID,
		ServiceID:       req.ServiceID,
		StartTime:       startTime,
		EndTime:         endTime,
		DurationMinutes: svc.DurationMinutes,
		Price:           svc.Price,
		Source:          strings.TrimSpace(req.Source),
		Notes:           strings.TrimSpace(req.Notes),
	})
	if err != nil {
		switch {
		case errors.Is(err, booking.ErrSlotTaken):
			h.writeConflict(ctx, w, slotQuery, startTime)
		case errors.Is(err, booking.ErrServiceBusy):
			http.Error(w, "booking busy, retry later", http.StatusServiceUnavailable)
		default:
			h.logger.Error("reservation failed", "err", err, "staff_id", staffID)
			http.Error(w, "failed to create appointment", http.StatusInternalServerError)
		}
		return
	}

	h.authorizeDeposit(ctx, appt)

	writeJSON(w, http.StatusCreated, bookResponse{
		AppointmentID: appt.ID,
		StaffID:       appt.StaffID,
		StartTime:     appt.StartTime.UTC().Format(time.RFC3339),
		EndTime:       appt.EndTime.UTC().Format(time.RFC3339),
		Status:        string(appt.Status),
	})
}

// staffEligible reports whether the named staff member can take the service
// at all; it does not check the calendar, which is the reservation path's job.
func (h *BookingHandler) staffEligible(ctx context.Context, salonID, serviceID string, locationID *string, staffID string) (bool, error) {
	staff, err := h.catalog.EligibleStaff(ctx, salonID, serviceID, locationID)
	if err != nil {
		return false, err
	}
	for _, st := range staff {
		if st.ID == staffID {
			return true, nil
		}
	}
	return false, nil
}

// assignStaff picks the lowest-ID staff member offering the requested start
// time. The result is advisory; the reservation path re-validates under the
// staff lock.
func (h *BookingHandler) assignStaff(ctx context.Context, q availability.SlotQuery, start time.Time) (string, error) {
	slots, err := h.calc.Slots(ctx, q)
	if err != nil {
		return "", err
	}
	for _, s := range slots {
		if s.StartTime.Equal(start) {
			return s.StaffID, nil
		}
	}
	return "", nil
}

func (h *BookingHandler) writeConflict(ctx context.Context, w http.ResponseWriter, q availability.SlotQuery, excludeTime time.Time) {
	alternatives, err := h.finder.Find(ctx, q, excludeTime, availability.DefaultAlternativeLimit)
	if err != nil {
		h.logger.Warn("alternative search failed", "err", err)
		alternatives = nil
	}
	writeJSON(w, http.StatusConflict, conflictResponse{
		Code:         "TIME_CONFLICT",
		Message:      "the requested time is no longer available",
		Alternatives: slotList(alternatives),
	})
}

func (h *BookingHandler) authorizeDeposit(ctx context.Context, appt model.Appointment) {
	if h.payments == nil || !h.payments.Enabled() || h.depositPercent <= 0 {
		return
	}
	cents := payments.DepositCents(appt.Price, h.depositPercent)
	if cents <= 0 {
		return
	}
	intentID, err := h.payments.AuthorizeDeposit(ctx, appt.ID, cents, "usd")
	if err != nil {
		// The booking stands either way; deposits are best-effort here.
		h.logger.Warn("deposit authorization failed", "appointment_id", appt.ID, "err", err)
		return
	}
	h.logger.Info("deposit authorized", "appointment_id", appt.ID, "payment_intent", intentID)
}

// Cancel is the external mutation flow for held appointments; it never flows
// through the reservation manager.
func (h *BookingHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req cancelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.SalonID = strings.TrimSpace(req.SalonID)
	req.AppointmentID = strings.TrimSpace(req.AppointmentID)
	req.Reason = strings.TrimSpace(req.Reason)
	if req.SalonID == "" || req.AppointmentID == "" {
		http.Error(w, "salon_id and appointment_id required", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	tx, err := h.repo.Begin(ctx)
	if err != nil {
		http.Error(w, "db error", http.StatusInternalServerError)
		return
	}
	defer func() { _ = tx.Rollback(ctx) }()

	appt, err := h.repo.GetForUpdate(ctx, tx, req.SalonID, req.AppointmentID)
	if err != nil {
		if storage.IsNotFound(err) {
			http.Error(w, "appointment not found", http.StatusNotFound)
			return
		}
		http.Error(w, "failed to load appointment", http.StatusInternalServerError)
		return
	}

	if appt.Status == model.StatusCancelled && appt.CancelledAt != nil {
		writeJSON(w, http.StatusOK, cancelResponse{
			AppointmentID: appt.ID,
			Status:        string(model.StatusCancelled),
			CancelledAt:   appt.CancelledAt.UTC().Format(time.RFC3339),
		})
		return
	}
	if !appt.Status.Blocks() {
		http.Error(w, "appointment cannot be cancelled", http.StatusConflict)
		return
	}

	cancelledAt, err := h.repo.Cancel(ctx, tx, req.SalonID, appt.ID, req.Reason)
	if err != nil {
		http.Error(w, "failed to cancel appointment", http.StatusInternalServerError)
		return
	}

	payload, err := json.Marshal(map[string]any{
		"appointment_id": appt.ID,
		"salon_id":       appt.SalonID,
		"staff_id":       appt.StaffID,
		"service_id":     appt.ServiceID,
		"start_time":     appt.StartTime.UTC().Format(time.RFC3339),
		"end_time":       appt.EndTime.UTC().Format(time.RFC3339),
		"cancelled_at":   cancelledAt.UTC().Format(time.RFC3339),
		"reason":         req.Reason,
	})
	if err != nil {
		http.Error(w, "failed to build cancellation event", http.StatusInternalServerError)
		return
	}
	if err := h.outboxRepo.Insert(ctx, tx, outbox.Event{
		AggregateType: "appointment",
		AggregateID:   appt.ID,
		EventType:     outbox.EventAppointmentCancelled,
		Payload:       payload,
	}); err != nil {
		http.Error(w, "failed to write outbox event", http.StatusInternalServerError)
		return
	}

	if err := tx.Commit(ctx); err != nil {
		http.Error(w, "failed to commit", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, cancelResponse{
		AppointmentID: appt.ID,
		Status:        string(model.StatusCancelled),
		CancelledAt:   cancelledAt.UTC().Format(time.RFC3339),
	})
}

type completeRequest struct {
	SalonID       string `json:"salon_id"`
	AppointmentID string `json:"appointment_id"`
	NoShow        bool   `json:"no_show"`
}

// Complete marks a confirmed appointment as completed, or as a no-show when
// the client never arrived. Only confirmed appointments are eligible.
func (h *BookingHandler) Complete(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req completeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.SalonID = strings.TrimSpace(req.SalonID)
	req.AppointmentID = strings.TrimSpace(req.AppointmentID)
	if req.SalonID == "" || req.AppointmentID == "" {
		http.Error(w, "salon_id and appointment_id required", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	tx, err := h.repo.Begin(ctx)
	if err != nil {
		http.Error(w, "db error", http.StatusInternalServerError)
		return
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := h.repo.Complete(ctx, tx, req.SalonID, req.AppointmentID, req.NoShow); err != nil {
		if storage.IsNotFound(err) {
			http.Error(w, "no confirmed appointment to complete", http.StatusConflict)
			return
		}
		http.Error(w, "failed to complete appointment", http.StatusInternalServerError)
		return
	}
	if err := tx.Commit(ctx); err != nil {
		http.Error(w, "failed to commit", http.StatusInternalServerError)
		return
	}

	status := model.StatusCompleted
	if req.NoShow {
		status = model.StatusNoShow
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"appointment_id": req.AppointmentID,
		"status":         string(status),
	})
}

type appointmentItem struct {
	AppointmentID string `json:"appointment_id"`
	StaffID       string `json:"staff_id"`
	ServiceID     string `json:"service_id"`
	ClientName    string `json:"client_name"`
	StartTime     string `json:"start_time"`
	EndTime       string `json:"end_time"`
	Status        string `json:"status"`
	CancelledAt   string `json:"cancelled_at,omitempty"`
	CreatedAt     string `json:"created_at"`
}

func (h *BookingHandler) List(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	salonID := strings.TrimSpace(r.URL.Query().Get("salon_id"))
	if salonID == "" {
		http.Error(w, "salon_id required", http.StatusBadRequest)
		return
	}
	limit := 50
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 200 {
			limit = n
		}
	}

	appts, err := h.repo.ListBySalon(r.Context(), salonID, limit)
	if err != nil {
		http.Error(w, "failed to list appointments", http.StatusInternalServerError)
		return
	}

	items := make([]appointmentItem, 0, len(appts))
	for _, appt := range appts {
		item := appointmentItem{
			AppointmentID: appt.ID,
			StaffID:       appt.StaffID,
			ServiceID:     appt.ServiceID,
			ClientName:    appt.ClientName,
			StartTime:     appt.StartTime.UTC().Format(time.RFC3339),
			EndTime:       appt.EndTime.UTC().Format(time.RFC3339),
			Status:        string(appt.Status),
			CreatedAt:     appt.CreatedAt.UTC().Format(time.RFC3339),
		}
		if appt.CancelledAt != nil {
			item.CancelledAt = appt.CancelledAt.UTC().Format(time.RFC3339)
		}
		items = append(items, item)
	}
	writeJSON(w, http.StatusOK, items)
}

func slotList(slots []availability.Slot) []availability.Slot {
	if slots == nil {
		return []availability.Slot{}
	}
	return slots
}

func optional(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		http.Error(w, "failed to build response", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}
