package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aaron44445/salonbook/internal/availability"
	"github.com/aaron44445/salonbook/internal/booking"
	"github.com/aaron44445/salonbook/internal/model"
	"github.com/aaron44445/salonbook/internal/storage"
)

// Monday.
var testDay = time.Date(2026, 9, 14, 0, 0, 0, 0, time.UTC)

var testLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

type fakeCatalog struct {
	settings model.BookingSettings
	services map[string]model.Service
	staff    []model.Staff
	booked   map[string][]availability.Interval
}

func (f *fakeCatalog) BookingSettings(context.Context, string) (model.BookingSettings, error) {
	return f.settings, nil
}

func (f *fakeCatalog) ServiceByID(_ context.Context, _, serviceID string) (model.Service, bool, error) {
	svc, ok := f.services[serviceID]
	return svc, ok, nil
}

func (f *fakeCatalog) EligibleStaff(context.Context, string, string, *string) ([]model.Staff, error) {
	return f.staff, nil
}

func (f *fakeCatalog) HoursOverride(context.Context, string, *string, time.Weekday) (model.BusinessHours, bool, error) {
	return model.BusinessHours{}, false, nil
}

func (f *fakeCatalog) StaffHours(context.Context, []string, time.Weekday) (map[string]model.StaffAvailability, error) {
	return map[string]model.StaffAvailability{}, nil
}

func (f *fakeCatalog) StaffOnTimeOff(context.Context, []string, time.Time) (map[string]bool, error) {
	return map[string]bool{}, nil
}

func (f *fakeCatalog) BookedIntervals(context.Context, []string, time.Time, time.Time) (map[string][]availability.Interval, error) {
	return f.booked, nil
}

func baseCatalog() *fakeCatalog {
	return &fakeCatalog{
		settings: model.BookingSettings{
			SalonID:             "salon-1",
			BookingEnabled:      true,
			MinNoticeHours:      2,
			MaxAdvanceDays:      30,
			SlotIntervalMinutes: 30,
		},
		services: map[string]model.Service{
			"svc-cut": {ID: "svc-cut", SalonID: "salon-1", Name: "Cut", DurationMinutes: 60, BufferMinutes: 15, Price: "45.00", IsActive: true},
		},
		staff: []model.Staff{
			{ID: "staff-a", SalonID: "salon-1", Name: "Ana", IsActive: true, OnlineBooking: true},
			{ID: "staff-b", SalonID: "salon-1", Name: "Ben", IsActive: true, OnlineBooking: true},
		},
		booked: map[string][]availability.Interval{},
	}
}

// stubStore implements the reservation contract against the same committed
// intervals the catalog reports, so slot reads and reservation writes agree.
type stubStore struct {
	mu    sync.Mutex
	cat   *fakeCatalog
	seq   atomic.Int64
	inErr error
}

func (s *stubStore) InTx(ctx context.Context, fn func(context.Context, booking.Tx) error) error {
	if s.inErr != nil {
		return s.inErr
	}
	tx := &stubTx{store: s}
	err := fn(ctx, tx)
	if err == nil {
		s.mu.Lock()
		for staffID, iv := range tx.staged {
			s.cat.booked[staffID] = append(s.cat.booked[staffID], iv)
		}
		s.mu.Unlock()
	}
	return err
}

type stubTx struct {
	store  *stubStore
	staged map[string]availability.Interval
}

func (t *stubTx) AcquireStaffLock(context.Context, string) error { return nil }

func (t *stubTx) OverlappingAppointments(_ context.Context, staffID string, start, end time.Time) ([]model.Appointment, error) {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	var out []model.Appointment
	for _, iv := range t.store.cat.booked[staffID] {
		if iv.Start.Before(end) && start.Before(iv.End) {
			out = append(out, model.Appointment{
				StaffID:   staffID,
				StartTime: iv.Start,
				EndTime:   iv.End,
				Status:    model.StatusConfirmed,
			})
		}
	}
	return out, nil
}

func (t *stubTx) InsertAppointment(_ context.Context, appt *model.Appointment) (string, error) {
	if t.staged == nil {
		t.staged = map[string]availability.Interval{}
	}
	t.staged[appt.StaffID] = availability.Interval{Start: appt.StartTime, End: appt.EndTime}
	return fmt.Sprintf("appt-%d", t.store.seq.Add(1)), nil
}

func (t *stubTx) AppendOutboxEvent(context.Context, string, string, []byte) error { return nil }

func newTestHandler(cat *fakeCatalog, store booking.Store) *BookingHandler {
	// The clock sits days before testDay so minimum notice never interferes.
	calc := availability.NewCalculatorAt(cat, func() time.Time { return testDay.AddDate(0, 0, -3) })
	finder := availability.NewFinder(calc)
	mgr := booking.NewManager(store, storage.Classify, testLogger)
	return NewBookingHandler(calc, finder, mgr, cat, nil, nil, nil, testLogger, Config{})
}

func doBook(t *testing.T, h *BookingHandler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/public/book", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.Book(rec, req)
	return rec
}

func TestSlots_MissingParams(t *testing.T) {
	h := newTestHandler(baseCatalog(), &stubStore{cat: baseCatalog()})
	req := httptest.NewRequest(http.MethodGet, "/api/v1/public/slots?salon_id=salon-1", nil)
	rec := httptest.NewRecorder()
	h.Slots(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestSlots_InvalidDate(t *testing.T) {
	h := newTestHandler(baseCatalog(), &stubStore{cat: baseCatalog()})
	req := httptest.NewRequest(http.MethodGet, "/api/v1/public/slots?salon_id=salon-1&service_id=svc-cut&date=14-09-2026", nil)
	rec := httptest.NewRecorder()
	h.Slots(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestSlots_OK(t *testing.T) {
	cat := baseCatalog()
	h := newTestHandler(cat, &stubStore{cat: cat})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/public/slots?salon_id=salon-1&service_id=svc-cut&date=2026-09-14", nil)
	rec := httptest.NewRecorder()
	h.Slots(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	var slots []availability.Slot
	if err := json.Unmarshal(rec.Body.Bytes(), &slots); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(slots) == 0 {
		t.Fatal("expected slots")
	}
	if slots[0].Time != "09:00" || slots[0].StaffID != "staff-a" {
		t.Fatalf("first slot = %s/%s, want 09:00/staff-a", slots[0].Time, slots[0].StaffID)
	}
}

func TestSlots_DisabledBookingReturnsEmptyList(t *testing.T) {
	cat := baseCatalog()
	cat.settings.BookingEnabled = false
	h := newTestHandler(cat, &stubStore{cat: cat})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/public/slots?salon_id=salon-1&service_id=svc-cut&date=2026-09-14", nil)
	rec := httptest.NewRecorder()
	h.Slots(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if got := strings.TrimSpace(rec.Body.String()); got != "[]" {
		t.Fatalf("body = %q, want []", got)
	}
}

func TestBook_Created(t *testing.T) {
	cat := baseCatalog()
	h := newTestHandler(cat, &stubStore{cat: cat})

	rec := doBook(t, h, `{
		"salon_id": "salon-1",
		"service_id": "svc-cut",
		"staff_id": "staff-b",
		"client_name": "Dana",
		"start_time": "2026-09-14T10:00:00Z"
	}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	var resp bookResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.AppointmentID == "" {
		t.Fatal("expected an appointment id")
	}
	if resp.StaffID != "staff-b" {
		t.Fatalf("staff = %s, want staff-b", resp.StaffID)
	}
	// 60 min service + 15 min buffer.
	if resp.EndTime != "2026-09-14T11:15:00Z" {
		t.Fatalf("end_time = %s", resp.EndTime)
	}
	if resp.Status != "confirmed" {
		t.Fatalf("status = %s, want confirmed", resp.Status)
	}
}

func TestBook_AutoAssignsLowestStaffID(t *testing.T) {
	cat := baseCatalog()
	// staff-a is busy at 10:00; auto-assignment should fall through to staff-b.
	cat.booked["staff-a"] = []availability.Interval{{
		Start: testDay.Add(10 * time.Hour),
		End:   testDay.Add(11*time.Hour + 15*time.Minute),
	}}
	h := newTestHandler(cat, &stubStore{cat: cat})

	rec := doBook(t, h, `{
		"salon_id": "salon-1",
		"service_id": "svc-cut",
		"client_name": "Dana",
		"start_time": "2026-09-14T10:00:00Z"
	}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var resp bookResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.StaffID != "staff-b" {
		t.Fatalf("staff = %s, want staff-b", resp.StaffID)
	}
}

func TestBook_ConflictWithAlternatives(t *testing.T) {
	cat := baseCatalog()
	cat.staff = cat.staff[:1]
	cat.booked["staff-a"] = []availability.Interval{{
		Start: testDay.Add(10 * time.Hour),
		End:   testDay.Add(11*time.Hour + 15*time.Minute),
	}}
	h := newTestHandler(cat, &stubStore{cat: cat})

	rec := doBook(t, h, `{
		"salon_id": "salon-1",
		"service_id": "svc-cut",
		"staff_id": "staff-a",
		"client_name": "Dana",
		"start_time": "2026-09-14T10:00:00Z"
	}`)
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	var resp conflictResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Code != "TIME_CONFLICT" {
		t.Fatalf("code = %s, want TIME_CONFLICT", resp.Code)
	}
	if len(resp.Alternatives) == 0 || len(resp.Alternatives) > availability.DefaultAlternativeLimit {
		t.Fatalf("got %d alternatives", len(resp.Alternatives))
	}
	for _, alt := range resp.Alternatives {
		if alt.StartTime.Equal(testDay.Add(10 * time.Hour)) {
			t.Fatalf("alternatives include the requested time: %s", alt.Time)
		}
	}
}

func TestBook_DoubleBookSameSlotConflicts(t *testing.T) {
	cat := baseCatalog()
	cat.staff = cat.staff[:1]
	h := newTestHandler(cat, &stubStore{cat: cat})

	body := `{
		"salon_id": "salon-1",
		"service_id": "svc-cut",
		"staff_id": "staff-a",
		"client_name": "Dana",
		"start_time": "2026-09-14T10:00:00Z"
	}`
	if rec := doBook(t, h, body); rec.Code != http.StatusCreated {
		t.Fatalf("first booking: status = %d, body %s", rec.Code, rec.Body.String())
	}
	if rec := doBook(t, h, body); rec.Code != http.StatusConflict {
		t.Fatalf("second booking: status = %d, want 409", rec.Code)
	}
}

func TestBook_ServiceNotFound(t *testing.T) {
	cat := baseCatalog()
	h := newTestHandler(cat, &stubStore{cat: cat})

	rec := doBook(t, h, `{
		"salon_id": "salon-1",
		"service_id": "svc-nope",
		"client_name": "Dana",
		"start_time": "2026-09-14T10:00:00Z"
	}`)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestBook_UnknownStaffNotFound(t *testing.T) {
	cat := baseCatalog()
	h := newTestHandler(cat, &stubStore{cat: cat})

	rec := doBook(t, h, `{
		"salon_id": "salon-1",
		"service_id": "svc-cut",
		"staff_id": "staff-z",
		"client_name": "Dana",
		"start_time": "2026-09-14T10:00:00Z"
	}`)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestBook_InactiveServiceNotFound(t *testing.T) {
	cat := baseCatalog()
	svc := cat.services["svc-cut"]
	svc.IsActive = false
	cat.services["svc-cut"] = svc
	h := newTestHandler(cat, &stubStore{cat: cat})

	rec := doBook(t, h, `{
		"salon_id": "salon-1",
		"service_id": "svc-cut",
		"client_name": "Dana",
		"start_time": "2026-09-14T10:00:00Z"
	}`)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestBook_ValidationFailures(t *testing.T) {
	cat := baseCatalog()
	h := newTestHandler(cat, &stubStore{cat: cat})

	tests := []struct {
		name string
		body string
	}{
		{"invalid json", `{`},
		{"missing salon", `{"service_id":"svc-cut","client_name":"Dana","start_time":"2026-09-14T10:00:00Z"}`},
		{"missing client name", `{"salon_id":"salon-1","service_id":"svc-cut","start_time":"2026-09-14T10:00:00Z"}`},
		{"bad start time", `{"salon_id":"salon-1","service_id":"svc-cut","client_name":"Dana","start_time":"next tuesday"}`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if rec := doBook(t, h, tc.body); rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", rec.Code)
			}
		})
	}
}

func TestBook_BusyStoreAnswers503(t *testing.T) {
	cat := baseCatalog()
	h := newTestHandler(cat, &stubStore{cat: cat, inErr: context.DeadlineExceeded})

	rec := doBook(t, h, `{
		"salon_id": "salon-1",
		"service_id": "svc-cut",
		"staff_id": "staff-a",
		"client_name": "Dana",
		"start_time": "2026-09-14T10:00:00Z"
	}`)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
}

func TestBook_MethodNotAllowed(t *testing.T) {
	cat := baseCatalog()
	h := newTestHandler(cat, &stubStore{cat: cat})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/public/book", nil)
	rec := httptest.NewRecorder()
	h.Book(rec, req)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want 405", rec.Code)
	}
}
