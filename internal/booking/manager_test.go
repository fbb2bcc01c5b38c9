package booking

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aaron44445/salonbook/internal/model"
)

var testLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

var (
	errTransient = errors.New("simulated serialization failure")
	errTimeout   = errors.New("simulated lock wait timeout")
)

func testClassify(err error) ErrorClass {
	switch {
	case errors.Is(err, errTransient):
		return ClassRetryable
	case errors.Is(err, errTimeout):
		return ClassBusy
	default:
		return ClassPersistence
	}
}

// memStore mirrors the production store's contract: a per-staff exclusive
// lock held until transaction end, reads of committed state only, and staged
// writes applied atomically on commit.
type memStore struct {
	mu     sync.Mutex
	locks  sync.Map
	appts  []model.Appointment
	events int
	seq    atomic.Int64
}

func (s *memStore) InTx(ctx context.Context, fn func(context.Context, Tx) error) error {
	tx := &memTx{store: s}
	err := fn(ctx, tx)
	if err == nil {
		s.mu.Lock()
		s.appts = append(s.appts, tx.staged...)
		s.events += tx.events
		s.mu.Unlock()
	}
	// The lock outlives the commit, exactly like an advisory xact lock.
	for _, unlock := range tx.unlock {
		unlock()
	}
	return err
}

func (s *memStore) committed() []model.Appointment {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.Appointment(nil), s.appts...)
}

type memTx struct {
	store  *memStore
	staged []model.Appointment
	events int
	unlock []func()
}

func (t *memTx) AcquireStaffLock(_ context.Context, staffID string) error {
	v, _ := t.store.locks.LoadOrStore(staffID, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	t.unlock = append(t.unlock, mu.Unlock)
	return nil
}

func (t *memTx) OverlappingAppointments(_ context.Context, staffID string, start, end time.Time) ([]model.Appointment, error) {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	var out []model.Appointment
	for _, a := range t.store.appts {
		if a.StaffID != staffID || !a.Status.Blocks() {
			continue
		}
		if a.StartTime.Before(end) && start.Before(a.EndTime) {
			out = append(out, a)
		}
	}
	return out, nil
}

func (t *memTx) InsertAppointment(_ context.Context, appt *model.Appointment) (string, error) {
	a := *appt
	a.ID = fmt.Sprintf("appt-%d", t.store.seq.Add(1))
	a.CreatedAt = time.Now().UTC()
	t.staged = append(t.staged, a)
	return a.ID, nil
}

func (t *memTx) AppendOutboxEvent(context.Context, string, string, []byte) error {
	t.events++
	return nil
}

// flakyStore fails the first n InTx calls with err, then delegates.
type flakyStore struct {
	inner     Store
	remaining int32
	calls     atomic.Int32
	err       error
}

func (s *flakyStore) InTx(ctx context.Context, fn func(context.Context, Tx) error) error {
	s.calls.Add(1)
	if atomic.AddInt32(&s.remaining, -1) >= 0 {
		return s.err
	}
	return s.inner.InTx(ctx, fn)
}

func request(staffID string, start time.Time) Request {
	return Request{
		SalonID:         "salon-1",
		ClientName:      "Dana",
		ClientEmail:     "dana@example.com",
		StaffID:         staffID,
		ServiceID:       "svc-cut",
		StartTime:       start,
		EndTime:         start.Add(75 * time.Minute),
		DurationMinutes: 60,
		Price:           "45.00",
		Source:          "online",
	}
}

func TestReserve_Success(t *testing.T) {
	store := &memStore{}
	mgr := NewManager(store, testClassify, testLogger)

	start := time.Date(2026, 9, 14, 10, 0, 0, 0, time.UTC)
	appt, err := mgr.Reserve(context.Background(), request("staff-a", start))
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	if appt.ID == "" {
		t.Fatal("expected an appointment ID")
	}
	if appt.Status != model.StatusConfirmed {
		t.Fatalf("status = %s, want confirmed", appt.Status)
	}
	if !appt.EndTime.Equal(start.Add(75 * time.Minute)) {
		t.Fatalf("end time = %s", appt.EndTime)
	}
	if got := store.committed(); len(got) != 1 {
		t.Fatalf("committed %d appointments, want 1", len(got))
	}
	if store.events != 1 {
		t.Fatalf("committed %d outbox events, want 1", store.events)
	}
}

func TestReserve_ConcurrentAttemptsOneWinner(t *testing.T) {
	const attempts = 100

	store := &memStore{}
	mgr := NewManager(store, testClassify, testLogger)
	start := time.Date(2026, 9, 14, 10, 0, 0, 0, time.UTC)

	var wg sync.WaitGroup
	results := make(chan error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := mgr.Reserve(context.Background(), request("staff-a", start))
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	var succeeded, conflicts, unexpected int
	for err := range results {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, ErrSlotTaken):
			conflicts++
		default:
			unexpected++
			t.Logf("unexpected error: %v", err)
		}
	}
	if succeeded != 1 {
		t.Fatalf("%d attempts succeeded, want exactly 1", succeeded)
	}
	if conflicts != attempts-1 {
		t.Fatalf("%d conflicts, want %d", conflicts, attempts-1)
	}
	if unexpected != 0 {
		t.Fatalf("%d unexpected errors, want 0", unexpected)
	}
	if got := store.committed(); len(got) != 1 {
		t.Fatalf("committed %d appointments, want 1", len(got))
	}
}

func TestReserve_DifferentStaffProceedInParallel(t *testing.T) {
	store := &memStore{}
	mgr := NewManager(store, testClassify, testLogger)
	start := time.Date(2026, 9, 14, 10, 0, 0, 0, time.UTC)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, staffID := range []string{"staff-a", "staff-b"} {
		wg.Add(1)
		go func(i int, staffID string) {
			defer wg.Done()
			_, errs[i] = mgr.Reserve(context.Background(), request(staffID, start))
		}(i, staffID)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("reservation %d failed: %v", i, err)
		}
	}
	if got := store.committed(); len(got) != 2 {
		t.Fatalf("committed %d appointments, want 2", len(got))
	}
}

func TestReserve_BackToBackSlotsDoNotConflict(t *testing.T) {
	store := &memStore{}
	mgr := NewManager(store, testClassify, testLogger)
	first := time.Date(2026, 9, 14, 10, 0, 0, 0, time.UTC)

	if _, err := mgr.Reserve(context.Background(), request("staff-a", first)); err != nil {
		t.Fatalf("first reserve: %v", err)
	}
	// Starts exactly where the first ends.
	if _, err := mgr.Reserve(context.Background(), request("staff-a", first.Add(75*time.Minute))); err != nil {
		t.Fatalf("back-to-back reserve: %v", err)
	}
}

func TestReserve_RetriesTransientFailures(t *testing.T) {
	store := &flakyStore{inner: &memStore{}, remaining: 2, err: errTransient}
	mgr := NewManager(store, testClassify, testLogger)

	_, err := mgr.Reserve(context.Background(), request("staff-a", time.Date(2026, 9, 14, 10, 0, 0, 0, time.UTC)))
	if err != nil {
		t.Fatalf("Reserve should survive transient failures: %v", err)
	}
	if got := store.calls.Load(); got != 3 {
		t.Fatalf("store called %d times, want 3", got)
	}
}

func TestReserve_RetryBudgetExhausted(t *testing.T) {
	store := &flakyStore{inner: &memStore{}, remaining: 100, err: errTransient}
	mgr := NewManager(store, testClassify, testLogger)

	_, err := mgr.Reserve(context.Background(), request("staff-a", time.Date(2026, 9, 14, 10, 0, 0, 0, time.UTC)))
	if err == nil {
		t.Fatal("expected failure after retry budget")
	}
	if !errors.Is(err, errTransient) {
		t.Fatalf("exhausted error should wrap the underlying cause, got %v", err)
	}
	if got := store.calls.Load(); got != defaultMaxAttempts {
		t.Fatalf("store called %d times, want %d", got, defaultMaxAttempts)
	}
}

func TestReserve_LockTimeoutSurfacesBusy(t *testing.T) {
	store := &flakyStore{inner: &memStore{}, remaining: 100, err: errTimeout}
	mgr := NewManager(store, testClassify, testLogger)

	_, err := mgr.Reserve(context.Background(), request("staff-a", time.Date(2026, 9, 14, 10, 0, 0, 0, time.UTC)))
	if !errors.Is(err, ErrServiceBusy) {
		t.Fatalf("err = %v, want ErrServiceBusy", err)
	}
	if got := store.calls.Load(); got != 1 {
		t.Fatalf("busy errors must not be retried, store called %d times", got)
	}
}

func TestReserve_PersistenceErrorsPropagateUntouched(t *testing.T) {
	cause := errors.New("connection reset")
	store := &flakyStore{inner: &memStore{}, remaining: 100, err: cause}
	mgr := NewManager(store, testClassify, testLogger)

	_, err := mgr.Reserve(context.Background(), request("staff-a", time.Date(2026, 9, 14, 10, 0, 0, 0, time.UTC)))
	if !errors.Is(err, cause) {
		t.Fatalf("err = %v, want the raw persistence error", err)
	}
	if got := store.calls.Load(); got != 1 {
		t.Fatalf("persistence errors must not be retried, store called %d times", got)
	}
}
