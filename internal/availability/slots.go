package availability

import (
	"context"
	"sort"
	"time"

	"github.com/aaron44445/salonbook/internal/model"
)

// SlotQuery identifies one salon day to compute bookable slots for. StaffID
// is optional; when set, only that staff member's slots are returned. Date is
// midnight of the requested day.
type SlotQuery struct {
	SalonID    string
	LocationID *string
	ServiceID  string
	StaffID    string
	Date       time.Time
}

// Slot is one bookable (time, staff) pair.
type Slot struct {
	Time      string    `json:"time"`
	StaffID   string    `json:"staff_id"`
	StaffName string    `json:"staff_name"`
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
}

// Calculator derives bookable slots for one day from business rules and
// existing appointments. It holds no state across calls.
type Calculator struct {
	catalog Catalog
	now     func() time.Time
}

func NewCalculator(catalog Catalog) *Calculator {
	return &Calculator{catalog: catalog, now: func() time.Time { return time.Now().UTC() }}
}

// NewCalculatorAt pins the clock, for tests and replays.
func NewCalculatorAt(catalog Catalog, now func() time.Time) *Calculator {
	return &Calculator{catalog: catalog, now: now}
}

// Slots returns the ordered bookable slots for the query day. Disqualifying
// conditions (booking disabled, date out of range, missing or inactive
// service, closed weekday) yield an empty result, not an error. Ordering is
// time-major, then staff ID ascending.
func (c *Calculator) Slots(ctx context.Context, q SlotQuery) ([]Slot, error) {
	now := c.now()

	settings, err := c.catalog.BookingSettings(ctx, q.SalonID)
	if err != nil {
		return nil, err
	}
	if !settings.BookingEnabled {
		return nil, nil
	}

	day := truncateToDay(q.Date)
	today := truncateToDay(now)
	if day.Before(today) {
		return nil, nil
	}
	if settings.MaxAdvanceDays > 0 && day.After(today.AddDate(0, 0, settings.MaxAdvanceDays)) {
		return nil, nil
	}

	svc, ok, err := c.catalog.ServiceByID(ctx, q.SalonID, q.ServiceID)
	if err != nil {
		return nil, err
	}
	if !ok || !svc.IsActive {
		return nil, nil
	}

	hours, err := c.resolveBusinessHours(ctx, q, day.Weekday())
	if err != nil {
		return nil, err
	}
	if hours.Closed || hours.CloseMinute <= hours.OpenMinute {
		return nil, nil
	}

	staff, err := c.catalog.EligibleStaff(ctx, q.SalonID, q.ServiceID, q.LocationID)
	if err != nil {
		return nil, err
	}
	if q.StaffID != "" {
		staff = filterStaff(staff, q.StaffID)
	}
	if len(staff) == 0 {
		return nil, nil
	}
	// Deterministic tie-break among staff offering the same time.
	sort.Slice(staff, func(i, j int) bool { return staff[i].ID < staff[j].ID })

	staffIDs := make([]string, 0, len(staff))
	for _, st := range staff {
		staffIDs = append(staffIDs, st.ID)
	}

	onTimeOff, err := c.catalog.StaffOnTimeOff(ctx, staffIDs, day)
	if err != nil {
		return nil, err
	}
	schedules, err := c.catalog.StaffHours(ctx, staffIDs, day.Weekday())
	if err != nil {
		return nil, err
	}
	busy, err := c.catalog.BookedIntervals(ctx, staffIDs, day, day.AddDate(0, 0, 1))
	if err != nil {
		return nil, err
	}

	total := svc.TotalDuration()
	interval := time.Duration(settings.SlotIntervalMinutes) * time.Minute
	if interval <= 0 {
		interval = 30 * time.Minute
	}
	earliest := now.Add(time.Duration(settings.MinNoticeHours) * time.Hour)

	open := day.Add(time.Duration(hours.OpenMinute) * time.Minute)
	close := day.Add(time.Duration(hours.CloseMinute) * time.Minute)

	var slots []Slot
	for t := open; !t.Add(total).After(close); t = t.Add(interval) {
		if t.Before(earliest) {
			continue
		}
		end := t.Add(total)
		for _, st := range staff {
			if onTimeOff[st.ID] {
				continue
			}
			winStart, winEnd, working := staffWindow(schedules, st.ID, day, hours)
			if !working {
				continue
			}
			if t.Before(winStart) || end.After(winEnd) {
				continue
			}
			if Conflicts(t, end, busy[st.ID]) {
				continue
			}
			slots = append(slots, Slot{
				Time:      t.Format("15:04"),
				StaffID:   st.ID,
				StaffName: st.Name,
				StartTime: t,
				EndTime:   end,
			})
		}
	}
	return slots, nil
}

func (c *Calculator) resolveBusinessHours(ctx context.Context, q SlotQuery, wd time.Weekday) (model.BusinessHours, error) {
	hours, ok, err := c.catalog.HoursOverride(ctx, q.SalonID, q.LocationID, wd)
	if err != nil {
		return model.BusinessHours{}, err
	}
	if ok {
		return hours, nil
	}
	return model.DefaultBusinessHours(wd), nil
}

// staffWindow resolves the working window for one staff member on the query
// day: the explicit schedule row when present (a row marked unavailable means
// the whole day is off), otherwise the location's business hours.
func staffWindow(schedules map[string]model.StaffAvailability, staffID string, day time.Time, hours model.BusinessHours) (time.Time, time.Time, bool) {
	row, ok := schedules[staffID]
	if !ok {
		return day.Add(time.Duration(hours.OpenMinute) * time.Minute),
			day.Add(time.Duration(hours.CloseMinute) * time.Minute),
			true
	}
	if !row.IsAvailable || row.EndMinute <= row.StartMinute {
		return time.Time{}, time.Time{}, false
	}
	return day.Add(time.Duration(row.StartMinute) * time.Minute),
		day.Add(time.Duration(row.EndMinute) * time.Minute),
		true
}

func filterStaff(staff []model.Staff, staffID string) []model.Staff {
	for _, st := range staff {
		if st.ID == staffID {
			return []model.Staff{st}
		}
	}
	return nil
}

func truncateToDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
