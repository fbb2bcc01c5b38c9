package availability

import (
	"context"
	"time"

	"github.com/aaron44445/salonbook/internal/model"
)

// Catalog is the read side of the persistence boundary: everything the slot
// calculator needs to know about a salon for one day. Implementations read
// committed state only; results are advisory and re-validated at reservation
// time.
type Catalog interface {
	BookingSettings(ctx context.Context, salonID string) (model.BookingSettings, error)

	// ServiceByID returns ok=false when the service does not exist.
	ServiceByID(ctx context.Context, salonID, serviceID string) (model.Service, bool, error)

	// EligibleStaff returns active, online-bookable staff assigned to the
	// service. When locationID is non-nil the result is limited to staff
	// assigned to that location or to no location at all.
	EligibleStaff(ctx context.Context, salonID, serviceID string, locationID *string) ([]model.Staff, error)

	// HoursOverride returns ok=false when the location has no explicit hours
	// row for the weekday and the default table applies.
	HoursOverride(ctx context.Context, salonID string, locationID *string, weekday time.Weekday) (model.BusinessHours, bool, error)

	// StaffHours returns the explicit weekly schedule rows for the given
	// weekday, keyed by staff ID. Staff without a row fall back to business
	// hours.
	StaffHours(ctx context.Context, staffIDs []string, weekday time.Weekday) (map[string]model.StaffAvailability, error)

	// StaffOnTimeOff returns the set of staff with any time-off entry
	// touching the given date.
	StaffOnTimeOff(ctx context.Context, staffIDs []string, date time.Time) (map[string]bool, error)

	// BookedIntervals returns, per staff, the intervals held by non-cancelled
	// appointments intersecting [dayStart, dayEnd).
	BookedIntervals(ctx context.Context, staffIDs []string, dayStart, dayEnd time.Time) (map[string][]Interval, error)
}
