package model

import "time"

type AppointmentStatus string

const (
	StatusPending   AppointmentStatus = "pending"
	StatusConfirmed AppointmentStatus = "confirmed"
	StatusCompleted AppointmentStatus = "completed"
	StatusCancelled AppointmentStatus = "cancelled"
	StatusNoShow    AppointmentStatus = "no-show"
)

// Blocks reports whether an appointment in this status holds its time slot.
// Only pending and confirmed appointments participate in conflict checks.
func (s AppointmentStatus) Blocks() bool {
	return s == StatusPending || s == StatusConfirmed
}

// Appointment occupies the half-open interval [StartTime, EndTime) on one
// staff member's calendar. Duration and price are denormalized from the
// service at booking time.
type Appointment struct {
	ID              string
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
	Status          AppointmentStatus
	Source          string
	Notes           string
	CancelledAt     *time.Time
	CancelReason    string
	CreatedAt       time.Time
}

type Service struct {
	ID              string
	SalonID         string
	Name            string
	DurationMinutes int
	BufferMinutes   int
	Price           string
	IsActive        bool
}

// TotalDuration is the unit reserved on the calendar: service time plus
// cleanup/buffer time before the next client.
func (s Service) TotalDuration() time.Duration {
	return time.Duration(s.DurationMinutes+s.BufferMinutes) * time.Minute
}

// Staff with a nil LocationID works at any location.
type Staff struct {
	ID            string
	SalonID       string
	Name          string
	IsActive      bool
	OnlineBooking bool
	LocationID    *string
}

// StaffAvailability is one weekly schedule row. A row with IsAvailable=false
// marks the staff member as off that weekday; absence of a row means the
// salon's business hours apply.
type StaffAvailability struct {
	StaffID     string
	Weekday     time.Weekday
	StartMinute int
	EndMinute   int
	IsAvailable bool
	LocationID  *string
}

// TimeOff excludes a staff member from every date it touches, whole days at
// a time.
type TimeOff struct {
	ID        string
	StaffID   string
	StartDate time.Time
	EndDate   time.Time
	Reason    string
}

// BusinessHours for one weekday, minutes from midnight.
type BusinessHours struct {
	Weekday     time.Weekday
	OpenMinute  int
	CloseMinute int
	Closed      bool
}

// DefaultBusinessHours is the fallback schedule when a location has no
// override row: Mon-Fri 09:00-17:00, Sat 10:00-16:00, Sun closed.
func DefaultBusinessHours(wd time.Weekday) BusinessHours {
	switch wd {
	case time.Sunday:
		return BusinessHours{Weekday: wd, Closed: true}
	case time.Saturday:
		return BusinessHours{Weekday: wd, OpenMinute: 600, CloseMinute: 960}
	default:
		return BusinessHours{Weekday: wd, OpenMinute: 540, CloseMinute: 1020}
	}
}

type BookingSettings struct {
	SalonID             string
	BookingEnabled      bool
	MinNoticeHours      int
	MaxAdvanceDays      int
	SlotIntervalMinutes int
}
