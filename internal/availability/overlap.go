package availability

import "time"

// Interval is a half-open time range [Start, End).
type Interval struct {
	Start time.Time
	End   time.Time
}

// Overlaps reports whether two half-open intervals intersect. Touching
// intervals (one ends exactly where the other starts) do not overlap, so
// back-to-back appointments never conflict.
func (iv Interval) Overlaps(other Interval) bool {
	return iv.Start.Before(other.End) && other.Start.Before(iv.End)
}

// Conflicts reports whether a booking over [start, end) would collide with
// any of the busy intervals.
func Conflicts(start, end time.Time, busy []Interval) bool {
	candidate := Interval{Start: start, End: end}
	for _, b := range busy {
		if candidate.Overlaps(b) {
			return true
		}
	}
	return false
}
