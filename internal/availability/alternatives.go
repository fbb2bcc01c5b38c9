package availability

import (
	"context"
	"time"
)

// DefaultAlternativeLimit is how many substitute slots a conflicting booking
// request gets back.
const DefaultAlternativeLimit = 3

// maxForwardDays bounds the day-by-day search after the requested date.
const maxForwardDays = 7

// Finder produces ranked alternatives when a requested slot is taken.
type Finder struct {
	calc *Calculator
}

func NewFinder(calc *Calculator) *Finder {
	return &Finder{calc: calc}
}

// Find collects up to limit slots: first the requested day with excludeTime
// removed, then each following day (up to 7) in full, stopping as soon as the
// limit is reached. An empty result after the search window is exhausted is
// not an error.
func (f *Finder) Find(ctx context.Context, q SlotQuery, excludeTime time.Time, limit int) ([]Slot, error) {
	if limit <= 0 {
		limit = DefaultAlternativeLimit
	}

	sameDay, err := f.calc.Slots(ctx, q)
	if err != nil {
		return nil, err
	}
	var out []Slot
	for _, s := range sameDay {
		if s.StartTime.Equal(excludeTime) {
			continue
		}
		out = append(out, s)
		if len(out) >= limit {
			return out, nil
		}
	}

	for d := 1; d <= maxForwardDays; d++ {
		dayQuery := q
		dayQuery.Date = q.Date.AddDate(0, 0, d)
		slots, err := f.calc.Slots(ctx, dayQuery)
		if err != nil {
			return nil, err
		}
		for _, s := range slots {
			out = append(out, s)
			if len(out) >= limit {
				return out, nil
			}
		}
	}
	return out, nil
}
