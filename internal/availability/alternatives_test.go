package availability

import (
	"context"
	"testing"
	"time"

	"github.com/aaron44445/salonbook/internal/model"
)

func TestFind_ExcludesRequestedTimeAndHonorsLimit(t *testing.T) {
	cat := baseCatalog()
	finder := NewFinder(calcAt(cat, farBefore))

	exclude := testDay.Add(9 * time.Hour)
	alts, err := finder.Find(context.Background(), query(), exclude, 3)
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if len(alts) != 3 {
		t.Fatalf("expected 3 alternatives, got %d", len(alts))
	}
	for _, a := range alts {
		if a.StartTime.Equal(exclude) {
			t.Fatalf("excluded time %s returned as alternative", a.Time)
		}
	}
	if alts[0].Time != "09:30" {
		t.Fatalf("first alternative = %s, want 09:30", alts[0].Time)
	}
}

func TestFind_WalksForwardDays(t *testing.T) {
	cat := baseCatalog()
	// Monday through Thursday closed; the first bookable day is Friday.
	for _, wd := range []time.Weekday{time.Monday, time.Tuesday, time.Wednesday, time.Thursday} {
		cat.overrides[wd] = model.BusinessHours{Weekday: wd, Closed: true}
	}
	finder := NewFinder(calcAt(cat, farBefore))

	alts, err := finder.Find(context.Background(), query(), testDay.Add(9*time.Hour), 2)
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if len(alts) != 2 {
		t.Fatalf("expected 2 alternatives, got %d", len(alts))
	}
	friday := testDay.AddDate(0, 0, 4)
	for _, a := range alts {
		if !a.StartTime.Truncate(24 * time.Hour).Equal(friday) {
			t.Fatalf("alternative %s not on the first open day", a.StartTime)
		}
	}
}

func TestFind_StopsAfterSevenDays(t *testing.T) {
	cat := baseCatalog()
	for wd := time.Sunday; wd <= time.Saturday; wd++ {
		cat.overrides[wd] = model.BusinessHours{Weekday: wd, Closed: true}
	}
	finder := NewFinder(calcAt(cat, farBefore))

	alts, err := finder.Find(context.Background(), query(), testDay.Add(9*time.Hour), 3)
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if len(alts) != 0 {
		t.Fatalf("expected no alternatives, got %d", len(alts))
	}
}

func TestFind_DefaultLimit(t *testing.T) {
	cat := baseCatalog()
	finder := NewFinder(calcAt(cat, farBefore))

	alts, err := finder.Find(context.Background(), query(), time.Time{}, 0)
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if len(alts) != DefaultAlternativeLimit {
		t.Fatalf("expected default limit %d, got %d", DefaultAlternativeLimit, len(alts))
	}
}
