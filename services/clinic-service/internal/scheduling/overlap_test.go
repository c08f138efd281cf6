package scheduling

import (
	"testing"
	"time"
)

func at(h, m int) time.Time {
	return time.Date(2026, 3, 9, h, m, 0, 0, time.UTC)
}

func TestOverlaps(t *testing.T) {
	tests := []struct {
		name string
		a, b Interval
		want bool
	}{
		{"identical", Interval{at(10, 0), at(10, 30)}, Interval{at(10, 0), at(10, 30)}, true},
		{"partial", Interval{at(10, 0), at(10, 30)}, Interval{at(10, 15), at(10, 45)}, true},
		{"contained", Interval{at(10, 0), at(11, 0)}, Interval{at(10, 15), at(10, 30)}, true},
		{"back-to-back", Interval{at(10, 0), at(10, 30)}, Interval{at(10, 30), at(11, 0)}, false},
		{"disjoint", Interval{at(9, 0), at(9, 30)}, Interval{at(10, 0), at(10, 30)}, false},
		{"touching-before", Interval{at(10, 30), at(11, 0)}, Interval{at(10, 0), at(10, 30)}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Overlaps(tt.a, tt.b); got != tt.want {
				t.Errorf("Overlaps(%v, %v) = %v, want %v", tt.a, tt.b, got, tt.want)
			}
			// The predicate is symmetric.
			if got := Overlaps(tt.b, tt.a); got != tt.want {
				t.Errorf("Overlaps(%v, %v) = %v, want %v", tt.b, tt.a, got, tt.want)
			}
		})
	}
}

func TestAvailableSlots_Basic(t *testing.T) {
	day := time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC)
	windowStart := at(9, 0)
	windowEnd := at(10, 0)

	busy := []Interval{
		{Start: at(9, 15), End: at(9, 45)},
	}

	slots := AvailableSlots(windowStart, windowEnd, 15*time.Minute, 15*time.Minute, busy, day)
	if len(slots) != 2 {
		t.Fatalf("expected 2 slots, got %d", len(slots))
	}
	if !slots[0].Equal(at(9, 0)) {
		t.Fatalf("expected first slot 09:00, got %s", slots[0].Format(time.RFC3339))
	}
	if !slots[1].Equal(at(9, 45)) {
		t.Fatalf("expected second slot 09:45, got %s", slots[1].Format(time.RFC3339))
	}
}

func TestAvailableSlots_SkipsPast(t *testing.T) {
	windowStart := at(9, 0)
	windowEnd := at(10, 0)

	now := at(9, 31)
	slots := AvailableSlots(windowStart, windowEnd, 15*time.Minute, 15*time.Minute, nil, now)
	// 09:00, 09:15, 09:30 are in the past (start < now). 09:45 is future.
	if len(slots) != 1 {
		t.Fatalf("expected 1 slot, got %d", len(slots))
	}
	if !slots[0].Equal(at(9, 45)) {
		t.Fatalf("expected slot 09:45, got %s", slots[0].Format(time.RFC3339))
	}
}

func TestAvailableSlots_DurationLongerThanWindow(t *testing.T) {
	if got := AvailableSlots(at(9, 0), at(9, 30), time.Hour, 15*time.Minute, nil, at(0, 0)); got != nil {
		t.Fatalf("expected no slots, got %v", got)
	}
}
