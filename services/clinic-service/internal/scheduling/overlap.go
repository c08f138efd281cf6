package scheduling

import "time"

// Interval is a half-open time interval [Start, End).
type Interval struct {
	Start time.Time
	End   time.Time
}

// Overlaps reports whether two half-open intervals intersect. A booking
// that starts exactly when another ends is not an overlap, so back-to-back
// appointments are allowed.
func Overlaps(a, b Interval) bool {
	return a.Start.Before(b.End) && b.Start.Before(a.End)
}

// OverlapsAny reports whether the candidate intersects any busy interval.
func OverlapsAny(candidate Interval, busy []Interval) bool {
	for _, b := range busy {
		if Overlaps(candidate, b) {
			return true
		}
	}
	return false
}

// AvailableSlots returns slot start times within [windowStart, windowEnd)
// where a booking of the given duration would not overlap any busy interval.
// Slots starting before now are skipped.
//
// All times are expected to be in the same location (timezone).
func AvailableSlots(windowStart, windowEnd time.Time, duration, step time.Duration, busy []Interval, now time.Time) []time.Time {
	if duration <= 0 || step <= 0 {
		return nil
	}
	if !windowEnd.After(windowStart) {
		return nil
	}
	if windowStart.Add(duration).After(windowEnd) {
		return nil
	}

	var slots []time.Time
	for t := windowStart; !t.Add(duration).After(windowEnd); t = t.Add(step) {
		if t.Before(now) {
			continue
		}
		if !OverlapsAny(Interval{Start: t, End: t.Add(duration)}, busy) {
			slots = append(slots, t)
		}
	}
	return slots
}
