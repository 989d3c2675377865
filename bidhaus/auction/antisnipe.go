package auction

import "time"

// ShouldExtend decides whether a bid accepted at now falls inside the
// quiet period before endTime and, if so, returns the pushed-out deadline.
// Every qualifying bid resets the quiet period; the deadline only ever
// moves forward. Called within the same transaction as the bid so it never
// observes a stale end time.
func ShouldExtend(now, endTime time.Time, window time.Duration) (time.Time, bool) {
	if window <= 0 {
		return time.Time{}, false
	}
	if now.Before(endTime.Add(-window)) {
		return time.Time{}, false
	}
	newEnd := now.Add(window)
	if !newEnd.After(endTime) {
		return time.Time{}, false
	}
	return newEnd, true
}
