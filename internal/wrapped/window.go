package wrapped

import "time"

// WindowDays is the length of the trailing window a summary covers.
const WindowDays = 365

// WindowStart returns the exclusive lower bound of the window ending at now.
func WindowStart(now time.Time) time.Time {
	return now.UTC().Add(-WindowDays * 24 * time.Hour)
}

// FilterWindow returns the records whose start date is strictly after now minus 365 days.
// Records without a start date are dropped. The input slice is not modified.
func FilterWindow(records []ActivityRecord, now time.Time) []ActivityRecord {
	cutoff := WindowStart(now)

	filtered := make([]ActivityRecord, 0, len(records))
	for _, r := range records {
		if r.StartDate == nil {
			continue
		}
		if r.StartDate.UTC().After(cutoff) {
			filtered = append(filtered, r)
		}
	}
	return filtered
}
