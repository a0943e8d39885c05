// Package wrapped turns a year of activity records into the "wrapped" statistics summary.
//
// Everything in this package is pure: the engine holds configuration only, and every summary is
// a function of the records handed to it and the reference time used for window filtering.
package wrapped

import (
	"strings"
	"time"
)

// UnknownSport is the category used for records without a sport type.
// It is excluded from the sport counter, the podium and sports_practiced.
const UnknownSport = "Unknown"

// ActivityRecord is the normalized representation of one fitness activity.
//
// Optional fields are pointers: a nil StartDate means the record has no usable
// start date, a nil WeightedAverageWatts means the activity has no power data.
// Counters default to zero.
type ActivityRecord struct {
	ID                   int64      `json:"id,omitempty"`
	Name                 *string    `json:"name,omitempty"`
	StartDate            *time.Time `json:"start_date,omitempty"`
	SportType            string     `json:"sport_type,omitempty"`
	Distance             float64    `json:"distance"`
	MovingTime           int64      `json:"moving_time"`
	TotalElevationGain   float64    `json:"total_elevation_gain"`
	WeightedAverageWatts *float64   `json:"weighted_average_watts,omitempty"`
	KudosCount           int64      `json:"kudos_count"`
	CommentCount         int64      `json:"comment_count"`
	TotalPhotoCount      int64      `json:"total_photo_count"`
	AthleteCount         int64      `json:"athlete_count"`
	PRCount              int64      `json:"pr_count"`
}

// Sport returns the record's sport type, or UnknownSport when it is empty.
func (r ActivityRecord) Sport() string {
	s := strings.TrimSpace(r.SportType)
	if s == "" {
		return UnknownSport
	}
	return s
}

// hasKnownSport reports whether the record counts towards sport statistics.
func (r ActivityRecord) hasKnownSport() bool {
	return r.Sport() != UnknownSport
}

// startDateLayouts are tried in order by ParseStartDate.
var startDateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05Z0700",
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04:05-07:00",
	"2006-01-02 15:04:05",
}

// ParseStartDate parses an ISO-8601 start date and returns it in UTC.
// It returns nil for empty or unparseable input.
func ParseStartDate(raw string) *time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	for _, layout := range startDateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}
