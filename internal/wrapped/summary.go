package wrapped

import "math"

// PodiumSlots is the fixed size of the sport podium.
const PodiumSlots = 3

// SportCount is one entry of the sport frequency counter.
type SportCount struct {
	Sport *string `json:"sport"`
	Count int64   `json:"count"`
}

// LikedActivity identifies the activity with the most kudos.
type LikedActivity struct {
	Name       *string `json:"name"`
	KudosCount int64   `json:"kudos_count"`
}

// TimeOfDayCounts holds the number of activities started in each bucket.
type TimeOfDayCounts struct {
	Morning   int64 `json:"morning"`
	Afternoon int64 `json:"afternoon"`
	Night     int64 `json:"night"`
}

// Get returns the count for bucket b.
func (c TimeOfDayCounts) Get(b TimeOfDay) int64 {
	switch b {
	case Morning:
		return c.Morning
	case Afternoon:
		return c.Afternoon
	case Night:
		return c.Night
	}
	return 0
}

// Summary is the finalized wrapped statistics bundle.
type Summary struct {
	Activities             int64 `json:"activities_last_year"`
	UnknownSportActivities int64 `json:"unknown_sport_activities"`

	TotalDistanceKm   float64 `json:"total_distance_km"`
	DistanceLandmark  string  `json:"distance_comparison"`
	TotalTimeMinutes  int64   `json:"total_time_minutes"`
	TotalTimeDays     float64 `json:"total_time_days"`
	TotalElevationM   float64 `json:"total_elevation_m"`
	ElevationLandmark string  `json:"elevation_comparison"`
	EverestEquivalent float64 `json:"everest_equivalent"`
	TotalEnergyKWh    float64 `json:"total_energy_kwh"`
	HousePowerDays    float64 `json:"house_power_days"`

	TotalKudos    int64 `json:"total_kudos"`
	TotalPhotos   int64 `json:"total_photos"`
	TotalComments int64 `json:"total_comments"`
	TotalPRs      int64 `json:"total_prs"`
	TotalAthletes int64 `json:"total_athletes"`

	SocialRatio float64     `json:"social_ratio"`
	SocialStyle SocialStyle `json:"social_style"`

	TimeOfDay       TimeOfDayCounts `json:"time_of_day"`
	TrainingBucket  TimeOfDay       `json:"training_bucket"`
	TrainingProfile string          `json:"training_profile"`

	DominantSport     *string                 `json:"dominant_sport"`
	SportsPracticed   int                     `json:"sports_practiced"`
	SportPodium       [PodiumSlots]SportCount `json:"sport_podium"`
	SportsBreakdown   []SportCount            `json:"sports_breakdown"`
	MostLikedActivity LikedActivity           `json:"most_liked_activity"`
}

// EmptySummary returns the canonical summary for a window without activities.
func EmptySummary() Summary {
	return Summary{
		DistanceLandmark:  NoActivityLabel,
		ElevationLandmark: NoActivityLabel,
		SocialStyle:       SocialSolo,
		TrainingBucket:    Morning,
		TrainingProfile:   TrainingProfileLabel(Morning),
		SportsBreakdown:   []SportCount{},
	}
}

// round rounds v half away from zero to the given number of decimal places.
func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
