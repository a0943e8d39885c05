package wrapped

import (
	"errors"
	"fmt"
)

const (
	// EverestHeightM is the reference height used for the Everest equivalent.
	EverestHeightM = 8848.0
	// HouseholdKWhPerDay is the daily consumption of the reference household.
	HouseholdKWhPerDay = 9.0
)

// Labels shared by the landmark classifiers.
const (
	NoActivityLabel   = "No activity"
	NoComparisonLabel = "No comparison available"
)

// ErrInvalidReference is returned when a landmark reference value is zero or negative.
var ErrInvalidReference = errors.New("reference height must be positive")

// Bin maps the half-open range (Min, Max] to a label. The first bin of a table
// also includes Min.
type Bin struct {
	Min   float64
	Max   float64
	Label string
}

// DistanceBins are the distance landmarks in kilometres, ascending.
var DistanceBins = []Bin{
	{Min: 50, Max: 150, Label: "Barcelona - Girona"},
	{Min: 150, Max: 300, Label: "Barcelona - Perpignan"},
	{Min: 300, Max: 600, Label: "Barcelona - Madrid"},
	{Min: 600, Max: 1000, Label: "Barcelona - Paris"},
	{Min: 1000, Max: 2000, Label: "Barcelona - Berlin"},
	{Min: 2000, Max: 4000, Label: "Barcelona - Moscow"},
	{Min: 4000, Max: 8000, Label: "Barcelona - New York"},
	{Min: 8000, Max: 14000, Label: "Barcelona - Tokyo"},
}

// ElevationBins are the elevation landmarks in metres, ascending.
var ElevationBins = []Bin{
	{Min: 50, Max: 150, Label: "Barcelona - Girona"},
	{Min: 150, Max: 300, Label: "Barcelona - Perpignan"},
}

// classifyBins returns the label of the bin containing v, or NoComparisonLabel
// when v falls below the first bin or above the last one.
func classifyBins(bins []Bin, v float64) string {
	for i, b := range bins {
		lowerOK := v > b.Min || (i == 0 && v == b.Min)
		if lowerOK && v <= b.Max {
			return b.Label
		}
	}
	return NoComparisonLabel
}

// DistanceLandmark maps a total distance in kilometres to a reference route.
func DistanceLandmark(km float64) string {
	return classifyBins(DistanceBins, km)
}

// ElevationLandmark maps a total elevation gain in metres to a reference route.
func ElevationLandmark(m float64) string {
	return classifyBins(ElevationBins, m)
}

// EverestEquivalent expresses elevation as a multiple of referenceM, rounded to 2 decimals.
func EverestEquivalent(elevationM, referenceM float64) (float64, error) {
	if referenceM <= 0 {
		return 0, fmt.Errorf("everest equivalent with reference %.2f m: %w", referenceM, ErrInvalidReference)
	}
	return round(elevationM/referenceM, 2), nil
}

// SocialStyle is the qualitative training-company classification.
type SocialStyle string

const (
	SocialSolo  SocialStyle = "Solo"
	SocialDuo   SocialStyle = "Duo"
	SocialTrio  SocialStyle = "Trio"
	SocialGroup SocialStyle = "Group"
)

// SocialRatio is the average number of extra participants per activity, rounded to 2 decimals.
// It must not be called with zero activities.
func SocialRatio(totalAthletes, activities int64) float64 {
	return round(float64(totalAthletes-activities)/float64(activities), 2)
}

// ClassifySocial maps a social ratio to a SocialStyle.
func ClassifySocial(ratio float64) SocialStyle {
	switch {
	case ratio <= 1.75:
		return SocialSolo
	case ratio <= 2.75:
		return SocialDuo
	case ratio <= 3.75:
		return SocialTrio
	default:
		return SocialGroup
	}
}

// TimeOfDay is the bucket an activity's UTC start hour falls into.
type TimeOfDay string

const (
	Morning   TimeOfDay = "morning"
	Afternoon TimeOfDay = "afternoon"
	Night     TimeOfDay = "night"
)

// timeOfDayOrder is also the tie-break order for the training profile.
var timeOfDayOrder = []TimeOfDay{Morning, Afternoon, Night}

var trainingProfileLabels = map[TimeOfDay]string{
	Morning:   "Early bird",
	Afternoon: "Afternoon athlete",
	Night:     "Night owl",
}

// BucketForHour returns the time-of-day bucket for an hour in [0, 24).
func BucketForHour(hour int) TimeOfDay {
	switch {
	case hour >= 5 && hour < 12:
		return Morning
	case hour >= 12 && hour < 19:
		return Afternoon
	default:
		return Night
	}
}

// TrainingProfileLabel returns the display label for a time-of-day bucket.
// Unknown buckets get the morning label.
func TrainingProfileLabel(b TimeOfDay) string {
	if label, ok := trainingProfileLabels[b]; ok {
		return label
	}
	return trainingProfileLabels[Morning]
}
