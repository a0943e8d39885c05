package wrapped

import (
	"fmt"
	"time"
)

// Accumulator carries the running state of a single pass over activity records.
// The zero value is not usable; call NewAccumulator.
type Accumulator struct {
	count        int64
	unknownSport int64

	distanceM   float64
	movingTimeS int64
	elevationM  float64
	wattSeconds float64
	kudos       int64
	photos      int64
	comments    int64
	athletes    int64
	prs         int64

	sports    *sportCounter
	timeOfDay TimeOfDayCounts

	mostLiked    *ActivityRecord
	mostLikedMax int64
}

// NewAccumulator returns an accumulator with all sums and counters at zero.
func NewAccumulator() *Accumulator {
	return &Accumulator{sports: newSportCounter()}
}

// Add folds one record into the running state.
func (a *Accumulator) Add(r ActivityRecord) {
	a.count++

	a.distanceM += r.Distance
	a.movingTimeS += r.MovingTime
	a.elevationM += r.TotalElevationGain
	if r.WeightedAverageWatts != nil {
		a.wattSeconds += *r.WeightedAverageWatts * float64(r.MovingTime)
	}

	a.kudos += r.KudosCount
	a.photos += r.TotalPhotoCount
	a.comments += r.CommentCount
	a.athletes += r.AthleteCount
	a.prs += r.PRCount

	if r.hasKnownSport() {
		a.sports.add(r.Sport())
	} else {
		a.unknownSport++
	}

	if r.StartDate != nil {
		switch BucketForHour(r.StartDate.UTC().Hour()) {
		case Morning:
			a.timeOfDay.Morning++
		case Afternoon:
			a.timeOfDay.Afternoon++
		default:
			a.timeOfDay.Night++
		}
	}

	// strictly greater keeps the first record on ties
	if a.mostLiked == nil || r.KudosCount > a.mostLikedMax {
		rec := r
		a.mostLiked = &rec
		a.mostLikedMax = r.KudosCount
	}
}

// Count returns the number of records added so far.
func (a *Accumulator) Count() int64 {
	return a.count
}

// Finalize derives the summary from the accumulated state using everestM as the
// Everest reference height.
func (a *Accumulator) Finalize(everestM float64) (Summary, error) {
	everestFactor, err := EverestEquivalent(a.elevationM, everestM)
	if err != nil {
		return Summary{}, err
	}

	if a.count == 0 {
		return EmptySummary(), nil
	}

	s := Summary{
		Activities:             a.count,
		UnknownSportActivities: a.unknownSport,
		TotalDistanceKm:        round(a.distanceM/1000, 1),
		TotalTimeMinutes:       a.movingTimeS / 60,
		TotalTimeDays:          round(float64(a.movingTimeS/60)/1440, 2),
		TotalElevationM:        round(a.elevationM, 1),
		EverestEquivalent:      everestFactor,
		TotalKudos:             a.kudos,
		TotalPhotos:            a.photos,
		TotalComments:          a.comments,
		TotalPRs:               a.prs,
		TotalAthletes:          a.athletes,
		TimeOfDay:              a.timeOfDay,
	}

	s.TotalEnergyKWh = round(a.wattSeconds/3_600_000, 2)
	s.HousePowerDays = round(s.TotalEnergyKWh/HouseholdKWhPerDay, 1)

	s.DistanceLandmark = DistanceLandmark(s.TotalDistanceKm)
	s.ElevationLandmark = ElevationLandmark(s.TotalElevationM)

	s.SocialRatio = SocialRatio(a.athletes, a.count)
	s.SocialStyle = ClassifySocial(s.SocialRatio)

	s.TrainingBucket = dominantBucket(a.timeOfDay)
	s.TrainingProfile = TrainingProfileLabel(s.TrainingBucket)

	s.SportsBreakdown = a.sports.entries()
	s.SportsPracticed = len(s.SportsBreakdown)
	s.DominantSport = Dominant(s.SportsBreakdown)
	s.SportPodium = BuildPodium(s.SportsBreakdown)

	s.MostLikedActivity = LikedActivity{KudosCount: a.mostLikedMax}
	if a.mostLiked.Name != nil {
		s.MostLikedActivity.Name = ptr(*a.mostLiked.Name)
	}

	return s, nil
}

// dominantBucket returns the bucket with the most activities, preferring the earlier
// bucket in the day on ties. Without any counts it returns Morning.
func dominantBucket(c TimeOfDayCounts) TimeOfDay {
	best := Morning
	var bestCount int64
	for _, b := range timeOfDayOrder {
		if n := c.Get(b); n > bestCount {
			best, bestCount = b, n
		}
	}
	return best
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock sets the function used as "now" for window filtering.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// WithEverestHeight overrides the Everest reference height in metres.
func WithEverestHeight(m float64) Option {
	return func(e *Engine) {
		e.everestM = m
	}
}

// Engine filters records to the trailing window and reduces them to a Summary.
type Engine struct {
	now      func() time.Time
	everestM float64
}

// NewEngine validates the configuration and returns an engine.
func NewEngine(opts ...Option) (*Engine, error) {
	e := &Engine{
		now:      func() time.Time { return time.Now().UTC() },
		everestM: EverestHeightM,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.everestM <= 0 {
		return nil, fmt.Errorf("creating engine: everest height %.2f m: %w", e.everestM, ErrInvalidReference)
	}
	return e, nil
}

// Now returns the engine's reference time.
func (e *Engine) Now() time.Time {
	return e.now().UTC()
}

// Summarize filters records to the window ending at the engine's clock and aggregates them.
func (e *Engine) Summarize(records []ActivityRecord) Summary {
	return e.SummarizeAt(records, e.Now())
}

// SummarizeAt filters records to the window ending at now and aggregates them in one pass.
func (e *Engine) SummarizeAt(records []ActivityRecord, now time.Time) Summary {
	acc := NewAccumulator()
	for _, r := range FilterWindow(records, now) {
		acc.Add(r)
	}
	// everestM was validated in NewEngine
	s, _ := acc.Finalize(e.everestM)
	return s
}
