package server

import (
	"fmt"
	"math"

	"github.com/joshdurbin/strava-wrapped/internal/wrapped"
)

// Insight represents a single AI-friendly insight about the data
type Insight struct {
	Type    string `json:"type"`    // e.g., "achievement", "social", "habit", "suggestion"
	Message string `json:"message"` // Human-readable insight
}

// SuggestedAction represents a suggested next tool call
type SuggestedAction struct {
	Tool        string `json:"tool"`        // Tool name to call
	Description string `json:"description"` // Why this action is suggested
	Priority    string `json:"priority"`    // "high", "medium", "low"
}

// InsightGenerator turns a summary into short highlights
type InsightGenerator struct{}

// NewInsightGenerator creates a new insight generator
func NewInsightGenerator() *InsightGenerator {
	return &InsightGenerator{}
}

// GenerateWrappedInsights returns the highlights of a summary, strongest first.
// An empty window yields a single suggestion.
func (g *InsightGenerator) GenerateWrappedInsights(s wrapped.Summary) []Insight {
	if s.Activities == 0 {
		return []Insight{{
			Type:    "suggestion",
			Message: "No activities in the last 365 days. Sync with refresh=true after your next workout.",
		}}
	}

	insights := []Insight{{
		Type:    "achievement",
		Message: fmt.Sprintf("%d activities covering %.1f km in %.1f days of moving time", s.Activities, s.TotalDistanceKm, s.TotalTimeDays),
	}}

	if s.DistanceLandmark != wrapped.NoComparisonLabel && s.DistanceLandmark != wrapped.NoActivityLabel {
		insights = append(insights, Insight{
			Type:    "achievement",
			Message: fmt.Sprintf("You covered the distance of %s", s.DistanceLandmark),
		})
	}

	switch {
	case s.EverestEquivalent >= 1:
		insights = append(insights, Insight{
			Type:    "achievement",
			Message: fmt.Sprintf("You climbed Everest %.2f times (%.0f m)", s.EverestEquivalent, s.TotalElevationM),
		})
	case s.TotalElevationM > 0:
		insights = append(insights, Insight{
			Type:    "achievement",
			Message: fmt.Sprintf("You climbed %.0f m, %.0f%% of Everest", s.TotalElevationM, s.EverestEquivalent*100),
		})
	}

	if s.HousePowerDays >= 1 {
		insights = append(insights, Insight{
			Type:    "achievement",
			Message: fmt.Sprintf("Your %.2f kWh could power a house for %.0f days", s.TotalEnergyKWh, math.Floor(s.HousePowerDays)),
		})
	}

	if s.DominantSport != nil {
		insights = append(insights, Insight{
			Type:    "habit",
			Message: fmt.Sprintf("%s was your sport, out of %d practiced", *s.DominantSport, s.SportsPracticed),
		})
	}

	insights = append(insights, Insight{
		Type:    "habit",
		Message: fmt.Sprintf("%s: most of your activities started in the %s", s.TrainingProfile, s.TrainingBucket),
	})

	insights = append(insights, g.socialInsight(s))

	if s.TotalPRs > 0 {
		insights = append(insights, Insight{
			Type:    "achievement",
			Message: fmt.Sprintf("%d personal records set", s.TotalPRs),
		})
	}

	if s.MostLikedActivity.Name != nil && s.MostLikedActivity.KudosCount > 0 {
		insights = append(insights, Insight{
			Type:    "social",
			Message: fmt.Sprintf("%q was your most liked activity with %d kudos", *s.MostLikedActivity.Name, s.MostLikedActivity.KudosCount),
		})
	}

	if s.UnknownSportActivities > 0 {
		insights = append(insights, Insight{
			Type:    "suggestion",
			Message: fmt.Sprintf("%d activities have no sport type and were left out of the sport ranking", s.UnknownSportActivities),
		})
	}

	return insights
}

func (g *InsightGenerator) socialInsight(s wrapped.Summary) Insight {
	var msg string
	switch s.SocialStyle {
	case wrapped.SocialSolo:
		msg = "You mostly train solo"
	case wrapped.SocialDuo:
		msg = "You usually train with a partner"
	case wrapped.SocialTrio:
		msg = "You like training in threes"
	default:
		msg = "You are a group rider at heart"
	}
	return Insight{
		Type:    "social",
		Message: fmt.Sprintf("%s (%.2f companions per activity, %d kudos received)", msg, s.SocialRatio, s.TotalKudos),
	}
}

// SuggestNextActions suggests logical next tool calls based on context
func SuggestNextActions(context string) []SuggestedAction {
	suggestions := make([]SuggestedAction, 0)

	switch context {
	case "summary":
		suggestions = append(suggestions,
			SuggestedAction{
				Tool:        "get_sport_breakdown",
				Description: "See how the year splits across sports",
				Priority:    "medium",
			},
		)
	case "sports":
		suggestions = append(suggestions,
			SuggestedAction{
				Tool:        "get_wrapped_summary",
				Description: "Get the full year summary with highlights",
				Priority:    "high",
			},
		)
	}

	return suggestions
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
