// Package render draws a wrapped summary onto an image template.
package render

import (
	"errors"
	"fmt"
	"image/color"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/joshdurbin/strava-wrapped/internal/wrapped"
	"gopkg.in/yaml.v3"
)

// DefaultTemplate is the template used when none is requested.
const DefaultTemplate = "default"

var (
	// ErrUnknownTemplate is returned when a template name is not in the layout.
	ErrUnknownTemplate = errors.New("unknown template")
	// ErrUnknownField is returned when a layout references a value FieldValues does not provide.
	ErrUnknownField = errors.New("unknown field")
)

// Layout is a set of named templates.
type Layout struct {
	Templates map[string]Template `yaml:"templates"`
}

// Template describes one image: its canvas and where each value is drawn.
type Template struct {
	// Background is an optional PNG scaled to the canvas.
	Background      string  `yaml:"background"`
	BackgroundColor string  `yaml:"background_color"`
	Width           int     `yaml:"width"`
	Height          int     `yaml:"height"`
	Color           string  `yaml:"color"`
	Fields          []Field `yaml:"fields"`
}

// Field places one summary value. X and Y are the top-left corner of the text.
type Field struct {
	Key    string  `yaml:"key"`
	X      int     `yaml:"x"`
	Y      int     `yaml:"y"`
	Size   float64 `yaml:"size"`
	Format string  `yaml:"format"`
}

// DefaultLayout draws the six headline stats in white on Strava orange.
func DefaultLayout() *Layout {
	fields := []Field{
		{Key: "total_distance_km", Format: "%v km"},
		{Key: "total_elevation_m", Format: "%v m"},
		{Key: "dominant_sport", Format: "%v"},
		{Key: "total_time_days", Format: "%v days"},
		{Key: "total_energy_kwh", Format: "%v kWh"},
		{Key: "activities_last_year", Format: "%v activities"},
	}
	for i := range fields {
		fields[i].X = 120
		fields[i].Y = 300 + 120*i
		fields[i].Size = 64
	}

	return &Layout{Templates: map[string]Template{
		DefaultTemplate: {
			BackgroundColor: "#FC4C02",
			Width:           1080,
			Height:          1350,
			Color:           "#FFFFFF",
			Fields:          fields,
		},
	}}
}

// LoadLayout reads and validates a YAML layout. An empty path returns DefaultLayout.
func LoadLayout(path string) (*Layout, error) {
	if path == "" {
		return DefaultLayout(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading layout: %w", err)
	}
	return ParseLayout(data)
}

// ParseLayout decodes and validates a YAML layout.
func ParseLayout(data []byte) (*Layout, error) {
	var l Layout
	if err := yaml.Unmarshal(data, &l); err != nil {
		return nil, fmt.Errorf("parsing layout: %w", err)
	}
	if err := l.Validate(); err != nil {
		return nil, err
	}
	return &l, nil
}

// Validate checks every template's canvas, colors and field keys.
func (l *Layout) Validate() error {
	if len(l.Templates) == 0 {
		return errors.New("layout has no templates")
	}

	known := FieldValues(wrapped.EmptySummary())
	for name, t := range l.Templates {
		if t.Width <= 0 || t.Height <= 0 {
			return fmt.Errorf("template %q: width and height must be positive", name)
		}
		if _, err := parseColor(t.Color, color.White); err != nil {
			return fmt.Errorf("template %q: %w", name, err)
		}
		if _, err := parseColor(t.BackgroundColor, color.Black); err != nil {
			return fmt.Errorf("template %q: %w", name, err)
		}
		for _, f := range t.Fields {
			if _, ok := known[f.Key]; !ok {
				return fmt.Errorf("template %q: %w %q", name, ErrUnknownField, f.Key)
			}
			if f.Size <= 0 {
				return fmt.Errorf("template %q field %q: size must be positive", name, f.Key)
			}
		}
	}
	return nil
}

// Template returns the named template; an empty name means DefaultTemplate.
func (l *Layout) Template(name string) (Template, error) {
	if name == "" {
		name = DefaultTemplate
	}
	t, ok := l.Templates[name]
	if !ok {
		return Template{}, fmt.Errorf("%w %q", ErrUnknownTemplate, name)
	}
	return t, nil
}

// Names lists the template names in sorted order.
func (l *Layout) Names() []string {
	names := make([]string, 0, len(l.Templates))
	for name := range l.Templates {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// FieldValues exposes the summary values a layout can place, keyed by their JSON names.
func FieldValues(s wrapped.Summary) map[string]interface{} {
	dominant := "-"
	if s.DominantSport != nil {
		dominant = *s.DominantSport
	}
	liked := "-"
	if s.MostLikedActivity.Name != nil {
		liked = *s.MostLikedActivity.Name
	}

	return map[string]interface{}{
		"activities_last_year": s.Activities,
		"total_distance_km":    s.TotalDistanceKm,
		"distance_comparison":  s.DistanceLandmark,
		"total_time_minutes":   s.TotalTimeMinutes,
		"total_time_days":      s.TotalTimeDays,
		"total_elevation_m":    s.TotalElevationM,
		"elevation_comparison": s.ElevationLandmark,
		"everest_equivalent":   s.EverestEquivalent,
		"total_energy_kwh":     s.TotalEnergyKWh,
		"house_power_days":     s.HousePowerDays,
		"total_kudos":          s.TotalKudos,
		"total_photos":         s.TotalPhotos,
		"total_comments":       s.TotalComments,
		"total_prs":            s.TotalPRs,
		"total_athletes":       s.TotalAthletes,
		"social_ratio":         s.SocialRatio,
		"social_style":         string(s.SocialStyle),
		"training_profile":     s.TrainingProfile,
		"dominant_sport":       dominant,
		"sports_practiced":     s.SportsPracticed,
		"most_liked_activity":  liked,
		"most_liked_kudos":     s.MostLikedActivity.KudosCount,
	}
}

// parseColor reads #RGB, #RRGGBB or #RRGGBBAA; an empty string yields def.
func parseColor(s string, def color.Color) (color.Color, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "#")
	if s == "" {
		return def, nil
	}
	if len(s) == 3 {
		s = string([]byte{s[0], s[0], s[1], s[1], s[2], s[2]})
	}
	if len(s) == 6 {
		s += "ff"
	}
	if len(s) != 8 {
		return nil, fmt.Errorf("invalid color %q", s)
	}
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return nil, fmt.Errorf("invalid color %q: %w", s, err)
	}
	return color.NRGBA{R: uint8(v >> 24), G: uint8(v >> 16), B: uint8(v >> 8), A: uint8(v)}, nil
}
