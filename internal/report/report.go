// Package report builds the wrapped summary from the local store, caches it per UTC day
// and hands it to the renderer.
package report

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/joshdurbin/strava-wrapped/internal/cache"
	"github.com/joshdurbin/strava-wrapped/internal/logging"
	"github.com/joshdurbin/strava-wrapped/internal/metrics"
	"github.com/joshdurbin/strava-wrapped/internal/render"
	"github.com/joshdurbin/strava-wrapped/internal/wrapped"
)

// loadWindow is how far back records are loaded; the engine trims to the exact window.
const loadWindow = 366 * 24 * time.Hour

// ErrRenderingDisabled is returned by Render when no renderer is configured.
var ErrRenderingDisabled = errors.New("rendering is not configured")

// RecordSource loads stored activity records started after since.
type RecordSource interface {
	LoadRecords(ctx context.Context, since time.Time) ([]wrapped.ActivityRecord, error)
}

// Service produces summaries and images.
type Service struct {
	records  RecordSource
	engine   *wrapped.Engine
	cache    cache.Cache
	ttl      time.Duration
	metrics  *metrics.Manager
	renderer *render.Renderer
}

// Option configures a Service.
type Option func(*Service)

// WithCache stores summaries in c for ttl.
func WithCache(c cache.Cache, ttl time.Duration) Option {
	return func(s *Service) {
		s.cache = c
		s.ttl = ttl
	}
}

// WithMetrics records cache outcomes and build durations.
func WithMetrics(m *metrics.Manager) Option {
	return func(s *Service) { s.metrics = m }
}

// WithRenderer enables Render and Save.
func WithRenderer(r *render.Renderer) Option {
	return func(s *Service) { s.renderer = r }
}

// NewService creates a report service.
func NewService(records RecordSource, engine *wrapped.Engine, opts ...Option) *Service {
	s := &Service{
		records: records,
		engine:  engine,
		cache:   cache.Noop{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CacheKey is the cache key of the summary computed on now's UTC day.
func CacheKey(now time.Time) string {
	return "summary:" + now.UTC().Format("2006-01-02")
}

// Summary returns the summary for the trailing year, from cache when available.
func (s *Service) Summary(ctx context.Context) (wrapped.Summary, error) {
	now := s.engine.Now()
	key := CacheKey(now)

	if summary, ok := s.cached(ctx, key); ok {
		return summary, nil
	}

	start := time.Now()
	records, err := s.records.LoadRecords(ctx, now.Add(-loadWindow))
	if err != nil {
		return wrapped.Summary{}, fmt.Errorf("loading records: %w", err)
	}
	summary := s.engine.SummarizeAt(records, now)
	if s.metrics != nil {
		s.metrics.HistSummaryDuration.Observe(time.Since(start).Seconds())
	}

	logging.Logger.Debug().
		Int("records", len(records)).
		Int64("activities", summary.Activities).
		Dur("took", time.Since(start)).
		Msg("summary built")

	s.store(ctx, key, summary)
	return summary, nil
}

func (s *Service) cached(ctx context.Context, key string) (wrapped.Summary, bool) {
	data, err := s.cache.Get(ctx, key)
	switch {
	case errors.Is(err, cache.ErrMiss):
		s.countCache(metrics.CacheMiss)
		return wrapped.Summary{}, false
	case err != nil:
		logging.Warn("summary cache read failed", "key", key, "error", err)
		s.countCache(metrics.CacheMiss)
		return wrapped.Summary{}, false
	}

	var summary wrapped.Summary
	if err := json.Unmarshal(data, &summary); err != nil {
		logging.Warn("discarding undecodable cached summary", "key", key, "error", err)
		s.countCache(metrics.CacheMiss)
		return wrapped.Summary{}, false
	}
	s.countCache(metrics.CacheHit)
	return summary, true
}

func (s *Service) store(ctx context.Context, key string, summary wrapped.Summary) {
	data, err := json.Marshal(summary)
	if err != nil {
		logging.Warn("summary not cached", "error", err)
		return
	}
	if err := s.cache.Set(ctx, key, data, s.ttl); err != nil {
		logging.Warn("summary cache write failed", "key", key, "error", err)
	}
}

func (s *Service) countCache(outcome string) {
	if s.metrics != nil {
		s.metrics.CounterSummaryCache.WithLabelValues(outcome).Inc()
	}
}

// Invalidate drops today's cached summary.
func (s *Service) Invalidate(ctx context.Context) error {
	key := CacheKey(s.engine.Now())
	if err := s.cache.Delete(ctx, key); err != nil {
		return fmt.Errorf("invalidating %s: %w", key, err)
	}
	logging.Debug("summary cache invalidated", "key", key)
	return nil
}

// Render returns the current summary drawn on templateName as PNG.
func (s *Service) Render(ctx context.Context, templateName string) ([]byte, error) {
	if s.renderer == nil {
		return nil, ErrRenderingDisabled
	}
	summary, err := s.Summary(ctx)
	if err != nil {
		return nil, err
	}
	data, err := s.renderer.RenderPNG(templateName, summary)
	if err != nil {
		return nil, err
	}
	if s.metrics != nil {
		s.metrics.CounterImagesRendered.Inc()
	}
	return data, nil
}

// Save renders the current summary to a file in the output directory and returns its path.
func (s *Service) Save(ctx context.Context, templateName string) (string, error) {
	if s.renderer == nil {
		return "", ErrRenderingDisabled
	}
	summary, err := s.Summary(ctx)
	if err != nil {
		return "", err
	}
	path, err := s.renderer.Save(templateName, summary)
	if err != nil {
		return "", err
	}
	if s.metrics != nil {
		s.metrics.CounterImagesRendered.Inc()
	}
	return path, nil
}
