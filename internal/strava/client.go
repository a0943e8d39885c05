// Package strava is a small client for the Strava v3 activities API with retry, backoff and
// rate-limit tracking.
package strava

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/joshdurbin/strava-wrapped/internal/logging"
	"github.com/joshdurbin/strava-wrapped/internal/wrapped"
)

const (
	baseURL = "https://www.strava.com/api/v3"
	// MaxPerPage is the largest page size Strava accepts.
	MaxPerPage = 200
)

const (
	defaultMaxRetries     = 5
	defaultInitialBackoff = 1 * time.Second
	defaultMaxBackoff     = 5 * time.Minute
)

var (
	// ErrRateLimited is returned when the API still answers 429 after retries are exhausted.
	ErrRateLimited = errors.New("rate limited")
	// ErrUnauthorized is returned for 401 and 403 responses; the access token needs refreshing.
	ErrUnauthorized = errors.New("strava rejected the access token")
)

// Activity is the summary representation returned by /athlete/activities.
type Activity struct {
	ID                   int64     `json:"id"`
	Name                 string    `json:"name"`
	Distance             float64   `json:"distance"`
	MovingTime           int       `json:"moving_time"`
	ElapsedTime          int       `json:"elapsed_time"`
	TotalElevationGain   float64   `json:"total_elevation_gain"`
	Type                 string    `json:"type"`
	SportType            string    `json:"sport_type"`
	StartDate            time.Time `json:"start_date"`
	StartDateLocal       time.Time `json:"start_date_local"`
	Timezone             string    `json:"timezone"`
	AverageSpeed         float64   `json:"average_speed"`
	WeightedAverageWatts *float64  `json:"weighted_average_watts,omitempty"`
	Kilojoules           float64   `json:"kilojoules"`
	KudosCount           int       `json:"kudos_count"`
	CommentCount         int       `json:"comment_count"`
	TotalPhotoCount      int       `json:"total_photo_count"`
	AthleteCount         int       `json:"athlete_count"`
	PRCount              int       `json:"pr_count"`
}

// UnmarshalJSON decodes an activity. A missing or unparseable start date leaves the zero time
// so one bad activity does not fail its whole page.
func (a *Activity) UnmarshalJSON(data []byte) error {
	type plain Activity
	aux := struct {
		*plain
		StartDate      json.RawMessage `json:"start_date"`
		StartDateLocal json.RawMessage `json:"start_date_local"`
	}{plain: (*plain)(a)}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	a.StartDate = decodeDate(aux.StartDate)
	a.StartDateLocal = decodeDate(aux.StartDateLocal)
	return nil
}

func decodeDate(raw json.RawMessage) time.Time {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return time.Time{}
	}
	if t := wrapped.ParseStartDate(s); t != nil {
		return *t
	}
	return time.Time{}
}

// FetchResult describes one fetched page for progress reporting.
type FetchResult struct {
	Activities   []Activity
	RateLimit    RateLimitInfo
	Page         int
	TotalFetched int
}

// ProgressCallback is called after each page is fetched.
type ProgressCallback func(result FetchResult)

// RetryConfig holds retry/backoff settings.
type RetryConfig struct {
	MaxRetries int
	MinWait    time.Duration
	MaxWait    time.Duration
}

// DefaultRetryConfig returns the default retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries: defaultMaxRetries,
		MinWait:    defaultInitialBackoff,
		MaxWait:    defaultMaxBackoff,
	}
}

// Client is a Strava API client with automatic retry and backoff.
type Client struct {
	httpClient  *retryablehttp.Client
	accessToken string
	baseURL     string

	rateMu    sync.RWMutex
	rateLimit RateLimitInfo
}

// NewClient creates a client for the public Strava API.
func NewClient(accessToken string) *Client {
	return NewClientWithOptions(accessToken, baseURL, DefaultRetryConfig())
}

// NewClientWithRetryConfig creates a client for the public Strava API with custom retry settings.
func NewClientWithRetryConfig(accessToken string, cfg RetryConfig) *Client {
	return NewClientWithOptions(accessToken, baseURL, cfg)
}

// NewClientWithBaseURL creates a client against another base URL (for testing).
func NewClientWithBaseURL(accessToken, customBaseURL string) *Client {
	return NewClientWithOptions(accessToken, customBaseURL, DefaultRetryConfig())
}

// NewClientWithOptions creates a client against apiURL; an empty apiURL means the public API.
func NewClientWithOptions(accessToken, apiURL string, cfg RetryConfig) *Client {
	if apiURL == "" {
		apiURL = baseURL
	}

	client := retryablehttp.NewClient()
	client.RetryMax = cfg.MaxRetries
	client.RetryWaitMin = cfg.MinWait
	client.RetryWaitMax = cfg.MaxWait
	client.Logger = &logging.LeveledLogger{}
	client.CheckRetry = checkRetry
	client.Backoff = backoff
	client.RequestLogHook = logRequest
	client.ResponseLogHook = logResponse
	// hand the final response back so status codes map to typed errors
	client.ErrorHandler = retryablehttp.PassthroughErrorHandler

	return &Client{
		httpClient:  client,
		accessToken: accessToken,
		baseURL:     strings.TrimRight(apiURL, "/"),
	}
}

// WithRetryConfig sets custom retry configuration (useful for testing).
func (c *Client) WithRetryConfig(maxRetries int, initialBackoff, maxBackoff time.Duration) *Client {
	c.httpClient.RetryMax = maxRetries
	c.httpClient.RetryWaitMin = initialBackoff
	c.httpClient.RetryWaitMax = maxBackoff
	return c
}

// checkRetry retries connection errors, 429 and 5xx responses. Other statuses are final.
func checkRetry(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	if err != nil {
		return true, nil
	}
	return resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500, nil
}

// backoff waits for the rate-limit window on 429 and backs off exponentially otherwise.
func backoff(minWait, maxWait time.Duration, attemptNum int, resp *http.Response) time.Duration {
	log := logging.Logger

	if resp != nil && resp.StatusCode == http.StatusTooManyRequests {
		if seconds, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil {
			wait := time.Duration(seconds) * time.Second
			log.Info().Dur("wait", wait).Int("attempt", attemptNum).Msg("rate limited, honouring Retry-After")
			return wait
		}

		wait := timeUntilNext15MinWindow(time.Now())
		log.Info().Dur("wait", wait).Int("attempt", attemptNum).Msg("rate limited, waiting for 15-minute window reset")
		return wait
	}

	wait := minWait * time.Duration(1<<uint(attemptNum))
	if wait > maxWait || wait <= 0 {
		wait = maxWait
	}
	log.Info().Dur("wait", wait).Int("attempt", attemptNum).Msg("backing off before retry")
	return wait
}

func logRequest(_ retryablehttp.Logger, req *http.Request, retry int) {
	log := logging.Logger
	if retry > 0 {
		log.Info().Str("url", req.URL.Path).Int("attempt", retry+1).Msg("retrying request")
	}
	if logging.IsTraceEnabled() {
		log.Debug().
			Str("method", req.Method).
			Str("url", req.URL.String()).
			Str("headers", formatHeaders(req.Header)).
			Msg("request headers")
	}
}

func logResponse(_ retryablehttp.Logger, resp *http.Response) {
	log := logging.Logger
	if logging.IsTraceEnabled() {
		log.Debug().
			Int("status", resp.StatusCode).
			Str("url", resp.Request.URL.Path).
			Str("headers", formatHeaders(resp.Header)).
			Msg("response headers")
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		rl := parseRateLimitHeaders(resp.Header, time.Now())
		log.Warn().
			Str("url", resp.Request.URL.Path).
			Str("15min_usage", fmt.Sprintf("%d/%d", rl.Usage15Min, rl.Limit15Min)).
			Str("daily_usage", fmt.Sprintf("%d/%d", rl.UsageDaily, rl.LimitDaily)).
			Dur("wait_for_reset", rl.TimeUntil15MinReset).
			Msg("rate limited by API")
	}
}

// GetRateLimit returns the last observed rate limit with reset times relative to now.
func (c *Client) GetRateLimit() RateLimitInfo {
	c.rateMu.RLock()
	info := c.rateLimit
	c.rateMu.RUnlock()

	info.evaluate(time.Now())
	return info
}

// WaitForRateLimit blocks until rate limits allow more requests or ctx is done.
func (c *Client) WaitForRateLimit(ctx context.Context) error {
	rateLimit := c.GetRateLimit()
	wait := rateLimit.ShouldWaitForRateLimit()
	if wait <= 0 {
		return nil
	}

	logging.Logger.Info().
		Dur("wait", wait).
		Str("15min_usage", fmt.Sprintf("%d/%d", rateLimit.Usage15Min, rateLimit.Limit15Min)).
		Str("daily_usage", fmt.Sprintf("%d/%d", rateLimit.UsageDaily, rateLimit.LimitDaily)).
		Msg("waiting for rate limit window to reset")

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (c *Client) updateRateLimit(resp *http.Response) RateLimitInfo {
	rateLimit := parseRateLimitHeaders(resp.Header, time.Now())
	if resp.StatusCode == http.StatusTooManyRequests {
		rateLimit.IsRateLimited = true
	}
	c.rateMu.Lock()
	c.rateLimit = rateLimit
	c.rateMu.Unlock()
	return rateLimit
}

// FetchAllActivities fetches every activity of the authenticated athlete.
func (c *Client) FetchAllActivities(ctx context.Context, progress ProgressCallback) ([]Activity, error) {
	return c.fetchAll(ctx, 0, progress)
}

// FetchActivitiesSince fetches activities started after since (for delta sync).
func (c *Client) FetchActivitiesSince(ctx context.Context, since time.Time, progress ProgressCallback) ([]Activity, error) {
	return c.fetchAll(ctx, since.Unix(), progress)
}

func (c *Client) fetchAll(ctx context.Context, after int64, progress ProgressCallback) ([]Activity, error) {
	var all []Activity
	for page := 1; ; page++ {
		activities, rateLimit, err := c.fetchPage(ctx, page, MaxPerPage, after)

		if progress != nil {
			progress(FetchResult{
				Activities:   activities,
				RateLimit:    rateLimit,
				Page:         page,
				TotalFetched: len(all) + len(activities),
			})
		}

		if err != nil {
			return all, err
		}
		if len(activities) == 0 {
			return all, nil
		}
		all = append(all, activities...)
	}
}

// FetchPage fetches a single page of activities. perPage is clamped to [1, MaxPerPage].
func (c *Client) FetchPage(ctx context.Context, page, perPage int) ([]Activity, RateLimitInfo, error) {
	if page < 1 {
		page = 1
	}
	perPage = max(1, min(perPage, MaxPerPage))
	return c.fetchPage(ctx, page, perPage, 0)
}

func (c *Client) fetchPage(ctx context.Context, page, perPage int, after int64) ([]Activity, RateLimitInfo, error) {
	url := fmt.Sprintf("%s/athlete/activities?page=%d&per_page=%d", c.baseURL, page, perPage)
	if after > 0 {
		url += fmt.Sprintf("&after=%d", after)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, RateLimitInfo{}, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.accessToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, RateLimitInfo{}, fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	rateLimit := c.updateRateLimit(resp)

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusTooManyRequests:
		return nil, rateLimit, ErrRateLimited
	case http.StatusUnauthorized, http.StatusForbidden:
		return nil, rateLimit, fmt.Errorf("status %d: %w", resp.StatusCode, ErrUnauthorized)
	default:
		return nil, rateLimit, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	var activities []Activity
	if err := json.NewDecoder(resp.Body).Decode(&activities); err != nil {
		return nil, rateLimit, fmt.Errorf("decoding response: %w", err)
	}
	return activities, rateLimit, nil
}

// formatHeaders renders headers for trace logging with credentials redacted.
func formatHeaders(headers http.Header) string {
	keys := make([]string, 0, len(headers))
	for k := range headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		value := strings.Join(headers[k], ", ")
		switch strings.ToLower(k) {
		case "authorization", "cookie", "set-cookie":
			value = "[REDACTED]"
		}
		parts = append(parts, fmt.Sprintf("%s: %q", k, value))
	}
	return "{" + strings.Join(parts, ", ") + "}"
}
