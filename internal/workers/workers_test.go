package workers

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/joshdurbin/strava-wrapped/internal/auth"
	"github.com/joshdurbin/strava-wrapped/internal/db"
	"github.com/joshdurbin/strava-wrapped/internal/metrics"
	"github.com/joshdurbin/strava-wrapped/internal/strava"
	syncsvc "github.com/joshdurbin/strava-wrapped/internal/sync"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestFormatDate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		input    interface{}
		expected string
	}{
		{
			name:     "nil",
			input:    nil,
			expected: "unknown",
		},
		{
			name:     "string",
			input:    "2024-01-15T10:30:00Z",
			expected: "2024-01-15T10:30:00Z",
		},
		{
			name:     "byte slice",
			input:    []byte("2024-01-15T10:30:00Z"),
			expected: "2024-01-15T10:30:00Z",
		},
		{
			name:     "time.Time",
			input:    time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC),
			expected: "2024-01-15T10:30:00Z",
		},
		{
			name:     "time.Time in another zone",
			input:    time.Date(2024, 1, 15, 11, 30, 0, 0, time.FixedZone("CET", 3600)),
			expected: "2024-01-15T10:30:00Z",
		},
		{
			name:     "sql.NullTime valid",
			input:    sql.NullTime{Time: time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC), Valid: true},
			expected: "2024-01-15T10:30:00Z",
		},
		{
			name:     "sql.NullTime invalid",
			input:    sql.NullTime{Valid: false},
			expected: "unknown",
		},
		{
			name:     "unknown type",
			input:    123,
			expected: "unknown",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			result := formatDate(tt.input)
			if result != tt.expected {
				t.Errorf("formatDate(%v) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}

type fakeRefresher struct {
	mu        sync.Mutex
	calls     int
	windows   []time.Duration
	refreshed bool
	err       error
}

func (f *fakeRefresher) RefreshIfExpiring(_ context.Context, d time.Duration) (*auth.StoredTokens, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.windows = append(f.windows, d)
	if f.err != nil {
		return nil, false, f.err
	}
	return &auth.StoredTokens{AccessToken: "a", RefreshToken: "r", ExpiresAt: time.Now().Add(6 * time.Hour).Unix()}, f.refreshed, nil
}

func (f *fakeRefresher) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func TestNewTokenRefresher(t *testing.T) {
	t.Parallel()

	refresher := NewTokenRefresher(nil, 30*time.Minute, nil)

	if refresher.interval != 30*time.Minute {
		t.Errorf("expected interval 30m, got %v", refresher.interval)
	}
	if refresher.metrics == nil {
		t.Fatal("expected default metrics manager")
	}
	if desc := refresher.metrics.CounterTokenRefreshes.WithLabelValues(metrics.ResultOK).Desc().String(); !strings.Contains(desc, "strava_wrapped_server_") {
		t.Errorf("default manager should use the production subsystem, got %s", desc)
	}
}

func TestTokenRefresherCheck(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		refresher *fakeRefresher
		wantOK    float64
		wantError float64
	}{
		{"still valid", &fakeRefresher{}, 0, 0},
		{"refreshed", &fakeRefresher{refreshed: true}, 1, 0},
		{"not authenticated", &fakeRefresher{err: auth.ErrNotAuthenticated}, 0, 0},
		{"refresh failed", &fakeRefresher{err: errors.New("token endpoint down")}, 0, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			m := metrics.NewTestManager()
			NewTokenRefresher(tt.refresher, time.Hour, m).checkAndRefresh(context.Background())

			if got := tt.refresher.windows; len(got) != 1 || got[0] != refreshWindow {
				t.Errorf("windows = %v, want [%v]", got, refreshWindow)
			}
			if got := testutil.ToFloat64(m.CounterTokenRefreshes.WithLabelValues(metrics.ResultOK)); got != tt.wantOK {
				t.Errorf("ok refreshes = %v, want %v", got, tt.wantOK)
			}
			if got := testutil.ToFloat64(m.CounterTokenRefreshes.WithLabelValues(metrics.ResultError)); got != tt.wantError {
				t.Errorf("failed refreshes = %v, want %v", got, tt.wantError)
			}
		})
	}
}

func TestTokenRefresherRunStops(t *testing.T) {
	t.Parallel()

	refresher := &fakeRefresher{}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		NewTokenRefresher(refresher, time.Hour, nil).Run(ctx)
		close(done)
	}()

	waitFor(t, func() bool { return refresher.Calls() == 1 })
	cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("refresher did not stop")
	}
}

type fakeSyncer struct {
	mu     sync.Mutex
	calls  int
	result syncsvc.Result
	err    error
}

func (f *fakeSyncer) SyncDelta(_ context.Context, fetch syncsvc.FetchProgressCallback, _ syncsvc.SaveProgressCallback) (syncsvc.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if fetch != nil {
		fetch(strava.FetchResult{Page: 1, TotalFetched: f.result.Fetched, RateLimit: f.result.RateLimit})
	}
	return f.result, f.err
}

func (f *fakeSyncer) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type countingInvalidator struct {
	mu    sync.Mutex
	calls int
}

func (c *countingInvalidator) Invalidate(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	return nil
}

func TestNewActivitySyncer(t *testing.T) {
	t.Parallel()

	syncer := NewActivitySyncer(nil, nil, 15*time.Minute, nil)

	if syncer.interval != 15*time.Minute {
		t.Errorf("expected interval 15m, got %v", syncer.interval)
	}
	if desc := syncer.metrics.CounterActivitiesSynced.Desc().String(); strings.Contains(desc, "test_server") {
		t.Errorf("default manager should not use the test subsystem, got %s", desc)
	}
}

func TestSyncOnce(t *testing.T) {
	t.Parallel()

	rl := strava.RateLimitInfo{Usage15Min: 12, Limit15Min: 200, UsageDaily: 340, LimitDaily: 2000}
	fake := &fakeSyncer{result: syncsvc.Result{Fetched: 3, Saved: 3, RateLimit: rl}}
	reports := &countingInvalidator{}
	m := metrics.NewTestManager()

	res, err := NewActivitySyncer(fake, reports, time.Hour, m).SyncOnce(context.Background())
	if err != nil {
		t.Fatalf("SyncOnce() error = %v", err)
	}
	if res.Saved != 3 {
		t.Errorf("Saved = %d, want 3", res.Saved)
	}
	if reports.calls != 1 {
		t.Errorf("invalidations = %d, want 1", reports.calls)
	}
	if got := testutil.ToFloat64(m.CounterActivitiesSynced); got != 3 {
		t.Errorf("activities synced = %v, want 3", got)
	}
	if got := testutil.ToFloat64(m.CounterSyncs.WithLabelValues(metrics.ResultOK)); got != 1 {
		t.Errorf("ok syncs = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.GaugeRateLimitUsage.WithLabelValues("daily")); got != 340 {
		t.Errorf("daily usage = %v, want 340", got)
	}
	if got := testutil.ToFloat64(m.GaugeLastSyncUnix); got == 0 {
		t.Error("expected last sync timestamp to be set")
	}
}

func TestSyncOnceNothingNew(t *testing.T) {
	t.Parallel()

	reports := &countingInvalidator{}
	_, err := NewActivitySyncer(&fakeSyncer{}, reports, time.Hour, nil).SyncOnce(context.Background())
	if err != nil {
		t.Fatalf("SyncOnce() error = %v", err)
	}
	if reports.calls != 0 {
		t.Errorf("invalidations = %d, want 0", reports.calls)
	}
}

func TestSyncOncePartialFailure(t *testing.T) {
	t.Parallel()

	wantErr := errors.New("disk full")
	fake := &fakeSyncer{result: syncsvc.Result{Fetched: 5, Saved: 2}, err: wantErr}
	reports := &countingInvalidator{}
	m := metrics.NewTestManager()

	res, err := NewActivitySyncer(fake, reports, time.Hour, m).SyncOnce(context.Background())
	if !errors.Is(err, wantErr) {
		t.Fatalf("SyncOnce() error = %v, want %v", err, wantErr)
	}
	if res.Saved != 2 {
		t.Errorf("Saved = %d, want 2", res.Saved)
	}
	if reports.calls != 1 {
		t.Errorf("invalidations = %d, want 1", reports.calls)
	}
	if got := testutil.ToFloat64(m.CounterSyncs.WithLabelValues(metrics.ResultError)); got != 1 {
		t.Errorf("failed syncs = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.GaugeLastSyncUnix); got != 0 {
		t.Errorf("last sync = %v, want 0", got)
	}
}

func TestActivitySyncerRunStops(t *testing.T) {
	t.Parallel()

	fake := &fakeSyncer{err: auth.ErrNotAuthenticated}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		NewActivitySyncer(fake, nil, time.Hour, nil).Run(ctx)
		close(done)
	}()

	waitFor(t, func() bool { return fake.Calls() == 1 })
	cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("syncer did not stop")
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// setupTestDB creates a migrated temporary SQLite database for testing
func setupTestDB(t *testing.T) (*db.Queries, *sql.DB) {
	t.Helper()

	sqlDB, err := db.OpenAndMigrate(context.Background(), filepath.Join(t.TempDir(), "workers.db"))
	if err != nil {
		t.Fatalf("failed to open db: %v", err)
	}
	t.Cleanup(func() { sqlDB.Close() })

	return db.New(sqlDB), sqlDB
}

func TestLogDatabaseStatsWithData(t *testing.T) {
	t.Parallel()

	queries, _ := setupTestDB(t)
	ctx := context.Background()

	now := time.Now().UTC()
	for i := 1; i <= 5; i++ {
		err := queries.CreateActivity(ctx, db.CreateActivityParams{
			ID:        int64(i),
			Name:      "Activity",
			StartDate: sql.NullTime{Time: now.AddDate(0, 0, -100*i), Valid: true},
		})
		if err != nil {
			t.Fatalf("failed to insert: %v", err)
		}
	}

	// Should not panic
	LogDatabaseStats(ctx, queries, now)
}

func TestLogDatabaseStatsEmpty(t *testing.T) {
	t.Parallel()

	queries, _ := setupTestDB(t)

	// Should not panic with empty database
	LogDatabaseStats(context.Background(), queries, time.Now())
}
