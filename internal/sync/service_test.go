package sync

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/joshdurbin/strava-wrapped/internal/db"
	"github.com/joshdurbin/strava-wrapped/internal/strava"
	"github.com/joshdurbin/strava-wrapped/internal/wrapped"
)

type staticToken struct {
	token string
	err   error
}

func (s staticToken) GetValidAccessToken(context.Context) (string, error) {
	return s.token, s.err
}

func testQueries(t *testing.T) *db.Queries {
	t.Helper()

	sqlDB, err := db.OpenAndMigrate(context.Background(), filepath.Join(t.TempDir(), "sync.db"))
	if err != nil {
		t.Fatalf("failed to open db: %v", err)
	}
	t.Cleanup(func() { sqlDB.Close() })
	return db.New(sqlDB)
}

// fakeStrava serves older on full syncs and newer when an after parameter is present.
func fakeStrava(t *testing.T, older, newer []strava.Activity, lastAfter *int64) *httptest.Server {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer test-token" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		after, _ := strconv.ParseInt(r.URL.Query().Get("after"), 10, 64)
		atomic.StoreInt64(lastAfter, after)

		w.Header().Set("Content-Type", "application/json")
		if r.URL.Query().Get("page") != "1" {
			json.NewEncoder(w).Encode([]strava.Activity{})
			return
		}
		if after > 0 {
			json.NewEncoder(w).Encode(newer)
			return
		}
		json.NewEncoder(w).Encode(older)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testRetryConfig() strava.RetryConfig {
	return strava.RetryConfig{MaxRetries: 0, MinWait: time.Millisecond, MaxWait: time.Millisecond}
}

func TestSyncDelta(t *testing.T) {
	ctx := context.Background()
	watts := 210.0

	older := []strava.Activity{
		{ID: 2, Name: "Evening Ride", SportType: "Ride", Distance: 25000, WeightedAverageWatts: &watts,
			StartDate: time.Date(2025, 1, 14, 17, 0, 0, 0, time.UTC)},
		{ID: 1, Name: "Morning Run", SportType: "Run", Distance: 5000,
			StartDate: time.Date(2025, 1, 10, 8, 0, 0, 0, time.UTC)},
	}
	newer := []strava.Activity{
		{ID: 3, Name: "Swim", SportType: "Swim", Distance: 1500,
			StartDate: time.Date(2025, 1, 20, 6, 0, 0, 0, time.UTC)},
	}

	var lastAfter int64
	srv := fakeStrava(t, older, newer, &lastAfter)
	queries := testQueries(t)
	service := NewService(queries, staticToken{token: "test-token"}, WithAPIURL(srv.URL), WithRetryConfig(testRetryConfig()))

	var fetchCalls, saveCalls int
	res, err := service.SyncDelta(ctx,
		func(strava.FetchResult) { fetchCalls++ },
		func(current, total int, name string) { saveCalls++ },
	)
	if err != nil {
		t.Fatalf("first sync failed: %v", err)
	}
	if !res.Full || res.Fetched != 2 || res.Saved != 2 {
		t.Errorf("first sync = %+v, want full sync saving 2", res)
	}
	if fetchCalls != 2 {
		t.Errorf("expected 2 fetch callbacks (data page + empty page), got %d", fetchCalls)
	}
	if saveCalls != 2 {
		t.Errorf("expected 2 save callbacks, got %d", saveCalls)
	}

	latest, err := service.LatestActivityDate(ctx)
	if err != nil {
		t.Fatalf("latest activity date: %v", err)
	}
	if !latest.Equal(older[0].StartDate) {
		t.Errorf("latest = %v, want %v", latest, older[0].StartDate)
	}

	res, err = service.SyncDelta(ctx, nil, nil)
	if err != nil {
		t.Fatalf("delta sync failed: %v", err)
	}
	if res.Full || res.Saved != 1 {
		t.Errorf("delta sync = %+v, want 1 saved", res)
	}
	if got := atomic.LoadInt64(&lastAfter); got != older[0].StartDate.Unix() {
		t.Errorf("after = %d, want %d", got, older[0].StartDate.Unix())
	}
	if !res.Since.Equal(older[0].StartDate) {
		t.Errorf("since = %v, want %v", res.Since, older[0].StartDate)
	}

	count, err := queries.CountActivities(ctx)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 3 {
		t.Errorf("expected 3 activities, got %d", count)
	}

	records, err := service.LoadRecords(ctx, time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("load records: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("expected 3 records, got %d", len(records))
	}
	wantOrder := []int64{3, 2, 1}
	for i, r := range records {
		if r.ID != wantOrder[i] {
			t.Errorf("records[%d].ID = %d, want %d", i, r.ID, wantOrder[i])
		}
	}
	if records[1].WeightedAverageWatts == nil || *records[1].WeightedAverageWatts != watts {
		t.Errorf("expected watts to survive the round trip, got %v", records[1].WeightedAverageWatts)
	}
}

func TestSyncDeltaWindowResync(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	start := time.Date(2026, 2, 20, 7, 0, 0, 0, time.UTC)

	queries := testQueries(t)
	if err := queries.CreateActivity(ctx, ConvertActivityToParams(strava.Activity{
		ID: 5, Name: "Hill Repeats", SportType: "Run", StartDate: start, KudosCount: 2,
	})); err != nil {
		t.Fatalf("seed activity: %v", err)
	}

	refreshed := []strava.Activity{
		{ID: 5, Name: "Hill Repeats", SportType: "Run", StartDate: start, KudosCount: 12},
	}
	var lastAfter int64
	srv := fakeStrava(t, nil, refreshed, &lastAfter)

	clock := now
	service := NewService(queries, staticToken{token: "test-token"},
		WithAPIURL(srv.URL), WithRetryConfig(testRetryConfig()),
		WithClock(func() time.Time { return clock }))

	if _, err := service.SyncDelta(ctx, nil, nil); err != nil {
		t.Fatalf("first delta sync failed: %v", err)
	}
	if got, want := atomic.LoadInt64(&lastAfter), wrapped.WindowStart(now).Unix(); got != want {
		t.Errorf("first delta after = %d, want window start %d", got, want)
	}
	a, err := queries.GetActivity(ctx, 5)
	if err != nil {
		t.Fatalf("get activity: %v", err)
	}
	if a.KudosCount != 12 {
		t.Errorf("kudos = %d, want 12 after window resync", a.KudosCount)
	}

	if _, err := service.SyncDelta(ctx, nil, nil); err != nil {
		t.Fatalf("second delta sync failed: %v", err)
	}
	if got := atomic.LoadInt64(&lastAfter); got != start.Unix() {
		t.Errorf("second delta after = %d, want newest stored %d", got, start.Unix())
	}

	clock = now.Add(DefaultWindowResync + time.Minute)
	if _, err := service.SyncDelta(ctx, nil, nil); err != nil {
		t.Fatalf("third delta sync failed: %v", err)
	}
	if got, want := atomic.LoadInt64(&lastAfter), wrapped.WindowStart(clock).Unix(); got != want {
		t.Errorf("third delta after = %d, want window start %d", got, want)
	}
}

func TestSyncDeltaWindowResyncDisabled(t *testing.T) {
	ctx := context.Background()
	start := time.Date(2026, 2, 20, 7, 0, 0, 0, time.UTC)

	queries := testQueries(t)
	if err := queries.CreateActivity(ctx, ConvertActivityToParams(strava.Activity{
		ID: 5, Name: "Hill Repeats", SportType: "Run", StartDate: start,
	})); err != nil {
		t.Fatalf("seed activity: %v", err)
	}

	var lastAfter int64
	srv := fakeStrava(t, nil, nil, &lastAfter)
	service := NewService(queries, staticToken{token: "test-token"},
		WithAPIURL(srv.URL), WithRetryConfig(testRetryConfig()), WithWindowResync(0))

	if _, err := service.SyncDelta(ctx, nil, nil); err != nil {
		t.Fatalf("delta sync failed: %v", err)
	}
	if got := atomic.LoadInt64(&lastAfter); got != start.Unix() {
		t.Errorf("after = %d, want newest stored %d", got, start.Unix())
	}
}

func TestSyncDeltaOutlivesCancelledCaller(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	var startedOnce atomic.Bool

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Query().Get("page") != "1" {
			json.NewEncoder(w).Encode([]strava.Activity{})
			return
		}
		if startedOnce.CompareAndSwap(false, true) {
			close(started)
		}
		<-release
		json.NewEncoder(w).Encode([]strava.Activity{
			{ID: 7, Name: "Long Ride", SportType: "Ride", StartDate: time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)},
		})
	}))
	t.Cleanup(srv.Close)

	queries := testQueries(t)
	service := NewService(queries, staticToken{token: "test-token"}, WithAPIURL(srv.URL), WithRetryConfig(testRetryConfig()))

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() {
		_, err := service.SyncDelta(ctx, nil, nil)
		errc <- err
	}()

	<-started
	cancel()
	if err := <-errc; !errors.Is(err, context.Canceled) {
		t.Fatalf("cancelled caller error = %v, want context.Canceled", err)
	}
	close(release)

	deadline := time.Now().Add(5 * time.Second)
	for {
		count, err := queries.CountActivities(context.Background())
		if err != nil {
			t.Fatalf("count: %v", err)
		}
		if count == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("shared sync did not finish after its first caller gave up")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestSyncUpsertsExisting(t *testing.T) {
	ctx := context.Background()

	older := []strava.Activity{
		{ID: 1, Name: "Renamed Run", SportType: "Run", StartDate: time.Date(2025, 1, 10, 8, 0, 0, 0, time.UTC)},
	}
	var lastAfter int64
	srv := fakeStrava(t, older, nil, &lastAfter)
	queries := testQueries(t)

	if err := queries.CreateActivity(ctx, ConvertActivityToParams(strava.Activity{
		ID: 1, Name: "Run", SportType: "Run", StartDate: older[0].StartDate,
	})); err != nil {
		t.Fatalf("seed activity: %v", err)
	}

	service := NewService(queries, staticToken{token: "test-token"}, WithAPIURL(srv.URL), WithRetryConfig(testRetryConfig()))
	if _, err := service.Sync(ctx, nil, nil); err != nil {
		t.Fatalf("sync failed: %v", err)
	}

	a, err := queries.GetActivity(ctx, 1)
	if err != nil {
		t.Fatalf("get activity: %v", err)
	}
	if a.Name != "Renamed Run" {
		t.Errorf("expected upserted name 'Renamed Run', got %q", a.Name)
	}
	count, _ := queries.CountActivities(ctx)
	if count != 1 {
		t.Errorf("expected 1 activity, got %d", count)
	}
}

func TestSyncTokenError(t *testing.T) {
	errNoToken := errors.New("no token")
	service := NewService(testQueries(t), staticToken{err: errNoToken})

	_, err := service.SyncDelta(context.Background(), nil, nil)
	if !errors.Is(err, errNoToken) {
		t.Errorf("SyncDelta() error = %v, want %v", err, errNoToken)
	}
}

func TestSyncUnauthorized(t *testing.T) {
	var lastAfter int64
	srv := fakeStrava(t, nil, nil, &lastAfter)
	service := NewService(testQueries(t), staticToken{token: "wrong"}, WithAPIURL(srv.URL), WithRetryConfig(testRetryConfig()))

	_, err := service.Sync(context.Background(), nil, nil)
	if !errors.Is(err, strava.ErrUnauthorized) {
		t.Errorf("Sync() error = %v, want ErrUnauthorized", err)
	}
}
