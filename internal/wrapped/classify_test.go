package wrapped

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDistanceLandmark(t *testing.T) {
	t.Parallel()

	tests := []struct {
		km   float64
		want string
	}{
		{0, NoComparisonLabel},
		{49.9, NoComparisonLabel},
		{50, "Barcelona - Girona"},
		{75, "Barcelona - Girona"},
		{150, "Barcelona - Girona"},
		{150.1, "Barcelona - Perpignan"},
		{300, "Barcelona - Perpignan"},
		{450, "Barcelona - Madrid"},
		{1000, "Barcelona - Paris"},
		{1500, "Barcelona - Berlin"},
		{4000, "Barcelona - Moscow"},
		{7999.9, "Barcelona - New York"},
		{14000, "Barcelona - Tokyo"},
		{14000.1, NoComparisonLabel},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, DistanceLandmark(tt.km), "km=%v", tt.km)
	}
}

func TestElevationLandmark(t *testing.T) {
	t.Parallel()

	tests := []struct {
		m    float64
		want string
	}{
		{0, NoComparisonLabel},
		{49, NoComparisonLabel},
		{50, "Barcelona - Girona"},
		{150, "Barcelona - Girona"},
		{151, "Barcelona - Perpignan"},
		{300, "Barcelona - Perpignan"},
		{300.5, NoComparisonLabel},
		{12000, NoComparisonLabel},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, ElevationLandmark(tt.m), "m=%v", tt.m)
	}
}

func TestEverestEquivalent(t *testing.T) {
	t.Parallel()

	got, err := EverestEquivalent(17696, EverestHeightM)
	require.NoError(t, err)
	assert.Equal(t, 2.0, got)

	got, err = EverestEquivalent(1000, EverestHeightM)
	require.NoError(t, err)
	assert.Equal(t, 0.11, got)

	_, err = EverestEquivalent(1000, 0)
	require.ErrorIs(t, err, ErrInvalidReference)

	_, err = EverestEquivalent(1000, -1)
	require.ErrorIs(t, err, ErrInvalidReference)
}

func TestClassifySocial(t *testing.T) {
	t.Parallel()

	tests := []struct {
		ratio float64
		want  SocialStyle
	}{
		{0, SocialSolo},
		{1.75, SocialSolo},
		{1.751, SocialDuo},
		{2.75, SocialDuo},
		{2.76, SocialTrio},
		{3.75, SocialTrio},
		{3.751, SocialGroup},
		{12, SocialGroup},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, ClassifySocial(tt.ratio), "ratio=%v", tt.ratio)
	}
}

func TestSocialRatio(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 0.0, SocialRatio(1, 1))
	assert.Equal(t, 0.33, SocialRatio(4, 3))
	assert.Equal(t, 0.67, SocialRatio(5, 3))
	assert.Equal(t, 3.0, SocialRatio(8, 2))
}

func TestBucketForHour(t *testing.T) {
	t.Parallel()

	want := map[int]TimeOfDay{
		0: Night, 4: Night, 5: Morning, 11: Morning,
		12: Afternoon, 18: Afternoon, 19: Night, 23: Night,
	}
	for hour, bucket := range want {
		assert.Equal(t, bucket, BucketForHour(hour), "hour=%d", hour)
	}

	assert.Equal(t, "Early bird", TrainingProfileLabel("bogus"))
}

func TestBuildPodium_Slots(t *testing.T) {
	t.Parallel()

	breakdown := []SportCount{
		{Sport: ptr("Run"), Count: 1},
		{Sport: ptr("Ride"), Count: 3},
		{Sport: ptr("Swim"), Count: 3},
		{Sport: ptr("Hike"), Count: 2},
	}

	for n := 0; n <= len(breakdown); n++ {
		podium := BuildPodium(breakdown[:n])
		assert.Len(t, podium, PodiumSlots)

		filled := 0
		for _, slot := range podium {
			if slot.Sport != nil {
				filled++
			} else {
				assert.Zero(t, slot.Count)
			}
		}
		assert.Equal(t, min(n, PodiumSlots), filled, "n=%d", n)
	}

	podium := BuildPodium(breakdown)
	assert.Equal(t, "Ride", *podium[0].Sport)
	assert.Equal(t, "Swim", *podium[1].Sport)
	assert.Equal(t, "Hike", *podium[2].Sport)

	// input is left in first-seen order
	assert.Equal(t, "Run", *breakdown[0].Sport)
}

func TestDominant(t *testing.T) {
	t.Parallel()

	assert.Nil(t, Dominant(nil))
	got := Dominant([]SportCount{{Sport: ptr("Yoga"), Count: 2}, {Sport: ptr("Run"), Count: 2}})
	require.NotNil(t, got)
	assert.Equal(t, "Yoga", *got)
}

func TestFilterWindow(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	cutoff := WindowStart(now)
	justAfter := cutoff.Add(time.Second)
	offset := cutoff.Add(time.Second).In(time.FixedZone("CEST", 2*3600))

	records := []ActivityRecord{
		{ID: 1, StartDate: &cutoff},
		{ID: 2, StartDate: &justAfter},
		{ID: 3},
		{ID: 4, StartDate: ptr(now.Add(-time.Hour))},
		{ID: 5, StartDate: &offset},
		{ID: 6, StartDate: ptr(now.AddDate(-2, 0, 0))},
	}

	got := FilterWindow(records, now)
	ids := make([]int64, 0, len(got))
	for _, r := range got {
		ids = append(ids, r.ID)
	}
	assert.Equal(t, []int64{2, 4, 5}, ids)
	assert.Len(t, records, 6)

	assert.Empty(t, FilterWindow(nil, now))
	assert.Equal(t, now.Add(-365*24*time.Hour), cutoff)
}

func TestParseStartDate(t *testing.T) {
	t.Parallel()

	want := time.Date(2025, 3, 14, 6, 30, 0, 0, time.UTC)
	for _, raw := range []string{
		"2025-03-14T06:30:00Z",
		"2025-03-14T07:30:00+01:00",
		"2025-03-14T06:30:00.000Z",
		"2025-03-14 06:30:00",
		" 2025-03-14T06:30:00Z ",
	} {
		got := ParseStartDate(raw)
		require.NotNil(t, got, raw)
		assert.True(t, want.Equal(*got), raw)
		assert.Equal(t, time.UTC, got.Location(), raw)
	}

	assert.Nil(t, ParseStartDate(""))
	assert.Nil(t, ParseStartDate("yesterday"))
	assert.Nil(t, ParseStartDate("2025-13-40T00:00:00Z"))
}

func TestActivityRecord_Sport(t *testing.T) {
	t.Parallel()

	assert.Equal(t, UnknownSport, ActivityRecord{}.Sport())
	assert.Equal(t, "Run", ActivityRecord{SportType: " Run "}.Sport())
	assert.False(t, ActivityRecord{SportType: ""}.hasKnownSport())
	assert.True(t, ActivityRecord{SportType: "VirtualRide"}.hasKnownSport())
}
