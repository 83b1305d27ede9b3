package trial

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClock_State(t *testing.T) {
	now := time.Date(2025, 3, 15, 12, 0, 0, 0, time.Local)

	tests := []struct {
		name       string
		elapsed    time.Duration
		wantDays   int
		wantActive bool
	}{
		{name: "just started", elapsed: time.Minute, wantDays: 30, wantActive: true},
		{name: "one day in", elapsed: Day, wantDays: 30, wantActive: true},
		{name: "two days in", elapsed: 2 * Day, wantDays: 29, wantActive: true},
		{name: "29 days", elapsed: 29 * Day, wantDays: 2, wantActive: true},
		{name: "29 and a half days", elapsed: 29*Day + 12*time.Hour, wantDays: 1, wantActive: true},
		{name: "one second before expiry", elapsed: 30*Day - time.Second, wantDays: 1, wantActive: true},
		{name: "ten days and an hour", elapsed: 10*Day + time.Hour, wantDays: 20, wantActive: true},
		{name: "two days and a minute", elapsed: 2*Day + time.Minute, wantDays: 28, wantActive: true},
		{name: "exactly at expiry", elapsed: 30 * Day, wantDays: 0, wantActive: false},
		{name: "31 days", elapsed: 31 * Day, wantDays: 0, wantActive: false},
		{name: "a year", elapsed: 365 * Day, wantDays: 0, wantActive: false},
		{name: "start in the future", elapsed: -10 * Day, wantDays: 30, wantActive: true},
	}

	clock := NewClock(DefaultDuration)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := Record{Started: true, StartDate: now.Add(-tt.elapsed)}
			st := clock.State(rec, now)

			assert.Equal(t, tt.wantDays, st.DaysRemaining)
			assert.Equal(t, tt.wantActive, st.Active)
			assert.True(t, st.Started)
			assert.False(t, st.CanStart)
			assert.True(t, st.ExpireDate.Equal(rec.StartDate.Add(30*Day)))
			assert.GreaterOrEqual(t, st.Remaining, time.Duration(0))
			assert.Equal(t, st.Active, st.DaysRemaining > 0)
		})
	}
}

func TestClock_StateMatchesWholeDayFormula(t *testing.T) {
	now := time.Date(2025, 6, 1, 8, 30, 0, 0, time.UTC)
	clock := NewClock(0)

	for d := 0; d <= 40; d++ {
		start := now.Add(-time.Duration(d) * Day)
		st := clock.State(Record{Started: true, StartDate: start}, now)

		want := 0
		if d < 30 {
			want = min(30-d+1, 30)
		}
		assert.Equal(t, want, st.DaysRemaining, "d=%d", d)
	}
}

func TestClock_NotStarted(t *testing.T) {
	st := ComputeState(Record{}, time.Now())
	assert.False(t, st.Active)
	assert.False(t, st.Started)
	assert.True(t, st.CanStart)
	assert.Zero(t, st.DaysRemaining)
	assert.True(t, st.StartDate.IsZero())
}

func TestClock_CustomDuration(t *testing.T) {
	now := time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC)
	clock := NewClock(7 * Day)
	assert.Equal(t, 7*Day, clock.Duration())

	st := clock.State(Record{Started: true, StartDate: now.Add(-6 * Day)}, now)
	assert.Equal(t, 2, st.DaysRemaining)
	assert.Equal(t, 24, st.HoursRemaining())
}

func TestActivate(t *testing.T) {
	now := time.Date(2025, 2, 3, 4, 5, 6, 789, time.Local)
	rec := Activate(now)
	assert.True(t, rec.Started)
	assert.Equal(t, time.Date(2025, 2, 3, 4, 5, 6, 0, time.Local), rec.StartDate)

	// activation never looks at prior state
	again := NewClock(Day).Activate(now.Add(time.Hour))
	assert.True(t, again.StartDate.After(rec.StartDate))
}

func TestState_MarshalJSON(t *testing.T) {
	start := time.Date(2025, 1, 1, 9, 0, 0, 0, time.Local)
	st := ComputeState(Record{Started: true, StartDate: start}, start.Add(Day))

	data, err := json.Marshal(st)
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, true, got["active"])
	assert.Equal(t, "2025-01-01 09:00:00", got["start_date"])
	assert.Equal(t, "2025-01-31 09:00:00", got["expire_date"])
	assert.EqualValues(t, 30, got["days_remaining"])
	assert.EqualValues(t, 29*24, got["hours_remaining"])
	assert.Equal(t, false, got["can_start"])

	data, err = json.Marshal(ComputeState(Record{}, start))
	require.NoError(t, err)
	assert.JSONEq(t, `{"active":false,"started":false,"start_date":null,"expire_date":null,
		"days_remaining":0,"hours_remaining":0,"can_start":true}`, string(data))
}
