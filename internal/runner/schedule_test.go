package runner

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func ts(y int, m time.Month, d, h, min, s int) time.Time {
	return time.Date(y, m, d, h, min, s, 0, time.UTC)
}

func TestSchedule_Next(t *testing.T) {
	tests := []struct {
		name     string
		schedule Schedule
		after    time.Time
		want     time.Time
	}{
		{"daily later today", DailyAt(9, 0), ts(2024, 6, 10, 8, 0, 0), ts(2024, 6, 10, 9, 0, 0)},
		{"daily exactly at time", DailyAt(9, 0), ts(2024, 6, 10, 9, 0, 0), ts(2024, 6, 11, 9, 0, 0)},
		{"daily month end", DailyAt(9, 0), ts(2024, 6, 30, 10, 0, 0), ts(2024, 7, 1, 9, 0, 0)},
		// 2024-06-10 понедельник
		{"weekly same day before", WeeklyOn(time.Monday, 10, 0), ts(2024, 6, 10, 9, 0, 0), ts(2024, 6, 10, 10, 0, 0)},
		{"weekly same day after", WeeklyOn(time.Monday, 10, 0), ts(2024, 6, 10, 11, 0, 0), ts(2024, 6, 17, 10, 0, 0)},
		{"weekly sunday", WeeklyOn(time.Sunday, 0, 30), ts(2024, 6, 10, 11, 0, 0), ts(2024, 6, 16, 0, 30, 0)},
		{"monthly this month", MonthlyOn(15, 12, 0), ts(2024, 6, 10, 0, 0, 0), ts(2024, 6, 15, 12, 0, 0)},
		{"monthly next month", MonthlyOn(1, 12, 0), ts(2024, 6, 1, 12, 0, 1), ts(2024, 7, 1, 12, 0, 0)},
		{"monthly december", MonthlyOn(1, 0, 0), ts(2024, 12, 5, 0, 0, 0), ts(2025, 1, 1, 0, 0, 0)},
		{"hourly this hour", Hourly(15), ts(2024, 6, 10, 9, 10, 0), ts(2024, 6, 10, 9, 15, 0)},
		{"hourly next hour", Hourly(0), ts(2024, 6, 10, 23, 0, 0), ts(2024, 6, 11, 0, 0, 0)},
		{"non utc input", DailyAt(9, 0), time.Date(2024, 6, 10, 11, 0, 0, 0, time.FixedZone("MSK", 3*3600)), ts(2024, 6, 11, 9, 0, 0)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.schedule.Next(tt.after))
		})
	}
}

func TestSchedule_Validate(t *testing.T) {
	tests := []struct {
		name     string
		schedule Schedule
		wantErr  bool
	}{
		{"daily ok", DailyAt(23, 59), false},
		{"hour too big", DailyAt(24, 0), true},
		{"negative minute", Hourly(-1), true},
		{"minute too big", Hourly(60), true},
		{"weekly ok", WeeklyOn(time.Saturday, 0, 0), false},
		{"weekday out of range", WeeklyOn(time.Weekday(7), 0, 0), true},
		{"monthly day 28", MonthlyOn(28, 0, 0), false},
		{"monthly day 29", MonthlyOn(29, 0, 0), true},
		{"monthly day 0", MonthlyOn(0, 0, 0), true},
		{"zero schedule", Schedule{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.schedule.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidTrigger)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestSchedule_String(t *testing.T) {
	assert.Equal(t, "daily at 09:05 UTC", DailyAt(9, 5).String())
	assert.Equal(t, "weekly on Monday at 10:00 UTC", WeeklyOn(time.Monday, 10, 0).String())
	assert.Equal(t, "monthly on day 1 at 12:00 UTC", MonthlyOn(1, 12, 0).String())
	assert.Equal(t, "hourly at :00", Hourly(0).String())
}
