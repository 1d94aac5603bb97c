package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestAddMonthsClamped(t *testing.T) {
	cases := []struct {
		name   string
		anchor int
		from   time.Time
		want   time.Time
	}{
		{"mid month", 15, date(2025, 3, 15), date(2025, 4, 15)},
		{"jan 31 to feb non leap", 31, date(2025, 1, 31), date(2025, 2, 28)},
		{"jan 31 to feb leap", 31, date(2024, 1, 31), date(2024, 2, 29)},
		{"feb clamped back to anchor", 31, date(2025, 2, 28), date(2025, 3, 31)},
		{"mar 31 to apr", 31, date(2025, 3, 31), date(2025, 4, 30)},
		{"year rollover", 31, date(2025, 12, 31), date(2026, 1, 31)},
		{"anchor 30 through feb", 30, date(2025, 2, 28), date(2025, 3, 30)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, AddMonthsClamped(tc.anchor, tc.from, 1))
		})
	}
}

func TestNextPeriodChainsFromEnd(t *testing.T) {
	start, end := NextPeriod(31, date(2025, 1, 31))
	assert.Equal(t, date(2025, 1, 31), start)
	assert.Equal(t, date(2025, 2, 28), end)

	start, end = NextPeriod(31, end)
	assert.Equal(t, date(2025, 2, 28), start)
	assert.Equal(t, date(2025, 3, 31), end)
}

func TestCanTransition(t *testing.T) {
	assert.True(t, CanTransition(SubscriptionStatusActive, SubscriptionStatusPastDue))
	assert.True(t, CanTransition(SubscriptionStatusPastDue, SubscriptionStatusActive))
	assert.True(t, CanTransition(SubscriptionStatusPastDue, SubscriptionStatusCancelled))
	assert.False(t, CanTransition(SubscriptionStatusCancelled, SubscriptionStatusActive))
}
