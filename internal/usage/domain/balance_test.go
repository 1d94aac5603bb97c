package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAlertForUsesUnroundedUsage(t *testing.T) {
	tests := []struct {
		name      string
		included  int64
		remaining int64
		want      Alert
	}{
		{name: "exactly critical", included: 250000, remaining: 25000, want: AlertWarning},
		{name: "just past critical", included: 250000, remaining: 24990, want: AlertCritical},
		{name: "exactly warning", included: 250000, remaining: 62500, want: AlertNone},
		{name: "just past warning", included: 250000, remaining: 62490, want: AlertWarning},
		{name: "zero balance", included: 250000, remaining: 0, want: AlertCritical},
		{name: "overage", included: 250000, remaining: -1, want: AlertOverage},
		{name: "no allowance", included: 0, remaining: 0, want: AlertNone},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, AlertFor(tt.included, tt.remaining, 75, 90))
		})
	}
}

func TestUsagePercentRoundsForDisplay(t *testing.T) {
	assert.Equal(t, 90.0, UsagePercent(250000, 24990))
	assert.Equal(t, 92.2, UsagePercent(250000, 19500))
	assert.Equal(t, 100.2, UsagePercent(250000, -500))
	assert.Equal(t, 0.0, UsagePercent(0, 10))
}
