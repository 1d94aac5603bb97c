package domain

import "math"

// UsagePercent is consumption against the included allowance, rounded to two
// decimals for display. It is not clamped and exceeds 100 in overage. A zero
// allowance reports 0. Alert tiers never read this value; see AlertFor.
func UsagePercent(included, remaining int64) float64 {
	if included <= 0 {
		return 0
	}
	pct := float64(included-remaining) / float64(included) * 100
	return math.Round(pct*100) / 100
}

// OverageCredits is the magnitude of a negative balance.
func OverageCredits(remaining int64) int64 {
	if remaining < 0 {
		return -remaining
	}
	return 0
}

// AlertFor derives the advisory tier from the raw balance. Overage wins over
// percentage tiers.
func AlertFor(included, remaining int64, warningPct, criticalPct float64) Alert {
	switch {
	case remaining < 0:
		return AlertOverage
	case usedAbove(included, remaining, criticalPct):
		return AlertCritical
	case usedAbove(included, remaining, warningPct):
		return AlertWarning
	default:
		return AlertNone
	}
}

// usedAbove reports (included-remaining)/included*100 > pct without dividing,
// so 90.004% is above 90 and exactly 90% is not.
func usedAbove(included, remaining int64, pct float64) bool {
	if included <= 0 {
		return false
	}
	return float64(included-remaining)*100 > pct*float64(included)
}

// Consistency compares the cached balance against the event log.
type Consistency struct {
	IncludedCredits  int64 `json:"included_credits"`
	RemainingCredits int64 `json:"remaining_credits"`
	EventCredits     int64 `json:"event_credits"`
	// Drift is cached consumption minus logged consumption. Zero when the
	// cache matches the log.
	Drift int64 `json:"drift"`
}

func ComputeConsistency(included, remaining, eventCredits int64) Consistency {
	return Consistency{
		IncludedCredits:  included,
		RemainingCredits: remaining,
		EventCredits:     eventCredits,
		Drift:            (included - remaining) - eventCredits,
	}
}

func (c Consistency) Consistent() bool { return c.Drift == 0 }
