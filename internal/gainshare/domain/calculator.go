package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type Direction string

const (
	HigherIsBetter Direction = "higher_is_better"
	LowerIsBetter  Direction = "lower_is_better"
)

// Formula names the savings heuristic for a metric.
type Formula string

const (
	FormulaAvailability Formula = "availability"
	FormulaMTBF         Formula = "mtbf"
	FormulaMTTR         Formula = "mttr"
	FormulaLinear       Formula = "linear"
)

const (
	MetricStatusOK             = "ok"
	MetricStatusNoBaseline     = "no_baseline"
	MetricStatusNoMeasurements = "no_measurements"
	MetricStatusNoImprovement  = "no_improvement"
)

type MetricModel struct {
	Name      string
	Direction Direction
	Formula   Formula
}

// MetricInput is one metric's data for the period. Actual is the average of
// Samples measurements and is meaningless when Samples is 0.
type MetricInput struct {
	Model    MetricModel
	Baseline *KPIBaseline
	Actual   decimal.Decimal
	Samples  int
}

type CalculationInput struct {
	PeriodStart time.Time
	PeriodEnd   time.Time
	Metrics     []MetricInput

	// ActualMTBF feeds the repair estimate for mttr. Nil when the period has
	// no mtbf samples.
	ActualMTBF              *decimal.Decimal
	DefaultRepairsPer30Days decimal.Decimal
}

type MetricReport struct {
	Metric        string           `json:"metric"`
	Status        string           `json:"status"`
	Direction     Direction        `json:"direction"`
	Formula       Formula          `json:"formula"`
	BaselineValue *decimal.Decimal `json:"baseline_value,omitempty"`
	ActualValue   *decimal.Decimal `json:"actual_value,omitempty"`
	Improvement   decimal.Decimal  `json:"improvement"`
	CostPerUnit   *decimal.Decimal `json:"cost_per_unit,omitempty"`
	Samples       int              `json:"samples"`
	Savings       decimal.Decimal  `json:"savings"`
}

type CalculationResult struct {
	PeriodHours decimal.Decimal
	Savings     decimal.Decimal
	Metrics     []MetricReport
}

var (
	hundred = decimal.NewFromInt(100)
	thirty  = decimal.NewFromInt(30)
)

// Calculate converts KPI improvements into savings. Each metric contributes
// max(0, savings) rounded to cents, independently of the others.
func Calculate(in CalculationInput) CalculationResult {
	hours := decimal.NewFromFloat(in.PeriodEnd.Sub(in.PeriodStart).Hours())
	result := CalculationResult{PeriodHours: hours, Savings: decimal.Zero}

	for _, m := range in.Metrics {
		report := MetricReport{
			Metric:      m.Model.Name,
			Direction:   m.Model.Direction,
			Formula:     m.Model.Formula,
			Samples:     m.Samples,
			Improvement: decimal.Zero,
			Savings:     decimal.Zero,
		}
		switch {
		case m.Baseline == nil:
			report.Status = MetricStatusNoBaseline
		case m.Samples == 0:
			report.Status = MetricStatusNoMeasurements
			report.BaselineValue = ptr(m.Baseline.BaselineValue)
			report.CostPerUnit = ptr(m.Baseline.CostPerUnit)
		default:
			baseline := m.Baseline.BaselineValue
			report.BaselineValue = ptr(baseline)
			report.ActualValue = ptr(m.Actual)
			report.CostPerUnit = ptr(m.Baseline.CostPerUnit)

			improvement := m.Actual.Sub(baseline)
			if m.Model.Direction == LowerIsBetter {
				improvement = baseline.Sub(m.Actual)
			}
			report.Improvement = improvement

			if !improvement.IsPositive() {
				report.Status = MetricStatusNoImprovement
				break
			}
			savings := metricSavings(m, improvement, hours, in)
			if savings.IsNegative() {
				savings = decimal.Zero
			}
			report.Savings = savings.Round(2)
			report.Status = MetricStatusOK
		}
		result.Savings = result.Savings.Add(report.Savings)
		result.Metrics = append(result.Metrics, report)
	}
	return result
}

func metricSavings(m MetricInput, improvement, hours decimal.Decimal, in CalculationInput) decimal.Decimal {
	cost := m.Baseline.CostPerUnit
	switch m.Model.Formula {
	case FormulaAvailability:
		// Percentage points of uptime recovered, priced per downtime hour.
		return improvement.Div(hundred).Mul(hours).Mul(cost)
	case FormulaMTBF:
		// Failures avoided over the period, priced per failure.
		if !m.Baseline.BaselineValue.IsPositive() || !m.Actual.IsPositive() {
			return decimal.Zero
		}
		expected := hours.Div(m.Baseline.BaselineValue)
		observed := hours.Div(m.Actual)
		return expected.Sub(observed).Mul(cost)
	case FormulaMTTR:
		// Repair hours saved, priced as labor.
		return improvement.Mul(estimatedRepairs(hours, in)).Mul(cost)
	default:
		return improvement.Mul(cost)
	}
}

func estimatedRepairs(hours decimal.Decimal, in CalculationInput) decimal.Decimal {
	if in.ActualMTBF != nil && in.ActualMTBF.IsPositive() {
		return hours.Div(*in.ActualMTBF)
	}
	days := hours.Div(decimal.NewFromInt(24))
	return in.DefaultRepairsPer30Days.Mul(days).Div(thirty)
}

// Fee is savings * pct / 100 with no rounding.
func Fee(savings, sharePct decimal.Decimal) decimal.Decimal {
	return savings.Mul(sharePct).Shift(-2)
}

func ptr(d decimal.Decimal) *decimal.Decimal { return &d }
