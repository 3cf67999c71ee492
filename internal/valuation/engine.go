// Package valuation implements the two-stage DCF valuation engine.
//
// The engine is a pure function from a financial series and a parameter set
// to a valuation result: an explicit projection phase at a configured growth
// rate, a Gordon-growth terminal value, and discounting at WACC. Projection
// operates in per-share space so that share buybacks raise and dilution
// lowers the projected values.
package valuation

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/dcfscan/dcfscan/pkg/models"
)

// Sentinel errors. Both describe deterministic input problems; callers
// should not retry.
var (
	// ErrInsufficientData indicates the series has no observations, or
	// fewer than the requested normalization window.
	ErrInsufficientData = errors.New("insufficient data for valuation")

	// ErrInvalidParameters indicates an out-of-range or non-convergent
	// parameter set.
	ErrInvalidParameters = errors.New("invalid valuation parameters")

	// ErrMalformedSeries indicates the series violates the ordering
	// invariant (fiscal years not strictly increasing).
	ErrMalformedSeries = errors.New("malformed financial series")
)

// Growth-rate caps for the informational trailing CAGR, matching the
// guardrails applied to historical growth display.
const (
	minHistoricalCAGR = -0.5
	maxHistoricalCAGR = 1.0
)

// Value computes an intrinsic per-share value for the series, stamped with
// the current time. currentPrice may be 0 when no market price is known;
// the result is then left unrated.
func Value(series *models.FinancialSeries, params models.Parameters, currentPrice float64) (*models.ValuationResult, error) {
	return ValueAt(series, params, currentPrice, time.Now().UTC())
}

// ValueAt is Value with an explicit computation timestamp. Given identical
// inputs it produces bit-identical output.
func ValueAt(series *models.FinancialSeries, params models.Parameters, currentPrice float64, at time.Time) (*models.ValuationResult, error) {
	if err := validateParams(params); err != nil {
		return nil, err
	}
	if err := validateSeries(series, params); err != nil {
		return nil, err
	}

	latest := series.Latest()
	values := series.MetricValues(params.Input)

	base := startingValue(values, params.NormalizationYears)
	shareGrowth := shareCountGrowth(series)

	// Project the per-share metric forward. The metric compounds at the
	// configured growth rate while the share count compounds at its own
	// trend, so a shrinking float raises every projected per-share value.
	projections := make([]float64, params.ProjectionYears)
	for year := 1; year <= params.ProjectionYears; year++ {
		grown := base * math.Pow(1+params.GrowthRate, float64(year))
		projections[year-1] = grown / math.Pow(1+shareGrowth, float64(year))
	}

	final := projections[len(projections)-1]
	terminal := final * (1 + params.TerminalGrowth) / (params.WACC - params.TerminalGrowth)

	var pvProjections float64
	for year, v := range projections {
		pvProjections += v / math.Pow(1+params.WACC, float64(year+1))
	}
	pvTerminal := terminal / math.Pow(1+params.WACC, float64(params.ProjectionYears))

	intrinsic := pvProjections + pvTerminal

	if params.Mode == models.ModeEquityBridge {
		intrinsic += (latest.Cash - latest.TotalDebt) / latest.SharesOutstanding
	}

	intrinsic *= 1 - params.MarginOfSafety

	result := &models.ValuationResult{
		Ticker:           series.Ticker,
		ComputedAt:       at,
		Params:           params,
		IntrinsicValue:   intrinsic,
		CurrentPrice:     currentPrice,
		Classification:   models.ClassUnrated,
		Projections:      projections,
		TerminalValue:    terminal,
		PVProjections:    pvProjections,
		PVTerminal:       pvTerminal,
		HistoricalGrowth: TrailingCAGR(values, params.NormalizationYears),
	}

	if currentPrice > 0 {
		result.DiscountPct = (intrinsic - currentPrice) / currentPrice * 100
		result.Classification = params.Classify(result.DiscountPct)
	}

	return result, nil
}

// validateParams rejects out-of-range and non-convergent configurations.
func validateParams(p models.Parameters) error {
	if p.WACC <= 0 || p.WACC >= 1 {
		return fmt.Errorf("%w: WACC %.4f outside (0,1)", ErrInvalidParameters, p.WACC)
	}
	if p.TerminalGrowth >= p.WACC {
		return fmt.Errorf("%w: terminal growth %.4f >= WACC %.4f (non-convergent)", ErrInvalidParameters, p.TerminalGrowth, p.WACC)
	}
	if p.ProjectionYears <= 0 {
		return fmt.Errorf("%w: projection horizon %d", ErrInvalidParameters, p.ProjectionYears)
	}
	if p.MarginOfSafety < 0 || p.MarginOfSafety >= 1 {
		return fmt.Errorf("%w: margin of safety %.4f outside [0,1)", ErrInvalidParameters, p.MarginOfSafety)
	}
	if p.NormalizationYears < 1 {
		return fmt.Errorf("%w: normalization window %d", ErrInvalidParameters, p.NormalizationYears)
	}
	switch p.Input {
	case models.InputFCF, models.InputEPS:
	default:
		return fmt.Errorf("%w: unknown input metric %q", ErrInvalidParameters, p.Input)
	}
	switch p.Mode {
	case models.ModePerShare, models.ModeEquityBridge, "":
	default:
		return fmt.Errorf("%w: unknown calculation mode %q", ErrInvalidParameters, p.Mode)
	}
	return nil
}

func validateSeries(series *models.FinancialSeries, p models.Parameters) error {
	if series.Len() == 0 {
		return fmt.Errorf("%w: series is empty", ErrInsufficientData)
	}
	if err := series.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedSeries, err)
	}
	if p.NormalizationYears > 1 && series.Len() < p.NormalizationYears {
		return fmt.Errorf("%w: %d observations, normalization window %d", ErrInsufficientData, series.Len(), p.NormalizationYears)
	}
	if series.Latest().SharesOutstanding <= 0 {
		return fmt.Errorf("%w: non-positive shares outstanding", ErrInvalidParameters)
	}
	return nil
}

// startingValue returns the base value for the projection: the arithmetic
// mean of the last window values when window > 1, otherwise the most recent
// value. values is ordered oldest first.
func startingValue(values []float64, window int) float64 {
	if window <= 1 {
		return values[len(values)-1]
	}
	var sum float64
	for _, v := range values[len(values)-window:] {
		sum += v
	}
	return sum / float64(window)
}

// shareCountGrowth derives the year-over-year share count trend from the two
// most recent observations. One observation, or a non-positive prior count,
// yields zero (no adjustment).
func shareCountGrowth(series *models.FinancialSeries) float64 {
	n := series.Len()
	if n < 2 {
		return 0
	}
	prev := series.Observations[n-2].SharesOutstanding
	curr := series.Observations[n-1].SharesOutstanding
	if prev <= 0 || curr <= 0 {
		return 0
	}
	return curr/prev - 1
}

// TrailingCAGR computes the compound annual growth rate over up to years
// trailing positive values. Zero or negative values are skipped, and the
// result is capped to [-50%, +100%]. Returns 0 when fewer than two positive
// values remain. values is ordered oldest first.
func TrailingCAGR(values []float64, years int) float64 {
	if years < 2 {
		years = 2
	}
	start := len(values) - years
	if start < 0 {
		start = 0
	}
	positive := make([]float64, 0, years)
	for _, v := range values[start:] {
		if v > 0 {
			positive = append(positive, v)
		}
	}
	if len(positive) < 2 {
		return 0
	}
	first := positive[0]
	last := positive[len(positive)-1]
	n := float64(len(positive) - 1)
	cagr := math.Pow(last/first, 1/n) - 1
	if cagr < minHistoricalCAGR {
		return minHistoricalCAGR
	}
	if cagr > maxHistoricalCAGR {
		return maxHistoricalCAGR
	}
	return cagr
}
