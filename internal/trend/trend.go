// Package trend derives the direction and magnitude of intrinsic-value
// change across a ticker's stored valuation runs. Useful for spotting
// improving or deteriorating businesses before the market does.
package trend

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dcfscan/dcfscan/internal/history"
)

// ErrInsufficientHistory is returned when fewer than two stored runs exist
// for the requested ticker.
var ErrInsufficientHistory = errors.New("insufficient history for trend analysis")

// Direction tags the overall movement of intrinsic value over time.
type Direction string

const (
	DirectionImproving     Direction = "improving"
	DirectionDeteriorating Direction = "deteriorating"
	DirectionStable        Direction = "stable"
)

// stableBandPct is the band around zero average change, in percent, inside
// which a trend counts as stable.
const stableBandPct = 1.0

// Point is one (timestamp, intrinsic value) observation.
type Point struct {
	At             time.Time `json:"at"`
	IntrinsicValue float64   `json:"intrinsic_value"`
}

// Result describes the intrinsic-value trend for one ticker.
type Result struct {
	Ticker string `json:"ticker"`
	// Points is ordered oldest first.
	Points []Point `json:"points"`
	// Changes holds period-over-period percentage changes, one fewer than
	// Points.
	Changes      []float64 `json:"changes"`
	AvgChangePct float64   `json:"avg_change_pct"`
	Direction    Direction `json:"direction"`
}

// Analyzer computes trends from a history store. It is stateless given the
// store; concurrent use is safe.
type Analyzer struct {
	store history.Store
}

// New creates an Analyzer over the given store.
func New(store history.Store) *Analyzer {
	return &Analyzer{store: store}
}

// Trend fetches up to periods most recent runs for the ticker and computes
// the period-over-period percentage changes in intrinsic value. At least two
// runs are required.
func (a *Analyzer) Trend(ctx context.Context, ticker string, periods int) (*Result, error) {
	if periods < 2 {
		periods = 2
	}

	recs, err := a.store.Query(ctx, ticker, periods, time.Time{})
	if err != nil {
		return nil, fmt.Errorf("fetch history for %s: %w", ticker, err)
	}
	if len(recs) < 2 {
		return nil, fmt.Errorf("%w: %s has %d runs", ErrInsufficientHistory, ticker, len(recs))
	}

	// Query returns newest first; reverse into chronological order.
	points := make([]Point, len(recs))
	for i, rec := range recs {
		points[len(recs)-1-i] = Point{
			At:             rec.Result.ComputedAt,
			IntrinsicValue: rec.Result.IntrinsicValue,
		}
	}

	changes := make([]float64, 0, len(points)-1)
	var sum float64
	for i := 1; i < len(points); i++ {
		prev := points[i-1].IntrinsicValue
		if prev == 0 {
			// Undefined step change; skip rather than divide by zero.
			continue
		}
		change := (points[i].IntrinsicValue - prev) / prev * 100
		changes = append(changes, change)
		sum += change
	}
	if len(changes) == 0 {
		return nil, fmt.Errorf("%w: %s has no computable changes", ErrInsufficientHistory, ticker)
	}

	avg := sum / float64(len(changes))

	dir := DirectionStable
	switch {
	case avg > stableBandPct:
		dir = DirectionImproving
	case avg < -stableBandPct:
		dir = DirectionDeteriorating
	}

	return &Result{
		Ticker:       ticker,
		Points:       points,
		Changes:      changes,
		AvgChangePct: avg,
		Direction:    dir,
	}, nil
}
