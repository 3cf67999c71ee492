// Package screen filters and ranks stored valuation runs against
// caller-supplied criteria. A screen never mutates the store; it is a pure
// read over the latest-per-ticker view or the full history.
package screen

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/dcfscan/dcfscan/internal/history"
	"github.com/dcfscan/dcfscan/pkg/models"
)

// Source selects which slice of the store a screen runs over.
type Source string

const (
	// SourceLatest screens the newest record per ticker.
	SourceLatest Source = "latest"
	// SourceHistory screens every stored record.
	SourceHistory Source = "history"
)

// Predicate is a custom per-result filter. A non-nil error excludes the
// record and increments the screen's excluded count; it never aborts the
// whole screen.
type Predicate func(models.ValuationResult) (bool, error)

// Filter holds the recognized screening criteria. Nil pointer fields mean
// "not constrained". Percentage bounds are on the discount percentage, where
// positive means the market price sits below intrinsic value.
type Filter struct {
	MinDiscountPct    *float64 `json:"min_discount_pct,omitempty"`
	MaxDiscountPct    *float64 `json:"max_discount_pct,omitempty"`
	MinIntrinsicValue *float64 `json:"min_intrinsic_value,omitempty"`
	MaxIntrinsicValue *float64 `json:"max_intrinsic_value,omitempty"`
	MaxCurrentPrice   *float64 `json:"max_current_price,omitempty"`
	// MaxAgeDays drops records older than this many days. Zero disables
	// the recency check.
	MaxAgeDays int `json:"max_age_days,omitempty"`
	// Predicate runs last, after all cheap field checks passed.
	Predicate Predicate `json:"-"`
}

// Screener runs filters over a history store.
type Screener struct {
	store history.Store

	// now is swapped in tests to pin the recency window.
	now func() time.Time
}

// New creates a Screener over the given store.
func New(store history.Store) *Screener {
	return &Screener{store: store, now: time.Now}
}

// Screen applies the filter over the chosen source and returns matching
// records sorted by discount percentage descending, ties broken by ticker
// ascending. The second return value counts records excluded because the
// custom predicate failed. Zero matches is not an error.
func (s *Screener) Screen(ctx context.Context, filter Filter, source Source) ([]history.Record, int, error) {
	var (
		recs []history.Record
		err  error
	)
	switch source {
	case SourceLatest, "":
		recs, err = s.store.AllLatest(ctx)
	case SourceHistory:
		recs, err = s.store.QueryAll(ctx)
	default:
		return nil, 0, fmt.Errorf("unknown screen source %q", source)
	}
	if err != nil {
		return nil, 0, fmt.Errorf("load records: %w", err)
	}

	var cutoff time.Time
	if filter.MaxAgeDays > 0 {
		cutoff = s.now().AddDate(0, 0, -filter.MaxAgeDays)
	}

	matched := make([]history.Record, 0, len(recs))
	excluded := 0
	for _, rec := range recs {
		if !matchFields(filter, rec.Result, cutoff) {
			continue
		}
		if filter.Predicate != nil {
			ok, perr := runPredicate(filter.Predicate, rec.Result)
			if perr != nil {
				excluded++
				continue
			}
			if !ok {
				continue
			}
		}
		matched = append(matched, rec)
	}

	sort.Slice(matched, func(i, j int) bool {
		di, dj := matched[i].Result.DiscountPct, matched[j].Result.DiscountPct
		if di != dj {
			return di > dj
		}
		return matched[i].Result.Ticker < matched[j].Result.Ticker
	})

	return matched, excluded, nil
}

// matchFields evaluates the cheap field constraints, cheapest first.
func matchFields(f Filter, r models.ValuationResult, cutoff time.Time) bool {
	if !cutoff.IsZero() && r.ComputedAt.Before(cutoff) {
		return false
	}
	if f.MinDiscountPct != nil && r.DiscountPct < *f.MinDiscountPct {
		return false
	}
	if f.MaxDiscountPct != nil && r.DiscountPct > *f.MaxDiscountPct {
		return false
	}
	if f.MinIntrinsicValue != nil && r.IntrinsicValue < *f.MinIntrinsicValue {
		return false
	}
	if f.MaxIntrinsicValue != nil && r.IntrinsicValue > *f.MaxIntrinsicValue {
		return false
	}
	if f.MaxCurrentPrice != nil && r.Priced() && r.CurrentPrice > *f.MaxCurrentPrice {
		return false
	}
	return true
}

// runPredicate shields the screen from predicates that panic on records
// they did not expect. A panic excludes the record like an error does.
func runPredicate(p Predicate, r models.ValuationResult) (ok bool, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			ok = false
			err = fmt.Errorf("predicate panic: %v", rec)
		}
	}()
	return p(r)
}
