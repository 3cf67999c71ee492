package screen

import (
	"github.com/dcfscan/dcfscan/internal/history"
	"github.com/dcfscan/dcfscan/pkg/models"
)

// fairBandPct bounds the discount band counted as fairly valued in the
// summary statistics.
const fairBandPct = 5.0

// Summary aggregates a screen's results for display and export.
type Summary struct {
	Total         int `json:"total"`
	Undervalued   int `json:"undervalued"`
	Overvalued    int `json:"overvalued"`
	FairlyValued  int `json:"fairly_valued"`
	Unrated       int `json:"unrated"`
	ExcludedCount int `json:"excluded_count"`

	AvgDiscountPct float64 `json:"avg_discount_pct"`
	MaxDiscountPct float64 `json:"max_discount_pct"`
	MinDiscountPct float64 `json:"min_discount_pct"`
	AvgIntrinsic   float64 `json:"avg_intrinsic_value"`
}

// Summarize computes summary statistics over screened records. Unrated
// records (no market price) are counted but left out of the discount
// aggregates. The fairly-valued band is the discount range [-5, +5].
func Summarize(recs []history.Record, excluded int) Summary {
	s := Summary{Total: len(recs), ExcludedCount: excluded}
	if len(recs) == 0 {
		return s
	}

	priced := 0
	var sumDiscount, sumIntrinsic float64
	for _, rec := range recs {
		r := rec.Result
		sumIntrinsic += r.IntrinsicValue

		if !r.Priced() || r.Classification == models.ClassUnrated {
			s.Unrated++
			continue
		}
		switch {
		case r.DiscountPct > fairBandPct:
			s.Undervalued++
		case r.DiscountPct < -fairBandPct:
			s.Overvalued++
		default:
			s.FairlyValued++
		}

		sumDiscount += r.DiscountPct
		if priced == 0 {
			s.MaxDiscountPct = r.DiscountPct
			s.MinDiscountPct = r.DiscountPct
		} else {
			if r.DiscountPct > s.MaxDiscountPct {
				s.MaxDiscountPct = r.DiscountPct
			}
			if r.DiscountPct < s.MinDiscountPct {
				s.MinDiscountPct = r.DiscountPct
			}
		}
		priced++
	}

	s.AvgIntrinsic = sumIntrinsic / float64(len(recs))
	if priced > 0 {
		s.AvgDiscountPct = sumDiscount / float64(priced)
	}
	return s
}
