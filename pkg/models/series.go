package models

import "fmt"

// Observation is a single annual financial observation for one company.
// Per-share figures are already normalized by that period's share count.
type Observation struct {
	FiscalYear        int     `json:"fiscal_year"`
	FCFPerShare       float64 `json:"fcf_per_share"`
	EPSContOps        float64 `json:"eps_cont_ops"` // EPS from continuing operations
	SharesOutstanding float64 `json:"shares_outstanding"`
	Cash              float64 `json:"cash"`
	TotalDebt         float64 `json:"total_debt"`
	Revenue           float64 `json:"revenue"`
}

// FinancialSeries is an ordered sequence of annual observations for one
// company, oldest first. Fiscal years must be strictly increasing.
type FinancialSeries struct {
	Ticker       string        `json:"ticker"`
	Observations []Observation `json:"observations"`
}

// InputMetric selects which per-share metric drives a valuation.
type InputMetric string

const (
	InputFCF InputMetric = "fcf"
	InputEPS InputMetric = "eps"
)

// Len returns the number of observations.
func (s *FinancialSeries) Len() int {
	if s == nil {
		return 0
	}
	return len(s.Observations)
}

// Latest returns the most recent observation. The series must be non-empty.
func (s *FinancialSeries) Latest() Observation {
	return s.Observations[len(s.Observations)-1]
}

// Validate checks the series ordering invariant: fiscal years strictly
// increasing (which also implies uniqueness).
func (s *FinancialSeries) Validate() error {
	for i := 1; i < s.Len(); i++ {
		prev := s.Observations[i-1].FiscalYear
		curr := s.Observations[i].FiscalYear
		if curr <= prev {
			return fmt.Errorf("fiscal years out of order: %d followed by %d", prev, curr)
		}
	}
	return nil
}

// MetricValues returns the selected per-share metric for every observation,
// oldest first.
func (s *FinancialSeries) MetricValues(input InputMetric) []float64 {
	values := make([]float64, 0, s.Len())
	for _, obs := range s.Observations {
		switch input {
		case InputEPS:
			values = append(values, obs.EPSContOps)
		default:
			values = append(values, obs.FCFPerShare)
		}
	}
	return values
}
