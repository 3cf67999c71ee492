package models

import "time"

// CalcMode selects how the discounted per-share value is converted to an
// intrinsic value. The two modes are mutually exclusive.
//
// ModePerShare: the projection already operates in per-share space, so the
// discounted sum is the intrinsic value directly. No cash/debt bridge.
//
// ModeEquityBridge: cash and debt from the most recent observation are
// converted to per-share amounts and applied as a final addend
// (+ cash/share − debt/share) on top of the discounted sum.
type CalcMode string

const (
	ModePerShare     CalcMode = "per_share"
	ModeEquityBridge CalcMode = "equity_bridge"
)

// Classification tags a valuation relative to the observed market price.
type Classification string

const (
	ClassUndervalued  Classification = "undervalued"
	ClassOvervalued   Classification = "overvalued"
	ClassFairlyValued Classification = "fairly_valued"
	// ClassUnrated is used when no market price was supplied.
	ClassUnrated Classification = "unrated"
)

// Parameters holds the configuration for a single DCF valuation run.
type Parameters struct {
	WACC            float64     `json:"wacc"             mapstructure:"wacc"`
	TerminalGrowth  float64     `json:"terminal_growth"  mapstructure:"terminal_growth"`
	GrowthRate      float64     `json:"growth_rate"      mapstructure:"growth_rate"` // near-term metric growth
	ProjectionYears int         `json:"projection_years" mapstructure:"projection_years"`
	MarginOfSafety  float64     `json:"margin_of_safety" mapstructure:"margin_of_safety"` // haircut in [0,1)
	Input           InputMetric `json:"input"            mapstructure:"input"`
	// NormalizationYears dampens cyclicality: a window N>1 replaces the
	// starting value with the mean of the last N periods. 1 = no smoothing.
	NormalizationYears int      `json:"normalization_years" mapstructure:"normalization_years"`
	Mode               CalcMode `json:"mode"                mapstructure:"mode"`
	// Classification thresholds on the discount percentage. Zero values
	// fall back to the defaults (+10 / −10).
	UndervaluedAbovePct float64 `json:"undervalued_above_pct" mapstructure:"undervalued_above_pct"`
	OvervaluedBelowPct  float64 `json:"overvalued_below_pct"  mapstructure:"overvalued_below_pct"`
}

// Default classification thresholds on the discount percentage.
const (
	DefaultUndervaluedAbovePct = 10.0
	DefaultOvervaluedBelowPct  = -10.0
)

// DefaultParameters returns the moderate baseline configuration.
func DefaultParameters() Parameters {
	return Parameters{
		WACC:                0.10,
		TerminalGrowth:      0.025,
		GrowthRate:          0.10,
		ProjectionYears:     5,
		MarginOfSafety:      0,
		Input:               InputFCF,
		NormalizationYears:  5,
		Mode:                ModePerShare,
		UndervaluedAbovePct: DefaultUndervaluedAbovePct,
		OvervaluedBelowPct:  DefaultOvervaluedBelowPct,
	}
}

// Classify maps a discount percentage to a classification tag using the
// configured thresholds.
func (p Parameters) Classify(discountPct float64) Classification {
	above := p.UndervaluedAbovePct
	below := p.OvervaluedBelowPct
	if above == 0 && below == 0 {
		above = DefaultUndervaluedAbovePct
		below = DefaultOvervaluedBelowPct
	}
	switch {
	case discountPct > above:
		return ClassUndervalued
	case discountPct < below:
		return ClassOvervalued
	default:
		return ClassFairlyValued
	}
}

// ValuationResult is the immutable output of one valuation run. The
// parameters are stored verbatim so the run can be reproduced.
type ValuationResult struct {
	Ticker         string         `json:"ticker"`
	ComputedAt     time.Time      `json:"computed_at"`
	Params         Parameters     `json:"params"`
	IntrinsicValue float64        `json:"intrinsic_value"`
	CurrentPrice   float64        `json:"current_price,omitempty"` // 0 when not supplied
	DiscountPct    float64        `json:"discount_pct"`
	Classification Classification `json:"classification"`

	// Calculation breakdown, kept for display and audit.
	Projections      []float64 `json:"projections,omitempty"` // per-share values, years 1..horizon
	TerminalValue    float64   `json:"terminal_value"`
	PVProjections    float64   `json:"pv_projections"`
	PVTerminal       float64   `json:"pv_terminal"`
	HistoricalGrowth float64   `json:"historical_growth"` // trailing CAGR of the input metric, informational
}

// Priced reports whether a market price was supplied for this run.
func (r ValuationResult) Priced() bool { return r.CurrentPrice > 0 }
