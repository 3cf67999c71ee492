package valuation

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/dcfscan/dcfscan/pkg/models"
)

func sampleSeries() *models.FinancialSeries {
	return &models.FinancialSeries{
		Ticker: "AAPL",
		Observations: []models.Observation{
			{FiscalYear: 2020, FCFPerShare: 4.20, EPSContOps: 3.28, SharesOutstanding: 17000, Cash: 38000, TotalDebt: 112000, Revenue: 274500},
			{FiscalYear: 2021, FCFPerShare: 5.57, EPSContOps: 5.61, SharesOutstanding: 16700, Cash: 35000, TotalDebt: 124700, Revenue: 365800},
			{FiscalYear: 2022, FCFPerShare: 6.87, EPSContOps: 6.11, SharesOutstanding: 16200, Cash: 23600, TotalDebt: 120000, Revenue: 394300},
			{FiscalYear: 2023, FCFPerShare: 6.39, EPSContOps: 6.13, SharesOutstanding: 15700, Cash: 29900, TotalDebt: 111100, Revenue: 383300},
			{FiscalYear: 2024, FCFPerShare: 7.14, EPSContOps: 6.08, SharesOutstanding: 15300, Cash: 29900, TotalDebt: 106600, Revenue: 391000},
		},
	}
}

func sampleParams() models.Parameters {
	p := models.DefaultParameters()
	p.NormalizationYears = 1
	return p
}

var fixedTime = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func TestValueDeterministic(t *testing.T) {
	series := sampleSeries()
	params := sampleParams()

	r1, err := ValueAt(series, params, 230, fixedTime)
	if err != nil {
		t.Fatalf("ValueAt() error: %v", err)
	}
	r2, err := ValueAt(series, params, 230, fixedTime)
	if err != nil {
		t.Fatalf("ValueAt() error: %v", err)
	}

	if r1.IntrinsicValue != r2.IntrinsicValue {
		t.Errorf("not deterministic: %v vs %v", r1.IntrinsicValue, r2.IntrinsicValue)
	}
	if math.IsNaN(r1.IntrinsicValue) || math.IsInf(r1.IntrinsicValue, 0) {
		t.Errorf("intrinsic value not finite: %v", r1.IntrinsicValue)
	}
	if len(r1.Projections) != params.ProjectionYears {
		t.Errorf("expected %d projections, got %d", params.ProjectionYears, len(r1.Projections))
	}
}

func TestMarginOfSafetyStrictlyDecreases(t *testing.T) {
	series := sampleSeries()

	var prev float64
	for i, mos := range []float64{0, 0.10, 0.25, 0.50} {
		params := sampleParams()
		params.MarginOfSafety = mos
		r, err := ValueAt(series, params, 0, fixedTime)
		if err != nil {
			t.Fatalf("ValueAt(mos=%.2f) error: %v", mos, err)
		}
		if i > 0 && r.IntrinsicValue >= prev {
			t.Errorf("mos=%.2f: intrinsic %.4f not strictly below %.4f", mos, r.IntrinsicValue, prev)
		}
		prev = r.IntrinsicValue
	}
}

func TestBuybackAccretion(t *testing.T) {
	params := sampleParams()

	flat := sampleSeries()
	for i := range flat.Observations {
		flat.Observations[i].SharesOutstanding = 16000
	}

	shrinking := sampleSeries()
	for i := range shrinking.Observations {
		shrinking.Observations[i].SharesOutstanding = 16000
	}
	shrinking.Observations[len(shrinking.Observations)-1].SharesOutstanding = 15000

	rFlat, err := ValueAt(flat, params, 0, fixedTime)
	if err != nil {
		t.Fatalf("flat series: %v", err)
	}
	rShrink, err := ValueAt(shrinking, params, 0, fixedTime)
	if err != nil {
		t.Fatalf("shrinking series: %v", err)
	}

	if rShrink.IntrinsicValue <= rFlat.IntrinsicValue {
		t.Errorf("buyback accretion violated: shrinking %.4f <= flat %.4f", rShrink.IntrinsicValue, rFlat.IntrinsicValue)
	}
}

func TestDilutionReducesValue(t *testing.T) {
	params := sampleParams()

	flat := sampleSeries()
	for i := range flat.Observations {
		flat.Observations[i].SharesOutstanding = 16000
	}

	diluting := sampleSeries()
	for i := range diluting.Observations {
		diluting.Observations[i].SharesOutstanding = 16000
	}
	diluting.Observations[len(diluting.Observations)-1].SharesOutstanding = 17500

	rFlat, _ := ValueAt(flat, params, 0, fixedTime)
	rDilute, err := ValueAt(diluting, params, 0, fixedTime)
	if err != nil {
		t.Fatalf("diluting series: %v", err)
	}

	if rDilute.IntrinsicValue >= rFlat.IntrinsicValue {
		t.Errorf("dilution should lower value: %.4f >= %.4f", rDilute.IntrinsicValue, rFlat.IntrinsicValue)
	}
}

func TestNormalizationUsesWindowMean(t *testing.T) {
	series := sampleSeries()

	params := sampleParams()
	params.NormalizationYears = 5
	params.GrowthRate = 0 // isolate the base value

	r, err := ValueAt(series, params, 0, fixedTime)
	if err != nil {
		t.Fatalf("ValueAt() error: %v", err)
	}

	var sum float64
	for _, obs := range series.Observations {
		sum += obs.FCFPerShare
	}
	mean := sum / 5

	// With zero growth and a flat share trend absent, year-1 projection is
	// the base divided by one year of share shrinkage.
	sg := series.Observations[4].SharesOutstanding/series.Observations[3].SharesOutstanding - 1
	want := mean / (1 + sg)
	if math.Abs(r.Projections[0]-want) > 1e-9 {
		t.Errorf("year-1 projection: got %.6f, want %.6f", r.Projections[0], want)
	}
}

func TestEquityBridgeMode(t *testing.T) {
	series := sampleSeries()
	params := sampleParams()

	perShare, err := ValueAt(series, params, 0, fixedTime)
	if err != nil {
		t.Fatalf("per-share mode: %v", err)
	}

	params.Mode = models.ModeEquityBridge
	bridged, err := ValueAt(series, params, 0, fixedTime)
	if err != nil {
		t.Fatalf("equity-bridge mode: %v", err)
	}

	latest := series.Latest()
	wantDelta := (latest.Cash - latest.TotalDebt) / latest.SharesOutstanding
	gotDelta := bridged.IntrinsicValue - perShare.IntrinsicValue
	if math.Abs(gotDelta-wantDelta) > 1e-9 {
		t.Errorf("bridge addend: got %.6f, want %.6f", gotDelta, wantDelta)
	}
}

func TestClassification(t *testing.T) {
	series := sampleSeries()
	params := sampleParams()

	base, err := ValueAt(series, params, 0, fixedTime)
	if err != nil {
		t.Fatalf("ValueAt() error: %v", err)
	}
	if base.Classification != models.ClassUnrated {
		t.Errorf("no price: got %q, want %q", base.Classification, models.ClassUnrated)
	}

	cases := []struct {
		name  string
		price float64
		want  models.Classification
	}{
		{"undervalued", base.IntrinsicValue / 1.5, models.ClassUndervalued},
		{"overvalued", base.IntrinsicValue * 1.5, models.ClassOvervalued},
		{"fairly valued", base.IntrinsicValue * 1.02, models.ClassFairlyValued},
	}
	for _, tc := range cases {
		r, err := ValueAt(series, params, tc.price, fixedTime)
		if err != nil {
			t.Fatalf("%s: %v", tc.name, err)
		}
		if r.Classification != tc.want {
			t.Errorf("%s (price %.2f, discount %.1f%%): got %q, want %q", tc.name, tc.price, r.DiscountPct, r.Classification, tc.want)
		}
	}
}

func TestNonConvergentTerminalGrowth(t *testing.T) {
	params := sampleParams()
	params.WACC = 0.08
	params.TerminalGrowth = 0.08

	_, err := ValueAt(sampleSeries(), params, 100, fixedTime)
	if !errors.Is(err, ErrInvalidParameters) {
		t.Errorf("wacc == terminal growth: got %v, want ErrInvalidParameters", err)
	}
}

func TestEmptySeries(t *testing.T) {
	empty := &models.FinancialSeries{Ticker: "EMPTY"}
	_, err := ValueAt(empty, sampleParams(), 100, fixedTime)
	if !errors.Is(err, ErrInsufficientData) {
		t.Errorf("empty series: got %v, want ErrInsufficientData", err)
	}
}

func TestSeriesShorterThanNormalizationWindow(t *testing.T) {
	series := sampleSeries()
	series.Observations = series.Observations[:3]

	params := sampleParams()
	params.NormalizationYears = 5

	_, err := ValueAt(series, params, 100, fixedTime)
	if !errors.Is(err, ErrInsufficientData) {
		t.Errorf("short series: got %v, want ErrInsufficientData", err)
	}
}

func TestInvalidParameters(t *testing.T) {
	series := sampleSeries()

	cases := []struct {
		name   string
		mutate func(*models.Parameters)
	}{
		{"zero wacc", func(p *models.Parameters) { p.WACC = 0 }},
		{"wacc of one", func(p *models.Parameters) { p.WACC = 1 }},
		{"zero horizon", func(p *models.Parameters) { p.ProjectionYears = 0 }},
		{"negative horizon", func(p *models.Parameters) { p.ProjectionYears = -3 }},
		{"mos of one", func(p *models.Parameters) { p.MarginOfSafety = 1 }},
		{"negative mos", func(p *models.Parameters) { p.MarginOfSafety = -0.1 }},
		{"zero normalization", func(p *models.Parameters) { p.NormalizationYears = 0 }},
		{"unknown input", func(p *models.Parameters) { p.Input = "ebitda" }},
		{"unknown mode", func(p *models.Parameters) { p.Mode = "levered" }},
	}
	for _, tc := range cases {
		params := sampleParams()
		tc.mutate(&params)
		if _, err := ValueAt(series, params, 100, fixedTime); !errors.Is(err, ErrInvalidParameters) {
			t.Errorf("%s: got %v, want ErrInvalidParameters", tc.name, err)
		}
	}
}

func TestNonPositiveShares(t *testing.T) {
	series := sampleSeries()
	series.Observations[len(series.Observations)-1].SharesOutstanding = 0

	_, err := ValueAt(series, sampleParams(), 100, fixedTime)
	if !errors.Is(err, ErrInvalidParameters) {
		t.Errorf("zero shares: got %v, want ErrInvalidParameters", err)
	}
}

func TestOutOfOrderSeries(t *testing.T) {
	series := sampleSeries()
	series.Observations[1].FiscalYear = 2019

	_, err := ValueAt(series, sampleParams(), 100, fixedTime)
	if !errors.Is(err, ErrMalformedSeries) {
		t.Errorf("out-of-order series: got %v, want ErrMalformedSeries", err)
	}
}

func TestNegativeIntrinsicValueSurfaced(t *testing.T) {
	// A distressed company with deeply negative cash flows should produce a
	// negative intrinsic value, not an error or a silent zero.
	series := &models.FinancialSeries{
		Ticker: "DISTRESS",
		Observations: []models.Observation{
			{FiscalYear: 2023, FCFPerShare: -4.0, SharesOutstanding: 1000},
			{FiscalYear: 2024, FCFPerShare: -5.0, SharesOutstanding: 1000},
		},
	}
	params := sampleParams()

	r, err := ValueAt(series, params, 10, fixedTime)
	if err != nil {
		t.Fatalf("ValueAt() error: %v", err)
	}
	if r.IntrinsicValue >= 0 {
		t.Errorf("expected negative intrinsic value, got %.4f", r.IntrinsicValue)
	}
	if r.Classification != models.ClassOvervalued {
		t.Errorf("negative value vs positive price: got %q, want %q", r.Classification, models.ClassOvervalued)
	}
}

func TestTrailingCAGR(t *testing.T) {
	// 100 → 121 over two steps is 10% a year.
	got := TrailingCAGR([]float64{100, 110, 121}, 5)
	if math.Abs(got-0.10) > 1e-9 {
		t.Errorf("CAGR: got %.6f, want 0.10", got)
	}

	if got := TrailingCAGR([]float64{100}, 5); got != 0 {
		t.Errorf("single value: got %.4f, want 0", got)
	}
	if got := TrailingCAGR([]float64{-5, -3, 100}, 5); got != 0 {
		t.Errorf("one positive value: got %.4f, want 0", got)
	}

	// Explosive growth is capped at +100%.
	if got := TrailingCAGR([]float64{1, 10, 100}, 5); got != 1.0 {
		t.Errorf("cap: got %.4f, want 1.0", got)
	}
}
