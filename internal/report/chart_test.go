package report

import (
	"strings"
	"testing"
	"time"

	"github.com/dcfscan/dcfscan/internal/trend"
)

func trendResult(values ...float64) *trend.Result {
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	r := &trend.Result{Ticker: "AAPL", Direction: trend.DirectionImproving, AvgChangePct: 10}
	for i, v := range values {
		r.Points = append(r.Points, trend.Point{
			At:             base.AddDate(0, i, 0),
			IntrinsicValue: v,
		})
	}
	return r
}

func TestTrendChart(t *testing.T) {
	svg := TrendChart(trendResult(100, 110, 121), ChartConfig{})

	if !strings.HasPrefix(svg, "<svg") || !strings.HasSuffix(svg, "</svg>") {
		t.Fatalf("not a complete SVG document: %.80s...", svg)
	}
	if !strings.Contains(svg, "AAPL") {
		t.Error("title missing ticker")
	}
	if !strings.Contains(svg, "<path") {
		t.Error("no line path rendered")
	}
	if got := strings.Count(svg, "<circle"); got != 3 {
		t.Errorf("point markers = %d, want 3", got)
	}
	// Improving trends render green.
	if !strings.Contains(svg, trendColors[trend.DirectionImproving]) {
		t.Error("improving trend not using its color")
	}
}

func TestTrendChartEmpty(t *testing.T) {
	svg := TrendChart(nil, ChartConfig{})
	if !strings.Contains(svg, "No valuation history") {
		t.Errorf("empty chart missing notice: %s", svg)
	}
}

func TestTrendChartFlatSeries(t *testing.T) {
	r := trendResult(100, 100)
	r.Direction = trend.DirectionStable
	svg := TrendChart(r, ChartConfig{})
	if !strings.Contains(svg, "<path") {
		t.Error("flat series rendered no path")
	}
}

func TestEscapeXML(t *testing.T) {
	got := escapeXML(`A&B <"x">`)
	want := "A&amp;B &lt;&quot;x&quot;&gt;"
	if got != want {
		t.Errorf("escapeXML = %q, want %q", got, want)
	}
}
