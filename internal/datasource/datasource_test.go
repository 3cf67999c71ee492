package datasource

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"

	"github.com/dcfscan/dcfscan/pkg/models"
)

func TestParseNumber(t *testing.T) {
	tests := []struct {
		in   string
		want float64
		ok   bool
	}{
		{"1,234.56", 1234.56, true},
		{"-0.42", -0.42, true},
		{"$184.30", 184.30, true},
		{"12.3B", 12.3e9, true},
		{"45.6M", 45.6e6, true},
		{"1.2T", 1.2e12, true},
		{"800K", 800e3, true},
		{"8.2%", 8.2, true},
		{"(1.5)", -1.5, true},
		{"-", 0, false},
		{"", 0, false},
		{"n/a", 0, false},
		{"upgrade", 0, false},
	}
	for _, tt := range tests {
		got, ok := parseNumber(tt.in)
		if ok != tt.ok || (ok && got != tt.want) {
			t.Errorf("parseNumber(%q) = (%v, %v), want (%v, %v)", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}

func TestParseFiscalYear(t *testing.T) {
	tests := []struct {
		in   string
		want int
	}{
		{"FY 2024", 2024},
		{"2023", 2023},
		{"FY 2022 (Sep)", 2022},
		{"Current", 0},
		{"TTM", 0},
	}
	for _, tt := range tests {
		if got := parseFiscalYear(tt.in); got != tt.want {
			t.Errorf("parseFiscalYear(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

const statementHTML = `
<html><body><table>
<thead><tr><th>Metric</th><th>FY 2024</th><th>FY 2023</th><th>FY 2022</th></tr></thead>
<tbody>
<tr><td>Revenue</td><td>391.0B</td><td>383.3B</td><td>394.3B</td></tr>
<tr><td>EPS (Diluted)</td><td>6.08</td><td>6.13</td><td>6.11</td></tr>
<tr><td>Shares Outstanding</td><td>15.41B</td><td>15.74B</td><td>16.22B</td></tr>
<tr><td>Something Else</td><td>1</td><td>2</td><td>3</td></tr>
</tbody>
</table></body></html>`

func TestParseStatementTable(t *testing.T) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(statementHTML))
	if err != nil {
		t.Fatalf("parse fixture: %v", err)
	}

	byYear := make(map[int]*models.Observation)
	rows := map[string]func(*models.Observation, float64){
		"EPS (Diluted)":      func(o *models.Observation, v float64) { o.EPSContOps = v },
		"Shares Outstanding": func(o *models.Observation, v float64) { o.SharesOutstanding = v },
		"Revenue":            func(o *models.Observation, v float64) { o.Revenue = v },
	}
	if err := parseStatementTable(doc, rows, byYear); err != nil {
		t.Fatalf("parseStatementTable: %v", err)
	}

	if len(byYear) != 3 {
		t.Fatalf("len(byYear) = %d, want 3", len(byYear))
	}
	obs := byYear[2024]
	if obs == nil {
		t.Fatal("missing 2024 observation")
	}
	if obs.EPSContOps != 6.08 {
		t.Errorf("EPS 2024 = %v, want 6.08", obs.EPSContOps)
	}
	if obs.SharesOutstanding != 15.41e9 {
		t.Errorf("shares 2024 = %v, want 15.41e9", obs.SharesOutstanding)
	}
	if obs.Revenue != 391.0e9 {
		t.Errorf("revenue 2024 = %v, want 391.0e9", obs.Revenue)
	}
}

func TestTrimSeries(t *testing.T) {
	series := &models.FinancialSeries{
		Ticker: "AAPL",
		Observations: []models.Observation{
			{FiscalYear: 2020}, {FiscalYear: 2021}, {FiscalYear: 2022},
			{FiscalYear: 2023}, {FiscalYear: 2024},
		},
	}

	trimmed := trimSeries(series, 3)
	if trimmed.Len() != 3 {
		t.Fatalf("Len = %d, want 3", trimmed.Len())
	}
	if trimmed.Observations[0].FiscalYear != 2022 {
		t.Errorf("first year = %d, want 2022", trimmed.Observations[0].FiscalYear)
	}

	if got := trimSeries(series, 0); got.Len() != 5 {
		t.Errorf("lookback 0 trimmed to %d", got.Len())
	}
	if got := trimSeries(series, 10); got.Len() != 5 {
		t.Errorf("lookback beyond length trimmed to %d", got.Len())
	}
}

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}

func TestCSVSourceFetchSeries(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "AAPL.csv",
		"fiscal_year,fcf_per_share,eps_cont_ops,shares_outstanding,cash,total_debt,revenue\n"+
			"2022,6.22,6.11,16.22e9,48.3e9,120.0e9,394.3e9\n"+
			"2023,6.32,6.13,15.74e9,61.6e9,111.1e9,383.3e9\n"+
			"2024,7.04,6.08,15.41e9,65.2e9,106.6e9,391.0e9\n")

	src := NewCSVSource(dir)
	series, err := src.FetchSeries(context.Background(), "aapl", 0)
	if err != nil {
		t.Fatalf("FetchSeries: %v", err)
	}
	if series.Ticker != "AAPL" {
		t.Errorf("Ticker = %q, want AAPL", series.Ticker)
	}
	if series.Len() != 3 {
		t.Fatalf("Len = %d, want 3", series.Len())
	}
	if series.Latest().FCFPerShare != 7.04 {
		t.Errorf("latest FCF/share = %v, want 7.04", series.Latest().FCFPerShare)
	}

	trimmed, err := src.FetchSeries(context.Background(), "AAPL", 2)
	if err != nil {
		t.Fatalf("FetchSeries lookback: %v", err)
	}
	if trimmed.Len() != 2 || trimmed.Observations[0].FiscalYear != 2023 {
		t.Errorf("lookback 2 = %d obs starting %d", trimmed.Len(), trimmed.Observations[0].FiscalYear)
	}
}

func TestCSVSourceMissingTicker(t *testing.T) {
	src := NewCSVSource(t.TempDir())
	_, err := src.FetchSeries(context.Background(), "NOPE", 0)
	if !errors.Is(err, ErrTickerNotFound) {
		t.Fatalf("err = %v, want ErrTickerNotFound", err)
	}
}

func TestCSVSourceRejectsMalformed(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "BAD.csv",
		"year,fcf\n2024,7.04\n")
	writeFile(t, dir, "DISORDER.csv",
		"fiscal_year,fcf_per_share,eps_cont_ops,shares_outstanding,cash,total_debt,revenue\n"+
			"2024,7.04,6.08,15.41e9,0,0,0\n"+
			"2022,6.22,6.11,16.22e9,0,0,0\n")

	src := NewCSVSource(dir)
	if _, err := src.FetchSeries(context.Background(), "BAD", 0); !errors.Is(err, ErrDataUnavailable) {
		t.Errorf("BAD err = %v, want ErrDataUnavailable", err)
	}
	if _, err := src.FetchSeries(context.Background(), "DISORDER", 0); !errors.Is(err, ErrDataUnavailable) {
		t.Errorf("DISORDER err = %v, want ErrDataUnavailable", err)
	}
}

func TestCSVSourceFetchQuote(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "quotes.csv", "ticker,price\nAAPL,184.30\nMSFT,419.00\n")

	src := NewCSVSource(dir)
	price, err := src.FetchQuote(context.Background(), "aapl")
	if err != nil {
		t.Fatalf("FetchQuote: %v", err)
	}
	if price != 184.30 {
		t.Errorf("price = %v, want 184.30", price)
	}

	if _, err := src.FetchQuote(context.Background(), "XYZ"); !errors.Is(err, ErrTickerNotFound) {
		t.Errorf("missing quote err = %v, want ErrTickerNotFound", err)
	}
}
