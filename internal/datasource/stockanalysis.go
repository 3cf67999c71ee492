package datasource

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/dcfscan/dcfscan/internal/infra"
	"github.com/dcfscan/dcfscan/pkg/models"
)

const stockAnalysisBaseURL = "https://stockanalysis.com"

// StockAnalysis scrapes annual fundamentals and quotes from
// stockanalysis.com. Responses are cached and requests rate-limited so
// batch runs stay polite to the upstream.
type StockAnalysis struct {
	baseURL     string
	seriesCache *infra.Cache[*models.FinancialSeries]
	quoteCache  *infra.Cache[float64]
	limiter     *infra.RateLimiter
}

// NewStockAnalysis creates a stockanalysis.com source.
func NewStockAnalysis() *StockAnalysis {
	return &StockAnalysis{
		baseURL:     stockAnalysisBaseURL,
		seriesCache: infra.NewCache[*models.FinancialSeries](1 * time.Hour),
		quoteCache:  infra.NewCache[float64](5 * time.Minute),
		limiter:     infra.NewRateLimiter(1, time.Second), // conservative: 1 req/s
	}
}

// Name returns the data source name.
func (s *StockAnalysis) Name() string { return "stockanalysis.com" }

// FetchSeries scrapes the cash-flow, income and balance-sheet statements
// and assembles annual observations, oldest first.
func (s *StockAnalysis) FetchSeries(ctx context.Context, ticker string, lookbackYears int) (*models.FinancialSeries, error) {
	symbol := normalizeTicker(ticker)
	if symbol == "" {
		return nil, fmt.Errorf("%w: empty ticker", ErrTickerNotFound)
	}

	cacheKey := "sa:series:" + symbol
	if cached, ok := s.seriesCache.Get(cacheKey); ok {
		return trimSeries(cached, lookbackYears), nil
	}

	byYear := make(map[int]*models.Observation)

	// statement page path -> row label -> field setter
	pages := []struct {
		path string
		rows map[string]func(*models.Observation, float64)
	}{
		{"/cash-flow-statement/", map[string]func(*models.Observation, float64){
			"Free Cash Flow Per Share": func(o *models.Observation, v float64) { o.FCFPerShare = v },
		}},
		{"/", map[string]func(*models.Observation, float64){
			"EPS (Diluted)":      func(o *models.Observation, v float64) { o.EPSContOps = v },
			"Shares Outstanding": func(o *models.Observation, v float64) { o.SharesOutstanding = v },
			"Revenue":            func(o *models.Observation, v float64) { o.Revenue = v },
		}},
		{"/balance-sheet/", map[string]func(*models.Observation, float64){
			"Cash & Equivalents": func(o *models.Observation, v float64) { o.Cash = v },
			"Total Debt":         func(o *models.Observation, v float64) { o.TotalDebt = v },
		}},
	}

	for _, page := range pages {
		url := s.baseURL + "/stocks/" + strings.ToLower(symbol) + "/financials" + page.path
		doc, err := s.fetchPage(ctx, url)
		if err != nil {
			return nil, err
		}
		if err := parseStatementTable(doc, page.rows, byYear); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrDataUnavailable, symbol, err)
		}
	}

	if len(byYear) == 0 {
		return nil, fmt.Errorf("%w: no annual data for %s", ErrDataUnavailable, symbol)
	}

	years := make([]int, 0, len(byYear))
	for y := range byYear {
		years = append(years, y)
	}
	sort.Ints(years)

	series := &models.FinancialSeries{Ticker: symbol}
	for _, y := range years {
		series.Observations = append(series.Observations, *byYear[y])
	}

	s.seriesCache.Set(cacheKey, series)
	return trimSeries(series, lookbackYears), nil
}

// FetchQuote scrapes the current price from the ticker's overview page.
func (s *StockAnalysis) FetchQuote(ctx context.Context, ticker string) (float64, error) {
	symbol := normalizeTicker(ticker)
	if symbol == "" {
		return 0, fmt.Errorf("%w: empty ticker", ErrTickerNotFound)
	}

	cacheKey := "sa:quote:" + symbol
	if cached, ok := s.quoteCache.Get(cacheKey); ok {
		return cached, nil
	}

	url := s.baseURL + "/stocks/" + strings.ToLower(symbol) + "/"
	doc, err := s.fetchPage(ctx, url)
	if err != nil {
		return 0, err
	}

	priceText := strings.TrimSpace(doc.Find("div[data-test='quote-price'], .quote-price").First().Text())
	if priceText == "" {
		// Fallback: the price is the first large number in the quote header.
		priceText = strings.TrimSpace(doc.Find("main .text-4xl").First().Text())
	}
	price, ok := parseNumber(priceText)
	if !ok || price <= 0 {
		return 0, fmt.Errorf("%w: no quote for %s", ErrDataUnavailable, symbol)
	}

	s.quoteCache.Set(cacheKey, price)
	return price, nil
}

func (s *StockAnalysis) fetchPage(ctx context.Context, url string) (*goquery.Document, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	body, _, err := doGet(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	doc, err := goquery.NewDocumentFromReader(body)
	if err != nil {
		return nil, fmt.Errorf("parse HTML from %s: %w", url, err)
	}
	return doc, nil
}

// parseStatementTable reads a financials table whose header row carries
// fiscal years and whose first column carries row labels, extracting the
// rows named in wanted into byYear.
func parseStatementTable(doc *goquery.Document, wanted map[string]func(*models.Observation, float64), byYear map[int]*models.Observation) error {
	table := doc.Find("table").FilterFunction(func(_ int, sel *goquery.Selection) bool {
		return sel.Find("thead").Length() > 0
	}).First()
	if table.Length() == 0 {
		return fmt.Errorf("no statement table found")
	}

	// Header cells after the label column are fiscal years, newest first.
	var years []int
	table.Find("thead th").Each(func(i int, sel *goquery.Selection) {
		if i == 0 {
			return
		}
		if y := parseFiscalYear(sel.Text()); y > 0 {
			years = append(years, y)
		} else {
			years = append(years, 0) // placeholder column (e.g. "Current")
		}
	})
	if len(years) == 0 {
		return fmt.Errorf("no fiscal year columns")
	}

	table.Find("tbody tr").Each(func(_ int, row *goquery.Selection) {
		cells := row.Find("td")
		if cells.Length() < 2 {
			return
		}
		label := strings.TrimSpace(cells.First().Text())
		set, ok := wanted[label]
		if !ok {
			return
		}
		cells.Each(func(i int, cell *goquery.Selection) {
			if i == 0 || i > len(years) || years[i-1] == 0 {
				return
			}
			v, ok := parseNumber(cell.Text())
			if !ok {
				return
			}
			year := years[i-1]
			obs, ok := byYear[year]
			if !ok {
				obs = &models.Observation{FiscalYear: year}
				byYear[year] = obs
			}
			set(obs, v)
		})
	})
	return nil
}

// normalizeTicker uppercases and strips whitespace from a user ticker.
func normalizeTicker(ticker string) string {
	return strings.ToUpper(strings.TrimSpace(ticker))
}

// parseFiscalYear extracts a 4-digit year from a header cell such as
// "FY 2024" or "2024".
func parseFiscalYear(text string) int {
	for _, field := range strings.Fields(text) {
		field = strings.Trim(field, "()")
		if len(field) == 4 {
			if y, err := strconv.Atoi(field); err == nil && y >= 1900 && y <= 2200 {
				return y
			}
		}
	}
	return 0
}

// parseNumber parses display numbers such as "1,234.56", "-0.42", "12.3B",
// "45.6M", "8.2%" and "(1.5)". Dashes and empty cells report false.
func parseNumber(text string) (float64, bool) {
	t := strings.TrimSpace(text)
	t = strings.TrimPrefix(t, "$")
	t = strings.ReplaceAll(t, ",", "")
	t = strings.TrimSuffix(t, "%")
	if t == "" || t == "-" || t == "—" || strings.EqualFold(t, "n/a") {
		return 0, false
	}

	negative := false
	if strings.HasPrefix(t, "(") && strings.HasSuffix(t, ")") {
		negative = true
		t = strings.Trim(t, "()")
	}

	multiplier := 1.0
	switch {
	case strings.HasSuffix(t, "T"):
		multiplier = 1e12
		t = strings.TrimSuffix(t, "T")
	case strings.HasSuffix(t, "B"):
		multiplier = 1e9
		t = strings.TrimSuffix(t, "B")
	case strings.HasSuffix(t, "M"):
		multiplier = 1e6
		t = strings.TrimSuffix(t, "M")
	case strings.HasSuffix(t, "K"):
		multiplier = 1e3
		t = strings.TrimSuffix(t, "K")
	}

	v, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
	if err != nil {
		return 0, false
	}
	if negative {
		v = -v
	}
	return v * multiplier, true
}

// trimSeries returns the most recent lookbackYears observations. Zero or
// negative keeps the whole series.
func trimSeries(series *models.FinancialSeries, lookbackYears int) *models.FinancialSeries {
	if lookbackYears <= 0 || series.Len() <= lookbackYears {
		return series
	}
	trimmed := &models.FinancialSeries{
		Ticker:       series.Ticker,
		Observations: series.Observations[series.Len()-lookbackYears:],
	}
	return trimmed
}
