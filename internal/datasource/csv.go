package datasource

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/dcfscan/dcfscan/pkg/models"
)

// CSVSource reads financial series from a local directory. Each ticker has
// a <TICKER>.csv statement file; quotes live in an optional quotes.csv.
// Useful for offline runs and for pinning inputs in tests.
//
// Statement file columns:
//
//	fiscal_year,fcf_per_share,eps_cont_ops,shares_outstanding,cash,total_debt,revenue
//
// quotes.csv columns:
//
//	ticker,price
type CSVSource struct {
	dir string
}

// NewCSVSource creates a source over the given directory.
func NewCSVSource(dir string) *CSVSource {
	return &CSVSource{dir: dir}
}

// Name returns the data source name.
func (s *CSVSource) Name() string { return "csv:" + s.dir }

// FetchSeries reads the ticker's statement file.
func (s *CSVSource) FetchSeries(_ context.Context, ticker string, lookbackYears int) (*models.FinancialSeries, error) {
	symbol := normalizeTicker(ticker)
	path := filepath.Join(s.dir, symbol+".csv")

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrTickerNotFound, symbol)
		}
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	series, err := parseSeriesCSV(f, symbol)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrDataUnavailable, path, err)
	}
	if err := series.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrDataUnavailable, path, err)
	}
	return trimSeries(series, lookbackYears), nil
}

// FetchQuote looks the ticker up in quotes.csv.
func (s *CSVSource) FetchQuote(_ context.Context, ticker string) (float64, error) {
	symbol := normalizeTicker(ticker)
	path := filepath.Join(s.dir, "quotes.csv")

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, fmt.Errorf("%w: no quotes file", ErrDataUnavailable)
		}
		return 0, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.TrimLeadingSpace = true
	for {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return 0, fmt.Errorf("read %s: %w", path, err)
		}
		if len(row) < 2 || !strings.EqualFold(strings.TrimSpace(row[0]), symbol) {
			continue
		}
		price, err := strconv.ParseFloat(strings.TrimSpace(row[1]), 64)
		if err != nil {
			return 0, fmt.Errorf("%w: bad price for %s: %v", ErrDataUnavailable, symbol, err)
		}
		return price, nil
	}
	return 0, fmt.Errorf("%w: no quote for %s", ErrTickerNotFound, symbol)
}

var seriesColumns = []string{
	"fiscal_year", "fcf_per_share", "eps_cont_ops",
	"shares_outstanding", "cash", "total_debt", "revenue",
}

func parseSeriesCSV(r io.Reader, ticker string) (*models.FinancialSeries, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	if len(header) < len(seriesColumns) {
		return nil, fmt.Errorf("expected %d columns, got %d", len(seriesColumns), len(header))
	}
	for i, want := range seriesColumns {
		if strings.TrimSpace(header[i]) != want {
			return nil, fmt.Errorf("column %d is %q, want %q", i, header[i], want)
		}
	}

	series := &models.FinancialSeries{Ticker: ticker}
	for line := 2; ; line++ {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}

		fields := make([]float64, len(seriesColumns))
		for i := range seriesColumns {
			v, err := strconv.ParseFloat(strings.TrimSpace(row[i]), 64)
			if err != nil {
				return nil, fmt.Errorf("line %d, column %s: %w", line, seriesColumns[i], err)
			}
			fields[i] = v
		}

		series.Observations = append(series.Observations, models.Observation{
			FiscalYear:        int(fields[0]),
			FCFPerShare:       fields[1],
			EPSContOps:        fields[2],
			SharesOutstanding: fields[3],
			Cash:              fields[4],
			TotalDebt:         fields[5],
			Revenue:           fields[6],
		})
	}

	if series.Len() == 0 {
		return nil, fmt.Errorf("no observations")
	}
	return series, nil
}
