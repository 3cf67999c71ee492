// Package datasource fetches normalized financial series and market quotes
// for the valuation engine. It defines the Source interface and implements
// a stockanalysis.com scraper and a local CSV directory source.
package datasource

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/dcfscan/dcfscan/pkg/models"
)

// Source is the external fetch collaborator. Implementations return a
// normalized FinancialSeries or fail; retry and backoff policy belongs to
// the implementation, not its callers.
type Source interface {
	// Name returns the human-readable name of this source.
	Name() string

	// FetchSeries returns up to lookbackYears annual observations for the
	// ticker, oldest first.
	FetchSeries(ctx context.Context, ticker string, lookbackYears int) (*models.FinancialSeries, error)

	// FetchQuote returns the current market price per share.
	FetchQuote(ctx context.Context, ticker string) (float64, error)
}

// Sentinel errors.
var (
	// ErrDataUnavailable is returned when the source cannot produce a
	// usable series for the ticker.
	ErrDataUnavailable = errors.New("financial data unavailable")

	// ErrTickerNotFound is returned when the ticker cannot be resolved.
	ErrTickerNotFound = errors.New("ticker not found")

	// ErrRateLimited is returned when the upstream rate-limits the request.
	ErrRateLimited = errors.New("rate limited by data source")
)

// ErrHTTP wraps an HTTP error with its status code.
type ErrHTTP struct {
	StatusCode int
	Status     string
	Body       string
}

func (e *ErrHTTP) Error() string {
	return fmt.Sprintf("HTTP %d %s: %s", e.StatusCode, e.Status, e.Body)
}

// DefaultUserAgent is the user agent string used for HTTP requests.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36"

// HTTPClient is a pre-configured HTTP client with reasonable timeouts.
var HTTPClient = &http.Client{
	Timeout: 30 * time.Second,
}

// doGet performs a GET request, returning the response body. The caller is
// responsible for closing the returned ReadCloser.
func doGet(ctx context.Context, url string, headers map[string]string) (io.ReadCloser, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("User-Agent", DefaultUserAgent)
	req.Header.Set("Accept", "text/html, application/json, */*")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := HTTPClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("HTTP GET %s: %w", url, err)
	}

	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		switch resp.StatusCode {
		case http.StatusNotFound:
			return nil, resp.StatusCode, fmt.Errorf("%w: %s", ErrTickerNotFound, url)
		case http.StatusTooManyRequests:
			return nil, resp.StatusCode, fmt.Errorf("%w: %s", ErrRateLimited, url)
		}
		return nil, resp.StatusCode, &ErrHTTP{
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			Body:       string(body),
		}
	}

	return resp.Body, resp.StatusCode, nil
}
