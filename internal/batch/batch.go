// Package batch values many tickers concurrently: fetch, compute, append.
// Each ticker's pipeline is independent; one ticker failing never aborts
// the run.
package batch

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/dcfscan/dcfscan/internal/datasource"
	"github.com/dcfscan/dcfscan/internal/history"
	"github.com/dcfscan/dcfscan/internal/valuation"
	"github.com/dcfscan/dcfscan/pkg/models"
)

// DefaultWorkers bounds concurrent fetch-compute-append pipelines.
const DefaultWorkers = 4

// Progress reports one finished ticker. Err is nil on success.
type Progress struct {
	JobID     string
	Ticker    string
	Done      int
	Total     int
	Err       error
	Result    *models.ValuationResult
	ElapsedMS int64
}

// TickerError records why one ticker failed.
type TickerError struct {
	Ticker string `json:"ticker"`
	Reason string `json:"reason"`
}

// Summary describes a completed batch run.
type Summary struct {
	JobID     string        `json:"job_id"`
	Requested int           `json:"requested"`
	Succeeded int           `json:"succeeded"`
	Failed    []TickerError `json:"failed,omitempty"`
	Elapsed   time.Duration `json:"elapsed"`
}

// Runner drives batch valuations through a worker pool.
type Runner struct {
	Source datasource.Source
	Store  history.Store

	// Workers bounds concurrency; zero means DefaultWorkers.
	Workers int
	// Lookback limits how many annual observations are fetched per ticker.
	// Zero fetches everything the source has.
	Lookback int
	// OnProgress, when set, is called after each ticker finishes. Calls
	// are serialized.
	OnProgress func(Progress)
}

// Run values every ticker with the given parameters and appends each result
// to the store. Cancelling ctx stops issuing new tickers; results already
// appended remain. Per-ticker failures are collected in the summary, never
// propagated as the run's error.
func (r *Runner) Run(ctx context.Context, tickers []string, params models.Parameters) (Summary, error) {
	start := time.Now()
	summary := Summary{JobID: uuid.NewString(), Requested: len(tickers)}

	workers := r.Workers
	if workers <= 0 {
		workers = DefaultWorkers
	}

	var (
		mu   sync.Mutex
		done int
	)
	finish := func(ticker string, res *models.ValuationResult, err error, elapsed time.Duration) {
		mu.Lock()
		done++
		if err != nil {
			summary.Failed = append(summary.Failed, TickerError{Ticker: ticker, Reason: err.Error()})
		} else {
			summary.Succeeded++
		}
		n := done
		cb := r.OnProgress
		if cb != nil {
			cb(Progress{
				JobID:     summary.JobID,
				Ticker:    ticker,
				Done:      n,
				Total:     len(tickers),
				Err:       err,
				Result:    res,
				ElapsedMS: elapsed.Milliseconds(),
			})
		}
		mu.Unlock()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for _, ticker := range tickers {
		if gctx.Err() != nil {
			break
		}
		ticker := ticker
		g.Go(func() error {
			tickStart := time.Now()
			res, err := r.runOne(gctx, ticker, params)
			finish(ticker, res, err, time.Since(tickStart))
			// Ticker failures stay in the summary; only cancellation
			// stops the group.
			return gctx.Err()
		})
	}

	err := g.Wait()
	summary.Elapsed = time.Since(start)
	sort.Slice(summary.Failed, func(i, j int) bool {
		return summary.Failed[i].Ticker < summary.Failed[j].Ticker
	})
	return summary, err
}

// runOne executes one ticker's fetch-compute-append pipeline. A missing
// quote is not fatal: the valuation proceeds unrated.
func (r *Runner) runOne(ctx context.Context, ticker string, params models.Parameters) (*models.ValuationResult, error) {
	series, err := r.Source.FetchSeries(ctx, ticker, r.Lookback)
	if err != nil {
		return nil, err
	}

	price, err := r.Source.FetchQuote(ctx, ticker)
	if err != nil {
		price = 0
	}

	res, err := valuation.Value(series, params, price)
	if err != nil {
		return nil, err
	}

	if _, err := r.Store.Append(ctx, *res); err != nil {
		return nil, err
	}
	return res, nil
}
