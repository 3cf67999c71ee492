package history

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/dcfscan/dcfscan/pkg/models"
)

var baseTime = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

func sampleResult(ticker string, at time.Time, intrinsic float64) models.ValuationResult {
	return models.ValuationResult{
		Ticker:         ticker,
		ComputedAt:     at,
		Params:         models.DefaultParameters(),
		IntrinsicValue: intrinsic,
		CurrentPrice:   100,
		DiscountPct:    (intrinsic - 100),
		Classification: models.ClassFairlyValued,
	}
}

func TestMemoryAppendAndLatest(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	// Insert out of chronological order; Latest must still return the
	// record with the maximum timestamp.
	offsets := []int{3, 1, 4, 0, 2}
	for _, off := range offsets {
		at := baseTime.AddDate(0, 0, off)
		if _, err := s.Append(ctx, sampleResult("AAPL", at, 100+float64(off))); err != nil {
			t.Fatalf("Append(day %d) error: %v", off, err)
		}
	}

	latest, err := s.Latest(ctx, "AAPL")
	if err != nil {
		t.Fatalf("Latest() error: %v", err)
	}
	want := baseTime.AddDate(0, 0, 4)
	if !latest.Result.ComputedAt.Equal(want) {
		t.Errorf("Latest timestamp: got %v, want %v", latest.Result.ComputedAt, want)
	}
	if latest.ID == "" {
		t.Error("expected a generated record ID")
	}
}

func TestMemoryDuplicateRejected(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	r := sampleResult("MSFT", baseTime, 300)
	if _, err := s.Append(ctx, r); err != nil {
		t.Fatalf("first Append() error: %v", err)
	}
	if _, err := s.Append(ctx, r); !errors.Is(err, ErrDuplicate) {
		t.Errorf("duplicate Append(): got %v, want ErrDuplicate", err)
	}

	// A distinct timestamp for the same ticker is retained, not rejected.
	r2 := sampleResult("MSFT", baseTime.Add(time.Hour), 310)
	if _, err := s.Append(ctx, r2); err != nil {
		t.Errorf("distinct-timestamp Append(): %v", err)
	}
	recs, _ := s.Query(ctx, "MSFT", 0, time.Time{})
	if len(recs) != 2 {
		t.Errorf("expected 2 records, got %d", len(recs))
	}
}

func TestMemoryAppendMissingKey(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	if _, err := s.Append(ctx, models.ValuationResult{ComputedAt: baseTime}); !errors.Is(err, ErrMissingKey) {
		t.Errorf("no ticker: got %v, want ErrMissingKey", err)
	}
	if _, err := s.Append(ctx, models.ValuationResult{Ticker: "AAPL"}); !errors.Is(err, ErrMissingKey) {
		t.Errorf("no timestamp: got %v, want ErrMissingKey", err)
	}
}

func TestMemoryQueryNewestFirst(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		at := baseTime.AddDate(0, 0, i)
		if _, err := s.Append(ctx, sampleResult("AAPL", at, float64(100+i))); err != nil {
			t.Fatalf("Append() error: %v", err)
		}
	}

	recs, err := s.Query(ctx, "AAPL", 3, time.Time{})
	if err != nil {
		t.Fatalf("Query() error: %v", err)
	}
	if len(recs) != 3 {
		t.Fatalf("limit: got %d records, want 3", len(recs))
	}
	for i := 1; i < len(recs); i++ {
		if recs[i].Result.ComputedAt.After(recs[i-1].Result.ComputedAt) {
			t.Errorf("records not newest-first at index %d", i)
		}
	}
	if recs[0].Result.IntrinsicValue != 104 {
		t.Errorf("newest record: got %.0f, want 104", recs[0].Result.IntrinsicValue)
	}
}

func TestMemoryQuerySince(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		at := baseTime.AddDate(0, 0, i)
		if _, err := s.Append(ctx, sampleResult("AAPL", at, float64(100+i))); err != nil {
			t.Fatalf("Append() error: %v", err)
		}
	}

	since := baseTime.AddDate(0, 0, 2)
	recs, err := s.Query(ctx, "AAPL", 0, since)
	if err != nil {
		t.Fatalf("Query() error: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("since filter: got %d records, want 2", len(recs))
	}
	for _, rec := range recs {
		if !rec.Result.ComputedAt.After(since) {
			t.Errorf("record %v not after since %v", rec.Result.ComputedAt, since)
		}
	}
}

func TestMemoryLatestNotFound(t *testing.T) {
	s := NewMemoryStore()
	if _, err := s.Latest(context.Background(), "NOPE"); !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown ticker: got %v, want ErrNotFound", err)
	}
}

func TestMemoryReadsDoNotAllocateBuckets(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	if recs, err := s.Query(ctx, "GHOST", 0, time.Time{}); err != nil || len(recs) != 0 {
		t.Errorf("Query unknown ticker: got %v, %v", recs, err)
	}
	if _, err := s.Latest(ctx, "PHANTOM"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Latest unknown ticker: got %v, want ErrNotFound", err)
	}

	s.mu.RLock()
	n := len(s.buckets)
	s.mu.RUnlock()
	if n != 0 {
		t.Errorf("reads allocated %d buckets, want 0", n)
	}
}

func TestMemoryAllLatest(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	tickers := []string{"MSFT", "AAPL", "GOOG"}
	for _, ticker := range tickers {
		for i := 0; i < 3; i++ {
			at := baseTime.AddDate(0, 0, i)
			if _, err := s.Append(ctx, sampleResult(ticker, at, float64(i))); err != nil {
				t.Fatalf("Append(%s) error: %v", ticker, err)
			}
		}
	}

	recs, err := s.AllLatest(ctx)
	if err != nil {
		t.Fatalf("AllLatest() error: %v", err)
	}
	if len(recs) != 3 {
		t.Fatalf("got %d records, want 3 (one per ticker)", len(recs))
	}
	for _, rec := range recs {
		if rec.Result.IntrinsicValue != 2 {
			t.Errorf("%s: got intrinsic %.0f, want latest (2)", rec.Result.Ticker, rec.Result.IntrinsicValue)
		}
	}
	// Ticker order is deterministic.
	for i, want := range []string{"AAPL", "GOOG", "MSFT"} {
		if recs[i].Result.Ticker != want {
			t.Errorf("order[%d]: got %s, want %s", i, recs[i].Result.Ticker, want)
		}
	}
}

func TestMemoryConcurrentAppends(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	const tickers = 8
	const runsPerTicker = 50

	var wg sync.WaitGroup
	for i := 0; i < tickers; i++ {
		ticker := fmt.Sprintf("T%02d", i)
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < runsPerTicker; j++ {
				at := baseTime.Add(time.Duration(j) * time.Minute)
				if _, err := s.Append(ctx, sampleResult(ticker, at, float64(j))); err != nil {
					t.Errorf("Append(%s, %d): %v", ticker, j, err)
					return
				}
			}
		}()
	}
	wg.Wait()

	for i := 0; i < tickers; i++ {
		ticker := fmt.Sprintf("T%02d", i)
		recs, err := s.Query(ctx, ticker, 0, time.Time{})
		if err != nil {
			t.Fatalf("Query(%s) error: %v", ticker, err)
		}
		if len(recs) != runsPerTicker {
			t.Errorf("%s: got %d records, want %d", ticker, len(recs), runsPerTicker)
		}
	}
}

// TestPostgresStore exercises the PostgreSQL backend against a real database.
// Set DCFSCAN_TEST_DATABASE_URL to run it.
func TestPostgresStore(t *testing.T) {
	dsn := os.Getenv("DCFSCAN_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("DCFSCAN_TEST_DATABASE_URL not set")
	}

	ctx := context.Background()
	s, err := NewPostgresStore(ctx, dsn)
	if err != nil {
		t.Fatalf("NewPostgresStore() error: %v", err)
	}
	defer s.Close()

	at := time.Now().UTC().Truncate(time.Microsecond)
	r := sampleResult("PGTEST", at, 150)

	id, err := s.Append(ctx, r)
	if err != nil {
		t.Fatalf("Append() error: %v", err)
	}
	if id == "" {
		t.Error("expected a record ID")
	}

	if _, err := s.Append(ctx, r); !errors.Is(err, ErrDuplicate) {
		t.Errorf("duplicate Append(): got %v, want ErrDuplicate", err)
	}

	latest, err := s.Latest(ctx, "PGTEST")
	if err != nil {
		t.Fatalf("Latest() error: %v", err)
	}
	if !latest.Result.ComputedAt.Equal(at) {
		t.Errorf("Latest timestamp: got %v, want %v", latest.Result.ComputedAt, at)
	}
	if latest.Result.Params.WACC != r.Params.WACC {
		t.Errorf("params round-trip: got WACC %.4f, want %.4f", latest.Result.Params.WACC, r.Params.WACC)
	}
}
