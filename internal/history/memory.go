package history

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dcfscan/dcfscan/pkg/models"
)

// MemoryStore is an in-memory Store. It is the reference backend: useful on
// its own for single-process runs and as the test double for the others.
//
// Each ticker owns its own bucket with its own lock, so appends for distinct
// tickers never block each other; the outer lock is held only long enough to
// find or create the bucket.
type MemoryStore struct {
	mu      sync.RWMutex
	buckets map[string]*bucket
}

type bucket struct {
	mu sync.Mutex
	// records sorted ascending by ComputedAt
	records []Record
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{buckets: make(map[string]*bucket)}
}

func (s *MemoryStore) bucketFor(ticker string) *bucket {
	s.mu.RLock()
	b, ok := s.buckets[ticker]
	s.mu.RUnlock()
	if ok {
		return b
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok = s.buckets[ticker]; !ok {
		b = &bucket{}
		s.buckets[ticker] = b
	}
	return b
}

// lookupBucket returns the ticker's bucket without allocating one, so read
// paths for unknown tickers do not grow the map.
func (s *MemoryStore) lookupBucket(ticker string) (*bucket, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.buckets[ticker]
	return b, ok
}

// Append stores one valuation run. Duplicate (ticker, computed-at) pairs are
// rejected with ErrDuplicate.
func (s *MemoryStore) Append(_ context.Context, result models.ValuationResult) (string, error) {
	if result.Ticker == "" || result.ComputedAt.IsZero() {
		return "", ErrMissingKey
	}

	b := s.bucketFor(result.Ticker)
	b.mu.Lock()
	defer b.mu.Unlock()

	// Insertion point by timestamp; an exact match is a duplicate.
	i := sort.Search(len(b.records), func(i int) bool {
		return !b.records[i].Result.ComputedAt.Before(result.ComputedAt)
	})
	if i < len(b.records) && b.records[i].Result.ComputedAt.Equal(result.ComputedAt) {
		return "", ErrDuplicate
	}

	rec := Record{ID: uuid.NewString(), Result: result}
	b.records = append(b.records, Record{})
	copy(b.records[i+1:], b.records[i:])
	b.records[i] = rec

	return rec.ID, nil
}

// Query returns records for the ticker, newest first.
func (s *MemoryStore) Query(_ context.Context, ticker string, limit int, since time.Time) ([]Record, error) {
	b, ok := s.lookupBucket(ticker)
	if !ok {
		return []Record{}, nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]Record, 0, len(b.records))
	for i := len(b.records) - 1; i >= 0; i-- {
		rec := b.records[i]
		if !since.IsZero() && !rec.Result.ComputedAt.After(since) {
			break
		}
		out = append(out, rec)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// Latest returns the most recent record for the ticker.
func (s *MemoryStore) Latest(_ context.Context, ticker string) (Record, error) {
	b, ok := s.lookupBucket(ticker)
	if !ok {
		return Record{}, ErrNotFound
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.records) == 0 {
		return Record{}, ErrNotFound
	}
	return b.records[len(b.records)-1], nil
}

// AllLatest returns the newest record per ticker, ordered by ticker for a
// reproducible scan order.
func (s *MemoryStore) AllLatest(_ context.Context) ([]Record, error) {
	s.mu.RLock()
	tickers := make([]string, 0, len(s.buckets))
	for t := range s.buckets {
		tickers = append(tickers, t)
	}
	s.mu.RUnlock()
	sort.Strings(tickers)

	out := make([]Record, 0, len(tickers))
	for _, t := range tickers {
		b, ok := s.lookupBucket(t)
		if !ok {
			continue
		}
		b.mu.Lock()
		if n := len(b.records); n > 0 {
			out = append(out, b.records[n-1])
		}
		b.mu.Unlock()
	}
	return out, nil
}

// QueryAll returns every record across all tickers, ordered by ticker
// ascending then computed-at descending.
func (s *MemoryStore) QueryAll(_ context.Context) ([]Record, error) {
	s.mu.RLock()
	tickers := make([]string, 0, len(s.buckets))
	for t := range s.buckets {
		tickers = append(tickers, t)
	}
	s.mu.RUnlock()
	sort.Strings(tickers)

	var out []Record
	for _, t := range tickers {
		b, ok := s.lookupBucket(t)
		if !ok {
			continue
		}
		b.mu.Lock()
		for i := len(b.records) - 1; i >= 0; i-- {
			out = append(out, b.records[i])
		}
		b.mu.Unlock()
	}
	return out, nil
}

// Close is a no-op for the in-memory store.
func (s *MemoryStore) Close() error { return nil }
