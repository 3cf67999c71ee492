// Package history provides the durable, append-only log of valuation runs.
//
// Every valuation is persisted as a Record keyed by (ticker, computed-at).
// Records are never mutated or deleted by normal operation, which lets trend
// analysis trust the timestamp ordering. Two backends satisfy the Store
// interface: an in-memory store and a PostgreSQL store.
package history

import (
	"context"
	"errors"
	"time"

	"github.com/dcfscan/dcfscan/pkg/models"
)

// Sentinel errors.
var (
	// ErrNotFound is returned when a ticker has no stored valuations.
	ErrNotFound = errors.New("no valuation history for ticker")

	// ErrDuplicate is returned when a record with the same ticker and
	// computation timestamp already exists. Appends never overwrite.
	ErrDuplicate = errors.New("valuation already recorded for ticker at this timestamp")

	// ErrMissingKey is returned when a record lacks a ticker or timestamp.
	ErrMissingKey = errors.New("record requires ticker and computation timestamp")
)

// Record is one persisted valuation run.
type Record struct {
	ID     string                 `json:"id"`
	Result models.ValuationResult `json:"result"`
}

// Store is the persistence contract for valuation history.
//
// Append assigns a fresh ID and returns it. Uniqueness is enforced on the
// (ticker, computed-at) pair, not on the ticker alone: multiple runs per
// ticker are expected and required for trending. Implementations must allow
// concurrent appends for distinct tickers to proceed independently while
// serializing appends to the same ticker's record set.
type Store interface {
	// Append durably stores one valuation run and returns its record ID.
	Append(ctx context.Context, result models.ValuationResult) (string, error)

	// Query returns up to limit records for the ticker, newest first,
	// restricted to records computed after since when since is non-zero.
	// limit <= 0 means no limit.
	Query(ctx context.Context, ticker string, limit int, since time.Time) ([]Record, error)

	// Latest returns the most recent record for the ticker, or ErrNotFound.
	Latest(ctx context.Context, ticker string) (Record, error)

	// AllLatest returns the most recent record for every ticker.
	AllLatest(ctx context.Context) ([]Record, error)

	// QueryAll returns every stored record across all tickers, ordered by
	// ticker ascending then computed-at descending.
	QueryAll(ctx context.Context) ([]Record, error)

	// Close releases backend resources.
	Close() error
}
