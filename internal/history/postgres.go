package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dcfscan/dcfscan/pkg/models"
)

// uniqueViolation is the PostgreSQL error code for a unique constraint hit.
const uniqueViolation = "23505"

const schema = `
CREATE TABLE IF NOT EXISTS valuation_runs (
	id               UUID PRIMARY KEY,
	ticker           TEXT NOT NULL,
	computed_at      TIMESTAMPTZ NOT NULL,
	intrinsic_value  DOUBLE PRECISION NOT NULL,
	current_price    DOUBLE PRECISION NOT NULL,
	discount_pct     DOUBLE PRECISION NOT NULL,
	classification   TEXT NOT NULL,
	params           JSONB NOT NULL,
	breakdown        JSONB NOT NULL,
	UNIQUE (ticker, computed_at)
);
CREATE INDEX IF NOT EXISTS idx_valuation_runs_ticker
	ON valuation_runs (ticker, computed_at DESC);
`

// breakdown is the JSONB payload for the calculation detail columns.
type breakdown struct {
	Projections      []float64 `json:"projections"`
	TerminalValue    float64   `json:"terminal_value"`
	PVProjections    float64   `json:"pv_projections"`
	PVTerminal       float64   `json:"pv_terminal"`
	HistoricalGrowth float64   `json:"historical_growth"`
}

// PostgresStore is a Store backed by PostgreSQL via pgxpool. Parameters are
// stored verbatim as JSONB so every run stays reproducible; the UNIQUE
// (ticker, computed_at) constraint enforces the append-only invariant at the
// database level, so concurrent writers need no application-side locking.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to the database and ensures the schema exists.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse database config: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

// Append durably stores one valuation run.
func (s *PostgresStore) Append(ctx context.Context, result models.ValuationResult) (string, error) {
	if result.Ticker == "" || result.ComputedAt.IsZero() {
		return "", ErrMissingKey
	}

	paramsJSON, err := json.Marshal(result.Params)
	if err != nil {
		return "", fmt.Errorf("marshal params: %w", err)
	}
	bd := breakdown{
		Projections:      result.Projections,
		TerminalValue:    result.TerminalValue,
		PVProjections:    result.PVProjections,
		PVTerminal:       result.PVTerminal,
		HistoricalGrowth: result.HistoricalGrowth,
	}
	bdJSON, err := json.Marshal(bd)
	if err != nil {
		return "", fmt.Errorf("marshal breakdown: %w", err)
	}

	id := uuid.NewString()
	_, err = s.pool.Exec(ctx, `
		INSERT INTO valuation_runs
			(id, ticker, computed_at, intrinsic_value, current_price,
			 discount_pct, classification, params, breakdown)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		id, result.Ticker, result.ComputedAt, result.IntrinsicValue,
		result.CurrentPrice, result.DiscountPct, string(result.Classification),
		paramsJSON, bdJSON)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return "", ErrDuplicate
		}
		return "", fmt.Errorf("append valuation: %w", err)
	}
	return id, nil
}

// Query returns records for the ticker, newest first.
func (s *PostgresStore) Query(ctx context.Context, ticker string, limit int, since time.Time) ([]Record, error) {
	q := `
		SELECT id, ticker, computed_at, intrinsic_value, current_price,
		       discount_pct, classification, params, breakdown
		FROM valuation_runs
		WHERE ticker = $1 AND computed_at > $2
		ORDER BY computed_at DESC`
	args := []any{ticker, since}
	if limit > 0 {
		q += " LIMIT $3"
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	return scanRecords(rows)
}

// Latest returns the most recent record for the ticker.
func (s *PostgresStore) Latest(ctx context.Context, ticker string) (Record, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, ticker, computed_at, intrinsic_value, current_price,
		       discount_pct, classification, params, breakdown
		FROM valuation_runs
		WHERE ticker = $1
		ORDER BY computed_at DESC
		LIMIT 1`, ticker)
	if err != nil {
		return Record{}, fmt.Errorf("query latest: %w", err)
	}
	defer rows.Close()

	recs, err := scanRecords(rows)
	if err != nil {
		return Record{}, err
	}
	if len(recs) == 0 {
		return Record{}, ErrNotFound
	}
	return recs[0], nil
}

// AllLatest returns the newest record per ticker.
func (s *PostgresStore) AllLatest(ctx context.Context) ([]Record, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT DISTINCT ON (ticker)
		       id, ticker, computed_at, intrinsic_value, current_price,
		       discount_pct, classification, params, breakdown
		FROM valuation_runs
		ORDER BY ticker, computed_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("query all latest: %w", err)
	}
	defer rows.Close()

	return scanRecords(rows)
}

// QueryAll returns every stored record, ordered by ticker then newest first.
func (s *PostgresStore) QueryAll(ctx context.Context) ([]Record, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, ticker, computed_at, intrinsic_value, current_price,
		       discount_pct, classification, params, breakdown
		FROM valuation_runs
		ORDER BY ticker, computed_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("query all records: %w", err)
	}
	defer rows.Close()

	return scanRecords(rows)
}

// Close releases the connection pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func scanRecords(rows pgx.Rows) ([]Record, error) {
	var out []Record
	for rows.Next() {
		var (
			rec            Record
			classification string
			paramsJSON     []byte
			bdJSON         []byte
		)
		err := rows.Scan(&rec.ID, &rec.Result.Ticker, &rec.Result.ComputedAt,
			&rec.Result.IntrinsicValue, &rec.Result.CurrentPrice,
			&rec.Result.DiscountPct, &classification, &paramsJSON, &bdJSON)
		if err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		rec.Result.Classification = models.Classification(classification)

		if err := json.Unmarshal(paramsJSON, &rec.Result.Params); err != nil {
			return nil, fmt.Errorf("unmarshal params for %s: %w", rec.ID, err)
		}
		var bd breakdown
		if err := json.Unmarshal(bdJSON, &bd); err != nil {
			return nil, fmt.Errorf("unmarshal breakdown for %s: %w", rec.ID, err)
		}
		rec.Result.Projections = bd.Projections
		rec.Result.TerminalValue = bd.TerminalValue
		rec.Result.PVProjections = bd.PVProjections
		rec.Result.PVTerminal = bd.PVTerminal
		rec.Result.HistoricalGrowth = bd.HistoricalGrowth

		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}
	return out, nil
}
