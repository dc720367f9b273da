package snapshot

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"fx-market-data/internal/config"
)

// ErrNotConfigured indicates the snapshot pool was not initialised.
var ErrNotConfigured = errors.New("snapshot: pool not configured")

const (
	insertSnapshotSQL = `INSERT INTO fx_snapshots (
        symbol,
        bid,
        ask,
        mid,
        spread,
        source_ts,
        captured_at
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7
    )
    ON CONFLICT (symbol, source_ts) DO NOTHING;`

	listRecentSnapshotsSQL = `SELECT
        symbol,
        bid,
        ask,
        mid,
        spread,
        source_ts,
        captured_at
    FROM fx_snapshots
    WHERE symbol = $1
    ORDER BY source_ts DESC
    LIMIT $2;`
)

// Snapshot is one durably persisted quote taken from the short-lived cache.
type Snapshot struct {
	Symbol     string
	Bid        decimal.Decimal
	Ask        decimal.Decimal
	Mid        decimal.Decimal
	Spread     decimal.Decimal
	SourceTS   time.Time
	CapturedAt time.Time
}

// Writer persists snapshot batches.
type Writer interface {
	InsertSnapshots(ctx context.Context, snapshots []Snapshot) error
}

// NewPool configures a PostgreSQL connection pool from runtime settings.
func NewPool(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse database dsn: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		poolConfig.MaxConns = int32(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		poolConfig.MinConns = int32(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		poolConfig.MaxConnLifetime = cfg.ConnMaxLifetime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create pgx pool: %w", err)
	}

	return pool, nil
}

// Store persists snapshots in PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

var _ Writer = (*Store)(nil)

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// InsertSnapshots persists a batch inside one transaction. Duplicate
// (symbol, source_ts) pairs are skipped, so re-running a bucket is safe.
func (s *Store) InsertSnapshots(ctx context.Context, snapshots []Snapshot) error {
	if len(snapshots) == 0 {
		return nil
	}
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin snapshot tx: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, snap := range snapshots {
		if _, execErr := tx.Exec(ctx, insertSnapshotSQL,
			snap.Symbol,
			snap.Bid.String(),
			snap.Ask.String(),
			snap.Mid.String(),
			snap.Spread.String(),
			snap.SourceTS,
			snap.CapturedAt,
		); execErr != nil {
			return fmt.Errorf("insert snapshot %s: %w", snap.Symbol, execErr)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit snapshot tx: %w", err)
	}
	return nil
}

// ListRecent lists the most recent snapshots for one symbol, newest first.
func (s *Store) ListRecent(ctx context.Context, symbol string, limit int) ([]Snapshot, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentSnapshotsSQL, symbol, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent snapshots: %w", queryErr)
	}
	defer rows.Close()

	snapshots := make([]Snapshot, 0, limit)
	for rows.Next() {
		snap, scanErr := scanSnapshot(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		snapshots = append(snapshots, snap)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return snapshots, nil
}

func scanSnapshot(rows pgx.Rows) (Snapshot, error) {
	var (
		symbol     string
		bidStr     string
		askStr     string
		midStr     string
		spreadStr  string
		sourceTS   time.Time
		capturedAt time.Time
	)

	if err := rows.Scan(&symbol, &bidStr, &askStr, &midStr, &spreadStr, &sourceTS, &capturedAt); err != nil {
		return Snapshot{}, err
	}

	bid, err := decimal.NewFromString(bidStr)
	if err != nil {
		return Snapshot{}, fmt.Errorf("parse bid: %w", err)
	}
	ask, err := decimal.NewFromString(askStr)
	if err != nil {
		return Snapshot{}, fmt.Errorf("parse ask: %w", err)
	}
	mid, err := decimal.NewFromString(midStr)
	if err != nil {
		return Snapshot{}, fmt.Errorf("parse mid: %w", err)
	}
	spread, err := decimal.NewFromString(spreadStr)
	if err != nil {
		return Snapshot{}, fmt.Errorf("parse spread: %w", err)
	}

	return Snapshot{
		Symbol:     symbol,
		Bid:        bid,
		Ask:        ask,
		Mid:        mid,
		Spread:     spread,
		SourceTS:   sourceTS,
		CapturedAt: capturedAt,
	}, nil
}
