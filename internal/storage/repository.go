package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
)

const (
	schemaSQL = `CREATE TABLE IF NOT EXISTS price_samples (
        inst_id     TEXT        NOT NULL,
        observed_at TIMESTAMPTZ NOT NULL,
        price       NUMERIC     NOT NULL,
        created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
        PRIMARY KEY (inst_id, observed_at)
    );
    CREATE TABLE IF NOT EXISTS price_alerts (
        id             UUID        PRIMARY KEY,
        inst_id        TEXT        NOT NULL,
        change_pct     NUMERIC     NOT NULL,
        threshold_pct  NUMERIC     NOT NULL,
        direction      TEXT        NOT NULL,
        current_price  NUMERIC     NOT NULL,
        baseline_price NUMERIC     NOT NULL,
        triggered_at   TIMESTAMPTZ NOT NULL,
        created_at     TIMESTAMPTZ NOT NULL DEFAULT now()
    );
    CREATE INDEX IF NOT EXISTS price_alerts_created_at_idx ON price_alerts (created_at);`

	insertSampleSQL = `INSERT INTO price_samples (
        inst_id,
        observed_at,
        price
    ) VALUES (
        $1,$2,$3
    )
    ON CONFLICT (inst_id, observed_at) DO UPDATE
    SET price = EXCLUDED.price;`

	listSamplesBetweenSQL = `SELECT
        inst_id,
        observed_at,
        price::text,
        created_at
    FROM price_samples
    WHERE inst_id = $1
      AND observed_at >= $2
      AND observed_at < $3
    ORDER BY observed_at;`

	listRecentSamplesSQL = `SELECT
        inst_id,
        observed_at,
        price::text,
        created_at
    FROM price_samples
    WHERE ($1 = '' OR inst_id = $1)
    ORDER BY observed_at DESC
    LIMIT $2;`

	countSamplesSQL = `SELECT COUNT(*) FROM price_samples;`

	insertAlertSQL = `INSERT INTO price_alerts (
        id,
        inst_id,
        change_pct,
        threshold_pct,
        direction,
        current_price,
        baseline_price,
        triggered_at
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8
    )
    ON CONFLICT (id) DO NOTHING
    RETURNING created_at;`

	listRecentAlertsSQL = `SELECT
        id::text,
        inst_id,
        change_pct::text,
        threshold_pct::text,
        direction,
        current_price::text,
        baseline_price::text,
        triggered_at,
        created_at
    FROM price_alerts
    ORDER BY created_at DESC
    LIMIT $1;`

	deleteAlertsBeforeSQL = `DELETE FROM price_alerts WHERE created_at < $1;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// SampleArchive defines write-only archival and read-back for reports.
type SampleArchive interface {
	InsertSample(ctx context.Context, sample PriceSample) error
	ListSamplesBetween(ctx context.Context, instID string, from, to time.Time) ([]PriceSample, error)
	ListRecentSamples(ctx context.Context, instID string, limit int) ([]PriceSample, error)
	CountSamples(ctx context.Context) (int64, error)
}

// AlertStore defines operations for alert auditing.
type AlertStore interface {
	InsertAlert(ctx context.Context, alert AlertRecord) (AlertRecord, error)
	ListRecentAlerts(ctx context.Context, limit int) ([]AlertRecord, error)
	DeleteAlertsBefore(ctx context.Context, olderThan time.Time) error
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Store aggregates access to archived samples and alerts.
type Store struct {
	pool *pgxpool.Pool
}

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

// EnsureSchema creates the archive tables when missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		// best effort; the lock dies with the session anyway
		_, _ = conn.Exec(ctxUnlock, advisoryUnlockSQL, key)
		conn.Release()
	}
	return unlock, true, nil
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// InsertSample archives one observation.
func (s *Store) InsertSample(ctx context.Context, sample PriceSample) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	if _, execErr := pool.Exec(ctx, insertSampleSQL, sample.InstID, sample.ObservedAt, sample.Price.String()); execErr != nil {
		return fmt.Errorf("insert price sample: %w", execErr)
	}
	return nil
}

// ListSamplesBetween lists an instrument's samples within a time window.
func (s *Store) ListSamplesBetween(ctx context.Context, instID string, from, to time.Time) ([]PriceSample, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listSamplesBetweenSQL, instID, from, to)
	if queryErr != nil {
		return nil, fmt.Errorf("list samples between: %w", queryErr)
	}
	defer rows.Close()

	return collectSamples(rows, 0)
}

// ListRecentSamples lists the most recent samples, newest first. An empty
// instID lists across all instruments.
func (s *Store) ListRecentSamples(ctx context.Context, instID string, limit int) ([]PriceSample, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentSamplesSQL, instID, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent samples: %w", queryErr)
	}
	defer rows.Close()

	return collectSamples(rows, limit)
}

// CountSamples counts archived samples.
func (s *Store) CountSamples(ctx context.Context) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	var count int64
	if scanErr := pool.QueryRow(ctx, countSamplesSQL).Scan(&count); scanErr != nil {
		return 0, fmt.Errorf("count samples: %w", scanErr)
	}
	return count, nil
}

// InsertAlert persists an alert emission.
func (s *Store) InsertAlert(ctx context.Context, alert AlertRecord) (AlertRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return AlertRecord{}, err
	}
	if alert.ID == uuid.Nil {
		alert.ID = uuid.New()
	}

	row := pool.QueryRow(ctx, insertAlertSQL,
		alert.ID.String(),
		alert.InstID,
		alert.ChangePct.String(),
		alert.ThresholdPct.String(),
		alert.Direction,
		alert.CurrentPrice.String(),
		alert.BaselinePrice.String(),
		alert.TriggeredAt,
	)

	if scanErr := row.Scan(&alert.CreatedAt); scanErr != nil {
		if errors.Is(scanErr, pgx.ErrNoRows) {
			// already archived under this id
			return alert, nil
		}
		return AlertRecord{}, fmt.Errorf("insert alert: %w", scanErr)
	}
	return alert, nil
}

// ListRecentAlerts lists most recent alerts.
func (s *Store) ListRecentAlerts(ctx context.Context, limit int) ([]AlertRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentAlertsSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent alerts: %w", queryErr)
	}
	defer rows.Close()

	alerts := make([]AlertRecord, 0, limit)
	for rows.Next() {
		var (
			rec                            AlertRecord
			idStr, changeStr, thresholdStr string
			currentStr, baselineStr        string
		)
		if err := rows.Scan(
			&idStr,
			&rec.InstID,
			&changeStr,
			&thresholdStr,
			&rec.Direction,
			&currentStr,
			&baselineStr,
			&rec.TriggeredAt,
			&rec.CreatedAt,
		); err != nil {
			return nil, err
		}

		if rec.ID, err = uuid.Parse(idStr); err != nil {
			return nil, fmt.Errorf("parse alert id: %w", err)
		}
		if rec.ChangePct, err = decimal.NewFromString(changeStr); err != nil {
			return nil, fmt.Errorf("parse change pct: %w", err)
		}
		if rec.ThresholdPct, err = decimal.NewFromString(thresholdStr); err != nil {
			return nil, fmt.Errorf("parse threshold pct: %w", err)
		}
		if rec.CurrentPrice, err = decimal.NewFromString(currentStr); err != nil {
			return nil, fmt.Errorf("parse current price: %w", err)
		}
		if rec.BaselinePrice, err = decimal.NewFromString(baselineStr); err != nil {
			return nil, fmt.Errorf("parse baseline price: %w", err)
		}

		alerts = append(alerts, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return alerts, nil
}

// DeleteAlertsBefore deletes historical alerts.
func (s *Store) DeleteAlertsBefore(ctx context.Context, olderThan time.Time) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, deleteAlertsBeforeSQL, olderThan); execErr != nil {
		return fmt.Errorf("delete alerts before: %w", execErr)
	}
	return nil
}

func collectSamples(rows pgx.Rows, capacity int) ([]PriceSample, error) {
	if capacity < 0 {
		capacity = 0
	}
	samples := make([]PriceSample, 0, capacity)
	for rows.Next() {
		sample, scanErr := scanPriceSample(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		samples = append(samples, sample)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return samples, nil
}

func scanPriceSample(rows pgx.Rows) (PriceSample, error) {
	var (
		sample   PriceSample
		priceStr string
	)

	if err := rows.Scan(
		&sample.InstID,
		&sample.ObservedAt,
		&priceStr,
		&sample.CreatedAt,
	); err != nil {
		return PriceSample{}, err
	}

	price, err := decimal.NewFromString(priceStr)
	if err != nil {
		return PriceSample{}, fmt.Errorf("parse price: %w", err)
	}
	sample.Price = price
	return sample, nil
}

var (
	_ SampleArchive  = (*Store)(nil)
	_ AlertStore     = (*Store)(nil)
	_ AdvisoryLocker = (*Store)(nil)
)
