package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"price-target-alerts/internal/alert"
	"price-target-alerts/internal/config"
)

const (
	insertAlertSQL = `INSERT INTO alerts (
        id,
        owner_id,
        product_query,
        target_price,
        status,
        consecutive_failures,
        created_at
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7
    );`

	selectAlertOwnedSQL = `SELECT
        id, owner_id, product_query, target_price, status,
        consecutive_failures, last_evaluated_at, created_at
    FROM alerts
    WHERE id = $1 AND owner_id = $2;`

	listAlertsByOwnerSQL = `SELECT
        id, owner_id, product_query, target_price, status,
        consecutive_failures, last_evaluated_at, created_at
    FROM alerts
    WHERE owner_id = $1
    ORDER BY created_at;`

	listActiveAlertsSQL = `SELECT
        id, owner_id, product_query, target_price, status,
        consecutive_failures, last_evaluated_at, created_at
    FROM alerts
    WHERE status = 'active'
    ORDER BY created_at;`

	deleteAlertOwnedSQL = `DELETE FROM alerts WHERE id = $1 AND owner_id = $2;`

	recordEvaluationSQL = `UPDATE alerts
    SET consecutive_failures = $2, last_evaluated_at = $3
    WHERE id = $1;`

	transitionStatusSQL = `UPDATE alerts
    SET status = $3
    WHERE id = $1 AND status = $2;`

	insertNotificationSQL = `INSERT INTO notifications (
        alert_id, sent_at, outcome
    ) VALUES ($1,$2,$3);`
)

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

// Postgres is the pgx-backed AlertStore. The status transition relies on a
// conditional UPDATE so the row-level lock in PostgreSQL provides the CAS.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres wires a pgx pool into a Postgres store.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

// Close releases the underlying pool resources.
func (p *Postgres) Close() {
	if p == nil || p.pool == nil {
		return
	}
	p.pool.Close()
}

func (p *Postgres) getPool() (*pgxpool.Pool, error) {
	if p == nil || p.pool == nil {
		return nil, ErrNotConfigured
	}
	return p.pool, nil
}

// Create persists a new alert record.
func (p *Postgres) Create(ctx context.Context, a alert.Alert) error {
	pool, err := p.getPool()
	if err != nil {
		return err
	}

	_, execErr := pool.Exec(ctx, insertAlertSQL,
		a.ID,
		a.OwnerID,
		a.ProductQuery,
		a.TargetPrice.String(),
		string(a.Status),
		a.ConsecutiveFailures,
		a.CreatedAt,
	)
	if execErr != nil {
		return fmt.Errorf("insert alert: %w", execErr)
	}
	return nil
}

// GetOwned fetches an alert scoped to its owner.
func (p *Postgres) GetOwned(ctx context.Context, id, ownerID uuid.UUID) (alert.Alert, error) {
	pool, err := p.getPool()
	if err != nil {
		return alert.Alert{}, err
	}

	row := pool.QueryRow(ctx, selectAlertOwnedSQL, id, ownerID)
	a, scanErr := scanAlert(row)
	if scanErr != nil {
		if errors.Is(scanErr, pgx.ErrNoRows) {
			return alert.Alert{}, alert.ErrNotFound
		}
		return alert.Alert{}, scanErr
	}
	return a, nil
}

// ListByOwner lists every alert belonging to the owner.
func (p *Postgres) ListByOwner(ctx context.Context, ownerID uuid.UUID) ([]alert.Alert, error) {
	return p.queryAlerts(ctx, listAlertsByOwnerSQL, ownerID)
}

// ListActive lists every alert still eligible for evaluation.
func (p *Postgres) ListActive(ctx context.Context) ([]alert.Alert, error) {
	return p.queryAlerts(ctx, listActiveAlertsSQL)
}

func (p *Postgres) queryAlerts(ctx context.Context, sql string, args ...any) ([]alert.Alert, error) {
	pool, err := p.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, sql, args...)
	if queryErr != nil {
		return nil, fmt.Errorf("list alerts: %w", queryErr)
	}
	defer rows.Close()

	alerts := make([]alert.Alert, 0)
	for rows.Next() {
		a, scanErr := scanAlert(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		alerts = append(alerts, a)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return alerts, nil
}

// DeleteOwned removes an alert scoped to its owner.
func (p *Postgres) DeleteOwned(ctx context.Context, id, ownerID uuid.UUID) error {
	pool, err := p.getPool()
	if err != nil {
		return err
	}

	cmdTag, execErr := pool.Exec(ctx, deleteAlertOwnedSQL, id, ownerID)
	if execErr != nil {
		return fmt.Errorf("delete alert: %w", execErr)
	}
	if cmdTag.RowsAffected() == 0 {
		return alert.ErrNotFound
	}
	return nil
}

// RecordEvaluation updates the failure counter and evaluation timestamp.
func (p *Postgres) RecordEvaluation(ctx context.Context, id uuid.UUID, consecutiveFailures int, at time.Time) error {
	pool, err := p.getPool()
	if err != nil {
		return err
	}

	cmdTag, execErr := pool.Exec(ctx, recordEvaluationSQL, id, consecutiveFailures, at)
	if execErr != nil {
		return fmt.Errorf("record evaluation: %w", execErr)
	}
	if cmdTag.RowsAffected() == 0 {
		return alert.ErrNotFound
	}
	return nil
}

// TransitionStatus performs the CAS through a conditional UPDATE; zero rows
// affected means another sweep already moved the alert out of `from`.
func (p *Postgres) TransitionStatus(ctx context.Context, id uuid.UUID, from, to alert.Status) (bool, error) {
	pool, err := p.getPool()
	if err != nil {
		return false, err
	}

	cmdTag, execErr := pool.Exec(ctx, transitionStatusSQL, id, string(from), string(to))
	if execErr != nil {
		return false, fmt.Errorf("transition status: %w", execErr)
	}
	return cmdTag.RowsAffected() == 1, nil
}

// InsertNotification appends an audit record. A partial unique index on
// (alert_id) WHERE outcome = 'sent' backs the at-most-one-Sent guarantee.
func (p *Postgres) InsertNotification(ctx context.Context, rec NotificationRecord) error {
	pool, err := p.getPool()
	if err != nil {
		return err
	}

	if _, execErr := pool.Exec(ctx, insertNotificationSQL, rec.AlertID, rec.SentAt, string(rec.Outcome)); execErr != nil {
		var pgErr *pgconn.PgError
		if errors.As(execErr, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicateNotification
		}
		return fmt.Errorf("insert notification: %w", execErr)
	}
	return nil
}

func scanAlert(row pgx.Row) (alert.Alert, error) {
	var (
		a           alert.Alert
		targetStr   string
		status      string
		lastEvalPtr *time.Time
	)

	if err := row.Scan(
		&a.ID,
		&a.OwnerID,
		&a.ProductQuery,
		&targetStr,
		&status,
		&a.ConsecutiveFailures,
		&lastEvalPtr,
		&a.CreatedAt,
	); err != nil {
		return alert.Alert{}, err
	}

	target, err := decimal.NewFromString(targetStr)
	if err != nil {
		return alert.Alert{}, fmt.Errorf("parse target price: %w", err)
	}

	a.TargetPrice = target
	a.Status = alert.Status(status)
	a.LastEvaluatedAt = lastEvalPtr
	return a, nil
}

var _ AlertStore = (*Postgres)(nil)
