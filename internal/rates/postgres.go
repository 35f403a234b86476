package rates

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PostgresProvider reads rates from the roi_rates and coin_rates history
// tables. Setting a rate appends a row; old rows are never mutated, so the
// full administrative history is retained for audit.
type PostgresProvider struct {
	db *sql.DB
}

func NewPostgresProvider(db *sql.DB) *PostgresProvider {
	return &PostgresProvider{db: db}
}

func (p *PostgresProvider) CurrentROIRatePercent(ctx context.Context) (decimal.Decimal, error) {
	return p.latestActive(ctx, "roi_rates")
}

func (p *PostgresProvider) CurrentCoinRate(ctx context.Context) (decimal.Decimal, error) {
	return p.latestActive(ctx, "coin_rates")
}

func (p *PostgresProvider) latestActive(ctx context.Context, table string) (decimal.Decimal, error) {
	var rate decimal.Decimal
	query := fmt.Sprintf(
		`SELECT rate FROM %s WHERE is_active ORDER BY created_at DESC, id DESC LIMIT 1`, table)

	err := p.db.QueryRowContext(ctx, query).Scan(&rate)
	if err == sql.ErrNoRows {
		return decimal.Zero, ErrRateNotConfigured
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("read %s: %w", table, err)
	}
	return rate, nil
}

// SetROIRate appends a new active ROI row.
func (p *PostgresProvider) SetROIRate(ctx context.Context, rate decimal.Decimal, createdBy uuid.UUID) error {
	return p.appendRate(ctx, "roi_rates", rate, createdBy)
}

// SetCoinRate appends a new active coin→cash rate row.
func (p *PostgresProvider) SetCoinRate(ctx context.Context, rate decimal.Decimal, createdBy uuid.UUID) error {
	return p.appendRate(ctx, "coin_rates", rate, createdBy)
}

func (p *PostgresProvider) appendRate(ctx context.Context, table string, rate decimal.Decimal, createdBy uuid.UUID) error {
	if rate.Sign() <= 0 {
		return fmt.Errorf("rate must be positive, got %s", rate)
	}

	query := fmt.Sprintf(
		`INSERT INTO %s (rate, is_active, created_by) VALUES ($1, TRUE, $2)`, table)

	if _, err := p.db.ExecContext(ctx, query, rate, createdBy); err != nil {
		return fmt.Errorf("append %s: %w", table, err)
	}
	return nil
}
