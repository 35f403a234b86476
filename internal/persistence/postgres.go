package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"ApexLedger/internal/ledger"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

// PostgresStore persists ledgers in the ledgers/lock_entries tables. The
// version column implements the optimistic concurrency check: Save updates
// WHERE version = expectedVersion and reports ErrConflict on zero rows.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Load(ctx context.Context, userID uuid.UUID) (*ledger.Ledger, error) {
	l := ledger.New(userID)

	var lastLockAt sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		SELECT spendable_coins, cash_balance, locked_coins, lifetime_return, last_lock_at, version
		FROM ledgers WHERE user_id = $1`, userID,
	).Scan(&l.SpendableCoins, &l.CashBalance, &l.LockedCoins, &l.LifetimeReturn, &lastLockAt, &l.Version)

	if err == sql.ErrNoRows {
		// First sighting: an empty in-memory ledger at version 0. The row is
		// created by the first Save.
		return l, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load ledger %s: %w", userID, err)
	}
	if lastLockAt.Valid {
		t := lastLockAt.Time
		l.LastLockAt = &t
	}

	entries, err := s.loadEntries(ctx, userID)
	if err != nil {
		return nil, err
	}
	l.Entries = entries

	return l, nil
}

func (s *PostgresStore) loadEntries(ctx context.Context, userID uuid.UUID) ([]*ledger.LockEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, amount, lock_start, lock_end, roi_rate_at_lock, status,
		       last_claim_at, total_claimed,
		       unlock_requested_at, unlock_process_after, unlock_penalty_percent,
		       unlock_penalty_amount, unlock_amount_after_penalty, unlock_days_elapsed,
		       unlock_approved_at, unlock_approved_by
		FROM lock_entries WHERE user_id = $1
		ORDER BY lock_start, id`, userID)
	if err != nil {
		return nil, fmt.Errorf("load entries %s: %w", userID, err)
	}
	defer rows.Close()

	var entries []*ledger.LockEntry
	for rows.Next() {
		e := &ledger.LockEntry{}
		var (
			status        string
			lastClaimAt   sql.NullTime
			reqAt, procAt sql.NullTime
			penaltyPct    sql.NullInt64
			penaltyAmt    decimal.NullDecimal
			afterPenalty  decimal.NullDecimal
			daysElapsed   sql.NullInt64
			approvedAt    sql.NullTime
			approvedBy    uuid.NullUUID
		)

		if err := rows.Scan(
			&e.ID, &e.Amount, &e.LockStart, &e.LockEnd, &e.ROIRateAtLock, &status,
			&lastClaimAt, &e.TotalClaimed,
			&reqAt, &procAt, &penaltyPct,
			&penaltyAmt, &afterPenalty, &daysElapsed,
			&approvedAt, &approvedBy,
		); err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}

		st, ok := ledger.ParseEntryStatus(status)
		if !ok {
			return nil, fmt.Errorf("entry %s has unknown status %q", e.ID, status)
		}
		e.Status = st
		if lastClaimAt.Valid {
			t := lastClaimAt.Time
			e.LastClaimAt = &t
		}

		if reqAt.Valid {
			req := &ledger.UnlockRequest{
				RequestedAt:        reqAt.Time,
				ProcessAfter:       procAt.Time,
				PenaltyPercent:     penaltyPct.Int64,
				PenaltyAmount:      penaltyAmt.Decimal,
				AmountAfterPenalty: afterPenalty.Decimal,
				DaysElapsed:        daysElapsed.Int64,
			}
			if approvedAt.Valid {
				t := approvedAt.Time
				req.ApprovedAt = &t
			}
			if approvedBy.Valid {
				id := approvedBy.UUID
				req.ApprovedBy = &id
			}
			e.Unlock = req
		}

		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *PostgresStore) Save(ctx context.Context, l *ledger.Ledger, expectedVersion int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save: %w", err)
	}
	defer tx.Rollback()

	if err := saveTx(ctx, tx, l, expectedVersion); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit save %s: %w", l.UserID, err)
	}

	l.Version = expectedVersion + 1
	return nil
}

// SaveWithDeposit claims the deposit reference and saves the ledger in one
// transaction. A version conflict rolls the reference claim back, so the
// redelivered notice still credits; only a committed save burns the
// reference.
func (s *PostgresStore) SaveWithDeposit(ctx context.Context, l *ledger.Ledger, expectedVersion int64, dep Deposit) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO deposits (reference, user_id, amount, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (reference) DO NOTHING`,
		dep.Reference, dep.UserID, dep.Amount, time.Now().UTC())
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code.Name() == "unique_violation" {
			return ErrDuplicateDeposit
		}
		return fmt.Errorf("record deposit %s: %w", dep.Reference, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrDuplicateDeposit
	}

	if err := saveTx(ctx, tx, l, expectedVersion); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit save %s: %w", l.UserID, err)
	}

	l.Version = expectedVersion + 1
	return nil
}

func saveTx(ctx context.Context, tx *sql.Tx, l *ledger.Ledger, expectedVersion int64) error {
	var lastLockAt interface{}
	if l.LastLockAt != nil {
		lastLockAt = *l.LastLockAt
	}

	if expectedVersion == 0 {
		// First save races against another first save on the unique user_id.
		res, err := tx.ExecContext(ctx, `
			INSERT INTO ledgers (user_id, spendable_coins, cash_balance, locked_coins, lifetime_return, last_lock_at, version, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, 1, $7)
			ON CONFLICT (user_id) DO NOTHING`,
			l.UserID, l.SpendableCoins, l.CashBalance, l.LockedCoins, l.LifetimeReturn, lastLockAt, time.Now().UTC())
		if err != nil {
			return fmt.Errorf("insert ledger %s: %w", l.UserID, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrConflict
		}
	} else {
		res, err := tx.ExecContext(ctx, `
			UPDATE ledgers
			SET spendable_coins = $2, cash_balance = $3, locked_coins = $4,
			    lifetime_return = $5, last_lock_at = $6, version = version + 1, updated_at = $7
			WHERE user_id = $1 AND version = $8`,
			l.UserID, l.SpendableCoins, l.CashBalance, l.LockedCoins, l.LifetimeReturn,
			lastLockAt, time.Now().UTC(), expectedVersion)
		if err != nil {
			return fmt.Errorf("update ledger %s: %w", l.UserID, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrConflict
		}
	}

	for _, e := range l.Entries {
		if err := upsertEntry(ctx, tx, l.UserID, e); err != nil {
			return err
		}
	}

	return nil
}

func upsertEntry(ctx context.Context, tx *sql.Tx, userID uuid.UUID, e *ledger.LockEntry) error {
	var (
		lastClaimAt  interface{}
		reqAt        interface{}
		procAt       interface{}
		penaltyPct   interface{}
		penaltyAmt   interface{}
		afterPenalty interface{}
		daysElapsed  interface{}
		approvedAt   interface{}
		approvedBy   interface{}
	)
	if e.LastClaimAt != nil {
		lastClaimAt = *e.LastClaimAt
	}
	if e.Unlock != nil {
		reqAt = e.Unlock.RequestedAt
		procAt = e.Unlock.ProcessAfter
		penaltyPct = e.Unlock.PenaltyPercent
		penaltyAmt = e.Unlock.PenaltyAmount
		afterPenalty = e.Unlock.AmountAfterPenalty
		daysElapsed = e.Unlock.DaysElapsed
		if e.Unlock.ApprovedAt != nil {
			approvedAt = *e.Unlock.ApprovedAt
		}
		if e.Unlock.ApprovedBy != nil {
			approvedBy = *e.Unlock.ApprovedBy
		}
	}

	// Amount, lock window, and rate-at-lock are immutable after creation —
	// the conflict clause only touches the mutable fields.
	_, err := tx.ExecContext(ctx, `
		INSERT INTO lock_entries (
			id, user_id, amount, lock_start, lock_end, roi_rate_at_lock, status,
			last_claim_at, total_claimed,
			unlock_requested_at, unlock_process_after, unlock_penalty_percent,
			unlock_penalty_amount, unlock_amount_after_penalty, unlock_days_elapsed,
			unlock_approved_at, unlock_approved_by
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			last_claim_at = EXCLUDED.last_claim_at,
			total_claimed = EXCLUDED.total_claimed,
			unlock_requested_at = EXCLUDED.unlock_requested_at,
			unlock_process_after = EXCLUDED.unlock_process_after,
			unlock_penalty_percent = EXCLUDED.unlock_penalty_percent,
			unlock_penalty_amount = EXCLUDED.unlock_penalty_amount,
			unlock_amount_after_penalty = EXCLUDED.unlock_amount_after_penalty,
			unlock_days_elapsed = EXCLUDED.unlock_days_elapsed,
			unlock_approved_at = EXCLUDED.unlock_approved_at,
			unlock_approved_by = EXCLUDED.unlock_approved_by`,
		e.ID, userID, e.Amount, e.LockStart, e.LockEnd, e.ROIRateAtLock, e.Status.String(),
		lastClaimAt, e.TotalClaimed,
		reqAt, procAt, penaltyPct,
		penaltyAmt, afterPenalty, daysElapsed,
		approvedAt, approvedBy)
	if err != nil {
		return fmt.Errorf("upsert entry %s: %w", e.ID, err)
	}
	return nil
}

