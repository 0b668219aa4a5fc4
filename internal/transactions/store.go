// Package transactions persists payment attempts in Postgres. The store is
// the single source of truth for a transaction's amount and status.
package transactions

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"steward/internal/payments"
	"steward/pkg/logging"
	"steward/pkg/models"
)

// Store implements payments.TransactionStore on Postgres
type Store struct {
	db     *sql.DB
	logger logging.Logger
}

// NewStore creates a transaction store
func NewStore(db *sql.DB, logger logging.Logger) *Store {
	return &Store{db: db, logger: logger}
}

// Create inserts a pending transaction together with its allocation rows in
// one database transaction. The allocation order is preserved because the
// ledger settles them first to last.
func (s *Store) Create(ctx context.Context, userID, unitID string, allocations []models.PaymentAllocation, totalAmount int64) (*models.Transaction, error) {
	if len(allocations) == 0 {
		return nil, fmt.Errorf("%w: at least one allocation is required", payments.ErrValidation)
	}
	if totalAmount <= 0 {
		return nil, fmt.Errorf("%w: total amount must be positive", payments.ErrValidation)
	}

	tx := &models.Transaction{
		ID:          uuid.New().String(),
		UserID:      userID,
		UnitID:      unitID,
		Allocations: allocations,
		TotalAmount: totalAmount,
		Status:      models.TransactionPending,
	}

	dbTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer dbTx.Rollback()

	err = dbTx.QueryRowContext(ctx, `
		INSERT INTO transactions (id, user_id, unit_id, total_amount, status)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at, updated_at`,
		tx.ID, tx.UserID, tx.UnitID, tx.TotalAmount, tx.Status,
	).Scan(&tx.CreatedAt, &tx.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert transaction: %w", err)
	}

	for i, a := range allocations {
		_, err = dbTx.ExecContext(ctx, `
			INSERT INTO transaction_allocations (id, transaction_id, charge_id, amount, position)
			VALUES ($1, $2, $3, $4, $5)`,
			uuid.New().String(), tx.ID, a.ChargeID, a.Amount, i,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to insert allocation: %w", err)
		}
	}

	if err := dbTx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	s.logger.WithFields(logging.Fields{
		"transaction_id": tx.ID,
		"unit_id":        unitID,
		"amount":         totalAmount,
	}).Debug("Transaction recorded")

	return tx, nil
}

// AttachAuthority records the gateway's authority token on a transaction.
func (s *Store) AttachAuthority(ctx context.Context, transactionID, authority string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE transactions SET authority = $1, updated_at = NOW() WHERE id = $2`,
		authority, transactionID,
	)
	if err != nil {
		return fmt.Errorf("failed to attach authority: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return payments.ErrNotFound
	}
	return nil
}

// MarkPaid finalizes a pending transaction as paid with the gateway's
// reference id. Finalizing twice with the same outcome is a no-op; a
// conflicting terminal status is an error.
func (s *Store) MarkPaid(ctx context.Context, transactionID, refID string) error {
	return s.finalize(ctx, transactionID, models.TransactionPaid, refID)
}

// MarkFailed finalizes a pending transaction as failed.
func (s *Store) MarkFailed(ctx context.Context, transactionID string) error {
	return s.finalize(ctx, transactionID, models.TransactionFailed, "")
}

func (s *Store) finalize(ctx context.Context, transactionID, status, refID string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE transactions
		SET status = $1, ref_id = NULLIF($2, ''), updated_at = NOW()
		WHERE id = $3 AND status = $4`,
		status, refID, transactionID, models.TransactionPending,
	)
	if err != nil {
		return fmt.Errorf("failed to finalize transaction: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if rows == 1 {
		return nil
	}

	// Nothing was pending. Distinguish a harmless replay from a conflict.
	current, err := s.Get(ctx, transactionID)
	if err != nil {
		return err
	}
	if current.Status == status {
		return nil
	}
	return fmt.Errorf("%w: %s is %s", payments.ErrInvalidState, transactionID, current.Status)
}

// Get loads a transaction with its allocations in original order.
func (s *Store) Get(ctx context.Context, transactionID string) (*models.Transaction, error) {
	tx := &models.Transaction{}
	var authority, refID sql.NullString

	err := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, unit_id, total_amount, authority, ref_id, status, created_at, updated_at
		FROM transactions WHERE id = $1`,
		transactionID,
	).Scan(&tx.ID, &tx.UserID, &tx.UnitID, &tx.TotalAmount, &authority, &refID, &tx.Status, &tx.CreatedAt, &tx.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, payments.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load transaction: %w", err)
	}
	tx.Authority = authority.String
	tx.RefID = refID.String

	rows, err := s.db.QueryContext(ctx, `
		SELECT charge_id, amount
		FROM transaction_allocations
		WHERE transaction_id = $1
		ORDER BY position`,
		transactionID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load allocations: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var a models.PaymentAllocation
		if err := rows.Scan(&a.ChargeID, &a.Amount); err != nil {
			return nil, fmt.Errorf("failed to scan allocation: %w", err)
		}
		tx.Allocations = append(tx.Allocations, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate allocations: %w", err)
	}

	return tx, nil
}
