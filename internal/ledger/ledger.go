// Package ledger owns units and their monthly charges. Settlement clamps
// every payment against the balance it finds at apply time, so a replayed or
// stale payment can never drive a balance negative.
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"steward/internal/payments"
	"steward/pkg/logging"
	"steward/pkg/models"
)

// Store implements unit management and payments.BalanceLedger on Postgres
type Store struct {
	db       *sql.DB
	logger   logging.Logger
	rebilled prometheus.Counter
}

// NewStore creates a ledger store
func NewStore(db *sql.DB, logger logging.Logger) *Store {
	return &Store{db: db, logger: logger}
}

// WithRebillCounter attaches a counter incremented once per overwritten
// billing period. May stay unset.
func (s *Store) WithRebillCounter(c prometheus.Counter) *Store {
	s.rebilled = c
	return s
}

// CreateUnit registers a new billable unit.
func (s *Store) CreateUnit(ctx context.Context, name, ownerName, address, createdBy string) (*models.Unit, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: unit name is required", payments.ErrValidation)
	}

	unit := &models.Unit{
		ID:        uuid.New().String(),
		Name:      name,
		OwnerName: ownerName,
		Address:   address,
		CreatedBy: createdBy,
	}

	err := s.db.QueryRowContext(ctx, `
		INSERT INTO units (id, name, owner_name, address, created_by)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at, updated_at`,
		unit.ID, unit.Name, unit.OwnerName, unit.Address, unit.CreatedBy,
	).Scan(&unit.CreatedAt, &unit.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create unit: %w", err)
	}

	return unit, nil
}

// ListUnits returns all units, newest first, without their charges.
func (s *Store) ListUnits(ctx context.Context) ([]models.Unit, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, owner_name, address, COALESCE(created_by::text, ''), created_at, updated_at
		FROM units ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list units: %w", err)
	}
	defer rows.Close()

	units := []models.Unit{}
	for rows.Next() {
		var u models.Unit
		if err := rows.Scan(&u.ID, &u.Name, &u.OwnerName, &u.Address, &u.CreatedBy, &u.CreatedAt, &u.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan unit: %w", err)
		}
		units = append(units, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate units: %w", err)
	}

	return units, nil
}

// GetUnit loads one unit together with its charges ordered by month.
func (s *Store) GetUnit(ctx context.Context, unitID string) (*models.Unit, error) {
	unit := &models.Unit{}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, owner_name, address, COALESCE(created_by::text, ''), created_at, updated_at
		FROM units WHERE id = $1`,
		unitID,
	).Scan(&unit.ID, &unit.Name, &unit.OwnerName, &unit.Address, &unit.CreatedBy, &unit.CreatedAt, &unit.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, payments.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load unit: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, unit_id, month, amount, remaining, created_at, updated_at
		FROM billing_months WHERE unit_id = $1 ORDER BY month`,
		unitID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load billing months: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var m models.MonthlyCharge
		if err := rows.Scan(&m.ID, &m.UnitID, &m.Month, &m.Amount, &m.Remaining, &m.CreatedAt, &m.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan billing month: %w", err)
		}
		unit.BillingMonths = append(unit.BillingMonths, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate billing months: %w", err)
	}

	return unit, nil
}

// UpsertMonths bills a unit for the given periods in one database
// transaction. Re-billing an existing period overwrites its amount and resets
// the remaining balance to the new amount, discarding prior partial payments
// for that period.
func (s *Store) UpsertMonths(ctx context.Context, unitID string, entries []models.MonthlyCharge) ([]models.MonthlyCharge, error) {
	if len(entries) == 0 {
		return nil, fmt.Errorf("%w: at least one month is required", payments.ErrValidation)
	}
	for _, e := range entries {
		if e.Month == "" || e.Amount <= 0 {
			return nil, fmt.Errorf("%w: months need a period and a positive amount", payments.ErrValidation)
		}
	}

	var exists bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM units WHERE id = $1)`, unitID).Scan(&exists)
	if err != nil {
		return nil, fmt.Errorf("failed to check unit: %w", err)
	}
	if !exists {
		return nil, payments.ErrNotFound
	}

	dbTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer dbTx.Rollback()

	charges := make([]models.MonthlyCharge, 0, len(entries))
	for _, e := range entries {
		m := models.MonthlyCharge{UnitID: unitID, Month: e.Month, Amount: e.Amount, Remaining: e.Amount}
		err := dbTx.QueryRowContext(ctx, `
			INSERT INTO billing_months (id, unit_id, month, amount, remaining)
			VALUES ($1, $2, $3, $4, $4)
			ON CONFLICT (unit_id, month) DO UPDATE
			SET amount = EXCLUDED.amount, remaining = EXCLUDED.amount, updated_at = NOW()
			RETURNING id, created_at, updated_at`,
			uuid.New().String(), unitID, e.Month, e.Amount,
		).Scan(&m.ID, &m.CreatedAt, &m.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to upsert billing month %s: %w", e.Month, err)
		}
		charges = append(charges, m)
	}

	if err := dbTx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	// An overwritten row keeps its created_at while the upsert bumps
	// updated_at, which tells a re-bill apart from a fresh period.
	rebilled := 0
	for _, m := range charges {
		if !m.CreatedAt.Equal(m.UpdatedAt) {
			rebilled++
		}
	}
	if rebilled > 0 && s.rebilled != nil {
		s.rebilled.Add(float64(rebilled))
	}

	s.logger.WithFields(logging.Fields{
		"unit_id":  unitID,
		"months":   len(charges),
		"rebilled": rebilled,
	}).Info("Billing months recorded")

	return charges, nil
}

// ApplyPayments settles a confirmed payment against a unit's charges in one
// database transaction. Each charge row is locked and its remaining balance
// re-read before the decrement; the payment applied to it is clamped to that
// balance. Allocations pointing at charges that no longer exist are reported
// unresolved rather than failing the whole settlement.
func (s *Store) ApplyPayments(ctx context.Context, unitID string, allocations []models.PaymentAllocation) ([]models.AppliedPayment, error) {
	dbTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer dbTx.Rollback()

	applied := make([]models.AppliedPayment, 0, len(allocations))
	for _, a := range allocations {
		var remaining int64
		err := dbTx.QueryRowContext(ctx, `
			SELECT remaining FROM billing_months
			WHERE id = $1 AND unit_id = $2
			FOR UPDATE`,
			a.ChargeID, unitID,
		).Scan(&remaining)
		if errors.Is(err, sql.ErrNoRows) {
			applied = append(applied, models.AppliedPayment{ChargeID: a.ChargeID, Resolved: false})
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to lock charge %s: %w", a.ChargeID, err)
		}

		paid := a.Amount
		if paid > remaining {
			paid = remaining
		}

		if paid > 0 {
			_, err = dbTx.ExecContext(ctx, `
				UPDATE billing_months
				SET remaining = remaining - $1, updated_at = NOW()
				WHERE id = $2`,
				paid, a.ChargeID,
			)
			if err != nil {
				return nil, fmt.Errorf("failed to settle charge %s: %w", a.ChargeID, err)
			}
		}

		applied = append(applied, models.AppliedPayment{
			ChargeID:     a.ChargeID,
			Paid:         paid,
			NewRemaining: remaining - paid,
			Resolved:     true,
		})
	}

	if err := dbTx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit settlement: %w", err)
	}

	return applied, nil
}
