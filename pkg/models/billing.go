package models

import "time"

// Transaction status values. A transaction is created pending and moves to
// exactly one terminal status.
const (
	TransactionPending = "pending"
	TransactionPaid    = "paid"
	TransactionFailed  = "failed"
)

// Unit represents a billable entity (shop or apartment) tracked by the system
type Unit struct {
	ID        string    `json:"id" db:"id"`
	Name      string    `json:"name" db:"name"`
	OwnerName string    `json:"owner_name" db:"owner_name"`
	Address   string    `json:"address" db:"address"`
	CreatedBy string    `json:"created_by" db:"created_by"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`

	// BillingMonths is populated on single-unit lookups
	BillingMonths []MonthlyCharge `json:"billing_months,omitempty"`
}

// MonthlyCharge is one period's billing obligation for a unit. Amount is fixed
// at billing time; Remaining only ever decreases and stays within [0, Amount].
type MonthlyCharge struct {
	ID        string    `json:"id" db:"id"`
	UnitID    string    `json:"unit_id" db:"unit_id"`
	Month     string    `json:"month" db:"month"` // e.g. "2025-09"
	Amount    int64     `json:"amount" db:"amount"`
	Remaining int64     `json:"remaining" db:"remaining"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// PaymentAllocation describes how part of a payment's total is applied to a
// single monthly charge.
type PaymentAllocation struct {
	ChargeID string `json:"charge_id" db:"charge_id"`
	Amount   int64  `json:"amount" db:"amount"`
}

// Transaction represents one payment attempt against a unit's charges
type Transaction struct {
	ID          string              `json:"id" db:"id"`
	UserID      string              `json:"user_id" db:"user_id"`
	UnitID      string              `json:"unit_id" db:"unit_id"`
	Allocations []PaymentAllocation `json:"payments"`
	TotalAmount int64               `json:"total_amount" db:"total_amount"`
	Authority   string              `json:"authority,omitempty" db:"authority"`
	RefID       string              `json:"ref_id,omitempty" db:"ref_id"`
	Status      string              `json:"status" db:"status"`
	CreatedAt   time.Time           `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time           `json:"updated_at" db:"updated_at"`
}

// Terminal reports whether the transaction has reached a final status.
func (t *Transaction) Terminal() bool {
	return t.Status == TransactionPaid || t.Status == TransactionFailed
}

// AppliedPayment is the per-allocation outcome of settling a payment against
// the ledger.
type AppliedPayment struct {
	ChargeID     string `json:"charge_id"`
	Paid         int64  `json:"paid"`
	NewRemaining int64  `json:"new_remaining"`
	Resolved     bool   `json:"resolved"`
}
