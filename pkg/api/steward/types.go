// Package steward defines the typed request and response structures of the
// billing and payment HTTP API.
package steward

import "steward/pkg/models"

// RegisterRequest creates a new account
type RegisterRequest struct {
	Name     string `json:"name" binding:"required"`
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=8"`
	Role     string `json:"role"`
}

// LoginRequest authenticates an existing account
type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

// LoginResponse carries the session token and public account fields
type LoginResponse struct {
	Token string      `json:"token"`
	User  models.User `json:"user"`
}

// CreateUnitRequest registers a new billable unit
type CreateUnitRequest struct {
	Name      string `json:"name" binding:"required"`
	OwnerName string `json:"owner_name"`
	Address   string `json:"address"`
}

// BillingMonthEntry is one period to bill on a unit
type BillingMonthEntry struct {
	Month  string `json:"month" binding:"required"`
	Amount int64  `json:"amount" binding:"required,gt=0"`
}

// AddMonthsRequest bills a unit for one or more periods. An already-billed
// period is overwritten and its remaining balance reset to the new amount.
type AddMonthsRequest struct {
	Months []BillingMonthEntry `json:"months" binding:"required,min=1,dive"`
}

// AllocationEntry pairs a charge with the portion of the payment applied to it
type AllocationEntry struct {
	ChargeID string `json:"charge_id" binding:"required"`
	Amount   int64  `json:"amount" binding:"required,gt=0"`
}

// StartPaymentRequest begins a gateway payment for a unit's charges
type StartPaymentRequest struct {
	UnitID        string            `json:"unit_id" binding:"required"`
	TotalToCharge int64             `json:"total_to_charge" binding:"required"`
	Payments      []AllocationEntry `json:"payments" binding:"required"`
}
