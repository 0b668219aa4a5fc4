package steward

import (
	"steward/pkg/api/common"
	"steward/pkg/models"
)

// ErrorResponse is the shared error envelope
type ErrorResponse = common.ErrorResponse

// StartPaymentResponse carries the gateway redirect target for a new payment
type StartPaymentResponse struct {
	TransactionID string `json:"transaction_id"`
	Authority     string `json:"authority"`
	PaymentURL    string `json:"payment_url"`
}

// UnitResponse wraps a single unit
type UnitResponse struct {
	Unit models.Unit `json:"unit"`
}

// ListUnitsResponse wraps the unit collection
type ListUnitsResponse struct {
	Units []models.Unit `json:"units"`
	Count int           `json:"count"`
}

// UserResponse wraps the public fields of an account
type UserResponse struct {
	User models.User `json:"user"`
}
