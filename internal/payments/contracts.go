package payments

import (
	"context"

	"steward/pkg/models"
)

// TransactionStore is the persistent record of payment attempts and the
// single source of truth for transaction status and amount.
type TransactionStore interface {
	Create(ctx context.Context, userID, unitID string, allocations []models.PaymentAllocation, totalAmount int64) (*models.Transaction, error)
	AttachAuthority(ctx context.Context, transactionID, authority string) error
	MarkPaid(ctx context.Context, transactionID, refID string) error
	MarkFailed(ctx context.Context, transactionID string) error
	Get(ctx context.Context, transactionID string) (*models.Transaction, error)
}

// BalanceLedger settles confirmed payments against a unit's monthly charges.
// Implementations must re-read the current remaining balance at apply time and
// clamp, so replays and stale quotes pay nothing extra instead of driving a
// balance negative.
type BalanceLedger interface {
	ApplyPayments(ctx context.Context, unitID string, allocations []models.PaymentAllocation) ([]models.AppliedPayment, error)
}

// InitiateResult is the gateway's answer to a payment request
type InitiateResult struct {
	Authority  string
	PaymentURL string
}

// VerifyResult is the gateway's answer to a verification call
type VerifyResult struct {
	Approved bool
	Code     int
	RefID    string
}

// Gateway wraps the external payment provider's initiate and verify calls.
// Transport failures surface as ErrGatewayUnavailable. A declined initiate is
// a *RejectionError (no authority was produced); a declined verification is a
// VerifyResult with Approved=false and the gateway's code. No retries happen
// inside implementations.
type Gateway interface {
	Initiate(ctx context.Context, amount int64, description, callbackURL string) (*InitiateResult, error)
	Verify(ctx context.Context, amount int64, authority string) (*VerifyResult, error)
}
