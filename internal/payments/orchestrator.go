package payments

import (
	"context"
	"errors"
	"fmt"

	"steward/pkg/logging"
	"steward/pkg/models"
)

// Outcome states presented after a verification callback
const (
	OutcomePaid     = "paid"
	OutcomeFailed   = "failed"
	OutcomeCanceled = "canceled"
)

// Config holds the orchestrator's external addresses
type Config struct {
	// CallbackURL is the absolute URL of the verification endpoint. The
	// transaction id is appended as a query parameter; the amount never
	// travels in the redirect.
	CallbackURL string
}

// StartRequest begins a payment attempt for a unit's charges
type StartRequest struct {
	UnitID        string
	TotalToCharge int64
	Allocations   []models.PaymentAllocation
}

// StartResult carries the gateway redirect target for a started payment
type StartResult struct {
	TransactionID string
	Authority     string
	PaymentURL    string
}

// CallbackParams are the query parameters the gateway sends to the
// verification endpoint.
type CallbackParams struct {
	TransactionID string
	Authority     string
	Status        string // "OK" when the user completed the gateway flow
}

// Outcome is the result of handling a verification callback
type Outcome struct {
	State         string
	TransactionID string
	RefID         string
	Amount        int64
	Code          int
	LedgerAnomaly bool
	Applied       []models.AppliedPayment
}

// Orchestrator drives a payment attempt through its lifecycle: create the
// pending transaction, obtain the gateway redirect, then on callback verify
// with the gateway and settle the ledger.
type Orchestrator struct {
	store   TransactionStore
	ledger  BalanceLedger
	gateway Gateway
	cfg     Config
	logger  logging.Logger
	metrics *Metrics
}

// NewOrchestrator creates a payment orchestrator. Metrics may be nil.
func NewOrchestrator(store TransactionStore, ledger BalanceLedger, gateway Gateway, cfg Config, logger logging.Logger, metrics *Metrics) *Orchestrator {
	return &Orchestrator{
		store:   store,
		ledger:  ledger,
		gateway: gateway,
		cfg:     cfg,
		logger:  logger,
		metrics: metrics,
	}
}

// Start validates the request, records a pending transaction and asks the
// gateway for a redirect URL. A gateway failure finalizes the transaction as
// failed so no orphaned pending attempt can be double-submitted.
func (o *Orchestrator) Start(ctx context.Context, userID string, req StartRequest) (*StartResult, error) {
	if req.UnitID == "" {
		return nil, fmt.Errorf("%w: unit id is required", ErrValidation)
	}
	if req.TotalToCharge <= 0 {
		return nil, fmt.Errorf("%w: total to charge must be positive", ErrValidation)
	}
	if len(req.Allocations) == 0 {
		return nil, fmt.Errorf("%w: at least one allocation is required", ErrValidation)
	}
	var sum int64
	for _, a := range req.Allocations {
		if a.ChargeID == "" || a.Amount <= 0 {
			return nil, fmt.Errorf("%w: allocations need a charge id and a positive amount", ErrValidation)
		}
		sum += a.Amount
	}
	if sum != req.TotalToCharge {
		return nil, fmt.Errorf("%w: allocations sum to %d, not %d", ErrValidation, sum, req.TotalToCharge)
	}

	// The transaction must exist before any external call so the callback URL
	// has a stable id to point at.
	tx, err := o.store.Create(ctx, userID, req.UnitID, req.Allocations, req.TotalToCharge)
	if err != nil {
		return nil, err
	}

	callbackURL := fmt.Sprintf("%s?transactionId=%s", o.cfg.CallbackURL, tx.ID)
	description := fmt.Sprintf("Unit %s charges, transaction %s", req.UnitID, tx.ID)

	res, err := o.gateway.Initiate(ctx, tx.TotalAmount, description, callbackURL)
	if err != nil {
		if failErr := o.store.MarkFailed(ctx, tx.ID); failErr != nil {
			o.logger.WithError(failErr).WithField("transaction_id", tx.ID).Error("Failed to finalize transaction after gateway initiate failure")
		}
		o.metrics.countStarted("rejected")
		return nil, err
	}

	if err := o.store.AttachAuthority(ctx, tx.ID, res.Authority); err != nil {
		// The gateway issued an authority we could not record; callbacks for
		// it will fail the authority check until an operator reconciles.
		o.logger.WithError(err).WithFields(logging.Fields{
			"transaction_id": tx.ID,
			"authority":      res.Authority,
		}).Error("Failed to attach authority to transaction")
		return nil, err
	}

	o.logger.WithFields(logging.Fields{
		"transaction_id": tx.ID,
		"unit_id":        req.UnitID,
		"amount":         tx.TotalAmount,
		"authority":      res.Authority,
	}).Info("Payment started")
	o.metrics.countStarted("accepted")

	return &StartResult{
		TransactionID: tx.ID,
		Authority:     res.Authority,
		PaymentURL:    res.PaymentURL,
	}, nil
}

// Verify handles the gateway's redirect callback. It is idempotent: a
// duplicate callback for a finalized transaction returns the recorded outcome
// without contacting the gateway or touching the ledger.
func (o *Orchestrator) Verify(ctx context.Context, params CallbackParams) (*Outcome, error) {
	if params.Status != "OK" {
		return o.handleCanceled(ctx, params)
	}

	tx, err := o.store.Get(ctx, params.TransactionID)
	if err != nil {
		return nil, err
	}

	if tx.Terminal() {
		return o.recordedOutcome(tx), nil
	}

	if tx.Authority == "" || tx.Authority != params.Authority {
		o.logger.WithFields(logging.Fields{
			"transaction_id": tx.ID,
			"authority":      params.Authority,
		}).Warn("Callback authority does not match stored transaction")
		return nil, ErrAuthorityMismatch
	}

	// Always verify against the stored amount, never a caller-supplied one.
	res, err := o.gateway.Verify(ctx, tx.TotalAmount, tx.Authority)
	if err != nil {
		// The gateway may have approved the payment; leave the transaction
		// pending for operator reconciliation.
		o.metrics.countVerified("unavailable")
		return nil, err
	}

	if !res.Approved {
		if err := o.store.MarkFailed(ctx, tx.ID); err != nil {
			return nil, err
		}
		o.logger.WithFields(logging.Fields{
			"transaction_id": tx.ID,
			"code":           res.Code,
		}).Info("Payment not approved by gateway")
		o.metrics.countVerified("failed")
		return &Outcome{
			State:         OutcomeFailed,
			TransactionID: tx.ID,
			Code:          res.Code,
		}, nil
	}

	if err := o.store.MarkPaid(ctx, tx.ID, res.RefID); err != nil {
		return nil, err
	}

	outcome := &Outcome{
		State:         OutcomePaid,
		TransactionID: tx.ID,
		RefID:         res.RefID,
		Amount:        tx.TotalAmount,
		Code:          res.Code,
	}

	applied, err := o.ledger.ApplyPayments(ctx, tx.UnitID, tx.Allocations)
	if err != nil {
		// Money was collected; the paid status stands. The unsettled
		// allocations are flagged for operator reconciliation.
		o.logger.WithError(err).WithFields(logging.Fields{
			"transaction_id": tx.ID,
			"unit_id":        tx.UnitID,
			"ref_id":         res.RefID,
			"amount":         tx.TotalAmount,
		}).Error("Reconciliation anomaly: transaction paid but ledger apply failed")
		o.metrics.countAnomaly()
		outcome.LedgerAnomaly = true
	} else {
		outcome.Applied = applied
	}

	o.logger.WithFields(logging.Fields{
		"transaction_id": tx.ID,
		"ref_id":         res.RefID,
		"amount":         tx.TotalAmount,
	}).Info("Payment verified and settled")
	o.metrics.countVerified("paid")

	return outcome, nil
}

// handleCanceled finalizes a callback whose gateway status flag reports user
// cancellation or failure. The ledger is never touched on this path.
func (o *Orchestrator) handleCanceled(ctx context.Context, params CallbackParams) (*Outcome, error) {
	outcome := &Outcome{State: OutcomeCanceled, TransactionID: params.TransactionID}

	tx, err := o.store.Get(ctx, params.TransactionID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return outcome, nil
		}
		return nil, err
	}
	if tx.Status == models.TransactionPending {
		if err := o.store.MarkFailed(ctx, tx.ID); err != nil {
			return nil, err
		}
	}

	o.logger.WithField("transaction_id", params.TransactionID).Info("Payment canceled at gateway")
	o.metrics.countVerified("canceled")
	return outcome, nil
}

// recordedOutcome rebuilds the outcome of an already-finalized transaction.
func (o *Orchestrator) recordedOutcome(tx *models.Transaction) *Outcome {
	o.logger.WithFields(logging.Fields{
		"transaction_id": tx.ID,
		"status":         tx.Status,
	}).Debug("Duplicate verification callback for finalized transaction")

	if tx.Status == models.TransactionPaid {
		return &Outcome{
			State:         OutcomePaid,
			TransactionID: tx.ID,
			RefID:         tx.RefID,
			Amount:        tx.TotalAmount,
		}
	}
	return &Outcome{State: OutcomeFailed, TransactionID: tx.ID}
}
