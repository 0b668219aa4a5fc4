package payments

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation is returned for bad or missing input, before any side effect.
	ErrValidation = errors.New("invalid request")

	// ErrNotFound is returned when a referenced unit, transaction or charge
	// does not exist. Nothing is mutated.
	ErrNotFound = errors.New("not found")

	// ErrInvalidState is returned when a transaction is asked to move to a
	// terminal status conflicting with the one it already has.
	ErrInvalidState = errors.New("transaction already finalized")

	// ErrAuthorityMismatch is returned when a callback carries an authority
	// token that does not match the one stored on the transaction. This is a
	// security failure: the flow aborts with no ledger or status mutation.
	ErrAuthorityMismatch = errors.New("authority does not match transaction")

	// ErrGatewayUnavailable is returned on network failures and timeouts
	// talking to the gateway. During verification the transaction is left
	// pending because the gateway may have approved the payment.
	ErrGatewayUnavailable = errors.New("payment gateway unavailable")
)

// RejectionError is returned when the gateway itself declines a request or a
// verification. The payment attempt is finalized as failed.
type RejectionError struct {
	Code    int
	Message string
}

func (e *RejectionError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("gateway rejected request (code %d): %s", e.Code, e.Message)
	}
	return fmt.Sprintf("gateway rejected request (code %d)", e.Code)
}
