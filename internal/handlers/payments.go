package handlers

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"steward/internal/payments"
	"steward/pkg/api/steward"
	"steward/pkg/ctxkeys"
	"steward/pkg/models"
)

// StartPayment creates a payment attempt and returns the gateway redirect URL.
func StartPayment(c *gin.Context) {
	var req steward.StartPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, steward.ErrorResponse{Error: "Invalid request body"})
		return
	}

	allocations := make([]models.PaymentAllocation, 0, len(req.Payments))
	for _, p := range req.Payments {
		allocations = append(allocations, models.PaymentAllocation{ChargeID: p.ChargeID, Amount: p.Amount})
	}

	userID := c.GetString(string(ctxkeys.KeyUserID))
	result, err := orchestrator.Start(c.Request.Context(), userID, payments.StartRequest{
		UnitID:        req.UnitID,
		TotalToCharge: req.TotalToCharge,
		Allocations:   allocations,
	})
	if err != nil {
		var rejection *payments.RejectionError
		switch {
		case errors.Is(err, payments.ErrValidation):
			c.JSON(http.StatusBadRequest, steward.ErrorResponse{Error: err.Error()})
		case errors.As(err, &rejection):
			c.JSON(http.StatusBadGateway, steward.ErrorResponse{Error: "Payment gateway rejected the request"})
		case errors.Is(err, payments.ErrGatewayUnavailable):
			c.JSON(http.StatusServiceUnavailable, steward.ErrorResponse{Error: "Payment gateway unavailable"})
		default:
			logger.WithError(err).Error("Failed to start payment")
			c.JSON(http.StatusInternalServerError, steward.ErrorResponse{Error: "Failed to start payment"})
		}
		return
	}

	c.JSON(http.StatusCreated, steward.StartPaymentResponse{
		TransactionID: result.TransactionID,
		Authority:     result.Authority,
		PaymentURL:    result.PaymentURL,
	})
}

// VerifyPayment handles the gateway's browser redirect after a payment
// attempt. On a decided outcome the payer is redirected to the frontend
// result page.
func VerifyPayment(c *gin.Context) {
	params := payments.CallbackParams{
		TransactionID: c.Query("transactionId"),
		Authority:     c.Query("Authority"),
		Status:        c.Query("Status"),
	}
	if params.TransactionID == "" {
		c.String(http.StatusBadRequest, "missing transaction id")
		return
	}

	outcome, err := orchestrator.Verify(c.Request.Context(), params)
	if err != nil {
		switch {
		case errors.Is(err, payments.ErrNotFound):
			c.String(http.StatusNotFound, "transaction not found")
		case errors.Is(err, payments.ErrAuthorityMismatch):
			// Deliberately vague: the token in the callback did not check out.
			c.String(http.StatusUnauthorized, "verification failed")
		case errors.Is(err, payments.ErrGatewayUnavailable):
			// The transaction stays pending; send the payer to the error
			// page while the outcome is still undecided.
			c.Redirect(http.StatusFound, frontendURL+"/payment/error")
		default:
			logger.WithError(err).Error("Failed to verify payment")
			c.Redirect(http.StatusFound, frontendURL+"/payment/error")
		}
		return
	}

	c.Redirect(http.StatusFound, resultURL(outcome))
}

func resultURL(outcome *payments.Outcome) string {
	switch outcome.State {
	case payments.OutcomePaid:
		return fmt.Sprintf("%s/payment/result?status=paid&refId=%s&amount=%d", frontendURL, outcome.RefID, outcome.Amount)
	case payments.OutcomeCanceled:
		return fmt.Sprintf("%s/payment/result?status=canceled", frontendURL)
	default:
		return fmt.Sprintf("%s/payment/result?status=failed&code=%d", frontendURL, outcome.Code)
	}
}
