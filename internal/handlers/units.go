package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"steward/internal/payments"
	"steward/pkg/api/steward"
	"steward/pkg/ctxkeys"
	"steward/pkg/models"
)

// CreateUnit registers a new billable unit. Manager only.
func CreateUnit(c *gin.Context) {
	var req steward.CreateUnitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, steward.ErrorResponse{Error: "Invalid request body"})
		return
	}

	createdBy := c.GetString(string(ctxkeys.KeyUserID))
	unit, err := ledgerStore.CreateUnit(c.Request.Context(), req.Name, req.OwnerName, req.Address, createdBy)
	if err != nil {
		respondLedgerError(c, err, "Failed to create unit")
		return
	}

	c.JSON(http.StatusCreated, steward.UnitResponse{Unit: *unit})
}

// ListUnits returns all units without their charges.
func ListUnits(c *gin.Context) {
	units, err := ledgerStore.ListUnits(c.Request.Context())
	if err != nil {
		respondLedgerError(c, err, "Failed to list units")
		return
	}

	c.JSON(http.StatusOK, steward.ListUnitsResponse{Units: units, Count: len(units)})
}

// GetUnit returns one unit with its billing months.
func GetUnit(c *gin.Context) {
	unit, err := ledgerStore.GetUnit(c.Request.Context(), c.Param("unitId"))
	if err != nil {
		respondLedgerError(c, err, "Failed to load unit")
		return
	}

	c.JSON(http.StatusOK, steward.UnitResponse{Unit: *unit})
}

// AddMonths bills a unit for one or more periods. Manager only. Re-billing an
// existing period resets its remaining balance to the new amount.
func AddMonths(c *gin.Context) {
	var req steward.AddMonthsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, steward.ErrorResponse{Error: "Invalid request body"})
		return
	}

	entries := make([]models.MonthlyCharge, 0, len(req.Months))
	for _, m := range req.Months {
		entries = append(entries, models.MonthlyCharge{Month: m.Month, Amount: m.Amount})
	}

	charges, err := ledgerStore.UpsertMonths(c.Request.Context(), c.Param("unitId"), entries)
	if err != nil {
		respondLedgerError(c, err, "Failed to record billing months")
		return
	}

	c.JSON(http.StatusCreated, gin.H{"billing_months": charges})
}

func respondLedgerError(c *gin.Context, err error, logMsg string) {
	switch {
	case errors.Is(err, payments.ErrValidation):
		c.JSON(http.StatusBadRequest, steward.ErrorResponse{Error: err.Error()})
	case errors.Is(err, payments.ErrNotFound):
		c.JSON(http.StatusNotFound, steward.ErrorResponse{Error: "Unit not found"})
	default:
		logger.WithError(err).Error(logMsg)
		c.JSON(http.StatusInternalServerError, steward.ErrorResponse{Error: logMsg})
	}
}
