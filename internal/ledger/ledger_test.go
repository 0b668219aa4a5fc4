package ledger

import (
	"context"
	"errors"
	"io"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/sirupsen/logrus"

	"steward/internal/payments"
	"steward/pkg/models"
)

func newTestStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to open sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return NewStore(db, logger), mock
}

func TestCreateUnitRequiresName(t *testing.T) {
	store, _ := newTestStore(t)

	_, err := store.CreateUnit(context.Background(), "", "", "", "user-1")
	if !errors.Is(err, payments.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestCreateUnit(t *testing.T) {
	store, mock := newTestStore(t)
	now := time.Now()

	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO units")).
		WithArgs(sqlmock.AnyArg(), "Shop 12", "A. Karimi", "Bazaar Row 3", "user-1").
		WillReturnRows(sqlmock.NewRows([]string{"created_at", "updated_at"}).AddRow(now, now))

	unit, err := store.CreateUnit(context.Background(), "Shop 12", "A. Karimi", "Bazaar Row 3", "user-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if unit.ID == "" {
		t.Error("expected generated unit id")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestGetUnitWithCharges(t *testing.T) {
	store, mock := newTestStore(t)
	now := time.Now()

	mock.ExpectQuery(regexp.QuoteMeta("FROM units WHERE id = $1")).
		WithArgs("unit-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "owner_name", "address", "created_by", "created_at", "updated_at"}).
			AddRow("unit-1", "Shop 12", "", "", "user-1", now, now))
	mock.ExpectQuery(regexp.QuoteMeta("FROM billing_months WHERE unit_id = $1")).
		WithArgs("unit-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "unit_id", "month", "amount", "remaining", "created_at", "updated_at"}).
			AddRow("charge-1", "unit-1", "2025-08", int64(500_000), int64(500_000), now, now).
			AddRow("charge-2", "unit-1", "2025-09", int64(500_000), int64(100_000), now, now))

	unit, err := store.GetUnit(context.Background(), "unit-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(unit.BillingMonths) != 2 {
		t.Fatalf("expected 2 billing months, got %d", len(unit.BillingMonths))
	}
	if unit.BillingMonths[1].Remaining != 100_000 {
		t.Errorf("expected partially paid month, got %d", unit.BillingMonths[1].Remaining)
	}
}

func TestGetUnitNotFound(t *testing.T) {
	store, mock := newTestStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("FROM units WHERE id = $1")).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := store.GetUnit(context.Background(), "missing")
	if !errors.Is(err, payments.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestUpsertMonthsValidatesEntries(t *testing.T) {
	store, _ := newTestStore(t)

	cases := []struct {
		name    string
		entries []models.MonthlyCharge
	}{
		{"empty", nil},
		{"missing month", []models.MonthlyCharge{{Amount: 100}}},
		{"zero amount", []models.MonthlyCharge{{Month: "2025-09"}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := store.UpsertMonths(context.Background(), "unit-1", tc.entries)
			if !errors.Is(err, payments.ErrValidation) {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}
}

func TestUpsertMonthsResetsRemaining(t *testing.T) {
	store, mock := newTestStore(t)
	now := time.Now()

	mock.ExpectQuery(regexp.QuoteMeta("SELECT EXISTS")).
		WithArgs("unit-1").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO billing_months")).
		WithArgs(sqlmock.AnyArg(), "unit-1", "2025-09", int64(750_000)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at", "updated_at"}).AddRow("charge-1", now, now))
	mock.ExpectCommit()

	charges, err := store.UpsertMonths(context.Background(), "unit-1",
		[]models.MonthlyCharge{{Month: "2025-09", Amount: 750_000}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if charges[0].Remaining != 750_000 {
		t.Errorf("expected remaining reset to new amount, got %d", charges[0].Remaining)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestUpsertMonthsUnknownUnit(t *testing.T) {
	store, mock := newTestStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT EXISTS")).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

	_, err := store.UpsertMonths(context.Background(), "missing",
		[]models.MonthlyCharge{{Month: "2025-09", Amount: 100}})
	if !errors.Is(err, payments.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestApplyPaymentsClampsToRemaining(t *testing.T) {
	store, mock := newTestStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FOR UPDATE")).
		WithArgs("charge-1", "unit-1").
		WillReturnRows(sqlmock.NewRows([]string{"remaining"}).AddRow(int64(200_000)))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE billing_months")).
		WithArgs(int64(200_000), "charge-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	applied, err := store.ApplyPayments(context.Background(), "unit-1",
		[]models.PaymentAllocation{{ChargeID: "charge-1", Amount: 600_000}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if applied[0].Paid != 200_000 || applied[0].NewRemaining != 0 {
		t.Errorf("expected clamped settlement, got %+v", applied[0])
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestApplyPaymentsSkipsZeroBalanceUpdate(t *testing.T) {
	store, mock := newTestStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FOR UPDATE")).
		WithArgs("charge-1", "unit-1").
		WillReturnRows(sqlmock.NewRows([]string{"remaining"}).AddRow(int64(0)))
	mock.ExpectCommit()

	applied, err := store.ApplyPayments(context.Background(), "unit-1",
		[]models.PaymentAllocation{{ChargeID: "charge-1", Amount: 600_000}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if applied[0].Paid != 0 || !applied[0].Resolved {
		t.Errorf("expected resolved zero payment, got %+v", applied[0])
	}
}

func TestApplyPaymentsReportsMissingCharge(t *testing.T) {
	store, mock := newTestStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FOR UPDATE")).
		WithArgs("ghost", "unit-1").
		WillReturnRows(sqlmock.NewRows([]string{"remaining"}))
	mock.ExpectCommit()

	applied, err := store.ApplyPayments(context.Background(), "unit-1",
		[]models.PaymentAllocation{{ChargeID: "ghost", Amount: 100}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if applied[0].Resolved {
		t.Errorf("expected unresolved allocation, got %+v", applied[0])
	}
}
