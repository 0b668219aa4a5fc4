package payments

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"

	"steward/pkg/models"
)

func testLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

type fakeStore struct {
	created      int
	attachErr    error
	transactions map[string]*models.Transaction
}

func newFakeStore() *fakeStore {
	return &fakeStore{transactions: make(map[string]*models.Transaction)}
}

func (s *fakeStore) Create(_ context.Context, userID, unitID string, allocations []models.PaymentAllocation, totalAmount int64) (*models.Transaction, error) {
	s.created++
	tx := &models.Transaction{
		ID:          fmt.Sprintf("tx-%d", s.created),
		UserID:      userID,
		UnitID:      unitID,
		Allocations: allocations,
		TotalAmount: totalAmount,
		Status:      models.TransactionPending,
	}
	s.transactions[tx.ID] = tx
	return tx, nil
}

func (s *fakeStore) AttachAuthority(_ context.Context, transactionID, authority string) error {
	if s.attachErr != nil {
		return s.attachErr
	}
	tx, ok := s.transactions[transactionID]
	if !ok {
		return ErrNotFound
	}
	tx.Authority = authority
	return nil
}

func (s *fakeStore) MarkPaid(_ context.Context, transactionID, refID string) error {
	return s.finalize(transactionID, models.TransactionPaid, refID)
}

func (s *fakeStore) MarkFailed(_ context.Context, transactionID string) error {
	return s.finalize(transactionID, models.TransactionFailed, "")
}

func (s *fakeStore) finalize(transactionID, status, refID string) error {
	tx, ok := s.transactions[transactionID]
	if !ok {
		return ErrNotFound
	}
	if tx.Status != models.TransactionPending {
		if tx.Status == status {
			return nil
		}
		return ErrInvalidState
	}
	tx.Status = status
	tx.RefID = refID
	return nil
}

func (s *fakeStore) Get(_ context.Context, transactionID string) (*models.Transaction, error) {
	tx, ok := s.transactions[transactionID]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *tx
	return &copied, nil
}

type fakeLedger struct {
	balances   map[string]int64
	applyCalls int
	failWith   error
}

func (l *fakeLedger) ApplyPayments(_ context.Context, _ string, allocations []models.PaymentAllocation) ([]models.AppliedPayment, error) {
	l.applyCalls++
	if l.failWith != nil {
		return nil, l.failWith
	}
	applied := make([]models.AppliedPayment, 0, len(allocations))
	for _, a := range allocations {
		remaining, ok := l.balances[a.ChargeID]
		if !ok {
			applied = append(applied, models.AppliedPayment{ChargeID: a.ChargeID})
			continue
		}
		paid := a.Amount
		if paid > remaining {
			paid = remaining
		}
		l.balances[a.ChargeID] = remaining - paid
		applied = append(applied, models.AppliedPayment{
			ChargeID:     a.ChargeID,
			Paid:         paid,
			NewRemaining: remaining - paid,
			Resolved:     true,
		})
	}
	return applied, nil
}

type fakeGateway struct {
	initiateErr   error
	initiateCalls int
	verifyResult  *VerifyResult
	verifyErr     error
	verifyCalls   int
}

func (g *fakeGateway) Initiate(_ context.Context, _ int64, _, _ string) (*InitiateResult, error) {
	g.initiateCalls++
	if g.initiateErr != nil {
		return nil, g.initiateErr
	}
	return &InitiateResult{Authority: "AUTH-1", PaymentURL: "https://gateway.example/pay/AUTH-1"}, nil
}

func (g *fakeGateway) Verify(_ context.Context, _ int64, _ string) (*VerifyResult, error) {
	g.verifyCalls++
	if g.verifyErr != nil {
		return nil, g.verifyErr
	}
	return g.verifyResult, nil
}

func newTestOrchestrator(store *fakeStore, ldg *fakeLedger, gw *fakeGateway) *Orchestrator {
	return NewOrchestrator(store, ldg, gw, Config{CallbackURL: "https://api.example/payment/verify"}, testLogger(), nil)
}

func startRequest() StartRequest {
	return StartRequest{
		UnitID:        "unit-1",
		TotalToCharge: 1_000_000,
		Allocations: []models.PaymentAllocation{
			{ChargeID: "charge-1", Amount: 600_000},
			{ChargeID: "charge-2", Amount: 400_000},
		},
	}
}

func TestStartRejectsInvalidRequests(t *testing.T) {
	cases := []struct {
		name string
		req  StartRequest
	}{
		{"missing unit", StartRequest{TotalToCharge: 100, Allocations: []models.PaymentAllocation{{ChargeID: "c", Amount: 100}}}},
		{"zero total", StartRequest{UnitID: "u", Allocations: []models.PaymentAllocation{{ChargeID: "c", Amount: 100}}}},
		{"no allocations", StartRequest{UnitID: "u", TotalToCharge: 100}},
		{"negative allocation", StartRequest{UnitID: "u", TotalToCharge: 100, Allocations: []models.PaymentAllocation{{ChargeID: "c", Amount: -100}}}},
		{"sum mismatch", StartRequest{UnitID: "u", TotalToCharge: 100, Allocations: []models.PaymentAllocation{{ChargeID: "c", Amount: 50}}}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store := newFakeStore()
			gw := &fakeGateway{}
			orch := newTestOrchestrator(store, &fakeLedger{}, gw)

			_, err := orch.Start(context.Background(), "user-1", tc.req)
			if !errors.Is(err, ErrValidation) {
				t.Fatalf("expected validation error, got %v", err)
			}
			if store.created != 0 {
				t.Errorf("expected no transaction created, got %d", store.created)
			}
			if gw.initiateCalls != 0 {
				t.Errorf("expected no gateway call, got %d", gw.initiateCalls)
			}
		})
	}
}

func TestStartReturnsRedirect(t *testing.T) {
	store := newFakeStore()
	orch := newTestOrchestrator(store, &fakeLedger{}, &fakeGateway{})

	result, err := orch.Start(context.Background(), "user-1", startRequest())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Authority != "AUTH-1" {
		t.Errorf("expected authority AUTH-1, got %q", result.Authority)
	}
	if !strings.HasSuffix(result.PaymentURL, "AUTH-1") {
		t.Errorf("unexpected payment URL %q", result.PaymentURL)
	}

	tx := store.transactions[result.TransactionID]
	if tx == nil {
		t.Fatal("transaction was not stored")
	}
	if tx.Status != models.TransactionPending {
		t.Errorf("expected pending status, got %q", tx.Status)
	}
	if tx.Authority != "AUTH-1" {
		t.Errorf("expected authority attached, got %q", tx.Authority)
	}
}

func TestStartGatewayFailureFinalizesTransaction(t *testing.T) {
	store := newFakeStore()
	gw := &fakeGateway{initiateErr: ErrGatewayUnavailable}
	orch := newTestOrchestrator(store, &fakeLedger{}, gw)

	_, err := orch.Start(context.Background(), "user-1", startRequest())
	if !errors.Is(err, ErrGatewayUnavailable) {
		t.Fatalf("expected gateway error, got %v", err)
	}

	tx := store.transactions["tx-1"]
	if tx.Status != models.TransactionFailed {
		t.Errorf("expected failed status after initiate failure, got %q", tx.Status)
	}
}

func TestStartAttachAuthorityFailureSurfacesError(t *testing.T) {
	store := newFakeStore()
	store.attachErr = errors.New("connection reset")
	orch := newTestOrchestrator(store, &fakeLedger{}, &fakeGateway{})

	_, err := orch.Start(context.Background(), "user-1", startRequest())
	if err == nil {
		t.Fatal("expected error when authority cannot be recorded")
	}

	// The transaction stays pending without an authority; later callbacks
	// cannot match it and the attempt needs operator attention.
	tx := store.transactions["tx-1"]
	if tx.Status != models.TransactionPending {
		t.Errorf("expected pending status, got %q", tx.Status)
	}
	if tx.Authority != "" {
		t.Errorf("expected no authority recorded, got %q", tx.Authority)
	}
}

func startedPayment(t *testing.T, store *fakeStore, ldg *fakeLedger, gw *fakeGateway) (*Orchestrator, string) {
	t.Helper()
	orch := newTestOrchestrator(store, ldg, gw)
	result, err := orch.Start(context.Background(), "user-1", startRequest())
	if err != nil {
		t.Fatalf("failed to start payment: %v", err)
	}
	return orch, result.TransactionID
}

func TestVerifyAuthorityMismatchMutatesNothing(t *testing.T) {
	store := newFakeStore()
	ldg := &fakeLedger{}
	orch, txID := startedPayment(t, store, ldg, &fakeGateway{})

	_, err := orch.Verify(context.Background(), CallbackParams{TransactionID: txID, Authority: "FORGED", Status: "OK"})
	if !errors.Is(err, ErrAuthorityMismatch) {
		t.Fatalf("expected authority mismatch, got %v", err)
	}
	if store.transactions[txID].Status != models.TransactionPending {
		t.Errorf("status changed on mismatched callback: %q", store.transactions[txID].Status)
	}
	if ldg.applyCalls != 0 {
		t.Errorf("ledger touched on mismatched callback")
	}
}

func TestVerifyAppliesClampedPayments(t *testing.T) {
	store := newFakeStore()
	ldg := &fakeLedger{balances: map[string]int64{"charge-1": 1_000_000, "charge-2": 200_000}}
	gw := &fakeGateway{verifyResult: &VerifyResult{Approved: true, Code: 100, RefID: "ref-42"}}
	orch, txID := startedPayment(t, store, ldg, gw)

	outcome, err := orch.Verify(context.Background(), CallbackParams{TransactionID: txID, Authority: "AUTH-1", Status: "OK"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.State != OutcomePaid {
		t.Fatalf("expected paid outcome, got %q", outcome.State)
	}
	if outcome.RefID != "ref-42" {
		t.Errorf("expected ref-42, got %q", outcome.RefID)
	}
	if outcome.Amount != 1_000_000 {
		t.Errorf("expected stored amount in outcome, got %d", outcome.Amount)
	}

	// 600k against 1m remaining pays in full; 400k against 200k clamps.
	if ldg.balances["charge-1"] != 400_000 {
		t.Errorf("charge-1 remaining = %d, want 400000", ldg.balances["charge-1"])
	}
	if ldg.balances["charge-2"] != 0 {
		t.Errorf("charge-2 remaining = %d, want 0", ldg.balances["charge-2"])
	}
	if store.transactions[txID].Status != models.TransactionPaid {
		t.Errorf("expected paid status, got %q", store.transactions[txID].Status)
	}
}

func TestVerifyIsIdempotent(t *testing.T) {
	store := newFakeStore()
	ldg := &fakeLedger{balances: map[string]int64{"charge-1": 600_000, "charge-2": 400_000}}
	gw := &fakeGateway{verifyResult: &VerifyResult{Approved: true, Code: 100, RefID: "ref-42"}}
	orch, txID := startedPayment(t, store, ldg, gw)

	params := CallbackParams{TransactionID: txID, Authority: "AUTH-1", Status: "OK"}
	first, err := orch.Verify(context.Background(), params)
	if err != nil {
		t.Fatalf("first verify failed: %v", err)
	}
	second, err := orch.Verify(context.Background(), params)
	if err != nil {
		t.Fatalf("second verify failed: %v", err)
	}

	if second.State != OutcomePaid || second.RefID != first.RefID || second.Amount != first.Amount {
		t.Errorf("replayed outcome differs: %+v vs %+v", second, first)
	}
	if gw.verifyCalls != 1 {
		t.Errorf("gateway verify called %d times, want 1", gw.verifyCalls)
	}
	if ldg.applyCalls != 1 {
		t.Errorf("ledger applied %d times, want 1", ldg.applyCalls)
	}
	if ldg.balances["charge-1"] != 0 || ldg.balances["charge-2"] != 0 {
		t.Errorf("balances moved on replay: %v", ldg.balances)
	}
}

func TestVerifyDeclineFinalizesWithoutSettlement(t *testing.T) {
	store := newFakeStore()
	ldg := &fakeLedger{balances: map[string]int64{"charge-1": 600_000, "charge-2": 400_000}}
	gw := &fakeGateway{verifyResult: &VerifyResult{Approved: false, Code: -53}}
	orch, txID := startedPayment(t, store, ldg, gw)

	outcome, err := orch.Verify(context.Background(), CallbackParams{TransactionID: txID, Authority: "AUTH-1", Status: "OK"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.State != OutcomeFailed || outcome.Code != -53 {
		t.Errorf("unexpected outcome %+v", outcome)
	}
	if store.transactions[txID].Status != models.TransactionFailed {
		t.Errorf("expected failed status, got %q", store.transactions[txID].Status)
	}
	if ldg.applyCalls != 0 {
		t.Errorf("ledger touched on declined payment")
	}
	if ldg.balances["charge-1"] != 600_000 {
		t.Errorf("balance moved on declined payment")
	}
}

func TestVerifyGatewayOutageLeavesPending(t *testing.T) {
	store := newFakeStore()
	ldg := &fakeLedger{}
	gw := &fakeGateway{verifyErr: ErrGatewayUnavailable}
	orch, txID := startedPayment(t, store, ldg, gw)

	_, err := orch.Verify(context.Background(), CallbackParams{TransactionID: txID, Authority: "AUTH-1", Status: "OK"})
	if !errors.Is(err, ErrGatewayUnavailable) {
		t.Fatalf("expected gateway error, got %v", err)
	}
	if store.transactions[txID].Status != models.TransactionPending {
		t.Errorf("transaction finalized during outage: %q", store.transactions[txID].Status)
	}
}

func TestVerifyCanceledCallback(t *testing.T) {
	store := newFakeStore()
	ldg := &fakeLedger{}
	orch, txID := startedPayment(t, store, ldg, &fakeGateway{})

	outcome, err := orch.Verify(context.Background(), CallbackParams{TransactionID: txID, Authority: "AUTH-1", Status: "NOK"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.State != OutcomeCanceled {
		t.Errorf("expected canceled outcome, got %q", outcome.State)
	}
	if store.transactions[txID].Status != models.TransactionFailed {
		t.Errorf("expected failed status after cancel, got %q", store.transactions[txID].Status)
	}
	if ldg.applyCalls != 0 {
		t.Errorf("ledger touched on canceled payment")
	}
}

func TestVerifyUnknownTransaction(t *testing.T) {
	orch := newTestOrchestrator(newFakeStore(), &fakeLedger{}, &fakeGateway{})

	_, err := orch.Verify(context.Background(), CallbackParams{TransactionID: "missing", Authority: "A", Status: "OK"})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestVerifyLedgerFailureKeepsPaidStatus(t *testing.T) {
	store := newFakeStore()
	ldg := &fakeLedger{failWith: errors.New("settlement failed")}
	gw := &fakeGateway{verifyResult: &VerifyResult{Approved: true, Code: 100, RefID: "ref-9"}}
	orch, txID := startedPayment(t, store, ldg, gw)

	outcome, err := orch.Verify(context.Background(), CallbackParams{TransactionID: txID, Authority: "AUTH-1", Status: "OK"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.State != OutcomePaid {
		t.Errorf("expected paid outcome despite ledger failure, got %q", outcome.State)
	}
	if !outcome.LedgerAnomaly {
		t.Error("expected ledger anomaly flag")
	}
	if store.transactions[txID].Status != models.TransactionPaid {
		t.Errorf("paid status rolled back: %q", store.transactions[txID].Status)
	}
}
