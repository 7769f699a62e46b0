package service

import (
	"context"
	"errors"
	"testing"

	"github.com/freight-next/internal/constants"
	"github.com/freight-next/internal/models"
	"github.com/freight-next/internal/repository"

	"github.com/shopspring/decimal"
)

func TestSubmitBidRejectsDuplicateTruck(t *testing.T) {
	env := setupServiceTest(t)
	order := env.openOrder(t, 1)
	truck := env.seedTruck(t, 100)

	env.driverBid(t, order.ID, truck, "500")
	_, err := env.bids.SubmitBid(context.Background(), SubmitBidInput{
		OrderID:   order.ID,
		TruckID:   truck.ID,
		Amount:    decimal.NewFromInt(450),
		Submitter: DriverSubmitter{DriverID: truck.DriverID},
	})
	if !errors.Is(err, ErrDuplicateBid) {
		t.Fatalf("expected duplicate bid, got %v", err)
	}
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected conflict kind, got %v", err)
	}
}

func TestSubmitBidAfterWithdrawAllowed(t *testing.T) {
	env := setupServiceTest(t)
	ctx := context.Background()
	order := env.openOrder(t, 1)
	truck := env.seedTruck(t, 100)

	bid := env.driverBid(t, order.ID, truck, "500")
	if _, err := env.bids.WithdrawBid(ctx, bid.ID, DriverSubmitter{DriverID: 100}); err != nil {
		t.Fatalf("withdraw failed: %v", err)
	}
	env.driverBid(t, order.ID, truck, "480")
}

func TestSubmitBidValidation(t *testing.T) {
	env := setupServiceTest(t)
	ctx := context.Background()
	order := env.openOrder(t, 1)
	truck := env.seedTruck(t, 100)

	if _, err := env.bids.SubmitBid(ctx, SubmitBidInput{
		OrderID: order.ID, TruckID: truck.ID, Amount: decimal.Zero, Submitter: DriverSubmitter{DriverID: 100},
	}); !errors.Is(err, ErrBidAmountInvalid) {
		t.Fatalf("expected invalid amount, got %v", err)
	}
	if _, err := env.bids.SubmitBid(ctx, SubmitBidInput{
		OrderID: order.ID, TruckID: truck.ID, Amount: decimal.NewFromInt(10), Submitter: DriverSubmitter{DriverID: 200},
	}); !errors.Is(err, ErrTruckNotOwned) {
		t.Fatalf("expected truck not owned, got %v", err)
	}

	draft, err := env.orders.CreateOrder(ctx, CreateOrderInput{CargoOwnerID: 1, PickupLocation: "A", DeliveryLocation: "B"})
	if err != nil {
		t.Fatalf("create order failed: %v", err)
	}
	_, err = env.bids.SubmitBid(ctx, SubmitBidInput{
		OrderID: draft.ID, TruckID: truck.ID, Amount: decimal.NewFromInt(10), Submitter: DriverSubmitter{DriverID: 100},
	})
	if !errors.Is(err, ErrInvalidStateTransition) {
		t.Fatalf("expected order not open, got %v", err)
	}
}

func TestDispatcherBidRequiresAgreement(t *testing.T) {
	env := setupServiceTest(t)
	ctx := context.Background()
	order := env.openOrder(t, 1)
	truck := env.seedTruck(t, 100)

	_, err := env.bids.SubmitBid(ctx, SubmitBidInput{
		OrderID:   order.ID,
		TruckID:   truck.ID,
		Amount:    decimal.NewFromInt(300),
		Submitter: DispatcherSubmitter{DispatcherID: 900},
	})
	if !errors.Is(err, ErrAgreementRequired) {
		t.Fatalf("expected agreement required, got %v", err)
	}

	key := "900:100"
	if err := env.db.Create(&models.DispatcherAgreement{
		DispatcherID:   900,
		DriverID:       100,
		CommissionRate: models.MustMoney("5.00"),
		CanBidOnBehalf: true,
		Active:         true,
		ActivePairKey:  &key,
	}).Error; err != nil {
		t.Fatalf("create agreement failed: %v", err)
	}

	bid, err := env.bids.SubmitBid(ctx, SubmitBidInput{
		OrderID:   order.ID,
		TruckID:   truck.ID,
		Amount:    decimal.NewFromInt(300),
		Submitter: DispatcherSubmitter{DispatcherID: 900},
	})
	if err != nil {
		t.Fatalf("dispatcher bid failed: %v", err)
	}
	if bid.SubmitterType != constants.BidSubmitterDispatcher || bid.DispatcherID == nil || *bid.DispatcherID != 900 {
		t.Fatalf("unexpected submitter fields: %+v", bid)
	}
	if !bid.CommissionAmount.Decimal.Equal(decimal.NewFromInt(15)) {
		t.Fatalf("expected commission 15, got %s", bid.CommissionAmount.String())
	}
	if bid.DriverID != 100 {
		t.Fatalf("expected bid for driver 100, got %d", bid.DriverID)
	}

	updated, err := env.bids.UpdateBid(ctx, bid.ID, DispatcherSubmitter{DispatcherID: 900}, decimal.NewFromInt(200))
	if err != nil {
		t.Fatalf("update bid failed: %v", err)
	}
	if !updated.CommissionAmount.Decimal.Equal(decimal.NewFromInt(10)) {
		t.Fatalf("expected commission 10 after update, got %s", updated.CommissionAmount.String())
	}
}

func TestBidMutationOwnership(t *testing.T) {
	env := setupServiceTest(t)
	ctx := context.Background()
	order := env.openOrder(t, 1)
	truck := env.seedTruck(t, 100)
	bid := env.driverBid(t, order.ID, truck, "500")

	if _, err := env.bids.UpdateBid(ctx, bid.ID, DriverSubmitter{DriverID: 101}, decimal.NewFromInt(400)); !errors.Is(err, ErrBidNotOwned) {
		t.Fatalf("expected not owned, got %v", err)
	}
	if _, err := env.bids.WithdrawBid(ctx, bid.ID, DispatcherSubmitter{DispatcherID: 5}); !errors.Is(err, ErrBidNotOwned) {
		t.Fatalf("expected not owned for dispatcher, got %v", err)
	}
	updated, err := env.bids.UpdateBid(ctx, bid.ID, DriverSubmitter{DriverID: 100}, decimal.NewFromInt(400))
	if err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if !updated.Amount.Decimal.Equal(decimal.NewFromInt(400)) {
		t.Fatalf("expected amount 400, got %s", updated.Amount.String())
	}
	if _, err := env.bids.WithdrawBid(ctx, bid.ID, DriverSubmitter{DriverID: 100}); err != nil {
		t.Fatalf("withdraw failed: %v", err)
	}
	if _, err := env.bids.UpdateBid(ctx, bid.ID, DriverSubmitter{DriverID: 100}, decimal.NewFromInt(300)); !errors.Is(err, ErrBidNotPending) {
		t.Fatalf("expected not pending after withdraw, got %v", err)
	}
}

func TestBidListings(t *testing.T) {
	env := setupServiceTest(t)
	ctx := context.Background()
	first := env.openOrder(t, 1)
	second := env.openOrder(t, 1)
	truckA := env.seedTruck(t, 100)
	truckB := env.seedTruck(t, 101)
	bidA := env.driverBid(t, first.ID, truckA, "500")
	env.driverBid(t, second.ID, truckA, "300")
	bidB := env.driverBid(t, first.ID, truckB, "400")

	bids, total, err := env.bids.ListOrderBids(ctx, first.ID, repository.BidListFilter{})
	if err != nil {
		t.Fatalf("list order bids failed: %v", err)
	}
	if total != 2 || bids[0].ID != bidB.ID || bids[1].ID != bidA.ID {
		t.Fatalf("expected bids ordered by amount, got total=%d rows=%+v", total, bids)
	}
	if _, total, err = env.bids.ListTruckBids(ctx, truckA.ID, repository.BidListFilter{}); err != nil || total != 2 {
		t.Fatalf("expected 2 truck bids, got %d err=%v", total, err)
	}

	if _, err := env.bids.WithdrawBid(ctx, bidA.ID, DriverSubmitter{DriverID: 100}); err != nil {
		t.Fatalf("withdraw failed: %v", err)
	}
	pending, total, err := env.bids.ListOrderBids(ctx, first.ID, repository.BidListFilter{Status: constants.BidStatusPending})
	if err != nil || total != 1 || pending[0].ID != bidB.ID {
		t.Fatalf("expected only bid B pending, got total=%d err=%v", total, err)
	}

	if _, total, err = env.bids.ListOpenOrders(ctx, repository.OpenOrderFilter{}); err != nil || total != 2 {
		t.Fatalf("expected 2 open orders, got %d err=%v", total, err)
	}
	if _, err := env.orders.SelectBid(ctx, first.ID, bidB.ID, 1); err != nil {
		t.Fatalf("select bid failed: %v", err)
	}
	open, total, err := env.bids.ListOpenOrders(ctx, repository.OpenOrderFilter{})
	if err != nil || total != 1 || open[0].ID != second.ID {
		t.Fatalf("expected only the second order open, got total=%d err=%v", total, err)
	}

	if _, _, err := env.bids.ListOrderBids(ctx, 0, repository.BidListFilter{}); !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("expected order not found, got %v", err)
	}
}
