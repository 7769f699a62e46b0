package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/freight-next/internal/config"
	"github.com/freight-next/internal/constants"
	"github.com/freight-next/internal/models"
	"github.com/freight-next/internal/payment"
	"github.com/freight-next/internal/repository"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type serviceTestEnv struct {
	db         *gorm.DB
	orderRepo  repository.OrderRepository
	walletRepo repository.WalletRepository
	payoutRepo repository.PayoutRepository
	wallets    *WalletService
	bids       *BidService
	orders     *OrderService
	payouts    *PayoutService
	processor  *fakeProcessor
	documents  *StaticDocumentChecker
	notifier   *recordingNotifier
}

func setupServiceTest(t *testing.T) *serviceTestEnv {
	t.Helper()
	dsn := fmt.Sprintf("file:service_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite failed: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("get sql db failed: %v", err)
	}
	// sqlite 不支持行锁，单连接使事务串行执行
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(models.AllModels()...); err != nil {
		t.Fatalf("auto migrate failed: %v", err)
	}
	t.Cleanup(func() {
		_ = sqlDB.Close()
	})

	env := &serviceTestEnv{
		db:         db,
		orderRepo:  repository.NewOrderRepository(db),
		walletRepo: repository.NewWalletRepository(db),
		payoutRepo: repository.NewPayoutRepository(db),
		processor:  newFakeProcessor(),
		documents:  NewStaticDocumentChecker(),
		notifier:   &recordingNotifier{},
	}
	bidRepo := repository.NewBidRepository(db)
	env.wallets = NewWalletService(env.walletRepo, "USD")
	env.bids = NewBidService(env.orderRepo, bidRepo, repository.NewMarketRepository(db))
	env.orders = NewOrderService(env.orderRepo, bidRepo, env.wallets, env.processor, env.documents, env.notifier,
		OrderSettingsFromConfig(config.OrderConfig{Currency: "USD", PlatformFeeRate: 10}))
	env.payouts = NewPayoutService(env.payoutRepo, env.walletRepo, env.wallets, env.processor, env.notifier,
		PayoutSettingsFromConfig(config.PayoutConfig{Threshold: "50", Currency: "USD", Concurrency: 3}))
	return env
}

func (e *serviceTestEnv) seedTruck(t *testing.T, driverID uint) *models.Truck {
	t.Helper()
	truck := &models.Truck{
		DriverID:   driverID,
		PlateNo:    "PL-" + uuid.NewString()[:8],
		TruckType:  "box",
		CapacityKg: 10000,
		Active:     true,
	}
	if err := e.db.Create(truck).Error; err != nil {
		t.Fatalf("create truck failed: %v", err)
	}
	return truck
}

func (e *serviceTestEnv) fundWallet(t *testing.T, ownerType string, ownerID uint, amount string) {
	t.Helper()
	if _, err := e.wallets.Credit(context.Background(), WalletEntryInput{
		OwnerType: ownerType,
		OwnerID:   ownerID,
		Amount:    decimal.RequireFromString(amount),
		TxnType:   constants.WalletTxnTypeTopUp,
		Reference: "topup:" + uuid.NewString(),
	}); err != nil {
		t.Fatalf("fund wallet failed: %v", err)
	}
}

// creditDelivery 模拟一笔送达收入，带关联订单
func (e *serviceTestEnv) creditDelivery(t *testing.T, driverID, orderID uint, amount string) {
	t.Helper()
	related := orderID
	if _, err := e.wallets.Credit(context.Background(), WalletEntryInput{
		OwnerType:      constants.WalletOwnerDriver,
		OwnerID:        driverID,
		Amount:         decimal.RequireFromString(amount),
		TxnType:        constants.WalletTxnTypeDeliveryPayment,
		RelatedOrderID: &related,
		Reference:      buildOrderWalletReference(orderID, "delivery"),
	}); err != nil {
		t.Fatalf("credit delivery failed: %v", err)
	}
}

func (e *serviceTestEnv) balance(t *testing.T, ownerType string, ownerID uint) decimal.Decimal {
	t.Helper()
	wallet, err := e.walletRepo.GetWallet(ownerType, ownerID)
	if err != nil {
		t.Fatalf("get wallet failed: %v", err)
	}
	if wallet == nil {
		return decimal.Zero
	}
	return wallet.Balance.Decimal
}

func (e *serviceTestEnv) openOrder(t *testing.T, ownerID uint) *models.CargoOrder {
	t.Helper()
	ctx := context.Background()
	order, err := e.orders.CreateOrder(ctx, CreateOrderInput{
		CargoOwnerID:     ownerID,
		PickupLocation:   "North Depot",
		DeliveryLocation: "South Port",
		CargoWeightKg:    800,
	})
	if err != nil {
		t.Fatalf("create order failed: %v", err)
	}
	order, err = e.orders.OpenForBidding(ctx, order.ID, ownerID)
	if err != nil {
		t.Fatalf("open order failed: %v", err)
	}
	return order
}

func (e *serviceTestEnv) driverBid(t *testing.T, orderID uint, truck *models.Truck, amount string) *models.Bid {
	t.Helper()
	bid, err := e.bids.SubmitBid(context.Background(), SubmitBidInput{
		OrderID:   orderID,
		TruckID:   truck.ID,
		Amount:    decimal.RequireFromString(amount),
		Submitter: DriverSubmitter{DriverID: truck.DriverID},
	})
	if err != nil {
		t.Fatalf("submit bid failed: %v", err)
	}
	return bid
}

func (e *serviceTestEnv) addPayoutAccount(t *testing.T, driverID uint) {
	t.Helper()
	if err := e.db.Create(&models.DriverPayoutAccount{
		DriverID:          driverID,
		Provider:          "stripe",
		ExternalAccountID: fmt.Sprintf("acct_%d", driverID),
		Active:            true,
	}).Error; err != nil {
		t.Fatalf("create payout account failed: %v", err)
	}
}

type fakeProcessor struct {
	mu           sync.Mutex
	failDrivers  map[uint]bool
	transfers    map[string]*payment.TransferResult
	transferReqs []payment.TransferRequest
	intents      map[string]string
	refundErr    error
	refunds      []payment.RefundRequest
	cancels      []string
	cancelErr    error
	captured     map[string]bool
	onTransfer   func(req payment.TransferRequest)
}

func newFakeProcessor() *fakeProcessor {
	return &fakeProcessor{
		failDrivers: map[uint]bool{},
		transfers:   map[string]*payment.TransferResult{},
		intents:     map[string]string{},
		captured:    map[string]bool{},
	}
}

func (p *fakeProcessor) setCancelErr(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cancelErr = err
}

func (p *fakeProcessor) markCaptured(intentID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.captured[intentID] = true
}

func (p *fakeProcessor) refundCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.refunds)
}

func (p *fakeProcessor) cancelCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.cancels)
}

func (p *fakeProcessor) setDriverFailing(driverID uint, failing bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failDrivers[driverID] = failing
}

func (p *fakeProcessor) setRefundErr(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.refundErr = err
}

func (p *fakeProcessor) transferCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.transferReqs)
}

func (p *fakeProcessor) CreateTransfer(ctx context.Context, req payment.TransferRequest) (*payment.TransferResult, error) {
	if p.onTransfer != nil {
		p.onTransfer(req)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.transferReqs = append(p.transferReqs, req)
	if p.failDrivers[req.DriverID] {
		return nil, errors.New("destination account restricted")
	}
	if existing, ok := p.transfers[req.IdempotencyKey]; ok {
		return existing, nil
	}
	result := &payment.TransferResult{
		TransferID: fmt.Sprintf("tr_%d_%d", req.DriverID, len(p.transfers)+1),
		Status:     payment.TransferStatusSucceeded,
	}
	p.transfers[req.IdempotencyKey] = result
	return result, nil
}

func (p *fakeProcessor) GetTransfer(ctx context.Context, idempotencyKey string) (*payment.TransferResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if existing, ok := p.transfers[idempotencyKey]; ok {
		return existing, nil
	}
	return nil, payment.ErrTransferNotFound
}

func (p *fakeProcessor) CreatePaymentIntent(ctx context.Context, req payment.PaymentIntentRequest) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if existing, ok := p.intents[req.IdempotencyKey]; ok {
		return existing, nil
	}
	id := fmt.Sprintf("pi_%d", req.OrderID)
	p.intents[req.IdempotencyKey] = id
	return id, nil
}

func (p *fakeProcessor) RefundPaymentIntent(ctx context.Context, req payment.RefundRequest) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.refunds = append(p.refunds, req)
	if p.refundErr != nil {
		return false, p.refundErr
	}
	return true, nil
}

func (p *fakeProcessor) CancelPaymentIntent(ctx context.Context, req payment.CancelIntentRequest) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cancels = append(p.cancels, req.PaymentIntentID)
	if p.cancelErr != nil {
		return false, p.cancelErr
	}
	return !p.captured[req.PaymentIntentID], nil
}

type notification struct {
	event  string
	userID uint
	title  string
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []notification
}

func (n *recordingNotifier) Notify(ctx context.Context, userID uint, title, body string) error {
	return n.NotifyEvent(ctx, "", userID, title, body)
}

func (n *recordingNotifier) NotifyEvent(ctx context.Context, event string, userID uint, title, body string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, notification{event: event, userID: userID, title: title})
	return nil
}

func (n *recordingNotifier) events(userID uint) []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []string
	for _, item := range n.sent {
		if item.userID == userID {
			out = append(out, item.event)
		}
	}
	return out
}
