package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/freight-next/internal/config"
	"github.com/freight-next/internal/constants"
	"github.com/freight-next/internal/logger"
	"github.com/freight-next/internal/models"
	"github.com/freight-next/internal/payment"
	"github.com/freight-next/internal/repository"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

var (
	hundred             = decimal.NewFromInt(100)
	errProcessorMissing = errors.New("payment processor not configured")
	errIntentCaptured   = errors.New("payment intent already captured")
)

// OrderSettings 订单结算参数
type OrderSettings struct {
	Currency        string
	PlatformFeeRate decimal.Decimal // 百分比
	TaxRate         decimal.Decimal // 百分比
	// CancellationPenalties 取消时按订单状态扣除的违约金百分比，缺省为 0
	CancellationPenalties map[constants.OrderStatus]decimal.Decimal
}

// OrderSettingsFromConfig 从配置构造订单参数
func OrderSettingsFromConfig(cfg config.OrderConfig) OrderSettings {
	penalties := make(map[constants.OrderStatus]decimal.Decimal)
	source := cfg.CancellationPenalties
	if len(source) == 0 {
		source = config.DefaultCancellationPenalties()
	}
	for status := constants.OrderStatusDraft; status <= constants.OrderStatusCancelled; status++ {
		if pct, ok := source[status.String()]; ok {
			penalties[status] = decimal.NewFromFloat(pct).Round(2)
		}
	}
	return OrderSettings{
		Currency:              normalizeWalletCurrency(cfg.Currency),
		PlatformFeeRate:       decimal.NewFromFloat(cfg.PlatformFeeRate).Round(4),
		TaxRate:               decimal.NewFromFloat(cfg.TaxRate).Round(4),
		CancellationPenalties: penalties,
	}
}

// PenaltyPercent 取消违约金比例
func (s OrderSettings) PenaltyPercent(status constants.OrderStatus) decimal.Decimal {
	if pct, ok := s.CancellationPenalties[status]; ok {
		return pct
	}
	return decimal.Zero
}

// CreateOrderInput 货主创建订单输入
type CreateOrderInput struct {
	CargoOwnerID       uint
	PickupLocation     string
	DeliveryLocation   string
	RequiredTruckType  string
	CargoWeightKg      int
	ExpectedDeliveryAt *time.Time
	Notes              string
}

// OrderService 货运订单生命周期服务
type OrderService struct {
	orderRepo repository.OrderRepository
	bidRepo   repository.BidRepository
	walletSvc *WalletService
	processor payment.Processor
	documents DocumentChecker
	notifier  Notifier
	settings  OrderSettings
}

// NewOrderService 创建订单服务
func NewOrderService(
	orderRepo repository.OrderRepository,
	bidRepo repository.BidRepository,
	walletSvc *WalletService,
	processor payment.Processor,
	documents DocumentChecker,
	notifier Notifier,
	settings OrderSettings,
) *OrderService {
	if notifier == nil {
		notifier = LogNotifier{}
	}
	return &OrderService{
		orderRepo: orderRepo,
		bidRepo:   bidRepo,
		walletSvc: walletSvc,
		processor: processor,
		documents: documents,
		notifier:  notifier,
		settings:  settings,
	}
}

// CreateOrder 创建草稿订单
func (s *OrderService) CreateOrder(ctx context.Context, input CreateOrderInput) (*models.CargoOrder, error) {
	pickup := strings.TrimSpace(input.PickupLocation)
	delivery := strings.TrimSpace(input.DeliveryLocation)
	if input.CargoOwnerID == 0 || pickup == "" || delivery == "" || input.CargoWeightKg < 0 {
		return nil, ErrOrderInputInvalid
	}
	now := time.Now()
	order := &models.CargoOrder{
		OrderNo:            generateOrderNo(),
		CargoOwnerID:       input.CargoOwnerID,
		PickupLocation:     pickup,
		DeliveryLocation:   delivery,
		RequiredTruckType:  strings.TrimSpace(input.RequiredTruckType),
		CargoWeightKg:      input.CargoWeightKg,
		Currency:           s.settings.Currency,
		Status:             constants.OrderStatusDraft,
		TotalAmount:        models.NewMoneyFromDecimal(decimal.Zero),
		DeliveryDocuments:  models.StringArray{},
		Notes:              strings.TrimSpace(input.Notes),
		ExpectedDeliveryAt: input.ExpectedDeliveryAt,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if err := s.orderRepo.WithContext(ctx).Create(order); err != nil {
		return nil, wrapPersistence("create order", err)
	}
	return order, nil
}

// OpenForBidding 草稿订单开放竞价
func (s *OrderService) OpenForBidding(ctx context.Context, orderID, ownerID uint) (*models.CargoOrder, error) {
	return s.transition(ctx, orderID, constants.OrderStatusOpen, func(tx *gorm.DB, order *models.CargoOrder, updates map[string]interface{}) error {
		if order.CargoOwnerID != ownerID {
			return ErrOrderNotOwned
		}
		return nil
	})
}

// SelectBid 货主选标：钱包优先扣款，剩余部分走外部支付
func (s *OrderService) SelectBid(ctx context.Context, orderID, bidID, ownerID uint) (*models.CargoOrder, error) {
	var acceptedBid *models.Bid
	order, err := s.transition(ctx, orderID, constants.OrderStatusDriverSelected, func(tx *gorm.DB, order *models.CargoOrder, updates map[string]interface{}) error {
		if order.CargoOwnerID != ownerID {
			return ErrOrderNotOwned
		}
		bidRepo := s.bidRepo.WithTx(tx)
		bid, err := bidRepo.GetByIDForUpdate(bidID)
		if err != nil {
			return wrapPersistence("lock bid", err)
		}
		if bid == nil {
			return ErrBidNotFound
		}
		if bid.OrderID != order.ID {
			return ErrBidOrderMismatch
		}
		if bid.Status != constants.BidStatusPending {
			return ErrBidNotPending
		}
		// 订单字段与出价表双重校验，一单只能有一个中标出价
		accepted, err := bidRepo.CountAccepted(order.ID)
		if err != nil {
			return wrapPersistence("count accepted bids", err)
		}
		if accepted > 0 {
			return withDetail(ErrBidAlreadyAccepted, "order %d already has %d accepted bid(s)", order.ID, accepted)
		}

		total := bid.Amount.Decimal.Round(2)
		walletPaid, _, err := s.walletSvc.DebitUpTo(tx, WalletEntryInput{
			OwnerType:      constants.WalletOwnerCargoOwner,
			OwnerID:        order.CargoOwnerID,
			Amount:         total,
			TxnType:        constants.WalletTxnTypeOrderPayment,
			RelatedOrderID: &order.ID,
			Reference:      buildOrderWalletReference(order.ID, "payment"),
			Remark:         "订单运费扣款 " + order.OrderNo,
		})
		if err != nil {
			return err
		}
		external := total.Sub(walletPaid).Round(2)
		method := constants.PaymentMethodMixed
		switch {
		case external.IsZero():
			method = constants.PaymentMethodWallet
		case walletPaid.IsZero():
			method = constants.PaymentMethodExternal
		}

		now := updates["updated_at"].(time.Time)
		if err := bidRepo.UpdateFields(bid.ID, map[string]interface{}{
			"status":     constants.BidStatusAccepted,
			"updated_at": now,
		}); err != nil {
			return wrapPersistence("accept bid", err)
		}
		if _, err := bidRepo.RejectPendingExcept(order.ID, bid.ID, now); err != nil {
			return wrapPersistence("reject other bids", err)
		}

		updates["accepted_bid_id"] = bid.ID
		updates["assigned_driver_id"] = bid.DriverID
		updates["assigned_truck_id"] = bid.TruckID
		updates["total_amount"] = models.NewMoneyFromDecimal(total)
		updates["wallet_payment_amount"] = models.NewMoneyFromDecimal(walletPaid)
		updates["external_payment_amount"] = models.NewMoneyFromDecimal(external)
		updates["payment_method"] = method
		updates["is_paid"] = external.IsZero()
		bid.Status = constants.BidStatusAccepted
		acceptedBid = bid
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.Infow("order_bid_selected",
		"order_id", order.ID,
		"bid_id", acceptedBid.ID,
		"total_amount", order.TotalAmount.String(),
		"wallet_amount", order.WalletPaymentAmount.OrZero().StringFixed(2),
		"external_amount", order.ExternalPaymentAmount.OrZero().StringFixed(2),
	)
	if order.ExternalPaymentAmount.OrZero().GreaterThan(decimal.Zero) {
		if intentID, intentErr := s.createPaymentIntent(ctx, order); intentErr != nil {
			logger.Warnw("order_payment_intent_failed",
				"order_id", order.ID,
				"error", intentErr,
			)
		} else {
			order.PaymentIntentID = intentID
		}
	}
	notifyAfterCommit(ctx, s.notifier, NotificationEventBidAccepted, acceptedBid.DriverID,
		"出价已中标", orderNotificationBody(order.OrderNo, "bid %d accepted at %s", acceptedBid.ID, acceptedBid.Amount.String()))
	return order, nil
}

// EnsurePaymentIntent 补建外部支付意图（幂等）
func (s *OrderService) EnsurePaymentIntent(ctx context.Context, orderID uint) (string, error) {
	order, err := s.GetOrder(ctx, orderID)
	if err != nil {
		return "", err
	}
	if order.PaymentIntentID != "" {
		return order.PaymentIntentID, nil
	}
	if order.Status == constants.OrderStatusCancelled || !order.Status.HasAcceptedBid() {
		return "", withDetail(ErrInvalidStateTransition, "order %d is %s", order.ID, order.Status)
	}
	if !order.ExternalPaymentAmount.OrZero().GreaterThan(decimal.Zero) {
		return "", nil
	}
	return s.createPaymentIntent(ctx, order)
}

// RetryMissingPaymentIntents 为缺失支付意图的订单补建，返回成功数
func (s *OrderService) RetryMissingPaymentIntents(ctx context.Context, limit int) (int, error) {
	orders, err := s.orderRepo.WithContext(ctx).ListPendingPaymentIntent(limit)
	if err != nil {
		return 0, wrapPersistence("list orders without payment intent", err)
	}
	created := 0
	for i := range orders {
		if _, err := s.createPaymentIntent(ctx, &orders[i]); err != nil {
			logger.Warnw("order_payment_intent_retry_failed",
				"order_id", orders[i].ID,
				"error", err,
			)
			continue
		}
		created++
	}
	return created, nil
}

func (s *OrderService) createPaymentIntent(ctx context.Context, order *models.CargoOrder) (string, error) {
	if s.processor == nil {
		return "", wrapExternal("create payment intent", errProcessorMissing)
	}
	intentID, err := s.processor.CreatePaymentIntent(ctx, payment.PaymentIntentRequest{
		OrderID:        order.ID,
		OrderNo:        order.OrderNo,
		CargoOwnerID:   order.CargoOwnerID,
		Amount:         order.ExternalPaymentAmount.OrZero(),
		Currency:       order.Currency,
		IdempotencyKey: buildOrderWalletReference(order.ID, "intent"),
	})
	if err != nil {
		return "", wrapExternal("create payment intent", err)
	}
	var orphaned *models.OrderCancellation
	var orphanedOrder *models.CargoOrder
	err = s.orderRepo.Transaction(ctx, func(tx *gorm.DB) error {
		repo := s.orderRepo.WithTx(tx)
		locked, err := repo.GetByIDForUpdate(order.ID)
		if err != nil {
			return wrapPersistence("lock order", err)
		}
		if locked == nil {
			return ErrOrderNotFound
		}
		if locked.PaymentIntentID != "" {
			intentID = locked.PaymentIntentID
			return nil
		}
		if err := repo.UpdateFields(order.ID, map[string]interface{}{
			"payment_intent_id": intentID,
			"updated_at":        time.Now(),
		}); err != nil {
			return wrapPersistence("save payment intent", err)
		}
		if locked.Status != constants.OrderStatusCancelled {
			return nil
		}
		// 意图创建期间订单被取消：重新挂起撤销
		cancellation, err := repo.GetCancellationByOrderID(locked.ID)
		if err != nil {
			return wrapPersistence("query order cancellation", err)
		}
		if cancellation != nil && cancellation.ExternalRefundStatus == constants.RefundStatusVoided {
			if err := repo.UpdateCancellation(cancellation.ID, map[string]interface{}{
				"external_refund_status": constants.RefundStatusAwaitingCapture,
				"updated_at":             time.Now(),
			}); err != nil {
				return wrapPersistence("reopen intent void", err)
			}
			cancellation.ExternalRefundStatus = constants.RefundStatusAwaitingCapture
		}
		if cancellation != nil && cancellation.ExternalRefundStatus == constants.RefundStatusAwaitingCapture {
			locked.PaymentIntentID = intentID
			orphaned, orphanedOrder = cancellation, locked
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	if orphaned != nil {
		s.voidPaymentIntent(ctx, orphaned, orphanedOrder)
	}
	return intentID, nil
}

// ConfirmExternalPayment 外部支付到账确认
// 订单已取消时仍记录到账，并把外部应退部分转入退款流程。
func (s *OrderService) ConfirmExternalPayment(ctx context.Context, orderID uint, intentID string) (*models.CargoOrder, error) {
	intentID = strings.TrimSpace(intentID)
	var result *models.CargoOrder
	var lateRefund *models.OrderCancellation
	err := s.orderRepo.Transaction(ctx, func(tx *gorm.DB) error {
		repo := s.orderRepo.WithTx(tx)
		order, err := lockOrder(repo, orderID)
		if err != nil {
			return err
		}
		cancelled := order.Status == constants.OrderStatusCancelled
		if !cancelled && !order.Status.HasAcceptedBid() {
			return withDetail(ErrInvalidStateTransition, "order %d is %s", order.ID, order.Status)
		}
		if intentID == "" || order.PaymentIntentID != intentID {
			return withDetail(ErrOrderInputInvalid, "payment intent mismatch for order %d", order.ID)
		}
		if order.ExternalPaymentConfirmed {
			result = order
			return nil
		}
		if err := repo.UpdateFields(order.ID, map[string]interface{}{
			"external_payment_confirmed": true,
			"is_paid":                    true,
			"updated_at":                 time.Now(),
		}); err != nil {
			return wrapPersistence("confirm external payment", err)
		}
		order.ExternalPaymentConfirmed = true
		order.IsPaid = true
		result = order
		if !cancelled {
			return nil
		}
		cancellation, err := s.captureAfterCancel(repo, order)
		if err != nil {
			return err
		}
		lateRefund = cancellation
		return nil
	})
	if err != nil {
		return nil, err
	}
	if lateRefund != nil {
		logger.Infow("order_late_capture_refund",
			"order_id", result.ID,
			"external_refund", lateRefund.ExternalRefundAmount.String(),
		)
		s.refundExternal(ctx, lateRefund, result)
	}
	return result, nil
}

// captureAfterCancel 取消后才到账的外部款项转入待退款，返回需要立即退款的取消记录
func (s *OrderService) captureAfterCancel(repo repository.OrderRepository, order *models.CargoOrder) (*models.OrderCancellation, error) {
	cancellation, err := repo.GetCancellationByOrderID(order.ID)
	if err != nil {
		return nil, wrapPersistence("query order cancellation", err)
	}
	if cancellation == nil {
		return nil, nil
	}
	switch cancellation.ExternalRefundStatus {
	case constants.RefundStatusAwaitingCapture, constants.RefundStatusVoided:
	default:
		return nil, nil
	}
	next := constants.RefundStatusNotRequired
	if cancellation.ExternalRefundAmount.Decimal.GreaterThan(decimal.Zero) {
		next = constants.RefundStatusPending
	}
	if err := repo.UpdateCancellation(cancellation.ID, map[string]interface{}{
		"external_refund_status": next,
		"external_refund_error":  "",
		"updated_at":             time.Now(),
	}); err != nil {
		return nil, wrapPersistence("queue late capture refund", err)
	}
	cancellation.ExternalRefundStatus = next
	cancellation.ExternalRefundError = ""
	if next != constants.RefundStatusPending {
		return nil, nil
	}
	return cancellation, nil
}

// DriverAcknowledgeBid 中标司机确认接单
func (s *OrderService) DriverAcknowledgeBid(ctx context.Context, orderID, driverID uint) (*models.CargoOrder, error) {
	return s.transition(ctx, orderID, constants.OrderStatusDriverAcknowledged, func(tx *gorm.DB, order *models.CargoOrder, updates map[string]interface{}) error {
		return ensureAssignedDriver(order, driverID)
	})
}

// UploadManifest 装货单审核通过后进入待装货
func (s *OrderService) UploadManifest(ctx context.Context, orderID, driverID uint) (*models.CargoOrder, error) {
	if err := s.requireDocuments(ctx, DocumentEntity{Type: constants.DocumentEntityOrder, ID: orderID}); err != nil {
		return nil, err
	}
	return s.transition(ctx, orderID, constants.OrderStatusReadyForPickup, func(tx *gorm.DB, order *models.CargoOrder, updates map[string]interface{}) error {
		return ensureAssignedDriver(order, driverID)
	})
}

// StartOrder 开始运输；司机已确认但未上传装货单时在同一事务内经过待装货
func (s *OrderService) StartOrder(ctx context.Context, orderID, driverID uint) (*models.CargoOrder, error) {
	if err := s.requireDocuments(ctx, DocumentEntity{Type: constants.DocumentEntityDriver, ID: driverID}); err != nil {
		return nil, err
	}
	if err := s.requireDocuments(ctx, DocumentEntity{Type: constants.DocumentEntityOrder, ID: orderID}); err != nil {
		return nil, err
	}
	var result *models.CargoOrder
	err := s.orderRepo.Transaction(ctx, func(tx *gorm.DB) error {
		repo := s.orderRepo.WithTx(tx)
		order, err := lockOrder(repo, orderID)
		if err != nil {
			return err
		}
		if err := ensureAssignedDriver(order, driverID); err != nil {
			return err
		}
		now := time.Now()
		updates := map[string]interface{}{}
		current := order.Status
		if current == constants.OrderStatusDriverAcknowledged {
			if err := ensureTransition(order.ID, current, constants.OrderStatusReadyForPickup); err != nil {
				return err
			}
			updates["ready_at"] = now
			current = constants.OrderStatusReadyForPickup
		}
		if err := ensureTransition(order.ID, current, constants.OrderStatusInTransit); err != nil {
			return err
		}
		for key, value := range transitionUpdates(constants.OrderStatusInTransit, now) {
			updates[key] = value
		}
		if err := repo.UpdateFields(order.ID, updates); err != nil {
			return wrapPersistence("start order", err)
		}
		result, err = repo.GetByID(order.ID)
		return wrapPersistence("reload order", err)
	})
	if err != nil {
		return nil, err
	}
	logger.Infow("order_in_transit", "order_id", result.ID, "driver_id", driverID)
	return result, nil
}

// CompleteDelivery 送达：司机钱包入账与状态变更同一事务
func (s *OrderService) CompleteDelivery(ctx context.Context, orderID, driverID uint, deliveryDocs []string) (*models.CargoOrder, error) {
	docs := make(models.StringArray, 0, len(deliveryDocs))
	for _, doc := range deliveryDocs {
		if trimmed := strings.TrimSpace(doc); trimmed != "" {
			docs = append(docs, trimmed)
		}
	}
	if len(docs) == 0 {
		return nil, ErrDeliveryDocumentsRequired
	}
	var earnings decimal.Decimal
	order, err := s.transition(ctx, orderID, constants.OrderStatusDelivered, func(tx *gorm.DB, order *models.CargoOrder, updates map[string]interface{}) error {
		if err := ensureAssignedDriver(order, driverID); err != nil {
			return err
		}
		earnings = s.DriverEarnings(order.TotalAmount.Decimal)
		if earnings.GreaterThan(decimal.Zero) {
			if _, err := s.walletSvc.CreditInTx(tx, WalletEntryInput{
				OwnerType:      constants.WalletOwnerDriver,
				OwnerID:        driverID,
				Amount:         earnings,
				TxnType:        constants.WalletTxnTypeDeliveryPayment,
				RelatedOrderID: &order.ID,
				Reference:      buildOrderWalletReference(order.ID, "delivery"),
				Remark:         "运费收入 " + order.OrderNo,
			}); err != nil {
				return err
			}
		}
		updates["delivery_documents"] = docs
		updates["is_paid"] = !order.ExternalPaymentAmount.OrZero().GreaterThan(decimal.Zero) || order.ExternalPaymentConfirmed
		return nil
	})
	if err != nil {
		return nil, err
	}
	logger.Infow("order_delivered",
		"order_id", order.ID,
		"driver_id", driverID,
		"driver_earnings", earnings.StringFixed(2),
	)
	notifyAfterCommit(ctx, s.notifier, NotificationEventOrderDelivered, order.CargoOwnerID,
		"订单已送达", orderNotificationBody(order.OrderNo, "delivered with %d document(s)", len(docs)))
	return order, nil
}

// DriverEarnings 司机实收 = 运费 - 平台服务费 - 税费
func (s *OrderService) DriverEarnings(total decimal.Decimal) decimal.Decimal {
	total = total.Round(2)
	fee := total.Mul(s.settings.PlatformFeeRate).Div(hundred).Round(2)
	tax := total.Mul(s.settings.TaxRate).Div(hundred).Round(2)
	net := total.Sub(fee).Sub(tax).Round(2)
	if net.IsNegative() {
		return decimal.Zero
	}
	return net
}

// GetOrder 查询订单
func (s *OrderService) GetOrder(ctx context.Context, orderID uint) (*models.CargoOrder, error) {
	order, err := s.orderRepo.WithContext(ctx).GetByID(orderID)
	if err != nil {
		return nil, wrapPersistence("query order", err)
	}
	if order == nil {
		return nil, ErrOrderNotFound
	}
	return order, nil
}

// ListOrders 订单列表
func (s *OrderService) ListOrders(ctx context.Context, filter repository.OrderListFilter) ([]models.CargoOrder, int64, error) {
	orders, total, err := s.orderRepo.WithContext(ctx).List(filter)
	if err != nil {
		return nil, 0, wrapPersistence("list orders", err)
	}
	return orders, total, nil
}

// FlagOrder 标记异常订单（不改变状态）
func (s *OrderService) FlagOrder(ctx context.Context, orderID uint, reason string) error {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = "manual"
	}
	return s.setFlag(ctx, orderID, true, reason)
}

// UnflagOrder 取消异常标记
func (s *OrderService) UnflagOrder(ctx context.Context, orderID uint) error {
	return s.setFlag(ctx, orderID, false, "")
}

func (s *OrderService) setFlag(ctx context.Context, orderID uint, flagged bool, reason string) error {
	return s.orderRepo.Transaction(ctx, func(tx *gorm.DB) error {
		repo := s.orderRepo.WithTx(tx)
		order, err := lockOrder(repo, orderID)
		if err != nil {
			return err
		}
		if order.IsFlagged == flagged && order.FlagReason == reason {
			return nil
		}
		return wrapPersistence("flag order", repo.UpdateFields(order.ID, map[string]interface{}{
			"is_flagged":  flagged,
			"flag_reason": reason,
			"updated_at":  time.Now(),
		}))
	})
}

// transition 锁定订单、校验状态机后执行 apply 并写入目标状态
func (s *OrderService) transition(
	ctx context.Context,
	orderID uint,
	target constants.OrderStatus,
	apply func(tx *gorm.DB, order *models.CargoOrder, updates map[string]interface{}) error,
) (*models.CargoOrder, error) {
	var result *models.CargoOrder
	err := s.orderRepo.Transaction(ctx, func(tx *gorm.DB) error {
		repo := s.orderRepo.WithTx(tx)
		order, err := lockOrder(repo, orderID)
		if err != nil {
			return err
		}
		if target == constants.OrderStatusDriverSelected && order.AcceptedBidID != nil {
			return ErrBidAlreadyAccepted
		}
		if err := ensureTransition(order.ID, order.Status, target); err != nil {
			return err
		}
		updates := transitionUpdates(target, time.Now())
		if apply != nil {
			if err := apply(tx, order, updates); err != nil {
				return err
			}
		}
		if err := repo.UpdateFields(order.ID, updates); err != nil {
			return wrapPersistence("update order status", err)
		}
		result, err = repo.GetByID(order.ID)
		return wrapPersistence("reload order", err)
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *OrderService) requireDocuments(ctx context.Context, entity DocumentEntity) error {
	if s.documents == nil {
		return nil
	}
	approved, err := s.documents.AreRequiredDocumentsApproved(ctx, entity)
	if err != nil {
		return wrapExternal("check documents", err)
	}
	if !approved {
		return withDetail(ErrDocumentsNotApproved, "%s %d", entity.Type, entity.ID)
	}
	return nil
}

func lockOrder(repo repository.OrderRepository, orderID uint) (*models.CargoOrder, error) {
	order, err := repo.GetByIDForUpdate(orderID)
	if err != nil {
		return nil, wrapPersistence("lock order", err)
	}
	if order == nil {
		return nil, ErrOrderNotFound
	}
	return order, nil
}

func ensureAssignedDriver(order *models.CargoOrder, driverID uint) error {
	if driverID == 0 || order.AssignedDriverID == nil || *order.AssignedDriverID != driverID {
		return ErrNotAssignedDriver
	}
	return nil
}
