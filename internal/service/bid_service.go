package service

import (
	"context"
	"strings"
	"time"

	"github.com/freight-next/internal/constants"
	"github.com/freight-next/internal/logger"
	"github.com/freight-next/internal/models"
	"github.com/freight-next/internal/repository"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// BidSubmitter 出价提交方
// 只有 DriverSubmitter 与 DispatcherSubmitter 两种实现。
type BidSubmitter interface {
	submitterType() string
}

// DriverSubmitter 司机本人出价
type DriverSubmitter struct {
	DriverID uint
}

func (DriverSubmitter) submitterType() string { return constants.BidSubmitterDriver }

// DispatcherSubmitter 调度员代司机出价
type DispatcherSubmitter struct {
	DispatcherID uint
}

func (DispatcherSubmitter) submitterType() string { return constants.BidSubmitterDispatcher }

// SubmitBidInput 提交出价输入
type SubmitBidInput struct {
	OrderID   uint
	TruckID   uint
	Amount    decimal.Decimal
	Submitter BidSubmitter
	Note      string
}

// BidService 竞价市场服务
type BidService struct {
	orderRepo  repository.OrderRepository
	bidRepo    repository.BidRepository
	marketRepo repository.MarketRepository
}

// NewBidService 创建竞价服务
func NewBidService(
	orderRepo repository.OrderRepository,
	bidRepo repository.BidRepository,
	marketRepo repository.MarketRepository,
) *BidService {
	return &BidService{
		orderRepo:  orderRepo,
		bidRepo:    bidRepo,
		marketRepo: marketRepo,
	}
}

// SubmitBid 对开放订单出价，同一车辆同一订单只允许一条有效出价
func (s *BidService) SubmitBid(ctx context.Context, input SubmitBidInput) (*models.Bid, error) {
	amount := input.Amount.Round(2)
	if amount.LessThanOrEqual(decimal.Zero) {
		return nil, ErrBidAmountInvalid
	}
	if input.Submitter == nil {
		return nil, ErrSubmitterInvalid
	}

	var created *models.Bid
	err := s.orderRepo.Transaction(ctx, func(tx *gorm.DB) error {
		order, err := s.orderRepo.WithTx(tx).GetByIDForUpdate(input.OrderID)
		if err != nil {
			return wrapPersistence("lock order", err)
		}
		if order == nil {
			return ErrOrderNotFound
		}
		if order.Status != constants.OrderStatusOpen {
			return withDetail(ErrInvalidStateTransition, "order %d is %s", order.ID, order.Status)
		}

		marketRepo := s.marketRepo.WithTx(tx)
		truck, err := marketRepo.GetTruck(input.TruckID)
		if err != nil {
			return wrapPersistence("query truck", err)
		}
		if truck == nil {
			return ErrTruckNotFound
		}
		if !truck.Active {
			return ErrTruckInactive
		}

		now := time.Now()
		bid := &models.Bid{
			OrderID:       order.ID,
			TruckID:       truck.ID,
			DriverID:      truck.DriverID,
			Amount:        models.NewMoneyFromDecimal(amount),
			Status:        constants.BidStatusPending,
			SubmitterType: input.Submitter.submitterType(),
			Note:          strings.TrimSpace(input.Note),
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		switch submitter := input.Submitter.(type) {
		case DriverSubmitter:
			if submitter.DriverID == 0 || submitter.DriverID != truck.DriverID {
				return ErrTruckNotOwned
			}
		case DispatcherSubmitter:
			agreement, err := marketRepo.GetActiveAgreement(submitter.DispatcherID, truck.DriverID)
			if err != nil {
				return wrapPersistence("query dispatcher agreement", err)
			}
			if agreement == nil || !agreement.CanBidOnBehalf {
				return ErrAgreementRequired
			}
			dispatcherID := submitter.DispatcherID
			rate := agreement.CommissionRate.Decimal.Round(2)
			bid.DispatcherID = &dispatcherID
			bid.CommissionRate = models.NewMoneyFromDecimal(rate)
			bid.CommissionAmount = models.NewMoneyFromDecimal(amount.Mul(rate).Div(decimal.NewFromInt(100)))
		default:
			return ErrSubmitterInvalid
		}

		bidRepo := s.bidRepo.WithTx(tx)
		live, err := bidRepo.GetLiveByOrderAndTruck(order.ID, truck.ID)
		if err != nil {
			return wrapPersistence("query live bid", err)
		}
		if live != nil {
			return ErrDuplicateBid
		}
		if err := bidRepo.Create(bid); err != nil {
			return wrapPersistence("create bid", err)
		}
		created = bid
		return nil
	})
	if err != nil {
		return nil, err
	}
	logger.Infow("bid_submitted",
		"order_id", created.OrderID,
		"bid_id", created.ID,
		"truck_id", created.TruckID,
		"submitter_type", created.SubmitterType,
		"amount", created.Amount.String(),
	)
	return created, nil
}

// UpdateBid 修改待定出价金额
func (s *BidService) UpdateBid(ctx context.Context, bidID uint, actor BidSubmitter, amount decimal.Decimal) (*models.Bid, error) {
	amount = amount.Round(2)
	if amount.LessThanOrEqual(decimal.Zero) {
		return nil, ErrBidAmountInvalid
	}
	return s.mutatePendingBid(ctx, bidID, actor, func(bid *models.Bid, now time.Time) map[string]interface{} {
		updates := map[string]interface{}{
			"amount":     models.NewMoneyFromDecimal(amount),
			"updated_at": now,
		}
		bid.Amount = models.NewMoneyFromDecimal(amount)
		if bid.DispatcherID != nil {
			commission := models.NewMoneyFromDecimal(amount.Mul(bid.CommissionRate.Decimal).Div(decimal.NewFromInt(100)))
			updates["commission_amount"] = commission
			bid.CommissionAmount = commission
		}
		return updates
	})
}

// WithdrawBid 撤回待定出价
func (s *BidService) WithdrawBid(ctx context.Context, bidID uint, actor BidSubmitter) (*models.Bid, error) {
	return s.mutatePendingBid(ctx, bidID, actor, func(bid *models.Bid, now time.Time) map[string]interface{} {
		bid.Status = constants.BidStatusWithdrawn
		return map[string]interface{}{
			"status":     constants.BidStatusWithdrawn,
			"updated_at": now,
		}
	})
}

func (s *BidService) mutatePendingBid(ctx context.Context, bidID uint, actor BidSubmitter, mutate func(bid *models.Bid, now time.Time) map[string]interface{}) (*models.Bid, error) {
	var result *models.Bid
	err := s.orderRepo.Transaction(ctx, func(tx *gorm.DB) error {
		bidRepo := s.bidRepo.WithTx(tx)
		bid, err := bidRepo.GetByID(bidID)
		if err != nil {
			return wrapPersistence("query bid", err)
		}
		if bid == nil {
			return ErrBidNotFound
		}
		// 先锁订单再锁出价，与选标保持相同加锁顺序
		order, err := s.orderRepo.WithTx(tx).GetByIDForUpdate(bid.OrderID)
		if err != nil {
			return wrapPersistence("lock order", err)
		}
		if order == nil {
			return ErrOrderNotFound
		}
		bid, err = bidRepo.GetByIDForUpdate(bidID)
		if err != nil {
			return wrapPersistence("lock bid", err)
		}
		if bid == nil {
			return ErrBidNotFound
		}
		if !bidActorAllowed(bid, actor) {
			return ErrBidNotOwned
		}
		if bid.Status != constants.BidStatusPending || order.Status != constants.OrderStatusOpen {
			return ErrBidNotPending
		}
		updates := mutate(bid, time.Now())
		if err := bidRepo.UpdateFields(bid.ID, updates); err != nil {
			return wrapPersistence("update bid", err)
		}
		result = bid
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func bidActorAllowed(bid *models.Bid, actor BidSubmitter) bool {
	switch a := actor.(type) {
	case DriverSubmitter:
		return a.DriverID != 0 && a.DriverID == bid.DriverID
	case DispatcherSubmitter:
		return a.DispatcherID != 0 && bid.DispatcherID != nil && *bid.DispatcherID == a.DispatcherID
	default:
		return false
	}
}

// ListOrderBids 订单出价列表（按金额升序）
func (s *BidService) ListOrderBids(ctx context.Context, orderID uint, filter repository.BidListFilter) ([]models.Bid, int64, error) {
	if orderID == 0 {
		return nil, 0, ErrOrderNotFound
	}
	filter.OrderID = orderID
	bids, total, err := s.bidRepo.WithContext(ctx).List(filter)
	if err != nil {
		return nil, 0, wrapPersistence("list bids", err)
	}
	return bids, total, nil
}

// ListTruckBids 车辆出价记录
func (s *BidService) ListTruckBids(ctx context.Context, truckID uint, filter repository.BidListFilter) ([]models.Bid, int64, error) {
	if truckID == 0 {
		return nil, 0, ErrTruckNotFound
	}
	filter.TruckID = truckID
	bids, total, err := s.bidRepo.WithContext(ctx).List(filter)
	if err != nil {
		return nil, 0, wrapPersistence("list bids", err)
	}
	return bids, total, nil
}

// ListOpenOrders 司机侧可竞价订单
func (s *BidService) ListOpenOrders(ctx context.Context, filter repository.OpenOrderFilter) ([]models.CargoOrder, int64, error) {
	if len(filter.Statuses) == 0 {
		filter.Statuses = []constants.OrderStatus{constants.OrderStatusOpen}
	}
	orders, total, err := s.orderRepo.WithContext(ctx).ListOpen(filter)
	if err != nil {
		return nil, 0, wrapPersistence("list open orders", err)
	}
	return orders, total, nil
}

// GetActiveAgreement 查询生效的代报协议
func (s *BidService) GetActiveAgreement(ctx context.Context, dispatcherID, driverID uint) (*models.DispatcherAgreement, error) {
	agreement, err := s.marketRepo.WithContext(ctx).GetActiveAgreement(dispatcherID, driverID)
	if err != nil {
		return nil, wrapPersistence("query dispatcher agreement", err)
	}
	if agreement == nil {
		return nil, ErrAgreementNotFound
	}
	return agreement, nil
}
