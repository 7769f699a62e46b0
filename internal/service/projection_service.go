package service

import (
	"context"
	"fmt"
	"time"

	"github.com/freight-next/internal/cache"
	"github.com/freight-next/internal/config"
	"github.com/freight-next/internal/constants"
	"github.com/freight-next/internal/logger"
	"github.com/freight-next/internal/models"
	"github.com/freight-next/internal/repository"

	"github.com/jinzhu/now"
)

const projectionCacheTTL = 48 * time.Hour

// ProjectionSettings 投影与超时巡检参数
type ProjectionSettings struct {
	OverdueSelected time.Duration // 选标后未推进的告警阈值
	OverdueTransit  time.Duration // 运输中未送达的告警阈值
}

// ProjectionSettingsFromConfig 从配置构造参数
func ProjectionSettingsFromConfig(cfg config.OrderConfig) ProjectionSettings {
	selected := cfg.OverdueSelectedHours
	if selected <= 0 {
		selected = 48
	}
	transit := cfg.OverdueTransitHours
	if transit <= 0 {
		transit = 72
	}
	return ProjectionSettings{
		OverdueSelected: time.Duration(selected) * time.Hour,
		OverdueTransit:  time.Duration(transit) * time.Hour,
	}
}

// ProjectionService 司机收入投影与超时订单巡检
type ProjectionService struct {
	projectionRepo repository.ProjectionRepository
	walletRepo     repository.WalletRepository
	orderRepo      repository.OrderRepository
	orderSvc       *OrderService
	settings       ProjectionSettings
	clock          func() time.Time
}

// NewProjectionService 创建投影服务
func NewProjectionService(
	projectionRepo repository.ProjectionRepository,
	walletRepo repository.WalletRepository,
	orderRepo repository.OrderRepository,
	orderSvc *OrderService,
	settings ProjectionSettings,
) *ProjectionService {
	return &ProjectionService{
		projectionRepo: projectionRepo,
		walletRepo:     walletRepo,
		orderRepo:      orderRepo,
		orderSvc:       orderSvc,
		settings:       settings,
		clock:          time.Now,
	}
}

func projectionCacheKey(driverID uint, day time.Time) string {
	return fmt.Sprintf("projection:driver:%d:%s", driverID, day.Format("2006-01-02"))
}

// RefreshDriverEarningsProjection 重算某日（UTC）所有有送达收入司机的投影
func (s *ProjectionService) RefreshDriverEarningsProjection(ctx context.Context, day time.Time) (int, error) {
	from := now.With(day.UTC()).BeginningOfDay()
	to := from.AddDate(0, 0, 1)

	summaries, err := s.projectionRepo.WithContext(ctx).SummarizeDriverEarnings(from, to)
	if err != nil {
		return 0, wrapPersistence("summarize driver earnings", err)
	}
	refreshed := 0
	for _, summary := range summaries {
		if ctx.Err() != nil {
			return refreshed, ctx.Err()
		}
		row, err := s.buildProjection(ctx, summary, from)
		if err != nil {
			return refreshed, err
		}
		if err := s.projectionRepo.WithContext(ctx).Upsert(row); err != nil {
			return refreshed, wrapPersistence("upsert driver projection", err)
		}
		if err := cache.SetJSON(ctx, projectionCacheKey(row.DriverID, from), row, projectionCacheTTL); err != nil {
			logger.Warnw("projection_cache_set_failed", "driver_id", row.DriverID, "error", err)
		}
		refreshed++
	}
	logger.Infow("driver_projection_refreshed",
		"projection_date", from.Format("2006-01-02"),
		"drivers", refreshed,
	)
	return refreshed, nil
}

func (s *ProjectionService) buildProjection(ctx context.Context, summary repository.DriverDeliverySummary, day time.Time) (*models.DriverEarningsProjection, error) {
	balance := models.Money{}
	wallet, err := s.walletRepo.WithContext(ctx).GetWallet(constants.WalletOwnerDriver, summary.DriverID)
	if err != nil {
		return nil, wrapPersistence("query driver wallet", err)
	}
	if wallet != nil {
		balance = wallet.Balance
	}
	pending, err := s.projectionRepo.WithContext(ctx).SumPendingPayout(summary.DriverID)
	if err != nil {
		return nil, wrapPersistence("sum pending payout", err)
	}
	nowAt := s.clock()
	return &models.DriverEarningsProjection{
		DriverID:        summary.DriverID,
		ProjectionDate:  day,
		DeliveredOrders: summary.DeliveredOrders,
		GrossEarnings:   summary.GrossEarnings,
		WalletBalance:   models.NewMoneyFromDecimal(balance.Decimal),
		PendingPayout:   pending,
		CreatedAt:       nowAt,
		UpdatedAt:       nowAt,
	}, nil
}

// GetDriverProjection 查询司机某日投影，优先读缓存
func (s *ProjectionService) GetDriverProjection(ctx context.Context, driverID uint, day time.Time) (*models.DriverEarningsProjection, error) {
	date := now.With(day.UTC()).BeginningOfDay()
	var cached models.DriverEarningsProjection
	if hit, err := cache.GetJSON(ctx, projectionCacheKey(driverID, date), &cached); err == nil && hit {
		return &cached, nil
	}
	row, err := s.projectionRepo.WithContext(ctx).Get(driverID, date)
	if err != nil {
		return nil, wrapPersistence("query driver projection", err)
	}
	if row == nil {
		return nil, ErrNotFound
	}
	return row, nil
}

// FlagOverdueOrders 标记选标后或运输中长时间未推进的订单，返回新标记数量
func (s *ProjectionService) FlagOverdueOrders(ctx context.Context) (int, error) {
	nowAt := s.clock()
	checks := []struct {
		status constants.OrderStatus
		column string
		limit  time.Duration
		reason string
	}{
		{constants.OrderStatusDriverSelected, "selected_at", s.settings.OverdueSelected, "driver not acknowledged in time"},
		{constants.OrderStatusInTransit, "picked_up_at", s.settings.OverdueTransit, "delivery overdue"},
	}
	flagged := 0
	for _, check := range checks {
		orders, err := s.orderRepo.WithContext(ctx).ListStale(check.status, check.column, nowAt.Add(-check.limit))
		if err != nil {
			return flagged, wrapPersistence("list stale orders", err)
		}
		for _, order := range orders {
			if err := s.orderSvc.FlagOrder(ctx, order.ID, check.reason); err != nil {
				logger.Warnw("order_flag_failed", "order_id", order.ID, "error", err)
				continue
			}
			flagged++
			logger.Infow("order_flagged_overdue",
				"order_id", order.ID,
				"order_no", order.OrderNo,
				"status", order.Status.String(),
				"reason", check.reason,
			)
		}
	}
	return flagged, nil
}
