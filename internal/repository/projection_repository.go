package repository

import (
	"context"
	"time"

	"github.com/freight-next/internal/constants"
	"github.com/freight-next/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// DriverDeliverySummary 司机时间窗口内的送达汇总
type DriverDeliverySummary struct {
	DriverID        uint
	DeliveredOrders int
	GrossEarnings   models.Money
}

// ProjectionRepository 收入投影访问接口
type ProjectionRepository interface {
	WithContext(ctx context.Context) ProjectionRepository
	SummarizeDriverEarnings(from, to time.Time) ([]DriverDeliverySummary, error)
	SumPendingPayout(driverID uint) (models.Money, error)
	Upsert(row *models.DriverEarningsProjection) error
	Get(driverID uint, date time.Time) (*models.DriverEarningsProjection, error)
}

// GormProjectionRepository GORM 实现
type GormProjectionRepository struct {
	db *gorm.DB
}

// NewProjectionRepository 创建仓库
func NewProjectionRepository(db *gorm.DB) *GormProjectionRepository {
	return &GormProjectionRepository{db: db}
}

// WithContext 绑定上下文
func (r *GormProjectionRepository) WithContext(ctx context.Context) ProjectionRepository {
	if ctx == nil {
		return r
	}
	return &GormProjectionRepository{db: r.db.WithContext(ctx)}
}

// SummarizeDriverEarnings 按司机汇总窗口内的送达收入流水
func (r *GormProjectionRepository) SummarizeDriverEarnings(from, to time.Time) ([]DriverDeliverySummary, error) {
	type row struct {
		DriverID        uint
		DeliveredOrders int
		GrossEarnings   models.Money
	}
	var rows []row
	if err := r.db.Model(&models.WalletTransaction{}).
		Select("owner_id AS driver_id, COUNT(*) AS delivered_orders, COALESCE(SUM(amount), 0) AS gross_earnings").
		Where("owner_type = ? AND type = ? AND created_at >= ? AND created_at < ?",
			constants.WalletOwnerDriver, constants.WalletTxnTypeDeliveryPayment, from, to).
		Group("owner_id").
		Order("owner_id asc").
		Scan(&rows).Error; err != nil {
		return nil, err
	}
	result := make([]DriverDeliverySummary, 0, len(rows))
	for _, item := range rows {
		result = append(result, DriverDeliverySummary{
			DriverID:        item.DriverID,
			DeliveredOrders: item.DeliveredOrders,
			GrossEarnings:   models.NewMoneyFromDecimal(item.GrossEarnings.Decimal),
		})
	}
	return result, nil
}

// SumPendingPayout 汇总司机尚未结算的送达收入
func (r *GormProjectionRepository) SumPendingPayout(driverID uint) (models.Money, error) {
	var sum models.Money
	row := r.db.Model(&models.WalletTransaction{}).
		Select("COALESCE(SUM(amount), 0)").
		Where("owner_type = ? AND owner_id = ? AND type = ? AND processed = ?",
			constants.WalletOwnerDriver, driverID, constants.WalletTxnTypeDeliveryPayment, false).
		Row()
	if err := row.Scan(&sum); err != nil {
		return models.Money{}, err
	}
	return models.NewMoneyFromDecimal(sum.Decimal), nil
}

// Upsert 写入或覆盖当日投影
func (r *GormProjectionRepository) Upsert(row *models.DriverEarningsProjection) error {
	return r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "driver_id"}, {Name: "projection_date"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"delivered_orders", "gross_earnings", "wallet_balance", "pending_payout", "updated_at",
		}),
	}).Create(row).Error
}

// Get 获取司机某日投影
func (r *GormProjectionRepository) Get(driverID uint, date time.Time) (*models.DriverEarningsProjection, error) {
	var rows []models.DriverEarningsProjection
	if err := r.db.Where("driver_id = ? AND projection_date = ?", driverID, date).Limit(1).Find(&rows).Error; err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}
