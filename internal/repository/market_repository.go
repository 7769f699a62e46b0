package repository

import (
	"context"
	"errors"

	"github.com/freight-next/internal/models"

	"gorm.io/gorm"
)

// MarketRepository 车辆与调度协议只读访问（由外部模块维护）
type MarketRepository interface {
	WithTx(tx *gorm.DB) MarketRepository
	WithContext(ctx context.Context) MarketRepository

	GetTruck(id uint) (*models.Truck, error)
	GetActiveAgreement(dispatcherID, driverID uint) (*models.DispatcherAgreement, error)
}

// GormMarketRepository GORM 实现
type GormMarketRepository struct {
	db *gorm.DB
}

// NewMarketRepository 创建仓库
func NewMarketRepository(db *gorm.DB) *GormMarketRepository {
	return &GormMarketRepository{db: db}
}

// WithTx 绑定事务
func (r *GormMarketRepository) WithTx(tx *gorm.DB) MarketRepository {
	if tx == nil {
		return r
	}
	return &GormMarketRepository{db: tx}
}

// WithContext 绑定上下文
func (r *GormMarketRepository) WithContext(ctx context.Context) MarketRepository {
	if ctx == nil {
		return r
	}
	return &GormMarketRepository{db: r.db.WithContext(ctx)}
}

// GetTruck 获取车辆
func (r *GormMarketRepository) GetTruck(id uint) (*models.Truck, error) {
	if id == 0 {
		return nil, nil
	}
	var truck models.Truck
	if err := r.db.First(&truck, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &truck, nil
}

// GetActiveAgreement 获取调度员与司机之间生效的协议
func (r *GormMarketRepository) GetActiveAgreement(dispatcherID, driverID uint) (*models.DispatcherAgreement, error) {
	if dispatcherID == 0 || driverID == 0 {
		return nil, nil
	}
	var agreement models.DispatcherAgreement
	if err := r.db.Where("dispatcher_id = ? AND driver_id = ? AND active = ?", dispatcherID, driverID, true).
		First(&agreement).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &agreement, nil
}
