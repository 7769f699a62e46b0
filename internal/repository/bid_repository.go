package repository

import (
	"context"
	"errors"
	"time"

	"github.com/freight-next/internal/constants"
	"github.com/freight-next/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// BidRepository 出价数据访问接口
type BidRepository interface {
	WithTx(tx *gorm.DB) BidRepository
	WithContext(ctx context.Context) BidRepository

	Create(bid *models.Bid) error
	GetByID(id uint) (*models.Bid, error)
	GetByIDForUpdate(id uint) (*models.Bid, error)
	GetLiveByOrderAndTruck(orderID, truckID uint) (*models.Bid, error)
	CountAccepted(orderID uint) (int64, error)
	UpdateFields(id uint, updates map[string]interface{}) error
	RejectPendingExcept(orderID, acceptedBidID uint, now time.Time) (int64, error)
	List(filter BidListFilter) ([]models.Bid, int64, error)
}

// GormBidRepository GORM 实现
type GormBidRepository struct {
	db *gorm.DB
}

// NewBidRepository 创建出价仓库
func NewBidRepository(db *gorm.DB) *GormBidRepository {
	return &GormBidRepository{db: db}
}

// WithTx 绑定事务
func (r *GormBidRepository) WithTx(tx *gorm.DB) BidRepository {
	if tx == nil {
		return r
	}
	return &GormBidRepository{db: tx}
}

// WithContext 绑定上下文
func (r *GormBidRepository) WithContext(ctx context.Context) BidRepository {
	if ctx == nil {
		return r
	}
	return &GormBidRepository{db: r.db.WithContext(ctx)}
}

// Create 创建出价
func (r *GormBidRepository) Create(bid *models.Bid) error {
	return r.db.Create(bid).Error
}

// GetByID 获取出价
func (r *GormBidRepository) GetByID(id uint) (*models.Bid, error) {
	return r.first(r.db, id)
}

// GetByIDForUpdate 加锁获取出价
func (r *GormBidRepository) GetByIDForUpdate(id uint) (*models.Bid, error) {
	return r.first(r.db.Clauses(clause.Locking{Strength: "UPDATE"}), id)
}

func (r *GormBidRepository) first(query *gorm.DB, id uint) (*models.Bid, error) {
	if id == 0 {
		return nil, nil
	}
	var bid models.Bid
	if err := query.First(&bid, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &bid, nil
}

// GetLiveByOrderAndTruck 获取车辆在订单上仍有效的出价
func (r *GormBidRepository) GetLiveByOrderAndTruck(orderID, truckID uint) (*models.Bid, error) {
	var bid models.Bid
	err := r.db.Where("order_id = ? AND truck_id = ? AND status IN ?", orderID, truckID,
		[]string{constants.BidStatusPending, constants.BidStatusAccepted}).
		First(&bid).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &bid, nil
}

// CountAccepted 统计订单已中标出价数
func (r *GormBidRepository) CountAccepted(orderID uint) (int64, error) {
	var count int64
	if err := r.db.Model(&models.Bid{}).
		Where("order_id = ? AND status = ?", orderID, constants.BidStatusAccepted).
		Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

// UpdateFields 更新出价字段
func (r *GormBidRepository) UpdateFields(id uint, updates map[string]interface{}) error {
	if len(updates) == 0 {
		return nil
	}
	return r.db.Model(&models.Bid{}).Where("id = ?", id).Updates(updates).Error
}

// RejectPendingExcept 将订单其余待定出价置为落选
func (r *GormBidRepository) RejectPendingExcept(orderID, acceptedBidID uint, now time.Time) (int64, error) {
	result := r.db.Model(&models.Bid{}).
		Where("order_id = ? AND id <> ? AND status = ?", orderID, acceptedBidID, constants.BidStatusPending).
		Updates(map[string]interface{}{
			"status":     constants.BidStatusRejected,
			"updated_at": now,
		})
	return result.RowsAffected, result.Error
}

// List 出价列表
func (r *GormBidRepository) List(filter BidListFilter) ([]models.Bid, int64, error) {
	query := r.db.Model(&models.Bid{})
	if filter.OrderID != 0 {
		query = query.Where("order_id = ?", filter.OrderID)
	}
	if filter.TruckID != 0 {
		query = query.Where("truck_id = ?", filter.TruckID)
	}
	if filter.DriverID != 0 {
		query = query.Where("driver_id = ?", filter.DriverID)
	}
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	query = applyPagination(query, filter.Page, filter.PageSize)

	var bids []models.Bid
	if err := query.Order("amount asc, id asc").Find(&bids).Error; err != nil {
		return nil, 0, err
	}
	return bids, total, nil
}
