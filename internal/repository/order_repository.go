package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/freight-next/internal/constants"
	"github.com/freight-next/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// OrderRepository 货运订单数据访问接口
type OrderRepository interface {
	Transaction(ctx context.Context, fn func(tx *gorm.DB) error) error
	WithTx(tx *gorm.DB) OrderRepository
	WithContext(ctx context.Context) OrderRepository

	Create(order *models.CargoOrder) error
	GetByID(id uint) (*models.CargoOrder, error)
	GetByIDForUpdate(id uint) (*models.CargoOrder, error)
	UpdateFields(id uint, updates map[string]interface{}) error
	List(filter OrderListFilter) ([]models.CargoOrder, int64, error)
	ListOpen(filter OpenOrderFilter) ([]models.CargoOrder, int64, error)
	ListStale(status constants.OrderStatus, timeColumn string, before time.Time) ([]models.CargoOrder, error)
	ListPendingPaymentIntent(limit int) ([]models.CargoOrder, error)

	CreateCancellation(cancellation *models.OrderCancellation) error
	GetCancellationByOrderID(orderID uint) (*models.OrderCancellation, error)
	UpdateCancellation(id uint, updates map[string]interface{}) error
	UpdateCancellationIfRefundStatus(id uint, fromStatus string, updates map[string]interface{}) (bool, error)
	ListCancellationsByRefundStatus(statuses []string, limit int) ([]models.OrderCancellation, error)
}

// GormOrderRepository GORM 实现
type GormOrderRepository struct {
	db *gorm.DB
}

// NewOrderRepository 创建订单仓库
func NewOrderRepository(db *gorm.DB) *GormOrderRepository {
	return &GormOrderRepository{db: db}
}

// Transaction 开启事务
func (r *GormOrderRepository) Transaction(ctx context.Context, fn func(tx *gorm.DB) error) error {
	if fn == nil {
		return nil
	}
	return r.db.WithContext(ctx).Transaction(fn)
}

// WithTx 绑定事务
func (r *GormOrderRepository) WithTx(tx *gorm.DB) OrderRepository {
	if tx == nil {
		return r
	}
	return &GormOrderRepository{db: tx}
}

// WithContext 绑定上下文
func (r *GormOrderRepository) WithContext(ctx context.Context) OrderRepository {
	if ctx == nil {
		return r
	}
	return &GormOrderRepository{db: r.db.WithContext(ctx)}
}

// Create 创建订单
func (r *GormOrderRepository) Create(order *models.CargoOrder) error {
	return r.db.Create(order).Error
}

// GetByID 获取订单
func (r *GormOrderRepository) GetByID(id uint) (*models.CargoOrder, error) {
	return r.first(r.db, id)
}

// GetByIDForUpdate 加锁获取订单
func (r *GormOrderRepository) GetByIDForUpdate(id uint) (*models.CargoOrder, error) {
	return r.first(r.db.Clauses(clause.Locking{Strength: "UPDATE"}), id)
}

func (r *GormOrderRepository) first(query *gorm.DB, id uint) (*models.CargoOrder, error) {
	if id == 0 {
		return nil, nil
	}
	var order models.CargoOrder
	if err := query.First(&order, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &order, nil
}

// UpdateFields 更新订单字段
func (r *GormOrderRepository) UpdateFields(id uint, updates map[string]interface{}) error {
	if len(updates) == 0 {
		return nil
	}
	return r.db.Model(&models.CargoOrder{}).Where("id = ?", id).Updates(updates).Error
}

// List 订单列表
func (r *GormOrderRepository) List(filter OrderListFilter) ([]models.CargoOrder, int64, error) {
	query := r.db.Model(&models.CargoOrder{})
	if filter.CargoOwnerID != 0 {
		query = query.Where("cargo_owner_id = ?", filter.CargoOwnerID)
	}
	if filter.DriverID != 0 {
		query = query.Where("assigned_driver_id = ?", filter.DriverID)
	}
	if len(filter.Statuses) > 0 {
		query = query.Where("status IN ?", filter.Statuses)
	}
	if filter.OnlyFlagged {
		query = query.Where("is_flagged = ?", true)
	}
	if filter.CreatedFrom != nil {
		query = query.Where("created_at >= ?", *filter.CreatedFrom)
	}
	if filter.CreatedTo != nil {
		query = query.Where("created_at <= ?", *filter.CreatedTo)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	query = applyPagination(query, filter.Page, filter.PageSize)

	var orders []models.CargoOrder
	if err := query.Order("id desc").Find(&orders).Error; err != nil {
		return nil, 0, err
	}
	return orders, total, nil
}

// ListOpen 司机侧可竞价订单列表
func (r *GormOrderRepository) ListOpen(filter OpenOrderFilter) ([]models.CargoOrder, int64, error) {
	statuses := filter.Statuses
	if len(statuses) == 0 {
		statuses = []constants.OrderStatus{constants.OrderStatusOpen}
	}
	query := r.db.Model(&models.CargoOrder{}).Where("status IN ?", statuses)
	if truckType := strings.TrimSpace(filter.TruckType); truckType != "" {
		query = query.Where("(required_truck_type = ? OR required_truck_type = '')", truckType)
	}
	if filter.CapacityKg > 0 {
		query = query.Where("cargo_weight_kg <= ?", filter.CapacityKg)
	}
	if location := strings.TrimSpace(filter.Location); location != "" {
		condition, argCount := buildLikeCondition(r.db, []string{"pickup_location", "delivery_location"})
		query = query.Where(condition, repeatLikeArgs("%"+location+"%", argCount)...)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	query = applyPagination(query, filter.Page, filter.PageSize)

	var orders []models.CargoOrder
	if err := query.Order("opened_at desc, id desc").Find(&orders).Error; err != nil {
		return nil, 0, err
	}
	return orders, total, nil
}

// ListStale 查询某状态下时间列早于 before 且未标记的订单
func (r *GormOrderRepository) ListStale(status constants.OrderStatus, timeColumn string, before time.Time) ([]models.CargoOrder, error) {
	switch timeColumn {
	case "selected_at", "picked_up_at", "opened_at", "expected_delivery_at":
	default:
		return nil, errors.New("unsupported stale time column: " + timeColumn)
	}
	var orders []models.CargoOrder
	if err := r.db.Where("status = ? AND is_flagged = ? AND "+timeColumn+" IS NOT NULL AND "+timeColumn+" < ?", status, false, before).
		Order("id asc").
		Find(&orders).Error; err != nil {
		return nil, err
	}
	return orders, nil
}

// ListPendingPaymentIntent 查询已选标但外部支付意图缺失的订单
func (r *GormOrderRepository) ListPendingPaymentIntent(limit int) ([]models.CargoOrder, error) {
	query := r.db.Where("status NOT IN ? AND external_payment_amount > 0 AND (payment_intent_id IS NULL OR payment_intent_id = '')",
		[]constants.OrderStatus{constants.OrderStatusDraft, constants.OrderStatusOpen, constants.OrderStatusCancelled}).
		Order("id asc")
	if limit > 0 {
		query = query.Limit(limit)
	}
	var orders []models.CargoOrder
	if err := query.Find(&orders).Error; err != nil {
		return nil, err
	}
	return orders, nil
}

// CreateCancellation 创建取消记录
func (r *GormOrderRepository) CreateCancellation(cancellation *models.OrderCancellation) error {
	return r.db.Create(cancellation).Error
}

// GetCancellationByOrderID 获取订单取消记录
func (r *GormOrderRepository) GetCancellationByOrderID(orderID uint) (*models.OrderCancellation, error) {
	if orderID == 0 {
		return nil, nil
	}
	var cancellation models.OrderCancellation
	if err := r.db.Where("order_id = ?", orderID).First(&cancellation).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &cancellation, nil
}

// UpdateCancellation 更新取消记录
func (r *GormOrderRepository) UpdateCancellation(id uint, updates map[string]interface{}) error {
	if len(updates) == 0 {
		return nil
	}
	return r.db.Model(&models.OrderCancellation{}).Where("id = ?", id).Updates(updates).Error
}

// UpdateCancellationIfRefundStatus 仅当外部退款状态仍为 fromStatus 时更新
func (r *GormOrderRepository) UpdateCancellationIfRefundStatus(id uint, fromStatus string, updates map[string]interface{}) (bool, error) {
	result := r.db.Model(&models.OrderCancellation{}).
		Where("id = ? AND external_refund_status = ?", id, fromStatus).
		Updates(updates)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// ListCancellationsByRefundStatus 按外部退款状态查询取消记录
func (r *GormOrderRepository) ListCancellationsByRefundStatus(statuses []string, limit int) ([]models.OrderCancellation, error) {
	if len(statuses) == 0 {
		return []models.OrderCancellation{}, nil
	}
	query := r.db.Where("external_refund_status IN ?", statuses).Order("id asc")
	if limit > 0 {
		query = query.Limit(limit)
	}
	var rows []models.OrderCancellation
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}
