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

// PayoutRepository 司机结算数据访问接口
type PayoutRepository interface {
	Transaction(ctx context.Context, fn func(tx *gorm.DB) error) error
	WithTx(tx *gorm.DB) PayoutRepository
	WithContext(ctx context.Context) PayoutRepository

	GetActiveAccount(driverID uint) (*models.DriverPayoutAccount, error)

	CreatePayout(payout *models.DriverPayout) error
	GetPayoutByID(id uint) (*models.DriverPayout, error)
	GetPayoutByIDForUpdate(id uint) (*models.DriverPayout, error)
	UpdatePayout(id uint, updates map[string]interface{}) error
	FindPayoutInCycle(driverID uint, cycleKey string, statuses []string) (*models.DriverPayout, error)
	CountAttempts(driverID uint, cycleKey string) (int64, error)
	ListPayouts(filter PayoutListFilter) ([]models.DriverPayout, int64, error)
	ListFailedSince(since time.Time) ([]models.DriverPayout, error)
	ListPendingBefore(before time.Time) ([]models.DriverPayout, error)
	CreatePayoutOrders(rows []models.DriverPayoutOrder) error

	GetOrCreateSchedule(date time.Time) (*models.DriverWithdrawalSchedule, error)
	GetScheduleByIDForUpdate(id uint) (*models.DriverWithdrawalSchedule, error)
	UpdateSchedule(id uint, updates map[string]interface{}) error
	ListScheduleTransactions(scheduleID uint) ([]models.WalletTransaction, error)
}

// GormPayoutRepository GORM 实现
type GormPayoutRepository struct {
	db *gorm.DB
}

// NewPayoutRepository 创建结算仓库
func NewPayoutRepository(db *gorm.DB) *GormPayoutRepository {
	return &GormPayoutRepository{db: db}
}

// Transaction 开启事务
func (r *GormPayoutRepository) Transaction(ctx context.Context, fn func(tx *gorm.DB) error) error {
	if fn == nil {
		return nil
	}
	return r.db.WithContext(ctx).Transaction(fn)
}

// WithTx 绑定事务
func (r *GormPayoutRepository) WithTx(tx *gorm.DB) PayoutRepository {
	if tx == nil {
		return r
	}
	return &GormPayoutRepository{db: tx}
}

// WithContext 绑定上下文
func (r *GormPayoutRepository) WithContext(ctx context.Context) PayoutRepository {
	if ctx == nil {
		return r
	}
	return &GormPayoutRepository{db: r.db.WithContext(ctx)}
}

// GetActiveAccount 获取司机生效的外部收款账户
func (r *GormPayoutRepository) GetActiveAccount(driverID uint) (*models.DriverPayoutAccount, error) {
	if driverID == 0 {
		return nil, nil
	}
	var account models.DriverPayoutAccount
	if err := r.db.Where("driver_id = ? AND active = ?", driverID, true).First(&account).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &account, nil
}

// CreatePayout 创建结算单
func (r *GormPayoutRepository) CreatePayout(payout *models.DriverPayout) error {
	return r.db.Create(payout).Error
}

// GetPayoutByID 获取结算单（含订单明细）
func (r *GormPayoutRepository) GetPayoutByID(id uint) (*models.DriverPayout, error) {
	return r.firstPayout(r.db.Preload("Orders"), id)
}

// GetPayoutByIDForUpdate 加锁获取结算单
func (r *GormPayoutRepository) GetPayoutByIDForUpdate(id uint) (*models.DriverPayout, error) {
	return r.firstPayout(r.db.Clauses(clause.Locking{Strength: "UPDATE"}), id)
}

func (r *GormPayoutRepository) firstPayout(query *gorm.DB, id uint) (*models.DriverPayout, error) {
	if id == 0 {
		return nil, nil
	}
	var payout models.DriverPayout
	if err := query.First(&payout, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &payout, nil
}

// UpdatePayout 更新结算单
func (r *GormPayoutRepository) UpdatePayout(id uint, updates map[string]interface{}) error {
	if len(updates) == 0 {
		return nil
	}
	return r.db.Model(&models.DriverPayout{}).Where("id = ?", id).Updates(updates).Error
}

// FindPayoutInCycle 查询司机在结算周期内指定状态的最新结算单
func (r *GormPayoutRepository) FindPayoutInCycle(driverID uint, cycleKey string, statuses []string) (*models.DriverPayout, error) {
	query := r.db.Where("driver_id = ? AND cycle_key = ?", driverID, cycleKey)
	if len(statuses) > 0 {
		query = query.Where("status IN ?", statuses)
	}
	var payout models.DriverPayout
	if err := query.Order("id desc").First(&payout).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &payout, nil
}

// CountAttempts 统计司机在结算周期内的尝试次数
func (r *GormPayoutRepository) CountAttempts(driverID uint, cycleKey string) (int64, error) {
	var count int64
	if err := r.db.Model(&models.DriverPayout{}).
		Where("driver_id = ? AND cycle_key = ?", driverID, cycleKey).
		Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

// ListPayouts 分页查询结算单
func (r *GormPayoutRepository) ListPayouts(filter PayoutListFilter) ([]models.DriverPayout, int64, error) {
	query := r.db.Model(&models.DriverPayout{})
	if filter.DriverID != 0 {
		query = query.Where("driver_id = ?", filter.DriverID)
	}
	if filter.CycleKey != "" {
		query = query.Where("cycle_key = ?", filter.CycleKey)
	}
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}
	if filter.CreatedFrom != nil {
		query = query.Where("created_at >= ?", *filter.CreatedFrom)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	query = applyPagination(query, filter.Page, filter.PageSize)

	var payouts []models.DriverPayout
	if err := query.Order("id desc").Find(&payouts).Error; err != nil {
		return nil, 0, err
	}
	return payouts, total, nil
}

// ListFailedSince 查询回看窗口内失败的结算单
func (r *GormPayoutRepository) ListFailedSince(since time.Time) ([]models.DriverPayout, error) {
	var payouts []models.DriverPayout
	if err := r.db.Where("status = ? AND created_at >= ?", constants.PayoutStatusFailed, since).
		Order("id asc").
		Find(&payouts).Error; err != nil {
		return nil, err
	}
	return payouts, nil
}

// ListPendingBefore 查询长时间停留在处理中的结算单
func (r *GormPayoutRepository) ListPendingBefore(before time.Time) ([]models.DriverPayout, error) {
	var payouts []models.DriverPayout
	if err := r.db.Where("status = ? AND method = ? AND created_at < ?",
		constants.PayoutStatusPending, constants.PayoutMethodExternal, before).
		Order("id asc").
		Find(&payouts).Error; err != nil {
		return nil, err
	}
	return payouts, nil
}

// CreatePayoutOrders 批量写入结算订单明细
func (r *GormPayoutRepository) CreatePayoutOrders(rows []models.DriverPayoutOrder) error {
	if len(rows) == 0 {
		return nil
	}
	return r.db.Create(&rows).Error
}

// GetOrCreateSchedule 获取或创建当日人工提现批次
func (r *GormPayoutRepository) GetOrCreateSchedule(date time.Time) (*models.DriverWithdrawalSchedule, error) {
	now := time.Now()
	schedule := &models.DriverWithdrawalSchedule{
		ScheduledDate: date,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "scheduled_date"}},
		DoNothing: true,
	}).Create(schedule).Error; err != nil {
		return nil, err
	}
	var existing models.DriverWithdrawalSchedule
	if err := r.db.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("scheduled_date = ?", date).
		First(&existing).Error; err != nil {
		return nil, err
	}
	return &existing, nil
}

// GetScheduleByIDForUpdate 加锁获取提现批次
func (r *GormPayoutRepository) GetScheduleByIDForUpdate(id uint) (*models.DriverWithdrawalSchedule, error) {
	if id == 0 {
		return nil, nil
	}
	var schedule models.DriverWithdrawalSchedule
	if err := r.db.Clauses(clause.Locking{Strength: "UPDATE"}).First(&schedule, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &schedule, nil
}

// UpdateSchedule 更新提现批次
func (r *GormPayoutRepository) UpdateSchedule(id uint, updates map[string]interface{}) error {
	if len(updates) == 0 {
		return nil
	}
	return r.db.Model(&models.DriverWithdrawalSchedule{}).Where("id = ?", id).Updates(updates).Error
}

// ListScheduleTransactions 查询批次内的出账流水
func (r *GormPayoutRepository) ListScheduleTransactions(scheduleID uint) ([]models.WalletTransaction, error) {
	var txns []models.WalletTransaction
	if err := r.db.Where("withdrawal_schedule_id = ? AND type = ?", scheduleID, constants.WalletTxnTypeWithdrawal).
		Order("owner_id asc, id asc").
		Find(&txns).Error; err != nil {
		return nil, err
	}
	return txns, nil
}
