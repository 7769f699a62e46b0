package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/freight-next/internal/models"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// WalletRepository 钱包数据访问接口
type WalletRepository interface {
	Transaction(ctx context.Context, fn func(tx *gorm.DB) error) error
	WithTx(tx *gorm.DB) WalletRepository
	WithContext(ctx context.Context) WalletRepository

	GetWallet(ownerType string, ownerID uint) (*models.Wallet, error)
	GetWalletForUpdate(ownerType string, ownerID uint) (*models.Wallet, error)
	GetWalletByID(id uint) (*models.Wallet, error)
	CreateWalletIfAbsent(wallet *models.Wallet) error
	UpdateBalance(walletID uint, balance models.Money, updatedAt time.Time) error
	ListWalletsAtLeast(ownerType string, threshold decimal.Decimal) ([]models.Wallet, error)

	CreateTransaction(txn *models.WalletTransaction) error
	GetTransactionByReference(reference string) (*models.WalletTransaction, error)
	ListTransactions(filter WalletTransactionListFilter) ([]models.WalletTransaction, int64, error)
	SumTransactions(walletID uint) (decimal.Decimal, error)
	GetLatestTransaction(walletID uint) (*models.WalletTransaction, error)
	ListUnprocessedCredits(walletID uint, txnType string, upToID uint) ([]models.WalletTransaction, error)
	MarkTransactionsProcessed(ids []uint, processedBy string, processedAt time.Time, scheduleID *uint) error
}

// GormWalletRepository GORM 钱包仓储实现
type GormWalletRepository struct {
	db *gorm.DB
}

// NewWalletRepository 创建钱包仓储
func NewWalletRepository(db *gorm.DB) *GormWalletRepository {
	return &GormWalletRepository{db: db}
}

// Transaction 开启事务
func (r *GormWalletRepository) Transaction(ctx context.Context, fn func(tx *gorm.DB) error) error {
	if fn == nil {
		return nil
	}
	return r.db.WithContext(ctx).Transaction(fn)
}

// WithTx 绑定事务
func (r *GormWalletRepository) WithTx(tx *gorm.DB) WalletRepository {
	if tx == nil {
		return r
	}
	return &GormWalletRepository{db: tx}
}

// WithContext 绑定上下文
func (r *GormWalletRepository) WithContext(ctx context.Context) WalletRepository {
	if ctx == nil {
		return r
	}
	return &GormWalletRepository{db: r.db.WithContext(ctx)}
}

// GetWallet 按所有者获取钱包
func (r *GormWalletRepository) GetWallet(ownerType string, ownerID uint) (*models.Wallet, error) {
	return r.findWallet(r.db, ownerType, ownerID)
}

// GetWalletForUpdate 按所有者加锁获取钱包
func (r *GormWalletRepository) GetWalletForUpdate(ownerType string, ownerID uint) (*models.Wallet, error) {
	return r.findWallet(r.db.Clauses(clause.Locking{Strength: "UPDATE"}), ownerType, ownerID)
}

func (r *GormWalletRepository) findWallet(query *gorm.DB, ownerType string, ownerID uint) (*models.Wallet, error) {
	if ownerID == 0 || strings.TrimSpace(ownerType) == "" {
		return nil, nil
	}
	var wallet models.Wallet
	if err := query.Where("owner_type = ? AND owner_id = ?", ownerType, ownerID).First(&wallet).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &wallet, nil
}

// GetWalletByID 按ID获取钱包
func (r *GormWalletRepository) GetWalletByID(id uint) (*models.Wallet, error) {
	if id == 0 {
		return nil, nil
	}
	var wallet models.Wallet
	if err := r.db.First(&wallet, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &wallet, nil
}

// CreateWalletIfAbsent 创建钱包，唯一键冲突时静默跳过
func (r *GormWalletRepository) CreateWalletIfAbsent(wallet *models.Wallet) error {
	return r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "owner_type"}, {Name: "owner_id"}},
		DoNothing: true,
	}).Create(wallet).Error
}

// UpdateBalance 更新缓存余额
func (r *GormWalletRepository) UpdateBalance(walletID uint, balance models.Money, updatedAt time.Time) error {
	return r.db.Model(&models.Wallet{}).Where("id = ?", walletID).Updates(map[string]interface{}{
		"balance":    balance,
		"updated_at": updatedAt,
	}).Error
}

// ListWalletsAtLeast 查询余额不低于阈值的钱包
func (r *GormWalletRepository) ListWalletsAtLeast(ownerType string, threshold decimal.Decimal) ([]models.Wallet, error) {
	var wallets []models.Wallet
	if err := r.db.Where("owner_type = ? AND balance >= ? AND balance > 0", ownerType, models.NewMoneyFromDecimal(threshold)).
		Order("owner_id asc").
		Find(&wallets).Error; err != nil {
		return nil, err
	}
	return wallets, nil
}

// CreateTransaction 创建钱包流水
func (r *GormWalletRepository) CreateTransaction(txn *models.WalletTransaction) error {
	return r.db.Create(txn).Error
}

// GetTransactionByReference 按参考号获取流水
func (r *GormWalletRepository) GetTransactionByReference(reference string) (*models.WalletTransaction, error) {
	reference = strings.TrimSpace(reference)
	if reference == "" {
		return nil, nil
	}
	var txn models.WalletTransaction
	if err := r.db.Where("reference = ?", reference).First(&txn).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &txn, nil
}

// ListTransactions 分页查询钱包流水
func (r *GormWalletRepository) ListTransactions(filter WalletTransactionListFilter) ([]models.WalletTransaction, int64, error) {
	query := r.db.Model(&models.WalletTransaction{})
	if filter.WalletID != 0 {
		query = query.Where("wallet_id = ?", filter.WalletID)
	}
	if filter.OrderID != 0 {
		query = query.Where("related_order_id = ?", filter.OrderID)
	}
	if filter.Type != "" {
		query = query.Where("type = ?", filter.Type)
	}
	if filter.Direction != "" {
		query = query.Where("direction = ?", filter.Direction)
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
	order := "created_at desc, id desc"
	if filter.Ascending {
		order = "created_at asc, id asc"
	}

	var txns []models.WalletTransaction
	if err := query.Order(order).Find(&txns).Error; err != nil {
		return nil, 0, err
	}
	return txns, total, nil
}

// SumTransactions 汇总钱包全部流水金额（对账用）
func (r *GormWalletRepository) SumTransactions(walletID uint) (decimal.Decimal, error) {
	var sum models.Money
	row := r.db.Model(&models.WalletTransaction{}).
		Select("COALESCE(SUM(amount), 0)").
		Where("wallet_id = ?", walletID).
		Row()
	if err := row.Scan(&sum); err != nil {
		return decimal.Zero, err
	}
	return sum.Decimal.Round(2), nil
}

// GetLatestTransaction 钱包最新一条流水，BalanceAfter 即当时余额
func (r *GormWalletRepository) GetLatestTransaction(walletID uint) (*models.WalletTransaction, error) {
	var txn models.WalletTransaction
	if err := r.db.Where("wallet_id = ?", walletID).Order("id desc").First(&txn).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &txn, nil
}

// ListUnprocessedCredits 查询尚未结算的入账流水，upToID 非 0 时只取该流水及之前的记录
func (r *GormWalletRepository) ListUnprocessedCredits(walletID uint, txnType string, upToID uint) ([]models.WalletTransaction, error) {
	query := r.db.Where("wallet_id = ? AND processed = ? AND amount > 0", walletID, false)
	if upToID != 0 {
		query = query.Where("id <= ?", upToID)
	}
	if txnType != "" {
		query = query.Where("type = ?", txnType)
	}
	var txns []models.WalletTransaction
	if err := query.Order("id asc").Find(&txns).Error; err != nil {
		return nil, err
	}
	return txns, nil
}

// MarkTransactionsProcessed 标记流水已结算，可同时挂入提现批次
func (r *GormWalletRepository) MarkTransactionsProcessed(ids []uint, processedBy string, processedAt time.Time, scheduleID *uint) error {
	if len(ids) == 0 {
		return nil
	}
	updates := map[string]interface{}{
		"processed":    true,
		"processed_by": processedBy,
		"processed_at": processedAt,
		"updated_at":   processedAt,
	}
	if scheduleID != nil {
		updates["withdrawal_schedule_id"] = *scheduleID
	}
	return r.db.Model(&models.WalletTransaction{}).
		Where("id IN ? AND processed = ?", ids, false).
		Updates(updates).Error
}
