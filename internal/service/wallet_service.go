package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/freight-next/internal/constants"
	"github.com/freight-next/internal/models"
	"github.com/freight-next/internal/repository"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

const walletDefaultCurrency = "USD"

// WalletService 钱包账本服务（货主与司机共用）
type WalletService struct {
	walletRepo repository.WalletRepository
	currency   string
}

// WalletEntryInput 入账/出账输入
type WalletEntryInput struct {
	OwnerType      string
	OwnerID        uint
	Amount         decimal.Decimal // 正数，方向由操作决定
	TxnType        string
	RelatedOrderID *uint
	Reference      string
	Remark         string
}

// LedgerCheck 账本对账结果
type LedgerCheck struct {
	WalletID   uint
	Balance    decimal.Decimal
	LedgerSum  decimal.Decimal
	Consistent bool
}

// NewWalletService 创建钱包服务
func NewWalletService(walletRepo repository.WalletRepository, currency string) *WalletService {
	return &WalletService{
		walletRepo: walletRepo,
		currency:   normalizeWalletCurrency(currency),
	}
}

// EnsureWalletExists 获取或创建钱包，并发创建时以唯一索引的胜者为准
func (s *WalletService) EnsureWalletExists(ctx context.Context, ownerType string, ownerID uint) (*models.Wallet, error) {
	if err := validateWalletOwner(ownerType, ownerID); err != nil {
		return nil, err
	}
	repo := s.walletRepo.WithContext(ctx)
	wallet, err := repo.GetWallet(ownerType, ownerID)
	if err != nil {
		return nil, wrapPersistence("query wallet", err)
	}
	if wallet != nil {
		return wallet, nil
	}
	now := time.Now()
	candidate := &models.Wallet{
		OwnerType: ownerType,
		OwnerID:   ownerID,
		Balance:   models.NewMoneyFromDecimal(decimal.Zero),
		Currency:  s.currency,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := repo.CreateWalletIfAbsent(candidate); err != nil {
		return nil, wrapPersistence("create wallet", err)
	}
	wallet, err = repo.GetWallet(ownerType, ownerID)
	if err != nil {
		return nil, wrapPersistence("query wallet", err)
	}
	if wallet == nil {
		return nil, ErrWalletNotFound
	}
	return wallet, nil
}

// GetWallet 查询钱包
func (s *WalletService) GetWallet(ctx context.Context, ownerType string, ownerID uint) (*models.Wallet, error) {
	if err := validateWalletOwner(ownerType, ownerID); err != nil {
		return nil, err
	}
	wallet, err := s.walletRepo.WithContext(ctx).GetWallet(ownerType, ownerID)
	if err != nil {
		return nil, wrapPersistence("query wallet", err)
	}
	if wallet == nil {
		return nil, ErrWalletNotFound
	}
	return wallet, nil
}

// Credit 入账（独立事务），按参考号幂等
func (s *WalletService) Credit(ctx context.Context, input WalletEntryInput) (*models.WalletTransaction, error) {
	var result *models.WalletTransaction
	err := s.walletRepo.Transaction(ctx, func(tx *gorm.DB) error {
		txn, err := s.CreditInTx(tx, input)
		if err != nil {
			return err
		}
		result = txn
		return nil
	})
	if err != nil {
		return nil, wrapPersistence("wallet credit", err)
	}
	return result, nil
}

// Debit 出账（独立事务），余额不足时返回 ErrWalletInsufficientBalance 且余额不变
func (s *WalletService) Debit(ctx context.Context, input WalletEntryInput) (*models.WalletTransaction, error) {
	var result *models.WalletTransaction
	err := s.walletRepo.Transaction(ctx, func(tx *gorm.DB) error {
		txn, err := s.DebitInTx(tx, input)
		if err != nil {
			return err
		}
		result = txn
		return nil
	})
	if err != nil {
		return nil, wrapPersistence("wallet debit", err)
	}
	return result, nil
}

// CreditInTx 在调用方事务内入账
func (s *WalletService) CreditInTx(tx *gorm.DB, input WalletEntryInput) (*models.WalletTransaction, error) {
	amount := input.Amount.Round(2)
	if amount.LessThanOrEqual(decimal.Zero) {
		return nil, ErrAmountInvalid
	}
	return s.applyEntry(tx, input, amount, false)
}

// DebitInTx 在调用方事务内出账
func (s *WalletService) DebitInTx(tx *gorm.DB, input WalletEntryInput) (*models.WalletTransaction, error) {
	amount := input.Amount.Round(2)
	if amount.LessThanOrEqual(decimal.Zero) {
		return nil, ErrAmountInvalid
	}
	return s.applyEntry(tx, input, amount.Neg(), false)
}

// DebitUpTo 在调用方事务内最多扣除 Amount，返回实际扣除额；余额为 0 时不写流水
func (s *WalletService) DebitUpTo(tx *gorm.DB, input WalletEntryInput) (decimal.Decimal, *models.WalletTransaction, error) {
	amount := input.Amount.Round(2)
	if amount.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero, nil, ErrAmountInvalid
	}
	txn, err := s.applyEntry(tx, input, amount.Neg(), true)
	if err != nil {
		return decimal.Zero, nil, err
	}
	if txn == nil {
		return decimal.Zero, nil, nil
	}
	return txn.Amount.Decimal.Abs(), txn, nil
}

// applyEntry 锁定钱包行，追加流水并同步缓存余额
// capped 为 true 时出账额截断到当前余额。
func (s *WalletService) applyEntry(tx *gorm.DB, input WalletEntryInput, delta decimal.Decimal, capped bool) (*models.WalletTransaction, error) {
	if tx == nil {
		return nil, ErrPersistence
	}
	if err := validateWalletOwner(input.OwnerType, input.OwnerID); err != nil {
		return nil, err
	}
	reference := strings.TrimSpace(input.Reference)
	if reference == "" {
		return nil, ErrReferenceRequired
	}
	txnType := strings.TrimSpace(input.TxnType)
	if txnType == "" {
		txnType = constants.WalletTxnTypeAdjustment
	}

	repo := s.walletRepo.WithTx(tx)
	now := time.Now()
	wallet, err := s.ensureWalletForUpdate(repo, input.OwnerType, input.OwnerID, now)
	if err != nil {
		return nil, err
	}

	exists, err := repo.GetTransactionByReference(reference)
	if err != nil {
		return nil, wrapPersistence("query wallet transaction", err)
	}
	if exists != nil {
		if exists.WalletID != wallet.ID {
			return nil, withDetail(ErrConflict, "reference %s belongs to another wallet", reference)
		}
		return exists, nil
	}

	before := wallet.Balance.Decimal.Round(2)
	if capped && delta.IsNegative() && delta.Abs().GreaterThan(before) {
		delta = before.Neg()
	}
	if delta.IsZero() {
		return nil, nil
	}
	after := before.Add(delta).Round(2)
	if after.IsNegative() {
		return nil, ErrWalletInsufficientBalance
	}
	direction := constants.WalletTxnDirectionIn
	if delta.IsNegative() {
		direction = constants.WalletTxnDirectionOut
	}

	txn := &models.WalletTransaction{
		WalletID:       wallet.ID,
		OwnerType:      wallet.OwnerType,
		OwnerID:        wallet.OwnerID,
		Type:           txnType,
		Direction:      direction,
		Amount:         models.NewMoneyFromDecimal(delta),
		BalanceBefore:  models.NewMoneyFromDecimal(before),
		BalanceAfter:   models.NewMoneyFromDecimal(after),
		Currency:       wallet.Currency,
		RelatedOrderID: input.RelatedOrderID,
		Reference:      reference,
		Remark:         cleanWalletRemark(input.Remark, txnType),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := repo.CreateTransaction(txn); err != nil {
		return nil, wrapPersistence("create wallet transaction", err)
	}
	if err := repo.UpdateBalance(wallet.ID, models.NewMoneyFromDecimal(after), now); err != nil {
		return nil, wrapPersistence("update wallet balance", err)
	}
	return txn, nil
}

// GetTransactionHistory 查询钱包流水（默认按时间倒序）
func (s *WalletService) GetTransactionHistory(ctx context.Context, ownerType string, ownerID uint, filter repository.WalletTransactionListFilter) ([]models.WalletTransaction, int64, error) {
	wallet, err := s.GetWallet(ctx, ownerType, ownerID)
	if err != nil {
		return nil, 0, err
	}
	filter.WalletID = wallet.ID
	txns, total, err := s.walletRepo.WithContext(ctx).ListTransactions(filter)
	if err != nil {
		return nil, 0, wrapPersistence("list wallet transactions", err)
	}
	return txns, total, nil
}

// VerifyLedger 重新汇总流水与缓存余额比对
func (s *WalletService) VerifyLedger(ctx context.Context, walletID uint) (*LedgerCheck, error) {
	repo := s.walletRepo.WithContext(ctx)
	wallet, err := repo.GetWalletByID(walletID)
	if err != nil {
		return nil, wrapPersistence("query wallet", err)
	}
	if wallet == nil {
		return nil, ErrWalletNotFound
	}
	sum, err := repo.SumTransactions(walletID)
	if err != nil {
		return nil, wrapPersistence("sum wallet transactions", err)
	}
	balance := wallet.Balance.Decimal.Round(2)
	return &LedgerCheck{
		WalletID:   walletID,
		Balance:    balance,
		LedgerSum:  sum,
		Consistent: balance.Equal(sum),
	}, nil
}

func (s *WalletService) ensureWalletForUpdate(repo repository.WalletRepository, ownerType string, ownerID uint, now time.Time) (*models.Wallet, error) {
	wallet, err := repo.GetWalletForUpdate(ownerType, ownerID)
	if err != nil {
		return nil, wrapPersistence("lock wallet", err)
	}
	if wallet != nil {
		return wallet, nil
	}
	if err := repo.CreateWalletIfAbsent(&models.Wallet{
		OwnerType: ownerType,
		OwnerID:   ownerID,
		Balance:   models.NewMoneyFromDecimal(decimal.Zero),
		Currency:  s.currency,
		CreatedAt: now,
		UpdatedAt: now,
	}); err != nil {
		return nil, wrapPersistence("create wallet", err)
	}
	wallet, err = repo.GetWalletForUpdate(ownerType, ownerID)
	if err != nil {
		return nil, wrapPersistence("lock wallet", err)
	}
	if wallet == nil {
		return nil, ErrWalletNotFound
	}
	return wallet, nil
}

func validateWalletOwner(ownerType string, ownerID uint) error {
	if ownerID == 0 {
		return ErrWalletOwnerInvalid
	}
	switch ownerType {
	case constants.WalletOwnerCargoOwner, constants.WalletOwnerDriver:
		return nil
	default:
		return ErrWalletOwnerInvalid
	}
}

func normalizeWalletCurrency(currency string) string {
	normalized := strings.ToUpper(strings.TrimSpace(currency))
	if normalized == "" {
		return walletDefaultCurrency
	}
	return normalized
}

func cleanWalletRemark(raw string, fallback string) string {
	remark := strings.TrimSpace(raw)
	if remark == "" {
		return fallback
	}
	return remark
}

func buildOrderWalletReference(orderID uint, action string) string {
	action = strings.TrimSpace(action)
	if action == "" {
		action = "wallet"
	}
	return fmt.Sprintf("order:%d:%s", orderID, action)
}

func buildPayoutWalletReference(payoutID uint) string {
	return fmt.Sprintf("payout:%d", payoutID)
}
