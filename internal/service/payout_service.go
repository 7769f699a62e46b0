package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/freight-next/internal/config"
	"github.com/freight-next/internal/constants"
	"github.com/freight-next/internal/logger"
	"github.com/freight-next/internal/models"
	"github.com/freight-next/internal/payment"
	"github.com/freight-next/internal/repository"

	"github.com/google/uuid"
	"github.com/jinzhu/now"
	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

// payoutKeyNamespace 结算幂等键命名空间
var payoutKeyNamespace = uuid.MustParse("6f1c3b2e-8a4d-5e7f-9b10-2c3d4e5f6a7b")

var weekConfig = &now.Config{WeekStartDay: time.Monday, TimeLocation: time.UTC}

const (
	maxPayoutReasonLength = 500
	defaultPayoutWorkers  = 4
)

// PayoutSettings 结算参数
type PayoutSettings struct {
	Threshold     decimal.Decimal
	Currency      string
	RetryLookback time.Duration
	Concurrency   int
	InFlightGrace time.Duration
}

// PayoutSettingsFromConfig 从配置构造结算参数
func PayoutSettingsFromConfig(cfg config.PayoutConfig) PayoutSettings {
	threshold, err := decimal.NewFromString(strings.TrimSpace(cfg.Threshold))
	if err != nil || threshold.IsNegative() {
		threshold = decimal.NewFromInt(50)
	}
	lookbackDays := cfg.RetryLookbackDays
	if lookbackDays <= 0 {
		lookbackDays = 7
	}
	graceMinutes := cfg.InFlightGraceMinutes
	if graceMinutes <= 0 {
		graceMinutes = 30
	}
	return PayoutSettings{
		Threshold:     threshold.Round(2),
		Currency:      normalizeWalletCurrency(cfg.Currency),
		RetryLookback: time.Duration(lookbackDays) * 24 * time.Hour,
		Concurrency:   cfg.Concurrency,
		InFlightGrace: time.Duration(graceMinutes) * time.Minute,
	}
}

// DriverPayoutResult 单个司机的结算结果
type DriverPayoutResult struct {
	DriverID uint
	PayoutID uint
	Amount   decimal.Decimal
	Method   string
	Status   string
	Skipped  bool
	Err      error
}

// PayoutBatchSummary 批量结算汇总
type PayoutBatchSummary struct {
	CycleKey    string
	Eligible    int
	Succeeded   int
	Failed      int
	Skipped     int
	Reconciled  int
	TotalPaid   decimal.Decimal
	TotalFailed decimal.Decimal
	Results     []DriverPayoutResult
	Errors      map[uint]string
}

func newPayoutBatchSummary(cycleKey string) *PayoutBatchSummary {
	return &PayoutBatchSummary{
		CycleKey:    cycleKey,
		TotalPaid:   decimal.Zero,
		TotalFailed: decimal.Zero,
		Errors:      map[uint]string{},
	}
}

func (s *PayoutBatchSummary) add(result DriverPayoutResult) {
	s.Results = append(s.Results, result)
	switch {
	case result.Skipped:
		s.Skipped++
	case result.Err != nil:
		s.Failed++
		s.TotalFailed = s.TotalFailed.Add(result.Amount)
		s.Errors[result.DriverID] = result.Err.Error()
	case result.Status == constants.PayoutStatusCompleted:
		s.Succeeded++
		s.TotalPaid = s.TotalPaid.Add(result.Amount)
	default:
		// 外部转账处理中，等待对账
		s.Skipped++
	}
}

// PayoutService 司机结算服务
type PayoutService struct {
	payoutRepo repository.PayoutRepository
	walletRepo repository.WalletRepository
	walletSvc  *WalletService
	processor  payment.Processor
	notifier   Notifier
	settings   PayoutSettings
	clock      func() time.Time
}

// NewPayoutService 创建结算服务
func NewPayoutService(
	payoutRepo repository.PayoutRepository,
	walletRepo repository.WalletRepository,
	walletSvc *WalletService,
	processor payment.Processor,
	notifier Notifier,
	settings PayoutSettings,
) *PayoutService {
	if notifier == nil {
		notifier = LogNotifier{}
	}
	return &PayoutService{
		payoutRepo: payoutRepo,
		walletRepo: walletRepo,
		walletSvc:  walletSvc,
		processor:  processor,
		notifier:   notifier,
		settings:   settings,
		clock:      time.Now,
	}
}

// CycleKeyFor 结算周期键（ISO 周，UTC）
func CycleKeyFor(t time.Time) string {
	start := weekConfig.With(t.UTC()).BeginningOfWeek()
	year, week := start.ISOWeek()
	return fmt.Sprintf("%d-W%02d", year, week)
}

func payoutIdempotencyKey(driverID uint, cycleKey string, attempt int64) string {
	name := fmt.Sprintf("payout:%d:%s:%d", driverID, cycleKey, attempt)
	return uuid.NewSHA1(payoutKeyNamespace, []byte(name)).String()
}

// ProcessWeeklyPayouts 批量结算达到门槛的司机余额，单个司机失败不影响其他司机
func (s *PayoutService) ProcessWeeklyPayouts(ctx context.Context, processedBy string) (*PayoutBatchSummary, error) {
	cycleKey := CycleKeyFor(s.clock())
	summary := newPayoutBatchSummary(cycleKey)

	wallets, err := s.walletRepo.WithContext(ctx).ListWalletsAtLeast(constants.WalletOwnerDriver, s.settings.Threshold)
	if err != nil {
		return summary, wrapPersistence("list payout wallets", err)
	}
	summary.Eligible = len(wallets)
	if len(wallets) == 0 {
		return summary, nil
	}

	results := make([]DriverPayoutResult, len(wallets))
	limit := s.settings.Concurrency
	if limit <= 0 {
		limit = defaultPayoutWorkers
	}
	var g errgroup.Group
	g.SetLimit(limit)
	for i := range wallets {
		i := i
		driverID := wallets[i].OwnerID
		g.Go(func() error {
			results[i] = s.processDriverSafely(ctx, driverID, processedBy)
			return nil
		})
	}
	_ = g.Wait()

	for _, result := range results {
		summary.add(result)
	}
	logger.Infow("payout_batch_finished",
		"cycle_key", cycleKey,
		"eligible", summary.Eligible,
		"succeeded", summary.Succeeded,
		"failed", summary.Failed,
		"skipped", summary.Skipped,
		"total_paid", summary.TotalPaid.StringFixed(2),
	)
	return summary, nil
}

func (s *PayoutService) processDriverSafely(ctx context.Context, driverID uint, processedBy string) (result DriverPayoutResult) {
	result.DriverID = driverID
	defer func() {
		if r := recover(); r != nil {
			logger.Errorw("payout_driver_panic", "driver_id", driverID, "panic", r)
			result.Err = fmt.Errorf("payout panic: %v", r)
		}
	}()
	payout, err := s.ProcessDriverPayout(ctx, driverID, processedBy, false)
	if payout != nil {
		result.PayoutID = payout.ID
		result.Amount = payout.Amount.Decimal
		result.Method = payout.Method
		result.Status = payout.Status
	}
	if err != nil {
		if errors.Is(err, ErrPayoutAlreadyCompleted) || errors.Is(err, ErrPayoutInFlight) || errors.Is(err, ErrBelowPayoutThreshold) {
			result.Skipped = true
			return result
		}
		result.Err = err
		logger.Warnw("payout_driver_failed", "driver_id", driverID, "error", err)
	}
	return result
}

// ProcessDriverPayout 结算单个司机：有外部账户走转账，否则进入人工提现批次
// forceProcess 跳过门槛与本周期已结算检查，但不跳过余额检查。
func (s *PayoutService) ProcessDriverPayout(ctx context.Context, driverID uint, processedBy string, forceProcess bool) (*models.DriverPayout, error) {
	if driverID == 0 {
		return nil, ErrWalletOwnerInvalid
	}
	processedBy = normalizeProcessedBy(processedBy)
	cycleKey := CycleKeyFor(s.clock())
	repo := s.payoutRepo.WithContext(ctx)

	inFlight, err := repo.FindPayoutInCycle(driverID, cycleKey, []string{constants.PayoutStatusPending})
	if err != nil {
		return nil, wrapPersistence("query pending payout", err)
	}
	if inFlight != nil {
		return inFlight, withDetail(ErrPayoutInFlight, "payout %d for driver %d", inFlight.ID, driverID)
	}
	if !forceProcess {
		completed, err := repo.FindPayoutInCycle(driverID, cycleKey, []string{constants.PayoutStatusCompleted})
		if err != nil {
			return nil, wrapPersistence("query completed payout", err)
		}
		if completed != nil {
			return completed, ErrPayoutAlreadyCompleted
		}
	}

	amount, mark, err := s.payableAmount(ctx, driverID, forceProcess)
	if err != nil {
		return nil, err
	}
	return s.attemptPayout(ctx, payoutAttempt{
		driverID:    driverID,
		cycleKey:    cycleKey,
		amount:      amount,
		ledgerMark:  mark,
		processedBy: processedBy,
	})
}

// payableAmount 以最新流水的 BalanceAfter 作为结算金额，并返回该流水ID作为对账水位
// 水位之后入账的收入不属于本次结算。
func (s *PayoutService) payableAmount(ctx context.Context, driverID uint, forceProcess bool) (decimal.Decimal, uint, error) {
	repo := s.walletRepo.WithContext(ctx)
	wallet, err := repo.GetWallet(constants.WalletOwnerDriver, driverID)
	if err != nil {
		return decimal.Zero, 0, wrapPersistence("query driver wallet", err)
	}
	if wallet == nil {
		return decimal.Zero, 0, ErrWalletNotFound
	}
	latest, err := repo.GetLatestTransaction(wallet.ID)
	if err != nil {
		return decimal.Zero, 0, wrapPersistence("query latest wallet transaction", err)
	}
	if latest == nil {
		return decimal.Zero, 0, ErrBelowPayoutThreshold
	}
	amount := latest.BalanceAfter.Decimal.Round(2)
	if !amount.IsPositive() {
		return decimal.Zero, 0, ErrBelowPayoutThreshold
	}
	if !forceProcess && amount.LessThan(s.settings.Threshold) {
		return decimal.Zero, 0, ErrBelowPayoutThreshold
	}
	return amount, latest.ID, nil
}

type payoutAttempt struct {
	driverID    uint
	cycleKey    string
	amount      decimal.Decimal
	ledgerMark  uint
	processedBy string
	retryOf     *models.DriverPayout
}

func (s *PayoutService) attemptPayout(ctx context.Context, attempt payoutAttempt) (*models.DriverPayout, error) {
	account, err := s.payoutRepo.WithContext(ctx).GetActiveAccount(attempt.driverID)
	if err != nil {
		return nil, wrapPersistence("query payout account", err)
	}
	if account == nil {
		return s.manualPayout(ctx, attempt)
	}
	return s.externalPayout(ctx, attempt, account)
}

// createAttempt 写入新的结算单；重试时同一事务内将旧失败单置为已取消
func (s *PayoutService) createAttempt(tx *gorm.DB, attempt payoutAttempt, method string) (*models.DriverPayout, error) {
	repo := s.payoutRepo.WithTx(tx)
	count, err := repo.CountAttempts(attempt.driverID, attempt.cycleKey)
	if err != nil {
		return nil, wrapPersistence("count payout attempts", err)
	}
	nowAt := s.clock()
	payout := &models.DriverPayout{
		DriverID:       attempt.driverID,
		CycleKey:       attempt.cycleKey,
		Amount:         models.NewMoneyFromDecimal(attempt.amount),
		Currency:       s.settings.Currency,
		Method:         method,
		Status:         constants.PayoutStatusPending,
		IdempotencyKey: payoutIdempotencyKey(attempt.driverID, attempt.cycleKey, count+1),
		AttemptCount:   int(count + 1),
		LedgerMarkID:   attempt.ledgerMark,
		ProcessedBy:    attempt.processedBy,
		CreatedAt:      nowAt,
		UpdatedAt:      nowAt,
	}
	if attempt.retryOf != nil {
		retryOfID := attempt.retryOf.ID
		payout.RetryOfID = &retryOfID
		locked, err := repo.GetPayoutByIDForUpdate(retryOfID)
		if err != nil {
			return nil, wrapPersistence("lock failed payout", err)
		}
		if locked == nil || locked.Status != constants.PayoutStatusFailed {
			return nil, ErrPayoutNotRetryable
		}
		if err := repo.UpdatePayout(retryOfID, map[string]interface{}{
			"status":     constants.PayoutStatusCancelled,
			"updated_at": nowAt,
		}); err != nil {
			return nil, wrapPersistence("cancel superseded payout", err)
		}
	}
	if err := repo.CreatePayout(payout); err != nil {
		return nil, wrapPersistence("create payout", err)
	}
	return payout, nil
}

func (s *PayoutService) externalPayout(ctx context.Context, attempt payoutAttempt, account *models.DriverPayoutAccount) (*models.DriverPayout, error) {
	var payout *models.DriverPayout
	if err := s.payoutRepo.Transaction(ctx, func(tx *gorm.DB) error {
		created, err := s.createAttempt(tx, attempt, constants.PayoutMethodExternal)
		if err != nil {
			return err
		}
		payout = created
		return nil
	}); err != nil {
		return nil, err
	}

	if s.processor == nil {
		return s.failPayout(ctx, payout, wrapExternal("create transfer", errProcessorMissing))
	}
	result, err := s.processor.CreateTransfer(ctx, payment.TransferRequest{
		DriverID:          attempt.driverID,
		ExternalAccountID: account.ExternalAccountID,
		Amount:            attempt.amount,
		Currency:          s.settings.Currency,
		IdempotencyKey:    payout.IdempotencyKey,
		Description:       "driver payout " + attempt.cycleKey,
	})
	if err != nil {
		return s.failPayout(ctx, payout, wrapExternal("create transfer", err))
	}
	switch result.Status {
	case payment.TransferStatusFailed:
		return s.failPayout(ctx, payout, withDetail(ErrPaymentProviderFailed, "transfer %s failed", result.TransferID))
	case payment.TransferStatusPending:
		if err := s.payoutRepo.WithContext(ctx).UpdatePayout(payout.ID, map[string]interface{}{
			"external_transfer_id": result.TransferID,
			"updated_at":           s.clock(),
		}); err != nil {
			return payout, wrapPersistence("save transfer id", err)
		}
		payout.ExternalTransferID = result.TransferID
		logger.Infow("payout_transfer_pending", "payout_id", payout.ID, "transfer_id", result.TransferID)
		return payout, nil
	}
	return s.settleExternal(ctx, payout, result.TransferID)
}

// settleExternal 转账成功后扣减钱包并标记结算完成
// 扣款时余额不足说明转账期间余额被动用，保留 pending 交由人工对账。
func (s *PayoutService) settleExternal(ctx context.Context, payout *models.DriverPayout, transferID string) (*models.DriverPayout, error) {
	err := s.payoutRepo.Transaction(ctx, func(tx *gorm.DB) error {
		repo := s.payoutRepo.WithTx(tx)
		locked, err := repo.GetPayoutByIDForUpdate(payout.ID)
		if err != nil {
			return wrapPersistence("lock payout", err)
		}
		if locked == nil {
			return ErrPayoutNotFound
		}
		if locked.Status != constants.PayoutStatusPending {
			payout = locked
			return nil
		}
		nowAt := s.clock()
		if _, err := s.debitIntoPayout(tx, locked, nil, nowAt); err != nil {
			return err
		}
		updates := map[string]interface{}{
			"status":               constants.PayoutStatusCompleted,
			"external_transfer_id": transferID,
			"failure_reason":       "",
			"processed_at":         nowAt,
			"updated_at":           nowAt,
		}
		if err := repo.UpdatePayout(locked.ID, updates); err != nil {
			return wrapPersistence("complete payout", err)
		}
		locked.Status = constants.PayoutStatusCompleted
		locked.ExternalTransferID = transferID
		locked.ProcessedAt = &nowAt
		payout = locked
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrWalletInsufficientBalance) {
			logger.Errorw("payout_settle_balance_mismatch",
				"payout_id", payout.ID,
				"driver_id", payout.DriverID,
				"transfer_id", transferID,
			)
			_ = s.payoutRepo.WithContext(ctx).UpdatePayout(payout.ID, map[string]interface{}{
				"external_transfer_id": transferID,
				"failure_reason":       "wallet balance changed after transfer",
				"updated_at":           s.clock(),
			})
		}
		return payout, err
	}
	logger.Infow("payout_completed",
		"payout_id", payout.ID,
		"driver_id", payout.DriverID,
		"amount", payout.Amount.String(),
		"method", payout.Method,
	)
	notifyAfterCommit(ctx, s.notifier, NotificationEventPayoutSettled, payout.DriverID,
		"结算已到账", fmt.Sprintf("payout %s %s for %s", payout.Amount.String(), payout.Currency, payout.CycleKey))
	return payout, nil
}

func (s *PayoutService) manualPayout(ctx context.Context, attempt payoutAttempt) (*models.DriverPayout, error) {
	var payout *models.DriverPayout
	err := s.payoutRepo.Transaction(ctx, func(tx *gorm.DB) error {
		repo := s.payoutRepo.WithTx(tx)
		nowAt := s.clock()
		schedule, err := s.openSchedule(repo, nowAt)
		if err != nil {
			return err
		}
		created, err := s.createAttempt(tx, attempt, constants.PayoutMethodManual)
		if err != nil {
			return err
		}
		if _, err := s.debitIntoPayout(tx, created, &schedule.ID, nowAt); err != nil {
			return err
		}
		if err := repo.UpdateSchedule(schedule.ID, map[string]interface{}{
			"total_amount":      models.NewMoneyFromDecimal(schedule.TotalAmount.Decimal.Add(attempt.amount)),
			"transaction_count": schedule.TransactionCount + 1,
			"updated_at":        nowAt,
		}); err != nil {
			return wrapPersistence("update withdrawal schedule", err)
		}
		scheduleID := schedule.ID
		if err := repo.UpdatePayout(created.ID, map[string]interface{}{
			"status":                 constants.PayoutStatusCompleted,
			"withdrawal_schedule_id": scheduleID,
			"processed_at":           nowAt,
			"updated_at":             nowAt,
		}); err != nil {
			return wrapPersistence("complete manual payout", err)
		}
		created.Status = constants.PayoutStatusCompleted
		created.WithdrawalScheduleID = &scheduleID
		created.ProcessedAt = &nowAt
		payout = created
		return nil
	})
	if err != nil {
		return nil, err
	}
	logger.Infow("payout_scheduled_manual",
		"payout_id", payout.ID,
		"driver_id", payout.DriverID,
		"schedule_id", *payout.WithdrawalScheduleID,
		"amount", payout.Amount.String(),
	)
	return payout, nil
}

// openSchedule 取当日未处理的人工批次，已处理则顺延
func (s *PayoutService) openSchedule(repo repository.PayoutRepository, at time.Time) (*models.DriverWithdrawalSchedule, error) {
	day := now.With(at.UTC()).BeginningOfDay()
	for i := 0; i < 7; i++ {
		schedule, err := repo.GetOrCreateSchedule(day)
		if err != nil {
			return nil, wrapPersistence("open withdrawal schedule", err)
		}
		if !schedule.IsProcessed {
			return schedule, nil
		}
		day = day.AddDate(0, 0, 1)
	}
	return nil, ErrScheduleProcessed
}

// debitIntoPayout 扣减司机钱包并把未结算的送达收入挂到结算单
func (s *PayoutService) debitIntoPayout(tx *gorm.DB, payout *models.DriverPayout, scheduleID *uint, at time.Time) (*models.WalletTransaction, error) {
	withdrawal, err := s.walletSvc.DebitInTx(tx, WalletEntryInput{
		OwnerType: constants.WalletOwnerDriver,
		OwnerID:   payout.DriverID,
		Amount:    payout.Amount.Decimal,
		TxnType:   constants.WalletTxnTypeWithdrawal,
		Reference: buildPayoutWalletReference(payout.ID),
		Remark:    "司机结算 " + payout.CycleKey,
	})
	if err != nil {
		return nil, err
	}
	walletRepo := s.walletRepo.WithTx(tx)
	credits, err := walletRepo.ListUnprocessedCredits(withdrawal.WalletID, constants.WalletTxnTypeDeliveryPayment, payout.LedgerMarkID)
	if err != nil {
		return nil, wrapPersistence("list unprocessed credits", err)
	}
	ids := make([]uint, 0, len(credits)+1)
	perOrder := map[uint]decimal.Decimal{}
	for _, credit := range credits {
		ids = append(ids, credit.ID)
		if credit.RelatedOrderID != nil {
			perOrder[*credit.RelatedOrderID] = perOrder[*credit.RelatedOrderID].Add(credit.Amount.Decimal)
		}
	}
	if scheduleID != nil {
		ids = append(ids, withdrawal.ID)
	}
	if err := walletRepo.MarkTransactionsProcessed(ids, payout.ProcessedBy, at, scheduleID); err != nil {
		return nil, wrapPersistence("mark credits processed", err)
	}

	orderIDs := make([]uint, 0, len(perOrder))
	for orderID := range perOrder {
		orderIDs = append(orderIDs, orderID)
	}
	sort.Slice(orderIDs, func(i, j int) bool { return orderIDs[i] < orderIDs[j] })
	rows := make([]models.DriverPayoutOrder, 0, len(orderIDs))
	for _, orderID := range orderIDs {
		rows = append(rows, models.DriverPayoutOrder{
			PayoutID:  payout.ID,
			OrderID:   orderID,
			Amount:    models.NewMoneyFromDecimal(perOrder[orderID]),
			CreatedAt: at,
		})
	}
	if err := s.payoutRepo.WithTx(tx).CreatePayoutOrders(rows); err != nil {
		return nil, wrapPersistence("create payout orders", err)
	}
	return withdrawal, nil
}

func (s *PayoutService) failPayout(ctx context.Context, payout *models.DriverPayout, cause error) (*models.DriverPayout, error) {
	reason := clipMessage(cause.Error(), maxPayoutReasonLength)
	if err := s.payoutRepo.WithContext(ctx).UpdatePayout(payout.ID, map[string]interface{}{
		"status":         constants.PayoutStatusFailed,
		"failure_reason": reason,
		"updated_at":     s.clock(),
	}); err != nil {
		logger.Errorw("payout_fail_save_failed", "payout_id", payout.ID, "error", err)
	}
	payout.Status = constants.PayoutStatusFailed
	payout.FailureReason = reason
	logger.Warnw("payout_transfer_failed",
		"payout_id", payout.ID,
		"driver_id", payout.DriverID,
		"amount", payout.Amount.String(),
		"error", reason,
	)
	notifyAfterCommit(ctx, s.notifier, NotificationEventPayoutFailed, payout.DriverID,
		"结算失败", fmt.Sprintf("payout %s for %s will be retried", payout.Amount.String(), payout.CycleKey))
	return payout, cause
}

// RetryFailedPayouts 对账处理中的转账，并重试回看窗口内的失败结算
func (s *PayoutService) RetryFailedPayouts(ctx context.Context, processedBy string) (*PayoutBatchSummary, error) {
	processedBy = normalizeProcessedBy(processedBy)
	nowAt := s.clock()
	summary := newPayoutBatchSummary(CycleKeyFor(nowAt))
	repo := s.payoutRepo.WithContext(ctx)

	pending, err := repo.ListPendingBefore(nowAt.Add(-s.settings.InFlightGrace))
	if err != nil {
		return summary, wrapPersistence("list in-flight payouts", err)
	}
	for i := range pending {
		if s.reconcilePending(ctx, &pending[i]) {
			summary.Reconciled++
		}
	}

	failed, err := repo.ListFailedSince(nowAt.Add(-s.settings.RetryLookback))
	if err != nil {
		return summary, wrapPersistence("list failed payouts", err)
	}
	// 同一司机同一周期只重试最新的失败单
	latest := map[string]*models.DriverPayout{}
	keys := make([]string, 0, len(failed))
	for i := range failed {
		key := fmt.Sprintf("%d|%s", failed[i].DriverID, failed[i].CycleKey)
		if existing, ok := latest[key]; !ok || failed[i].ID > existing.ID {
			if !ok {
				keys = append(keys, key)
			}
			latest[key] = &failed[i]
		}
	}
	summary.Eligible = len(keys)
	for _, key := range keys {
		if ctx.Err() != nil {
			return summary, ctx.Err()
		}
		summary.add(s.retryOne(ctx, latest[key], processedBy))
	}
	logger.Infow("payout_retry_finished",
		"reconciled", summary.Reconciled,
		"eligible", summary.Eligible,
		"succeeded", summary.Succeeded,
		"failed", summary.Failed,
		"skipped", summary.Skipped,
	)
	return summary, nil
}

func (s *PayoutService) retryOne(ctx context.Context, failed *models.DriverPayout, processedBy string) (result DriverPayoutResult) {
	result = DriverPayoutResult{DriverID: failed.DriverID, Amount: failed.Amount.Decimal}
	defer func() {
		if r := recover(); r != nil {
			logger.Errorw("payout_retry_panic", "payout_id", failed.ID, "panic", r)
			result.Err = fmt.Errorf("payout retry panic: %v", r)
		}
	}()
	repo := s.payoutRepo.WithContext(ctx)
	live, err := repo.FindPayoutInCycle(failed.DriverID, failed.CycleKey,
		[]string{constants.PayoutStatusCompleted, constants.PayoutStatusPending})
	if err != nil {
		result.Err = wrapPersistence("query live payout", err)
		return result
	}
	if live != nil {
		// 本周期已有成功或处理中的结算，旧失败单作废
		if err := repo.UpdatePayout(failed.ID, map[string]interface{}{
			"status":     constants.PayoutStatusCancelled,
			"updated_at": s.clock(),
		}); err != nil {
			result.Err = wrapPersistence("cancel superseded payout", err)
			return result
		}
		result.Skipped = true
		return result
	}

	amount, mark, err := s.payableAmount(ctx, failed.DriverID, true)
	if err != nil {
		result.Skipped = errors.Is(err, ErrBelowPayoutThreshold)
		if !result.Skipped {
			result.Err = err
		}
		return result
	}
	payout, err := s.attemptPayout(ctx, payoutAttempt{
		driverID:    failed.DriverID,
		cycleKey:    failed.CycleKey,
		amount:      amount,
		ledgerMark:  mark,
		processedBy: processedBy,
		retryOf:     failed,
	})
	if payout != nil {
		result.PayoutID = payout.ID
		result.Amount = payout.Amount.Decimal
		result.Method = payout.Method
		result.Status = payout.Status
	}
	if err != nil {
		if errors.Is(err, ErrPayoutNotRetryable) {
			result.Skipped = true
			return result
		}
		result.Err = err
	}
	return result
}

// reconcilePending 按幂等键回查长时间处理中的转账
func (s *PayoutService) reconcilePending(ctx context.Context, payout *models.DriverPayout) bool {
	if s.processor == nil {
		return false
	}
	result, err := s.processor.GetTransfer(ctx, payout.IdempotencyKey)
	switch {
	case errors.Is(err, payment.ErrTransferNotFound):
		_, _ = s.failPayout(ctx, payout, withDetail(ErrPaymentProviderFailed, "transfer not found at processor"))
		return true
	case err != nil:
		logger.Warnw("payout_reconcile_lookup_failed", "payout_id", payout.ID, "error", err)
		return false
	case result.Status == payment.TransferStatusFailed:
		_, _ = s.failPayout(ctx, payout, withDetail(ErrPaymentProviderFailed, "transfer %s failed", result.TransferID))
		return true
	case result.Status == payment.TransferStatusSucceeded:
		if _, err := s.settleExternal(ctx, payout, result.TransferID); err != nil {
			logger.Warnw("payout_reconcile_settle_failed", "payout_id", payout.ID, "error", err)
			return false
		}
		return true
	default:
		return false
	}
}

// ListPayouts 结算单列表
func (s *PayoutService) ListPayouts(ctx context.Context, filter repository.PayoutListFilter) ([]models.DriverPayout, int64, error) {
	payouts, total, err := s.payoutRepo.WithContext(ctx).ListPayouts(filter)
	if err != nil {
		return nil, 0, wrapPersistence("list payouts", err)
	}
	return payouts, total, nil
}

// GetPayout 结算单详情（含订单明细）
func (s *PayoutService) GetPayout(ctx context.Context, id uint) (*models.DriverPayout, error) {
	payout, err := s.payoutRepo.WithContext(ctx).GetPayoutByID(id)
	if err != nil {
		return nil, wrapPersistence("query payout", err)
	}
	if payout == nil {
		return nil, ErrPayoutNotFound
	}
	return payout, nil
}

// MarkWithdrawalScheduleProcessed 财务完成线下打款后关闭批次
func (s *PayoutService) MarkWithdrawalScheduleProcessed(ctx context.Context, scheduleID uint, processedBy string) (*models.DriverWithdrawalSchedule, error) {
	processedBy = normalizeProcessedBy(processedBy)
	var result *models.DriverWithdrawalSchedule
	err := s.payoutRepo.Transaction(ctx, func(tx *gorm.DB) error {
		repo := s.payoutRepo.WithTx(tx)
		schedule, err := repo.GetScheduleByIDForUpdate(scheduleID)
		if err != nil {
			return wrapPersistence("lock withdrawal schedule", err)
		}
		if schedule == nil {
			return ErrScheduleNotFound
		}
		if schedule.IsProcessed {
			return ErrScheduleProcessed
		}
		nowAt := s.clock()
		if err := repo.UpdateSchedule(schedule.ID, map[string]interface{}{
			"is_processed": true,
			"processed_by": processedBy,
			"processed_at": nowAt,
			"updated_at":   nowAt,
		}); err != nil {
			return wrapPersistence("close withdrawal schedule", err)
		}
		schedule.IsProcessed = true
		schedule.ProcessedBy = processedBy
		schedule.ProcessedAt = &nowAt
		result = schedule
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// ExportWithdrawalSchedule 导出人工批次的打款明细表
func (s *PayoutService) ExportWithdrawalSchedule(ctx context.Context, scheduleID uint, w io.Writer) error {
	txns, err := s.payoutRepo.WithContext(ctx).ListScheduleTransactions(scheduleID)
	if err != nil {
		return wrapPersistence("list schedule transactions", err)
	}
	if len(txns) == 0 {
		return ErrScheduleNotFound
	}

	f := excelize.NewFile()
	defer func() {
		_ = f.Close()
	}()
	sheetName := "Withdrawals"
	index, err := f.NewSheet(sheetName)
	if err != nil {
		return err
	}
	_ = f.DeleteSheet("Sheet1")
	f.SetActiveSheet(index)

	headers := []string{"Driver ID", "Reference", "Amount", "Currency", "Created At"}
	for i, header := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		if err := f.SetCellValue(sheetName, cell, header); err != nil {
			return err
		}
	}
	total := decimal.Zero
	for i, txn := range txns {
		row := i + 2
		amount := txn.Amount.Decimal.Abs()
		total = total.Add(amount)
		values := []interface{}{txn.OwnerID, txn.Reference, amount.InexactFloat64(), txn.Currency, txn.CreatedAt.UTC().Format(time.RFC3339)}
		for col, value := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, row)
			if err := f.SetCellValue(sheetName, cell, value); err != nil {
				return err
			}
		}
	}
	totalRow := len(txns) + 2
	_ = f.SetCellValue(sheetName, fmt.Sprintf("B%d", totalRow), "TOTAL")
	_ = f.SetCellValue(sheetName, fmt.Sprintf("C%d", totalRow), total.InexactFloat64())

	_, err = f.WriteTo(w)
	return err
}

func normalizeProcessedBy(processedBy string) string {
	processedBy = strings.TrimSpace(processedBy)
	if processedBy == "" {
		return constants.ProcessedBySystem
	}
	return processedBy
}
