package service

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/freight-next/internal/config"
	"github.com/freight-next/internal/constants"
	"github.com/freight-next/internal/models"
	"github.com/freight-next/internal/payment"
	"github.com/freight-next/internal/repository"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
)

func TestCycleKeyFor(t *testing.T) {
	cases := []struct {
		at   time.Time
		want string
	}{
		{time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC), "2026-W01"},
		{time.Date(2026, 1, 4, 23, 59, 0, 0, time.UTC), "2026-W01"},
		{time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC), "2026-W02"},
		{time.Date(2027, 1, 1, 8, 0, 0, 0, time.UTC), "2026-W53"},
	}
	for _, tc := range cases {
		if got := CycleKeyFor(tc.at); got != tc.want {
			t.Fatalf("CycleKeyFor(%s) = %s, want %s", tc.at.Format(time.RFC3339), got, tc.want)
		}
	}
}

func TestPayoutIdempotencyKeyDeterministic(t *testing.T) {
	a := payoutIdempotencyKey(7, "2026-W10", 1)
	if a != payoutIdempotencyKey(7, "2026-W10", 1) {
		t.Fatalf("idempotency key must be stable")
	}
	if a == payoutIdempotencyKey(7, "2026-W10", 2) || a == payoutIdempotencyKey(8, "2026-W10", 1) {
		t.Fatalf("idempotency key must differ per attempt and driver")
	}
}

func TestProcessWeeklyPayoutsIsolatesFailures(t *testing.T) {
	env := setupServiceTest(t)
	ctx := context.Background()
	env.creditDelivery(t, 1, 501, "30")
	env.creditDelivery(t, 1, 502, "20")
	env.creditDelivery(t, 2, 503, "80")
	env.creditDelivery(t, 3, 504, "30")
	for _, driverID := range []uint{1, 2, 3} {
		env.addPayoutAccount(t, driverID)
	}
	env.processor.setDriverFailing(2, true)

	summary, err := env.payouts.ProcessWeeklyPayouts(ctx, "")
	if err != nil {
		t.Fatalf("process payouts failed: %v", err)
	}
	if summary.Eligible != 2 || summary.Succeeded != 1 || summary.Failed != 1 {
		t.Fatalf("unexpected summary: eligible=%d succeeded=%d failed=%d", summary.Eligible, summary.Succeeded, summary.Failed)
	}
	if !summary.TotalPaid.Equal(decimal.NewFromInt(50)) {
		t.Fatalf("expected total paid 50, got %s", summary.TotalPaid)
	}
	if _, ok := summary.Errors[2]; !ok {
		t.Fatalf("expected error recorded for driver 2, got %v", summary.Errors)
	}

	if got := env.balance(t, constants.WalletOwnerDriver, 1); !got.IsZero() {
		t.Fatalf("driver 1 expected 0, got %s", got)
	}
	if got := env.balance(t, constants.WalletOwnerDriver, 2); !got.Equal(decimal.NewFromInt(80)) {
		t.Fatalf("driver 2 expected 80, got %s", got)
	}
	if got := env.balance(t, constants.WalletOwnerDriver, 3); !got.Equal(decimal.NewFromInt(30)) {
		t.Fatalf("driver 3 expected 30, got %s", got)
	}

	payouts, _, err := env.payouts.ListPayouts(ctx, repository.PayoutListFilter{DriverID: 1})
	if err != nil || len(payouts) != 1 {
		t.Fatalf("expected one payout for driver 1, got %d err=%v", len(payouts), err)
	}
	detail, err := env.payouts.GetPayout(ctx, payouts[0].ID)
	if err != nil {
		t.Fatalf("get payout failed: %v", err)
	}
	if detail.Status != constants.PayoutStatusCompleted || detail.ProcessedBy != constants.ProcessedBySystem {
		t.Fatalf("unexpected payout state %s by %s", detail.Status, detail.ProcessedBy)
	}
	if len(detail.Orders) != 2 || detail.Orders[0].OrderID != 501 || !detail.Orders[1].Amount.Decimal.Equal(decimal.NewFromInt(20)) {
		t.Fatalf("unexpected payout orders: %+v", detail.Orders)
	}
	if events := env.notifier.events(2); len(events) != 1 || events[0] != NotificationEventPayoutFailed {
		t.Fatalf("expected failure notification for driver 2, got %v", events)
	}

	// 同一周期再次运行不会重复打款
	transfers := env.processor.transferCount()
	env.processor.setDriverFailing(2, false)
	again, err := env.payouts.ProcessWeeklyPayouts(ctx, "")
	if err != nil {
		t.Fatalf("second run failed: %v", err)
	}
	if again.Eligible != 1 || again.Succeeded != 1 {
		t.Fatalf("expected only driver 2 paid on rerun, got %+v", again)
	}
	if env.processor.transferCount() != transfers+1 {
		t.Fatalf("expected exactly one new transfer")
	}
}

func TestRetryFailedPayoutsSupersedesFailedRow(t *testing.T) {
	env := setupServiceTest(t)
	ctx := context.Background()
	env.creditDelivery(t, 2, 601, "80")
	env.addPayoutAccount(t, 2)
	env.processor.setDriverFailing(2, true)

	failed, err := env.payouts.ProcessDriverPayout(ctx, 2, "ops", false)
	if err == nil {
		t.Fatalf("expected transfer failure")
	}
	if failed == nil || failed.Status != constants.PayoutStatusFailed {
		t.Fatalf("expected failed payout row, got %+v", failed)
	}

	env.processor.setDriverFailing(2, false)
	summary, err := env.payouts.RetryFailedPayouts(ctx, "ops")
	if err != nil {
		t.Fatalf("retry failed: %v", err)
	}
	if summary.Eligible != 1 || summary.Succeeded != 1 {
		t.Fatalf("unexpected retry summary: %+v", summary)
	}

	old, err := env.payouts.GetPayout(ctx, failed.ID)
	if err != nil {
		t.Fatalf("reload failed payout: %v", err)
	}
	if old.Status != constants.PayoutStatusCancelled {
		t.Fatalf("expected superseded row cancelled, got %s", old.Status)
	}
	retried := summary.Results[0]
	replacement, err := env.payouts.GetPayout(ctx, retried.PayoutID)
	if err != nil {
		t.Fatalf("reload retried payout: %v", err)
	}
	if replacement.RetryOfID == nil || *replacement.RetryOfID != failed.ID || replacement.AttemptCount != 2 {
		t.Fatalf("unexpected retry linkage: %+v", replacement)
	}
	if replacement.IdempotencyKey == failed.IdempotencyKey {
		t.Fatalf("retry must use a new idempotency key")
	}
	if got := env.balance(t, constants.WalletOwnerDriver, 2); !got.IsZero() {
		t.Fatalf("expected driver wallet paid out, got %s", got)
	}

	second, err := env.payouts.RetryFailedPayouts(ctx, "ops")
	if err != nil {
		t.Fatalf("second retry failed: %v", err)
	}
	if second.Eligible != 0 || second.Succeeded != 0 {
		t.Fatalf("expected nothing to retry, got %+v", second)
	}
	if _, err := env.payouts.ProcessDriverPayout(ctx, 2, "ops", false); !errors.Is(err, ErrPayoutAlreadyCompleted) {
		t.Fatalf("expected already completed, got %v", err)
	}
}

func TestRetryReconcilesStalePendingTransfer(t *testing.T) {
	env := setupServiceTest(t)
	ctx := context.Background()
	env.creditDelivery(t, 5, 701, "70")
	cycle := CycleKeyFor(time.Now())
	stale := time.Now().Add(-2 * time.Hour)
	pending := &models.DriverPayout{
		DriverID:       5,
		CycleKey:       cycle,
		Amount:         models.MustMoney("70.00"),
		Currency:       "USD",
		Method:         constants.PayoutMethodExternal,
		Status:         constants.PayoutStatusPending,
		IdempotencyKey: payoutIdempotencyKey(5, cycle, 1),
		AttemptCount:   1,
		ProcessedBy:    "ops",
		CreatedAt:      stale,
		UpdatedAt:      stale,
	}
	if err := env.db.Create(pending).Error; err != nil {
		t.Fatalf("seed pending payout failed: %v", err)
	}
	// 通道侧已成功
	succeeded := &payment.TransferResult{TransferID: "tr_late_1", Status: payment.TransferStatusSucceeded}
	env.processor.transfers[pending.IdempotencyKey] = succeeded

	summary, err := env.payouts.RetryFailedPayouts(ctx, "ops")
	if err != nil {
		t.Fatalf("retry failed: %v", err)
	}
	if summary.Reconciled != 1 {
		t.Fatalf("expected one reconciled payout, got %d", summary.Reconciled)
	}
	settled, err := env.payouts.GetPayout(ctx, pending.ID)
	if err != nil {
		t.Fatalf("reload payout failed: %v", err)
	}
	if settled.Status != constants.PayoutStatusCompleted || settled.ExternalTransferID != succeeded.TransferID {
		t.Fatalf("expected settled payout, got %s/%s", settled.Status, settled.ExternalTransferID)
	}
	if got := env.balance(t, constants.WalletOwnerDriver, 5); !got.IsZero() {
		t.Fatalf("expected wallet debited on settle, got %s", got)
	}
}

func TestManualPayoutScheduleAndExport(t *testing.T) {
	env := setupServiceTest(t)
	ctx := context.Background()
	env.creditDelivery(t, 4, 801, "60")

	payout, err := env.payouts.ProcessDriverPayout(ctx, 4, "ops", false)
	if err != nil {
		t.Fatalf("manual payout failed: %v", err)
	}
	if payout.Method != constants.PayoutMethodManual || payout.Status != constants.PayoutStatusCompleted || payout.WithdrawalScheduleID == nil {
		t.Fatalf("unexpected manual payout: %+v", payout)
	}
	if env.processor.transferCount() != 0 {
		t.Fatalf("manual payout must not call the processor")
	}

	var buf bytes.Buffer
	if err := env.payouts.ExportWithdrawalSchedule(ctx, *payout.WithdrawalScheduleID, &buf); err != nil {
		t.Fatalf("export failed: %v", err)
	}
	book, err := excelize.OpenReader(&buf)
	if err != nil {
		t.Fatalf("open export failed: %v", err)
	}
	defer func() {
		_ = book.Close()
	}()
	rows, err := book.GetRows("Withdrawals")
	if err != nil {
		t.Fatalf("read rows failed: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("expected header, one row and total, got %d rows", len(rows))
	}
	if rows[1][0] != "4" || rows[1][2] != "60" {
		t.Fatalf("unexpected detail row: %v", rows[1])
	}
	if rows[2][1] != "TOTAL" || rows[2][2] != "60" {
		t.Fatalf("unexpected total row: %v", rows[2])
	}

	closed, err := env.payouts.MarkWithdrawalScheduleProcessed(ctx, *payout.WithdrawalScheduleID, "finance")
	if err != nil {
		t.Fatalf("mark processed failed: %v", err)
	}
	if !closed.IsProcessed || closed.ProcessedBy != "finance" {
		t.Fatalf("unexpected schedule state: %+v", closed)
	}
	if _, err := env.payouts.MarkWithdrawalScheduleProcessed(ctx, *payout.WithdrawalScheduleID, "finance"); !errors.Is(err, ErrScheduleProcessed) {
		t.Fatalf("expected schedule already processed, got %v", err)
	}
	if _, err := env.payouts.MarkWithdrawalScheduleProcessed(ctx, 9999, "finance"); !errors.Is(err, ErrScheduleNotFound) {
		t.Fatalf("expected schedule not found, got %v", err)
	}

	// 当日批次已关闭，新的人工结算顺延到下一日
	env.creditDelivery(t, 6, 802, "75")
	next, err := env.payouts.ProcessDriverPayout(ctx, 6, "ops", false)
	if err != nil {
		t.Fatalf("second manual payout failed: %v", err)
	}
	if next.WithdrawalScheduleID == nil || *next.WithdrawalScheduleID == *payout.WithdrawalScheduleID {
		t.Fatalf("expected a new schedule after close")
	}
}

func TestProcessDriverPayoutThreshold(t *testing.T) {
	env := setupServiceTest(t)
	ctx := context.Background()
	env.creditDelivery(t, 9, 901, "20")

	if _, err := env.payouts.ProcessDriverPayout(ctx, 9, "ops", false); !errors.Is(err, ErrBelowPayoutThreshold) {
		t.Fatalf("expected below threshold, got %v", err)
	}
	forced, err := env.payouts.ProcessDriverPayout(ctx, 9, "ops", true)
	if err != nil {
		t.Fatalf("forced payout failed: %v", err)
	}
	if !forced.Amount.Decimal.Equal(decimal.NewFromInt(20)) {
		t.Fatalf("expected forced payout of 20, got %s", forced.Amount.String())
	}
	if _, err := env.payouts.ProcessDriverPayout(ctx, 9, "ops", true); !errors.Is(err, ErrBelowPayoutThreshold) {
		t.Fatalf("expected empty wallet rejected even when forced, got %v", err)
	}
}

func TestListAndGetPayouts(t *testing.T) {
	env := setupServiceTest(t)
	ctx := context.Background()
	env.creditDelivery(t, 1, 601, "70")
	env.creditDelivery(t, 2, 602, "90")
	env.addPayoutAccount(t, 1)
	env.addPayoutAccount(t, 2)
	env.processor.setDriverFailing(2, true)

	paid, err := env.payouts.ProcessDriverPayout(ctx, 1, "admin", false)
	if err != nil {
		t.Fatalf("payout driver 1 failed: %v", err)
	}
	_, _ = env.payouts.ProcessDriverPayout(ctx, 2, "admin", false)

	all, total, err := env.payouts.ListPayouts(ctx, repository.PayoutListFilter{CycleKey: paid.CycleKey})
	if err != nil {
		t.Fatalf("list payouts failed: %v", err)
	}
	if total != 2 || len(all) != 2 {
		t.Fatalf("expected 2 payouts in cycle, got total=%d len=%d", total, len(all))
	}
	failed, total, err := env.payouts.ListPayouts(ctx, repository.PayoutListFilter{Status: constants.PayoutStatusFailed})
	if err != nil {
		t.Fatalf("list failed payouts failed: %v", err)
	}
	if total != 1 || failed[0].DriverID != 2 {
		t.Fatalf("expected driver 2 failed payout, got total=%d rows=%+v", total, failed)
	}

	got, err := env.payouts.GetPayout(ctx, paid.ID)
	if err != nil {
		t.Fatalf("get payout failed: %v", err)
	}
	if got.Status != constants.PayoutStatusCompleted || !got.Amount.Decimal.Equal(decimal.NewFromInt(70)) {
		t.Fatalf("unexpected payout: status=%s amount=%s", got.Status, got.Amount.String())
	}
	if _, err := env.payouts.GetPayout(ctx, 9999); !errors.Is(err, ErrPayoutNotFound) {
		t.Fatalf("expected payout not found, got %v", err)
	}
}

func (e *serviceTestEnv) usePayoutThreshold(threshold string) {
	e.payouts = NewPayoutService(e.payoutRepo, e.walletRepo, e.wallets, e.processor, e.notifier,
		PayoutSettingsFromConfig(config.PayoutConfig{Threshold: threshold, Currency: "USD", Concurrency: 3}))
}

func TestProcessWeeklyPayoutsThreeEligibleDrivers(t *testing.T) {
	env := setupServiceTest(t)
	env.usePayoutThreshold("30")
	ctx := context.Background()
	env.creditDelivery(t, 1, 701, "50")
	env.creditDelivery(t, 2, 702, "80")
	env.creditDelivery(t, 3, 703, "30")
	for _, driverID := range []uint{1, 2, 3} {
		env.addPayoutAccount(t, driverID)
	}
	env.processor.setDriverFailing(2, true)

	summary, err := env.payouts.ProcessWeeklyPayouts(ctx, "")
	if err != nil {
		t.Fatalf("process payouts failed: %v", err)
	}
	if summary.Eligible != 3 || summary.Succeeded != 2 || summary.Failed != 1 || summary.Skipped != 0 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	if !summary.TotalPaid.Equal(decimal.NewFromInt(80)) {
		t.Fatalf("expected total paid 80, got %s", summary.TotalPaid)
	}
	if !summary.TotalFailed.Equal(decimal.NewFromInt(80)) {
		t.Fatalf("expected total failed 80, got %s", summary.TotalFailed)
	}
	for driverID, want := range map[uint]int64{1: 0, 2: 80, 3: 0} {
		if got := env.balance(t, constants.WalletOwnerDriver, driverID); !got.Equal(decimal.NewFromInt(want)) {
			t.Fatalf("driver %d expected %d, got %s", driverID, want, got)
		}
	}
}

func TestPayoutLinksOnlyCreditsKnownWhenAmountWasRead(t *testing.T) {
	env := setupServiceTest(t)
	ctx := context.Background()
	env.creditDelivery(t, 1, 801, "35")
	env.creditDelivery(t, 1, 802, "25")
	env.addPayoutAccount(t, 1)
	// 转账处理中又有一笔送达收入入账
	env.processor.onTransfer = func(req payment.TransferRequest) {
		env.creditDelivery(t, 1, 999, "25")
	}

	payout, err := env.payouts.ProcessDriverPayout(ctx, 1, "admin", false)
	if err != nil {
		t.Fatalf("payout failed: %v", err)
	}
	if !payout.Amount.Decimal.Equal(decimal.NewFromInt(60)) {
		t.Fatalf("expected payout 60, got %s", payout.Amount.String())
	}
	detail, err := env.payouts.GetPayout(ctx, payout.ID)
	if err != nil {
		t.Fatalf("get payout failed: %v", err)
	}
	linked := decimal.Zero
	for _, row := range detail.Orders {
		if row.OrderID == 999 {
			t.Fatalf("credit arriving during the transfer must not be linked: %+v", detail.Orders)
		}
		linked = linked.Add(row.Amount.Decimal)
	}
	if len(detail.Orders) != 2 || !linked.Equal(payout.Amount.Decimal) {
		t.Fatalf("linked orders must add up to the payout, got %s over %d rows", linked, len(detail.Orders))
	}
	if got := env.balance(t, constants.WalletOwnerDriver, 1); !got.Equal(decimal.NewFromInt(25)) {
		t.Fatalf("expected 25 left in wallet, got %s", got)
	}
	var late models.WalletTransaction
	if err := env.db.Where("reference = ?", buildOrderWalletReference(999, "delivery")).First(&late).Error; err != nil {
		t.Fatalf("load late credit failed: %v", err)
	}
	if late.Processed {
		t.Fatalf("late credit must stay unprocessed for the next payout")
	}
}

func TestProcessWeeklyPayoutsSkipsInFlightPayout(t *testing.T) {
	env := setupServiceTest(t)
	ctx := context.Background()
	env.creditDelivery(t, 1, 901, "60")
	env.addPayoutAccount(t, 1)
	inFlight := &models.DriverPayout{
		DriverID:       1,
		CycleKey:       CycleKeyFor(time.Now()),
		Amount:         models.MustMoney("60"),
		Currency:       "USD",
		Method:         constants.PayoutMethodExternal,
		Status:         constants.PayoutStatusPending,
		IdempotencyKey: "payout-in-flight-1",
	}
	if err := env.db.Create(inFlight).Error; err != nil {
		t.Fatalf("seed pending payout failed: %v", err)
	}

	if _, err := env.payouts.ProcessDriverPayout(ctx, 1, "admin", false); !errors.Is(err, ErrPayoutInFlight) || !errors.Is(err, ErrConflict) {
		t.Fatalf("expected in-flight conflict, got %v", err)
	}
	summary, err := env.payouts.ProcessWeeklyPayouts(ctx, "")
	if err != nil {
		t.Fatalf("process payouts failed: %v", err)
	}
	if summary.Eligible != 1 || summary.Skipped != 1 || summary.Failed != 0 {
		t.Fatalf("in-flight payout must count as skipped, got %+v", summary)
	}
	if env.processor.transferCount() != 0 {
		t.Fatalf("no transfer expected while a payout is in flight")
	}
}
