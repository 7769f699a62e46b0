package worker

import (
	"context"
	"errors"
	"time"

	"github.com/freight-next/internal/config"
	"github.com/freight-next/internal/constants"
	"github.com/freight-next/internal/provider"

	"go.uber.org/zap"
)

const retryBatchLimit = 100

// BuildJobs 组装结算、投影、重试三个定时任务
func BuildJobs(c *provider.Container) []Job {
	specs := config.DefaultJobSpecs()
	if c.Config != nil {
		for name, spec := range c.Config.Scheduler.Jobs {
			specs[name] = spec
		}
	}
	return []Job{
		{Name: constants.JobSettlement, Spec: specs[constants.JobSettlement], Run: settlementJob(c)},
		{Name: constants.JobProjections, Spec: specs[constants.JobProjections], Run: projectionsJob(c)},
		{Name: constants.JobPayoutRetry, Spec: specs[constants.JobPayoutRetry], Run: payoutRetryJob(c)},
	}
}

func settlementJob(c *provider.Container) JobFunc {
	return func(ctx context.Context, log *zap.SugaredLogger) error {
		summary, err := c.PayoutService.ProcessWeeklyPayouts(ctx, constants.ProcessedBySystem)
		if err != nil {
			return err
		}
		log.Infow("settlement_summary",
			"cycle_key", summary.CycleKey,
			"eligible", summary.Eligible,
			"succeeded", summary.Succeeded,
			"failed", summary.Failed,
			"skipped", summary.Skipped,
			"total_paid", summary.TotalPaid.StringFixed(2),
		)
		return nil
	}
}

func projectionsJob(c *provider.Container) JobFunc {
	return func(ctx context.Context, log *zap.SugaredLogger) error {
		today := time.Now().UTC()
		var errs []error
		// 前一日的数据在零点后才完整
		for _, day := range []time.Time{today.AddDate(0, 0, -1), today} {
			count, err := c.ProjectionService.RefreshDriverEarningsProjection(ctx, day)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			log.Infow("projection_day_refreshed", "day", day.Format("2006-01-02"), "drivers", count)
		}
		flagged, err := c.ProjectionService.FlagOverdueOrders(ctx)
		if err != nil {
			errs = append(errs, err)
		}
		log.Infow("overdue_orders_flagged", "count", flagged)
		return errors.Join(errs...)
	}
}

func payoutRetryJob(c *provider.Container) JobFunc {
	return func(ctx context.Context, log *zap.SugaredLogger) error {
		var errs []error
		payouts, err := c.PayoutService.RetryFailedPayouts(ctx, constants.ProcessedBySystem)
		if err != nil {
			errs = append(errs, err)
		} else {
			log.Infow("payout_retry_summary",
				"reconciled", payouts.Reconciled,
				"eligible", payouts.Eligible,
				"succeeded", payouts.Succeeded,
				"failed", payouts.Failed,
			)
		}
		refunds, err := c.OrderService.RetryFailedRefunds(ctx, retryBatchLimit)
		if err != nil {
			errs = append(errs, err)
		} else {
			log.Infow("refund_retry_summary",
				"attempted", refunds.Attempted,
				"succeeded", refunds.Succeeded,
				"failed", refunds.Failed,
			)
		}
		intents, err := c.OrderService.RetryMissingPaymentIntents(ctx, retryBatchLimit)
		if err != nil {
			errs = append(errs, err)
		} else {
			log.Infow("payment_intent_retry_summary", "created", intents)
		}
		return errors.Join(errs...)
	}
}
