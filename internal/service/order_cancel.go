package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/freight-next/internal/constants"
	"github.com/freight-next/internal/logger"
	"github.com/freight-next/internal/models"
	"github.com/freight-next/internal/payment"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

const maxRefundErrorLength = 500

// CancellationBreakdown 违约金与退款拆分
type CancellationBreakdown struct {
	PenaltyPercent decimal.Decimal
	Original       decimal.Decimal
	Penalty        decimal.Decimal
	Refund         decimal.Decimal
	WalletRefund   decimal.Decimal
	ExternalRefund decimal.Decimal
}

// RefundRetrySummary 外部退款重试结果
type RefundRetrySummary struct {
	Attempted int
	Succeeded int
	Failed    int
}

// ComputeCancellation 按已收金额计算违约金与两条通道的退款额
func ComputeCancellation(walletPaid, externalPaid, penaltyPercent decimal.Decimal) CancellationBreakdown {
	walletPaid = walletPaid.Round(2)
	externalPaid = externalPaid.Round(2)
	original := walletPaid.Add(externalPaid)
	penalty := original.Mul(penaltyPercent).Div(hundred).Round(2)
	refund := original.Sub(penalty)
	walletRefund := decimal.Zero
	if original.GreaterThan(decimal.Zero) {
		walletRefund = refund.Mul(walletPaid).Div(original).Round(2)
	}
	return CancellationBreakdown{
		PenaltyPercent: penaltyPercent,
		Original:       original,
		Penalty:        penalty,
		Refund:         refund,
		WalletRefund:   walletRefund,
		ExternalRefund: refund.Sub(walletRefund),
	}
}

func refundMethodOf(b CancellationBreakdown) string {
	hasWallet := b.WalletRefund.GreaterThan(decimal.Zero)
	hasExternal := b.ExternalRefund.GreaterThan(decimal.Zero)
	switch {
	case hasWallet && hasExternal:
		return constants.RefundMethodMixed
	case hasWallet:
		return constants.RefundMethodWallet
	case hasExternal:
		return constants.RefundMethodExternal
	default:
		return constants.RefundMethodNone
	}
}

// CancelOrder 取消订单：计算违约金，钱包部分事务内退回，外部部分提交后原路退回
func (s *OrderService) CancelOrder(ctx context.Context, orderID, actorID uint, reason string) (*models.OrderCancellation, error) {
	var cancellation *models.OrderCancellation
	var order *models.CargoOrder
	err := s.orderRepo.Transaction(ctx, func(tx *gorm.DB) error {
		repo := s.orderRepo.WithTx(tx)
		locked, err := lockOrder(repo, orderID)
		if err != nil {
			return err
		}
		if err := ensureTransition(locked.ID, locked.Status, constants.OrderStatusCancelled); err != nil {
			return err
		}

		// 违约金按订单总额计算；外部部分未扣款时撤销支付意图，扣款后再原路退款
		externalAmount := locked.ExternalPaymentAmount.OrZero()
		breakdown := ComputeCancellation(locked.WalletPaymentAmount.OrZero(), externalAmount, s.settings.PenaltyPercent(locked.Status))

		now := time.Now()
		if breakdown.WalletRefund.GreaterThan(decimal.Zero) {
			if _, err := s.walletSvc.CreditInTx(tx, WalletEntryInput{
				OwnerType:      constants.WalletOwnerCargoOwner,
				OwnerID:        locked.CargoOwnerID,
				Amount:         breakdown.WalletRefund,
				TxnType:        constants.WalletTxnTypeRefund,
				RelatedOrderID: &locked.ID,
				Reference:      buildOrderWalletReference(locked.ID, "cancel_refund"),
				Remark:         "订单取消退款 " + locked.OrderNo,
			}); err != nil {
				return err
			}
		}
		if _, err := s.bidRepo.WithTx(tx).RejectPendingExcept(locked.ID, 0, now); err != nil {
			return wrapPersistence("reject pending bids", err)
		}
		if err := repo.UpdateFields(locked.ID, transitionUpdates(constants.OrderStatusCancelled, now)); err != nil {
			return wrapPersistence("cancel order", err)
		}

		refundStatus := constants.RefundStatusNotRequired
		switch {
		case externalAmount.GreaterThan(decimal.Zero) && !locked.ExternalPaymentConfirmed:
			refundStatus = constants.RefundStatusAwaitingCapture
		case breakdown.ExternalRefund.GreaterThan(decimal.Zero):
			refundStatus = constants.RefundStatusPending
		}
		record := &models.OrderCancellation{
			OrderID:              locked.ID,
			StatusAtCancellation: locked.Status,
			PenaltyPercent:       models.NewMoneyFromDecimal(breakdown.PenaltyPercent),
			PenaltyAmount:        models.NewMoneyFromDecimal(breakdown.Penalty),
			OriginalAmount:       models.NewMoneyFromDecimal(breakdown.Original),
			RefundAmount:         models.NewMoneyFromDecimal(breakdown.Refund),
			WalletRefundAmount:   models.NewMoneyFromDecimal(breakdown.WalletRefund),
			ExternalRefundAmount: models.NewMoneyFromDecimal(breakdown.ExternalRefund),
			RefundMethod:         refundMethodOf(breakdown),
			ExternalRefundStatus: refundStatus,
			Reason:               strings.TrimSpace(reason),
			CancelledBy:          actorID,
			NotifyDriver:         locked.AssignedDriverID != nil,
			DriverID:             locked.AssignedDriverID,
			ProcessedAt:          now,
			CreatedAt:            now,
			UpdatedAt:            now,
		}
		if err := repo.CreateCancellation(record); err != nil {
			return wrapPersistence("create order cancellation", err)
		}
		cancellation = record
		order = locked
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.Infow("order_cancelled",
		"order_id", order.ID,
		"status_at_cancellation", cancellation.StatusAtCancellation.String(),
		"penalty_amount", cancellation.PenaltyAmount.String(),
		"wallet_refund", cancellation.WalletRefundAmount.String(),
		"external_refund", cancellation.ExternalRefundAmount.String(),
	)
	switch cancellation.ExternalRefundStatus {
	case constants.RefundStatusPending:
		s.refundExternal(ctx, cancellation, order)
	case constants.RefundStatusAwaitingCapture:
		s.voidPaymentIntent(ctx, cancellation, order)
	}
	if cancellation.NotifyDriver && cancellation.DriverID != nil {
		notifyAfterCommit(ctx, s.notifier, NotificationEventOrderCancelled, *cancellation.DriverID,
			"订单已取消", orderNotificationBody(order.OrderNo, "cancelled by owner: %s", cancellation.Reason))
	}
	return cancellation, nil
}

// RetryFailedRefunds 重试失败或未完成的外部退款
func (s *OrderService) RetryFailedRefunds(ctx context.Context, limit int) (RefundRetrySummary, error) {
	summary := RefundRetrySummary{}
	rows, err := s.orderRepo.WithContext(ctx).ListCancellationsByRefundStatus(
		[]string{constants.RefundStatusPending, constants.RefundStatusFailed, constants.RefundStatusAwaitingCapture}, limit)
	if err != nil {
		return summary, wrapPersistence("list pending refunds", err)
	}
	for i := range rows {
		if ctx.Err() != nil {
			return summary, ctx.Err()
		}
		order, err := s.GetOrder(ctx, rows[i].OrderID)
		if err != nil {
			logger.Warnw("order_refund_retry_order_missing", "order_id", rows[i].OrderID, "error", err)
			continue
		}
		summary.Attempted++
		settle := s.refundExternal
		if rows[i].ExternalRefundStatus == constants.RefundStatusAwaitingCapture {
			settle = s.voidPaymentIntent
		}
		if settle(ctx, &rows[i], order) {
			summary.Succeeded++
		} else {
			summary.Failed++
		}
	}
	return summary, nil
}

// refundExternal 调用外部通道退款并记录结果，返回是否成功
func (s *OrderService) refundExternal(ctx context.Context, cancellation *models.OrderCancellation, order *models.CargoOrder) bool {
	var refundErr error
	ok := false
	if s.processor == nil {
		refundErr = errProcessorMissing
	} else {
		ok, refundErr = s.processor.RefundPaymentIntent(ctx, payment.RefundRequest{
			PaymentIntentID: order.PaymentIntentID,
			Amount:          cancellation.ExternalRefundAmount.Decimal,
			Currency:        order.Currency,
			IdempotencyKey:  buildOrderWalletReference(order.ID, "cancel_refund:external"),
			Reason:          cancellation.Reason,
		})
	}

	status := constants.RefundStatusCompleted
	message := ""
	if refundErr != nil || !ok {
		status = constants.RefundStatusFailed
		if refundErr != nil {
			message = refundErr.Error()
		} else {
			message = "refund rejected by processor"
		}
		message = clipMessage(message, maxRefundErrorLength)
	}

	attempts := cancellation.ExternalRefundAttempts + 1
	err := s.orderRepo.WithContext(ctx).UpdateCancellation(cancellation.ID, map[string]interface{}{
		"external_refund_status":   status,
		"external_refund_attempts": attempts,
		"external_refund_error":    message,
		"updated_at":               time.Now(),
	})
	if err != nil {
		logger.Errorw("order_refund_status_save_failed",
			"order_id", order.ID,
			"cancellation_id", cancellation.ID,
			"error", err,
		)
	}
	cancellation.ExternalRefundStatus = status
	cancellation.ExternalRefundAttempts = attempts
	cancellation.ExternalRefundError = message

	if status == constants.RefundStatusFailed {
		logger.Warnw("order_external_refund_failed",
			"order_id", order.ID,
			"amount", cancellation.ExternalRefundAmount.String(),
			"attempts", attempts,
			"error", message,
		)
		return false
	}
	logger.Infow("order_external_refund_completed",
		"order_id", order.ID,
		"amount", cancellation.ExternalRefundAmount.String(),
	)
	return true
}

// voidPaymentIntent 撤销未扣款的外部支付意图，返回是否已了结
// 通道回报意图已扣款时按迟到扣款处理，转入原路退款。
func (s *OrderService) voidPaymentIntent(ctx context.Context, cancellation *models.OrderCancellation, order *models.CargoOrder) bool {
	var voidErr error
	voided := order.PaymentIntentID == ""
	if !voided {
		if s.processor == nil {
			voidErr = errProcessorMissing
		} else {
			voided, voidErr = s.processor.CancelPaymentIntent(ctx, payment.CancelIntentRequest{
				PaymentIntentID: order.PaymentIntentID,
				IdempotencyKey:  buildOrderWalletReference(order.ID, "intent_cancel"),
				Reason:          cancellation.Reason,
			})
		}
	}
	if voidErr == nil && !voided {
		logger.Warnw("order_intent_captured_after_cancel", "order_id", order.ID, "payment_intent_id", order.PaymentIntentID)
		if _, err := s.ConfirmExternalPayment(ctx, order.ID, order.PaymentIntentID); err != nil {
			voidErr = fmt.Errorf("%w: %v", errIntentCaptured, err)
		} else {
			return true
		}
	}

	attempts := cancellation.ExternalRefundAttempts + 1
	updates := map[string]interface{}{
		"external_refund_attempts": attempts,
		"updated_at":               time.Now(),
	}
	if voidErr != nil {
		updates["external_refund_error"] = clipMessage(voidErr.Error(), maxRefundErrorLength)
	} else {
		updates["external_refund_status"] = constants.RefundStatusVoided
		updates["external_refund_error"] = ""
	}
	applied, err := s.orderRepo.WithContext(ctx).UpdateCancellationIfRefundStatus(
		cancellation.ID, constants.RefundStatusAwaitingCapture, updates)
	if err != nil {
		logger.Errorw("order_intent_void_save_failed",
			"order_id", order.ID,
			"cancellation_id", cancellation.ID,
			"error", err,
		)
		return false
	}
	if !applied {
		// 期间已确认扣款，由退款流程接手
		return false
	}
	cancellation.ExternalRefundAttempts = attempts
	if voidErr != nil {
		cancellation.ExternalRefundError = updates["external_refund_error"].(string)
		logger.Warnw("order_intent_void_failed",
			"order_id", order.ID,
			"payment_intent_id", order.PaymentIntentID,
			"attempts", attempts,
			"error", voidErr,
		)
		return false
	}
	cancellation.ExternalRefundStatus = constants.RefundStatusVoided
	cancellation.ExternalRefundError = ""
	logger.Infow("order_intent_voided", "order_id", order.ID, "payment_intent_id", order.PaymentIntentID)
	return true
}
