package service

import (
	"context"
	"fmt"

	"github.com/freight-next/internal/logger"
	"github.com/freight-next/internal/queue"
)

// 通知事件
const (
	NotificationEventBidAccepted    = "bid_accepted"
	NotificationEventBidRejected    = "bid_rejected"
	NotificationEventOrderCancelled = "order_cancelled"
	NotificationEventOrderDelivered = "order_delivered"
	NotificationEventPayoutSettled  = "payout_settled"
	NotificationEventPayoutFailed   = "payout_failed"
)

// QueueNotifier 通过异步队列投递通知，队列未启用时回退为日志
type QueueNotifier struct {
	queueClient *queue.Client
	fallback    Notifier
}

// NewQueueNotifier 创建队列通知器
func NewQueueNotifier(queueClient *queue.Client) *QueueNotifier {
	return &QueueNotifier{queueClient: queueClient, fallback: LogNotifier{}}
}

// Notify 入队通知任务
func (n *QueueNotifier) Notify(ctx context.Context, userID uint, title, body string) error {
	return n.NotifyEvent(ctx, "", userID, title, body)
}

// NotifyEvent 入队带事件类型的通知任务
func (n *QueueNotifier) NotifyEvent(ctx context.Context, event string, userID uint, title, body string) error {
	if n == nil || !n.queueClient.Enabled() {
		if n == nil {
			return LogNotifier{}.Notify(ctx, userID, title, body)
		}
		return n.fallback.Notify(ctx, userID, title, body)
	}
	return n.queueClient.EnqueueNotification(queue.NotificationDispatchPayload{
		UserID: userID,
		Title:  title,
		Body:   body,
		Event:  event,
	})
}

// notifyAfterCommit 事务提交后发送通知，失败只记录日志
func notifyAfterCommit(ctx context.Context, notifier Notifier, event string, userID uint, title, body string) {
	if notifier == nil || userID == 0 {
		return
	}
	var err error
	if eventNotifier, ok := notifier.(interface {
		NotifyEvent(ctx context.Context, event string, userID uint, title, body string) error
	}); ok {
		err = eventNotifier.NotifyEvent(ctx, event, userID, title, body)
	} else {
		err = notifier.Notify(ctx, userID, title, body)
	}
	if err != nil {
		logger.Warnw("notification_enqueue_failed",
			"event", event,
			"user_id", userID,
			"error", err,
		)
	}
}

func orderNotificationBody(orderNo string, format string, args ...interface{}) string {
	return fmt.Sprintf("[%s] ", orderNo) + fmt.Sprintf(format, args...)
}
