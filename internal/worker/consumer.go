package worker

import (
	"context"
	"strings"

	"github.com/freight-next/internal/logger"
	"github.com/freight-next/internal/queue"
	"github.com/freight-next/internal/service"

	"github.com/hibiken/asynq"
)

// Consumer 异步任务消费者
type Consumer struct {
	delivery service.Notifier
}

// NewConsumer 创建消费者，delivery 为最终投递通道
func NewConsumer(delivery service.Notifier) *Consumer {
	if delivery == nil {
		delivery = service.LogNotifier{}
	}
	return &Consumer{delivery: delivery}
}

// Register 注册消费者
func (c *Consumer) Register(mux *asynq.ServeMux) {
	if c == nil || mux == nil {
		logger.Debugw("worker_register_skip_nil", "consumer_nil", c == nil, "mux_nil", mux == nil)
		return
	}
	mux.HandleFunc(queue.TaskNotificationDispatch, c.handleNotificationDispatch)
}

func (c *Consumer) handleNotificationDispatch(ctx context.Context, task *asynq.Task) error {
	if c == nil || task == nil {
		logger.Debugw("worker_notification_skip_nil", "consumer_nil", c == nil, "task_nil", task == nil)
		return nil
	}
	payload, err := queue.ParseNotificationDispatchPayload(task)
	if err != nil {
		logger.Warnw("worker_notification_unmarshal_failed", "error", err)
		return err
	}
	if payload.UserID == 0 || strings.TrimSpace(payload.Title) == "" {
		logger.Debugw("worker_notification_skip_invalid_payload", "user_id", payload.UserID, "event", payload.Event)
		return nil
	}
	if err := c.delivery.Notify(ctx, payload.UserID, payload.Title, payload.Body); err != nil {
		logger.Warnw("worker_notification_deliver_failed",
			"user_id", payload.UserID,
			"event", payload.Event,
			"error", err,
		)
		return err
	}
	return nil
}
