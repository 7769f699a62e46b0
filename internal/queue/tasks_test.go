package queue

import (
	"testing"

	"github.com/freight-next/internal/config"
)

func TestNotificationDispatchTaskRoundTrip(t *testing.T) {
	task, err := NewNotificationDispatchTask(NotificationDispatchPayload{
		UserID: 9,
		Title:  "订单已取消",
		Body:   "order FO-1 cancelled",
		Event:  "order_cancelled",
	})
	if err != nil {
		t.Fatalf("new task failed: %v", err)
	}
	if task.Type() != TaskNotificationDispatch {
		t.Fatalf("unexpected task type: %s", task.Type())
	}
	payload, err := ParseNotificationDispatchPayload(task)
	if err != nil {
		t.Fatalf("parse payload failed: %v", err)
	}
	if payload.UserID != 9 || payload.Event != "order_cancelled" {
		t.Fatalf("unexpected payload: %+v", payload)
	}
}

func TestDisabledClientSkipsEnqueue(t *testing.T) {
	client, err := NewClient(&config.QueueConfig{Enabled: false})
	if err != nil {
		t.Fatalf("new client failed: %v", err)
	}
	if client.Enabled() {
		t.Fatalf("expected disabled client")
	}
	if err := client.EnqueueNotification(NotificationDispatchPayload{UserID: 1}); err != nil {
		t.Fatalf("disabled enqueue should be a no-op: %v", err)
	}
}

func TestBuildServerConfigDefaults(t *testing.T) {
	opt, cfg := BuildServerConfig(&config.QueueConfig{Host: " redis ", Port: 6380, DB: 2})
	if opt.Addr != "redis:6380" || opt.DB != 2 {
		t.Fatalf("unexpected redis opt: %+v", opt)
	}
	if cfg.Concurrency != 10 {
		t.Fatalf("unexpected concurrency: %d", cfg.Concurrency)
	}
	if cfg.Queues[DefaultQueue] != 1 {
		t.Fatalf("unexpected queues: %+v", cfg.Queues)
	}
}
