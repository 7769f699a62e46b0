package queue

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const (
	// TaskNotificationDispatch 用户通知投递任务
	TaskNotificationDispatch = "notification:dispatch"
)

// NotificationDispatchPayload 通知任务载荷
type NotificationDispatchPayload struct {
	UserID uint   `json:"user_id"`
	Title  string `json:"title"`
	Body   string `json:"body"`
	Event  string `json:"event"`
}

// NewNotificationDispatchTask 创建通知任务
func NewNotificationDispatchTask(payload NotificationDispatchPayload) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskNotificationDispatch, body), nil
}

// ParseNotificationDispatchPayload 解析通知任务载荷
func ParseNotificationDispatchPayload(task *asynq.Task) (NotificationDispatchPayload, error) {
	var payload NotificationDispatchPayload
	if task == nil {
		return payload, nil
	}
	err := json.Unmarshal(task.Payload(), &payload)
	return payload, err
}
