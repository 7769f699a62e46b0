package service

import (
	"context"
	"sync"

	"github.com/freight-next/internal/logger"
)

// DocumentEntity 单据审核的主体
type DocumentEntity struct {
	Type string // constants.DocumentEntity*
	ID   uint
}

// DocumentChecker 单据审核查询（由单据模块实现）
type DocumentChecker interface {
	AreRequiredDocumentsApproved(ctx context.Context, entity DocumentEntity) (bool, error)
}

// Notifier 用户通知投递
type Notifier interface {
	Notify(ctx context.Context, userID uint, title, body string) error
}

// StaticDocumentChecker 默认全部通过，可按实体单独拒绝
type StaticDocumentChecker struct {
	mu     sync.RWMutex
	denied map[DocumentEntity]bool
}

// NewStaticDocumentChecker 创建静态审核器
func NewStaticDocumentChecker() *StaticDocumentChecker {
	return &StaticDocumentChecker{denied: map[DocumentEntity]bool{}}
}

// Deny 标记实体单据未通过
func (c *StaticDocumentChecker) Deny(entity DocumentEntity) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.denied[entity] = true
}

// Approve 取消拒绝标记
func (c *StaticDocumentChecker) Approve(entity DocumentEntity) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.denied, entity)
}

// AreRequiredDocumentsApproved 查询实体单据是否审核通过
func (c *StaticDocumentChecker) AreRequiredDocumentsApproved(ctx context.Context, entity DocumentEntity) (bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return !c.denied[entity], nil
}

// LogNotifier 只写日志的通知实现
type LogNotifier struct{}

// Notify 记录通知内容
func (LogNotifier) Notify(ctx context.Context, userID uint, title, body string) error {
	logger.Infow("notification_delivered",
		"user_id", userID,
		"title", title,
		"body", body,
	)
	return nil
}
