package models

import (
	"time"

	"github.com/freight-next/internal/constants"
)

// OrderCancellation 订单取消记录（违约金与退款拆分）
type OrderCancellation struct {
	ID                     uint                  `gorm:"primarykey" json:"id"`                                                // 主键
	OrderID                uint                  `gorm:"uniqueIndex;not null" json:"order_id"`                                // 订单ID
	StatusAtCancellation   constants.OrderStatus `gorm:"not null" json:"status_at_cancellation"`                              // 取消时状态
	PenaltyPercent         Money                 `gorm:"type:decimal(10,2);not null;default:0" json:"penalty_percent"`        // 违约金比例
	PenaltyAmount          Money                 `gorm:"type:decimal(20,2);not null;default:0" json:"penalty_amount"`         // 违约金
	OriginalAmount         Money                 `gorm:"type:decimal(20,2);not null;default:0" json:"original_amount"`        // 已收金额
	RefundAmount           Money                 `gorm:"type:decimal(20,2);not null;default:0" json:"refund_amount"`          // 应退金额
	WalletRefundAmount     Money                 `gorm:"type:decimal(20,2);not null;default:0" json:"wallet_refund_amount"`   // 退回钱包
	ExternalRefundAmount   Money                 `gorm:"type:decimal(20,2);not null;default:0" json:"external_refund_amount"` // 原路退回
	RefundMethod           string                `gorm:"type:varchar(16);not null" json:"refund_method"`                      // 退款去向
	ExternalRefundStatus   string                `gorm:"type:varchar(16);index;not null" json:"external_refund_status"`       // 外部退款状态
	ExternalRefundAttempts int                   `gorm:"not null;default:0" json:"external_refund_attempts"`                  // 外部退款尝试次数
	ExternalRefundError    string                `gorm:"type:varchar(500)" json:"external_refund_error"`                      // 最近失败原因
	Reason                 string                `gorm:"type:varchar(500)" json:"reason"`                                     // 取消原因
	CancelledBy            uint                  `gorm:"not null" json:"cancelled_by"`                                        // 操作人
	NotifyDriver           bool                  `gorm:"not null;default:false" json:"notify_driver"`                         // 需通知司机
	DriverID               *uint                 `gorm:"index" json:"driver_id,omitempty"`                                    // 已指派司机
	ProcessedAt            time.Time             `json:"processed_at"`                                                        // 处理时间
	CreatedAt              time.Time             `gorm:"index" json:"created_at"`                                             // 创建时间
	UpdatedAt              time.Time             `json:"updated_at"`                                                          // 更新时间
}

// TableName 指定表名
func (OrderCancellation) TableName() string {
	return "order_cancellations"
}
