package models

import "time"

// DriverPayoutAccount 司机外部收款账户
type DriverPayoutAccount struct {
	ID                uint      `gorm:"primarykey" json:"id"`
	DriverID          uint      `gorm:"uniqueIndex;not null" json:"driver_id"`
	Provider          string    `gorm:"type:varchar(32);not null" json:"provider"`
	ExternalAccountID string    `gorm:"type:varchar(128);not null" json:"external_account_id"`
	Active            bool      `gorm:"not null;default:true" json:"active"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// TableName 指定表名
func (DriverPayoutAccount) TableName() string {
	return "driver_payout_accounts"
}

// DriverWithdrawalSchedule 无外部账户司机的人工提现批次（按日）
type DriverWithdrawalSchedule struct {
	ID               uint       `gorm:"primarykey" json:"id"`                                            // 主键
	ScheduledDate    time.Time  `gorm:"uniqueIndex;not null" json:"scheduled_date"`                      // 批次日期（UTC 零点）
	IsProcessed      bool       `gorm:"not null;default:false;index" json:"is_processed"`                // 是否已打款
	ProcessedBy      string     `gorm:"type:varchar(64)" json:"processed_by"`                            // 处理人
	ProcessedAt      *time.Time `json:"processed_at,omitempty"`                                          // 处理时间
	TotalAmount      Money      `gorm:"type:decimal(20,2);not null;default:0" json:"total_amount"`       // 批次总额
	TransactionCount int        `gorm:"not null;default:0" json:"transaction_count"`                     // 流水条数
	CreatedAt        time.Time  `json:"created_at"`                                                      // 创建时间
	UpdatedAt        time.Time  `json:"updated_at"`                                                      // 更新时间
}

// TableName 指定表名
func (DriverWithdrawalSchedule) TableName() string {
	return "driver_withdrawal_schedules"
}

// DriverPayout 司机结算单
type DriverPayout struct {
	ID                   uint       `gorm:"primarykey" json:"id"`                                                       // 主键
	DriverID             uint       `gorm:"index:idx_driver_payout_cycle;not null" json:"driver_id"`                    // 司机ID
	CycleKey             string     `gorm:"type:varchar(16);index:idx_driver_payout_cycle;not null" json:"cycle_key"`   // 结算周期（ISO 周）
	Amount               Money      `gorm:"type:decimal(20,2);not null" json:"amount"`                                  // 结算金额
	Currency             string     `gorm:"type:varchar(8);not null" json:"currency"`                                   // 币种
	Method               string     `gorm:"type:varchar(16);not null" json:"method"`                                    // 结算方式
	Status               string     `gorm:"type:varchar(16);index;not null" json:"status"`                              // 状态
	ExternalTransferID   string     `gorm:"type:varchar(128)" json:"external_transfer_id"`                              // 外部转账单号
	IdempotencyKey       string     `gorm:"type:varchar(64);uniqueIndex;not null" json:"idempotency_key"`               // 幂等键
	FailureReason        string     `gorm:"type:varchar(500)" json:"failure_reason"`                                    // 失败原因
	AttemptCount         int        `gorm:"not null;default:1" json:"attempt_count"`                                    // 第几次尝试
	RetryOfID            *uint      `gorm:"index" json:"retry_of_id,omitempty"`                                         // 重试来源
	LedgerMarkID         uint       `gorm:"not null;default:0" json:"ledger_mark_id"`                                   // 取数时的最后一条流水
	WithdrawalScheduleID *uint      `gorm:"index" json:"withdrawal_schedule_id,omitempty"`                              // 人工批次
	ProcessedBy          string     `gorm:"type:varchar(64)" json:"processed_by"`                                       // 处理人
	ProcessedAt          *time.Time `json:"processed_at,omitempty"`                                                     // 完成时间
	CreatedAt            time.Time  `gorm:"index" json:"created_at"`                                                    // 创建时间
	UpdatedAt            time.Time  `json:"updated_at"`                                                                 // 更新时间

	Orders []DriverPayoutOrder `gorm:"foreignKey:PayoutID" json:"orders,omitempty"`
}

// TableName 指定表名
func (DriverPayout) TableName() string {
	return "driver_payouts"
}

// DriverPayoutOrder 结算单包含的订单收入
type DriverPayoutOrder struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	PayoutID  uint      `gorm:"index;not null" json:"payout_id"`
	OrderID   uint      `gorm:"index;not null" json:"order_id"`
	Amount    Money     `gorm:"type:decimal(20,2);not null" json:"amount"`
	CreatedAt time.Time `json:"created_at"`
}

// TableName 指定表名
func (DriverPayoutOrder) TableName() string {
	return "driver_payout_orders"
}
