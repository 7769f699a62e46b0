package models

import "time"

// Wallet 钱包（货主与司机共用，按所有者类型区分）
type Wallet struct {
	ID        uint      `gorm:"primarykey" json:"id"`                                                          // 主键
	OwnerType string    `gorm:"type:varchar(20);not null;uniqueIndex:idx_wallet_owner,priority:1" json:"owner_type"` // 所有者类型
	OwnerID   uint      `gorm:"not null;uniqueIndex:idx_wallet_owner,priority:2" json:"owner_id"`              // 所有者ID
	Balance   Money     `gorm:"type:decimal(20,2);not null;default:0" json:"balance"`                          // 余额
	Currency  string    `gorm:"type:varchar(8);not null" json:"currency"`                                      // 币种
	CreatedAt time.Time `gorm:"index" json:"created_at"`                                                       // 创建时间
	UpdatedAt time.Time `gorm:"index" json:"updated_at"`                                                       // 更新时间
}

// TableName 指定表名
func (Wallet) TableName() string {
	return "wallets"
}

// WalletTransaction 钱包流水（只追加）
// Amount 为带符号金额：入账为正，出账为负。
type WalletTransaction struct {
	ID                   uint       `gorm:"primarykey" json:"id"`                                                 // 主键
	WalletID             uint       `gorm:"index;not null" json:"wallet_id"`                                      // 钱包ID
	OwnerType            string     `gorm:"type:varchar(20);index:idx_wallet_txn_owner;not null" json:"owner_type"` // 所有者类型
	OwnerID              uint       `gorm:"index:idx_wallet_txn_owner;not null" json:"owner_id"`                  // 所有者ID
	Type                 string     `gorm:"type:varchar(32);index;not null" json:"type"`                          // 流水类型
	Direction            string     `gorm:"type:varchar(8);not null" json:"direction"`                            // 方向
	Amount               Money      `gorm:"type:decimal(20,2);not null" json:"amount"`                            // 带符号金额
	BalanceBefore        Money      `gorm:"type:decimal(20,2);not null" json:"balance_before"`                    // 变更前余额
	BalanceAfter         Money      `gorm:"type:decimal(20,2);not null" json:"balance_after"`                     // 变更后余额
	Currency             string     `gorm:"type:varchar(8);not null" json:"currency"`                             // 币种
	RelatedOrderID       *uint      `gorm:"index" json:"related_order_id,omitempty"`                              // 关联订单
	Reference            string     `gorm:"type:varchar(128);uniqueIndex;not null" json:"reference"`              // 幂等参考号
	Remark               string     `gorm:"type:varchar(255)" json:"remark"`                                      // 备注
	Processed            bool       `gorm:"not null;default:false;index" json:"processed"`                        // 是否已结算
	ProcessedBy          string     `gorm:"type:varchar(64)" json:"processed_by"`                                 // 结算人
	ProcessedAt          *time.Time `json:"processed_at,omitempty"`                                               // 结算时间
	WithdrawalScheduleID *uint      `gorm:"index" json:"withdrawal_schedule_id,omitempty"`                        // 所属提现批次
	CreatedAt            time.Time  `gorm:"index" json:"created_at"`                                              // 创建时间
	UpdatedAt            time.Time  `json:"updated_at"`                                                           // 更新时间

	WithdrawalSchedule *DriverWithdrawalSchedule `gorm:"foreignKey:WithdrawalScheduleID;constraint:OnDelete:RESTRICT" json:"-"`
}

// TableName 指定表名
func (WalletTransaction) TableName() string {
	return "wallet_transactions"
}
