package models

import "time"

// Bid 竞价出价表
type Bid struct {
	ID               uint      `gorm:"primarykey" json:"id"`                                          // 主键
	OrderID          uint      `gorm:"index;not null" json:"order_id"`                                // 订单ID
	TruckID          uint      `gorm:"index;not null" json:"truck_id"`                                // 车辆ID
	DriverID         uint      `gorm:"index;not null" json:"driver_id"`                               // 车辆所属司机
	Amount           Money     `gorm:"type:decimal(20,2);not null" json:"amount"`                     // 报价
	Status           string    `gorm:"type:varchar(16);index;not null" json:"status"`                 // 出价状态
	SubmitterType    string    `gorm:"type:varchar(32);not null" json:"submitter_type"`               // 提交方类型
	DispatcherID     *uint     `gorm:"index" json:"dispatcher_id,omitempty"`                          // 代报调度员
	CommissionRate   Money     `gorm:"type:decimal(10,2);not null;default:0" json:"commission_rate"`  // 调度佣金比例（百分比）
	CommissionAmount Money     `gorm:"type:decimal(20,2);not null;default:0" json:"commission_amount"` // 调度佣金
	Note             string    `gorm:"type:varchar(500)" json:"note"`                                 // 备注
	CreatedAt        time.Time `gorm:"index" json:"created_at"`                                       // 创建时间
	UpdatedAt        time.Time `gorm:"index" json:"updated_at"`                                       // 更新时间
}

// TableName 指定表名
func (Bid) TableName() string {
	return "bids"
}
