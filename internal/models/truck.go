package models

import "time"

// Truck 车辆表（由车辆管理模块维护，这里只读）
type Truck struct {
	ID         uint      `gorm:"primarykey" json:"id"`
	DriverID   uint      `gorm:"index;not null" json:"driver_id"`
	PlateNo    string    `gorm:"type:varchar(32);uniqueIndex;not null" json:"plate_no"`
	TruckType  string    `gorm:"type:varchar(64);index;not null" json:"truck_type"`
	CapacityKg int       `gorm:"not null;default:0" json:"capacity_kg"`
	Location   string    `gorm:"type:varchar(255);index" json:"location"`
	Active     bool      `gorm:"not null;default:true" json:"active"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// TableName 指定表名
func (Truck) TableName() string {
	return "trucks"
}

// DispatcherAgreement 调度员与司机的代报协议
// ActivePairKey 仅在协议生效时赋值，唯一索引保证同一对调度员/司机最多一条生效协议。
type DispatcherAgreement struct {
	ID             uint      `gorm:"primarykey" json:"id"`
	DispatcherID   uint      `gorm:"index;not null" json:"dispatcher_id"`
	DriverID       uint      `gorm:"index;not null" json:"driver_id"`
	CommissionRate Money     `gorm:"type:decimal(10,2);not null;default:0" json:"commission_rate"` // 百分比
	CanBidOnBehalf bool      `gorm:"not null;default:false" json:"can_bid_on_behalf"`
	Active         bool      `gorm:"not null;default:true;index" json:"active"`
	ActivePairKey  *string   `gorm:"type:varchar(64);uniqueIndex" json:"-"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// TableName 指定表名
func (DispatcherAgreement) TableName() string {
	return "dispatcher_agreements"
}
