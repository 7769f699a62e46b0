package models

import "time"

// JobRun 定时任务水位线
type JobRun struct {
	ID             uint      `gorm:"primarykey" json:"id"`
	JobName        string    `gorm:"type:varchar(64);uniqueIndex;not null" json:"job_name"`
	LastRunAt      time.Time `gorm:"not null" json:"last_run_at"` // 最近一次成功运行（或首次登记）时间
	LastStatus     string    `gorm:"type:varchar(16)" json:"last_status"`
	LastError      string    `gorm:"type:text" json:"last_error"`
	LastDurationMs int64     `gorm:"not null;default:0" json:"last_duration_ms"`
	RunCount       int64     `gorm:"not null;default:0" json:"run_count"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// TableName 指定表名
func (JobRun) TableName() string {
	return "job_runs"
}

// DriverEarningsProjection 司机收入日投影
type DriverEarningsProjection struct {
	ID              uint      `gorm:"primarykey" json:"id"`
	DriverID        uint      `gorm:"not null;uniqueIndex:idx_driver_projection_day,priority:1" json:"driver_id"`
	ProjectionDate  time.Time `gorm:"not null;uniqueIndex:idx_driver_projection_day,priority:2" json:"projection_date"`
	DeliveredOrders int       `gorm:"not null;default:0" json:"delivered_orders"`
	GrossEarnings   Money     `gorm:"type:decimal(20,2);not null;default:0" json:"gross_earnings"`
	WalletBalance   Money     `gorm:"type:decimal(20,2);not null;default:0" json:"wallet_balance"`
	PendingPayout   Money     `gorm:"type:decimal(20,2);not null;default:0" json:"pending_payout"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// TableName 指定表名
func (DriverEarningsProjection) TableName() string {
	return "driver_earnings_projections"
}
