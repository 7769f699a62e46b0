package models

import (
	"time"

	"github.com/freight-next/internal/constants"
)

// CargoOrder 货运订单表
type CargoOrder struct {
	ID                       uint                  `gorm:"primarykey" json:"id"`                                      // 主键
	OrderNo                  string                `gorm:"uniqueIndex;not null" json:"order_no"`                      // 订单编号
	CargoOwnerID             uint                  `gorm:"index;not null" json:"cargo_owner_id"`                      // 货主ID
	PickupLocation           string                `gorm:"type:varchar(255);not null" json:"pickup_location"`         // 装货地
	DeliveryLocation         string                `gorm:"type:varchar(255);not null" json:"delivery_location"`       // 卸货地
	RequiredTruckType        string                `gorm:"type:varchar(64);index" json:"required_truck_type"`         // 车型要求
	CargoWeightKg            int                   `gorm:"not null;default:0" json:"cargo_weight_kg"`                 // 货重（kg）
	Currency                 string                `gorm:"type:varchar(8);not null" json:"currency"`                  // 币种
	Status                   constants.OrderStatus `gorm:"index;not null;default:0" json:"status"`                    // 订单状态
	AcceptedBidID            *uint                 `gorm:"uniqueIndex" json:"accepted_bid_id,omitempty"`              // 中标出价
	AssignedDriverID         *uint                 `gorm:"index" json:"assigned_driver_id,omitempty"`                 // 中标司机
	AssignedTruckID          *uint                 `gorm:"index" json:"assigned_truck_id,omitempty"`                  // 中标车辆
	TotalAmount              Money                 `gorm:"type:decimal(20,2);not null;default:0" json:"total_amount"` // 运费总额（中标价）
	WalletPaymentAmount      *Money                `gorm:"type:decimal(20,2)" json:"wallet_payment_amount"`           // 钱包支付部分
	ExternalPaymentAmount    *Money                `gorm:"type:decimal(20,2)" json:"external_payment_amount"`         // 外部支付部分
	PaymentMethod            string                `gorm:"type:varchar(16)" json:"payment_method"`                    // 支付方式
	PaymentIntentID          string                `gorm:"type:varchar(128);index" json:"payment_intent_id"`          // 外部支付意图
	ExternalPaymentConfirmed bool                  `gorm:"not null;default:false" json:"external_payment_confirmed"`  // 外部支付已到账
	IsPaid                   bool                  `gorm:"not null;default:false;index" json:"is_paid"`               // 是否已付清
	IsFlagged                bool                  `gorm:"not null;default:false;index" json:"is_flagged"`            // 异常标记
	FlagReason               string                `gorm:"type:varchar(255)" json:"flag_reason"`                      // 标记原因
	DeliveryDocuments        StringArray           `gorm:"type:json" json:"delivery_documents"`                       // 签收单据
	Notes                    string                `gorm:"type:text" json:"notes"`                                    // 备注
	ExpectedDeliveryAt       *time.Time            `gorm:"index" json:"expected_delivery_at,omitempty"`               // 预计送达
	OpenedAt                 *time.Time            `json:"opened_at,omitempty"`                                       // 开放竞价时间
	SelectedAt               *time.Time            `gorm:"index" json:"selected_at,omitempty"`                        // 选标时间
	AcknowledgedAt           *time.Time            `json:"acknowledged_at,omitempty"`                                 // 司机确认时间
	ReadyAt                  *time.Time            `json:"ready_at,omitempty"`                                        // 待装货时间
	PickedUpAt               *time.Time            `gorm:"index" json:"picked_up_at,omitempty"`                       // 开始运输时间
	DeliveredAt              *time.Time            `gorm:"index" json:"delivered_at,omitempty"`                       // 送达时间
	CancelledAt              *time.Time            `gorm:"index" json:"cancelled_at,omitempty"`                       // 取消时间
	CreatedAt                time.Time             `gorm:"index" json:"created_at"`                                   // 创建时间
	UpdatedAt                time.Time             `gorm:"index" json:"updated_at"`                                   // 更新时间
}

// TableName 指定表名
func (CargoOrder) TableName() string {
	return "cargo_orders"
}
