package constants

// OrderStatus 货运订单状态
type OrderStatus int

// 订单状态（数值顺序即推进顺序）
const (
	OrderStatusDraft              OrderStatus = 0
	OrderStatusOpen               OrderStatus = 1
	OrderStatusDriverSelected     OrderStatus = 2
	OrderStatusDriverAcknowledged OrderStatus = 3
	OrderStatusReadyForPickup     OrderStatus = 4
	OrderStatusInTransit          OrderStatus = 5
	OrderStatusDelivered          OrderStatus = 6
	OrderStatusCancelled          OrderStatus = 7
)

var orderStatusNames = map[OrderStatus]string{
	OrderStatusDraft:              "draft",
	OrderStatusOpen:               "open",
	OrderStatusDriverSelected:     "driver_selected",
	OrderStatusDriverAcknowledged: "driver_acknowledged",
	OrderStatusReadyForPickup:     "ready_for_pickup",
	OrderStatusInTransit:          "in_transit",
	OrderStatusDelivered:          "delivered",
	OrderStatusCancelled:          "cancelled",
}

// String 返回状态的 snake_case 名称
func (s OrderStatus) String() string {
	if name, ok := orderStatusNames[s]; ok {
		return name
	}
	return "unknown"
}

// IsTerminal 是否为终态
func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusDelivered || s == OrderStatusCancelled
}

// HasAcceptedBid 该状态下订单必须已有中标出价
func (s OrderStatus) HasAcceptedBid() bool {
	return s >= OrderStatusDriverSelected && s <= OrderStatusDelivered
}

// 出价状态
const (
	BidStatusPending   = "pending"
	BidStatusAccepted  = "accepted"
	BidStatusRejected  = "rejected"
	BidStatusWithdrawn = "withdrawn"
)

// 出价提交方
const (
	BidSubmitterDriver     = "driver"
	BidSubmitterDispatcher = "dispatcher_on_behalf"
)

// 订单支付方式
const (
	PaymentMethodWallet   = "wallet"
	PaymentMethodExternal = "external"
	PaymentMethodMixed    = "mixed"
)

// 钱包所有者类型
const (
	WalletOwnerCargoOwner = "cargo_owner"
	WalletOwnerDriver     = "driver"
)

// 钱包交易类型
const (
	WalletTxnTypeDeliveryPayment = "delivery_payment"
	WalletTxnTypeOrderPayment    = "order_payment"
	WalletTxnTypeRefund          = "refund"
	WalletTxnTypeWithdrawal      = "withdrawal"
	WalletTxnTypePenalty         = "penalty"
	WalletTxnTypeTopUp           = "top_up"
	WalletTxnTypeAdjustment      = "adjustment"
)

// 钱包交易方向
const (
	WalletTxnDirectionIn  = "in"
	WalletTxnDirectionOut = "out"
)

// 司机结算状态
const (
	PayoutStatusPending   = "pending"
	PayoutStatusCompleted = "completed"
	PayoutStatusFailed    = "failed"
	PayoutStatusCancelled = "cancelled"
)

// 司机结算方式
const (
	PayoutMethodExternal = "external"
	PayoutMethodManual   = "manual"
)

// 外部退款状态
// awaiting_capture: 外部部分尚未扣款，等待撤销支付意图；voided: 意图已撤销，无需退款
const (
	RefundStatusNotRequired     = "not_required"
	RefundStatusPending         = "pending"
	RefundStatusCompleted       = "completed"
	RefundStatusFailed          = "failed"
	RefundStatusAwaitingCapture = "awaiting_capture"
	RefundStatusVoided          = "voided"
)

// 取消退款去向
const (
	RefundMethodNone     = "none"
	RefundMethodWallet   = "wallet"
	RefundMethodExternal = "external"
	RefundMethodMixed    = "mixed"
)

// 单据校验实体类型
const (
	DocumentEntityOrder  = "order"
	DocumentEntityDriver = "driver"
	DocumentEntityTruck  = "truck"
)

// 定时任务运行结果
const (
	JobRunStatusSuccess = "success"
	JobRunStatusFailed  = "failed"
)

// 定时任务名称
const (
	JobSettlement  = "settlement"
	JobProjections = "projections"
	JobPayoutRetry = "payout_retry"
)

// 操作人：系统任务
const ProcessedBySystem = "system"
