package repository

import (
	"time"

	"github.com/freight-next/internal/constants"
)

// OrderListFilter 查询货运订单列表的过滤条件
type OrderListFilter struct {
	Page         int
	PageSize     int
	CargoOwnerID uint
	DriverID     uint
	Statuses     []constants.OrderStatus
	OnlyFlagged  bool
	CreatedFrom  *time.Time
	CreatedTo    *time.Time
}

// OpenOrderFilter 司机侧可竞价订单过滤条件
type OpenOrderFilter struct {
	Page       int
	PageSize   int
	TruckType  string
	CapacityKg int // 车辆载重，过滤货重超出的订单
	Location   string
	Statuses   []constants.OrderStatus // 默认仅 Open
}

// BidListFilter 出价列表过滤条件
type BidListFilter struct {
	Page     int
	PageSize int
	OrderID  uint
	TruckID  uint
	DriverID uint
	Status   string
}

// WalletTransactionListFilter 钱包流水过滤条件
type WalletTransactionListFilter struct {
	Page        int
	PageSize    int
	WalletID    uint
	Type        string
	Direction   string
	OrderID     uint
	Ascending   bool
	CreatedFrom *time.Time
	CreatedTo   *time.Time
}

// PayoutListFilter 结算单过滤条件
type PayoutListFilter struct {
	Page        int
	PageSize    int
	DriverID    uint
	CycleKey    string
	Status      string
	CreatedFrom *time.Time
}
