package service

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/freight-next/internal/constants"
)

// allowedTransitions 订单状态机
var allowedTransitions = map[constants.OrderStatus]map[constants.OrderStatus]bool{
	constants.OrderStatusDraft: {
		constants.OrderStatusOpen:      true,
		constants.OrderStatusCancelled: true,
	},
	constants.OrderStatusOpen: {
		constants.OrderStatusDriverSelected: true,
		constants.OrderStatusCancelled:      true,
	},
	constants.OrderStatusDriverSelected: {
		constants.OrderStatusDriverAcknowledged: true,
		constants.OrderStatusCancelled:          true,
	},
	constants.OrderStatusDriverAcknowledged: {
		constants.OrderStatusReadyForPickup: true,
		constants.OrderStatusCancelled:      true,
	},
	constants.OrderStatusReadyForPickup: {
		constants.OrderStatusInTransit: true,
		constants.OrderStatusCancelled: true,
	},
	constants.OrderStatusInTransit: {
		constants.OrderStatusDelivered: true,
		constants.OrderStatusCancelled: true,
	},
}

func isTransitionAllowed(current, target constants.OrderStatus) bool {
	nexts, ok := allowedTransitions[current]
	if !ok {
		return false
	}
	return nexts[target]
}

func ensureTransition(orderID uint, current, target constants.OrderStatus) error {
	if isTransitionAllowed(current, target) {
		return nil
	}
	return withDetail(ErrInvalidStateTransition, "order %d: %s -> %s", orderID, current, target)
}

// statusTimeColumn 进入某状态时写入的时间列
func statusTimeColumn(status constants.OrderStatus) string {
	switch status {
	case constants.OrderStatusOpen:
		return "opened_at"
	case constants.OrderStatusDriverSelected:
		return "selected_at"
	case constants.OrderStatusDriverAcknowledged:
		return "acknowledged_at"
	case constants.OrderStatusReadyForPickup:
		return "ready_at"
	case constants.OrderStatusInTransit:
		return "picked_up_at"
	case constants.OrderStatusDelivered:
		return "delivered_at"
	case constants.OrderStatusCancelled:
		return "cancelled_at"
	default:
		return ""
	}
}

func transitionUpdates(target constants.OrderStatus, now time.Time) map[string]interface{} {
	updates := map[string]interface{}{
		"status":     target,
		"updated_at": now,
	}
	if column := statusTimeColumn(target); column != "" {
		updates[column] = now
	}
	return updates
}

func generateOrderNo() string {
	now := time.Now().Format("20060102150405")
	return fmt.Sprintf("FO%s%s", now, randNumeric(6))
}

func randNumeric(length int) string {
	var b strings.Builder
	for i := 0; i < length; i++ {
		n, err := rand.Int(rand.Reader, big.NewInt(10))
		if err != nil {
			b.WriteString("0")
			continue
		}
		b.WriteString(fmt.Sprintf("%d", n.Int64()))
	}
	return b.String()
}
