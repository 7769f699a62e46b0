package payment

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ErrTransferNotFound 按幂等键查不到转账
var ErrTransferNotFound = errors.New("transfer not found")

// 转账状态
const (
	TransferStatusSucceeded = "succeeded"
	TransferStatusPending   = "pending"
	TransferStatusFailed    = "failed"
)

// TransferRequest 司机提现转账请求
type TransferRequest struct {
	DriverID          uint
	ExternalAccountID string
	Amount            decimal.Decimal
	Currency          string
	IdempotencyKey    string
	Description       string
}

// TransferResult 转账结果
type TransferResult struct {
	TransferID string
	Status     string
}

// PaymentIntentRequest 货主外部支付请求
type PaymentIntentRequest struct {
	OrderID        uint
	OrderNo        string
	CargoOwnerID   uint
	Amount         decimal.Decimal
	Currency       string
	IdempotencyKey string
}

// RefundRequest 外部支付原路退款请求
type RefundRequest struct {
	PaymentIntentID string
	Amount          decimal.Decimal
	Currency        string
	IdempotencyKey  string
	Reason          string
}

// CancelIntentRequest 撤销尚未扣款的支付意图
type CancelIntentRequest struct {
	PaymentIntentID string
	IdempotencyKey  string
	Reason          string
}

// Processor 外部支付通道
// 所有写操作都携带幂等键，同一键重复调用必须返回同一结果。
type Processor interface {
	CreateTransfer(ctx context.Context, req TransferRequest) (*TransferResult, error)
	GetTransfer(ctx context.Context, idempotencyKey string) (*TransferResult, error)
	CreatePaymentIntent(ctx context.Context, req PaymentIntentRequest) (string, error)
	RefundPaymentIntent(ctx context.Context, req RefundRequest) (bool, error)
	// CancelPaymentIntent 返回 false 表示意图已扣款，需改走退款
	CancelPaymentIntent(ctx context.Context, req CancelIntentRequest) (bool, error)
}

// NoopProcessor 本地开发用通道：所有调用直接成功，按幂等键记忆结果
type NoopProcessor struct {
	mu        sync.Mutex
	transfers map[string]*TransferResult
	intents   map[string]string
}

// NewNoopProcessor 创建本地通道
func NewNoopProcessor() *NoopProcessor {
	return &NoopProcessor{
		transfers: map[string]*TransferResult{},
		intents:   map[string]string{},
	}
}

// CreateTransfer 模拟转账
func (p *NoopProcessor) CreateTransfer(ctx context.Context, req TransferRequest) (*TransferResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if existing, ok := p.transfers[req.IdempotencyKey]; ok {
		return existing, nil
	}
	result := &TransferResult{TransferID: "tr_noop_" + uuid.NewString(), Status: TransferStatusSucceeded}
	p.transfers[req.IdempotencyKey] = result
	return result, nil
}

// GetTransfer 按幂等键查询
func (p *NoopProcessor) GetTransfer(ctx context.Context, idempotencyKey string) (*TransferResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if existing, ok := p.transfers[idempotencyKey]; ok {
		return existing, nil
	}
	return nil, ErrTransferNotFound
}

// CreatePaymentIntent 模拟支付意图
func (p *NoopProcessor) CreatePaymentIntent(ctx context.Context, req PaymentIntentRequest) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if existing, ok := p.intents[req.IdempotencyKey]; ok {
		return existing, nil
	}
	id := "pi_noop_" + uuid.NewString()
	p.intents[req.IdempotencyKey] = id
	return id, nil
}

// RefundPaymentIntent 模拟退款
func (p *NoopProcessor) RefundPaymentIntent(ctx context.Context, req RefundRequest) (bool, error) {
	return true, nil
}

// CancelPaymentIntent 模拟撤销
func (p *NoopProcessor) CancelPaymentIntent(ctx context.Context, req CancelIntentRequest) (bool, error) {
	return true, nil
}
