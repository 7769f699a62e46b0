package service

import (
	"errors"
	"fmt"
	"unicode/utf8"
)

// ErrorKind 业务错误分类
type ErrorKind string

// 错误分类
const (
	KindValidation        ErrorKind = "validation"
	KindNotFound          ErrorKind = "not_found"
	KindConflict          ErrorKind = "conflict"
	KindInsufficientFunds ErrorKind = "insufficient_funds"
	KindExternalService   ErrorKind = "external_service"
	KindPersistence       ErrorKind = "persistence"
)

// Error 统一业务错误
type Error struct {
	Kind    ErrorKind
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return e.Message + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is 同类错误互相匹配；Code 非空时要求 Code 一致
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Kind != e.Kind {
		return false
	}
	return t.Code == "" || t.Code == e.Code
}

// 分类哨兵，用于 errors.Is(err, ErrValidation)
var (
	ErrValidation        = &Error{Kind: KindValidation, Message: "validation failed"}
	ErrNotFound          = &Error{Kind: KindNotFound, Message: "not found"}
	ErrConflict          = &Error{Kind: KindConflict, Message: "conflict"}
	ErrInsufficientFunds = &Error{Kind: KindInsufficientFunds, Message: "insufficient funds"}
	ErrExternalService   = &Error{Kind: KindExternalService, Message: "external service failed"}
	ErrPersistence       = &Error{Kind: KindPersistence, Message: "persistence failed"}
)

// 具体业务错误
var (
	ErrOrderNotFound             = newError(KindNotFound, "order_not_found", "订单不存在")
	ErrBidNotFound               = newError(KindNotFound, "bid_not_found", "出价不存在")
	ErrTruckNotFound             = newError(KindNotFound, "truck_not_found", "车辆不存在")
	ErrWalletNotFound            = newError(KindNotFound, "wallet_not_found", "钱包不存在")
	ErrPayoutNotFound            = newError(KindNotFound, "payout_not_found", "结算单不存在")
	ErrScheduleNotFound          = newError(KindNotFound, "schedule_not_found", "提现批次不存在")
	ErrAgreementNotFound         = newError(KindNotFound, "agreement_not_found", "代报协议不存在")
	ErrInvalidStateTransition    = newError(KindValidation, "invalid_state_transition", "订单状态不允许该操作")
	ErrOrderNotOwned             = newError(KindValidation, "order_not_owned", "无权操作该订单")
	ErrNotAssignedDriver         = newError(KindValidation, "not_assigned_driver", "非中标司机")
	ErrBidOrderMismatch          = newError(KindValidation, "bid_order_mismatch", "出价不属于该订单")
	ErrBidNotPending             = newError(KindValidation, "bid_not_pending", "出价已不可修改")
	ErrBidAmountInvalid          = newError(KindValidation, "bid_amount_invalid", "报价金额无效")
	ErrBidNotOwned               = newError(KindValidation, "bid_not_owned", "无权操作该出价")
	ErrTruckNotOwned             = newError(KindValidation, "truck_not_owned", "车辆不属于该司机")
	ErrTruckInactive             = newError(KindValidation, "truck_inactive", "车辆不可用")
	ErrAgreementRequired         = newError(KindValidation, "agreement_required", "缺少有效的代报协议")
	ErrSubmitterInvalid          = newError(KindValidation, "submitter_invalid", "出价提交方无效")
	ErrDocumentsNotApproved      = newError(KindValidation, "documents_not_approved", "单据尚未审核通过")
	ErrDeliveryDocumentsRequired = newError(KindValidation, "delivery_documents_required", "缺少签收单据")
	ErrAmountInvalid             = newError(KindValidation, "amount_invalid", "金额必须大于 0")
	ErrOrderInputInvalid         = newError(KindValidation, "order_input_invalid", "订单参数无效")
	ErrScheduleProcessed         = newError(KindValidation, "schedule_processed", "提现批次已处理")
	ErrWalletOwnerInvalid        = newError(KindValidation, "wallet_owner_invalid", "钱包所有者无效")
	ErrReferenceRequired         = newError(KindValidation, "reference_required", "缺少流水参考号")
	ErrPayoutNotRetryable        = newError(KindValidation, "payout_not_retryable", "结算单不可重试")
	ErrBidAlreadyAccepted        = newError(KindConflict, "bid_already_accepted", "订单已选定中标出价")
	ErrDuplicateBid              = newError(KindConflict, "duplicate_bid", "该车辆已有有效出价")
	ErrPayoutAlreadyCompleted    = newError(KindConflict, "payout_already_completed", "本周期已结算")
	ErrPayoutInFlight            = newError(KindConflict, "payout_in_flight", "本周期结算处理中")
	ErrWalletInsufficientBalance = newError(KindInsufficientFunds, "wallet_insufficient_balance", "钱包余额不足")
	ErrBelowPayoutThreshold      = newError(KindValidation, "below_payout_threshold", "余额未达到结算门槛")
	ErrPaymentProviderFailed     = newError(KindExternalService, "payment_provider_failed", "外部支付通道调用失败")
)

func newError(kind ErrorKind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

// wrapPersistence 将底层存储错误包装为 Persistence
func wrapPersistence(op string, err error) error {
	if err == nil {
		return nil
	}
	var typed *Error
	if errors.As(err, &typed) {
		return err
	}
	return &Error{Kind: KindPersistence, Code: "persistence_failed", Message: op, Err: err}
}

// wrapExternal 包装外部通道错误
func wrapExternal(op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: KindExternalService, Code: ErrPaymentProviderFailed.Code, Message: op, Err: err}
}

// withDetail 在具体错误上附加上下文
func withDetail(base *Error, format string, args ...interface{}) error {
	return &Error{Kind: base.Kind, Code: base.Code, Message: base.Message + ": " + fmt.Sprintf(format, args...)}
}

// KindOf 返回错误分类，未分类错误视为 Persistence
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var typed *Error
	if errors.As(err, &typed) {
		return typed.Kind
	}
	return KindPersistence
}

// clipMessage 按字符截断错误信息，不切断多字节字符
func clipMessage(message string, limit int) string {
	if limit <= 0 || utf8.RuneCountInString(message) <= limit {
		return message
	}
	return string([]rune(message)[:limit])
}
