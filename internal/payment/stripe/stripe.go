package stripe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/freight-next/internal/payment"

	"github.com/shopspring/decimal"
)

var (
	ErrConfigInvalid   = errors.New("stripe config invalid")
	ErrRequestFailed   = errors.New("stripe request failed")
	ErrResponseInvalid = errors.New("stripe response invalid")
)

const (
	defaultAPIBaseURL = "https://api.stripe.com"
	defaultTimeout    = 12 * time.Second
)

var zeroDecimalCurrencies = map[string]struct{}{
	"BIF": {},
	"CLP": {},
	"JPY": {},
	"KRW": {},
	"PYG": {},
	"RWF": {},
	"UGX": {},
	"VND": {},
	"XAF": {},
	"XOF": {},
}

// Config Stripe 通道配置。
type Config struct {
	SecretKey  string
	APIBaseURL string
	Timeout    time.Duration
}

// Client Stripe 通道，实现 payment.Processor。
// 司机提现走 Connect transfers，货主支付走 payment intents。
type Client struct {
	cfg  Config
	http *http.Client
}

var _ payment.Processor = (*Client)(nil)

// ValidateConfig 校验配置。
func ValidateConfig(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("%w: config is nil", ErrConfigInvalid)
	}
	if strings.TrimSpace(cfg.SecretKey) == "" {
		return fmt.Errorf("%w: secret_key is required", ErrConfigInvalid)
	}
	if _, err := url.ParseRequestURI(strings.TrimSpace(cfg.APIBaseURL)); err != nil {
		return fmt.Errorf("%w: api_base_url is invalid", ErrConfigInvalid)
	}
	return nil
}

// NewClient 创建 Stripe 通道。
func NewClient(cfg Config) (*Client, error) {
	cfg.SecretKey = strings.TrimSpace(cfg.SecretKey)
	cfg.APIBaseURL = strings.TrimRight(strings.TrimSpace(cfg.APIBaseURL), "/")
	if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = defaultAPIBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if err := ValidateConfig(&cfg); err != nil {
		return nil, err
	}
	return &Client{cfg: cfg, http: &http.Client{Timeout: cfg.Timeout}}, nil
}

// CreateTransfer 向司机 Connect 账户转账，transfer_group 记录幂等键以便回查。
func (c *Client) CreateTransfer(ctx context.Context, req payment.TransferRequest) (*payment.TransferResult, error) {
	if strings.TrimSpace(req.ExternalAccountID) == "" {
		return nil, fmt.Errorf("%w: destination is required", ErrConfigInvalid)
	}
	minor, err := toMinorAmount(req.Amount, req.Currency)
	if err != nil {
		return nil, err
	}
	form := url.Values{}
	form.Set("amount", strconv.FormatInt(minor, 10))
	form.Set("currency", strings.ToLower(strings.TrimSpace(req.Currency)))
	form.Set("destination", strings.TrimSpace(req.ExternalAccountID))
	form.Set("transfer_group", req.IdempotencyKey)
	form.Set("metadata[driver_id]", strconv.FormatUint(uint64(req.DriverID), 10))
	if desc := strings.TrimSpace(req.Description); desc != "" {
		form.Set("description", desc)
	}

	raw, err := c.post(ctx, "/v1/transfers", form, req.IdempotencyKey)
	if err != nil {
		return nil, err
	}
	id := readString(raw, "id")
	if id == "" {
		return nil, fmt.Errorf("%w: missing transfer id", ErrResponseInvalid)
	}
	status := payment.TransferStatusSucceeded
	if readBool(raw, "reversed") {
		status = payment.TransferStatusFailed
	}
	return &payment.TransferResult{TransferID: id, Status: status}, nil
}

// GetTransfer 按 transfer_group（幂等键）回查转账。
func (c *Client) GetTransfer(ctx context.Context, idempotencyKey string) (*payment.TransferResult, error) {
	query := url.Values{}
	query.Set("transfer_group", idempotencyKey)
	query.Set("limit", "1")
	body, statusCode, err := c.do(ctx, http.MethodGet, "/v1/transfers?"+query.Encode(), nil, "")
	if err != nil {
		return nil, err
	}
	if statusCode < 200 || statusCode >= 300 {
		return nil, fmt.Errorf("%w: list transfers status %d", ErrResponseInvalid, statusCode)
	}
	raw, err := decodeRawMap(body)
	if err != nil {
		return nil, err
	}
	items, _ := raw["data"].([]interface{})
	if len(items) == 0 {
		return nil, payment.ErrTransferNotFound
	}
	first, ok := items[0].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("%w: transfer item invalid", ErrResponseInvalid)
	}
	status := payment.TransferStatusSucceeded
	if readBool(first, "reversed") {
		status = payment.TransferStatusFailed
	}
	return &payment.TransferResult{TransferID: readString(first, "id"), Status: status}, nil
}

// CreatePaymentIntent 为订单外部支付部分创建 PaymentIntent。
func (c *Client) CreatePaymentIntent(ctx context.Context, req payment.PaymentIntentRequest) (string, error) {
	minor, err := toMinorAmount(req.Amount, req.Currency)
	if err != nil {
		return "", err
	}
	form := url.Values{}
	form.Set("amount", strconv.FormatInt(minor, 10))
	form.Set("currency", strings.ToLower(strings.TrimSpace(req.Currency)))
	form.Set("metadata[order_id]", strconv.FormatUint(uint64(req.OrderID), 10))
	form.Set("metadata[order_no]", req.OrderNo)
	form.Set("metadata[cargo_owner_id]", strconv.FormatUint(uint64(req.CargoOwnerID), 10))
	form.Set("automatic_payment_methods[enabled]", "true")

	raw, err := c.post(ctx, "/v1/payment_intents", form, req.IdempotencyKey)
	if err != nil {
		return "", err
	}
	id := readString(raw, "id")
	if id == "" {
		return "", fmt.Errorf("%w: missing payment intent id", ErrResponseInvalid)
	}
	return id, nil
}

// RefundPaymentIntent 原路退款。
func (c *Client) RefundPaymentIntent(ctx context.Context, req payment.RefundRequest) (bool, error) {
	if strings.TrimSpace(req.PaymentIntentID) == "" {
		return false, fmt.Errorf("%w: payment_intent is required", ErrConfigInvalid)
	}
	minor, err := toMinorAmount(req.Amount, req.Currency)
	if err != nil {
		return false, err
	}
	form := url.Values{}
	form.Set("payment_intent", strings.TrimSpace(req.PaymentIntentID))
	form.Set("amount", strconv.FormatInt(minor, 10))
	if reason := strings.TrimSpace(req.Reason); reason != "" {
		form.Set("metadata[reason]", reason)
	}

	raw, err := c.post(ctx, "/v1/refunds", form, req.IdempotencyKey)
	if err != nil {
		return false, err
	}
	switch readString(raw, "status") {
	case "succeeded", "pending":
		return true, nil
	default:
		return false, nil
	}
}

// CancelPaymentIntent 撤销未扣款的支付意图；已扣款时返回 false
func (c *Client) CancelPaymentIntent(ctx context.Context, req payment.CancelIntentRequest) (bool, error) {
	intentID := strings.TrimSpace(req.PaymentIntentID)
	if intentID == "" {
		return false, fmt.Errorf("%w: payment_intent is required", ErrConfigInvalid)
	}
	form := url.Values{}
	form.Set("cancellation_reason", "requested_by_customer")

	raw, err := c.post(ctx, "/v1/payment_intents/"+url.PathEscape(intentID)+"/cancel", form, req.IdempotencyKey)
	if err != nil {
		return false, err
	}
	switch readString(raw, "status") {
	case "canceled":
		return true, nil
	default:
		return false, nil
	}
}

func (c *Client) post(ctx context.Context, path string, form url.Values, idempotencyKey string) (map[string]interface{}, error) {
	body, statusCode, err := c.do(ctx, http.MethodPost, path, form, idempotencyKey)
	if err != nil {
		return nil, err
	}
	if statusCode < 200 || statusCode >= 300 {
		raw, _ := decodeRawMap(body)
		message := readString(readMap(raw, "error"), "message")
		return nil, fmt.Errorf("%w: %s status %d %s", ErrResponseInvalid, path, statusCode, message)
	}
	return decodeRawMap(body)
}

func (c *Client) do(ctx context.Context, method, path string, form url.Values, idempotencyKey string) ([]byte, int, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	var reader io.Reader
	if form != nil {
		reader = strings.NewReader(form.Encode())
	}
	req, err := http.NewRequestWithContext(ctx, method, c.cfg.APIBaseURL+path, reader)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: build request failed", ErrRequestFailed)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.SecretKey)
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	if key := strings.TrimSpace(idempotencyKey); key != "" {
		req.Header.Set("Idempotency-Key", key)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrRequestFailed, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("%w: read response failed", ErrResponseInvalid)
	}
	return body, resp.StatusCode, nil
}

func toMinorAmount(amount decimal.Decimal, currency string) (int64, error) {
	if strings.TrimSpace(currency) == "" {
		return 0, fmt.Errorf("%w: currency is required", ErrConfigInvalid)
	}
	if amount.LessThanOrEqual(decimal.Zero) {
		return 0, fmt.Errorf("%w: amount must be greater than zero", ErrConfigInvalid)
	}
	minor := amount.Shift(int32(currencyScale(currency)))
	if !minor.Equal(minor.Truncate(0)) {
		return 0, fmt.Errorf("%w: amount precision is invalid", ErrConfigInvalid)
	}
	return minor.IntPart(), nil
}

func currencyScale(currency string) int {
	upper := strings.ToUpper(strings.TrimSpace(currency))
	if _, ok := zeroDecimalCurrencies[upper]; ok {
		return 0
	}
	return 2
}

func decodeRawMap(body []byte) (map[string]interface{}, error) {
	var raw map[string]interface{}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("%w: decode response failed", ErrResponseInvalid)
	}
	return raw, nil
}

func readString(raw map[string]interface{}, key string) string {
	if raw == nil {
		return ""
	}
	value, ok := raw[key].(string)
	if !ok {
		return ""
	}
	return strings.TrimSpace(value)
}

func readBool(raw map[string]interface{}, key string) bool {
	if raw == nil {
		return false
	}
	value, _ := raw[key].(bool)
	return value
}

func readMap(raw map[string]interface{}, key string) map[string]interface{} {
	if raw == nil {
		return nil
	}
	mapped, _ := raw[key].(map[string]interface{})
	return mapped
}
