package vnpay

import (
	"bytes"
	"context"
	"crypto/hmac"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"golang.org/x/text/language"

	"github.com/mediashop/api/internal/platform/textutil"
)

const (
	defaultVersion    = "2.1.0"
	defaultLocale     = "vn"
	defaultOrderType  = "other"
	defaultPaymentTTL = 15 * time.Minute
	defaultTimeout    = 10 * time.Second
	defaultIPAddr     = "127.0.0.1"

	commandPay      = "pay"
	commandQuery    = "querydr"
	commandRefund   = "refund"
	currencyVND     = "VND"
	timestampLayout = "20060102150405"

	maxOrderInfoLength = 255
	maxResponseBytes   = 64 << 10
)

// RefundTypeFull and RefundTypePartial are the vnp_TransactionType values for refunds.
const (
	RefundTypeFull    = "02"
	RefundTypePartial = "03"
)

// gatewayZone is the fixed UTC+7 offset every gateway timestamp is expressed in.
var gatewayZone = time.FixedZone("ICT", 7*60*60)

// Logger mirrors the structured event logger used across the service layer.
type Logger func(ctx context.Context, event string, fields map[string]any)

// Config configures a Client.
type Config struct {
	TmnCode    string
	HashSecret string
	PayURL     string
	APIURL     string
	ReturnURL  string
	Version    string
	Locale     string
	OrderType  string
	PaymentTTL time.Duration
	Timeout    time.Duration
	ServerIP   string
	HTTPClient *http.Client
	Clock      func() time.Time
	RequestID  func() string
	Logger     Logger
}

// Client talks to a VNPay compatible gateway.
type Client struct {
	tmnCode    string
	secret     string
	payURL     string
	apiURL     string
	returnURL  string
	version    string
	locale     string
	orderType  string
	paymentTTL time.Duration
	timeout    time.Duration
	serverIP   string
	http       *http.Client
	clock      func() time.Time
	requestID  func() string
	logger     Logger
}

// NewClient validates cfg and applies defaults.
func NewClient(cfg Config) (*Client, error) {
	tmn := strings.TrimSpace(cfg.TmnCode)
	secret := strings.TrimSpace(cfg.HashSecret)
	payURL := strings.TrimSpace(cfg.PayURL)
	if tmn == "" || secret == "" || payURL == "" {
		return nil, errors.New("vnpay: tmn code, hash secret and pay url are required")
	}
	if _, err := url.Parse(payURL); err != nil {
		return nil, fmt.Errorf("vnpay: invalid pay url: %w", err)
	}

	client := &Client{
		tmnCode:    tmn,
		secret:     secret,
		payURL:     payURL,
		apiURL:     strings.TrimSpace(cfg.APIURL),
		returnURL:  strings.TrimSpace(cfg.ReturnURL),
		version:    defaultIfEmpty(cfg.Version, defaultVersion),
		locale:     defaultIfEmpty(cfg.Locale, defaultLocale),
		orderType:  defaultIfEmpty(cfg.OrderType, defaultOrderType),
		paymentTTL: cfg.PaymentTTL,
		timeout:    cfg.Timeout,
		serverIP:   defaultIfEmpty(cfg.ServerIP, defaultIPAddr),
		http:       cfg.HTTPClient,
		clock:      cfg.Clock,
		requestID:  cfg.RequestID,
		logger:     cfg.Logger,
	}
	if client.paymentTTL <= 0 {
		client.paymentTTL = defaultPaymentTTL
	}
	if client.timeout <= 0 {
		client.timeout = defaultTimeout
	}
	if client.http == nil {
		client.http = &http.Client{Timeout: client.timeout}
	}
	if client.clock == nil {
		client.clock = time.Now
	}
	if client.requestID == nil {
		client.requestID = func() string { return ulid.Make().String() }
	}
	if client.logger == nil {
		client.logger = func(context.Context, string, map[string]any) {}
	}
	return client, nil
}

// PaymentRequest describes a redirect payment to create.
type PaymentRequest struct {
	TxnRef    string
	Amount    int64
	OrderInfo string
	BankCode  string
	Locale    string
	IPAddr    string
	ReturnURL string
}

// PaymentRedirect is the signed URL the customer is sent to.
type PaymentRedirect struct {
	URL       string
	TxnRef    string
	CreatedAt time.Time
	ExpiresAt time.Time
	Fields    map[string]string
}

// InitiatePayment builds the signed pay URL. It performs no network I/O.
func (c *Client) InitiatePayment(ctx context.Context, req PaymentRequest) (PaymentRedirect, error) {
	if c == nil {
		return PaymentRedirect{}, errors.New("vnpay: client is nil")
	}
	txnRef := strings.TrimSpace(req.TxnRef)
	if txnRef == "" {
		return PaymentRedirect{}, errors.New("vnpay: txn ref is required")
	}
	if req.Amount <= 0 {
		return PaymentRedirect{}, errors.New("vnpay: amount must be positive")
	}
	returnURL := defaultIfEmpty(req.ReturnURL, c.returnURL)
	if returnURL == "" {
		return PaymentRedirect{}, errors.New("vnpay: return url is required")
	}

	created := c.clock().In(gatewayZone)
	expires := created.Add(c.paymentTTL)
	fields := map[string]string{
		"vnp_Version":    c.version,
		"vnp_Command":    commandPay,
		"vnp_TmnCode":    c.tmnCode,
		"vnp_Amount":     strconv.FormatInt(req.Amount*100, 10),
		"vnp_CurrCode":   currencyVND,
		"vnp_BankCode":   strings.TrimSpace(req.BankCode),
		"vnp_TxnRef":     txnRef,
		"vnp_OrderInfo":  textutil.ASCII(defaultIfEmpty(req.OrderInfo, "Thanh toan don hang "+txnRef), maxOrderInfoLength),
		"vnp_OrderType":  c.orderType,
		"vnp_Locale":     normalizeLocale(defaultIfEmpty(req.Locale, c.locale)),
		"vnp_ReturnUrl":  returnURL,
		"vnp_IpAddr":     defaultIfEmpty(req.IPAddr, c.serverIP),
		"vnp_CreateDate": created.Format(timestampLayout),
		"vnp_ExpireDate": expires.Format(timestampLayout),
	}

	signature := Sign(c.secret, Canonicalize(fields))
	query := EncodeQuery(fields)
	fields[FieldSecureHash] = signature

	separator := "?"
	if strings.Contains(c.payURL, "?") {
		separator = "&"
	}
	redirect := c.payURL + separator + query + "&" + FieldSecureHash + "=" + signature

	c.logger(ctx, "payments.vnpay.payment.initiated", map[string]any{
		"txnRef":    txnRef,
		"amount":    req.Amount,
		"expiresAt": expires.UTC(),
	})

	return PaymentRedirect{
		URL:       redirect,
		TxnRef:    txnRef,
		CreatedAt: created.UTC(),
		ExpiresAt: expires.UTC(),
		Fields:    fields,
	}, nil
}

// QueryRequest asks the gateway for the authoritative status of a payment.
type QueryRequest struct {
	TxnRef          string
	TransactionDate time.Time
	OrderInfo       string
	IPAddr          string
}

// QueryResult is the verified querydr response.
type QueryResult struct {
	ResponseCode      string
	Message           string
	TxnRef            string
	Amount            int64
	BankCode          string
	PayDate           *time.Time
	TransactionNo     string
	TransactionType   string
	TransactionStatus string
}

// Succeeded reports whether the gateway confirms the payment as completed.
func (r QueryResult) Succeeded() bool {
	return r.ResponseCode == ResponseCodeSuccess && r.TransactionStatus == ResponseCodeSuccess
}

// QueryStatus executes the querydr command.
func (c *Client) QueryStatus(ctx context.Context, req QueryRequest) (QueryResult, error) {
	if c == nil {
		return QueryResult{}, errors.New("vnpay: client is nil")
	}
	txnRef := strings.TrimSpace(req.TxnRef)
	if txnRef == "" {
		return QueryResult{}, errors.New("vnpay: txn ref is required")
	}
	if req.TransactionDate.IsZero() {
		return QueryResult{}, errors.New("vnpay: transaction date is required")
	}

	requestID := c.requestID()
	created := c.clock().In(gatewayZone).Format(timestampLayout)
	txnDate := req.TransactionDate.In(gatewayZone).Format(timestampLayout)
	ip := defaultIfEmpty(req.IPAddr, c.serverIP)
	info := textutil.ASCII(defaultIfEmpty(req.OrderInfo, "Truy van giao dich "+txnRef), maxOrderInfoLength)

	body := map[string]string{
		"vnp_RequestId":       requestID,
		"vnp_Version":         c.version,
		"vnp_Command":         commandQuery,
		"vnp_TmnCode":         c.tmnCode,
		"vnp_TxnRef":          txnRef,
		"vnp_OrderInfo":       info,
		"vnp_TransactionDate": txnDate,
		"vnp_CreateDate":      created,
		"vnp_IpAddr":          ip,
	}
	body[FieldSecureHash] = Sign(c.secret, PipeJoin(
		requestID, c.version, commandQuery, c.tmnCode, txnRef, txnDate, created, ip, info,
	))

	resp, err := c.post(ctx, commandQuery, body)
	if err != nil {
		return QueryResult{}, err
	}
	if err := c.verifyResponse(resp, commandQuery, txnRef, PipeJoin(
		resp.ResponseID, resp.Command, resp.ResponseCode, resp.Message, resp.TmnCode, resp.TxnRef,
		resp.Amount, resp.BankCode, resp.PayDate, resp.TransactionNo, resp.TransactionType,
		resp.TransactionStatus, resp.OrderInfo, resp.PromotionCode, resp.PromotionAmount,
	)); err != nil {
		return QueryResult{}, err
	}

	result := QueryResult{
		ResponseCode:      resp.ResponseCode,
		Message:           resp.Message,
		TxnRef:            resp.TxnRef,
		BankCode:          resp.BankCode,
		TransactionNo:     resp.TransactionNo,
		TransactionType:   resp.TransactionType,
		TransactionStatus: resp.TransactionStatus,
	}
	if resp.Amount != "" {
		amount, err := parseGatewayAmount(resp.Amount)
		if err != nil {
			return QueryResult{}, err
		}
		result.Amount = amount
	}
	if resp.PayDate != "" {
		payDate, err := ParseTimestamp(resp.PayDate)
		if err != nil {
			return QueryResult{}, err
		}
		result.PayDate = &payDate
	}

	c.logger(ctx, "payments.vnpay.query.completed", map[string]any{
		"txnRef":            txnRef,
		"requestId":         requestID,
		"responseCode":      result.ResponseCode,
		"transactionStatus": result.TransactionStatus,
	})
	return result, nil
}

// RefundRequest describes a full or partial refund of a settled payment.
type RefundRequest struct {
	TxnRef          string
	Amount          int64
	Partial         bool
	TransactionNo   string
	TransactionDate time.Time
	CreateBy        string
	OrderInfo       string
	IPAddr          string
}

// RefundResult is the verified refund response.
type RefundResult struct {
	ResponseCode      string
	Message           string
	TxnRef            string
	Amount            int64
	TransactionNo     string
	TransactionType   string
	TransactionStatus string
}

// Accepted reports whether the gateway accepted the refund.
func (r RefundResult) Accepted() bool {
	return r.ResponseCode == ResponseCodeSuccess
}

// RequestRefund executes the refund command.
func (c *Client) RequestRefund(ctx context.Context, req RefundRequest) (RefundResult, error) {
	if c == nil {
		return RefundResult{}, errors.New("vnpay: client is nil")
	}
	txnRef := strings.TrimSpace(req.TxnRef)
	if txnRef == "" {
		return RefundResult{}, errors.New("vnpay: txn ref is required")
	}
	if req.Amount <= 0 {
		return RefundResult{}, errors.New("vnpay: refund amount must be positive")
	}
	if req.TransactionDate.IsZero() {
		return RefundResult{}, errors.New("vnpay: transaction date is required")
	}

	requestID := c.requestID()
	txnType := RefundTypeFull
	if req.Partial {
		txnType = RefundTypePartial
	}
	amount := strconv.FormatInt(req.Amount*100, 10)
	created := c.clock().In(gatewayZone).Format(timestampLayout)
	txnDate := req.TransactionDate.In(gatewayZone).Format(timestampLayout)
	createBy := defaultIfEmpty(req.CreateBy, "system")
	ip := defaultIfEmpty(req.IPAddr, c.serverIP)
	info := textutil.ASCII(defaultIfEmpty(req.OrderInfo, "Hoan tien giao dich "+txnRef), maxOrderInfoLength)
	txnNo := strings.TrimSpace(req.TransactionNo)

	body := map[string]string{
		"vnp_RequestId":       requestID,
		"vnp_Version":         c.version,
		"vnp_Command":         commandRefund,
		"vnp_TmnCode":         c.tmnCode,
		"vnp_TransactionType": txnType,
		"vnp_TxnRef":          txnRef,
		"vnp_Amount":          amount,
		"vnp_TransactionNo":   txnNo,
		"vnp_TransactionDate": txnDate,
		"vnp_CreateBy":        createBy,
		"vnp_CreateDate":      created,
		"vnp_IpAddr":          ip,
		"vnp_OrderInfo":       info,
	}
	body[FieldSecureHash] = Sign(c.secret, PipeJoin(
		requestID, c.version, commandRefund, c.tmnCode, txnType, txnRef, amount, txnNo, txnDate,
		createBy, created, ip, info,
	))

	resp, err := c.post(ctx, commandRefund, body)
	if err != nil {
		return RefundResult{}, err
	}
	if err := c.verifyResponse(resp, commandRefund, txnRef, PipeJoin(
		resp.ResponseID, resp.Command, resp.ResponseCode, resp.Message, resp.TmnCode, resp.TxnRef,
		resp.Amount, resp.BankCode, resp.PayDate, resp.TransactionNo, resp.TransactionType,
		resp.TransactionStatus, resp.OrderInfo,
	)); err != nil {
		return RefundResult{}, err
	}

	result := RefundResult{
		ResponseCode:      resp.ResponseCode,
		Message:           resp.Message,
		TxnRef:            resp.TxnRef,
		TransactionNo:     resp.TransactionNo,
		TransactionType:   resp.TransactionType,
		TransactionStatus: resp.TransactionStatus,
	}
	if resp.Amount != "" {
		value, err := parseGatewayAmount(resp.Amount)
		if err != nil {
			return RefundResult{}, err
		}
		result.Amount = value
	}

	c.logger(ctx, "payments.vnpay.refund.completed", map[string]any{
		"txnRef":       txnRef,
		"requestId":    requestID,
		"responseCode": result.ResponseCode,
		"partial":      req.Partial,
	})
	return result, nil
}

// Callback is a verified return or IPN notification.
type Callback struct {
	TxnRef            string
	Amount            int64
	ResponseCode      string
	TransactionStatus string
	TransactionNo     string
	BankCode          string
	BankTranNo        string
	CardType          string
	OrderInfo         string
	TmnCode           string
	PayDate           *time.Time
	Fields            map[string]string
}

// Succeeded reports whether the callback confirms a completed payment.
func (c Callback) Succeeded() bool {
	return IsSuccess(c.ResponseCode, c.TransactionStatus)
}

// FieldsFromValues flattens a query string into the single-valued map the gateway signs.
func FieldsFromValues(values url.Values) map[string]string {
	fields := make(map[string]string, len(values))
	for key := range values {
		fields[key] = values.Get(key)
	}
	return fields
}

// ParseCallback verifies the signature over fields and decodes the typed payload. Signature
// failures return *InvalidSignatureError; malformed but correctly signed fields return a plain error.
func (c *Client) ParseCallback(fields map[string]string) (Callback, error) {
	if c == nil {
		return Callback{}, errors.New("vnpay: client is nil")
	}
	txnRef := strings.TrimSpace(fields["vnp_TxnRef"])
	if !Verify(c.secret, fields, fields[FieldSecureHash]) {
		return Callback{}, &InvalidSignatureError{TxnRef: txnRef, Source: "callback"}
	}
	if txnRef == "" {
		return Callback{}, errors.New("vnpay: callback missing vnp_TxnRef")
	}
	if tmn := strings.TrimSpace(fields["vnp_TmnCode"]); tmn != "" && tmn != c.tmnCode {
		return Callback{}, fmt.Errorf("vnpay: callback for unexpected merchant %q", tmn)
	}

	amount, err := parseGatewayAmount(fields["vnp_Amount"])
	if err != nil {
		return Callback{}, err
	}

	copied := make(map[string]string, len(fields))
	for key, value := range fields {
		copied[key] = value
	}

	cb := Callback{
		TxnRef:            txnRef,
		Amount:            amount,
		ResponseCode:      strings.TrimSpace(fields["vnp_ResponseCode"]),
		TransactionStatus: strings.TrimSpace(fields["vnp_TransactionStatus"]),
		TransactionNo:     strings.TrimSpace(fields["vnp_TransactionNo"]),
		BankCode:          strings.TrimSpace(fields["vnp_BankCode"]),
		BankTranNo:        strings.TrimSpace(fields["vnp_BankTranNo"]),
		CardType:          strings.TrimSpace(fields["vnp_CardType"]),
		OrderInfo:         fields["vnp_OrderInfo"],
		TmnCode:           strings.TrimSpace(fields["vnp_TmnCode"]),
		Fields:            copied,
	}
	if raw := strings.TrimSpace(fields["vnp_PayDate"]); raw != "" {
		payDate, err := ParseTimestamp(raw)
		if err != nil {
			return Callback{}, err
		}
		cb.PayDate = &payDate
	}
	return cb, nil
}

// ParseTimestamp decodes a yyyyMMddHHmmss gateway timestamp in UTC+7 and returns it in UTC.
func ParseTimestamp(value string) (time.Time, error) {
	ts, err := time.ParseInLocation(timestampLayout, strings.TrimSpace(value), gatewayZone)
	if err != nil {
		return time.Time{}, fmt.Errorf("vnpay: invalid timestamp %q: %w", value, err)
	}
	return ts.UTC(), nil
}

// FormatTimestamp renders t the way the gateway expects.
func FormatTimestamp(t time.Time) string {
	return t.In(gatewayZone).Format(timestampLayout)
}

type gatewayResponse struct {
	ResponseID        string `json:"vnp_ResponseId"`
	Command           string `json:"vnp_Command"`
	ResponseCode      string `json:"vnp_ResponseCode"`
	Message           string `json:"vnp_Message"`
	TmnCode           string `json:"vnp_TmnCode"`
	TxnRef            string `json:"vnp_TxnRef"`
	Amount            string `json:"vnp_Amount"`
	BankCode          string `json:"vnp_BankCode"`
	PayDate           string `json:"vnp_PayDate"`
	TransactionNo     string `json:"vnp_TransactionNo"`
	TransactionType   string `json:"vnp_TransactionType"`
	TransactionStatus string `json:"vnp_TransactionStatus"`
	OrderInfo         string `json:"vnp_OrderInfo"`
	PromotionCode     string `json:"vnp_PromotionCode"`
	PromotionAmount   string `json:"vnp_PromotionAmount"`
	SecureHash        string `json:"vnp_SecureHash"`
}

func (c *Client) post(ctx context.Context, command string, body map[string]string) (gatewayResponse, error) {
	if c.apiURL == "" {
		return gatewayResponse{}, fmt.Errorf("vnpay: %s: api url is not configured", command)
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return gatewayResponse{}, fmt.Errorf("vnpay: encode %s request: %w", command, err)
	}

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, c.apiURL, bytes.NewReader(payload))
	if err != nil {
		return gatewayResponse{}, fmt.Errorf("vnpay: build %s request: %w", command, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	start := c.clock()
	resp, err := c.http.Do(req)
	if err != nil {
		c.logger(ctx, "payments.vnpay.request.failed", map[string]any{
			"command": command,
			"error":   err.Error(),
		})
		return gatewayResponse{}, &GatewayUnavailableError{Command: command, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))
		return gatewayResponse{}, &GatewayUnavailableError{Command: command, StatusCode: resp.StatusCode}
	}

	var decoded gatewayResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&decoded); err != nil {
		return gatewayResponse{}, &GatewayUnavailableError{Command: command, Err: fmt.Errorf("decode response: %w", err)}
	}

	c.logger(ctx, "payments.vnpay.request.completed", map[string]any{
		"command":      command,
		"responseCode": decoded.ResponseCode,
		"durationMs":   c.clock().Sub(start).Milliseconds(),
	})
	return decoded, nil
}

// verifyResponse checks the response signature. Error responses that carry no signature are
// accepted as-is because the gateway does not sign them.
func (c *Client) verifyResponse(resp gatewayResponse, command, txnRef, signed string) error {
	provided := strings.ToLower(strings.TrimSpace(resp.SecureHash))
	if provided == "" && resp.ResponseCode != ResponseCodeSuccess {
		return nil
	}
	expected := Sign(c.secret, signed)
	if provided == "" || !hmac.Equal([]byte(provided), []byte(expected)) {
		return &InvalidSignatureError{TxnRef: txnRef, Source: command}
	}
	return nil
}

func parseGatewayAmount(raw string) (int64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, errors.New("vnpay: amount is missing")
	}
	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || value < 0 {
		return 0, fmt.Errorf("vnpay: invalid amount %q", raw)
	}
	return value / 100, nil
}

// normalizeLocale maps any English BCP 47 tag to "en" and everything else to "vn".
func normalizeLocale(locale string) string {
	tag, err := language.Parse(strings.ReplaceAll(strings.TrimSpace(locale), "_", "-"))
	if err != nil {
		return defaultLocale
	}
	if base, _ := tag.Base(); base.String() == "en" {
		return "en"
	}
	return defaultLocale
}

func defaultIfEmpty(value, fallback string) string {
	if trimmed := strings.TrimSpace(value); trimmed != "" {
		return trimmed
	}
	return fallback
}
