// Package vnpaytest provides an in-process sandbox of the VNPay merchant API for tests.
package vnpaytest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"time"

	"github.com/mediashop/api/internal/payments/vnpay"
)

// Transaction is the sandbox view of a gateway payment.
type Transaction struct {
	TxnRef            string
	Amount            int64
	TransactionNo     string
	BankCode          string
	OrderInfo         string
	PayDate           time.Time
	ResponseCode      string
	TransactionStatus string
}

// Server fakes the querydr and refund endpoints and signs callbacks.
type Server struct {
	TmnCode string
	Secret  string

	srv *httptest.Server

	mu       sync.Mutex
	txns     map[string]Transaction
	requests []map[string]string
	status   int
	delay    time.Duration
}

// NewServer starts a sandbox. Callers must Close it.
func NewServer(tmnCode, secret string) *Server {
	s := &Server{
		TmnCode: tmnCode,
		Secret:  secret,
		txns:    make(map[string]Transaction),
	}
	s.srv = httptest.NewServer(http.HandlerFunc(s.handle))
	return s
}

// URL is the merchant API endpoint.
func (s *Server) URL() string {
	return s.srv.URL
}

// Close shuts the sandbox down.
func (s *Server) Close() {
	s.srv.Close()
}

// Put registers or replaces a transaction.
func (s *Server) Put(tx Transaction) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.txns[tx.TxnRef] = tx
}

// Get returns the stored transaction.
func (s *Server) Get(txnRef string) (Transaction, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, ok := s.txns[txnRef]
	return tx, ok
}

// RespondWithStatus makes every subsequent API call fail with the given HTTP status. Zero resets.
func (s *Server) RespondWithStatus(code int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = code
}

// Delay holds every API response for d.
func (s *Server) Delay(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delay = d
}

// Requests returns the decoded request bodies received so far.
func (s *Server) Requests() []map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]map[string]string, len(s.requests))
	copy(out, s.requests)
	return out
}

// CallbackFields returns the signed query fields the gateway would deliver for tx.
func (s *Server) CallbackFields(tx Transaction) map[string]string {
	fields := map[string]string{
		"vnp_TmnCode":           s.TmnCode,
		"vnp_TxnRef":            tx.TxnRef,
		"vnp_Amount":            strconv.FormatInt(tx.Amount*100, 10),
		"vnp_ResponseCode":      tx.ResponseCode,
		"vnp_TransactionStatus": tx.TransactionStatus,
		"vnp_TransactionNo":     tx.TransactionNo,
		"vnp_BankCode":          tx.BankCode,
		"vnp_OrderInfo":         tx.OrderInfo,
		"vnp_CardType":          "ATM",
	}
	if !tx.PayDate.IsZero() {
		fields["vnp_PayDate"] = vnpay.FormatTimestamp(tx.PayDate)
	}
	fields[vnpay.FieldSecureHashType] = "HmacSHA512"
	fields[vnpay.FieldSecureHash] = vnpay.Sign(s.Secret, vnpay.Canonicalize(withoutHash(fields)))
	return fields
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	status := s.status
	delay := s.delay
	s.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-r.Context().Done():
			return
		}
	}
	if status != 0 {
		w.WriteHeader(status)
		return
	}
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var body map[string]string
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, map[string]string{"vnp_ResponseCode": "03", "vnp_Message": "Invalid request"})
		return
	}
	s.mu.Lock()
	s.requests = append(s.requests, body)
	s.mu.Unlock()

	switch body["vnp_Command"] {
	case "querydr":
		s.handleQuery(w, body)
	case "refund":
		s.handleRefund(w, body)
	default:
		writeJSON(w, map[string]string{"vnp_ResponseCode": "03", "vnp_Message": "Invalid command"})
	}
}

func (s *Server) handleQuery(w http.ResponseWriter, body map[string]string) {
	signed := vnpay.PipeJoin(
		body["vnp_RequestId"], body["vnp_Version"], body["vnp_Command"], body["vnp_TmnCode"],
		body["vnp_TxnRef"], body["vnp_TransactionDate"], body["vnp_CreateDate"], body["vnp_IpAddr"],
		body["vnp_OrderInfo"],
	)
	if vnpay.Sign(s.Secret, signed) != body[vnpay.FieldSecureHash] {
		writeJSON(w, map[string]string{"vnp_ResponseCode": "97", "vnp_Message": "Invalid Checksum"})
		return
	}
	tx, ok := s.Get(body["vnp_TxnRef"])
	if !ok {
		writeJSON(w, map[string]string{"vnp_ResponseCode": "91", "vnp_Message": "Order not found"})
		return
	}

	resp := map[string]string{
		"vnp_ResponseId":        "resp-" + body["vnp_RequestId"],
		"vnp_Command":           "querydr",
		"vnp_ResponseCode":      "00",
		"vnp_Message":           "QueryDR Success",
		"vnp_TmnCode":           s.TmnCode,
		"vnp_TxnRef":            tx.TxnRef,
		"vnp_Amount":            strconv.FormatInt(tx.Amount*100, 10),
		"vnp_BankCode":          tx.BankCode,
		"vnp_TransactionNo":     tx.TransactionNo,
		"vnp_TransactionType":   "01",
		"vnp_TransactionStatus": tx.TransactionStatus,
		"vnp_OrderInfo":         tx.OrderInfo,
	}
	if !tx.PayDate.IsZero() {
		resp["vnp_PayDate"] = vnpay.FormatTimestamp(tx.PayDate)
	}
	resp[vnpay.FieldSecureHash] = vnpay.Sign(s.Secret, vnpay.PipeJoin(
		resp["vnp_ResponseId"], resp["vnp_Command"], resp["vnp_ResponseCode"], resp["vnp_Message"],
		resp["vnp_TmnCode"], resp["vnp_TxnRef"], resp["vnp_Amount"], resp["vnp_BankCode"],
		resp["vnp_PayDate"], resp["vnp_TransactionNo"], resp["vnp_TransactionType"],
		resp["vnp_TransactionStatus"], resp["vnp_OrderInfo"], "", "",
	))
	writeJSON(w, resp)
}

func (s *Server) handleRefund(w http.ResponseWriter, body map[string]string) {
	signed := vnpay.PipeJoin(
		body["vnp_RequestId"], body["vnp_Version"], body["vnp_Command"], body["vnp_TmnCode"],
		body["vnp_TransactionType"], body["vnp_TxnRef"], body["vnp_Amount"], body["vnp_TransactionNo"],
		body["vnp_TransactionDate"], body["vnp_CreateBy"], body["vnp_CreateDate"], body["vnp_IpAddr"],
		body["vnp_OrderInfo"],
	)
	if vnpay.Sign(s.Secret, signed) != body[vnpay.FieldSecureHash] {
		writeJSON(w, map[string]string{"vnp_ResponseCode": "97", "vnp_Message": "Invalid Checksum"})
		return
	}
	tx, ok := s.Get(body["vnp_TxnRef"])
	if !ok {
		writeJSON(w, map[string]string{"vnp_ResponseCode": "91", "vnp_Message": "Order not found"})
		return
	}
	if tx.TransactionStatus != "00" {
		writeJSON(w, map[string]string{"vnp_ResponseCode": "95", "vnp_Message": "Transaction not successful"})
		return
	}
	tx.TransactionStatus = "05"
	s.Put(tx)

	resp := map[string]string{
		"vnp_ResponseId":        "resp-" + body["vnp_RequestId"],
		"vnp_Command":           "refund",
		"vnp_ResponseCode":      "00",
		"vnp_Message":           "Refund Success",
		"vnp_TmnCode":           s.TmnCode,
		"vnp_TxnRef":            tx.TxnRef,
		"vnp_Amount":            body["vnp_Amount"],
		"vnp_BankCode":          tx.BankCode,
		"vnp_TransactionNo":     tx.TransactionNo,
		"vnp_TransactionType":   body["vnp_TransactionType"],
		"vnp_TransactionStatus": tx.TransactionStatus,
		"vnp_OrderInfo":         body["vnp_OrderInfo"],
	}
	if !tx.PayDate.IsZero() {
		resp["vnp_PayDate"] = vnpay.FormatTimestamp(tx.PayDate)
	}
	resp[vnpay.FieldSecureHash] = vnpay.Sign(s.Secret, vnpay.PipeJoin(
		resp["vnp_ResponseId"], resp["vnp_Command"], resp["vnp_ResponseCode"], resp["vnp_Message"],
		resp["vnp_TmnCode"], resp["vnp_TxnRef"], resp["vnp_Amount"], resp["vnp_BankCode"],
		resp["vnp_PayDate"], resp["vnp_TransactionNo"], resp["vnp_TransactionType"],
		resp["vnp_TransactionStatus"], resp["vnp_OrderInfo"],
	))
	writeJSON(w, resp)
}

func withoutHash(fields map[string]string) map[string]string {
	out := make(map[string]string, len(fields))
	for key, value := range fields {
		if key == vnpay.FieldSecureHash || key == vnpay.FieldSecureHashType {
			continue
		}
		out[key] = value
	}
	return out
}

func writeJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(payload)
}
