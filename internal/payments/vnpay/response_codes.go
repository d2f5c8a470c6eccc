package vnpay

import "strings"

// ResponseCodeSuccess is the only code that denotes an approved payment or accepted command.
const ResponseCodeSuccess = "00"

type responseText struct {
	vi string
	en string
}

// paymentResponses maps vnp_ResponseCode values delivered on return and IPN callbacks.
var paymentResponses = map[string]responseText{
	"00": {vi: "Giao dịch thành công", en: "Transaction successful"},
	"07": {vi: "Trừ tiền thành công. Giao dịch bị nghi ngờ gian lận", en: "Amount debited; transaction flagged as suspicious"},
	"09": {vi: "Thẻ/Tài khoản chưa đăng ký dịch vụ InternetBanking", en: "Card or account is not registered for internet banking"},
	"10": {vi: "Xác thực thông tin thẻ/tài khoản không đúng quá 3 lần", en: "Card or account verification failed more than 3 times"},
	"11": {vi: "Đã hết hạn chờ thanh toán", en: "Payment session expired"},
	"12": {vi: "Thẻ/Tài khoản bị khóa", en: "Card or account is locked"},
	"13": {vi: "Nhập sai mật khẩu xác thực giao dịch (OTP)", en: "Incorrect one-time password"},
	"24": {vi: "Khách hàng hủy giao dịch", en: "Transaction cancelled by customer"},
	"51": {vi: "Tài khoản không đủ số dư", en: "Insufficient funds"},
	"65": {vi: "Tài khoản đã vượt quá hạn mức giao dịch trong ngày", en: "Daily transaction limit exceeded"},
	"75": {vi: "Ngân hàng thanh toán đang bảo trì", en: "Issuing bank is under maintenance"},
	"79": {vi: "Nhập sai mật khẩu thanh toán quá số lần quy định", en: "Payment password entered incorrectly too many times"},
	"99": {vi: "Lỗi không xác định", en: "Unknown error"},
}

// commandResponses maps vnp_ResponseCode values returned by querydr and refund.
var commandResponses = map[string]responseText{
	"00": {vi: "Yêu cầu thành công", en: "Request successful"},
	"02": {vi: "Mã định danh kết nối không hợp lệ", en: "Invalid merchant code"},
	"03": {vi: "Dữ liệu gửi sang không đúng định dạng", en: "Malformed request"},
	"91": {vi: "Không tìm thấy giao dịch yêu cầu", en: "Transaction not found"},
	"94": {vi: "Yêu cầu bị trùng lặp trong thời gian giới hạn", en: "Duplicate request within the API limit window"},
	"95": {vi: "Giao dịch này không thành công bên VNPAY", en: "Transaction was not successful at the gateway"},
	"97": {vi: "Chữ ký không hợp lệ", en: "Invalid checksum"},
	"99": {vi: "Lỗi không xác định", en: "Unknown error"},
}

// transactionStatuses maps vnp_TransactionStatus values.
var transactionStatuses = map[string]responseText{
	"00": {vi: "Giao dịch thanh toán thành công", en: "Payment completed"},
	"01": {vi: "Giao dịch chưa hoàn tất", en: "Payment not completed"},
	"02": {vi: "Giao dịch bị lỗi", en: "Payment failed"},
	"04": {vi: "Giao dịch đảo", en: "Payment reversed"},
	"05": {vi: "VNPAY đang xử lý hoàn tiền", en: "Refund in progress"},
	"06": {vi: "VNPAY đã gửi yêu cầu hoàn tiền sang ngân hàng", en: "Refund sent to bank"},
	"07": {vi: "Giao dịch bị nghi ngờ gian lận", en: "Transaction flagged as suspicious"},
	"09": {vi: "Giao dịch hoàn trả bị từ chối", en: "Refund rejected"},
}

// ResponseMessage returns the customer facing text for a payment response code. Unknown codes
// fall back to the generic error text. Locale "en" selects English; anything else Vietnamese.
func ResponseMessage(code, locale string) string {
	return lookup(paymentResponses, code, locale)
}

// CommandMessage returns the text for a querydr/refund response code.
func CommandMessage(code, locale string) string {
	return lookup(commandResponses, code, locale)
}

// TransactionStatusMessage returns the text for a vnp_TransactionStatus value.
func TransactionStatusMessage(code, locale string) string {
	return lookup(transactionStatuses, code, locale)
}

// IsSuccess reports whether both the response code and, when present, the transaction status
// denote an approved payment.
func IsSuccess(responseCode, transactionStatus string) bool {
	if strings.TrimSpace(responseCode) != ResponseCodeSuccess {
		return false
	}
	status := strings.TrimSpace(transactionStatus)
	return status == "" || status == ResponseCodeSuccess
}

func lookup(table map[string]responseText, code, locale string) string {
	text, ok := table[strings.TrimSpace(code)]
	if !ok {
		text = table["99"]
		if text.vi == "" {
			text = paymentResponses["99"]
		}
	}
	if strings.HasPrefix(strings.ToLower(strings.TrimSpace(locale)), "en") {
		return text.en
	}
	return text.vi
}
