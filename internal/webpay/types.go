package webpay

import "time"

// createRequest is the body of POST /transactions.
type createRequest struct {
	BuyOrder  string `json:"buy_order"`
	SessionID string `json:"session_id"`
	Amount    int64  `json:"amount"`
	ReturnURL string `json:"return_url"`
}

// createResponse is the body returned by POST /transactions.
type createResponse struct {
	Token string `json:"token"`
	URL   string `json:"url"`
}

// transactionResponse is the body returned by commit (PUT) and status (GET).
type transactionResponse struct {
	VCI                string     `json:"vci"`
	Amount             float64    `json:"amount"`
	Status             string     `json:"status"`
	BuyOrder           string     `json:"buy_order"`
	SessionID          string     `json:"session_id"`
	CardDetail         cardDetail `json:"card_detail"`
	AccountingDate     string     `json:"accounting_date"`
	TransactionDate    time.Time  `json:"transaction_date"`
	AuthorizationCode  string     `json:"authorization_code"`
	PaymentTypeCode    string     `json:"payment_type_code"`
	ResponseCode       int        `json:"response_code"`
	InstallmentsNumber int        `json:"installments_number"`
	InstallmentsAmount float64    `json:"installments_amount,omitempty"`
	Balance            float64    `json:"balance,omitempty"`
}

type cardDetail struct {
	CardNumber string `json:"card_number"`
}

// errorResponse is the body Transbank returns on 4xx.
type errorResponse struct {
	ErrorMessage string `json:"error_message"`
}
