// Package zarinpal implements the payment gateway contract against the
// Zarinpal v4 REST API.
package zarinpal

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"steward/internal/payments"
	"steward/pkg/logging"
)

// Verification codes the gateway reports for a settled payment. 101 means the
// authority was verified before; the money was collected either way.
const (
	codeApproved        = 100
	codeAlreadyVerified = 101
)

// Config holds the gateway endpoints and merchant credentials
type Config struct {
	MerchantID  string
	RequestURL  string
	VerifyURL   string
	StartPayURL string
	Timeout     time.Duration
}

// DefaultConfig returns the production Zarinpal endpoints
func DefaultConfig(merchantID string) Config {
	return Config{
		MerchantID:  merchantID,
		RequestURL:  "https://api.zarinpal.com/pg/v4/payment/request.json",
		VerifyURL:   "https://api.zarinpal.com/pg/v4/payment/verify.json",
		StartPayURL: "https://www.zarinpal.com/pg/StartPay/",
		Timeout:     15 * time.Second,
	}
}

// Client talks to the Zarinpal REST API. It implements payments.Gateway.
type Client struct {
	cfg    Config
	http   *resty.Client
	logger logging.Logger
}

// NewClient creates a gateway client
func NewClient(cfg Config, logger logging.Logger) *Client {
	httpClient := resty.New().
		SetTimeout(cfg.Timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")

	return &Client{
		cfg:    cfg,
		http:   httpClient,
		logger: logger,
	}
}

type requestPayload struct {
	MerchantID  string `json:"merchant_id"`
	Amount      int64  `json:"amount"`
	CallbackURL string `json:"callback_url"`
	Description string `json:"description"`
}

type verifyPayload struct {
	MerchantID string `json:"merchant_id"`
	Amount     int64  `json:"amount"`
	Authority  string `json:"authority"`
}

type requestData struct {
	Code      int    `json:"code"`
	Message   string `json:"message"`
	Authority string `json:"authority"`
}

type verifyData struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	RefID   json.Number `json:"ref_id"`
	CardPan string      `json:"card_pan"`
}

type gatewayError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// envelope is the v4 response wrapper. Both fields flip between object and
// empty array depending on the outcome, so they stay raw until inspected.
type envelope struct {
	Data   json.RawMessage `json:"data"`
	Errors json.RawMessage `json:"errors"`
}

func (e *envelope) decodeData(v interface{}) bool {
	if len(e.Data) == 0 || e.Data[0] != '{' {
		return false
	}
	return json.Unmarshal(e.Data, v) == nil
}

func (e *envelope) gatewayError() *gatewayError {
	var ge gatewayError
	if len(e.Errors) == 0 || e.Errors[0] != '{' {
		return nil
	}
	if err := json.Unmarshal(e.Errors, &ge); err != nil {
		return nil
	}
	return &ge
}

// Initiate registers a payment with the gateway and returns the authority
// token plus the redirect URL the payer should be sent to.
func (c *Client) Initiate(ctx context.Context, amount int64, description, callbackURL string) (*payments.InitiateResult, error) {
	var body envelope
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(requestPayload{
			MerchantID:  c.cfg.MerchantID,
			Amount:      amount,
			CallbackURL: callbackURL,
			Description: description,
		}).
		SetResult(&body).
		SetError(&body).
		Post(c.cfg.RequestURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", payments.ErrGatewayUnavailable, err)
	}

	var data requestData
	if body.decodeData(&data) && data.Code == codeApproved && data.Authority != "" {
		return &payments.InitiateResult{
			Authority:  data.Authority,
			PaymentURL: c.cfg.StartPayURL + data.Authority,
		}, nil
	}

	rejection := &payments.RejectionError{Code: data.Code, Message: data.Message}
	if ge := body.gatewayError(); ge != nil {
		rejection.Code = ge.Code
		rejection.Message = ge.Message
	}
	c.logger.WithFields(logging.Fields{
		"status": resp.StatusCode(),
		"code":   rejection.Code,
	}).Warn("Gateway rejected payment request")
	return nil, rejection
}

// Verify asks the gateway whether a payment completed for the given authority
// and amount. Codes 100 and 101 both mean the money was collected.
func (c *Client) Verify(ctx context.Context, amount int64, authority string) (*payments.VerifyResult, error) {
	var body envelope
	_, err := c.http.R().
		SetContext(ctx).
		SetBody(verifyPayload{
			MerchantID: c.cfg.MerchantID,
			Amount:     amount,
			Authority:  authority,
		}).
		SetResult(&body).
		SetError(&body).
		Post(c.cfg.VerifyURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", payments.ErrGatewayUnavailable, err)
	}

	var data verifyData
	if body.decodeData(&data) {
		switch data.Code {
		case codeApproved, codeAlreadyVerified:
			return &payments.VerifyResult{
				Approved: true,
				Code:     data.Code,
				RefID:    data.RefID.String(),
			}, nil
		}
	}

	code := data.Code
	if ge := body.gatewayError(); ge != nil {
		code = ge.Code
	}
	return &payments.VerifyResult{Approved: false, Code: code}, nil
}
