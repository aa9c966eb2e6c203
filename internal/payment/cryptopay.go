package payment

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"submaster/internal/config"
	"submaster/internal/model"
	"submaster/internal/security"
	"submaster/util/common"

	"github.com/goccy/go-json"
)

const TagCryptoPay = "cryptopay"

const cryptoPayAPIURL = "https://pay.crypt.bot/api"

const cryptoPaySignatureHeader = "crypto-pay-api-signature"

// CryptoPay creates Crypto Bot invoices. Webhooks are authenticated by
// an HMAC-SHA256 of the raw body under the sha256 of the API token.
type CryptoPay struct {
	token  string
	apiURL string
	secret []byte
	client *http.Client
}

func NewCryptoPay(cfg config.CryptoPayConfig) *CryptoPay {
	apiURL := cfg.APIURL
	if apiURL == "" {
		apiURL = cryptoPayAPIURL
	}
	return &CryptoPay{
		token:  cfg.Token,
		apiURL: apiURL,
		secret: security.DeriveSecret(cfg.Token),
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *CryptoPay) Tag() string { return TagCryptoPay }

type cryptoInvoiceRequest struct {
	CurrencyType string `json:"currency_type"`
	Fiat         string `json:"fiat"`
	Amount       string `json:"amount"`
	Description  string `json:"description,omitempty"`
	Payload      string `json:"payload,omitempty"`
	ExpiresIn    int    `json:"expires_in,omitempty"`
}

type cryptoInvoice struct {
	InvoiceId     int64  `json:"invoice_id"`
	Status        string `json:"status"`
	BotInvoiceURL string `json:"bot_invoice_url"`
	Payload       string `json:"payload"`
}

type cryptoResponse struct {
	Ok     bool          `json:"ok"`
	Result cryptoInvoice `json:"result"`
	Error  *struct {
		Code int    `json:"code"`
		Name string `json:"name"`
	} `json:"error"`
}

type cryptoUpdate struct {
	UpdateType string        `json:"update_type"`
	Payload    cryptoInvoice `json:"payload"`
}

// CreatePayment creates a fiat-denominated invoice and returns its bot
// payment link.
func (c *CryptoPay) CreatePayment(ctx context.Context, sub *model.Subscriber, order model.SubscriptionOrder, description string) (*CreatedPayment, error) {
	reqBody := cryptoInvoiceRequest{
		CurrencyType: "fiat",
		Fiat:         "RUB",
		Amount:       fmt.Sprintf("%.2f", order.Price),
		Description:  description,
		Payload:      fmt.Sprintf("%d", sub.Id),
		ExpiresIn:    3600,
	}

	data, err := json.Marshal(reqBody)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL+"/createInvoice", bytes.NewBuffer(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Crypto-Pay-API-Token", c.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, common.NewError("cryptopay request failed:", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var parsed cryptoResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, common.NewError("cryptopay: failed to decode response:", err)
	}
	if !parsed.Ok {
		if parsed.Error != nil {
			return nil, common.NewErrorf("cryptopay api error %d: %s", parsed.Error.Code, parsed.Error.Name)
		}
		return nil, common.NewErrorf("cryptopay api error (status %d)", resp.StatusCode)
	}

	return &CreatedPayment{
		PaymentId:       strconv.FormatInt(parsed.Result.InvoiceId, 10),
		ConfirmationURL: parsed.Result.BotInvoiceURL,
	}, nil
}

// VerifyWebhook checks the body signature and maps invoice updates onto
// outcomes. Crypto Bot only delivers paid invoices; everything else is
// ignored.
func (c *CryptoPay) VerifyWebhook(r *http.Request, body []byte) (*WebhookEvent, error) {
	sig := r.Header.Get(cryptoPaySignatureHeader)
	if sig == "" {
		return nil, common.NewError("cryptopay: webhook missing signature header")
	}
	if !security.VerifyHMAC(body, c.secret, sig) {
		return nil, common.NewError("cryptopay: webhook signature mismatch")
	}

	var update cryptoUpdate
	if err := json.Unmarshal(body, &update); err != nil {
		return nil, common.NewError("cryptopay: invalid webhook body:", err)
	}
	if update.Payload.InvoiceId == 0 {
		return nil, common.NewError("cryptopay: webhook missing invoice id")
	}

	event := &WebhookEvent{PaymentId: strconv.FormatInt(update.Payload.InvoiceId, 10)}
	if update.UpdateType == "invoice_paid" {
		event.Outcome = OutcomeSucceeded
	} else {
		event.Outcome = OutcomeIgnored
	}
	return event, nil
}
