package payment

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"submaster/internal/config"
	"submaster/internal/model"
	"submaster/util/common"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

const TagYooKassa = "yookassa"

const yooKassaAPIURL = "https://api.yookassa.ru/v3"

// YooKassa creates redirect payments and verifies webhooks by source
// address: the provider signs nothing, so authenticity rests on its
// published sender subnets.
type YooKassa struct {
	shopId      string
	secretKey   string
	returnURL   string
	apiURL      string
	behindProxy bool
	trustedNets []*net.IPNet
	client      *http.Client
}

func NewYooKassa(cfg config.YooKassaConfig) (*YooKassa, error) {
	nets := make([]*net.IPNet, 0, len(cfg.TrustedSubnets))
	for _, cidr := range cfg.TrustedSubnets {
		_, block, err := net.ParseCIDR(cidr)
		if err != nil {
			return nil, common.NewErrorf("yookassa: invalid trusted subnet %q: %v", cidr, err)
		}
		nets = append(nets, block)
	}

	return &YooKassa{
		shopId:      cfg.ShopId,
		secretKey:   cfg.SecretKey,
		returnURL:   cfg.ReturnURL,
		apiURL:      yooKassaAPIURL,
		behindProxy: cfg.BehindProxy,
		trustedNets: nets,
		client:      &http.Client{Timeout: 10 * time.Second},
	}, nil
}

func (y *YooKassa) Tag() string { return TagYooKassa }

type yooAmount struct {
	Value    string `json:"value"`
	Currency string `json:"currency"`
}

type yooConfirmation struct {
	Type            string `json:"type"`
	ReturnURL       string `json:"return_url,omitempty"`
	ConfirmationURL string `json:"confirmation_url,omitempty"`
}

type yooCreateRequest struct {
	Amount       yooAmount         `json:"amount"`
	Capture      bool              `json:"capture"`
	Confirmation yooConfirmation   `json:"confirmation"`
	Description  string            `json:"description,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

type yooPayment struct {
	Id           string          `json:"id"`
	Status       string          `json:"status"`
	Confirmation yooConfirmation `json:"confirmation"`
}

type yooWebhook struct {
	Event  string     `json:"event"`
	Object yooPayment `json:"object"`
}

// CreatePayment creates a redirect payment intent. The request carries a
// fresh idempotence key, so a retried call cannot double-charge.
func (y *YooKassa) CreatePayment(ctx context.Context, sub *model.Subscriber, order model.SubscriptionOrder, description string) (*CreatedPayment, error) {
	reqBody := yooCreateRequest{
		Amount:  yooAmount{Value: fmt.Sprintf("%.2f", order.Price), Currency: "RUB"},
		Capture: true,
		Confirmation: yooConfirmation{
			Type:      "redirect",
			ReturnURL: y.returnURL,
		},
		Description: description,
		Metadata: map[string]string{
			"subscriber_id": fmt.Sprintf("%d", sub.Id),
		},
	}

	data, err := json.Marshal(reqBody)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, y.apiURL+"/payments", bytes.NewBuffer(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Idempotence-Key", uuid.New().String())
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(y.shopId, y.secretKey)

	resp, err := y.client.Do(req)
	if err != nil {
		return nil, common.NewError("yookassa request failed:", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		return nil, common.NewErrorf("yookassa api error (status %d): %s", resp.StatusCode, string(respBody))
	}

	var payment yooPayment
	if err := json.Unmarshal(respBody, &payment); err != nil {
		return nil, common.NewError("yookassa: failed to decode response:", err)
	}

	return &CreatedPayment{
		PaymentId:       payment.Id,
		ConfirmationURL: payment.Confirmation.ConfirmationURL,
	}, nil
}

// VerifyWebhook checks the sender address against the trusted subnets
// and maps the event onto an outcome.
func (y *YooKassa) VerifyWebhook(r *http.Request, body []byte) (*WebhookEvent, error) {
	ip := y.remoteIP(r)
	if !y.trustedSource(ip) {
		return nil, common.NewErrorf("yookassa webhook from untrusted address %s", ip)
	}

	var hook yooWebhook
	if err := json.Unmarshal(body, &hook); err != nil {
		return nil, common.NewError("yookassa: invalid webhook body:", err)
	}
	if hook.Object.Id == "" {
		return nil, common.NewError("yookassa: webhook missing payment id")
	}

	event := &WebhookEvent{PaymentId: hook.Object.Id}
	switch hook.Event {
	case "payment.succeeded":
		event.Outcome = OutcomeSucceeded
	case "payment.canceled":
		event.Outcome = OutcomeCanceled
	default:
		event.Outcome = OutcomeIgnored
	}
	return event, nil
}

func (y *YooKassa) trustedSource(ip string) bool {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return false
	}
	for _, block := range y.trustedNets {
		if block.Contains(parsed) {
			return true
		}
	}
	return false
}

// remoteIP resolves the sender address the allowlist is checked
// against. Forwarding headers are client-controlled, so they only count
// when a trusted proxy in front of the panel is configured.
func (y *YooKassa) remoteIP(r *http.Request) string {
	if y.behindProxy {
		if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
			return strings.TrimSpace(strings.Split(fwd, ",")[0])
		}
		if ip := r.Header.Get("X-Real-IP"); ip != "" {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
