// Package payment abstracts the third-party payment providers. Gateways
// differ only in their creation call and webhook verification scheme;
// every verified event funnels into the shared transaction lifecycle.
package payment

import (
	"context"
	"net/http"

	"submaster/internal/config"
	"submaster/internal/model"
	"submaster/util/common"
)

// Outcome classifies a verified webhook.
type Outcome string

const (
	OutcomeSucceeded Outcome = "succeeded"
	OutcomeCanceled  Outcome = "canceled"
	// OutcomeIgnored covers authentic events this core does not act on.
	OutcomeIgnored Outcome = "ignored"
)

// WebhookEvent is the provider-neutral result of webhook verification.
type WebhookEvent struct {
	PaymentId string
	Outcome   Outcome
}

// CreatedPayment is the handle returned by a provider for a new payment
// intent.
type CreatedPayment struct {
	PaymentId       string
	ConfirmationURL string
}

// Gateway is one payment provider. VerifyWebhook must reject forged
// requests with an error; an authentic but irrelevant event is returned
// with OutcomeIgnored.
type Gateway interface {
	Tag() string
	CreatePayment(ctx context.Context, sub *model.Subscriber, order model.SubscriptionOrder, description string) (*CreatedPayment, error)
	VerifyWebhook(r *http.Request, body []byte) (*WebhookEvent, error)
}

// Registry holds the gateways enabled by configuration, keyed by tag.
type Registry struct {
	gateways map[string]Gateway
}

// NewRegistry builds the registry from configuration; disabled providers
// are simply absent.
func NewRegistry(cfg config.PaymentsConfig) (*Registry, error) {
	r := &Registry{gateways: make(map[string]Gateway)}

	if cfg.YooKassa.Enabled {
		gw, err := NewYooKassa(cfg.YooKassa)
		if err != nil {
			return nil, err
		}
		r.gateways[gw.Tag()] = gw
	}
	if cfg.CryptoPay.Enabled {
		r.gateways[TagCryptoPay] = NewCryptoPay(cfg.CryptoPay)
	}

	return r, nil
}

// Get returns the gateway registered under tag.
func (r *Registry) Get(tag string) (Gateway, error) {
	gw, ok := r.gateways[tag]
	if !ok {
		return nil, common.NewErrorf("unknown payment gateway %q", tag)
	}
	return gw, nil
}

// Tags lists the enabled gateway tags.
func (r *Registry) Tags() []string {
	tags := make([]string, 0, len(r.gateways))
	for tag := range r.gateways {
		tags = append(tags, tag)
	}
	return tags
}
