package controller

import (
	"io"
	"net/http"

	"submaster/internal/payment"
	"submaster/internal/service"
	"submaster/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/atomic"
)

// WebhookController receives payment provider callbacks. Verification is
// delegated to the gateway; verified events drive the transaction state
// machine. Providers retry on non-2xx, so a processing failure returns
// 500 to get the event redelivered.
type WebhookController struct {
	gateways     *payment.Registry
	transactions *service.TransactionService
	maintenance  *atomic.Bool
}

func NewWebhookController(g *gin.RouterGroup, gateways *payment.Registry, transactions *service.TransactionService, maintenance *atomic.Bool) *WebhookController {
	a := &WebhookController{
		gateways:     gateways,
		transactions: transactions,
		maintenance:  maintenance,
	}
	a.initRouter(g)
	return a
}

func (a *WebhookController) initRouter(g *gin.RouterGroup) {
	g.POST("/:tag", a.handleWebhook)
}

func (a *WebhookController) handleWebhook(c *gin.Context) {
	if a.maintenance.Load() {
		// 503 makes the provider retry after maintenance ends.
		pureJsonMsg(c, http.StatusServiceUnavailable, false, "maintenance")
		return
	}

	gw, err := a.gateways.Get(c.Param("tag"))
	if err != nil {
		pureJsonMsg(c, http.StatusNotFound, false, "unknown gateway")
		return
	}

	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		pureJsonMsg(c, http.StatusBadRequest, false, "unreadable body")
		return
	}

	event, err := gw.VerifyWebhook(c.Request, body)
	if err != nil {
		logger.Warningf("webhook rejected for %s from %s: %v", gw.Tag(), getRemoteIp(c), err)
		pureJsonMsg(c, http.StatusForbidden, false, "verification failed")
		return
	}

	ctx := c.Request.Context()
	switch event.Outcome {
	case payment.OutcomeSucceeded:
		err = a.transactions.HandleSucceeded(ctx, event.PaymentId)
	case payment.OutcomeCanceled:
		err = a.transactions.HandleCanceled(ctx, event.PaymentId)
	default:
		pureJsonMsg(c, http.StatusOK, true, "ignored")
		return
	}
	if err != nil {
		logger.Errorf("webhook processing failed for payment %s: %v", event.PaymentId, err)
		pureJsonMsg(c, http.StatusInternalServerError, false, "processing failed")
		return
	}

	pureJsonMsg(c, http.StatusOK, true, "ok")
}
