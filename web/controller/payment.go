package controller

import (
	"fmt"

	"submaster/internal/model"
	"submaster/internal/payment"
	"submaster/internal/service"

	"github.com/gin-gonic/gin"
)

// PaymentController creates payment intents. The front-end sends the
// priced order; we forward it to the chosen gateway and record the
// pending transaction under the provider's payment id.
type PaymentController struct {
	gateways     *payment.Registry
	subscribers  *service.SubscriberService
	transactions *service.TransactionService
}

func NewPaymentController(g *gin.RouterGroup, gateways *payment.Registry, subscribers *service.SubscriberService, transactions *service.TransactionService) *PaymentController {
	a := &PaymentController{
		gateways:     gateways,
		subscribers:  subscribers,
		transactions: transactions,
	}
	a.initRouter(g)
	return a
}

func (a *PaymentController) initRouter(g *gin.RouterGroup) {
	g.POST("/", a.createPayment)
	g.GET("/gateways", a.getGateways)
}

type createPaymentRequest struct {
	TelegramId   int64   `json:"telegram_id" binding:"required"`
	Gateway      string  `json:"gateway" binding:"required"`
	Devices      int     `json:"devices" binding:"required"`
	DurationDays int     `json:"duration_days" binding:"required"`
	Price        float64 `json:"price" binding:"required"`
	Extend       bool    `json:"extend"`
}

// createPayment asks the gateway for a payment link and stores the
// pending transaction with the order snapshot.
func (a *PaymentController) createPayment(c *gin.Context) {
	var req createPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		jsonMsg(c, "Failed to create payment", err)
		return
	}

	gw, err := a.gateways.Get(req.Gateway)
	if err != nil {
		jsonMsg(c, "Failed to create payment", err)
		return
	}

	sub, err := a.subscribers.GetOrCreate(c.Request.Context(), req.TelegramId, "")
	if err != nil {
		jsonMsg(c, "Failed to create payment", err)
		return
	}

	order := model.SubscriptionOrder{
		Devices:      req.Devices,
		DurationDays: req.DurationDays,
		Price:        req.Price,
		Extend:       req.Extend,
		Gateway:      req.Gateway,
	}

	description := fmt.Sprintf("Subscription: %d device(s), %d days", order.Devices, order.DurationDays)
	created, err := gw.CreatePayment(c.Request.Context(), sub, order, description)
	if err != nil {
		jsonMsg(c, "Failed to create payment", err)
		return
	}

	txn, err := a.transactions.Create(c.Request.Context(), sub, order, created.PaymentId)
	if err != nil {
		jsonMsg(c, "Failed to record transaction", err)
		return
	}

	jsonObj(c, gin.H{
		"transaction_id":   txn.Id,
		"payment_id":       created.PaymentId,
		"confirmation_url": created.ConfirmationURL,
	}, nil)
}

// getGateways lists the enabled payment gateway tags.
func (a *PaymentController) getGateways(c *gin.Context) {
	jsonObj(c, a.gateways.Tags(), nil)
}
