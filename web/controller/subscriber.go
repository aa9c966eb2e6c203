package controller

import (
	"errors"
	"strconv"

	"submaster/internal/config"
	"submaster/internal/model"
	"submaster/internal/service"
	"submaster/util/common"

	"github.com/gin-gonic/gin"
)

// SubscriberController exposes subscriber registration, profile lookup,
// trial activation and promocode redemption to the chat front-end.
type SubscriberController struct {
	subscribers   *service.SubscriberService
	subscriptions *service.SubscriptionService
	referrals     *service.ReferralService
	promocodes    *service.PromocodeService
	trial         config.TrialConfig
}

func NewSubscriberController(g *gin.RouterGroup, subscribers *service.SubscriberService, subscriptions *service.SubscriptionService,
	referrals *service.ReferralService, promocodes *service.PromocodeService, trial config.TrialConfig) *SubscriberController {
	a := &SubscriberController{
		subscribers:   subscribers,
		subscriptions: subscriptions,
		referrals:     referrals,
		promocodes:    promocodes,
		trial:         trial,
	}
	a.initRouter(g)
	return a
}

func (a *SubscriberController) initRouter(g *gin.RouterGroup) {
	g.POST("/", a.register)
	g.GET("/:telegramId", a.getProfile)
	g.POST("/:telegramId/trial", a.activateTrial)
	g.POST("/:telegramId/promocode", a.activatePromocode)
}

type registerRequest struct {
	TelegramId   int64  `json:"telegram_id" binding:"required"`
	InviteSource string `json:"invite_source"`
	ReferrerId   int64  `json:"referrer_id"`
}

// register creates the subscriber on first contact. A referrer id binds
// the referral edge; re-registering with a different referrer is a no-op.
func (a *SubscriberController) register(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		jsonMsg(c, "Failed to register subscriber", err)
		return
	}

	sub, err := a.subscribers.GetOrCreate(c.Request.Context(), req.TelegramId, req.InviteSource)
	if err != nil {
		jsonMsg(c, "Failed to register subscriber", err)
		return
	}

	if req.ReferrerId != 0 {
		if err := a.referrals.EnsureReferral(c.Request.Context(), sub.Id, req.ReferrerId); err != nil {
			jsonMsg(c, "Failed to bind referral", err)
			return
		}
	}

	jsonObj(c, sub, nil)
}

// getProfile returns the subscriber row together with the live access
// record from their node, when one exists.
func (a *SubscriberController) getProfile(c *gin.Context) {
	sub, ok := a.lookup(c)
	if !ok {
		return
	}

	record, err := a.subscriptions.RemoteRecord(c.Request.Context(), sub)
	switch {
	case err == nil:
		jsonObj(c, gin.H{"subscriber": sub, "subscription": record}, nil)
	case errors.Is(err, common.ErrClientNotFound) || errors.Is(err, common.ErrNoNodeAvailable):
		jsonObj(c, gin.H{"subscriber": sub, "subscription": nil}, nil)
	default:
		jsonMsg(c, "Failed to read subscription state", err)
	}
}

// activateTrial grants the one-time trial.
func (a *SubscriberController) activateTrial(c *gin.Context) {
	sub, ok := a.lookup(c)
	if !ok {
		return
	}
	if !a.trial.Enabled {
		jsonMsg(c, "Trial", common.NewError("trial is disabled"))
		return
	}
	if err := a.subscriptions.ActivateTrial(c.Request.Context(), sub, a.trial); err != nil {
		jsonMsg(c, "Failed to activate trial", err)
		return
	}
	jsonObj(c, gin.H{"days": a.trial.Days, "devices": a.trial.Devices}, nil)
}

type activatePromocodeRequest struct {
	Code string `json:"code" binding:"required"`
}

// activatePromocode redeems a promocode for the subscriber.
func (a *SubscriberController) activatePromocode(c *gin.Context) {
	sub, ok := a.lookup(c)
	if !ok {
		return
	}
	var req activatePromocodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		jsonMsg(c, "Failed to activate promocode", err)
		return
	}
	promo, err := a.promocodes.Activate(c.Request.Context(), req.Code, sub)
	if err != nil {
		jsonMsg(c, "Failed to activate promocode", err)
		return
	}
	jsonObj(c, gin.H{"days": promo.DurationDays}, nil)
}

func (a *SubscriberController) lookup(c *gin.Context) (sub *model.Subscriber, ok bool) {
	telegramId, err := strconv.ParseInt(c.Param("telegramId"), 10, 64)
	if err != nil {
		jsonMsg(c, "Invalid telegram id", err)
		return nil, false
	}
	s, err := a.subscribers.GetOrCreate(c.Request.Context(), telegramId, "")
	if err != nil {
		jsonMsg(c, "Failed to get subscriber", err)
		return nil, false
	}
	return s, true
}
