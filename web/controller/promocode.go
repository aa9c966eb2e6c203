package controller

import (
	"strconv"

	"submaster/internal/service"

	"github.com/gin-gonic/gin"
)

// PromocodeController manages promocodes on the admin surface.
type PromocodeController struct {
	promocodes *service.PromocodeService
}

func NewPromocodeController(g *gin.RouterGroup, promocodes *service.PromocodeService) *PromocodeController {
	a := &PromocodeController{promocodes: promocodes}
	a.initRouter(g)
	return a
}

func (a *PromocodeController) initRouter(g *gin.RouterGroup) {
	g.GET("/", a.getPromocodes)
	g.POST("/", a.createPromocode)
	g.POST("/:id/delete", a.deletePromocode)
}

func (a *PromocodeController) getPromocodes(c *gin.Context) {
	promos, err := a.promocodes.List(c.Request.Context())
	if err != nil {
		jsonMsg(c, "Failed to get promocodes", err)
		return
	}
	jsonObj(c, promos, nil)
}

type createPromocodeRequest struct {
	DurationDays int `json:"duration_days" binding:"required"`
}

func (a *PromocodeController) createPromocode(c *gin.Context) {
	var req createPromocodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		jsonMsg(c, "Failed to create promocode", err)
		return
	}
	promo, err := a.promocodes.Create(c.Request.Context(), req.DurationDays)
	if err != nil {
		jsonMsg(c, "Failed to create promocode", err)
		return
	}
	jsonObj(c, promo, nil)
}

func (a *PromocodeController) deletePromocode(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		jsonMsg(c, "Invalid promocode id", err)
		return
	}
	if err := a.promocodes.Delete(c.Request.Context(), id); err != nil {
		jsonMsg(c, "Failed to delete promocode", err)
		return
	}
	jsonMsg(c, "Promocode deleted", nil)
}
