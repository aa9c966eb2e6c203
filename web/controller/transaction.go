package controller

import (
	"strconv"

	"submaster/internal/service"

	"github.com/gin-gonic/gin"
)

// TransactionController exposes the transaction history for the admin
// surface.
type TransactionController struct {
	transactions *service.TransactionService
}

func NewTransactionController(g *gin.RouterGroup, transactions *service.TransactionService) *TransactionController {
	a := &TransactionController{transactions: transactions}
	a.initRouter(g)
	return a
}

func (a *TransactionController) initRouter(g *gin.RouterGroup) {
	g.GET("/", a.getTransactions)
}

func (a *TransactionController) getTransactions(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	txns, err := a.transactions.List(c.Request.Context(), limit)
	if err != nil {
		jsonMsg(c, "Failed to get transactions", err)
		return
	}
	jsonObj(c, txns, nil)
}
