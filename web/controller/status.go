package controller

import (
	"context"
	"strconv"
	"time"

	"submaster/internal/service"
	"submaster/logger"

	"github.com/gin-gonic/gin"
	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"
	"go.uber.org/atomic"
)

var startTime = time.Now()

// StatusController reports panel health: host load, pool state, pending
// transactions, recent logs. It also carries the maintenance toggle.
type StatusController struct {
	pool         *service.NodePool
	transactions *service.TransactionService
	maintenance  *atomic.Bool
}

func NewStatusController(g *gin.RouterGroup, pool *service.NodePool, transactions *service.TransactionService, maintenance *atomic.Bool) *StatusController {
	a := &StatusController{
		pool:         pool,
		transactions: transactions,
		maintenance:  maintenance,
	}
	a.initRouter(g)
	return a
}

func (a *StatusController) initRouter(g *gin.RouterGroup) {
	g.GET("/", a.getStatus)
	g.GET("/logs", a.getLogs)
	g.POST("/maintenance", a.setMaintenance)
}

func (a *StatusController) getStatus(c *gin.Context) {
	ctx := c.Request.Context()

	cpuPercent, err := cpuPercentWithContext(ctx)
	if err != nil {
		logger.Warning("status: cpu sample failed:", err)
	}
	memPercent, err := memoryPercentWithContext(ctx)
	if err != nil {
		logger.Warning("status: memory sample failed:", err)
	}

	pending, err := a.transactions.PendingCount(ctx)
	if err != nil {
		jsonMsg(c, "Failed to count pending transactions", err)
		return
	}

	conns := a.pool.Snapshot()
	online := 0
	clients := 0
	for _, conn := range conns {
		if conn.Online {
			online++
		}
		clients += conn.Clients
	}

	jsonObj(c, gin.H{
		"uptime_seconds":       int64(time.Since(startTime).Seconds()),
		"cpu_percent":          cpuPercent,
		"mem_percent":          memPercent,
		"nodes_total":          len(conns),
		"nodes_online":         online,
		"clients_total":        clients,
		"pending_transactions": pending,
		"maintenance":          a.maintenance.Load(),
	}, nil)
}

func (a *StatusController) getLogs(c *gin.Context) {
	count, _ := strconv.Atoi(c.DefaultQuery("count", "50"))
	jsonObj(c, logger.Recent(count), nil)
}

type maintenanceRequest struct {
	Enabled bool `json:"enabled"`
}

// setMaintenance flips webhook intake. While on, providers get 503 and
// retry later.
func (a *StatusController) setMaintenance(c *gin.Context) {
	var req maintenanceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		jsonMsg(c, "Failed to set maintenance", err)
		return
	}
	a.maintenance.Store(req.Enabled)
	logger.Infof("maintenance mode set to %v", req.Enabled)
	jsonMsg(c, "Maintenance updated", nil)
}

func cpuPercentWithContext(ctx context.Context) (float64, error) {
	values, err := cpu.PercentWithContext(ctx, 200*time.Millisecond, false)
	if err != nil {
		return 0, err
	}
	if len(values) == 0 {
		return 0, nil
	}
	return values[0], nil
}

func memoryPercentWithContext(ctx context.Context) (float64, error) {
	info, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return 0, err
	}
	return info.UsedPercent, nil
}
