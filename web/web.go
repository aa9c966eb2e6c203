// Package web runs the HTTP server and the cron scheduler behind the
// panel API.
package web

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"submaster/internal/config"
	"submaster/internal/notify"
	"submaster/internal/payment"
	"submaster/internal/service"
	"submaster/logger"
	"submaster/web/controller"
	"submaster/web/job"
	"submaster/web/middleware"

	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"go.uber.org/atomic"
	"gorm.io/gorm"
)

// Deps carries everything the server wires into controllers and jobs.
type Deps struct {
	DB            *gorm.DB
	Pool          *service.NodePool
	Nodes         *service.NodeService
	Subscribers   *service.SubscriberService
	Subscriptions *service.SubscriptionService
	Promocodes    *service.PromocodeService
	Referrals     *service.ReferralService
	Transactions  *service.TransactionService
	Gateways      *payment.Registry
	Notifier      notify.Notifier
	Redis         *redis.Client
}

// Server is the panel web server with its controllers and scheduled jobs.
type Server struct {
	httpServer *http.Server
	listener   net.Listener

	cfg  *config.Config
	deps Deps

	maintenance *atomic.Bool
	cron        *cron.Cron

	ctx    context.Context
	cancel context.CancelFunc
}

// NewServer creates a new web server instance with a cancellable context.
func NewServer(cfg *config.Config, deps Deps) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		cfg:         cfg,
		deps:        deps,
		maintenance: atomic.NewBool(false),
		ctx:         ctx,
		cancel:      cancel,
	}
}

// initRouter initializes Gin, registers middleware and controllers and
// returns the configured engine.
func (s *Server) initRouter() *gin.Engine {
	gin.DefaultWriter = io.Discard
	gin.DefaultErrorWriter = io.Discard
	gin.SetMode(gin.ReleaseMode)

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPaths([]string{"/webhooks/"})))

	// Provider callbacks authenticate themselves per gateway scheme.
	webhooks := engine.Group("/webhooks")
	controller.NewWebhookController(webhooks, s.deps.Gateways, s.deps.Transactions, s.maintenance)

	api := engine.Group("/api")
	api.Use(middleware.APIKeyMiddleware(s.cfg.Web.APIKey))

	controller.NewNodeController(api.Group("/nodes"), s.deps.Nodes, s.deps.Pool)
	controller.NewSubscriberController(api.Group("/subscribers"), s.deps.Subscribers, s.deps.Subscriptions,
		s.deps.Referrals, s.deps.Promocodes, s.cfg.Trial)
	controller.NewPaymentController(api.Group("/payments"), s.deps.Gateways, s.deps.Subscribers, s.deps.Transactions)
	controller.NewPromocodeController(api.Group("/promocodes"), s.deps.Promocodes)
	controller.NewTransactionController(api.Group("/transactions"), s.deps.Transactions)
	controller.NewStatusController(api.Group("/status"), s.deps.Pool, s.deps.Transactions, s.maintenance)

	engine.NoRoute(func(c *gin.Context) {
		c.AbortWithStatus(http.StatusNotFound)
	})

	return engine
}

// startTask schedules the background reconciliation jobs.
func (s *Server) startTask() {
	jobs := s.cfg.Jobs

	s.cron.AddJob(fmt.Sprintf("@every %dm", jobs.NodeSyncMinutes),
		job.NewNodeSyncJob(s.deps.Pool))

	window := time.Duration(s.cfg.Payments.PendingTimeoutMinutes) * time.Minute
	s.cron.AddJob(fmt.Sprintf("@every %dm", jobs.ExpireTransactionsMinutes),
		job.NewExpireTransactionsJob(s.deps.Transactions, window))

	if s.cfg.Referral.Enabled {
		s.cron.AddJob(fmt.Sprintf("@every %dm", jobs.ReferralSweepMinutes),
			job.NewReferralSweepJob(s.deps.Referrals))
	}

	grace := time.Duration(jobs.PurgeGraceDays) * 24 * time.Hour
	s.cron.AddJob(fmt.Sprintf("@every %dh", jobs.PurgeExpiredHours),
		job.NewPurgeExpiredJob(s.deps.Subscriptions, s.deps.Pool, grace))

	if s.deps.Redis != nil {
		s.cron.AddJob(fmt.Sprintf("@every %dh", jobs.ExpiryNotifyHours),
			job.NewExpiryNotifyJob(s.deps.DB, s.deps.Subscriptions, s.deps.Notifier, s.deps.Redis))
	}
}

// Start brings up the scheduler and the HTTP listener.
func (s *Server) Start() (err error) {
	defer func() {
		if err != nil {
			s.Stop()
		}
	}()

	s.cron = cron.New()
	s.cron.Start()

	engine := s.initRouter()

	listener, err := net.Listen("tcp", s.cfg.Web.Listen)
	if err != nil {
		return err
	}
	if s.cfg.Web.TLSCertFile != "" && s.cfg.Web.TLSKeyFile != "" {
		cert, err := tls.LoadX509KeyPair(s.cfg.Web.TLSCertFile, s.cfg.Web.TLSKeyFile)
		if err != nil {
			listener.Close()
			return err
		}
		listener = tls.NewListener(listener, &tls.Config{
			Certificates: []tls.Certificate{cert},
		})
		logger.Info("Web server running HTTPS on", listener.Addr())
	} else {
		logger.Info("Web server running HTTP on", listener.Addr())
	}
	s.listener = listener

	s.httpServer = &http.Server{
		Handler: engine,
	}

	go func() {
		s.httpServer.Serve(listener)
	}()

	s.startTask()

	return nil
}

// Stop gracefully shuts down the web server and the cron scheduler.
func (s *Server) Stop() error {
	s.cancel()
	if s.cron != nil {
		s.cron.Stop()
	}
	var err1 error
	var err2 error
	if s.httpServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		err1 = s.httpServer.Shutdown(shutdownCtx)
	}
	if s.listener != nil {
		err2 = s.listener.Close()
	}
	if err1 != nil {
		return err1
	}
	return err2
}

// GetCtx returns the server's context for cancellation management.
func (s *Server) GetCtx() context.Context {
	return s.ctx
}
