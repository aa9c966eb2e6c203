package main

import (
	"context"
	"flag"
	"log"
	"os/signal"
	"syscall"

	"submaster/internal/config"
	"submaster/internal/database"
	"submaster/internal/notify"
	"submaster/internal/payment"
	"submaster/internal/service"
	"submaster/logger"
	"submaster/web"

	"github.com/op/go-logging"
	"github.com/redis/go-redis/v9"
)

func main() {
	configPath := flag.String("config", "", "path to the configuration file")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	logger.InitLogger(logging.INFO)

	db, err := database.Connect(&cfg.Database)
	if err != nil {
		log.Fatalf("database connection error: %v", err)
	}

	if cfg.Database.AutoMigrate {
		if err := database.AutoMigrate(db); err != nil {
			log.Fatalf("database migration error: %v", err)
		}
	}

	var notifier notify.Notifier = notify.Nop{}
	if cfg.Telegram.Enabled {
		tg, err := notify.NewTelegram(cfg.Telegram)
		if err != nil {
			log.Fatalf("telegram error: %v", err)
		}
		notifier = tg
	}

	var rdb *redis.Client
	if cfg.Redis.Addr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Warning("redis unreachable, expiry notifications disabled:", err)
			rdb = nil
		}
	}

	gateways, err := payment.NewRegistry(cfg.Payments)
	if err != nil {
		log.Fatalf("payment gateway error: %v", err)
	}

	pool := service.NewNodePool(db)
	nodeService := service.NewNodeService(db)
	subscriberService := service.NewSubscriberService(db)
	subscriptionService := service.NewSubscriptionService(db, pool)
	promocodeService := service.NewPromocodeService(db, subscriptionService)
	referralService := service.NewReferralService(db, subscriptionService, cfg.Referral)
	transactionService := service.NewTransactionService(db, subscriptionService, referralService, notifier, cfg.Referral.Enabled)

	pool.Sync(ctx)

	server := web.NewServer(cfg, web.Deps{
		DB:            db,
		Pool:          pool,
		Nodes:         nodeService,
		Subscribers:   subscriberService,
		Subscriptions: subscriptionService,
		Promocodes:    promocodeService,
		Referrals:     referralService,
		Transactions:  transactionService,
		Gateways:      gateways,
		Notifier:      notifier,
		Redis:         rdb,
	})

	if err := server.Start(); err != nil {
		log.Fatalf("web server error: %v", err)
	}

	<-ctx.Done()
	logger.Info("Shutting down")
	if err := server.Stop(); err != nil {
		logger.Warning("shutdown error:", err)
	}
}
