package job

import (
	"context"
	"errors"
	"fmt"
	"time"

	"submaster/internal/model"
	"submaster/internal/notify"
	"submaster/internal/service"
	"submaster/logger"
	"submaster/util/common"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// ExpiryNotifyJob warns subscribers 24 hours before their access
// expires. Redis deduplicates the warning so restarts and overlapping
// runs never double-notify.
type ExpiryNotifyJob struct {
	db            *gorm.DB
	subscriptions *service.SubscriptionService
	notifier      notify.Notifier
	redis         *redis.Client
}

func NewExpiryNotifyJob(db *gorm.DB, subscriptions *service.SubscriptionService, notifier notify.Notifier, rdb *redis.Client) *ExpiryNotifyJob {
	return &ExpiryNotifyJob{
		db:            db,
		subscriptions: subscriptions,
		notifier:      notifier,
		redis:         rdb,
	}
}

func (j *ExpiryNotifyJob) Run() {
	defer common.Recover("ExpiryNotifyJob")
	ctx := context.Background()

	var subs []*model.Subscriber
	if err := j.db.WithContext(ctx).Where("node_id IS NOT NULL").Find(&subs).Error; err != nil {
		logger.Debugf("ExpiryNotifyJob: query error: %v", err)
		return
	}

	now := time.Now().UnixMilli()
	windowEnd := now + 24*time.Hour.Milliseconds()

	for _, sub := range subs {
		record, err := j.subscriptions.RemoteRecord(ctx, sub)
		if err != nil {
			if !errors.Is(err, common.ErrClientNotFound) {
				logger.Debugf("ExpiryNotifyJob: record read failed for subscriber %d: %v", sub.Id, err)
			}
			continue
		}
		if record.ExpiryTime <= 0 {
			continue
		}
		if record.ExpiryTime < now || record.ExpiryTime > windowEnd {
			continue
		}

		key := fmt.Sprintf("expiry_notice:%d:%d", sub.Id, record.ExpiryTime)
		set, err := j.redis.SetNX(ctx, key, "1", 48*time.Hour).Result()
		if err != nil {
			logger.Debugf("ExpiryNotifyJob: redis error: %v", err)
			continue
		}
		if !set {
			continue
		}

		if err := j.notifier.NotifyUser(ctx, sub.TelegramId,
			"⚠️ Your access expires within 24 hours. Renew now to keep your connection."); err != nil {
			// Drop the claim so the next run retries the message.
			j.redis.Del(ctx, key)
		}
	}
}
