package job

import (
	"context"
	"time"

	"submaster/internal/service"
	"submaster/logger"
	"submaster/util/common"
)

// PurgeExpiredJob removes access records that stayed expired past the
// grace period, then refreshes the pool so client counts stay honest.
type PurgeExpiredJob struct {
	subscriptions *service.SubscriptionService
	pool          *service.NodePool
	grace         time.Duration
}

func NewPurgeExpiredJob(subscriptions *service.SubscriptionService, pool *service.NodePool, grace time.Duration) *PurgeExpiredJob {
	return &PurgeExpiredJob{subscriptions: subscriptions, pool: pool, grace: grace}
}

func (j *PurgeExpiredJob) Run() {
	defer common.Recover("PurgeExpiredJob")
	ctx := context.Background()
	purged, err := j.subscriptions.PurgeExpired(ctx, j.grace)
	if err != nil {
		logger.Debugf("PurgeExpiredJob: purge error: %v", err)
		return
	}
	if purged > 0 {
		j.pool.Sync(ctx)
	}
}
