package job

import (
	"context"

	"submaster/internal/service"
	"submaster/logger"
	"submaster/util/common"
)

// ReferralSweepJob fulfills recorded referral rewards whose grant has
// not landed yet.
type ReferralSweepJob struct {
	referrals *service.ReferralService
}

func NewReferralSweepJob(referrals *service.ReferralService) *ReferralSweepJob {
	return &ReferralSweepJob{referrals: referrals}
}

func (j *ReferralSweepJob) Run() {
	defer common.Recover("ReferralSweepJob")
	if err := j.referrals.FulfillPendingRewards(context.Background()); err != nil {
		logger.Debugf("ReferralSweepJob: sweep error: %v", err)
	}
}
