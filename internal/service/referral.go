package service

import (
	"context"
	"errors"
	"math"
	"time"

	"submaster/internal/config"
	"submaster/internal/model"
	"submaster/logger"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ReferralService computes and fulfills rewards owed to referrers.
// Duplicate protection relies entirely on the unique
// (subscriber, payment) constraint of the reward table.
type ReferralService struct {
	db   *gorm.DB
	subs *SubscriptionService
	cfg  config.ReferralConfig
}

func NewReferralService(db *gorm.DB, subs *SubscriptionService, cfg config.ReferralConfig) *ReferralService {
	return &ReferralService{db: db, subs: subs, cfg: cfg}
}

// EnsureReferral records the referred→referrer attribution on first
// contact. A subscriber is referred by at most one referrer; later calls
// and self-referrals are no-ops.
func (s *ReferralService) EnsureReferral(ctx context.Context, referredId, referrerId int64) error {
	if referredId == referrerId {
		return nil
	}

	referral := &model.Referral{
		ReferredId:        referredId,
		ReferrerId:        referrerId,
		ReferredBonusDays: s.cfg.ReferredBonusDays,
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "referred_id"}},
		DoNothing: true,
	}).Create(referral).Error
}

// RecordRewardsOnPayment records the rewards earned from one completed
// payment: a first-level reward for the payer's referrer and, when that
// referrer was themselves referred, a second-level reward one hop up.
// A payer without a referral row earns nobody anything.
func (s *ReferralService) RecordRewardsOnPayment(ctx context.Context, payerId int64, amount float64, paymentId string) error {
	var referral model.Referral
	err := s.db.WithContext(ctx).Where("referred_id = ?", payerId).First(&referral).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	if err := s.insertReward(ctx, referral.ReferrerId, paymentId, 1, amount); err != nil {
		return err
	}

	var parent model.Referral
	err = s.db.WithContext(ctx).Where("referred_id = ?", referral.ReferrerId).First(&parent).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	return s.insertReward(ctx, parent.ReferrerId, paymentId, 2, amount)
}

func (s *ReferralService) insertReward(ctx context.Context, referrerId int64, paymentId string, level int, paymentAmount float64) error {
	reward := &model.ReferrerReward{
		SubscriberId: referrerId,
		PaymentId:    paymentId,
		Level:        level,
	}

	switch s.cfg.Mode {
	case "percent":
		// Money-denominated rewards are recorded but have no working
		// fulfillment path; the sweep skips them.
		reward.Type = model.RewardMoney
		percent := s.cfg.Level1Percent
		if level == 2 {
			percent = s.cfg.Level2Percent
		}
		reward.Amount = math.Round(paymentAmount*percent) / 100
	default:
		reward.Type = model.RewardDays
		days := s.cfg.Level1Days
		if level == 2 {
			days = s.cfg.Level2Days
		}
		reward.Amount = float64(days)
	}

	if reward.Amount <= 0 {
		return nil
	}

	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "subscriber_id"}, {Name: "payment_id"}},
		DoNothing: true,
	}).Create(reward)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected > 0 {
		logger.Infof("referral: recorded level-%d reward of %.0f %s for subscriber %d (payment %s)",
			level, reward.Amount, reward.Type, referrerId, paymentId)
	}
	return nil
}

// FulfillPendingRewards grants every recorded reward that has not been
// delivered yet. A failure on one row leaves it pending for the next
// sweep; the bonus-day grant tolerates redelivery.
func (s *ReferralService) FulfillPendingRewards(ctx context.Context) error {
	var rewards []model.ReferrerReward
	if err := s.db.WithContext(ctx).Where("rewarded_at IS NULL").Find(&rewards).Error; err != nil {
		return err
	}

	for i := range rewards {
		reward := &rewards[i]

		if reward.Type != model.RewardDays {
			logger.Debugf("referral: skipping %s reward %d, no fulfillment path", reward.Type, reward.Id)
			continue
		}

		var sub model.Subscriber
		err := s.db.WithContext(ctx).First(&sub, reward.SubscriberId).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			logger.Errorf("referral: reward %d references missing subscriber %d", reward.Id, reward.SubscriberId)
			continue
		}
		if err != nil {
			logger.Warningf("referral: subscriber lookup failed for reward %d: %v", reward.Id, err)
			continue
		}

		if err := s.subs.GrantBonusDays(ctx, &sub, int(reward.Amount), 0); err != nil {
			logger.Warningf("referral: grant failed for reward %d, leaving pending: %v", reward.Id, err)
			continue
		}

		now := time.Now()
		if err := s.db.WithContext(ctx).Model(reward).Update("rewarded_at", now).Error; err != nil {
			logger.Warningf("referral: failed to mark reward %d fulfilled: %v", reward.Id, err)
			continue
		}
		logger.Infof("referral: fulfilled reward %d, %d bonus days for subscriber %d",
			reward.Id, int(reward.Amount), reward.SubscriberId)
	}

	return s.retryReferredBonuses(ctx)
}

// retryReferredBonuses re-runs referred bonus grants whose claim was
// released after a failed grant at trial activation. Referrals whose
// subscriber has not activated the trial yet are not due.
func (s *ReferralService) retryReferredBonuses(ctx context.Context) error {
	var referrals []model.Referral
	err := s.db.WithContext(ctx).
		Where("referred_rewarded_at IS NULL AND referred_bonus_days > 0").
		Find(&referrals).Error
	if err != nil {
		return err
	}

	for i := range referrals {
		var sub model.Subscriber
		err := s.db.WithContext(ctx).First(&sub, referrals[i].ReferredId).Error
		if err != nil {
			if !errors.Is(err, gorm.ErrRecordNotFound) {
				logger.Warningf("referral: subscriber lookup failed for referral %d: %v", referrals[i].Id, err)
			}
			continue
		}
		if !sub.TrialUsed {
			continue
		}
		s.subs.grantReferredBonus(ctx, &sub)
	}

	return nil
}
