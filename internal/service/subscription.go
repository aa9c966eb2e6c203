package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"submaster/internal/config"
	"submaster/internal/model"
	"submaster/logger"
	"submaster/util/common"

	"gorm.io/gorm"
)

// ErrTrialAlreadyUsed means the subscriber has already consumed the
// try-for-free grant.
var ErrTrialAlreadyUsed = errors.New("trial already used")

const millisPerDay = int64(24 * time.Hour / time.Millisecond)

// SubscriptionService orchestrates access-record mutations on remote
// nodes. The remote node is the source of truth for the record; the local
// store only tracks node assignment, which makes every mutating operation
// safe to retry.
type SubscriptionService struct {
	db   *gorm.DB
	pool *NodePool
}

func NewSubscriptionService(db *gorm.DB, pool *NodePool) *SubscriptionService {
	return &SubscriptionService{db: db, pool: pool}
}

// CreateOrUpdate provisions the subscriber's access record for a buy or
// change flow: a missing record is created, an existing one has its
// device limit and expiry replaced (not summed).
func (s *SubscriptionService) CreateOrUpdate(ctx context.Context, sub *model.Subscriber, devices, durationDays int) error {
	conn, err := s.connect(ctx, sub)
	if err != nil {
		return err
	}

	expiry := time.Now().UnixMilli() + int64(durationDays)*millisPerDay

	record, err := conn.Client.GetClient(ctx, sub.ClientId)
	switch {
	case errors.Is(err, common.ErrClientNotFound):
		fresh := &ClientRecord{
			ClientId:    sub.ClientId,
			DeviceLimit: devices,
			Total:       -1,
			ExpiryTime:  expiry,
			Enable:      true,
		}
		if err := conn.Client.AddClient(ctx, fresh); err != nil {
			return s.remoteFault(ctx, conn, err)
		}
		s.pool.NoteClientAdded(conn.Node.Id)
		logger.Infof("subscription: created record for subscriber %d on node %q (%d devices, %d days)",
			sub.Id, conn.Node.Name, devices, durationDays)
		return nil
	case err != nil:
		return s.remoteFault(ctx, conn, err)
	}

	record.DeviceLimit = devices
	record.ExpiryTime = expiry
	record.Enable = true
	if err := conn.Client.UpdateClient(ctx, record); err != nil {
		return s.remoteFault(ctx, conn, err)
	}
	logger.Infof("subscription: replaced record for subscriber %d on node %q (%d devices, %d days)",
		sub.Id, conn.Node.Name, devices, durationDays)
	return nil
}

// Extend requires an existing record and moves its expiry to
// max(current, now) + durationDays: unused remaining time is preserved,
// expired time is not. The device limit is replaced when devices > 0.
func (s *SubscriptionService) Extend(ctx context.Context, sub *model.Subscriber, devices, durationDays int) error {
	conn, err := s.pool.Connection(sub)
	if err != nil {
		return err
	}

	record, err := conn.Client.GetClient(ctx, sub.ClientId)
	if err != nil {
		if errors.Is(err, common.ErrClientNotFound) {
			return err
		}
		return s.remoteFault(ctx, conn, err)
	}

	record.ExpiryTime = extendExpiry(record.ExpiryTime, durationDays)
	if devices > 0 {
		record.DeviceLimit = devices
	}
	record.Enable = true
	if err := conn.Client.UpdateClient(ctx, record); err != nil {
		return s.remoteFault(ctx, conn, err)
	}
	logger.Infof("subscription: extended subscriber %d by %d days on node %q", sub.Id, durationDays, conn.Node.Name)
	return nil
}

// GrantBonusDays extends the record additively, creating a fresh one when
// the subscriber has none. Used by the promocode, trial and referral
// paths. The device limit is never shrunk; devices only seeds a fresh
// record (0 falls back to a single device).
func (s *SubscriptionService) GrantBonusDays(ctx context.Context, sub *model.Subscriber, days, devices int) error {
	conn, err := s.connect(ctx, sub)
	if err != nil {
		return err
	}

	record, err := conn.Client.GetClient(ctx, sub.ClientId)
	switch {
	case errors.Is(err, common.ErrClientNotFound):
		if devices <= 0 {
			devices = 1
		}
		fresh := &ClientRecord{
			ClientId:    sub.ClientId,
			DeviceLimit: devices,
			Total:       -1,
			ExpiryTime:  time.Now().UnixMilli() + int64(days)*millisPerDay,
			Enable:      true,
		}
		if err := conn.Client.AddClient(ctx, fresh); err != nil {
			return s.remoteFault(ctx, conn, err)
		}
		s.pool.NoteClientAdded(conn.Node.Id)
		logger.Infof("subscription: bonus created record for subscriber %d (%d days)", sub.Id, days)
		return nil
	case err != nil:
		return s.remoteFault(ctx, conn, err)
	}

	record.ExpiryTime = extendExpiry(record.ExpiryTime, days)
	record.Enable = true
	if err := conn.Client.UpdateClient(ctx, record); err != nil {
		return s.remoteFault(ctx, conn, err)
	}
	logger.Infof("subscription: granted %d bonus days to subscriber %d", days, sub.Id)
	return nil
}

// RemoteRecord fetches the subscriber's record read-only. It reports
// common.ErrClientNotFound ("never subscribed") distinctly from
// common.ErrNodeUnavailable (transient failure).
func (s *SubscriptionService) RemoteRecord(ctx context.Context, sub *model.Subscriber) (*ClientRecord, error) {
	conn, err := s.pool.Connection(sub)
	if err != nil {
		return nil, err
	}

	record, err := conn.Client.GetClient(ctx, sub.ClientId)
	if err != nil {
		if errors.Is(err, common.ErrClientNotFound) {
			return nil, err
		}
		return nil, s.remoteFault(ctx, conn, err)
	}

	record.ExpiryTime = normalizeExpiry(record.ExpiryTime)
	return record, nil
}

// ActivateTrial consumes the subscriber's one-time trial grant, then
// grants any pending try-for-free referral bonus on top.
func (s *SubscriptionService) ActivateTrial(ctx context.Context, sub *model.Subscriber, trial config.TrialConfig) error {
	if !trial.Enabled {
		return common.NewError("trial grants are disabled")
	}

	res := s.db.WithContext(ctx).Model(&model.Subscriber{}).
		Where("id = ? AND trial_used = ?", sub.Id, false).
		Update("trial_used", true)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrTrialAlreadyUsed
	}
	sub.TrialUsed = true

	if err := s.GrantBonusDays(ctx, sub, trial.Days, trial.Devices); err != nil {
		logger.Errorf("subscription: trial flag consumed but grant failed for subscriber %d: %v", sub.Id, err)
		return err
	}

	s.grantReferredBonus(ctx, sub)
	return nil
}

// grantReferredBonus grants the referred subscriber's own bonus days, at
// most once, when a referral row with a pending bonus exists.
func (s *SubscriptionService) grantReferredBonus(ctx context.Context, sub *model.Subscriber) {
	var referral model.Referral
	err := s.db.WithContext(ctx).
		Where("referred_id = ? AND referred_rewarded_at IS NULL AND referred_bonus_days > 0", sub.Id).
		First(&referral).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return
	}
	if err != nil {
		logger.Warningf("subscription: referral lookup failed for subscriber %d: %v", sub.Id, err)
		return
	}

	now := time.Now()
	res := s.db.WithContext(ctx).Model(&model.Referral{}).
		Where("id = ? AND referred_rewarded_at IS NULL", referral.Id).
		Update("referred_rewarded_at", now)
	if res.Error != nil || res.RowsAffected == 0 {
		return
	}

	if err := s.GrantBonusDays(ctx, sub, referral.ReferredBonusDays, 0); err != nil {
		logger.Errorf("subscription: referred bonus grant failed for subscriber %d: %v", sub.Id, err)
		// Release the claim so the referral sweep retries the grant.
		if resetErr := s.db.WithContext(ctx).Model(&model.Referral{}).
			Where("id = ?", referral.Id).
			Update("referred_rewarded_at", nil).Error; resetErr != nil {
			logger.Errorf("subscription: failed to release referred bonus claim of subscriber %d: %v", sub.Id, resetErr)
		}
	}
}

// PurgeExpired deletes remote records that have been expired for longer
// than grace and clears the owning subscribers' node assignment. Returns
// the number of purged records. A failure on one subscriber never aborts
// the batch.
func (s *SubscriptionService) PurgeExpired(ctx context.Context, grace time.Duration) (int, error) {
	var subs []model.Subscriber
	if err := s.db.WithContext(ctx).Where("node_id IS NOT NULL").Find(&subs).Error; err != nil {
		return 0, err
	}

	now := time.Now().UnixMilli()
	purged := 0
	for i := range subs {
		sub := &subs[i]

		record, err := s.RemoteRecord(ctx, sub)
		if errors.Is(err, common.ErrClientNotFound) {
			// Record already gone remotely; repair the dangling assignment.
			s.clearAssignment(ctx, sub)
			continue
		}
		if err != nil {
			logger.Warningf("subscription: purge skipped subscriber %d: %v", sub.Id, err)
			continue
		}
		if record.ExpiryTime <= 0 {
			continue
		}
		if now-record.ExpiryTime < grace.Milliseconds() {
			continue
		}

		conn, err := s.pool.Connection(sub)
		if err != nil {
			continue
		}
		if err := conn.Client.RemoveClient(ctx, sub.ClientId); err != nil {
			logger.Warningf("subscription: purge failed to remove record of subscriber %d: %v", sub.Id, err)
			continue
		}
		s.clearAssignment(ctx, sub)
		purged++
		logger.Infof("subscription: purged expired record of subscriber %d from node %q", sub.Id, conn.Node.Name)
	}

	return purged, nil
}

func (s *SubscriptionService) clearAssignment(ctx context.Context, sub *model.Subscriber) {
	if err := s.db.WithContext(ctx).Model(sub).Update("node_id", nil).Error; err != nil {
		logger.Warningf("subscription: failed to clear node assignment of subscriber %d: %v", sub.Id, err)
		return
	}
	sub.NodeId = nil
}

// connect resolves the subscriber's node connection, assigning one first
// when the subscriber has none.
func (s *SubscriptionService) connect(ctx context.Context, sub *model.Subscriber) (*NodeConn, error) {
	if sub.NodeId != nil {
		return s.pool.Connection(sub)
	}

	conn, err := s.pool.Assign()
	if err != nil {
		return nil, err
	}

	nodeId := conn.Node.Id
	if err := s.db.WithContext(ctx).Model(sub).Update("node_id", nodeId).Error; err != nil {
		return nil, err
	}
	sub.NodeId = &nodeId
	logger.Infof("subscription: assigned subscriber %d to node %q", sub.Id, conn.Node.Name)
	return conn, nil
}

// remoteFault degrades the node and reports the failure as unavailability
// without ever propagating a raw transport error to the front end.
func (s *SubscriptionService) remoteFault(ctx context.Context, conn *NodeConn, err error) error {
	s.pool.MarkOffline(ctx, conn.Node.Id)
	return fmt.Errorf("%w: node %q: %v", common.ErrNodeUnavailable, conn.Node.Name, err)
}

// extendExpiry applies the extension rule: unused remaining time is kept,
// expired time is not, unlimited records stay unlimited.
func extendExpiry(current int64, days int) int64 {
	current = normalizeExpiry(current)
	if current == -1 {
		return -1
	}
	base := time.Now().UnixMilli()
	if current > base {
		base = current
	}
	return base + int64(days)*millisPerDay
}

// normalizeExpiry maps the nodes' 0 sentinel onto -1 (unlimited).
func normalizeExpiry(v int64) int64 {
	if v == 0 {
		return -1
	}
	return v
}
