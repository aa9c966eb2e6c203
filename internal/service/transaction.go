package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"submaster/internal/model"
	"submaster/internal/notify"
	"submaster/logger"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// TransactionService is the single authority over the transaction state
// machine: PENDING -> COMPLETED | CANCELED (webhook) or CANCELED (sweep).
// Completion triggers provisioning and referral rewards exactly once.
type TransactionService struct {
	db        *gorm.DB
	subs      *SubscriptionService
	referrals *ReferralService
	notifier  notify.Notifier
	// rewardsEnabled mirrors referral.enabled; when off, completed
	// payments never touch the reward ledger.
	rewardsEnabled bool
}

func NewTransactionService(db *gorm.DB, subs *SubscriptionService, referrals *ReferralService, notifier notify.Notifier, rewardsEnabled bool) *TransactionService {
	return &TransactionService{
		db:             db,
		subs:           subs,
		referrals:      referrals,
		notifier:       notifier,
		rewardsEnabled: rewardsEnabled,
	}
}

// Create stores a pending transaction for a provider payment id. Creating
// the same payment id twice returns the existing row instead of failing:
// duplicate-create is a no-op by design.
func (s *TransactionService) Create(ctx context.Context, sub *model.Subscriber, order model.SubscriptionOrder, paymentId string) (*model.Transaction, error) {
	txn := &model.Transaction{
		SubscriberId: sub.Id,
		PaymentId:    paymentId,
		Gateway:      order.Gateway,
		Status:       model.TransactionPending,
	}
	if err := txn.SetOrder(order); err != nil {
		return nil, err
	}

	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "payment_id"}},
		DoNothing: true,
	}).Create(txn)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		var existing model.Transaction
		if err := s.db.WithContext(ctx).Where("payment_id = ?", paymentId).First(&existing).Error; err != nil {
			return nil, err
		}
		return &existing, nil
	}

	logger.Infof("transaction %d created for subscriber %d (payment %s via %s)", txn.Id, sub.Id, paymentId, order.Gateway)
	return txn, nil
}

// HandleSucceeded processes a "succeeded" webhook. Delivering it any
// number of times yields exactly one COMPLETED transition and one
// provisioning call: the conditional status update is the
// single-fulfillment guard, and a webhook for an already-terminal
// transaction is a silent no-op.
func (s *TransactionService) HandleSucceeded(ctx context.Context, paymentId string) error {
	txn, err := s.byPaymentId(ctx, paymentId)
	if err != nil {
		return err
	}
	if txn.Status.Terminal() {
		logger.Debugf("transaction %d already %s, ignoring succeeded webhook", txn.Id, txn.Status)
		return nil
	}

	res := s.db.WithContext(ctx).Model(&model.Transaction{}).
		Where("id = ? AND status = ?", txn.Id, model.TransactionPending).
		Update("status", model.TransactionCompleted)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		// Lost the race against another delivery; that one fulfills.
		return nil
	}

	order, err := txn.Order()
	if err != nil {
		return fmt.Errorf("transaction %d has invalid order snapshot: %w", txn.Id, err)
	}

	var sub model.Subscriber
	if err := s.db.WithContext(ctx).First(&sub, txn.SubscriberId).Error; err != nil {
		logger.Errorf("transaction %d completed but subscriber %d is missing", txn.Id, txn.SubscriberId)
		return err
	}

	if order.Extend {
		err = s.subs.Extend(ctx, &sub, order.Devices, order.DurationDays)
	} else {
		err = s.subs.CreateOrUpdate(ctx, &sub, order.Devices, order.DurationDays)
	}
	if err != nil {
		logger.Errorf("transaction %d completed but provisioning failed: %v", txn.Id, err)
		s.notifier.NotifyOperator(ctx, fmt.Sprintf(
			"⚠️ Payment %s completed but provisioning failed for subscriber %d: %v", paymentId, sub.Id, err))
		return err
	}

	if s.rewardsEnabled {
		if err := s.referrals.RecordRewardsOnPayment(ctx, sub.Id, order.Price, paymentId); err != nil {
			logger.Warningf("transaction %d: reward recording failed: %v", txn.Id, err)
		}
	}

	s.notifier.NotifyUser(ctx, sub.TelegramId, fmt.Sprintf(
		"✅ Payment received! Your access is active: %d device(s) for %d days.\n"+
			"Open the app and reconnect to pick up the new limits.",
		order.Devices, order.DurationDays))

	logger.Infof("transaction %d completed, subscriber %d provisioned", txn.Id, sub.Id)
	return nil
}

// HandleCanceled processes a "canceled" webhook: PENDING moves to
// CANCELED, nothing is provisioned, only the operator hears about it.
func (s *TransactionService) HandleCanceled(ctx context.Context, paymentId string) error {
	txn, err := s.byPaymentId(ctx, paymentId)
	if err != nil {
		return err
	}
	if txn.Status.Terminal() {
		return nil
	}

	res := s.db.WithContext(ctx).Model(&model.Transaction{}).
		Where("id = ? AND status = ?", txn.Id, model.TransactionPending).
		Update("status", model.TransactionCanceled)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return nil
	}

	s.notifier.NotifyOperator(ctx, fmt.Sprintf("Payment %s canceled by provider", paymentId))
	logger.Infof("transaction %d canceled", txn.Id)
	return nil
}

// ExpireStale cancels every pending transaction older than the window.
// This sweep is the only cancellation mechanism for payments that never
// complete.
func (s *TransactionService) ExpireStale(ctx context.Context, window time.Duration) (int64, error) {
	cutoff := time.Now().Add(-window)
	res := s.db.WithContext(ctx).Model(&model.Transaction{}).
		Where("status = ? AND created_at < ?", model.TransactionPending, cutoff).
		Update("status", model.TransactionCanceled)
	if res.Error != nil {
		return 0, res.Error
	}
	if res.RowsAffected > 0 {
		logger.Infof("transaction sweep: canceled %d stale pending transactions", res.RowsAffected)
	}
	return res.RowsAffected, nil
}

// List returns the most recent transactions for the admin surface.
func (s *TransactionService) List(ctx context.Context, limit int) ([]*model.Transaction, error) {
	if limit <= 0 {
		limit = 100
	}
	var txns []*model.Transaction
	if err := s.db.WithContext(ctx).Order("id DESC").Limit(limit).Find(&txns).Error; err != nil {
		return nil, err
	}
	return txns, nil
}

// PendingCount reports the number of in-flight transactions.
func (s *TransactionService) PendingCount(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&model.Transaction{}).
		Where("status = ?", model.TransactionPending).Count(&count).Error
	return count, err
}

func (s *TransactionService) byPaymentId(ctx context.Context, paymentId string) (*model.Transaction, error) {
	var txn model.Transaction
	err := s.db.WithContext(ctx).Where("payment_id = ?", paymentId).First(&txn).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("no transaction for payment id %s", paymentId)
	}
	if err != nil {
		return nil, err
	}
	return &txn, nil
}
