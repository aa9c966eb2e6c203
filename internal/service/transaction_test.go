package service

import (
	"context"
	"testing"
	"time"

	"submaster/internal/config"
	"submaster/internal/model"
	"submaster/internal/notify"

	"gorm.io/gorm"
)

func setupTransactionTest(t *testing.T) (*gorm.DB, *TransactionService, *fakeNode) {
	t.Helper()
	db := setupTestDB(t)
	ctx := context.Background()

	fake, _ := startFakeNode(t, db, "node-a", 10)
	pool := NewNodePool(db)
	pool.Sync(ctx)
	subs := NewSubscriptionService(db, pool)
	referrals := NewReferralService(db, subs, config.ReferralConfig{
		Enabled:    true,
		Mode:       "days",
		Level1Days: 10,
		Level2Days: 3,
	})
	svc := NewTransactionService(db, subs, referrals, notify.Nop{}, true)
	return db, svc, fake
}

func buyOrder(devices, days int, price float64) model.SubscriptionOrder {
	return model.SubscriptionOrder{
		Devices:      devices,
		DurationDays: days,
		Price:        price,
		Gateway:      "yookassa",
	}
}

func TestTransactionCreateIdempotent(t *testing.T) {
	db, svc, _ := setupTransactionTest(t)
	ctx := context.Background()
	sub := createSubscriber(t, db, 100, "client-100")

	first, err := svc.Create(ctx, sub, buyOrder(1, 30, 500), "pay-1")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	second, err := svc.Create(ctx, sub, buyOrder(2, 60, 900), "pay-1")
	if err != nil {
		t.Fatalf("duplicate Create failed: %v", err)
	}
	if second.Id != first.Id {
		t.Fatalf("expected same transaction for same payment id, got %d and %d", first.Id, second.Id)
	}

	order, err := second.Order()
	if err != nil {
		t.Fatalf("Order decode failed: %v", err)
	}
	if order.DurationDays != 30 {
		t.Fatalf("expected original order snapshot kept, got %d days", order.DurationDays)
	}
}

func TestHandleSucceededProvisionsOnce(t *testing.T) {
	db, svc, fake := setupTransactionTest(t)
	ctx := context.Background()
	sub := createSubscriber(t, db, 100, "client-100")

	if _, err := svc.Create(ctx, sub, buyOrder(2, 30, 500), "pay-1"); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	// The provider may deliver the webhook any number of times.
	for i := 0; i < 3; i++ {
		if err := svc.HandleSucceeded(ctx, "pay-1"); err != nil {
			t.Fatalf("delivery %d failed: %v", i+1, err)
		}
	}

	if fake.addCalls != 1 {
		t.Fatalf("expected exactly 1 provisioning call, got %d", fake.addCalls)
	}
	rec := fake.record("client-100")
	if rec == nil || rec.DeviceLimit != 2 {
		t.Fatalf("unexpected provisioned record: %+v", rec)
	}

	var txn model.Transaction
	db.Where("payment_id = ?", "pay-1").First(&txn)
	if txn.Status != model.TransactionCompleted {
		t.Fatalf("expected COMPLETED, got %s", txn.Status)
	}
}

func TestHandleSucceededUnknownPayment(t *testing.T) {
	_, svc, _ := setupTransactionTest(t)

	if err := svc.HandleSucceeded(context.Background(), "no-such-payment"); err == nil {
		t.Fatalf("expected error for unknown payment id")
	}
}

func TestHandleCanceled(t *testing.T) {
	db, svc, fake := setupTransactionTest(t)
	ctx := context.Background()
	sub := createSubscriber(t, db, 100, "client-100")

	if _, err := svc.Create(ctx, sub, buyOrder(1, 30, 500), "pay-1"); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if err := svc.HandleCanceled(ctx, "pay-1"); err != nil {
		t.Fatalf("HandleCanceled failed: %v", err)
	}

	var txn model.Transaction
	db.Where("payment_id = ?", "pay-1").First(&txn)
	if txn.Status != model.TransactionCanceled {
		t.Fatalf("expected CANCELED, got %s", txn.Status)
	}
	if fake.addCalls != 0 {
		t.Fatalf("expected no provisioning for canceled payment")
	}

	// A late success for a terminal transaction is a silent no-op.
	if err := svc.HandleSucceeded(ctx, "pay-1"); err != nil {
		t.Fatalf("late success delivery errored: %v", err)
	}
	db.Where("payment_id = ?", "pay-1").First(&txn)
	if txn.Status != model.TransactionCanceled {
		t.Fatalf("expected terminal status unchanged, got %s", txn.Status)
	}
	if fake.addCalls != 0 {
		t.Fatalf("expected no provisioning after terminal state")
	}
}

func TestExpireStale(t *testing.T) {
	db, svc, _ := setupTransactionTest(t)
	ctx := context.Background()
	sub := createSubscriber(t, db, 100, "client-100")

	stale, err := svc.Create(ctx, sub, buyOrder(1, 30, 500), "pay-stale")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if _, err := svc.Create(ctx, sub, buyOrder(1, 30, 500), "pay-fresh"); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	// Backdate the stale one past the window.
	old := time.Now().Add(-16 * time.Minute)
	if err := db.Model(&model.Transaction{}).Where("id = ?", stale.Id).
		UpdateColumn("created_at", old).Error; err != nil {
		t.Fatalf("failed to backdate transaction: %v", err)
	}

	n, err := svc.ExpireStale(ctx, 15*time.Minute)
	if err != nil {
		t.Fatalf("ExpireStale failed: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 expired transaction, got %d", n)
	}

	// Separate variables: a populated primary key would leak into the
	// second query's conditions.
	var canceled model.Transaction
	db.Where("payment_id = ?", "pay-stale").First(&canceled)
	if canceled.Status != model.TransactionCanceled {
		t.Fatalf("expected stale transaction canceled, got %s", canceled.Status)
	}
	var fresh model.Transaction
	db.Where("payment_id = ?", "pay-fresh").First(&fresh)
	if fresh.Status != model.TransactionPending {
		t.Fatalf("expected fresh transaction untouched, got %s", fresh.Status)
	}

	// The sweep converges: a second run finds nothing.
	n, err = svc.ExpireStale(ctx, 15*time.Minute)
	if err != nil {
		t.Fatalf("second sweep failed: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected idempotent sweep, got %d", n)
	}
}

func TestCompletedPaymentRecordsReferralReward(t *testing.T) {
	db, svc, fake := setupTransactionTest(t)
	ctx := context.Background()

	referrer := createSubscriber(t, db, 100, "client-100")
	payer := createSubscriber(t, db, 200, "client-200")
	if err := db.Create(&model.Referral{
		ReferredId: payer.Id,
		ReferrerId: referrer.Id,
	}).Error; err != nil {
		t.Fatalf("failed to seed referral: %v", err)
	}

	if _, err := svc.Create(ctx, payer, buyOrder(1, 30, 500), "pay-1"); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if err := svc.HandleSucceeded(ctx, "pay-1"); err != nil {
		t.Fatalf("HandleSucceeded failed: %v", err)
	}

	var rewards []model.ReferrerReward
	db.Find(&rewards)
	if len(rewards) != 1 {
		t.Fatalf("expected 1 reward, got %d", len(rewards))
	}
	if rewards[0].SubscriberId != referrer.Id || rewards[0].Amount != 10 {
		t.Fatalf("unexpected reward: %+v", rewards[0])
	}
	if rewards[0].RewardedAt != nil {
		t.Fatalf("expected reward recorded but not yet fulfilled")
	}

	// The sweep then grants the referrer's bonus days.
	pool := NewNodePool(db)
	pool.Sync(ctx)
	referrals := NewReferralService(db, NewSubscriptionService(db, pool), config.ReferralConfig{
		Enabled: true, Mode: "days", Level1Days: 10, Level2Days: 3,
	})
	if err := referrals.FulfillPendingRewards(ctx); err != nil {
		t.Fatalf("FulfillPendingRewards failed: %v", err)
	}
	rec := fake.record("client-100")
	if rec == nil {
		t.Fatalf("expected referrer record created by fulfillment")
	}
	want := time.Now().UnixMilli() + 10*millisPerDay
	if rec.ExpiryTime < want-5000 || rec.ExpiryTime > want+5000 {
		t.Fatalf("expected referrer extended by 10 days, got %d", rec.ExpiryTime)
	}
}

func TestPaymentWithoutReferralEarnsNothing(t *testing.T) {
	db, svc, _ := setupTransactionTest(t)
	ctx := context.Background()
	sub := createSubscriber(t, db, 100, "client-100")

	if _, err := svc.Create(ctx, sub, buyOrder(1, 30, 500), "pay-1"); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if err := svc.HandleSucceeded(ctx, "pay-1"); err != nil {
		t.Fatalf("HandleSucceeded failed: %v", err)
	}

	var count int64
	db.Model(&model.ReferrerReward{}).Count(&count)
	if count != 0 {
		t.Fatalf("expected no rewards without referral, got %d", count)
	}
}
