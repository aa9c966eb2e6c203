package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"submaster/internal/config"
	"submaster/internal/model"
	"submaster/util/common"
)

func TestExtendExpiry(t *testing.T) {
	now := time.Now().UnixMilli()

	tests := []struct {
		name    string
		current int64
		days    int
		wantMin int64
		wantMax int64
	}{
		{"expired record restarts from now", now - 10*millisPerDay, 5, now + 5*millisPerDay, now + 5*millisPerDay + 1000},
		{"active record keeps remaining time", now + 3*millisPerDay, 5, now + 8*millisPerDay, now + 8*millisPerDay + 1000},
		{"unlimited stays unlimited", -1, 5, -1, -1},
		{"zero sentinel means unlimited", 0, 5, -1, -1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := extendExpiry(tt.current, tt.days)
			if got < tt.wantMin || got > tt.wantMax {
				t.Fatalf("extendExpiry(%d, %d) = %d, want in [%d, %d]", tt.current, tt.days, got, tt.wantMin, tt.wantMax)
			}
		})
	}
}

func TestCreateOrUpdateCreatesAndAssigns(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	fake, node := startFakeNode(t, db, "node-a", 5)
	pool := NewNodePool(db)
	pool.Sync(ctx)
	svc := NewSubscriptionService(db, pool)

	sub := createSubscriber(t, db, 100, "client-100")
	if err := svc.CreateOrUpdate(ctx, sub, 3, 30); err != nil {
		t.Fatalf("CreateOrUpdate failed: %v", err)
	}

	if sub.NodeId == nil || *sub.NodeId != node.Id {
		t.Fatalf("expected subscriber assigned to node %d", node.Id)
	}

	rec := fake.record("client-100")
	if rec == nil {
		t.Fatalf("expected record created on node")
	}
	if rec.DeviceLimit != 3 || !rec.Enable {
		t.Fatalf("unexpected record: %+v", rec)
	}
	wantExpiry := time.Now().UnixMilli() + 30*millisPerDay
	if rec.ExpiryTime < wantExpiry-5000 || rec.ExpiryTime > wantExpiry+5000 {
		t.Fatalf("expiry %d not near %d", rec.ExpiryTime, wantExpiry)
	}
}

func TestCreateOrUpdateReplacesExisting(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	fake, node := startFakeNode(t, db, "node-a", 5)
	pool := NewNodePool(db)
	pool.Sync(ctx)
	svc := NewSubscriptionService(db, pool)

	sub := createSubscriber(t, db, 100, "client-100")
	sub.NodeId = &node.Id
	db.Model(sub).Update("node_id", node.Id)

	old := time.Now().UnixMilli() + 90*millisPerDay
	fake.setRecord(&ClientRecord{ClientId: "client-100", DeviceLimit: 5, ExpiryTime: old, Enable: true})

	// Change flow: limits and expiry are replaced, not summed.
	if err := svc.CreateOrUpdate(ctx, sub, 1, 30); err != nil {
		t.Fatalf("CreateOrUpdate failed: %v", err)
	}

	rec := fake.record("client-100")
	if rec.DeviceLimit != 1 {
		t.Fatalf("expected device limit replaced to 1, got %d", rec.DeviceLimit)
	}
	if rec.ExpiryTime >= old {
		t.Fatalf("expected expiry replaced below old value, got %d >= %d", rec.ExpiryTime, old)
	}
}

func TestExtendRequiresExistingRecord(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	_, node := startFakeNode(t, db, "node-a", 5)
	pool := NewNodePool(db)
	pool.Sync(ctx)
	svc := NewSubscriptionService(db, pool)

	sub := createSubscriber(t, db, 100, "client-100")
	sub.NodeId = &node.Id
	db.Model(sub).Update("node_id", node.Id)

	if err := svc.Extend(ctx, sub, 0, 30); !errors.Is(err, common.ErrClientNotFound) {
		t.Fatalf("expected ErrClientNotFound, got %v", err)
	}
}

func TestExtendPreservesRemainingTime(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	fake, node := startFakeNode(t, db, "node-a", 5)
	pool := NewNodePool(db)
	pool.Sync(ctx)
	svc := NewSubscriptionService(db, pool)

	sub := createSubscriber(t, db, 100, "client-100")
	sub.NodeId = &node.Id
	db.Model(sub).Update("node_id", node.Id)

	current := time.Now().UnixMilli() + 10*millisPerDay
	fake.setRecord(&ClientRecord{ClientId: "client-100", DeviceLimit: 2, ExpiryTime: current, Enable: true})

	if err := svc.Extend(ctx, sub, 0, 30); err != nil {
		t.Fatalf("Extend failed: %v", err)
	}

	rec := fake.record("client-100")
	want := current + 30*millisPerDay
	if rec.ExpiryTime != want {
		t.Fatalf("expected expiry %d, got %d", want, rec.ExpiryTime)
	}
	if rec.DeviceLimit != 2 {
		t.Fatalf("expected device limit untouched, got %d", rec.DeviceLimit)
	}
}

func TestRemoteRecordDistinguishesFailures(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	fake, node := startFakeNode(t, db, "node-a", 5)
	pool := NewNodePool(db)
	pool.Sync(ctx)
	svc := NewSubscriptionService(db, pool)

	sub := createSubscriber(t, db, 100, "client-100")
	sub.NodeId = &node.Id
	db.Model(sub).Update("node_id", node.Id)

	// Missing record reads as "never subscribed".
	if _, err := svc.RemoteRecord(ctx, sub); !errors.Is(err, common.ErrClientNotFound) {
		t.Fatalf("expected ErrClientNotFound, got %v", err)
	}

	fake.setRecord(&ClientRecord{ClientId: "client-100", ExpiryTime: 0, Enable: true})
	rec, err := svc.RemoteRecord(ctx, sub)
	if err != nil {
		t.Fatalf("RemoteRecord failed: %v", err)
	}
	if rec.ExpiryTime != -1 {
		t.Fatalf("expected zero expiry normalized to -1, got %d", rec.ExpiryTime)
	}
}

func TestActivateTrialOnce(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	fake, _ := startFakeNode(t, db, "node-a", 5)
	pool := NewNodePool(db)
	pool.Sync(ctx)
	svc := NewSubscriptionService(db, pool)

	trial := config.TrialConfig{Enabled: true, Days: 3, Devices: 1}
	sub := createSubscriber(t, db, 100, "client-100")

	if err := svc.ActivateTrial(ctx, sub, trial); err != nil {
		t.Fatalf("first trial activation failed: %v", err)
	}
	if fake.record("client-100") == nil {
		t.Fatalf("expected trial record created")
	}

	if err := svc.ActivateTrial(ctx, sub, trial); !errors.Is(err, ErrTrialAlreadyUsed) {
		t.Fatalf("expected ErrTrialAlreadyUsed, got %v", err)
	}
}

func TestActivateTrialGrantsReferredBonus(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	fake, _ := startFakeNode(t, db, "node-a", 5)
	pool := NewNodePool(db)
	pool.Sync(ctx)
	svc := NewSubscriptionService(db, pool)

	sub := createSubscriber(t, db, 100, "client-100")
	referrer := createSubscriber(t, db, 200, "client-200")
	if err := db.Create(&model.Referral{
		ReferredId:        sub.Id,
		ReferrerId:        referrer.Id,
		ReferredBonusDays: 2,
	}).Error; err != nil {
		t.Fatalf("failed to seed referral: %v", err)
	}

	trial := config.TrialConfig{Enabled: true, Days: 3, Devices: 1}
	if err := svc.ActivateTrial(ctx, sub, trial); err != nil {
		t.Fatalf("trial activation failed: %v", err)
	}

	// Trial days plus the referred bonus on top.
	rec := fake.record("client-100")
	want := time.Now().UnixMilli() + 5*millisPerDay
	if rec.ExpiryTime < want-5000 || rec.ExpiryTime > want+5000 {
		t.Fatalf("expected expiry near %d (3 trial + 2 bonus days), got %d", want, rec.ExpiryTime)
	}

	var referral model.Referral
	if err := db.Where("referred_id = ?", sub.Id).First(&referral).Error; err != nil {
		t.Fatalf("failed to load referral: %v", err)
	}
	if referral.ReferredRewardedAt == nil {
		t.Fatalf("expected referred bonus marked granted")
	}
}

func TestReferredBonusRetriedAfterFailedGrant(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	fake, _ := startFakeNode(t, db, "node-a", 5)
	pool := NewNodePool(db)
	pool.Sync(ctx)
	svc := NewSubscriptionService(db, pool)

	sub := createSubscriber(t, db, 100, "client-100")
	referrer := createSubscriber(t, db, 200, "client-200")
	if err := db.Create(&model.Referral{
		ReferredId:        sub.Id,
		ReferrerId:        referrer.Id,
		ReferredBonusDays: 2,
	}).Error; err != nil {
		t.Fatalf("failed to seed referral: %v", err)
	}

	// The trial record is created, but the bonus extension on top fails.
	fake.updateFail = true
	trial := config.TrialConfig{Enabled: true, Days: 3, Devices: 1}
	if err := svc.ActivateTrial(ctx, sub, trial); err != nil {
		t.Fatalf("trial activation failed: %v", err)
	}

	var referral model.Referral
	if err := db.Where("referred_id = ?", sub.Id).First(&referral).Error; err != nil {
		t.Fatalf("failed to load referral: %v", err)
	}
	if referral.ReferredRewardedAt != nil {
		t.Fatalf("expected claim released after failed grant")
	}

	// The sweep repairs the failed grant once the node recovers.
	fake.updateFail = false
	referrals := NewReferralService(db, svc, config.ReferralConfig{Enabled: true, Mode: "days"})
	if err := referrals.FulfillPendingRewards(ctx); err != nil {
		t.Fatalf("FulfillPendingRewards failed: %v", err)
	}

	if err := db.Where("referred_id = ?", sub.Id).First(&referral).Error; err != nil {
		t.Fatalf("failed to reload referral: %v", err)
	}
	if referral.ReferredRewardedAt == nil {
		t.Fatalf("expected referred bonus granted by sweep")
	}
	rec := fake.record("client-100")
	want := time.Now().UnixMilli() + 5*millisPerDay
	if rec.ExpiryTime < want-5000 || rec.ExpiryTime > want+5000 {
		t.Fatalf("expected expiry near %d (3 trial + 2 bonus days), got %d", want, rec.ExpiryTime)
	}
}

func TestPurgeExpired(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	fake, node := startFakeNode(t, db, "node-a", 5)
	pool := NewNodePool(db)
	pool.Sync(ctx)
	svc := NewSubscriptionService(db, pool)

	now := time.Now().UnixMilli()

	expired := createSubscriber(t, db, 100, "client-expired")
	db.Model(expired).Update("node_id", node.Id)
	fake.setRecord(&ClientRecord{ClientId: "client-expired", ExpiryTime: now - 10*millisPerDay})

	active := createSubscriber(t, db, 200, "client-active")
	db.Model(active).Update("node_id", node.Id)
	fake.setRecord(&ClientRecord{ClientId: "client-active", ExpiryTime: now + 10*millisPerDay, Enable: true})

	unlimited := createSubscriber(t, db, 300, "client-unlimited")
	db.Model(unlimited).Update("node_id", node.Id)
	fake.setRecord(&ClientRecord{ClientId: "client-unlimited", ExpiryTime: -1, Enable: true})

	purged, err := svc.PurgeExpired(ctx, 3*24*time.Hour)
	if err != nil {
		t.Fatalf("PurgeExpired failed: %v", err)
	}
	if purged != 1 {
		t.Fatalf("expected 1 purged record, got %d", purged)
	}
	if fake.record("client-expired") != nil {
		t.Fatalf("expected expired record removed from node")
	}
	if fake.record("client-active") == nil || fake.record("client-unlimited") == nil {
		t.Fatalf("expected active and unlimited records kept")
	}

	var stored model.Subscriber
	db.First(&stored, expired.Id)
	if stored.NodeId != nil {
		t.Fatalf("expected purged subscriber's assignment cleared")
	}
}
