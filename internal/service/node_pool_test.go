package service

import (
	"context"
	"errors"
	"testing"

	"submaster/internal/model"
	"submaster/util/common"
)

func TestPoolAssignLeastLoaded(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	fakeA, _ := startFakeNode(t, db, "node-a", 5)
	_, nodeB := startFakeNode(t, db, "node-b", 5)

	fakeA.setRecord(&ClientRecord{ClientId: "c1", Enable: true})
	fakeA.setRecord(&ClientRecord{ClientId: "c2", Enable: true})

	pool := NewNodePool(db)
	pool.Sync(ctx)

	conn, err := pool.Assign()
	if err != nil {
		t.Fatalf("Assign failed: %v", err)
	}
	if conn.Node.Id != nodeB.Id {
		t.Fatalf("expected assignment to empty node %d, got %d", nodeB.Id, conn.Node.Id)
	}
}

func TestPoolAssignOverflowsWhenFull(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	fakeA, _ := startFakeNode(t, db, "node-a", 2)
	fakeB, nodeB := startFakeNode(t, db, "node-b", 2)

	fakeA.setRecord(&ClientRecord{ClientId: "a1"})
	fakeA.setRecord(&ClientRecord{ClientId: "a2"})
	fakeB.setRecord(&ClientRecord{ClientId: "b1"})
	fakeB.setRecord(&ClientRecord{ClientId: "b2"})
	fakeB.setRecord(&ClientRecord{ClientId: "b3"})

	pool := NewNodePool(db)
	pool.Sync(ctx)

	// Both nodes are at or over capacity; assignment must still land on
	// the least-loaded one instead of refusing.
	conn, err := pool.Assign()
	if err != nil {
		t.Fatalf("Assign failed: %v", err)
	}
	if conn.Node.Id == nodeB.Id {
		t.Fatalf("expected overflow onto least-loaded node, got node %d with %d clients", conn.Node.Id, conn.Clients)
	}
}

func TestPoolAssignEmptyPool(t *testing.T) {
	db := setupTestDB(t)
	pool := NewNodePool(db)
	pool.Sync(context.Background())

	if _, err := pool.Assign(); !errors.Is(err, common.ErrNoNodeAvailable) {
		t.Fatalf("expected ErrNoNodeAvailable, got %v", err)
	}
}

func TestPoolOfflineNodeNotAssignable(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	fake, _ := startFakeNode(t, db, "node-a", 5)
	fake.loginFail = true

	pool := NewNodePool(db)
	pool.Sync(ctx)

	if _, err := pool.Assign(); !errors.Is(err, common.ErrNoNodeAvailable) {
		t.Fatalf("expected ErrNoNodeAvailable with only offline node, got %v", err)
	}

	// Node recovers on the next sync.
	fake.loginFail = false
	pool.Sync(ctx)
	if _, err := pool.Assign(); err != nil {
		t.Fatalf("expected recovered node to be assignable, got %v", err)
	}
}

func TestPoolConnectionDrift(t *testing.T) {
	db := setupTestDB(t)
	pool := NewNodePool(db)
	pool.Sync(context.Background())

	missing := 999
	sub := &model.Subscriber{Id: 1, NodeId: &missing}
	if _, err := pool.Connection(sub); !errors.Is(err, common.ErrNodeUnavailable) {
		t.Fatalf("expected ErrNodeUnavailable for dangling assignment, got %v", err)
	}

	unassigned := &model.Subscriber{Id: 2}
	if _, err := pool.Connection(unassigned); !errors.Is(err, common.ErrNoNodeAvailable) {
		t.Fatalf("expected ErrNoNodeAvailable for unassigned subscriber, got %v", err)
	}
}

func TestPoolSyncRebuildsClientAfterNodeUpdate(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	oldFake, node := startFakeNode(t, db, "node-a", 5)

	pool := NewNodePool(db)
	pool.Sync(ctx)

	// The node row is edited to point at a different endpoint, as a
	// POST /api/nodes/:id would do.
	newFake, host, port := startFakeServer(t)
	if err := db.Model(&model.Node{}).Where("id = ?", node.Id).
		Updates(map[string]any{"host": host, "port": port}).Error; err != nil {
		t.Fatalf("failed to update node row: %v", err)
	}
	pool.Sync(ctx)

	sub := createSubscriber(t, db, 100, "client-100")
	subs := NewSubscriptionService(db, pool)
	if err := subs.CreateOrUpdate(ctx, sub, 1, 30); err != nil {
		t.Fatalf("CreateOrUpdate failed: %v", err)
	}

	if newFake.record("client-100") == nil {
		t.Fatalf("expected record provisioned on the updated endpoint")
	}
	if oldFake.record("client-100") != nil {
		t.Fatalf("expected no provisioning on the old endpoint")
	}
}

func TestPoolSyncEvictsRemovedNode(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	_, node := startFakeNode(t, db, "node-a", 5)

	pool := NewNodePool(db)
	pool.Sync(ctx)
	if len(pool.Snapshot()) != 1 {
		t.Fatalf("expected 1 pool entry")
	}

	if err := db.Delete(&model.Node{}, node.Id).Error; err != nil {
		t.Fatalf("failed to delete node: %v", err)
	}
	pool.Sync(ctx)
	if len(pool.Snapshot()) != 0 {
		t.Fatalf("expected node to be evicted after removal from store")
	}
}

func TestPoolNodeStatus(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	_, node := startFakeNode(t, db, "node-a", 5)

	pool := NewNodePool(db)
	pool.Sync(ctx)

	conn, err := pool.Get(node.Id)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	status, err := conn.Client.Status(ctx)
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if status.Cpu != 12.5 || status.MemTotal != 4096 {
		t.Fatalf("unexpected node status: %+v", status)
	}

	if _, err := pool.Get(999); !errors.Is(err, common.ErrNodeUnavailable) {
		t.Fatalf("expected ErrNodeUnavailable for unknown node id, got %v", err)
	}
}

func TestPoolSyncPersistsStatus(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	_, node := startFakeNode(t, db, "node-a", 5)

	pool := NewNodePool(db)
	pool.Sync(ctx)

	var stored model.Node
	if err := db.First(&stored, node.Id).Error; err != nil {
		t.Fatalf("failed to load node: %v", err)
	}
	if !stored.Online {
		t.Fatalf("expected node to be stored online after sync")
	}
	if stored.LastCheck == 0 {
		t.Fatalf("expected last_check to be set")
	}
}
