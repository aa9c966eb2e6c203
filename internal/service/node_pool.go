package service

import (
	"context"
	"sync"
	"time"

	"submaster/internal/model"
	"submaster/logger"
	"submaster/util/common"

	"gorm.io/gorm"
)

// NodeConn is one live entry of the pool: a node row together with its
// authenticated client and in-memory health state.
type NodeConn struct {
	Node    model.Node
	Client  *NodeClient
	Online  bool
	Clients int
}

// SpareCapacity reports whether the node can take another client.
// Capacity 0 means uncapped.
func (c *NodeConn) SpareCapacity() bool {
	return c.Node.Capacity <= 0 || c.Clients < c.Node.Capacity
}

// NodePool is the in-memory registry of authenticated node connections.
// It reconciles itself against the node table on every Sync and performs
// load-balanced assignment for new subscribers.
type NodePool struct {
	mu    sync.RWMutex
	db    *gorm.DB
	conns map[int]*NodeConn
}

func NewNodePool(db *gorm.DB) *NodePool {
	return &NodePool{
		db:    db,
		conns: make(map[int]*NodeConn),
	}
}

// Sync reconciles the pool against the node table. Nodes missing from the
// pool are added (a failed login leaves them present but offline), nodes
// removed from the store are evicted, nodes present in both are
// re-authenticated to recover from silent remote session expiry. Sync
// never fails a node out of the pool and is safe to run concurrently with
// itself and with assignment.
func (p *NodePool) Sync(ctx context.Context) {
	var nodes []model.Node
	if err := p.db.WithContext(ctx).Find(&nodes).Error; err != nil {
		logger.Errorf("NodePool sync: failed to load nodes: %v", err)
		return
	}

	p.mu.RLock()
	existing := make(map[int]*NodeConn, len(p.conns))
	for id, conn := range p.conns {
		existing[id] = conn
	}
	p.mu.RUnlock()

	refreshed := make(map[int]*NodeConn, len(nodes))
	for i := range nodes {
		node := nodes[i]
		var client *NodeClient
		switch prev, ok := existing[node.Id]; {
		case !ok:
			client = NewNodeClient(&node)
			logger.Infof("NodePool sync: adding node %q (%d)", node.Name, node.Id)
		case !sameEndpoint(&prev.Node, &node):
			// The client's base URL and credentials are frozen at
			// construction; an edited node row needs a fresh one.
			client = NewNodeClient(&node)
			logger.Infof("NodePool sync: rebuilding client for updated node %q (%d)", node.Name, node.Id)
		default:
			client = prev.Client
		}

		conn := &NodeConn{Node: node, Client: client}
		if err := client.Login(ctx); err != nil {
			logger.Warningf("NodePool sync: login to node %q failed, marking offline: %v", node.Name, err)
			conn.Online = false
		} else {
			conn.Online = true
			count, err := client.CountClients(ctx)
			if err != nil {
				logger.Warningf("NodePool sync: client count on node %q failed: %v", node.Name, err)
				conn.Online = false
			} else {
				conn.Clients = count
			}
		}
		refreshed[node.Id] = conn

		p.persistStatus(ctx, node.Id, conn.Online)
	}

	p.mu.Lock()
	for id, conn := range p.conns {
		if _, keep := refreshed[id]; !keep {
			logger.Infof("NodePool sync: evicting node %q (%d) removed from store", conn.Node.Name, id)
		}
	}
	p.conns = refreshed
	p.mu.Unlock()
}

// Assign returns the best node for a new subscriber: the least-loaded
// online node with spare capacity. When every node is full it degrades to
// the least-loaded one overall instead of refusing. An empty pool is a
// hard stop.
func (p *NodePool) Assign() (*NodeConn, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var best, fallback *NodeConn
	for _, conn := range p.conns {
		if !conn.Online {
			continue
		}
		if fallback == nil || conn.Clients < fallback.Clients {
			fallback = conn
		}
		if !conn.SpareCapacity() {
			continue
		}
		if best == nil || conn.Clients < best.Clients {
			best = conn
		}
	}

	if best != nil {
		return best, nil
	}
	if fallback != nil {
		logger.Warningf("NodePool assign: all nodes at capacity, overflowing onto %q (%d clients)",
			fallback.Node.Name, fallback.Clients)
		return fallback, nil
	}
	return nil, common.ErrNoNodeAvailable
}

// Connection returns the live connection for the subscriber's assigned
// node. A subscriber pointing at a node absent from the pool is a
// consistency fault: logged critically and reported as unavailable, never
// a crash.
func (p *NodePool) Connection(sub *model.Subscriber) (*NodeConn, error) {
	if sub.NodeId == nil {
		return nil, common.ErrNoNodeAvailable
	}

	p.mu.RLock()
	conn, ok := p.conns[*sub.NodeId]
	p.mu.RUnlock()

	if !ok {
		logger.Errorf("NodePool: subscriber %d assigned to node %d which is not in the pool", sub.Id, *sub.NodeId)
		return nil, common.ErrNodeUnavailable
	}
	return conn, nil
}

// Get returns the live connection for a node id.
func (p *NodePool) Get(nodeId int) (*NodeConn, error) {
	p.mu.RLock()
	conn, ok := p.conns[nodeId]
	p.mu.RUnlock()

	if !ok {
		return nil, common.ErrNodeUnavailable
	}
	return conn, nil
}

// NoteClientAdded bumps the cached load figure after a successful
// provisioning call so assignment stays balanced between syncs.
func (p *NodePool) NoteClientAdded(nodeId int) {
	p.mu.Lock()
	if conn, ok := p.conns[nodeId]; ok {
		conn.Clients++
	}
	p.mu.Unlock()
}

// MarkOffline degrades a node after a failed remote call. The node stays
// in the pool; the next Sync retries its login.
func (p *NodePool) MarkOffline(ctx context.Context, nodeId int) {
	p.mu.Lock()
	conn, ok := p.conns[nodeId]
	if ok {
		conn.Online = false
	}
	p.mu.Unlock()

	if ok {
		p.persistStatus(ctx, nodeId, false)
	}
}

// Snapshot returns a copy of the pool entries for the status API.
func (p *NodePool) Snapshot() []NodeConn {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]NodeConn, 0, len(p.conns))
	for _, conn := range p.conns {
		out = append(out, *conn)
	}
	return out
}

// sameEndpoint reports whether two node rows describe the same control
// API endpoint and credentials.
func sameEndpoint(a, b *model.Node) bool {
	return a.Host == b.Host &&
		a.Port == b.Port &&
		a.Protocol == b.Protocol &&
		a.Username == b.Username &&
		a.Password == b.Password
}

func (p *NodePool) persistStatus(ctx context.Context, nodeId int, online bool) {
	err := p.db.WithContext(ctx).Model(&model.Node{}).Where("id = ?", nodeId).
		Updates(map[string]any{
			"online":     online,
			"last_check": time.Now().Unix(),
		}).Error
	if err != nil {
		logger.Warningf("NodePool: failed to persist status of node %d: %v", nodeId, err)
	}
}
