// Package job contains the cron jobs driving background reconciliation.
package job

import (
	"context"

	"submaster/internal/service"
	"submaster/util/common"
)

// NodeSyncJob periodically reconciles the node pool with the database
// and the remote nodes.
type NodeSyncJob struct {
	pool *service.NodePool
}

func NewNodeSyncJob(pool *service.NodePool) *NodeSyncJob {
	return &NodeSyncJob{pool: pool}
}

func (j *NodeSyncJob) Run() {
	defer common.Recover("NodeSyncJob")
	j.pool.Sync(context.Background())
}
