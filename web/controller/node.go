// Package controller provides the HTTP handlers of the admin and webhook API.
package controller

import (
	"strconv"

	"submaster/internal/model"
	"submaster/internal/service"

	"github.com/gin-gonic/gin"
)

// NodeController handles node management and pool inspection.
type NodeController struct {
	nodeService *service.NodeService
	pool        *service.NodePool
}

// NewNodeController creates a new NodeController and sets up its routes.
func NewNodeController(g *gin.RouterGroup, nodeService *service.NodeService, pool *service.NodePool) *NodeController {
	a := &NodeController{
		nodeService: nodeService,
		pool:        pool,
	}
	a.initRouter(g)
	return a
}

func (a *NodeController) initRouter(g *gin.RouterGroup) {
	g.GET("/", a.getNodes)
	g.GET("/:id", a.getNode)
	g.GET("/:id/status", a.getNodeStatus)
	g.GET("/pool", a.getPool)

	g.POST("/", a.addNode)
	g.POST("/:id", a.updateNode)
	g.POST("/:id/delete", a.deleteNode)
	g.POST("/sync", a.syncPool)
}

// getNodes retrieves all nodes.
func (a *NodeController) getNodes(c *gin.Context) {
	nodes, err := a.nodeService.GetAllNodes()
	if err != nil {
		jsonMsg(c, "Failed to get nodes", err)
		return
	}
	jsonObj(c, nodes, nil)
}

// getNode retrieves a specific node by ID.
func (a *NodeController) getNode(c *gin.Context) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		jsonMsg(c, "Invalid node id", err)
		return
	}
	node, err := a.nodeService.GetNode(id)
	if err != nil {
		jsonMsg(c, "Failed to get node", err)
		return
	}
	jsonObj(c, node, nil)
}

// getNodeStatus fetches the node's self-reported host metrics.
func (a *NodeController) getNodeStatus(c *gin.Context) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		jsonMsg(c, "Invalid node id", err)
		return
	}
	conn, err := a.pool.Get(id)
	if err != nil {
		jsonMsg(c, "Failed to get node status", err)
		return
	}
	status, err := conn.Client.Status(c.Request.Context())
	if err != nil {
		jsonMsg(c, "Failed to get node status", err)
		return
	}
	jsonObj(c, status, nil)
}

// getPool reports the live pool view: connectivity and client counts.
func (a *NodeController) getPool(c *gin.Context) {
	conns := a.pool.Snapshot()
	type poolEntry struct {
		Id       int    `json:"id"`
		Name     string `json:"name"`
		Online   bool   `json:"online"`
		Clients  int    `json:"clients"`
		Capacity int    `json:"capacity"`
	}
	entries := make([]poolEntry, 0, len(conns))
	for _, conn := range conns {
		entries = append(entries, poolEntry{
			Id:       conn.Node.Id,
			Name:     conn.Node.Name,
			Online:   conn.Online,
			Clients:  conn.Clients,
			Capacity: conn.Node.Capacity,
		})
	}
	jsonObj(c, entries, nil)
}

// addNode adds a new node and refreshes the pool so it becomes assignable.
func (a *NodeController) addNode(c *gin.Context) {
	var node model.Node
	if err := c.ShouldBindJSON(&node); err != nil {
		jsonMsg(c, "Failed to add node", err)
		return
	}
	if err := a.nodeService.AddNode(&node); err != nil {
		jsonMsg(c, "Failed to add node", err)
		return
	}
	a.pool.Sync(c.Request.Context())
	jsonMsg(c, "Node added", nil)
}

// updateNode updates an existing node.
func (a *NodeController) updateNode(c *gin.Context) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		jsonMsg(c, "Invalid node id", err)
		return
	}
	var node model.Node
	if err := c.ShouldBindJSON(&node); err != nil {
		jsonMsg(c, "Failed to update node", err)
		return
	}
	node.Id = id
	if err := a.nodeService.UpdateNode(&node); err != nil {
		jsonMsg(c, "Failed to update node", err)
		return
	}
	a.pool.Sync(c.Request.Context())
	jsonMsg(c, "Node updated", nil)
}

// deleteNode deletes a node.
func (a *NodeController) deleteNode(c *gin.Context) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		jsonMsg(c, "Invalid node id", err)
		return
	}
	if err := a.nodeService.DeleteNode(id); err != nil {
		jsonMsg(c, "Failed to delete node", err)
		return
	}
	a.pool.Sync(c.Request.Context())
	jsonMsg(c, "Node deleted", nil)
}

// syncPool forces an immediate pool reconciliation.
func (a *NodeController) syncPool(c *gin.Context) {
	a.pool.Sync(c.Request.Context())
	jsonMsg(c, "Pool synchronized", nil)
}
