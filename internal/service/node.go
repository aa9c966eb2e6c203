package service

import (
	"submaster/internal/model"
	"submaster/util/common"

	"gorm.io/gorm"
)

// NodeService provides CRUD over the node table for the admin surface.
// Pool membership follows the table via NodePool.Sync.
type NodeService struct {
	db *gorm.DB
}

func NewNodeService(db *gorm.DB) *NodeService {
	return &NodeService{db: db}
}

// AddNode validates and stores a new node.
func (s *NodeService) AddNode(node *model.Node) error {
	if node.Name == "" {
		return common.NewError("node name is required")
	}
	if node.Host == "" {
		return common.NewError("node host is required")
	}
	if node.Port <= 0 {
		return common.NewError("node port must be greater than 0")
	}
	if node.Capacity < 0 {
		return common.NewError("node capacity must not be negative")
	}

	if node.Protocol == "" {
		node.Protocol = "https"
	}

	return s.db.Create(node).Error
}

// UpdateNode updates an existing node.
func (s *NodeService) UpdateNode(node *model.Node) error {
	if node.Id <= 0 {
		return common.NewError("node ID is required")
	}
	if node.Name == "" {
		return common.NewError("node name is required")
	}
	if node.Host == "" {
		return common.NewError("node host is required")
	}
	if node.Port <= 0 {
		return common.NewError("node port must be greater than 0")
	}

	return s.db.Save(node).Error
}

// DeleteNode removes a node from the store. The pool evicts it on the
// next sync.
func (s *NodeService) DeleteNode(id int) error {
	return s.db.Delete(&model.Node{}, id).Error
}

// GetNode retrieves a node by ID.
func (s *NodeService) GetNode(id int) (*model.Node, error) {
	var node model.Node
	if err := s.db.First(&node, id).Error; err != nil {
		return nil, err
	}
	return &node, nil
}

// GetAllNodes retrieves all nodes.
func (s *NodeService) GetAllNodes() ([]*model.Node, error) {
	var nodes []*model.Node
	if err := s.db.Find(&nodes).Error; err != nil {
		return nil, err
	}
	return nodes, nil
}
