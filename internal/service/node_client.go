// Package service implements the orchestration layer: node pool,
// subscription engine, transaction lifecycle and referral rewards.
package service

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"submaster/internal/model"
	"submaster/logger"
	"submaster/util/common"

	"github.com/goccy/go-json"
)

// ClientRecord is a subscriber's access record as it lives on a node.
// Numeric fields use -1 as the "unlimited" sentinel; ExpiryTime is an
// absolute millisecond timestamp.
type ClientRecord struct {
	ClientId    string `json:"clientId"`
	DeviceLimit int    `json:"deviceLimit"`
	Total       int64  `json:"total"`
	Up          int64  `json:"up"`
	Down        int64  `json:"down"`
	ExpiryTime  int64  `json:"expiryTime"`
	Enable      bool   `json:"enable"`
}

// Inbound is a listener on a remote node. Settings carries the node's raw
// JSON including the client list.
type Inbound struct {
	Id       int    `json:"id"`
	Tag      string `json:"tag"`
	Settings string `json:"settings"`
}

// NodeClient performs authenticated calls against one node's control API.
// It is owned exclusively by the node pool; a failed call never removes
// the node, it only degrades it until the next sync re-login.
type NodeClient struct {
	baseURL  string
	username string
	password string
	token    string
	client   *http.Client
}

// NewNodeClient creates an unauthenticated client for the given node.
// Login must succeed before any other call.
func NewNodeClient(node *model.Node) *NodeClient {
	protocol := node.Protocol
	if protocol == "" {
		protocol = "https"
	}
	return &NodeClient{
		baseURL:  fmt.Sprintf("%s://%s:%d", protocol, node.Host, node.Port),
		username: node.Username,
		password: node.Password,
		client: &http.Client{
			Timeout: 10 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 5,
				IdleConnTimeout:     30 * time.Second,
			},
		},
	}
}

type apiResponse struct {
	Success bool            `json:"success"`
	Msg     string          `json:"msg"`
	Obj     json.RawMessage `json:"obj"`
}

// Login authenticates against the node and stores the session token used
// by all subsequent requests. Remote sessions expire silently, so the
// pool re-logins on every sync cycle.
func (nc *NodeClient) Login(ctx context.Context) error {
	payload := map[string]string{
		"username": nc.username,
		"password": nc.password,
	}

	resp, err := nc.makeRequest(ctx, http.MethodPost, "/api/panel/login", payload)
	if err != nil {
		return err
	}

	var obj struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(resp.Obj, &obj); err != nil {
		return common.NewError("failed to decode login response:", err)
	}
	if obj.Token == "" {
		return common.NewError("node returned empty session token")
	}

	nc.token = obj.Token
	return nil
}

// GetClient fetches the access record for the given client id. Returns
// common.ErrClientNotFound when the node has no record for it.
func (nc *NodeClient) GetClient(ctx context.Context, clientId string) (*ClientRecord, error) {
	resp, err := nc.makeRequest(ctx, http.MethodGet, "/api/panel/clients/"+clientId, nil)
	if err != nil {
		return nil, err
	}

	var record ClientRecord
	if err := json.Unmarshal(resp.Obj, &record); err != nil {
		return nil, common.NewError("failed to decode client record:", err)
	}
	if record.ClientId == "" {
		return nil, common.ErrClientNotFound
	}
	return &record, nil
}

// AddClient creates a fresh access record on the node.
func (nc *NodeClient) AddClient(ctx context.Context, record *ClientRecord) error {
	_, err := nc.makeRequest(ctx, http.MethodPost, "/api/panel/clients", record)
	return err
}

// UpdateClient replaces the record's device limit, expiry and enable flag.
func (nc *NodeClient) UpdateClient(ctx context.Context, record *ClientRecord) error {
	_, err := nc.makeRequest(ctx, http.MethodPost, "/api/panel/clients/"+record.ClientId+"/update", record)
	return err
}

// RemoveClient deletes the record from the node.
func (nc *NodeClient) RemoveClient(ctx context.Context, clientId string) error {
	_, err := nc.makeRequest(ctx, http.MethodPost, "/api/panel/clients/"+clientId+"/delete", nil)
	return err
}

// NodeStatus is a node's self-reported host state.
type NodeStatus struct {
	Cpu      float64 `json:"cpu"`
	Mem      int64   `json:"mem"`
	MemTotal int64   `json:"memTotal"`
	Uptime   uint64  `json:"uptime"`
}

// Status fetches the node's host metrics.
func (nc *NodeClient) Status(ctx context.Context) (*NodeStatus, error) {
	resp, err := nc.makeRequest(ctx, http.MethodGet, "/api/panel/status", nil)
	if err != nil {
		return nil, err
	}

	var status NodeStatus
	if err := json.Unmarshal(resp.Obj, &status); err != nil {
		return nil, common.NewError("failed to decode node status:", err)
	}
	return &status, nil
}

// ListInbounds returns all inbound listeners of the node.
func (nc *NodeClient) ListInbounds(ctx context.Context) ([]*Inbound, error) {
	resp, err := nc.makeRequest(ctx, http.MethodGet, "/api/panel/inbounds/list", nil)
	if err != nil {
		return nil, err
	}

	var inbounds []*Inbound
	if err := json.Unmarshal(resp.Obj, &inbounds); err != nil {
		return nil, common.NewError("failed to decode inbound list:", err)
	}
	return inbounds, nil
}

// CountClients derives the node's current client count from its inbound
// settings. This is the load figure the pool balances on.
func (nc *NodeClient) CountClients(ctx context.Context) (int, error) {
	inbounds, err := nc.ListInbounds(ctx)
	if err != nil {
		return 0, err
	}

	count := 0
	for _, inbound := range inbounds {
		var settings map[string]any
		if err := json.Unmarshal([]byte(inbound.Settings), &settings); err != nil {
			continue
		}
		if clients, ok := settings["clients"].([]any); ok {
			count += len(clients)
		}
	}
	return count, nil
}

// makeRequest performs one authenticated API call and decodes the node's
// {success, msg, obj} envelope.
func (nc *NodeClient) makeRequest(ctx context.Context, method, endpoint string, body any) (*apiResponse, error) {
	url := nc.baseURL + endpoint
	start := time.Now()

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, common.NewError("failed to marshal request body:", err)
		}
		reqBody = bytes.NewBuffer(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
	if err != nil {
		return nil, common.NewError("failed to create request:", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if nc.token != "" {
		req.Header.Set("X-Session-Token", nc.token)
	}

	resp, err := nc.client.Do(req)
	duration := time.Since(start)
	if err != nil {
		logger.Warningf("NodeClient [%s %s] request failed after %v: %v", method, url, duration, err)
		return nil, common.NewError("node request failed:", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, common.NewError("failed to read node response:", err)
	}

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, common.ErrClientNotFound
	case http.StatusUnauthorized, http.StatusForbidden:
		logger.Warningf("NodeClient [%s %s] session rejected (%d)", method, url, resp.StatusCode)
		return nil, common.NewErrorf("node rejected session: status %d", resp.StatusCode)
	default:
		logger.Warningf("NodeClient [%s %s] returned status %d after %v", method, url, resp.StatusCode, duration)
		return nil, common.NewErrorf("unexpected node status %d", resp.StatusCode)
	}

	var envelope apiResponse
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, common.NewError("failed to decode node response:", err)
	}
	if !envelope.Success {
		if envelope.Msg == "client not found" {
			return nil, common.ErrClientNotFound
		}
		return nil, common.NewErrorf("node returned error: %s", envelope.Msg)
	}

	logger.Debugf("NodeClient [%s %s] ok after %v", method, url, duration)
	return &envelope, nil
}
