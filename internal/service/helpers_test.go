package service

import (
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"

	"submaster/internal/config"
	"submaster/internal/database"
	"submaster/internal/model"

	"gorm.io/gorm"
)

const (
	testNodeUser = "admin"
	testNodePass = "secret"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := database.Connect(&config.DatabaseConfig{
		Driver: "sqlite",
		DSN:    filepath.Join(t.TempDir(), "test.db"),
	})
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	if err := database.AutoMigrate(db); err != nil {
		t.Fatalf("failed to migrate test db: %v", err)
	}
	return db
}

// fakeNode emulates a remote node's control API in memory.
type fakeNode struct {
	mu          sync.Mutex
	records     map[string]*ClientRecord
	loginFail   bool
	updateFail  bool
	addCalls    int
	updateCalls int
}

func newFakeNode() *fakeNode {
	return &fakeNode{records: make(map[string]*ClientRecord)}
}

func (f *fakeNode) setRecord(r *ClientRecord) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *r
	f.records[r.ClientId] = &cp
}

func (f *fakeNode) record(clientId string) *ClientRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.records[clientId]
	if !ok {
		return nil
	}
	cp := *r
	return &cp
}

func writeEnvelope(w http.ResponseWriter, success bool, msg string, obj any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"success": success,
		"msg":     msg,
		"obj":     obj,
	})
}

func (f *fakeNode) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	path := r.URL.Path
	switch {
	case path == "/api/panel/login":
		var creds struct {
			Username string `json:"username"`
			Password string `json:"password"`
		}
		json.NewDecoder(r.Body).Decode(&creds)
		if f.loginFail || creds.Username != testNodeUser || creds.Password != testNodePass {
			writeEnvelope(w, false, "invalid credentials", nil)
			return
		}
		writeEnvelope(w, true, "", map[string]string{"token": "test-session"})

	case path == "/api/panel/status":
		writeEnvelope(w, true, "", map[string]any{
			"cpu": 12.5, "mem": 1024, "memTotal": 4096, "uptime": 3600,
		})

	case path == "/api/panel/inbounds/list":
		clients := make([]map[string]any, 0, len(f.records))
		for id := range f.records {
			clients = append(clients, map[string]any{"id": id})
		}
		settings, _ := json.Marshal(map[string]any{"clients": clients})
		writeEnvelope(w, true, "", []map[string]any{
			{"id": 1, "tag": "inbound-1", "settings": string(settings)},
		})

	case path == "/api/panel/clients" && r.Method == http.MethodPost:
		var rec ClientRecord
		json.NewDecoder(r.Body).Decode(&rec)
		f.records[rec.ClientId] = &rec
		f.addCalls++
		writeEnvelope(w, true, "", nil)

	case strings.HasSuffix(path, "/update"):
		if f.updateFail {
			writeEnvelope(w, false, "update failed", nil)
			return
		}
		var rec ClientRecord
		json.NewDecoder(r.Body).Decode(&rec)
		f.records[rec.ClientId] = &rec
		f.updateCalls++
		writeEnvelope(w, true, "", nil)

	case strings.HasSuffix(path, "/delete"):
		id := strings.TrimSuffix(strings.TrimPrefix(path, "/api/panel/clients/"), "/delete")
		delete(f.records, id)
		writeEnvelope(w, true, "", nil)

	case strings.HasPrefix(path, "/api/panel/clients/"):
		id := strings.TrimPrefix(path, "/api/panel/clients/")
		rec, ok := f.records[id]
		if !ok {
			writeEnvelope(w, false, "client not found", nil)
			return
		}
		writeEnvelope(w, true, "", rec)

	default:
		http.NotFound(w, r)
	}
}

// startFakeServer launches a fake node API and returns its address.
func startFakeServer(t *testing.T) (*fakeNode, string, int) {
	t.Helper()

	fake := newFakeNode()
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	u, err := url.Parse(srv.URL)
	if err != nil {
		t.Fatalf("failed to parse fake node url: %v", err)
	}
	host, portStr, err := net.SplitHostPort(u.Host)
	if err != nil {
		t.Fatalf("failed to split fake node host: %v", err)
	}
	port, _ := strconv.Atoi(portStr)
	return fake, host, port
}

// startFakeNode launches the fake node, registers it in the store and
// returns both handles.
func startFakeNode(t *testing.T, db *gorm.DB, name string, capacity int) (*fakeNode, *model.Node) {
	t.Helper()

	fake, host, port := startFakeServer(t)

	node := &model.Node{
		Name:     name,
		Host:     host,
		Port:     port,
		Protocol: "http",
		Username: testNodeUser,
		Password: testNodePass,
		Capacity: capacity,
	}
	if err := db.Create(node).Error; err != nil {
		t.Fatalf("failed to create node row: %v", err)
	}
	return fake, node
}

func createSubscriber(t *testing.T, db *gorm.DB, telegramId int64, clientId string) *model.Subscriber {
	t.Helper()
	sub := &model.Subscriber{TelegramId: telegramId, ClientId: clientId}
	if err := db.Create(sub).Error; err != nil {
		t.Fatalf("failed to create subscriber: %v", err)
	}
	return sub
}
