package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/tillpoint/pos-core/internal/db"
	"github.com/tillpoint/pos-core/internal/models"
	"github.com/tillpoint/pos-core/internal/sync"
	"github.com/tillpoint/pos-core/internal/sync/queue"
	"github.com/tillpoint/pos-core/internal/sync/scheduler"
)

// abandonHandler rejects everything it sees as permanently invalid.
type abandonHandler struct{}

func (abandonHandler) Sync(ctx context.Context, item *models.QueuedItem) queue.ProcessResult {
	return queue.Abandonf("rejected for testing")
}

type testHarness struct {
	server  *httptest.Server
	queue   *queue.DurableQueue
	backend *httptest.Server
}

func newTestHarness(t *testing.T) *testHarness {
	t.Helper()

	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasPrefix(r.URL.Path, "/api/v1/catalog/products"):
			json.NewEncoder(w).Encode(map[string]interface{}{"products": []models.Product{}})
		case strings.HasSuffix(r.URL.Path, "/settings"):
			json.NewEncoder(w).Encode(map[string]interface{}{"settings": []models.Setting{}})
		default:
			w.WriteHeader(http.StatusCreated)
		}
	}))
	t.Cleanup(backend.Close)

	database, err := db.Open(t.TempDir())
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	client := sync.NewClient(sync.ClientConfig{BaseURL: backend.URL, DeviceID: "lane-01"})
	q := queue.New(db.NewQueueStore(database), queue.Config{MaxRetries: 3})
	q.RegisterHandler(models.ItemTypeTransaction, sync.NewTransactionHandler(client))
	if err := q.Initialize(); err != nil {
		t.Fatal(err)
	}

	engine := sync.NewEngine(client, db.NewReferenceStore(database), q)
	sched := scheduler.New(client, engine, nil, scheduler.Config{
		HeartbeatInterval: time.Hour,
		SyncInterval:      time.Hour,
		SyncOnStart:       false,
	})
	sched.Start(context.Background())
	t.Cleanup(sched.Stop)

	server := httptest.NewServer(NewServer(q, engine, sched, nil).Router())
	t.Cleanup(server.Close)

	return &testHarness{server: server, queue: q, backend: backend}
}

func (h *testHarness) get(t *testing.T, path string) (*http.Response, map[string]interface{}) {
	t.Helper()
	resp, err := http.Get(h.server.URL + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	return resp, decodeBody(t, resp)
}

func (h *testHarness) post(t *testing.T, path, body string) (*http.Response, map[string]interface{}) {
	t.Helper()
	resp, err := http.Post(h.server.URL+path, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	return resp, decodeBody(t, resp)
}

func decodeBody(t *testing.T, resp *http.Response) map[string]interface{} {
	t.Helper()
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNoContent {
		return nil
	}
	var doc map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return doc
}

func TestHealth(t *testing.T) {
	h := newTestHarness(t)
	resp, doc := h.get(t, "/api/health")
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d", resp.StatusCode)
	}
	if doc["status"] != "ok" {
		t.Errorf("body = %v", doc)
	}
}

func TestStatusReportsPendingCount(t *testing.T) {
	h := newTestHarness(t)
	h.post(t, "/api/v1/queue/transactions", `{"total_cents":100}`)

	resp, doc := h.get(t, "/api/v1/status")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if doc["pending_items"] != float64(1) {
		t.Errorf("pending_items = %v, want 1", doc["pending_items"])
	}
	if doc["online"] != true {
		t.Errorf("online = %v, want true at startup", doc["online"])
	}
}

func TestSubmitTransaction(t *testing.T) {
	h := newTestHarness(t)

	resp, doc := h.post(t, "/api/v1/queue/transactions", `{"total_cents":1295}`)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", resp.StatusCode)
	}
	if doc["id"] == float64(0) {
		t.Error("response missing item id")
	}

	_, listing := h.get(t, "/api/v1/queue/pending")
	if listing["count"] != float64(1) {
		t.Errorf("pending count = %v, want 1", listing["count"])
	}
}

func TestSubmitTransactionRejectsGarbage(t *testing.T) {
	h := newTestHarness(t)
	resp, _ := h.post(t, "/api/v1/queue/transactions", "###")
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
	if h.queue.PendingCount() != 0 {
		t.Error("rejected submission must not be queued")
	}
}

func TestAbandonedLifecycleOverHTTP(t *testing.T) {
	h := newTestHarness(t)

	// Route a doomed item type through a rejecting handler.
	h.queue.RegisterHandler("DOOMED", abandonHandler{})
	item := &models.QueuedItem{Type: "DOOMED", Payload: "{}"}
	if err := h.queue.Enqueue(item); err != nil {
		t.Fatal(err)
	}
	if _, err := h.queue.ProcessQueue(context.Background()); err != nil {
		t.Fatal(err)
	}

	resp, doc := h.get(t, "/api/v1/queue/abandoned")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if doc["count"] != float64(1) {
		t.Fatalf("abandoned count = %v, want 1", doc["count"])
	}

	// Retry puts it back in the pending queue.
	resp, _ = h.post(t, "/api/v1/queue/abandoned/"+itemID(t, doc)+"/retry", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("retry status = %d", resp.StatusCode)
	}
	if h.queue.PendingCount() != 1 {
		t.Errorf("PendingCount = %d after retry, want 1", h.queue.PendingCount())
	}

	// Abandon it again, then clear it for good.
	if _, err := h.queue.ProcessQueue(context.Background()); err != nil {
		t.Fatal(err)
	}
	req, _ := http.NewRequest(http.MethodDelete, h.server.URL+"/api/v1/queue/abandoned/"+itemID(t, doc), nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("clear status = %d, want 204", resp.StatusCode)
	}

	_, listing := h.get(t, "/api/v1/queue/abandoned")
	if listing["count"] != float64(0) {
		t.Errorf("abandoned count = %v after clear, want 0", listing["count"])
	}
}

func itemID(t *testing.T, listing map[string]interface{}) string {
	t.Helper()
	items, ok := listing["items"].([]interface{})
	if !ok || len(items) == 0 {
		t.Fatalf("no items in %v", listing)
	}
	entry := items[0].(map[string]interface{})
	item, ok := entry["item"].(map[string]interface{})
	if !ok {
		t.Fatalf("unexpected abandoned shape: %v", entry)
	}
	id, ok := item["id"].(float64)
	if !ok {
		t.Fatalf("missing id in %v", item)
	}
	return strconv.FormatInt(int64(id), 10)
}

func TestRetryMissingAbandonedItem(t *testing.T) {
	h := newTestHarness(t)
	resp, _ := h.post(t, "/api/v1/queue/abandoned/999/retry", "")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestSyncNow(t *testing.T) {
	h := newTestHarness(t)
	resp, doc := h.post(t, "/api/v1/sync/now", "")
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", resp.StatusCode)
	}
	if doc["status"] != "started" {
		t.Errorf("body = %v", doc)
	}

	// Give the detached pass a moment to finish before teardown.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && h.queue.PendingCount() > 0 {
		time.Sleep(5 * time.Millisecond)
	}
}
