package sync

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/tillpoint/pos-core/internal/models"
	"github.com/tillpoint/pos-core/internal/sync/queue"
	"github.com/tillpoint/pos-core/internal/uuid"
)

func payloadWithID(t *testing.T) string {
	t.Helper()
	data, err := json.Marshal(map[string]interface{}{
		"transaction_id": uuid.New(),
		"total_cents":    1295,
	})
	if err != nil {
		t.Fatal(err)
	}
	return string(data)
}

func newHandlerAgainst(ts *httptest.Server, timeout time.Duration) *TransactionHandler {
	return NewTransactionHandler(NewClient(ClientConfig{
		BaseURL:  ts.URL,
		DeviceID: "lane-01",
		Timeout:  timeout,
	}))
}

func TestSyncClassification(t *testing.T) {
	cases := []struct {
		name    string
		status  int
		verdict queue.Verdict
	}{
		{"created", http.StatusCreated, queue.VerdictSuccess},
		{"ok", http.StatusOK, queue.VerdictSuccess},
		{"server error", http.StatusInternalServerError, queue.VerdictRetry},
		{"bad gateway", http.StatusBadGateway, queue.VerdictRetry},
		{"throttled", http.StatusTooManyRequests, queue.VerdictRetry},
		{"validation failure", http.StatusUnprocessableEntity, queue.VerdictAbandon},
		{"bad request", http.StatusBadRequest, queue.VerdictAbandon},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
			}))
			defer ts.Close()

			h := newHandlerAgainst(ts, time.Second)
			item := &models.QueuedItem{Type: models.ItemTypeTransaction, Payload: payloadWithID(t)}
			result := h.Sync(context.Background(), item)
			if result.Verdict != tc.verdict {
				t.Errorf("status %d: verdict = %s, want %s", tc.status, result.Verdict, tc.verdict)
			}
			if tc.verdict != queue.VerdictSuccess && result.Reason == "" {
				t.Error("non-success verdict should carry a reason")
			}
		})
	}
}

func TestSyncTimeoutIsRetry(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(300 * time.Millisecond)
	}))
	defer ts.Close()

	h := newHandlerAgainst(ts, 30*time.Millisecond)
	item := &models.QueuedItem{Type: models.ItemTypeTransaction, Payload: payloadWithID(t)}
	result := h.Sync(context.Background(), item)
	if result.Verdict != queue.VerdictRetry {
		t.Errorf("timeout verdict = %s, want retry", result.Verdict)
	}
}

func TestSyncConnectionRefusedIsRetry(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	ts.Close() // nothing listening anymore

	h := newHandlerAgainst(ts, time.Second)
	item := &models.QueuedItem{Type: models.ItemTypeTransaction, Payload: payloadWithID(t)}
	result := h.Sync(context.Background(), item)
	if result.Verdict != queue.VerdictRetry {
		t.Errorf("connection failure verdict = %s, want retry", result.Verdict)
	}
}

func TestSyncMalformedPayloadIsAbandon(t *testing.T) {
	h := NewTransactionHandler(NewClient(ClientConfig{BaseURL: "http://127.0.0.1:0"}))

	for _, payload := range []string{"not json", `{"total_cents":5}`, `{"transaction_id":"nope"}`} {
		item := &models.QueuedItem{Type: models.ItemTypeTransaction, Payload: payload}
		result := h.Sync(context.Background(), item)
		if result.Verdict != queue.VerdictAbandon {
			t.Errorf("payload %q: verdict = %s, want abandon", payload, result.Verdict)
		}
	}
}

func TestSyncSendsIdempotencyKeyAndAuth(t *testing.T) {
	var got struct {
		path   string
		auth   string
		device string
		body   map[string]interface{}
	}
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got.path = r.URL.Path
		got.auth = r.Header.Get("Authorization")
		got.device = r.Header.Get("X-Device-ID")
		json.NewDecoder(r.Body).Decode(&got.body)
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	h := NewTransactionHandler(NewClient(ClientConfig{
		BaseURL:  ts.URL,
		DeviceID: "lane-01",
		APIKey:   "secret",
	}))
	payload := payloadWithID(t)
	item := &models.QueuedItem{Type: models.ItemTypeTransaction, Payload: payload}
	if result := h.Sync(context.Background(), item); result.Verdict != queue.VerdictSuccess {
		t.Fatalf("verdict = %s", result.Verdict)
	}

	if got.path != "/api/v1/devices/lane-01/transactions" {
		t.Errorf("path = %q", got.path)
	}
	if got.auth != "Bearer secret" {
		t.Errorf("auth = %q", got.auth)
	}
	if got.device != "lane-01" {
		t.Errorf("device header = %q", got.device)
	}
	id, _ := got.body["transaction_id"].(string)
	if !uuid.IsValid(id) {
		t.Errorf("delivered payload lost its idempotency key: %v", got.body)
	}
}

func TestNewTransactionItem(t *testing.T) {
	item, err := NewTransactionItem([]byte(`{"total_cents":500}`))
	if err != nil {
		t.Fatalf("NewTransactionItem failed: %v", err)
	}
	if item.Type != models.ItemTypeTransaction {
		t.Errorf("Type = %q", item.Type)
	}

	var doc map[string]interface{}
	if err := json.Unmarshal([]byte(item.Payload), &doc); err != nil {
		t.Fatalf("payload not valid JSON: %v", err)
	}
	id, _ := doc["transaction_id"].(string)
	if !uuid.IsValid(id) {
		t.Errorf("missing idempotency key in %q", item.Payload)
	}
	if doc["total_cents"] != float64(500) {
		t.Errorf("original fields lost: %v", doc)
	}
}

func TestNewTransactionItemKeepsExistingKey(t *testing.T) {
	key := uuid.New()
	item, err := NewTransactionItem([]byte(`{"transaction_id":"` + key + `"}`))
	if err != nil {
		t.Fatal(err)
	}
	var doc map[string]interface{}
	json.Unmarshal([]byte(item.Payload), &doc)
	if doc["transaction_id"] != key {
		t.Errorf("existing key replaced: %v", doc["transaction_id"])
	}
}

func TestNewTransactionItemRejectsGarbage(t *testing.T) {
	if _, err := NewTransactionItem([]byte("###")); err == nil {
		t.Error("expected error for non-JSON payload")
	}
}

func TestHeartbeat(t *testing.T) {
	healthy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/ping" {
			t.Errorf("path = %q", r.URL.Path)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer healthy.Close()

	c := NewClient(ClientConfig{BaseURL: healthy.URL, DeviceID: "lane-01"})
	if err := c.Heartbeat(context.Background()); err != nil {
		t.Errorf("Heartbeat failed: %v", err)
	}

	sick := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer sick.Close()

	c = NewClient(ClientConfig{BaseURL: sick.URL, DeviceID: "lane-01"})
	if err := c.Heartbeat(context.Background()); err == nil {
		t.Error("Heartbeat should fail on 503")
	}
}
