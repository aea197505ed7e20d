package sync

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"

	"github.com/tillpoint/pos-core/internal/models"
	"github.com/tillpoint/pos-core/internal/sync/queue"
	"github.com/tillpoint/pos-core/internal/uuid"
)

// transactionEnvelope is the minimal view of a transaction payload the
// sync layer needs: the stable idempotency key. Everything else passes
// through to the backend untouched.
type transactionEnvelope struct {
	TransactionID string `json:"transaction_id"`
}

// TransactionHandler delivers queued TRANSACTION items. The backend
// deduplicates by transaction_id, so redelivery after a lost response is
// harmless; the queue only promises at-least-once.
type TransactionHandler struct {
	client *Client
}

// NewTransactionHandler creates the handler for TRANSACTION items.
func NewTransactionHandler(client *Client) *TransactionHandler {
	return &TransactionHandler{client: client}
}

// Sync performs one delivery attempt and classifies the outcome:
// 2xx is success, transport errors / timeouts / 429 / 5xx are transient,
// any other 4xx means resubmission can never fix it.
func (h *TransactionHandler) Sync(ctx context.Context, item *models.QueuedItem) queue.ProcessResult {
	var envelope transactionEnvelope
	if err := json.Unmarshal([]byte(item.Payload), &envelope); err != nil {
		return queue.Abandonf("malformed transaction payload: %v", err)
	}
	if !uuid.IsValid(envelope.TransactionID) {
		return queue.Abandonf("payload carries no valid transaction id")
	}

	status, body, err := h.client.SubmitTransaction(ctx, []byte(item.Payload))
	if err != nil {
		var netErr net.Error
		if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
			return queue.Retryf("request timed out")
		}
		return queue.Retryf("transport error: %v", err)
	}

	switch {
	case status >= 200 && status < 300:
		return queue.Success()
	case status == http.StatusTooManyRequests || status >= 500:
		return queue.Retryf("server returned %d", status)
	default:
		return queue.Abandonf("server rejected transaction (%d): %s", status, trim(body))
	}
}

// NewTransactionItem wraps a serialized transaction as a queued item,
// assigning a transaction GUID if the document does not already carry
// one. Every payload that enters the queue has an idempotency key.
func NewTransactionItem(payload []byte) (*models.QueuedItem, error) {
	var doc map[string]interface{}
	if err := json.Unmarshal(payload, &doc); err != nil {
		return nil, err
	}

	if id, ok := doc["transaction_id"].(string); !ok || !uuid.IsValid(id) {
		doc["transaction_id"] = uuid.New()
		payload, _ = json.Marshal(doc)
	}

	return &models.QueuedItem{
		Type:    models.ItemTypeTransaction,
		Payload: string(payload),
	}, nil
}

func trim(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > 200 {
		s = s[:200] + "..."
	}
	return s
}
