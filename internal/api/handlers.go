package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/tillpoint/pos-core/internal/errors"
	"github.com/tillpoint/pos-core/internal/logging"
	"github.com/tillpoint/pos-core/internal/models"
	"github.com/tillpoint/pos-core/internal/sync"
)

const maxRequestBody = 1 << 20 // 1 MiB

func respondJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body != nil {
		if err := json.NewEncoder(w).Encode(body); err != nil {
			logging.Error("response encoding failed", err, nil)
		}
	}
}

func respondError(w http.ResponseWriter, status int, code errors.ErrorCode, message string) {
	respondJSON(w, status, map[string]interface{}{
		"error": map[string]interface{}{
			"code":    string(code),
			"message": message,
		},
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	sched := s.scheduler.GetStatus()
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"online":        sched.IsOnline,
		"scheduler":     sched,
		"engine_status": s.engine.Status(),
		"pending_items": s.queue.PendingCount(),
	})
}

func (s *Server) handlePending(w http.ResponseWriter, r *http.Request) {
	items, err := s.queue.GetAllPending()
	if err != nil {
		respondError(w, http.StatusInternalServerError, errors.CodeOf(err), "failed to list pending items")
		return
	}
	if items == nil {
		items = []models.QueuedItem{}
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"items": items,
		"count": len(items),
	})
}

func (s *Server) handleAbandoned(w http.ResponseWriter, r *http.Request) {
	items, err := s.queue.GetAbandonedItems()
	if err != nil {
		respondError(w, http.StatusInternalServerError, errors.CodeOf(err), "failed to list abandoned items")
		return
	}
	if items == nil {
		items = []models.AbandonedItem{}
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"items": items,
		"count": len(items),
	})
}

func (s *Server) handleSubmitTransaction(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody))
	if err != nil {
		respondError(w, http.StatusBadRequest, errors.ErrInvalid, "failed to read request body")
		return
	}

	item, err := sync.NewTransactionItem(body)
	if err != nil {
		respondError(w, http.StatusBadRequest, errors.ErrInvalid, err.Error())
		return
	}

	if err := s.queue.Enqueue(item); err != nil {
		respondError(w, http.StatusInternalServerError, errors.CodeOf(err), "failed to persist transaction")
		return
	}

	respondJSON(w, http.StatusAccepted, map[string]interface{}{
		"id":      item.ID,
		"pending": s.queue.PendingCount(),
	})
}

func abandonedID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	return id, err == nil && id > 0
}

func (s *Server) handleRetryAbandoned(w http.ResponseWriter, r *http.Request) {
	id, ok := abandonedID(r)
	if !ok {
		respondError(w, http.StatusBadRequest, errors.ErrInvalid, "invalid item id")
		return
	}

	retried, err := s.queue.RetryAbandonedItem(id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, errors.CodeOf(err), "failed to requeue item")
		return
	}
	if !retried {
		respondError(w, http.StatusNotFound, errors.ErrNotFound, "no abandoned item with that id")
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"id":      id,
		"pending": s.queue.PendingCount(),
	})
}

func (s *Server) handleClearAbandoned(w http.ResponseWriter, r *http.Request) {
	id, ok := abandonedID(r)
	if !ok {
		respondError(w, http.StatusBadRequest, errors.ErrInvalid, "invalid item id")
		return
	}

	cleared, err := s.queue.ClearAbandonedItem(id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, errors.CodeOf(err), "failed to clear item")
		return
	}
	if !cleared {
		respondError(w, http.StatusNotFound, errors.ErrNotFound, "no abandoned item with that id")
		return
	}

	respondJSON(w, http.StatusNoContent, nil)
}

// handleSyncNow starts a sync detached from the request context so the
// pass survives the HTTP response.
func (s *Server) handleSyncNow(w http.ResponseWriter, r *http.Request) {
	if !s.scheduler.TriggerSync(context.Background()) {
		respondError(w, http.StatusConflict, errors.ErrDrainBusy, "sync already in progress")
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]interface{}{
		"status": "started",
	})
}
