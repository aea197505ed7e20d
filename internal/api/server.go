// Package api exposes the local diagnostics and control surface for
// the till UI. It binds to loopback only; the backend never calls in.
package api

import (
	"net/http"

	"github.com/tillpoint/pos-core/internal/sync"
	"github.com/tillpoint/pos-core/internal/sync/queue"
	"github.com/tillpoint/pos-core/internal/sync/scheduler"
	"github.com/tillpoint/pos-core/internal/ws"
)

// Server wires the HTTP surface to the queue, engine and scheduler.
type Server struct {
	queue     *queue.DurableQueue
	engine    *sync.Engine
	scheduler *scheduler.Scheduler
	hub       *ws.Hub
}

// NewServer creates the API server. The hub may be nil, in which case
// the WebSocket endpoint responds 404.
func NewServer(q *queue.DurableQueue, engine *sync.Engine, sched *scheduler.Scheduler, hub *ws.Hub) *Server {
	return &Server{
		queue:     q,
		engine:    engine,
		scheduler: sched,
		hub:       hub,
	}
}

// Router builds the route table.
func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("GET /api/v1/status", s.handleStatus)
	mux.HandleFunc("GET /api/v1/queue/pending", s.handlePending)
	mux.HandleFunc("GET /api/v1/queue/abandoned", s.handleAbandoned)
	mux.HandleFunc("POST /api/v1/queue/transactions", s.handleSubmitTransaction)
	mux.HandleFunc("POST /api/v1/queue/abandoned/{id}/retry", s.handleRetryAbandoned)
	mux.HandleFunc("DELETE /api/v1/queue/abandoned/{id}", s.handleClearAbandoned)
	mux.HandleFunc("POST /api/v1/sync/now", s.handleSyncNow)

	if s.hub != nil {
		mux.HandleFunc("GET /api/v1/ws", s.hub.ServeWS)
	}

	return mux
}
