package cli

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/tillpoint/pos-core/internal/api"
	"github.com/tillpoint/pos-core/internal/config"
	"github.com/tillpoint/pos-core/internal/db"
	"github.com/tillpoint/pos-core/internal/logging"
	"github.com/tillpoint/pos-core/internal/models"
	"github.com/tillpoint/pos-core/internal/sync"
	"github.com/tillpoint/pos-core/internal/sync/queue"
	"github.com/tillpoint/pos-core/internal/sync/scheduler"
	"github.com/tillpoint/pos-core/internal/ws"
)

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the sync core and local API",
		Long: `Start the durable queue, the background sync scheduler and the
loopback diagnostics API. Runs until interrupted.

Example:
  tillpointd serve --config /etc/tillpoint/config.yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := rootOpts.loadConfig()
			if err != nil {
				return err
			}
			if err := cfg.ValidateServe(); err != nil {
				return err
			}
			return runServe(cfg)
		},
	}
}

func runServe(cfg config.Config) error {
	logging.Init(os.Stderr, logging.ParseLevel(cfg.LogLevel))

	database, err := db.Open(cfg.DataDir)
	if err != nil {
		return err
	}
	defer database.Close()

	client := sync.NewClient(sync.ClientConfig{
		BaseURL:  cfg.APIBaseURL,
		DeviceID: cfg.DeviceID,
		APIKey:   cfg.APIKey,
		Timeout:  cfg.RequestTimeout,
	})

	hub := ws.NewHub()

	q := queue.New(db.NewQueueStore(database), queue.Config{
		MaxRetries: cfg.MaxRetries,
		Notify:     hub.BroadcastQueueUpdated,
	})
	q.RegisterHandler(models.ItemTypeTransaction, sync.NewTransactionHandler(client))
	if err := q.Initialize(); err != nil {
		return err
	}

	engine := sync.NewEngine(client, db.NewReferenceStore(database), q)

	sched := scheduler.New(client, engine, hub, scheduler.Config{
		HeartbeatInterval: cfg.HeartbeatInterval,
		SyncInterval:      cfg.SyncInterval,
		OfflineThreshold:  cfg.OfflineThreshold,
		SyncOnStart:       cfg.SyncOnStart,
	})

	server := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: api.NewServer(q, engine, sched, hub).Router(),
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sched.Start(ctx)

	serveErr := make(chan error, 1)
	go func() {
		logging.Info("api listening", map[string]interface{}{
			"addr":    cfg.ListenAddr,
			"pending": q.PendingCount(),
		})
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	select {
	case err := <-serveErr:
		sched.Stop()
		return err
	case <-ctx.Done():
	}

	logging.Info("shutting down", nil)
	sched.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logging.Error("api shutdown failed", err, nil)
	}

	return nil
}
