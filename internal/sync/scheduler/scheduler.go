// Package scheduler runs the background heartbeat and full-sync loops
// and owns the online/offline state machine.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/tillpoint/pos-core/internal/errors"
	"github.com/tillpoint/pos-core/internal/logging"
	syncpkg "github.com/tillpoint/pos-core/internal/sync"
)

// Beater probes backend reachability.
type Beater interface {
	Heartbeat(ctx context.Context) error
}

// Syncer runs sync passes. Satisfied by *sync.Engine.
type Syncer interface {
	Sync(ctx context.Context) (*syncpkg.Result, error)
	Drain(ctx context.Context) (int, error)
}

// Events receives scheduler notifications. All methods are called from
// scheduler goroutines and must not block.
type Events interface {
	ConnectivityChanged(online bool)
	SyncStarted()
	SyncCompleted(result *syncpkg.Result)
	SyncFailed(err error)
}

// NoopEvents discards all notifications.
type NoopEvents struct{}

func (NoopEvents) ConnectivityChanged(bool)      {}
func (NoopEvents) SyncStarted()                  {}
func (NoopEvents) SyncCompleted(*syncpkg.Result) {}
func (NoopEvents) SyncFailed(error)              {}

// Config holds scheduler configuration.
type Config struct {
	HeartbeatInterval time.Duration // how often to probe the backend (default: 30 seconds)
	SyncInterval      time.Duration // how often to run a full sync when online (default: 5 minutes)
	SyncTimeout       time.Duration // upper bound on one full sync pass (default: 5 minutes)
	OfflineThreshold  int           // consecutive heartbeat failures before going offline (default: 3)
	SyncOnStart       bool          // run a full sync immediately after Start
}

// DefaultConfig returns the default scheduler configuration.
func DefaultConfig() Config {
	return Config{
		HeartbeatInterval: 30 * time.Second,
		SyncInterval:      5 * time.Minute,
		SyncTimeout:       5 * time.Minute,
		OfflineThreshold:  3,
		SyncOnStart:       true,
	}
}

// Scheduler drives the two background loops. The heartbeat loop tracks
// connectivity; the sync loop runs full passes while online. Regaining
// connectivity triggers an immediate queue drain so captured sales
// reach the backend as soon as the network allows.
type Scheduler struct {
	beater Beater
	syncer Syncer
	events Events

	heartbeatInterval time.Duration
	syncInterval      time.Duration
	syncTimeout       time.Duration
	offlineThreshold  int
	syncOnStart       bool

	stopCh chan struct{}
	wg     sync.WaitGroup

	mu             sync.RWMutex
	isRunning      bool
	isOnline       bool
	failures       int
	lastSyncTime   time.Time
	syncInProgress bool
}

// New creates a scheduler. A nil events sink is replaced with NoopEvents.
func New(beater Beater, syncer Syncer, events Events, cfg Config) *Scheduler {
	def := DefaultConfig()
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = def.HeartbeatInterval
	}
	if cfg.SyncInterval <= 0 {
		cfg.SyncInterval = def.SyncInterval
	}
	if cfg.SyncTimeout <= 0 {
		cfg.SyncTimeout = def.SyncTimeout
	}
	if cfg.OfflineThreshold <= 0 {
		cfg.OfflineThreshold = def.OfflineThreshold
	}
	if events == nil {
		events = NoopEvents{}
	}

	return &Scheduler{
		beater:            beater,
		syncer:            syncer,
		events:            events,
		heartbeatInterval: cfg.HeartbeatInterval,
		syncInterval:      cfg.SyncInterval,
		syncTimeout:       cfg.SyncTimeout,
		offlineThreshold:  cfg.OfflineThreshold,
		syncOnStart:       cfg.SyncOnStart,
		stopCh:            make(chan struct{}),
		isOnline:          true, // assume online until heartbeats say otherwise
	}
}

// Start launches the background loops. Calling Start on a running
// scheduler is a no-op.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = true
	s.mu.Unlock()

	if s.syncOnStart {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.runSync(ctx)
		}()
	}

	s.wg.Add(2)
	go s.heartbeatLoop(ctx)
	go s.syncLoop(ctx)

	logging.Info("sync scheduler started", map[string]interface{}{
		"heartbeat_interval": s.heartbeatInterval.String(),
		"sync_interval":      s.syncInterval.String(),
		"sync_on_start":      s.syncOnStart,
	})
}

// Stop shuts the scheduler down and waits for in-flight work.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = false
	s.mu.Unlock()

	close(s.stopCh)
	s.wg.Wait()

	logging.Info("sync scheduler stopped", nil)
}

// heartbeatLoop probes the backend and maintains the connectivity state.
func (s *Scheduler) heartbeatLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.beat(ctx)
		}
	}
}

// beat runs one heartbeat probe and applies the state transition rules:
// a success while offline flips back online and drains the queue right
// away; reaching the failure threshold while online flips offline.
func (s *Scheduler) beat(ctx context.Context) {
	beatCtx, cancel := context.WithTimeout(ctx, s.heartbeatInterval)
	err := s.beater.Heartbeat(beatCtx)
	cancel()

	if err == nil {
		s.mu.Lock()
		s.failures = 0
		cameBack := !s.isOnline
		s.isOnline = true
		s.mu.Unlock()

		if cameBack {
			logging.Info("connectivity restored", nil)
			s.events.ConnectivityChanged(true)
			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				s.drain(ctx)
			}()
		}
		return
	}

	s.mu.Lock()
	s.failures++
	wentDown := s.isOnline && s.failures >= s.offlineThreshold
	if wentDown {
		s.isOnline = false
	}
	failures := s.failures
	s.mu.Unlock()

	logging.Debug("heartbeat failed", map[string]interface{}{
		"consecutive_failures": failures,
	})
	if wentDown {
		logging.Warn("going offline", map[string]interface{}{
			"consecutive_failures": failures,
		})
		s.events.ConnectivityChanged(false)
	}
}

// syncLoop runs full sync passes while online.
func (s *Scheduler) syncLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.syncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			if !s.IsOnline() {
				continue
			}
			s.runSync(ctx)
		}
	}
}

// runSync executes one full sync pass under the single-flight guard.
func (s *Scheduler) runSync(ctx context.Context) {
	s.mu.Lock()
	if s.syncInProgress {
		s.mu.Unlock()
		return
	}
	s.syncInProgress = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.syncInProgress = false
		s.mu.Unlock()
	}()

	s.events.SyncStarted()

	syncCtx, cancel := context.WithTimeout(ctx, s.syncTimeout)
	defer cancel()

	result, err := s.syncer.Sync(syncCtx)
	if err != nil {
		logging.ErrorWithCode("scheduled sync failed", string(errors.ErrSyncFailed), err, nil)
		s.events.SyncFailed(err)
		return
	}

	s.mu.Lock()
	s.lastSyncTime = time.Now()
	s.mu.Unlock()

	s.events.SyncCompleted(result)
}

// drain pushes pending queue items without refreshing reference data.
func (s *Scheduler) drain(ctx context.Context) {
	drainCtx, cancel := context.WithTimeout(ctx, s.syncTimeout)
	defer cancel()

	delivered, err := s.syncer.Drain(drainCtx)
	if err != nil {
		logging.Error("reconnect drain failed", err, nil)
		return
	}
	if delivered > 0 {
		logging.Info("reconnect drain delivered backlog", map[string]interface{}{
			"delivered": delivered,
		})
	}
}

// TriggerSync starts an immediate full sync. Returns false if a sync
// is already in progress or the scheduler has been stopped. The wg.Add
// happens under the lock, before Stop can flip isRunning and reach
// wg.Wait, so a trigger can never race shutdown.
func (s *Scheduler) TriggerSync(ctx context.Context) bool {
	s.mu.Lock()
	if !s.isRunning || s.syncInProgress {
		s.mu.Unlock()
		return false
	}
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		s.runSync(ctx)
	}()
	return true
}

// SyncNow runs a full sync and waits for it to finish.
func (s *Scheduler) SyncNow(ctx context.Context) (*syncpkg.Result, error) {
	syncCtx, cancel := context.WithTimeout(ctx, s.syncTimeout)
	defer cancel()

	result, err := s.syncer.Sync(syncCtx)
	if err != nil {
		return result, err
	}

	s.mu.Lock()
	s.lastSyncTime = time.Now()
	s.mu.Unlock()

	return result, nil
}

// Status is a point-in-time snapshot of the scheduler.
type Status struct {
	IsRunning      bool       `json:"is_running"`
	IsOnline       bool       `json:"is_online"`
	LastSyncTime   *time.Time `json:"last_sync_time,omitempty"`
	SyncInProgress bool       `json:"sync_in_progress"`
}

// GetStatus reports the scheduler's current state.
func (s *Scheduler) GetStatus() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()

	status := Status{
		IsRunning:      s.isRunning,
		IsOnline:       s.isOnline,
		SyncInProgress: s.syncInProgress,
	}
	if !s.lastSyncTime.IsZero() {
		t := s.lastSyncTime
		status.LastSyncTime = &t
	}
	return status
}

// IsOnline reports whether the backend is currently considered reachable.
func (s *Scheduler) IsOnline() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isOnline
}

// IsRunning reports whether the background loops are active.
func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}
