package service

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/aussiebroadwan/sessionguard/internal/auth/metrics"
)

// DefaultAuditRetention is how long audit events are kept.
const DefaultAuditRetention = 90 * 24 * time.Hour

// HousekeepingService periodically removes ledger rows whose credentials have
// expired on their own, so the tables do not grow without bound.
type HousekeepingService struct {
	Service        *SessionService
	Logger         *slog.Logger
	Metrics        *metrics.Metrics
	Interval       time.Duration
	AuditRetention time.Duration

	// Internal channels for lifecycle management
	started atomic.Bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewHousekeepingService creates a new housekeeping service with the given interval.
// If interval is 0 or negative, defaults to 1 hour.
func NewHousekeepingService(svc *SessionService, logger *slog.Logger, interval time.Duration) *HousekeepingService {
	if interval <= 0 {
		interval = 1 * time.Hour
	}

	return &HousekeepingService{
		Service:        svc,
		Logger:         logger,
		Metrics:        svc.Metrics,
		Interval:       interval,
		AuditRetention: DefaultAuditRetention,
		stopCh:         make(chan struct{}),
		doneCh:         make(chan struct{}),
	}
}

// Start begins the background worker that periodically runs cleanup.
// This is non-blocking and should be called after the database is ready.
// Call Stop() to gracefully shutdown the worker.
func (s *HousekeepingService) Start() {
	if !s.started.CompareAndSwap(false, true) {
		return
	}
	go s.run()
	s.Logger.Info("housekeeping service started", "interval", s.Interval)
}

// Stop gracefully shuts down the background worker.
// Blocks until the worker has finished any in-progress cleanup. Stopping a
// service that was never started is a no-op.
func (s *HousekeepingService) Stop() {
	if !s.started.CompareAndSwap(true, false) {
		return
	}
	close(s.stopCh)
	<-s.doneCh
	s.Logger.Info("housekeeping service stopped")
}

func (s *HousekeepingService) run() {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()

	// Run cleanup immediately on startup
	s.Sweep(context.Background())

	for {
		select {
		case <-ticker.C:
			s.Sweep(context.Background())
		case <-s.stopCh:
			return
		}
	}
}

// SweepResult counts rows removed per table.
type SweepResult struct {
	Revocations int64
	Rotations   int64
	Sessions    int64
	Audit       int64
}

// Sweep performs one cleanup pass. Each table is independent; a failure in
// one does not stop the others.
func (s *HousekeepingService) Sweep(ctx context.Context) SweepResult {
	var res SweepResult

	sweep := func(table string, fn func(context.Context) (int64, error), out *int64) {
		n, err := fn(ctx)
		if err != nil {
			s.Logger.Error("housekeeping sweep failed", "table", table, "error", err)
			return
		}
		*out = n
		s.Metrics.Swept(table, n)
	}

	sweep("revocations", s.Service.Revocations().SweepExpired, &res.Revocations)
	sweep("rotations", s.Service.Rotations().SweepExpired, &res.Rotations)
	sweep("sessions", s.Service.Sessions().SweepExpired, &res.Sessions)
	if s.AuditRetention > 0 {
		sweep("audit_events", s.sweepAudit, &res.Audit)
	}

	s.Logger.Info("housekeeping cleanup completed",
		"revocations", res.Revocations,
		"rotations", res.Rotations,
		"sessions", res.Sessions,
		"audit_events", res.Audit,
	)
	return res
}

func (s *HousekeepingService) sweepAudit(ctx context.Context) (int64, error) {
	return s.Service.Store.Audit().DeleteBefore(ctx, s.Service.Clock.Now().Add(-s.AuditRetention))
}
