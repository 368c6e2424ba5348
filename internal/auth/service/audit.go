package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/aussiebroadwan/sessionguard/internal/auth/domain"
	"github.com/aussiebroadwan/sessionguard/internal/auth/metrics"
	"github.com/aussiebroadwan/sessionguard/internal/auth/store"
	"github.com/aussiebroadwan/sessionguard/pkg/idx"
	"github.com/aussiebroadwan/sessionguard/pkg/slogx"
)

// DefaultAuditBuffer is the queue depth used when none is configured.
const DefaultAuditBuffer = 1024

var auditDropSampler = slogx.NewSampler(time.Minute)

// AuditLog appends security events from a single background writer. Record
// never blocks: when the queue is full the event is dropped and counted.
// Write failures are logged and never reach the caller.
type AuditLog struct {
	store   store.Store
	clock   idx.Source
	logger  *slog.Logger
	metrics *metrics.Metrics
	timeout time.Duration

	mu     sync.RWMutex
	closed bool
	queue  chan domain.AuditEvent
	done   chan struct{}
}

// NewAuditLog starts the writer. Call Close to drain it.
func NewAuditLog(st store.Store, clock idx.Source, logger *slog.Logger, m *metrics.Metrics, buffer int, timeout time.Duration) *AuditLog {
	if buffer <= 0 {
		buffer = DefaultAuditBuffer
	}
	if timeout <= 0 {
		timeout = DefaultStoreTimeout
	}
	if logger == nil {
		logger = slogx.Discard()
	}

	a := &AuditLog{
		store:   st,
		clock:   clock,
		logger:  logger,
		metrics: m,
		timeout: timeout,
		queue:   make(chan domain.AuditEvent, buffer),
		done:    make(chan struct{}),
	}
	go a.run()
	return a
}

// Record stamps and enqueues e.
func (a *AuditLog) Record(ctx context.Context, e domain.AuditEvent) {
	if e.ID == "" {
		e.ID = a.clock.New().String()
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = a.clock.Now()
	}

	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return
	}

	select {
	case a.queue <- e:
	default:
		a.metrics.AuditDropped()
		auditDropSampler.Warn(ctx, "audit queue full, dropping event",
			slog.String("event_type", string(e.Type)),
		)
	}
}

func (a *AuditLog) run() {
	defer close(a.done)
	for e := range a.queue {
		a.write(e)
	}
}

func (a *AuditLog) write(e domain.AuditEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
	defer cancel()

	if err := a.store.Audit().Append(ctx, e); err != nil {
		a.metrics.AuditFailed()
		a.logger.Warn("audit write failed",
			slog.String("event_type", string(e.Type)),
			slog.String("subject", e.Subject),
			slog.Any("error", err),
		)
	}
}

// Close stops accepting events and waits for the queue to drain or ctx to
// end, whichever comes first.
func (a *AuditLog) Close(ctx context.Context) error {
	a.mu.Lock()
	if !a.closed {
		a.closed = true
		close(a.queue)
	}
	a.mu.Unlock()

	select {
	case <-a.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// auditDetail marshals v for AuditEvent.Detail. Unmarshalable input yields
// no detail rather than an error.
func auditDetail(v map[string]any) json.RawMessage {
	if len(v) == 0 {
		return nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return b
}
