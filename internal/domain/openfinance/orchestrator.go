package openfinance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"finsync/internal/domain/connection"
	ofclient "finsync/internal/infrastructure/openfinance"
)

const bookkeepingTimeout = 10 * time.Second

var (
	syncTracer          = otel.Tracer("finsync/sync")
	syncMeter           = otel.Meter("finsync/sync")
	syncRunTotal, _     = syncMeter.Int64Counter("sync.run.total", metric.WithDescription("Sync runs by outcome"))
	syncRunDuration, _  = syncMeter.Float64Histogram("sync.run.duration", metric.WithDescription("Sync run duration in seconds"), metric.WithUnit("s"))
	syncPagesApplied, _ = syncMeter.Int64Counter("sync.pages.applied", metric.WithDescription("Delta pages applied and committed"))
	syncChanges, _      = syncMeter.Int64Counter("sync.changes.applied", metric.WithDescription("Delta entries applied by kind"))
)

// SyncResult contains the results of one sync run for a connection
type SyncResult struct {
	ConnectionID  string
	RunID         string
	Skipped       bool
	Phase         Phase
	AccountsFound int
	Accounts      ReconcileStats
	Pages         int
	Added         int
	Modified      int
	Removed       int
	Transactions  ReconcileStats
	Duration      time.Duration
}

// SyncService runs the per-connection sync state machine:
// accounts refresh, then fetch/reconcile/persist-cursor for each delta page,
// then mark the connection synced.
type SyncService struct {
	client      ofclient.ClientInterface
	connections connection.Repository
	reconciler  *Reconciler
	locker      Locker
	events      EventPublisher
	alerts      Alerter
	now         func() time.Time
}

// NewSyncService creates a new sync service. events and alerts may be nil.
func NewSyncService(
	client ofclient.ClientInterface,
	connections connection.Repository,
	reconciler *Reconciler,
	locker Locker,
	events EventPublisher,
	alerts Alerter,
) *SyncService {
	if locker == nil {
		locker = NewMemoryLocker()
	}
	return &SyncService{
		client:      client,
		connections: connections,
		reconciler:  reconciler,
		locker:      locker,
		events:      events,
		alerts:      alerts,
		now:         time.Now,
	}
}

// Sync brings one connection up to date with the provider. It is the single
// entry point for scheduled runs, manual triggers and the admin CLI.
//
// Returns ErrSyncInProgress if another run holds the connection, and a
// *SyncError if the run failed. On failure the stored cursor is left at the
// last page that was fully applied.
func (s *SyncService) Sync(ctx context.Context, connectionID string) (*SyncResult, error) {
	runID := uuid.NewString()
	start := time.Now()

	ctx, span := syncTracer.Start(ctx, "sync.connection", trace.WithAttributes(
		attribute.String("sync.connection_id", connectionID),
		attribute.String("sync.run_id", runID),
	))
	defer span.End()

	release, ok, err := s.locker.TryLock(ctx, connectionID)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to acquire lock for connection %s: %w", connectionID, err)
	}
	if !ok {
		syncRunTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("status", "in_progress")))
		return nil, ErrSyncInProgress
	}
	defer release()

	// Loaded under the lock so the cursor is the latest committed value.
	conn, err := s.connections.GetByID(ctx, connectionID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to load connection %s: %w", connectionID, err)
	}

	result := &SyncResult{ConnectionID: conn.ID, RunID: runID, Phase: PhaseIdle}
	logger := log.WithFields(log.Fields{"connection_id": conn.ID, "run_id": runID})

	if !conn.Active {
		result.Skipped = true
		syncRunTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("status", "skipped")))
		logger.Infof("Connection %s is inactive, skipping sync", conn.ID)
		return result, nil
	}

	logger.Infof("Starting sync for connection %s (backfill=%v)", conn.ID, conn.Cursor == nil)

	if serr := s.run(ctx, conn, result, logger); serr != nil {
		result.Phase = PhaseFailed
		result.Duration = time.Since(start)
		span.RecordError(serr)
		span.SetStatus(codes.Error, serr.Error())
		s.recordFailure(ctx, conn, result, serr, logger)
		return result, serr
	}

	result.Phase = PhaseIdle
	result.Duration = time.Since(start)
	span.SetAttributes(attribute.Int("sync.pages", result.Pages))
	syncRunTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("status", "success")))
	syncRunDuration.Record(ctx, result.Duration.Seconds(), metric.WithAttributes(attribute.String("status", "success")))

	logger.Infof("Sync completed for connection %s: accounts=%d, pages=%d, added=%d, modified=%d, removed=%d, duration=%s",
		conn.ID, result.AccountsFound, result.Pages, result.Added, result.Modified, result.Removed, result.Duration.Round(time.Millisecond))

	s.publish(ctx, SyncEvent{
		Type:         EventSyncCompleted,
		RunID:        runID,
		ConnectionID: conn.ID,
		UserID:       conn.UserID,
		Phase:        result.Phase,
		Pages:        result.Pages,
		Added:        result.Added,
		Modified:     result.Modified,
		Removed:      result.Removed,
		OccurredAt:   s.now(),
	}, logger)

	return result, nil
}

// run walks the state machine. It returns nil only after the last page has
// been committed and the connection marked synced.
func (s *SyncService) run(ctx context.Context, conn *connection.Connection, result *SyncResult, logger *log.Entry) *SyncError {
	result.Phase = PhaseFetchingAccounts
	accounts, err := s.client.FetchAccounts(ctx, conn.Credential)
	if err != nil {
		return &SyncError{ConnectionID: conn.ID, Phase: PhaseFetchingAccounts, Kind: classifyProviderError(err), Err: err}
	}
	result.AccountsFound = len(accounts)

	accountStats, err := s.reconciler.ApplyAccounts(ctx, conn, accounts, s.now())
	result.Accounts = accountStats
	if err != nil {
		return &SyncError{ConnectionID: conn.ID, Phase: PhaseReconciling, Kind: ErrReconciliation, Err: err}
	}
	logger.Debugf("Accounts refreshed: found=%d, created=%d, updated=%d", len(accounts), accountStats.Created, accountStats.Updated)

	cursor := conn.CursorValue()
	for {
		result.Phase = PhaseFetchingDeltaPage
		page, err := s.client.FetchDeltaPage(ctx, conn.Credential, cursor)
		if err != nil {
			return &SyncError{ConnectionID: conn.ID, Phase: PhaseFetchingDeltaPage, Kind: classifyProviderError(err), Err: err}
		}

		result.Phase = PhaseReconciling
		stats, err := s.reconciler.ApplyPage(ctx, conn, page)
		if err != nil {
			return &SyncError{ConnectionID: conn.ID, Phase: PhaseReconciling, Kind: ErrReconciliation, Err: err}
		}

		if err := s.connections.AdvanceCursor(ctx, conn.ID, page.NextCursor); err != nil {
			return &SyncError{ConnectionID: conn.ID, Phase: PhaseReconciling, Kind: ErrCursorPersist, Err: err}
		}
		result.Phase = PhaseCursorPersisted
		cursor = page.NextCursor

		added, modified, removed := page.Counts()
		result.Pages++
		result.Added += added
		result.Modified += modified
		result.Removed += removed
		result.Transactions.add(stats)

		syncPagesApplied.Add(ctx, 1)
		syncChanges.Add(ctx, int64(added), metric.WithAttributes(attribute.String("kind", "added")))
		syncChanges.Add(ctx, int64(modified), metric.WithAttributes(attribute.String("kind", "modified")))
		syncChanges.Add(ctx, int64(removed), metric.WithAttributes(attribute.String("kind", "removed")))

		logger.WithField("phase", result.Phase).Debugf("Page %d committed: added=%d, modified=%d, removed=%d, has_more=%v",
			result.Pages, added, modified, removed, page.HasMore)

		if !page.HasMore {
			break
		}
	}

	if err := s.connections.MarkSynced(ctx, conn.ID, s.now()); err != nil {
		return &SyncError{ConnectionID: conn.ID, Phase: PhaseCursorPersisted, Kind: ErrCursorPersist, Err: err}
	}

	return nil
}

// recordFailure stores the failure on the connection, alerts on rejected
// credentials and publishes the failure event. None of these steps can
// change the outcome of the run.
func (s *SyncService) recordFailure(ctx context.Context, conn *connection.Connection, result *SyncResult, serr *SyncError, logger *log.Entry) {
	kind := KindLabel(serr)
	rejected := errors.Is(serr, ErrProviderRejected)

	syncRunTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("status", "error"), attribute.String("kind", kind)))
	syncRunDuration.Record(ctx, result.Duration.Seconds(), metric.WithAttributes(attribute.String("status", "error")))

	logger.WithFields(log.Fields{"phase": serr.Phase, "kind": kind}).Errorf(
		"Sync failed for connection %s after %d committed pages: %v", conn.ID, result.Pages, serr)

	// The run context may already be cancelled or expired.
	bctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), bookkeepingTimeout)
	defer cancel()

	if err := s.connections.RecordFailure(bctx, conn.ID, serr.Error(), rejected); err != nil {
		logger.Warnf("Failed to record sync failure for connection %s: %v", conn.ID, err)
	}

	if rejected && s.alerts != nil {
		if err := s.alerts.AlertConnectionRejected(bctx, conn, serr); err != nil {
			logger.Warnf("Failed to send operator alert for connection %s: %v", conn.ID, err)
		}
	}

	s.publish(bctx, SyncEvent{
		Type:         EventSyncFailed,
		RunID:        result.RunID,
		ConnectionID: conn.ID,
		UserID:       conn.UserID,
		Phase:        serr.Phase,
		Kind:         kind,
		Error:        serr.Error(),
		Pages:        result.Pages,
		Added:        result.Added,
		Modified:     result.Modified,
		Removed:      result.Removed,
		OccurredAt:   s.now(),
	}, logger)
}

func (s *SyncService) publish(ctx context.Context, event SyncEvent, logger *log.Entry) {
	if s.events == nil {
		return
	}
	if err := s.events.PublishSyncEvent(ctx, event); err != nil {
		logger.Warnf("Failed to publish %s event: %v", event.Type, err)
	}
}

// classifyProviderError maps a provider client error to a failure kind.
// Anything that is not a permanent 4xx is treated as unavailability.
func classifyProviderError(err error) error {
	var perr *ofclient.ProviderError
	if errors.As(err, &perr) && !perr.Transient() {
		return ErrProviderRejected
	}
	return ErrProviderUnavailable
}
