package scheduler

import (
	"context"
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"

	"finsync/internal/domain/openfinance"
)

// Syncer is the orchestrator entry point a sync job calls.
type Syncer interface {
	Sync(ctx context.Context, connectionID string) (*openfinance.SyncResult, error)
}

// ConnectionSyncJob syncs one connection
type ConnectionSyncJob struct {
	connectionID string
	syncer       Syncer
}

// NewConnectionSyncJob creates a sync job for a connection
func NewConnectionSyncJob(connectionID string, syncer Syncer) *ConnectionSyncJob {
	return &ConnectionSyncJob{
		connectionID: connectionID,
		syncer:       syncer,
	}
}

// Execute runs the sync. A run already holding the connection is not an
// error: this firing simply has nothing to do.
func (j *ConnectionSyncJob) Execute(ctx context.Context) error {
	result, err := j.syncer.Sync(ctx, j.connectionID)
	if errors.Is(err, openfinance.ErrSyncInProgress) {
		log.WithField("connection_id", j.connectionID).Info("Sync already running, skipping")
		return nil
	}
	if err != nil {
		return fmt.Errorf("sync failed: %w", err)
	}

	if result != nil && result.Skipped {
		log.WithField("connection_id", j.connectionID).Debug("Connection inactive, nothing synced")
	}
	return nil
}

func (j *ConnectionSyncJob) ConnectionID() string {
	return j.connectionID
}

func (j *ConnectionSyncJob) Description() string {
	return fmt.Sprintf("Sync for connection %s", j.connectionID)
}
