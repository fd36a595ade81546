package listener

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"
	log "github.com/sirupsen/logrus"
)

const (
	// ChannelName is the NOTIFY channel other processes use to ask the server
	// to sync one connection.
	ChannelName       = "connection_sync_requested"
	reconnectInterval = 5 * time.Second
	pingInterval      = 90 * time.Second
)

// SyncRequest is the payload carried by a NOTIFY on ChannelName
type SyncRequest struct {
	ConnectionID string `json:"connection_id"`
}

// Trigger queues a sync for one connection. It reports false when the job
// could not be queued.
type Trigger interface {
	TriggerConnection(connectionID string) bool
}

// SyncListener turns PostgreSQL notifications into sync jobs
type SyncListener struct {
	connStr    string
	trigger    Trigger
	shutdownCh chan struct{}
	done       chan struct{}
}

// NewSyncListener creates a listener that forwards requests to trigger
func NewSyncListener(connStr string, trigger Trigger) *SyncListener {
	return &SyncListener{
		connStr:    connStr,
		trigger:    trigger,
		shutdownCh: make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// Start begins listening for notifications in a background goroutine
func (l *SyncListener) Start(ctx context.Context) {
	go l.listen(ctx)
	log.Println("Sync request listener started")
}

// Stop gracefully shuts down the listener
func (l *SyncListener) Stop() {
	close(l.shutdownCh)
	<-l.done
	log.Println("Sync request listener stopped")
}

func (l *SyncListener) listen(ctx context.Context) {
	defer close(l.done)

	for {
		select {
		case <-l.shutdownCh:
			return
		case <-ctx.Done():
			return
		default:
			l.connectAndListen(ctx)
		}

		// Wait before reconnecting
		select {
		case <-l.shutdownCh:
			return
		case <-ctx.Done():
			return
		case <-time.After(reconnectInterval):
			log.Println("Reconnecting to PostgreSQL for sync requests...")
		}
	}
}

func (l *SyncListener) connectAndListen(ctx context.Context) {
	listener := pq.NewListener(l.connStr, 10*time.Second, time.Minute, func(ev pq.ListenerEventType, err error) {
		switch ev {
		case pq.ListenerEventConnected:
			log.Println("Connected to PostgreSQL notification channel")
		case pq.ListenerEventDisconnected:
			log.Warnf("Disconnected from PostgreSQL notification channel: %v", err)
		case pq.ListenerEventReconnected:
			log.Println("Reconnected to PostgreSQL notification channel")
		case pq.ListenerEventConnectionAttemptFailed:
			log.Warnf("Connection attempt failed: %v", err)
		}
	})
	defer listener.Close()

	if err := listener.Listen(ChannelName); err != nil {
		log.Errorf("Failed to listen on channel %s: %v", ChannelName, err)
		return
	}

	log.Printf("Listening on channel: %s", ChannelName)

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-l.shutdownCh:
			return
		case <-ctx.Done():
			return
		case notification := <-listener.Notify:
			if notification == nil {
				// Connection lost, break to reconnect
				return
			}
			l.handleNotification(notification)
		case <-ticker.C:
			go func() {
				if err := listener.Ping(); err != nil {
					log.Warnf("Listener ping failed: %v", err)
				}
			}()
		}
	}
}

func (l *SyncListener) handleNotification(notification *pq.Notification) {
	req, err := ParseSyncRequest(notification.Extra)
	if err != nil {
		log.Warnf("Ignoring notification on %s: %v", notification.Channel, err)
		return
	}

	if !l.trigger.TriggerConnection(req.ConnectionID) {
		log.WithField("connection_id", req.ConnectionID).Warn("Sync request dropped, job queue is full")
		return
	}
	log.WithField("connection_id", req.ConnectionID).Info("Sync requested via notification")
}

// ParseSyncRequest decodes and checks a notification payload
func ParseSyncRequest(payload string) (SyncRequest, error) {
	var req SyncRequest
	if err := json.Unmarshal([]byte(payload), &req); err != nil {
		return SyncRequest{}, fmt.Errorf("failed to parse payload: %w", err)
	}
	if req.ConnectionID == "" {
		return SyncRequest{}, fmt.Errorf("payload has no connection_id")
	}
	return req, nil
}

// Execer is satisfied by *sql.DB and the traced postgres.DB
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// RequestSync publishes a sync request that any listening server picks up.
func RequestSync(ctx context.Context, db Execer, connectionID string) error {
	payload, err := json.Marshal(SyncRequest{ConnectionID: connectionID})
	if err != nil {
		return err
	}
	if _, err := db.ExecContext(ctx, `SELECT pg_notify($1, $2)`, ChannelName, string(payload)); err != nil {
		return fmt.Errorf("failed to request sync: %w", err)
	}
	return nil
}
