package main

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"finsync/internal/domain/connection"
	"finsync/internal/domain/notification"
	"finsync/internal/domain/openfinance"
	"finsync/internal/infrastructure/crypto"
	"finsync/internal/infrastructure/firebase"
	"finsync/internal/infrastructure/nsq"
	ofclient "finsync/internal/infrastructure/openfinance"
	"finsync/internal/infrastructure/postgres"
	"finsync/internal/infrastructure/postgres/listener"
	"finsync/internal/infrastructure/redislock"
	httphandlers "finsync/internal/interfaces/http"
	"finsync/internal/interfaces/scheduler"
	"finsync/internal/shared/config"
	"finsync/internal/shared/messages"
)

// Dependencies holds all initialized application components.
type Dependencies struct {
	DB *postgres.DB

	// Handlers
	ConnectionHandler *httphandlers.ConnectionHandler
	HealthHandler     *httphandlers.HealthHandler

	// Sync engine
	SyncService *openfinance.SyncService
	Scheduler   *scheduler.Scheduler
	Listener    *listener.SyncListener

	closers []func()
}

// NewDependencies initializes all application dependencies.
func NewDependencies(ctx context.Context, cfg *config.Config) (*Dependencies, error) {
	if err := cfg.ValidateProvider(); err != nil {
		return nil, err
	}

	db, err := postgres.New(cfg.Database.ConnectionString())
	if err != nil {
		return nil, err
	}
	log.Println("Connected to database")

	deps := &Dependencies{DB: db}
	deps.closers = append(deps.closers, func() { db.Close() })

	if err := deps.build(ctx, cfg); err != nil {
		deps.Close()
		return nil, err
	}
	return deps, nil
}

func (d *Dependencies) build(ctx context.Context, cfg *config.Config) error {
	encryptor, err := crypto.NewEncryptor(cfg.Encryption.Key)
	if err != nil {
		return err
	}

	// Initialize repositories
	connectionRepo := postgres.NewConnectionRepository(d.DB, encryptor)
	accountRepo := postgres.NewAccountRepository(d.DB)
	transactionRepo := postgres.NewTransactionRepository(d.DB)

	locker, err := d.newLocker(ctx, cfg)
	if err != nil {
		return err
	}

	// Optional collaborators stay nil interfaces when unconfigured.
	var events openfinance.EventPublisher
	if cfg.Events.NSQAddress != "" {
		publisher, err := nsq.NewPublisher(ctx, cfg.Events.NSQAddress, cfg.Events.Topic)
		if err != nil {
			return err
		}
		d.closers = append(d.closers, publisher.Stop)
		events = publisher
		log.Printf("Publishing sync events to NSQ topic %q", cfg.Events.Topic)
	}

	alerts, err := newAlerter(ctx, cfg)
	if err != nil {
		return err
	}

	providerClient := ofclient.NewClient(ofclient.Config{
		BaseURL:  cfg.Provider.BaseURL,
		ClientID: cfg.Provider.ClientID,
		Secret:   cfg.Provider.Secret,
		Timeout:  cfg.Provider.Timeout,
		PageSize: cfg.Provider.PageSize,
	})
	reconciler := openfinance.NewReconciler(accountRepo, transactionRepo)
	d.SyncService = openfinance.NewSyncService(providerClient, connectionRepo, reconciler, locker, events, alerts)

	d.Scheduler, err = scheduler.NewScheduler(scheduler.Config{
		Interval:     cfg.Scheduler.Interval,
		WorkerCount:  cfg.Scheduler.WorkerCount,
		QueueSize:    cfg.Scheduler.QueueSize,
		JobTimeout:   cfg.Scheduler.JobTimeout,
		RunOnStartup: cfg.Scheduler.RunOnStartup,
		ManualOnly:   !cfg.Scheduler.Enabled,
	}, connectionRepo, d.SyncService)
	if err != nil {
		return err
	}

	d.Listener = listener.NewSyncListener(cfg.Database.ConnectionString(), d.Scheduler)

	d.ConnectionHandler = httphandlers.NewConnectionHandler(connection.NewService(connectionRepo), d.Scheduler)
	d.HealthHandler = httphandlers.NewHealthHandler(d.DB)

	return nil
}

func (d *Dependencies) newLocker(ctx context.Context, cfg *config.Config) (openfinance.Locker, error) {
	if cfg.Lock.Backend != config.LockBackendRedis {
		log.Println("Using in-process connection locks")
		return openfinance.NewMemoryLocker(), nil
	}

	client, err := redislock.NewClient(ctx, redislock.Config{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err != nil {
		return nil, err
	}
	d.closers = append(d.closers, func() { client.Close() })

	log.Printf("Using Redis connection locks at %s (ttl %s)", cfg.Redis.Addr, cfg.Lock.TTL)
	return redislock.New(client, cfg.Lock.TTL), nil
}

// newAlerter returns nil when no alert destination is configured.
func newAlerter(ctx context.Context, cfg *config.Config) (openfinance.Alerter, error) {
	if cfg.Firebase.CredentialsFile == "" {
		return nil, nil
	}

	texts := messages.Default()
	if cfg.Firebase.MessagesFile != "" {
		loaded, err := messages.Load(cfg.Firebase.MessagesFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load alert messages: %w", err)
		}
		texts = loaded
	}

	fcm, err := firebase.NewClient(ctx, cfg.Firebase.CredentialsFile)
	if err != nil {
		return nil, err
	}

	log.Printf("Sending connection alerts to FCM topic %q", cfg.Firebase.AlertTopic)
	return notification.NewService(fcm, cfg.Firebase.AlertTopic, texts), nil
}

// Close releases all resources held by dependencies, newest first.
func (d *Dependencies) Close() {
	for i := len(d.closers) - 1; i >= 0; i-- {
		d.closers[i]()
	}
	d.closers = nil
}
