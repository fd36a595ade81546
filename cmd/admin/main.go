package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"finsync/internal/domain/connection"
	"finsync/internal/domain/openfinance"
	"finsync/internal/infrastructure/crypto"
	"finsync/internal/infrastructure/nsq"
	ofclient "finsync/internal/infrastructure/openfinance"
	"finsync/internal/infrastructure/postgres"
	"finsync/internal/infrastructure/postgres/listener"
	"finsync/internal/infrastructure/redislock"
	"finsync/internal/shared/config"
	"finsync/internal/shared/logger"
)

const usage = `finsync Admin CLI - Management commands for the sync engine

Usage:
  admin <command> [options]

Commands:
  migrate        Apply (up) or roll back (down) database migrations
  sync           Run a sync now for one or more connections, in this process
  request-sync   Ask a running server to queue a sync for a connection
  list           List connections (credential-free)
  deactivate     Stop scheduled syncs for a connection, keeping its data
  remove         Delete a connection record

Examples:
  admin migrate up
  admin sync --connection-id=item-1
  admin sync --connection-id=item-1,item-2
  admin sync --all --workers=8 --timeout=1h
  admin request-sync --connection-id=item-1
  admin list --user-id=user-42
  admin deactivate --connection-id=item-1
  admin remove --connection-id=item-1
`

const defaultWorkers = 4

func main() {
	if len(os.Args) < 2 {
		fmt.Println(usage)
		os.Exit(1)
	}

	command := os.Args[1]
	args := os.Args[2:]

	var err error
	switch command {
	case "migrate":
		err = runMigrate(args)
	case "sync":
		err = runSync(args)
	case "request-sync":
		err = runRequestSync(args)
	case "list":
		err = runList(args)
	case "deactivate":
		err = runDeactivate(args)
	case "remove":
		err = runRemove(args)
	case "help", "-h", "--help":
		fmt.Println(usage)
		return
	default:
		fmt.Printf("Unknown command: %s\n\n", command)
		fmt.Println(usage)
		os.Exit(1)
	}

	if err != nil {
		log.Fatalf("%s failed: %v", command, err)
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	logger.Setup(cfg.Log.Level, cfg.Log.Format)
	return cfg, nil
}

// openRegistry connects to the database and returns the connection
// repository. The caller closes the DB.
func openRegistry(cfg *config.Config) (*postgres.DB, *postgres.ConnectionRepository, error) {
	db, err := postgres.New(cfg.Database.ConnectionString())
	if err != nil {
		return nil, nil, err
	}
	encryptor, err := crypto.NewEncryptor(cfg.Encryption.Key)
	if err != nil {
		db.Close()
		return nil, nil, err
	}
	return db, postgres.NewConnectionRepository(db, encryptor), nil
}

func runMigrate(args []string) error {
	if len(args) != 1 || (args[0] != "up" && args[0] != "down") {
		fmt.Println("Usage: admin migrate up|down")
		os.Exit(1)
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	if args[0] == "up" {
		return postgres.MigrateUp(cfg.Database.URL())
	}
	return postgres.MigrateDown(cfg.Database.URL())
}

func runSync(args []string) error {
	fs := flag.NewFlagSet("sync", flag.ExitOnError)

	idsFlag := fs.String("connection-id", "", "Connection ID(s) to sync (comma-separated for multiple)")
	all := fs.Bool("all", false, "Sync every active connection")
	workers := fs.Int("workers", defaultWorkers, "Number of connections synced concurrently")
	timeout := fs.Duration("timeout", 30*time.Minute, "Timeout for the whole operation (e.g., 5m, 1h)")

	fs.Usage = func() {
		fmt.Println("Usage: admin sync [options]")
		fmt.Println("\nOptions:")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	if *idsFlag == "" && !*all {
		fmt.Println("Error: must specify --connection-id or --all")
		fs.Usage()
		os.Exit(1)
	}
	if *workers < 1 {
		*workers = 1
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.ValidateProvider(); err != nil {
		return err
	}

	db, connections, err := openRegistry(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	service, cleanup, err := newSyncService(ctx, cfg, db, connections)
	if err != nil {
		return err
	}
	defer cleanup()

	var ids []string
	if *all {
		ids, err = connections.ListActiveIDs(ctx)
		if err != nil {
			return err
		}
		log.Printf("Found %d active connections", len(ids))
	} else {
		ids = splitIDs(*idsFlag)
	}

	if len(ids) == 0 {
		log.Println("No connections to sync")
		return nil
	}

	log.Printf("Starting sync for %d connection(s) with %d workers", len(ids), *workers)
	startTime := time.Now()

	outcomes := syncAll(ctx, service, ids, *workers)

	failed := 0
	for _, id := range ids {
		o := outcomes[id]
		printOutcome(id, o)
		if o.err != nil {
			failed++
		}
	}

	log.Printf("Sync completed in %v", time.Since(startTime).Round(time.Millisecond))
	if failed > 0 {
		return fmt.Errorf("%d of %d connection(s) failed", failed, len(ids))
	}
	return nil
}

// newSyncService builds the engine with the configured lock backend so CLI
// runs never overlap a server's run on the same connection.
func newSyncService(ctx context.Context, cfg *config.Config, db *postgres.DB, connections connection.Repository) (*openfinance.SyncService, func(), error) {
	var cleanups []func()
	cleanup := func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}

	var locker openfinance.Locker = openfinance.NewMemoryLocker()
	if cfg.Lock.Backend == config.LockBackendRedis {
		client, err := redislock.NewClient(ctx, redislock.Config{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			return nil, nil, err
		}
		cleanups = append(cleanups, func() { client.Close() })
		locker = redislock.New(client, cfg.Lock.TTL)
	}

	var events openfinance.EventPublisher
	if cfg.Events.NSQAddress != "" {
		publisher, err := nsq.NewPublisher(ctx, cfg.Events.NSQAddress, cfg.Events.Topic)
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		cleanups = append(cleanups, publisher.Stop)
		events = publisher
	}

	client := ofclient.NewClient(ofclient.Config{
		BaseURL:  cfg.Provider.BaseURL,
		ClientID: cfg.Provider.ClientID,
		Secret:   cfg.Provider.Secret,
		Timeout:  cfg.Provider.Timeout,
		PageSize: cfg.Provider.PageSize,
	})
	reconciler := openfinance.NewReconciler(postgres.NewAccountRepository(db), postgres.NewTransactionRepository(db))

	// Alerts are left to the server; the operator sees failures here directly.
	return openfinance.NewSyncService(client, connections, reconciler, locker, events, nil), cleanup, nil
}

type syncOutcome struct {
	result *openfinance.SyncResult
	err    error
}

func syncAll(ctx context.Context, service *openfinance.SyncService, ids []string, workers int) map[string]syncOutcome {
	outcomes := make(map[string]syncOutcome, len(ids))
	var mu sync.Mutex
	var wg sync.WaitGroup

	work := make(chan string)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for id := range work {
				result, err := service.Sync(ctx, id)
				mu.Lock()
				outcomes[id] = syncOutcome{result: result, err: err}
				mu.Unlock()
			}
		}()
	}

	for _, id := range ids {
		work <- id
	}
	close(work)
	wg.Wait()

	return outcomes
}

func printOutcome(id string, o syncOutcome) {
	fmt.Printf("\n=== Connection %s ===\n", id)

	switch {
	case o.err != nil:
		fmt.Printf("  Status:   failed (%s)\n", openfinance.KindLabel(o.err))
		fmt.Printf("  Error:    %v\n", o.err)
		if o.result != nil {
			fmt.Printf("  Pages committed before failure: %d\n", o.result.Pages)
		}
	case o.result == nil:
		fmt.Println("  Status:   unknown")
	case o.result.Skipped:
		fmt.Println("  Status:   skipped (inactive)")
	default:
		r := o.result
		fmt.Println("  Status:   ok")
		fmt.Printf("  Accounts: %d (created %d, updated %d)\n", r.AccountsFound, r.Accounts.Created, r.Accounts.Updated)
		fmt.Printf("  Pages:    %d\n", r.Pages)
		fmt.Printf("  Added:    %d\n", r.Added)
		fmt.Printf("  Modified: %d\n", r.Modified)
		fmt.Printf("  Removed:  %d\n", r.Removed)
		fmt.Printf("  Duration: %s\n", r.Duration.Round(time.Millisecond))
	}
}

func runRequestSync(args []string) error {
	fs := flag.NewFlagSet("request-sync", flag.ExitOnError)
	idsFlag := fs.String("connection-id", "", "Connection ID(s) to queue (comma-separated for multiple)")
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	ids := splitIDs(*idsFlag)
	if len(ids) == 0 {
		fmt.Println("Error: must specify --connection-id")
		os.Exit(1)
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	db, err := postgres.New(cfg.Database.ConnectionString())
	if err != nil {
		return err
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	for _, id := range ids {
		if err := listener.RequestSync(ctx, db, id); err != nil {
			return err
		}
		fmt.Printf("Sync requested for %s\n", id)
	}
	return nil
}

func runList(args []string) error {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	userID := fs.String("user-id", "", "Only list connections owned by this user (default: all active)")
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	db, connections, err := openRegistry(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var conns []*connection.Connection
	if *userID != "" {
		conns, err = connections.ListByUserID(ctx, *userID)
	} else {
		conns, err = connections.ListActive(ctx)
	}
	if err != nil {
		return err
	}

	sort.Slice(conns, func(i, j int) bool { return conns[i].ID < conns[j].ID })

	fmt.Printf("%-32s %-16s %-7s %-9s %-8s %s\n", "ID", "USER", "ACTIVE", "ATTENTION", "BACKFILL", "LAST SYNCED")
	for _, c := range conns {
		s := c.Summary()
		lastSynced := "never"
		if s.LastSyncedAt != nil {
			lastSynced = s.LastSyncedAt.Format(time.RFC3339)
		}
		fmt.Printf("%-32s %-16s %-7v %-9v %-8v %s\n", s.ID, s.UserID, s.Active, s.NeedsAttention, s.BackfillDone, lastSynced)
		if s.LastError != "" {
			fmt.Printf("    last error: %s\n", s.LastError)
		}
	}
	return nil
}

func runDeactivate(args []string) error {
	return runConnectionCommand("deactivate", args, func(ctx context.Context, svc *connection.Service, id string) error {
		return svc.Unlink(ctx, id)
	})
}

func runRemove(args []string) error {
	return runConnectionCommand("remove", args, func(ctx context.Context, svc *connection.Service, id string) error {
		return svc.Remove(ctx, id)
	})
}

func runConnectionCommand(name string, args []string, apply func(ctx context.Context, svc *connection.Service, id string) error) error {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	idsFlag := fs.String("connection-id", "", "Connection ID(s) (comma-separated for multiple)")
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	ids := splitIDs(*idsFlag)
	if len(ids) == 0 {
		fmt.Println("Error: must specify --connection-id")
		os.Exit(1)
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	db, connections, err := openRegistry(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	svc := connection.NewService(connections)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	for _, id := range ids {
		if err := apply(ctx, svc, id); err != nil {
			return fmt.Errorf("connection %s: %w", id, err)
		}
		fmt.Printf("%s: %s done\n", id, name)
	}
	return nil
}

func splitIDs(s string) []string {
	var ids []string
	seen := make(map[string]bool)
	for _, p := range strings.Split(s, ",") {
		p = strings.TrimSpace(p)
		if p == "" || seen[p] {
			continue
		}
		seen[p] = true
		ids = append(ids, p)
	}
	return ids
}
