package main

import (
	"context"
	"database/sql"
	"os"
	"os/signal"
	"syscall"

	"github.com/brunopatuleia/tootkeeper/internal/api"
	"github.com/brunopatuleia/tootkeeper/internal/config"
	"github.com/brunopatuleia/tootkeeper/internal/database"
	"github.com/brunopatuleia/tootkeeper/internal/logging"
	"github.com/brunopatuleia/tootkeeper/internal/media"
	"github.com/brunopatuleia/tootkeeper/internal/models"
	"github.com/brunopatuleia/tootkeeper/internal/profile"
	"github.com/brunopatuleia/tootkeeper/internal/sync"
	"github.com/brunopatuleia/tootkeeper/internal/web"
)

func main() {
	cfg := config.Load()

	db, err := database.New(cfg.DatabasePath)
	if err != nil {
		logging.Fatal("Failed to initialize database: %v", err)
	}
	defer db.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Headless setups can provide credentials via environment instead
	// of the web OAuth flow; seed them into the store once.
	if err := seedAccountFromEnv(ctx, db, cfg); err != nil {
		logging.Fatal("Failed to store account credentials: %v", err)
	}

	fetcher, err := media.NewFetcher(cfg.MediaPath)
	if err != nil {
		logging.Fatal("Failed to initialize media storage: %v", err)
	}

	client := api.NewClient()
	engine := sync.NewEngine(db, client, fetcher, cfg.MaxSyncPages, cfg.PageLimit, cfg.MediaWorkers)
	scheduler := sync.NewScheduler(engine, cfg.SyncInterval)

	updater := profile.NewUpdater(db, api.NewClient(), cfg)

	go scheduler.Run(ctx)
	go updater.Run(ctx)

	server := web.NewServer(cfg, db, client, scheduler, updater)
	server.Start()

	// Wait for shutdown signal.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	logging.Info("Received signal %v, shutting down...", sig)

	cancel()
	if err := server.Stop(context.Background()); err != nil {
		logging.Error("Web server shutdown failed: %v", err)
	}
	logging.Info("Tootkeeper stopped.")
}

// seedAccountFromEnv writes MASTODON_INSTANCE / MASTODON_ACCESS_TOKEN
// into the store when set and no account is linked yet. The stored
// account always wins over the environment.
func seedAccountFromEnv(ctx context.Context, db *database.DB, cfg *config.Config) error {
	if cfg.MastodonInstance == "" || cfg.MastodonAccessToken == "" {
		return nil
	}
	existing, err := db.GetAccount(ctx)
	if err != nil {
		return err
	}
	if existing.Configured() {
		return nil
	}
	logging.Info("Linking account from environment for %s", cfg.MastodonInstance)
	acc := &models.Account{
		InstanceURL: cfg.MastodonInstance,
		AccessToken: sql.NullString{String: cfg.MastodonAccessToken, Valid: true},
	}

	// Resolve the account id behind the token so status fetches work.
	client := api.NewClient()
	if err := client.Configure(acc); err != nil {
		return err
	}
	remote, err := client.VerifyCredentials(ctx)
	if err != nil {
		logging.Warn("Could not verify environment credentials yet: %v", err)
	} else {
		acc.UserID = sql.NullString{String: string(remote.ID), Valid: true}
		acc.Acct = sql.NullString{String: remote.Acct, Valid: true}
		acc.DisplayName = sql.NullString{String: remote.DisplayName, Valid: true}
		acc.Avatar = sql.NullString{String: remote.Avatar, Valid: true}
	}
	return db.SaveAccount(ctx, acc)
}
