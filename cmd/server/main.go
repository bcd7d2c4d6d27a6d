package main

import (
	"context"
	"encoding/json"
	"flag"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"

	"omnirelay-go/internal/config"
	"omnirelay-go/internal/constants"
	"omnirelay-go/internal/coordstore"
	"omnirelay-go/internal/governor"
	"omnirelay-go/internal/handlers"
	"omnirelay-go/internal/logging"
	"omnirelay-go/internal/oauth"
	"omnirelay-go/internal/pool"
	"omnirelay-go/internal/server"
	"omnirelay-go/internal/store"
	"omnirelay-go/internal/upstream"
	"omnirelay-go/internal/workers"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		log.WithError(err).Fatal("server exited")
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if err := logging.Setup(logging.Options{Debug: cfg.Server.Debug, LogFile: cfg.Security.LogFile}); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	connectCtx, cancel := context.WithTimeout(ctx, constants.StoreConnectTimeout)
	defer cancel()

	db, err := store.Open(connectCtx, cfg.Storage.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	coord, err := coordstore.New(connectCtx, cfg.Storage.RedisURL)
	if err != nil {
		return err
	}
	defer coord.Close()

	admin, err := db.EnsureAdminUser(ctx, cfg.Security.AdminUsername, cfg.Security.AdminPassword)
	if err != nil {
		return err
	}
	if _, err := db.EnsureAdminKey(ctx, admin.ID); err != nil {
		return err
	}

	oa := oauth.NewClient(
		oauth.WithTokenURL(cfg.Upstream.GoogleTokenURL),
		oauth.WithUserInfoURL(cfg.Upstream.UserInfoURL),
	)
	cloud := upstream.NewCloudCode(cfg.Upstream.CloudCodeBase, cfg.Upstream.ProxyURL)
	anti := upstream.NewAntigravity(cfg.Upstream.AntigravityBase, cfg.Upstream.ProxyURL, oa)

	mirror := func() { publishFeatures(ctx, cfg, db, coord) }
	mirror()
	cfg.OnReload(mirror)

	pe := pool.New(db, coord, oa)
	if err := pe.Sync(ctx); err != nil {
		log.WithError(err).Warn("initial pool sync failed, serving will retry lazily")
	}
	gov := governor.New(db, coord, cfg)
	h := handlers.New(cfg, db, gov, pe, cloud, anti)

	go cfg.WatchFile(ctx, configPath)

	sched := workers.New(db, pe, coord, oa, anti)
	sched.Start(ctx)
	defer sched.Stop()

	router := server.NewRouter(server.Deps{
		Cfg:     cfg,
		Keys:    db,
		Handler: h,
		DB:      db,
		Coord:   coord,
	})
	srv := server.New(cfg, router)

	errc := make(chan error, 1)
	go func() { errc <- srv.Run() }()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	log.Info("shutdown signal received, draining")
	if err := srv.Shutdown(context.Background()); err != nil {
		log.WithError(err).Error("shutdown did not finish cleanly")
		os.Exit(1)
	}
	return nil
}

// publishFeatures mirrors the effective hot-reloadable flags into the
// coordination store and the persistent settings table so admin tooling and
// other processes observe the same toggles.
func publishFeatures(ctx context.Context, cfg *config.Config, db *store.Store, coord *coordstore.Client) {
	f := cfg.Feature()

	blob, err := json.Marshal(f)
	if err != nil {
		return
	}
	if err := coord.SetString(ctx, constants.KeySystemConfig, string(blob), 0); err != nil {
		log.WithError(err).Warn("system config mirror write failed")
	}
	if err := db.SetSetting(ctx, constants.KeySystemConfig, string(blob)); err != nil {
		log.WithError(err).Warn("system config persist failed")
	}

	ag, err := json.Marshal(map[string]interface{}{
		"use_token_quota":     f.UseTokenQuota,
		"claude_limit":        f.ClaudeLimit,
		"gemini3_limit":       f.Gemini3Limit,
		"claude_token_quota":  f.ClaudeTokenQuota,
		"gemini3_token_quota": f.Gemini3TokenQuota,
	})
	if err != nil {
		return
	}
	if err := coord.SetString(ctx, constants.KeyAntigravityConfig, string(ag), 0); err != nil {
		log.WithError(err).Warn("antigravity config mirror write failed")
	}
}
