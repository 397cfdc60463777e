package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"guildwarden/internal/bot"
	"guildwarden/internal/breaker"
	"guildwarden/internal/clock"
	"guildwarden/internal/commands"
	"guildwarden/internal/config"
	"guildwarden/internal/core"
	"guildwarden/internal/feeds"
	"guildwarden/internal/giveaway"
	"guildwarden/internal/interactive"
	"guildwarden/internal/invites"
	"guildwarden/internal/leveling"
	"guildwarden/internal/moderation"
	"guildwarden/internal/modules/antiflood"
	"guildwarden/internal/modules/antilink"
	"guildwarden/internal/modules/audit"
	"guildwarden/internal/modules/wordblock"
	"guildwarden/internal/permissions"
	"guildwarden/internal/pipeline"
	"guildwarden/internal/platform"
	"guildwarden/internal/reactions"
	"guildwarden/internal/service"
	"guildwarden/internal/storage"
	"guildwarden/internal/warnings"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger, err := config.BuildLogger(cfg.LogLevel, cfg.LogFile)
	if err != nil {
		panic(err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	store, err := storage.Open(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		logger.Fatal("storage init failed", zap.Error(err))
	}
	defer store.Close()
	if err := store.Migrate(); err != nil {
		logger.Fatal("migrations failed", zap.Error(err))
	}

	session, err := bot.NewSession(cfg.DiscordToken, cfg.ShardID, cfg.ShardCount)
	if err != nil {
		logger.Fatal("session init failed", zap.Error(err))
	}
	b := core.New(cfg, store, platform.NewDiscord(session, cfg.HTTPTimeout), clock.Real(), logger)

	mod := moderation.New(b)
	warn := warnings.New(b, mod)
	gw := giveaway.New(b)
	lvl := leveling.New(b)
	inv := invites.New(b)
	router := reactions.New(b, gw)
	flows := interactive.New(b)
	words := wordblock.New(b)
	breakers := breaker.New(logger, breaker.DefaultOptions())
	watcher := feeds.New(b, feeds.NewScraper(&http.Client{Timeout: cfg.HTTPTimeout}, cfg.Feeds.UserAgent))

	chain := pipeline.New(b, lvl,
		pipeline.NewGreeting(b),
		antilink.New(b, mod, warn),
		antiflood.New(b),
		words,
		pipeline.NewSuggestion(b),
		pipeline.NewResponder(b),
	)
	surface := commands.New(b, commands.Deps{
		Moderation: mod,
		Warnings:   warn,
		Giveaways:  gw,
		Leveling:   lvl,
		Invites:    inv,
		Reactions:  router,
		WordBlock:  words,
		Feeds:      watcher,
		Flows:      flows,
		Breakers:   breakers,
		Perms:      permissions.New(b),
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tree := service.NewTree(logger.Named("supervisor"), service.DefaultTreeConfig())
	tree.Add(b.Scheduler)
	tree.Add(watcher)
	tree.Add(audit.NewPruner(store, b.Clock, logger.Named("audit"), cfg.AuditRetention))
	if cfg.Health.Enabled {
		server := &http.Server{
			Addr:              cfg.Health.Addr,
			Handler:           service.Mux(service.HealthHandler(store, b.Platform.Latency)),
			ReadHeaderTimeout: 5 * time.Second,
		}
		tree.Add(service.NewHTTPService(server, 10*time.Second, logger.Named("http")))
		logger.Info("health endpoint enabled", zap.String("addr", cfg.Health.Addr))
	}
	treeDone := tree.ServeBackground(ctx)

	gateway := bot.New(b, session, bot.Deps{
		Surface:   surface,
		Chain:     chain,
		Reactions: router,
		Invites:   inv,
		Flows:     flows,
		Breakers:  breakers,
	})
	if err := gateway.Start(); err != nil {
		logger.Fatal("bot start failed", zap.Error(err))
	}
	logger.Info("bot started", zap.Int("shard_id", cfg.ShardID), zap.Int("shard_count", cfg.ShardCount))

	<-ctx.Done()
	logger.Info("shutdown requested")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	gateway.Close(shutdownCtx)
	select {
	case <-treeDone:
	case <-shutdownCtx.Done():
		logger.Warn("services did not stop in time")
	}
}
