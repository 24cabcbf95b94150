package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"giftarb/internal/admin"
	"giftarb/internal/arbitrage"
	"giftarb/internal/cache"
	"giftarb/internal/config"
	"giftarb/internal/database"
	"giftarb/internal/exchange"
	"giftarb/internal/feed"
	"giftarb/internal/notify"
	"giftarb/internal/resale"
	"giftarb/internal/scheduler"
	"giftarb/internal/worker"
)

// app is the fully wired process.
type app struct {
	cfg    *config.Config
	logger *slog.Logger

	repo      *database.PostgresRepository
	notifier  *notify.Manager
	bot       *tgbotapi.BotAPI
	engine    *arbitrage.ArbitrageEngine
	resale    *resale.Module
	scheduler *scheduler.Scheduler
	hub       *feed.Hub

	closers []func()
}

func setup(ctx context.Context) (*app, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("cannot load config: %w", err)
	}
	logger := config.NewLogger(cfg.Logging, os.Stderr)
	a := &app{cfg: cfg, logger: logger}

	repo, closeDB, err := openRepository(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, closeDB)
	a.repo = repo

	if err := repo.Migrate(ctx); err != nil {
		a.Close()
		return nil, err
	}

	c, err := a.openCache(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}

	var sink notify.Sink = notify.LogSink{Logger: logger}
	if cfg.Telegram.BotToken != "" {
		bot, err := tgbotapi.NewBotAPI(cfg.Telegram.BotToken)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to connect telegram bot: %w", err)
		}
		logger.Info("Main: telegram bot authorized", "username", bot.Self.UserName)
		a.bot = bot
		sink = notify.NewTelegramSink(bot)
	} else {
		logger.Warn("Main: no telegram bot token, notifications go to the log")
	}
	a.notifier = notify.NewManager(logger, sink, cfg.Telegram.AdminChatID, cfg.Telegram.ChannelID, c, cfg.Alerts.Cooldown)

	source, err := a.gateway(cfg.Arbitrage.Source, c)
	if err != nil {
		a.Close()
		return nil, err
	}
	target, err := a.gateway(cfg.Arbitrage.Target, c)
	if err != nil {
		a.Close()
		return nil, err
	}
	gateways := []exchange.Gateway{source, target}

	a.engine = arbitrage.NewArbitrageEngine(logger, repo, cfg, source, target, a.notifier)
	a.resale = resale.NewModule(logger, repo, gateways, a.notifier, worker.Options{
		Interval:     cfg.Resale.Interval,
		ErrorBackoff: cfg.Scheduler.ErrorBackoff,
		MinSleep:     cfg.Scheduler.MinSleep,
	})
	a.hub = feed.NewHub(logger)
	a.scheduler = scheduler.New(logger, cfg.Scheduler, a.engine, repo, gateways, a.hub, a.notifier)
	return a, nil
}

func openRepository(ctx context.Context, cfg *config.Config) (*database.PostgresRepository, func(), error) {
	sealer, err := database.NewSealer(cfg.Security.TokenKey)
	if err != nil {
		return nil, nil, err
	}
	pool, err := pgxpool.New(ctx, cfg.Database.DSN())
	if err != nil {
		return nil, nil, fmt.Errorf("unable to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("unable to reach database: %w", err)
	}
	return database.NewPostgresRepository(pool, sealer), pool.Close, nil
}

func (a *app) openCache(ctx context.Context) (cache.Cache, error) {
	if a.cfg.Redis.Addr == "" {
		a.logger.Info("Main: using in-process cache")
		return cache.NewMemoryCache(), nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     a.cfg.Redis.Addr,
		Password: a.cfg.Redis.Password,
		DB:       a.cfg.Redis.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("unable to reach redis: %w", err)
	}
	a.closers = append(a.closers, func() { _ = client.Close() })
	a.logger.Info("Main: using redis cache", "addr", a.cfg.Redis.Addr)
	return cache.NewRedisCache(client, "giftarb"), nil
}

func (a *app) gateway(name string, c cache.Cache) (exchange.Gateway, error) {
	mc, ok := a.cfg.Markets[name]
	if !ok {
		return nil, fmt.Errorf("no configuration for marketplace %q", name)
	}
	return exchange.NewClient(name, a.logger.With("market", name), mc, a.repo, c, a.notifier)
}

// Run starts every loop and blocks until ctx is cancelled.
func (a *app) Run(ctx context.Context, withArbitrage, withResale bool) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.hub.Run(ctx)
		return nil
	})

	if a.cfg.Feed.Addr != "" {
		server := feed.NewServer(ctx, a.logger, a.repo, a.hub, a.cfg.Ranges())
		g.Go(func() error { return server.ListenAndServe(ctx, a.cfg.Feed.Addr) })
	}

	if a.bot != nil && a.cfg.Telegram.AdminChatID != 0 {
		ctrl := admin.NewController(a.logger, a.engine, a.resale, a.scheduler, a.repo, a.cfg.Ranges())
		bot := admin.NewTelegramBot(a.logger, a.bot, ctrl, a.cfg.Telegram.AdminChatID)
		g.Go(func() error {
			bot.Run(ctx)
			return nil
		})
	}

	a.scheduler.Start(ctx)
	if withArbitrage {
		a.engine.Start(ctx)
	}
	if withResale {
		a.resale.Start(ctx)
	}
	a.logger.Info("Main: giftarb running",
		"source", a.cfg.Arbitrage.Source, "target", a.cfg.Arbitrage.Target, "test_mode", a.engine.TestMode())

	<-ctx.Done()
	a.logger.Info("Main: shutting down")
	if a.engine.Running() {
		a.engine.Stop()
	}
	if a.resale.Active() {
		a.resale.Stop()
	}
	a.scheduler.Stop()

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// Close releases connections in reverse order of acquisition.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}
