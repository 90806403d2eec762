package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"telebridge/internal/config"
	"telebridge/internal/feature/group"
	"telebridge/internal/feature/invite"
	"telebridge/internal/feature/transfer"
	"telebridge/internal/insight"
	"telebridge/internal/logging"
	"telebridge/internal/metrics"
	"telebridge/internal/store"
	"telebridge/internal/telegram"
)

const (
	storeOpenTimeout  = 10 * time.Second
	storeCloseTimeout = 5 * time.Second
)

// app is the wired object graph shared by serve and the one-shot commands.
type app struct {
	cfg      config.Config
	logger   *logrus.Entry
	kv       store.KV
	settings *store.Settings
	metrics  *metrics.Recorder
	engine   *group.Engine
	invites  *invite.Service
	transfer *transfer.Service
}

// loadRuntime reads configuration and configures logging.
func loadRuntime() (config.Config, *logrus.Entry, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("configuration error: %w", err)
	}

	logger, err := logging.Setup(cfg)
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("logger setup error: %w", err)
	}

	return cfg, logger, nil
}

// newApp opens the store and loads persisted state. The bot stays
// disconnected until connect is called.
func newApp(ctx context.Context, cfg config.Config, logger *logrus.Entry) (*app, error) {
	openCtx, cancel := context.WithTimeout(ctx, storeOpenTimeout)
	defer cancel()

	kv, err := store.Open(openCtx, cfg)
	if err != nil {
		return nil, err
	}

	logger.WithFields(logging.Fields{
		"event":   "store_open",
		"backend": cfg.StoreBackend,
	}).Info("settings store opened")

	recorder := metrics.New()
	bot := telegram.NewClient(cfg, logger, telegram.WithObserver(recorder))
	insights := insight.New(ctx, cfg, logger, recorder)

	settings := store.NewSettings(kv)
	engine := group.NewEngine(bot, settings, logger, group.WithRefreshObserver(recorder))
	if err := engine.Load(openCtx); err != nil {
		_ = kv.Close(ctx)
		return nil, fmt.Errorf("load settings: %w", err)
	}

	return &app{
		cfg:      cfg,
		logger:   logger,
		kv:       kv,
		settings: settings,
		metrics:  recorder,
		engine:   engine,
		invites:  invite.NewService(cfg, engine, bot, insights, recorder, logger),
		transfer: transfer.NewService(engine, logger),
	}, nil
}

// connect verifies TELEGRAM_TOKEN when set, otherwise the stored token.
// Having no token at all is not an error.
func (a *app) connect(ctx context.Context) error {
	token := strings.TrimSpace(a.cfg.TelegramToken)
	if token == "" {
		token = a.engine.Token()
	}
	if token == "" {
		a.logger.WithField("event", "bot_token_missing").Info("no bot token configured; staying disconnected")
		return nil
	}

	info, err := a.engine.Connect(ctx, token)
	if err != nil {
		return err
	}

	a.logger.WithFields(logging.Fields{
		"event":        "bot_ready",
		"bot_username": info.Username,
	}).Info("bot verified")
	return nil
}

func (a *app) close() {
	ctx, cancel := context.WithTimeout(context.Background(), storeCloseTimeout)
	defer cancel()

	if err := a.kv.Close(ctx); err != nil {
		a.logger.WithError(err).Error("store close error")
		return
	}
	a.logger.WithField("event", "store_closed").Info("settings store closed")
}

// withApp runs fn against a freshly wired app and closes it afterwards.
func withApp(ctx context.Context, fn func(context.Context, *app) error) error {
	cfg, logger, err := loadRuntime()
	if err != nil {
		return err
	}

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.close()

	return fn(ctx, a)
}
