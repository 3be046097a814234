package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	tgbot "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	_ "github.com/mattn/go-sqlite3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/jgabriele321/remindd/config"
	"github.com/jgabriele321/remindd/logger"
	"github.com/jgabriele321/remindd/notify"
	"github.com/jgabriele321/remindd/push"
	"github.com/jgabriele321/remindd/recipient"
	"github.com/jgabriele321/remindd/reminder"
	timecalc "github.com/jgabriele321/remindd/time"
)

// runtime holds the components shared by every command.
type runtime struct {
	cfg       *config.Configuration
	log       *logrus.Logger
	location  *time.Location
	store     reminder.Store
	directory recipient.Directory
	primary   push.Gateway
	fallback  push.Gateway
	registry  *prometheus.Registry
	metrics   *notify.Metrics

	closers []func(context.Context) error
}

func loadRuntime(ctx context.Context) (*runtime, error) {
	cfg, err := config.NewConfig(envFile)
	if err != nil {
		return nil, err
	}
	if err := logger.Init(cfg.LogConfig()); err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	rt := &runtime{cfg: cfg, log: logger.GetAppLogger()}

	rt.location, err = timecalc.LoadZone(cfg.DisplayTimezone)
	if err != nil {
		rt.log.WithError(err).Warn("falling back to UTC for display times")
		rt.location = time.UTC
	}

	if err := rt.openStorage(ctx); err != nil {
		rt.Close(ctx)
		return nil, err
	}
	if err := rt.openGateways(ctx); err != nil {
		rt.Close(ctx)
		return nil, err
	}

	rt.registry = prometheus.NewRegistry()
	rt.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	rt.metrics, err = notify.NewMetrics("remindd", rt.registry)
	if err != nil {
		rt.Close(ctx)
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}
	return rt, nil
}

func (rt *runtime) openStorage(ctx context.Context) error {
	switch rt.cfg.StoreDriver {
	case "memory":
		rt.store = reminder.NewMemoryStore()
		rt.directory = recipient.NewMemoryDirectory()
		rt.log.Warn("using the in-memory store, nothing survives a restart")

	case "sqlite":
		if err := os.MkdirAll(rt.cfg.DataDir, 0755); err != nil {
			return fmt.Errorf("failed to create data directory: %w", err)
		}
		path := filepath.Join(rt.cfg.DataDir, "remindd.db")
		db, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_busy_timeout=5000")
		if err != nil {
			return fmt.Errorf("failed to open database: %w", err)
		}
		rt.closers = append(rt.closers, func(context.Context) error { return db.Close() })

		store := reminder.NewSQLiteStore(db)
		if err := store.Migrate(ctx); err != nil {
			return err
		}
		directory := recipient.NewSQLiteDirectory(db)
		if err := directory.Migrate(ctx); err != nil {
			return err
		}
		rt.store, rt.directory = store, directory
		rt.log.WithField("path", path).Info("using sqlite store")

	case "mongo":
		opts := options.Client().
			ApplyURI(rt.cfg.MongoURI).
			SetMaxPoolSize(uint64(rt.cfg.MongoPoolMaxSize))
		client, err := mongo.Connect(ctx, opts)
		if err != nil {
			return fmt.Errorf("failed to connect to mongodb: %w", err)
		}
		rt.closers = append(rt.closers, client.Disconnect)
		if err := client.Ping(ctx, nil); err != nil {
			return fmt.Errorf("failed to ping mongodb: %w", err)
		}

		db := client.Database(rt.cfg.MongoDatabase)
		store := reminder.NewMongoStore(db)
		if err := store.EnsureIndexes(ctx); err != nil {
			return err
		}
		directory := recipient.NewMongoDirectory(db)
		if err := directory.EnsureIndexes(ctx); err != nil {
			return err
		}
		rt.store, rt.directory = store, directory
		rt.log.WithField("database", rt.cfg.MongoDatabase).Info("using mongodb store")

	default:
		return fmt.Errorf("unknown store driver %q", rt.cfg.StoreDriver)
	}
	return nil
}

// openGateways builds the primary path (full FCM payload) and the fallback path (simplified
// FCM payload). Telegram chats are routed on both when a bot token is configured.
func (rt *runtime) openGateways(ctx context.Context) error {
	client, err := push.NewFirebaseMessaging(ctx, rt.cfg.FirebaseProjectID, rt.cfg.FirebaseCredentialsPath)
	if err != nil {
		return err
	}
	primary := push.NewMux(push.NewFCMGateway(client))
	fallback := push.NewMux(push.NewFCMGateway(client, push.WithSimplifiedPayload()))

	if rt.cfg.TelegramBotToken != "" {
		bot, err := tgbot.NewBotAPI(rt.cfg.TelegramBotToken)
		if err != nil {
			return fmt.Errorf("failed to create telegram bot: %w", err)
		}
		rt.log.WithField("account", bot.Self.UserName).Info("telegram gateway enabled")
		telegram := push.NewTelegramGateway(bot)
		primary.Route(push.TelegramPrefix, telegram)
		fallback.Route(push.TelegramPrefix, telegram)
	}

	rt.primary, rt.fallback = primary, fallback
	return nil
}

func (rt *runtime) dispatcher() *notify.Dispatcher {
	return notify.NewDispatcher(rt.directory, rt.primary, rt.fallback, rt.store,
		notify.WithGatewayTimeout(rt.cfg.GatewayTimeout),
		notify.WithDisplayLocation(rt.location),
		notify.WithMetrics(rt.metrics),
	)
}

func (rt *runtime) announcer() *notify.Announcer {
	return notify.NewAnnouncer(rt.directory, rt.primary, notify.WithAnnouncerMetrics(rt.metrics))
}

// Close releases storage connections in reverse order of opening.
func (rt *runtime) Close(ctx context.Context) {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i](ctx); err != nil {
			rt.log.WithError(err).Warn("failed to close resource")
		}
	}
	rt.closers = nil
}
