// Package daemon assembles and runs the reconciliation daemon.
package daemon

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"time"

	mysqldriver "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	goredis "github.com/redis/go-redis/v9"
	_ "modernc.org/sqlite"

	"github.com/getpup/pupstream/es"
	"github.com/getpup/pupstream/es/adapters/mysql"
	pebblestore "github.com/getpup/pupstream/es/adapters/pebble"
	"github.com/getpup/pupstream/es/adapters/postgres"
	redisstore "github.com/getpup/pupstream/es/adapters/redis"
	"github.com/getpup/pupstream/es/adapters/sqlite"
	"github.com/getpup/pupstream/es/bus"
	"github.com/getpup/pupstream/es/bus/kafka"
	"github.com/getpup/pupstream/es/bus/rabbitmq"
	"github.com/getpup/pupstream/es/reconciliation"
	"github.com/getpup/pupstream/es/store"
	"github.com/getpup/pupstream/internal/config"
)

// NewLogger builds the process logger from the log settings.
func NewLogger(cfg config.LogConfig, w io.Writer) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "error":
		level = slog.LevelError
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// closers runs cleanup functions in reverse registration order.
type closers []func() error

func (c closers) close(ctx context.Context, logger es.Logger) {
	for i := len(c) - 1; i >= 0; i-- {
		if err := c[i](); err != nil {
			logger.Error(ctx, "shutdown step failed", "error", err)
		}
	}
}

// Run opens the stores, connects the bus and runs the reconciliation
// scheduler until ctx is cancelled. Shutdown returns nil.
//
//nolint:gocritic // hugeParam: Config is read once at startup
func Run(ctx context.Context, cfg config.Config, logger es.Logger) error {
	if logger == nil {
		logger = es.NoOpLogger{}
	}
	var cleanup closers
	defer cleanup.close(context.Background(), logger)

	streams, staging, err := openStores(ctx, cfg, logger, &cleanup)
	if err != nil {
		return err
	}
	publisher, err := connectBus(cfg, logger, &cleanup)
	if err != nil {
		return err
	}

	opts := []reconciliation.Option{
		reconciliation.WithLogger(logger),
		reconciliation.WithInterval(cfg.Reconciliation.Interval),
		reconciliation.WithGracePeriod(cfg.Reconciliation.GracePeriod),
	}
	service := reconciliation.NewService(staging, streams, publisher, opts...)
	job := reconciliation.NewJob(staging, service, opts...)
	scheduler := reconciliation.NewScheduler(job, opts...)

	logger.Info(ctx, "reconcilerd started",
		"database", cfg.Database.Driver,
		"staging", cfg.Staging.Backend,
		"bus", cfg.Bus.Kind)

	return scheduler.Run(ctx)
}

//nolint:gocritic // hugeParam: Config is read once at startup
func openStores(ctx context.Context, cfg config.Config, logger es.Logger, cleanup *closers) (store.StreamStore, store.StagingStore, error) {
	db, err := openDB(ctx, cfg.Database)
	if err != nil {
		return nil, nil, err
	}
	*cleanup = append(*cleanup, db.Close)

	var (
		streams    store.StreamStore
		sqlStaging store.StagingStore
	)
	switch cfg.Database.Driver {
	case "postgres":
		storeCfg := postgres.NewStoreConfig(
			postgres.WithLogger(logger),
			postgres.WithEntriesTable(cfg.Database.EntriesTable),
			postgres.WithStagingTable(cfg.Database.StagingTable),
		)
		streams = postgres.NewStore(db, storeCfg)
		sqlStaging = postgres.NewStagingStore(db, storeCfg)
	case "mysql":
		storeCfg := mysql.DefaultStoreConfig()
		storeCfg.Logger = logger
		storeCfg.EntriesTable = cfg.Database.EntriesTable
		storeCfg.StagingTable = cfg.Database.StagingTable
		streams = mysql.NewStore(db, storeCfg)
		sqlStaging = mysql.NewStagingStore(db, storeCfg)
	case "sqlite":
		storeCfg := sqlite.NewStoreConfig(
			sqlite.WithLogger(logger),
			sqlite.WithEntriesTable(cfg.Database.EntriesTable),
			sqlite.WithStagingTable(cfg.Database.StagingTable),
		)
		streams = sqlite.NewStore(db, storeCfg)
		sqlStaging = sqlite.NewStagingStore(db, storeCfg)
	default:
		return nil, nil, fmt.Errorf("unsupported database driver %q", cfg.Database.Driver)
	}

	switch cfg.Staging.Backend {
	case "sql":
		return streams, sqlStaging, nil
	case "pebble":
		staging, err := pebblestore.Open(cfg.Staging.Pebble.Dir, pebblestore.Config{Logger: logger})
		if err != nil {
			return nil, nil, err
		}
		*cleanup = append(*cleanup, staging.Close)
		return streams, staging, nil
	case "redis":
		client := goredis.NewClient(&goredis.Options{
			Addr:     cfg.Staging.Redis.Addr,
			Password: cfg.Staging.Redis.Password,
			DB:       cfg.Staging.Redis.DB,
		})
		*cleanup = append(*cleanup, client.Close)
		if err := client.Ping(ctx).Err(); err != nil {
			return nil, nil, fmt.Errorf("ping redis: %w", err)
		}
		return streams, redisstore.NewStagingStore(client, redisstore.Config{
			Logger:    logger,
			KeyPrefix: cfg.Staging.Redis.KeyPrefix,
		}), nil
	default:
		return nil, nil, fmt.Errorf("unsupported staging backend %q", cfg.Staging.Backend)
	}
}

func openDB(ctx context.Context, cfg config.DatabaseConfig) (*sql.DB, error) {
	var (
		db  *sql.DB
		err error
	)
	switch cfg.Driver {
	case "mysql":
		db, err = openMySQL(cfg.DSN)
	case "sqlite":
		db, err = sql.Open("sqlite", cfg.DSN)
		if err == nil {
			db.SetMaxOpenConns(1)
		}
	default:
		db, err = sql.Open(cfg.Driver, cfg.DSN)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", cfg.Driver, err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping %s database: %w", cfg.Driver, err)
	}
	return db, nil
}

func openMySQL(dsn string) (*sql.DB, error) {
	mc, err := mysqldriver.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse mysql dsn: %w", err)
	}
	// Timestamps must round-trip as UTC time.Time values.
	mc.ParseTime = true
	mc.Loc = time.UTC
	connector, err := mysqldriver.NewConnector(mc)
	if err != nil {
		return nil, err
	}
	return sql.OpenDB(connector), nil
}

//nolint:gocritic // hugeParam: Config is read once at startup
func connectBus(cfg config.Config, logger es.Logger, cleanup *closers) (bus.Publisher, error) {
	switch cfg.Bus.Kind {
	case "rabbitmq":
		rc := cfg.Bus.RabbitMQ
		conn, ch, err := rabbitmq.Connect(rc.URL, rc.Exchange, rabbitmq.AuthConfig{
			Username: rc.Username,
			Password: rc.Password,
		})
		if err != nil {
			return nil, err
		}
		*cleanup = append(*cleanup, conn.Close)

		pubCfg := rabbitmq.DefaultConfig()
		pubCfg.Logger = logger
		pubCfg.Exchange = rc.Exchange
		pubCfg.ConfirmationTimeout = cfg.Publishing.ConfirmationTimeout
		publisher, err := rabbitmq.NewPublisher(ch, pubCfg)
		if err != nil {
			return nil, err
		}
		*cleanup = append(*cleanup, func() error {
			publisher.Close()
			return nil
		})
		return publisher, nil

	case "kafka":
		kc := cfg.Bus.Kafka
		client, err := kafka.NewClient(kc.Brokers, kc.ClientID)
		if err != nil {
			return nil, err
		}
		*cleanup = append(*cleanup, func() error {
			client.Close()
			return nil
		})
		return kafka.NewPublisher(client, kafka.Config{
			Logger:              logger,
			Topic:               kc.Topic,
			ConfirmationTimeout: cfg.Publishing.ConfirmationTimeout,
		})

	default:
		return nil, fmt.Errorf("unsupported bus kind %q", cfg.Bus.Kind)
	}
}
