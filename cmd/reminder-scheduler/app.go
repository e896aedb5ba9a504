package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/shaiso/Reminders/internal/cli"
	"github.com/shaiso/Reminders/internal/config"
	"github.com/shaiso/Reminders/internal/dispatcher"
	"github.com/shaiso/Reminders/internal/lock"
	"github.com/shaiso/Reminders/internal/mq"
	"github.com/shaiso/Reminders/internal/notify"
	"github.com/shaiso/Reminders/internal/repo"
	"github.com/shaiso/Reminders/internal/telemetry"
)

// app лениво создаёт зависимости команд и закрывает их в close.
type app struct {
	cfg    *config.Config
	logger *slog.Logger

	pool   *pgxpool.Pool
	redis  *redis.Client
	mqConn *mq.Connection
}

func (a *app) db(ctx context.Context) (*pgxpool.Pool, error) {
	if a.pool != nil {
		return a.pool, nil
	}

	pool, err := repo.NewPool(ctx, a.cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	a.logger.Info("database connected")
	a.pool = pool
	return pool, nil
}

func (a *app) store(ctx context.Context) (*repo.ReminderRepo, error) {
	pool, err := a.db(ctx)
	if err != nil {
		return nil, err
	}
	return repo.NewReminderRepo(pool), nil
}

func (a *app) reader(ctx context.Context) (cli.ReminderReader, error) {
	store, err := a.store(ctx)
	if err != nil {
		return nil, err
	}
	return store, nil
}

func (a *app) locker(ctx context.Context) (lock.Locker, error) {
	switch a.cfg.Lock.Backend {
	case config.LockBackendPostgres:
		pool, err := a.db(ctx)
		if err != nil {
			return nil, err
		}
		return lock.NewPostgresLocker(pool), nil

	case config.LockBackendRedis:
		opts, err := redis.ParseURL(a.cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("parse REDIS_URL: %w", err)
		}
		client := redis.NewClient(opts)
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, fmt.Errorf("connect to redis: %w", err)
		}
		a.logger.Info("redis connected")
		a.redis = client
		return lock.NewRedisLocker(client), nil

	case config.LockBackendMemory:
		a.logger.Warn("using in-memory lock: mutual exclusion holds only within this process")
		return lock.NewMemoryLocker(nil), nil
	}
	return nil, fmt.Errorf("unknown lock backend %q", a.cfg.Lock.Backend)
}

func (a *app) notifier(ctx context.Context) (notify.Notifier, error) {
	switch a.cfg.Notifier {
	case config.NotifierSMTP:
		return notify.NewSMTPNotifier(smtpConfig(a.cfg.SMTP)), nil

	case config.NotifierQueue:
		conn, err := mq.NewConnection(a.cfg.RabbitMQURL, a.logger)
		if err != nil {
			return nil, fmt.Errorf("connect to rabbitmq: %w", err)
		}
		if err := mq.SetupTopology(ctx, conn); err != nil {
			conn.Close()
			return nil, fmt.Errorf("setup topology: %w", err)
		}
		a.logger.Info("RabbitMQ connected")
		a.mqConn = conn
		return notify.NewQueueNotifier(mq.NewPublisher(conn, a.logger)), nil

	case config.NotifierLog:
		return notify.NewLogNotifier(a.logger), nil
	}
	return nil, fmt.Errorf("unknown notifier %q", a.cfg.Notifier)
}

func (a *app) dispatcher(ctx context.Context, metrics *telemetry.DispatchMetrics) (*dispatcher.Dispatcher, error) {
	store, err := a.store(ctx)
	if err != nil {
		return nil, err
	}
	locker, err := a.locker(ctx)
	if err != nil {
		return nil, err
	}
	notifier, err := a.notifier(ctx)
	if err != nil {
		return nil, err
	}

	return dispatcher.New(dispatcher.Config{
		Store:    store,
		Notifier: notifier,
		Locker:   locker,
		Policy: lock.Policy{
			Name:    a.cfg.Lock.Name,
			MinHold: a.cfg.Lock.MinHold,
			MaxHold: a.cfg.Lock.MaxHold,
		},
		Delay:     a.cfg.Dispatch.Delay,
		BatchSize: a.cfg.Dispatch.BatchSize,
		Subject:   a.cfg.Dispatch.Subject,
		Logger:    telemetry.WithComponent(a.logger, "dispatcher"),
		Metrics:   metrics,
	}), nil
}

// close закрывает созданные соединения. Повторный вызов ничего не делает.
func (a *app) close() error {
	var errs []error
	if a.mqConn != nil {
		errs = append(errs, a.mqConn.Close())
		a.mqConn = nil
	}
	if a.redis != nil {
		errs = append(errs, a.redis.Close())
		a.redis = nil
	}
	if a.pool != nil {
		a.pool.Close()
		a.pool = nil
	}
	return errors.Join(errs...)
}

func smtpConfig(c config.SMTPConfig) notify.SMTPConfig {
	return notify.SMTPConfig{
		Host:        c.Host,
		Port:        c.Port,
		Username:    c.Username,
		Password:    c.Password,
		From:        c.From,
		ImplicitTLS: c.ImplicitTLS,
		RatePerSec:  c.RatePerSec,
	}
}
