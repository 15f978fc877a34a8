// Package app wires configuration into a ready engine for the CLI and the server.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/go-redis/redis/v8"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"labflow/internal/cache"
	"labflow/internal/config"
	"labflow/internal/db"
	"labflow/internal/engine"
	"labflow/internal/logger"
	"labflow/internal/mail"
	"labflow/internal/metrics"
	"labflow/internal/migrate"
)

// App owns the process-wide resources behind an engine.
type App struct {
	Config  *config.Config
	Engine  engine.Engine
	Metrics *metrics.Collector
	Log     *zap.Logger

	conn  *sql.DB
	redis *redis.Client
}

// LoadConfig reads the optional config file and the LABFLOW_* environment.
func LoadConfig(v *viper.Viper, file string) (*config.Config, error) {
	config.SetDefaults(v)
	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", file, err)
		}
	}
	return config.Load(v)
}

// Open connects storage, runs migrations and wires the engine's collaborators.
func Open(ctx context.Context, cfg *config.Config, log *zap.Logger) (*App, error) {
	if log == nil {
		var err error
		log, err = logger.New(cfg.Log.Level, cfg.Log.Format, "labflow")
		if err != nil {
			return nil, fmt.Errorf("build logger: %w", err)
		}
	}
	dialect, err := db.ParseDialect(cfg.DB.Driver)
	if err != nil {
		return nil, err
	}
	conn, err := db.Open(db.Config{
		Dialect:   dialect,
		Workspace: cfg.DB.Workspace,
		Host:      cfg.DB.Host,
		Port:      cfg.DB.Port,
		User:      cfg.DB.User,
		Password:  cfg.DB.Password,
		Name:      cfg.DB.Name,
		SSLMode:   cfg.DB.SSLMode,
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("connect database: %w", err)
	}
	if err := migrate.Migrate(conn, dialect); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	a := &App{Config: cfg, Log: log, conn: conn, Metrics: metrics.New("labflow")}
	e := engine.New(conn, dialect, cfg)
	e.Log = log
	e.Metrics = a.Metrics

	if cfg.Redis.Addr != "" {
		client, err := cache.DialRedis(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		a.redis = client
		e.Denylist = cache.NewDenylist(cache.NewRedisKV(client))
		log.Info("token denylist backed by redis", zap.String("addr", cfg.Redis.Addr))
	}

	switch cfg.Mail.Provider {
	case "sendgrid":
		e.Mail = mail.NewSendGridProvider(cfg.Mail.SendGridURL, cfg.Mail.SendGridAPIKey, cfg.Mail.From, log)
	default:
		e.Mail = mail.LogProvider{From: cfg.Mail.From, Logger: log}
	}
	if cfg.UsesDevSecret() {
		log.Warn("using the development JWT secret; set LABFLOW_JWT_SECRET")
	}
	a.Engine = e
	return a, nil
}

// Bootstrap creates the configured administrator when no account owns that email yet.
func (a *App) Bootstrap(ctx context.Context) error {
	b := a.Config.Bootstrap
	if b.AdminEmail == "" {
		return nil
	}
	if b.AdminPassword == "" {
		return errors.New("bootstrap.admin_password is required with bootstrap.admin_email")
	}
	u, created, err := a.Engine.EnsureAdmin(ctx, b.AdminEmail, b.AdminPassword, b.AdminName)
	if err != nil {
		return fmt.Errorf("bootstrap administrator: %w", err)
	}
	if created {
		a.Log.Info("administrator created", zap.String("user_id", u.ID), zap.String("email", u.Email))
	}
	return nil
}

// Close releases the database and cache connections.
func (a *App) Close() error {
	var errs []error
	if a.redis != nil {
		errs = append(errs, a.redis.Close())
	}
	if a.conn != nil {
		errs = append(errs, a.conn.Close())
	}
	_ = a.Log.Sync()
	return errors.Join(errs...)
}
