package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"labflow/internal/cache"
	"labflow/internal/config"
	"labflow/internal/db"
	"labflow/internal/engine/auth"
	"labflow/internal/events"
	"labflow/internal/mail"
	"labflow/internal/metrics"
	"labflow/internal/repo"
	"labflow/internal/report"
)

type Engine struct {
	DB       *sql.DB
	Repo     repo.Repo
	Events   events.Writer
	Config   *config.Config
	Tokens   auth.TokenService
	Denylist *cache.Denylist
	Mail     mail.Sender
	Reports  report.Store
	Metrics  *metrics.Collector
	Log      *zap.Logger
	Now      func() time.Time
}

// New wires an engine with in-process defaults: memory denylist, log mailer, no metrics.
// Callers replace those fields for production wiring.
func New(conn *sql.DB, dialect db.Dialect, cfg *config.Config) Engine {
	if cfg == nil {
		cfg = &config.Config{}
	}
	log := zap.NewNop()
	return Engine{
		DB:     conn,
		Repo:   repo.New(conn, dialect),
		Events: events.Writer{Dialect: dialect},
		Config: cfg,
		Tokens: auth.TokenService{
			Secret: cfg.JWT.Secret,
			TTL:    cfg.JWT.ExpiresIn,
			Issuer: cfg.JWT.Issuer,
		},
		Denylist: cache.NewDenylist(cache.NewMemoryKV()),
		Mail:     mail.LogProvider{From: cfg.Mail.From, Logger: log},
		Reports:  report.Store{Dir: cfg.Reports.Dir},
		Log:      log,
		Now:      time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) timestamp() string {
	return e.now().UTC().Format(time.RFC3339)
}

func (e Engine) today() string {
	return e.now().UTC().Format(dateLayout)
}

func (e Engine) logger() *zap.Logger {
	if e.Log != nil {
		return e.Log
	}
	return zap.NewNop()
}

// inTx runs fn in a transaction and commits when it returns nil.
func (e Engine) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// notify mails a user after a committed change. Failures are logged only.
func (e Engine) notify(ctx context.Context, userID string, build func(email string) mail.Message) {
	if e.Mail == nil || userID == "" {
		return
	}
	u, err := e.Repo.GetUser(ctx, nil, userID)
	if err != nil {
		e.logger().Warn("notification recipient lookup failed", zap.String("user_id", userID), zap.Error(err))
		return
	}
	msg := build(u.Email)
	if err := e.Mail.Send(ctx, msg); err != nil {
		e.Metrics.RecordMail(false)
		e.logger().Warn("notification not delivered", zap.String("to", msg.To), zap.String("subject", msg.Subject), zap.Error(err))
		return
	}
	e.Metrics.RecordMail(true)
}

func notFound(kind, id string) error {
	return fmt.Errorf("%s %s: %w", kind, id, repo.ErrNotFound)
}

// missing names the resource in a repo.ErrNotFound and passes other errors through.
func missing(kind, id string, err error) error {
	if errors.Is(err, repo.ErrNotFound) {
		return notFound(kind, id)
	}
	return err
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
