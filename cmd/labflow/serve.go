package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"labflow/internal/app"
	"labflow/internal/db"
	"labflow/internal/server"
)

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return withApp(ctx, func(ctx context.Context, a *app.App) error {
				if err := a.Bootstrap(ctx); err != nil {
					return err
				}
				cfg := a.Config
				if addr != "" {
					cfg.HTTP.Addr = addr
				}
				if basePath != "" {
					cfg.HTTP.BasePath = basePath
				}
				handler, err := server.New(server.Config{
					Engine:             a.Engine,
					BasePath:           cfg.HTTP.BasePath,
					Logger:             a.Log,
					Metrics:            a.Metrics,
					LoginRatePerMinute: cfg.Auth.LoginRatePerMinute,
					ExposeErrors:       cfg.Development(),
					TrustProxy:         cfg.HTTP.TrustProxy,
				})
				if err != nil {
					return err
				}
				srv := &http.Server{
					Addr:              cfg.HTTP.Addr,
					Handler:           handler,
					ReadHeaderTimeout: 10 * time.Second,
				}
				go func() {
					<-ctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
					defer cancel()
					if err := srv.Shutdown(shutdownCtx); err != nil {
						a.Log.Error("shutdown", zap.Error(err))
					}
				}()
				a.Log.Info("serving labflow api",
					zap.String("addr", cfg.HTTP.Addr),
					zap.String("base_path", cfg.HTTP.BasePath),
					zap.String("env", cfg.Env),
				)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				a.Log.Info("server stopped")
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides http.addr)")
	cmd.Flags().StringVar(&basePath, "base-path", "", "API base path (overrides http.base_path)")
	return cmd
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				target := a.Config.DB.Driver
				if target == "sqlite" {
					target = db.Path(a.Config.DB.Workspace)
				} else {
					target = fmt.Sprintf("postgres %s/%s", a.Config.DB.Host, a.Config.DB.Name)
				}
				fmt.Printf("migrations applied to %s\n", target)
				return nil
			})
		},
	}
}
