package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/GulDilin/image-deduplication-storage/internal/handler"
	"github.com/GulDilin/image-deduplication-storage/internal/service"
	"github.com/GulDilin/image-deduplication-storage/internal/watch"
)

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			// Graceful shutdown on SIGINT/SIGTERM.
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer func() {
				if err := a.Close(); err != nil {
					slog.Error("close store", "error", err)
				}
			}()
			return a.serve(ctx)
		},
	}
}

func (a *app) routes(ctx context.Context) http.Handler {
	var limiter *service.TokenBucket
	if a.cfg.HTTP.UploadRate > 0 {
		limiter = service.NewTokenBucket(ctx, a.cfg.HTTP.UploadRate, a.cfg.HTTP.UploadBurst)
	}

	health := handler.NewHealthHandler(map[string]handler.HealthCheck{
		"database": func(ctx context.Context) error {
			_, err := a.store.Images().Count(ctx)
			return err
		},
		"storage": func(ctx context.Context) error {
			_, err := a.files.Exists(ctx, "healthz.png")
			return err
		},
	})

	mux := http.NewServeMux()
	handler.RegisterRoutes(mux, handler.Deps{
		Images:   handler.NewImageHandler(a.registry, a.thumbs, a.cfg.HTTP.MaxUploadBytes),
		Health:   health,
		Limiter:  limiter,
		Gatherer: a.promReg,
	})
	return handler.Wrap(mux, a.cfg.HTTP.CORSOrigins)
}

// serve runs the server and its background workers until ctx is done or
// one of them fails.
func (a *app) serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              a.cfg.HTTP.Addr,
		Handler:           a.routes(ctx),
		ReadHeaderTimeout: a.cfg.HTTP.ReadHeaderTimeout,
		IdleTimeout:       a.cfg.HTTP.IdleTimeout,
		MaxHeaderBytes:    1 << 20, // 1MB
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), a.cfg.HTTP.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown: %w", err)
		}
		slog.Info("server stopped")
		return nil
	})
	if a.cfg.Watch {
		w := watch.New(a.cfg.Storage.Dir, a.files, a.registry, a.thumbs)
		g.Go(func() error {
			return w.Run(gctx, nil)
		})
	}
	if a.cfg.Reconcile.Interval > 0 {
		g.Go(func() error {
			a.reconciler.RunEvery(gctx, a.cfg.Reconcile.Interval)
			return nil
		})
	}
	return g.Wait()
}
