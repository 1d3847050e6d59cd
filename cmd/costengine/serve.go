package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	v1 "costengine/internal/infrastructure/http/v1"
)

func cmdServe(ctx context.Context, e *env, args []string) error {
	fs := newFlagSet("serve")
	addr := fs.String("addr", e.cfg.MetricsAddr, "listen address")
	if err := fs.Parse(args); err != nil {
		return err
	}

	router := v1.NewRouter(v1.RouterConfig{
		App:     e.app,
		Logger:  e.log.WithComponent("http"),
		Metrics: e.metrics.Handler(),
	})
	// Runs are answered synchronously, so the write timeout covers a whole run.
	server := &http.Server{
		Addr:         *addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 10 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		e.log.Infow("server starting", "addr", *addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	e.log.Info("shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	e.log.Info("server stopped")
	return nil
}
