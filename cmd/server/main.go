package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"connectrpc.com/connect"
	"github.com/go-kit/log/level"

	"github.com/atlekbai/query_aggregate/internal/config"
	"github.com/atlekbai/query_aggregate/internal/db"
	"github.com/atlekbai/query_aggregate/internal/handler"
	"github.com/atlekbai/query_aggregate/internal/logging"
	"github.com/atlekbai/query_aggregate/internal/middleware"
	"github.com/atlekbai/query_aggregate/internal/schema"
	"github.com/atlekbai/query_aggregate/internal/server"
	"github.com/atlekbai/query_aggregate/internal/service"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		level.Error(logging.New(os.Stderr, "info")).Log("msg", "failed to load config", "err", err)
		os.Exit(1)
	}
	logger := logging.New(os.Stderr, cfg.LogLevel)

	conn, dialect, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		level.Error(logger).Log("msg", "failed to connect to database", "err", err)
		os.Exit(1)
	}
	defer conn.Close()

	cache := schema.NewCache()
	if err := cache.Load(ctx, conn, dialect, cfg.DBSchema); err != nil {
		level.Error(logger).Log("msg", "failed to load schema cache", "err", err)
		os.Exit(1)
	}
	level.Info(logger).Log("msg", "schema cache loaded", "tables", cache.TableCount(), "dialect", dialect)

	interceptors := []connect.Interceptor{
		server.LoggingInterceptor(logger),
	}

	services := []server.ConnectService{
		service.NewAggregateService(conn, cache, cfg.StrictFields, logger),
	}

	mux := server.NewMux(services, interceptors...)
	mux.Handle("/healthz", handler.Health(conn, cache))

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           middleware.Recovery(logger)(middleware.Logging(logger)(mux)),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		level.Info(logger).Log("msg", "shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	level.Info(logger).Log("msg", "listening", "addr", cfg.Addr())
	if err := srv.ListenAndServe(); err != http.ErrServerClosed {
		level.Error(logger).Log("msg", "server error", "err", err)
		os.Exit(1)
	}
}
